// Package dispatch implements the request handling path of spec §4.5/§4.6:
// resolve a script, fingerprint the request, serve from cache or join an
// in-flight build, and otherwise enqueue to the broker and race a short
// wait against the worker's result before redirecting the caller to a
// status URL. This ports original_source/occilib/ModelRequestHandler.py's
// handle()/start_compute_wait_for_result_or_redirect(), which races an
// asyncio.sleep(T) coroutine against the Celery result future with
// asyncio.wait(FIRST_COMPLETED) and keeps the loser running in the
// background.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/occi-cad/occi-server/internal/broker"
	"github.com/occi-cad/occi-server/internal/cachestore"
	"github.com/occi-cad/occi-server/internal/catalog"
	"github.com/occi-cad/occi-server/internal/fingerprint"
	"github.com/occi-cad/occi-server/internal/metrics"
	"github.com/occi-cad/occi-server/internal/occierrors"
	"github.com/occi-cad/occi-server/internal/script"
)

// DefaultWaitBeforeRedirect is how long Dispatch waits for a direct compute
// result before handing the caller a redirect to the status URL, matching
// WAIT_FOR_COMPUTE_RESULT_UNTILL_REDIRECT in the original implementation.
const DefaultWaitBeforeRedirect = 3 * time.Second

// Outcome says which of the two races Dispatch settled on.
type Outcome int

const (
	// OutcomeResult means the build finished within the wait window; the
	// caller can be answered directly with Response.Result.
	OutcomeResult Outcome = iota
	// OutcomeRedirect means the wait window elapsed first; the caller
	// should be redirected to poll Response.TaskID's status.
	OutcomeRedirect
)

// Response is what Dispatch hands back to an HTTP handler.
type Response struct {
	Outcome     Outcome
	Result      *broker.Result
	TaskID      string
	Namespace   string
	Fingerprint string
}

// Dispatcher ties the catalog, cache store and broker together.
type Dispatcher struct {
	Catalog            *catalog.Catalog
	Cache              *cachestore.Store
	Broker             broker.Broker
	Metrics            *metrics.Metrics
	WaitBeforeRedirect time.Duration
	Logger             *slog.Logger
}

// New constructs a Dispatcher with the default wait window. metrics may be
// nil, in which case no metrics are recorded.
func New(cat *catalog.Catalog, cache *cachestore.Store, brk broker.Broker, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Catalog:            cat,
		Cache:              cache,
		Broker:             brk,
		Metrics:            m,
		WaitBeforeRedirect: DefaultWaitBeforeRedirect,
		Logger:             logger,
	}
}

// Dispatch resolves org/name/version against the catalog, validates the
// requested parameter values, and serves a cache hit, joins an in-flight
// build, or submits a new one and races it against WaitBeforeRedirect.
// settings carries request-level (non-parameter) fields; currently only
// "docs" is consulted, for archiyou's settings→result-mapping rule (spec
// §4.4). A nil settings map behaves as if none were set.
func (d *Dispatcher) Dispatch(ctx context.Context, org, name, version string, values map[string]any, format broker.Format, settings map[string]any) (*Response, error) {
	s, err := d.Catalog.Get(org, name, version)
	if err != nil {
		return nil, occierrors.Catalog(fmt.Sprintf("cannot resolve script %s/%s@%s", org, name, version), "", err)
	}

	filled, err := fillParams(s, values)
	if err != nil {
		return nil, err
	}

	fp := fingerprint.Compute(s.Name, s.ParamOrder, filled)
	namespace := s.CacheNamespace()
	required := cachestore.RequiredDocs(s.ResolveRequiredDocs(settings["docs"]))

	if cached, ok, err := d.Cache.GetCached(namespace, fp, required); err != nil {
		return nil, occierrors.Cache("reading cached result failed", "", err)
	} else if ok {
		d.metricCacheHit()
		d.Logger.Info("dispatch.cache_hit", "namespace", namespace, "fingerprint", fp)
		return &Response{Outcome: OutcomeResult, Result: &cached, Namespace: namespace, Fingerprint: fp}, nil
	}
	d.metricCacheMiss()

	if taskID, inFlight, err := d.Cache.CheckInFlight(namespace, fp); err != nil {
		return nil, occierrors.Cache("checking in-flight state failed", "", err)
	} else if inFlight {
		d.metricInFlightJoin()
		d.Logger.Info("dispatch.join_in_flight", "namespace", namespace, "fingerprint", fp, "task_id", taskID)
		return &Response{Outcome: OutcomeRedirect, TaskID: taskID, Namespace: namespace, Fingerprint: fp}, nil
	}

	return d.submitAndRace(ctx, s, namespace, fp, filled, format)
}

func (d *Dispatcher) submitAndRace(ctx context.Context, s *script.Script, namespace, fp string, values map[string]any, format broker.Format) (*Response, error) {
	if !d.Broker.EngineAvailable(string(s.EngineTag)) {
		return nil, occierrors.Dispatch(fmt.Sprintf("no worker pool available for engine %q", s.EngineTag), "", nil)
	}

	handle, err := d.Broker.Enqueue(ctx, string(s.EngineTag), broker.Request{
		ScriptID: s.ID(),
		Engine:   string(s.EngineTag),
		Code:     s.Code,
		Params:   values,
		Format:   format,
	})
	if err != nil {
		return nil, occierrors.Dispatch("enqueue to broker failed", "", err)
	}

	acquired, err := d.Cache.MarkInFlight(namespace, fp, handle.TaskID)
	if err != nil {
		return nil, occierrors.Cache("marking in-flight failed", "", err)
	}
	if !acquired {
		// Someone else won the race to claim this fingerprint between our
		// CheckInFlight and now; defer to them instead of double-committing.
		taskID, inFlight, checkErr := d.Cache.CheckInFlight(namespace, fp)
		if checkErr == nil && inFlight {
			return &Response{Outcome: OutcomeRedirect, TaskID: taskID, Namespace: namespace, Fingerprint: fp}, nil
		}
		return &Response{Outcome: OutcomeRedirect, TaskID: handle.TaskID, Namespace: namespace, Fingerprint: fp}, nil
	}

	timer := time.NewTimer(d.WaitBeforeRedirect)
	defer timer.Stop()

	select {
	case res := <-handle.Done:
		if d.Metrics != nil {
			d.Metrics.RaceResult()
			d.Metrics.ObserveComputeDuration(string(s.EngineTag), float64(res.DurationMs)/1000)
		}
		return d.settle(namespace, fp, handle.TaskID, res), nil
	case <-timer.C:
		if d.Metrics != nil {
			d.Metrics.RaceRedirect()
		}
		d.Logger.Info("dispatch.wait_elapsed_redirecting", "namespace", namespace, "fingerprint", fp, "task_id", handle.TaskID)
		go d.monitor(namespace, fp, handle.TaskID, handle.Done)
		return &Response{Outcome: OutcomeRedirect, TaskID: handle.TaskID, Namespace: namespace, Fingerprint: fp}, nil
	case <-ctx.Done():
		go d.monitor(namespace, fp, handle.TaskID, handle.Done)
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) metricCacheHit() {
	if d.Metrics != nil {
		d.Metrics.CacheHit()
	}
}

func (d *Dispatcher) metricCacheMiss() {
	if d.Metrics != nil {
		d.Metrics.CacheMiss()
	}
}

func (d *Dispatcher) metricInFlightJoin() {
	if d.Metrics != nil {
		d.Metrics.InFlightJoins.Inc()
	}
}

// monitor is the detached continuation of the loser of the race: it keeps
// waiting for the worker's result after Dispatch has already redirected the
// caller, and commits it to cache so a subsequent poll or cache lookup
// finds it, matching the original's "continue the compute routine" branch.
func (d *Dispatcher) monitor(namespace, fp, taskID string, done <-chan broker.Result) {
	res := <-done
	d.settle(namespace, fp, taskID, res)
}

func (d *Dispatcher) settle(namespace, fp, taskID string, res broker.Result) *Response {
	if res.Success {
		if err := d.Cache.Commit(namespace, fp, taskID, res); err != nil {
			d.Logger.Error("dispatch.commit_failed", "namespace", namespace, "fingerprint", fp, "err", err)
		}
	} else {
		if err := d.Cache.Abort(namespace, fp, taskID); err != nil {
			d.Logger.Error("dispatch.abort_failed", "namespace", namespace, "fingerprint", fp, "err", err)
		}
		d.Logger.Warn("dispatch.compute_failed", "namespace", namespace, "fingerprint", fp, "errors", res.Errors)
	}
	return &Response{Outcome: OutcomeResult, Result: &res, Namespace: namespace, Fingerprint: fp, TaskID: taskID}
}

// Status reports on a previously dispatched build: whether it has since
// landed in cache, is still being worked on, or is unknown to the broker.
type Status struct {
	Cached bool
	Result *broker.Result
	State  broker.TaskState
	TaskID string
}

// Poll answers the status URL a redirect points to (spec §4.6): it checks
// the cache first (the monitor goroutine may have committed already), then
// falls back to the broker's task state. required applies the same archiyou
// docs rule Dispatch does, so a poller asking for more docs than the
// original request keeps seeing "not yet cached" until they land.
func (d *Dispatcher) Poll(namespace, fingerprint, taskID string, required cachestore.RequiredDocs) (Status, error) {
	if cached, ok, err := d.Cache.GetCached(namespace, fingerprint, required); err != nil {
		return Status{}, occierrors.Cache("reading cached result failed", "", err)
	} else if ok {
		return Status{Cached: true, Result: &cached, State: broker.StateSuccess, TaskID: taskID}, nil
	}
	return Status{Cached: false, State: d.Broker.State(taskID), TaskID: taskID}, nil
}

// fillParams validates the supplied values against the script's declared
// parameters and fills in defaults for anything omitted, per spec §4.2.
func fillParams(s *script.Script, values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s.ParamOrder))
	for _, name := range s.ParamOrder {
		desc := s.Params[name]
		v, supplied := values[name]
		if !supplied {
			v = desc.Default
		}
		if err := desc.Validate(v); err != nil {
			return nil, occierrors.Input(fmt.Sprintf("invalid value for parameter %q", name), "", err)
		}
		out[name] = v
	}
	return out, nil
}
