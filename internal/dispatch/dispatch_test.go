package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/occi-cad/occi-server/internal/broker"
	"github.com/occi-cad/occi-server/internal/cachestore"
	"github.com/occi-cad/occi-server/internal/catalog"
	"github.com/occi-cad/occi-server/internal/param"
	"github.com/occi-cad/occi-server/internal/script"
)

func newTestDispatcher(t *testing.T, waitBeforeRedirect time.Duration, compute broker.Compute) (*Dispatcher, *script.Script) {
	t.Helper()
	cat := catalog.New(t.TempDir(), nil)
	s := &script.Script{
		Org: "acme", Name: "box", Version: "1.0.0",
		EngineTag:  script.EngineCadQuery,
		Code:       "# code",
		ParamOrder: []string{"size"},
		Params: map[string]param.Descriptor{
			"size": {Kind: param.KindNumber, Start: 0, End: 10, Step: 1, Default: 5.0, Iterable: true},
		},
	}
	if err := cat.Add(s, false); err != nil {
		t.Fatalf("add script: %v", err)
	}

	brk := broker.NewEmbeddedBroker()
	brk.RegisterEngine(string(script.EngineCadQuery), 2, compute)

	cache := cachestore.New(t.TempDir(), nil)
	d := New(cat, cache, brk, nil, nil)
	d.WaitBeforeRedirect = waitBeforeRedirect
	return d, s
}

func instantSuccess(ctx context.Context, req broker.Request) broker.Result {
	return broker.Result{
		Success:    true,
		DurationMs: 1,
		Models:     map[broker.Format]string{broker.FormatSTEP: "step-data"},
	}
}

func TestDispatchReturnsResultWhenComputeIsFast(t *testing.T) {
	d, _ := newTestDispatcher(t, 50*time.Millisecond, instantSuccess)

	resp, err := d.Dispatch(context.Background(), "acme", "box", "1.0.0", map[string]any{"size": 5.0}, broker.FormatSTEP, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Outcome != OutcomeResult {
		t.Fatalf("expected OutcomeResult, got %v", resp.Outcome)
	}
	if resp.Result == nil || !resp.Result.Success {
		t.Fatalf("expected successful result, got %+v", resp.Result)
	}

	if !d.Cache.IsCached(resp.Namespace, resp.Fingerprint, nil) {
		t.Fatalf("expected result to be committed to cache")
	}
}

func TestDispatchCacheHitSkipsBroker(t *testing.T) {
	calls := 0
	compute := func(ctx context.Context, req broker.Request) broker.Result {
		calls++
		return instantSuccess(ctx, req)
	}
	d, _ := newTestDispatcher(t, 50*time.Millisecond, compute)

	if _, err := d.Dispatch(context.Background(), "acme", "box", "1.0.0", map[string]any{"size": 5.0}, broker.FormatSTEP, nil); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 compute call, got %d", calls)
	}

	resp, err := d.Dispatch(context.Background(), "acme", "box", "1.0.0", map[string]any{"size": 5.0}, broker.FormatSTEP, nil)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if resp.Outcome != OutcomeResult {
		t.Fatalf("expected cache hit outcome, got %v", resp.Outcome)
	}
	if calls != 1 {
		t.Fatalf("expected no additional compute call on cache hit, got %d", calls)
	}
}

func TestDispatchRedirectsWhenComputeIsSlow(t *testing.T) {
	release := make(chan struct{})
	slow := func(ctx context.Context, req broker.Request) broker.Result {
		<-release
		return instantSuccess(ctx, req)
	}
	d, _ := newTestDispatcher(t, 20*time.Millisecond, slow)
	defer close(release)

	resp, err := d.Dispatch(context.Background(), "acme", "box", "1.0.0", map[string]any{"size": 5.0}, broker.FormatSTEP, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Outcome != OutcomeRedirect {
		t.Fatalf("expected OutcomeRedirect, got %v", resp.Outcome)
	}
	if resp.TaskID == "" {
		t.Fatalf("expected a task id on redirect")
	}

	taskID, inFlight, err := d.Cache.CheckInFlight(resp.Namespace, resp.Fingerprint)
	if err != nil || !inFlight || taskID != resp.TaskID {
		t.Fatalf("expected in-flight marker for redirected task, got taskID=%q inFlight=%v err=%v", taskID, inFlight, err)
	}
}

func TestDispatchMonitorCommitsAfterRedirect(t *testing.T) {
	release := make(chan struct{})
	slow := func(ctx context.Context, req broker.Request) broker.Result {
		<-release
		return instantSuccess(ctx, req)
	}
	d, _ := newTestDispatcher(t, 10*time.Millisecond, slow)

	resp, err := d.Dispatch(context.Background(), "acme", "box", "1.0.0", map[string]any{"size": 5.0}, broker.FormatSTEP, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Outcome != OutcomeRedirect {
		t.Fatalf("expected OutcomeRedirect, got %v", resp.Outcome)
	}

	close(release)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if d.Cache.IsCached(resp.Namespace, resp.Fingerprint, nil) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected monitor goroutine to commit result to cache")
}

func TestDispatchInvalidParamValue(t *testing.T) {
	d, _ := newTestDispatcher(t, 50*time.Millisecond, instantSuccess)
	_, err := d.Dispatch(context.Background(), "acme", "box", "1.0.0", map[string]any{"size": 999.0}, broker.FormatSTEP, nil)
	if err == nil {
		t.Fatalf("expected validation error for out-of-range size")
	}
}

func TestDispatchUnknownScript(t *testing.T) {
	d, _ := newTestDispatcher(t, 50*time.Millisecond, instantSuccess)
	_, err := d.Dispatch(context.Background(), "acme", "nonexistent", "1.0.0", nil, broker.FormatSTEP, nil)
	if err == nil {
		t.Fatalf("expected error for unknown script")
	}
}
