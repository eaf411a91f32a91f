// Package batch implements the precompute/publish pipeline of spec §4.7:
// enumerate every iterable-parameter combination for a script version,
// drive each one through a reduced dispatch path that always enqueues to
// the broker and waits for its result directly (skipping the HTTP
// wait-or-redirect race), track per-batch progress, and fire an end-of-batch
// action when every task has completed. This ports
// original_source/occilib/Admin.py's pre_calculate flow (batch id,
// BatchStats, on_done callback) and ModelRequestHandler.py's
// compute_script_request, which already skips the race used by handle().
package batch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/occi-cad/occi-server/internal/broker"
	"github.com/occi-cad/occi-server/internal/cachestore"
	"github.com/occi-cad/occi-server/internal/fingerprint"
	"github.com/occi-cad/occi-server/internal/metrics"
	"github.com/occi-cad/occi-server/internal/param"
	"github.com/occi-cad/occi-server/internal/script"
)

// EndAction names what happens once every task in a batch has completed
// (spec §4.7, §6's PublishJob). Default is EndActionPublish, matching
// CadScriptRequest.batch_on_end_action in the original.
type EndAction string

const (
	EndActionPublish EndAction = "publish"
	EndActionNone    EndAction = "none"
)

// Stats is the progress record exposed for a running (or finished) batch,
// named BatchStats in spec §4.2/§4.7.
type Stats struct {
	Tasks      int
	done       atomic.Int64
	durationMs atomic.Int64
}

// Done returns the number of tasks that have completed so far.
func (s *Stats) Done() int64 { return s.done.Load() }

// DurationMs returns the batch's running or final duration in milliseconds.
func (s *Stats) DurationMs() int64 { return s.durationMs.Load() }

// Snapshot is a point-in-time, JSON-friendly copy of a Stats.
type Snapshot struct {
	Tasks      int   `json:"tasks"`
	Done       int64 `json:"done"`
	DurationMs int64 `json:"duration_ms"`
}

func (s *Stats) snapshot() Snapshot {
	return Snapshot{Tasks: s.Tasks, Done: s.done.Load(), DurationMs: s.durationMs.Load()}
}

// Manager tracks BatchStats by batch id: created when a batch starts,
// incremented per completion, removed once the batch ends (spec §4.7's
// "Batch lifetime" notes).
type Manager struct {
	mu    sync.RWMutex
	stats map[string]*Stats
}

// NewManager creates an empty batch-stats registry.
func NewManager() *Manager {
	return &Manager{stats: make(map[string]*Stats)}
}

// Start registers a new batch id with the given total task count.
func (m *Manager) Start(batchID string, tasks int) *Stats {
	s := &Stats{Tasks: tasks}
	m.mu.Lock()
	m.stats[batchID] = s
	m.mu.Unlock()
	return s
}

// Get returns the Stats for a batch id, if it is still tracked.
func (m *Manager) Get(batchID string) (Snapshot, bool) {
	m.mu.RLock()
	s, ok := m.stats[batchID]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// Remove drops a batch id from the registry once it has ended.
func (m *Manager) Remove(batchID string) {
	m.mu.Lock()
	delete(m.stats, batchID)
	m.mu.Unlock()
}

// Coordinator drives precompute batches against a broker and cache store.
type Coordinator struct {
	Cache       *cachestore.Store
	Broker      broker.Broker
	Metrics     *metrics.Metrics
	Stats       *Manager
	Concurrency int
	Logger      *slog.Logger
}

// New constructs a Coordinator. m may be nil, in which case no metrics are
// recorded. Concurrency bounds how many enqueued tasks may have their
// result awaited at once; it never governs submission, which spec §4.7
// requires to stay sequential ("the coordinator's outer loop awaits each
// submission sequentially, preserves ordering and avoids queue storms").
func New(cache *cachestore.Store, brk broker.Broker, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		Cache:       cache,
		Broker:      brk,
		Metrics:     m,
		Stats:       NewManager(),
		Concurrency: 4,
		Logger:      logger,
	}
}

// OnDone is invoked once a batch finishes, with the batch id, whether every
// task succeeded, and the end action to perform (spec §4.7 point 4 /
// Admin.py's on_done(batch_id) callback). The coordinator has no catalog or
// HTTP-routing handle of its own, so for endAction == EndActionPublish the
// caller is the one that must actually reload the catalog and re-register
// the script version's endpoints when allSucceeded is true.
type OnDone func(batchID string, allSucceeded bool, endAction EndAction)

// Run enumerates every iterable-parameter combination for s, drives each
// through the broker, and blocks until the whole batch completes. Callers
// that want the original's "don't await this" fire-and-forget behavior
// should invoke Run in its own goroutine, exactly as Admin.py wraps
// compute_script_cache_async in asyncio.create_task.
func (c *Coordinator) Run(ctx context.Context, s *script.Script, format broker.Format, endAction EndAction, onDone OnDone) (batchID string, err error) {
	ordered := s.OrderedParams()
	numVariants, err := param.NumVariants(ordered)
	if err != nil {
		return "", fmt.Errorf("count variants: %w", err)
	}

	batchID = newBatchID()
	stats := c.Stats.Start(batchID, numVariants)
	start := time.Now()

	enumerate, err := param.Enumerate(ordered)
	if err != nil {
		c.Stats.Remove(batchID)
		return batchID, fmt.Errorf("build enumerator: %w", err)
	}

	// Submission (Enqueue) happens one tuple at a time in this loop, per
	// spec §4.7's back-pressure rule; only awaiting each task's result and
	// committing it is handed off to a bounded pool of goroutines, so the
	// queue never receives more than one new task per iteration regardless
	// of how slow downstream results are to arrive.
	sem := semaphore.NewWeighted(int64(c.Concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	enumerate(func(tuple param.Tuple) bool {
		if ctx.Err() != nil {
			return false
		}
		values := map[string]any(tuple)

		handle, err := c.Broker.Enqueue(ctx, string(s.EngineTag), broker.Request{
			ScriptID: s.ID(),
			Engine:   string(s.EngineTag),
			Code:     s.Code,
			Params:   values,
			Format:   format,
			BatchID:  batchID,
		})
		if err != nil {
			c.Logger.Warn("batch.enqueue_failed", "batch_id", batchID, "err", err)
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			stats.done.Add(1)
			return ctx.Err() == nil
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			stats.done.Add(1)
			return false
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			if err := c.awaitAndCommit(ctx, s, values, batchID, handle, stats); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
		return ctx.Err() == nil
	})

	wg.Wait()
	runErr := firstErr
	if runErr == nil {
		runErr = ctx.Err()
	}
	stats.durationMs.Store(time.Since(start).Milliseconds())

	c.Logger.Info("batch.complete", "batch_id", batchID, "script", s.ID(), "tasks", numVariants, "done", stats.Done(), "err", runErr)

	if onDone != nil {
		onDone(batchID, runErr == nil, endAction)
	}

	c.Stats.Remove(batchID)
	return batchID, runErr
}

// awaitAndCommit waits for an already-enqueued task's result and commits it,
// the same reduced path ModelRequestHandler.py's compute_script_request
// takes for precompute (no cache/in-flight short paths, no redirect race).
// Enqueue itself already happened sequentially in Run's outer loop; only
// this wait-and-commit step runs concurrently, bounded by c.Concurrency.
func (c *Coordinator) awaitAndCommit(ctx context.Context, s *script.Script, values map[string]any, batchID string, handle broker.Handle, stats *Stats) error {
	defer stats.done.Add(1)

	namespace := s.CacheNamespace()
	fp := fingerprint.Compute(s.Name, s.ParamOrder, values)

	select {
	case res := <-handle.Done:
		if !res.Success {
			if c.Metrics != nil {
				c.Metrics.BatchTaskFailed()
			}
			c.Logger.Warn("batch.task_failed", "batch_id", batchID, "fingerprint", fp, "errors", res.Errors)
			return nil
		}
		if err := c.Cache.Commit(namespace, fp, handle.TaskID, res); err != nil {
			c.Logger.Error("batch.commit_failed", "batch_id", batchID, "fingerprint", fp, "err", err)
			return err
		}
		if c.Metrics != nil {
			c.Metrics.BatchTaskSucceeded()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newBatchID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("batch-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}
