package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/occi-cad/occi-server/internal/batch"
	"github.com/occi-cad/occi-server/internal/broker"
	"github.com/occi-cad/occi-server/internal/occierrors"
	"github.com/occi-cad/occi-server/internal/script"
)

// PublishJob is the response shape spec §6 names for POST /admin/publish:
// an id to poll, the published script's identity, a status, and (once a
// precompute batch is running) its progress stats.
type PublishJob struct {
	ID      string          `json:"id"`
	Script  string          `json:"script"`
	Status  string          `json:"status"` // "published", "precomputing", "done", "failed"
	Stats   *batch.Snapshot `json:"stats,omitempty"`
	batchID string
}

type publishRequest struct {
	script.Script
	Code         string `json:"code"`
	Overwrite    bool   `json:"overwrite"`
	PreCalculate bool   `json:"pre_calculate"`
}

// requireAdminAuth checks HTTP basic auth against the configured admin
// username/passphrase, per spec §6's "Admin: POST /admin/publish
// (basic-auth)".
func (s *Server) requireAdminAuth(w http.ResponseWriter, r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok || user != s.Config.Admin.Username || pass != s.Config.Admin.Passphrase {
		w.Header().Set("WWW-Authenticate", `Basic realm="occi-admin"`)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "admin authentication required"})
		return false
	}
	return true
}

// handleAdminPublish answers POST /admin/publish: decode a script record,
// add it to the catalog, rebuild the search index, and optionally kick off
// a precompute batch in the background (spec §4.7, §6).
func (s *Server) handleAdminPublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdminAuth(w, r) {
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, occierrors.Publish("malformed publish request body", "", err))
		return
	}

	sc := req.Script
	sc.Code = req.Code
	if err := s.Catalog.Add(&sc, req.Overwrite); err != nil {
		writeError(w, occierrors.Publish(err.Error(), "set overwrite=true to replace an existing version", err))
		return
	}
	s.rebuildSearchIndex()

	job := &PublishJob{ID: newJobID(), Script: sc.ID(), Status: "published"}
	s.jobsMu.Lock()
	s.jobs[job.ID] = job
	s.jobsMu.Unlock()

	if req.PreCalculate && s.Batch != nil {
		job.Status = "precomputing"
		go s.runPrecompute(job.ID, &sc)
	}

	writeJSON(w, http.StatusOK, job)
}

// runPrecompute drives a batch to completion in the background; Run only
// returns its batch id once every task has finished (the same point its
// stats are removed from s.Batch.Stats), so a running job's Stats field
// stays nil until this returns — there's nothing live left to poll for by
// the time the batch id is known. The original's Admin.py has the same
// limitation, since pre_calculate is also fired as a detached asyncio task
// with no mid-flight progress channel back to the publish response.
func (s *Server) runPrecompute(jobID string, sc *script.Script) {
	onDone := func(batchID string, allSucceeded bool, endAction batch.EndAction) {
		if !allSucceeded || endAction != batch.EndActionPublish {
			return
		}
		// "publish" end action: re-register the new script version's HTTP
		// endpoints and reload the catalog (spec §4.7 point 4). This system
		// has no separate endpoint-registration step — requests resolve
		// scripts live against the catalog — so reloading the catalog from
		// disk and rebuilding the search index off the fresh snapshot is
		// what makes the version immediately routable and discoverable.
		if err := s.Catalog.Reload(); err != nil {
			s.Logger.Error("httpapi.precompute_catalog_reload_failed", "batch_id", batchID, "script", sc.ID(), "err", err)
			return
		}
		s.rebuildSearchIndex()
	}

	batchID, err := s.Batch.Run(context.Background(), sc, broker.FormatSTEP, batch.EndActionPublish, onDone)

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return
	}
	job.batchID = batchID
	if err != nil {
		job.Status = "failed"
		s.Logger.Error("httpapi.precompute_failed", "job_id", jobID, "batch_id", batchID, "err", err)
		return
	}
	job.Status = "done"
}

// handleAdminPublishStatus answers GET /admin/publish/<id>, polling a
// previously submitted publish job (and, while it runs, its batch stats).
func (s *Server) handleAdminPublishStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdminAuth(w, r) {
		return
	}

	segs := pathSegments(r.URL.Path)
	if len(segs) != 3 {
		http.NotFound(w, r)
		return
	}
	id := segs[2]

	s.jobsMu.RLock()
	job, ok := s.jobs[id]
	s.jobsMu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": fmt.Sprintf("publish job %q not found", id)})
		return
	}

	if s.Batch != nil && job.batchID != "" {
		if snap, ok := s.Batch.Stats.Get(job.batchID); ok {
			job.Stats = &snap
		}
	}
	writeJSON(w, http.StatusOK, job)
}

var jobIDSeq int64

func newJobID() string {
	return fmt.Sprintf("pub-%d", atomic.AddInt64(&jobIDSeq, 1))
}
