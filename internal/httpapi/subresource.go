package httpapi

import (
	"fmt"
	"net/http"

	"github.com/occi-cad/occi-server/internal/broker"
	"github.com/occi-cad/occi-server/internal/dispatch"
	"github.com/occi-cad/occi-server/internal/occierrors"
)

// handleSubResource answers the spec §6 / SPEC_FULL.md supplemented
// sub-resources: versions, params, presets, script (raw code) and files
// (auxiliary build outputs), all scoped to a resolved script version.
func (s *Server) handleSubResource(w http.ResponseWriter, r *http.Request, org, name, version, resource string, rest []string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if resource == "versions" {
		writeJSON(w, http.StatusOK, map[string]any{"versions": s.Catalog.Versions(org, name)})
		return
	}

	sc, err := s.Catalog.Get(org, name, version)
	if err != nil {
		writeError(w, occierrors.Catalog(fmt.Sprintf("cannot resolve script %s/%s@%s", org, name, version), "", err))
		return
	}

	switch resource {
	case "params":
		writeJSON(w, http.StatusOK, map[string]any{"order": sc.ParamOrder, "params": sc.Params})
	case "presets":
		writeJSON(w, http.StatusOK, map[string]any{"presets": sc.Presets})
	case "script":
		s.handleScriptCode(w, sc.Org, sc.Name, sc.Version, sc.PublicCode, sc.Code)
	case "files":
		s.handleFiles(w, r, org, name, version, rest)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleScriptCode(w http.ResponseWriter, org, name, version string, public bool, code string) {
	if !public {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error": fmt.Sprintf("script %s/%s@%s is not publicly readable", org, name, version),
		})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(code))
}

// handleFiles answers GET /<org>/<name>/<version>/files and
// /files/<file>: it builds (or serves from cache) the result for the
// request's query parameters, then lists or serves its auxiliary files.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request, org, name, version string, rest []string) {
	sc, err := s.Catalog.Get(org, name, version)
	if err != nil {
		writeError(w, occierrors.Catalog(fmt.Sprintf("cannot resolve script %s/%s@%s", org, name, version), "", err))
		return
	}

	values, err := valuesFromQuery(sc, r.URL.Query())
	if err != nil {
		writeError(w, occierrors.Input("invalid parameter value", "", err))
		return
	}

	resp, err := s.Dispatcher.Dispatch(r.Context(), org, name, version, values, broker.FormatSTEP, settingsFromQuery(r.URL.Query()))
	if err != nil {
		writeError(w, err)
		return
	}
	if resp.Outcome == dispatch.OutcomeRedirect {
		jobURL := fmt.Sprintf("/%s/%s/%s/%s/job/%s", sc.Org, sc.Name, sc.Version, resp.Fingerprint, resp.TaskID)
		writeProgress(w, jobURL)
		return
	}
	if !resp.Result.Success {
		writeError(w, occierrors.Compute("compute failed", "", fmt.Errorf("%v", resp.Result.Errors)))
		return
	}

	if len(rest) == 0 {
		names := make([]string, 0, len(resp.Result.Files))
		for fname := range resp.Result.Files {
			names = append(names, fname)
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": names})
		return
	}

	fname := rest[0]
	data, ok := resp.Result.Files[fname]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
