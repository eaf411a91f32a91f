package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/occi-cad/occi-server/internal/broker"
	"github.com/occi-cad/occi-server/internal/cachestore"
	"github.com/occi-cad/occi-server/internal/dispatch"
	"github.com/occi-cad/occi-server/internal/occierrors"
	"github.com/occi-cad/occi-server/internal/param"
	"github.com/occi-cad/occi-server/internal/script"
)

// reservedQueryKeys are consumed by the router itself rather than treated
// as script parameters.
var reservedQueryKeys = map[string]bool{
	"format": true,
	"output": true,
	"preset": true,
	"docs":   true,
}

// handleScriptRouter is the catch-all entry point for every
// "/<org>/<name>/..." route in spec §6. It dispatches on segment count and
// the presence of known sub-resource names, since the paths are not a fixed
// shape the stdlib ServeMux can pattern-match on its own.
func (s *Server) handleScriptRouter(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r.URL.Path)
	if len(segs) < 2 {
		http.NotFound(w, r)
		return
	}

	org, name := segs[0], segs[1]

	if len(segs) == 2 {
		s.handleRedirectLatest(w, r, org, name)
		return
	}

	// /<org>/<name>/<subresource> form: subresource applies to latest.
	if isSubResource(segs[2]) {
		s.handleSubResource(w, r, org, name, "", segs[2], segs[3:])
		return
	}

	version := segs[2]

	// /<org>/<name>/<version>/<fingerprint>/job/<task-id>
	if len(segs) == 6 && segs[4] == "job" {
		s.handleJobStatus(w, r, org, name, version, segs[3], segs[5])
		return
	}

	// /<org>/<name>/<version>/<subresource>[/<rest>]
	if len(segs) >= 4 && isSubResource(segs[3]) {
		s.handleSubResource(w, r, org, name, version, segs[3], segs[4:])
		return
	}

	if len(segs) != 3 {
		http.NotFound(w, r)
		return
	}

	s.handleModelRequest(w, r, org, name, version)
}

func isSubResource(seg string) bool {
	switch seg {
	case "versions", "params", "presets", "script", "files":
		return true
	default:
		return false
	}
}

func (s *Server) handleRedirectLatest(w http.ResponseWriter, r *http.Request, org, name string) {
	sc, err := s.Catalog.Get(org, name, "")
	if err != nil {
		writeError(w, occierrors.Catalog(fmt.Sprintf("no scripts found for %s/%s", org, name), "", err))
		return
	}
	target := "/" + sc.Org + "/" + sc.Name + "/" + sc.Version
	if q := r.URL.RawQuery; q != "" {
		target += "?" + q
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// handleModelRequest answers GET|POST /<org>/<name>/<version> with a
// computed model, per spec §4.5/§6.
func (s *Server) handleModelRequest(w http.ResponseWriter, r *http.Request, org, name, version string) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sc, err := s.Catalog.Get(org, name, version)
	if err != nil {
		writeError(w, occierrors.Catalog(fmt.Sprintf("cannot resolve script %s/%s@%s", org, name, version), "", err))
		return
	}

	query := r.URL.Query()
	format := broker.Format(query.Get("format"))
	if format == "" {
		format = broker.FormatSTEP
	}
	output := query.Get("output")
	if output == "" {
		output = "model"
	}

	values, err := valuesFromQuery(sc, query)
	if err != nil {
		writeError(w, occierrors.Input("invalid parameter value", "", err))
		return
	}

	resp, err := s.Dispatcher.Dispatch(r.Context(), org, name, version, values, format, settingsFromQuery(query))
	if err != nil {
		writeError(w, err)
		return
	}

	switch resp.Outcome {
	case dispatch.OutcomeRedirect:
		jobURL := fmt.Sprintf("/%s/%s/%s/%s/job/%s", sc.Org, sc.Name, sc.Version, resp.Fingerprint, resp.TaskID)
		writeProgress(w, jobURL)
	case dispatch.OutcomeResult:
		s.writeModelResult(w, resp.Result, format, output)
	}
}

// handleJobStatus answers GET /<org>/<name>/<version>/<fingerprint>/job/<task-id>,
// the redirect target named in spec §4.6/§6.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request, org, name, version, fingerprint, taskID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sc, err := s.Catalog.Get(org, name, version)
	if err != nil {
		writeError(w, occierrors.Catalog(fmt.Sprintf("cannot resolve script %s/%s@%s", org, name, version), "", err))
		return
	}
	query := r.URL.Query()
	required := cachestore.RequiredDocs(sc.ResolveRequiredDocs(settingsFromQuery(query)["docs"]))
	status, err := s.Dispatcher.Poll(sc.CacheNamespace(), fingerprint, taskID, required)
	if err != nil {
		writeError(w, err)
		return
	}
	if status.Cached {
		format := broker.Format(r.URL.Query().Get("format"))
		if format == "" {
			format = broker.FormatSTEP
		}
		output := r.URL.Query().Get("output")
		if output == "" {
			output = "model"
		}
		s.writeModelResult(w, status.Result, format, output)
		return
	}
	if !broker.KnownState(status.State) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown task", "task_id": taskID})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id": taskID,
		"state":   status.State,
	})
}

func (s *Server) writeModelResult(w http.ResponseWriter, res *broker.Result, format broker.Format, output string) {
	if res == nil || !res.Success {
		msg := "compute failed"
		var errs []string
		if res != nil {
			errs = res.Errors
		}
		writeError(w, occierrors.Compute(msg, "", fmt.Errorf("%v", errs)))
		return
	}

	if output == "full" {
		writeJSON(w, http.StatusOK, res)
		return
	}

	data, err := res.ModelBytes(format)
	if err != nil {
		writeError(w, occierrors.Compute(fmt.Sprintf("no %q model in result", format), "request a format the script produced, or output=full", err))
		return
	}
	w.Header().Set("Content-Type", contentTypeForFormat(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func contentTypeForFormat(f broker.Format) string {
	switch f {
	case broker.FormatSTEP:
		return "model/step"
	case broker.FormatSTL:
		return "model/stl"
	case broker.FormatGLTF:
		return "model/gltf+json"
	default:
		return "application/octet-stream"
	}
}

func writeProgress(w http.ResponseWriter, jobURL string) {
	w.Header().Set("Location", jobURL)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "in_progress",
		"job_url": jobURL,
	})
}

// settingsFromQuery extracts the request-level (non-parameter) settings a
// Dispatch call consults, currently just "docs" (spec §4.4's archiyou
// settings→result-mapping rule): "docs=true"/"docs=false" resolve to a bool,
// a single comma-separated value or repeated "docs=" params resolve to a
// list of names.
func settingsFromQuery(query url.Values) map[string]any {
	settings := make(map[string]any)
	vals, ok := query["docs"]
	if !ok || len(vals) == 0 {
		return settings
	}
	if len(vals) == 1 {
		if b, err := strconv.ParseBool(vals[0]); err == nil {
			settings["docs"] = b
			return settings
		}
		settings["docs"] = strings.Split(vals[0], ",")
		return settings
	}
	settings["docs"] = vals
	return settings
}

// valuesFromQuery parses every non-reserved query key against sc's declared
// parameters, applying a named preset's defaults first if one is given
// (the preset-application rule SPEC_FULL.md supplements from Param.py).
func valuesFromQuery(sc *script.Script, query map[string][]string) (map[string]any, error) {
	values := make(map[string]any)

	if preset := firstValue(query, "preset"); preset != "" {
		resolved, err := sc.ResolvePreset(preset)
		if err != nil {
			return nil, err
		}
		for k, v := range resolved {
			values[k] = v
		}
	}

	for key, vals := range query {
		if reservedQueryKeys[key] || len(vals) == 0 {
			continue
		}
		desc, ok := sc.Params[key]
		if !ok {
			continue
		}
		parsed, err := parseParamValue(desc, vals[0])
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		values[key] = parsed
	}

	return values, nil
}

func firstValue(query map[string][]string, key string) string {
	vals := query[key]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func parseParamValue(desc param.Descriptor, raw string) (any, error) {
	switch desc.Kind {
	case param.KindNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", raw)
		}
		return f, nil
	case param.KindBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("not a boolean: %q", raw)
		}
		return b, nil
	default:
		return raw, nil
	}
}

func writeError(w http.ResponseWriter, err error) {
	var oe *occierrors.Error
	if e, ok := err.(*occierrors.Error); ok {
		oe = e
	} else {
		oe = occierrors.Dispatch(err.Error(), "", err)
	}
	body := map[string]any{"error": oe.Message}
	if oe.Hint != "" {
		body["hint"] = oe.Hint
	}
	writeJSON(w, oe.HTTPStatus(), body)
}
