package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/occi-cad/occi-server/internal/batch"
	"github.com/occi-cad/occi-server/internal/broker"
	"github.com/occi-cad/occi-server/internal/cachestore"
	"github.com/occi-cad/occi-server/internal/catalog"
	"github.com/occi-cad/occi-server/internal/config"
	"github.com/occi-cad/occi-server/internal/dispatch"
	"github.com/occi-cad/occi-server/internal/param"
	"github.com/occi-cad/occi-server/internal/script"
)

func newTestServer(t *testing.T) (*Server, *broker.EmbeddedBroker) {
	t.Helper()

	cat := catalog.New(t.TempDir(), nil)
	sc := &script.Script{
		Org: "acme", Name: "box", Version: "1.0.0",
		EngineTag: script.EngineCadQuery,
		Code:      "# box code",
		Metadata:  script.Metadata{Title: "Box", Description: "a parametric box"},
		ParamOrder: []string{"size"},
		Params: map[string]param.Descriptor{
			"size": {Kind: param.KindNumber, Start: 1, End: 10, Step: 1, Default: 5.0, Iterable: true},
		},
		PublicCode: true,
	}
	if err := cat.Add(sc, false); err != nil {
		t.Fatalf("add script: %v", err)
	}

	brk := broker.NewEmbeddedBroker()
	brk.RegisterEngine(string(script.EngineCadQuery), 2, func(ctx context.Context, req broker.Request) broker.Result {
		return broker.Result{Success: true, Models: map[broker.Format]string{broker.FormatSTEP: "solid box"}}
	})

	cache := cachestore.New(t.TempDir(), nil)
	disp := dispatch.New(cat, cache, brk, nil, nil)
	coord := batch.New(cache, brk, nil, nil)

	cfg := config.Default()
	cfg.Admin.Username = "admin"
	cfg.Admin.Passphrase = "secret"

	return New(cat, disp, coord, cfg, nil, nil), brk
}

func TestHandleModelRequestReturnsStepBody(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/acme/box/1.0.0?size=3", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "solid box" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
}

func TestHandleModelRequestInvalidParamReturns400(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/acme/box/1.0.0?size=999", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleRedirectLatest(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/acme/box?size=3", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", w.Code)
	}
	loc := w.Header().Get("Location")
	if loc != "/acme/box/1.0.0?size=3" {
		t.Fatalf("unexpected redirect target %q", loc)
	}
}

func TestHandleVersionsAndParams(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/acme/box/versions", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("versions: expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.Mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/acme/box/1.0.0/params", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("params: expected 200, got %d", w.Code)
	}
}

func TestHandleScriptCodePublic(t *testing.T) {
	s, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/acme/box/1.0.0/script", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "# box code" {
		t.Fatalf("unexpected code body %q", w.Body.String())
	}
}

func TestHandleSearchFindsPublishedScript(t *testing.T) {
	s, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/search?q=box", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Results []scriptSummary `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Results) != 1 || body.Results[0].Name != "box" {
		t.Fatalf("expected one box result, got %+v", body.Results)
	}
}

func TestAdminPublishRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/admin/publish", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAdminPublishAddsNewScript(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"org":"acme","name":"gear","version":"1.0.0","cad_engine":"cadquery","code":"# gear","params":{}}`
	req := httptest.NewRequest(http.MethodPost, "/admin/publish", strings.NewReader(body))
	req.SetBasicAuth("admin", "secret")
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var job PublishJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "published", job.Status)

	_, err := s.Catalog.Get("acme", "gear", "1.0.0")
	assert.NoError(t, err, "expected gear to be added to catalog")
}
