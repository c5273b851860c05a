package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gradebridge/internal/bootstrap"
	"gradebridge/internal/config"
)

func TestServerRoutes(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.DevMode = true
	cfg.Artifact.Backend = "memory"
	cfg.Notify.OutboxFile = ""

	app, err := bootstrap.Build(context.Background(), cfg, t.TempDir())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	h := NewServer(cfg, app).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"artifactBackend":"memory"`) {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/assignments/1/import", nil))
	if w.Code != http.StatusNoContent || !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "X-Actor-ID") {
		t.Fatalf("preflight: %d headers=%v", w.Code, w.Header())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/assignments/1/imports", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("imports: %d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("no route: %d", w.Code)
	}
}
