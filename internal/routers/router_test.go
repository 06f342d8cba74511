package routers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"cospace/internal/api"
	"cospace/internal/session"
	"cospace/internal/store"
	"cospace/internal/syncer"
	"cospace/internal/testhelpers"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	st := store.NewGormStore(testhelpers.SetupTestDB(t), zap.NewNop())
	registry := session.NewRegistry(zap.NewNop())
	coordinator := syncer.New(st, zap.NewNop(), time.Second)
	h := api.NewHandlers(zap.NewNop(), st, nil, registry, coordinator, time.Second, time.Hour)
	return New(h)
}

func TestRouterHealthEndpoint(t *testing.T) {
	server := httptest.NewServer(newTestRouter(t))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	server := httptest.NewServer(newTestRouter(t))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRouterRoomRoutesMounted(t *testing.T) {
	server := httptest.NewServer(newTestRouter(t))
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/rooms", "application/json",
		strings.NewReader(`{"name":"smoke"}`))
	if err != nil {
		t.Fatalf("create room failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
}
