package scanguard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
)

func newGatedApp(g *Guard) *fiber.App {
	app := fiber.New()
	app.Get("/banned", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusForbidden).SendString("banned page")
	})
	app.Use(g.Middleware())
	app.Use(func(c fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func gatedRequest(t *testing.T, app *fiber.App, client, path string) *http.Response {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Header.Set("X-Real-IP", client)
	resp, err := app.Test(r)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp
}

func proxiedConfig() *Config {
	cfg := DefaultConfig()
	cfg.TrustProxy = true
	return cfg
}

func TestMiddlewareJSONDenial(t *testing.T) {
	cfg := proxiedConfig()
	cfg.BanNoticePath = ""
	g, _ := newTestGuard(t, cfg, nil)
	app := newGatedApp(g)

	if resp := gatedRequest(t, app, "198.51.100.9", "/"); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for clean client, got %d", resp.StatusCode)
	}

	var resp *http.Response
	for i := 0; i < SeverityCriticalAttempts; i++ {
		resp = gatedRequest(t, app, "198.51.100.9", "/wp-admin")
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403 after ban, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["type"] != "permanent_ban" || body["ban_id"] == "" {
		t.Fatalf("unexpected denial body: %v", body)
	}

	if resp := gatedRequest(t, app, "198.51.100.10", "/"); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("other clients must pass, got %d", resp.StatusCode)
	}
}

func TestMiddlewareRedirectsToNotice(t *testing.T) {
	store := NewInMemoryBanStore()
	g, _ := newTestGuard(t, proxiedConfig(), store)
	app := newGatedApp(g)
	rec, _ := store.Ban(context.Background(), "203.0.113.5", "manual", "op", 0)

	resp := gatedRequest(t, app, "203.0.113.5", "/dashboard")
	if resp.StatusCode != fiber.StatusSeeOther {
		t.Fatalf("expected 303, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/banned?id="+rec.ID {
		t.Fatalf("unexpected redirect target %q", loc)
	}

	resp = gatedRequest(t, app, "203.0.113.5", "/banned")
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "banned page") {
		t.Fatalf("notice page must not be gated, got %d %q", resp.StatusCode, body)
	}
}

func TestMiddlewareFailurePolicy(t *testing.T) {
	store := &failingStore{InMemoryBanStore: NewInMemoryBanStore(), checkErr: errors.New("connection refused")}

	cfg := proxiedConfig()
	cfg.FailOpen = true
	g, _ := newTestGuard(t, cfg, store)
	if resp := gatedRequest(t, newGatedApp(g), "192.0.2.1", "/"); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("fail-open should pass the request, got %d", resp.StatusCode)
	}

	cfg = proxiedConfig()
	cfg.FailOpen = false
	g, _ = newTestGuard(t, cfg, store)
	if resp := gatedRequest(t, newGatedApp(g), "192.0.2.1", "/"); resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("fail-closed should return 503, got %d", resp.StatusCode)
	}
}
