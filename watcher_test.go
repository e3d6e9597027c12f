package scanguard

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const reloadedAllowlist = `
allowlist:
  paths: ["/", "/status"]
  prefixes: ["/api/v2/"]
`

func startWatcher(t *testing.T, g *Guard, onReload func(*Config)) (*ConfigWatcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scanguard.yaml")
	if err := os.WriteFile(path, []byte("listen: \":8080\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cw, err := NewConfigWatcher(path, g, testLogger(), onReload)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	cw.Start()
	t.Cleanup(func() { cw.Close() })
	return cw, path
}

func TestConfigWatcherReloadSwapsAllowlist(t *testing.T) {
	g, _ := newTestGuard(t, nil, nil)
	cw, path := startWatcher(t, g, nil)
	if g.RateTracker().IsAllowed("/status") {
		t.Fatal("/status should not be allowlisted by default")
	}

	if err := os.WriteFile(path, []byte(reloadedAllowlist), 0o600); err != nil {
		t.Fatal(err)
	}
	cw.Reload()
	if !g.RateTracker().IsAllowed("/status") || !g.RateTracker().IsAllowed("/api/v2/guilds") {
		t.Fatal("reloaded allowlist not applied")
	}
	if g.RateTracker().IsAllowed("/commands") {
		t.Fatal("old allowlist paths should be replaced")
	}
}

func TestConfigWatcherKeepsConfigOnError(t *testing.T) {
	g, _ := newTestGuard(t, nil, nil)
	called := false
	cw, path := startWatcher(t, g, func(*Config) { called = true })

	if err := os.WriteFile(path, []byte("store:\n  driver: mongo\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cw.Reload()
	if called {
		t.Fatal("callback ran for an invalid file")
	}
	if !g.RateTracker().IsAllowed("/commands") {
		t.Fatal("previous allowlist should survive a bad reload")
	}
}

func TestConfigWatcherReactsToWrites(t *testing.T) {
	g, _ := newTestGuard(t, nil, nil)
	reloaded := make(chan *Config, 4)
	_, path := startWatcher(t, g, func(cfg *Config) { reloaded <- cfg })

	if err := os.WriteFile(path, []byte(reloadedAllowlist), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-reloaded:
		if len(cfg.Allowlist.Paths) != 2 {
			t.Fatalf("unexpected reloaded allowlist: %+v", cfg.Allowlist)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("write did not trigger a reload")
	}
}
