package scanguard

import (
	"fmt"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestTracker() *RateWindowTracker {
	return NewRateWindowTracker(nil, NewAllowlist(DefaultAllowlistConfig()))
}

func TestRateWindowFiresOnceAtThreshold(t *testing.T) {
	tr := newTestTracker()
	addr := "203.0.113.1"

	for i := 1; i < RateEndpointThreshold; i++ {
		tr.Record(addr, fmt.Sprintf("/probe-%d", i), "GET", testEpoch.Add(time.Duration(i)*time.Second))
		if tr.ShouldAutoBan(addr) {
			t.Fatalf("fired early at %d endpoints", i)
		}
	}
	tr.Record(addr, "/probe-final", "GET", testEpoch.Add(20*time.Second))
	if !tr.ShouldAutoBan(addr) {
		t.Fatalf("expected trigger at %d distinct endpoints", RateEndpointThreshold)
	}
	for i := 0; i < 5; i++ {
		tr.Record(addr, fmt.Sprintf("/more-%d", i), "GET", testEpoch.Add(30*time.Second))
		if tr.ShouldAutoBan(addr) {
			t.Fatal("expected trigger to fire only once")
		}
	}
}

func TestRateWindowIgnoresAllowlisted(t *testing.T) {
	tr := newTestTracker()
	for i := 0; i < 20; i++ {
		tr.Record("203.0.113.2", fmt.Sprintf("/static/file-%d.css", i), "GET", testEpoch)
	}
	if tr.Len() != 0 {
		t.Fatalf("expected no tracked entries, got %d", tr.Len())
	}
	if tr.ShouldAutoBan("203.0.113.2") {
		t.Fatal("allowlisted traffic must never trigger")
	}
}

func TestRateWindowRestartsAfterWindow(t *testing.T) {
	tr := newTestTracker()
	addr := "203.0.113.3"
	for i := 0; i < RateEndpointThreshold-1; i++ {
		tr.Record(addr, fmt.Sprintf("/probe-%d", i), "GET", testEpoch)
	}
	// Every earlier timestamp is outside the window now, so the entry restarts.
	tr.Record(addr, "/probe-late", "GET", testEpoch.Add(RateWindow+time.Second))
	if got := tr.DistinctEndpoints(addr); got != 1 {
		t.Fatalf("expected fresh entry with 1 endpoint, got %d", got)
	}
	if tr.ShouldAutoBan(addr) {
		t.Fatal("unexpected trigger after window reset")
	}
}

func TestRateWindowTopEndpointsSorted(t *testing.T) {
	tr := newTestTracker()
	addr := "203.0.113.4"
	tr.Record(addr, "/a", "GET", testEpoch)
	tr.Record(addr, "/b", "GET", testEpoch)
	tr.Record(addr, "/b", "POST", testEpoch)
	tr.Record(addr, "/c", "GET", testEpoch)
	tr.Record(addr, "/c", "GET", testEpoch)
	tr.Record(addr, "/c", "GET", testEpoch)

	top := tr.TopEndpoints(addr, 2)
	if len(top) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(top))
	}
	if top[0].Path != "/c" || top[0].Count != 3 || top[1].Path != "/b" || top[1].LastMethod != "POST" {
		t.Fatalf("unexpected ordering: %+v", top)
	}
	if all := tr.TopEndpoints(addr, 0); len(all) != 3 {
		t.Fatalf("n <= 0 should return every endpoint, got %d", len(all))
	}
}

func TestRateWindowSweep(t *testing.T) {
	tr := newTestTracker()
	tr.Record("203.0.113.5", "/x", "GET", testEpoch)
	tr.Record("203.0.113.6", "/y", "GET", testEpoch.Add(2*time.Minute))

	removed := tr.Sweep(testEpoch.Add(2*time.Minute+time.Second), IdleEviction)
	if removed != 1 {
		t.Fatalf("expected 1 removed entry, got %d", removed)
	}
	if _, ok := tr.Snapshot("203.0.113.5"); ok {
		t.Fatal("expected stale entry to be gone")
	}
	if _, ok := tr.Snapshot("203.0.113.6"); !ok {
		t.Fatal("expected fresh entry to remain")
	}
	// Sweep is idempotent.
	if removed := tr.Sweep(testEpoch.Add(2*time.Minute+time.Second), IdleEviction); removed != 0 {
		t.Fatalf("second sweep removed %d", removed)
	}
}

func TestRateWindowSetAllowlist(t *testing.T) {
	tr := newTestTracker()
	if tr.IsAllowed("/custom") {
		t.Fatal("unexpected allow")
	}
	tr.SetAllowlist(NewAllowlist(AllowlistConfig{Paths: []string{"/custom"}}))
	if !tr.IsAllowed("/custom") {
		t.Fatal("expected swapped allowlist to apply")
	}
}

func TestRateWindowCountsOnlyEndpointsInsideWindow(t *testing.T) {
	tr := newTestTracker()
	addr := "203.0.113.7"
	for i := 0; i < RateEndpointThreshold; i++ {
		at := testEpoch.Add(time.Duration(i) * 50 * time.Second)
		tr.Record(addr, fmt.Sprintf("/page-%d", i), "GET", at)
		if tr.ShouldAutoBan(addr) {
			t.Fatalf("fired on slow traffic at page %d", i)
		}
		if got := tr.DistinctEndpoints(addr); got > 2 {
			t.Fatalf("page %d: %d endpoints counted, window holds at most 2", i, got)
		}
	}
}

func TestRateWindowClearBannedRearms(t *testing.T) {
	tr := newTestTracker()
	addr := "203.0.113.8"
	for i := 0; i < RateEndpointThreshold; i++ {
		tr.Record(addr, fmt.Sprintf("/probe-%d", i), "GET", testEpoch)
	}
	if !tr.ShouldAutoBan(addr) {
		t.Fatal("expected trigger")
	}
	tr.ClearBanned(addr)
	if !tr.ShouldAutoBan(addr) {
		t.Fatal("expected trigger again after ClearBanned")
	}
	if tr.ShouldAutoBan(addr) {
		t.Fatal("expected a single trigger after re-arming")
	}
}
