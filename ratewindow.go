package scanguard

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// RateWindow is the trailing interval over which endpoint breadth is measured.
	RateWindow = 60 * time.Second
	// RateEndpointThreshold is the number of distinct endpoints inside
	// RateWindow that marks an address as an automated scanner.
	RateEndpointThreshold = 10
	// IdleEviction is how long an address may stay quiet before its tracking
	// state is dropped.
	IdleEviction = 10 * time.Minute
)

// EndpointHit counts requests to one path.
type EndpointHit struct {
	Path       string    `json:"path"`
	Count      int       `json:"count"`
	LastMethod string    `json:"lastMethod"`
	LastHit    time.Time `json:"lastHit"`
}

// RateWindowEntry is the per-address state of the rate window tracker.
type RateWindowEntry struct {
	Address    string
	Timestamps []time.Time
	Endpoints  []EndpointHit // sorted by Count, descending
	Banned     bool
	LastSeen   time.Time
}

// trim drops timestamps and endpoints last hit before cutoff, so the
// distinct-endpoint count only covers the window.
func (e *RateWindowEntry) trim(cutoff time.Time) {
	idx := 0
	for idx < len(e.Timestamps) && e.Timestamps[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		e.Timestamps = e.Timestamps[idx:]
	}
	kept := e.Endpoints[:0]
	for _, ep := range e.Endpoints {
		if !ep.LastHit.Before(cutoff) {
			kept = append(kept, ep)
		}
	}
	e.Endpoints = kept
}

func (e *RateWindowEntry) hit(path, method string, now time.Time) {
	found := false
	for i := range e.Endpoints {
		if e.Endpoints[i].Path == path {
			e.Endpoints[i].Count++
			e.Endpoints[i].LastMethod = method
			e.Endpoints[i].LastHit = now
			found = true
			break
		}
	}
	if !found {
		e.Endpoints = append(e.Endpoints, EndpointHit{Path: path, Count: 1, LastMethod: method, LastHit: now})
	}
	sort.SliceStable(e.Endpoints, func(i, j int) bool {
		return e.Endpoints[i].Count > e.Endpoints[j].Count
	})
}

// RateWindowTracker detects endpoint enumeration: many distinct
// non-allowlisted paths from one address inside RateWindow.
type RateWindowTracker struct {
	mu        sync.Mutex
	entries   EntryCache[*RateWindowEntry]
	allowlist atomic.Pointer[Allowlist]
	window    time.Duration
	threshold int
}

func NewRateWindowTracker(cache EntryCache[*RateWindowEntry], allowlist *Allowlist) *RateWindowTracker {
	if cache == nil {
		cache = NewMapCache[*RateWindowEntry]()
	}
	t := &RateWindowTracker{
		entries:   cache,
		window:    RateWindow,
		threshold: RateEndpointThreshold,
	}
	t.allowlist.Store(allowlist)
	return t
}

// SetAllowlist swaps the allowlist used by Record.
func (t *RateWindowTracker) SetAllowlist(a *Allowlist) {
	t.allowlist.Store(a)
}

// IsAllowed reports whether path is legitimate traffic.
func (t *RateWindowTracker) IsAllowed(path string) bool {
	return t.allowlist.Load().Allowed(path)
}

// Record notes one request. Allowlisted paths never count.
func (t *RateWindowTracker) Record(address, path, method string, now time.Time) {
	if t.IsAllowed(path) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries.Get(address)
	if ok {
		entry.trim(now.Add(-t.window))
		if len(entry.Timestamps) == 0 {
			ok = false
		}
	}
	if !ok {
		entry = &RateWindowEntry{Address: address}
	}
	entry.Timestamps = append(entry.Timestamps, now)
	entry.LastSeen = now
	entry.hit(path, method, now)
	t.entries.Put(address, entry)
}

// ShouldAutoBan reports true once per window when the address has reached
// the distinct-endpoint threshold. The banned flag is set before returning
// so concurrent callers see false.
func (t *RateWindowTracker) ShouldAutoBan(address string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries.Get(address)
	if !ok || entry.Banned {
		return false
	}
	if len(entry.Endpoints) < t.threshold {
		return false
	}
	entry.Banned = true
	t.entries.Put(address, entry)
	return true
}

// ClearBanned re-arms ShouldAutoBan for address. Callers use it when the
// ban that ShouldAutoBan asked for could not be written.
func (t *RateWindowTracker) ClearBanned(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries.Get(address); ok {
		entry.Banned = false
		t.entries.Put(address, entry)
	}
}

// DistinctEndpoints returns how many different paths the address hit in its
// current window.
func (t *RateWindowTracker) DistinctEndpoints(address string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries.Get(address); ok {
		return len(entry.Endpoints)
	}
	return 0
}

// TopEndpoints returns up to n most-hit endpoints for diagnostics.
func (t *RateWindowTracker) TopEndpoints(address string, n int) []EndpointHit {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries.Get(address)
	if !ok {
		return nil
	}
	if n > len(entry.Endpoints) || n <= 0 {
		n = len(entry.Endpoints)
	}
	out := make([]EndpointHit, n)
	copy(out, entry.Endpoints[:n])
	return out
}

// Snapshot returns a copy of the entry for address.
func (t *RateWindowTracker) Snapshot(address string) (RateWindowEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries.Get(address)
	if !ok {
		return RateWindowEntry{}, false
	}
	c := *entry
	c.Timestamps = append([]time.Time(nil), entry.Timestamps...)
	c.Endpoints = append([]EndpointHit(nil), entry.Endpoints...)
	return c, true
}

// Forget drops all state for address.
func (t *RateWindowTracker) Forget(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Delete(address)
}

// Len returns the number of tracked addresses.
func (t *RateWindowTracker) Len() int {
	return t.entries.Len()
}

// Sweep trims every entry to the window and drops those left empty or idle
// for longer than idle. It returns the number of dropped entries.
func (t *RateWindowTracker) Sweep(now time.Time, idle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.window)
	removed := 0
	for _, address := range t.entries.Keys() {
		entry, ok := t.entries.Get(address)
		if !ok {
			continue
		}
		entry.trim(cutoff)
		if len(entry.Timestamps) == 0 || now.Sub(entry.LastSeen) > idle {
			t.entries.Delete(address)
			removed++
		}
	}
	return removed
}
