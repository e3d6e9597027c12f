package scanguard

import (
	"sort"
	"sync"
	"time"
)

// SeverityLevel is the escalation tier of an address.
type SeverityLevel int

const (
	SeverityNone SeverityLevel = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (l SeverityLevel) String() string {
	switch l {
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "NONE"
	}
}

func (l SeverityLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Severity pairs a tier with the embed colour used by chat notifiers.
type Severity struct {
	Level        SeverityLevel `json:"level"`
	DisplayColor int           `json:"displayColor"`
}

// SeverityCriticalAttempts is the attempt count at which an address is banned.
const SeverityCriticalAttempts = 3

// severityTiers is the single source for tier thresholds, highest first.
var severityTiers = []struct {
	minAttempts int
	severity    Severity
}{
	{SeverityCriticalAttempts, Severity{Level: SeverityCritical, DisplayColor: 0xED4245}},
	{2, Severity{Level: SeverityHigh, DisplayColor: 0xE67E22}},
	{1, Severity{Level: SeverityMedium, DisplayColor: 0xFEE75C}},
}

// alertMilestones are the attempt counts that raise an alert up to 20;
// beyond that every multiple of alertStride does.
var alertMilestones = map[int]struct{}{1: {}, 2: {}, 3: {}, 5: {}, 10: {}, 15: {}, 20: {}}

const (
	alertStride = 10
	// AutoBanReason is recorded on bans issued by the escalation engine.
	AutoBanReason = "Automatic ban: rate/signature violation"
	// SystemActor is the BannedBy value of automatic bans.
	SystemActor = "system"
)

// SeverityFor maps a cumulative attempt count to its tier.
func SeverityFor(totalAttempts int) Severity {
	for _, tier := range severityTiers {
		if totalAttempts >= tier.minAttempts {
			return tier.severity
		}
	}
	return Severity{Level: SeverityNone}
}

// ShouldAlert reports whether the attempt count is on the alert cadence.
func ShouldAlert(totalAttempts int) bool {
	if _, ok := alertMilestones[totalAttempts]; ok {
		return true
	}
	return totalAttempts > 20 && totalAttempts%alertStride == 0
}

// SuspiciousEndpoint is one classified path hit by an address.
type SuspiciousEndpoint struct {
	Path     string   `json:"path"`
	Category Category `json:"category"`
	Count    int      `json:"count"`
}

// SuspicionEntry is the escalation history of one address.
type SuspicionEntry struct {
	Address         string               `json:"address"`
	FirstSeen       time.Time            `json:"firstSeen"`
	LastSeen        time.Time            `json:"lastSeen"`
	TotalAttempts   int                  `json:"totalAttempts"`
	UniqueEndpoints int                  `json:"uniqueEndpoints"`
	Endpoints       []SuspiciousEndpoint `json:"endpoints"` // sorted by Count, descending
	UserAgent       string               `json:"userAgent"`
}

func (e *SuspicionEntry) copy() SuspicionEntry {
	c := *e
	c.Endpoints = append([]SuspiciousEndpoint(nil), e.Endpoints...)
	return c
}

// Top returns up to n endpoints as alert summaries.
func (e SuspicionEntry) Top(n int) []EndpointSummary {
	if n > len(e.Endpoints) || n <= 0 {
		n = len(e.Endpoints)
	}
	out := make([]EndpointSummary, 0, n)
	for _, ep := range e.Endpoints[:n] {
		out = append(out, EndpointSummary{Path: ep.Path, Count: ep.Count, Category: ep.Category})
	}
	return out
}

// EscalationEngine keeps per-address history of classified suspicious hits.
type EscalationEngine struct {
	mu      sync.Mutex
	entries EntryCache[*SuspicionEntry]
}

func NewEscalationEngine(cache EntryCache[*SuspicionEntry]) *EscalationEngine {
	if cache == nil {
		cache = NewMapCache[*SuspicionEntry]()
	}
	return &EscalationEngine{entries: cache}
}

// OnSuspiciousHit records one classified hit and returns the updated entry.
func (e *EscalationEngine) OnSuspiciousHit(address, path string, category Category, userAgent string, now time.Time) SuspicionEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries.Get(address)
	if !ok {
		entry = &SuspicionEntry{Address: address, FirstSeen: now}
	}
	entry.TotalAttempts++
	found := false
	for i := range entry.Endpoints {
		if entry.Endpoints[i].Path == path {
			entry.Endpoints[i].Count++
			found = true
			break
		}
	}
	if !found {
		entry.Endpoints = append(entry.Endpoints, SuspiciousEndpoint{Path: path, Category: category, Count: 1})
		entry.UniqueEndpoints++
	}
	sort.SliceStable(entry.Endpoints, func(i, j int) bool {
		return entry.Endpoints[i].Count > entry.Endpoints[j].Count
	})
	entry.LastSeen = now
	if userAgent != "" {
		entry.UserAgent = userAgent
	}
	e.entries.Put(address, entry)
	return entry.copy()
}

// Get returns a copy of the entry for address.
func (e *EscalationEngine) Get(address string) (SuspicionEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.entries.Get(address)
	if !ok {
		return SuspicionEntry{}, false
	}
	return entry.copy(), true
}

// Forget drops the history for address.
func (e *EscalationEngine) Forget(address string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries.Delete(address)
}

// Len returns the number of tracked addresses.
func (e *EscalationEngine) Len() int {
	return e.entries.Len()
}

// Sweep drops entries whose last hit is older than idle.
func (e *EscalationEngine) Sweep(now time.Time, idle time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for _, address := range e.entries.Keys() {
		entry, ok := e.entries.Get(address)
		if !ok {
			continue
		}
		if now.Sub(entry.LastSeen) > idle {
			e.entries.Delete(address)
			removed++
		}
	}
	return removed
}
