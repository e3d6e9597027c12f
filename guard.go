package scanguard

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"
)

// Decision is the gating outcome for one request.
type Decision int

const (
	Allow Decision = iota
	AlreadyBanned
	NewlyBanned
)

func (d Decision) String() string {
	switch d {
	case AlreadyBanned:
		return "already_banned"
	case NewlyBanned:
		return "newly_banned"
	default:
		return "allow"
	}
}

// Request describes one inbound HTTP request.
type Request struct {
	RemoteAddr string
	// Header looks up a request header; nil means no headers.
	Header    func(name string) string
	Path      string
	Method    string
	UserAgent string
	// Timestamp defaults to the guard clock when zero.
	Timestamp time.Time
}

// Verdict is the result of Guard.Check. Record is set for both ban decisions.
type Verdict struct {
	Decision Decision
	Record   *BanRecord
	Address  string
}

func (v Verdict) Banned() bool {
	return v.Decision != Allow
}

// topEndpointCount is how many endpoints an alert lists.
const topEndpointCount = 5

// Guard wires the address normalizer, ban store, trackers and escalation
// engine into a single per-request check.
type Guard struct {
	store      BanStore
	rate       *RateWindowTracker
	escalation *EscalationEngine
	publisher  AlertPublisher
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time

	trustProxy     bool
	trustedProxies []netip.Prefix
	neverBan       []netip.Prefix
	failOpen       bool
	banNoticePath  string
}

type GuardOption func(*Guard)

func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = componentLogger(l, "guard") }
}

func WithMetrics(m *Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// WithPublisher routes alert events to p, typically a *Notifier.
func WithPublisher(p AlertPublisher) GuardOption {
	return func(g *Guard) { g.publisher = p }
}

func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

func NewGuard(cfg *Config, store BanStore, opts ...GuardOption) *Guard {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	g := &Guard{
		store:          store,
		rate:           NewRateWindowTracker(newEntryCache[*RateWindowEntry](cfg.Cache), NewAllowlist(cfg.Allowlist)),
		escalation:     NewEscalationEngine(newEntryCache[*SuspicionEntry](cfg.Cache)),
		logger:         componentLogger(nil, "guard"),
		now:            time.Now,
		trustProxy:     cfg.TrustProxy,
		trustedProxies: parsePrefixes(cfg.TrustedProxies),
		neverBan:       parsePrefixes(cfg.NeverBan),
		failOpen:       cfg.FailOpen,
		banNoticePath:  cfg.BanNoticePath,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) Store() BanStore                     { return g.store }
func (g *Guard) RateTracker() *RateWindowTracker     { return g.rate }
func (g *Guard) EscalationEngine() *EscalationEngine { return g.escalation }

// SetAllowlist swaps the allowlist for subsequent requests.
func (g *Guard) SetAllowlist(a *Allowlist) {
	g.rate.SetAllowlist(a)
}

// Forget clears all tracking state for address. Operator unbans call it so
// a released address starts from a clean slate.
func (g *Guard) Forget(address string) {
	g.rate.Forget(address)
	g.escalation.Forget(address)
}

func (g *Guard) HealthCheck(ctx context.Context) error {
	return g.store.HealthCheck(ctx)
}

// ClientAddress resolves the normalized source address of req.
func (g *Guard) ClientAddress(req Request) string {
	trust := g.trustProxy
	if trust && len(g.trustedProxies) > 0 {
		trust = addrInPrefixes(req.RemoteAddr, g.trustedProxies)
	}
	return ClientAddress(req.Header, req.RemoteAddr, trust)
}

// Check gates one request. A non-nil error wraps ErrBanCheck when the store
// could not answer, or ErrBanWrite when an earned ban could not be persisted.
func (g *Guard) Check(ctx context.Context, req Request) (Verdict, error) {
	start := time.Now()
	now := req.Timestamp
	if now.IsZero() {
		now = g.now()
	}
	address := g.ClientAddress(req)

	v, err := g.check(ctx, address, req, now)
	if err != nil {
		return Verdict{Address: address}, err
	}
	g.metrics.ObserveVerdict(v.Decision, time.Since(start))
	return v, nil
}

func (g *Guard) check(ctx context.Context, address string, req Request, now time.Time) (Verdict, error) {
	allow := Verdict{Decision: Allow, Address: address}

	rec, err := g.store.IsBanned(ctx, address)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", ErrBanCheck, err)
	}
	if rec != nil {
		return Verdict{Decision: AlreadyBanned, Record: rec, Address: address}, nil
	}

	if address == UnknownAddress || addrInPrefixes(address, g.neverBan) {
		return allow, nil
	}
	if g.rate.IsAllowed(req.Path) {
		return allow, nil
	}

	g.rate.Record(address, req.Path, req.Method, now)
	if g.rate.ShouldAutoBan(address) {
		return g.rateBan(ctx, address, g.userAgent(req), now)
	}

	class := Classify(req.Path)
	if !class.Suspicious {
		return allow, nil
	}
	g.metrics.IncClassified(class.Category)
	entry := g.escalation.OnSuspiciousHit(address, req.Path, class.Category, g.userAgent(req), now)
	severity := SeverityFor(entry.TotalAttempts)

	g.logger.Debug("suspicious_request",
		"address", address,
		"path", req.Path,
		"category", class.Category.String(),
		"attempts", entry.TotalAttempts,
		"severity", severity.Level.String())

	var (
		ban     *BanRecord
		created bool
	)
	if severity.Level == SeverityCritical {
		ban, created, err = g.store.BanIfAbsent(ctx, address, AutoBanReason, SystemActor, 0)
		if err != nil {
			return Verdict{}, fmt.Errorf("%w: %w", ErrBanWrite, err)
		}
		if created {
			g.metrics.IncBan("signature")
			g.logger.Warn("auto_ban",
				"address", address,
				"ban_id", ban.ID,
				"reason", ban.Reason,
				"attempts", entry.TotalAttempts)
		}
	}

	if created || ShouldAlert(entry.TotalAttempts) {
		event := AlertEvent{
			Kind:            AlertSuspicious,
			Address:         address,
			Severity:        severity,
			TotalAttempts:   entry.TotalAttempts,
			UniqueEndpoints: entry.UniqueEndpoints,
			TopEndpoints:    entry.Top(topEndpointCount),
			UserAgent:       entry.UserAgent,
			FirstSeen:       entry.FirstSeen,
			LastSeen:        entry.LastSeen,
		}
		if created {
			event.Kind = AlertAutoBan
			event.Ban = ban
		}
		g.publish(event)
	}

	switch {
	case created:
		return Verdict{Decision: NewlyBanned, Record: ban, Address: address}, nil
	case ban != nil:
		return Verdict{Decision: AlreadyBanned, Record: ban, Address: address}, nil
	}
	return allow, nil
}

func (g *Guard) rateBan(ctx context.Context, address, userAgent string, now time.Time) (Verdict, error) {
	snap, _ := g.rate.Snapshot(address)
	reason := fmt.Sprintf("Automatic ban: %d distinct endpoints probed within %ds",
		len(snap.Endpoints), int(g.rate.window.Seconds()))

	ban, created, err := g.store.BanIfAbsent(ctx, address, reason, SystemActor, 0)
	if err != nil {
		g.rate.ClearBanned(address)
		return Verdict{}, fmt.Errorf("%w: %w", ErrBanWrite, err)
	}
	if !created {
		return Verdict{Decision: AlreadyBanned, Record: ban, Address: address}, nil
	}

	g.metrics.IncBan("rate")
	g.logger.Warn("rate_ban",
		"address", address,
		"ban_id", ban.ID,
		"distinct_endpoints", len(snap.Endpoints))

	top := g.rate.TopEndpoints(address, topEndpointCount)
	summary := make([]EndpointSummary, 0, len(top))
	total := 0
	for _, hit := range snap.Endpoints {
		total += hit.Count
	}
	for _, hit := range top {
		summary = append(summary, EndpointSummary{
			Path:     hit.Path,
			Count:    hit.Count,
			Category: Classify(hit.Path).Category,
		})
	}
	firstSeen := now
	if len(snap.Timestamps) > 0 {
		firstSeen = snap.Timestamps[0]
	}
	g.publish(AlertEvent{
		Kind:            AlertRateBan,
		Address:         address,
		Severity:        SeverityFor(SeverityCriticalAttempts),
		TotalAttempts:   total,
		UniqueEndpoints: len(snap.Endpoints),
		TopEndpoints:    summary,
		UserAgent:       userAgent,
		FirstSeen:       firstSeen,
		LastSeen:        now,
		Ban:             ban,
	})
	return Verdict{Decision: NewlyBanned, Record: ban, Address: address}, nil
}

func (g *Guard) userAgent(req Request) string {
	if req.UserAgent != "" || req.Header == nil {
		return req.UserAgent
	}
	return req.Header("User-Agent")
}

func (g *Guard) publish(event AlertEvent) {
	if g.publisher == nil {
		return
	}
	g.publisher.Publish(event)
}
