package scanguard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultManualReason is used when an operator bans without a reason.
const DefaultManualReason = "Manual ban"

// Operator implements the manual ban actions shared by the admin API and
// the CLI.
type Operator struct {
	guard   *Guard
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewOperator(guard *Guard, logger *slog.Logger, metrics *Metrics) *Operator {
	return &Operator{
		guard:   guard,
		metrics: metrics,
		logger:  componentLogger(logger, "operator"),
		now:     time.Now,
	}
}

// BanListing partitions bans by lifetime state at listing time.
type BanListing struct {
	Permanent []*BanRecord `json:"permanent"`
	Temporary []*BanRecord `json:"temporary"`
	Expired   []*BanRecord `json:"expired"`
}

func (l BanListing) Total() int {
	return len(l.Permanent) + len(l.Temporary) + len(l.Expired)
}

func normalizeOperatorAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !IsValidIP(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	return NormalizeIP(raw), nil
}

// Ban bans raw, which must be a bare IP literal. ttl <= 0 is permanent.
// An existing ban on the address is replaced.
func (o *Operator) Ban(ctx context.Context, raw, reason, actor string, ttl time.Duration) (*BanRecord, error) {
	address, err := normalizeOperatorAddress(raw)
	if err != nil {
		return nil, err
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = DefaultManualReason
	}
	if actor == "" {
		actor = "operator"
	}
	rec, err := o.guard.store.Ban(ctx, address, reason, actor, ttl)
	if err != nil {
		return nil, err
	}
	o.metrics.IncBan("operator")
	o.logger.Info("manual_ban",
		"address", address,
		"ban_id", rec.ID,
		"actor", actor,
		"permanent", rec.Permanent())
	return rec, nil
}

// Unban lifts the ban on raw and clears its tracking history. It returns
// ErrNotFound when no active ban existed; the delete is issued regardless.
func (o *Operator) Unban(ctx context.Context, raw, actor string) error {
	address, err := normalizeOperatorAddress(raw)
	if err != nil {
		return err
	}
	existing, err := o.guard.store.IsBanned(ctx, address)
	if err != nil {
		return err
	}
	if err := o.guard.store.Unban(ctx, address); err != nil {
		return err
	}
	o.guard.Forget(address)
	if existing == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	o.logger.Info("manual_unban", "address", address, "ban_id", existing.ID, "actor", actor)
	return nil
}

func (o *Operator) List(ctx context.Context) (BanListing, error) {
	recs, err := o.guard.store.List(ctx)
	if err != nil {
		return BanListing{}, err
	}
	now := o.now()
	listing := BanListing{
		Permanent: []*BanRecord{},
		Temporary: []*BanRecord{},
		Expired:   []*BanRecord{},
	}
	for _, rec := range recs {
		switch {
		case rec.Permanent():
			listing.Permanent = append(listing.Permanent, rec)
		case rec.Expired(now):
			listing.Expired = append(listing.Expired, rec)
		default:
			listing.Temporary = append(listing.Temporary, rec)
		}
	}
	return listing, nil
}

// Lookup finds a ban by the ID shown on the ban notice page.
func (o *Operator) Lookup(ctx context.Context, id string) (*BanRecord, error) {
	rec, err := o.guard.store.LookupByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	return rec, nil
}

// Status returns the active ban for raw.
func (o *Operator) Status(ctx context.Context, raw string) (*BanRecord, error) {
	address, err := normalizeOperatorAddress(raw)
	if err != nil {
		return nil, err
	}
	rec, err := o.guard.store.IsBanned(ctx, address)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	return rec, nil
}
