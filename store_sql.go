package scanguard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

const banColumns = `id, address, reason, banned_by, banned_at, expires_at`

var banSchemas = map[string]string{
	"sqlite3": `
	CREATE TABLE IF NOT EXISTS bans (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL UNIQUE,
		reason TEXT NOT NULL,
		banned_by TEXT NOT NULL,
		banned_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bans_expires_at ON bans(expires_at);`,
	"postgres": `
	CREATE TABLE IF NOT EXISTS bans (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL UNIQUE,
		reason TEXT NOT NULL,
		banned_by TEXT NOT NULL,
		banned_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bans_expires_at ON bans(expires_at);`,
}

// SQLBanStore persists bans in a SQL table keyed by the unique address
// column. Supported drivers are sqlite3 and postgres.
type SQLBanStore struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

// NewSQLBanStore opens the database and creates the bans table if needed.
func NewSQLBanStore(ctx context.Context, driver, dsn string) (*SQLBanStore, error) {
	if _, ok := banSchemas[driver]; !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	s := &SQLBanStore{db: db, driver: driver, now: time.Now}
	if err := s.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the bans table.
func (s *SQLBanStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, banSchemas[s.driver]); err != nil {
		return fmt.Errorf("create bans table: %w", err)
	}
	return nil
}

func (s *SQLBanStore) IsBanned(ctx context.Context, address string) (*BanRecord, error) {
	rec, err := s.get(ctx, s.db, address)
	if err != nil || rec == nil {
		return nil, err
	}
	if !rec.Expired(s.now()) {
		return rec, nil
	}
	q := s.db.Rebind(`DELETE FROM bans WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, q, rec.ID); err != nil {
		return nil, fmt.Errorf("delete expired ban %s: %w", address, err)
	}
	return nil, nil
}

func (s *SQLBanStore) Ban(ctx context.Context, address, reason, actor string, ttl time.Duration) (*BanRecord, error) {
	now := s.now().UTC()
	q := s.db.Rebind(`INSERT INTO bans (` + banColumns + `) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			reason = excluded.reason,
			banned_by = excluded.banned_by,
			banned_at = excluded.banned_at,
			expires_at = excluded.expires_at`)
	if _, err := s.db.ExecContext(ctx, q, uuid.NewString(), address, reason, actor, now, expiryFor(now, ttl)); err != nil {
		return nil, fmt.Errorf("upsert ban %s: %w", address, err)
	}
	rec, err := s.get(ctx, s.db, address)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("upsert ban %s: row missing after write", address)
	}
	return rec, nil
}

func (s *SQLBanStore) BanIfAbsent(ctx context.Context, address, reason, actor string, ttl time.Duration) (*BanRecord, bool, error) {
	now := s.now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin ban tx: %w", err)
	}
	defer tx.Rollback()

	del := tx.Rebind(`DELETE FROM bans WHERE address = ? AND expires_at IS NOT NULL AND expires_at <= ?`)
	if _, err := tx.ExecContext(ctx, del, address, now); err != nil {
		return nil, false, fmt.Errorf("clear expired ban %s: %w", address, err)
	}
	ins := tx.Rebind(`INSERT INTO bans (` + banColumns + `) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO NOTHING`)
	res, err := tx.ExecContext(ctx, ins, uuid.NewString(), address, reason, actor, now, expiryFor(now, ttl))
	if err != nil {
		return nil, false, fmt.Errorf("insert ban %s: %w", address, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert ban %s: %w", address, err)
	}
	rec, err := s.get(ctx, tx, address)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit ban tx: %w", err)
	}
	return rec, affected > 0, nil
}

func (s *SQLBanStore) Unban(ctx context.Context, address string) error {
	q := s.db.Rebind(`DELETE FROM bans WHERE address = ?`)
	if _, err := s.db.ExecContext(ctx, q, address); err != nil {
		return fmt.Errorf("delete ban %s: %w", address, err)
	}
	return nil
}

func (s *SQLBanStore) List(ctx context.Context) ([]*BanRecord, error) {
	var recs []*BanRecord
	q := `SELECT ` + banColumns + ` FROM bans ORDER BY banned_at DESC`
	if err := s.db.SelectContext(ctx, &recs, q); err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	return recs, nil
}

func (s *SQLBanStore) LookupByID(ctx context.Context, id string) (*BanRecord, error) {
	var rec BanRecord
	q := s.db.Rebind(`SELECT ` + banColumns + ` FROM bans WHERE id = ?`)
	if err := s.db.GetContext(ctx, &rec, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup ban %s: %w", id, err)
	}
	return &rec, nil
}

func (s *SQLBanStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	q := s.db.Rebind(`DELETE FROM bans WHERE expires_at IS NOT NULL AND expires_at <= ?`)
	res, err := s.db.ExecContext(ctx, q, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired bans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired bans: %w", err)
	}
	return int(n), nil
}

func (s *SQLBanStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLBanStore) Close() error {
	return s.db.Close()
}

func (s *SQLBanStore) get(ctx context.Context, q sqlx.QueryerContext, address string) (*BanRecord, error) {
	var rec BanRecord
	query := s.db.Rebind(`SELECT ` + banColumns + ` FROM bans WHERE address = ?`)
	if err := sqlx.GetContext(ctx, q, &rec, query, address); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ban %s: %w", address, err)
	}
	return &rec, nil
}
