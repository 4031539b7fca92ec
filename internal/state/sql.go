package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at INTEGER
	);`,
	`CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at);`,
}

// SQL is a durable backend over a single kv table. Expiry is stored as unix
// milliseconds; expired rows are hidden on read and removed by Prune.
type SQL struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// NewSQL wraps an open database handle. Call Migrate before use.
func NewSQL(db *sql.DB, driver string) *SQL {
	return &SQL{db: db, driver: driver, now: time.Now}
}

// Driver returns the database/sql driver name.
func (s *SQL) Driver() string {
	return s.driver
}

// Migrate creates the kv table when missing.
func (s *SQL) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate kv schema: %w", err)
		}
	}
	return nil
}

func (s *SQL) nowMillis() int64 {
	return s.now().UnixMilli()
}

func expiresAt(now time.Time, ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: now.Add(ttl).UnixMilli(), Valid: true}
}

func (s *SQL) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, s.nowMillis(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (s *SQL) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, string(value), expiresAt(s.now(), ttl),
	)
	return err
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *SQL) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// Increment mirrors INCR: a missing or expired row restarts at 1 with no
// expiry, a live row keeps its expiry.
func (s *SQL) Increment(ctx context.Context, key string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.nowMillis()

	var (
		raw     string
		expires sql.NullInt64
		current int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, now,
	).Scan(&raw, &expires)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		expires = sql.NullInt64{}
	case err != nil:
		return 0, err
	default:
		current, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("increment %s: value is not an integer: %w", key, err)
		}
	}

	current++
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, strconv.FormatInt(current, 10), expires,
	); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return current, nil
}

// Keys uses SQLite GLOB, which shares the *, ? and [...] syntax with redis MATCH.
func (s *SQL) Keys(ctx context.Context, pattern string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE key GLOB ? AND (expires_at IS NULL OR expires_at > ?) ORDER BY key`,
		pattern, s.nowMillis(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Prune deletes rows whose expiry has passed.
func (s *SQL) Prune(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		now.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQL) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
