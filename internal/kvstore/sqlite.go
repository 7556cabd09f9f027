package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteProvider is the persistent local tier, a single-file database that
// survives process restarts.
type SQLiteProvider struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func NewSQLiteProvider(path string, ttl time.Duration) (*SQLiteProvider, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	p := &SQLiteProvider{db: db, ttl: ttl, now: time.Now}
	if err := p.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return p, nil
}

func (p *SQLiteProvider) initSchema() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			expires_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_session_kv_expires_at ON session_kv(expires_at);
	`)
	return err
}

func (p *SQLiteProvider) Name() string { return "sqlite" }

func (p *SQLiteProvider) TrySet(ctx context.Context, key, value string) error {
	now := p.now()
	var expiresAt sql.NullInt64
	if p.ttl > 0 {
		expiresAt = sql.NullInt64{Int64: now.Add(p.ttl).Unix(), Valid: true}
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO session_kv (key, value, updated_at, expires_at) VALUES (?, ?, ?, ?)`,
		key, value, now.Unix(), expiresAt)
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

func (p *SQLiteProvider) TryGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM session_kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, p.now().Unix()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite get: %w", err)
	}
	return value, true, nil
}

func (p *SQLiteProvider) TryRemove(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM session_kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite remove: %w", err)
	}
	return nil
}

func (p *SQLiteProvider) Sweep(ctx context.Context) (int, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM session_kv WHERE expires_at IS NOT NULL AND expires_at <= ?`, p.now().Unix())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}
