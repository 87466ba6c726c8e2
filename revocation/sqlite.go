package revocation

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/jsonapi-go/engine"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore is the persistent RevocationStore (spec.md §4.3 option (a)),
// grounded on gandalf's internal/storage/sqlite/db.go single-writer /
// multi-reader pool split and goose migration runner.
type SQLiteStore struct {
	write *sql.DB
	read  *sql.DB
}

// NewSQLiteStore opens dsn, runs embedded migrations, and returns a Store.
// dsn == ":memory:" uses a shared in-memory cache so the write and read
// pools see the same data.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	pragmas := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	var fullDSN string
	if dsn == ":memory:" {
		fullDSN = "file::memory:?mode=memory&cache=shared&" + pragmas
	} else {
		fullDSN = "file:" + dsn + "?" + pragmas
	}

	write, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		return nil, fmt.Errorf("revocation: open write db: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("revocation: open read db: %w", err)
	}

	if err := runMigrations(write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("revocation: migrations: %w", err)
	}

	return &SQLiteStore{write: write, read: read}, nil
}

func runMigrations(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(context.Background())
	return err
}

// Close closes both pools.
func (s *SQLiteStore) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}

func (s *SQLiteStore) IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error) {
	var expiresAt string
	err := s.read.QueryRowContext(ctx,
		`SELECT expires_at FROM revoked_tokens WHERE jti = ?`, jti,
	).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	t, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return false, err
	}
	return t.After(now), nil
}

func (s *SQLiteStore) Revoke(ctx context.Context, rec jsonapi.RevocationRecord) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, user_id, expires_at, revoked_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (jti) DO UPDATE SET expires_at = excluded.expires_at, revoked_at = excluded.revoked_at`,
		rec.JTI, rec.UserID, rec.ExpiresAt.UTC().Format(time.RFC3339), rec.RevokedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *SQLiteStore) Prune(ctx context.Context, now time.Time) error {
	_, err := s.write.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at <= ?`, now.UTC().Format(time.RFC3339),
	)
	return err
}
