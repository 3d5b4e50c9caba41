package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"newhome-tracker/utils"
)

// Dialect selects the SQL flavour of the backing database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore persists listings and their ledgers in PostgreSQL or SQLite.
// Queries are written with '?' placeholders and rebound per dialect.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OpenPostgres connects to PostgreSQL, waiting for the server with the given
// retry policy, runs schema migrations and returns a ready-to-use store.
func OpenPostgres(ctx context.Context, dsn string, retry *utils.RetryConfig) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	err = retry.Do(ctx, "postgres-ping", func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return newSQLStore(ctx, db, DialectPostgres)
}

// OpenSQLite opens (creating if needed) a SQLite database file and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("sqlite: create data dir: %w", err)
	}

	connStr := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)" +
		"&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// A single connection serialises writers; per-key locks above keep
	// unrelated listings from waiting on each other for long.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	return newSQLStore(ctx, db, DialectSQLite)
}

func newSQLStore(ctx context.Context, db *sql.DB, d Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: migrate: %w", d, err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS canonical_listings (
			id                TEXT             PRIMARY KEY,
			builder_id        TEXT             NOT NULL,
			builder_name      TEXT             NOT NULL DEFAULT '',
			community_id      TEXT             NOT NULL DEFAULT '',
			community_name    TEXT             NOT NULL DEFAULT '',
			identity_key      TEXT             NOT NULL,
			alias_key         TEXT             NOT NULL DEFAULT '',
			model_name        TEXT             NOT NULL,
			address           TEXT             NOT NULL DEFAULT '',
			city              TEXT             NOT NULL DEFAULT '',
			state             TEXT             NOT NULL DEFAULT '',
			zip_code          TEXT             NOT NULL DEFAULT '',
			homesite          TEXT             NOT NULL DEFAULT '',
			price             BIGINT           NOT NULL,
			bedrooms          INTEGER          NOT NULL DEFAULT 0,
			bathrooms         DOUBLE PRECISION NOT NULL DEFAULT 0,
			square_feet       INTEGER          NOT NULL DEFAULT 0,
			garage_spaces     INTEGER          NOT NULL DEFAULT 0,
			lot_size          DOUBLE PRECISION NOT NULL DEFAULT 0,
			status            TEXT             NOT NULL DEFAULT 'available',
			features          TEXT             NOT NULL DEFAULT '[]',
			url               TEXT             NOT NULL DEFAULT '',
			missed_batches    INTEGER          NOT NULL DEFAULT 0,
			last_missed_batch TEXT             NOT NULL DEFAULT '',
			absent_since      BIGINT,
			version           BIGINT           NOT NULL DEFAULT 0,
			created_at        BIGINT           NOT NULL,
			updated_at        BIGINT           NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS ux_listings_identity ON canonical_listings(builder_id, community_id, identity_key);
		CREATE INDEX IF NOT EXISTS idx_listings_alias   ON canonical_listings(builder_id, community_id, alias_key);
		CREATE INDEX IF NOT EXISTS idx_listings_status  ON canonical_listings(status);
		CREATE INDEX IF NOT EXISTS idx_listings_missed  ON canonical_listings(missed_batches);

		CREATE TABLE IF NOT EXISTS price_change_events (
			id                     TEXT             PRIMARY KEY,
			listing_id             TEXT             NOT NULL,
			old_price              BIGINT           NOT NULL,
			new_price              BIGINT           NOT NULL,
			change_amount          BIGINT           NOT NULL,
			change_percentage      DOUBLE PRECISION NOT NULL,
			old_price_started_at   BIGINT           NOT NULL,
			changed_at             BIGINT           NOT NULL,
			change_type            TEXT             NOT NULL,
			days_since_last_change INTEGER          NOT NULL DEFAULT 0,
			seq                    BIGINT           NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_price_changes_listing ON price_change_events(listing_id, changed_at);

		CREATE TABLE IF NOT EXISTS price_history_intervals (
			id          TEXT    PRIMARY KEY,
			listing_id  TEXT    NOT NULL,
			price       BIGINT  NOT NULL,
			start_at    BIGINT  NOT NULL,
			end_at      BIGINT,
			days_active INTEGER NOT NULL DEFAULT 0,
			is_current  BOOLEAN NOT NULL,
			seq         BIGINT  NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_intervals_listing ON price_history_intervals(listing_id, start_at);
		CREATE UNIQUE INDEX IF NOT EXISTS ux_intervals_open ON price_history_intervals(listing_id) WHERE end_at IS NULL;

		CREATE TABLE IF NOT EXISTS market_evaluations (
			listing_id       TEXT             PRIMARY KEY,
			label            TEXT             NOT NULL,
			confidence       DOUBLE PRECISION NOT NULL,
			rationale        TEXT             NOT NULL DEFAULT '',
			aggregates       TEXT             NOT NULL DEFAULT '{}',
			comparable_count INTEGER          NOT NULL DEFAULT 0,
			model            TEXT             NOT NULL DEFAULT '',
			evaluated_at     BIGINT           NOT NULL,
			model_name       TEXT             NOT NULL DEFAULT '',
			price            BIGINT           NOT NULL DEFAULT 0,
			address          TEXT             NOT NULL DEFAULT '',
			builder_name     TEXT             NOT NULL DEFAULT '',
			community        TEXT             NOT NULL DEFAULT ''
		);
	`)
	return err
}

// Dialect reports which database the store talks to.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s: ping: %w", s.dialect, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside one database transaction, committing when fn returns
// nil and rolling back otherwise.
func (s *SQLStore) WithTx(ctx context.Context, fn func(tx ListingTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", s.dialect, err)
	}

	if err := fn(&sqlTx{q: tx, dialect: s.dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.dialect, err)
	}
	return nil
}

// sqlTx implements ListingTx on top of an open transaction.
type sqlTx struct {
	q       queryer
	dialect Dialect
}

// rebind rewrites '?' placeholders into the dialect's positional form.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate returns the row-locking suffix for reads inside a transaction.
// SQLite locks the whole database on write, so it needs none.
func (d Dialect) forUpdate() string {
	if d == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func unix(t time.Time) int64 {
	return t.UTC().Unix()
}

func fromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: unix(*t), Valid: true}
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}
