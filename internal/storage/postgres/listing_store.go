// Package postgres provides the Postgres-backed listing store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "ipo_master"

// Config controls the Postgres connection pool used for listings.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the store needs. pgxmock pools satisfy it.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// ListingStore persists listings in a single Postgres table.
type ListingStore struct {
	pool  Pool
	table string
}

// NewListingStore connects to Postgres using cfg.
func NewListingStore(ctx context.Context, cfg Config) (*ListingStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ListingStore{pool: pool, table: table}, nil
}

// NewListingStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewListingStoreWithPool(pool Pool, table string) (*ListingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ListingStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the listing table and its name index when missing.
func (s *ListingStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id               BIGSERIAL PRIMARY KEY,
	name             TEXT NOT NULL,
	price_high       NUMERIC NOT NULL DEFAULT 0,
	issue_size       NUMERIC NOT NULL DEFAULT 0,
	gmp              NUMERIC NOT NULL DEFAULT 0,
	listing_gain     NUMERIC NOT NULL DEFAULT 0,
	retail_sub       NUMERIC NOT NULL DEFAULT 0,
	hni_sub          NUMERIC NOT NULL DEFAULT 0,
	qib_sub          NUMERIC NOT NULL DEFAULT 0,
	best_category    TEXT NOT NULL DEFAULT '',
	listing_date     DATE,
	status           TEXT NOT NULL,
	first_seen_at    TIMESTAMPTZ NOT NULL,
	last_observed_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_name_key ON %[1]s (lower(name));`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ListingStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// WithinTx runs fn inside a database transaction, committing when fn returns nil.
func (s *ListingStore) WithinTx(ctx context.Context, fn func(tx tracker.ListingTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&listingTx{tx: tx, table: s.table}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// All returns every listing ordered by last observation, newest first.
func (s *ListingStore) All(ctx context.Context) ([]tracker.Listing, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY last_observed_at DESC, id DESC", selectColumns, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var out []tracker.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return out, nil
}

const selectColumns = `id, name, price_high::text, issue_size::text, gmp::text, listing_gain::text,
	retail_sub::text, hni_sub::text, qib_sub::text, best_category, listing_date, status,
	first_seen_at, last_observed_at`

type listingTx struct {
	tx    pgx.Tx
	table string
}

func (t *listingTx) FindByName(ctx context.Context, name string) (tracker.Listing, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE lower(name) = lower($1) LIMIT 1 FOR UPDATE", selectColumns, t.table)
	l, err := scanListing(t.tx.QueryRow(ctx, query, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Listing{}, tracker.ErrNotFound
	}
	return l, err
}

func (t *listingTx) Insert(ctx context.Context, l tracker.Listing) (tracker.Listing, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (
	name, price_high, issue_size, gmp, listing_gain, retail_sub, hni_sub, qib_sub,
	best_category, listing_date, status, first_seen_at, last_observed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
) RETURNING id`, t.table)
	args := append([]any{l.Name}, columnArgs(l)...)
	args = append(args, l.FirstSeenAt, l.LastObservedAt)
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&l.ID); err != nil {
		return tracker.Listing{}, fmt.Errorf("insert listing: %w", err)
	}
	return l, nil
}

func (t *listingTx) Update(ctx context.Context, l tracker.Listing) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	price_high = $2, issue_size = $3, gmp = $4, listing_gain = $5, retail_sub = $6,
	hni_sub = $7, qib_sub = $8, best_category = $9, listing_date = $10, status = $11,
	last_observed_at = $12
WHERE id = $1`, t.table)
	args := append([]any{l.ID}, columnArgs(l)...)
	args = append(args, l.LastObservedAt)
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tracker.ErrNotFound
	}
	return nil
}

// columnArgs returns the tracked columns in table order, price_high through status.
func columnArgs(l tracker.Listing) []any {
	return []any{
		l.PriceHigh, l.IssueSize, l.GreyMarketPremium, l.ListingGain,
		l.RetailSubscription, l.HNISubscription, l.QIBSubscription,
		l.BestCategory, l.ListingDate, string(l.Status),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (tracker.Listing, error) {
	var (
		l        tracker.Listing
		status   string
		numerics [7]string
	)
	err := row.Scan(
		&l.ID, &l.Name,
		&numerics[0], &numerics[1], &numerics[2], &numerics[3],
		&numerics[4], &numerics[5], &numerics[6],
		&l.BestCategory, &l.ListingDate, &status,
		&l.FirstSeenAt, &l.LastObservedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tracker.Listing{}, err
		}
		return tracker.Listing{}, fmt.Errorf("scan listing: %w", err)
	}
	targets := []*decimal.Decimal{
		&l.PriceHigh, &l.IssueSize, &l.GreyMarketPremium, &l.ListingGain,
		&l.RetailSubscription, &l.HNISubscription, &l.QIBSubscription,
	}
	for i, text := range numerics {
		value, err := decimal.NewFromString(text)
		if err != nil {
			return tracker.Listing{}, fmt.Errorf("parse numeric column %d: %w", i, err)
		}
		*targets[i] = value
	}
	l.Status = tracker.Status(status)
	return l, nil
}
