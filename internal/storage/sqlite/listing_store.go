// Package sqlite provides a file-backed listing store for single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	// DefaultTable is used when no table name is configured.
	DefaultTable = "ipo_master"

	dateLayout = "2006-01-02"
	// Fixed width keeps lexical order equal to chronological order.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// ListingStore persists listings in SQLite. Decimals and timestamps are stored as
// text so no precision is lost. Lookups go through a name_key column filled with
// tracker.NameKey, since SQLite's lower() folds ASCII only.
type ListingStore struct {
	db    *sql.DB
	table string
}

// Open opens (or creates) the database at dsn and ensures the listing table
// exists. Use ":memory:" for an ephemeral store.
func Open(ctx context.Context, dsn, table string) (*ListingStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	s := &ListingStore{db: db, table: table}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *ListingStore) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT NOT NULL,
	name_key         TEXT NOT NULL,
	price_high       TEXT NOT NULL DEFAULT '0',
	issue_size       TEXT NOT NULL DEFAULT '0',
	gmp              TEXT NOT NULL DEFAULT '0',
	listing_gain     TEXT NOT NULL DEFAULT '0',
	retail_sub       TEXT NOT NULL DEFAULT '0',
	hni_sub          TEXT NOT NULL DEFAULT '0',
	qib_sub          TEXT NOT NULL DEFAULT '0',
	best_category    TEXT NOT NULL DEFAULT '',
	listing_date     TEXT,
	status           TEXT NOT NULL,
	first_seen_at    TEXT NOT NULL,
	last_observed_at TEXT NOT NULL
)`, s.table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_name_key ON %[1]s (name_key)`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *ListingStore) Close() error {
	return s.db.Close()
}

// WithinTx runs fn in a transaction, committing when fn returns nil.
func (s *ListingStore) WithinTx(ctx context.Context, fn func(tx tracker.ListingTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&listingTx{tx: tx, table: s.table}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// All returns every listing ordered by last observation, newest first.
func (s *ListingStore) All(ctx context.Context) ([]tracker.Listing, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY last_observed_at DESC, id DESC", selectColumns, s.table))
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

const selectColumns = `id, name, price_high, issue_size, gmp, listing_gain, retail_sub, hni_sub, qib_sub,
	best_category, listing_date, status, first_seen_at, last_observed_at`

type listingTx struct {
	tx    *sql.Tx
	table string
}

func (t *listingTx) FindByName(ctx context.Context, name string) (tracker.Listing, error) {
	row := t.tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE name_key = ? LIMIT 1", selectColumns, t.table), tracker.NameKey(name))
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.Listing{}, tracker.ErrNotFound
	}
	return l, err
}

func (t *listingTx) Insert(ctx context.Context, l tracker.Listing) (tracker.Listing, error) {
	query := fmt.Sprintf(`INSERT INTO %s (
	name, name_key, price_high, issue_size, gmp, listing_gain, retail_sub, hni_sub, qib_sub,
	best_category, listing_date, status, first_seen_at, last_observed_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, t.table)
	args := append([]any{l.Name, tracker.NameKey(l.Name)}, columnArgs(l)...)
	args = append(args, formatTime(l.FirstSeenAt), formatTime(l.LastObservedAt))
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return tracker.Listing{}, fmt.Errorf("insert listing: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return tracker.Listing{}, fmt.Errorf("insert listing id: %w", err)
	}
	l.ID = id
	return l, nil
}

func (t *listingTx) Update(ctx context.Context, l tracker.Listing) error {
	query := fmt.Sprintf(`UPDATE %s SET
	price_high = ?, issue_size = ?, gmp = ?, listing_gain = ?, retail_sub = ?, hni_sub = ?, qib_sub = ?,
	best_category = ?, listing_date = ?, status = ?, last_observed_at = ?
WHERE id = ?`, t.table)
	args := append(columnArgs(l), formatTime(l.LastObservedAt), l.ID)
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update listing rows: %w", err)
	}
	if n == 0 {
		return tracker.ErrNotFound
	}
	return nil
}

func columnArgs(l tracker.Listing) []any {
	var date any
	if l.ListingDate != nil {
		date = l.ListingDate.UTC().Format(dateLayout)
	}
	return []any{
		l.PriceHigh.String(), l.IssueSize.String(), l.GreyMarketPremium.String(), l.ListingGain.String(),
		l.RetailSubscription.String(), l.HNISubscription.String(), l.QIBSubscription.String(),
		l.BestCategory, date, string(l.Status),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (tracker.Listing, error) {
	var (
		l                   tracker.Listing
		numerics            [7]string
		date                sql.NullString
		status              string
		firstSeen, lastSeen string
	)
	err := row.Scan(
		&l.ID, &l.Name,
		&numerics[0], &numerics[1], &numerics[2], &numerics[3],
		&numerics[4], &numerics[5], &numerics[6],
		&l.BestCategory, &date, &status, &firstSeen, &lastSeen,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tracker.Listing{}, err
		}
		return tracker.Listing{}, fmt.Errorf("scan listing: %w", err)
	}

	targets := []*decimal.Decimal{
		&l.PriceHigh, &l.IssueSize, &l.GreyMarketPremium, &l.ListingGain,
		&l.RetailSubscription, &l.HNISubscription, &l.QIBSubscription,
	}
	for i, text := range numerics {
		if *targets[i], err = decimal.NewFromString(text); err != nil {
			return tracker.Listing{}, fmt.Errorf("parse numeric column %d: %w", i, err)
		}
	}
	if date.Valid && date.String != "" {
		parsed, err := time.Parse(dateLayout, date.String)
		if err != nil {
			return tracker.Listing{}, fmt.Errorf("parse listing date: %w", err)
		}
		l.ListingDate = &parsed
	}
	if l.FirstSeenAt, err = time.Parse(timeLayout, firstSeen); err != nil {
		return tracker.Listing{}, fmt.Errorf("parse first_seen_at: %w", err)
	}
	if l.LastObservedAt, err = time.Parse(timeLayout, lastSeen); err != nil {
		return tracker.Listing{}, fmt.Errorf("parse last_observed_at: %w", err)
	}
	l.Status = tracker.Status(status)
	return l, nil
}
