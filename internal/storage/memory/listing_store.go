package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

var errClosed = errors.New("listing store closed")

// ListingStore provides an in-memory tracker.ListingStore. Transactions work on a
// staged copy that replaces the committed state only when fn succeeds.
type ListingStore struct {
	mu     sync.Mutex
	rows   map[string]tracker.Listing
	nextID int64
	closed bool
}

// NewListingStore constructs an empty ListingStore.
func NewListingStore() *ListingStore {
	return &ListingStore{rows: make(map[string]tracker.Listing), nextID: 1}
}

// WithinTx runs fn against a staged copy and commits it when fn returns nil.
// Transactions are serialized.
func (s *ListingStore) WithinTx(ctx context.Context, fn func(tx tracker.ListingTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &listingTx{rows: make(map[string]tracker.Listing, len(s.rows)), nextID: s.nextID}
	for k, v := range s.rows {
		tx.rows[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.rows = tx.rows
	s.nextID = tx.nextID
	return nil
}

// All returns every listing, most recently observed first.
func (s *ListingStore) All(_ context.Context) ([]tracker.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	out := make([]tracker.Listing, 0, len(s.rows))
	for _, l := range s.rows {
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastObservedAt.Equal(out[j].LastObservedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].LastObservedAt.After(out[j].LastObservedAt)
	})
	return out, nil
}

// Close marks the store unusable.
func (s *ListingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type listingTx struct {
	rows   map[string]tracker.Listing
	nextID int64
}

func (tx *listingTx) FindByName(_ context.Context, name string) (tracker.Listing, error) {
	l, ok := tx.rows[tracker.NameKey(name)]
	if !ok {
		return tracker.Listing{}, tracker.ErrNotFound
	}
	return l, nil
}

func (tx *listingTx) Insert(_ context.Context, listing tracker.Listing) (tracker.Listing, error) {
	key := tracker.NameKey(listing.Name)
	if _, exists := tx.rows[key]; exists {
		return tracker.Listing{}, errors.New("listing already exists")
	}
	listing.ID = tx.nextID
	tx.nextID++
	tx.rows[key] = listing
	return listing, nil
}

func (tx *listingTx) Update(_ context.Context, listing tracker.Listing) error {
	key := tracker.NameKey(listing.Name)
	current, ok := tx.rows[key]
	if !ok {
		return tracker.ErrNotFound
	}
	listing.ID = current.ID
	listing.FirstSeenAt = current.FirstSeenAt
	tx.rows[key] = listing
	return nil
}
