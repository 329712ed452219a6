package tracker

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the rendered body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ListingTx is the set of operations available inside one store transaction.
type ListingTx interface {
	// FindByName looks a listing up by case-insensitive name. It returns ErrNotFound
	// when no row matches.
	FindByName(ctx context.Context, name string) (Listing, error)
	// Insert stores a new listing and returns it with its assigned ID.
	Insert(ctx context.Context, listing Listing) (Listing, error)
	// Update overwrites every tracked column of an existing listing.
	Update(ctx context.Context, listing Listing) error
}

// ListingStore persists listings. WithinTx commits when fn returns nil and rolls
// back otherwise.
type ListingStore interface {
	WithinTx(ctx context.Context, fn func(tx ListingTx) error) error
	// All returns every listing, most recently observed first.
	All(ctx context.Context) ([]Listing, error)
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes change events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper waits for a duration, returning early with ctx.Err() on cancellation.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces cycle IDs.
type IDGenerator interface {
	NewID() (string, error)
}
