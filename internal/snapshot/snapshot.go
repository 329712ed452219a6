// Package snapshot renders the listing store as a plain-text report.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/hash/sha256"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

// ContentType is attached to every written snapshot.
const ContentType = "text/plain; charset=utf-8"

// Lister reads every listing, most recently observed first.
type Lister interface {
	All(ctx context.Context) ([]tracker.Listing, error)
}

// Target is one place a snapshot is written to.
type Target struct {
	Name  string
	Store tracker.BlobStore
	Path  string
}

// Hasher fingerprints rendered snapshots.
type Hasher interface {
	Sum(data []byte) string
}

// Exporter rewrites the snapshot from the store on every call.
type Exporter struct {
	lister  Lister
	primary Target
	mirrors []Target
	logger  *zap.Logger
	hasher  Hasher

	// mirrored holds the digest last uploaded to each mirror.
	mirrored map[string]string
}

// New constructs an Exporter that writes to primary and then to each mirror.
func New(lister Lister, primary Target, logger *zap.Logger, mirrors ...Target) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		lister:   lister,
		primary:  primary,
		mirrors:  mirrors,
		logger:   logger.Named("snapshot"),
		hasher:   sha256.New(),
		mirrored: make(map[string]string, len(mirrors)),
	}
}

// Export reads the store and replaces the snapshot in full. A failed primary write
// is returned; a failed mirror write is only logged. Mirrors are skipped when the
// content matches what they last received.
func (e *Exporter) Export(ctx context.Context) error {
	listings, err := e.lister.All(ctx)
	if err != nil {
		return fmt.Errorf("read listings: %w", err)
	}
	data := Render(listings)

	uri, err := e.primary.Store.PutObject(ctx, e.primary.Path, ContentType, data)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", e.primary.Path, err)
	}
	digest := e.hasher.Sum(data)
	e.logger.Info("snapshot written",
		zap.String("uri", uri),
		zap.Int("listings", len(listings)),
		zap.String("sha256", digest))

	for _, m := range e.mirrors {
		if e.mirrored[m.Name] == digest {
			e.logger.Debug("snapshot mirror up to date", zap.String("mirror", m.Name))
			continue
		}
		mirrorURI, err := m.Store.PutObject(ctx, m.Path, ContentType, data)
		if err != nil {
			e.logger.Warn("snapshot mirror failed", zap.String("mirror", m.Name), zap.Error(err))
			continue
		}
		e.mirrored[m.Name] = digest
		e.logger.Debug("snapshot mirrored", zap.String("mirror", m.Name), zap.String("uri", mirrorURI))
	}
	return nil
}

// Render formats one line per listing in the order given.
func Render(listings []tracker.Listing) []byte {
	var buf bytes.Buffer
	for _, l := range listings {
		fmt.Fprintf(&buf, "IPO Name: %s, Issue Size: %s, Price: %s, Status: %s, Scraped At: %s\n",
			l.Name,
			l.IssueSize.String(),
			l.PriceHigh.String(),
			l.Status,
			l.LastObservedAt.UTC().Format(time.RFC3339),
		)
	}
	return buf.Bytes()
}
