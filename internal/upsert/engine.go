// Package upsert merges normalized records into the listing store without
// duplicating listings or discarding known fields.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

// Change describes one listing written by Apply.
type Change struct {
	Listing  tracker.Listing
	Fields   []tracker.Field
	Inserted bool
}

// Result summarizes one applied batch.
type Result struct {
	Inserted  int
	Updated   int
	Unchanged int
	Skipped   int
	Changes   []Change
}

// Engine applies record batches to a ListingStore.
type Engine struct {
	store  tracker.ListingStore
	clock  tracker.Clock
	logger *zap.Logger
}

// New constructs an Engine.
func New(store tracker.ListingStore, clock tracker.Clock, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, clock: clock, logger: logger.Named("upsert")}
}

// Apply writes records in one transaction. Records are processed in order, so a
// name that appears twice ends with the later values. Any failure rolls back the
// whole batch and the returned Result is empty.
func (e *Engine) Apply(ctx context.Context, records []tracker.Record) (Result, error) {
	var res Result
	if len(records) == 0 {
		return res, nil
	}
	now := e.clock.Now().UTC()

	err := e.store.WithinTx(ctx, func(tx tracker.ListingTx) error {
		res = Result{}
		for _, rec := range records {
			rec.Name = strings.TrimSpace(rec.Name)
			if rec.Name == "" {
				res.Skipped++
				continue
			}
			current, err := tx.FindByName(ctx, rec.Name)
			switch {
			case errors.Is(err, tracker.ErrNotFound):
				inserted, err := tx.Insert(ctx, FromRecord(rec, now))
				if err != nil {
					return fmt.Errorf("insert %q: %w", rec.Name, err)
				}
				res.Inserted++
				res.Changes = append(res.Changes, Change{Listing: inserted, Inserted: true})
				continue
			case err != nil:
				return fmt.Errorf("find %q: %w", rec.Name, err)
			}

			merged, fields := Merge(current, rec)
			if len(fields) == 0 {
				res.Unchanged++
				continue
			}
			merged.LastObservedAt = now
			if err := tx.Update(ctx, merged); err != nil {
				return fmt.Errorf("update %q: %w", rec.Name, err)
			}
			res.Updated++
			res.Changes = append(res.Changes, Change{Listing: merged, Fields: fields})
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("apply batch: %w", err)
	}

	for _, c := range res.Changes {
		if c.Inserted {
			e.logger.Debug("listing inserted", zap.String("name", c.Listing.Name), zap.String("status", string(c.Listing.Status)))
			continue
		}
		e.logger.Debug("listing updated", zap.String("name", c.Listing.Name), zap.Any("fields", c.Fields))
	}
	return res, nil
}

// Event converts a change into the event published for it.
func (c Change) Event(cycleID string) tracker.ChangeEvent {
	return tracker.ChangeEvent{
		CycleID:       cycleID,
		Name:          c.Listing.Name,
		Status:        c.Listing.Status,
		ChangedFields: c.Fields,
		Inserted:      c.Inserted,
		ObservedAt:    c.Listing.LastObservedAt,
	}
}
