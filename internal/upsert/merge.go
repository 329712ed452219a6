package upsert

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/classifier"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

// Merge folds rec into current and returns the merged listing with the names of
// the fields that changed, in tracker field order. Zero decimals, empty strings,
// and nil dates in rec mean "not observed" and never overwrite stored values.
// Status is re-derived from the merged values and rec's raw status text. A record
// without status text cannot move a listing out of open except to listed.
func Merge(current tracker.Listing, rec tracker.Record) (tracker.Listing, []tracker.Field) {
	merged := current
	var changed []tracker.Field

	decimals := []struct {
		field tracker.Field
		dst   *decimal.Decimal
		src   decimal.Decimal
	}{
		{tracker.FieldPriceHigh, &merged.PriceHigh, rec.PriceHigh},
		{tracker.FieldIssueSize, &merged.IssueSize, rec.IssueSize},
		{tracker.FieldGreyMarketPremium, &merged.GreyMarketPremium, rec.GreyMarketPremium},
		{tracker.FieldListingGain, &merged.ListingGain, rec.ListingGain},
		{tracker.FieldRetailSubscription, &merged.RetailSubscription, rec.RetailSubscription},
		{tracker.FieldHNISubscription, &merged.HNISubscription, rec.HNISubscription},
		{tracker.FieldQIBSubscription, &merged.QIBSubscription, rec.QIBSubscription},
	}
	for _, d := range decimals {
		if d.src.IsZero() || d.src.Equal(*d.dst) {
			continue
		}
		*d.dst = d.src
		changed = append(changed, d.field)
	}

	if rec.BestCategory != "" && rec.BestCategory != merged.BestCategory {
		merged.BestCategory = rec.BestCategory
		changed = append(changed, tracker.FieldBestCategory)
	}
	if rec.ListingDate != nil && (merged.ListingDate == nil || !rec.ListingDate.Equal(*merged.ListingDate)) {
		date := *rec.ListingDate
		merged.ListingDate = &date
		changed = append(changed, tracker.FieldListingDate)
	}

	status := classifier.Classify(classifier.FromListing(merged, rec.StatusText))
	if strings.TrimSpace(rec.StatusText) == "" && merged.Status == tracker.StatusOpen && status != tracker.StatusListed {
		status = tracker.StatusOpen
	}
	if status != merged.Status {
		merged.Status = status
		changed = append(changed, tracker.FieldStatus)
	}
	return merged, changed
}

// FromRecord builds a brand-new listing for rec observed at now.
func FromRecord(rec tracker.Record, now time.Time) tracker.Listing {
	l := tracker.Listing{
		Name:               rec.Name,
		PriceHigh:          rec.PriceHigh,
		IssueSize:          rec.IssueSize,
		GreyMarketPremium:  rec.GreyMarketPremium,
		ListingGain:        rec.ListingGain,
		RetailSubscription: rec.RetailSubscription,
		HNISubscription:    rec.HNISubscription,
		QIBSubscription:    rec.QIBSubscription,
		BestCategory:       rec.BestCategory,
		FirstSeenAt:        now,
		LastObservedAt:     now,
	}
	if rec.ListingDate != nil {
		date := *rec.ListingDate
		l.ListingDate = &date
	}
	l.Status = classifier.Classify(classifier.FromRecord(rec))
	return l
}
