// Package classifier infers a listing's lifecycle state from its observed fields.
package classifier

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

// Signals are the observed values the classifier looks at.
type Signals struct {
	ListingGain        decimal.Decimal
	ListingDate        *time.Time
	RetailSubscription decimal.Decimal
	HNISubscription    decimal.Decimal
	QIBSubscription    decimal.Decimal
	StatusText         string
}

var openMarkers = []string{"open", "ongoing"}

// Classify maps observed signals onto a lifecycle state. Anything ambiguous resolves
// to upcoming.
func Classify(s Signals) tracker.Status {
	if !s.ListingGain.IsZero() || s.ListingDate != nil {
		return tracker.StatusListed
	}
	if subscribed(s) && hasOpenMarker(s.StatusText) {
		return tracker.StatusOpen
	}
	return tracker.StatusUpcoming
}

// FromRecord builds signals from a normalized record.
func FromRecord(r tracker.Record) Signals {
	return Signals{
		ListingGain:        r.ListingGain,
		ListingDate:        r.ListingDate,
		RetailSubscription: r.RetailSubscription,
		HNISubscription:    r.HNISubscription,
		QIBSubscription:    r.QIBSubscription,
		StatusText:         r.StatusText,
	}
}

// FromListing builds signals from a stored listing plus the raw status text of the
// record currently being applied.
func FromListing(l tracker.Listing, statusText string) Signals {
	return Signals{
		ListingGain:        l.ListingGain,
		ListingDate:        l.ListingDate,
		RetailSubscription: l.RetailSubscription,
		HNISubscription:    l.HNISubscription,
		QIBSubscription:    l.QIBSubscription,
		StatusText:         statusText,
	}
}

func subscribed(s Signals) bool {
	return s.RetailSubscription.IsPositive() ||
		s.HNISubscription.IsPositive() ||
		s.QIBSubscription.IsPositive()
}

func hasOpenMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range openMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
