package tracker

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a listing.
type Status string

// Listing lifecycle states.
const (
	StatusUpcoming Status = "upcoming"
	StatusOpen     Status = "open"
	StatusListed   Status = "listed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusUpcoming, StatusOpen, StatusListed:
		return true
	default:
		return false
	}
}

// Field names a tracked listing attribute. The values double as column names.
type Field string

// Tracked listing fields, in change-report order.
const (
	FieldPriceHigh          Field = "price_high"
	FieldIssueSize          Field = "issue_size"
	FieldGreyMarketPremium  Field = "gmp"
	FieldListingGain        Field = "listing_gain"
	FieldRetailSubscription Field = "retail_sub"
	FieldHNISubscription    Field = "hni_sub"
	FieldQIBSubscription    Field = "qib_sub"
	FieldBestCategory       Field = "best_category"
	FieldListingDate        Field = "listing_date"
	FieldStatus             Field = "status"
)

// Listing is the canonical, persisted record for one tracked offering.
type Listing struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name"`
	PriceHigh          decimal.Decimal `json:"price_high"`
	IssueSize          decimal.Decimal `json:"issue_size"`
	GreyMarketPremium  decimal.Decimal `json:"gmp"`
	ListingGain        decimal.Decimal `json:"listing_gain"`
	RetailSubscription decimal.Decimal `json:"retail_sub"`
	HNISubscription    decimal.Decimal `json:"hni_sub"`
	QIBSubscription    decimal.Decimal `json:"qib_sub"`
	BestCategory       string          `json:"best_category,omitempty"`
	ListingDate        *time.Time      `json:"listing_date,omitempty"`
	Status             Status          `json:"status"`
	FirstSeenAt        time.Time       `json:"first_seen_at"`
	LastObservedAt     time.Time       `json:"last_observed_at"`
}

// NameKey returns the case-insensitive identity key for a listing name.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ExtractedRecord is the raw, source-local output of an extraction strategy. Every
// field holds text exactly as found on the page; nothing here is persisted.
type ExtractedRecord struct {
	Source             string
	Name               string
	PriceHigh          string
	IssueSize          string
	GreyMarketPremium  string
	ListingGain        string
	RetailSubscription string
	HNISubscription    string
	QIBSubscription    string
	BestCategory       string
	ListingDate        string
	StatusText         string
}

// Record is a normalized extraction result ready for the upsert engine.
type Record struct {
	Source             string
	Name               string
	PriceHigh          decimal.Decimal
	IssueSize          decimal.Decimal
	GreyMarketPremium  decimal.Decimal
	ListingGain        decimal.Decimal
	RetailSubscription decimal.Decimal
	HNISubscription    decimal.Decimal
	QIBSubscription    decimal.Decimal
	BestCategory       string
	ListingDate        *time.Time
	StatusText         string
	Status             Status
}

// Source is one declarative entry of the source catalog.
type Source struct {
	Name        string `mapstructure:"name" json:"name"`
	URL         string `mapstructure:"url" json:"url"`
	Partitioned bool   `mapstructure:"partitioned" json:"partitioned"`
}

// Target is one concrete page to fetch during a cycle.
type Target struct {
	Label  string
	URL    string
	Source string
}

// Page is fetched page content handed to the extractor.
type Page struct {
	Label string
	URL   string
	Body  []byte
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Label   string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ChangeEvent is published whenever a listing is inserted or updated.
type ChangeEvent struct {
	CycleID       string    `json:"cycle_id"`
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	ChangedFields []Field   `json:"changed_fields"`
	Inserted      bool      `json:"inserted"`
	ObservedAt    time.Time `json:"observed_at"`
}
