// Package normalize converts raw text scraped from pages into canonical values.
// Every function here is total: malformed input yields the field's zero or absent
// value, never an error.
package normalize

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/classifier"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

// DateLayout is the only accepted listing date pattern.
const DateLayout = "Jan 2, 2006"

// Amount parses an unsigned magnitude such as "₹1,234.50" or "12.5%".
func Amount(text string) decimal.Decimal {
	return parse(text, false)
}

// Signed parses a magnitude that may carry a leading minus sign, such as a listing
// gain of "-4.75%".
func Signed(text string) decimal.Decimal {
	return parse(text, true)
}

// PriceHigh returns the top of a price band ("₹95 to ₹100", "95-100") or the single
// price when the text is not a band.
func PriceHigh(text string) decimal.Decimal {
	parts := strings.FieldsFunc(strings.ReplaceAll(strings.ToLower(text), " to ", "-"), func(r rune) bool {
		return r == '-' || r == '–' || r == '—'
	})
	for i := len(parts) - 1; i >= 0; i-- {
		if strings.IndexFunc(parts[i], unicode.IsDigit) >= 0 {
			return Amount(parts[i])
		}
	}
	return decimal.Zero
}

// Date parses text using DateLayout. Any other shape yields nil.
func Date(text string) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	parsed, err := time.Parse(DateLayout, text)
	if err != nil {
		return nil
	}
	return &parsed
}

// Name trims a scraped company name down to its first non-empty line.
func Name(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return strings.Join(strings.Fields(trimmed), " ")
		}
	}
	return ""
}

// Record converts a raw extraction into a normalized record and classifies it.
func Record(raw tracker.ExtractedRecord) tracker.Record {
	rec := tracker.Record{
		Source:             raw.Source,
		Name:               Name(raw.Name),
		PriceHigh:          PriceHigh(raw.PriceHigh),
		IssueSize:          Amount(raw.IssueSize),
		GreyMarketPremium:  Signed(raw.GreyMarketPremium),
		ListingGain:        Signed(raw.ListingGain),
		RetailSubscription: Amount(raw.RetailSubscription),
		HNISubscription:    Amount(raw.HNISubscription),
		QIBSubscription:    Amount(raw.QIBSubscription),
		BestCategory:       strings.TrimSpace(raw.BestCategory),
		ListingDate:        Date(raw.ListingDate),
		StatusText:         strings.TrimSpace(raw.StatusText),
	}
	rec.Status = classifier.Classify(classifier.FromRecord(rec))
	return rec
}

// Records normalizes a batch, dropping entries whose name normalizes to empty.
func Records(raw []tracker.ExtractedRecord) []tracker.Record {
	out := make([]tracker.Record, 0, len(raw))
	for _, r := range raw {
		rec := Record(r)
		if rec.Name == "" {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func parse(text string, signed bool) decimal.Decimal {
	runes := []rune(text)
	var (
		b        strings.Builder
		negative bool
		digits   bool
		point    bool
	)
	for i, r := range runes {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits = true
		case r == '.' && !point && i+1 < len(runes) && runes[i+1] >= '0' && runes[i+1] <= '9':
			b.WriteRune(r)
			point = true
		case r == '-' && signed && !digits && !point:
			negative = true
		}
	}
	if !digits {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Zero
	}
	if negative {
		return value.Neg()
	}
	return value
}
