package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/titanous/json5"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

// NextDataName identifies the embedded-data strategy in logs and metrics.
const NextDataName = "next_data"

// ErrNoEmbeddedData is returned when a page carries no hydration script.
var ErrNoEmbeddedData = errors.New("no embedded data script")

// candidateLists are tried in order; the first non-empty array wins.
var candidateLists = [][]string{
	{"props", "pageProps", "resultData", "reportData"},
	{"props", "pageProps", "resultData", "reportInfo"},
	{"props", "pageProps", "resultData", "reportItems"},
	{"props", "pageProps", "reportData"},
	{"props", "pageProps", "reportItems"},
}

// Key synonyms per field, most specific first.
var (
	nameKeys     = []string{"company_name", "issuer_company_name", "ipo_name", "report_name", "name"}
	priceKeys    = []string{"issue_price_rs", "issue_price", "price_high", "price"}
	sizeKeys     = []string{"total_issue_amount_rs_cr", "issue_size_cr", "issue_size", "size"}
	gmpKeys      = []string{"gmp", "gmp_rs", "grey_market_premium"}
	gainKeys     = []string{"listing_gain", "listing_gain_percent", "listing_day_gain"}
	retailKeys   = []string{"retail_sub", "subscription_retail", "rii", "retail"}
	hniKeys      = []string{"hni_sub", "subscription_nii", "nii", "hni"}
	qibKeys      = []string{"qib_sub", "subscription_qib", "qib"}
	dateKeys     = []string{"listing_date", "listing_on"}
	statusKeys   = []string{"status", "ipo_status"}
	categoryKeys = []string{"best_category"}
)

// NextData reads the JSON state embedded in <script id="__NEXT_DATA__">.
type NextData struct{}

// Name implements Strategy.
func (NextData) Name() string { return NextDataName }

// TryExtract implements Strategy.
func (NextData) TryExtract(page tracker.Page) ([]tracker.ExtractedRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	script := doc.Find("script#__NEXT_DATA__").First()
	if script.Length() == 0 {
		return nil, ErrNoEmbeddedData
	}
	raw := strings.TrimSpace(script.Text())
	if raw == "" {
		return nil, ErrNoEmbeddedData
	}

	var state any
	if err := json5.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode embedded data: %w", err)
	}

	var items []any
	for _, path := range candidateLists {
		if list, ok := lookup(state, path).([]any); ok && len(list) > 0 {
			items = list
			break
		}
	}

	records := make([]tracker.ExtractedRecord, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rec := tracker.ExtractedRecord{
			Name:               firstText(entry, nameKeys),
			PriceHigh:          firstText(entry, priceKeys),
			IssueSize:          firstText(entry, sizeKeys),
			GreyMarketPremium:  firstText(entry, gmpKeys),
			ListingGain:        firstText(entry, gainKeys),
			RetailSubscription: firstText(entry, retailKeys),
			HNISubscription:    firstText(entry, hniKeys),
			QIBSubscription:    firstText(entry, qibKeys),
			BestCategory:       firstText(entry, categoryKeys),
			ListingDate:        firstText(entry, dateKeys),
			StatusText:         firstText(entry, statusKeys),
		}
		if rec.Name == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func lookup(node any, path []string) any {
	for _, key := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[key]
	}
	return node
}

// firstText returns the first key whose value renders to non-empty text.
func firstText(entry map[string]any, keys []string) string {
	for _, key := range keys {
		if text := render(entry[key]); text != "" {
			return text
		}
	}
	return ""
}

func render(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}
