package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

// TableName identifies the tabular strategy in logs and metrics.
const TableName = "table"

// ErrNoTable is returned when a page has no usable table.
var ErrNoTable = errors.New("no table found")

type column int

const (
	colName column = iota
	colPrice
	colSize
	colGMP
	colGain
	colRetail
	colHNI
	colQIB
	colCategory
	colDate
	colStatus
)

// headerRules are checked in order against the lowercased header text. Ordering
// keeps "Issue Price" out of the name column and "Listing Gain" out of the date
// column.
var headerRules = []struct {
	col      column
	keywords []string
}{
	{colGain, []string{"gain"}},
	{colDate, []string{"listing date", "listing on", "listed on"}},
	{colGMP, []string{"gmp", "grey"}},
	{colCategory, []string{"category"}},
	{colStatus, []string{"status"}},
	{colRetail, []string{"retail", "rii"}},
	{colHNI, []string{"hni", "nii"}},
	{colQIB, []string{"qib"}},
	{colSize, []string{"size", "amount"}},
	{colPrice, []string{"price"}},
	{colName, []string{"company", "issuer", "name"}},
}

// Table parses the first <table> on the page, using its first row as headers.
type Table struct{}

// Name implements Strategy.
func (Table) Name() string { return TableName }

// TryExtract implements Strategy.
func (Table) TryExtract(page tracker.Page) ([]tracker.ExtractedRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, ErrNoTable
	}
	rows := table.Find("tr")
	if rows.Length() < 2 {
		return nil, ErrNoTable
	}

	columns := mapHeaders(rows.First().Find("th, td"))
	if _, ok := columns[colName]; !ok {
		return nil, fmt.Errorf("%w: no name column", ErrNoTable)
	}

	var records []tracker.ExtractedRecord
	rows.Slice(1, goquery.ToEnd).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td")
		cell := func(c column) string {
			idx, ok := columns[c]
			if !ok || idx >= cells.Length() {
				return ""
			}
			return strings.Join(strings.Fields(cells.Eq(idx).Text()), " ")
		}
		name := ""
		if idx, ok := columns[colName]; ok && idx < cells.Length() {
			name = firstLine(cells.Eq(idx))
		}
		if name == "" {
			return
		}
		records = append(records, tracker.ExtractedRecord{
			Name:               name,
			PriceHigh:          cell(colPrice),
			IssueSize:          cell(colSize),
			GreyMarketPremium:  cell(colGMP),
			ListingGain:        cell(colGain),
			RetailSubscription: cell(colRetail),
			HNISubscription:    cell(colHNI),
			QIBSubscription:    cell(colQIB),
			BestCategory:       cell(colCategory),
			ListingDate:        cell(colDate),
			StatusText:         cell(colStatus),
		})
	})
	return records, nil
}

// mapHeaders assigns each header cell to at most one column; the first header to
// claim a column keeps it.
func mapHeaders(headers *goquery.Selection) map[column]int {
	columns := make(map[column]int)
	headers.Each(func(i int, h *goquery.Selection) {
		text := strings.ToLower(strings.Join(strings.Fields(h.Text()), " "))
		for _, rule := range headerRules {
			if !containsAny(text, rule.keywords) {
				continue
			}
			if _, taken := columns[rule.col]; !taken {
				columns[rule.col] = i
			}
			return
		}
	})
	return columns
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// firstLine returns the first non-empty text node under sel. Sites often put a
// badge or exchange label after the company link in the same cell.
func firstLine(sel *goquery.Selection) string {
	var found string
	var walk func(s *goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().EachWithBreak(func(_ int, node *goquery.Selection) bool {
			if goquery.NodeName(node) == "#text" {
				if text := strings.Join(strings.Fields(node.Text()), " "); text != "" {
					found = text
					return false
				}
				return true
			}
			walk(node)
			return found == ""
		})
	}
	walk(sel)
	return found
}
