// Package source expands the configured source catalog into the concrete pages a
// cycle fetches.
package source

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

// Segment is one market partition of a partitioned source.
type Segment struct {
	Slug  string
	Label string
}

// Segments lists market partitions in expansion order.
var Segments = []Segment{
	{Slug: "all", Label: "All"},
	{Slug: "mainboard", Label: "Mainboard"},
	{Slug: "sme", Label: "SME"},
}

// DefaultYears covers the current year plus the four before it.
const DefaultYears = 5

// ErrMalformed marks a catalog entry that cannot be expanded.
var ErrMalformed = errors.New("malformed source")

// SkippedError describes one catalog entry that was left out of an expansion.
type SkippedError struct {
	Index  int
	Source tracker.Source
	Reason string
}

func (e *SkippedError) Error() string {
	return fmt.Sprintf("source %d (%q): %s", e.Index, e.Source.Name, e.Reason)
}

func (e *SkippedError) Unwrap() error { return ErrMalformed }

// Expand turns sources into fetch targets for the date now. years counts calendar
// years including the current one; values below one are treated as one.
// Partitioned sources yield one target per (year, segment), newest year first.
// Malformed entries and duplicate labels are skipped and reported in the second
// return value; expansion itself never fails.
func Expand(sources []tracker.Source, now time.Time, years int) ([]tracker.Target, []error) {
	if years < 1 {
		years = 1
	}
	var (
		targets []tracker.Target
		skipped []error
		seen    = make(map[string]struct{})
	)
	add := func(idx int, src tracker.Source, target tracker.Target) {
		if _, dup := seen[target.Label]; dup {
			skipped = append(skipped, &SkippedError{Index: idx, Source: src, Reason: "duplicate label " + strconv.Quote(target.Label)})
			return
		}
		seen[target.Label] = struct{}{}
		targets = append(targets, target)
	}

	for idx, src := range sources {
		name := strings.TrimSpace(src.Name)
		rawURL := strings.TrimSpace(src.URL)
		switch {
		case name == "":
			skipped = append(skipped, &SkippedError{Index: idx, Source: src, Reason: "missing name"})
			continue
		case rawURL == "":
			skipped = append(skipped, &SkippedError{Index: idx, Source: src, Reason: "missing url"})
			continue
		}

		if !src.Partitioned {
			add(idx, src, tracker.Target{Label: name, URL: rawURL, Source: name})
			continue
		}
		current := now.Year()
		for year := current; year > current-years; year-- {
			for _, seg := range Segments {
				add(idx, src, tracker.Target{
					Label:  fmt.Sprintf("%s - %s %d", name, seg.Label, year),
					URL:    BuildURL(rawURL, seg.Slug, year),
					Source: name,
				})
			}
		}
	}
	return targets, skipped
}

// BuildURL fills a partitioned URL template. Templates may carry {segment} and
// {year} placeholders; otherwise the segment is appended as a path element and the
// year as a query parameter.
func BuildURL(template, segment string, year int) string {
	y := strconv.Itoa(year)
	if strings.Contains(template, "{segment}") || strings.Contains(template, "{year}") {
		return strings.NewReplacer("{segment}", segment, "{year}", y).Replace(template)
	}
	return strings.TrimRight(template, "/") + "/" + segment + "/?year=" + y
}
