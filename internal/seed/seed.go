// Package seed imports historical listings from JSON files into the store at
// startup.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/titanous/json5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/normalize"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/upsert"
)

// Best-category thresholds on listing gain, in percent.
var (
	qibGainThreshold = decimal.NewFromInt(20)
	hniGainThreshold = decimal.NewFromInt(5)
)

// Applier writes a batch of normalized records in one transaction.
type Applier interface {
	Apply(ctx context.Context, records []tracker.Record) (upsert.Result, error)
}

// FileResult summarizes one imported file.
type FileResult struct {
	Path    string
	Records int
	Result  upsert.Result
	Missing bool
}

// Importer loads seed files through the upsert engine.
type Importer struct {
	applier Applier
	logger  *zap.Logger
}

// NewImporter constructs an Importer.
func NewImporter(applier Applier, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{applier: applier, logger: logger.Named("seed")}
}

// ImportFiles imports each path in order. Missing files are logged and skipped;
// the first decode or store error stops the import.
func (i *Importer) ImportFiles(ctx context.Context, paths []string) ([]FileResult, error) {
	results := make([]FileResult, 0, len(paths))
	for _, path := range paths {
		res, err := i.ImportFile(ctx, path)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ImportFile applies every named entry of one file as a single batch.
func (i *Importer) ImportFile(ctx context.Context, path string) (FileResult, error) {
	out := FileResult{Path: path}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			i.logger.Warn("seed file not found", zap.String("path", path))
			out.Missing = true
			return out, nil
		}
		return out, fmt.Errorf("read seed %s: %w", path, err)
	}

	records, err := Decode(data)
	if err != nil {
		return out, fmt.Errorf("decode seed %s: %w", path, err)
	}
	out.Records = len(records)
	if len(records) == 0 {
		i.logger.Info("seed file empty", zap.String("path", path))
		return out, nil
	}

	res, err := i.applier.Apply(ctx, records)
	if err != nil {
		return out, fmt.Errorf("apply seed %s: %w", path, err)
	}
	out.Result = res
	i.logger.Info("seed file imported",
		zap.String("path", path),
		zap.Int("records", len(records)),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("unchanged", res.Unchanged))
	return out, nil
}

// Decode parses a JSON array of seed entries into normalized records. Entries
// without ipo_name are dropped. A missing best_category is derived from a
// non-zero listing gain and otherwise left empty so it never overwrites a stored
// value.
func Decode(data []byte) ([]tracker.Record, error) {
	var entries []map[string]any
	if err := json5.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	records := make([]tracker.Record, 0, len(entries))
	for _, entry := range entries {
		price := text(entry["issue_price"])
		if price == "" {
			price = text(entry["price_high"])
		}
		rec := normalize.Record(tracker.ExtractedRecord{
			Source:             "seed",
			Name:               text(entry["ipo_name"]),
			PriceHigh:          price,
			IssueSize:          text(entry["issue_size"]),
			GreyMarketPremium:  text(entry["gmp"]),
			ListingGain:        text(entry["listing_gain"]),
			RetailSubscription: text(entry["retail_sub"]),
			HNISubscription:    text(entry["hni_sub"]),
			QIBSubscription:    text(entry["qib_sub"]),
			BestCategory:       text(entry["best_category"]),
			ListingDate:        text(entry["listing_date"]),
			StatusText:         text(entry["status"]),
		})
		if rec.Name == "" {
			continue
		}
		if rec.BestCategory == "" && !rec.ListingGain.IsZero() {
			rec.BestCategory = BestCategory(rec.ListingGain)
		}
		records = append(records, rec)
	}
	return records, nil
}

// BestCategory picks the investor category that would have done best given a
// listing gain.
func BestCategory(gain decimal.Decimal) string {
	switch {
	case gain.GreaterThan(qibGainThreshold):
		return "QIB"
	case gain.GreaterThan(hniGainThreshold):
		return "HNI"
	default:
		return "Retail"
	}
}

func text(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}
