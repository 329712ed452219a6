package seed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/storage/memory"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/upsert"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

const historical = `[
  // trailing commas and comments are tolerated
  {"ipo_name": "Acme Labs", "issue_size": "₹1,200.50 Cr", "issue_price": "₹95 to ₹100", "listing_gain": 34.5, "gmp": 40},
  {"ipo_name": "Beta Corp", "price_high": 55, "listing_gain": "-2.1%", "best_category": "Retail", "listing_date": "Mar 4, 2026"},
  {"ipo_name": "Gamma Ltd", "listing_gain": "12"},
  {"ipo_name": "Delta Foods", "status": "Open"},
  {"issue_size": "100"},
]`

func writeSeed(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// TestDecode normalizes entries and derives the best category.
func TestDecode(t *testing.T) {
	t.Parallel()

	records, err := Decode([]byte(historical))
	require.NoError(t, err)
	require.Len(t, records, 4)

	acme := records[0]
	require.Equal(t, "Acme Labs", acme.Name)
	require.True(t, acme.IssueSize.Equal(decimal.RequireFromString("1200.50")))
	require.True(t, acme.PriceHigh.Equal(decimal.NewFromInt(100)))
	require.True(t, acme.GreyMarketPremium.Equal(decimal.NewFromInt(40)))
	require.Equal(t, "QIB", acme.BestCategory)
	require.Equal(t, tracker.StatusListed, acme.Status)

	beta := records[1]
	require.True(t, beta.PriceHigh.Equal(decimal.NewFromInt(55)))
	require.True(t, beta.ListingGain.Equal(decimal.RequireFromString("-2.1")))
	require.Equal(t, "Retail", beta.BestCategory)
	require.NotNil(t, beta.ListingDate)

	require.Equal(t, "HNI", records[2].BestCategory)
	require.Empty(t, records[3].BestCategory)
	require.Equal(t, tracker.StatusUpcoming, records[3].Status)
}

// TestDecodeRejectsNonArray reports malformed files.
func TestDecodeRejectsNonArray(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`{"ipo_name": "x"}`))
	require.Error(t, err)
}

// TestBestCategory checks the threshold edges.
func TestBestCategory(t *testing.T) {
	t.Parallel()

	require.Equal(t, "QIB", BestCategory(decimal.RequireFromString("20.01")))
	require.Equal(t, "HNI", BestCategory(decimal.NewFromInt(20)))
	require.Equal(t, "HNI", BestCategory(decimal.RequireFromString("5.5")))
	require.Equal(t, "Retail", BestCategory(decimal.NewFromInt(5)))
	require.Equal(t, "Retail", BestCategory(decimal.Zero))
}

// TestImportFiles applies each file and skips missing ones.
func TestImportFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := memory.NewListingStore()
	engine := upsert.New(store, fixedClock{now: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}, zap.NewNop())
	imp := NewImporter(engine, zap.NewNop())

	first := writeSeed(t, dir, "historical_data.json", historical)
	second := writeSeed(t, dir, "cached_data.json", `[{"ipo_name": "acme labs", "gmp": "45"}]`)

	results, err := imp.ImportFiles(context.Background(), []string{first, filepath.Join(dir, "missing.json"), second})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, 4, results[0].Result.Inserted)
	require.True(t, results[1].Missing)
	require.Equal(t, 1, results[2].Result.Updated)

	all, err := store.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 4)
	for _, l := range all {
		if l.Name == "Acme Labs" {
			require.True(t, l.GreyMarketPremium.Equal(decimal.NewFromInt(45)))
			require.Equal(t, "QIB", l.BestCategory)
		}
	}
}

type failingApplier struct{}

func (failingApplier) Apply(context.Context, []tracker.Record) (upsert.Result, error) {
	return upsert.Result{}, errors.New("tx aborted")
}

// TestImportFileErrors stops on decode and store errors.
func TestImportFileErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	imp := NewImporter(failingApplier{}, nil)

	_, err := imp.ImportFile(context.Background(), writeSeed(t, dir, "bad.json", "not json"))
	require.ErrorContains(t, err, "decode seed")

	_, err = imp.ImportFile(context.Background(), writeSeed(t, dir, "ok.json", historical))
	require.ErrorContains(t, err, "apply seed")

	res, err := imp.ImportFile(context.Background(), writeSeed(t, dir, "empty.json", "[]"))
	require.NoError(t, err)
	require.Zero(t, res.Records)
}
