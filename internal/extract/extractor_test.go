package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

type stubStrategy struct {
	name    string
	records []tracker.ExtractedRecord
	err     error
	panics  bool
	calls   int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) TryExtract(tracker.Page) ([]tracker.ExtractedRecord, error) {
	s.calls++
	if s.panics {
		panic("boom")
	}
	return s.records, s.err
}

// TestExtractorFallsThroughEmptyAndFailing verifies the first non-empty result wins.
func TestExtractorFallsThroughEmptyAndFailing(t *testing.T) {
	t.Parallel()

	failing := &stubStrategy{name: "failing", err: errors.New("bad json")}
	empty := &stubStrategy{name: "empty"}
	winner := &stubStrategy{name: "winner", records: []tracker.ExtractedRecord{{Name: "Acme"}}}
	never := &stubStrategy{name: "never", records: []tracker.ExtractedRecord{{Name: "Other"}}}

	ex := New(zap.NewNop(), failing, empty, winner, never)
	records, strategy := ex.Extract(tracker.Page{Label: "Main - All 2026"})

	require.Equal(t, "winner", strategy)
	require.Len(t, records, 1)
	require.Equal(t, "Acme", records[0].Name)
	require.Equal(t, "Main - All 2026", records[0].Source)
	require.Equal(t, 0, never.calls)
}

// TestExtractorRecoversPanics treats a panicking strategy like a failing one.
func TestExtractorRecoversPanics(t *testing.T) {
	t.Parallel()

	ex := New(nil,
		&stubStrategy{name: "panics", panics: true},
		&stubStrategy{name: "ok", records: []tracker.ExtractedRecord{{Name: "Acme"}}},
	)
	records, strategy := ex.Extract(tracker.Page{})
	require.Equal(t, "ok", strategy)
	require.Len(t, records, 1)
}

// TestExtractorNothingMatched returns empty results without error.
func TestExtractorNothingMatched(t *testing.T) {
	t.Parallel()

	records, strategy := Default(zap.NewNop()).Extract(tracker.Page{Body: []byte("<html><body><p>maintenance</p></body></html>")})
	require.Empty(t, records)
	require.Empty(t, strategy)
}

// TestDefaultFallsBackToTable covers a page whose embedded data is absent; columns
// the table lacks stay empty.
func TestDefaultFallsBackToTable(t *testing.T) {
	t.Parallel()

	body := `<html><body><table>
<tr><th>Company Name</th><th>Issue Price</th></tr>
<tr><td>Acme</td><td>100</td></tr>
</table></body></html>`

	records, strategy := Default(zap.NewNop()).Extract(tracker.Page{Label: "List", Body: []byte(body)})
	require.Equal(t, TableName, strategy)
	require.Equal(t, []tracker.ExtractedRecord{{Source: "List", Name: "Acme", PriceHigh: "100"}}, records)
}
