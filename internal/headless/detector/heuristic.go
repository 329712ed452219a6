// Package detector decides when a statically fetched page needs a headless
// render before extraction.
package detector

import (
	"bytes"
	"net/http"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

const defaultThreshold = 2048

// Heuristic promotes pages that look client-rendered and carry no extractable
// data in their static HTML.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a detector. A zero threshold selects the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var (
	dataMarkers = [][]byte{
		[]byte(`id="__next_data__"`),
		[]byte("<table"),
	}
	spaMarkers = [][]byte{
		[]byte(`id="__next"`),
		[]byte(`id="root"`),
		[]byte(`id="app"`),
		[]byte("data-reactroot"),
	}
)

// ShouldPromote reports whether resp should be re-fetched headlessly.
func (h *Heuristic) ShouldPromote(resp tracker.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if len(resp.Body) == 0 {
		return true
	}
	lower := bytes.ToLower(resp.Body)
	for _, marker := range dataMarkers {
		if bytes.Contains(lower, marker) {
			return false
		}
	}
	if len(lower) < h.BodyLengthThreshold && scriptShare(lower) >= 25 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body bytes inside <script> elements. An
// unterminated script runs to the end of the body.
func scriptShare(lower []byte) int {
	if len(lower) == 0 {
		return 0
	}
	openTag, closeTag := []byte("<script"), []byte("</script>")
	covered := 0
	for rest := lower; ; {
		start := bytes.Index(rest, openTag)
		if start < 0 {
			break
		}
		end := bytes.Index(rest[start:], closeTag)
		if end < 0 {
			covered += len(rest) - start
			break
		}
		end += start + len(closeTag)
		covered += end - start
		rest = rest[end:]
	}
	return covered * 100 / len(lower)
}
