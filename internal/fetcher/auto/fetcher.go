// Package auto fetches pages statically and promotes them to a headless render
// only when the static response cannot be extracted.
package auto

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

// Detector decides whether a static response needs a headless render.
type Detector interface {
	ShouldPromote(resp tracker.FetchResponse) bool
}

// Fetcher tries probe first and falls back to headless.
type Fetcher struct {
	probe    tracker.Fetcher
	headless tracker.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New builds a promoting fetcher.
func New(probe, headless tracker.Fetcher, detector Detector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{probe: probe, headless: headless, detector: detector, logger: logger.Named("auto_fetcher")}
}

// Fetch implements tracker.Fetcher. A probe failure other than cancellation is
// retried headlessly. When a promoted render fails, the usable probe response is
// returned instead.
func (f *Fetcher) Fetch(ctx context.Context, request tracker.FetchRequest) (tracker.FetchResponse, error) {
	resp, err := f.probe.Fetch(ctx, request)
	if err != nil {
		var fetchErr *tracker.FetchError
		if errors.As(err, &fetchErr) && fetchErr.Kind == tracker.FailureCanceled {
			return tracker.FetchResponse{}, err
		}
		f.logger.Debug("probe failed; rendering headlessly", zap.String("url", request.URL), zap.Error(err))
		return f.headless.Fetch(ctx, request)
	}
	if !f.detector.ShouldPromote(resp) {
		return resp, nil
	}

	f.logger.Debug("promoting to headless", zap.String("url", request.URL), zap.Int("probe_bytes", len(resp.Body)))
	rendered, err := f.headless.Fetch(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			return tracker.FetchResponse{}, err
		}
		f.logger.Warn("headless promotion failed; using probe response", zap.String("url", request.URL), zap.Error(err))
		return resp, nil
	}
	return rendered, nil
}
