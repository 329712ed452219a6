// Package collyfetcher implements a static (no JavaScript) page fetcher using
// gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements tracker.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	// Status handling happens in Fetch so every response reaches OnResponse.
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET. Non-2xx responses and transport failures are
// returned as *tracker.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request tracker.FetchRequest) (tracker.FetchResponse, error) {
	var (
		result   tracker.FetchResponse
		fetchErr error
	)
	collector := f.buildCollector(ctx, request, time.Now(), &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return tracker.FetchResponse{}, tracker.NewFetchError(request.URL, tracker.FailureCanceled, ctx.Err())
	case err := <-done:
		if fetchErr == nil {
			fetchErr = err
		}
	}
	if fetchErr != nil {
		return tracker.FetchResponse{}, tracker.NewFetchError(request.URL, tracker.FailureTransport, fetchErr)
	}
	if result.StatusCode < http.StatusOK || result.StatusCode >= http.StatusMultipleChoices {
		return tracker.FetchResponse{}, tracker.StatusError(request.URL, result.StatusCode)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request tracker.FetchRequest,
	start time.Time,
	result *tracker.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request tracker.FetchRequest,
	start time.Time,
	result *tracker.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = tracker.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown collector error")
		}
		*fetchErr = err
	})
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
