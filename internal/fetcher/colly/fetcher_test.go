package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	var gotAgent, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent, gotTrace = r.UserAgent(), r.Header.Get("X-Trace")
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, "<table><tr><th>Company</th></tr></table>")
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "ipo-tracker-test", Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), tracker.FetchRequest{
		URL:     srv.URL + "/ipo",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "Company")
	require.Equal(t, "text/html", resp.Headers.Get("Content-Type"))
	require.False(t, resp.UsedHeadless)
	require.Equal(t, "ipo-tracker-test", gotAgent)
	require.Equal(t, "yes", gotTrace)
}

func TestFetchStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Config{}).Fetch(context.Background(), tracker.FetchRequest{URL: srv.URL})
	var fetchErr *tracker.FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, tracker.FailureStatus, fetchErr.Kind)
	require.Equal(t, http.StatusServiceUnavailable, fetchErr.StatusCode)
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(Config{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), tracker.FetchRequest{URL: srv.URL})
	var fetchErr *tracker.FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, tracker.FailureTimeout, fetchErr.Kind)
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Fetch(ctx, tracker.FetchRequest{URL: "http://127.0.0.1:1"})
	var fetchErr *tracker.FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Contains(t, []tracker.FailureKind{tracker.FailureCanceled, tracker.FailureTransport}, fetchErr.Kind)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := tracker.FetchRequest{URL: "https://example.test", Headers: http.Header{"X-Trace": {"yes"}}}
	var (
		result   tracker.FetchResponse
		fetchErr error
	)
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.test")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
