package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	onCall func(n int)
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	n := len(s.delays)
	s.mu.Unlock()
	if s.onCall != nil {
		s.onCall(n)
	}
	return ctx.Err()
}

type fakeIDs struct{ n int }

func (g *fakeIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("cycle-%d", g.n), nil
}

type fakeFetcher struct {
	pages  map[string]string
	errs   map[string]error
	panics map[string]bool
	calls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req tracker.FetchRequest) (tracker.FetchResponse, error) {
	f.calls = append(f.calls, req.URL)
	if f.panics[req.URL] {
		panic("renderer crashed")
	}
	if err, ok := f.errs[req.URL]; ok {
		return tracker.FetchResponse{}, err
	}
	body, ok := f.pages[req.URL]
	if !ok {
		return tracker.FetchResponse{}, tracker.StatusError(req.URL, 404)
	}
	return tracker.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

type fakePublisher struct {
	fail     bool
	messages []tracker.ChangeEvent
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	if p.fail {
		return "", errors.New("pubsub unavailable")
	}
	p.messages = append(p.messages, payload.(tracker.ChangeEvent))
	return "id", nil
}
