// Package memory contains an in-memory publisher used when no Pub/Sub topic is
// configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	limit    int
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher. A positive limit keeps only the most recent
// limit messages.
func New(limit int) *Publisher {
	return &Publisher{limit: limit}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	id := fmt.Sprintf("memory-%d", len(p.messages))
	if p.limit > 0 && len(p.messages) > p.limit {
		p.messages = append([]PublishedMessage(nil), p.messages[len(p.messages)-p.limit:]...)
	}
	return id, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
