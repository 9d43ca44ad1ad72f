// Package memory contains an in-memory publisher for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlasgrid/stayharvest/internal/harvest"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
	At      time.Time
}

// Publisher stores published payloads for inspection.
type Publisher struct {
	clock harvest.Clock

	mu       sync.RWMutex
	messages []PublishedMessage
}

// New returns a memory Publisher. clock may be nil, in which case publishes
// are stamped with the wall clock.
func New(clock harvest.Clock) *Publisher {
	return &Publisher{clock: clock}
}

// Publish records the message with a timestamp and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	at := time.Now()
	if p.clock != nil {
		at = p.clock.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload, At: at})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// TopicMessages returns the recorded publishes for one topic, oldest first.
func (p *Publisher) TopicMessages(topic string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []PublishedMessage
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
