// Package memory contains an in-process publisher used by tests and
// runs without a message broker configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/fscwatch/harvester/internal/harvest"
)

// Publisher stores published run events for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message

	// FailNext, when set, fails the next Publish with this error.
	FailNext error
}

// Message captures one publish call.
type Message struct {
	Topic   string
	Payload any
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailNext != nil {
		err := p.FailNext
		p.FailNext = nil
		return "", err
	}
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

var _ harvest.Publisher = (*Publisher)(nil)
