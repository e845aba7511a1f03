// Package events provides the in-process bridge between the event stream and
// its consumers (trigger evaluation, daemon bookkeeping).
package events

import (
	"sync"

	"github.com/bellmanlabs/bellman/internal/model"
)

// Subscriber is a function that receives stream envelopes.
type Subscriber func(model.EventEnvelope)

// Wildcard subscribes to every event type.
const Wildcard = "*"

// Bus is a non-blocking publish/subscribe fanout for stream envelopes.
// Delivery is asynchronous via buffered channels; if a subscriber's channel
// is full the envelope is dropped for that subscriber. Consumers that need
// lossless delivery replay from the stream cursor instead.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan model.EventEnvelope
	bufferSize  int
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[string][]chan model.EventEnvelope),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for one event type (or Wildcard). The subscriber is
// invoked on its own goroutine. Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType string, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.EventEnvelope, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for env := range ch {
			func() {
				defer func() {
					// A panicking subscriber must not take the bus down.
					_ = recover()
				}()
				fn(env)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish fans env out to subscribers of its event type and to wildcard
// subscribers. Never blocks.
func (b *Bus) Publish(env model.EventEnvelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[env.EventType] {
		select {
		case ch <- env:
		default:
			// Channel full: drop rather than block the appender.
		}
	}
	for _, ch := range b.subscribers[Wildcard] {
		select {
		case ch <- env:
		default:
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
