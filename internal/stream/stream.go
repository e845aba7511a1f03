// Package stream implements the append-only event log with monotonic replay
// cursors and per-tenant subscriptions.
package stream

import (
	"strconv"
	"sync"
	"time"

	"github.com/bellmanlabs/bellman/internal/events"
	"github.com/bellmanlabs/bellman/internal/model"
)

// DefaultListLimit caps List results when no limit is given.
const DefaultListLimit = 100

// ListOptions filters a List call. After is the exclusive replay cursor to
// resume from (0 = from the beginning).
type ListOptions struct {
	TenantID string
	After    int64
	Limit    int
}

// Stream is the single serialization point for envelope appends: one mutex
// shared by all appenders keeps cursors strictly increasing with no gaps.
type Stream struct {
	mu            sync.RWMutex
	envelopes     []model.EventEnvelope
	subscriptions map[string]*model.Subscription

	journal *Journal
	bus     *events.Bus

	now func() time.Time
}

func New() *Stream {
	return &Stream{
		subscriptions: make(map[string]*model.Subscription),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetJournal mirrors every appended envelope to an append-only JSONL journal.
func (s *Stream) SetJournal(j *Journal) {
	s.journal = j
}

// SetEventBus publishes every appended envelope on the in-process bus.
func (s *Stream) SetEventBus(bus *events.Bus) {
	s.bus = bus
}

// Append assigns the next replay cursor (1-based, stringified) and stores the
// envelope. Envelopes are immutable once appended.
func (s *Stream) Append(eventType, tenantID, correlationID string, payload map[string]any) (model.EventEnvelope, error) {
	s.mu.Lock()
	env := model.EventEnvelope{
		EventID:       model.NewID(model.IDTypeEvent),
		EventType:     eventType,
		TenantID:      tenantID,
		CorrelationID: correlationID,
		EmittedAt:     s.now(),
		ReplayCursor:  strconv.Itoa(len(s.envelopes) + 1),
		Payload:       payload,
	}
	s.envelopes = append(s.envelopes, env)
	journal := s.journal
	bus := s.bus
	s.mu.Unlock()

	// Journal and bus failures never affect the append: the in-memory log is
	// the source of truth, the journal is an audit mirror.
	if journal != nil {
		_ = journal.Write(env)
	}
	if bus != nil {
		bus.Publish(env)
	}
	return env, nil
}

// List returns envelopes with cursor > opts.After, filtered by tenant when
// given, in append order, truncated to the limit.
func (s *Stream) List(opts ListOptions) []model.EventEnvelope {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.EventEnvelope
	start := opts.After
	if start < 0 {
		start = 0
	}
	for i := start; i < int64(len(s.envelopes)); i++ {
		env := s.envelopes[i]
		if opts.TenantID != "" && env.TenantID != opts.TenantID {
			continue
		}
		out = append(out, env)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Len returns the number of appended envelopes.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.envelopes)
}

// CreateSubscription registers a new subscription at cursor "0".
func (s *Stream) CreateSubscription(tenantID, callbackURL string) model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := model.Subscription{
		ID:          model.NewID(model.IDTypeSubscription),
		TenantID:    tenantID,
		Cursor:      "0",
		CallbackURL: callbackURL,
	}
	s.subscriptions[sub.ID] = &sub
	return sub
}

// GetSubscription looks up a subscription by id.
func (s *Stream) GetSubscription(id string) (model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return model.Subscription{}, &model.NotFoundError{Kind: "subscription", ID: id}
	}
	return *sub, nil
}

// ReplaySubscription lists events after the given cursor (or the stored
// cursor when after is nil), then advances the stored cursor to the last
// returned envelope. An empty result leaves the cursor untouched; the cursor
// only ever moves forward.
func (s *Stream) ReplaySubscription(id string, after *int64) ([]model.EventEnvelope, error) {
	s.mu.RLock()
	sub, ok := s.subscriptions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &model.NotFoundError{Kind: "subscription", ID: id}
	}

	from := parseCursor(sub.Cursor)
	if after != nil {
		from = *after
	}

	out := s.List(ListOptions{TenantID: sub.TenantID, After: from})
	if len(out) == 0 {
		return out, nil
	}

	last := parseCursor(out[len(out)-1].ReplayCursor)
	s.mu.Lock()
	if current, ok := s.subscriptions[id]; ok && last > parseCursor(current.Cursor) {
		current.Cursor = strconv.FormatInt(last, 10)
	}
	s.mu.Unlock()
	return out, nil
}

func parseCursor(cursor string) int64 {
	n, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
