package queue

import (
	"sync"
	"time"

	"github.com/bellmanlabs/bellman/internal/model"
)

// Memory is the process-lifetime CommandQueue.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]model.QueuedCommand
	order   []string
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]model.QueuedCommand),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (q *Memory) Enqueue(cmd model.Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.entries[cmd.ExecutionID]; !exists {
		q.order = append(q.order, cmd.ExecutionID)
	}
	q.entries[cmd.ExecutionID] = model.QueuedCommand{
		Command:    cmd,
		EnqueuedAt: q.now(),
		Attempts:   0,
		Status:     model.StatusPending,
	}
	return nil
}

func (q *Memory) ListPending() ([]model.QueuedCommand, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []model.QueuedCommand
	for _, id := range q.order {
		entry := q.entries[id]
		if entry.Status == model.StatusPending {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (q *Memory) Get(executionID string) (model.QueuedCommand, bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	entry, ok := q.entries[executionID]
	return entry, ok, nil
}

func (q *Memory) MarkAttempted(executionID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.entries[executionID]
	if !ok {
		return nil
	}
	now := q.now()
	entry.Attempts++
	entry.LastAttemptAt = &now
	entry.LastError = errPtr(reason)
	q.entries[executionID] = entry
	return nil
}

func (q *Memory) MarkDelivered(executionID string) error {
	return q.setStatus(executionID, model.StatusDelivered, "")
}

func (q *Memory) MarkDLQ(executionID, reason string) error {
	return q.setStatus(executionID, model.StatusDLQ, reason)
}

func (q *Memory) setStatus(executionID string, status model.DeliveryStatus, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.entries[executionID]
	if !ok {
		return nil
	}
	entry.Status = status
	if reason != "" {
		entry.LastError = errPtr(reason)
	}
	q.entries[executionID] = entry
	return nil
}
