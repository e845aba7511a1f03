package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bellmanlabs/bellman/internal/fileio"
	"github.com/bellmanlabs/bellman/internal/model"
)

// File is the durable CommandQueue. The snapshot is a JSON object mapping
// executionId to its QueuedCommand; it is loaded on construction and the full
// snapshot is written via temp-file-then-atomic-rename on every mutation, so
// a crash mid-write never corrupts the previous state.
type File struct {
	mu      sync.RWMutex
	path    string
	entries map[string]model.QueuedCommand
	order   []string
	now     func() time.Time
}

// NewFile loads the snapshot at path. A corrupt snapshot is quarantined and
// the queue starts empty.
func NewFile(path string) (*File, error) {
	q := &File{
		path:    path,
		entries: make(map[string]model.QueuedCommand),
		now:     func() time.Time { return time.Now().UTC() },
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return q, nil
		}
		return nil, fmt.Errorf("read queue snapshot: %w", err)
	}

	var entries map[string]model.QueuedCommand
	if err := json.Unmarshal(data, &entries); err != nil {
		if _, qErr := fileio.Quarantine(filepath.Dir(path), path); qErr != nil {
			return nil, fmt.Errorf("quarantine corrupt queue snapshot: %w", qErr)
		}
		return q, nil
	}

	q.entries = entries
	q.order = rebuildOrder(entries)
	return q, nil
}

// rebuildOrder recovers enqueue order from the snapshot. EnqueuedAt carries
// nanosecond precision; equal timestamps fall back to executionId for a
// deterministic tiebreak.
func rebuildOrder(entries map[string]model.QueuedCommand) []string {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := entries[ids[i]], entries[ids[j]]
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (q *File) flushLocked() error {
	return fileio.AtomicWriteJSON(q.path, q.entries)
}

func (q *File) Enqueue(cmd model.Command) error {
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
	return q.flushLocked()
}

func (q *File) ListPending() ([]model.QueuedCommand, error) {
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

func (q *File) Get(executionID string) (model.QueuedCommand, bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	entry, ok := q.entries[executionID]
	return entry, ok, nil
}

func (q *File) MarkAttempted(executionID, reason string) error {
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
	return q.flushLocked()
}

func (q *File) MarkDelivered(executionID string) error {
	return q.setStatus(executionID, model.StatusDelivered, "")
}

func (q *File) MarkDLQ(executionID, reason string) error {
	return q.setStatus(executionID, model.StatusDLQ, reason)
}

func (q *File) setStatus(executionID string, status model.DeliveryStatus, reason string) error {
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
	return q.flushLocked()
}
