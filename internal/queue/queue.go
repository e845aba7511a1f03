// Package queue implements the outbound command queue: a durable map of
// commands and their delivery status, mutated only by the dispatch worker.
//
// All mutation methods are idempotent-tolerant: operating on an unknown
// executionId is a silent no-op, never an error, because callers may
// legitimately replay at-least-once.
package queue

import (
	"github.com/bellmanlabs/bellman/internal/model"
)

// CommandQueue is the contract shared by the in-memory and file-backed
// implementations.
type CommandQueue interface {
	// Enqueue inserts or overwrites the entry for cmd.ExecutionID with a
	// fresh pending entry (attempts reset to 0).
	Enqueue(cmd model.Command) error

	// ListPending returns pending entries in enqueue order. Insertion order
	// is load-bearing: the dispatch worker relies on it for FIFO-like
	// processing.
	ListPending() ([]model.QueuedCommand, error)

	// Get looks up a single entry.
	Get(executionID string) (model.QueuedCommand, bool, error)

	// MarkAttempted counts one delivery attempt. reason becomes LastError,
	// or clears it when empty.
	MarkAttempted(executionID, reason string) error

	// MarkDelivered sets the terminal delivered status.
	MarkDelivered(executionID string) error

	// MarkDLQ sets the terminal dlq status with the final failure reason.
	MarkDLQ(executionID, reason string) error
}

func errPtr(reason string) *string {
	if reason == "" {
		return nil
	}
	return &reason
}
