// Package dispatch drains the command queue: each tick attempts pending
// commands against the external executor, records outcomes in the event
// stream, and cuts exhausted commands over to dlq status.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bellmanlabs/bellman/internal/model"
	"github.com/bellmanlabs/bellman/internal/queue"
	"github.com/bellmanlabs/bellman/internal/stream"
)

// DefaultMaxAttempts bounds delivery attempts per command.
const DefaultMaxAttempts = 3

// Dispatcher hands a command to the external executor and returns its
// result. Implementations do network I/O and may fail.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd model.Command) (model.ResultEvent, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, cmd model.Command) (model.ResultEvent, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, cmd model.Command) (model.ResultEvent, error) {
	return f(ctx, cmd)
}

// Worker polls the queue on a fixed interval. Delivery is at-least-once: an
// attempt is counted before its outcome is known, so a crash mid-dispatch
// leaves the command pending for the next tick.
type Worker struct {
	queue       queue.CommandQueue
	stream      *stream.Stream
	dispatcher  Dispatcher
	maxAttempts int
	logger      *log.Logger
	logLevel    model.LogLevel

	mu      sync.Mutex
	ticker  *time.Ticker
	done    chan struct{}
	ticking atomic.Bool
}

// NewWorker wires a worker. maxAttempts <= 0 selects the default.
func NewWorker(q queue.CommandQueue, s *stream.Stream, d Dispatcher, maxAttempts int, logger *log.Logger, logLevel model.LogLevel) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = log.New(log.Writer(), "", 0)
	}
	return &Worker{
		queue:       q,
		stream:      s,
		dispatcher:  d,
		maxAttempts: maxAttempts,
		logger:      logger,
		logLevel:    logLevel,
	}
}

// Start installs the recurring tick timer. Calling Start on a running worker
// is a no-op.
func (w *Worker) Start(interval time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ticker != nil {
		return
	}
	w.ticker = time.NewTicker(interval)
	w.done = make(chan struct{})
	go w.run(w.ticker, w.done)
	w.log(model.LogLevelInfo, "started, interval=%s maxAttempts=%d", interval, w.maxAttempts)
}

// Stop cancels the timer. Idempotent; an in-flight tick finishes on its own.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ticker == nil {
		return
	}
	w.ticker.Stop()
	close(w.done)
	w.ticker = nil
	w.done = nil
	w.log(model.LogLevelInfo, "stopped")
}

func (w *Worker) run(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			w.Tick(context.Background())
		}
	}
}

// Tick processes one pass over dispatchable pending commands. Overlapping
// invocations are skipped, not queued: ticks are serialized by an in-progress
// guard because a slow dispatch call can outlive the timer interval.
func (w *Worker) Tick(ctx context.Context) {
	if !w.ticking.CompareAndSwap(false, true) {
		w.log(model.LogLevelDebug, "tick skipped, previous tick still running")
		return
	}
	defer w.ticking.Store(false)

	pending, err := w.queue.ListPending()
	if err != nil {
		w.log(model.LogLevelError, "list pending: %v", err)
		return
	}

	for _, entry := range pending {
		if entry.Attempts >= w.maxAttempts {
			continue
		}
		// One command's failure never aborts the rest of the tick.
		if err := w.dispatchOne(ctx, entry); err != nil {
			w.log(model.LogLevelWarn, "dispatch %s: %v", entry.Command.ExecutionID, err)
		}
	}
}

func (w *Worker) dispatchOne(ctx context.Context, entry model.QueuedCommand) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher panic: %v", r)
		}
	}()

	cmd := entry.Command
	attemptsBefore := entry.Attempts

	// Counted before the outcome is known: a crash from here on leaves the
	// command pending with the attempt on record.
	if err := w.queue.MarkAttempted(cmd.ExecutionID, ""); err != nil {
		return fmt.Errorf("mark attempted: %w", err)
	}

	// Failure means the dispatcher rejected; a resolved result is a
	// delivery whatever status the executor reports inside it.
	result, dispatchErr := w.dispatcher.Dispatch(ctx, cmd)
	if dispatchErr != nil {
		return w.handleFailure(cmd, attemptsBefore, dispatchErr)
	}
	return w.handleResult(cmd, result)
}

func (w *Worker) handleResult(cmd model.Command, result model.ResultEvent) error {
	if err := w.queue.MarkDelivered(cmd.ExecutionID); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}

	eventType := result.EventType
	if eventType == "" {
		if result.Status == model.ResultFailed {
			eventType = model.EventCommandFailed
		} else {
			eventType = model.EventCommandSucceeded
		}
	}
	if _, err := w.stream.Append(eventType, cmd.TenantID, cmd.CorrelationID, result.Payload); err != nil {
		return fmt.Errorf("append result event: %w", err)
	}

	if cmd.CommandType == model.CommandSendSMS && result.Status == model.ResultSucceeded {
		payload := map[string]any{
			"messageId":   messageID(result, cmd.ExecutionID),
			"executionId": cmd.ExecutionID,
		}
		if _, err := w.stream.Append(model.EventMessageSent, cmd.TenantID, cmd.CorrelationID, payload); err != nil {
			return fmt.Errorf("append message_sent event: %w", err)
		}
	}

	w.log(model.LogLevelDebug, "delivered %s (%s)", cmd.ExecutionID, cmd.CommandType)
	return nil
}

func (w *Worker) handleFailure(cmd model.Command, attemptsBefore int, dispatchErr error) error {
	reason := dispatchErr.Error()
	nextAttempts := attemptsBefore + 1
	if nextAttempts < w.maxAttempts {
		// Pending for the next tick; retries are paced by the poll interval,
		// not an in-tick delay.
		w.log(model.LogLevelDebug, "attempt %d/%d failed for %s: %v", nextAttempts, w.maxAttempts, cmd.ExecutionID, dispatchErr)
		return nil
	}

	if err := w.queue.MarkDLQ(cmd.ExecutionID, reason); err != nil {
		return fmt.Errorf("mark dlq: %w", err)
	}
	payload := map[string]any{
		"commandType": string(cmd.CommandType),
		"executionId": cmd.ExecutionID,
		"attempts":    nextAttempts,
		"reason":      reason,
	}
	if _, err := w.stream.Append(model.EventCommandDLQ, cmd.TenantID, cmd.CorrelationID, payload); err != nil {
		return fmt.Errorf("append dlq event: %w", err)
	}
	w.log(model.LogLevelWarn, "dead-lettered %s after %d attempts: %v", cmd.ExecutionID, nextAttempts, dispatchErr)
	return nil
}

// messageID extracts result.payload.openclawOutput.messageId, falling back
// to the execution id.
func messageID(result model.ResultEvent, executionID string) string {
	if output, ok := result.Payload["openclawOutput"].(map[string]any); ok {
		if id, ok := output["messageId"].(string); ok && id != "" {
			return id
		}
	}
	return executionID
}

func (w *Worker) log(level model.LogLevel, format string, args ...any) {
	if level < w.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	w.logger.Printf("%s %s dispatch: %s", time.Now().Format(time.RFC3339), level, msg)
}
