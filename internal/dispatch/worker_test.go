package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bellmanlabs/bellman/internal/model"
	"github.com/bellmanlabs/bellman/internal/queue"
	"github.com/bellmanlabs/bellman/internal/stream"
)

func succeedingDispatcher(payload map[string]any) Dispatcher {
	return DispatcherFunc(func(_ context.Context, cmd model.Command) (model.ResultEvent, error) {
		return model.ResultEvent{
			EventID:       model.NewID(model.IDTypeEvent),
			EventType:     model.EventCommandSucceeded,
			ExecutionID:   cmd.ExecutionID,
			TenantID:      cmd.TenantID,
			CorrelationID: cmd.CorrelationID,
			EmittedAt:     time.Now().UTC(),
			Status:        model.ResultSucceeded,
			Payload:       payload,
		}, nil
	})
}

func failingDispatcher(msg string) Dispatcher {
	return DispatcherFunc(func(context.Context, model.Command) (model.ResultEvent, error) {
		return model.ResultEvent{}, errors.New(msg)
	})
}

func newTestWorker(d Dispatcher, maxAttempts int) (*Worker, queue.CommandQueue, *stream.Stream) {
	q := queue.NewMemory()
	s := stream.New()
	w := NewWorker(q, s, d, maxAttempts, nil, model.LogLevelError)
	return w, q, s
}

func eventsOfType(s *stream.Stream, eventType string) []model.EventEnvelope {
	var out []model.EventEnvelope
	for _, env := range s.List(stream.ListOptions{Limit: 1000}) {
		if env.EventType == eventType {
			out = append(out, env)
		}
	}
	return out
}

func TestTickDeliversPendingCommand(t *testing.T) {
	w, q, s := newTestWorker(succeedingDispatcher(map[string]any{"ok": true}), 3)

	cmd := model.NewCommand("tenant_a", "corr_1", model.CommandConfirmAppointment, "v1", nil)
	if err := q.Enqueue(cmd); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	w.Tick(context.Background())

	entry, ok, _ := q.Get(cmd.ExecutionID)
	if !ok {
		t.Fatal("entry disappeared from queue")
	}
	if entry.Status != model.StatusDelivered {
		t.Errorf("status = %q, want delivered", entry.Status)
	}
	if entry.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", entry.Attempts)
	}
	if got := eventsOfType(s, model.EventCommandSucceeded); len(got) != 1 {
		t.Errorf("succeeded events = %d, want 1", len(got))
	}
	if got := eventsOfType(s, model.EventMessageSent); len(got) != 0 {
		t.Errorf("message_sent events for non-SMS command = %d, want 0", len(got))
	}
}

func TestSMSSuccessEmitsMessageSent(t *testing.T) {
	payload := map[string]any{
		"openclawOutput": map[string]any{"messageId": "msg_123"},
	}
	w, q, s := newTestWorker(succeedingDispatcher(payload), 3)

	cmd := model.NewCommand("tenant_a", "corr_1", model.CommandSendSMS, "v1", nil)
	q.Enqueue(cmd)
	w.Tick(context.Background())

	sent := eventsOfType(s, model.EventMessageSent)
	if len(sent) != 1 {
		t.Fatalf("message_sent events = %d, want 1", len(sent))
	}
	if got := sent[0].Payload["messageId"]; got != "msg_123" {
		t.Errorf("messageId = %v, want msg_123", got)
	}
	if len(eventsOfType(s, model.EventCommandSucceeded)) != 1 {
		t.Error("expected the verbatim succeeded event alongside message_sent")
	}
}

func TestSMSMessageIDFallsBackToExecutionID(t *testing.T) {
	w, q, s := newTestWorker(succeedingDispatcher(map[string]any{}), 3)

	cmd := model.NewCommand("tenant_a", "", model.CommandSendSMS, "v1", nil)
	q.Enqueue(cmd)
	w.Tick(context.Background())

	sent := eventsOfType(s, model.EventMessageSent)
	if len(sent) != 1 {
		t.Fatalf("message_sent events = %d, want 1", len(sent))
	}
	if got := sent[0].Payload["messageId"]; got != cmd.ExecutionID {
		t.Errorf("messageId = %v, want execution id %s", got, cmd.ExecutionID)
	}
}

func TestFailureRetriesThenDeadLetters(t *testing.T) {
	w, q, s := newTestWorker(failingDispatcher("executor down"), 2)

	cmd := model.NewCommand("tenant_a", "corr_1", model.CommandSendSMS, "v1", nil)
	q.Enqueue(cmd)

	// Tick 1: still pending, attempts=1, no dlq event yet.
	w.Tick(context.Background())
	entry, _, _ := q.Get(cmd.ExecutionID)
	if entry.Status != model.StatusPending {
		t.Errorf("status after tick 1 = %q, want pending", entry.Status)
	}
	if entry.Attempts != 1 {
		t.Errorf("attempts after tick 1 = %d, want 1", entry.Attempts)
	}
	if got := eventsOfType(s, model.EventCommandDLQ); len(got) != 0 {
		t.Fatalf("dlq events after tick 1 = %d, want 0", len(got))
	}

	// Tick 2: exhausted, moved to dlq, exactly one dlq event.
	w.Tick(context.Background())
	entry, _, _ = q.Get(cmd.ExecutionID)
	if entry.Status != model.StatusDLQ {
		t.Errorf("status after tick 2 = %q, want dlq", entry.Status)
	}
	if entry.Attempts != 2 {
		t.Errorf("attempts after tick 2 = %d, want 2", entry.Attempts)
	}
	dlq := eventsOfType(s, model.EventCommandDLQ)
	if len(dlq) != 1 {
		t.Fatalf("dlq events after tick 2 = %d, want 1", len(dlq))
	}
	payload := dlq[0].Payload
	if payload["attempts"] != 2 {
		t.Errorf("dlq attempts = %v, want 2", payload["attempts"])
	}
	if payload["executionId"] != cmd.ExecutionID {
		t.Errorf("dlq executionId = %v, want %s", payload["executionId"], cmd.ExecutionID)
	}
	if payload["reason"] != "executor down" {
		t.Errorf("dlq reason = %v, want \"executor down\"", payload["reason"])
	}

	// Tick 3: nothing pending, no duplicate dlq event.
	w.Tick(context.Background())
	if got := eventsOfType(s, model.EventCommandDLQ); len(got) != 1 {
		t.Errorf("dlq events after tick 3 = %d, want 1", len(got))
	}
}

func TestExecutorFailedResultIsDeliveredVerbatim(t *testing.T) {
	d := DispatcherFunc(func(_ context.Context, cmd model.Command) (model.ResultEvent, error) {
		return model.ResultEvent{
			EventType:   model.EventCommandFailed,
			ExecutionID: cmd.ExecutionID,
			Status:      model.ResultFailed,
			Payload:     map[string]any{"error": "number unreachable"},
		}, nil
	})
	w, q, s := newTestWorker(d, 3)

	cmd := model.NewCommand("tenant_a", "", model.CommandSendSMS, "v1", nil)
	q.Enqueue(cmd)
	w.Tick(context.Background())

	// The executor answered, so the command was delivered; the reported
	// failure lives in the stream, not in the retry path.
	entry, _, _ := q.Get(cmd.ExecutionID)
	if entry.Status != model.StatusDelivered {
		t.Errorf("status = %q, want delivered", entry.Status)
	}
	if entry.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", entry.Attempts)
	}

	failed := eventsOfType(s, model.EventCommandFailed)
	if len(failed) != 1 {
		t.Fatalf("executor.command.failed events = %d, want 1", len(failed))
	}
	if failed[0].Payload["error"] != "number unreachable" {
		t.Errorf("result payload not appended verbatim: %v", failed[0].Payload)
	}
	if got := eventsOfType(s, model.EventMessageSent); len(got) != 0 {
		t.Errorf("message_sent events = %d, want 0 for a failed send", len(got))
	}

	// Nothing left for the next tick.
	w.Tick(context.Background())
	if got := eventsOfType(s, model.EventCommandFailed); len(got) != 1 {
		t.Errorf("failed events after tick 2 = %d, want 1", len(got))
	}
}

func TestOneCommandPanicDoesNotAbortTick(t *testing.T) {
	var mu sync.Mutex
	dispatched := make(map[string]bool)
	d := DispatcherFunc(func(_ context.Context, cmd model.Command) (model.ResultEvent, error) {
		mu.Lock()
		dispatched[cmd.ExecutionID] = true
		mu.Unlock()
		if cmd.Payload["explode"] == true {
			panic("dispatcher bug")
		}
		return model.ResultEvent{
			EventType:   model.EventCommandSucceeded,
			ExecutionID: cmd.ExecutionID,
			Status:      model.ResultSucceeded,
		}, nil
	})
	w, q, _ := newTestWorker(d, 3)

	bad := model.NewCommand("tenant_a", "", model.CommandSendSMS, "v1", map[string]any{"explode": true})
	good := model.NewCommand("tenant_a", "", model.CommandSendSMS, "v1", nil)
	q.Enqueue(bad)
	q.Enqueue(good)

	w.Tick(context.Background())

	if !dispatched[good.ExecutionID] {
		t.Error("panicking command aborted the rest of the tick")
	}
	entry, _, _ := q.Get(good.ExecutionID)
	if entry.Status != model.StatusDelivered {
		t.Errorf("good command status = %q, want delivered", entry.Status)
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	d := DispatcherFunc(func(_ context.Context, cmd model.Command) (model.ResultEvent, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return model.ResultEvent{Status: model.ResultSucceeded, EventType: model.EventCommandSucceeded}, nil
	})
	w, q, _ := newTestWorker(d, 3)
	q.Enqueue(model.NewCommand("tenant_a", "", model.CommandSendSMS, "v1", nil))

	done := make(chan struct{})
	go func() {
		w.Tick(context.Background())
		close(done)
	}()
	<-started

	// A tick fired while the first is blocked inside the dispatcher must be
	// dropped, not queued.
	w.Tick(context.Background())
	mu.Lock()
	if calls != 1 {
		t.Errorf("overlapping tick dispatched: calls = %d, want 1", calls)
	}
	mu.Unlock()

	close(release)
	<-done
}

func TestStartStopIdempotent(t *testing.T) {
	w, _, _ := newTestWorker(succeedingDispatcher(nil), 3)
	w.Start(time.Hour)
	w.Start(time.Hour)
	w.Stop()
	w.Stop()
}

func TestAttemptCountedBeforeOutcome(t *testing.T) {
	w, q, _ := newTestWorker(nil, 3)
	var observed int
	w.dispatcher = DispatcherFunc(func(_ context.Context, cmd model.Command) (model.ResultEvent, error) {
		entry, _, _ := q.Get(cmd.ExecutionID)
		observed = entry.Attempts
		return model.ResultEvent{}, fmt.Errorf("reject")
	})

	cmd := model.NewCommand("tenant_a", "", model.CommandSendSMS, "v1", nil)
	q.Enqueue(cmd)
	w.Tick(context.Background())

	if observed != 1 {
		t.Errorf("attempts visible during dispatch = %d, want 1", observed)
	}
}
