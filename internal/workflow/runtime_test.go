package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/bellmanlabs/bellman/internal/model"
	"github.com/bellmanlabs/bellman/internal/store"
)

func newTestRuntime() *Runtime {
	return NewRuntime(store.NewMemory[model.WorkflowInstance]())
}

func TestCreateStartsPending(t *testing.T) {
	r := newTestRuntime()
	inst, err := r.Create(context.Background(), "reminder_sequence", "appt_1", 3)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if inst.CurrentState != model.WorkflowPending {
		t.Errorf("state = %q, want PENDING", inst.CurrentState)
	}
	if inst.RetryCount != 0 {
		t.Errorf("retryCount = %d, want 0", inst.RetryCount)
	}
	if inst.ID == "" {
		t.Error("expected a generated workflow id")
	}

	got, err := r.Get(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.WorkflowName != "reminder_sequence" || got.AppointmentID != "appt_1" {
		t.Errorf("persisted instance = %+v", got)
	}
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	r := newTestRuntime()
	_, err := r.Get(context.Background(), "wf_missing")
	var nf *model.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.Kind != "workflow" {
		t.Errorf("Kind = %q, want workflow", nf.Kind)
	}
}

func TestTransitionMergesStateDataShallowly(t *testing.T) {
	r := newTestRuntime()
	ctx := context.Background()
	inst, _ := r.Create(ctx, "reminder_sequence", "appt_1", 3)

	if _, err := r.Transition(ctx, inst.ID, model.WorkflowRunning, map[string]any{"step": "first", "keep": true}); err != nil {
		t.Fatalf("first transition failed: %v", err)
	}
	got, err := r.Transition(ctx, inst.ID, model.WorkflowWaiting, map[string]any{"step": "second"})
	if err != nil {
		t.Fatalf("second transition failed: %v", err)
	}

	if got.StateData["step"] != "second" {
		t.Errorf("step = %v, want second (overwritten)", got.StateData["step"])
	}
	if got.StateData["keep"] != true {
		t.Errorf("keep = %v, want true (preserved)", got.StateData["keep"])
	}
}

func TestTransitionRejectsInvalidEdge(t *testing.T) {
	r := newTestRuntime()
	ctx := context.Background()
	inst, _ := r.Create(ctx, "reminder_sequence", "appt_1", 3)

	_, err := r.Transition(ctx, inst.ID, model.WorkflowCompleted, nil)
	var invalid *model.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != "PENDING" || invalid.To != "COMPLETED" {
		t.Errorf("error names %q -> %q, want PENDING -> COMPLETED", invalid.From, invalid.To)
	}

	// The instance is untouched after a rejected transition.
	got, _ := r.Get(ctx, inst.ID)
	if got.CurrentState != model.WorkflowPending {
		t.Errorf("state after rejection = %q, want PENDING", got.CurrentState)
	}
}

func TestTransitionStampsCompletionTimes(t *testing.T) {
	r := newTestRuntime()
	ctx := context.Background()

	inst, _ := r.Create(ctx, "reminder_sequence", "appt_1", 3)
	r.Transition(ctx, inst.ID, model.WorkflowRunning, nil)
	got, err := r.Transition(ctx, inst.ID, model.WorkflowCompleted, nil)
	if err != nil {
		t.Fatalf("transition to COMPLETED failed: %v", err)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}
	if got.FailedAt != nil {
		t.Error("FailedAt stamped on completion")
	}

	inst2, _ := r.Create(ctx, "reminder_sequence", "appt_2", 3)
	r.Transition(ctx, inst2.ID, model.WorkflowRunning, nil)
	got2, err := r.Transition(ctx, inst2.ID, model.WorkflowFailed, nil)
	if err != nil {
		t.Fatalf("transition to FAILED failed: %v", err)
	}
	if got2.FailedAt == nil {
		t.Error("FailedAt not stamped")
	}
}

func TestFailWithRetryRoutesToRetrying(t *testing.T) {
	r := newTestRuntime()
	ctx := context.Background()
	inst, _ := r.Create(ctx, "reminder_sequence", "appt_1", 2)
	r.Transition(ctx, inst.ID, model.WorkflowRunning, nil)

	got, err := r.FailWithRetry(ctx, inst.ID, errors.New("skill timeout"))
	if err != nil {
		t.Fatalf("FailWithRetry failed: %v", err)
	}
	if got.CurrentState != model.WorkflowRetrying {
		t.Errorf("state = %q, want RETRYING", got.CurrentState)
	}
	if got.RetryCount != 1 {
		t.Errorf("retryCount = %d, want 1", got.RetryCount)
	}
	if got.Error == nil || *got.Error != "skill timeout" {
		t.Errorf("Error = %v, want skill timeout", got.Error)
	}
}

func TestFailWithRetryExhaustsToFailed(t *testing.T) {
	r := newTestRuntime()
	ctx := context.Background()
	inst, _ := r.Create(ctx, "reminder_sequence", "appt_1", 1)
	r.Transition(ctx, inst.ID, model.WorkflowRunning, nil)

	// First failure: within budget.
	got, err := r.FailWithRetry(ctx, inst.ID, errors.New("attempt 1"))
	if err != nil {
		t.Fatalf("first FailWithRetry failed: %v", err)
	}
	if got.CurrentState != model.WorkflowRetrying {
		t.Fatalf("state after first failure = %q, want RETRYING", got.CurrentState)
	}

	// Second failure: retryCount exceeds maxRetries, RETRYING permits FAILED.
	got, err = r.FailWithRetry(ctx, inst.ID, errors.New("attempt 2"))
	if err != nil {
		t.Fatalf("second FailWithRetry failed: %v", err)
	}
	if got.CurrentState != model.WorkflowFailed {
		t.Errorf("state = %q, want FAILED", got.CurrentState)
	}
	if got.RetryCount != 2 {
		t.Errorf("retryCount = %d, want 2", got.RetryCount)
	}
	if got.FailedAt == nil {
		t.Error("FailedAt not stamped on exhausted retries")
	}
}

func TestFailWithRetryFromPendingRejected(t *testing.T) {
	r := newTestRuntime()
	ctx := context.Background()
	inst, _ := r.Create(ctx, "reminder_sequence", "appt_1", 3)

	// PENDING does not permit RETRYING; the routed transition must surface
	// the table violation.
	_, err := r.FailWithRetry(ctx, inst.ID, errors.New("too early"))
	var invalid *model.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestTerminalStatesAreClosed(t *testing.T) {
	r := newTestRuntime()
	ctx := context.Background()
	inst, _ := r.Create(ctx, "reminder_sequence", "appt_1", 3)
	r.Transition(ctx, inst.ID, model.WorkflowRunning, nil)
	r.Transition(ctx, inst.ID, model.WorkflowCompleted, nil)

	for _, to := range []model.WorkflowState{
		model.WorkflowPending, model.WorkflowRunning, model.WorkflowWaiting,
		model.WorkflowRetrying, model.WorkflowFailed, model.WorkflowCancelled,
	} {
		if _, err := r.Transition(ctx, inst.ID, to, nil); err == nil {
			t.Errorf("COMPLETED -> %s allowed, want rejection", to)
		}
	}
}
