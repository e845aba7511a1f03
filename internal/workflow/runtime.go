// Package workflow runs long-lived workflow instances over a pluggable
// store, enforcing the runtime state transition table.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/bellmanlabs/bellman/internal/model"
	"github.com/bellmanlabs/bellman/internal/store"
)

// Runtime creates and advances workflow instances.
type Runtime struct {
	store store.Store[model.WorkflowInstance]
	now   func() time.Time
}

func NewRuntime(s store.Store[model.WorkflowInstance]) *Runtime {
	return &Runtime{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new instance in PENDING with a zero retry count.
func (r *Runtime) Create(ctx context.Context, workflowName, appointmentID string, maxRetries int) (model.WorkflowInstance, error) {
	now := r.now()
	inst := model.WorkflowInstance{
		ID:            model.NewID(model.IDTypeWorkflow),
		WorkflowName:  workflowName,
		AppointmentID: appointmentID,
		CurrentState:  model.WorkflowPending,
		StateData:     make(map[string]any),
		RetryCount:    0,
		MaxRetries:    maxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.Upsert(ctx, inst.ID, inst); err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("persist instance: %w", err)
	}
	return inst, nil
}

// Get looks up an instance, returning NotFoundError on unknown ids.
func (r *Runtime) Get(ctx context.Context, id string) (model.WorkflowInstance, error) {
	inst, ok, err := r.store.Get(ctx, id)
	if err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("load instance: %w", err)
	}
	if !ok {
		return model.WorkflowInstance{}, &model.NotFoundError{Kind: "workflow", ID: id}
	}
	return inst, nil
}

// List returns instances matching the filter in creation order.
func (r *Runtime) List(ctx context.Context, filter func(model.WorkflowInstance) bool) ([]model.WorkflowInstance, error) {
	return r.store.List(ctx, filter)
}

// Transition moves an instance to a new state. stateData is merged shallowly
// over the existing data. Entering COMPLETED or FAILED stamps the matching
// timestamp.
func (r *Runtime) Transition(ctx context.Context, id string, to model.WorkflowState, stateData map[string]any) (model.WorkflowInstance, error) {
	inst, err := r.Get(ctx, id)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if err := model.ValidateWorkflowTransition(inst.CurrentState, to); err != nil {
		return model.WorkflowInstance{}, err
	}

	now := r.now()
	inst.CurrentState = to
	inst.UpdatedAt = now
	if inst.StateData == nil {
		inst.StateData = make(map[string]any)
	}
	for k, v := range stateData {
		inst.StateData[k] = v
	}
	switch to {
	case model.WorkflowCompleted:
		inst.CompletedAt = &now
	case model.WorkflowFailed:
		inst.FailedAt = &now
	}

	if err := r.store.Upsert(ctx, id, inst); err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("persist transition: %w", err)
	}
	return inst, nil
}

// FailWithRetry records a failure: the retry count is incremented first, then
// the instance moves to RETRYING, or to FAILED once the retry budget is
// spent. Both paths go through Transition, so the current state must permit
// the target.
func (r *Runtime) FailWithRetry(ctx context.Context, id string, cause error) (model.WorkflowInstance, error) {
	inst, err := r.Get(ctx, id)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	inst.RetryCount++
	if err := r.store.Upsert(ctx, id, inst); err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("persist retry count: %w", err)
	}

	target := model.WorkflowRetrying
	if inst.RetryCount > inst.MaxRetries {
		target = model.WorkflowFailed
	}

	updated, err := r.Transition(ctx, id, target, nil)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	msg := cause.Error()
	updated.Error = &msg
	if err := r.store.Upsert(ctx, id, updated); err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("persist failure: %w", err)
	}
	return updated, nil
}
