package model

import "time"

type WorkflowState string

const (
	WorkflowPending   WorkflowState = "PENDING"
	WorkflowRunning   WorkflowState = "RUNNING"
	WorkflowWaiting   WorkflowState = "WAITING"
	WorkflowRetrying  WorkflowState = "RETRYING"
	WorkflowCompleted WorkflowState = "COMPLETED"
	WorkflowFailed    WorkflowState = "FAILED"
	WorkflowCancelled WorkflowState = "CANCELLED"
)

var terminalWorkflowStates = map[WorkflowState]bool{
	WorkflowCompleted: true,
	WorkflowFailed:    true,
	WorkflowCancelled: true,
}

var validWorkflowTransitions = map[WorkflowState]map[WorkflowState]bool{
	WorkflowPending: {
		WorkflowRunning:   true,
		WorkflowCancelled: true,
	},
	WorkflowRunning: {
		WorkflowWaiting:   true,
		WorkflowRetrying:  true,
		WorkflowCompleted: true,
		WorkflowFailed:    true,
		WorkflowCancelled: true,
	},
	WorkflowWaiting: {
		WorkflowRunning:   true,
		WorkflowRetrying:  true,
		WorkflowFailed:    true,
		WorkflowCancelled: true,
	},
	WorkflowRetrying: {
		WorkflowRunning:   true,
		WorkflowFailed:    true,
		WorkflowCancelled: true,
	},
}

func IsWorkflowTerminal(s WorkflowState) bool {
	return terminalWorkflowStates[s]
}

// ValidateWorkflowTransition returns an *InvalidTransitionError when the
// runtime transition table forbids from -> to.
func ValidateWorkflowTransition(from, to WorkflowState) error {
	allowed, ok := validWorkflowTransitions[from]
	if !ok || !allowed[to] {
		return &InvalidTransitionError{Entity: "workflow", From: string(from), To: string(to)}
	}
	return nil
}

// WorkflowInstance tracks one long-running workflow. Mutated only via the
// runtime's Transition/FailWithRetry until a terminal state is reached.
type WorkflowInstance struct {
	ID            string         `json:"id"`
	WorkflowName  string         `json:"workflow_name"`
	AppointmentID string         `json:"appointment_id"`
	CurrentState  WorkflowState  `json:"current_state"`
	StateData     map[string]any `json:"state_data"`
	RetryCount    int            `json:"retry_count"`
	MaxRetries    int            `json:"max_retries"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	FailedAt      *time.Time     `json:"failed_at,omitempty"`
	Error         *string        `json:"error,omitempty"`
}
