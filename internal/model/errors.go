package model

import "fmt"

// NotFoundError reports a lookup for an id that does not exist. It is always
// thrown from workflow/appointment lookups, never swallowed; queue mutators
// deliberately do NOT use it (unknown ids there are silent no-ops).
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// InvalidTransitionError reports a state-machine violation naming both ends.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %q -> %q", e.Entity, e.From, e.To)
}

// GuardrailViolationError is a hard safety refusal. It always blocks the
// action it names.
type GuardrailViolationError struct {
	Rule   string
	Detail string
}

func (e *GuardrailViolationError) Error() string {
	return fmt.Sprintf("guardrail violation (%s): %s", e.Rule, e.Detail)
}

// DispatchError is a transient or permanent executor failure. Code, when
// non-empty, identifies the failure class for retry policies; retryability is
// decided structurally against a policy's retryable code list, never by
// probing loose properties.
type DispatchError struct {
	Code string
	Err  error
}

func (e *DispatchError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("dispatch failed [%s]: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("dispatch failed: %v", e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
