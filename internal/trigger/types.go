// Package trigger evaluates declarative condition-to-action rules against
// event context data and invokes skills for the actions of matching rules.
package trigger

// ConditionType selects how a condition is evaluated.
type ConditionType string

const (
	// ConditionField compares a dot-path field of the context to a value.
	ConditionField ConditionType = "field"
	// ConditionExpression evaluates an expr-lang expression over the context.
	ConditionExpression ConditionType = "expression"
)

// Condition is one predicate of a trigger. An empty Type means field.
type Condition struct {
	Type       ConditionType `json:"type,omitempty" yaml:"type,omitempty"`
	Field      string        `json:"field,omitempty" yaml:"field,omitempty"`
	Operator   string        `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      any           `json:"value,omitempty" yaml:"value,omitempty"`
	Expression string        `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Action names a skill invocation. DelayMs > 0 schedules the action
// fire-and-forget instead of executing inline. ContinueOnFailure controls
// whether a failed action stops the remaining actions of the same trigger;
// the failed action itself is never re-run by the engine.
type Action struct {
	Skill             string         `json:"skill" yaml:"skill"`
	Params            map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	DelayMs           int            `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`
	ContinueOnFailure bool           `json:"continue_on_failure,omitempty" yaml:"continue_on_failure,omitempty"`
}

// Definition is one trigger rule. A disabled trigger never fires; a trigger
// with no conditions fires whenever it is enabled. Priority orders execution
// across matching triggers (ascending); it does not reorder a trigger's own
// actions, which run in declared order.
type Definition struct {
	ID         string      `json:"id" yaml:"id"`
	Name       string      `json:"name,omitempty" yaml:"name,omitempty"`
	Enabled    bool        `json:"enabled" yaml:"enabled"`
	Priority   int         `json:"priority,omitempty" yaml:"priority,omitempty"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions    []Action    `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// ActionStatus is the recorded outcome of one action.
type ActionStatus string

const (
	ActionScheduled ActionStatus = "scheduled"
	ActionSuccess   ActionStatus = "success"
	ActionFailed    ActionStatus = "failed"
)

// ActionResult records one action's outcome within an execution.
type ActionResult struct {
	Skill  string       `json:"skill"`
	Status ActionStatus `json:"status"`
	Result any          `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// ExecutionResult is the outcome of executing one trigger.
type ExecutionResult struct {
	TriggerID string         `json:"trigger_id"`
	Executed  bool           `json:"executed"`
	Reason    string         `json:"reason,omitempty"`
	Actions   []ActionResult `json:"actions,omitempty"`
}
