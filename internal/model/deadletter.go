package model

import "time"

// DeadLetterEntry holds a permanently failed action execution for inspection,
// manual retry, or archival. Archived is monotonic: false -> true only.
type DeadLetterEntry struct {
	ID            string         `json:"id" yaml:"id"`
	WorkflowID    string         `json:"workflow_id" yaml:"workflow_id"`
	SkillName     string         `json:"skill_name" yaml:"skill_name"`
	Context       map[string]any `json:"context" yaml:"context"`
	Error         string         `json:"error" yaml:"error"`
	Attempts      int            `json:"attempts" yaml:"attempts"`
	Archived      bool           `json:"archived" yaml:"archived"`
	CreatedAt     time.Time      `json:"created_at" yaml:"created_at"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty" yaml:"last_attempt_at,omitempty"`
}
