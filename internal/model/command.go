// Package model defines the data structures for bellman's commands, events,
// workflow instances, and queue entries.
package model

import "time"

type CommandType string

const (
	CommandSendSMS           CommandType = "send_sms"
	CommandSendPaymentLink   CommandType = "send_payment_link"
	CommandConfirmAppointment CommandType = "confirm_appointment"
)

// Command is an authorized request for a side-effecting action, handed to the
// external executor. AuthorizedByCore is always true by construction: the core
// never emits unauthorized commands.
type Command struct {
	ExecutionID               string         `json:"execution_id" yaml:"execution_id"`
	TenantID                  string         `json:"tenant_id" yaml:"tenant_id"`
	CorrelationID             string         `json:"correlation_id" yaml:"correlation_id"`
	CommandType               CommandType    `json:"command_type" yaml:"command_type"`
	AuthorizedByCore          bool           `json:"authorized_by_core" yaml:"authorized_by_core"`
	PermissionManifestVersion string         `json:"permission_manifest_version" yaml:"permission_manifest_version"`
	Payload                   map[string]any `json:"payload" yaml:"payload"`
}

// NewCommand builds an authorized command with a fresh execution id.
func NewCommand(tenantID, correlationID string, commandType CommandType, manifestVersion string, payload map[string]any) Command {
	return Command{
		ExecutionID:               NewID(IDTypeExecution),
		TenantID:                  tenantID,
		CorrelationID:             correlationID,
		CommandType:               commandType,
		AuthorizedByCore:          true,
		PermissionManifestVersion: manifestVersion,
		Payload:                   payload,
	}
}

type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusDelivered DeliveryStatus = "delivered"
	StatusDLQ       DeliveryStatus = "dlq"
)

// QueuedCommand is a command plus its delivery bookkeeping. Entries are keyed
// by ExecutionID and retained after reaching a terminal status for audit.
type QueuedCommand struct {
	Command       Command        `json:"command"`
	EnqueuedAt    time.Time      `json:"enqueued_at"`
	Attempts      int            `json:"attempts"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
	Status        DeliveryStatus `json:"status"`
	LastError     *string        `json:"last_error,omitempty"`
}

type ResultStatus string

const (
	ResultSucceeded ResultStatus = "succeeded"
	ResultFailed    ResultStatus = "failed"
)

// ResultEvent is the executor's outcome for one dispatched command.
// ExecutionID correlates 1:1 back to the originating Command.
type ResultEvent struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	ExecutionID   string         `json:"execution_id"`
	TenantID      string         `json:"tenant_id"`
	CorrelationID string         `json:"correlation_id"`
	EmittedAt     time.Time      `json:"emitted_at"`
	Status        ResultStatus   `json:"status"`
	Payload       map[string]any `json:"payload"`
}
