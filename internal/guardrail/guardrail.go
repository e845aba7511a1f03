// Package guardrail holds the unconditional safety checks applied before
// autonomous actions, and the escalation policy flagging high-risk
// situations for a human.
package guardrail

import (
	"fmt"
	"regexp"

	"github.com/bellmanlabs/bellman/internal/model"
)

// ActionContext describes an action about to be taken on behalf of the
// system.
type ActionContext struct {
	Action        string `json:"action"`
	Actor         string `json:"actor"`
	UserConfirmed bool   `json:"userConfirmed"`
	MessageType   string `json:"messageType"`
	Message       string `json:"message"`
}

// medicalTerms are words an autonomously generated message must never
// contain. Matching is case-insensitive on word boundaries, so "cured" or
// "procure" do not trip the check.
var medicalTerms = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdiagnose\b`),
	regexp.MustCompile(`(?i)\bprescription\b`),
	regexp.MustCompile(`(?i)\btreatment\b`),
	regexp.MustCompile(`(?i)\bcure\b`),
}

// EnforceGuardrails returns a GuardrailViolationError when ctx describes a
// forbidden action. Pure: no side effects beyond the returned error.
func EnforceGuardrails(ctx ActionContext) error {
	if ctx.Action == "cancel_appointment" && ctx.Actor == "system" {
		return &model.GuardrailViolationError{
			Rule:   "no_autonomous_cancellation",
			Detail: "the system may not cancel an appointment on its own",
		}
	}
	if ctx.Action == "charge_payment" && !ctx.UserConfirmed {
		return &model.GuardrailViolationError{
			Rule:   "payment_requires_confirmation",
			Detail: "charging a payment requires explicit user confirmation",
		}
	}
	if ctx.MessageType == "llm_generated" {
		for _, pattern := range medicalTerms {
			if pattern.MatchString(ctx.Message) {
				return &model.GuardrailViolationError{
					Rule:   "no_medical_advice",
					Detail: fmt.Sprintf("generated message matches forbidden term %s", pattern),
				}
			}
		}
	}
	return nil
}

// EscalationContext carries the signals the escalation rules look at.
type EscalationContext struct {
	CustomerRiskScore     int     `json:"customerRiskScore"`
	WorkflowRetryCount    int     `json:"workflowRetryCount"`
	HoursUntilAppointment float64 `json:"hoursUntilAppointment"`
	CustomerResponded     bool    `json:"customerResponded"`
}

// Escalation is the outcome of the escalation policy.
type Escalation struct {
	ShouldEscalate bool   `json:"shouldEscalate"`
	Priority       string `json:"priority,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// EvaluateEscalation applies the first-match rules in fixed order: high risk
// score, exhausted retries, unresponsive customer close to the appointment.
func EvaluateEscalation(ctx EscalationContext) Escalation {
	if ctx.CustomerRiskScore >= 80 {
		return Escalation{ShouldEscalate: true, Priority: "high", Reason: "customer risk score"}
	}
	if ctx.WorkflowRetryCount >= 3 {
		return Escalation{ShouldEscalate: true, Priority: "medium", Reason: "workflow retries exhausted"}
	}
	if !ctx.CustomerResponded && ctx.HoursUntilAppointment <= 6 {
		return Escalation{ShouldEscalate: true, Priority: "high", Reason: "unresponsive close to appointment"}
	}
	return Escalation{}
}
