package daemon

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bellmanlabs/bellman/internal/guardrail"
	"github.com/bellmanlabs/bellman/internal/model"
	"github.com/bellmanlabs/bellman/internal/queue"
)

// commandSkills is the default skill backend: each skill invocation is
// re-entered into the command queue under the skill's name, so trigger
// actions flow through the same dispatch path as any other command.
// Invocations pass the guardrail checks first; a violation refuses the
// action before anything is enqueued.
type commandSkills struct {
	queue           queue.CommandQueue
	manifestVersion string
	logger          *log.Logger
}

func (s *commandSkills) Execute(_ context.Context, skill string, params, triggerContext map[string]any) (any, error) {
	if err := guardrail.EnforceGuardrails(actionContext(skill, params)); err != nil {
		return nil, err
	}
	cmd := s.buildCommand(skill, params, triggerContext)
	if err := s.queue.Enqueue(cmd); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", skill, err)
	}
	return map[string]any{"executionId": cmd.ExecutionID}, nil
}

func (s *commandSkills) Schedule(ctx context.Context, skill string, params, triggerContext map[string]any, delay time.Duration) error {
	if err := guardrail.EnforceGuardrails(actionContext(skill, params)); err != nil {
		return err
	}
	cmd := s.buildCommand(skill, params, triggerContext)
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := s.queue.Enqueue(cmd); err != nil && s.logger != nil {
			s.logger.Printf("%s ERROR daemon: scheduled skill %s: %v",
				time.Now().UTC().Format(time.RFC3339), skill, err)
		}
	}()
	return nil
}

func (s *commandSkills) buildCommand(skill string, params, triggerContext map[string]any) model.Command {
	tenantID, correlationID := eventScope(triggerContext)
	payload := make(map[string]any, len(params))
	for k, v := range params {
		payload[k] = v
	}
	return model.NewCommand(tenantID, correlationID, model.CommandType(skill), s.manifestVersion, payload)
}

// actionContext frames a trigger-fired skill for the guardrail checks.
// Triggers act autonomously, so the actor is always the system.
func actionContext(skill string, params map[string]any) guardrail.ActionContext {
	confirmed, _ := params["userConfirmed"].(bool)
	messageType, _ := params["messageType"].(string)
	message, _ := params["message"].(string)
	return guardrail.ActionContext{
		Action:        skill,
		Actor:         "system",
		UserConfirmed: confirmed,
		MessageType:   messageType,
		Message:       message,
	}
}

// eventScope pulls the tenant and correlation ids out of the event the
// trigger fired on, when present.
func eventScope(triggerContext map[string]any) (string, string) {
	event, ok := triggerContext["event"].(map[string]any)
	if !ok {
		return "", ""
	}
	tenantID, _ := event["tenantId"].(string)
	correlationID, _ := event["correlationId"].(string)
	return tenantID, correlationID
}
