package trigger

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/bellmanlabs/bellman/internal/model"
	"github.com/bellmanlabs/bellman/internal/retry"
)

// Skills is the boundary to external skill implementations. Execute runs a
// skill inline; Schedule defers it fire-and-forget.
type Skills interface {
	Execute(ctx context.Context, skill string, params, triggerContext map[string]any) (any, error)
	Schedule(ctx context.Context, skill string, params, triggerContext map[string]any, delay time.Duration) error
}

// Engine evaluates trigger definitions and runs their actions. Inline skill
// executions go through the retry executor; scheduled actions are never
// retried.
type Engine struct {
	skills   Skills
	executor *retry.Executor
	expr     *ExpressionEvaluator
	logger   *log.Logger
	logLevel model.LogLevel
}

func NewEngine(skills Skills, policy retry.Policy, logger *log.Logger, logLevel model.LogLevel) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "", 0)
	}
	return &Engine{
		skills:   skills,
		executor: retry.NewExecutor(policy),
		expr:     NewExpressionEvaluator(),
		logger:   logger,
		logLevel: logLevel,
	}
}

// SetExecutor overrides the retry executor, for tests that inject a fake
// clock.
func (e *Engine) SetExecutor(executor *retry.Executor) {
	e.executor = executor
}

// EvaluateCondition evaluates one condition against the context. Unknown
// condition types and expression errors evaluate false.
func (e *Engine) EvaluateCondition(cond Condition, triggerContext map[string]any) bool {
	switch cond.Type {
	case ConditionExpression:
		result, err := e.expr.Evaluate(cond.Expression, triggerContext)
		if err != nil {
			e.log(model.LogLevelWarn, "expression condition: %v", err)
			return false
		}
		return result
	case ConditionField, "":
		return evaluateField(cond, triggerContext)
	default:
		return false
	}
}

// EvaluateTrigger reports whether the trigger fires: enabled and every
// condition true (vacuously true with no conditions).
func (e *Engine) EvaluateTrigger(def Definition, triggerContext map[string]any) bool {
	if !def.Enabled {
		return false
	}
	for _, cond := range def.Conditions {
		if !e.EvaluateCondition(cond, triggerContext) {
			return false
		}
	}
	return true
}

// ExecuteTrigger evaluates def and, when it fires, runs its actions in
// declared order. A failed action stops the remaining ones unless it is
// marked ContinueOnFailure.
func (e *Engine) ExecuteTrigger(ctx context.Context, def Definition, triggerContext map[string]any) ExecutionResult {
	result := ExecutionResult{TriggerID: def.ID}

	if !e.EvaluateTrigger(def, triggerContext) {
		result.Reason = "conditions not met"
		if !def.Enabled {
			result.Reason = "trigger disabled"
		}
		return result
	}
	result.Executed = true

	for _, action := range def.Actions {
		ar := e.runAction(ctx, action, triggerContext)
		result.Actions = append(result.Actions, ar)
		if ar.Status == ActionFailed && !action.ContinueOnFailure {
			break
		}
	}
	return result
}

func (e *Engine) runAction(ctx context.Context, action Action, triggerContext map[string]any) ActionResult {
	if action.DelayMs > 0 {
		delay := time.Duration(action.DelayMs) * time.Millisecond
		if err := e.skills.Schedule(ctx, action.Skill, action.Params, triggerContext, delay); err != nil {
			e.log(model.LogLevelWarn, "schedule %s: %v", action.Skill, err)
			return ActionResult{Skill: action.Skill, Status: ActionFailed, Error: err.Error()}
		}
		return ActionResult{Skill: action.Skill, Status: ActionScheduled}
	}

	var out any
	err := e.executor.Do(ctx, func(ctx context.Context) error {
		var execErr error
		out, execErr = e.skills.Execute(ctx, action.Skill, action.Params, triggerContext)
		return execErr
	})
	if err != nil {
		e.log(model.LogLevelWarn, "execute %s: %v", action.Skill, err)
		return ActionResult{Skill: action.Skill, Status: ActionFailed, Error: err.Error()}
	}
	return ActionResult{Skill: action.Skill, Status: ActionSuccess, Result: out}
}

// ExecuteMatching evaluates every trigger and executes the matches in
// ascending priority order. The sort is stable, so equal priorities keep
// their declared order.
func (e *Engine) ExecuteMatching(ctx context.Context, defs []Definition, triggerContext map[string]any) []ExecutionResult {
	var matched []Definition
	for _, def := range defs {
		if e.EvaluateTrigger(def, triggerContext) {
			matched = append(matched, def)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})

	results := make([]ExecutionResult, 0, len(matched))
	for _, def := range matched {
		results = append(results, e.ExecuteTrigger(ctx, def, triggerContext))
	}
	return results
}

func (e *Engine) log(level model.LogLevel, format string, args ...any) {
	if level < e.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	e.logger.Printf("%s %s trigger: %s", time.Now().Format(time.RFC3339), level, msg)
}
