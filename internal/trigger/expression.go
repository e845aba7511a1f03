package trigger

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"golang.org/x/sync/singleflight"
)

// ExpressionEvaluator compiles and runs expr-lang expressions against a
// trigger context. Compiled programs are cached per expression; concurrent
// first-compiles of the same expression are deduplicated.
type ExpressionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
	group singleflight.Group
}

func NewExpressionEvaluator() *ExpressionEvaluator {
	return &ExpressionEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate runs expression against context. The expression must produce a
// boolean; compile failures, run failures, and non-boolean results all
// return an error.
func (e *ExpressionEvaluator) Evaluate(expression string, context map[string]any) (bool, error) {
	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, context)
	if err != nil {
		return false, fmt.Errorf("run expression %q: %w", expression, err)
	}
	boolResult, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q evaluated to %T, want bool", expression, result)
	}
	return boolResult, nil
}

func (e *ExpressionEvaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	v, err, _ := e.group.Do(expression, func() (any, error) {
		// Compiled untyped so one program serves every context shape;
		// unknown variables surface at run time.
		program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("compile expression %q: %w", expression, err)
		}
		e.mu.Lock()
		e.cache[expression] = program
		e.mu.Unlock()
		return program, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*vm.Program), nil
}
