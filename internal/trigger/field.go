package trigger

import (
	"reflect"
	"strings"
)

// ResolvePath walks a dot-separated path through nested map[string]any
// values. Lookup is fail-open: any missing or non-map segment yields
// (nil, false), never an error.
func ResolvePath(context map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = context
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// evaluateField applies cond.Operator to the resolved field value and
// cond.Value. Numeric operators require both operands numeric; IN/NOT IN
// require the expected value to be an array. Anything else evaluates false.
func evaluateField(cond Condition, context map[string]any) bool {
	actual, _ := ResolvePath(context, cond.Field)

	switch cond.Operator {
	case "==":
		return looseEqual(actual, cond.Value)
	case "!=":
		return !looseEqual(actual, cond.Value)
	case ">", "<", ">=", "<=":
		a, aok := toFloat(actual)
		b, bok := toFloat(cond.Value)
		if !aok || !bok {
			return false
		}
		switch cond.Operator {
		case ">":
			return a > b
		case "<":
			return a < b
		case ">=":
			return a >= b
		default:
			return a <= b
		}
	case "IN":
		return contains(cond.Value, actual)
	case "NOT IN":
		members, ok := arrayMembers(cond.Value)
		if !ok {
			return false
		}
		for _, member := range members {
			if looseEqual(member, actual) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func contains(expected, actual any) bool {
	members, ok := arrayMembers(expected)
	if !ok {
		return false
	}
	for _, member := range members {
		if looseEqual(member, actual) {
			return true
		}
	}
	return false
}

func arrayMembers(v any) ([]any, bool) {
	if members, ok := v.([]any); ok {
		return members, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// looseEqual compares numerics by value across int/float widths, everything
// else by deep equality.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
