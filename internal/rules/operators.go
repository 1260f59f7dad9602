package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Operator is a comparison operator used by device_state triggers and
// conditions, plus the time-condition operators before and after.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpGreaterThan Operator = "greaterThan"
	OpLessThan    Operator = "lessThan"
	OpContains    Operator = "contains"
	OpBetween     Operator = "between"

	// Time-condition operators.
	OpBefore Operator = "before"
	OpAfter  Operator = "after"
)

// comparisonOperators is the set valid for device_state triggers and
// conditions.
var comparisonOperators = map[Operator]struct{}{
	OpEquals:      {},
	OpNotEquals:   {},
	OpGreaterThan: {},
	OpLessThan:    {},
	OpContains:    {},
	OpBetween:     {},
}

// IsComparisonOperator reports whether op is one of the six device-state
// comparison operators.
func IsComparisonOperator(op Operator) bool {
	_, ok := comparisonOperators[op]
	return ok
}

// Compare applies op to an actual value against the expected value (and
// valueEnd for between). This is the single comparison implementation
// shared by the store's trigger matcher and the condition evaluator.
//
// Semantics:
//   - equals/notEquals: numeric equality when both sides coerce to a
//     number, otherwise string equality on the canonical form.
//   - greaterThan/lessThan: numeric when both sides coerce, otherwise
//     lexicographic.
//   - contains: substring match on strings; membership when the actual
//     value is a list.
//   - between: inclusive numeric range [value, valueEnd]. Non-numeric
//     operands never match.
//
// Unknown operators never match.
func Compare(op Operator, actual, value, valueEnd any) bool {
	switch op {
	case OpEquals:
		return valuesEqual(actual, value)
	case OpNotEquals:
		return !valuesEqual(actual, value)
	case OpGreaterThan:
		if af, aok := toFloat(actual); aok {
			if vf, vok := toFloat(value); vok {
				return af > vf
			}
		}
		return canonical(actual) > canonical(value)
	case OpLessThan:
		if af, aok := toFloat(actual); aok {
			if vf, vok := toFloat(value); vok {
				return af < vf
			}
		}
		return canonical(actual) < canonical(value)
	case OpContains:
		if list, ok := actual.([]any); ok {
			for _, elem := range list {
				if valuesEqual(elem, value) {
					return true
				}
			}
			return false
		}
		return strings.Contains(canonical(actual), canonical(value))
	case OpBetween:
		af, aok := toFloat(actual)
		lo, lok := toFloat(value)
		hi, hok := toFloat(valueEnd)
		if !aok || !lok || !hok {
			return false
		}
		return af >= lo && af <= hi
	default:
		return false
	}
}

// valuesEqual compares two values, preferring numeric equality so that
// JSON's float64(1) equals int(1) and "1".
func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return canonical(a) == canonical(b)
}

// toFloat coerces numeric types, json.Number, and numeric strings to
// float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case bool, nil:
		return 0, false
	default:
		return 0, false
	}
}

// canonical renders a value in its comparable string form. Booleans and
// nil get stable representations; everything else goes through fmt.
func canonical(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ParseClock parses an "HH:MM" string into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return hour*60 + minute, nil
}
