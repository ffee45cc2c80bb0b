// Package condition evaluates field predicates and rule condition groups.
package condition

import (
	"errors"
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

var ErrUnknownOperator = errors.New("unknown operator")

const (
	OpEqual          = "="
	OpNotEqual       = "!="
	OpGreater        = ">"
	OpLess           = "<"
	OpGreaterOrEqual = ">="
	OpLessOrEqual    = "<="
	OpContains       = "contains"
	OpStartsWith     = "starts_with"
	OpEndsWith       = "ends_with"
	OpIn             = "in"
	OpNotIn          = "not_in"
)

var operators = map[string]bool{
	OpEqual: true, OpNotEqual: true,
	OpGreater: true, OpLess: true, OpGreaterOrEqual: true, OpLessOrEqual: true,
	OpContains: true, OpStartsWith: true, OpEndsWith: true,
	OpIn: true, OpNotIn: true,
}

// Known reports whether op is a supported operator.
func Known(op string) bool {
	return operators[op]
}

// Evaluate applies op to actual and expected. Unknown operators evaluate to false.
func Evaluate(actual any, op string, expected any) bool {
	switch op {
	case OpEqual:
		return equal(actual, expected)
	case OpNotEqual:
		return !equal(actual, expected)
	case OpGreater:
		return compare(actual, expected) > 0
	case OpLess:
		return compare(actual, expected) < 0
	case OpGreaterOrEqual:
		return compare(actual, expected) >= 0
	case OpLessOrEqual:
		return compare(actual, expected) <= 0
	case OpContains:
		if items, ok := asSlice(actual); ok {
			return member(expected, items)
		}

		return strings.Contains(lower(actual), lower(expected))
	case OpStartsWith:
		return strings.HasPrefix(lower(actual), lower(expected))
	case OpEndsWith:
		return strings.HasSuffix(lower(actual), lower(expected))
	case OpIn:
		return member(actual, collection(expected))
	case OpNotIn:
		return !member(actual, collection(expected))
	default:
		return false
	}
}

func number(v any) (float64, bool) {
	switch v.(type) {
	case nil, bool:
		return 0, false
	}

	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}

	return f, true
}

func text(v any) string {
	if v == nil {
		return ""
	}

	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}

	return s
}

func lower(v any) string {
	return strings.ToLower(text(v))
}

func equal(a, b any) bool {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return x == y
		}
	}

	return text(a) == text(b)
}

func compare(a, b any) int {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			default:
				return 0
			}
		}
	}

	return strings.Compare(text(a), text(b))
}

func member(v any, items []any) bool {
	for _, item := range items {
		if equal(v, item) {
			return true
		}
	}

	return false
}

// collection treats a string as a comma separated list.
func collection(v any) []any {
	if items, ok := asSlice(v); ok {
		return items
	}

	s, ok := v.(string)
	if !ok {
		if v == nil {
			return nil
		}

		return []any{v}
	}

	parts := strings.Split(s, ",")
	items := make([]any, 0, len(parts))

	for _, part := range parts {
		items = append(items, strings.TrimSpace(part))
	}

	return items
}

func asSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}

	return items, true
}
