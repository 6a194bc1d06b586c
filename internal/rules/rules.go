// Package rules evaluates {field, operator, value} conditions against recorded answers.
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"inspectline/internal/domain"
)

// Answers maps question ids to canonical answer values. Unanswered questions
// are absent; an optional question answered blank is present with its blank value.
type Answers map[string]any

// FromSession collects the answers of a session, blank ones included.
func FromSession(answers []domain.Answer) Answers {
	out := make(Answers, len(answers))
	for _, a := range answers {
		out[a.QuestionID] = a.Value
	}
	return out
}

// Evaluate reports whether a condition holds. A condition on an unanswered
// field never holds, whatever its operator. A blank answer is a value: an
// empty selection excludes everything and blank text differs from any word.
func Evaluate(c domain.Condition, answers Answers) bool {
	actual, ok := answers[c.Field]
	if !ok {
		return false
	}
	switch c.Operator {
	case domain.OpEq:
		return equal(actual, c.Value)
	case domain.OpNeq:
		return !equal(actual, c.Value)
	case domain.OpGt:
		return compare(actual, c.Value, func(a, b float64) bool { return a > b })
	case domain.OpLt:
		return compare(actual, c.Value, func(a, b float64) bool { return a < b })
	case domain.OpGte:
		return compare(actual, c.Value, func(a, b float64) bool { return a >= b })
	case domain.OpLte:
		return compare(actual, c.Value, func(a, b float64) bool { return a <= b })
	case domain.OpIncludes:
		set := asSet(actual)
		for _, want := range asList(c.Value) {
			if !set[want] {
				return false
			}
		}
		return len(set) > 0
	case domain.OpExcludes:
		set := asSet(actual)
		for _, want := range asList(c.Value) {
			if set[want] {
				return false
			}
		}
		return true
	case domain.OpContains:
		text, ok := actual.(string)
		if !ok {
			return false
		}
		return strings.Contains(strings.ToLower(text), strings.ToLower(toString(c.Value)))
	default:
		return false
	}
}

// All applies AND semantics; an empty list always holds.
func All(conds []domain.Condition, answers Answers) bool {
	for _, c := range conds {
		if !Evaluate(c, answers) {
			return false
		}
	}
	return true
}

// Fields returns the question ids referenced by a condition list, in order.
func Fields(conds []domain.Condition) []string {
	var out []string
	for _, c := range conds {
		out = append(out, c.Field)
	}
	return out
}

func equal(actual, want any) bool {
	if list, ok := actual.([]string); ok {
		wantList := asList(want)
		if len(list) != len(wantList) {
			return false
		}
		set := asSet(list)
		for _, w := range wantList {
			if !set[w] {
				return false
			}
		}
		return true
	}
	if b, ok := actual.(bool); ok {
		wb, ok := toBool(want)
		return ok && b == wb
	}
	if af, ok := toFloat(actual); ok {
		if wf, ok := toFloat(want); ok {
			return af == wf
		}
	}
	return toString(actual) == toString(want)
}

func compare(actual, want any, cmp func(a, b float64) bool) bool {
	af, ok := toFloat(actual)
	if !ok {
		return false
	}
	wf, ok := toFloat(want)
	if !ok {
		return false
	}
	return cmp(af, wf)
}

func asSet(v any) map[string]bool {
	out := map[string]bool{}
	for _, s := range asList(v) {
		out[s] = true
	}
	return out
}

func asList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, toString(item))
		}
		return out
	default:
		return []string{toString(t)}
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}
	return false, false
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
