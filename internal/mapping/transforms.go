package mapping

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"inspectline/internal/domain"
)

// TransformFunc derives a field value from a canonical answer value.
type TransformFunc func(q domain.Question, value any) (any, error)

// Transforms is a registry of named transforms referenced by library mappings.
type Transforms map[string]TransformFunc

// DefaultTransforms returns the built-in registry.
func DefaultTransforms() Transforms {
	return Transforms{
		"option_label": optionLabel,
		"join":         join,
		"yes_no":       yesNo,
		"upper":        textCase(strings.ToUpper),
		"lower":        textCase(strings.ToLower),
		"number":       number,
		"count":        count,
	}
}

// Names lists registered transforms in sorted order.
func (t Transforms) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func optionLabel(q domain.Question, value any) (any, error) {
	label := func(v string) string {
		if o, ok := q.Option(v); ok && o.Label != "" {
			return o.Label
		}
		return v
	}
	switch v := value.(type) {
	case string:
		return label(v), nil
	case []string:
		labels := make([]string, 0, len(v))
		for _, item := range v {
			labels = append(labels, label(item))
		}
		return strings.Join(labels, ", "), nil
	}
	return nil, fmt.Errorf("option_label: unsupported value %T", value)
}

func join(_ domain.Question, value any) (any, error) {
	switch v := value.(type) {
	case []string:
		return strings.Join(v, ", "), nil
	case string:
		return v, nil
	}
	return nil, fmt.Errorf("join: unsupported value %T", value)
}

func yesNo(_ domain.Question, value any) (any, error) {
	b, ok := value.(bool)
	if !ok {
		return nil, fmt.Errorf("yes_no: expected a yes/no answer, got %T", value)
	}
	if b {
		return "Yes", nil
	}
	return "No", nil
}

func textCase(fn func(string) string) TransformFunc {
	return func(_ domain.Question, value any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected text, got %T", value)
		}
		return fn(s), nil
	}
}

func number(_ domain.Question, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("number: expected text, got %T", value)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("number: %q is not numeric", s)
	}
	return f, nil
}

func count(_ domain.Question, value any) (any, error) {
	v, ok := value.([]string)
	if !ok {
		return nil, fmt.Errorf("count: expected a selection, got %T", value)
	}
	return len(v), nil
}
