package flow

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"inspectline/internal/domain"
)

// canonicalize converts a raw answer into the single representation used for
// its prompt type and checks it against the question's constraints.
func canonicalize(q domain.Question, raw any) (any, error) {
	value, err := coerce(q, raw)
	if err != nil {
		return nil, err
	}
	blank := domain.Answer{Value: value}.Blank()
	if blank && q.Required {
		return nil, invalid(q, domain.RuleRequired, "an answer is required")
	}
	if blank {
		return value, nil
	}
	switch q.Type {
	case domain.PromptSingleChoice:
		if _, ok := q.Option(value.(string)); !ok {
			return nil, invalid(q, domain.RuleOption, fmt.Sprintf("%q is not one of the options", value))
		}
	case domain.PromptMultiSelect:
		seen := map[string]bool{}
		for _, v := range value.([]string) {
			if seen[v] {
				return nil, invalid(q, domain.RuleDuplicate, fmt.Sprintf("%q selected twice", v))
			}
			seen[v] = true
			if _, ok := q.Option(v); !ok {
				return nil, invalid(q, domain.RuleOption, fmt.Sprintf("%q is not one of the options", v))
			}
		}
	case domain.PromptFreeText:
		text := value.(string)
		if q.Format == domain.FormatNumber {
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, invalid(q, domain.RuleFormat, fmt.Sprintf("%q is not a number", text))
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, invalid(q, domain.RuleFormat, fmt.Sprintf("%q is not a finite number", text))
			}
		}
		if q.MaxLength > 0 && utf8.RuneCountInString(text) > q.MaxLength {
			return nil, invalid(q, domain.RuleMaxLength, fmt.Sprintf("answer exceeds %d characters", q.MaxLength))
		}
	}
	return value, nil
}

func coerce(q domain.Question, raw any) (any, error) {
	switch q.Type {
	case domain.PromptSingleChoice:
		switch v := raw.(type) {
		case nil:
			return "", nil
		case string:
			return strings.TrimSpace(v), nil
		}
	case domain.PromptMultiSelect:
		switch v := raw.(type) {
		case nil:
			return []string{}, nil
		case string:
			if strings.TrimSpace(v) == "" {
				return []string{}, nil
			}
			return []string{strings.TrimSpace(v)}, nil
		case []string:
			out := make([]string, 0, len(v))
			for _, item := range v {
				out = append(out, strings.TrimSpace(item))
			}
			return out, nil
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, invalid(q, domain.RuleType, fmt.Sprintf("selection contains %T, want text", item))
				}
				out = append(out, strings.TrimSpace(s))
			}
			return out, nil
		}
	case domain.PromptYesNo:
		switch v := raw.(type) {
		case nil:
			return nil, nil
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "":
				return nil, nil
			case "yes", "true", "y":
				return true, nil
			case "no", "false", "n":
				return false, nil
			}
		}
	case domain.PromptFreeText:
		switch v := raw.(type) {
		case nil:
			return "", nil
		case string:
			return strings.TrimSpace(v), nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(v), nil
		}
	}
	return nil, invalid(q, domain.RuleType, fmt.Sprintf("%T is not a valid %s answer", raw, q.Type))
}

func invalid(q domain.Question, rule, msg string) error {
	return &domain.ValidationError{QuestionID: q.ID, Rule: rule, Message: msg}
}
