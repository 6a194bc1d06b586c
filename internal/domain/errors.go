package domain

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a library integrity violation. It is raised at
// load time; seeing one mid-session means an unvalidated library slipped through.
type ConfigurationError struct {
	Source   string
	Problems []string
}

func (e *ConfigurationError) Error() string {
	prefix := "configuration error"
	if e.Source != "" {
		prefix = fmt.Sprintf("configuration error in %s", e.Source)
	}
	if len(e.Problems) == 1 {
		return prefix + ": " + e.Problems[0]
	}
	return fmt.Sprintf("%s: %d problems: %s", prefix, len(e.Problems), strings.Join(e.Problems, "; "))
}

// Validation rules reported by ValidationError.
const (
	RuleRequired   = "required"
	RuleType       = "type"
	RuleOption     = "option"
	RuleDuplicate  = "duplicate"
	RuleFormat     = "format"
	RuleMaxLength  = "max_length"
	RuleTransform  = "transform"
	RuleContext    = "context"
	RuleNavigation = "navigation"
	RuleUnknown    = "unknown_question"
)

type ValidationError struct {
	QuestionID string
	Rule       string
	Message    string
}

func (e *ValidationError) Error() string {
	if e.QuestionID == "" {
		return fmt.Sprintf("validation failed (%s): %s", e.Rule, e.Message)
	}
	return fmt.Sprintf("validation failed for %s (%s): %s", e.QuestionID, e.Rule, e.Message)
}

// OutOfOrderAnswerError is returned when an answer targets a question other than the current one.
type OutOfOrderAnswerError struct {
	Expected string
	Got      string
}

func (e *OutOfOrderAnswerError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("answer for %s out of order: no question is pending", e.Got)
	}
	return fmt.Sprintf("answer for %s out of order: current question is %s", e.Got, e.Expected)
}

type StateError struct {
	SessionID string
	Status    Status
	Op        string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s session %s: status is %s", e.Op, e.SessionID, e.Status)
}
