package domain

import (
	"strings"
	"time"
)

type Status string

const (
	StatusStarted    Status = "STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusAbandoned  Status = "ABANDONED"
)

// Terminal reports whether no further mutation is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

type Context struct {
	JobType    string     `json:"job_type"`
	Region     string     `json:"region,omitempty"`
	AccessTier AccessTier `json:"access_tier" enum:"free,standard,premium,enterprise"`
}

type Answer struct {
	QuestionID string    `json:"question_id"`
	Value      any       `json:"value"`
	Confidence int       `json:"confidence"`
	AnsweredAt time.Time `json:"answered_at"`
}

// Blank reports whether the answer carries no usable value.
func (a Answer) Blank() bool {
	switch v := a.Value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		return len(v) == 0
	}
	return false
}

type FieldCandidate struct {
	Field            string      `json:"field"`
	Value            any         `json:"value"`
	Confidence       int         `json:"confidence"`
	SourceQuestionID string      `json:"source_question_id"`
	SourceKind       MappingKind `json:"source_kind"`
	AnsweredAt       time.Time   `json:"answered_at"`
	Triggers         []string    `json:"triggers,omitempty"`
	// Order is the answer's position in the session's answer log; it breaks answeredAt ties.
	Order int `json:"-"`
}

type FieldPopulation struct {
	Field            string           `json:"field"`
	Value            any              `json:"value"`
	Confidence       int              `json:"confidence"`
	SourceQuestionID string           `json:"source_question_id"`
	SourceKind       MappingKind      `json:"source_kind"`
	AnsweredAt       time.Time        `json:"answered_at"`
	Triggers         []string         `json:"triggers,omitempty"`
	Superseded       []FieldCandidate `json:"superseded,omitempty"`
}

type Classification struct {
	ID               string    `json:"id"`
	Field            string    `json:"field"`
	Value            string    `json:"value"`
	Confidence       int       `json:"confidence"`
	Triggers         []string  `json:"triggers,omitempty"`
	SourceQuestionID string    `json:"source_question_id"`
	AnsweredAt       time.Time `json:"answered_at"`
}

// Session is the live state of one interview. Pointer, Status, Populations,
// Classification and Triggers are derived from Answers by the flow engine.
type Session struct {
	ID             string                     `json:"session_id"`
	UserID         string                     `json:"user_id"`
	FormTemplateID string                     `json:"form_template_id"`
	LibraryVersion string                     `json:"library_version"`
	Context        Context                    `json:"context"`
	CreatedAt      time.Time                  `json:"created_at"`
	Questions      []Question                 `json:"materialized_questions"`
	Answers        []Answer                   `json:"answers"`
	Pointer        int                        `json:"current_pointer"`
	Status         Status                     `json:"status"`
	Populations    map[string]FieldPopulation `json:"field_populations"`
	Classification map[string]Classification  `json:"classification"`
	Triggers       []string                   `json:"triggers"`
	AbandonedAt    *time.Time                 `json:"abandoned_at,omitempty"`
}

// Answer returns the recorded answer for a question.
func (s *Session) Answer(questionID string) (Answer, bool) {
	for _, a := range s.Answers {
		if a.QuestionID == questionID {
			return a, true
		}
	}
	return Answer{}, false
}

// Index returns the position of a question in the materialized list, or -1.
func (s *Session) Index(questionID string) int {
	for i, q := range s.Questions {
		if q.ID == questionID {
			return i
		}
	}
	return -1
}

// Current returns the question under the pointer; ok is false once the path is exhausted.
func (s *Session) Current() (Question, bool) {
	if s.Pointer < 0 || s.Pointer >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.Pointer], true
}

// Clone copies the session deeply enough that mutating the copy never touches the original.
func (s *Session) Clone() *Session {
	out := *s
	out.Answers = append([]Answer(nil), s.Answers...)
	out.Triggers = append([]string(nil), s.Triggers...)
	out.Populations = make(map[string]FieldPopulation, len(s.Populations))
	for k, v := range s.Populations {
		out.Populations[k] = v
	}
	out.Classification = make(map[string]Classification, len(s.Classification))
	for k, v := range s.Classification {
		out.Classification[k] = v
	}
	if s.AbandonedAt != nil {
		at := *s.AbandonedAt
		out.AbandonedAt = &at
	}
	return &out
}

// SessionRecord is what a session store persists: the source of truth the
// rest of a session is replayed from.
type SessionRecord struct {
	SessionID      string     `json:"session_id"`
	UserID         string     `json:"user_id"`
	FormTemplateID string     `json:"form_template_id"`
	LibraryVersion string     `json:"library_version"`
	Context        Context    `json:"context"`
	Answers        []Answer   `json:"answers"`
	CreatedAt      time.Time  `json:"created_at"`
	AbandonedAt    *time.Time `json:"abandoned_at,omitempty"`
	// Cursor is the question a user navigated back to; empty means the first unanswered question.
	Cursor string `json:"cursor,omitempty"`
}

type CompletionResult struct {
	Complete bool     `json:"complete"`
	Missing  []string `json:"missing"`
}

type FieldFlag struct {
	Field      string `json:"field"`
	Confidence int    `json:"confidence"`
}

type QualityReport struct {
	FormTemplateID    string      `json:"form_template_id"`
	TotalFields       int         `json:"total_fields"`
	PopulatedFields   int         `json:"populated_fields"`
	Completeness      float64     `json:"completeness"`
	AverageConfidence float64     `json:"average_confidence"`
	ConfidenceFloor   int         `json:"confidence_floor"`
	LowConfidence     []FieldFlag `json:"low_confidence"`
	MissingFields     []string    `json:"missing_fields"`
}

type FieldMetadata struct {
	Confidence       int         `json:"confidence"`
	SourceQuestionID string      `json:"source_question_id"`
	SourceKind       MappingKind `json:"source_kind"`
	AnsweredAt       time.Time   `json:"answered_at"`
	Triggers         []string    `json:"triggers,omitempty"`
	Alternatives     int         `json:"alternatives"`
	LowConfidence    bool        `json:"low_confidence"`
}

type SubmittedField struct {
	Value    any           `json:"value"`
	Metadata FieldMetadata `json:"metadata"`
}

// SubmissionPayload is the shape handed to a form submitter.
type SubmissionPayload struct {
	SessionID      string                    `json:"session_id"`
	UserID         string                    `json:"user_id"`
	FormTemplateID string                    `json:"form_template_id"`
	LibraryVersion string                    `json:"library_version"`
	Status         Status                    `json:"status"`
	Fields         map[string]SubmittedField `json:"fields"`
	Classification map[string]string         `json:"classification"`
	Triggers       []string                  `json:"triggers"`
	Quality        QualityReport             `json:"quality"`
	// UnmappedFields lists populated fields that the session's form template does not declare.
	UnmappedFields []string `json:"unmapped_fields,omitempty"`
}

type SubmissionReceipt struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Event is one entry of a session's audit trail.
type Event struct {
	ID        int64     `json:"id"`
	TS        time.Time `json:"ts"`
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	ActorID   string    `json:"actor_id"`
	Payload   string    `json:"payload"`
}
