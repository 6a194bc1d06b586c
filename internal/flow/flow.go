// Package flow is the interview state machine. Every operation is a pure
// function of the session it is given: no I/O, no clocks, no locking. Callers
// persist the session record after each successful mutation and serialize
// calls per session.
package flow

import (
	"fmt"
	"time"

	"inspectline/internal/domain"
	"inspectline/internal/generation"
	"inspectline/internal/library"
	"inspectline/internal/mapping"
)

type Engine struct {
	lib    *library.Library
	gen    generation.Generator
	mapper mapping.Mapper
	tables []domain.ClassificationTable
}

func New(lib *library.Library, mapper mapping.Mapper) *Engine {
	return &Engine{
		lib:    lib,
		gen:    generation.New(lib),
		mapper: mapper,
		tables: lib.Classifications(),
	}
}

func (e *Engine) Library() *library.Library { return e.lib }

// Generate exposes the candidate question set for a context without starting a session.
func (e *Engine) Generate(ctx domain.Context) (generation.Result, error) {
	return e.gen.Generate(ctx)
}

type StartOptions struct {
	SessionID      string
	UserID         string
	FormTemplateID string
	Context        domain.Context
	At             time.Time
}

// Initialize materializes the question set for a context and points at the
// first question shown with no answers recorded.
func (e *Engine) Initialize(opts StartOptions) (*domain.Session, error) {
	if opts.SessionID == "" {
		return nil, &domain.ValidationError{Rule: domain.RuleContext, Message: "session id is required"}
	}
	if _, ok := e.lib.Form(opts.FormTemplateID); !ok {
		return nil, &domain.ValidationError{Rule: domain.RuleContext, Message: fmt.Sprintf("unknown form template %q", opts.FormTemplateID)}
	}
	res, err := e.gen.Generate(opts.Context)
	if err != nil {
		return nil, err
	}
	s := &domain.Session{
		ID:             opts.SessionID,
		UserID:         opts.UserID,
		FormTemplateID: opts.FormTemplateID,
		LibraryVersion: e.lib.Version(),
		Context:        opts.Context,
		CreatedAt:      stamp(opts.At),
		Questions:      res.Questions(),
		Answers:        []domain.Answer{},
		Status:         domain.StatusStarted,
	}
	if _, err := e.derive(s); err != nil {
		return nil, err
	}
	if s.Pointer == len(s.Questions) {
		s.Status = domain.StatusCompleted
	}
	return s, nil
}

// RecordAnswer stores an answer for the current question, then recomputes the
// path from the answers. Re-answering a question the user navigated back to
// overwrites it in place; answers recorded after it are kept as they are.
func (e *Engine) RecordAnswer(s *domain.Session, questionID string, raw any, at time.Time) error {
	if s.Status.Terminal() {
		return &domain.StateError{SessionID: s.ID, Status: s.Status, Op: "record an answer on"}
	}
	cur, ok := s.Current()
	if !ok || cur.ID != questionID {
		return &domain.OutOfOrderAnswerError{Expected: cur.ID, Got: questionID}
	}
	value, err := canonicalize(cur, raw)
	if err != nil {
		return err
	}
	ans := domain.Answer{
		QuestionID: cur.ID,
		Value:      value,
		Confidence: e.mapper.AnswerConfidence(cur, value),
		AnsweredAt: stamp(at),
	}

	next := s.Clone()
	replaced := false
	for i := range next.Answers {
		if next.Answers[i].QuestionID == ans.QuestionID {
			next.Answers[i] = ans
			replaced = true
			break
		}
	}
	if !replaced {
		next.Answers = append(next.Answers, ans)
	}
	if _, err := e.derive(next); err != nil {
		return err
	}
	status := domain.StatusInProgress
	if next.Pointer == len(next.Questions) {
		status = domain.StatusCompleted
	}
	if err := ensureTransition(s, status); err != nil {
		return err
	}
	next.Status = status
	*s = *next
	return nil
}

// GoToPreviousQuestion moves the pointer to the nearest earlier question on the active path.
func (e *Engine) GoToPreviousQuestion(s *domain.Session) error {
	if s.Status.Terminal() {
		return &domain.StateError{SessionID: s.ID, Status: s.Status, Op: "navigate"}
	}
	w, err := e.walk(s.Questions, s.Answers)
	if err != nil {
		return err
	}
	prev := -1
	for _, idx := range w.path {
		if idx >= s.Pointer {
			break
		}
		prev = idx
	}
	if prev < 0 {
		cur, _ := s.Current()
		return &domain.ValidationError{QuestionID: cur.ID, Rule: domain.RuleNavigation, Message: "already at the first question"}
	}
	s.Pointer = prev
	return nil
}

// JumpToQuestion moves the pointer to any question on the active path up to
// and including the first unanswered one.
func (e *Engine) JumpToQuestion(s *domain.Session, questionID string) error {
	if s.Status.Terminal() {
		return &domain.StateError{SessionID: s.ID, Status: s.Status, Op: "navigate"}
	}
	idx := s.Index(questionID)
	if idx < 0 {
		return &domain.ValidationError{QuestionID: questionID, Rule: domain.RuleUnknown, Message: "question is not part of this interview"}
	}
	w, err := e.walk(s.Questions, s.Answers)
	if err != nil {
		return err
	}
	if _, ok := w.onPath(idx); !ok {
		return &domain.ValidationError{QuestionID: questionID, Rule: domain.RuleNavigation, Message: "question is hidden or skipped by earlier answers"}
	}
	if idx > w.frontier {
		return &domain.ValidationError{QuestionID: questionID, Rule: domain.RuleNavigation, Message: "earlier questions must be answered first"}
	}
	s.Pointer = idx
	return nil
}

// ValidateCompletion lists required questions on the active path that still lack an answer.
func (e *Engine) ValidateCompletion(s *domain.Session) (domain.CompletionResult, error) {
	w, err := e.walk(s.Questions, s.Answers)
	if err != nil {
		return domain.CompletionResult{}, err
	}
	res := domain.CompletionResult{Missing: []string{}}
	for _, idx := range w.path {
		q := s.Questions[idx]
		if !q.Required {
			continue
		}
		if a, ok := s.Answer(q.ID); !ok || a.Blank() {
			res.Missing = append(res.Missing, q.ID)
		}
	}
	res.Complete = len(res.Missing) == 0
	return res, nil
}

func (e *Engine) Abandon(s *domain.Session, at time.Time) error {
	if err := ensureTransition(s, domain.StatusAbandoned); err != nil {
		return err
	}
	ts := stamp(at)
	s.Status = domain.StatusAbandoned
	s.AbandonedAt = &ts
	return nil
}

// Record extracts the persisted part of a session.
func (e *Engine) Record(s *domain.Session) (domain.SessionRecord, error) {
	rec := domain.SessionRecord{
		SessionID:      s.ID,
		UserID:         s.UserID,
		FormTemplateID: s.FormTemplateID,
		LibraryVersion: s.LibraryVersion,
		Context:        s.Context,
		Answers:        append([]domain.Answer{}, s.Answers...),
		CreatedAt:      s.CreatedAt,
	}
	if s.AbandonedAt != nil {
		at := *s.AbandonedAt
		rec.AbandonedAt = &at
	}
	// Abandoned sessions keep their cursor so a restore lands where the user left off.
	w, err := e.walk(s.Questions, s.Answers)
	if err != nil {
		return domain.SessionRecord{}, err
	}
	if s.Pointer != w.frontier {
		if cur, ok := s.Current(); ok {
			rec.Cursor = cur.ID
		}
	}
	return rec, nil
}

// Restore rebuilds a session by replaying its persisted answers against a
// freshly materialized question set.
func (e *Engine) Restore(rec domain.SessionRecord) (*domain.Session, error) {
	if rec.LibraryVersion != "" && rec.LibraryVersion != e.lib.Version() {
		return nil, &domain.ConfigurationError{Problems: []string{fmt.Sprintf("session %s was recorded against library %s, loaded library is %s", rec.SessionID, rec.LibraryVersion, e.lib.Version())}}
	}
	s, err := e.Initialize(StartOptions{
		SessionID:      rec.SessionID,
		UserID:         rec.UserID,
		FormTemplateID: rec.FormTemplateID,
		Context:        rec.Context,
		At:             rec.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", rec.SessionID, err)
	}
	seen := map[string]bool{}
	for _, a := range rec.Answers {
		idx := s.Index(a.QuestionID)
		if idx < 0 {
			return nil, &domain.ConfigurationError{Problems: []string{fmt.Sprintf("session %s has an answer for %s, which is not materialized for its context", rec.SessionID, a.QuestionID)}}
		}
		if seen[a.QuestionID] {
			return nil, &domain.ConfigurationError{Problems: []string{fmt.Sprintf("session %s has two answers for %s", rec.SessionID, a.QuestionID)}}
		}
		seen[a.QuestionID] = true
		q := s.Questions[idx]
		value, err := canonicalize(q, a.Value)
		if err != nil {
			return nil, fmt.Errorf("restore session %s: %w", rec.SessionID, err)
		}
		s.Answers = append(s.Answers, domain.Answer{
			QuestionID: q.ID,
			Value:      value,
			Confidence: e.mapper.AnswerConfidence(q, value),
			AnsweredAt: stamp(a.AnsweredAt),
		})
	}
	if _, err := e.derive(s); err != nil {
		return nil, err
	}
	switch {
	case s.Pointer == len(s.Questions):
		s.Status = domain.StatusCompleted
	case len(s.Answers) > 0:
		s.Status = domain.StatusInProgress
	default:
		s.Status = domain.StatusStarted
	}
	if rec.Cursor != "" && !s.Status.Terminal() {
		frontier := s.Pointer
		if err := e.JumpToQuestion(s, rec.Cursor); err != nil {
			// Stale cursor: the frontier is always a valid position.
			s.Pointer = frontier
		}
	}
	if rec.AbandonedAt != nil {
		if err := e.Abandon(s, *rec.AbandonedAt); err != nil {
			return nil, fmt.Errorf("restore session %s: %w", rec.SessionID, err)
		}
	}
	return s, nil
}

func ensureTransition(s *domain.Session, to domain.Status) error {
	switch s.Status {
	case domain.StatusStarted, domain.StatusInProgress:
		switch to {
		case domain.StatusInProgress, domain.StatusCompleted, domain.StatusAbandoned:
			return nil
		}
	}
	return &domain.StateError{SessionID: s.ID, Status: s.Status, Op: fmt.Sprintf("move to %s", to)}
}

// stamp normalizes timestamps to UTC milliseconds so every store round-trips them exactly.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
