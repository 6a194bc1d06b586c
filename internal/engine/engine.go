package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"inspectline/internal/config"
	"inspectline/internal/domain"
	"inspectline/internal/engine/auth"
	"inspectline/internal/events"
	"inspectline/internal/flow"
	"inspectline/internal/generation"
	"inspectline/internal/library"
	"inspectline/internal/logger"
	"inspectline/internal/mapping"
	"inspectline/internal/repo"
)

// SessionStore persists session records. Only context and answers (plus the
// abandonment time and navigation cursor) are stored; everything else is
// replayed on load.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (domain.SessionRecord, error)
	Save(ctx context.Context, rec domain.SessionRecord) error
}

// FormSubmitter receives the export payload of a completed session.
type FormSubmitter interface {
	Submit(ctx context.Context, receipt domain.SubmissionReceipt, payload domain.SubmissionPayload) error
}

// ErrNoSubmitter is returned by Submit when no form submission sink is configured.
var ErrNoSubmitter = errors.New("no form submitter configured")

type Engine struct {
	Flow      *flow.Engine
	Store     SessionStore
	Events    events.Log
	Submitter FormSubmitter
	Config    *config.Config
	Log       *logger.Logger
	Now       func() time.Time
	NewID     func() string

	locks sessionLocks
}

func New(f *flow.Engine, store SessionStore, log events.Log, submitter FormSubmitter, cfg *config.Config, lg *logger.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if lg == nil {
		lg = logger.Nop()
	}
	return &Engine{
		Flow:      f,
		Store:     store,
		Events:    log,
		Submitter: submitter,
		Config:    cfg,
		Log:       lg,
		Now:       time.Now,
		NewID:     func() string { return uuid.NewString() },
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) Library() *library.Library { return e.Flow.Library() }

func (e *Engine) confidenceFloor() int {
	if e.Config == nil {
		return mapping.DefaultConfidenceFloor
	}
	return e.Config.Mapping.ConfidenceFloor
}

// Preview generates the question set a context would get, without starting a session.
func (e *Engine) Preview(ctx context.Context, actor auth.Actor, c domain.Context) (generation.Result, error) {
	if err := actor.CanUse(c.AccessTier); err != nil {
		return generation.Result{}, err
	}
	return e.Flow.Generate(c)
}

// StartOptions are parameters for starting an interview.
type StartOptions struct {
	FormTemplateID string
	Context        domain.Context
	Actor          auth.Actor
}

func (e *Engine) Start(ctx context.Context, opts StartOptions) (*domain.Session, error) {
	if err := opts.Actor.CanUse(opts.Context.AccessTier); err != nil {
		return nil, e.rejected("start", "", err)
	}
	s, err := e.Flow.Initialize(flow.StartOptions{
		SessionID:      e.NewID(),
		UserID:         opts.Actor.ID,
		FormTemplateID: opts.FormTemplateID,
		Context:        opts.Context,
		At:             e.now(),
	})
	if err != nil {
		return nil, e.rejected("start", "", err)
	}
	if err := e.save(ctx, s); err != nil {
		return nil, err
	}
	e.emit(ctx, s.ID, opts.Actor, events.SessionStarted, events.Payload{
		"form_template_id": s.FormTemplateID,
		"job_type":         s.Context.JobType,
		"region":           s.Context.Region,
		"access_tier":      s.Context.AccessTier,
		"library_version":  s.LibraryVersion,
		"questions":        len(s.Questions),
	})
	if s.Status == domain.StatusCompleted {
		e.emit(ctx, s.ID, opts.Actor, events.SessionCompleted, nil)
	}
	e.Log.Debug("session started", "session", s.ID, "user_id", s.UserID, "questions", len(s.Questions))
	return s, nil
}

// Get restores a session from its stored record.
func (e *Engine) Get(ctx context.Context, actor auth.Actor, sessionID string) (*domain.Session, error) {
	return e.load(ctx, actor, sessionID)
}

func (e *Engine) RecordAnswer(ctx context.Context, actor auth.Actor, sessionID, questionID string, value any) (*domain.Session, error) {
	unlock := e.locks.lock(sessionID)
	defer unlock()
	s, err := e.load(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	before := s.Status
	if err := e.Flow.RecordAnswer(s, questionID, value, e.now()); err != nil {
		return nil, e.rejected("record answer", sessionID, err)
	}
	if err := e.save(ctx, s); err != nil {
		return nil, err
	}
	a, _ := s.Answer(questionID)
	next := ""
	if q, ok := s.Current(); ok {
		next = q.ID
	}
	e.emit(ctx, s.ID, actor, events.AnswerRecorded, events.Payload{
		"question_id":   questionID,
		"confidence":    a.Confidence,
		"next_question": next,
		"status":        s.Status,
	})
	if before != domain.StatusCompleted && s.Status == domain.StatusCompleted {
		e.emit(ctx, s.ID, actor, events.SessionCompleted, events.Payload{"answers": len(s.Answers)})
	}
	e.Log.Debug("answer recorded", "session", s.ID, "question", questionID, "next", next, "status", s.Status)
	return s, nil
}

func (e *Engine) GoToPreviousQuestion(ctx context.Context, actor auth.Actor, sessionID string) (*domain.Session, error) {
	return e.navigate(ctx, actor, sessionID, "previous", e.Flow.GoToPreviousQuestion)
}

func (e *Engine) JumpToQuestion(ctx context.Context, actor auth.Actor, sessionID, questionID string) (*domain.Session, error) {
	return e.navigate(ctx, actor, sessionID, "jump", func(s *domain.Session) error {
		return e.Flow.JumpToQuestion(s, questionID)
	})
}

func (e *Engine) navigate(ctx context.Context, actor auth.Actor, sessionID, op string, move func(*domain.Session) error) (*domain.Session, error) {
	unlock := e.locks.lock(sessionID)
	defer unlock()
	s, err := e.load(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	from := ""
	if q, ok := s.Current(); ok {
		from = q.ID
	}
	if err := move(s); err != nil {
		return nil, e.rejected(op, sessionID, err)
	}
	if err := e.save(ctx, s); err != nil {
		return nil, err
	}
	to, _ := s.Current()
	e.emit(ctx, s.ID, actor, events.SessionNavigated, events.Payload{"op": op, "from": from, "to": to.ID})
	e.Log.Debug("session navigated", "session", s.ID, "op", op, "from", from, "to", to.ID)
	return s, nil
}

func (e *Engine) ValidateCompletion(ctx context.Context, actor auth.Actor, sessionID string) (domain.CompletionResult, error) {
	s, err := e.load(ctx, actor, sessionID)
	if err != nil {
		return domain.CompletionResult{}, err
	}
	return e.Flow.ValidateCompletion(s)
}

func (e *Engine) Abandon(ctx context.Context, actor auth.Actor, sessionID string) (*domain.Session, error) {
	unlock := e.locks.lock(sessionID)
	defer unlock()
	s, err := e.load(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.Flow.Abandon(s, e.now()); err != nil {
		return nil, e.rejected("abandon", sessionID, err)
	}
	if err := e.save(ctx, s); err != nil {
		return nil, err
	}
	e.emit(ctx, s.ID, actor, events.SessionAbandoned, events.Payload{"answers": len(s.Answers)})
	e.Log.Debug("session abandoned", "session", s.ID)
	return s, nil
}

func (e *Engine) Quality(ctx context.Context, actor auth.Actor, sessionID string) (domain.QualityReport, error) {
	s, form, err := e.loadWithForm(ctx, actor, sessionID)
	if err != nil {
		return domain.QualityReport{}, err
	}
	return mapping.Quality(s.Populations, form, e.confidenceFloor()), nil
}

func (e *Engine) Export(ctx context.Context, actor auth.Actor, sessionID string) (domain.SubmissionPayload, error) {
	s, form, err := e.loadWithForm(ctx, actor, sessionID)
	if err != nil {
		return domain.SubmissionPayload{}, err
	}
	return mapping.Export(s, form, e.confidenceFloor()), nil
}

// Submit hands the export payload of a completed session to the form submitter.
func (e *Engine) Submit(ctx context.Context, actor auth.Actor, sessionID string) (domain.SubmissionReceipt, error) {
	if e.Submitter == nil {
		return domain.SubmissionReceipt{}, ErrNoSubmitter
	}
	unlock := e.locks.lock(sessionID)
	defer unlock()
	s, form, err := e.loadWithForm(ctx, actor, sessionID)
	if err != nil {
		return domain.SubmissionReceipt{}, err
	}
	if s.Status != domain.StatusCompleted {
		return domain.SubmissionReceipt{}, e.rejected("submit", sessionID, &domain.StateError{SessionID: s.ID, Status: s.Status, Op: "submit"})
	}
	payload := mapping.Export(s, form, e.confidenceFloor())
	receipt := domain.SubmissionReceipt{ID: e.NewID(), SessionID: s.ID, SubmittedAt: e.now().UTC()}
	if err := e.Submitter.Submit(ctx, receipt, payload); err != nil {
		return domain.SubmissionReceipt{}, fmt.Errorf("submit session %s: %w", s.ID, err)
	}
	e.emit(ctx, s.ID, actor, events.FormSubmitted, events.Payload{
		"submission_id":    receipt.ID,
		"form_template_id": form.ID,
		"completeness":     payload.Quality.Completeness,
	})
	e.Log.Info("form submitted", "session", s.ID, "submission", receipt.ID)
	return receipt, nil
}

// ListEvents returns the latest audit events of a session, oldest first.
func (e *Engine) ListEvents(ctx context.Context, actor auth.Actor, sessionID string, limit int) ([]domain.Event, error) {
	rec, err := e.Store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := actor.CanAccess(rec); err != nil {
		return nil, err
	}
	if e.Events == nil {
		return []domain.Event{}, nil
	}
	return e.Events.List(ctx, sessionID, limit)
}

func (e *Engine) load(ctx context.Context, actor auth.Actor, sessionID string) (*domain.Session, error) {
	rec, err := e.Store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", sessionID, err)
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if err := actor.CanAccess(rec); err != nil {
		return nil, e.rejected("open", sessionID, err)
	}
	s, err := e.Flow.Restore(rec)
	if err != nil {
		e.Log.Error("session replay failed", "session", sessionID, "error", err)
		return nil, err
	}
	if rec.Cursor != "" {
		if cur, ok := s.Current(); !ok || cur.ID != rec.Cursor {
			e.Log.Warn("stale cursor dropped", "session", sessionID, "cursor", rec.Cursor, "pointer", s.Pointer)
		}
	}
	return s, nil
}

func (e *Engine) loadWithForm(ctx context.Context, actor auth.Actor, sessionID string) (*domain.Session, domain.Form, error) {
	s, err := e.load(ctx, actor, sessionID)
	if err != nil {
		return nil, domain.Form{}, err
	}
	form, ok := e.Library().Form(s.FormTemplateID)
	if !ok {
		return nil, domain.Form{}, &domain.ConfigurationError{Problems: []string{fmt.Sprintf("form template %s is not in library %s", s.FormTemplateID, e.Library().Version())}}
	}
	return s, form, nil
}

func (e *Engine) save(ctx context.Context, s *domain.Session) error {
	rec, err := e.Flow.Record(s)
	if err != nil {
		return err
	}
	if err := e.Store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// emit appends an audit event after the session was saved. A failed append is
// logged; the state change it describes has already been committed.
func (e *Engine) emit(ctx context.Context, sessionID string, actor auth.Actor, evtType string, payload events.Payload) {
	if e.Events == nil {
		return
	}
	evt, err := events.New(evtType, sessionID, actor.ID, e.now(), payload)
	if err == nil {
		err = e.Events.Append(ctx, evt)
	}
	if err != nil {
		e.Log.Error("audit event lost", "session", sessionID, "type", evtType, "error", err)
	}
}

func (e *Engine) rejected(op, sessionID string, err error) error {
	e.Log.Info("operation rejected", "op", op, "session", sessionID, "kind", errorKind(err), "error", err)
	return err
}

func errorKind(err error) string {
	var (
		ve *domain.ValidationError
		oe *domain.OutOfOrderAnswerError
		se *domain.StateError
		ce *domain.ConfigurationError
		fe auth.ForbiddenError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &oe):
		return "out_of_order"
	case errors.As(err, &se):
		return "state"
	case errors.As(err, &ce):
		return "configuration"
	case errors.As(err, &fe):
		return "forbidden"
	}
	return "other"
}

// sessionLocks serializes operations on the same session within a process.
type sessionLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = map[string]*lockEntry{}
	}
	entry := l.m[id]
	if entry == nil {
		entry = &lockEntry{}
		l.m[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
