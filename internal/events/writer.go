package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"inspectline/internal/domain"
)

const (
	SessionStarted   = "session.started"
	AnswerRecorded   = "answer.recorded"
	SessionNavigated = "session.navigated"
	SessionCompleted = "session.completed"
	SessionAbandoned = "session.abandoned"
	FormSubmitted    = "form.submitted"
)

type Payload map[string]any

// Log is an append-only audit trail keyed by session.
type Log interface {
	Append(ctx context.Context, e domain.Event) error
	// List returns the latest limit events of a session, oldest first.
	List(ctx context.Context, sessionID string, limit int) ([]domain.Event, error)
}

// New builds an event with a JSON-encoded payload.
func New(evtType, sessionID, actorID string, at time.Time, payload Payload) (domain.Event, error) {
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	return domain.Event{
		TS:        at.UTC(),
		Type:      evtType,
		SessionID: sessionID,
		ActorID:   actorID,
		Payload:   string(data),
	}, nil
}

// Writer is the SQLite event log.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, e domain.Event) error {
	if e.TS.IsZero() {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		e.TS = now()
	}
	if e.Payload == "" {
		e.Payload = "{}"
	}
	_, err := w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,session_id,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		e.TS.UTC().Format(time.RFC3339Nano), e.Type, e.SessionID, e.ActorID, e.Payload)
	if err != nil {
		return fmt.Errorf("append event %s: %w", e.Type, err)
	}
	return nil
}

func (w Writer) List(ctx context.Context, sessionID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := w.DB.QueryContext(ctx, `SELECT id,ts,type,session_id,actor_id,payload_json FROM (
		SELECT * FROM events WHERE session_id=? ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.SessionID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		if e.TS, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("event %d: bad timestamp %q: %w", e.ID, ts, err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
