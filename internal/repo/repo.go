package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"inspectline/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadySubmitted = errors.New("session already submitted")
	errNoSessionID      = errors.New("session record has no id")
)

// SQLiteStore persists session records and form submissions in the workspace database.
type SQLiteStore struct {
	DB *sql.DB
}

func (r SQLiteStore) Load(ctx context.Context, sessionID string) (domain.SessionRecord, error) {
	var (
		rec            domain.SessionRecord
		region, cursor sql.NullString
		createdAt      string
		abandonedAt    sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,form_template_id,library_version,job_type,region,access_tier,created_at,abandoned_at,cursor
		FROM sessions WHERE id=?`, sessionID).Scan(
		&rec.SessionID, &rec.UserID, &rec.FormTemplateID, &rec.LibraryVersion,
		&rec.Context.JobType, &region, &rec.Context.AccessTier, &createdAt, &abandonedAt, &cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.SessionRecord{}, err
	}
	rec.Context.Region = region.String
	rec.Cursor = cursor.String
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.SessionRecord{}, err
	}
	if abandonedAt.Valid {
		at, err := parseTime(abandonedAt.String)
		if err != nil {
			return domain.SessionRecord{}, err
		}
		rec.AbandonedAt = &at
	}

	rows, err := r.DB.QueryContext(ctx, `SELECT question_id,value_json,confidence,answered_at FROM session_answers WHERE session_id=? ORDER BY position`, sessionID)
	if err != nil {
		return domain.SessionRecord{}, err
	}
	defer rows.Close()
	rec.Answers = []domain.Answer{}
	for rows.Next() {
		var (
			a       domain.Answer
			raw, ts string
		)
		if err := rows.Scan(&a.QuestionID, &raw, &a.Confidence, &ts); err != nil {
			return domain.SessionRecord{}, err
		}
		if err := json.Unmarshal([]byte(raw), &a.Value); err != nil {
			return domain.SessionRecord{}, fmt.Errorf("session %s answer %s: %w", sessionID, a.QuestionID, err)
		}
		if a.AnsweredAt, err = parseTime(ts); err != nil {
			return domain.SessionRecord{}, err
		}
		rec.Answers = append(rec.Answers, a)
	}
	return rec, rows.Err()
}

// Save replaces the stored record atomically.
func (r SQLiteStore) Save(ctx context.Context, rec domain.SessionRecord) error {
	if rec.SessionID == "" {
		return errNoSessionID
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var abandonedAt any
	if rec.AbandonedAt != nil {
		abandonedAt = formatTime(*rec.AbandonedAt)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO sessions(id,user_id,form_template_id,library_version,job_type,region,access_tier,created_at,abandoned_at,cursor,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET abandoned_at=excluded.abandoned_at, cursor=excluded.cursor, updated_at=excluded.updated_at`,
		rec.SessionID, rec.UserID, rec.FormTemplateID, rec.LibraryVersion,
		rec.Context.JobType, nullable(rec.Context.Region), string(rec.Context.AccessTier),
		formatTime(rec.CreatedAt), abandonedAt, nullable(rec.Cursor), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.SessionID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_answers WHERE session_id=?`, rec.SessionID); err != nil {
		return err
	}
	for i, a := range rec.Answers {
		raw, err := json.Marshal(a.Value)
		if err != nil {
			return fmt.Errorf("session %s answer %s: %w", rec.SessionID, a.QuestionID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO session_answers(session_id,position,question_id,value_json,confidence,answered_at) VALUES (?,?,?,?,?,?)`,
			rec.SessionID, i, a.QuestionID, string(raw), a.Confidence, formatTime(a.AnsweredAt)); err != nil {
			return fmt.Errorf("save session %s answer %s: %w", rec.SessionID, a.QuestionID, err)
		}
	}
	return tx.Commit()
}

// Submit stores the export payload of a completed session. A session is submitted at most once.
func (r SQLiteStore) Submit(ctx context.Context, receipt domain.SubmissionReceipt, payload domain.SubmissionPayload) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM form_submissions WHERE session_id=?`, receipt.SessionID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrAlreadySubmitted
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO form_submissions(id,session_id,form_template_id,payload_json,submitted_at) VALUES (?,?,?,?,?)`,
		receipt.ID, receipt.SessionID, payload.FormTemplateID, data, formatTime(receipt.SubmittedAt)); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return tx.Commit()
}

// Submission returns the stored payload for a session.
func (r SQLiteStore) Submission(ctx context.Context, sessionID string) (domain.SubmissionReceipt, domain.SubmissionPayload, error) {
	var (
		receipt domain.SubmissionReceipt
		payload domain.SubmissionPayload
		raw, ts string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,session_id,payload_json,submitted_at FROM form_submissions WHERE session_id=?`, sessionID).
		Scan(&receipt.ID, &receipt.SessionID, &raw, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return receipt, payload, ErrNotFound
	}
	if err != nil {
		return receipt, payload, err
	}
	if receipt.SubmittedAt, err = parseTime(ts); err != nil {
		return receipt, payload, err
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return receipt, payload, fmt.Errorf("decode submission %s: %w", receipt.ID, err)
	}
	return receipt, payload, nil
}

func marshalPayload(p domain.SubmissionPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal submission: %w", err)
	}
	return string(data), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}
