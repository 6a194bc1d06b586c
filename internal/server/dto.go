package server

import (
	"encoding/json"
	"time"

	"inspectline/internal/domain"
	"inspectline/internal/library"
)

// Request payloads

type ContextRequest struct {
	JobType    string `json:"job_type" minLength:"1"`
	Region     string `json:"region,omitempty"`
	AccessTier string `json:"access_tier" enum:"free,standard,premium,enterprise"`
}

func (c ContextRequest) toDomain() domain.Context {
	return domain.Context{JobType: c.JobType, Region: c.Region, AccessTier: domain.AccessTier(c.AccessTier)}
}

type StartInterviewRequest struct {
	FormTemplateID string         `json:"form_template_id" minLength:"1"`
	Context        ContextRequest `json:"context"`
}

type AnswerRequest struct {
	QuestionID string `json:"question_id" minLength:"1"`
	Value      any    `json:"value,omitempty" doc:"Option value, list of option values, boolean or text depending on the prompt type"`
}

type JumpRequest struct {
	QuestionID string `json:"question_id" minLength:"1"`
}

type DevLoginRequest struct {
	Subject string `json:"sub" minLength:"1"`
	Tier    string `json:"tier,omitempty" enum:"free,standard,premium,enterprise"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type SessionResponse struct {
	Session         *domain.Session  `json:"session"`
	CurrentQuestion *domain.Question `json:"current_question,omitempty"`
}

func sessionResponse(s *domain.Session) SessionResponse {
	resp := SessionResponse{Session: s}
	if q, ok := s.Current(); ok {
		resp.CurrentQuestion = &q
	}
	return resp
}

type FormResponse struct {
	ID     string   `json:"id"`
	Title  string   `json:"title,omitempty"`
	Fields []string `json:"fields"`
}

type LibraryResponse struct {
	Version         string         `json:"version"`
	Forms           []FormResponse `json:"forms"`
	QuestionCount   int            `json:"question_count"`
	Classifications []string       `json:"classifications"`
}

func libraryResponse(lib *library.Library) LibraryResponse {
	resp := LibraryResponse{
		Version:         lib.Version(),
		Forms:           []FormResponse{},
		QuestionCount:   len(lib.Questions()),
		Classifications: []string{},
	}
	for _, f := range lib.Forms() {
		resp.Forms = append(resp.Forms, FormResponse{ID: f.ID, Title: f.Title, Fields: f.Fields})
	}
	for _, c := range lib.Classifications() {
		resp.Classifications = append(resp.Classifications, c.ID)
	}
	return resp
}

type EventResponse struct {
	ID        int64          `json:"id"`
	TS        time.Time      `json:"ts"`
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload"`
}

func eventResponse(e domain.Event) EventResponse {
	resp := EventResponse{ID: e.ID, TS: e.TS, Type: e.Type, SessionID: e.SessionID, ActorID: e.ActorID, Payload: map[string]any{}}
	_ = json.Unmarshal([]byte(e.Payload), &resp.Payload)
	return resp
}

type EventListResponse struct {
	Items []EventResponse `json:"items"`
}
