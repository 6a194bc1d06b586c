package inspectlinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"inspectline/internal/app"
	"inspectline/internal/domain"
	"inspectline/internal/logger"
	"inspectline/internal/server"
)

func newClient(t *testing.T, subject string, tier domain.AccessTier) *Client {
	t.Helper()
	ctx := context.Background()
	a, err := app.Open(ctx, app.Options{Workspace: t.TempDir(), Log: logger.Nop()})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	t.Cleanup(func() { a.Close(ctx) })
	handler, err := server.New(server.Config{Engine: a.Engine, BasePath: "/v0", Auth: server.AuthConfig{JWTSecret: "sdk-secret"}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	token, err := server.SignToken("sdk-secret", subject, tier, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return New(srv.URL, token)
}

func TestClientInterview(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "inspector-1", domain.TierFree)

	iv, err := c.StartInterview(ctx, "water-damage-report", Context{JobType: "water", AccessTier: "free"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if iv.CurrentQuestion == nil || iv.CurrentQuestion.ID != "water_source" {
		t.Fatalf("current question = %+v", iv.CurrentQuestion)
	}
	iv, err = c.Answer(ctx, iv.Session.ID, "water_source", "clean_water")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if len(iv.Session.Answers) != 1 || iv.CurrentQuestion.ID != "hours_since_loss" {
		t.Fatalf("after answer = %+v", iv)
	}
	iv, err = c.Previous(ctx, iv.Session.ID)
	if err != nil || iv.CurrentQuestion.ID != "water_source" {
		t.Fatalf("previous = %+v (%v)", iv.CurrentQuestion, err)
	}

	comp, err := c.Completion(ctx, iv.Session.ID)
	if err != nil || comp.Complete || len(comp.Missing) == 0 {
		t.Fatalf("completion = %+v (%v)", comp, err)
	}

	_, err = c.Submit(ctx, iv.Session.ID)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict || apiErr.Code != "invalid_state" {
		t.Fatalf("submit before completion = %v", err)
	}

	evs, err := c.Events(ctx, iv.Session.ID, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 3 || evs[0].Type != "session.started" || evs[2].Type != "session.navigated" {
		t.Fatalf("events = %+v", evs)
	}
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "inspector-1", domain.TierFree)

	_, err := c.Interview(ctx, "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("missing interview = %v", err)
	}

	c.BearerToken = ""
	_, err = c.Interview(ctx, "nope")
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous = %v", err)
	}
}
