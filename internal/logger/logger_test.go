package logger

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &Logger{SugaredLogger: zap.New(core).Sugar(), salt: "s"}, logs
}

func TestSanitizeRedactsAndHashes(t *testing.T) {
	l, logs := observed()
	l.Info("request", "jwt_secret", "hunter2", "Authorization", "Bearer abc", "user_id", "u-1", "question_id", "water_source")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["jwt_secret"] != "[REDACTED]" || fields["Authorization"] != "[REDACTED]" {
		t.Fatalf("credentials not redacted: %v", fields)
	}
	uid, _ := fields["user_id"].(string)
	if !strings.HasPrefix(uid, "hash:") || strings.Contains(uid, "u-1") {
		t.Fatalf("user id not hashed: %v", uid)
	}
	if fields["question_id"] != "water_source" {
		t.Fatalf("plain field changed: %v", fields["question_id"])
	}
}

func TestWithKeepsSanitizing(t *testing.T) {
	l, logs := observed()
	l.With("token", "t").Debug("x", "n", 1)
	fields := logs.All()[0].ContextMap()
	if fields["token"] != "[REDACTED]" || fields["n"] != int64(1) {
		t.Fatalf("fields = %v", fields)
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, err := New("loud"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
	if Nop() == nil {
		t.Fatalf("nop logger is nil")
	}
}
