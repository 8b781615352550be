package deliverylog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"creatormind/pkg/digest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "log", "delivery.db"), logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return s
}

var base = time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)

func TestAppendAssignsID(t *testing.T) {
	s := openTestStore(t)
	e := &digest.LogEntry{
		UserID:         "u1",
		RecipientEmail: "u1@example.com",
		Subject:        "Your 5 Video Ideas - 6/1/2025",
		Status:         digest.StatusDelivered,
		IdeaCount:      5,
		SentAt:         base,
	}
	if err := s.Append(context.Background(), e); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if e.ID == "" {
		t.Error("Append() did not assign an ID")
	}
}

func TestAppendRejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	tests := []struct {
		name  string
		entry *digest.LogEntry
	}{
		{"nil", nil},
		{"missing user", &digest.LogEntry{Status: digest.StatusSent}},
		{"bad status", &digest.LogEntry{UserID: "u1", Status: "queued"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Append(context.Background(), tt.entry); err == nil {
				t.Error("Append() error = nil, want error")
			}
		})
	}
}

func TestLastSuccessfulIgnoresFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if got, err := s.LastSuccessful(ctx, "u1"); err != nil || got != nil {
		t.Fatalf("LastSuccessful(empty) = %v, %v; want nil, nil", got, err)
	}

	entries := []*digest.LogEntry{
		{UserID: "u1", RecipientEmail: "a@example.com", Subject: "old", Status: digest.StatusSent, SentAt: base.Add(-14 * 24 * time.Hour)},
		{UserID: "u1", RecipientEmail: "a@example.com", Subject: "delivered", Status: digest.StatusDelivered, SentAt: base.Add(-7 * 24 * time.Hour), IdeaCount: 5},
		{UserID: "u1", RecipientEmail: "a@example.com", Subject: "failed", Status: digest.StatusFailed, SentAt: base, FailureReason: digest.ReasonSendFailed},
		{UserID: "u2", RecipientEmail: "b@example.com", Subject: "other user", Status: digest.StatusDelivered, SentAt: base},
	}
	for _, e := range entries {
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := s.LastSuccessful(ctx, "u1")
	if err != nil {
		t.Fatalf("LastSuccessful() error = %v", err)
	}
	if got == nil {
		t.Fatal("LastSuccessful() = nil, want entry")
	}
	if got.Subject != "delivered" {
		t.Errorf("LastSuccessful().Subject = %q, want %q", got.Subject, "delivered")
	}
	if !got.SentAt.Equal(base.Add(-7 * 24 * time.Hour)) {
		t.Errorf("LastSuccessful().SentAt = %v", got.SentAt)
	}
	if got.IdeaCount != 5 {
		t.Errorf("LastSuccessful().IdeaCount = %d, want 5", got.IdeaCount)
	}
}

func TestHistoryPaging(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := range 5 {
		e := &digest.LogEntry{
			UserID:         "u1",
			RecipientEmail: "a@example.com",
			Subject:        "entry",
			Status:         digest.StatusDelivered,
			IdeaCount:      i,
			SentAt:         base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	n, err := s.Count(ctx, "u1")
	if err != nil || n != 5 {
		t.Fatalf("Count() = %d, %v; want 5", n, err)
	}

	page, err := s.History(ctx, "u1", 2, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(page) != 2 || page[0].IdeaCount != 4 || page[1].IdeaCount != 3 {
		t.Errorf("History(first page) = %+v, want newest first", page)
	}

	page, err = s.History(ctx, "u1", 2, 4)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(page) != 1 || page[0].IdeaCount != 0 {
		t.Errorf("History(last page) = %+v, want oldest entry", page)
	}
}

func TestRecordEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := &digest.LogEntry{UserID: "u1", RecipientEmail: "a@example.com", Subject: "s", Status: digest.StatusSent, MessageID: "msg-1", SentAt: base}
	if err := s.Append(ctx, e); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if err := s.RecordEvent(ctx, "msg-1", digest.StatusDelivered, base.Add(time.Minute)); err != nil {
		t.Fatalf("RecordEvent(delivered) error = %v", err)
	}
	if err := s.RecordEvent(ctx, "msg-1", digest.StatusOpened, base.Add(time.Hour)); err != nil {
		t.Fatalf("RecordEvent(opened) error = %v", err)
	}

	got, err := s.LastSuccessful(ctx, "u1")
	if err != nil || got == nil {
		t.Fatalf("LastSuccessful() = %v, %v", got, err)
	}
	if got.Status != digest.StatusDelivered {
		t.Errorf("Status = %s, want delivered (opens must not break gating)", got.Status)
	}
	if got.DeliveredAt == nil || !got.DeliveredAt.Equal(base.Add(time.Minute)) {
		t.Errorf("DeliveredAt = %v", got.DeliveredAt)
	}
	if got.OpenedAt == nil || !got.OpenedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("OpenedAt = %v", got.OpenedAt)
	}

	if err := s.RecordEvent(ctx, "msg-1", digest.StatusBounced, base.Add(2*time.Hour)); err != nil {
		t.Fatalf("RecordEvent(bounced) error = %v", err)
	}
	if got, _ := s.LastSuccessful(ctx, "u1"); got != nil {
		t.Errorf("LastSuccessful() after bounce = %+v, want nil", got)
	}

	if err := s.RecordEvent(ctx, "missing", digest.StatusDelivered, base); !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordEvent(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.RecordEvent(ctx, "msg-1", digest.StatusFailed, base); err == nil {
		t.Error("RecordEvent(failed) error = nil, want unsupported status error")
	}
}
