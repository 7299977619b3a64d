package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertActivityResetsFlags(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	if err := s.UpsertActivity("u1", "telegram", "100", now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("UpsertActivity failed: %v", err)
	}
	if err := s.MarkReminderSent("u1", StageFirst); err != nil {
		t.Fatalf("MarkReminderSent failed: %v", err)
	}
	if err := s.MarkReminderSent("u1", StageSecond); err != nil {
		t.Fatalf("MarkReminderSent failed: %v", err)
	}

	// A new inbound message resets both flags.
	if err := s.UpsertActivity("u1", "telegram", "100", now.Add(-90*time.Minute)); err != nil {
		t.Fatalf("UpsertActivity failed: %v", err)
	}

	first, err := s.Candidates(StageFirst, 30*time.Minute, now)
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(first) != 1 || first[0].UserID != "u1" {
		t.Errorf("expected u1 eligible for stage one after reset, got %v", first)
	}

	second, err := s.Candidates(StageSecond, 60*time.Minute, now)
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("expected no stage-two candidates after reset, got %v", second)
	}
}

func TestCandidatesStageSelection(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	// Inactive 31 minutes, no reminders yet: stage one only.
	if err := s.UpsertActivity("fresh", "telegram", "11", now.Add(-31*time.Minute)); err != nil {
		t.Fatalf("UpsertActivity failed: %v", err)
	}

	// Inactive 2 hours, first reminder already sent: stage two only.
	if err := s.UpsertActivity("stale", "discord", "chan22", now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("UpsertActivity failed: %v", err)
	}
	if err := s.MarkReminderSent("stale", StageFirst); err != nil {
		t.Fatalf("MarkReminderSent failed: %v", err)
	}

	// Active 5 minutes ago: neither stage.
	if err := s.UpsertActivity("active", "telegram", "33", now.Add(-5*time.Minute)); err != nil {
		t.Fatalf("UpsertActivity failed: %v", err)
	}

	first, err := s.Candidates(StageFirst, 30*time.Minute, now)
	if err != nil {
		t.Fatalf("Candidates(first) failed: %v", err)
	}
	if len(first) != 1 || first[0].UserID != "fresh" {
		t.Errorf("stage one: expected [fresh], got %v", first)
	}
	if first[0].Channel != "telegram" || first[0].ChatID != "11" {
		t.Errorf("stage one: wrong route %s/%s", first[0].Channel, first[0].ChatID)
	}

	second, err := s.Candidates(StageSecond, 60*time.Minute, now)
	if err != nil {
		t.Fatalf("Candidates(second) failed: %v", err)
	}
	if len(second) != 1 || second[0].UserID != "stale" {
		t.Errorf("stage two: expected [stale], got %v", second)
	}
	if second[0].Channel != "discord" || second[0].ChatID != "chan22" {
		t.Errorf("stage two: wrong route %s/%s", second[0].Channel, second[0].ChatID)
	}
}

func TestCandidatesAfterMark(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	if err := s.UpsertActivity("u1", "telegram", "100", now.Add(-45*time.Minute)); err != nil {
		t.Fatalf("UpsertActivity failed: %v", err)
	}
	if err := s.MarkReminderSent("u1", StageFirst); err != nil {
		t.Fatalf("MarkReminderSent failed: %v", err)
	}

	first, err := s.Candidates(StageFirst, 30*time.Minute, now)
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(first) != 0 {
		t.Errorf("expected no stage-one candidates after mark, got %v", first)
	}
}

func TestSuccessfulDialog(t *testing.T) {
	s := newTestStore(t)

	has, err := s.HasSuccessfulDialog("u1")
	if err != nil {
		t.Fatalf("HasSuccessfulDialog failed: %v", err)
	}
	if has {
		t.Error("expected no successful dialog for unseen user")
	}

	contact := Contact{Name: "Ana", Phone: "+5511999990000"}
	if err := s.RecordSuccessfulDialog("u1", contact, "user: hi\nassistant: hello"); err != nil {
		t.Fatalf("RecordSuccessfulDialog failed: %v", err)
	}

	has, err = s.HasSuccessfulDialog("u1")
	if err != nil {
		t.Fatalf("HasSuccessfulDialog failed: %v", err)
	}
	if !has {
		t.Error("expected successful dialog after recording")
	}
}

func TestTranscriptOrderAndLimit(t *testing.T) {
	s := newTestStore(t)

	msgs := []struct{ role, text string }{
		{"user", "hello"},
		{"assistant", "hi, how can I help?"},
		{"user", "pricing please"},
		{"assistant", "here are our plans"},
	}
	for _, m := range msgs {
		if err := s.AppendMessage("u1", m.role, m.text); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	full, err := s.Transcript("u1", 0)
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	if len(full) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(full))
	}
	if full[0].Message != "hello" || full[3].Message != "here are our plans" {
		t.Errorf("transcript out of order: %+v", full)
	}

	last, err := s.Transcript("u1", 2)
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	if len(last) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(last))
	}
	if last[0].Message != "pricing please" || last[1].Message != "here are our plans" {
		t.Errorf("limited transcript wrong or out of order: %+v", last)
	}
}

func TestThreadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	id, err := s.ThreadID("u1")
	if err != nil {
		t.Fatalf("ThreadID failed: %v", err)
	}
	if id != "" {
		t.Errorf("expected empty thread for unseen user, got %q", id)
	}

	if err := s.SetThreadID("u1", "thread_abc"); err != nil {
		t.Fatalf("SetThreadID failed: %v", err)
	}
	id, err = s.ThreadID("u1")
	if err != nil {
		t.Fatalf("ThreadID failed: %v", err)
	}
	if id != "thread_abc" {
		t.Errorf("expected thread_abc, got %q", id)
	}

	// Overwrite keeps a single row per user.
	if err := s.SetThreadID("u1", "thread_def"); err != nil {
		t.Fatalf("SetThreadID failed: %v", err)
	}
	id, _ = s.ThreadID("u1")
	if id != "thread_def" {
		t.Errorf("expected thread_def after overwrite, got %q", id)
	}
}

func TestDialogsSince(t *testing.T) {
	s := newTestStore(t)

	if err := s.AppendMessage("u1", "user", "old enough"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := s.AppendMessage("u2", "assistant", "also recent"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	entries, err := s.DialogsSince(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("DialogsSince failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries in window, got %d", len(entries))
	}

	entries, err = s.DialogsSince(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DialogsSince failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries in future window, got %d", len(entries))
	}
}
