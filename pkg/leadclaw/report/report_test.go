package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/leadclaw/pkg/leadclaw/store"
)

type fakeDialogs struct {
	entries []store.DialogEntry
	err     error
}

func (f *fakeDialogs) DialogsSince(cutoff time.Time) ([]store.DialogEntry, error) {
	return f.entries, f.err
}

type fakeMailer struct {
	subject string
	body    string
	calls   int
	err     error
}

func (f *fakeMailer) SendReportEmail(ctx context.Context, subject, htmlBody string) error {
	f.calls++
	f.subject = subject
	f.body = htmlBody
	return f.err
}

func newTestReporter(dialogs *fakeDialogs, mailer *fakeMailer) *Reporter {
	cfg := DefaultConfig()
	cfg.Enabled = true
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	return New(cfg, dialogs, mailer, logger)
}

func TestSendReportGroupsByUser(t *testing.T) {
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	dialogs := &fakeDialogs{entries: []store.DialogEntry{
		{UserID: "bob", Role: "user", Message: "hi", CreatedAt: now.Add(-3 * time.Hour)},
		{UserID: "bob", Role: "assistant", Message: "hello", CreatedAt: now.Add(-3 * time.Hour)},
		{UserID: "alice", Role: "user", Message: "pricing?", CreatedAt: now.Add(-time.Hour)},
	}}
	mailer := &fakeMailer{}

	r := newTestReporter(dialogs, mailer)
	if err := r.SendReport(context.Background(), now); err != nil {
		t.Fatalf("SendReport failed: %v", err)
	}

	if mailer.calls != 1 {
		t.Fatalf("expected 1 email, got %d", mailer.calls)
	}
	if !strings.Contains(mailer.subject, "2026-03-10") {
		t.Errorf("expected date in subject, got %q", mailer.subject)
	}

	// Users appear sorted, each with their own section.
	aliceAt := strings.Index(mailer.body, "User alice")
	bobAt := strings.Index(mailer.body, "User bob")
	if aliceAt == -1 || bobAt == -1 {
		t.Fatalf("missing user sections in body: %s", mailer.body)
	}
	if aliceAt > bobAt {
		t.Error("expected users sorted alphabetically")
	}
	if !strings.Contains(mailer.body, "pricing?") {
		t.Error("expected message content in body")
	}
}

func TestSendReportEmptyWindow(t *testing.T) {
	mailer := &fakeMailer{}
	r := newTestReporter(&fakeDialogs{}, mailer)

	if err := r.SendReport(context.Background(), time.Now()); err != nil {
		t.Fatalf("SendReport failed: %v", err)
	}
	if mailer.calls != 1 {
		t.Fatal("empty window must still send a report")
	}
	if !strings.Contains(mailer.body, "No conversations") {
		t.Errorf("expected empty-period note, got %s", mailer.body)
	}
}

func TestSendReportCollectError(t *testing.T) {
	dialogs := &fakeDialogs{err: fmt.Errorf("db locked")}
	mailer := &fakeMailer{}
	r := newTestReporter(dialogs, mailer)

	if err := r.SendReport(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error when collection fails")
	}
	if mailer.calls != 0 {
		t.Error("must not email on collection failure")
	}
}

func TestRenderHTMLEscapesContent(t *testing.T) {
	now := time.Now()
	entries := []store.DialogEntry{
		{UserID: "u1", Role: "user", Message: "<script>alert(1)</script>", CreatedAt: now},
	}

	body := RenderHTML(entries, now.Add(-time.Hour), now)
	if strings.Contains(body, "<script>") {
		t.Error("message content must be HTML-escaped")
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Error("expected escaped content in body")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	r := New(cfg, &fakeDialogs{}, &fakeMailer{}, logger)

	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Stop() // must not hang without a scheduler
}

func TestStartRejectsBadSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Schedule = "not a cron expr"
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	r := New(cfg, &fakeDialogs{}, &fakeMailer{}, logger)

	if err := r.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
