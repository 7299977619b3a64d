package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/leadclaw/pkg/leadclaw/channels"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/store"
)

// ---------- Fakes ----------

type fakeStorage struct {
	mu sync.Mutex

	candidates map[store.ReminderStage][]store.Candidate
	successful map[string]bool
	threads    map[string]string

	marked   []string // "user:stage"
	appended []string // "user:role:text"

	candidatesErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		candidates: make(map[store.ReminderStage][]store.Candidate),
		successful: make(map[string]bool),
		threads:    make(map[string]string),
	}
}

func (f *fakeStorage) Candidates(stage store.ReminderStage, threshold time.Duration, now time.Time) ([]store.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.candidatesErr != nil {
		return nil, f.candidatesErr
	}
	return f.candidates[stage], nil
}

func (f *fakeStorage) HasSuccessfulDialog(userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.successful[userID], nil
}

func (f *fakeStorage) ThreadID(userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threads[userID], nil
}

func (f *fakeStorage) AppendMessage(userID, role, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, userID+":"+role+":"+text)
	return nil
}

func (f *fakeStorage) MarkReminderSent(userID string, stage store.ReminderStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, userID+":"+stage.String())
	return nil
}

type fakeAgent struct {
	mu           sync.Mutex
	instructions []string
	err          error
	failFor      string // userID that always errors
}

func (f *fakeAgent) Send(ctx context.Context, userID, threadID, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.failFor != "" && userID == f.failFor {
		return "", fmt.Errorf("agent unavailable for %s", userID)
	}
	f.instructions = append(f.instructions, message)
	return "reminder for " + userID, nil
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []string // "channel:to:text"
	err       error
}

func (f *fakeDeliverer) Send(ctx context.Context, channelName, to string, msg *channels.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, channelName+":"+to+":"+msg.Content)
	return nil
}

func newTestService(storage *fakeStorage, agent *fakeAgent, deliverer *fakeDeliverer) *Service {
	cfg := DefaultConfig()
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	return New(cfg, storage, agent, deliverer, logger)
}

// ---------- Tests ----------

func TestScanOnceSendsBothStages(t *testing.T) {
	storage := newFakeStorage()
	now := time.Now()

	storage.candidates[store.StageFirst] = []store.Candidate{
		{UserID: "u1", Channel: "telegram", ChatID: "11", LastActivity: now.Add(-31 * time.Minute)},
	}
	storage.candidates[store.StageSecond] = []store.Candidate{
		{UserID: "u2", Channel: "discord", ChatID: "chan22", LastActivity: now.Add(-25 * time.Hour)},
	}
	storage.threads["u1"] = "thread_1"
	storage.threads["u2"] = "thread_2"

	agent := &fakeAgent{}
	deliverer := &fakeDeliverer{}
	svc := newTestService(storage, agent, deliverer)
	svc.now = func() time.Time { return now }

	svc.ScanOnce(context.Background())

	if len(deliverer.delivered) != 2 {
		t.Fatalf("expected 2 deliveries, got %v", deliverer.delivered)
	}
	// Stage two is processed first.
	if deliverer.delivered[0] != "discord:chan22:reminder for u2" {
		t.Errorf("unexpected stage-two delivery: %s", deliverer.delivered[0])
	}
	if deliverer.delivered[1] != "telegram:11:reminder for u1" {
		t.Errorf("unexpected stage-one delivery: %s", deliverer.delivered[1])
	}

	wantMarks := []string{"u2:second", "u1:first"}
	if len(storage.marked) != 2 || storage.marked[0] != wantMarks[0] || storage.marked[1] != wantMarks[1] {
		t.Errorf("expected marks %v, got %v", wantMarks, storage.marked)
	}

	// Reminders land in the transcript as assistant messages.
	if len(storage.appended) != 2 {
		t.Fatalf("expected 2 transcript entries, got %v", storage.appended)
	}
	if storage.appended[1] != "u1:assistant:reminder for u1" {
		t.Errorf("unexpected transcript entry: %s", storage.appended[1])
	}
}

func TestScanOnceSubstitutesMinutes(t *testing.T) {
	storage := newFakeStorage()
	now := time.Now()

	storage.candidates[store.StageFirst] = []store.Candidate{
		{UserID: "u1", Channel: "telegram", ChatID: "11", LastActivity: now.Add(-31 * time.Minute)},
	}
	storage.threads["u1"] = "thread_1"

	agent := &fakeAgent{}
	svc := newTestService(storage, agent, &fakeDeliverer{})
	svc.now = func() time.Time { return now }

	svc.ScanOnce(context.Background())

	if len(agent.instructions) != 1 {
		t.Fatalf("expected 1 agent instruction, got %d", len(agent.instructions))
	}
	if !strings.Contains(agent.instructions[0], "31 minutes") {
		t.Errorf("expected elapsed minutes in instruction, got %q", agent.instructions[0])
	}
	if strings.Contains(agent.instructions[0], "{minutes}") {
		t.Errorf("placeholder not substituted: %q", agent.instructions[0])
	}
}

func TestScanOnceSuppressesConvertedUsers(t *testing.T) {
	storage := newFakeStorage()
	now := time.Now()

	storage.candidates[store.StageFirst] = []store.Candidate{
		{UserID: "done", Channel: "telegram", ChatID: "11", LastActivity: now.Add(-time.Hour)},
	}
	storage.threads["done"] = "thread_1"
	storage.successful["done"] = true

	agent := &fakeAgent{}
	deliverer := &fakeDeliverer{}
	svc := newTestService(storage, agent, deliverer)

	svc.ScanOnce(context.Background())

	if len(deliverer.delivered) != 0 {
		t.Errorf("expected no deliveries for converted user, got %v", deliverer.delivered)
	}
	if len(agent.instructions) != 0 {
		t.Errorf("expected no agent calls for converted user, got %v", agent.instructions)
	}
	// The flag still flips so the user stops appearing as a candidate.
	if len(storage.marked) != 1 || storage.marked[0] != "done:first" {
		t.Errorf("expected suppression mark, got %v", storage.marked)
	}
}

func TestScanOnceSkipsUsersWithoutThread(t *testing.T) {
	storage := newFakeStorage()
	now := time.Now()

	storage.candidates[store.StageFirst] = []store.Candidate{
		{UserID: "nothread", Channel: "telegram", ChatID: "11", LastActivity: now.Add(-time.Hour)},
	}

	deliverer := &fakeDeliverer{}
	svc := newTestService(storage, &fakeAgent{}, deliverer)

	svc.ScanOnce(context.Background())

	if len(deliverer.delivered) != 0 {
		t.Errorf("expected no deliveries without a thread, got %v", deliverer.delivered)
	}
	// Flag stays clear so a later scan can retry.
	if len(storage.marked) != 0 {
		t.Errorf("expected no marks without a thread, got %v", storage.marked)
	}
}

func TestScanOnceContinuesAfterPerUserFailure(t *testing.T) {
	storage := newFakeStorage()
	now := time.Now()

	storage.candidates[store.StageFirst] = []store.Candidate{
		{UserID: "u1", Channel: "telegram", ChatID: "11", LastActivity: now.Add(-time.Hour)},
		{UserID: "u2", Channel: "telegram", ChatID: "22", LastActivity: now.Add(-time.Hour)},
	}
	storage.threads["u1"] = "thread_1"
	storage.threads["u2"] = "thread_2"

	agent := &fakeAgent{failFor: "u1"}
	deliverer := &fakeDeliverer{}
	svc := newTestService(storage, agent, deliverer)

	svc.ScanOnce(context.Background())

	// u1 fails, u2 is still processed.
	if len(deliverer.delivered) != 1 || deliverer.delivered[0] != "telegram:22:reminder for u2" {
		t.Errorf("expected only u2 delivery, got %v", deliverer.delivered)
	}
	if len(storage.marked) != 1 || storage.marked[0] != "u2:first" {
		t.Errorf("failed reminders must not be marked, got %v", storage.marked)
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	svc := New(cfg, newFakeStorage(), &fakeAgent{}, &fakeDeliverer{}, logger)

	svc.Start(context.Background())
	svc.Stop() // must not hang without a running loop
}

func TestStartStopIdempotent(t *testing.T) {
	storage := newFakeStorage()
	svc := newTestService(storage, &fakeAgent{}, &fakeDeliverer{})

	ctx := context.Background()
	svc.Start(ctx)
	svc.Start(ctx) // second call is a no-op

	done := make(chan struct{})
	go func() {
		svc.Stop()
		svc.Stop() // second call is a no-op
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}
