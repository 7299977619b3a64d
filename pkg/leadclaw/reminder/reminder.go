// Package reminder implements the inactivity re-engagement scheduler.
// A background loop periodically scans for users who went quiet and asks
// the agent to compose up to two follow-up messages per silence period:
// a gentle nudge after a short delay and a final one much later.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/leadclaw/pkg/leadclaw/channels"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/store"
)

// Defaults.
const (
	DefaultFirstAfterMinutes  = 30
	DefaultSecondAfterMinutes = 24 * 60
	DefaultScanInterval       = time.Minute
)

// Config holds the reminder scheduler configuration.
type Config struct {
	// Enabled turns the scheduler on/off. When off, Start is a no-op.
	Enabled bool `yaml:"enabled"`

	// FirstAfterMinutes is the inactivity threshold for the first nudge.
	FirstAfterMinutes int `yaml:"first_after_minutes"`

	// SecondAfterMinutes is the inactivity threshold for the final nudge,
	// measured from the user's last activity.
	SecondAfterMinutes int `yaml:"second_after_minutes"`

	// ScanIntervalSeconds is how often the scheduler scans for candidates.
	ScanIntervalSeconds int `yaml:"scan_interval_seconds"`

	// FirstPrompt is the instruction given to the agent to compose the
	// first nudge. Supports the {minutes} placeholder.
	FirstPrompt string `yaml:"first_prompt"`

	// SecondPrompt is the instruction for the final nudge. Supports the
	// {minutes} placeholder.
	SecondPrompt string `yaml:"second_prompt"`
}

// DefaultConfig returns the scheduler defaults (enabled, 30 min / 24 h).
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		FirstAfterMinutes:   DefaultFirstAfterMinutes,
		SecondAfterMinutes:  DefaultSecondAfterMinutes,
		ScanIntervalSeconds: int(DefaultScanInterval / time.Second),
		FirstPrompt: "The user has been silent for {minutes} minutes. " +
			"Write a short, friendly message to gently re-engage them and offer help with where the conversation left off.",
		SecondPrompt: "The user has been silent for {minutes} minutes despite an earlier follow-up. " +
			"Write one final, polite message inviting them to continue whenever convenient.",
	}
}

// Storage is the subset of the store the scheduler needs.
type Storage interface {
	Candidates(stage store.ReminderStage, threshold time.Duration, now time.Time) ([]store.Candidate, error)
	HasSuccessfulDialog(userID string) (bool, error)
	ThreadID(userID string) (string, error)
	AppendMessage(userID, role, text string) error
	MarkReminderSent(userID string, stage store.ReminderStage) error
}

// Agent composes the reminder text through the conversation thread.
type Agent interface {
	Send(ctx context.Context, userID, threadID, message string) (string, error)
}

// Deliverer routes an outgoing message to the user's chat.
// *channels.Manager satisfies this.
type Deliverer interface {
	Send(ctx context.Context, channelName, to string, msg *channels.OutgoingMessage) error
}

// Service is the inactivity reminder scheduler.
type Service struct {
	cfg       Config
	storage   Storage
	agent     Agent
	deliverer Deliverer
	logger    *slog.Logger

	// now is swappable for tests.
	now func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a reminder scheduler. Zero thresholds fall back to defaults.
func New(cfg Config, storage Storage, agent Agent, deliverer Deliverer, logger *slog.Logger) *Service {
	if cfg.FirstAfterMinutes <= 0 {
		cfg.FirstAfterMinutes = DefaultFirstAfterMinutes
	}
	if cfg.SecondAfterMinutes <= 0 {
		cfg.SecondAfterMinutes = DefaultSecondAfterMinutes
	}
	if cfg.ScanIntervalSeconds <= 0 {
		cfg.ScanIntervalSeconds = int(DefaultScanInterval / time.Second)
	}
	defaults := DefaultConfig()
	if cfg.FirstPrompt == "" {
		cfg.FirstPrompt = defaults.FirstPrompt
	}
	if cfg.SecondPrompt == "" {
		cfg.SecondPrompt = defaults.SecondPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		cfg:       cfg,
		storage:   storage,
		agent:     agent,
		deliverer: deliverer,
		logger:    logger.With("component", "reminder"),
		now:       time.Now,
	}
}

// Start launches the background scan loop. Calling Start twice, or with
// reminders disabled, is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.logger.Info("reminders disabled")
		return
	}
	if s.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	interval := time.Duration(s.cfg.ScanIntervalSeconds) * time.Second
	go s.loop(loopCtx, interval)

	s.logger.Info("reminder scheduler started",
		"first_after_min", s.cfg.FirstAfterMinutes,
		"second_after_min", s.cfg.SecondAfterMinutes,
		"scan_interval", interval,
	)
}

// Stop halts the scan loop and waits for an in-flight scan to finish.
// Safe to call multiple times or without a prior Start.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("reminder scheduler stopped")
}

// loop runs scans on a fixed interval until the context is cancelled.
func (s *Service) loop(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ScanOnce(ctx)
		}
	}
}

// ScanOnce runs one scan pass over both stages. Per-user failures are
// logged and do not stop the scan. The second stage is scanned first so
// that a user crossing both thresholds at once still gets at most one
// reminder per pass.
func (s *Service) ScanOnce(ctx context.Context) {
	now := s.now()

	s.scanStage(ctx, store.StageSecond,
		time.Duration(s.cfg.SecondAfterMinutes)*time.Minute, s.cfg.SecondPrompt, now)
	s.scanStage(ctx, store.StageFirst,
		time.Duration(s.cfg.FirstAfterMinutes)*time.Minute, s.cfg.FirstPrompt, now)
}

// scanStage processes every candidate of one stage.
func (s *Service) scanStage(ctx context.Context, stage store.ReminderStage, threshold time.Duration, prompt string, now time.Time) {
	candidates, err := s.storage.Candidates(stage, threshold, now)
	if err != nil {
		s.logger.Error("failed to query reminder candidates",
			"stage", stage.String(),
			"error", err,
		)
		return
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			return
		}
		if err := s.remind(ctx, stage, c, prompt, now); err != nil {
			s.logger.Warn("reminder failed",
				"stage", stage.String(),
				"user", c.UserID,
				"error", err,
			)
		}
	}
}

// remind handles one candidate end to end: suppression check, text
// generation through the agent thread, delivery, and the sent mark.
func (s *Service) remind(ctx context.Context, stage store.ReminderStage, c store.Candidate, prompt string, now time.Time) error {
	// Converted users never get reminders.
	done, err := s.storage.HasSuccessfulDialog(c.UserID)
	if err != nil {
		return fmt.Errorf("check successful dialog: %w", err)
	}
	if done {
		// Mark so the user stops showing up as a candidate.
		if err := s.storage.MarkReminderSent(c.UserID, stage); err != nil {
			return fmt.Errorf("mark suppressed reminder: %w", err)
		}
		return nil
	}

	// No thread means the conversation never reached the agent. Skip and
	// leave the flag untouched so a later scan can retry once a thread
	// appears.
	threadID, err := s.storage.ThreadID(c.UserID)
	if err != nil {
		return fmt.Errorf("resolve thread: %w", err)
	}
	if threadID == "" {
		s.logger.Warn("candidate has no thread, skipping",
			"stage", stage.String(),
			"user", c.UserID,
		)
		return nil
	}

	elapsed := int(now.Sub(c.LastActivity).Minutes())
	instruction := strings.ReplaceAll(prompt, "{minutes}", strconv.Itoa(elapsed))

	text, err := s.agent.Send(ctx, c.UserID, threadID, instruction)
	if err != nil {
		return fmt.Errorf("compose reminder: %w", err)
	}

	if err := s.storage.AppendMessage(c.UserID, "assistant", text); err != nil {
		s.logger.Warn("failed to record reminder in transcript",
			"user", c.UserID,
			"error", err,
		)
	}

	if err := s.deliverer.Send(ctx, c.Channel, c.ChatID, &channels.OutgoingMessage{Content: text}); err != nil {
		return fmt.Errorf("deliver reminder via %s: %w", c.Channel, err)
	}

	// Mark only after successful delivery. A crash between delivery and
	// the mark can repeat a reminder once, which beats silently losing it.
	if err := s.storage.MarkReminderSent(c.UserID, stage); err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}

	s.logger.Info("reminder sent",
		"stage", stage.String(),
		"user", c.UserID,
		"channel", c.Channel,
		"inactive_min", elapsed,
	)
	return nil
}
