// Package assistant – runner.go drives one user-message exchange against
// the remote agent: start a run, poll it to a terminal status, resolve
// tool calls along the way, and post-process the final reply.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultMaxRetries is how many brand-new runs are started after the
	// first one terminates in failed/cancelled/expired.
	DefaultMaxRetries = 3

	// DefaultPollInterval is the fixed wait between run status checks.
	DefaultPollInterval = time.Second

	// FallbackReply is returned when the thread holds no assistant
	// message to deliver.
	FallbackReply = "Sorry, I couldn't prepare a response right now. Please try again in a moment."
)

// RunnerConfig tunes the run lifecycle.
type RunnerConfig struct {
	// MaxRetries is the retry ceiling for semantic run failures.
	MaxRetries int `yaml:"max_run_retries"`

	// PollInterval is the wait between status checks.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Runner is the run lifecycle controller. Each Send call is self-contained;
// concurrent calls for different users interleave freely.
type Runner struct {
	client       AgentClient
	tools        *ToolRegistry
	maxRetries   int
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewRunner creates a run controller.
func NewRunner(client AgentClient, tools *ToolRegistry, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Runner{
		client:       client,
		tools:        tools,
		maxRetries:   cfg.MaxRetries,
		pollInterval: cfg.PollInterval,
		logger:       logger.With("component", "runner"),
	}
}

// Send appends the user message to the thread, drives a run to completion,
// and returns the formatted reply.
//
// Semantic run failures (failed/cancelled/expired) start a new run against
// the same thread, up to the retry ceiling; an explicit loop carries the
// attempt count. Transport errors abort immediately without retry. When
// retries are exhausted the latest assistant message is fetched best-effort
// instead of raising.
func (r *Runner) Send(ctx context.Context, userID, threadID, message string) (string, error) {
	if message == "" {
		return "", fmt.Errorf("message must not be empty")
	}
	if threadID == "" {
		return "", fmt.Errorf("thread ID must not be empty")
	}

	if err := r.client.AddMessage(ctx, threadID, "user", message); err != nil {
		return "", fmt.Errorf("appending user message: %w", err)
	}

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		run, err := r.client.CreateRun(ctx, threadID)
		if err != nil {
			return "", fmt.Errorf("starting run: %w", err)
		}

		status, err := r.pollRun(ctx, userID, threadID, run)
		if err != nil {
			return "", err
		}

		if status == StatusCompleted {
			return r.fetchReply(ctx, threadID)
		}

		// failed, cancelled or expired: the run is abandoned, never resumed.
		r.logger.Warn("run terminated without completing",
			"thread_id", threadID,
			"run_id", run.ID,
			"status", status,
			"attempt", attempt,
			"max_retries", r.maxRetries,
		)
	}

	r.logger.Warn("run retries exhausted, fetching best-effort reply",
		"thread_id", threadID,
		"user_id", userID,
	)
	return r.fetchReply(ctx, threadID)
}

// pollRun polls a run until it reaches a terminal status, resolving tool
// calls whenever the agent requires action. The wait between checks is
// cancellable so shutdown interrupts a stuck poll promptly.
func (r *Runner) pollRun(ctx context.Context, userID, threadID string, run *Run) (string, error) {
	runID := run.ID

	for {
		switch run.Status {
		case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
			return run.Status, nil

		case StatusRequiresAction:
			if err := r.resolveToolCalls(ctx, userID, threadID, run); err != nil {
				return "", err
			}

		case StatusQueued, StatusInProgress:
			// Still working; fall through to the wait below.

		default:
			r.logger.Warn("unexpected run status", "run_id", runID, "status", run.Status)
		}

		timer := time.NewTimer(r.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}

		var err error
		run, err = r.client.GetRun(ctx, threadID, runID)
		if err != nil {
			return "", fmt.Errorf("polling run %s: %w", runID, err)
		}
	}
}

// resolveToolCalls dispatches the requested tool calls and submits the
// outputs as one batch. An empty batch (no recognized tool) is still
// submitted so the run can move on.
func (r *Runner) resolveToolCalls(ctx context.Context, userID, threadID string, run *Run) error {
	calls := run.ToolCalls()
	r.logger.Info("run requires action",
		"run_id", run.ID,
		"tool_calls", len(calls),
	)

	outputs, err := r.tools.Dispatch(ctx, userID, calls)
	if err != nil {
		return err
	}

	if err := r.client.SubmitToolOutputs(ctx, threadID, run.ID, outputs); err != nil {
		return fmt.Errorf("submitting tool outputs: %w", err)
	}
	return nil
}

// fetchReply retrieves and formats the newest assistant message.
// An empty thread yields the fixed fallback string, not an error.
func (r *Runner) fetchReply(ctx context.Context, threadID string) (string, error) {
	text, err := r.client.LatestAssistantMessage(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("fetching reply: %w", err)
	}
	if text == "" {
		return FallbackReply, nil
	}
	return FormatReply(text), nil
}
