// Package report builds and emails the daily conversation digest. A cron
// job (06:00 by default) collects the last day of transcripts, groups
// them per user, and mails the rendered HTML to the operator mailbox.
package report

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/leadclaw/pkg/leadclaw/store"
)

// Config holds the daily report configuration.
type Config struct {
	// Enabled turns the daily report on/off.
	Enabled bool `yaml:"enabled"`

	// Schedule is a standard 5-field cron expression or a descriptor
	// like "@daily". Defaults to 06:00 every day.
	Schedule string `yaml:"schedule"`

	// WindowHours is how far back the report looks. Defaults to 24.
	WindowHours int `yaml:"window_hours"`
}

// DefaultConfig returns the report defaults.
func DefaultConfig() Config {
	return Config{
		Schedule:    "0 6 * * *",
		WindowHours: 24,
	}
}

// Dialogs is the transcript source for the report.
type Dialogs interface {
	DialogsSince(cutoff time.Time) ([]store.DialogEntry, error)
}

// Mailer delivers the rendered report.
type Mailer interface {
	SendReportEmail(ctx context.Context, subject, htmlBody string) error
}

// Reporter schedules and sends the daily digest.
type Reporter struct {
	cfg     Config
	dialogs Dialogs
	mailer  Mailer
	logger  *slog.Logger

	cron    *cron.Cron
	entryID cron.EntryID
}

// New creates a daily reporter. Start must be called to schedule it.
func New(cfg Config, dialogs Dialogs, mailer Mailer, logger *slog.Logger) *Reporter {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultConfig().Schedule
	}
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = DefaultConfig().WindowHours
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reporter{
		cfg:     cfg,
		dialogs: dialogs,
		mailer:  mailer,
		logger:  logger.With("component", "report"),
	}
}

// Start registers the cron job and launches the scheduler. A no-op when
// the report is disabled.
func (r *Reporter) Start() error {
	if !r.cfg.Enabled {
		r.logger.Info("daily report disabled")
		return nil
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	id, err := c.AddFunc(r.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := r.SendReport(ctx, time.Now()); err != nil {
			r.logger.Error("daily report failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule daily report %q: %w", r.cfg.Schedule, err)
	}

	r.cron = c
	r.entryID = id
	c.Start()

	r.logger.Info("daily report scheduled", "schedule", r.cfg.Schedule)
	return nil
}

// Stop halts the scheduler, waiting up to 10 seconds for a running job.
func (r *Reporter) Stop() {
	if r.cron == nil {
		return
	}

	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		r.logger.Warn("timed out waiting for report job to finish")
	}
	r.logger.Info("daily report stopped")
}

// SendReport builds the digest for the configured window ending at now
// and emails it. An empty window still produces a (short) report so the
// operator knows the bot is alive.
func (r *Reporter) SendReport(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-time.Duration(r.cfg.WindowHours) * time.Hour)

	entries, err := r.dialogs.DialogsSince(cutoff)
	if err != nil {
		return fmt.Errorf("collect dialogs: %w", err)
	}

	subject := fmt.Sprintf("Daily conversation report, %s", now.Format("2006-01-02"))
	body := RenderHTML(entries, cutoff, now)

	if err := r.mailer.SendReportEmail(ctx, subject, body); err != nil {
		return fmt.Errorf("email report: %w", err)
	}

	r.logger.Info("daily report sent", "messages", len(entries))
	return nil
}

// RenderHTML renders the digest grouped per user, users sorted by ID and
// each transcript in chronological order.
func RenderHTML(entries []store.DialogEntry, from, to time.Time) string {
	byUser := make(map[string][]store.DialogEntry)
	for _, e := range entries {
		byUser[e.UserID] = append(byUser[e.UserID], e)
	}

	users := make([]string, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Strings(users)

	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<h2>Conversations from %s to %s</h2>",
		from.Format("2006-01-02 15:04"), to.Format("2006-01-02 15:04"))

	if len(users) == 0 {
		b.WriteString("<p>No conversations in this period.</p>")
	}

	for _, u := range users {
		fmt.Fprintf(&b, "<h3>User %s</h3>", html.EscapeString(u))
		b.WriteString(`<table border="1" cellpadding="6" cellspacing="0">`)
		b.WriteString("<tr><th>Time</th><th>Role</th><th>Message</th></tr>")
		for _, e := range byUser[u] {
			fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td></tr>",
				e.CreatedAt.Format("15:04"),
				html.EscapeString(e.Role),
				html.EscapeString(e.Message),
			)
		}
		b.WriteString("</table>")
	}

	b.WriteString("</body></html>")
	return b.String()
}
