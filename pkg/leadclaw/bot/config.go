// Package bot – config.go defines the top-level configuration for the
// LeadClaw assistant.
package bot

import (
	"github.com/jholhewres/leadclaw/pkg/leadclaw/assistant"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/channels/discord"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/channels/telegram"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/notify"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/reminder"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/report"
)

// Config holds all assistant configuration.
type Config struct {
	// Name is the assistant name shown in greetings.
	Name string `yaml:"name"`

	// Agent configures the remote agent API client.
	Agent assistant.ClientConfig `yaml:"agent"`

	// Runner tunes the run lifecycle (retries, poll interval).
	Runner assistant.RunnerConfig `yaml:"runner"`

	// Channels configures communication channels.
	Channels ChannelsConfig `yaml:"channels"`

	// Reminders configures the inactivity re-engagement scheduler.
	Reminders reminder.Config `yaml:"reminders"`

	// Email configures SMTP notifications.
	Email notify.EmailConfig `yaml:"email"`

	// Alerts configures operator chat alerts.
	Alerts notify.AlertConfig `yaml:"alerts"`

	// Report configures the daily conversation digest.
	Report report.Config `yaml:"report"`

	// Database configures the SQLite store.
	Database DatabaseConfig `yaml:"database"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// ChannelsConfig holds configuration for all channels.
type ChannelsConfig struct {
	// Telegram is the Telegram channel config.
	Telegram telegram.Config `yaml:"telegram"`

	// Discord is the Discord channel config.
	Discord discord.Config `yaml:"discord"`
}

// DatabaseConfig configures the persistence layer.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default assistant configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "LeadClaw",
		Agent: assistant.ClientConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Channels: ChannelsConfig{
			Telegram: telegram.DefaultConfig(),
			Discord:  discord.DefaultConfig(),
		},
		Reminders: reminder.DefaultConfig(),
		Email:     notify.DefaultEmailConfig(),
		Report:    report.DefaultConfig(),
		Database: DatabaseConfig{
			Path: "./data/leadclaw.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
