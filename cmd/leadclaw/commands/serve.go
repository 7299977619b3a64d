package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/leadclaw/pkg/leadclaw/assistant"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/bot"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/channels"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/channels/discord"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/channels/telegram"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/notify"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/reminder"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/report"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/store"
)

// newServeCmd creates the `leadclaw serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant daemon",
		Long: `Start LeadClaw as a daemon service, connecting to the configured
channels (Telegram, Discord) and processing messages.

Examples:
  leadclaw serve
  leadclaw serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	logger := newLogger(cmd, cfg)

	// ── Resolve secrets ──
	// Audit BEFORE resolving so the raw config values are checked.
	bot.AuditSecrets(cfg, logger)
	// Resolve from vault → keyring → env → config.
	bot.ResolveAPIKey(cfg, logger)

	// ── Open the store ──
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	// ── Agent plumbing ──
	client := assistant.NewClient(cfg.Agent, logger)
	tools := assistant.NewToolRegistry(logger)
	runner := assistant.NewRunner(client, tools, cfg.Runner, logger)

	// ── Channels ──
	manager := channels.NewManager(logger)
	if cfg.Channels.Telegram.Token != "" {
		if err := manager.Register(telegram.New(cfg.Channels.Telegram, logger)); err != nil {
			logger.Error("failed to register Telegram", "error", err)
		}
	}
	if cfg.Channels.Discord.Token != "" {
		if err := manager.Register(discord.New(cfg.Channels.Discord, logger)); err != nil {
			logger.Error("failed to register Discord", "error", err)
		}
	}
	if !manager.HasChannels() {
		return fmt.Errorf("no channel configured. Set a Telegram or Discord token in config.yaml")
	}

	// ── Notifications ──
	emailer := notify.NewEmailer(cfg.Email, logger)
	alerter := notify.NewAlerter(cfg.Alerts, manager, logger)

	// ── Assemble the bot ──
	b := bot.New(cfg, st, client, tools, runner, manager, emailer, alerter, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Start ──
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}

	botDone := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(botDone)
	}()

	reminders := reminder.New(cfg.Reminders, st, runner, manager, logger)
	reminders.Start(ctx)

	reporter := report.New(cfg.Report, st, emailer, logger)
	if err := reporter.Start(); err != nil {
		logger.Error("failed to schedule daily report", "error", err)
	}

	// ── Wait for shutdown ──
	logger.Info("LeadClaw running. Press Ctrl+C to stop.", "name", cfg.Name)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		reminders.Stop()
		reporter.Stop()
		cancel()
		manager.Stop()
		<-botDone
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// newLogger builds the process logger from flags and config.
func newLogger(cmd *cobra.Command, cfg *bot.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

// resolveConfig loads the config from the --config flag or standard locations.
func resolveConfig(cmd *cobra.Command) (*bot.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	// Try explicit path first.
	if configPath != "" {
		cfg, err := bot.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	// Auto-discover config file.
	if found := bot.FindConfigFile(); found != "" {
		cfg, err := bot.LoadConfigFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	return nil, fmt.Errorf("no configuration file found. Run 'leadclaw config init' first")
}
