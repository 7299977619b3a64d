package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/leadclaw/pkg/leadclaw/channels"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/store"
)

// alertTimeout bounds a single alert delivery.
const alertTimeout = 15 * time.Second

// AlertConfig configures operator chat alerts.
type AlertConfig struct {
	// Enabled turns operator alerts on/off.
	Enabled bool `yaml:"enabled"`

	// Channel is the channel name to deliver alerts through (e.g. "telegram").
	Channel string `yaml:"channel"`

	// ChatID is the operator chat that receives alerts.
	ChatID string `yaml:"chat_id"`
}

// Alerter pushes short operational alerts to the operator chat.
// Failures are logged and swallowed so alerts never break the
// conversation flow.
type Alerter struct {
	cfg     AlertConfig
	manager *channels.Manager
	logger  *slog.Logger
}

// NewAlerter creates an operator alerter on top of the channel manager.
func NewAlerter(cfg AlertConfig, manager *channels.Manager, logger *slog.Logger) *Alerter {
	return &Alerter{
		cfg:     cfg,
		manager: manager,
		logger:  logger.With("component", "alerts"),
	}
}

// NewDialog notifies the operator that a user started a conversation.
func (a *Alerter) NewDialog(userID, displayName, channel string) {
	text := fmt.Sprintf("💬 New dialog started\nUser: %s (%s)\nChannel: %s",
		displayName, userID, channel)
	a.deliver(text)
}

// LeadCaptured notifies the operator that contact info was collected.
func (a *Alerter) LeadCaptured(userID string, contact store.Contact) {
	text := fmt.Sprintf("✅ Lead captured\nName: %s\nPhone: %s\nUser: %s",
		contact.Name, contact.Phone, userID)
	a.deliver(text)
}

// deliver sends the alert text to the configured operator chat.
func (a *Alerter) deliver(text string) {
	if !a.cfg.Enabled || a.cfg.Channel == "" || a.cfg.ChatID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()

	msg := &channels.OutgoingMessage{Content: text}
	if err := a.manager.Send(ctx, a.cfg.Channel, a.cfg.ChatID, msg); err != nil {
		a.logger.Warn("failed to deliver operator alert",
			"channel", a.cfg.Channel,
			"error", err,
		)
	}
}
