// Package bot wires the LeadClaw assistant together: channels in,
// agent runs in the middle, transcripts, notifications and reminders
// around it.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/leadclaw/pkg/leadclaw/assistant"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/channels"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/notify"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/store"
)

// ContactToolName is the function tool the agent calls when the user
// shares their contact details.
const ContactToolName = "get_client_contact_info"

// contactToolReply is the structured output submitted back to the run
// after a successful capture.
const contactToolReply = `{"status":"success","message":"Contact information saved and notification sent"}`

// apologyReply is sent when an exchange fails beyond recovery.
const apologyReply = "Sorry, something went wrong on our side. Please try again in a moment."

// Bot is the top-level assistant orchestrator.
type Bot struct {
	cfg     *Config
	store   *store.Store
	client  assistant.AgentClient
	runner  *assistant.Runner
	manager *channels.Manager
	emailer *notify.Emailer
	alerter *notify.Alerter
	logger  *slog.Logger

	// userLocks serializes exchanges per user so runs on one thread
	// never overlap.
	userLocks sync.Map // userID -> *sync.Mutex

	// names caches the last seen display name per user.
	names sync.Map // userID -> string

	wg sync.WaitGroup
}

// New creates the bot. RegisterTools must run before the runner handles
// any message, which New takes care of.
func New(
	cfg *Config,
	st *store.Store,
	client assistant.AgentClient,
	tools *assistant.ToolRegistry,
	runner *assistant.Runner,
	manager *channels.Manager,
	emailer *notify.Emailer,
	alerter *notify.Alerter,
	logger *slog.Logger,
) *Bot {
	b := &Bot{
		cfg:     cfg,
		store:   st,
		client:  client,
		runner:  runner,
		manager: manager,
		emailer: emailer,
		alerter: alerter,
		logger:  logger.With("component", "bot"),
	}
	b.registerTools(tools)
	return b
}

// Run consumes the aggregated message stream until the context ends or
// the stream closes. Each message is handled in its own goroutine; the
// per-user lock keeps one user's exchanges sequential.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("bot started", "name", b.cfg.Name)

	for {
		select {
		case <-ctx.Done():
			b.wg.Wait()
			b.logger.Info("bot stopped")
			return

		case msg, ok := <-b.manager.Messages():
			if !ok {
				b.wg.Wait()
				b.logger.Info("message stream closed, bot stopped")
				return
			}

			b.wg.Add(1)
			go func(m *channels.IncomingMessage) {
				defer b.wg.Done()
				b.handleMessage(ctx, m)
			}(msg)
		}
	}
}

// handleMessage processes one inbound message end to end.
func (b *Bot) handleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return
	}

	userID := msg.Channel + ":" + msg.From
	if msg.FromName != "" {
		b.names.Store(userID, msg.FromName)
	}

	lock := b.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	// Commands get canned replies without touching the agent.
	if reply, handled := b.handleCommand(content); handled {
		b.reply(ctx, msg, reply)
		return
	}

	when := msg.Timestamp
	if when.IsZero() {
		when = time.Now()
	}
	if err := b.store.UpsertActivity(userID, msg.Channel, msg.ChatID, when); err != nil {
		b.logger.Error("failed to record activity", "user", userID, "error", err)
	}
	if err := b.store.AppendMessage(userID, "user", content); err != nil {
		b.logger.Error("failed to record user message", "user", userID, "error", err)
	}

	threadID, err := b.ensureThread(ctx, userID, msg)
	if err != nil {
		b.logger.Error("failed to prepare thread", "user", userID, "error", err)
		b.reply(ctx, msg, apologyReply)
		return
	}

	b.sendTyping(ctx, msg)

	reply, err := b.runner.Send(ctx, userID, threadID, content)
	if err != nil {
		b.logger.Error("exchange failed", "user", userID, "error", err)
		b.reply(ctx, msg, apologyReply)
		return
	}

	if err := b.store.AppendMessage(userID, "assistant", reply); err != nil {
		b.logger.Error("failed to record reply", "user", userID, "error", err)
	}

	b.reply(ctx, msg, reply)
}

// handleCommand resolves slash commands. Returns handled=false for
// regular conversation text.
func (b *Bot) handleCommand(content string) (string, bool) {
	switch strings.ToLower(strings.Fields(content)[0]) {
	case "/start":
		return fmt.Sprintf("Hello! I'm %s. How can I help you today?", b.cfg.Name), true
	case "/help":
		return "Just send me a message and I'll help you out. " +
			"Ask about our products, pricing, or anything else.", true
	}
	return "", false
}

// ensureThread returns the user's thread, creating one on first contact.
// Thread creation also fires the new-dialog operator alert.
func (b *Bot) ensureThread(ctx context.Context, userID string, msg *channels.IncomingMessage) (string, error) {
	threadID, err := b.store.ThreadID(userID)
	if err != nil {
		return "", err
	}
	if threadID != "" {
		return threadID, nil
	}

	threadID, err = b.client.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}
	if err := b.store.SetThreadID(userID, threadID); err != nil {
		return "", fmt.Errorf("storing thread: %w", err)
	}

	b.logger.Info("new dialog started",
		"user", userID,
		"channel", msg.Channel,
		"thread_id", threadID,
	)
	if b.alerter != nil {
		b.alerter.NewDialog(userID, b.displayName(userID), msg.Channel)
	}

	return threadID, nil
}

// sendTyping shows a typing indicator on channels that support it.
func (b *Bot) sendTyping(ctx context.Context, msg *channels.IncomingMessage) {
	ch, ok := b.manager.Channel(msg.Channel)
	if !ok {
		return
	}
	if presence, ok := ch.(channels.PresenceChannel); ok {
		if err := presence.SendTyping(ctx, msg.ChatID); err != nil {
			b.logger.Debug("typing indicator failed", "channel", msg.Channel, "error", err)
		}
	}
}

// reply delivers text back to the chat the message came from.
func (b *Bot) reply(ctx context.Context, msg *channels.IncomingMessage, text string) {
	out := &channels.OutgoingMessage{
		Content: text,
		ReplyTo: msg.ID,
	}
	if err := b.manager.Send(ctx, msg.Channel, msg.ChatID, out); err != nil {
		b.logger.Error("failed to deliver reply",
			"channel", msg.Channel,
			"chat", msg.ChatID,
			"error", err,
		)
	}
}

// displayName returns the last seen name for a user, or the ID itself.
func (b *Bot) displayName(userID string) string {
	if v, ok := b.names.Load(userID); ok {
		return v.(string)
	}
	return userID
}

func (b *Bot) lockFor(userID string) *sync.Mutex {
	v, _ := b.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// ---------- Tools ----------

// registerTools wires the agent-callable functions.
func (b *Bot) registerTools(tools *assistant.ToolRegistry) {
	tools.Register(ContactToolName, b.handleContactTool)
}

// handleContactTool persists the captured contact, notifies the operator
// by email and chat alert, and reports success back to the run. Malformed
// arguments are a hard error so the exchange surfaces the problem instead
// of silently acknowledging bad data. The side effects (marker, email,
// alert) are best-effort: failures are logged and the conversation
// continues.
func (b *Bot) handleContactTool(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var contact store.Contact
	if err := json.Unmarshal(args, &contact); err != nil {
		return "", fmt.Errorf("invalid contact payload: %w", err)
	}
	if contact.Name == "" || contact.Phone == "" {
		return "", fmt.Errorf("contact payload missing name or phone")
	}

	transcript, err := b.store.Transcript(userID, 0)
	if err != nil {
		b.logger.Warn("failed to load transcript for lead", "user", userID, "error", err)
	}

	if err := b.store.RecordSuccessfulDialog(userID, contact, flattenTranscript(transcript)); err != nil {
		b.logger.Error("failed to record successful dialog", "user", userID, "error", err)
	}

	b.logger.Info("lead captured",
		"user", userID,
		"name", contact.Name,
	)

	if b.emailer != nil {
		if err := b.emailer.SendLeadEmail(ctx, b.displayName(userID), contact, transcript); err != nil {
			b.logger.Warn("failed to email lead notification", "user", userID, "error", err)
		}
	}
	if b.alerter != nil {
		b.alerter.LeadCaptured(userID, contact)
	}

	return contactToolReply, nil
}

// flattenTranscript renders a transcript as plain "role: message" lines.
func flattenTranscript(entries []store.DialogEntry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Role)
		b.WriteString(": ")
		b.WriteString(e.Message)
		b.WriteString("\n")
	}
	return b.String()
}
