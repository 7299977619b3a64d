// Package notify delivers side-channel notifications for LeadClaw:
// transcript emails to the operator mailbox and alerts to the operator
// chat. Everything here is fire-and-forget from the conversation's point
// of view: callers log failures and move on.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/jholhewres/leadclaw/pkg/leadclaw/store"
)

// smtpDialTimeout is the maximum time to establish an SMTP connection.
const smtpDialTimeout = 30 * time.Second

// EmailConfig configures the SMTP transport and addressing.
type EmailConfig struct {
	// Enabled turns email notifications on/off.
	Enabled bool `yaml:"enabled"`

	// Host is the SMTP server hostname.
	Host string `yaml:"host"`

	// Port is the SMTP server port (587 for STARTTLS, 465 for implicit TLS).
	Port int `yaml:"port"`

	// StartTLS selects plain-then-upgrade (true) or implicit TLS (false).
	StartTLS bool `yaml:"starttls"`

	// Username and Password authenticate with the server.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// From is the sender address.
	From string `yaml:"from"`

	// To is the operator mailbox receiving lead notifications and reports.
	To string `yaml:"to"`
}

// DefaultEmailConfig returns sensible defaults (STARTTLS on 587).
func DefaultEmailConfig() EmailConfig {
	return EmailConfig{
		Port:     587,
		StartTLS: true,
	}
}

// Emailer sends HTML email through a plain SMTP connection.
type Emailer struct {
	cfg    EmailConfig
	logger *slog.Logger
}

// NewEmailer creates an email sender from config.
func NewEmailer(cfg EmailConfig, logger *slog.Logger) *Emailer {
	return &Emailer{
		cfg:    cfg,
		logger: logger.With("component", "email"),
	}
}

// SendLeadEmail emails the captured contact and the dialog transcript to
// the operator mailbox.
func (e *Emailer) SendLeadEmail(ctx context.Context, displayName string, contact store.Contact, transcript []store.DialogEntry) error {
	subject := fmt.Sprintf("New lead: %s", contact.Name)
	body := leadEmailBody(displayName, contact, transcript)
	return e.send(ctx, subject, body)
}

// SendReportEmail emails a prebuilt HTML report to the operator mailbox.
func (e *Emailer) SendReportEmail(ctx context.Context, subject, htmlBody string) error {
	return e.send(ctx, subject, htmlBody)
}

// send composes and delivers one HTML message. Connections are
// ephemeral, each call opens and closes its own connection.
func (e *Emailer) send(ctx context.Context, subject, htmlBody string) error {
	if !e.cfg.Enabled {
		e.logger.Debug("email disabled, skipping", "subject", subject)
		return nil
	}
	if e.cfg.Host == "" || e.cfg.From == "" || e.cfg.To == "" {
		return fmt.Errorf("email config incomplete (host/from/to required)")
	}

	msg := composeMessage(e.cfg.From, e.cfg.To, subject, htmlBody)

	start := time.Now()
	err := sendMail(ctx, e.cfg, e.cfg.From, []string{e.cfg.To}, msg)
	if err != nil {
		return err
	}

	e.logger.Info("email sent",
		"to", e.cfg.To,
		"subject", subject,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// composeMessage builds a minimal RFC 5322 HTML message.
func composeMessage(from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}

// leadEmailBody renders the lead notification with a transcript table.
func leadEmailBody(displayName string, contact store.Contact, transcript []store.DialogEntry) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString("<h2>New lead captured</h2>")
	fmt.Fprintf(&b, "<p><b>User:</b> %s</p>", html.EscapeString(displayName))
	fmt.Fprintf(&b, "<p><b>Name:</b> %s</p>", html.EscapeString(contact.Name))
	fmt.Fprintf(&b, "<p><b>Phone:</b> %s</p>", html.EscapeString(contact.Phone))
	b.WriteString("<h3>Conversation</h3>")
	b.WriteString(`<table border="1" cellpadding="6" cellspacing="0">`)
	b.WriteString("<tr><th>Time</th><th>Role</th><th>Message</th></tr>")
	for _, entry := range transcript {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td></tr>",
			entry.CreatedAt.Format("2006-01-02 15:04"),
			html.EscapeString(entry.Role),
			html.EscapeString(entry.Message),
		)
	}
	b.WriteString("</table>")
	b.WriteString("</body></html>")
	return b.String()
}

// sendMail connects to the SMTP server, authenticates, and delivers the
// message. The context controls the overall deadline for the dial.
func sendMail(ctx context.Context, cfg EmailConfig, from string, recipients []string, msg []byte) error {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	// Use context deadline for the dial timeout, falling back to the
	// package default.
	dialTimeout := smtpDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < dialTimeout {
			dialTimeout = remaining
		}
	}

	dialer := &net.Dialer{Timeout: dialTimeout}

	var client *smtp.Client
	var err error

	if !cfg.StartTLS {
		// Implicit TLS (port 465): connect over TLS from the start.
		tlsCfg := &tls.Config{ServerName: cfg.Host}
		conn, dialErr := tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
		if dialErr != nil {
			return fmt.Errorf("dial SMTPS %s: %w", addr, dialErr)
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client on %s: %w", addr, err)
		}
	} else {
		// STARTTLS (port 587): connect plain, then upgrade.
		conn, dialErr := dialer.DialContext(ctx, "tcp", addr)
		if dialErr != nil {
			return fmt.Errorf("dial SMTP %s: %w", addr, dialErr)
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client on %s: %w", addr, err)
		}
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}

	if cfg.StartTLS {
		tlsCfg := &tls.Config{ServerName: cfg.Host}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}

	return client.Quit()
}
