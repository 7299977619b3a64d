// Package store provides the central SQLite database for LeadClaw.
// A single leadclaw.db file holds conversation transcripts, per-user
// activity/reminder state, successful-dialog markers, and the mapping
// from users to their remote agent threads.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// ReminderStage identifies one of the two re-engagement attempts.
type ReminderStage int

const (
	StageFirst ReminderStage = iota + 1
	StageSecond
)

// String returns "first" or "second" for logging.
func (s ReminderStage) String() string {
	if s == StageSecond {
		return "second"
	}
	return "first"
}

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Conversation transcript (append-only, one row per message).
CREATE TABLE IF NOT EXISTS dialogs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT NOT NULL,
    role       TEXT NOT NULL,
    message    TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dialogs_user ON dialogs(user_id);
CREATE INDEX IF NOT EXISTS idx_dialogs_created ON dialogs(created_at);

-- Per-user activity, reminder flags, and delivery route.
CREATE TABLE IF NOT EXISTS user_activity (
    user_id              TEXT PRIMARY KEY,
    channel              TEXT NOT NULL DEFAULT '',
    chat_id              TEXT NOT NULL DEFAULT '',
    last_activity        TEXT NOT NULL,
    first_reminder_sent  INTEGER NOT NULL DEFAULT 0,
    second_reminder_sent INTEGER NOT NULL DEFAULT 0
);

-- Dialogs that reached the intended business outcome (contact captured).
-- Presence of a row permanently suppresses reminders for that user.
CREATE TABLE IF NOT EXISTS successful_dialogs (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    contact_name  TEXT NOT NULL DEFAULT '',
    contact_phone TEXT NOT NULL DEFAULT '',
    transcript    TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_successful_user ON successful_dialogs(user_id);

-- Remote agent thread handle, one per user, created lazily.
CREATE TABLE IF NOT EXISTS threads (
    user_id    TEXT PRIMARY KEY,
    thread_id  TEXT NOT NULL,
    created_at TEXT NOT NULL
);
`

// Contact is the payload captured by the contact-info tool.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// DialogEntry is one transcript row.
type DialogEntry struct {
	UserID    string
	Role      string
	Message   string
	CreatedAt time.Time
}

// Candidate is a user eligible for a reminder stage, along with the
// route the reminder should be delivered through.
type Candidate struct {
	UserID       string
	Channel      string
	ChatID       string
	LastActivity time.Time
}

// Store wraps the SQLite database behind the persistence contract.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the central leadclaw.db at the given path.
// It enables WAL mode for concurrent read performance and creates all tables.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "./data/leadclaw.db"
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	// Verify connectivity.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Create schema (idempotent).
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------- Activity ----------

// UpsertActivity records an inbound user message at the given time along
// with the channel and chat it arrived through. Both reminder flags
// reset: a user who re-engages becomes eligible for the full reminder
// cycle again from scratch.
func (s *Store) UpsertActivity(userID, channel, chatID string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO user_activity (user_id, channel, chat_id, last_activity, first_reminder_sent, second_reminder_sent)
		VALUES (?, ?, ?, ?, 0, 0)
		ON CONFLICT(user_id) DO UPDATE SET
			channel = excluded.channel,
			chat_id = excluded.chat_id,
			last_activity = excluded.last_activity,
			first_reminder_sent = 0,
			second_reminder_sent = 0`,
		userID, channel, chatID, at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upsert activity for %q: %w", userID, err)
	}
	return nil
}

// Candidates returns users whose last activity is older than the threshold
// and who have not yet received the given stage's reminder. Stage-two
// candidates must already have received stage one.
func (s *Store) Candidates(stage ReminderStage, threshold time.Duration, now time.Time) ([]Candidate, error) {
	cutoff := now.Add(-threshold).UTC().Format(time.RFC3339)

	var query string
	switch stage {
	case StageFirst:
		query = `
			SELECT user_id, channel, chat_id, last_activity FROM user_activity
			WHERE last_activity < ? AND first_reminder_sent = 0`
	case StageSecond:
		query = `
			SELECT user_id, channel, chat_id, last_activity FROM user_activity
			WHERE last_activity < ? AND first_reminder_sent = 1 AND second_reminder_sent = 0`
	default:
		return nil, fmt.Errorf("unknown reminder stage %d", stage)
	}

	rows, err := s.db.Query(query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stage %s candidates: %w", stage, err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			c       Candidate
			lastRaw string
		)
		if err := rows.Scan(&c.UserID, &c.Channel, &c.ChatID, &lastRaw); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.LastActivity, _ = time.Parse(time.RFC3339, lastRaw)
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkReminderSent sets the flag for the given stage.
func (s *Store) MarkReminderSent(userID string, stage ReminderStage) error {
	column := "first_reminder_sent"
	if stage == StageSecond {
		column = "second_reminder_sent"
	}

	_, err := s.db.Exec(
		"UPDATE user_activity SET "+column+" = 1 WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("mark %s reminder for %q: %w", stage, userID, err)
	}
	return nil
}

// ---------- Successful dialogs ----------

// HasSuccessfulDialog reports whether the user's conversation already
// reached its business outcome.
func (s *Store) HasSuccessfulDialog(userID string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(1) FROM successful_dialogs WHERE user_id = ?", userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check successful dialog for %q: %w", userID, err)
	}
	return n > 0, nil
}

// RecordSuccessfulDialog stores a permanent marker with the captured
// contact payload and a transcript snapshot.
func (s *Store) RecordSuccessfulDialog(userID string, contact Contact, transcript string) error {
	_, err := s.db.Exec(`
		INSERT INTO successful_dialogs (id, user_id, contact_name, contact_phone, transcript, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, contact.Name, contact.Phone, transcript,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record successful dialog for %q: %w", userID, err)
	}
	return nil
}

// ---------- Transcript ----------

// AppendMessage appends one transcript entry. Role is "user" or "assistant".
func (s *Store) AppendMessage(userID, role, text string) error {
	_, err := s.db.Exec(`
		INSERT INTO dialogs (user_id, role, message, created_at)
		VALUES (?, ?, ?, ?)`,
		userID, role, text, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("append message for %q: %w", userID, err)
	}
	return nil
}

// Transcript returns the user's messages in chronological order.
// A limit of 0 returns the full history.
func (s *Store) Transcript(userID string, limit int) ([]DialogEntry, error) {
	query := `
		SELECT user_id, role, message, created_at FROM dialogs
		WHERE user_id = ? ORDER BY id`
	args := []any{userID}
	if limit > 0 {
		query += ` DESC LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("load transcript for %q: %w", userID, err)
	}
	defer rows.Close()

	entries, err := scanDialogs(rows)
	if err != nil {
		return nil, err
	}

	// The limited query reads newest-first; restore chronological order.
	if limit > 0 {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	return entries, nil
}

// DialogsSince returns all transcript entries created after the cutoff,
// across all users, in chronological order. Used by the daily report.
func (s *Store) DialogsSince(cutoff time.Time) ([]DialogEntry, error) {
	rows, err := s.db.Query(`
		SELECT user_id, role, message, created_at FROM dialogs
		WHERE created_at >= ? ORDER BY user_id, id`,
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("load dialogs since %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return scanDialogs(rows)
}

func scanDialogs(rows *sql.Rows) ([]DialogEntry, error) {
	var entries []DialogEntry
	for rows.Next() {
		var (
			e          DialogEntry
			createdRaw string
		)
		if err := rows.Scan(&e.UserID, &e.Role, &e.Message, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan dialog entry: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdRaw)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ---------- Threads ----------

// ThreadID returns the user's remote thread handle, or "" if none exists.
func (s *Store) ThreadID(userID string) (string, error) {
	var threadID string
	err := s.db.QueryRow(
		"SELECT thread_id FROM threads WHERE user_id = ?", userID).Scan(&threadID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load thread for %q: %w", userID, err)
	}
	return threadID, nil
}

// SetThreadID stores the user's remote thread handle.
func (s *Store) SetThreadID(userID, threadID string) error {
	_, err := s.db.Exec(`
		INSERT INTO threads (user_id, thread_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET thread_id = excluded.thread_id`,
		userID, threadID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store thread for %q: %w", userID, err)
	}
	return nil
}
