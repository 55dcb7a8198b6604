// Package transcript records the user-visible conversation log. This
// is the display history shown in the chat surface, distinct from the
// checkpointed model context: tool calls and system prompts never
// appear here, only what a person said and what the assistant replied.
package transcript

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Senders recorded in the log.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Message is one row of the conversation log.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionInfo summarizes one session for listing.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
}

// maxTitleLen bounds the derived session title.
const maxTitleLen = 80

// Store handles conversation log persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a transcript store using the given database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcript (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transcript_session
			ON transcript(session_id, timestamp);
	`)
	return err
}

// Append records a message and returns it with ID and timestamp set.
func (s *Store) Append(sessionID, sender, content string) (*Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	now := time.Now().UTC()
	msg := &Message{
		ID:        id.String(),
		SessionID: sessionID,
		Sender:    sender,
		Content:   content,
		Timestamp: now,
	}

	_, err = s.db.Exec(`
		INSERT INTO transcript (id, session_id, sender, content, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, sessionID, sender, content, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}

	return msg, nil
}

// History returns the session's messages in chronological order.
func (s *Store) History(sessionID string) ([]*Message, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, sender, content, timestamp
		FROM transcript
		WHERE session_id = ?
		ORDER BY timestamp ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// ListSessions returns a summary of every session, most recently
// active first. The title is derived from the first user message.
func (s *Store) ListSessions() ([]*SessionInfo, error) {
	rows, err := s.db.Query(`
		SELECT session_id, COUNT(*), MAX(timestamp)
		FROM transcript
		GROUP BY session_id
		ORDER BY MAX(timestamp) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionInfo
	for rows.Next() {
		var info SessionInfo
		var ts string
		if err := rows.Scan(&info.SessionID, &info.MessageCount, &ts); err != nil {
			return nil, err
		}
		info.LastActivity, _ = time.Parse(time.RFC3339Nano, ts)
		sessions = append(sessions, &info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, info := range sessions {
		title, err := s.firstUserMessage(info.SessionID)
		if err != nil {
			return nil, err
		}
		info.Title = deriveTitle(title)
	}
	return sessions, nil
}

// firstUserMessage returns the content of the session's earliest user
// message, or "" if the session has none.
func (s *Store) firstUserMessage(sessionID string) (string, error) {
	var content string
	err := s.db.QueryRow(`
		SELECT content FROM transcript
		WHERE session_id = ? AND sender = ?
		ORDER BY timestamp ASC, id ASC
		LIMIT 1
	`, sessionID, SenderUser).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("first user message: %w", err)
	}
	return content, nil
}

// Delete removes all messages for a session. Deleting a session that
// does not exist is not an error.
func (s *Store) Delete(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM transcript WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// deriveTitle turns the first user message into a list title: first
// line only, trimmed, truncated on a rune boundary.
func deriveTitle(content string) string {
	title := strings.TrimSpace(content)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	if title == "" {
		return "(untitled)"
	}

	runes := []rune(title)
	if len(runes) > maxTitleLen {
		title = string(runes[:maxTitleLen-1]) + "…"
	}
	return title
}
