package checkpoint

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Store handles checkpoint persistence. Checkpoints are append-only:
// rows are never updated, and the per-session seq increases by one
// with each Append.
type Store struct {
	db *sql.DB
}

// NewStore creates a checkpoint store using the given database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			state_gz BLOB NOT NULL,
			byte_size INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			PRIMARY KEY (session_id, seq)
		);
	`)
	return err
}

// Append saves a new checkpoint for the session and returns it with
// seq populated. Seq assignment and insert happen in one transaction
// so concurrent appends to the same session cannot collide.
func (s *Store) Append(sessionID string, state *State) (*Checkpoint, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(stateJSON); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}

	compressed := buf.Bytes()
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRow(`
		SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE session_id = ?
	`, sessionID).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("next seq: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO checkpoints (session_id, seq, created_at, state_gz, byte_size, message_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sessionID, seq, now.Format(time.RFC3339Nano), compressed, len(compressed), len(state.Messages))
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &Checkpoint{
		SessionID:    sessionID,
		Seq:          seq,
		CreatedAt:    now,
		State:        state,
		ByteSize:     int64(len(compressed)),
		MessageCount: len(state.Messages),
	}, nil
}

// Latest returns the most recent checkpoint for the session, or nil if
// the session has none.
func (s *Store) Latest(sessionID string) (*Checkpoint, error) {
	row := s.db.QueryRow(`
		SELECT session_id, seq, created_at, state_gz, byte_size, message_count
		FROM checkpoints
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, sessionID)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cp, err
}

// List returns checkpoints for the session in append order, starting
// after the given seq. Passing afterSeq=0 reads from the beginning;
// passing the seq of the last checkpoint seen resumes a partial read.
// A limit <= 0 means no limit.
func (s *Store) List(sessionID string, afterSeq int64, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats negative LIMIT as unlimited.
	}

	rows, err := s.db.Query(`
		SELECT session_id, seq, created_at, state_gz, byte_size, message_count
		FROM checkpoints
		WHERE session_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, sessionID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var checkpoints []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

// Count returns the number of checkpoints stored for the session.
func (s *Store) Count(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM checkpoints WHERE session_id = ?
	`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// DeleteSession removes all checkpoints for a session. Deleting a
// session with no checkpoints is not an error.
func (s *Store) DeleteSession(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*Checkpoint, error) {
	var cp Checkpoint
	var createdStr string
	var stateGz []byte

	err := row.Scan(&cp.SessionID, &cp.Seq, &createdStr, &stateGz, &cp.ByteSize, &cp.MessageCount)
	if err != nil {
		return nil, err
	}

	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)

	gr, err := gzip.NewReader(bytes.NewReader(stateGz))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()

	stateJSON, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}

	return &cp, nil
}
