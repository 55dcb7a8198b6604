package provider

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clerk-agent/clerk/internal/mcp"
)

// ErrNotFound is returned when a provider ID does not exist.
var ErrNotFound = errors.New("provider not found")

// Store handles provider persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a provider store using the given database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS providers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			transport TEXT NOT NULL,
			endpoint TEXT,
			command TEXT,
			args TEXT,
			headers TEXT,
			env TEXT,
			metadata TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_providers_active
			ON providers(active);
	`)
	return err
}

// Create validates and saves a new provider, returning it with ID and
// timestamps populated.
func (s *Store) Create(p *Provider) (*Provider, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now

	args, err := marshalJSON(p.Args)
	if err != nil {
		return nil, err
	}
	headers, err := marshalJSON(p.Headers)
	if err != nil {
		return nil, err
	}
	env, err := marshalJSON(p.Env)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalJSON(p.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(`
		INSERT INTO providers (id, name, transport, endpoint, command, args, headers, env, metadata, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Transport, p.Endpoint, p.Command, args, headers, env, metadata,
		boolToInt(p.Active), now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}

	return p, nil
}

// Get retrieves a provider by ID.
func (s *Store) Get(id string) (*Provider, error) {
	row := s.db.QueryRow(`
		SELECT id, name, transport, endpoint, command, args, headers, env, metadata, active, created_at, updated_at
		FROM providers WHERE id = ?
	`, id)

	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// List returns all providers ordered by creation time.
func (s *Store) List() ([]*Provider, error) {
	rows, err := s.db.Query(`
		SELECT id, name, transport, endpoint, command, args, headers, env, metadata, active, created_at, updated_at
		FROM providers
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var providers []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// Update validates and saves changes to an existing provider.
func (s *Store) Update(p *Provider) (*Provider, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	p.UpdatedAt = time.Now().UTC()

	args, err := marshalJSON(p.Args)
	if err != nil {
		return nil, err
	}
	headers, err := marshalJSON(p.Headers)
	if err != nil {
		return nil, err
	}
	env, err := marshalJSON(p.Env)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalJSON(p.Metadata)
	if err != nil {
		return nil, err
	}

	result, err := s.db.Exec(`
		UPDATE providers
		SET name = ?, transport = ?, endpoint = ?, command = ?, args = ?, headers = ?, env = ?, metadata = ?, active = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, p.Transport, p.Endpoint, p.Command, args, headers, env, metadata,
		boolToInt(p.Active), p.UpdatedAt.Format(time.RFC3339), p.ID)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return nil, ErrNotFound
	}
	return p, nil
}

// SetActive toggles a provider without touching its connection fields.
func (s *Store) SetActive(id string, active bool) error {
	result, err := s.db.Exec(`
		UPDATE providers SET active = ?, updated_at = ? WHERE id = ?
	`, boolToInt(active), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a provider by ID.
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Active returns connection configs for all active providers, in
// creation order. This is the projection a tool reload consumes.
func (s *Store) Active() ([]mcp.ServerConfig, error) {
	providers, err := s.List()
	if err != nil {
		return nil, err
	}

	var configs []mcp.ServerConfig
	for _, p := range providers {
		if p.Active {
			configs = append(configs, p.ServerConfig())
		}
	}
	return configs, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProvider(row scanner) (*Provider, error) {
	var p Provider
	var endpoint, command, args, headers, env, metadata sql.NullString
	var active int
	var createdStr, updatedStr string

	err := row.Scan(&p.ID, &p.Name, &p.Transport, &endpoint, &command,
		&args, &headers, &env, &metadata, &active, &createdStr, &updatedStr)
	if err != nil {
		return nil, err
	}

	p.Endpoint = endpoint.String
	p.Command = command.String
	p.Active = active != 0
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)

	if args.String != "" {
		if err := json.Unmarshal([]byte(args.String), &p.Args); err != nil {
			return nil, fmt.Errorf("unmarshal args: %w", err)
		}
	}
	if headers.String != "" {
		if err := json.Unmarshal([]byte(headers.String), &p.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	if env.String != "" {
		if err := json.Unmarshal([]byte(env.String), &p.Env); err != nil {
			return nil, fmt.Errorf("unmarshal env: %w", err)
		}
	}
	if metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
