// Package rag provides retrieval-augmented answering over ingested
// document collections: a sqlite chunk store with per-collection
// embeddings, and an Answerer that grounds a single-shot model call
// in the most similar chunks.
package rag

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ErrCollectionNotFound is returned when a query names a collection
// that has not been created.
var ErrCollectionNotFound = errors.New("collection not found")

// Collection groups ingested chunks under a name.
type Collection struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Chunk is one ingested piece of text with its embedding.
type Chunk struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"` // URL or document the text came from
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
}

// Store persists collections and chunks.
type Store struct {
	db *sql.DB
}

// NewStore creates a chunk store using the given database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS collections (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			collection_id TEXT NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (collection_id) REFERENCES collections(id)
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_collection
			ON chunks(collection_id);
	`)
	return err
}

// CreateCollection creates a named collection, returning the existing
// one if the name is already taken.
func (s *Store) CreateCollection(name string) (*Collection, error) {
	if existing, err := s.GetCollection(name); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrCollectionNotFound) {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`
		INSERT INTO collections (id, name, created_at) VALUES (?, ?, ?)
	`, id.String(), name, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}

	return &Collection{ID: id.String(), Name: name, CreatedAt: now}, nil
}

// GetCollection resolves a collection by name.
func (s *Store) GetCollection(name string) (*Collection, error) {
	row := s.db.QueryRow(`
		SELECT c.id, c.name, c.created_at, COUNT(ch.id)
		FROM collections c
		LEFT JOIN chunks ch ON ch.collection_id = c.id
		WHERE c.name = ?
		GROUP BY c.id
	`, name)

	var col Collection
	var createdStr string
	err := row.Scan(&col.ID, &col.Name, &createdStr, &col.ChunkCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	col.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	return &col, nil
}

// ListCollections returns all collections with chunk counts.
func (s *Store) ListCollections() ([]*Collection, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.name, c.created_at, COUNT(ch.id)
		FROM collections c
		LEFT JOIN chunks ch ON ch.collection_id = c.id
		GROUP BY c.id
		ORDER BY c.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var collections []*Collection
	for rows.Next() {
		var col Collection
		var createdStr string
		if err := rows.Scan(&col.ID, &col.Name, &createdStr, &col.ChunkCount); err != nil {
			return nil, err
		}
		col.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		collections = append(collections, &col)
	}
	return collections, rows.Err()
}

// DeleteCollection removes a collection and its chunks. Deleting an
// absent collection is not an error.
func (s *Store) DeleteCollection(name string) error {
	col, err := s.GetCollection(name)
	if errors.Is(err, ErrCollectionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(`DELETE FROM chunks WHERE collection_id = ?`, col.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM collections WHERE id = ?`, col.ID); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

// AddChunks stores chunks with their embeddings under the collection.
func (s *Store) AddChunks(collectionName string, chunks []Chunk) error {
	col, err := s.GetCollection(collectionName)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for i := range chunks {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate id: %w", err)
		}
		chunks[i].ID = id.String()

		_, err = tx.Exec(`
			INSERT INTO chunks (id, collection_id, source, content, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, chunks[i].ID, col.ID, chunks[i].Source, chunks[i].Content,
			encodeVector(chunks[i].Embedding), now)
		if err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	return tx.Commit()
}

// Chunks returns all chunks in the collection with embeddings decoded.
func (s *Store) Chunks(collectionName string) ([]Chunk, error) {
	col, err := s.GetCollection(collectionName)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, source, content, embedding
		FROM chunks
		WHERE collection_id = ?
		ORDER BY created_at ASC, id ASC
	`, col.ID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Source, &c.Content, &blob); err != nil {
			return nil, err
		}
		c.Embedding = decodeVector(blob)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// encodeVector packs a float32 vector as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a little-endian float32 vector.
func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
