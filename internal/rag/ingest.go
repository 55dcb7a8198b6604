package rag

import (
	"context"
	"fmt"
	"strings"
)

// Chunking defaults, tuned for documentation-sized pages.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Ingester chunks documents, embeds them, and stores the result.
type Ingester struct {
	store    *Store
	embedder Embedder

	ChunkSize    int
	ChunkOverlap int
}

// NewIngester creates an ingester with default chunking.
func NewIngester(store *Store, embedder Embedder) *Ingester {
	return &Ingester{
		store:        store,
		embedder:     embedder,
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
	}
}

// Ingest splits content into overlapping chunks, embeds each, and
// appends them to the collection (created if absent). Returns the
// number of chunks stored.
func (ing *Ingester) Ingest(ctx context.Context, collection, source, content string) (int, error) {
	if _, err := ing.store.CreateCollection(collection); err != nil {
		return 0, err
	}

	pieces := SplitText(content, ing.ChunkSize, ing.ChunkOverlap)
	chunks := make([]Chunk, 0, len(pieces))
	for _, piece := range pieces {
		vec, err := ing.embedder.Generate(ctx, piece)
		if err != nil {
			return 0, fmt.Errorf("embed chunk: %w", err)
		}
		chunks = append(chunks, Chunk{Source: source, Content: piece, Embedding: vec})
	}

	if err := ing.store.AddChunks(collection, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// SplitText splits text into chunks of at most size runes with the
// given overlap between consecutive chunks. Splits prefer paragraph
// then word boundaries near the limit.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, strings.TrimSpace(string(runes[start:])))
			break
		}

		cut := boundaryBefore(runes, start, end)
		chunks = append(chunks, strings.TrimSpace(string(runes[start:cut])))

		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}

	return chunks
}

// boundaryBefore finds a natural split point at or before end,
// scanning back up to a quarter of the chunk for a paragraph break,
// then a space. Falls back to the hard limit.
func boundaryBefore(runes []rune, start, end int) int {
	floor := end - (end-start)/4
	for i := end; i > floor; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	for i := end; i > floor; i-- {
		if runes[i-1] == ' ' {
			return i
		}
	}
	return end
}
