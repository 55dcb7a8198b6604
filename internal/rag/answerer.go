package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clerk-agent/clerk/internal/embeddings"
	"github.com/clerk-agent/clerk/internal/llm"
)

// DefaultTopK is how many chunks ground an answer.
const DefaultTopK = 10

// Embedder turns text into a vector. Satisfied by *embeddings.Client.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Answerer answers questions in a single model call grounded in
// retrieved chunks. Unlike the agent loop it never invokes tools and
// never iterates: one retrieval, one completion.
type Answerer struct {
	store    *Store
	embedder Embedder
	client   llm.Client
	model    string
	topK     int
	logger   *slog.Logger
}

// NewAnswerer creates an answerer over the given store and model.
// A topK of 0 uses DefaultTopK.
func NewAnswerer(store *Store, embedder Embedder, client llm.Client, model string, topK int, logger *slog.Logger) *Answerer {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Answerer{
		store:    store,
		embedder: embedder,
		client:   client,
		model:    model,
		topK:     topK,
		logger:   logger,
	}
}

// Store exposes the underlying collection store.
func (a *Answerer) Store() *Store {
	return a.store
}

// Ask answers the query from the named collection. If callback is
// non-nil the answer is streamed token by token; either way the full
// answer is returned. An unknown collection is an error before any
// model call is made.
func (a *Answerer) Ask(ctx context.Context, query, collection string, callback llm.StreamCallback) (string, error) {
	// Resolve the collection first so a typo fails fast.
	if _, err := a.store.GetCollection(collection); err != nil {
		return "", err
	}

	queryVec, err := a.embedder.Generate(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}

	chunks, err := a.store.Chunks(collection)
	if err != nil {
		return "", err
	}

	retrieved := a.retrieve(queryVec, chunks)
	prompt := buildPrompt(query, retrieved)

	a.logger.Debug("retrieval complete",
		"collection", collection,
		"corpus", len(chunks),
		"retrieved", len(retrieved),
	)

	messages := []llm.Message{{Role: "user", Content: prompt}}
	resp, err := a.client.ChatStream(ctx, a.model, messages, nil, callback)
	if err != nil {
		return "", fmt.Errorf("answer: %w", err)
	}
	return resp.Message.Content, nil
}

// retrieve ranks chunks by cosine similarity and keeps the top K.
func (a *Answerer) retrieve(queryVec []float32, chunks []Chunk) []Chunk {
	if len(chunks) == 0 {
		return nil
	}

	vectors := make([][]float32, len(chunks))
	for i := range chunks {
		vectors[i] = chunks[i].Embedding
	}

	indices := embeddings.TopK(queryVec, vectors, a.topK)
	retrieved := make([]Chunk, 0, len(indices))
	for _, idx := range indices {
		retrieved = append(retrieved, chunks[idx])
	}
	return retrieved
}

// buildPrompt assembles the grounded prompt: context blocks labelled
// by source, then the question, with instructions not to answer
// beyond the supplied context.
func buildPrompt(query string, retrieved []Chunk) string {
	var b strings.Builder

	b.WriteString("Use the following context to answer the question.\n")
	b.WriteString("Only use information from the context. If the context does not contain the answer, say you do not know instead of guessing.\n")
	b.WriteString("Cite the source of any facts you use.\n\n")

	if len(retrieved) == 0 {
		b.WriteString("(no context available)\n")
	}
	for i, c := range retrieved {
		fmt.Fprintf(&b, "[%d] Source: %s\n%s\n\n", i+1, c.Source, c.Content)
	}

	fmt.Fprintf(&b, "Question: %s\nAnswer:", query)
	return b.String()
}
