// Package rag provides policy corpus retrieval for PolicyPal.
//
// The retriever embeds the manager's question and runs a cosine-similarity
// lookup against the stored policy chunks. The guard pipeline never consumes
// search results directly; it acts on the generated response text.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTopK is the number of policy chunks retrieved per query.
const DefaultTopK = 5

// searchTimeout bounds a single retrieval round trip.
const searchTimeout = 10 * time.Second

// SearchResult is one scored policy chunk.
type SearchResult struct {
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
}

// ContextResult is the retrieval outcome for one query.
type ContextResult struct {
	Results       []SearchResult `json:"results"`
	AvgSimilarity float64        `json:"avg_similarity"`
}

// Searcher is the retrieval contract consumed by the flow engine.
type Searcher interface {
	GetContext(ctx context.Context, query string) (*ContextResult, error)
}

// Embedder produces embedding vectors; the genai client implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Chunk is a policy document fragment for ingestion.
type Chunk struct {
	ID      string `json:"id"`
	Source  string `json:"source"`
	Content string `json:"content"`
}

// CorpusStore persists policy chunks and answers nearest-neighbour queries.
type CorpusStore interface {
	// UpsertChunk stores a chunk and its embedding, replacing any previous
	// chunk with the same id.
	UpsertChunk(ctx context.Context, chunk Chunk, embedding []float32) error

	// Search returns the topK most similar chunks to the query vector.
	Search(ctx context.Context, embedding []float32, topK int) ([]SearchResult, error)

	// Close releases the underlying database handle.
	Close() error
}

// Retriever implements Searcher over an Embedder and a CorpusStore.
type Retriever struct {
	embedder Embedder
	store    CorpusStore
	topK     int
}

// NewRetriever creates a Retriever. topK <= 0 falls back to DefaultTopK.
func NewRetriever(embedder Embedder, store CorpusStore, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{embedder: embedder, store: store, topK: topK}
}

// GetContext embeds the query and returns the most similar policy chunks
// together with their average similarity.
func (r *Retriever) GetContext(ctx context.Context, query string) (*ContextResult, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := r.store.Search(ctx, vec, r.topK)
	if err != nil {
		return nil, fmt.Errorf("corpus search failed: %w", err)
	}

	out := &ContextResult{Results: results, AvgSimilarity: averageSimilarity(results)}
	slog.Debug("rag: retrieved context", "results", len(results), "avgSimilarity", out.AvgSimilarity)
	return out, nil
}

// Ingest embeds and stores a batch of chunks.
func (r *Retriever) Ingest(ctx context.Context, chunks []Chunk) error {
	for _, c := range chunks {
		vec, err := r.embedder.Embed(ctx, c.Content)
		if err != nil {
			return fmt.Errorf("failed to embed chunk %s: %w", c.ID, err)
		}
		if err := r.store.UpsertChunk(ctx, c, vec); err != nil {
			return fmt.Errorf("failed to store chunk %s: %w", c.ID, err)
		}
	}
	slog.Info("rag: ingested chunks", "count", len(chunks))
	return nil
}

func averageSimilarity(results []SearchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Similarity
	}
	return sum / float64(len(results))
}
