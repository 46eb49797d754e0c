// Package rag provides the SQLite-backed corpus store.
//
// SQLite has no vector index; embeddings are stored as little-endian float32
// blobs and similarity is computed in-process. Suitable for local and pilot
// deployments where the corpus is small.
package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements CorpusStore over a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a SQLite corpus database at the given
// file path, creating the parent directory if needed.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("rag: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite corpus: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Debug("rag: sqlite corpus store opened", "path", dsn)
	return &SQLiteStore{db: db}, nil
}

// UpsertChunk stores a chunk and its embedding.
func (s *SQLiteStore) UpsertChunk(ctx context.Context, chunk Chunk, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policy_chunks (id, source, content, embedding) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET source=excluded.source, content=excluded.content, embedding=excluded.embedding`,
		chunk.ID, chunk.Source, chunk.Content, encodeVector(embedding))
	if err != nil {
		slog.Error("rag: sqlite upsert failed", "error", err, "id", chunk.ID)
		return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, err)
	}
	return nil
}

// Search scans all chunks and ranks them by cosine similarity in-process.
func (s *SQLiteStore) Search(ctx context.Context, embedding []float32, topK int) ([]SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, content, embedding FROM policy_chunks`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var source, content string
		var blob []byte
		if err := rows.Scan(&source, &content, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			slog.Warn("rag: skipping chunk with malformed embedding", "source", source, "error", err)
			continue
		}
		results = append(results, SearchResult{
			Source:     source,
			Content:    content,
			Similarity: CosineSimilarity(embedding, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chunk scan failed: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeVector serializes a float32 vector as a little-endian blob.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 blob.
func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

// CosineSimilarity computes the cosine similarity of two vectors. Mismatched
// lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
