// Package rag provides the Postgres-backed corpus store using pgvector.
package rag

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements CorpusStore over Postgres with the pgvector
// extension. Similarity ranking runs in the database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens (and migrates) a Postgres corpus database.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres corpus: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Debug("rag: postgres corpus store opened")
	return &PostgresStore{db: db}, nil
}

// UpsertChunk stores a chunk and its embedding.
func (s *PostgresStore) UpsertChunk(ctx context.Context, chunk Chunk, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policy_chunks (id, source, content, embedding) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET source=EXCLUDED.source, content=EXCLUDED.content, embedding=EXCLUDED.embedding`,
		chunk.ID, chunk.Source, chunk.Content, pgvector.NewVector(embedding))
	if err != nil {
		slog.Error("rag: postgres upsert failed", "error", err, "id", chunk.ID)
		return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, err)
	}
	return nil
}

// Search ranks chunks by cosine distance in the database.
func (s *PostgresStore) Search(ctx context.Context, embedding []float32, topK int) ([]SearchResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, content, 1 - (embedding <=> $1) AS similarity
		 FROM policy_chunks
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Source, &r.Content, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chunk scan failed: %w", err)
	}
	return results, nil
}

// Close releases the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
