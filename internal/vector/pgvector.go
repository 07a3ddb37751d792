package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/hyperjump/kaiwa/internal/models"
)

// PgIndex is a PostgreSQL-backed vector index using the pgvector extension.
// Storage is durable, so Save and Load are no-ops.
type PgIndex struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPgIndex connects to dsn, registers pgvector types, and ensures the schema.
func NewPgIndex(ctx context.Context, dsn string, dimensions int) (*PgIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	idx := &PgIndex{pool: pool, dimensions: dimensions}
	if err := idx.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return idx, nil
}

func (p *PgIndex) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			page INTEGER NOT NULL,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, p.dimensions),
		`CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, m := range migrations {
		if _, err := p.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}

// Insert upserts chunks in one transaction and returns the chunk IDs used.
func (p *PgIndex) Insert(ctx context.Context, chunks []*models.Chunk) ([]string, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		if len(ch.Embedding) != p.dimensions {
			return nil, fmt.Errorf("chunk %s: vector dimension mismatch: got %d, expected %d", ch.ID, len(ch.Embedding), p.dimensions)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, page, ordinal, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				document_id = EXCLUDED.document_id,
				page = EXCLUDED.page,
				ordinal = EXCLUDED.ordinal,
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding
		`, ch.ID, ch.DocumentID, ch.Page, ch.Ordinal, ch.Content, pgvector.NewVector(ch.Embedding))
		if err != nil {
			return nil, fmt.Errorf("insert chunk: %w", err)
		}
		ids[i] = ch.ID
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// DeleteDocument removes every chunk belonging to docID in one statement.
func (p *PgIndex) DeleteDocument(ctx context.Context, docID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, docID)
	return err
}

// Search returns the k nearest chunks by cosine similarity, restricted to scope
// in the WHERE clause so excluded documents never enter the ranking.
func (p *PgIndex) Search(ctx context.Context, query []float32, k int, scope Scope) ([]*Result, error) {
	if len(query) != p.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), p.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	if scope != nil && len(scope) == 0 {
		return nil, nil
	}

	var rows pgx.Rows
	var err error
	vec := pgvector.NewVector(query)
	if scope == nil {
		rows, err = p.pool.Query(ctx, `
			SELECT id, document_id, page, content, 1 - (embedding <=> $1) AS score
			FROM chunks
			ORDER BY embedding <=> $1
			LIMIT $2
		`, vec, k)
	} else {
		allowed := make([]string, 0, len(scope))
		for id := range scope {
			allowed = append(allowed, id)
		}
		rows, err = p.pool.Query(ctx, `
			SELECT id, document_id, page, content, 1 - (embedding <=> $1) AS score
			FROM chunks
			WHERE document_id = ANY($2)
			ORDER BY embedding <=> $1
			LIMIT $3
		`, vec, allowed, k)
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		r := &Result{}
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Page, &r.Content, &r.Score); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ChunkIDs returns a chunk ID -> document ID map of the whole table.
func (p *PgIndex) ChunkIDs(ctx context.Context) (map[string]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, document_id FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, docID string
		if err := rows.Scan(&id, &docID); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[id] = docID
	}
	return out, rows.Err()
}

// Size returns the number of chunks in the index.
func (p *PgIndex) Size(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Save is a no-op: Postgres storage is durable.
func (p *PgIndex) Save(path string) error { return nil }

// Load is a no-op: Postgres storage is durable.
func (p *PgIndex) Load(path string) error { return nil }

// Close releases the connection pool.
func (p *PgIndex) Close() error {
	p.pool.Close()
	return nil
}
