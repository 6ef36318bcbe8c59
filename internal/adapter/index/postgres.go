package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gfwx/quicksilver/internal/domain"
	"github.com/gfwx/quicksilver/internal/port"
)

// PostgresIndex is a pgvector-backed VectorIndex. One logical table holds
// every chunk record; all search and bulk-delete operations filter on
// document_id / project_id, and ordering ties break on the insertion
// sequence so results are stable.
type PostgresIndex struct {
	db        *sql.DB
	dimension int
}

// NewPostgresIndex opens the database, ensures the schema exists for the
// given embedding dimension, and returns the index. The dimension is part of
// the table definition and cannot change for the lifetime of the index.
func NewPostgresIndex(databaseURL string, dimension int) (*PostgresIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("postgres index: invalid dimension %d", dimension)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	idx := &PostgresIndex{db: db, dimension: dimension}
	if err := idx.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (p *PostgresIndex) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id UUID PRIMARY KEY,
			seq BIGSERIAL,
			document_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			content TEXT NOT NULL,
			vector vector(%d) NOT NULL
		)`, p.dimension),
		`CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks (document_id)`,
		`CREATE INDEX IF NOT EXISTS chunks_project_idx ON chunks (project_id)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (p *PostgresIndex) Close() error {
	return p.db.Close()
}

// Exists reports whether any record with the document id is present.
func (p *PostgresIndex) Exists(ctx context.Context, documentID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM chunks WHERE document_id = $1)`, documentID,
	).Scan(&exists)
	if err != nil {
		return false, port.WrapIndex("exists", err)
	}
	return exists, nil
}

// Add inserts a batch of records in one transaction, so a failed batch
// leaves nothing behind. Every vector is validated against the index
// dimension before the first write.
func (p *PostgresIndex) Add(ctx context.Context, records []domain.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i, r := range records {
		if len(r.Vector) != p.dimension {
			return port.WrapIndex("add", fmt.Errorf("record %d: %w: got %d, want %d",
				i, port.ErrDimensionMismatch, len(r.Vector), p.dimension))
		}
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return port.WrapIndex("add", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, project_id, content, vector)
		 VALUES ($1, $2, $3, $4, $5::vector)`)
	if err != nil {
		return port.WrapIndex("add", fmt.Errorf("prepare: %w", err))
	}
	defer stmt.Close()

	for _, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx,
			id, r.DocumentID, r.ProjectID, r.Text, vectorToString(r.Vector),
		); err != nil {
			return port.WrapIndex("add", fmt.Errorf("insert chunk: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return port.WrapIndex("add", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Search performs a cosine similarity search restricted to the project.
func (p *PostgresIndex) Search(ctx context.Context, vector []float32, projectID string, limit int) ([]domain.ScoredChunk, error) {
	if len(vector) != p.dimension {
		return nil, port.WrapIndex("search", fmt.Errorf("%w: got %d, want %d",
			port.ErrDimensionMismatch, len(vector), p.dimension))
	}
	if limit <= 0 {
		return nil, nil
	}

	query := `SELECT c.id, c.document_id, c.project_id, c.content,
	                 1 - (c.vector <=> $1::vector) AS score
	          FROM chunks c
	          WHERE c.project_id = $2
	          ORDER BY c.vector <=> $1::vector, c.seq
	          LIMIT $3`

	rows, err := p.db.QueryContext(ctx, query, vectorToString(vector), projectID, limit)
	if err != nil {
		return nil, port.WrapIndex("search", err)
	}
	defer rows.Close()

	var results []domain.ScoredChunk
	for rows.Next() {
		var sc domain.ScoredChunk
		if err := rows.Scan(&sc.ID, &sc.DocumentID, &sc.ProjectID, &sc.Text, &sc.Score); err != nil {
			return nil, port.WrapIndex("search", fmt.Errorf("scan: %w", err))
		}
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, port.WrapIndex("search", err)
	}
	return results, nil
}

// DeleteByDocument removes all records for the document id.
func (p *PostgresIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return port.WrapIndex("delete_by_document", err)
	}
	return nil
}

// DeleteByProject removes all records for the project id.
func (p *PostgresIndex) DeleteByProject(ctx context.Context, projectID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM chunks WHERE project_id = $1`, projectID); err != nil {
		return port.WrapIndex("delete_by_project", err)
	}
	return nil
}

// vectorToString converts a float32 slice to pgvector string format: [0.1,0.2,0.3].
func vectorToString(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = fmt.Sprintf("%g", val)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
