package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gfwx/quicksilver/internal/domain"
	"github.com/gfwx/quicksilver/internal/port"
)

// SQLiteIndex is an embedded VectorIndex for single-node deployments.
// Vectors are stored as JSON and ranked in process with cosine similarity;
// candidate rows are scanned in insertion order so score ties are stable.
type SQLiteIndex struct {
	db        *sql.DB
	dimension int
}

// NewSQLiteIndex opens (or creates) the database file and ensures the schema.
func NewSQLiteIndex(path string, dimension int) (*SQLiteIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("sqlite index: invalid dimension %d", dimension)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent ingestion.
	db.SetMaxOpenConns(1)

	schema := `CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		seq INTEGER,
		document_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		content TEXT NOT NULL,
		vector TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks (document_id);
	CREATE INDEX IF NOT EXISTS chunks_project_idx ON chunks (project_id);`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &SQLiteIndex{db: db, dimension: dimension}, nil
}

// Close closes the database.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// Exists reports whether any record with the document id is present.
func (s *SQLiteIndex) Exists(ctx context.Context, documentID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM chunks WHERE document_id = ?`, documentID,
	).Scan(&n)
	if err != nil {
		return false, port.WrapIndex("exists", err)
	}
	return n > 0, nil
}

// Add inserts a batch of records in one transaction. Vector dimensions are
// validated before the first write.
func (s *SQLiteIndex) Add(ctx context.Context, records []domain.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i, r := range records {
		if len(r.Vector) != s.dimension {
			return port.WrapIndex("add", fmt.Errorf("record %d: %w: got %d, want %d",
				i, port.ErrDimensionMismatch, len(r.Vector), s.dimension))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return port.WrapIndex("add", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	for _, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		vec, err := json.Marshal(r.Vector)
		if err != nil {
			return port.WrapIndex("add", fmt.Errorf("encode vector: %w", err))
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, seq, document_id, project_id, content, vector)
			 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM chunks), ?, ?, ?, ?)`,
			id, r.DocumentID, r.ProjectID, r.Text, string(vec),
		); err != nil {
			return port.WrapIndex("add", fmt.Errorf("insert chunk: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return port.WrapIndex("add", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Search scans the project's records, scores them with cosine similarity,
// and returns the top results most similar first.
func (s *SQLiteIndex) Search(ctx context.Context, vector []float32, projectID string, limit int) ([]domain.ScoredChunk, error) {
	if len(vector) != s.dimension {
		return nil, port.WrapIndex("search", fmt.Errorf("%w: got %d, want %d",
			port.ErrDimensionMismatch, len(vector), s.dimension))
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, project_id, content, vector
		 FROM chunks WHERE project_id = ? ORDER BY seq`, projectID)
	if err != nil {
		return nil, port.WrapIndex("search", err)
	}
	defer rows.Close()

	var results []domain.ScoredChunk
	for rows.Next() {
		var sc domain.ScoredChunk
		var encoded string
		if err := rows.Scan(&sc.ID, &sc.DocumentID, &sc.ProjectID, &sc.Text, &encoded); err != nil {
			return nil, port.WrapIndex("search", fmt.Errorf("scan: %w", err))
		}
		var vec []float32
		if err := json.Unmarshal([]byte(encoded), &vec); err != nil {
			return nil, port.WrapIndex("search", fmt.Errorf("decode vector: %w", err))
		}
		sc.Score = cosine(vector, vec)
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, port.WrapIndex("search", err)
	}

	// Stable sort keeps insertion order for score ties.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DeleteByDocument removes all records for the document id.
func (s *SQLiteIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return port.WrapIndex("delete_by_document", err)
	}
	return nil
}

// DeleteByProject removes all records for the project id.
func (s *SQLiteIndex) DeleteByProject(ctx context.Context, projectID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE project_id = ?`, projectID); err != nil {
		return port.WrapIndex("delete_by_project", err)
	}
	return nil
}

// cosine returns the cosine similarity of two equal-length vectors.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
