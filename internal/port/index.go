package port

import (
	"context"

	"github.com/gfwx/quicksilver/internal/domain"
)

// VectorIndex is the durable, tenant-scoped store of chunk records.
// All mutation must be safe under concurrent callers; a batch Add is
// all-or-nothing, so no reader or delete ever observes a partial batch.
type VectorIndex interface {
	// Exists reports whether at least one record with the given document id
	// is present. Used as the idempotency gate before Add.
	Exists(ctx context.Context, documentID string) (bool, error)

	// Add appends a batch of records. The index does not deduplicate; the
	// caller checks Exists first. Records whose vector length differs from
	// the index dimension are rejected before anything is written.
	Add(ctx context.Context, records []domain.ChunkRecord) error

	// Search returns up to limit records nearest to the query vector,
	// restricted to projectID, most similar first. Ties break by insertion
	// order. An empty scope yields an empty result, not an error.
	Search(ctx context.Context, vector []float32, projectID string, limit int) ([]domain.ScoredChunk, error)

	// DeleteByDocument removes all records for the document id.
	// Deleting an absent document is a no-op.
	DeleteByDocument(ctx context.Context, documentID string) error

	// DeleteByProject removes all records for the project id.
	// Deleting an absent project is a no-op.
	DeleteByProject(ctx context.Context, projectID string) error

	// Close releases the underlying storage.
	Close() error
}
