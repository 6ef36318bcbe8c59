package handler

import (
	"context"
	"io"
	"sync"

	"github.com/gfwx/quicksilver/internal/domain"
	"github.com/gfwx/quicksilver/internal/port"
)

// unitEmbedder returns the same unit vector for every text.
type unitEmbedder struct{}

func (unitEmbedder) Dimension() int { return 3 }

func (unitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (unitEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// noopIndex accepts everything and matches nothing.
type noopIndex struct{}

func (noopIndex) Exists(ctx context.Context, documentID string) (bool, error) { return false, nil }

func (noopIndex) Add(ctx context.Context, records []domain.ChunkRecord) error { return nil }

func (noopIndex) Search(ctx context.Context, vector []float32, projectID string, limit int) ([]domain.ScoredChunk, error) {
	return nil, nil
}

func (noopIndex) DeleteByDocument(ctx context.Context, documentID string) error { return nil }

func (noopIndex) DeleteByProject(ctx context.Context, projectID string) error { return nil }

func (noopIndex) Close() error { return nil }

// recordingIndex keeps added records so tests can inspect what was stored.
type recordingIndex struct {
	noopIndex
	mu      sync.Mutex
	records []domain.ChunkRecord
}

func (r *recordingIndex) Add(ctx context.Context, records []domain.ChunkRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
	return nil
}

func (r *recordingIndex) stored() []domain.ChunkRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ChunkRecord, len(r.records))
	copy(out, r.records)
	return out
}

// fixedReader extracts the same text from any source.
type fixedReader struct{ text string }

func (r fixedReader) Extract(src port.Source) (string, error) {
	io.Copy(io.Discard, src.Data)
	return r.text, nil
}
