package service

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/gfwx/quicksilver/internal/domain"
	"github.com/gfwx/quicksilver/internal/port"
)

// fakeReader returns canned text per source name.
type fakeReader struct {
	texts map[string]string
	err   error
}

func (r *fakeReader) Extract(src port.Source) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	if src.Data != nil {
		io.Copy(io.Discard, src.Data)
	}
	text, ok := r.texts[src.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s", port.ErrUnsupportedFormat, src.Name)
	}
	return text, nil
}

// fakeEmbedder produces deterministic vectors: a canned vector when the text
// is in the table, otherwise a character-statistics vector padded to dim.
type fakeEmbedder struct {
	dim     int
	vectors map[string][]float32
	err     error
	calls   int
}

func (e *fakeEmbedder) Dimension() int { return e.dim }

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.calls++
	return e.vector(text), nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *fakeEmbedder) vector(text string) []float32 {
	if v, ok := e.vectors[text]; ok {
		return v
	}
	v := make([]float32, e.dim)
	for _, r := range text {
		v[int(r)%e.dim]++
	}
	return v
}

// fakeGenerator records the prompt and replays canned fragments, then ends
// the stream with streamErr (nil = normal end).
type fakeGenerator struct {
	fragments []string
	streamErr error
	startErr  error

	lastPrompt string
	lastModel  string
}

func (g *fakeGenerator) GenerateStream(ctx context.Context, prompt, modelID string) (<-chan string, <-chan error, error) {
	if g.startErr != nil {
		return nil, nil, g.startErr
	}
	g.lastPrompt = prompt
	g.lastModel = modelID

	out := make(chan string, len(g.fragments))
	errs := make(chan error, 1)
	for _, f := range g.fragments {
		out <- f
	}
	close(out)
	errs <- g.streamErr
	return out, errs, nil
}

// memoryIndex is an in-memory VectorIndex for pipeline tests: atomic batch
// append, cosine ranking with stable ties, project scoping.
type memoryIndex struct {
	mu      sync.Mutex
	dim     int
	records []domain.ChunkRecord
	failAdd error
}

func newMemoryIndex(dim int) *memoryIndex { return &memoryIndex{dim: dim} }

func (m *memoryIndex) Exists(ctx context.Context, documentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.DocumentID == documentID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryIndex) Add(ctx context.Context, records []domain.ChunkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAdd != nil {
		return port.WrapIndex("add", m.failAdd)
	}
	for i, r := range records {
		if len(r.Vector) != m.dim {
			return port.WrapIndex("add", fmt.Errorf("record %d: %w", i, port.ErrDimensionMismatch))
		}
	}
	m.records = append(m.records, records...)
	return nil
}

func (m *memoryIndex) Search(ctx context.Context, vector []float32, projectID string, limit int) ([]domain.ScoredChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScoredChunk
	for _, r := range m.records {
		if r.ProjectID != projectID {
			continue
		}
		out = append(out, domain.ScoredChunk{ChunkRecord: r, Score: cosine(vector, r.Vector)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	for _, r := range m.records {
		if r.DocumentID != documentID {
			kept = append(kept, r)
		}
	}
	m.records = kept
	return nil
}

func (m *memoryIndex) DeleteByProject(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	for _, r := range m.records {
		if r.ProjectID != projectID {
			kept = append(kept, r)
		}
	}
	m.records = kept
	return nil
}

func (m *memoryIndex) Close() error { return nil }

func (m *memoryIndex) countDocument(documentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.DocumentID == documentID {
			n++
		}
	}
	return n
}

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
