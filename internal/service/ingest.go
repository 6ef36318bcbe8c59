package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gfwx/quicksilver/internal/chunker"
	"github.com/gfwx/quicksilver/internal/domain"
	"github.com/gfwx/quicksilver/internal/port"
)

// ChunkOptions overrides the default splitting parameters for one ingestion.
// Zero values fall back to the chunker defaults.
type ChunkOptions struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// IngestionService runs the extract → chunk → embed → store pipeline.
// A document is ingested at most once: re-submitting an already stored
// document id is a no-op success, and a per-document lock keeps two
// concurrent first-time ingests of the same id from both passing the
// existence gate.
type IngestionService struct {
	reader   port.Reader
	embedder port.Embedder
	index    port.VectorIndex
	locks    keyedMutex
}

// NewIngestionService creates an ingestion service.
func NewIngestionService(reader port.Reader, embedder port.Embedder, index port.VectorIndex) *IngestionService {
	return &IngestionService{reader: reader, embedder: embedder, index: index}
}

// Ingest runs the full pipeline for one source. Stage failures abort the
// pipeline and carry the failing stage; the storage write is the only side
// effect and is all-or-nothing.
func (s *IngestionService) Ingest(ctx context.Context, src port.Source, documentID, projectID string, opts ChunkOptions) error {
	if documentID == "" {
		return port.NewClientError(errors.New("missing document id"))
	}
	if projectID == "" {
		return port.NewClientError(port.ErrEmptyProject)
	}

	unlock := s.locks.lock(documentID)
	defer unlock()

	exists, err := s.index.Exists(ctx, documentID)
	if err != nil {
		return port.FailStage(port.StageReceived, err)
	}
	if exists {
		slog.Info("document already ingested, skipping", "document_id", documentID, "project_id", projectID)
		return nil
	}

	text, err := s.reader.Extract(src)
	if err != nil {
		return port.FailStage(port.StageExtracted, err)
	}

	size := opts.ChunkSize
	if size <= 0 {
		size = chunker.DefaultChunkSize
	}
	overlap := opts.ChunkOverlap
	if overlap <= 0 {
		overlap = chunker.DefaultChunkOverlap
	}
	chunks := chunker.New(size, overlap, opts.Separators).Split(text)
	if len(chunks) == 0 {
		return port.FailStage(port.StageChunked, fmt.Errorf("document %s produced no chunks", documentID))
	}

	vectors, err := s.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return port.FailStage(port.StageEmbedded, err)
	}
	if len(vectors) != len(chunks) {
		return port.FailStage(port.StageEmbedded,
			fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	records := make([]domain.ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = domain.ChunkRecord{
			DocumentID: documentID,
			ProjectID:  projectID,
			Text:       c,
			Vector:     vectors[i],
		}
	}

	if err := s.index.Add(ctx, records); err != nil {
		return port.FailStage(port.StageStored, err)
	}

	slog.Info("document ingested", "document_id", documentID, "project_id", projectID, "chunks", len(records))
	return nil
}

// DeleteDocument removes every stored chunk of the document.
func (s *IngestionService) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return port.NewClientError(errors.New("missing document id"))
	}
	unlock := s.locks.lock(documentID)
	defer unlock()
	return s.index.DeleteByDocument(ctx, documentID)
}

// DeleteProject removes every stored chunk of the project.
func (s *IngestionService) DeleteProject(ctx context.Context, projectID string) error {
	if projectID == "" {
		return port.NewClientError(port.ErrEmptyProject)
	}
	return s.index.DeleteByProject(ctx, projectID)
}

// keyedMutex provides one mutex per key. Entries are reference counted and
// removed when the last holder releases, so the map does not grow with the
// number of distinct document ids ever seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
