package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/gfwx/quicksilver/internal/port"
)

func wantStage(t *testing.T, err error, stage port.Stage) {
	t.Helper()
	var pe *port.PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PipelineError", err)
	}
	if pe.Stage != stage {
		t.Fatalf("stage = %s, want %s", pe.Stage, stage)
	}
}

func newIngestFixture(texts map[string]string) (*IngestionService, *memoryIndex, *fakeEmbedder) {
	idx := newMemoryIndex(4)
	emb := &fakeEmbedder{dim: 4}
	svc := NewIngestionService(&fakeReader{texts: texts}, emb, idx)
	return svc, idx, emb
}

func TestIngestStoresChunks(t *testing.T) {
	svc, idx, _ := newIngestFixture(map[string]string{
		"doc.txt": "First paragraph here.\n\nSecond paragraph here.",
	})

	err := svc.Ingest(context.Background(), port.Source{Name: "doc.txt"}, "doc1", "p1", ChunkOptions{ChunkSize: 25})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n := idx.countDocument("doc1"); n != 2 {
		t.Fatalf("stored %d chunks, want 2", n)
	}
	for _, r := range idx.records {
		if r.ProjectID != "p1" || r.DocumentID != "doc1" {
			t.Fatalf("record missing scope stamps: %+v", r)
		}
	}
}

func TestIngestIdempotent(t *testing.T) {
	svc, idx, emb := newIngestFixture(map[string]string{"doc.txt": "some document text"})
	ctx := context.Background()
	src := port.Source{Name: "doc.txt"}

	if err := svc.Ingest(ctx, src, "doc1", "p1", ChunkOptions{}); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	before := idx.countDocument("doc1")
	embedCalls := emb.calls

	// Re-submitting the same document is a success, not an update.
	if err := svc.Ingest(ctx, src, "doc1", "p1", ChunkOptions{}); err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if after := idx.countDocument("doc1"); after != before {
		t.Fatalf("row count changed on re-ingest: %d -> %d", before, after)
	}
	if emb.calls != embedCalls {
		t.Fatal("re-ingest reprocessed the document through the embedder")
	}
}

func TestIngestConcurrentSameDocument(t *testing.T) {
	svc, idx, _ := newIngestFixture(map[string]string{"doc.txt": "some document text"})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Ingest(ctx, port.Source{Name: "doc.txt"}, "doc1", "p1", ChunkOptions{}); err != nil {
				t.Errorf("Ingest: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := idx.countDocument("doc1"); n != 1 {
		t.Fatalf("concurrent ingests stored %d copies of the chunk set, want 1", n)
	}
}

func TestIngestMissingIDs(t *testing.T) {
	svc, _, _ := newIngestFixture(map[string]string{"doc.txt": "text"})
	ctx := context.Background()

	var ce *port.ClientError
	if err := svc.Ingest(ctx, port.Source{Name: "doc.txt"}, "", "p1", ChunkOptions{}); !errors.As(err, &ce) {
		t.Fatalf("missing document id: err = %v, want ClientError", err)
	}
	if err := svc.Ingest(ctx, port.Source{Name: "doc.txt"}, "doc1", "", ChunkOptions{}); !errors.As(err, &ce) {
		t.Fatalf("missing project id: err = %v, want ClientError", err)
	}
}

func TestIngestExtractionFailure(t *testing.T) {
	svc, idx, _ := newIngestFixture(nil) // reader knows no sources
	err := svc.Ingest(context.Background(), port.Source{Name: "doc.bin"}, "doc1", "p1", ChunkOptions{})
	wantStage(t, err, port.StageExtracted)
	if !errors.Is(err, port.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want wrapped ErrUnsupportedFormat", err)
	}
	if idx.countDocument("doc1") != 0 {
		t.Fatal("failed extraction left records behind")
	}
}

func TestIngestEmptyTextFailsChunking(t *testing.T) {
	svc, _, _ := newIngestFixture(map[string]string{"doc.txt": "   \n  "})
	err := svc.Ingest(context.Background(), port.Source{Name: "doc.txt"}, "doc1", "p1", ChunkOptions{})
	wantStage(t, err, port.StageChunked)
}

func TestIngestEmbeddingFailure(t *testing.T) {
	idx := newMemoryIndex(4)
	emb := &fakeEmbedder{dim: 4, err: errors.New("embedding service down")}
	svc := NewIngestionService(&fakeReader{texts: map[string]string{"doc.txt": "text"}}, emb, idx)

	err := svc.Ingest(context.Background(), port.Source{Name: "doc.txt"}, "doc1", "p1", ChunkOptions{})
	wantStage(t, err, port.StageEmbedded)
	if idx.countDocument("doc1") != 0 {
		t.Fatal("failed embedding left records behind")
	}
}

func TestIngestStorageFailure(t *testing.T) {
	idx := newMemoryIndex(4)
	idx.failAdd = errors.New("disk full")
	emb := &fakeEmbedder{dim: 4}
	svc := NewIngestionService(&fakeReader{texts: map[string]string{"doc.txt": "text"}}, emb, idx)

	err := svc.Ingest(context.Background(), port.Source{Name: "doc.txt"}, "doc1", "p1", ChunkOptions{})
	wantStage(t, err, port.StageStored)

	var ie *port.IndexError
	if !errors.As(err, &ie) || ie.Op != "add" {
		t.Fatalf("err = %v, want wrapped IndexError with op add", err)
	}
}

func TestIngestThenRetrieveMiddleChunk(t *testing.T) {
	// Three chunks with hand-crafted orthogonal embeddings; a query
	// embedded like chunk 2 must surface chunk 2 first.
	idx := newMemoryIndex(3)
	emb := &fakeEmbedder{dim: 3, vectors: map[string][]float32{
		"aaa bbb":            {1, 0, 0},
		"bbb ccc":            {0, 1, 0},
		"ccc ddd":            {0, 0, 1},
		"what is in part 2?": {0, 1, 0},
	}}
	reader := &fakeReader{texts: map[string]string{"doc.txt": "aaa bbb ccc ddd"}}
	ingest := NewIngestionService(reader, emb, idx)
	query := NewQueryService(emb, &fakeGenerator{}, idx)
	ctx := context.Background()

	err := ingest.Ingest(ctx, port.Source{Name: "doc.txt"}, "doc1", "p1", ChunkOptions{ChunkSize: 7, ChunkOverlap: 3})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n := idx.countDocument("doc1"); n != 3 {
		t.Fatalf("stored %d chunks, want 3", n)
	}
	if ok, _ := idx.Exists(ctx, "doc1"); !ok {
		t.Fatal("Exists(doc1) = false after ingest")
	}

	got, err := query.Retrieve(ctx, "what is in part 2?", "p1", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) == 0 || got[0].Text != "bbb ccc" {
		t.Fatalf("top result = %+v, want chunk 2 (bbb ccc)", got)
	}
}

func TestDeleteDocumentCompleteness(t *testing.T) {
	svc, idx, emb := newIngestFixture(map[string]string{"doc.txt": "text to be removed"})
	ctx := context.Background()

	if err := svc.Ingest(ctx, port.Source{Name: "doc.txt"}, "doc1", "p1", ChunkOptions{}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := svc.DeleteDocument(ctx, "doc1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if ok, _ := idx.Exists(ctx, "doc1"); ok {
		t.Fatal("Exists(doc1) = true after delete")
	}

	vec, _ := emb.Embed(ctx, "text to be removed")
	got, _ := idx.Search(ctx, vec, "p1", 10)
	for _, sc := range got {
		if sc.DocumentID == "doc1" {
			t.Fatal("search returned a chunk of the deleted document")
		}
	}
}

func TestDeleteProject(t *testing.T) {
	svc, idx, _ := newIngestFixture(map[string]string{
		"a.txt": "alpha text",
		"b.txt": "beta text",
	})
	ctx := context.Background()

	if err := svc.Ingest(ctx, port.Source{Name: "a.txt"}, "doc-a", "p1", ChunkOptions{}); err != nil {
		t.Fatalf("Ingest a: %v", err)
	}
	if err := svc.Ingest(ctx, port.Source{Name: "b.txt"}, "doc-b", "p2", ChunkOptions{}); err != nil {
		t.Fatalf("Ingest b: %v", err)
	}

	if err := svc.DeleteProject(ctx, "p1"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if idx.countDocument("doc-a") != 0 {
		t.Fatal("p1 records survived DeleteProject")
	}
	if idx.countDocument("doc-b") == 0 {
		t.Fatal("DeleteProject removed another project's records")
	}
}

func TestIngestLongDocumentDefaults(t *testing.T) {
	text := strings.Repeat("Sentence with a handful of words in it. ", 200)
	svc, idx, _ := newIngestFixture(map[string]string{"doc.txt": text})

	if err := svc.Ingest(context.Background(), port.Source{Name: "doc.txt"}, "doc1", "p1", ChunkOptions{}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n := idx.countDocument("doc1"); n < 2 {
		t.Fatalf("long document stored %d chunks, want several", n)
	}
}
