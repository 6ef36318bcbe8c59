package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gfwx/quicksilver/internal/domain"
	"github.com/gfwx/quicksilver/internal/port"
)

// DefaultTopK is the retrieval depth used when the caller does not ask for
// a specific number of context chunks.
const DefaultTopK = 5

// QueryService answers natural-language questions over a project's ingested
// documents: embed the question, retrieve the nearest chunks, assemble a
// grounded prompt, and stream the generation.
type QueryService struct {
	embedder  port.Embedder
	generator port.Generator
	index     port.VectorIndex
}

// NewQueryService creates a query service.
func NewQueryService(embedder port.Embedder, generator port.Generator, index port.VectorIndex) *QueryService {
	return &QueryService{embedder: embedder, generator: generator, index: index}
}

// Retrieve returns the topK chunks nearest to the question within the
// project, most similar first. A project with no matching records yields an
// empty result, not an error.
func (s *QueryService) Retrieve(ctx context.Context, question, projectID string, topK int) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(question) == "" {
		return nil, port.NewClientError(port.ErrEmptyQuery)
	}
	if projectID == "" {
		return nil, port.NewClientError(port.ErrEmptyProject)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	chunks, err := s.index.Search(ctx, vector, projectID, topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return chunks, nil
}

// Answer retrieves context for the question and streams a grounded
// generation. The fragment channel closes when generation ends; errs then
// yields nil for a normal end or a *port.GenerationError for a mid-stream
// abort, so callers can tell the two apart.
func (s *QueryService) Answer(ctx context.Context, question, projectID, modelID string, topK int) (<-chan string, <-chan error, error) {
	if modelID == "" {
		return nil, nil, port.NewClientError(port.ErrEmptyModel)
	}

	chunks, err := s.Retrieve(ctx, question, projectID, topK)
	if err != nil {
		return nil, nil, err
	}

	prompt := BuildPrompt(question, chunks)
	slog.Info("answering query", "project_id", projectID, "model", modelID, "context_chunks", len(chunks))

	fragments, genErrs, err := s.generator.GenerateStream(ctx, prompt, modelID)
	if err != nil {
		return nil, nil, &port.GenerationError{Err: err}
	}

	errs := make(chan error, 1)
	go func() {
		if genErr := <-genErrs; genErr != nil {
			errs <- &port.GenerationError{Err: genErr}
			return
		}
		errs <- nil
	}()

	return fragments, errs, nil
}

// BuildPrompt assembles the generation prompt: the question followed by each
// retrieved chunk labeled with its 1-based rank, in retrieval order. With no
// context the prompt keeps an empty context section and instructs the model
// to answer "unknown" instead of guessing.
func BuildPrompt(question string, chunks []domain.ScoredChunk) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the numbered context passages below.\n")
	if len(chunks) == 0 {
		b.WriteString("The context is empty: no stored documents matched the question. Answer \"unknown\" instead of guessing.\n")
	} else {
		b.WriteString("If the passages do not contain the answer, answer \"unknown\" instead of guessing.\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nContext:\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, c.Text)
	}
	return b.String()
}
