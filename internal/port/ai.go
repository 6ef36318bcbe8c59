package port

import "context"

// Embedder maps text to fixed-dimension vectors. Implementations can target
// Ollama or any OpenAI-compatible embedding API.
type Embedder interface {
	// Dimension returns the output dimensionality of the embedding model.
	// It is resolved once at initialization and fixed for the process lifetime.
	Dimension() int

	// Embed generates a vector embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator streams language-model completions for an assembled prompt.
type Generator interface {
	// GenerateStream starts a generation and returns a channel of text
	// fragments in generation order. The fragment channel is closed when the
	// stream ends; errs then yields exactly one value: nil for a normal end,
	// or the failure that aborted the stream. Cancelling ctx stops generation.
	GenerateStream(ctx context.Context, prompt, modelID string) (fragments <-chan string, errs <-chan error, err error)
}
