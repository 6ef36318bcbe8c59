package port

import (
	"errors"
	"fmt"
)

// Sentinel errors used across ports.
var (
	ErrUnsupportedFormat = errors.New("unsupported source format")
	ErrEmptyQuery        = errors.New("missing or empty query")
	ErrEmptyProject      = errors.New("missing or empty project id")
	ErrEmptyModel        = errors.New("missing model id")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Stage identifies the ingestion pipeline stage a failure belongs to.
type Stage string

const (
	StageReceived  Stage = "received"
	StageExtracted Stage = "extracted"
	StageChunked   Stage = "chunked"
	StageEmbedded  Stage = "embedded"
	StageStored    Stage = "stored"
)

// ClientError marks a request the caller got wrong: missing or invalid
// required fields. Retrying without changing the request cannot help.
type ClientError struct {
	Err error
}

func (e *ClientError) Error() string { return e.Err.Error() }
func (e *ClientError) Unwrap() error { return e.Err }

// NewClientError wraps err as a caller fault.
func NewClientError(err error) error {
	if err == nil {
		return nil
	}
	return &ClientError{Err: err}
}

// PipelineError tags a failure with the ingestion stage that produced it.
// Stages never substitute defaults for failed results; the error is the
// only outcome.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// FailStage wraps err with its originating stage.
func FailStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Stage: stage, Err: err}
}

// GenerationError signals that a generation stream aborted before a normal
// end, as opposed to the fragment channel simply closing after completion.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("generation: %v", e.Err) }
func (e *GenerationError) Unwrap() error { return e.Err }

// IndexError wraps a VectorIndex operational failure with the operation name.
// The index performs no implicit retries; callers decide.
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("index: %v", e.Err)
	}
	return fmt.Sprintf("index %s: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

func (e *IndexError) Is(target error) bool { return errors.Is(e.Err, target) }

// WrapIndex wraps an index failure with its operation context.
func WrapIndex(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IndexError{Op: op, Err: err}
}
