package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/gfwx/quicksilver/internal/port"
	"github.com/gfwx/quicksilver/internal/service"
)

type ingestTask struct {
	jobID      string
	documentID string
	projectID  string
	filename   string
	data       []byte
}

// IngestPool runs ingestion pipelines on a fixed set of workers so the
// request-accepting layer never blocks on embedding or storage I/O.
type IngestPool struct {
	ingest   *service.IngestionService
	tracker  *JobTracker
	chunking service.ChunkOptions
	tasks    chan ingestTask
	cancel   context.CancelFunc
}

// NewIngestPool starts workers goroutines consuming a queue of queueSize
// tasks. Every task is chunked with the given options.
func NewIngestPool(ingest *service.IngestionService, tracker *JobTracker, chunking service.ChunkOptions, workers, queueSize int) *IngestPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &IngestPool{
		ingest:   ingest,
		tracker:  tracker,
		chunking: chunking,
		tasks:    make(chan ingestTask, queueSize),
		cancel:   cancel,
	}
	for i := 0; i < workers; i++ {
		go p.worker(ctx)
	}
	return p
}

// Submit queues a task; it reports false when the queue is full.
func (p *IngestPool) Submit(t ingestTask) bool {
	select {
	case p.tasks <- t:
		return true
	default:
		return false
	}
}

// Shutdown stops the workers. Queued tasks are abandoned.
func (p *IngestPool) Shutdown() {
	p.cancel()
}

func (p *IngestPool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.tasks:
			p.run(ctx, t)
		}
	}
}

func (p *IngestPool) run(ctx context.Context, t ingestTask) {
	p.tracker.UpdateJob(t.jobID, "running", "", "")

	src := port.Source{Name: t.filename, Data: bytes.NewReader(t.data)}
	err := p.ingest.Ingest(ctx, src, t.documentID, t.projectID, p.chunking)
	if err != nil {
		stage := ""
		var pe *port.PipelineError
		if errors.As(err, &pe) {
			stage = string(pe.Stage)
		}
		slog.Error("ingestion failed", "job_id", t.jobID, "document_id", t.documentID, "stage", stage, "error", err)
		p.tracker.UpdateJob(t.jobID, "error", stage, err.Error())
		return
	}

	p.tracker.UpdateJob(t.jobID, "stored", "", "")
}

// DocumentsHandler handles document upload and purge endpoints.
type DocumentsHandler struct {
	ingest  *service.IngestionService
	pool    *IngestPool
	tracker *JobTracker
}

// NewDocumentsHandler creates a new documents handler.
func NewDocumentsHandler(ingest *service.IngestionService, pool *IngestPool, tracker *JobTracker) *DocumentsHandler {
	return &DocumentsHandler{ingest: ingest, pool: pool, tracker: tracker}
}

// Register sets up document routes.
func (h *DocumentsHandler) Register(router fiber.Router) {
	router.Post("/documents", h.Upload)
	router.Delete("/documents/:id", h.PurgeDocument)
	router.Delete("/projects/:id", h.PurgeProject)
}

// Upload accepts one or more files as multipart form data and queues an
// ingestion job per file. The project is taken from the X-Project-ID header
// or the project_id form field.
func (h *DocumentsHandler) Upload(c fiber.Ctx) error {
	projectID := c.Get("X-Project-ID")
	if projectID == "" {
		projectID = c.FormValue("project_id")
	}
	if projectID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing project id"})
	}

	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid multipart form"})
	}
	files := form.File["files"]
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no files uploaded"})
	}

	// A caller-supplied document id only makes sense for a single file;
	// multi-file uploads always get generated ids.
	callerDocID := c.Get("X-Document-ID")
	if callerDocID == "" {
		callerDocID = c.FormValue("document_id")
	}
	if callerDocID != "" && len(files) > 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "document_id is only valid for single-file uploads"})
	}

	type queuedDoc struct {
		DocumentID string `json:"document_id"`
		JobID      string `json:"job_id"`
		Filename   string `json:"filename"`
	}
	queued := make([]queuedDoc, 0, len(files))

	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "failed to open " + fh.Filename})
		}
		// Buffer the upload: the worker outlives this request.
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "failed to read " + fh.Filename})
		}

		documentID := callerDocID
		if documentID == "" {
			documentID = uuid.NewString()
		}
		jobID := uuid.NewString()
		h.tracker.CreateJob(jobID, documentID, projectID, fh.Filename)

		ok := h.pool.Submit(ingestTask{
			jobID:      jobID,
			documentID: documentID,
			projectID:  projectID,
			filename:   fh.Filename,
			data:       data,
		})
		if !ok {
			h.tracker.UpdateJob(jobID, "error", string(port.StageReceived), "ingestion queue full")
			// Earlier files in this upload are already queued; report them so
			// the caller can still track or purge them.
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":     "ingestion queue full",
				"rejected":  fh.Filename,
				"documents": queued,
			})
		}

		queued = append(queued, queuedDoc{DocumentID: documentID, JobID: jobID, Filename: fh.Filename})
	}

	slog.Info("queued ingestion", "project_id", projectID, "files", len(queued))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"documents": queued})
}

// PurgeDocument removes all stored chunks for a document.
func (h *DocumentsHandler) PurgeDocument(c fiber.Ctx) error {
	if err := h.ingest.DeleteDocument(c.Context(), c.Params("id")); err != nil {
		return statusForError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// PurgeProject removes all stored chunks for a project.
func (h *DocumentsHandler) PurgeProject(c fiber.Ctx) error {
	if err := h.ingest.DeleteProject(c.Context(), c.Params("id")); err != nil {
		return statusForError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// statusForError maps the error taxonomy to HTTP responses: caller faults to
// 400, everything else to 500.
func statusForError(c fiber.Ctx, err error) error {
	var ce *port.ClientError
	if errors.As(err, &ce) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}
