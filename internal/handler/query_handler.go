package handler

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/gfwx/quicksilver/internal/service"
)

// QueryHandler handles retrieval and grounded-answer endpoints.
type QueryHandler struct {
	query *service.QueryService
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(query *service.QueryService) *QueryHandler {
	return &QueryHandler{query: query}
}

// Register sets up query routes.
func (h *QueryHandler) Register(router fiber.Router) {
	router.Get("/query", h.RetrieveGet)
	router.Post("/query", h.RetrievePost)
	router.Post("/answer", h.Answer)
}

type queryRequest struct {
	Query     string `json:"query"`
	ProjectID string `json:"project_id"`
	TopK      int    `json:"top_k"`
}

// RetrieveGet performs a vector search with query parameters.
func (h *QueryHandler) RetrieveGet(c fiber.Ctx) error {
	topK, _ := strconv.Atoi(c.Query("top_k"))
	return h.retrieve(c, queryRequest{
		Query:     c.Query("query"),
		ProjectID: c.Query("project_id"),
		TopK:      topK,
	})
}

// RetrievePost performs a vector search with a JSON body.
func (h *QueryHandler) RetrievePost(c fiber.Ctx) error {
	var req queryRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	return h.retrieve(c, req)
}

func (h *QueryHandler) retrieve(c fiber.Ctx, req queryRequest) error {
	chunks, err := h.query.Retrieve(c.Context(), req.Query, req.ProjectID, req.TopK)
	if err != nil {
		return statusForError(c, err)
	}

	matches := make([]string, len(chunks))
	for i, sc := range chunks {
		matches[i] = sc.Text
	}
	return c.JSON(fiber.Map{"matches": matches})
}

type answerRequest struct {
	Query     string `json:"query"`
	ProjectID string `json:"project_id"`
	ModelID   string `json:"model_id"`
	TopK      int    `json:"top_k"`
}

// Answer streams a grounded generation as server-sent events: one data event
// per fragment, then a terminal "done" event on a normal end or an "error"
// event when the generation aborted mid-stream.
func (h *QueryHandler) Answer(c fiber.Ctx) error {
	var req answerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	// The request context does not fire when the client drops mid-stream, so
	// the writer callback owns a cancel that stops generation on any exit.
	ctx, cancel := context.WithCancel(c.Context())

	fragments, errs, err := h.query.Answer(ctx, req.Query, req.ProjectID, req.ModelID, req.TopK)
	if err != nil {
		cancel()
		return statusForError(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		for f := range fragments {
			fmt.Fprintf(w, "data: %s\n\n", f)
			if err := w.Flush(); err != nil {
				// Client went away; cancel so generation stops producing.
				return
			}
		}
		if streamErr := <-errs; streamErr != nil {
			slog.Error("generation aborted", "project_id", req.ProjectID, "error", streamErr)
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", streamErr.Error())
			w.Flush()
			return
		}
		fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
		w.Flush()
	})
}
