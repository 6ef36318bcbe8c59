package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/gfwx/quicksilver/internal/adapter/ai"
	"github.com/gfwx/quicksilver/internal/adapter/index"
	"github.com/gfwx/quicksilver/internal/adapter/reader"
	"github.com/gfwx/quicksilver/internal/handler"
	"github.com/gfwx/quicksilver/internal/middleware"
	"github.com/gfwx/quicksilver/internal/port"
	"github.com/gfwx/quicksilver/internal/service"
	"github.com/gfwx/quicksilver/pkg/config"

	_ "github.com/lib/pq"
)

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()

	slog.Info("starting quicksilver",
		"port", cfg.Port,
		"index_backend", cfg.IndexBackend,
		"ollama_embed", cfg.OllamaEmbedURL,
		"ollama_chat", cfg.OllamaChatURL,
	)

	// ── AI provider ──────────────────────────────────────────────────────
	// The embedding dimension is resolved here, once, and fixes the index
	// schema for the lifetime of the process.
	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	ollama, err := ai.NewOllamaProvider(startupCtx,
		ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaEmbedURL,
			Model:   cfg.OllamaEmbedModel,
			Token:   cfg.OllamaEmbedToken,
		},
		ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaChatURL,
			Model:   cfg.OllamaChatModel,
			Token:   cfg.OllamaChatToken,
		},
	)
	cancel()
	if err != nil {
		slog.Error("failed to initialize embedding provider", "error", err)
		os.Exit(1)
	}
	slog.Info("embedding model resolved", "model", cfg.OllamaEmbedModel, "dimension", ollama.Dimension())

	// ── Vector index ─────────────────────────────────────────────────────
	var vectorIndex port.VectorIndex
	switch cfg.IndexBackend {
	case "sqlite":
		vectorIndex, err = index.NewSQLiteIndex(cfg.SQLitePath, ollama.Dimension())
	default:
		vectorIndex, err = index.NewPostgresIndex(cfg.DatabaseURL, ollama.Dimension())
	}
	if err != nil {
		slog.Error("failed to open vector index", "backend", cfg.IndexBackend, "error", err)
		os.Exit(1)
	}
	defer vectorIndex.Close()

	// ── Services ─────────────────────────────────────────────────────────
	fileReader := reader.NewFileReader()
	ingestService := service.NewIngestionService(fileReader, ollama, vectorIndex)
	queryService := service.NewQueryService(ollama, ollama, vectorIndex)

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:     cfg.AppName,
		ReadTimeout: 30 * time.Second,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "X-Project-ID", "X-Request-ID"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
	}))

	// Health check
	app.Get("/api/v1/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"app":    cfg.AppName,
		})
	})

	// ── Routes ───────────────────────────────────────────────────────────
	api := app.Group("/api/v1")

	jobTracker := handler.NewJobTracker()
	chunking := service.ChunkOptions{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap}
	ingestPool := handler.NewIngestPool(ingestService, jobTracker, chunking, cfg.IngestWorkers, cfg.IngestQueue)
	defer ingestPool.Shutdown()

	documentsHandler := handler.NewDocumentsHandler(ingestService, ingestPool, jobTracker)
	documentsHandler.Register(api)

	queryHandler := handler.NewQueryHandler(queryService)
	queryHandler.Register(api)

	jobsHandler := handler.NewJobsHandler(jobTracker)
	jobsHandler.Register(api)

	// ── Start ────────────────────────────────────────────────────────────
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		slog.Info("shutting down")
		_ = app.Shutdown()
	}()

	slog.Info("listening", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
