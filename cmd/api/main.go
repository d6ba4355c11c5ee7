package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mishra-Manit/thelot-sub000/internal/api"
	"github.com/Mishra-Manit/thelot-sub000/internal/config"
	"github.com/Mishra-Manit/thelot-sub000/internal/db"
	"github.com/Mishra-Manit/thelot-sub000/internal/models"
	"github.com/Mishra-Manit/thelot-sub000/internal/orchestrator"
	"github.com/Mishra-Manit/thelot-sub000/internal/pipeline"
	"github.com/Mishra-Manit/thelot-sub000/internal/queue"
	"github.com/Mishra-Manit/thelot-sub000/internal/timers"
	"github.com/Mishra-Manit/thelot-sub000/internal/worker"
	"github.com/google/uuid"
)

// queuePersister routes the orchestrator's fire-and-forget writes through the
// redis patch queue; the background persister drains them into postgres.
type queuePersister struct {
	q *queue.Queue
}

func (p queuePersister) PatchShot(ctx context.Context, shotID uuid.UUID, patch models.ShotPatch) error {
	return p.q.EnqueuePatch(ctx, shotID, patch)
}

func main() {
	log.Println("Starting TheLot API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	// Connect to Redis patch queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Load the project tree once at session start
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	scenes, err := database.ListProject(loadCtx)
	loadCancel()
	if err != nil {
		log.Fatalf("Failed to load project: %v", err)
	}
	log.Printf("Loaded project: %d scenes, %d shots", len(scenes), len(models.FlattenShots(scenes)))

	// Wire the production pipeline
	store := pipeline.NewStore()
	registry := timers.NewRegistry()
	events := orchestrator.NewEventBus(500)

	orchCfg := orchestrator.Config{
		FramesDuration:  cfg.FramesDuration,
		VideoDuration:   cfg.VideoDuration,
		VoiceDuration:   cfg.VoiceDuration,
		LipsyncDuration: cfg.LipsyncDuration,
		SeedFraction:    cfg.SeedFraction,
		PersistTimeout:  10 * time.Second,
	}
	orch := orchestrator.New(orchCfg, store, registry, queuePersister{q: q}, events)
	orch.SetProject(scenes)
	log.Printf("Pipeline ready (frames=%s, video=%s, seed=%.0f%%)",
		cfg.FramesDuration, cfg.VideoDuration, cfg.SeedFraction*100)

	// Create API handler
	handler := api.NewHandler(database, orch, store)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start background persister if enabled
	var persisterCancel context.CancelFunc
	if cfg.PersisterEnabled {
		log.Println("Persister enabled, starting background writes...")
		p := worker.NewPersister(database, q)

		var persisterCtx context.Context
		persisterCtx, persisterCancel = context.WithCancel(context.Background())
		go p.Start(persisterCtx, cfg.MaxConcurrentWrite)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Cancel every in-flight simulated job before anything else
	orch.Shutdown()

	if persisterCancel != nil {
		persisterCancel()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
