package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds settings for the API router.
// Passed from main.go so the router can configure CORS and auth from env vars.
type RouterConfig struct {
	// BackendAPIKey is the key that must be provided in X-API-Key or
	// Authorization: Bearer <key>. If empty, auth middleware is skipped
	// (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// CORS: restrict origins when configured, otherwise allow all (dev mode)
	allowedOrigins := []string{"*"}
	if cfg.CorsAllowedOrigins != "" {
		origins := strings.Split(cfg.CorsAllowedOrigins, ",")
		trimmed := make([]string, 0, len(origins))
		for _, o := range origins {
			if s := strings.TrimSpace(o); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			allowedOrigins = trimmed
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check — public, no auth required
	r.Get("/health", h.Health)

	// API routes — protected by API key auth
	r.Route("/v1", func(r chi.Router) {
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}

		// Storyboard tree
		r.Get("/storyboard", h.GetStoryboard)

		// Scenes
		r.Post("/scenes", h.CreateScene)
		r.Patch("/scenes/{sceneId}", h.UpdateScene)
		r.Delete("/scenes/{sceneId}", h.DeleteScene)
		r.Post("/scenes/{sceneId}/shots", h.CreateShot)

		// Shots
		r.Patch("/shots/{shotId}", h.UpdateShot)
		r.Delete("/shots/{shotId}", h.DeleteShot)

		// Production pipeline
		r.Post("/shots/{shotId}/frames", h.GenerateFrames)
		r.Post("/shots/{shotId}/video", h.GenerateVideo)
		r.Post("/shots/{shotId}/video/regenerate", h.RegenerateVideo)
		r.Post("/shots/{shotId}/approve", h.ApproveShot)
		r.Post("/shots/{shotId}/voice", h.GenerateVoice)
		r.Post("/shots/{shotId}/lipsync", h.ApplyLipsync)
		r.Post("/rewind", h.RewindAll)

		// Progress + events
		r.Get("/render-queue", h.GetRenderQueue)
		r.Get("/events", h.GetEvents)

		// Timeline geometry
		r.Get("/timeline", h.GetTimeline)
		r.Post("/timeline/seek", h.SeekFromPointer)
	})

	return r
}
