package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis (persistence queue)
	RedisURL string

	// Persister
	PersisterEnabled   bool
	MaxConcurrentWrite int

	// Simulated generation timings. Video is deliberately an order of
	// magnitude slower than frames.
	FramesDuration  time.Duration
	VideoDuration   time.Duration
	VoiceDuration   time.Duration
	LipsyncDuration time.Duration

	// SeedFraction is the share of shots marked complete by a full rewind.
	SeedFraction float64
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		PersisterEnabled:   getEnvBool("PERSISTER_ENABLED", true),
		MaxConcurrentWrite: getEnvInt("MAX_CONCURRENT_WRITES", 4),
		FramesDuration:     time.Duration(getEnvInt("FRAMES_GENERATION_MS", 20_000)) * time.Millisecond,
		VideoDuration:      time.Duration(getEnvInt("VIDEO_GENERATION_MS", 180_000)) * time.Millisecond,
		VoiceDuration:      time.Duration(getEnvInt("VOICE_GENERATION_MS", 3_000)) * time.Millisecond,
		LipsyncDuration:    time.Duration(getEnvInt("LIPSYNC_GENERATION_MS", 3_000)) * time.Millisecond,
		SeedFraction:       getEnvFloat("SIMULATION_SEED_PCT", 0.37),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.SeedFraction < 0 || cfg.SeedFraction > 1 {
		return nil, fmt.Errorf("SIMULATION_SEED_PCT must be within [0,1], got %v", cfg.SeedFraction)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}
