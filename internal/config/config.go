// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all engine configuration.
type Config struct {
	// AgentURL is the base URL of the remote dialogue agent service.
	AgentURL string
	// TranscribeURL is the base URL of the transcription service.
	TranscribeURL string
	// SynthesizeURL is the base URL of the speech synthesis service.
	SynthesizeURL string
	// StoreURL is the base URL of the remote record store.
	StoreURL string
	// RealtimeURL is the websocket URL of the remote change feed.
	RealtimeURL string
	// CachePath is the SQLite file backing the persisted collection cache.
	CachePath string

	// TurnTimeout bounds every turn-affecting remote call.
	TurnTimeout time.Duration
	// MaxUploadBytes is the pre-flight cap on recorded audio size.
	MaxUploadBytes int64
	// SynthesisFailureLimit is the number of consecutive genuine synthesis
	// failures that trips the cooldown.
	SynthesisFailureLimit int
	// SynthesisCooldown is how long synthesis stays disabled after the
	// failure limit is reached.
	SynthesisCooldown time.Duration
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg := &Config{
		AgentURL:              getEnv("AGENT_URL", "http://localhost:8004"),
		TranscribeURL:         getEnv("TRANSCRIBE_URL", "http://localhost:8002"),
		SynthesizeURL:         getEnv("SYNTHESIZE_URL", "http://localhost:8003"),
		StoreURL:              getEnv("STORE_URL", "http://localhost:8001"),
		RealtimeURL:           getEnv("REALTIME_URL", "ws://localhost:8001/realtime"),
		CachePath:             getEnv("CACHE_PATH", "./data/intervox.db"),
		TurnTimeout:           getEnvDuration("TURN_TIMEOUT", 30*time.Second),
		MaxUploadBytes:        int64(getEnvInt("MAX_UPLOAD_BYTES", 25*1024*1024)),
		SynthesisFailureLimit: getEnvInt("SYNTHESIS_FAILURE_LIMIT", 3),
		SynthesisCooldown:     getEnvDuration("SYNTHESIS_COOLDOWN", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.AgentURL == "" {
		return fmt.Errorf("AGENT_URL cannot be empty")
	}
	if c.TranscribeURL == "" {
		return fmt.Errorf("TRANSCRIBE_URL cannot be empty")
	}
	if c.SynthesizeURL == "" {
		return fmt.Errorf("SYNTHESIZE_URL cannot be empty")
	}
	if c.StoreURL == "" {
		return fmt.Errorf("STORE_URL cannot be empty")
	}
	if c.CachePath == "" {
		return fmt.Errorf("CACHE_PATH cannot be empty")
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("TURN_TIMEOUT must be > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.SynthesisFailureLimit <= 0 {
		return fmt.Errorf("SYNTHESIS_FAILURE_LIMIT must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
