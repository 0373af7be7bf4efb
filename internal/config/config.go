// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all sidecar configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// ComfyUI host
	ComfyURL     string
	ComfyTimeout time.Duration

	// Image directories (ComfyUI layout)
	OutputDir string
	InputDir  string
	TempDir   string

	// Catalog
	CatalogTTL time.Duration

	// Image delivery
	JPEGQuality     int
	DeleteAfterSend bool
	MaxImageBytes   int64
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      envOr("FLOWLITE_LISTEN_ADDR", ":8189"),
		MetricsAddr:     envOr("FLOWLITE_METRICS_ADDR", ":9189"),
		LogLevel:        envOr("FLOWLITE_LOG_LEVEL", "info"),
		LogFormat:       envOr("FLOWLITE_LOG_FORMAT", "json"),
		ComfyURL:        strings.TrimSuffix(envOr("FLOWLITE_COMFY_URL", "http://127.0.0.1:8188"), "/"),
		ComfyTimeout:    envDuration("FLOWLITE_COMFY_TIMEOUT", 30*time.Second),
		OutputDir:       envOr("FLOWLITE_OUTPUT_DIR", ""),
		InputDir:        envOr("FLOWLITE_INPUT_DIR", ""),
		TempDir:         envOr("FLOWLITE_TEMP_DIR", ""),
		CatalogTTL:      envSeconds("FLOWLITE_CATALOG_TTL", 30*time.Second),
		JPEGQuality:     envInt("FLOWLITE_JPEG_QUALITY", 85),
		DeleteAfterSend: envBool("FLOWLITE_DELETE_AFTER_SEND", true),
		MaxImageBytes:   envInt64("FLOWLITE_MAX_IMAGE_MB", 512) * 1024 * 1024,
	}

	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("FLOWLITE_OUTPUT_DIR is required")
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return nil, fmt.Errorf("FLOWLITE_JPEG_QUALITY must be in [1,100], got %d", cfg.JPEGQuality)
	}
	if cfg.CatalogTTL < 0 {
		return nil, fmt.Errorf("FLOWLITE_CATALOG_TTL must not be negative")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envBool treats 1/true/yes as true; anything else set is false.
func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

// envSeconds reads a (possibly fractional) number of seconds.
func envSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(f * float64(time.Second))
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
