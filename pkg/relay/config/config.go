// Package config loads relay process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Backend credential and model. The API key has no default; the relay
	// fails at startup without it.
	GeminiAPIKey string
	Model        string

	MaxAudioFrameBytes  int
	MaxJSONMessageBytes int64

	WriteTimeout        time.Duration
	HandshakeTimeout    time.Duration
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("ASSIST_RELAY_ADDR", ":8080"),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:               envOr("ASSIST_RELAY_MODEL", "gemini-2.0-flash-live-001"),
		MaxAudioFrameBytes:  envIntOr("ASSIST_RELAY_MAX_AUDIO_FRAME_BYTES", 8192),
		MaxJSONMessageBytes: envInt64Or("ASSIST_RELAY_MAX_JSON_MESSAGE_BYTES", 256*1024),
		WriteTimeout:        envDurationOr("ASSIST_RELAY_WRITE_TIMEOUT", 5*time.Second),
		HandshakeTimeout:    envDurationOr("ASSIST_RELAY_HANDSHAKE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:   envDurationOr("ASSIST_RELAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("ASSIST_RELAY_SHUTDOWN_GRACE", 10*time.Second),
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return Config{}, fmt.Errorf("ASSIST_RELAY_ADDR must not be empty")
	}
	if cfg.MaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("ASSIST_RELAY_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
