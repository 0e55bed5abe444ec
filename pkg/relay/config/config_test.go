package config

import (
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("ASSIST_RELAY_ADDR", "")
	t.Setenv("ASSIST_RELAY_MODEL", "")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.Model != "gemini-2.0-flash-live-001" {
		t.Fatalf("Model = %q", cfg.Model)
	}
	if cfg.MaxAudioFrameBytes != 8192 {
		t.Fatalf("MaxAudioFrameBytes = %d", cfg.MaxAudioFrameBytes)
	}
	if cfg.ShutdownGracePeriod != 10*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnvRequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error without GEMINI_API_KEY")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("ASSIST_RELAY_ADDR", "127.0.0.1:9000")
	t.Setenv("ASSIST_RELAY_MODEL", "gemini-live-other")
	t.Setenv("ASSIST_RELAY_MAX_AUDIO_FRAME_BYTES", "4096")
	t.Setenv("ASSIST_RELAY_SHUTDOWN_GRACE", "3s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.Model != "gemini-live-other" {
		t.Fatalf("Model = %q", cfg.Model)
	}
	if cfg.MaxAudioFrameBytes != 4096 {
		t.Fatalf("MaxAudioFrameBytes = %d", cfg.MaxAudioFrameBytes)
	}
	if cfg.ShutdownGracePeriod != 3*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v", cfg.ShutdownGracePeriod)
	}
}

func TestBadOverridesFallBackToDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("ASSIST_RELAY_MAX_AUDIO_FRAME_BYTES", "not a number")
	t.Setenv("ASSIST_RELAY_WRITE_TIMEOUT", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.MaxAudioFrameBytes != 8192 {
		t.Fatalf("MaxAudioFrameBytes = %d", cfg.MaxAudioFrameBytes)
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Fatalf("WriteTimeout = %v", cfg.WriteTimeout)
	}
}
