package config

import (
	"testing"
	"time"
)

func TestParseDurationDefaults(t *testing.T) {
	cfg := SMTPConfig{}
	d, err := cfg.GetTimeout()
	if err != nil {
		t.Fatalf("GetTimeout returned unexpected error: %v", err)
	}
	if d != 30*time.Second {
		t.Errorf("Expected default 30s, got %v", d)
	}

	cfg.Timeout = "90s"
	d, err = cfg.GetTimeout()
	if err != nil {
		t.Fatalf("GetTimeout returned unexpected error: %v", err)
	}
	if d != 90*time.Second {
		t.Errorf("Expected 90s, got %v", d)
	}

	cfg.Timeout = "not-a-duration"
	if _, err = cfg.GetTimeout(); err == nil {
		t.Error("Expected error for invalid duration")
	}
}

func TestIMAPSyncInterval(t *testing.T) {
	cfg := IMAPSyncConfig{}
	d, err := cfg.GetInterval()
	if err != nil {
		t.Fatalf("GetInterval returned unexpected error: %v", err)
	}
	if d != 300*time.Second {
		t.Errorf("Expected default 300s, got %v", d)
	}
}

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()
	if !cfg.Servers.LMTP.Start {
		t.Error("Expected LMTP server enabled by default")
	}
	if !cfg.Servers.HTTP.Start {
		t.Error("Expected HTTP server enabled by default")
	}
	if cfg.Database.Port != "5432" {
		t.Errorf("Expected default database port 5432, got %s", cfg.Database.Port)
	}
}
