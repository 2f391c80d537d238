package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaved_SaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	seed := int64(42)
	s := &Saved{
		LastListenAddr: ":9999",
		LastSeed:       &seed,
	}

	if err := s.SaveTo(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("config file was not created")
	}

	loaded, err := LoadSavedFrom(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if loaded.LastListenAddr != s.LastListenAddr {
		t.Errorf("LastListenAddr = %q, want %q", loaded.LastListenAddr, s.LastListenAddr)
	}
	if loaded.LastSeed == nil || *loaded.LastSeed != seed {
		t.Errorf("LastSeed = %v, want %d", loaded.LastSeed, seed)
	}
}

func TestSaved_LoadNonExistent(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nonexistent.json")

	s, err := LoadSavedFrom(configPath)
	if err != nil {
		t.Fatalf("expected no error when loading non-existent file, got: %v", err)
	}

	if s.LastListenAddr != "" {
		t.Errorf("expected empty config, got LastListenAddr=%q", s.LastListenAddr)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("failed to get default config path: %v", err)
	}

	if filepath.Base(path) != "config.json" {
		t.Errorf("expected config filename to be config.json, got %q", filepath.Base(path))
	}

	dir := filepath.Dir(path)
	if filepath.Base(dir) != ".lora-broker" {
		t.Errorf("expected config directory to be .lora-broker, got %q", filepath.Base(dir))
	}
}

func TestFromEnvironment_Defaults(t *testing.T) {
	for _, v := range []string{EnvListenAddr, EnvLogLevel, EnvSeed, EnvEventsOutput, EnvMetricsAddr} {
		t.Setenv(v, "")
	}

	cfg, err := FromEnvironment()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, DefaultLogLevel)
	}
	if cfg.Seed != nil {
		t.Errorf("Seed = %v, want nil", cfg.Seed)
	}
}

func TestFromEnvironment_Overrides(t *testing.T) {
	t.Setenv(EnvListenAddr, "127.0.0.1:9001")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvSeed, "12345")
	t.Setenv(EnvEventsOutput, "stdout")
	t.Setenv(EnvMetricsAddr, ":9100")

	cfg, err := FromEnvironment()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9001" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Seed == nil || *cfg.Seed != 12345 {
		t.Errorf("Seed = %v, want 12345", cfg.Seed)
	}
	if cfg.EventsOutput != "stdout" {
		t.Errorf("EventsOutput = %q", cfg.EventsOutput)
	}
	if cfg.MetricsAddr != ":9100" {
		t.Errorf("MetricsAddr = %q", cfg.MetricsAddr)
	}
}

func TestFromEnvironment_InvalidSeed(t *testing.T) {
	t.Setenv(EnvSeed, "not-a-number")
	defer os.Unsetenv(EnvSeed)

	if _, err := FromEnvironment(); err == nil {
		t.Error("expected error for invalid seed")
	}
}
