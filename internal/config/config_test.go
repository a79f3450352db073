package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if len(cfg.Research.Feeds) == 0 {
		t.Error("expected research feeds to be populated")
	}
	if cfg.Engine.Provider != "ollama" {
		t.Errorf("expected provider 'ollama', got %q", cfg.Engine.Provider)
	}
	if cfg.Generation.MinQualityScore != 70 {
		t.Errorf("expected min quality score 70, got %d", cfg.Generation.MinQualityScore)
	}
	if cfg.Generation.StuckAfter != 30*time.Minute {
		t.Errorf("expected stuck_after 30m, got %v", cfg.Generation.StuckAfter)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
engine:
  provider: openai
  openai_model: gpt-4o
generation:
  stuck_after: 2h
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Engine.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", cfg.Engine.Provider)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Generation.StuckAfter != 2*time.Hour {
		t.Errorf("expected stuck_after 2h, got %v", cfg.Generation.StuckAfter)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Engine.OllamaURL != "http://localhost:11434" {
		t.Errorf("expected default ollama_url, got %q", cfg.Engine.OllamaURL)
	}
	if cfg.Generation.CorruptionFloor != 0.4 {
		t.Errorf("expected default corruption floor 0.4, got %v", cfg.Generation.CorruptionFloor)
	}
}

func TestParseRejectsInvalidThresholds(t *testing.T) {
	cases := map[string]string{
		"score":  "generation:\n  min_quality_score: 120\n",
		"floors": "generation:\n  corruption_floor: 0.9\n  low_quality_floor: 0.5\n",
		"stuck":  "generation:\n  stuck_after: 0s\n",
		"batch":  "batch:\n  max_concurrent_strategies: 0\n",
	}
	for name, data := range cases {
		if _, err := parse([]byte(data)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestThresholds(t *testing.T) {
	cfg := Default()
	th := cfg.Thresholds()
	if th.TargetWords["pillar"] != 3000 || th.TargetWords["cluster"] != 1500 {
		t.Errorf("unexpected target words: %v", th.TargetWords)
	}
	if th.LowQualityFloor != 0.8 {
		t.Errorf("expected low quality floor 0.8, got %v", th.LowQualityFloor)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Research.Feeds) == 0 {
		t.Error("expected feeds to be populated from file")
	}
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
}
