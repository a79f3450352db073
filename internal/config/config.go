package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/ContentForge/internal/quality"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Engine     Engine     `yaml:"engine"`
	Generation Generation `yaml:"generation"`
	Research   Research   `yaml:"research"`
	Batch      Batch      `yaml:"batch"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

// Engine configures the LLM provider behind the generation engine.
type Engine struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	OllamaURL         string        `yaml:"ollama_url"`
	OpenAIModel       string        `yaml:"openai_model"`
	OpenAIBaseURL     string        `yaml:"openai_base_url"`
	AnthropicModel    string        `yaml:"anthropic_model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute float64       `yaml:"requests_per_minute"`
}

// Generation holds the quality and stuck-detection knobs.
type Generation struct {
	PillarWords     int           `yaml:"pillar_words"`
	ClusterWords    int           `yaml:"cluster_words"`
	MinQualityScore int           `yaml:"min_quality_score"`
	CorruptionFloor float64       `yaml:"corruption_floor"`
	LowQualityFloor float64       `yaml:"low_quality_floor"`
	StuckAfter      time.Duration `yaml:"stuck_after"`
}

type Research struct {
	Enabled      bool          `yaml:"enabled"`
	Feeds        []Feed        `yaml:"feeds"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	MaxNotes     int           `yaml:"max_notes"`
	DaysBack     int           `yaml:"days_back"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type Batch struct {
	MaxConcurrentStrategies int `yaml:"max_concurrent_strategies"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for contentforge.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "contentforge")
}

// DataDir returns the XDG data directory for contentforge.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "contentforge")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/contentforge/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'contentforge init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config is invalid: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Engine: Engine{
			Provider:          "ollama",
			Model:             "qwen2.5:7b",
			OllamaURL:         "http://localhost:11434",
			OpenAIModel:       "gpt-4o-mini",
			AnthropicModel:    "claude-sonnet-4-5",
			APIKeyEnv:         "OPENAI_API_KEY",
			MaxTokens:         4096,
			Timeout:           5 * time.Minute,
			RequestsPerMinute: 0,
		},
		Generation: Generation{
			PillarWords:     3000,
			ClusterWords:    1500,
			MinQualityScore: 70,
			CorruptionFloor: 0.4,
			LowQualityFloor: 0.8,
			StuckAfter:      30 * time.Minute,
		},
		Research: Research{
			FetchTimeout: 15 * time.Second,
			MaxNotes:     8,
			DaysBack:     14,
		},
		Batch:   Batch{MaxConcurrentStrategies: 2},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info", Format: "console"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects threshold values that would make diagnosis meaningless.
func (c *Config) Validate() error {
	g := c.Generation
	if g.PillarWords <= 0 || g.ClusterWords <= 0 {
		return fmt.Errorf("generation: target word counts must be positive")
	}
	if g.MinQualityScore < 0 || g.MinQualityScore > 100 {
		return fmt.Errorf("generation: min_quality_score must be within [0,100], got %d", g.MinQualityScore)
	}
	if g.CorruptionFloor < 0 || g.CorruptionFloor > 1 {
		return fmt.Errorf("generation: corruption_floor must be within [0,1], got %v", g.CorruptionFloor)
	}
	if g.LowQualityFloor < g.CorruptionFloor || g.LowQualityFloor > 1 {
		return fmt.Errorf("generation: low_quality_floor must be within [corruption_floor,1], got %v", g.LowQualityFloor)
	}
	if g.StuckAfter <= 0 {
		return fmt.Errorf("generation: stuck_after must be positive")
	}
	if c.Batch.MaxConcurrentStrategies < 1 {
		return fmt.Errorf("batch: max_concurrent_strategies must be at least 1")
	}
	return nil
}

// Thresholds converts the generation section into quality thresholds.
func (c *Config) Thresholds() quality.Thresholds {
	g := c.Generation
	return quality.Thresholds{
		TargetWords: map[string]int{
			"pillar":  g.PillarWords,
			"cluster": g.ClusterWords,
		},
		MinQualityScore: g.MinQualityScore,
		CorruptionFloor: g.CorruptionFloor,
		LowQualityFloor: g.LowQualityFloor,
		StuckAfter:      g.StuckAfter,
	}
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
