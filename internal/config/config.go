package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type GameConfig struct {
	Project     string            `yaml:"project"`
	Version     int               `yaml:"version"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Storage     StorageConfig     `yaml:"storage"`
	Progression ProgressionConfig `yaml:"progression"`
	Autosave    AutosaveConfig    `yaml:"autosave"`
	AI          AIConfig          `yaml:"ai"`
	Timeouts    TimeoutConfig     `yaml:"timeouts"`
	Room        RoomConfig        `yaml:"room"`
}

type CatalogConfig struct {
	Path        string   `yaml:"path"`
	Finale      []string `yaml:"finale"`
	MiniGameNPC string   `yaml:"minigame_npc"`
}

type StorageConfig struct {
	DSN  string `yaml:"dsn"`
	Slot string `yaml:"slot"`
}

type ProgressionConfig struct {
	FinaleAwardAfter time.Duration `yaml:"finale_award_after"`
}

type AutosaveConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type AIConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

// TimeoutConfig bounds every external call the session controller makes.
type TimeoutConfig struct {
	Chat       time.Duration `yaml:"chat"`
	Completion time.Duration `yaml:"completion"`
	Speech     time.Duration `yaml:"speech"`
	Probe      time.Duration `yaml:"probe"`
	Bond       time.Duration `yaml:"bond"`
}

type RoomConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// envOverrides are applied on top of the yaml file; empty values are ignored.
type envOverrides struct {
	StorageDSN string `env:"SESSIONCORE_STORAGE_DSN"`
	AIProvider string `env:"SESSIONCORE_AI_PROVIDER"`
	AIModel    string `env:"SESSIONCORE_AI_MODEL"`
	AIKey      string `env:"SESSIONCORE_AI_API_KEY"`
	RoomURL    string `env:"SESSIONCORE_ROOM_URL"`
}

const (
	DefaultSlot             = "autosave"
	DefaultFinaleAwardAfter = 20 * time.Minute
	DefaultAutosaveInterval = 30 * time.Second
	DefaultChatTimeout      = 12 * time.Second
	DefaultCompleteTimeout  = 15 * time.Second
	DefaultSpeechTimeout    = 10 * time.Second
	DefaultProbeTimeout     = 5 * time.Second
	DefaultBondTimeout      = 4 * time.Second
	FinaleCount             = 4
)

func LoadGameConfig(path string) (*GameConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading game config: %w", err)
	}

	var cfg GameConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("loading game config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("loading game config: %w", err)
	}
	applyDefaults(&cfg)

	if err := validateGameConfig(&cfg); err != nil {
		return nil, fmt.Errorf("loading game config: %w", err)
	}

	return &cfg, nil
}

func applyEnv(cfg *GameConfig) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if overrides.StorageDSN != "" {
		cfg.Storage.DSN = overrides.StorageDSN
	}
	if overrides.AIProvider != "" {
		cfg.AI.Provider = overrides.AIProvider
	}
	if overrides.AIModel != "" {
		cfg.AI.Model = overrides.AIModel
	}
	if overrides.AIKey != "" {
		cfg.AI.APIKey = overrides.AIKey
	}
	if overrides.RoomURL != "" {
		cfg.Room.URL = overrides.RoomURL
	}
	return nil
}

func applyDefaults(cfg *GameConfig) {
	if strings.TrimSpace(cfg.Storage.Slot) == "" {
		cfg.Storage.Slot = DefaultSlot
	}
	if cfg.Progression.FinaleAwardAfter <= 0 {
		cfg.Progression.FinaleAwardAfter = DefaultFinaleAwardAfter
	}
	if cfg.Autosave.Interval <= 0 {
		cfg.Autosave.Interval = DefaultAutosaveInterval
	}
	if strings.TrimSpace(cfg.AI.Provider) == "" {
		cfg.AI.Provider = "none"
	}
	t := &cfg.Timeouts
	if t.Chat <= 0 {
		t.Chat = DefaultChatTimeout
	}
	if t.Completion <= 0 {
		t.Completion = DefaultCompleteTimeout
	}
	if t.Speech <= 0 {
		t.Speech = DefaultSpeechTimeout
	}
	if t.Probe <= 0 {
		t.Probe = DefaultProbeTimeout
	}
	if t.Bond <= 0 {
		t.Bond = DefaultBondTimeout
	}
}

func validateGameConfig(cfg *GameConfig) error {
	if strings.TrimSpace(cfg.Project) == "" {
		return fmt.Errorf("project name is required")
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported version: %d", cfg.Version)
	}
	if strings.TrimSpace(cfg.Catalog.Path) == "" {
		return fmt.Errorf("catalog path is required")
	}
	if len(cfg.Catalog.Finale) != FinaleCount {
		return fmt.Errorf("exactly %d finale ids are required, got %d", FinaleCount, len(cfg.Catalog.Finale))
	}

	seen := make(map[string]struct{})
	for i, id := range cfg.Catalog.Finale {
		key := strings.ToLower(strings.TrimSpace(id))
		if key == "" {
			return fmt.Errorf("finale id %d is empty", i)
		}
		if _, exists := seen[key]; exists {
			return fmt.Errorf("duplicate finale id: %s", id)
		}
		seen[key] = struct{}{}
	}

	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		return fmt.Errorf("storage dsn is required")
	}

	switch cfg.AI.Provider {
	case "none":
	case "gemini":
		if strings.TrimSpace(cfg.AI.APIKey) == "" {
			return fmt.Errorf("ai api key is required for provider gemini")
		}
	default:
		return fmt.Errorf("unknown ai provider: %s", cfg.AI.Provider)
	}

	return nil
}
