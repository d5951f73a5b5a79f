package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DaemonConfig is the full on-disk configuration of the evolution daemon.
// It wraps the pipeline sections with the infrastructure settings the
// entrypoint needs to wire collaborators together.
type DaemonConfig struct {
	// Repository
	RepoPath    string `json:"repo_path" yaml:"repo_path"`
	HistoryPath string `json:"history_path" yaml:"history_path"` // SQLite evolution history

	// Listen Addresses
	ControlAddr string `json:"control_addr" yaml:"control_addr"` // gRPC control surface
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"` // Prometheus scrape endpoint

	// Outbound
	EventsEndpoint string `json:"events_endpoint" yaml:"events_endpoint"` // WebSocket event sink, empty disables
	OTLPEndpoint   string `json:"otlp_endpoint" yaml:"otlp_endpoint"`     // Trace collector, empty disables

	// Scanning
	ScanTargets         []string `json:"scan_targets" yaml:"scan_targets"`                   // Artifacts the daemon watches for proposals
	ScanIntervalSeconds int      `json:"scan_interval_seconds" yaml:"scan_interval_seconds"` // Delay between scan passes
	ProposalDir         string   `json:"proposal_dir" yaml:"proposal_dir"`                   // Spool directory of queued proposal files

	// Collaborator Wiring
	PerceptionValidator string   `json:"perception_validator" yaml:"perception_validator"` // Mirror validator binary, empty disables
	RegressionCommand   []string `json:"regression_command" yaml:"regression_command"`     // Post-commit test probe, run in RepoPath
	SceneEndpoint       string   `json:"scene_endpoint" yaml:"scene_endpoint"`             // Live scene reader, empty disables verification
	ReviewModel         string   `json:"review_model" yaml:"review_model"`                 // LLM reviewer model, empty keeps rule reviewer only

	// Pipeline Sections
	Evolution *EvolutionConfig `json:"evolution" yaml:"evolution"`
	Tier      *TierPolicy      `json:"tier" yaml:"tier"`
	Tectonic  *TectonicConfig  `json:"tectonic" yaml:"tectonic"`
}

// DefaultDaemonConfig returns a DaemonConfig with default values.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		RepoPath:    ".",
		HistoryPath: "evolvecore.db",

		ControlAddr: ":50061",
		MetricsAddr: ":9091",

		EventsEndpoint: "",
		OTLPEndpoint:   "",

		ScanTargets:         nil,
		ScanIntervalSeconds: 300,
		ProposalDir:         "proposals",

		PerceptionValidator: "",
		RegressionCommand:   []string{"go", "test", "./..."},
		SceneEndpoint:       "",
		ReviewModel:         "",

		Evolution: DefaultEvolutionConfig(),
		Tier:      DefaultTierPolicy(),
		Tectonic:  DefaultTectonicConfig(),
	}
}

// LoadDaemonConfig loads configuration with priority: file > defaults.
// A missing file is not an error; the defaults stand.
func LoadDaemonConfig(configPath string) (*DaemonConfig, error) {
	config := DefaultDaemonConfig()

	if configPath != "" {
		if err := loadConfigFile(configPath, config); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func loadConfigFile(path string, config *DaemonConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON.
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}

	return nil
}

// Validate checks the loaded configuration for obvious mistakes.
func (c *DaemonConfig) Validate() error {
	if c.RepoPath == "" {
		return fmt.Errorf("repo_path must not be empty")
	}
	if c.ScanIntervalSeconds <= 0 {
		c.ScanIntervalSeconds = 300
	}
	if c.Evolution == nil {
		c.Evolution = DefaultEvolutionConfig()
	}
	if c.Tier == nil {
		c.Tier = DefaultTierPolicy()
	}
	if c.Tectonic == nil {
		c.Tectonic = DefaultTectonicConfig()
	}
	if err := c.Tier.Validate(); err != nil {
		return fmt.Errorf("tier policy: %w", err)
	}
	if err := c.Tectonic.Validate(); err != nil {
		return fmt.Errorf("tectonic: %w", err)
	}
	return nil
}
