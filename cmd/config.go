package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pfc-calib/pfc-calib/calib"
	"github.com/pfc-calib/pfc-calib/calib/loss"
)

// RunConfig is the immutable configuration of a calibration run, loaded once
// at startup and passed down by parameter. Nothing reads it through global
// state.
type RunConfig struct {
	// Servers is the static list of PFC worker endpoints.
	Servers []calib.Endpoint `yaml:"servers"`

	// ConnectionTimeoutSeconds bounds one whole worker exchange. Mining
	// simulations run for hours, so the default is generous.
	ConnectionTimeoutSeconds int `yaml:"connection_timeout_seconds"`

	// CallBudget caps the total number of evaluation jobs per case.
	CallBudget int `yaml:"call_budget"`

	// InitialPoints sizes the first exploration batch when the knowledge
	// base holds no usable priors.
	InitialPoints int `yaml:"initial_points"`

	// Seed makes the default optimizer deterministic.
	Seed int64 `yaml:"seed"`

	KnowledgeBaseDir string `yaml:"knowledge_base_dir"`
	TargetDataDir    string `yaml:"target_data_dir"`
	ResultsDir       string `yaml:"results_dir"`

	// MetricsAddr enables the Prometheus scrape endpoint when non-empty,
	// e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`

	TargetTransform loss.Transform     `yaml:"target_transform"`
	SimTransform    loss.Transform     `yaml:"sim_transform"`
	StepWeights     map[string]float64 `yaml:"step_weights"`

	Parameters calib.Space `yaml:"parameters"`
}

// LoadRunConfig reads, defaults, and validates a YAML run configuration.
func LoadRunConfig(path string) (*RunConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg RunConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *RunConfig) applyDefaults() {
	if c.ConnectionTimeoutSeconds == 0 {
		c.ConnectionTimeoutSeconds = 20000
	}
	if c.CallBudget == 0 {
		c.CallBudget = 50
	}
	if c.InitialPoints == 0 {
		c.InitialPoints = 5
	}
	if c.Seed == 0 {
		c.Seed = 123
	}
	if c.KnowledgeBaseDir == "" {
		c.KnowledgeBaseDir = "knowledge_base_mining"
	}
	if c.TargetDataDir == "" {
		c.TargetDataDir = "target_data"
	}
	if c.ResultsDir == "" {
		c.ResultsDir = "optimization_results"
	}
}

func (c *RunConfig) validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("config: at least one server endpoint is required")
	}
	for _, e := range c.Servers {
		if e.Host == "" || e.Port <= 0 || e.Port > 65535 {
			return fmt.Errorf("config: invalid server endpoint %s", e.Addr())
		}
	}
	if c.CallBudget < 0 || c.InitialPoints < 0 || c.ConnectionTimeoutSeconds < 0 {
		return fmt.Errorf("config: budget, initial points, and timeout must be non-negative")
	}
	if err := c.Parameters.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
