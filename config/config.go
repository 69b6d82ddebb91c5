// Package config provides configuration loading and management for reportgen.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/c360studio/reportgen/model"
	"gopkg.in/yaml.v3"
)

// Config represents the complete reportgen configuration
type Config struct {
	Log       LogConfig            `yaml:"log"`
	Model     model.RegistryConfig `yaml:"model"`
	NATS      NATSConfig           `yaml:"nats"`
	Workflow  WorkflowConfig       `yaml:"workflow"`
	Vision    VisionConfig         `yaml:"vision"`
	Storage   StorageConfig        `yaml:"storage"`
	Knowledge KnowledgeConfig      `yaml:"knowledge"`
	Web       WebConfig            `yaml:"web"`
	HTTP      HTTPConfig           `yaml:"http"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
	// StoreDir is the JetStream directory for the embedded server (empty = temp dir)
	StoreDir string `yaml:"store_dir"`
}

// WorkflowConfig bounds a report run
type WorkflowConfig struct {
	// MaxSteps is the node budget per run before it is forced to finish
	MaxSteps int `yaml:"max_steps"`
	// RequirePlanApproval pauses the run for a human to review the writer's plan
	RequirePlanApproval bool `yaml:"require_plan_approval"`
	// ReasoningFlushInterval is the narration broadcast cadence
	ReasoningFlushInterval time.Duration `yaml:"reasoning_flush_interval"`
	// ModelTimeout bounds each agent model call
	ModelTimeout time.Duration `yaml:"model_timeout"`
	// DebugDump writes each agent's context to .logs/Report_<id>/
	DebugDump bool `yaml:"debug_dump"`
	// DumpDir is the root for debug dumps
	DumpDir string `yaml:"dump_dir"`
}

// VisionConfig configures the batch image analyzer
type VisionConfig struct {
	Concurrency int           `yaml:"concurrency"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffStep time.Duration `yaml:"backoff_step"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// StorageConfig selects the durable report store
type StorageConfig struct {
	// Backend is "kv" (NATS JetStream), "postgres" or "memory"
	Backend string `yaml:"backend"`
	// PostgresDSN is the connection string for the postgres backend
	PostgresDSN string `yaml:"postgres_dsn"`
}

// KnowledgeConfig configures the internal knowledge base
type KnowledgeConfig struct {
	// Root is the directory holding project documents
	Root string `yaml:"root"`
	// Patterns are doublestar globs relative to Root
	Patterns []string `yaml:"patterns"`
	// Watch re-indexes documents when they change
	Watch bool `yaml:"watch"`
}

// WebConfig configures the web search tool
type WebConfig struct {
	// SearchURL is an Exa-compatible search endpoint
	SearchURL  string `yaml:"search_url"`
	NumResults int    `yaml:"num_results"`
}

// HTTPConfig configures the report API listener
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Storage backends.
const (
	BackendKV       = "kv"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Workflow: WorkflowConfig{
			MaxSteps:               25,
			RequirePlanApproval:    true,
			ReasoningFlushInterval: 500 * time.Millisecond,
			ModelTimeout:           3 * time.Minute,
			DumpDir:                ".logs",
		},
		Vision: VisionConfig{
			Concurrency: 3,
			MaxAttempts: 3,
			BackoffStep: 500 * time.Millisecond,
			CallTimeout: 60 * time.Second,
		},
		Storage: StorageConfig{Backend: BackendKV},
		Knowledge: KnowledgeConfig{
			Root:     "knowledge",
			Patterns: []string{"**/*.md", "**/*.txt"},
		},
		Web: WebConfig{
			SearchURL:  "https://api.exa.ai/search",
			NumResults: 3,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	var errs []error
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Workflow.MaxSteps <= 0 {
		errs = append(errs, fmt.Errorf("workflow.max_steps must be positive"))
	}
	if c.Workflow.ReasoningFlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("workflow.reasoning_flush_interval must be positive"))
	}
	if c.Vision.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("vision.concurrency must be positive"))
	}
	if c.Vision.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("vision.max_attempts must be positive"))
	}
	switch c.Storage.Backend {
	case BackendKV, BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("storage.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of kv, postgres, memory", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values).
// Command-line overrides are applied this way. RequirePlanApproval follows MaxSteps
// because a bool has no unset value.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}

	// Model
	if len(other.Model.Capabilities) > 0 || len(other.Model.Endpoints) > 0 {
		if c.Model.Capabilities == nil {
			c.Model.Capabilities = make(map[string]*model.CapabilityConfig)
		}
		if c.Model.Endpoints == nil {
			c.Model.Endpoints = make(map[string]*model.EndpointConfig)
		}
		for k, v := range other.Model.Capabilities {
			c.Model.Capabilities[k] = v
		}
		for k, v := range other.Model.Endpoints {
			c.Model.Endpoints[k] = v
		}
	}
	if other.Model.Defaults != nil {
		c.Model.Defaults = other.Model.Defaults
	}
	if other.Model.Health != nil {
		c.Model.Health = other.Model.Health
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}
	if other.NATS.StoreDir != "" {
		c.NATS.StoreDir = other.NATS.StoreDir
	}

	// Workflow
	if other.Workflow.MaxSteps != 0 {
		c.Workflow.MaxSteps = other.Workflow.MaxSteps
		c.Workflow.RequirePlanApproval = other.Workflow.RequirePlanApproval
	}
	if other.Workflow.ReasoningFlushInterval != 0 {
		c.Workflow.ReasoningFlushInterval = other.Workflow.ReasoningFlushInterval
	}
	if other.Workflow.ModelTimeout != 0 {
		c.Workflow.ModelTimeout = other.Workflow.ModelTimeout
	}
	if other.Workflow.DebugDump {
		c.Workflow.DebugDump = true
	}
	if other.Workflow.DumpDir != "" {
		c.Workflow.DumpDir = other.Workflow.DumpDir
	}

	// Vision
	if other.Vision.Concurrency != 0 {
		c.Vision.Concurrency = other.Vision.Concurrency
	}
	if other.Vision.MaxAttempts != 0 {
		c.Vision.MaxAttempts = other.Vision.MaxAttempts
	}
	if other.Vision.BackoffStep != 0 {
		c.Vision.BackoffStep = other.Vision.BackoffStep
	}
	if other.Vision.CallTimeout != 0 {
		c.Vision.CallTimeout = other.Vision.CallTimeout
	}

	// Storage
	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.PostgresDSN != "" {
		c.Storage.PostgresDSN = other.Storage.PostgresDSN
	}

	// Knowledge
	if other.Knowledge.Root != "" {
		c.Knowledge.Root = other.Knowledge.Root
	}
	if len(other.Knowledge.Patterns) > 0 {
		c.Knowledge.Patterns = other.Knowledge.Patterns
	}
	if other.Knowledge.Watch {
		c.Knowledge.Watch = true
	}

	// Web
	if other.Web.SearchURL != "" {
		c.Web.SearchURL = other.Web.SearchURL
	}
	if other.Web.NumResults != 0 {
		c.Web.NumResults = other.Web.NumResults
	}

	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
}
