package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "reportgen.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/reportgen"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger   *slog.Logger
	startDir string
	homeDir  string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithStartDir sets the directory the project config search begins in.
func WithStartDir(dir string) LoaderOption {
	return func(l *Loader) { l.startDir = dir }
}

// WithHomeDir overrides the home directory used for the user config.
func WithHomeDir(dir string) LoaderOption {
	return func(l *Loader) { l.homeDir = dir }
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/reportgen/config.yaml)
// 3. Project config (reportgen.yaml in current or parent directories)
// 4. Explicit file (--config), when given
//
// Each layer is decoded over the previous one, so a layer only overrides the
// keys it names.
func (l *Loader) Load(explicit string) (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfigPath != "" {
		if err := overlayFile(config, userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", "path", userConfigPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("Failed to load user config", "path", userConfigPath, "error", err)
		}
	}

	projectConfigPath := l.ProjectConfigPath()
	if projectConfigPath != "" {
		if err := overlayFile(config, projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", "path", projectConfigPath)
			l.resolveKnowledgeRoot(config, filepath.Dir(projectConfigPath))
		} else {
			l.logger.Warn("Failed to load project config", "path", projectConfigPath, "error", err)
		}
	} else {
		l.logger.Debug("No project config found")
	}

	if explicit != "" {
		if err := overlayFile(config, explicit); err != nil {
			return nil, err
		}
		l.resolveKnowledgeRoot(config, filepath.Dir(explicit))
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// overlayFile decodes the YAML file at path on top of config.
func overlayFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// resolveKnowledgeRoot anchors a relative knowledge root at the config file's directory.
func (l *Loader) resolveKnowledgeRoot(config *Config, dir string) {
	if config.Knowledge.Root != "" && !filepath.IsAbs(config.Knowledge.Root) {
		config.Knowledge.Root = filepath.Join(dir, config.Knowledge.Root)
	}
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	if err := DefaultConfig().SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", "path", userConfigPath)
	return nil
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home := l.homeDir
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return ""
		}
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// ProjectConfigPath searches for reportgen.yaml in the start directory and its parents.
func (l *Loader) ProjectConfigPath() string {
	dir := l.startDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return ""
		}
		dir = cwd
	}

	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
