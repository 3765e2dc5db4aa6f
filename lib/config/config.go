// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Transport names which chat transport the bridge serves.
const (
	TransportMatrix  = "matrix"
	TransportConsole = "console"
)

// Agent kinds.
const (
	AgentACP  = "acp"
	AgentMock = "mock"
)

// Config is the master configuration for the bridge.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Transport selects the chat transport: "matrix" or "console".
	Transport string `yaml:"transport"`

	// Project configures the working directory agents run in and the
	// repositories a user may switch between.
	Project ProjectConfig `yaml:"project"`

	// Agent configures how agent processes are launched.
	Agent AgentConfig `yaml:"agent"`

	// Interaction configures permission and selection requests.
	Interaction InteractionConfig `yaml:"interaction"`

	// Matrix configures the Matrix transport.
	Matrix MatrixConfig `yaml:"matrix"`

	// Control configures the local control socket.
	Control ControlConfig `yaml:"control"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Agent       *AgentConfig       `yaml:"agent,omitempty"`
	Interaction *InteractionConfig `yaml:"interaction,omitempty"`
	Matrix      *MatrixConfig      `yaml:"matrix,omitempty"`
	Paths       *PathsConfig       `yaml:"paths,omitempty"`
	Logging     *LoggingConfig     `yaml:"logging,omitempty"`
}

// ProjectConfig configures the agent working directory.
type ProjectConfig struct {
	// Path is the initial project directory. Every session created
	// while this path is active runs its agent here.
	Path string `yaml:"path"`

	// RepositoryRoots are directories whose immediate children that
	// are git repositories are offered by /repos.
	RepositoryRoots []string `yaml:"repository_roots"`

	// Repositories are explicit entries offered by /repos in addition
	// to those found under RepositoryRoots.
	Repositories []RepositoryEntry `yaml:"repositories"`
}

// RepositoryEntry names one repository explicitly.
type RepositoryEntry struct {
	// Name is the label shown to users. Defaults to the directory name.
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// AgentConfig configures the agent process.
type AgentConfig struct {
	// Kind is "acp" for an external agent speaking the Agent Client
	// Protocol over stdio, or "mock" for the built-in scripted agent.
	Kind string `yaml:"kind"`

	// Command is the argv of the agent process (acp only).
	Command []string `yaml:"command"`

	// Env is added to the agent process environment (acp only).
	Env map[string]string `yaml:"env"`

	// StartTimeout bounds agent start-up, as a Go duration string.
	// Default: 60s
	StartTimeout string `yaml:"start_timeout"`
}

// InteractionConfig configures pending interactions.
type InteractionConfig struct {
	// Timeout is how long a permission or selection request waits for
	// a human before it is auto-resolved. Default: 300s
	Timeout string `yaml:"timeout"`
}

// MatrixConfig configures the Matrix transport.
type MatrixConfig struct {
	// Homeserver is the client-server API base URL.
	Homeserver string `yaml:"homeserver"`

	// UserID is the bridge's own Matrix user id. Messages from it are
	// ignored.
	UserID string `yaml:"user_id"`

	// TokenFile holds the access token. The file is read once at
	// start-up and the token kept in locked memory.
	TokenFile string `yaml:"token_file"`

	// AllowedUsers restricts who may talk to the bridge. Empty means
	// anyone in a room the bridge has joined.
	AllowedUsers []string `yaml:"allowed_users"`

	// SyncTimeout is the long-poll timeout for /sync. Default: 30s
	SyncTimeout string `yaml:"sync_timeout"`
}

// ControlConfig configures the control socket.
type ControlConfig struct {
	// SocketPath is the Unix socket the CLI talks to.
	// Default: ${AGENTBRIDGE_STATE}/control.sock
	SocketPath string `yaml:"socket_path"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// State is where runtime state is stored: the instance lock and the
	// default control socket.
	State string `yaml:"state"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level"`

	// Format is "json", "text", or "auto" (text when stderr is a
	// terminal). Default: auto
	Format string `yaml:"format"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist to give every field a sensible value, not as a fallback:
// the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultState := filepath.Join(homeDir, ".cache", "agentbridge")

	return &Config{
		Environment: Development,
		Transport:   TransportMatrix,
		Agent: AgentConfig{
			Kind:         AgentACP,
			StartTimeout: "60s",
		},
		Interaction: InteractionConfig{
			Timeout: "300s",
		},
		Matrix: MatrixConfig{
			SyncTimeout: "30s",
		},
		Control: ControlConfig{
			SocketPath: "${AGENTBRIDGE_STATE}/control.sock",
		},
		Paths: PathsConfig{
			State: defaultState,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the AGENTBRIDGE_CONFIG environment
// variable. If it is not set, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv("AGENTBRIDGE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("AGENTBRIDGE_CONFIG environment variable not set; " +
			"set it to the path of your agentbridge.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Agent != nil {
		if overrides.Agent.Kind != "" {
			c.Agent.Kind = overrides.Agent.Kind
		}
		if len(overrides.Agent.Command) > 0 {
			c.Agent.Command = overrides.Agent.Command
		}
		for key, value := range overrides.Agent.Env {
			if c.Agent.Env == nil {
				c.Agent.Env = make(map[string]string)
			}
			c.Agent.Env[key] = value
		}
		if overrides.Agent.StartTimeout != "" {
			c.Agent.StartTimeout = overrides.Agent.StartTimeout
		}
	}

	if overrides.Interaction != nil && overrides.Interaction.Timeout != "" {
		c.Interaction.Timeout = overrides.Interaction.Timeout
	}

	if overrides.Matrix != nil {
		if overrides.Matrix.Homeserver != "" {
			c.Matrix.Homeserver = overrides.Matrix.Homeserver
		}
		if overrides.Matrix.UserID != "" {
			c.Matrix.UserID = overrides.Matrix.UserID
		}
		if overrides.Matrix.TokenFile != "" {
			c.Matrix.TokenFile = overrides.Matrix.TokenFile
		}
		if len(overrides.Matrix.AllowedUsers) > 0 {
			c.Matrix.AllowedUsers = overrides.Matrix.AllowedUsers
		}
		if overrides.Matrix.SyncTimeout != "" {
			c.Matrix.SyncTimeout = overrides.Matrix.SyncTimeout
		}
	}

	if overrides.Paths != nil && overrides.Paths.State != "" {
		c.Paths.State = overrides.Paths.State
	}

	if overrides.Logging != nil {
		if overrides.Logging.Level != "" {
			c.Logging.Level = overrides.Logging.Level
		}
		if overrides.Logging.Format != "" {
			c.Logging.Format = overrides.Logging.Format
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["AGENTBRIDGE_STATE"] = c.Paths.State

	c.Project.Path = expandVars(c.Project.Path, vars)
	for index, root := range c.Project.RepositoryRoots {
		c.Project.RepositoryRoots[index] = expandVars(root, vars)
	}
	for index := range c.Project.Repositories {
		c.Project.Repositories[index].Path = expandVars(c.Project.Repositories[index].Path, vars)
	}
	c.Matrix.TokenFile = expandVars(c.Matrix.TokenFile, vars)
	c.Control.SocketPath = expandVars(c.Control.SocketPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Names in vars
// take precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Project.Path == "" {
		errs = append(errs, fmt.Errorf("project.path is required"))
	}

	switch c.Transport {
	case TransportMatrix:
		if c.Matrix.Homeserver == "" {
			errs = append(errs, fmt.Errorf("matrix.homeserver is required for the matrix transport"))
		}
		if c.Matrix.UserID == "" {
			errs = append(errs, fmt.Errorf("matrix.user_id is required for the matrix transport"))
		}
		if c.Matrix.TokenFile == "" {
			errs = append(errs, fmt.Errorf("matrix.token_file is required for the matrix transport"))
		}
		if _, err := parseDuration("matrix.sync_timeout", c.Matrix.SyncTimeout); err != nil {
			errs = append(errs, err)
		}
	case TransportConsole:
	default:
		errs = append(errs, fmt.Errorf("transport must be one of: %v", []string{TransportMatrix, TransportConsole}))
	}

	switch c.Agent.Kind {
	case AgentACP:
		if len(c.Agent.Command) == 0 {
			errs = append(errs, fmt.Errorf("agent.command is required for the acp agent"))
		}
	case AgentMock:
	default:
		errs = append(errs, fmt.Errorf("agent.kind must be one of: %v", []string{AgentACP, AgentMock}))
	}

	if _, err := parseDuration("agent.start_timeout", c.Agent.StartTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseDuration("interaction.timeout", c.Interaction.Timeout); err != nil {
		errs = append(errs, err)
	}

	if c.Control.SocketPath == "" {
		errs = append(errs, fmt.Errorf("control.socket_path is required"))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", levels))
	}
	formats := []string{"auto", "json", "text"}
	if !slices.Contains(formats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", formats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// InteractionTimeout returns interaction.timeout as a duration.
func (c *Config) InteractionTimeout() time.Duration {
	duration, _ := parseDuration("interaction.timeout", c.Interaction.Timeout)
	return duration
}

// AgentStartTimeout returns agent.start_timeout as a duration.
func (c *Config) AgentStartTimeout() time.Duration {
	duration, _ := parseDuration("agent.start_timeout", c.Agent.StartTimeout)
	return duration
}

// MatrixSyncTimeout returns matrix.sync_timeout as a duration.
func (c *Config) MatrixSyncTimeout() time.Duration {
	duration, _ := parseDuration("matrix.sync_timeout", c.Matrix.SyncTimeout)
	return duration
}

// EnsurePaths creates the state directory if it does not exist.
func (c *Config) EnsurePaths() error {
	if c.Paths.State == "" {
		return nil
	}
	if err := os.MkdirAll(c.Paths.State, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Paths.State, err)
	}
	return nil
}

// parseDuration parses a positive duration. The field name is used in
// the error message.
func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return duration, nil
}
