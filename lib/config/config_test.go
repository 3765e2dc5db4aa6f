// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Interaction.Timeout != "300s" {
		t.Errorf("expected interaction.timeout=300s, got %s", cfg.Interaction.Timeout)
	}
	if cfg.Agent.Kind != AgentACP {
		t.Errorf("expected agent.kind=acp, got %s", cfg.Agent.Kind)
	}
	if cfg.InteractionTimeout() != 300*time.Second {
		t.Errorf("InteractionTimeout() = %v, want 5m", cfg.InteractionTimeout())
	}
}

func TestLoad_RequiresConfigVariable(t *testing.T) {
	t.Setenv("AGENTBRIDGE_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when AGENTBRIDGE_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "AGENTBRIDGE_CONFIG environment variable not set") {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestLoad_WithConfigVariable(t *testing.T) {
	path := writeConfig(t, "agentbridge.yaml", `
environment: staging
project:
  path: /srv/project
`)
	t.Setenv("AGENTBRIDGE_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Project.Path != "/srv/project" {
		t.Errorf("expected project.path=/srv/project, got %s", cfg.Project.Path)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, "agentbridge.yaml", `
environment: development
transport: console

project:
  path: /work/app
  repository_roots: [/work]
  repositories:
    - name: docs
      path: /srv/docs

agent:
  kind: acp
  command: [example-acp-agent, --verbose]
  env:
    AGENT_MODE: bridge
  start_timeout: 10s

interaction:
  timeout: 2m

logging:
  level: debug
  format: json
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Transport != TransportConsole {
		t.Errorf("transport = %q, want console", cfg.Transport)
	}
	if len(cfg.Agent.Command) != 2 || cfg.Agent.Command[0] != "example-acp-agent" {
		t.Errorf("agent.command = %v", cfg.Agent.Command)
	}
	if cfg.Agent.Env["AGENT_MODE"] != "bridge" {
		t.Errorf("agent.env = %v", cfg.Agent.Env)
	}
	if cfg.InteractionTimeout() != 2*time.Minute {
		t.Errorf("InteractionTimeout() = %v, want 2m", cfg.InteractionTimeout())
	}
	if cfg.AgentStartTimeout() != 10*time.Second {
		t.Errorf("AgentStartTimeout() = %v, want 10s", cfg.AgentStartTimeout())
	}
	if len(cfg.Project.Repositories) != 1 || cfg.Project.Repositories[0].Name != "docs" {
		t.Errorf("project.repositories = %+v", cfg.Project.Repositories)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	path := writeConfig(t, "agentbridge.jsonc", `{
  // Local demo setup.
  "environment": "development",
  "transport": "console",
  "project": {"path": "/work/app"},
  "agent": {
    "kind": "mock", /* no external process */
  },
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Agent.Kind != AgentMock {
		t.Errorf("agent.kind = %q, want mock", cfg.Agent.Kind)
	}
	if cfg.Project.Path != "/work/app" {
		t.Errorf("project.path = %q", cfg.Project.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "agentbridge.yaml", `
environment: production
project:
  path: /srv/app
interaction:
  timeout: 300s
agent:
  command: [agent]
  env:
    BASE: "1"
logging:
  level: debug
production:
  interaction:
    timeout: 60s
  agent:
    env:
      EXTRA: "2"
  logging:
    level: warn
development:
  logging:
    level: error
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Interaction.Timeout != "60s" {
		t.Errorf("interaction.timeout = %q, want 60s", cfg.Interaction.Timeout)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("logging.level = %q, want warn (production section)", cfg.Logging.Level)
	}
	if cfg.Agent.Env["BASE"] != "1" || cfg.Agent.Env["EXTRA"] != "2" {
		t.Errorf("agent.env = %v, want base and override merged", cfg.Agent.Env)
	}
	if len(cfg.Agent.Command) != 1 || cfg.Agent.Command[0] != "agent" {
		t.Errorf("agent.command = %v, base value should survive", cfg.Agent.Command)
	}
}

func TestVariableExpansion(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("AGENTBRIDGE_TEST_ROOT", "/data")

	path := writeConfig(t, "agentbridge.yaml", `
project:
  path: ${AGENTBRIDGE_TEST_ROOT}/app
  repository_roots: ["${HOME}/src"]
paths:
  state: ${HOME}/.local/state/agentbridge
matrix:
  token_file: ${AGENTBRIDGE_UNSET_VAR:-/etc/agentbridge/token}
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	checks := []struct {
		name, got, want string
	}{
		{"project.path", cfg.Project.Path, "/data/app"},
		{"project.repository_roots[0]", cfg.Project.RepositoryRoots[0], "/home/tester/src"},
		{"paths.state", cfg.Paths.State, "/home/tester/.local/state/agentbridge"},
		{"matrix.token_file", cfg.Matrix.TokenFile, "/etc/agentbridge/token"},
		{"control.socket_path", cfg.Control.SocketPath, "/home/tester/.local/state/agentbridge/control.sock"},
	}
	for _, check := range checks {
		if check.got != check.want {
			t.Errorf("%s = %q, want %q", check.name, check.got, check.want)
		}
	}
}

func TestExpandVars(t *testing.T) {
	vars := map[string]string{"NAME": "value", "EMPTY": ""}
	tests := []struct {
		input, want string
	}{
		{"${NAME}/x", "value/x"},
		{"${EMPTY:-fallback}", "fallback"},
		{"${AGENTBRIDGE_DOES_NOT_EXIST}", ""},
		{"plain", "plain"},
	}
	for _, test := range tests {
		if got := expandVars(test.input, vars); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Project.Path = "/srv/app"
		cfg.Matrix.Homeserver = "http://localhost:6167"
		cfg.Matrix.UserID = "@bridge:localhost"
		cfg.Matrix.TokenFile = "/run/token"
		cfg.Agent.Command = []string{"agent"}
		cfg.Control.SocketPath = "/run/agentbridge.sock"
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"environment", func(c *Config) { c.Environment = "qa" }, "invalid environment"},
		{"project path", func(c *Config) { c.Project.Path = "" }, "project.path is required"},
		{"transport", func(c *Config) { c.Transport = "irc" }, "transport must be one of"},
		{"homeserver", func(c *Config) { c.Matrix.Homeserver = "" }, "matrix.homeserver is required"},
		{"agent kind", func(c *Config) { c.Agent.Kind = "shell" }, "agent.kind must be one of"},
		{"agent command", func(c *Config) { c.Agent.Command = nil }, "agent.command is required"},
		{"timeout syntax", func(c *Config) { c.Interaction.Timeout = "soon" }, "interaction.timeout"},
		{"timeout sign", func(c *Config) { c.Interaction.Timeout = "-5s" }, "must be positive"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level must be one of"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := valid()
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error %q does not mention %q", err, test.want)
			}
		})
	}
}

func TestValidate_ConsoleSkipsMatrix(t *testing.T) {
	cfg := Default()
	cfg.Transport = TransportConsole
	cfg.Project.Path = "/srv/app"
	cfg.Agent.Kind = AgentMock

	if err := cfg.Validate(); err != nil {
		t.Fatalf("console config without matrix section rejected: %v", err)
	}
}

func TestEnsurePaths(t *testing.T) {
	cfg := Default()
	cfg.Paths.State = filepath.Join(t.TempDir(), "nested", "state")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths failed: %v", err)
	}
	if info, err := os.Stat(cfg.Paths.State); err != nil || !info.IsDir() {
		t.Fatalf("state directory not created: %v", err)
	}
}
