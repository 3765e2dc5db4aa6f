// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/agentbridge/lib/config"
)

// configFlags are shared by every command that reads the config file.
type configFlags struct {
	path string
}

func (f *configFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.path, "config", "c", "", "config file (default: $AGENTBRIDGE_CONFIG)")
}

func (f *configFlags) load() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.path != "" {
		cfg, err = config.LoadFile(f.path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// controlFlags locate the control socket of a running bridge: either
// directly with --socket or through the config file.
type controlFlags struct {
	configFlags
	socketPath string
}

func (f *controlFlags) register(flagSet *pflag.FlagSet) {
	f.configFlags.register(flagSet)
	flagSet.StringVar(&f.socketPath, "socket", "", "control socket (default: control.socket_path from the config)")
}

func (f *controlFlags) resolveSocket() (string, error) {
	if f.socketPath != "" {
		return f.socketPath, nil
	}
	cfg, err := f.load()
	if err != nil {
		return "", fmt.Errorf("finding the control socket (or pass --socket): %w", err)
	}
	return cfg.Control.SocketPath, nil
}
