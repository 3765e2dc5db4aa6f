// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the agent bridge.
//
// Configuration is loaded from a single file specified by either the
// AGENTBRIDGE_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no automatic discovery.
//
// Files are YAML. A file whose name ends in .json or .jsonc is accepted
// too: comments and trailing commas are stripped before decoding, and
// since JSON is a subset of YAML the same decoder reads both.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${AGENTBRIDGE_STATE}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Project, Agent, Interaction,
//     Matrix, Control, Paths and Logging sections
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
package config
