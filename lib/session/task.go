// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "time"

// TaskKind distinguishes free-text prompts from agent-side commands.
type TaskKind string

const (
	TaskPrompt  TaskKind = "prompt"
	TaskCommand TaskKind = "command"
)

// Task is one unit of work for a session's agent.
type Task struct {
	ID        string    `json:"id" cbor:"id"`
	Kind      TaskKind  `json:"kind" cbor:"kind"`
	Content   string    `json:"content" cbor:"content"`
	CreatedAt time.Time `json:"created_at" cbor:"created_at"`
}
