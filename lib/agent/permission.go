// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "context"

// CancelOptionID is the sentinel option a PermissionFunc returns when
// the request was cancelled rather than answered: the user sent a new
// instruction, the session was reset, or the prompt was stopped.
// Handles map it to their protocol's "cancelled" outcome.
const CancelOptionID = "cancel"

// PermissionOption is one choice offered to the human.
type PermissionOption struct {
	ID    string `json:"id" cbor:"id"`
	Label string `json:"label" cbor:"label"`

	// Kind is the agent's classification of the option
	// (allow_once, allow_always, reject_once, reject_always), when it
	// provides one.
	Kind string `json:"kind,omitempty" cbor:"kind,omitempty"`
}

// DisplayLabel returns Label, or ID when the option has no label.
func (option PermissionOption) DisplayLabel() string {
	if option.Label != "" {
		return option.Label
	}
	return option.ID
}

// PermissionRequest is a question the agent asks mid-prompt.
type PermissionRequest struct {
	// Title is the human-readable question, usually the tool call the
	// agent wants to make.
	Title string `json:"title" cbor:"title"`

	// ToolCallID identifies the agent-side tool call, when there is one.
	ToolCallID string `json:"tool_call_id,omitempty" cbor:"tool_call_id,omitempty"`

	// Options in the order they should be presented. Indexes shown to
	// the user are positions in this slice.
	Options []PermissionOption `json:"options" cbor:"options"`
}

// PermissionFunc asks the human to pick one of request.Options. It
// returns the chosen option id, CancelOptionID when the request was
// cancelled, or an error when ctx ended or the request was rejected.
type PermissionFunc func(ctx context.Context, request PermissionRequest) (string, error)
