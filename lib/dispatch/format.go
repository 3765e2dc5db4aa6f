// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/agentbridge/lib/session"
)

// The Format functions render session events as Markdown for chat
// transports. Transports that cannot render Markdown show it as-is.

// FormatInteraction renders a pending interaction as a numbered list
// of options with answering instructions.
func FormatInteraction(interaction session.Interaction) string {
	var builder strings.Builder
	switch interaction.Type {
	case session.InteractionPermission:
		fmt.Fprintf(&builder, "**Permission requested:** %s\n\n", interaction.Title)
	default:
		fmt.Fprintf(&builder, "**%s**\n\n", interaction.Title)
	}
	for index, option := range interaction.Options {
		fmt.Fprintf(&builder, "%d. %s\n", index, option.DisplayLabel())
	}
	fmt.Fprintf(&builder, "\nReply with a number, or `/select %s <option>`.", interaction.RequestID)
	return builder.String()
}

// FormatResolution renders how an interaction settled.
func FormatResolution(resolution session.Resolution) string {
	var text string
	switch resolution.Reason {
	case session.ResolvedTimeout:
		text = fmt.Sprintf("No answer in time; chose %s.", resolution.Label)
	case session.ResolvedCancel:
		text = "Request cancelled."
	case session.ResolvedReset:
		text = "Request cancelled: the session was reset."
	default:
		text = fmt.Sprintf("Selected %s.", resolution.Label)
	}
	if resolution.Outcome != nil && resolution.Outcome.Message != "" {
		text += " " + resolution.Outcome.Message
	}
	return text
}

// FormatCompletion renders a finished task's outcome.
func FormatCompletion(completion session.Completion) string {
	if completion.Outcome.Success {
		return completion.Outcome.Message
	}
	message := completion.Outcome.Message
	switch {
	case message == "":
		return "Task failed."
	case strings.HasPrefix(message, "Task failed"), strings.HasPrefix(message, "Agent unavailable"):
		return message
	default:
		return "Task failed: " + message
	}
}

// FormatStatus renders a session snapshot.
func FormatStatus(status session.Status) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Session %s\n", status.ID)
	fmt.Fprintf(&builder, "Project: %s\n", status.Key.ProjectPath)
	if status.ModeID != "" {
		fmt.Fprintf(&builder, "Mode: %s\n", status.ModeID)
	}
	if status.ModelID != "" {
		fmt.Fprintf(&builder, "Model: %s\n", status.ModelID)
	}
	if status.Current != nil {
		fmt.Fprintf(&builder, "Running: %s (%s)\n", summarize(status.Current.Content), status.Current.ID)
	} else {
		builder.WriteString("Idle\n")
	}
	for index, task := range status.Pending {
		fmt.Fprintf(&builder, "Queued %d: %s (%s)\n", index+1, summarize(task.Content), task.ID)
	}
	for _, interaction := range status.Interactions {
		fmt.Fprintf(&builder, "Waiting for answer: %s (%s)\n", interaction.Title, interaction.RequestID)
	}
	return strings.TrimRight(builder.String(), "\n")
}

// summarize shortens task content for one-line display.
func summarize(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	const limit = 60
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit-1]) + "…"
}
