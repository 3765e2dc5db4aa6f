// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// markdown renders message bodies. Raw HTML in the source is escaped
// (goldmark's default), so agent output cannot inject markup.
var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify))

// NewMarkdownMessage creates a message whose body is the Markdown
// source and whose formatted_body is the rendered HTML. If rendering
// fails the message degrades to plain text.
func NewMarkdownMessage(source string) MessageContent {
	content := NewTextMessage(source)
	var rendered bytes.Buffer
	if err := markdown.Convert([]byte(source), &rendered); err != nil {
		return content
	}
	content.Format = "org.matrix.custom.html"
	content.FormattedBody = strings.TrimSpace(rendered.String())
	return content
}
