// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"

	"github.com/bureau-foundation/agentbridge/lib/dispatch"
	"github.com/bureau-foundation/agentbridge/lib/session"
)

// Handler processes one inbound message. *dispatch.Dispatcher
// implements it.
type Handler interface {
	Handle(ctx context.Context, message dispatch.Message) dispatch.Reply
}

// Events is the subscription surface of *session.Registry.
type Events interface {
	OnInteraction(callback func(session.InteractionNotice)) (cancel func())
	OnResolution(callback func(session.Resolution)) (cancel func())
	OnCompletion(callback func(session.Completion)) (cancel func())
}

// Kind says what an Outbound message carries. Transports may style
// kinds differently.
type Kind string

const (
	KindReply       Kind = "reply"
	KindInteraction Kind = "interaction"
	KindResolution  Kind = "resolution"
	KindCompletion  Kind = "completion"
)

// Outbound is rendered Markdown addressed to a conversation.
type Outbound struct {
	UserID    string
	ContextID string
	Kind      Kind
	Text      string
}

// Subscribe renders every registry event with the dispatch.Format
// functions and passes it to deliver. deliver runs in the goroutine
// that raised the event, so it should hand off rather than block.
func Subscribe(events Events, deliver func(Outbound)) (cancel func()) {
	cancels := []func(){
		events.OnInteraction(func(notice session.InteractionNotice) {
			deliver(Outbound{
				UserID:    notice.UserID,
				ContextID: notice.ContextID,
				Kind:      KindInteraction,
				Text:      dispatch.FormatInteraction(notice.Interaction),
			})
		}),
		events.OnResolution(func(resolution session.Resolution) {
			deliver(Outbound{
				UserID:    resolution.UserID,
				ContextID: resolution.ContextID,
				Kind:      KindResolution,
				Text:      dispatch.FormatResolution(resolution),
			})
		}),
		events.OnCompletion(func(completion session.Completion) {
			deliver(Outbound{
				UserID:    completion.UserID,
				ContextID: completion.ContextID,
				Kind:      KindCompletion,
				Text:      dispatch.FormatCompletion(completion),
			})
		}),
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}
