// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrix connects the dispatcher to a Matrix homeserver. Each
// room is a conversation; a thread within a room is a conversation of
// its own. Replies and session events go back to the room or thread
// they belong to, rendered from Markdown.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bureau-foundation/agentbridge/lib/clock"
	"github.com/bureau-foundation/agentbridge/lib/dispatch"
	"github.com/bureau-foundation/agentbridge/lib/service"
	"github.com/bureau-foundation/agentbridge/messaging"
	"github.com/bureau-foundation/agentbridge/transport"
)

// syncFilter limits /sync to room messages and membership, without
// presence or account data.
const syncFilter = `{"presence":{"types":[]},"account_data":{"types":[]},"room":{"timeline":{"types":["m.room.message"]},"state":{"types":["m.room.member"]},"ephemeral":{"types":[]},"account_data":{"types":[]}}}`

// outboxDepth bounds messages waiting to be sent.
const outboxDepth = 256

// Session is the part of *messaging.Session the transport uses.
type Session interface {
	service.SyncSession
	UserID() string
	JoinRoom(ctx context.Context, roomID string) (string, error)
	SendMessage(ctx context.Context, roomID string, content messaging.MessageContent) (string, error)
}

// Config configures a Transport.
type Config struct {
	Session Session
	Handler transport.Handler
	Events  transport.Events

	// AllowedUsers may talk to the bridge and invite it to rooms.
	// Empty allows everyone.
	AllowedUsers []string

	// SyncTimeout is the /sync long-poll timeout. Zero means 30s.
	SyncTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Transport runs the bridge over Matrix.
type Transport struct {
	session      Session
	handler      transport.Handler
	events       transport.Events
	allowedUsers []string
	syncTimeout  time.Duration
	clock        clock.Clock
	logger       *slog.Logger
	outbox       chan transport.Outbound
}

// New creates a Transport.
func New(config Config) (*Transport, error) {
	if config.Session == nil || config.Handler == nil || config.Events == nil {
		return nil, errors.New("matrix transport requires a session, a handler and events")
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Transport{
		session:      config.Session,
		handler:      config.Handler,
		events:       config.Events,
		allowedUsers: config.AllowedUsers,
		syncTimeout:  config.SyncTimeout,
		clock:        config.Clock,
		logger:       config.Logger,
		outbox:       make(chan transport.Outbound, outboxDepth),
	}, nil
}

// Run syncs until ctx ends or the homeserver rejects the access token.
// The initial sync only accepts invites: messages sent while the bridge
// was down are not replayed.
func (t *Transport) Run(ctx context.Context) error {
	syncer := service.NewSyncer(t.session, service.SyncConfig{
		Filter:      syncFilter,
		PollTimeout: t.syncTimeout,
		Clock:       t.clock,
		Logger:      t.logger,
	})
	initial, err := syncer.Prime(ctx)
	if err != nil {
		return err
	}
	t.acceptInvites(ctx, initial.Rooms.Invite)
	t.logger.Info("matrix transport ready",
		"user_id", t.session.UserID(),
		"joined_rooms", len(initial.Rooms.Join),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lanes := transport.NewLanes(ctx)
	unsubscribe := transport.Subscribe(t.events, t.enqueue)
	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		t.sendLoop(ctx)
	}()

	syncErr := syncer.Run(ctx, func(ctx context.Context, response *messaging.SyncResponse) {
		t.handleSync(ctx, lanes, response)
	})

	cancel()
	unsubscribe()
	lanes.Wait()
	<-senderDone
	return syncErr
}

func (t *Transport) handleSync(ctx context.Context, lanes *transport.Lanes, response *messaging.SyncResponse) {
	t.acceptInvites(ctx, response.Rooms.Invite)

	for roomID, room := range response.Rooms.Join {
		for _, event := range room.Timeline.Events {
			message, ok := t.inbound(roomID, event)
			if !ok {
				continue
			}
			lanes.Submit(message.UserID+"\x00"+message.ContextID, func() {
				reply := t.handler.Handle(ctx, message)
				if reply.Text != "" {
					t.enqueue(transport.Outbound{
						UserID:    message.UserID,
						ContextID: message.ContextID,
						Kind:      transport.KindReply,
						Text:      reply.Text,
					})
				}
			})
		}
	}
}

// inbound converts a timeline event into a dispatcher message, or
// reports false for events the bridge ignores: its own messages,
// non-text messages, edits, and senders not on the allow list.
func (t *Transport) inbound(roomID string, event messaging.Event) (dispatch.Message, bool) {
	if event.Type != messaging.EventTypeMessage || event.Sender == t.session.UserID() {
		return dispatch.Message{}, false
	}
	if event.MsgType() != messaging.MsgTypeText || event.IsEdit() {
		return dispatch.Message{}, false
	}
	if !t.allowed(event.Sender) {
		t.logger.Debug("ignoring message from user not on the allow list",
			"room_id", roomID,
			"sender", event.Sender,
		)
		return dispatch.Message{}, false
	}

	return dispatch.Message{
		UserID:    event.Sender,
		ContextID: ContextID(roomID, event.ThreadRoot()),
		Text:      event.Body(),
	}, true
}

func (t *Transport) allowed(userID string) bool {
	return len(t.allowedUsers) == 0 || slices.Contains(t.allowedUsers, userID)
}

func (t *Transport) acceptInvites(ctx context.Context, invites map[string]messaging.InvitedRoom) {
	for roomID, invite := range invites {
		inviter := invite.Inviter(t.session.UserID())
		if !t.allowed(inviter) {
			t.logger.Info("declining room invite", "room_id", roomID, "inviter", inviter)
			continue
		}
		if _, err := t.session.JoinRoom(ctx, roomID); err != nil {
			t.logger.Error("failed to accept room invite",
				"room_id", roomID,
				"error", err,
			)
			continue
		}
		t.logger.Info("joined room", "room_id", roomID, "inviter", inviter)
	}
}

func (t *Transport) enqueue(message transport.Outbound) {
	select {
	case t.outbox <- message:
	default:
		t.logger.Error("outbox full, dropping message",
			"context_id", message.ContextID,
			"kind", message.Kind,
		)
	}
}

// sendLoop sends queued messages one at a time so a conversation sees
// them in the order they were produced.
func (t *Transport) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-t.outbox:
			if err := t.send(ctx, message); err != nil {
				t.logger.Error("sending message failed",
					"context_id", message.ContextID,
					"kind", message.Kind,
					"error", err,
				)
			}
		}
	}
}

func (t *Transport) send(ctx context.Context, message transport.Outbound) error {
	roomID, threadRoot, err := ParseContextID(message.ContextID)
	if err != nil {
		return err
	}
	content := messaging.NewMarkdownMessage(message.Text)
	if threadRoot != "" {
		content = messaging.NewThreadReply(threadRoot, content)
	}
	_, err = t.session.SendMessage(ctx, roomID, content)
	return err
}

// contextSeparator joins a room ID and a thread root event ID. Neither
// can contain it.
const contextSeparator = "|"

// ContextID names the conversation for a room, or for a thread within
// it when threadRoot is set.
func ContextID(roomID, threadRoot string) string {
	if threadRoot == "" {
		return roomID
	}
	return roomID + contextSeparator + threadRoot
}

// ParseContextID is the inverse of ContextID.
func ParseContextID(contextID string) (roomID, threadRoot string, err error) {
	roomID, threadRoot, _ = strings.Cut(contextID, contextSeparator)
	if !strings.HasPrefix(roomID, "!") {
		return "", "", fmt.Errorf("context %q is not a Matrix room", contextID)
	}
	return roomID, threadRoot, nil
}
