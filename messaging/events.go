// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

// Event and relation identifiers the bridge reads or writes.
const (
	EventTypeMessage = "m.room.message"
	EventTypeMember  = "m.room.member"

	MsgTypeText   = "m.text"
	MsgTypeNotice = "m.notice"

	RelationThread  = "m.thread"
	RelationReplace = "m.replace"
)

// MessageContent is the body of an outgoing m.room.message.
type MessageContent struct {
	MsgType       string     `json:"msgtype"`
	Body          string     `json:"body"`
	Format        string     `json:"format,omitempty"`
	FormattedBody string     `json:"formatted_body,omitempty"`
	RelatesTo     *RelatesTo `json:"m.relates_to,omitempty"`
}

// RelatesTo is the m.relates_to block linking an event to another.
type RelatesTo struct {
	RelType       string     `json:"rel_type,omitempty"`
	EventID       string     `json:"event_id,omitempty"`
	IsFallingBack bool       `json:"is_falling_back,omitempty"`
	InReplyTo     *InReplyTo `json:"m.in_reply_to,omitempty"`
}

// InReplyTo names the event a reply answers.
type InReplyTo struct {
	EventID string `json:"event_id"`
}

// NewTextMessage returns plain m.text content for the main timeline.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: MsgTypeText, Body: body}
}

// NewThreadReply moves content into the thread whose first event is
// rootEventID. Clients without thread support render it as a reply to
// the root.
func NewThreadReply(rootEventID string, content MessageContent) MessageContent {
	content.RelatesTo = &RelatesTo{
		RelType:       RelationThread,
		EventID:       rootEventID,
		IsFallingBack: true,
		InReplyTo:     &InReplyTo{EventID: rootEventID},
	}
	return content
}

// Event is a room event as delivered by /sync. Content stays untyped
// because its shape depends on Type.
type Event struct {
	EventID        string         `json:"event_id"`
	Type           string         `json:"type"`
	Sender         string         `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	StateKey       *string        `json:"state_key,omitempty"`
	Content        map[string]any `json:"content"`
}

func (e Event) contentString(key string) string {
	value, _ := e.Content[key].(string)
	return value
}

func (e Event) relation() (relType, eventID string) {
	relatesTo, ok := e.Content["m.relates_to"].(map[string]any)
	if !ok {
		return "", ""
	}
	relType, _ = relatesTo["rel_type"].(string)
	eventID, _ = relatesTo["event_id"].(string)
	return relType, eventID
}

// Body is content.body, or "" when absent.
func (e Event) Body() string { return e.contentString("body") }

// MsgType is content.msgtype, or "" when absent.
func (e Event) MsgType() string { return e.contentString("msgtype") }

// IsEdit reports whether the event replaces an earlier one.
func (e Event) IsEdit() bool {
	relType, _ := e.relation()
	return relType == RelationReplace
}

// ThreadRoot is the root event of the thread e was posted in, or ""
// on the main timeline.
func (e Event) ThreadRoot() string {
	relType, root := e.relation()
	if relType != RelationThread {
		return ""
	}
	return root
}

// SyncOptions are the query parameters of one /sync request.
type SyncOptions struct {
	// Since resumes from a previous NextBatch. Empty requests a full
	// snapshot.
	Since string

	// Timeout is the long-poll duration in milliseconds. It is only
	// sent when SetTimeout is true, because zero is meaningful.
	Timeout    int
	SetTimeout bool

	// Filter is a filter ID or inline JSON filter.
	Filter string
}

// SyncResponse is the subset of a /sync body the bridge reads.
type SyncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     Rooms  `json:"rooms"`
}

// Rooms groups per-room sync data by the user's membership.
type Rooms struct {
	Join   map[string]JoinedRoom  `json:"join,omitempty"`
	Invite map[string]InvitedRoom `json:"invite,omitempty"`
}

// JoinedRoom is the per-room section for rooms the user is in.
type JoinedRoom struct {
	Timeline Timeline `json:"timeline"`
}

// Timeline holds new events in order. Limited means the server
// skipped some.
type Timeline struct {
	Events  []Event `json:"events"`
	Limited bool    `json:"limited"`
}

// InvitedRoom is the per-room section for pending invites.
type InvitedRoom struct {
	InviteState StrippedState `json:"invite_state"`
}

// StrippedState is the subset of room state the inviting server chose
// to share with an invitee.
type StrippedState struct {
	Events []Event `json:"events"`
}

// Inviter finds who invited userID, or returns "" when the stripped
// state does not say.
func (r InvitedRoom) Inviter(userID string) string {
	for _, event := range r.InviteState.Events {
		if event.Type != EventTypeMember || event.StateKey == nil || *event.StateKey != userID {
			continue
		}
		if event.contentString("membership") == "invite" {
			return event.Sender
		}
	}
	return ""
}

type sendEventResponse struct {
	EventID string `json:"event_id"`
}

type whoAmIResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
}
