// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/bureau-foundation/agentbridge/lib/secret"
)

// Session is an authenticated Matrix session.
//
// The access token is stored in a secret.Buffer (mmap-backed, locked
// against swap, excluded from core dumps). The caller must call Close
// when the Session is no longer needed.
type Session struct {
	client      *Client
	accessToken *secret.Buffer
	userID      string
}

// UserID returns the fully-qualified Matrix user ID (e.g., "@bridge:example.org").
func (s *Session) UserID() string {
	return s.userID
}

// Close releases the access token memory. Idempotent.
func (s *Session) Close() error {
	if s.accessToken != nil {
		return s.accessToken.Close()
	}
	return nil
}

// CloseIdleConnections closes idle HTTP connections so the next
// request dials fresh. Call this after a sync error.
func (s *Session) CloseIdleConnections() {
	s.client.CloseIdleConnections()
}

// WhoAmI returns the user the access token belongs to. It fails with
// M_UNKNOWN_TOKEN for a revoked or mistyped token.
func (s *Session) WhoAmI(ctx context.Context) (string, error) {
	var response whoAmIResponse
	if err := s.do(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil, nil, &response); err != nil {
		return "", fmt.Errorf("messaging: whoami: %w", err)
	}
	return response.UserID, nil
}

// JoinRoom joins roomID, or accepts a pending invite to it, and returns
// the joined room's ID.
func (s *Session) JoinRoom(ctx context.Context, roomID string) (string, error) {
	var response struct {
		RoomID string `json:"room_id"`
	}
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID)
	if err := s.do(ctx, http.MethodPost, path, nil, struct{}{}, &response); err != nil {
		return "", fmt.Errorf("messaging: joining %s: %w", roomID, err)
	}
	return response.RoomID, nil
}

// SendMessage sends an m.room.message event and returns its event ID.
func (s *Session) SendMessage(ctx context.Context, roomID string, content MessageContent) (string, error) {
	return s.SendEvent(ctx, roomID, EventTypeMessage, content)
}

// SendEvent sends a room event with a fresh transaction ID, so a
// rate-limit retry of the same call cannot post it twice.
func (s *Session) SendEvent(ctx context.Context, roomID, eventType string, content any) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID),
		url.PathEscape(eventType),
		url.PathEscape(uuid.NewString()),
	)
	var response sendEventResponse
	if err := s.do(ctx, http.MethodPut, path, nil, content, &response); err != nil {
		return "", fmt.Errorf("messaging: sending %s to %s: %w", eventType, roomID, err)
	}
	return response.EventID, nil
}

// Sync long-polls /sync. With SetTimeout the homeserver holds the
// request for up to Timeout milliseconds waiting for new events.
func (s *Session) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	var response SyncResponse
	if err := s.do(ctx, http.MethodGet, "/_matrix/client/v3/sync", query, nil, &response); err != nil {
		return nil, fmt.Errorf("messaging: sync: %w", err)
	}
	return &response, nil
}

func (s *Session) do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	return s.client.do(ctx, apiCall{
		method: method,
		path:   path,
		query:  query,
		body:   body,
		token:  s.accessToken,
	}, result)
}
