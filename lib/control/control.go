// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"time"

	"github.com/bureau-foundation/agentbridge/lib/clock"
	"github.com/bureau-foundation/agentbridge/lib/codec"
	"github.com/bureau-foundation/agentbridge/lib/service"
	"github.com/bureau-foundation/agentbridge/lib/session"
)

// Socket actions.
const (
	ActionStatus   = "status"
	ActionResolve  = "resolve"
	ActionReset    = "reset"
	ActionResetAll = "reset-all"
)

// StatusResponse describes the bridge and every live session.
type StatusResponse struct {
	ProjectPath        string           `cbor:"project_path"`
	Transport          string           `cbor:"transport"`
	StartedAt          time.Time        `cbor:"started_at"`
	InteractionTimeout string           `cbor:"interaction_timeout"`
	Sessions           []session.Status `cbor:"sessions"`
}

// ResolveRequest answers one pending interaction.
type ResolveRequest struct {
	SessionID string `cbor:"session_id"`
	RequestID string `cbor:"request_id"`
	// Option is an option ID or a zero-based index.
	Option string `cbor:"option"`
}

// ResetRequest tears down one session.
type ResetRequest struct {
	SessionID string `cbor:"session_id"`
}

// ResetResponse reports how many sessions were torn down.
type ResetResponse struct {
	Count int `cbor:"count"`
}

// ServerConfig wires the control handlers to the bridge.
type ServerConfig struct {
	Registry  *session.Registry
	Transport string
	Clock     clock.Clock
}

// Register installs the control actions on server.
func Register(server *service.SocketServer, config ServerConfig) {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	handlers := &handlers{
		registry:  config.Registry,
		transport: config.Transport,
		startedAt: config.Clock.Now(),
	}
	server.Handle(ActionStatus, handlers.status)
	server.Handle(ActionResolve, handlers.resolve)
	server.Handle(ActionReset, handlers.reset)
	server.Handle(ActionResetAll, handlers.resetAll)
}

type handlers struct {
	registry  *session.Registry
	transport string
	startedAt time.Time
}

func (h *handlers) status(ctx context.Context, params codec.RawMessage) (any, error) {
	sessions := h.registry.Sessions()
	response := StatusResponse{
		ProjectPath:        h.registry.ProjectPath(),
		Transport:          h.transport,
		StartedAt:          h.startedAt,
		InteractionTimeout: h.registry.InteractionTimeout().String(),
		Sessions:           make([]session.Status, 0, len(sessions)),
	}
	for _, live := range sessions {
		response.Sessions = append(response.Sessions, live.Status())
	}
	return response, nil
}

func (h *handlers) resolve(ctx context.Context, params codec.RawMessage) (any, error) {
	var request ResolveRequest
	if err := service.DecodeParams(params, &request); err != nil {
		return nil, err
	}
	if request.SessionID == "" || request.Option == "" {
		return nil, service.Errorf(service.CodeInvalidRequest, "resolve requires session_id and option")
	}

	var resolution session.Resolution
	var err error
	if request.RequestID == "" {
		live, ok := h.registry.SessionByID(request.SessionID)
		if !ok {
			return nil, service.Errorf(service.CodeNotFound, "session %s not found", request.SessionID)
		}
		resolution, err = h.registry.ResolveOldest(live, request.Option)
	} else {
		resolution, err = h.registry.ResolveInteraction(request.SessionID, request.RequestID, request.Option)
	}
	if err != nil {
		return nil, classify(err)
	}
	return resolution, nil
}

func (h *handlers) reset(ctx context.Context, params codec.RawMessage) (any, error) {
	var request ResetRequest
	if err := service.DecodeParams(params, &request); err != nil {
		return nil, err
	}
	live, ok := h.registry.SessionByID(request.SessionID)
	if !ok {
		return nil, service.Errorf(service.CodeNotFound, "session %s not found", request.SessionID)
	}
	response := ResetResponse{}
	if h.registry.ResetSession(live.Key.UserID, live.Key.ContextID) {
		response.Count = 1
	}
	return response, nil
}

func (h *handlers) resetAll(ctx context.Context, params codec.RawMessage) (any, error) {
	return ResetResponse{Count: h.registry.ResetAllSessions()}, nil
}

// classify gives registry errors a control error code.
func classify(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return service.Errorf(service.CodeNotFound, "%v", err)
	case errors.Is(err, session.ErrInvalidOption), errors.Is(err, session.ErrNoOptions):
		return service.Errorf(service.CodeInvalidRequest, "%v", err)
	default:
		return err
	}
}

// Client calls a bridge's control socket.
type Client struct {
	service *service.ServiceClient
}

// NewClient returns a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{service: service.NewServiceClient(socketPath)}
}

// Status fetches the bridge status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var response StatusResponse
	err := c.service.Call(ctx, ActionStatus, nil, &response)
	return response, err
}

// Resolve answers an interaction. An empty requestID answers the
// session's oldest pending interaction.
func (c *Client) Resolve(ctx context.Context, sessionID, requestID, option string) (session.Resolution, error) {
	var resolution session.Resolution
	err := c.service.Call(ctx, ActionResolve, ResolveRequest{
		SessionID: sessionID,
		RequestID: requestID,
		Option:    option,
	}, &resolution)
	return resolution, err
}

// Reset tears down one session.
func (c *Client) Reset(ctx context.Context, sessionID string) (int, error) {
	var response ResetResponse
	err := c.service.Call(ctx, ActionReset, ResetRequest{SessionID: sessionID}, &response)
	return response.Count, err
}

// ResetAll tears down every session.
func (c *Client) ResetAll(ctx context.Context) (int, error) {
	var response ResetResponse
	err := c.service.Call(ctx, ActionResetAll, nil, &response)
	return response.Count, err
}
