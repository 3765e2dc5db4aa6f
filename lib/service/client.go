// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/agentbridge/lib/codec"
)

const (
	// connectTimeout bounds dialing the socket.
	connectTimeout = 5 * time.Second

	// defaultCallTimeout applies when ctx has no deadline. It covers
	// the server's read and write deadlines plus handler time.
	defaultCallTimeout = 45 * time.Second

	// maxResponseBytes limits one response. Status of many sessions is
	// the largest.
	maxResponseBytes = 1024 * 1024
)

// ServiceClient calls a SocketServer, one connection per call.
type ServiceClient struct {
	path string
}

// NewServiceClient returns a client for the socket at path.
func NewServiceClient(path string) *ServiceClient {
	return &ServiceClient{path: path}
}

// Call runs action with params (nil for none) and decodes the
// response data into result when both are present. A failure reported
// by the server is returned as *Error; transport failures are wrapped
// plain errors.
func (c *ServiceClient) Call(ctx context.Context, action string, params, result any) error {
	request := Request{Action: action, ID: uuid.NewString()}
	if params != nil {
		encoded, err := codec.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding %s params: %w", action, err)
		}
		request.Params = encoded
	}

	response, err := c.roundTrip(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %s on %s: %w", action, c.path, err)
	}
	if response.ID != "" && response.ID != request.ID {
		return fmt.Errorf("calling %s on %s: response is for request %q", action, c.path, response.ID)
	}
	if !response.OK {
		failure := response.Error
		if failure == nil {
			failure = &Error{Code: CodeInternal, Message: "server reported failure without detail"}
		}
		failure.Action = action
		return failure
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", action, err)
		}
	}
	return nil
}

func (c *ServiceClient) roundTrip(ctx context.Context, request Request) (Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
	}

	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return Response{}, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseBytes)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("reading response: %w", err)
	}
	return response, nil
}
