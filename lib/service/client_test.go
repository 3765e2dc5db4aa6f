// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/agentbridge/lib/codec"
	"github.com/bureau-foundation/agentbridge/lib/testutil"
)

func TestClientSendsParams(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("resolve", func(ctx context.Context, params codec.RawMessage) (any, error) {
		var request struct {
			RequestID string `cbor:"request_id"`
		}
		if err := DecodeParams(params, &request); err != nil {
			return nil, err
		}
		if request.RequestID == "" {
			return nil, Errorf(CodeInvalidRequest, "request_id is required")
		}
		return map[string]string{"request_id": request.RequestID}, nil
	})
	serve(t, server)
	client := NewServiceClient(socketPath)

	var result map[string]string
	if err := client.Call(context.Background(), "resolve", map[string]string{"request_id": "r-1"}, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result["request_id"] != "r-1" {
		t.Errorf("result = %v", result)
	}

	err := client.Call(context.Background(), "resolve", nil, nil)
	var serviceErr *Error
	if !errors.As(err, &serviceErr) || serviceErr.Code != CodeInvalidRequest {
		t.Errorf("Call without params = %v", err)
	}
}

func TestClientIgnoresDataWithoutResult(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("ping", func(context.Context, codec.RawMessage) (any, error) {
		return map[string]bool{"pong": true}, nil
	})
	serve(t, server)

	if err := NewServiceClient(socketPath).Call(context.Background(), "ping", nil, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestClientHonoursContextDeadline(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	release := make(chan struct{})
	server.Handle("hang", func(context.Context, codec.RawMessage) (any, error) {
		<-release
		return nil, nil
	})
	serve(t, server)
	// Cleanups run last-registered first: unblock the handler before
	// serve's cleanup waits for it.
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- NewServiceClient(socketPath).Call(ctx, "hang", nil, nil) }()

	err := testutil.RequireReceive(t, result, waitTimeout, "Call ignored its deadline")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call = %v, want deadline exceeded", err)
	}
}

func TestClientConnectionRefused(t *testing.T) {
	err := NewServiceClient(filepath.Join(t.TempDir(), "missing.sock")).Call(context.Background(), "status", nil, nil)
	if err == nil {
		t.Fatal("Call to a missing socket succeeded")
	}
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		t.Error("connection failure reported as a server error")
	}
}
