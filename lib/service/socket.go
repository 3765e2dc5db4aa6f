// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bureau-foundation/agentbridge/lib/codec"
)

// ActionFunc handles one action. params is the request's Params field,
// empty when the client sent none. A nil result produces a response
// without data.
type ActionFunc func(ctx context.Context, params codec.RawMessage) (any, error)

const (
	// requestDeadline bounds reading the request from a connection.
	requestDeadline = 30 * time.Second

	// responseDeadline bounds writing the response.
	responseDeadline = 10 * time.Second

	// maxRequestBytes limits one request. Control requests are a few
	// hundred bytes.
	maxRequestBytes = 64 * 1024
)

// SocketServer answers one CBOR request per connection on a Unix
// socket. Register actions with Handle before Serve.
type SocketServer struct {
	path    string
	actions map[string]ActionFunc
	logger  *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	connections sync.WaitGroup
}

// NewSocketServer returns a server for the socket at path.
func NewSocketServer(path string, logger *slog.Logger) *SocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketServer{
		path:    path,
		actions: make(map[string]ActionFunc),
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// Handle registers fn for action. Registering an action twice panics.
func (s *SocketServer) Handle(action string, fn ActionFunc) {
	if _, exists := s.actions[action]; exists {
		panic(fmt.Sprintf("service: action %q registered twice", action))
	}
	s.actions[action] = fn
}

// Ready is closed once Serve accepts connections.
func (s *SocketServer) Ready() <-chan struct{} {
	return s.ready
}

// Serve listens until ctx is cancelled and then waits for in-flight
// requests. A stale socket file is replaced; the socket file is
// removed when Serve returns. Only processes of the same user may
// connect: the file is mode 0600 and peers are checked on platforms
// that report credentials.
func (s *SocketServer) Serve(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	defer os.Remove(s.path)

	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	s.logger.Info("control socket listening", "path", s.path)
	s.readyOnce.Do(func() { close(s.ready) })

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Warn("accepting control connection", "error", err)
			continue
		}
		s.connections.Add(1)
		go func() {
			defer s.connections.Done()
			defer conn.Close()
			s.serveConnection(ctx, conn)
		}()
	}

	listener.Close()
	s.connections.Wait()
	return nil
}

func (s *SocketServer) listen() (net.Listener, error) {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket %s: %w", s.path, err)
	}
	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		listener.Close()
		os.Remove(s.path)
		return nil, fmt.Errorf("restricting socket %s: %w", s.path, err)
	}
	return listener, nil
}

func (s *SocketServer) serveConnection(ctx context.Context, conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(requestDeadline))

	var request Request
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestBytes)).Decode(&request); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.respond(conn, Response{Error: Errorf(CodeInvalidRequest, "decoding request: %v", err)})
		return
	}

	response := Response{ID: request.ID}
	if err := checkPeer(conn); err != nil {
		s.logger.Warn("rejected control connection", "action", request.Action, "error", err)
		response.Error = Errorf(CodeForbidden, "%v", err)
		s.respond(conn, response)
		return
	}

	result, err := s.dispatch(ctx, request)
	if err != nil {
		response.Error = asError(err)
		s.logger.Debug("control action failed",
			"action", request.Action,
			"request_id", request.ID,
			"code", response.Error.Code,
			"error", response.Error.Message,
		)
		s.respond(conn, response)
		return
	}

	response.OK = true
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			response.OK = false
			response.Error = Errorf(CodeInternal, "encoding result: %v", err)
		} else {
			response.Data = data
		}
	}
	s.respond(conn, response)
}

// dispatch runs the action's handler. A panicking handler fails the
// request instead of the process.
func (s *SocketServer) dispatch(ctx context.Context, request Request) (result any, err error) {
	if request.Action == "" {
		return nil, Errorf(CodeInvalidRequest, "request has no action")
	}
	fn, ok := s.actions[request.Action]
	if !ok {
		return nil, Errorf(CodeUnknownAction, "unknown action %q", request.Action)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("control action panicked",
				"action", request.Action,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			result, err = nil, Errorf(CodeInternal, "action %q failed unexpectedly", request.Action)
		}
	}()
	return fn(ctx, request.Params)
}

func asError(err error) *Error {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return &Error{Code: CodeFailed, Message: err.Error()}
}

func (s *SocketServer) respond(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(responseDeadline))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("writing control response", "request_id", response.ID, "error", err)
	}
}
