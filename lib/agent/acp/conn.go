// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by calls on a connection whose agent process
// has exited or been stopped.
var ErrClosed = errors.New("agent connection closed")

// maxLineSize bounds one inbound JSON-RPC message. Prompt responses
// with long tool output can be large.
const maxLineSize = 16 * 1024 * 1024

// requestHandler answers an agent-initiated request. It runs on its own
// goroutine. A non-nil rpcError is sent instead of the result.
type requestHandler func(method string, params json.RawMessage) (any, *rpcError)

// notificationHandler consumes an agent notification. It runs on the
// read goroutine and must not block.
type notificationHandler func(method string, params json.RawMessage)

// conn is a bidirectional JSON-RPC 2.0 connection over newline-delimited
// JSON. Calls from any goroutine are multiplexed by request id.
type conn struct {
	writeMutex sync.Mutex
	encoder    *json.Encoder

	nextID atomic.Int64

	mutex   sync.Mutex
	pending map[int64]chan message
	err     error

	done chan struct{}

	onRequest      requestHandler
	onNotification notificationHandler
	logger         *slog.Logger
}

func newConn(output io.Writer, onRequest requestHandler, onNotification notificationHandler, logger *slog.Logger) *conn {
	return &conn{
		encoder:        json.NewEncoder(output),
		pending:        make(map[int64]chan message),
		done:           make(chan struct{}),
		onRequest:      onRequest,
		onNotification: onNotification,
		logger:         logger,
	}
}

// run reads messages until input ends, then fails every outstanding
// call. It must be called exactly once.
func (c *conn) run(input io.Reader) {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var inbound message
		if err := json.Unmarshal(line, &inbound); err != nil {
			c.logger.Warn("discarding malformed message from agent", "error", err)
			continue
		}

		switch {
		case inbound.Method != "" && len(inbound.ID) > 0:
			go c.serveRequest(inbound)
		case inbound.Method != "":
			c.onNotification(inbound.Method, inbound.Params)
		default:
			c.deliver(inbound)
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.close(fmt.Errorf("%w: %w", ErrClosed, err))
}

func (c *conn) deliver(response message) {
	id, err := strconv.ParseInt(string(response.ID), 10, 64)
	if err != nil {
		c.logger.Warn("discarding response with unexpected id", "id", string(response.ID))
		return
	}

	c.mutex.Lock()
	waiter, ok := c.pending[id]
	delete(c.pending, id)
	c.mutex.Unlock()

	if !ok {
		c.logger.Debug("discarding response for abandoned call", "id", id)
		return
	}
	waiter <- response
}

func (c *conn) serveRequest(request message) {
	result, rpcErr := c.onRequest(request.Method, request.Params)
	response := outboundResponse{JSONRPC: "2.0", ID: request.ID}
	if rpcErr != nil {
		response.Error = rpcErr
	} else {
		response.Result = result
	}
	if err := c.write(response); err != nil {
		c.logger.Warn("answering agent request", "method", request.Method, "error", err)
	}
}

// call sends a request and decodes the result into result (which may
// be nil). It returns early if ctx ends; a late response is discarded.
func (c *conn) call(ctx context.Context, method string, params, result any) error {
	id := c.nextID.Add(1)
	waiter := make(chan message, 1)

	c.mutex.Lock()
	if c.err != nil {
		err := c.err
		c.mutex.Unlock()
		return err
	}
	c.pending[id] = waiter
	c.mutex.Unlock()

	if err := c.write(outboundRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		c.forget(id)
		return fmt.Errorf("sending %s: %w", method, err)
	}

	select {
	case response := <-waiter:
		if response.Error != nil {
			return fmt.Errorf("%s: %w", method, response.Error)
		}
		if result == nil || len(response.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(response.Result, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
		return nil
	case <-c.done:
		c.forget(id)
		return c.closeError()
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

// notify sends a notification.
func (c *conn) notify(method string, params any) error {
	if err := c.closeError(); err != nil {
		return err
	}
	return c.write(outboundRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *conn) write(value any) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	return c.encoder.Encode(value)
}

func (c *conn) forget(id int64) {
	c.mutex.Lock()
	delete(c.pending, id)
	c.mutex.Unlock()
}

func (c *conn) close(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
}

func (c *conn) closeError() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.err
}
