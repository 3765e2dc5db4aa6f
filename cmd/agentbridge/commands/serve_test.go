// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/agentbridge/lib/clock"
	"github.com/bureau-foundation/agentbridge/lib/config"
	"github.com/bureau-foundation/agentbridge/lib/control"
	"github.com/bureau-foundation/agentbridge/lib/instance"
	"github.com/bureau-foundation/agentbridge/lib/testutil"
)

const waitTimeout = 5 * time.Second

type lockedBuffer struct {
	mutex  sync.Mutex
	buffer bytes.Buffer
}

func (b *lockedBuffer) Write(data []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buffer.Write(data)
}

func (b *lockedBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buffer.String()
}

func testConfig(t *testing.T, transport string) *config.Config {
	t.Helper()
	stateDir := testutil.SocketDir(t)
	cfg := config.Default()
	cfg.Transport = transport
	cfg.Agent.Kind = config.AgentMock
	cfg.Project.Path = t.TempDir()
	cfg.Paths.State = stateDir
	cfg.Control.SocketPath = filepath.Join(stateDir, "control.sock")
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServeConsole(t *testing.T) {
	cfg := testConfig(t, config.TransportConsole)
	inputReader, inputWriter := io.Pipe()
	output := &lockedBuffer{}

	done := make(chan error, 1)
	go func() {
		done <- serve(context.Background(), cfg, inputReader, output, clock.Real(), discardLogger())
	}()

	if _, err := io.WriteString(inputWriter, "hello\n"); err != nil {
		t.Fatalf("writing input: %v", err)
	}
	testutil.RequireEventually(t, waitTimeout, func() bool {
		return strings.Contains(output.String(), "Echo: hello")
	}, "console never showed the agent's reply")

	client := control.NewClient(cfg.Control.SocketPath)
	var status control.StatusResponse
	testutil.RequireEventually(t, waitTimeout, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		var err error
		status, err = client.Status(ctx)
		return err == nil
	}, "control socket never answered")
	if status.Transport != config.TransportConsole || len(status.Sessions) != 1 {
		t.Fatalf("status = %+v", status)
	}
	if status.Sessions[0].Key.ContextID != "console" {
		t.Errorf("session key = %+v", status.Sessions[0].Key)
	}

	// A second bridge on the same state directory refuses to start.
	err := serve(context.Background(), cfg, strings.NewReader(""), io.Discard, clock.Real(), discardLogger())
	if !errors.Is(err, instance.ErrAlreadyRunning) {
		t.Errorf("second serve = %v, want ErrAlreadyRunning", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	count, err := client.ResetAll(ctx)
	if err != nil || count != 1 {
		t.Errorf("ResetAll = %d, %v", count, err)
	}

	inputWriter.Close()
	if err := testutil.RequireReceive(t, done, waitTimeout, "serve did not return at end of input"); err != nil {
		t.Errorf("serve: %v", err)
	}
	if _, err := os.Stat(cfg.Control.SocketPath); !os.IsNotExist(err) {
		t.Errorf("control socket left behind: %v", err)
	}
}

func TestServeConsolePipedInput(t *testing.T) {
	cfg := testConfig(t, config.TransportConsole)
	output := &lockedBuffer{}

	err := serve(context.Background(), cfg, strings.NewReader("hello\n"), output, clock.Real(), discardLogger())
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if !strings.Contains(output.String(), "Echo: hello") {
		t.Errorf("output = %q, want the piped prompt's result", output.String())
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, config.TransportConsole)
	inputReader, inputWriter := io.Pipe()
	t.Cleanup(func() { inputWriter.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, inputReader, io.Discard, clock.Real(), discardLogger())
	}()

	client := control.NewClient(cfg.Control.SocketPath)
	testutil.RequireEventually(t, waitTimeout, func() bool {
		callCtx, callCancel := context.WithTimeout(context.Background(), time.Second)
		defer callCancel()
		_, err := client.Status(callCtx)
		return err == nil
	}, "control socket never answered")

	cancel()
	if err := testutil.RequireReceive(t, done, waitTimeout, "serve ignored cancellation"); err != nil {
		t.Errorf("serve: %v", err)
	}
}

func TestServeMatrixRejectsForeignToken(t *testing.T) {
	homeserver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/v3/account/whoami" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer syt_token" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"errcode":"M_UNKNOWN_TOKEN","error":"bad token"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"user_id":"@someone-else:local"}`)
	}))
	t.Cleanup(homeserver.Close)

	cfg := testConfig(t, config.TransportMatrix)
	cfg.Matrix.Homeserver = homeserver.URL
	cfg.Matrix.UserID = "@bridge:local"
	cfg.Matrix.TokenFile = filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(cfg.Matrix.TokenFile, []byte("syt_token\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := serve(context.Background(), cfg, strings.NewReader(""), io.Discard, clock.Real(), discardLogger())
	if err == nil || !strings.Contains(err.Error(), "belongs to @someone-else:local") {
		t.Errorf("serve = %v", err)
	}
}

func TestServeMatrixMissingToken(t *testing.T) {
	cfg := testConfig(t, config.TransportMatrix)
	cfg.Matrix.Homeserver = "http://127.0.0.1:1"
	cfg.Matrix.UserID = "@bridge:local"
	cfg.Matrix.TokenFile = filepath.Join(t.TempDir(), "missing")

	err := serve(context.Background(), cfg, strings.NewReader(""), io.Discard, clock.Real(), discardLogger())
	if err == nil || !strings.Contains(err.Error(), "reading matrix token") {
		t.Errorf("serve = %v", err)
	}
}
