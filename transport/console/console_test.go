// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/agentbridge/lib/agent/mockagent"
	"github.com/bureau-foundation/agentbridge/lib/dispatch"
	"github.com/bureau-foundation/agentbridge/lib/session"
	"github.com/bureau-foundation/agentbridge/lib/testutil"
	"github.com/bureau-foundation/agentbridge/transport"
)

const waitTimeout = 5 * time.Second

// lockedBuffer is written by the input loop and by registry callbacks.
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

func newDispatcher(t *testing.T) (*session.Registry, *dispatch.Dispatcher) {
	t.Helper()
	return newDispatcherWithFactory(t, &mockagent.Factory{})
}

func newDispatcherWithFactory(t *testing.T, factory *mockagent.Factory) (*session.Registry, *dispatch.Dispatcher) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry, err := session.NewRegistry(session.Config{
		ProjectPath: "/work/project",
		NewHandle:   factory.New,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { registry.ResetAllSessions() })
	dispatcher, err := dispatch.New(dispatch.Config{
		Registry: registry,
		Queue:    session.NewTaskQueue(registry),
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	return registry, dispatcher
}

func TestConversation(t *testing.T) {
	registry, dispatcher := newDispatcher(t)
	inputReader, inputWriter := io.Pipe()
	output := &lockedBuffer{}

	console, err := New(Config{
		Input:   inputReader,
		Output:  output,
		Handler: dispatcher,
		Events:  registry,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- console.Run(context.Background()) }()

	say := func(line string) {
		t.Helper()
		if _, err := io.WriteString(inputWriter, line+"\n"); err != nil {
			t.Fatalf("writing %q: %v", line, err)
		}
	}
	expect := func(substring string) {
		t.Helper()
		testutil.RequireEventually(t, waitTimeout, func() bool {
			return strings.Contains(output.String(), substring)
		}, "output never contained %q", substring)
	}

	say("hello")
	expect("Echo: hello")

	say(mockagent.TriggerPermission)
	expect("Allow mock tool call?")
	expect("1. Deny")

	say("1")
	expect("Selected Deny.")
	expect("Permission result: deny")

	inputWriter.Close()
	if err := testutil.RequireReceive(t, done, waitTimeout, "Run did not return at end of input"); err != nil {
		t.Errorf("Run: %v", err)
	}

	if current, ok := registry.GetSession(DefaultUserID, ContextID); !ok || current.HasPendingInteractions() {
		t.Errorf("session after conversation: ok=%v", ok)
	}
}

func TestPipedInputFinishesRunningTask(t *testing.T) {
	release := make(chan struct{})
	registry, dispatcher := newDispatcherWithFactory(t, &mockagent.Factory{
		BeforePrompt: func(ctx context.Context, text string) {
			select {
			case <-release:
			case <-ctx.Done():
			}
		},
	})
	output := &lockedBuffer{}
	console, err := New(Config{
		Input:    strings.NewReader("hello\n"),
		Output:   output,
		Handler:  dispatcher,
		Events:   registry,
		Sessions: registry,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- console.Run(context.Background()) }()
	testutil.RequireNoReceive(t, done, 50*time.Millisecond, "Run returned while the prompt was still running")

	close(release)
	if err := testutil.RequireReceive(t, done, waitTimeout, "Run never returned after the prompt finished"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(output.String(), "Echo: hello") {
		t.Errorf("output = %q, want the prompt's result", output.String())
	}
}

func TestPipedInputWaitEndsWithContext(t *testing.T) {
	registry, dispatcher := newDispatcherWithFactory(t, &mockagent.Factory{
		BeforePrompt: func(ctx context.Context, text string) { <-ctx.Done() },
	})
	console, err := New(Config{
		Input:    strings.NewReader("hello\n"),
		Output:   io.Discard,
		Handler:  dispatcher,
		Events:   registry,
		Sessions: registry,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- console.Run(ctx) }()
	testutil.RequireNoReceive(t, done, 20*time.Millisecond)

	cancel()
	if err := testutil.RequireReceive(t, done, waitTimeout, "Run ignored cancellation while draining"); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	registry, dispatcher := newDispatcher(t)
	inputReader, inputWriter := io.Pipe()
	t.Cleanup(func() { inputWriter.Close() })

	console, err := New(Config{Input: inputReader, Output: io.Discard, Handler: dispatcher, Events: registry})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- console.Run(ctx) }()

	cancel()
	if err := testutil.RequireReceive(t, done, waitTimeout, "Run ignored cancellation"); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestOtherConversationsAreNotPrinted(t *testing.T) {
	registry, dispatcher := newDispatcher(t)
	output := &lockedBuffer{}
	console, err := New(Config{Input: strings.NewReader(""), Output: output, Handler: dispatcher, Events: registry})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	console.print(transport.Outbound{UserID: "@alice:local", ContextID: "!room:local", Kind: transport.KindCompletion, Text: "not for you"})
	if output.String() != "" {
		t.Errorf("printed %q for another conversation", output.String())
	}

	console.print(transport.Outbound{UserID: DefaultUserID, ContextID: ContextID, Kind: transport.KindReply, Text: "for you"})
	if !strings.Contains(output.String(), "for you") {
		t.Errorf("output = %q", output.String())
	}
}

func TestNewValidates(t *testing.T) {
	registry, dispatcher := newDispatcher(t)
	if _, err := New(Config{Output: io.Discard, Handler: dispatcher, Events: registry}); err == nil {
		t.Error("missing input accepted")
	}
	if _, err := New(Config{Input: strings.NewReader(""), Output: io.Discard, Events: registry}); err == nil {
		t.Error("missing handler accepted")
	}
}
