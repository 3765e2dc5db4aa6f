// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/agentbridge/lib/agent"
	"github.com/bureau-foundation/agentbridge/lib/agent/mockagent"
	"github.com/bureau-foundation/agentbridge/lib/clock"
	"github.com/bureau-foundation/agentbridge/lib/testutil"
)

const waitTimeout = 5 * time.Second

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// harness is a registry with a fake clock and every subscription
// captured on a channel.
type harness struct {
	registry     *Registry
	queue        *TaskQueue
	clock        *clock.FakeClock
	factory      *mockagent.Factory
	interactions chan InteractionNotice
	resolutions  chan Resolution
	completions  chan Completion
}

func newHarness(t *testing.T, factory *mockagent.Factory) *harness {
	t.Helper()
	return newHarnessWithFactory(t, factory, factory.New)
}

func newHarnessWithFactory(t *testing.T, factory *mockagent.Factory, newHandle agent.Factory) *harness {
	t.Helper()
	fakeClock := clock.Fake(epoch)
	registry, err := NewRegistry(Config{
		ProjectPath: "/work/project",
		NewHandle:   newHandle,
		Clock:       fakeClock,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	h := &harness{
		registry:     registry,
		queue:        NewTaskQueue(registry),
		clock:        fakeClock,
		factory:      factory,
		interactions: make(chan InteractionNotice, 100),
		resolutions:  make(chan Resolution, 100),
		completions:  make(chan Completion, 100),
	}
	registry.OnInteraction(func(notice InteractionNotice) { h.interactions <- notice })
	registry.OnResolution(func(resolution Resolution) { h.resolutions <- resolution })
	registry.OnCompletion(func(completion Completion) { h.completions <- completion })
	t.Cleanup(func() { registry.ResetAllSessions() })
	return h
}

func (h *harness) session(t *testing.T, userID, contextID string) *Session {
	t.Helper()
	session, err := h.registry.GetOrCreateSession(context.Background(), userID, contextID)
	if err != nil {
		t.Fatalf("GetOrCreateSession(%q, %q): %v", userID, contextID, err)
	}
	return session
}

func (h *harness) nextInteraction(t *testing.T) InteractionNotice {
	t.Helper()
	return testutil.RequireReceive(t, h.interactions, waitTimeout, "waiting for interaction")
}

func (h *harness) nextResolution(t *testing.T) Resolution {
	t.Helper()
	return testutil.RequireReceive(t, h.resolutions, waitTimeout, "waiting for resolution")
}

func (h *harness) nextCompletion(t *testing.T) Completion {
	t.Helper()
	return testutil.RequireReceive(t, h.completions, waitTimeout, "waiting for task completion")
}

// gate blocks prompts in BeforePrompt until released or cancelled.
type gate struct {
	release chan struct{}
}

func newGate() *gate {
	return &gate{release: make(chan struct{})}
}

func (g *gate) wait(ctx context.Context, text string) {
	select {
	case <-g.release:
	case <-ctx.Done():
	}
}

func (g *gate) open() { close(g.release) }
