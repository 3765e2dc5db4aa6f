// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/agentbridge/lib/agent/mockagent"
	"github.com/bureau-foundation/agentbridge/lib/clock"
	"github.com/bureau-foundation/agentbridge/lib/repo"
	"github.com/bureau-foundation/agentbridge/lib/session"
	"github.com/bureau-foundation/agentbridge/lib/testutil"
)

const (
	waitTimeout = 5 * time.Second
	alice       = "@alice:example.org"
	room        = "!room:example.org"
)

type fixture struct {
	dispatcher   *Dispatcher
	registry     *session.Registry
	queue        *session.TaskQueue
	clock        *clock.FakeClock
	factory      *mockagent.Factory
	interactions chan session.InteractionNotice
	resolutions  chan session.Resolution
	completions  chan session.Completion
}

type staticCatalog struct {
	repositories []repo.Repository
	err          error
}

func (catalog staticCatalog) List() ([]repo.Repository, error) {
	return catalog.repositories, catalog.err
}

func newFixture(t *testing.T, catalog RepositoryCatalog) *fixture {
	t.Helper()
	factory := &mockagent.Factory{}
	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	registry, err := session.NewRegistry(session.Config{
		ProjectPath: "/src/api",
		NewHandle:   factory.New,
		Clock:       fakeClock,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	queue := session.NewTaskQueue(registry)
	dispatcher, err := New(Config{Registry: registry, Queue: queue, Repositories: catalog})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	f := &fixture{
		dispatcher:   dispatcher,
		registry:     registry,
		queue:        queue,
		clock:        fakeClock,
		factory:      factory,
		interactions: make(chan session.InteractionNotice, 100),
		resolutions:  make(chan session.Resolution, 100),
		completions:  make(chan session.Completion, 100),
	}
	registry.OnInteraction(func(notice session.InteractionNotice) { f.interactions <- notice })
	registry.OnResolution(func(resolution session.Resolution) { f.resolutions <- resolution })
	registry.OnCompletion(func(completion session.Completion) { f.completions <- completion })
	t.Cleanup(func() { registry.ResetAllSessions() })
	return f
}

func (f *fixture) send(text string) Reply {
	return f.dispatcher.Handle(context.Background(), Message{UserID: alice, ContextID: room, Text: text})
}

func (f *fixture) nextCompletion(t *testing.T) session.Completion {
	t.Helper()
	return testutil.RequireReceive(t, f.completions, waitTimeout, "waiting for task completion")
}

func (f *fixture) nextInteraction(t *testing.T) session.Interaction {
	t.Helper()
	return testutil.RequireReceive(t, f.interactions, waitTimeout, "waiting for interaction").Interaction
}

// waitForPrompts blocks until the first agent has received count
// prompts, so a cancel is guaranteed to reach a running prompt.
func (f *fixture) waitForPrompts(t *testing.T, count int) {
	t.Helper()
	testutil.RequireEventually(t, waitTimeout, func() bool {
		agents := f.factory.Agents()
		return len(agents) > 0 && agents[0].Stats().Prompts >= count
	}, "agent never received prompt %d", count)
}

func TestNewRequiresRegistryAndQueue(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New without registry should fail")
	}
}

func TestFreeTextBecomesPrompt(t *testing.T) {
	f := newFixture(t, nil)

	if reply := f.send("hello there"); reply.Text != "" {
		t.Errorf("immediate task reply = %q, want empty", reply.Text)
	}
	if completion := f.nextCompletion(t); completion.Outcome.Message != "Echo: hello there" {
		t.Fatalf("completion = %+v", completion.Outcome)
	}
	if reply := f.send("   "); reply.Text != "" {
		t.Errorf("blank message reply = %q", reply.Text)
	}
}

func TestQueuedReplyShowsPosition(t *testing.T) {
	f := newFixture(t, nil)
	f.send(mockagent.WaitForCancel)

	if reply := f.send("next"); reply.Text != "Queued at position 1" {
		t.Errorf("reply = %q", reply.Text)
	}
	f.waitForPrompts(t, 1)
	f.send("/stop")
	f.nextCompletion(t)
	if completion := f.nextCompletion(t); completion.Outcome.Message != "Echo: next" {
		t.Fatalf("completion = %+v", completion.Outcome)
	}
}

func TestUnknownSlashCommandPassesThrough(t *testing.T) {
	f := newFixture(t, nil)

	f.send("/compact now")
	completion := f.nextCompletion(t)
	if completion.Task.Kind != session.TaskCommand || completion.Outcome.Message != "Command: /compact now" {
		t.Fatalf("completion = %+v", completion)
	}
}

func TestImplicitCancellation(t *testing.T) {
	f := newFixture(t, nil)

	f.send(mockagent.TriggerPermission)
	interaction := f.nextInteraction(t)
	f.clock.WaitForTimers(1)

	f.send("do something else")

	resolution := testutil.RequireReceive(t, f.resolutions, waitTimeout, "waiting for resolution")
	if resolution.RequestID != interaction.RequestID || resolution.Reason != session.ResolvedCancel {
		t.Fatalf("resolution = %+v", resolution)
	}
	first := f.nextCompletion(t)
	if first.Outcome.Success || first.Task.Content != mockagent.TriggerPermission {
		t.Fatalf("first completion = %+v, want the cancelled permission task", first)
	}
	second := f.nextCompletion(t)
	if second.Outcome.Message != "Echo: do something else" {
		t.Fatalf("second completion = %+v", second.Outcome)
	}

	current, _ := f.registry.GetSession(alice, room)
	if current.HasPendingInteractions() {
		t.Error("interactions remain after implicit cancellation")
	}
	if f.clock.PendingCount() != 0 {
		t.Error("timeout still armed after implicit cancellation")
	}
}

func TestNumericShortcutResolvesOldest(t *testing.T) {
	f := newFixture(t, nil)

	f.send(mockagent.TriggerPermission)
	f.nextInteraction(t)

	reply := f.send("1")
	if reply.Text != "Selected Deny." {
		t.Errorf("reply = %q", reply.Text)
	}
	if completion := f.nextCompletion(t); completion.Outcome.Message != "Permission result: deny" {
		t.Fatalf("completion = %+v", completion.Outcome)
	}
}

func TestNumericShortcutOutOfRange(t *testing.T) {
	f := newFixture(t, nil)

	f.send(mockagent.TriggerPermission)
	f.nextInteraction(t)

	reply := f.send("5")
	if !strings.Contains(reply.Text, "allow, deny") || !strings.Contains(reply.Text, "0-1") {
		t.Errorf("reply = %q, want the valid options listed", reply.Text)
	}
	current, _ := f.registry.GetSession(alice, room)
	if !current.HasPendingInteractions() {
		t.Fatal("invalid numeric answer removed the interaction")
	}
	f.send("0")
	if completion := f.nextCompletion(t); completion.Outcome.Message != "Permission result: allow" {
		t.Fatalf("completion = %+v", completion.Outcome)
	}
}

func TestNumericTextWithoutPendingIsPrompt(t *testing.T) {
	f := newFixture(t, nil)

	f.send("42")
	if completion := f.nextCompletion(t); completion.Outcome.Message != "Echo: 42" {
		t.Fatalf("completion = %+v", completion.Outcome)
	}
}

func TestModeRefusedWhilePending(t *testing.T) {
	f := newFixture(t, nil)

	f.send(mockagent.TriggerPermission)
	f.nextInteraction(t)

	for _, command := range []string{"/mode", "/model smart", "/MODE plan"} {
		if reply := f.send(command); reply.Text != BusyMessage {
			t.Errorf("%s reply = %q, want busy", command, reply.Text)
		}
	}
	current, _ := f.registry.GetSession(alice, room)
	if current.ModeState().CurrentID != "default" {
		t.Error("mode changed while an interaction was pending")
	}
	f.send("/select allow")
	f.nextCompletion(t)
}

func TestModeSelectionFlow(t *testing.T) {
	f := newFixture(t, nil)

	if reply := f.send("/mode"); reply.Text != "" {
		t.Fatalf("reply = %q, want empty (card delivered by subscription)", reply.Text)
	}
	interaction := f.nextInteraction(t)
	if interaction.Type != session.InteractionModeSelection || len(interaction.Options) != 3 {
		t.Fatalf("interaction = %+v", interaction)
	}

	reply := f.send("1")
	if !strings.Contains(reply.Text, "Selected Plan.") || !strings.Contains(reply.Text, "Mode set to Plan") {
		t.Errorf("reply = %q", reply.Text)
	}
	current, _ := f.registry.GetSession(alice, room)
	if current.ModeState().CurrentID != "plan" {
		t.Errorf("mode = %q, want plan", current.ModeState().CurrentID)
	}
}

func TestModeAndModelByName(t *testing.T) {
	f := newFixture(t, nil)

	if reply := f.send("/mode Plan"); reply.Text != "Mode set to Plan" {
		t.Errorf("/mode Plan reply = %q", reply.Text)
	}
	if reply := f.send("/model smart"); reply.Text != "Model set to Smart" {
		t.Errorf("/model smart reply = %q", reply.Text)
	}
	if reply := f.send("/model huge"); !strings.Contains(reply.Text, "fast, smart") {
		t.Errorf("/model huge reply = %q", reply.Text)
	}
}

func TestSelectWithRequestID(t *testing.T) {
	f := newFixture(t, nil)

	f.send(mockagent.TriggerPermission)
	interaction := f.nextInteraction(t)

	if reply := f.send("/select " + interaction.RequestID + " deny"); reply.Text != "Selected Deny." {
		t.Errorf("reply = %q", reply.Text)
	}
	reply := f.send("/select " + interaction.RequestID + " allow")
	if !strings.Contains(reply.Text, "not found or expired") {
		t.Errorf("second select reply = %q", reply.Text)
	}
	if reply := f.send("/select"); !strings.HasPrefix(reply.Text, "Usage:") {
		t.Errorf("bare /select reply = %q", reply.Text)
	}
	f.nextCompletion(t)
}

func TestResetIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.send("hello")
	f.nextCompletion(t)

	if reply := f.send("/reset"); !strings.HasPrefix(reply.Text, "Session reset.") {
		t.Errorf("first reset reply = %q", reply.Text)
	}
	if reply := f.send("/reset"); reply.Text != "No active session to reset." {
		t.Errorf("second reset reply = %q", reply.Text)
	}
	if stops := f.factory.Agents()[0].Stats().Stops; stops != 1 {
		t.Errorf("agent stopped %d times, want 1", stops)
	}
}

func TestStopAll(t *testing.T) {
	f := newFixture(t, nil)

	if reply := f.send("/stop all"); reply.Text != "No active session." {
		t.Errorf("reply without session = %q", reply.Text)
	}

	f.send(mockagent.WaitForCancel)
	f.send("second")
	f.send("third")
	f.waitForPrompts(t, 1)

	if reply := f.send("/stop all"); reply.Text != "Stopping the current task and cleared 2 queued tasks." {
		t.Errorf("reply = %q", reply.Text)
	}
	if completion := f.nextCompletion(t); completion.Outcome.Success {
		t.Fatalf("completion = %+v", completion.Outcome)
	}
	testutil.RequireNoReceive(t, f.completions, 20*time.Millisecond, "cleared task ran")
}

func TestStopQueuedTask(t *testing.T) {
	f := newFixture(t, nil)
	f.send(mockagent.WaitForCancel)
	f.send("second")
	f.waitForPrompts(t, 1)

	current, _ := f.registry.GetSession(alice, room)
	status := f.queue.Status(current)
	queuedID := status.Pending[0].ID

	if reply := f.send("/stop " + queuedID); reply.Text != "Removed queued task "+queuedID+"." {
		t.Errorf("reply = %q", reply.Text)
	}
	if reply := f.send("/stop nope"); reply.Text != "No task nope." {
		t.Errorf("reply = %q", reply.Text)
	}
	if reply := f.send("/stop " + status.Current.ID); reply.Text != "Stopping the current task." {
		t.Errorf("reply = %q", reply.Text)
	}
	f.nextCompletion(t)
	testutil.RequireNoReceive(t, f.completions, 20*time.Millisecond, "removed task ran")
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)

	if reply := f.send("/status"); !strings.HasPrefix(reply.Text, "No active session.") {
		t.Errorf("reply = %q", reply.Text)
	}

	f.send(mockagent.TriggerPermission)
	interaction := f.nextInteraction(t)
	reply := f.send("/status")
	for _, want := range []string{"Project: /src/api", "Mode: default", "Running: trigger_permission", interaction.RequestID} {
		if !strings.Contains(reply.Text, want) {
			t.Errorf("status %q missing %q", reply.Text, want)
		}
	}
	f.send("/select 0")
	f.nextCompletion(t)
}

func TestHelp(t *testing.T) {
	f := newFixture(t, nil)
	if reply := f.send("/help"); reply.Text != HelpText {
		t.Errorf("reply = %q", reply.Text)
	}
}

func TestReposSelectionSwitchesProject(t *testing.T) {
	catalog := staticCatalog{repositories: []repo.Repository{
		{Name: "api", Path: "/src/api", Branch: "main"},
		{Name: "web", Path: "/src/web", Branch: "develop"},
	}}
	f := newFixture(t, catalog)
	f.send("hello")
	f.nextCompletion(t)

	if reply := f.send("/repos"); reply.Text != "" {
		t.Fatalf("reply = %q", reply.Text)
	}
	interaction := f.nextInteraction(t)
	if interaction.Type != session.InteractionRepoSelection {
		t.Fatalf("interaction = %+v", interaction)
	}
	if label := interaction.Options[0].Label; label != "api (main) (current)" {
		t.Errorf("first option label = %q", label)
	}

	reply := f.send("1")
	if !strings.Contains(reply.Text, "Switched to web") {
		t.Errorf("reply = %q", reply.Text)
	}
	if f.registry.ProjectPath() != "/src/web" {
		t.Errorf("project path = %q", f.registry.ProjectPath())
	}
	if len(f.registry.Sessions()) != 0 {
		t.Error("sessions survived a project switch")
	}
}

func TestReposByName(t *testing.T) {
	catalog := staticCatalog{repositories: []repo.Repository{{Name: "web", Path: "/src/web"}}}
	f := newFixture(t, catalog)

	if reply := f.send("/repos web"); !strings.Contains(reply.Text, "Switched to web") {
		t.Errorf("reply = %q", reply.Text)
	}
	if reply := f.send("/repos mobile"); reply.Text != `Unknown repository "mobile".` {
		t.Errorf("reply = %q", reply.Text)
	}
}

func TestReposUnavailable(t *testing.T) {
	if reply := newFixture(t, nil).send("/repos"); reply.Text != "No repositories are configured." {
		t.Errorf("reply = %q", reply.Text)
	}
	failing := staticCatalog{err: errors.New("permission denied")}
	if reply := newFixture(t, failing).send("/repos"); !strings.Contains(reply.Text, "permission denied") {
		t.Errorf("reply = %q", reply.Text)
	}
}

func TestAgentUnavailableReply(t *testing.T) {
	f := newFixture(t, nil)
	f.factory.StartError = errors.New("exec: agent not found")

	reply := f.send("hello")
	if !strings.HasPrefix(reply.Text, "Could not start the agent:") || !strings.Contains(reply.Text, "agent not found") {
		t.Errorf("reply = %q", reply.Text)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		name  string
		args  []string
	}{
		{"hello", "", nil},
		{"/", "", nil},
		{"/STATUS", "status", nil},
		{`/select abc "allow once"`, "select", []string{"abc", "allow once"}},
		{`/select "unbalanced`, "select", []string{`"unbalanced`}},
	}
	for _, test := range tests {
		name, args := parseCommand(test.input)
		if name != test.name || strings.Join(args, "|") != strings.Join(test.args, "|") {
			t.Errorf("parseCommand(%q) = %q %q, want %q %q", test.input, name, args, test.name, test.args)
		}
	}
}
