// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/agentbridge/lib/testutil"
)

func TestLanesPreserveOrderPerKey(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lanes := NewLanes(ctx)

	var mutex sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := range 20 {
		lanes.Submit("room", func() {
			mutex.Lock()
			order = append(order, i)
			mutex.Unlock()
			if i == 19 {
				close(done)
			}
		})
	}
	testutil.RequireClosed(t, done, 5*time.Second)

	cancel()
	lanes.Wait()
	for index, value := range order {
		if index != value {
			t.Fatalf("lane ran out of order: %v", order)
		}
	}
}

func TestLanesDoNotBlockEachOther(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
	}()
	lanes := NewLanes(ctx)

	release := make(chan struct{})
	lanes.Submit("slow", func() { <-release })

	ran := make(chan struct{})
	lanes.Submit("fast", func() { close(ran) })
	testutil.RequireClosed(t, ran, 5*time.Second, "a blocked lane held up another key")

	close(release)
}

func TestLanesSubmitAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lanes := NewLanes(ctx)
	cancel()
	lanes.Wait()

	// The lane may accept the work into its buffer or see the
	// cancellation; either way the work must never run.
	ran := make(chan struct{}, 1)
	lanes.Submit("late", func() { ran <- struct{}{} })
	testutil.RequireNoReceive(t, ran, 20*time.Millisecond)
}

func TestLanesRetireIdleWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lanes := NewLanes(ctx)
	baseline := runtime.NumGoroutine()

	var done sync.WaitGroup
	for index := range 500 {
		done.Add(1)
		key := fmt.Sprintf("conversation-%d", index)
		if !lanes.Submit(key, done.Done) {
			t.Fatalf("Submit(%q) rejected before cancellation", key)
		}
	}
	done.Wait()

	testutil.RequireEventually(t, 5*time.Second, func() bool {
		return lanes.active() == 0 && runtime.NumGoroutine() <= baseline
	}, "idle lane workers should exit (baseline %d goroutines)", baseline)

	// A retired key gets a fresh worker on its next message.
	ran := make(chan struct{})
	lanes.Submit("conversation-0", func() { close(ran) })
	testutil.RequireClosed(t, ran, 5*time.Second)
	testutil.RequireEventually(t, 5*time.Second, func() bool {
		return lanes.active() == 0
	})
}

func TestLanesKeepWorkerForQueuedWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lanes := NewLanes(ctx)

	release := make(chan struct{})
	var mutex sync.Mutex
	var order []int
	record := func(value int) func() {
		return func() {
			mutex.Lock()
			order = append(order, value)
			mutex.Unlock()
		}
	}
	lanes.Submit("key", func() { <-release })
	lanes.Submit("key", record(1))
	lanes.Submit("key", record(2))
	close(release)

	testutil.RequireEventually(t, 5*time.Second, func() bool {
		return lanes.active() == 0
	})
	mutex.Lock()
	defer mutex.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want [1 2]", order)
	}
}
