// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// TestingT is the part of testing.TB these helpers call.
type TestingT interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from channel. The test fails if
// nothing arrives within timeout or the channel is closed empty.
//
//	reply := testutil.RequireReceive(t, replies, 5*time.Second, "reply for %s", sessionID)
func RequireReceive[T any](t TestingT, channel <-chan T, timeout time.Duration, msgAndArgs ...any) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case value, open := <-channel:
		if !open {
			t.Fatalf("channel closed while waiting: %s", describe(msgAndArgs))
		}
		return value
	case <-timer.C:
		t.Fatalf("nothing received within %v: %s", timeout, describe(msgAndArgs))
	}
	var zero T
	return zero
}

// RequireNoReceive fails the test if channel yields anything during
// window.
func RequireNoReceive[T any](t TestingT, channel <-chan T, window time.Duration, msgAndArgs ...any) {
	t.Helper()
	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case value := <-channel:
		t.Fatalf("received %v, expected nothing: %s", value, describe(msgAndArgs))
	case <-timer.C:
	}
}

// RequireClosed waits up to timeout for channel to close or deliver.
func RequireClosed(t TestingT, channel <-chan struct{}, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-channel:
	case <-timer.C:
		t.Fatalf("channel still open after %v: %s", timeout, describe(msgAndArgs))
	}
}

// RequireEventually re-checks condition until it holds, failing the
// test once timeout has passed.
func RequireEventually(t TestingT, timeout time.Duration, condition func() bool, msgAndArgs ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return
		}
		if !time.Now().Before(deadline) {
			t.Fatalf("condition still false after %v: %s", timeout, describe(msgAndArgs))
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// describe renders the optional trailing message. A leading string is
// treated as a format when more arguments follow.
func describe(msgAndArgs []any) string {
	switch {
	case len(msgAndArgs) == 0:
		return "no description"
	case len(msgAndArgs) == 1:
		return fmt.Sprint(msgAndArgs[0])
	}
	if format, isString := msgAndArgs[0].(string); isString {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}
