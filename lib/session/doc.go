// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns the bridge's conversational state: which agent
// process serves which user and context, the per-session task queue,
// and the questions the agent is waiting on.
//
// The [Registry] maps (user, context, project path) to a [Session] and
// creates the session's agent handle on first use. Concurrent creators
// of one key share a single start-up.
//
// The [TaskQueue] runs at most one task per session at a time, in
// arrival order. Enqueue decides "run now" or "append" under the
// session's mutex, so two simultaneous messages can never both start.
// Every task ends in an agent.Outcome; errors and panics in the agent
// handle become failed outcomes and the queue always advances.
//
// Interactions are the agent's mid-task questions (permission
// requests) and the bridge's own selection prompts (mode, model,
// repository). Each interaction is stored, announced to subscribers,
// and armed with a timeout. Whichever of explicit resolution, timeout,
// cancellation or reset reaches it first removes it from the session
// under the session mutex; only that path stops the timer and resumes
// the waiting continuation, so every interaction settles exactly once.
// A timed-out permission request picks the first option labelled
// "deny" or "cancel", or the first option if none is.
//
// Subscribers register with [Registry.OnInteraction],
// [Registry.OnResolution] and [Registry.OnCompletion]. Callbacks run
// synchronously on the goroutine that produced the event, with no
// registry or session locks held.
package session
