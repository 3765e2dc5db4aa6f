// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/agentbridge/lib/clock"
	"github.com/bureau-foundation/agentbridge/messaging"
)

// SyncSession is the part of *messaging.Session a Syncer polls.
type SyncSession interface {
	Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error)
	CloseIdleConnections()
}

// SyncConfig configures a Syncer.
type SyncConfig struct {
	// Filter is an inline JSON filter passed with every request.
	Filter string

	// PollTimeout is how long the homeserver may hold an incremental
	// request open. Default: 30s.
	PollTimeout time.Duration

	// MinBackoff and MaxBackoff bound the doubling delay between
	// failed polls. Defaults: 1s and 30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// SyncHandler receives each incremental /sync response. The next poll
// waits for it to return.
type SyncHandler func(ctx context.Context, response *messaging.SyncResponse)

// Syncer drives the Matrix /sync long-poll and tracks the batch token.
// A Syncer is not safe for concurrent use.
type Syncer struct {
	session     SyncSession
	filter      string
	pollTimeout time.Duration
	minBackoff  time.Duration
	maxBackoff  time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	since string
}

// NewSyncer returns a Syncer with no batch token. Call Prime before Run.
func NewSyncer(session SyncSession, config SyncConfig) *Syncer {
	syncer := &Syncer{
		session:     session,
		filter:      config.Filter,
		pollTimeout: config.PollTimeout,
		minBackoff:  config.MinBackoff,
		maxBackoff:  config.MaxBackoff,
		clock:       config.Clock,
		logger:      config.Logger,
	}
	if syncer.pollTimeout <= 0 {
		syncer.pollTimeout = 30 * time.Second
	}
	if syncer.minBackoff <= 0 {
		syncer.minBackoff = time.Second
	}
	if syncer.maxBackoff < syncer.minBackoff {
		syncer.maxBackoff = 30 * time.Second
		if syncer.maxBackoff < syncer.minBackoff {
			syncer.maxBackoff = syncer.minBackoff
		}
	}
	if syncer.clock == nil {
		syncer.clock = clock.Real()
	}
	if syncer.logger == nil {
		syncer.logger = slog.Default()
	}
	return syncer
}

// Since returns the token the next poll will resume from.
func (s *Syncer) Since() string { return s.since }

// Prime performs the initial, non-blocking sync and records its batch
// token. The returned snapshot is the state at startup; anything in it
// happened before the bridge was listening and is not replayed through
// Run.
func (s *Syncer) Prime(ctx context.Context) (*messaging.SyncResponse, error) {
	response, err := s.session.Sync(ctx, messaging.SyncOptions{Filter: s.filter})
	if err != nil {
		return nil, fmt.Errorf("initial sync: %w", err)
	}
	s.since = response.NextBatch
	return response, nil
}

// Run polls until ctx is done, handing every response to handler.
// Network and server errors are retried with backoff. A revoked access
// token cannot recover by retrying, so M_UNKNOWN_TOKEN ends the loop
// with an error. Run returns nil when ctx ends.
func (s *Syncer) Run(ctx context.Context, handler SyncHandler) error {
	delay := s.minBackoff
	for ctx.Err() == nil {
		response, err := s.session.Sync(ctx, messaging.SyncOptions{
			Since:      s.since,
			Filter:     s.filter,
			Timeout:    int(s.pollTimeout / time.Millisecond),
			SetTimeout: true,
		})
		if err == nil {
			delay = s.minBackoff
			s.since = response.NextBatch
			handler(ctx, response)
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if messaging.HasErrorCode(err, messaging.ErrCodeUnknownToken) {
			return fmt.Errorf("sync: access token rejected: %w", err)
		}

		s.logger.Warn("sync failed", "error", err, "retry_in", delay, "since", s.since)
		s.session.CloseIdleConnections()
		select {
		case <-ctx.Done():
		case <-s.clock.After(delay):
		}
		delay = min(delay*2, s.maxBackoff)
	}
	return nil
}
