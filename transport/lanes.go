// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"
)

// laneDepth bounds how many messages may wait in one lane before
// Submit blocks.
const laneDepth = 64

// Lanes runs submitted work serially per key and concurrently across
// keys. A conversation whose agent is slow to start does not hold up
// other conversations, and messages within a conversation keep their
// arrival order. A lane's worker exits once its queue is empty, so
// idle conversations cost nothing.
type Lanes struct {
	ctx   context.Context
	mutex sync.Mutex
	lanes map[string]*lane
	group sync.WaitGroup
}

// lane is one key's queue. outstanding counts work submitted and not
// yet finished; it is guarded by Lanes.mutex.
type lane struct {
	queue       chan func()
	outstanding int
}

// NewLanes creates Lanes whose workers exit when ctx ends. Work still
// queued at that point is dropped.
func NewLanes(ctx context.Context) *Lanes {
	return &Lanes{
		ctx:   ctx,
		lanes: make(map[string]*lane),
	}
}

// Submit queues work on key's lane, starting a worker if the lane is
// idle. It reports false if ctx ended before the work was queued.
func (l *Lanes) Submit(key string, work func()) bool {
	l.mutex.Lock()
	current, ok := l.lanes[key]
	if !ok {
		current = &lane{queue: make(chan func(), laneDepth)}
		l.lanes[key] = current
		l.group.Add(1)
		go l.run(key, current)
	}
	current.outstanding++
	l.mutex.Unlock()

	select {
	case current.queue <- work:
		return true
	case <-l.ctx.Done():
		l.mutex.Lock()
		current.outstanding--
		l.mutex.Unlock()
		return false
	}
}

func (l *Lanes) run(key string, current *lane) {
	defer l.group.Done()
	for {
		select {
		case work := <-current.queue:
			if l.ctx.Err() != nil {
				return
			}
			work()
		case <-l.ctx.Done():
			return
		}
		if l.retire(key, current) {
			return
		}
	}
}

// retire finishes one unit of work and removes the lane when nothing
// else was submitted to it. A Submit that raced ahead holds
// outstanding above zero and keeps the worker alive.
func (l *Lanes) retire(key string, current *lane) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	current.outstanding--
	if current.outstanding > 0 {
		return false
	}
	delete(l.lanes, key)
	return true
}

// active returns how many lanes have a running worker.
func (l *Lanes) active() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.lanes)
}

// Wait blocks until every lane worker has exited.
func (l *Lanes) Wait() {
	l.group.Wait()
}
