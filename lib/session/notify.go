// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"

	"github.com/bureau-foundation/agentbridge/lib/agent"
)

// InteractionNotice announces a newly pending interaction.
type InteractionNotice struct {
	SessionID   string
	UserID      string
	ContextID   string
	Interaction Interaction
}

// Completion announces a finished task.
type Completion struct {
	SessionID string
	UserID    string
	ContextID string
	Task      Task
	Outcome   agent.Outcome
}

// subscribers is a set of callbacks for one event type. Callbacks are
// invoked outside the lock, in subscription order.
type subscribers[T any] struct {
	mutex     sync.Mutex
	nextID    int
	callbacks map[int]func(T)
	order     []int
}

func (set *subscribers[T]) add(callback func(T)) (cancel func()) {
	set.mutex.Lock()
	defer set.mutex.Unlock()
	if set.callbacks == nil {
		set.callbacks = make(map[int]func(T))
	}
	id := set.nextID
	set.nextID++
	set.callbacks[id] = callback
	set.order = append(set.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			set.mutex.Lock()
			defer set.mutex.Unlock()
			delete(set.callbacks, id)
			for index, existing := range set.order {
				if existing == id {
					set.order = append(set.order[:index:index], set.order[index+1:]...)
					break
				}
			}
		})
	}
}

func (set *subscribers[T]) publish(event T) {
	set.mutex.Lock()
	callbacks := make([]func(T), 0, len(set.order))
	for _, id := range set.order {
		callbacks = append(callbacks, set.callbacks[id])
	}
	set.mutex.Unlock()

	for _, callback := range callbacks {
		callback(event)
	}
}

// OnInteraction registers a callback for new interactions. The
// returned function unsubscribes.
func (registry *Registry) OnInteraction(callback func(InteractionNotice)) (cancel func()) {
	return registry.interactionSubscribers.add(callback)
}

// OnResolution registers a callback for settled interactions.
func (registry *Registry) OnResolution(callback func(Resolution)) (cancel func()) {
	return registry.resolutionSubscribers.add(callback)
}

// OnCompletion registers a callback for finished tasks.
func (registry *Registry) OnCompletion(callback func(Completion)) (cancel func()) {
	return registry.completionSubscribers.add(callback)
}

func (registry *Registry) notifyInteraction(notice InteractionNotice) {
	registry.interactionSubscribers.publish(notice)
}

func (registry *Registry) notifyResolution(resolution Resolution) {
	registry.resolutionSubscribers.publish(resolution)
}

func (registry *Registry) notifyCompletion(completion Completion) {
	registry.completionSubscribers.publish(completion)
}
