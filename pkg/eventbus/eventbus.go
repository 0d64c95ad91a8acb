// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package eventbus implements the in-process typed pub/sub event bus:
// every internal communication (user messages, tool calls, approval
// requests, …) is published here so components stay loosely coupled.
//
// Grounded on the original prototype's core/event_bus.py (typed
// EventType index, per-type subscriber lists, a bounded replay log
// capped at 1000 entries, best-effort fire-and-forget dispatch) adapted
// to Go: a goroutine-backed dispatch loop over a channel replaces
// asyncio.Queue. The handlers for one event run concurrently, but the
// loop does not dispatch the next event until every handler for the
// current one has returned, so a slow handler delays later events for
// all subscribers.
package eventbus

import (
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parallax-labs/conclave/pkg/sessionstate"
)

// Handler receives published events. Handlers must not block
// indefinitely: the dispatch loop waits for every handler of an event
// before taking the next one, so a handler that never returns stops
// delivery of all later events.
type Handler func(sessionstate.Event)

const defaultLogSize = 1000

type subscription struct {
	id      string
	handler Handler
}

// Bus is an in-process, typed publish/subscribe event bus.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[sessionstate.EventType][]subscription
	log           []sessionstate.Event
	maxLogSize    int
	queue         chan sessionstate.Event
	done          chan struct{}
	wg            sync.WaitGroup
	metrics       *Metrics
}

// New creates a Bus and starts its background dispatch loop.
func New() *Bus {
	return newBus(nil)
}

// NewWithMetrics creates a Bus whose traffic is exported as Prometheus
// metrics under reg.
func NewWithMetrics(reg prometheus.Registerer) *Bus {
	return newBus(NewMetrics(reg))
}

func newBus(metrics *Metrics) *Bus {
	b := &Bus{
		subscriptions: make(map[sessionstate.EventType][]subscription),
		maxLogSize:    defaultLogSize,
		queue:         make(chan sessionstate.Event, 4096), // unbounded-in-practice, best-effort
		done:          make(chan struct{}),
		metrics:       metrics,
	}
	b.wg.Add(1)
	go b.run()
	return b
}

func (b *Bus) run() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ev)
		case <-b.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case ev := <-b.queue:
					b.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(ev sessionstate.Event) {
	b.metrics.observePublished(string(ev.Type))

	b.mu.Lock()
	b.log = append(b.log, ev)
	if len(b.log) > b.maxLogSize {
		b.log = b.log[len(b.log)-b.maxLogSize:]
	}
	subs := append([]subscription(nil), b.subscriptions[ev.Type]...)
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(ev)
		}(sub.handler)
	}
	wg.Wait()
}

// Publish enqueues an event for dispatch. Fire-and-forget: Publish
// returns as soon as the event is queued, not once subscribers have
// run. Never blocks the caller on a full queue — correctness never
// depends on a publish landing synchronously.
func (b *Bus) Publish(ev sessionstate.Event) {
	select {
	case b.queue <- ev:
	default:
		// Queue saturated: drop rather than block the publisher. A
		// saturated queue means subscribers are falling behind, which
		// is an operational concern counted in the dropped-events
		// metric, not a
		// correctness one — no component's control flow depends on
		// every event being observed.
		b.metrics.observeDropped()
	}
}

// Subscribe registers handler for a single event type. Returns an
// opaque id usable with Unsubscribe.
func (b *Bus) Subscribe(eventType sessionstate.EventType, handler Handler) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{id: id, handler: handler})
	n := b.countSubscriptionsLocked()
	b.mu.Unlock()
	b.metrics.setActiveSubscribers(n)
	return id
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	for t, subs := range b.subscriptions {
		for i, s := range subs {
			if s.id == id {
				b.subscriptions[t] = append(subs[:i], subs[i+1:]...)
				n := b.countSubscriptionsLocked()
				b.mu.Unlock()
				b.metrics.setActiveSubscribers(n)
				return
			}
		}
	}
	b.mu.Unlock()
}

// countSubscriptionsLocked returns the total subscriber count. Callers
// must hold b.mu.
func (b *Bus) countSubscriptionsLocked() int {
	n := 0
	for _, subs := range b.subscriptions {
		n += len(subs)
	}
	return n
}

// Log returns up to limit of the most recent events, optionally
// filtered by type (zero value for no filter).
func (b *Bus) Log(eventType sessionstate.EventType, limit int) []sessionstate.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var filtered []sessionstate.Event
	if eventType == "" {
		filtered = b.log
	} else {
		for _, ev := range b.log {
			if ev.Type == eventType {
				filtered = append(filtered, ev)
			}
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	out := make([]sessionstate.Event, len(filtered))
	copy(out, filtered)
	return out
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subscriptions {
		n += len(subs)
	}
	return n
}

// Close stops the dispatch loop after draining already-queued events.
func (b *Bus) Close() {
	close(b.done)
	b.wg.Wait()
}
