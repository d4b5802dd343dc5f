// Package bus is the process-wide publish/subscribe channel coordinating the
// voting engine. Delivery is synchronous and at-least-once to handlers
// registered at emit time; there is no buffering or replay.
package bus

import (
	"log"
	"sync"
)

type Event string

const (
	EventProposalObserved  Event = "proposal-observed"
	EventDecisionMade      Event = "decision-made"
	EventScheduleCreated   Event = "schedule-created"
	EventScheduleCancelled Event = "schedule-cancelled"
	EventVoteExecuted      Event = "vote-executed"
	EventVoteFailed        Event = "vote-failed"
	EventApprovalRequired  Event = "approval-required"
	EventConflictDetected  Event = "conflict-detected"
	EventConfigUpdated     Event = "config-updated"
)

type Handler func(payload any)

type Bus struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
}

func New() *Bus {
	return &Bus{handlers: make(map[Event][]Handler)}
}

// On registers a handler for an event name. Handlers are invoked in
// registration order on the emitter's goroutine.
func (b *Bus) On(event Event, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers[event] = append(b.handlers[event], h)
	b.mu.Unlock()
}

// Emit delivers the payload to every handler currently registered for the
// event. A panicking handler is recovered and logged so one subscriber
// cannot take down the engine.
func (b *Bus) Emit(event Event, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event]))
	copy(handlers, b.handlers[event])
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("bus handler panic event=%s: %v", event, r)
				}
			}()
			h(payload)
		}()
	}
}

// HandlerCount reports how many handlers are registered for an event.
func (b *Bus) HandlerCount(event Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event])
}
