// Package events carries observatory activity from the control loop to its
// observers: the audit log, the history store, metrics and alerts.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

type EventType string

const (
	// EventStateTransition is published after every orchestrator state change.
	EventStateTransition EventType = "state_transition"
	// EventObservationSelected is published when scheduling picks a new current observation.
	EventObservationSelected EventType = "observation_selected"
	// EventExposureTaken is published for each science exposure written to disk.
	EventExposureTaken EventType = "exposure_taken"
	// EventPointingMeasured is published for every pointing calibration image.
	EventPointingMeasured EventType = "pointing_measured"
	// EventSafetyPark is published when an unsafe check forces parking.
	EventSafetyPark EventType = "safety_park"
	// EventFatal is published when the orchestrator stops on an unrecoverable error.
	EventFatal EventType = "fatal"
)

// AllEventTypes lists every type the orchestrator publishes.
var AllEventTypes = []EventType{
	EventStateTransition,
	EventObservationSelected,
	EventExposureTaken,
	EventPointingMeasured,
	EventSafetyPark,
	EventFatal,
}

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

// String returns Data[key] as a string, or "" if absent.
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe bus. Each subscriber has its own
// buffered channel and goroutine; when a subscriber's buffer is full the
// event is dropped for that subscriber only.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	dropped     atomic.Uint64
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for eventType and returns an unsubscribe function.
// fn runs on the subscriber's own goroutine; a panic in fn is recovered.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// SubscribeAll registers fn for each of types.
func (b *Bus) SubscribeAll(types []EventType, fn Subscriber) func() {
	unsubs := make([]func(), 0, len(types))
	for _, t := range types {
		unsubs = append(unsubs, b.Subscribe(t, fn))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish delivers an event to every subscriber of eventType without blocking.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of deliveries skipped because a buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
