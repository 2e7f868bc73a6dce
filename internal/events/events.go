// Package events implements the core's lifecycle event emitter: module
// load/skip decisions (C1) and instance state transitions (C2) are
// published as CloudEvents to any registered Observer, the same
// Observer/Subject shape the teacher framework uses for its own module
// lifecycle notifications.
package events

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Event type constants, following the teacher's reverse-domain CloudEvents
// vocabulary, narrowed to this core's own lifecycle.
const (
	EventTypeModuleLoaded       = "com.statehub.core.module.loaded"
	EventTypeModuleSkipped      = "com.statehub.core.module.skipped"
	EventTypeInstanceExited     = "com.statehub.core.instance.exited"
	EventTypeInstanceRegistered = "com.statehub.core.instance.registered"
)

// sourceCore identifies this process as the CloudEvent source, distinct
// from any module's own events.
const sourceCore = "statehub-core"

// NewEvent builds a CloudEvent carrying data as its JSON body. It mirrors
// the teacher's NewCloudEvent convenience constructor: required
// attributes are filled in, data is attached as application/json, and
// extensions carry any additional metadata.
func NewEvent(eventType string, data any, extensions map[string]string) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(sourceCore)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for k, v := range extensions {
		event.SetExtension(k, v)
	}
	return event
}

// Observer receives CloudEvents from a Bus it has registered with.
type Observer interface {
	OnEvent(ctx context.Context, event cloudevents.Event) error
	ObserverID() string
}

// ObserverInfo describes a registered observer for diagnostics.
type ObserverInfo struct {
	ID           string
	EventTypes   []string
	RegisteredAt time.Time
}

type registration struct {
	observer     Observer
	eventTypes   map[string]bool // empty means "all types"
	registeredAt time.Time
}

// Bus is the Subject half of the Observer pattern: every part of the core
// that wants to announce a lifecycle event publishes through one shared
// Bus, and every observer (e.g. a log sink) registers against it once at
// boot.
type Bus struct {
	mu        sync.RWMutex
	observers map[string]*registration
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{observers: make(map[string]*registration)}
}

// RegisterObserver adds observer, optionally filtered to eventTypes. An
// empty eventTypes means "receive everything."
func (b *Bus) RegisterObserver(observer Observer, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	filter := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		filter[t] = true
	}
	b.observers[observer.ObserverID()] = &registration{
		observer:     observer,
		eventTypes:   filter,
		registeredAt: time.Now(),
	}
}

// UnregisterObserver removes observer; idempotent.
func (b *Bus) UnregisterObserver(observer Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, observer.ObserverID())
}

// Publish hands event to every interested observer. Each observer runs on
// its own goroutine so a slow or misbehaving observer can never block the
// caller — the same "non-blocking for the caller" contract the teacher's
// NotifyObservers documents.
func (b *Bus) Publish(ctx context.Context, event cloudevents.Event) {
	b.mu.RLock()
	regs := make([]*registration, 0, len(b.observers))
	for _, r := range b.observers {
		if len(r.eventTypes) == 0 || r.eventTypes[event.Type()] {
			regs = append(regs, r)
		}
	}
	b.mu.RUnlock()

	for _, r := range regs {
		go func(r *registration) {
			_ = r.observer.OnEvent(ctx, event)
		}(r)
	}
}

// GetObservers returns a snapshot of every registered observer.
func (b *Bus) GetObservers() []ObserverInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ObserverInfo, 0, len(b.observers))
	for id, r := range b.observers {
		types := make([]string, 0, len(r.eventTypes))
		for t := range r.eventTypes {
			types = append(types, t)
		}
		out = append(out, ObserverInfo{ID: id, EventTypes: types, RegisteredAt: r.registeredAt})
	}
	return out
}
