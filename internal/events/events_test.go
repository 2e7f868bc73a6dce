package events

import (
	"context"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	id string

	mu     sync.Mutex
	events []cloudevents.Event
}

func newRecordingObserver(id string) *recordingObserver {
	return &recordingObserver{id: id}
}

func (o *recordingObserver) ObserverID() string { return o.id }

func (o *recordingObserver) OnEvent(_ context.Context, event cloudevents.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
	return nil
}

func (o *recordingObserver) recorded() []cloudevents.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]cloudevents.Event, len(o.events))
	copy(out, o.events)
	return out
}

func TestNewEvent_SetsRequiredAttributesAndData(t *testing.T) {
	event := NewEvent(EventTypeModuleLoaded, map[string]string{"module": "fake"}, map[string]string{"module": "fake"})

	assert.Equal(t, EventTypeModuleLoaded, event.Type())
	assert.Equal(t, sourceCore, event.Source())
	assert.Equal(t, cloudevents.VersionV1, event.SpecVersion())
	assert.NotEmpty(t, event.ID())
	assert.False(t, event.Time().IsZero())

	var data map[string]string
	require.NoError(t, event.DataAs(&data))
	assert.Equal(t, "fake", data["module"])
	assert.Equal(t, "fake", event.Extensions()["module"])
}

func TestNewEvent_NilDataOmitsBody(t *testing.T) {
	event := NewEvent(EventTypeModuleSkipped, nil, nil)
	assert.Empty(t, event.Data())
}

func TestBus_PublishDeliversToRegisteredObserver(t *testing.T) {
	bus := New()
	obs := newRecordingObserver("obs-1")
	bus.RegisterObserver(obs)

	bus.Publish(context.Background(), NewEvent(EventTypeInstanceRegistered, nil, map[string]string{"module": "fake"}))

	require.Eventually(t, func() bool {
		return len(obs.recorded()) == 1
	}, time.Second, 10*time.Millisecond)

	got := obs.recorded()[0]
	assert.Equal(t, EventTypeInstanceRegistered, got.Type())
	assert.Equal(t, "fake", got.Extensions()["module"])
}

func TestBus_PublishRespectsEventTypeFilter(t *testing.T) {
	bus := New()
	obs := newRecordingObserver("obs-filtered")
	bus.RegisterObserver(obs, EventTypeModuleLoaded)

	bus.Publish(context.Background(), NewEvent(EventTypeModuleSkipped, nil, nil))
	bus.Publish(context.Background(), NewEvent(EventTypeModuleLoaded, nil, nil))

	require.Eventually(t, func() bool {
		return len(obs.recorded()) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, EventTypeModuleLoaded, obs.recorded()[0].Type())
}

func TestBus_UnregisterObserverStopsDelivery(t *testing.T) {
	bus := New()
	obs := newRecordingObserver("obs-2")
	bus.RegisterObserver(obs)
	bus.UnregisterObserver(obs)

	bus.Publish(context.Background(), NewEvent(EventTypeModuleLoaded, nil, nil))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, obs.recorded())
}

func TestBus_GetObserversReturnsSnapshot(t *testing.T) {
	bus := New()
	bus.RegisterObserver(newRecordingObserver("obs-a"))
	bus.RegisterObserver(newRecordingObserver("obs-b"), EventTypeModuleLoaded)

	infos := bus.GetObservers()
	require.Len(t, infos, 2)

	byID := make(map[string]ObserverInfo, len(infos))
	for _, info := range infos {
		byID[info.ID] = info
	}
	assert.Empty(t, byID["obs-a"].EventTypes)
	assert.Equal(t, []string{EventTypeModuleLoaded}, byID["obs-b"].EventTypes)
}
