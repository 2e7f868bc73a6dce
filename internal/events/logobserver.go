package events

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Logger is the minimal logging surface LogObserver needs; satisfied by
// logging.Logger without importing it directly (avoids an import cycle,
// matching the narrow-interface idiom used by the other core packages).
type Logger interface {
	Info(msg string, args ...any)
}

// LogObserver is a minimal, always-on counterpart to the teacher's
// eventlogger module: every published event is logged with its type,
// source, and JSON data, with no configurable output targets or
// filtering — this core has exactly one sink for lifecycle events.
type LogObserver struct {
	log Logger
}

// NewLogObserver creates a LogObserver writing through log.
func NewLogObserver(log Logger) *LogObserver {
	return &LogObserver{log: log}
}

// ObserverID implements Observer.
func (o *LogObserver) ObserverID() string { return "core-log-observer" }

// OnEvent implements Observer.
func (o *LogObserver) OnEvent(_ context.Context, event cloudevents.Event) error {
	o.log.Info("events: lifecycle event", "type", event.Type(), "source", event.Source(), "data", string(event.Data()))
	return nil
}
