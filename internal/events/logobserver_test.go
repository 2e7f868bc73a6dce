package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLogger struct {
	msg  string
	args []any
}

func (l *fakeLogger) Info(msg string, args ...any) {
	l.msg = msg
	l.args = args
}

func TestLogObserver_OnEventLogsTypeSourceAndData(t *testing.T) {
	log := &fakeLogger{}
	obs := NewLogObserver(log)
	assert.Equal(t, "core-log-observer", obs.ObserverID())

	event := NewEvent(EventTypeInstanceExited, map[string]string{"cause": "eof"}, nil)
	require.NoError(t, obs.OnEvent(context.Background(), event))

	assert.Equal(t, "events: lifecycle event", log.msg)
	require.Len(t, log.args, 6)
	assert.Equal(t, "type", log.args[0])
	assert.Equal(t, EventTypeInstanceExited, log.args[1])
	assert.Equal(t, "source", log.args[2])
	assert.Equal(t, sourceCore, log.args[3])
	assert.Equal(t, "data", log.args[4])
}
