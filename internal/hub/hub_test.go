package hub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/statehub-server/core/internal/auth"
	"github.com/statehub-server/core/internal/balancer"
	"github.com/statehub-server/core/internal/correlator"
	"github.com/statehub-server/core/internal/ipc"
	"github.com/statehub-server/core/internal/router"
	"github.com/statehub-server/core/internal/supervisor"
)

type testLogger struct{}

func (testLogger) Warn(string, ...any)  {}
func (testLogger) Debug(string, ...any) {}

type noopSink struct{}

func (noopSink) OnRegister(*supervisor.Instance, ipc.RegisterPayload)                     {}
func (noopSink) OnResponse(ipc.ResponsePayload)                                           {}
func (noopSink) OnReply(ipc.ReplyPayload)                                                 {}
func (noopSink) OnLog(*supervisor.Instance, ipc.LogPayload)                               {}
func (noopSink) OnIntermoduleMessage(*supervisor.Instance, ipc.IntermoduleMessagePayload) {}
func (noopSink) OnDatabaseQuery(*supervisor.Instance, ipc.DatabaseQueryPayload)           {}

// corrSink completes pending requests from module responses, as the
// application's Sink does, so the echo module's replies reach the hub.
type corrSink struct {
	noopSink
	corr *correlator.Correlator
}

func (s corrSink) OnResponse(p ipc.ResponsePayload) {
	s.corr.Deliver(p.ID, correlator.Result{Status: p.Status, ContentType: p.ContentType, Payload: p.Payload})
}

func setupHub(t *testing.T) (*Hub, *router.Registry, *supervisor.Supervisor, func()) {
	t.Helper()
	reg := router.New()
	corr := correlator.New()
	sup := supervisor.New(nopSupLogger{}, reg, corrSink{corr: corr}, nil)

	r1, w1 := io.Pipe() // core -> module
	r2, w2 := io.Pipe() // module -> core

	// Drain the init message and run a tiny echo "module" that replies to
	// every invoke with the same payload it received. This must start
	// before Attach is called: Attach writes the init frame synchronously
	// over an unbuffered pipe, so attaching with no reader yet would
	// deadlock.
	go func() {
		dec := newLineReader(r1)
		for {
			line, err := dec.next()
			if err != nil {
				return
			}
			var env ipc.Envelope
			if json.Unmarshal(line, &env) != nil {
				continue
			}
			if env.Type != ipc.TypeInvoke {
				continue
			}
			var inv ipc.InvokePayload
			_ = json.Unmarshal(env.Payload, &inv)
			var wsPayload ipc.InvokeWSPayload
			_ = json.Unmarshal(inv.Payload, &wsPayload)

			resp, _ := ipc.Marshal(ipc.TypeResponse, ipc.ResponsePayload{ID: inv.ID, Payload: wsPayload.Payload})
			raw, _ := json.Marshal(resp)
			_, _ = w2.Write(append(raw, '\n'))
		}
	}()

	inst := sup.Attach("fake", 0, w1, r2, nil)
	_ = inst

	reg.InstallCommands("fake", []router.CommandEntry{
		{FullName: "fake.echo", HandlerID: "h1", Broadcast: false},
		{FullName: "fake.shout", HandlerID: "h2", Broadcast: true},
	})

	bal := balancer.New()
	gate := auth.NewGate(auth.NewTokenIssuer("secret"), fakeUserStore{})

	h := New(testLogger{}, reg, bal, corr, sup, gate)

	cleanup := func() {
		_ = w1.Close()
		_ = r1.Close()
		_ = w2.Close()
		_ = r2.Close()
	}
	return h, reg, sup, cleanup
}

type nopSupLogger struct{}

func (nopSupLogger) Info(string, ...any)  {}
func (nopSupLogger) Warn(string, ...any)  {}
func (nopSupLogger) Error(string, ...any) {}

type fakeUserStore struct{}

func (fakeUserStore) GetUserByToken(_ context.Context, _ string) (auth.User, bool, error) {
	return auth.User{}, false, nil
}

// lineReader reads newline-delimited frames from an io.Reader.
type lineReader struct {
	r   io.Reader
	buf []byte
}

func newLineReader(r io.Reader) *lineReader { return &lineReader{r: r} }

func (l *lineReader) next() ([]byte, error) {
	for {
		if idx := indexByte(l.buf, '\n'); idx >= 0 {
			line := l.buf[:idx]
			l.buf = l.buf[idx+1:]
			return line, nil
		}
		chunk := make([]byte, 4096)
		n, err := l.r.Read(chunk)
		if n > 0 {
			l.buf = append(l.buf, chunk[:n]...)
		}
		if err != nil {
			return nil, err
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHub_SelfReply(t *testing.T) {
	h, _, _, cleanup := setupHub(t)
	defer cleanup()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		c := h.Connect(conn)
		h.Serve(c)
	}))
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"command": "fake.echo",
		"payload": map[string]any{"x": 1},
		"id":      "req-1",
		"target":  "self",
	}))

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var reply outboundReply
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "req-1", reply.ID)
}

func TestHub_Broadcast(t *testing.T) {
	h, _, _, cleanup := setupHub(t)
	defer cleanup()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		c := h.Connect(conn)
		h.Serve(c)
	}))
	defer srv.Close()

	a := dialWS(t, srv)
	defer a.Close()
	b := dialWS(t, srv)
	defer b.Close()
	c := dialWS(t, srv)
	defer c.Close()

	require.Eventually(t, func() bool { return h.clientCount() == 3 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.WriteJSON(map[string]any{
		"command": "fake.shout",
		"payload": map[string]any{"msg": "hi"},
		"id":      "req-2",
		"target":  "self",
	}))

	for _, conn := range []*websocket.Conn{a, b, c} {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var reply outboundReply
		require.NoError(t, conn.ReadJSON(&reply))
		require.Equal(t, "req-2", reply.ID)
	}
}
