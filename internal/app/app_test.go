package app

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/statehub-server/core/internal/auth"
	"github.com/statehub-server/core/internal/config"
	"github.com/statehub-server/core/internal/correlator"
	"github.com/statehub-server/core/internal/ipc"
	"github.com/statehub-server/core/internal/logging"
	"github.com/statehub-server/core/internal/store"
	"github.com/statehub-server/core/internal/supervisor"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)          {}
func (nopLogger) Warn(string, ...any)          {}
func (nopLogger) Error(string, ...any)         {}
func (nopLogger) Debug(string, ...any)         {}
func (l nopLogger) With(...any) logging.Logger { return l }

// fakeStore is a minimal in-memory store.Store, kept local to this
// package as a test-only duplicate rather than a shared exported helper.
type fakeStore struct {
	mu      sync.Mutex
	users   map[string]auth.User
	byName  map[string]string
	byEmail map[string]string
	perms   map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   map[string]auth.User{},
		byName:  map[string]string{},
		byEmail: map[string]string{},
		perms:   map[string][]string{},
	}
}

func (s *fakeStore) CreateUser(_ context.Context, u store.NewUser) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "user-" + u.Username
	user := auth.User{ID: id, Username: u.Username, Email: u.Email, PasswordHash: u.PasswordHash, PasswordSalt: u.PasswordSalt}
	s.users[id] = user
	s.byName[u.Username] = id
	s.byEmail[u.Email] = id
	return user, nil
}

func (s *fakeStore) GetUserByUsername(_ context.Context, username string) (auth.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[username]
	if !ok {
		return auth.User{}, false, nil
	}
	return s.users[id], true, nil
}

func (s *fakeStore) GetUserByEmail(_ context.Context, email string) (auth.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return auth.User{}, false, nil
	}
	return s.users[id], true, nil
}

func (s *fakeStore) GetUserByToken(context.Context, string) (auth.User, bool, error) {
	return auth.User{}, false, nil
}

func (s *fakeStore) RecordLogin(context.Context, string, string, string) error { return nil }

func (s *fakeStore) GrantPermission(_ context.Context, userID, permission string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms[userID] = append(s.perms[userID], permission)
	return nil
}

func (s *fakeStore) Permissions(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perms[userID], nil
}

func (s *fakeStore) ActiveBan(context.Context, string) (store.Ban, bool, error) {
	return store.Ban{}, false, nil
}

func (s *fakeStore) LinkOAuthIdentity(context.Context, string, string, string) error { return nil }
func (s *fakeStore) GetUserByOAuthIdentity(context.Context, string, string) (auth.User, bool, error) {
	return auth.User{}, false, nil
}

func newTestApp(t *testing.T) (*Application, *fakeStore) {
	t.Helper()
	st := newFakeStore()
	a := New(nopLogger{}, config.Config{SecretKey: "test-secret", OriginWhitelist: []string{"*"}}, st)
	return a, st
}

// newFakeModule wires a module "process" via in-memory pipes, mirroring
// the supervisor package's own test harness: coreW/coreR are the
// Instance's transport ends, moduleW/moduleR are what a real module
// process would read and write.
func newFakeModule() (coreW io.WriteCloser, coreR io.ReadCloser, moduleW io.WriteCloser, moduleR io.ReadCloser) {
	r1, w1 := io.Pipe() // core -> module
	r2, w2 := io.Pipe() // module -> core
	return w1, r2, w2, r1
}

// attachFakeInstance attaches a fake module and drains the synchronous
// init message so the attach call doesn't deadlock.
func attachFakeInstance(t *testing.T, a *Application, moduleName string) (*supervisor.Instance, io.ReadCloser) {
	t.Helper()
	coreW, coreR, _, moduleR := newFakeModule()

	drained := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		_, _ = moduleR.Read(buf)
		close(drained)
	}()

	inst := a.sup.Attach(moduleName, 0, coreW, coreR, func() error { return nil })

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out draining init message")
	}

	return inst, moduleR
}

func TestOnRegister_InstallsRoutesAndCommands(t *testing.T) {
	a, _ := newTestApp(t)
	inst, _ := attachFakeInstance(t, a, "chat")

	payload := ipc.RegisterPayload{
		Routes:   []ipc.RegisterRoute{{Method: "GET", Path: "/ping", HandlerID: "h1"}},
		Commands: []ipc.RegisterCommand{{Name: "send", HandlerID: "h2"}},
	}
	a.OnRegister(inst, payload)

	match, ok := a.reg.Match("chat", "GET", "/ping")
	require.True(t, ok)
	require.Equal(t, "h1", match.Entry.HandlerID)

	cmd, ok := a.reg.LookupCommand("chat.send")
	require.True(t, ok)
	require.Equal(t, "h2", cmd.HandlerID)
}

func TestOnResponse_DeliversToCorrelator(t *testing.T) {
	a, _ := newTestApp(t)
	sink := a.corr.Register("req-1", correlator.KindHTTP, time.Second)

	a.OnResponse(ipc.ResponsePayload{ID: "req-1", Status: 200, Payload: json.RawMessage(`{"ok":true}`)})

	result := <-sink
	require.NoError(t, result.Err)
	require.Equal(t, 200, result.Status)
}

func TestOnReply_DeliversToCorrelator(t *testing.T) {
	a, _ := newTestApp(t)
	sink := a.corr.Register("msg-1", correlator.KindWS, time.Second)

	a.OnReply(ipc.ReplyPayload{MsgID: "msg-1", Payload: json.RawMessage(`{"x":1}`)})

	result := <-sink
	require.NoError(t, result.Err)
	require.JSONEq(t, `{"x":1}`, string(result.Payload))
}

func readEnvelope(t *testing.T, r io.Reader) ipc.Envelope {
	t.Helper()
	var env ipc.Envelope
	require.NoError(t, json.NewDecoder(r).Decode(&env))
	return env
}

func TestOnDatabaseQuery_UnknownUserReturnsFoundFalse(t *testing.T) {
	a, _ := newTestApp(t)
	inst, moduleR := attachFakeInstance(t, a, "store-client")

	payload := ipc.DatabaseQueryPayload{
		ID:      "q1",
		Payload: json.RawMessage(`{"op":"getUserByUsername","args":{"username":"nobody"}}`),
	}

	envCh := make(chan ipc.Envelope, 1)
	go func() { envCh <- readEnvelope(t, moduleR) }()

	a.OnDatabaseQuery(inst, payload)

	select {
	case env := <-envCh:
		require.Equal(t, ipc.TypeDatabaseResult, env.Type)
		var result ipc.DatabaseResultPayload
		require.NoError(t, json.Unmarshal(env.Payload, &result))
		require.JSONEq(t, `{"found":false}`, string(result.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for databaseResult")
	}
}

func TestOnDatabaseQuery_UnknownOpReturnsError(t *testing.T) {
	a, _ := newTestApp(t)
	inst, moduleR := attachFakeInstance(t, a, "store-client-2")

	payload := ipc.DatabaseQueryPayload{ID: "q2", Payload: json.RawMessage(`{"op":"dropTables"}`)}

	envCh := make(chan ipc.Envelope, 1)
	go func() { envCh <- readEnvelope(t, moduleR) }()

	a.OnDatabaseQuery(inst, payload)

	select {
	case env := <-envCh:
		require.Equal(t, ipc.TypeDatabaseError, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for databaseError")
	}
}
