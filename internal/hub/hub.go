// Package hub implements the Connection Hub (C7): WebSocket client
// tracking, inbound frame dispatch, and self/targeted/broadcast reply
// fan-out.
package hub

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/statehub-server/core/internal/auth"
	"github.com/statehub-server/core/internal/balancer"
	"github.com/statehub-server/core/internal/correlator"
	"github.com/statehub-server/core/internal/dispatch"
	"github.com/statehub-server/core/internal/ipc"
	"github.com/statehub-server/core/internal/router"
	"github.com/statehub-server/core/internal/supervisor"
)

const wsTimeout = 5 * time.Second

// Logger is the minimal logging surface the hub needs.
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Client is one connected WebSocket client, tracked for the lifetime of
// the connection (§3 data model).
type Client struct {
	ID   string
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.RWMutex
	loggedIn bool
	userID   string
	username string
}

func (c *Client) identitySnapshot() (userID, username string, loggedIn bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.username, c.loggedIn
}

func (c *Client) setIdentity(userID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedIn = true
	c.userID = userID
	c.username = username
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// inboundFrame is the client -> server wire shape (§6.2).
type inboundFrame struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
	ID      string          `json:"id,omitempty"`
	Token   string          `json:"token,omitempty"`
	Target  string          `json:"target,omitempty"`
}

// outboundReply is the server -> client reply shape.
type outboundReply struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub owns the set of connected clients and their dispatch wiring.
type Hub struct {
	log    Logger
	router *router.Registry
	bal    *balancer.Balancer
	corr   *correlator.Correlator
	sup    *supervisor.Supervisor
	gate   *auth.Gate

	mu     sync.RWMutex
	byID   map[string]*Client
	clients map[*Client]struct{}
}

// New creates an empty Hub.
func New(log Logger, reg *router.Registry, bal *balancer.Balancer, corr *correlator.Correlator, sup *supervisor.Supervisor, gate *auth.Gate) *Hub {
	return &Hub{
		log:     log,
		router:  reg,
		bal:     bal,
		corr:    corr,
		sup:     sup,
		gate:    gate,
		byID:    make(map[string]*Client),
		clients: make(map[*Client]struct{}),
	}
}

// Connect registers a newly upgraded WebSocket connection, assigns it a
// clientId, inserts it into both indices as a single transaction, and
// fires clientConnect to every live instance.
func (h *Hub) Connect(conn *websocket.Conn) *Client {
	c := &Client{ID: uuid.NewString(), conn: conn}

	h.mu.Lock()
	h.byID[c.ID] = c
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.broadcastLifecycle(ipc.TypeClientConnect, c.ID)
	return c
}

// Disconnect removes a client from both indices as a single transaction
// and fires clientDisconnect to every live instance.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	delete(h.byID, c.ID)
	delete(h.clients, c)
	h.mu.Unlock()

	h.broadcastLifecycle(ipc.TypeClientDisconnect, c.ID)
}

func (h *Hub) broadcastLifecycle(t ipc.Type, clientID string) {
	env, err := ipc.Marshal(t, ipc.ClientEventPayload{ClientID: clientID})
	if err != nil {
		return
	}
	for _, inst := range h.sup.AllInstances() {
		_ = inst.Send(env) // fire-and-forget: modules may ignore presence events
	}
}

// clientCount reports the live client count, used by tests and lifecycle checks.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve runs the read loop for c until the connection closes.
func (h *Hub) Serve(c *Client) {
	defer h.Disconnect(c)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.HandleFrame(c, raw)
	}
}

// HandleFrame implements the inbound frame steps of §4.7.
func (h *Hub) HandleFrame(sender *Client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.log.Debug("hub: dropping invalid JSON frame", "error", err)
		return
	}
	if frame.Command == "" {
		return
	}

	moduleName, ok := moduleNameFromCommand(frame.Command)
	if !ok {
		h.log.Debug("hub: dropping frame with unparseable command", "command", frame.Command)
		return
	}

	entry, ok := h.router.LookupCommand(frame.Command)
	if !ok {
		return
	}

	if frame.ID == "" {
		frame.ID = uuid.NewString()
	}

	payload := scrubUser(frame.Payload)

	var identity auth.Identity
	var authed bool
	if frame.Token != "" {
		identity, authed = h.gate.Authenticate(context.Background(), frame.Token)
	}
	if authed {
		sender.setIdentity(identity.UserID, identity.Username)
		payload = injectUser(payload, identity)
	}
	// A command that requires auth and received no valid identity is left
	// for the module to reject; the core does not 401 WS frames (§4.8).

	shardKey := ""
	if authed {
		shardKey = identity.UserID
	}

	go h.invokeAndReply(sender, moduleName, shardKey, entry, frame, payload)
}

func (h *Hub) invokeAndReply(sender *Client, moduleName, shardKey string, entry router.CommandEntry, frame inboundFrame, payload json.RawMessage) {
	wsPayload := ipc.InvokeWSPayload{Payload: payload, SocketID: sender.ID}

	result, err := dispatch.CallWithID(h.sup, h.bal, h.corr, moduleName, shardKey, entry.HandlerID, frame.ID, wsPayload, wsTimeout, correlator.KindWS)
	if err != nil {
		// No live instance: silently drop, matching the spec's "silent
		// drop" treatment of WS errors (§7); an HTTP caller would get 503.
		return
	}
	if result.Err != nil {
		// Timeout or similar: WS errors are dropped silently (§7), no
		// error frame is defined for this path.
		return
	}

	h.route(sender, frame.Target, entry.Broadcast, frame.ID, result.Payload)
}

// route implements §4.7.1's reply policy.
func (h *Hub) route(sender *Client, target string, broadcast bool, id string, payload json.RawMessage) {
	reply := outboundReply{ID: id, Payload: payload}

	t := target
	if t == "" {
		t = "self"
	}

	if t == "broadcast" || broadcast {
		h.broadcastReply(reply)
		return
	}
	if t == "self" || t == sender.ID {
		_ = sender.writeJSON(reply)
		return
	}

	h.mu.RLock()
	dest, ok := h.byID[t]
	h.mu.RUnlock()
	if ok {
		_ = dest.writeJSON(reply)
		return
	}

	// Fallback: unknown target, send to the originating socket.
	_ = sender.writeJSON(reply)
}

func (h *Hub) broadcastReply(reply outboundReply) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	// Fan out concurrently; §5 guarantees no cross-client delivery order.
	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			_ = c.writeJSON(reply)
		}(c)
	}
	wg.Wait()
}

// SendToClient implements a module-initiated targeted push.
func (h *Hub) SendToClient(clientID string, payload json.RawMessage) error {
	h.mu.RLock()
	c, ok := h.byID[clientID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return c.writeJSON(modulePush(payload))
}

// BroadcastToClients implements a module-initiated broadcast push.
func (h *Hub) BroadcastToClients(payload json.RawMessage) {
	push := modulePush(payload)
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		_ = c.writeJSON(push)
	}
}

// DisconnectClient implements a module-initiated disconnect, sending a
// graceful close frame with a JSON reason body and code 1000.
func (h *Hub) DisconnectClient(clientID, reason string) error {
	h.mu.RLock()
	c, ok := h.byID[clientID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	body, _ := json.Marshal(map[string]string{"reason": reason})
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(body))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.CloseMessage, msg)
}

type moduleMessagePush struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func modulePush(payload json.RawMessage) moduleMessagePush {
	return moduleMessagePush{Type: "moduleMessage", Payload: payload}
}

// moduleNameFromCommand resolves the module name from a WS command string
// (§4.7 step 2, §9 design note a). Two splitting rules exist across the
// source this was distilled from (dot-split vs slash-split for namespaced
// names); we pick dot-split uniformly because it is the only rule under
// which both "mod.cmd" and "@ns/mod.cmd" parse with a single consistent
// separator, and refuse (return ok=false) anything that doesn't contain a
// dot at all.
func moduleNameFromCommand(command string) (string, bool) {
	idx := strings.Index(command, ".")
	if idx <= 0 {
		return "", false
	}
	return command[:idx], true
}

// scrubUser removes any client-supplied "user" field from payload to
// prevent identity spoofing (§4.7 step 4), regardless of whether the
// connection ends up authenticated.
func scrubUser(payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 {
		return payload
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return payload
	}
	if _, ok := m["user"]; !ok {
		return payload
	}
	delete(m, "user")
	out, err := json.Marshal(m)
	if err != nil {
		return payload
	}
	return out
}

func injectUser(payload json.RawMessage, identity auth.Identity) json.RawMessage {
	var m map[string]json.RawMessage
	if len(payload) == 0 {
		m = make(map[string]json.RawMessage)
	} else if err := json.Unmarshal(payload, &m); err != nil {
		m = make(map[string]json.RawMessage)
	}
	userRaw, err := json.Marshal(identity)
	if err != nil {
		return payload
	}
	m["user"] = userRaw
	out, err := json.Marshal(m)
	if err != nil {
		return payload
	}
	return out
}
