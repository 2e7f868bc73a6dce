// Package ipc implements the framed, bidirectional, typed message channel
// between the core and each module instance (§4.3). Messages are newline
// delimited JSON records with a discriminator "type" field; this keeps the
// wire format self-describing while still letting Go code work with a
// concrete struct per type.
package ipc

import "encoding/json"

// Type is the discriminator carried by every message.
type Type string

// Message types sent by an instance to the core.
const (
	TypeRegister            Type = "register"
	TypeResponse             Type = "response"
	TypeReply               Type = "reply"
	TypeLog                 Type = "log"
	TypeIntermoduleMessage  Type = "intermoduleMessage"
	TypeDatabaseQuery       Type = "databaseQuery"
)

// Message types sent by the core to an instance.
const (
	TypeInit              Type = "init"
	TypeInvoke            Type = "invoke"
	TypeClientConnect     Type = "clientConnect"
	TypeClientDisconnect  Type = "clientDisconnect"
	TypeMPCRequest        Type = "mpcRequest"
	TypeMPCResponse       Type = "mpcResponse"
	TypeDatabaseResult    Type = "databaseResult"
	TypeDatabaseError     Type = "databaseError"
)

// Envelope is the wire-level shape: a type discriminator plus an opaque
// payload that gets re-unmarshaled into the concrete payload struct once
// the type is known.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RegisterRoute is one HTTP route entry carried in a register message.
type RegisterRoute struct {
	Method       string `json:"method"`
	Path         string `json:"path"`
	HandlerID    string `json:"handlerId"`
	RequiresAuth bool   `json:"requiresAuth"`
}

// RegisterCommand is one WebSocket command entry carried in a register message.
type RegisterCommand struct {
	Name         string `json:"name"`
	HandlerID    string `json:"handlerId"`
	Broadcast    bool   `json:"broadcast"`
	RequiresAuth bool   `json:"requiresAuth"`
}

// RegisterPayload is the payload of a "register" message.
type RegisterPayload struct {
	Routes          []RegisterRoute   `json:"routes"`
	Commands        []RegisterCommand `json:"commands"`
	ConsoleSettings json.RawMessage   `json:"consoleSettings,omitempty"`
}

// ResponsePayload is the payload of a "response" message, fulfilling a
// PendingRequest created for an HTTP or WS call.
type ResponsePayload struct {
	ID          string          `json:"id"`
	Status      int             `json:"status,omitempty"`
	ContentType string          `json:"contentType,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// ReplyPayload is the alternative WS reply shape; semantically equivalent
// to ResponsePayload with msgId standing in for id.
type ReplyPayload struct {
	MsgID       string          `json:"msgId"`
	ContentType string          `json:"contentType,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// LogPayload is a structured log line emitted by a module instance.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// IntermoduleMessagePayload carries an inter-module call or its result (§4.9).
type IntermoduleMessagePayload struct {
	To       string          `json:"to"`
	ID       string          `json:"id"`
	Payload  json.RawMessage `json:"payload"`
	IsResult bool            `json:"isResult"`
	ShardKey string          `json:"shardKey,omitempty"`
}

// DatabaseQueryPayload proxies a query to the relational store.
type DatabaseQueryPayload struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// InitPayload is sent immediately after spawn.
type InitPayload struct {
	InstanceID string            `json:"instanceId"`
	Env        map[string]string `json:"env"`
}

// InvokeHTTPPayload is the payload shape for an HTTP-originated invoke.
type InvokeHTTPPayload struct {
	Query   map[string]string `json:"query"`
	Params  map[string]string `json:"params"`
	Body    json.RawMessage   `json:"body"`
	Headers map[string]string `json:"headers"`
	User    json.RawMessage   `json:"user,omitempty"`
}

// InvokeWSPayload is the payload shape for a WS-originated invoke.
type InvokeWSPayload struct {
	Payload  json.RawMessage `json:"payload"`
	SocketID string          `json:"socketId"`
	User     json.RawMessage `json:"user,omitempty"`
}

// InvokePayload wraps the envelope for a dispatched handler call.
type InvokePayload struct {
	ID        string          `json:"id"`
	HandlerID string          `json:"handlerId"`
	Payload   json.RawMessage `json:"payload"`
}

// ClientEventPayload is shared by clientConnect/clientDisconnect.
type ClientEventPayload struct {
	ClientID string `json:"clientId"`
}

// MPCPayload is shared by mpcRequest/mpcResponse. HandlerID names which of
// the target module's registered commands an mpcRequest is for; it is
// left empty on the mpcResponse leg, where ID alone correlates the reply.
type MPCPayload struct {
	ID        string          `json:"id"`
	HandlerID string          `json:"handlerId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// DatabaseResultPayload answers a databaseQuery that succeeded.
type DatabaseResultPayload struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// DatabaseErrorPayload answers a databaseQuery that failed.
type DatabaseErrorPayload struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Marshal builds an Envelope with payload v marshaled into Payload.
func Marshal(t Type, v any) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: raw}, nil
}
