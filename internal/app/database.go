package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/statehub-server/core/internal/auth"
	"github.com/statehub-server/core/internal/ipc"
	"github.com/statehub-server/core/internal/supervisor"
)

// dbQuery is the payload shape a module sends inside a databaseQuery
// message (§4.3 names the message but leaves its payload shape to the
// core/module contract): an operation name drawn from the store's public
// surface, plus its JSON-encoded arguments. This keeps the proxy to a
// fixed, auditable set of operations rather than exposing arbitrary SQL
// to a module process.
type dbQuery struct {
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args"`
}

func (a *Application) handleDatabaseQuery(inst *supervisor.Instance, payload ipc.DatabaseQueryPayload) {
	result, err := a.runDatabaseQuery(context.Background(), payload.Payload)
	if err != nil {
		env, merr := ipc.Marshal(ipc.TypeDatabaseError, ipc.DatabaseErrorPayload{ID: payload.ID, Error: err.Error()})
		if merr != nil {
			return
		}
		_ = inst.Send(env)
		return
	}

	env, err := ipc.Marshal(ipc.TypeDatabaseResult, ipc.DatabaseResultPayload{ID: payload.ID, Payload: result})
	if err != nil {
		return
	}
	_ = inst.Send(env)
}

func (a *Application) runDatabaseQuery(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var q dbQuery
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Errorf("app: malformed database query: %w", err)
	}

	switch q.Op {
	case "getUserByUsername":
		var args struct {
			Username string `json:"username"`
		}
		if err := json.Unmarshal(q.Args, &args); err != nil {
			return nil, err
		}
		user, ok, err := a.store.GetUserByUsername(ctx, args.Username)
		return marshalFound(user, ok, err)

	case "getUserByEmail":
		var args struct {
			Email string `json:"email"`
		}
		if err := json.Unmarshal(q.Args, &args); err != nil {
			return nil, err
		}
		user, ok, err := a.store.GetUserByEmail(ctx, args.Email)
		return marshalFound(user, ok, err)

	case "getUserByOAuthIdentity":
		var args struct {
			Provider   string `json:"provider"`
			ProviderID string `json:"providerId"`
		}
		if err := json.Unmarshal(q.Args, &args); err != nil {
			return nil, err
		}
		user, ok, err := a.store.GetUserByOAuthIdentity(ctx, args.Provider, args.ProviderID)
		return marshalFound(user, ok, err)

	case "permissions":
		var args struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(q.Args, &args); err != nil {
			return nil, err
		}
		perms, err := a.store.Permissions(ctx, args.UserID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"permissions": perms})

	case "grantPermission":
		var args struct {
			UserID     string `json:"userId"`
			Permission string `json:"permission"`
			MinRole    int    `json:"minRole"`
		}
		if err := json.Unmarshal(q.Args, &args); err != nil {
			return nil, err
		}
		if err := a.store.GrantPermission(ctx, args.UserID, args.Permission, args.MinRole); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]bool{"ok": true})

	case "activeBan":
		var args struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(q.Args, &args); err != nil {
			return nil, err
		}
		ban, ok, err := a.store.ActiveBan(ctx, args.UserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return json.Marshal(map[string]bool{"found": false})
		}
		return json.Marshal(map[string]any{"found": true, "ban": ban})

	default:
		return nil, fmt.Errorf("app: unknown database query op %q", q.Op)
	}
}

// marshalFound never returns passwordHash/passwordSalt/lastIp to a module:
// the same Sanitize used at the HTTP boundary (§8 invariant) applies here.
func marshalFound(user auth.User, ok bool, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	if !ok {
		return json.Marshal(map[string]bool{"found": false})
	}
	return json.Marshal(map[string]any{"found": true, "user": user.Sanitize()})
}
