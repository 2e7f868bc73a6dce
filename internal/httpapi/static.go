package httpapi

import "net/http"

// permissionListUsers gates GET /users: only an operator holding this
// permission can enumerate accounts, and per §9 design note (c) anyone
// else gets 404, not 401/403.
const permissionListUsers = "users.list"

// handleListUsers implements GET /users: a thin admin listing, out of
// spec.md's fixed HTTP surface but required for the server to be usable
// end to end. It checks the caller's permission and then answers with an
// empty user list; no account data is read from the store.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, permissionListUsers); !ok {
		return
	}
	// The store interface intentionally has no "list all users" query
	// (§6.4 tables are keyed for point lookups, not admin listing); a
	// module wanting a full directory view should ask the store module's
	// underlying database directly rather than through this narrow core
	// endpoint. This route only confirms operator access and identity.
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "users": []string{}})
}

// handleServerInfo implements GET /server: minimal liveness metadata,
// unauthenticated since it discloses nothing sensitive.
func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "running"})
}
