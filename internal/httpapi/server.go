// Package httpapi assembles the fixed HTTP surface (§6.1): the static
// /auth, /oauth, /users, /server routes, and the dynamic /<module>/... and
// /@ns/<module>/... dispatch mount, all behind chi.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/statehub-server/core/internal/auth"
	"github.com/statehub-server/core/internal/balancer"
	"github.com/statehub-server/core/internal/correlator"
	"github.com/statehub-server/core/internal/hub"
	"github.com/statehub-server/core/internal/logging"
	"github.com/statehub-server/core/internal/oauth"
	"github.com/statehub-server/core/internal/router"
	"github.com/statehub-server/core/internal/store"
	"github.com/statehub-server/core/internal/supervisor"
)

// Server holds every collaborator the HTTP surface dispatches into.
type Server struct {
	log    logging.Logger
	gate   *auth.Gate
	issuer *auth.TokenIssuer
	store  store.Store
	oauth  *oauth.Manager
	hub    *hub.Hub

	reg  *router.Registry
	bal  *balancer.Balancer
	corr *correlator.Correlator
	sup  *supervisor.Supervisor

	originWhitelist []string
	upgrader        websocket.Upgrader
}

// New builds a Server with every collaborator the fixed and dynamic
// routes need.
func New(
	log logging.Logger,
	gate *auth.Gate,
	issuer *auth.TokenIssuer,
	st store.Store,
	om *oauth.Manager,
	h *hub.Hub,
	reg *router.Registry,
	bal *balancer.Balancer,
	corr *correlator.Correlator,
	sup *supervisor.Supervisor,
	originWhitelist []string,
) *Server {
	s := &Server{
		log:             log,
		gate:            gate,
		issuer:          issuer,
		store:           st,
		oauth:           om,
		hub:             h,
		reg:             reg,
		bal:             bal,
		corr:            corr,
		sup:             sup,
		originWhitelist: originWhitelist,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

// Router assembles the full chi.Mux: fixed routes first, then the
// wildcard module mount, in the order the spec fixes the surface (§6.1).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.corsMiddleware)
	r.Use(s.gate.Middleware)

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/logout", s.handleLogout)
	r.Post("/auth/verify", s.handleVerify)

	r.Get("/oauth/google/device", s.handleGoogleDeviceStart)
	r.Post("/oauth/google/device/poll", s.handleGoogleDevicePoll)
	r.Get("/oauth/google/web", s.handleWebAuthRedirect(oauth.Google))
	r.Get("/oauth/google/web/callback", s.handleWebAuthCallback(oauth.Google))
	r.Get("/oauth/discord/web", s.handleWebAuthRedirect(oauth.Discord))
	r.Get("/oauth/discord/web/callback", s.handleWebAuthCallback(oauth.Discord))

	r.Get("/users", s.handleListUsers)
	r.Get("/server", s.handleServerInfo)
	r.Get("/ws", s.handleWebSocket)

	r.NotFound(s.handleDynamic)

	return r
}

// handleWebSocket upgrades the connection and hands it to the Connection
// Hub (C7) for the lifetime of the socket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("httpapi: websocket upgrade failed", "error", err)
		return
	}
	client := s.hub.Connect(conn)
	s.hub.Serve(client)
}

// corsMiddleware mirrors the router module's origin-allowlist approach:
// an explicit whitelist of origins, "*" meaning any, per §6.5's
// ORIGIN_WHITELIST setting.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.originWhitelist {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	return host
}

func errorResponse(code string) map[string]string {
	return map[string]string{"error": code}
}

// noLiveInstanceResponse is the exact body §4.4 pins for a 503: a fixed
// message plus which module had no live instance to dispatch to.
func noLiveInstanceResponse(module string) map[string]string {
	return map[string]string{"error": "Module service unavailable", "module": module}
}

// requireIdentity is the shared 404-for-forbidden gate (§9 design note c):
// a request lacking a valid identity, or lacking the named permission, is
// answered with 404 rather than 401/403 so the endpoint's existence is
// not revealed to an unauthorized caller. This is deliberate, not a bug.
func requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.NotFound(w, r)
		return auth.Identity{}, false
	}
	return id, true
}

func hasPermission(identity auth.Identity, permission string) bool {
	for _, p := range identity.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

func requirePermission(w http.ResponseWriter, r *http.Request, permission string) (auth.Identity, bool) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return auth.Identity{}, false
	}
	if !hasPermission(identity, permission) {
		http.NotFound(w, r)
		return auth.Identity{}, false
	}
	return identity, true
}
