// Package router implements the Router / Command Registry (C4): mutable
// tables mapping HTTP (method, path) and WebSocket command names to
// module handlers, installed by "register" IPC messages. Entries stay
// installed after a module's last instance dies; only RemoveModule
// deletes them.
package router

import (
	"strings"
	"sync"
)

// RouteEntry is one installed HTTP route.
type RouteEntry struct {
	Method       string
	Path         string // path relative to the module's mount, e.g. "/ping"
	ModuleName   string
	HandlerID    string
	RequiresAuth bool
}

// CommandEntry is one installed WebSocket command.
type CommandEntry struct {
	FullName     string // "<module>.<cmd>" or "@ns/<module>.<cmd>"
	ModuleName   string
	HandlerID    string
	Broadcast    bool
	RequiresAuth bool
}

type routeKey struct {
	method string
	path   string
}

// Registry is the process-wide route/command table. All mutation
// (install on register, removal through RemoveModule) is serialized by
// mu; readers take a read lock so concurrent HTTP/WS dispatch never
// observes a torn view (§5).
type Registry struct {
	mu sync.RWMutex

	routes   map[string]map[routeKey]RouteEntry // moduleName -> routeKey -> entry
	commands map[string]map[string]CommandEntry // moduleName -> fullName -> entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		routes:   make(map[string]map[routeKey]RouteEntry),
		commands: make(map[string]map[string]CommandEntry),
	}
}

// InstallRoutes installs/replaces the routes for moduleName. Idempotent
// per (moduleName, path, method): calling this again (e.g. from a sibling
// instance registering the same handlers) simply overwrites with an
// identical entry.
func (r *Registry) InstallRoutes(moduleName string, routes []RouteEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tbl, ok := r.routes[moduleName]
	if !ok {
		tbl = make(map[routeKey]RouteEntry)
		r.routes[moduleName] = tbl
	}
	for _, rt := range routes {
		rt.ModuleName = moduleName
		tbl[routeKey{method: strings.ToUpper(rt.Method), path: normalizePath(rt.Path)}] = rt
	}
}

// InstallCommands installs/replaces the commands for moduleName.
func (r *Registry) InstallCommands(moduleName string, commands []CommandEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tbl, ok := r.commands[moduleName]
	if !ok {
		tbl = make(map[string]CommandEntry)
		r.commands[moduleName] = tbl
	}
	for _, c := range commands {
		c.ModuleName = moduleName
		tbl[c.FullName] = c
	}
}

// RemoveModule tears down every route and command owned by moduleName.
// Not called when a module's instances merely die to zero — §8 scenario 1
// requires a 503 from dispatch in that case, which needs the route to
// still resolve. This is reserved for an explicit module unload, which
// the core does not yet expose as an operation.
func (r *Registry) RemoveModule(moduleName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, moduleName)
	delete(r.commands, moduleName)
}

// LookupCommand finds a command by its full dotted name.
func (r *Registry) LookupCommand(fullName string) (CommandEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tbl := range r.commands {
		if c, ok := tbl[fullName]; ok {
			return c, true
		}
	}
	return CommandEntry{}, false
}

// MatchResult is the outcome of a successful HTTP route match.
type MatchResult struct {
	Entry  RouteEntry
	Params map[string]string
}

// Match resolves method+fullPath against the registry. fullPath must
// already have the module prefix stripped off by the caller (see
// ModuleNameFromPath); remainder is matched against each registered
// route's Path, supporting "{name}" wildcard segments.
func (r *Registry) Match(moduleName, method, remainder string) (MatchResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tbl, ok := r.routes[moduleName]
	if !ok {
		return MatchResult{}, false
	}
	method = strings.ToUpper(method)
	remainder = normalizePath(remainder)

	for key, entry := range tbl {
		if key.method != method {
			continue
		}
		if params, ok := matchSegments(key.path, remainder); ok {
			return MatchResult{Entry: entry, Params: params}, true
		}
	}
	return MatchResult{}, false
}

// HasLiveModule reports whether moduleName currently has any installed
// routes or commands at all. It does not look at live instances: whether
// a module has one is decided by the supervisor's instance table. The
// bus uses it to tell an unknown module from a missing MPC handler.
func (r *Registry) HasLiveModule(moduleName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, hasRoutes := r.routes[moduleName]
	_, hasCommands := r.commands[moduleName]
	return hasRoutes || hasCommands
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}

// matchSegments compares a registered pattern ("/{id}/items") against an
// incoming path, extracting "{name}" wildcard segments as params.
func matchSegments(pattern, path string) (map[string]string, bool) {
	pSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	aSegs := strings.Split(strings.Trim(path, "/"), "/")
	if pattern == "/" {
		pSegs = nil
	}
	if path == "/" {
		aSegs = nil
	}
	if len(pSegs) != len(aSegs) {
		return nil, false
	}

	params := make(map[string]string)
	for i, seg := range pSegs {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			params[seg[1:len(seg)-1]] = aSegs[i]
			continue
		}
		if seg != aSegs[i] {
			return nil, false
		}
	}
	return params, true
}

// ModuleNameFromPath resolves the module name from an HTTP URL path
// exactly as §4.4 describes: "/<module>/..." or "/<@ns>/<module>/...".
// Returns the module name, the remainder path (the part routes are
// matched against), and whether a module prefix was found at all.
func ModuleNameFromPath(path string) (moduleName, remainder string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/")
	segs := strings.SplitN(trimmed, "/", 3)
	if len(segs) == 0 || segs[0] == "" {
		return "", "", false
	}

	if strings.HasPrefix(segs[0], "@") {
		if len(segs) < 2 {
			return "", "", false
		}
		moduleName = segs[0] + "/" + segs[1]
		if len(segs) == 3 {
			remainder = "/" + segs[2]
		} else {
			remainder = "/"
		}
		return moduleName, remainder, true
	}

	moduleName = segs[0]
	switch len(segs) {
	case 1:
		remainder = "/"
	default:
		remainder = "/" + strings.Join(segs[1:], "/")
	}
	return moduleName, remainder, true
}
