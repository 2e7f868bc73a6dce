package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/statehub-server/core/internal/events"
)

// Logger is the minimal logging surface the registry needs; satisfied by
// logging.Logger without importing it directly (avoids an import cycle).
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// Registry holds every manifest discovered under a modules root, keyed by
// its (possibly namespaced) name.
type Registry struct {
	Root      string
	manifests map[string]*Manifest
	log       Logger
	events    *events.Bus // optional; nil means no lifecycle events are published
}

// NewRegistry creates an empty registry rooted at dir.
func NewRegistry(dir string, log Logger) *Registry {
	if log == nil {
		log = nopLogger{}
	}
	return &Registry{Root: dir, manifests: make(map[string]*Manifest), log: log}
}

// SetEvents attaches the Bus module load/skip decisions are published to.
func (r *Registry) SetEvents(b *events.Bus) {
	r.events = b
}

func (r *Registry) publish(eventType, moduleName string, extra map[string]string) {
	if r.events == nil {
		return
	}
	extensions := map[string]string{"module": moduleName}
	for k, v := range extra {
		extensions[k] = v
	}
	r.events.Publish(context.Background(), events.NewEvent(eventType, nil, extensions))
}

// Get returns a previously scanned manifest by name.
func (r *Registry) Get(name string) (*Manifest, bool) {
	m, ok := r.manifests[name]
	return m, ok
}

// All returns every scanned manifest, unordered.
func (r *Registry) All() []*Manifest {
	out := make([]*Manifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, m)
	}
	return out
}

// Scan walks the modules root two levels deep: plain <root>/<module>
// directories, and namespaced <root>/@ns/<module> directories. Last-wins on
// a name collision is a fatal boot error.
func (r *Registry) Scan() error {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		return fmt.Errorf("manifest: scan %s: %w", r.Root, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(r.Root, e.Name())

		if strings.HasPrefix(e.Name(), "@") {
			nsEntries, err := os.ReadDir(dir)
			if err != nil {
				r.log.Warn("manifest: cannot read namespace dir", "dir", dir, "error", err)
				continue
			}
			for _, ns := range nsEntries {
				if !ns.IsDir() {
					continue
				}
				nsDir := filepath.Join(dir, ns.Name())
				if err := r.loadOne(nsDir); err != nil {
					return err
				}
			}
			continue
		}

		if err := r.loadOne(dir); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) loadOne(dir string) error {
	if !qualifies(dir) {
		return nil
	}
	m, err := parseManifestFile(dir)
	if err != nil {
		r.log.Warn("manifest: malformed manifest skipped", "dir", dir, "error", err)
		return nil
	}
	if existing, ok := r.manifests[m.Name]; ok {
		return fmt.Errorf("%w: %q at %s and %s", ErrDuplicateName, m.Name, existing.Path, m.Path)
	}
	r.manifests[m.Name] = m
	return nil
}

// Resolve produces a dependency-ordered load list by depth-first
// topological sort. A cycle is a fatal boot error. A dependency that names
// an unknown manifest causes the dependent — and, transitively, anything
// that depends on it — to be skipped rather than failing the boot; this
// resolves the ambiguity spec.md flags around skip-propagation by always
// treating "skipped" as transitive.
func (r *Registry) Resolve() (sorted []string, skipped []string, err error) {
	visited := make(map[string]bool) // fully processed, either sorted or skipped
	onStack := make(map[string]bool) // currently in the recursion stack (cycle detection)
	isSkipped := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if onStack[name] {
			return fmt.Errorf("manifest: circular dependency at %q", name)
		}
		if visited[name] {
			return nil
		}

		m, ok := r.manifests[name]
		if !ok {
			// Reached by traversal from a dependent whose manifest we
			// already have: the scan was supposed to be complete, so this
			// is defensive and fatal rather than a skip.
			return fmt.Errorf("%w: %q", ErrMissingManifest, name)
		}

		onStack[name] = true
		for _, dep := range m.Dependencies {
			if _, known := r.manifests[dep]; !known {
				r.log.Warn("manifest: unresolved dependency, skipping dependent", "module", name, "dependency", dep)
				r.publish(events.EventTypeModuleSkipped, name, map[string]string{"dependency": dep})
				isSkipped[name] = true
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
			if isSkipped[dep] {
				isSkipped[name] = true
			}
		}
		onStack[name] = false
		visited[name] = true

		if isSkipped[name] {
			skipped = append(skipped, name)
		} else {
			sorted = append(sorted, name)
			r.publish(events.EventTypeModuleLoaded, name, nil)
		}
		return nil
	}

	// Deterministic traversal order so ties resolve the same way every run.
	names := make([]string, 0, len(r.manifests))
	for name := range r.manifests {
		names = append(names, name)
	}
	sortStrings(names)

	for _, name := range names {
		if !visited[name] {
			if err := visit(name); err != nil {
				return nil, nil, err
			}
		}
	}
	return sorted, skipped, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
