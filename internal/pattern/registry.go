package pattern

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
)

// Registry holds compiled patterns by name. A registry may have a parent
// whose patterns are visible unless shadowed by a local one of the same name.
type Registry struct {
	parent *Registry

	mu       sync.RWMutex
	patterns map[string]*Compiled
}

// NewRegistry creates a registry. parent may be nil.
func NewRegistry(parent *Registry) *Registry {
	return &Registry{
		parent:   parent,
		patterns: make(map[string]*Compiled),
	}
}

// Register compiles and stores p, replacing any pattern of the same name.
func (r *Registry) Register(p cloudapi.QueryPattern) (*Compiled, error) {
	compiled, err := CompilePattern(p)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.patterns[p.Name] = compiled
	r.mu.Unlock()

	return compiled, nil
}

// Lookup finds a pattern locally, then in the parent.
func (r *Registry) Lookup(name string) (*Compiled, error) {
	r.mu.RLock()
	compiled, ok := r.patterns[name]
	r.mu.RUnlock()

	if ok {
		return compiled, nil
	}

	if r.parent != nil {
		return r.parent.Lookup(name)
	}

	return nil, fmt.Errorf("%w: %q", cloudapi.ErrPatternNotFound, name)
}

// Names lists every visible pattern name in sorted order.
func (r *Registry) Names() []string {
	seen := map[string]struct{}{}
	r.collect(seen)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func (r *Registry) collect(seen map[string]struct{}) {
	if r.parent != nil {
		r.parent.collect(seen)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for name := range r.patterns {
		seen[name] = struct{}{}
	}
}

// Explain describes the named pattern, or says it does not exist.
func (r *Registry) Explain(name string) string {
	compiled, err := r.Lookup(name)
	if err != nil {
		return name + ": does not exist"
	}

	return compiled.Explain()
}
