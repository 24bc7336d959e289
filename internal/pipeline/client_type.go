package pipeline

import (
	"slices"
	"sync"

	"github.com/fivetwenty-io/cloudapi/internal/pattern"
	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
)

// ClientType holds what every manager of one cloud client shares: query
// patterns, error and cache patterns, default options and the routine chain.
type ClientType struct {
	Name     string
	Patterns *pattern.Registry
	Options  []cloudapi.Option
	// Routines builds the chain of each new manager. DefaultRoutines when nil.
	Routines []RoutineFactory

	mu            sync.RWMutex
	errorPatterns []*cloudapi.ErrorPattern
	cachePatterns []*cloudapi.CachePattern
}

// NewClientType creates a client type.
func NewClientType(name string, opts ...cloudapi.Option) *ClientType {
	return &ClientType{
		Name:     name,
		Patterns: pattern.NewRegistry(nil),
		Options:  opts,
	}
}

// RegisterPattern compiles and registers a query pattern for every manager.
func (t *ClientType) RegisterPattern(p cloudapi.QueryPattern) error {
	_, err := t.Patterns.Register(p)

	return err
}

// RegisterErrorPattern appends an error pattern.
func (t *ClientType) RegisterErrorPattern(p *cloudapi.ErrorPattern) error {
	err := p.Validate()
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.errorPatterns = append(t.errorPatterns, p)
	t.mu.Unlock()

	return nil
}

// RegisterCachePattern appends a cache pattern.
func (t *ClientType) RegisterCachePattern(p *cloudapi.CachePattern) error {
	err := p.Validate()
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.cachePatterns = append(t.cachePatterns, p)
	t.mu.Unlock()

	return nil
}

// ErrorPatterns returns the registered error patterns in order.
func (t *ClientType) ErrorPatterns() []*cloudapi.ErrorPattern {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return slices.Clone(t.errorPatterns)
}

// CachePatterns returns the registered cache patterns in order.
func (t *ClientType) CachePatterns() []*cloudapi.CachePattern {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return slices.Clone(t.cachePatterns)
}

func (t *ClientType) routines() []Routine {
	factories := t.Routines
	if len(factories) == 0 {
		factories = DefaultRoutines()
	}

	routines := make([]Routine, 0, len(factories))
	for _, factory := range factories {
		routines = append(routines, factory())
	}

	return routines
}
