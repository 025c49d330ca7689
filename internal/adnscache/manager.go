package adnscache

import (
	"maps"
	"slices"
	"sync"
)

// Manager is the cache manager interface.  The admin surface clears caches
// through it by well-known IDs.  All methods must be safe for concurrent use.
type Manager interface {
	// Add registers cache under id, replacing a previous registration if
	// there is one.  cache must not be nil.
	Add(id string, cache Clearer)

	// ClearByID clears the cache registered under id, if any.
	ClearByID(id string)
}

// DefaultManager is a [Manager] implementation that keeps the registered
// caches in a map.
type DefaultManager struct {
	mu     *sync.Mutex
	caches map[string]Clearer
}

// NewDefaultManager returns a new initialized *DefaultManager.
func NewDefaultManager() (m *DefaultManager) {
	return &DefaultManager{
		mu:     &sync.Mutex{},
		caches: map[string]Clearer{},
	}
}

// type check
var _ Manager = (*DefaultManager)(nil)

// Add implements the [Manager] interface for *DefaultManager.
func (m *DefaultManager) Add(id string, cache Clearer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.caches[id] = cache
}

// ClearByID implements the [Manager] interface for *DefaultManager.
func (m *DefaultManager) ClearByID(id string) {
	m.mu.Lock()
	cache := m.caches[id]
	m.mu.Unlock()

	if cache != nil {
		cache.Clear()
	}
}

// IDs returns a sorted list of registered cache identifiers.
func (m *DefaultManager) IDs() (ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Sorted(maps.Keys(m.caches))
}

// EmptyManager is a [Manager] implementation that does nothing.
type EmptyManager struct{}

// type check
var _ Manager = EmptyManager{}

// Add implements the [Manager] interface for EmptyManager.
func (EmptyManager) Add(_ string, _ Clearer) {}

// ClearByID implements the [Manager] interface for EmptyManager.
func (EmptyManager) ClearByID(_ string) {}
