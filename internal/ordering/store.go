package ordering

import "sort"

// Store is the persistence abstraction behind InMemoryRepository.
// It holds whole scopes; the repository decides when a scope is replaced.
// Implementations need not be safe for concurrent use.
type Store interface {
	GetScope(s Scope) ([]Item, bool)
	SetScope(s Scope, items []Item)
	ListScopes() []Scope
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	scopes map[Scope][]Item
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		scopes: make(map[Scope][]Item),
	}
}

// GetScope implements Store.GetScope. The returned slice is a copy sorted by order.
func (s *InMemoryStore) GetScope(sc Scope) ([]Item, bool) {
	items, ok := s.scopes[sc]
	if !ok {
		return nil, false
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out, true
}

// SetScope implements Store.SetScope. An empty slice removes the scope.
func (s *InMemoryStore) SetScope(sc Scope, items []Item) {
	if len(items) == 0 {
		delete(s.scopes, sc)
		return
	}
	stored := make([]Item, len(items))
	copy(stored, items)
	sort.Slice(stored, func(i, j int) bool { return stored[i].Order < stored[j].Order })
	s.scopes[sc] = stored
}

// ListScopes implements Store.ListScopes.
func (s *InMemoryStore) ListScopes() []Scope {
	out := make([]Scope, 0, len(s.scopes))
	for sc := range s.scopes {
		out = append(out, sc)
	}
	return out
}
