package ordering

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Repository is the system of record for ordered items. Reads may run
// concurrently; every mutation of a scope goes through InScope so that it is
// applied as one atomic unit.
type Repository interface {
	// Locate returns the scope the item with the given id belongs to.
	// It returns ErrNotFound if no such item exists.
	Locate(ctx context.Context, resource Resource, id ItemID) (ScopeID, error)

	// Get returns a single item or ErrNotFound.
	Get(ctx context.Context, resource Resource, id ItemID) (Item, error)

	// List returns all items of a scope sorted by order. An unknown scope
	// yields an empty list.
	List(ctx context.Context, scope Scope) ([]Item, error)

	// InScope runs fn against the current items of scope. If fn returns an
	// error none of its writes are applied.
	InScope(ctx context.Context, scope Scope, fn func(tx ScopeTx) error) error
}

// ScopeTx is the write view of one scope inside Repository.InScope.
type ScopeTx interface {
	// Items returns the scope's items as of the start of the transaction,
	// sorted by order.
	Items() []Item
	Insert(item Item) error
	// SetOrder moves an item to order and stamps its UpdatedAt with at.
	SetOrder(id ItemID, order int, at time.Time) error
	Delete(id ItemID) error
}

var (
	// ErrNotFound is returned when an item id does not exist in a resource.
	ErrNotFound = errors.New("item not found")

	// ErrOutOfRange is returned when a requested order is outside 1..N.
	ErrOutOfRange = errors.New("order out of range")

	// ErrUnknownResource is returned for resource names outside the known set.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrInvalidItem is returned when a draft lacks its scope.
	ErrInvalidItem = errors.New("invalid item")
)

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
	index map[Resource]map[ItemID]ScopeID
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
// Items already present in the store are indexed.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	r := &InMemoryRepository{
		store: store,
		index: make(map[Resource]map[ItemID]ScopeID),
	}
	for _, sc := range store.ListScopes() {
		items, _ := store.GetScope(sc)
		for _, it := range items {
			r.indexLocked(sc.Resource)[it.ID] = sc.ID
		}
	}
	return r
}

// Locate implements Repository.Locate.
func (r *InMemoryRepository) Locate(_ context.Context, resource Resource, id ItemID) (ScopeID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scopeID, ok := r.index[resource][id]
	if !ok {
		return "", ErrNotFound
	}
	return scopeID, nil
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(_ context.Context, resource Resource, id ItemID) (Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scopeID, ok := r.index[resource][id]
	if !ok {
		return Item{}, ErrNotFound
	}
	items, _ := r.store.GetScope(Scope{Resource: resource, ID: scopeID})
	for _, it := range items {
		if it.ID == id {
			return it, nil
		}
	}
	return Item{}, ErrNotFound
}

// List implements Repository.List.
func (r *InMemoryRepository) List(_ context.Context, scope Scope) ([]Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items, ok := r.store.GetScope(scope)
	if !ok {
		return []Item{}, nil
	}
	return items, nil
}

// InScope implements Repository.InScope. fn runs against a working copy that
// replaces the stored scope only when fn succeeds.
func (r *InMemoryRepository) InScope(ctx context.Context, scope Scope, fn func(tx ScopeTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot, _ := r.store.GetScope(scope)
	tx := &memoryTx{
		snapshot: snapshot,
		working:  make(map[ItemID]Item, len(snapshot)),
	}
	for _, it := range snapshot {
		tx.working[it.ID] = it
	}

	if err := fn(tx); err != nil {
		return err
	}

	next := make([]Item, 0, len(tx.working))
	for _, it := range tx.working {
		next = append(next, it)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Order < next[j].Order })
	r.store.SetScope(scope, next)

	idx := r.indexLocked(scope.Resource)
	for _, it := range snapshot {
		if _, kept := tx.working[it.ID]; !kept {
			delete(idx, it.ID)
		}
	}
	for id := range tx.working {
		idx[id] = scope.ID
	}
	return nil
}

// indexLocked returns the id index for resource, creating it on first use.
// Caller must hold r.mu in write mode.
func (r *InMemoryRepository) indexLocked(resource Resource) map[ItemID]ScopeID {
	idx, ok := r.index[resource]
	if !ok {
		idx = make(map[ItemID]ScopeID)
		r.index[resource] = idx
	}
	return idx
}

type memoryTx struct {
	snapshot []Item
	working  map[ItemID]Item
}

func (tx *memoryTx) Items() []Item {
	out := make([]Item, len(tx.snapshot))
	copy(out, tx.snapshot)
	return out
}

func (tx *memoryTx) Insert(item Item) error {
	if _, exists := tx.working[item.ID]; exists {
		return fmt.Errorf("insert %s: duplicate id", item.ID)
	}
	tx.working[item.ID] = item
	return nil
}

func (tx *memoryTx) SetOrder(id ItemID, order int, at time.Time) error {
	it, ok := tx.working[id]
	if !ok {
		return ErrNotFound
	}
	it.Order = order
	it.UpdatedAt = at
	tx.working[id] = it
	return nil
}

func (tx *memoryTx) Delete(id ItemID) error {
	if _, ok := tx.working[id]; !ok {
		return ErrNotFound
	}
	delete(tx.working, id)
	return nil
}
