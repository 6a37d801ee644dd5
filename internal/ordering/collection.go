package ordering

import (
	"context"
	"fmt"
	"sync"
	"time"

	"contentflow/internal/platform/metrics"

	"github.com/google/uuid"
)

// Collection keeps sibling items in a dense, unique 1..N ordering.
//
// Mutations of one scope are serialized by a per-scope lock and applied in a
// single repository transaction; different scopes proceed independently.
// Reorder swaps the moved item with the current occupant of the target
// position, Remove compacts the orders above the removed item.
type Collection struct {
	repo    Repository
	locks   *scopeLocks
	metrics *metrics.Metrics

	now   func() time.Time
	newID func() ItemID
}

// NewCollection returns a Collection backed by repo. Metrics may be nil.
func NewCollection(repo Repository, m *metrics.Metrics) *Collection {
	return &Collection{
		repo:    repo,
		locks:   newScopeLocks(),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() ItemID { return ItemID(uuid.NewString()) },
	}
}

// Append inserts a new item at the tail of its scope (order N+1).
func (c *Collection) Append(ctx context.Context, d Draft) (Item, error) {
	if _, err := ParseResource(string(d.Resource)); err != nil {
		return Item{}, err
	}
	if d.ScopeID == "" {
		return Item{}, fmt.Errorf("%w: scope id is required", ErrInvalidItem)
	}

	scope := Scope{Resource: d.Resource, ID: d.ScopeID}
	unlock := c.locks.lock(scope)
	defer unlock()

	var created Item
	err := c.repo.InScope(ctx, scope, func(tx ScopeTx) error {
		now := c.now()
		item := Item{
			ID:        c.newID(),
			Resource:  d.Resource,
			ScopeID:   d.ScopeID,
			Order:     len(tx.Items()) + 1,
			Title:     d.Title,
			Location:  d.Location,
			Metadata:  d.Metadata,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Insert(item); err != nil {
			return err
		}
		created = item
		return nil
	})
	if err != nil {
		return Item{}, fmt.Errorf("append to %s: %w", scope, err)
	}

	c.metrics.IncItemsAppended()
	return created, nil
}

// Reorder moves the item to newOrder. If another sibling holds newOrder the
// two exchange positions; no other item changes. newOrder outside 1..N fails
// with ErrOutOfRange before anything is written.
func (c *Collection) Reorder(ctx context.Context, resource Resource, id ItemID, newOrder int) (Item, error) {
	var moved Item
	err := c.mutate(ctx, resource, id, func(tx ScopeTx, items []Item, idx int) error {
		if err := checkRange(newOrder, len(items)); err != nil {
			return err
		}
		moved = items[idx]
		if moved.Order == newOrder {
			return nil
		}

		now := c.now()
		for _, other := range items {
			if other.Order == newOrder {
				if err := tx.SetOrder(other.ID, moved.Order, now); err != nil {
					return err
				}
				break
			}
		}
		if err := tx.SetOrder(moved.ID, newOrder, now); err != nil {
			return err
		}
		moved.Order = newOrder
		moved.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Item{}, err
	}

	c.metrics.IncItemsReordered()
	return moved, nil
}

// Move gives insert-between semantics: the item travels to target by a run
// of adjacent swaps, shifting everything in between by one. It is applied
// atomically as one transaction.
func (c *Collection) Move(ctx context.Context, resource Resource, id ItemID, target int) (Item, error) {
	var moved Item
	err := c.mutate(ctx, resource, id, func(tx ScopeTx, items []Item, idx int) error {
		if err := checkRange(target, len(items)); err != nil {
			return err
		}
		moved = items[idx]

		byOrder := make(map[int]ItemID, len(items))
		for _, it := range items {
			byOrder[it.Order] = it.ID
		}

		now := c.now()
		cur := moved.Order
		for cur != target {
			next := cur + 1
			if target < cur {
				next = cur - 1
			}
			neighbour := byOrder[next]
			if err := tx.SetOrder(neighbour, cur, now); err != nil {
				return err
			}
			byOrder[cur] = neighbour
			byOrder[next] = moved.ID
			cur = next
		}
		if moved.Order != target {
			if err := tx.SetOrder(moved.ID, target, now); err != nil {
				return err
			}
			moved.Order = target
			moved.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return Item{}, err
	}

	c.metrics.IncItemsReordered()
	return moved, nil
}

// Remove deletes the item and closes the gap it leaves: every sibling with a
// higher order moves down by one. An unknown id yields ErrNotFound.
func (c *Collection) Remove(ctx context.Context, resource Resource, id ItemID) (Item, error) {
	var removed Item
	err := c.mutate(ctx, resource, id, func(tx ScopeTx, items []Item, idx int) error {
		removed = items[idx]
		if err := tx.Delete(removed.ID); err != nil {
			return err
		}
		now := c.now()
		for _, it := range items {
			if it.Order > removed.Order {
				if err := tx.SetOrder(it.ID, it.Order-1, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return Item{}, err
	}

	c.metrics.IncItemsRemoved()
	return removed, nil
}

// Get returns a single item.
func (c *Collection) Get(ctx context.Context, resource Resource, id ItemID) (Item, error) {
	if _, err := ParseResource(string(resource)); err != nil {
		return Item{}, err
	}
	return c.repo.Get(ctx, resource, id)
}

// List returns the items of a scope sorted by order.
func (c *Collection) List(ctx context.Context, scope Scope) ([]Item, error) {
	if _, err := ParseResource(string(scope.Resource)); err != nil {
		return nil, err
	}
	return c.repo.List(ctx, scope)
}

// mutate locates the item, locks its scope and runs fn inside a repository
// transaction with the scope's items and the index of the target item.
func (c *Collection) mutate(ctx context.Context, resource Resource, id ItemID, fn func(tx ScopeTx, items []Item, idx int) error) error {
	if _, err := ParseResource(string(resource)); err != nil {
		return err
	}

	scopeID, err := c.repo.Locate(ctx, resource, id)
	if err != nil {
		return err
	}

	scope := Scope{Resource: resource, ID: scopeID}
	unlock := c.locks.lock(scope)
	defer unlock()

	return c.repo.InScope(ctx, scope, func(tx ScopeTx) error {
		items := tx.Items()
		for i, it := range items {
			if it.ID == id {
				return fn(tx, items, i)
			}
		}
		// Removed between Locate and taking the scope lock.
		return ErrNotFound
	})
}

func checkRange(order, n int) error {
	if order < 1 || order > n {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrOutOfRange, order, n)
	}
	return nil
}

// scopeLocks hands out one mutex per scope, dropping it once unused.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[Scope]*scopeLock
}

type scopeLock struct {
	sync.Mutex
	refs int
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[Scope]*scopeLock)}
}

// lock blocks until the scope is free and returns its release func.
func (l *scopeLocks) lock(s Scope) func() {
	l.mu.Lock()
	sl, ok := l.locks[s]
	if !ok {
		sl = &scopeLock{}
		l.locks[s] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.Lock()
	return func() {
		sl.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, s)
		}
		l.mu.Unlock()
	}
}
