package queue

import (
	"fmt"
	"sync"
	"time"
)

// Store abstracts queue item persistence.
type Store interface {
	SaveQueueItem(Item) error
	GetQueueItem(id string) (Item, error)
	UpdateQueueItem(Item) error
	ListQueueItems(limit, offset int) ([]Item, error)
	TransitionQueueStatus(id string, from []Status, to Status) (bool, error)
}

// Queue owns all queue item mutation. Collaborators (processor, executor,
// approval handler) read and write items only through it, never by holding
// a private copy — Mutate re-reads the persisted row every time.
type Queue struct {
	store Store

	mu sync.Mutex // serializes read-modify-write cycles in this process
}

// New creates a Queue over the given store.
func New(store Store) *Queue {
	return &Queue{store: store}
}

// Create persists a new item.
func (q *Queue) Create(item Item) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.UpdatedAt = item.CreatedAt
	return q.store.SaveQueueItem(item)
}

// Get returns the item with the given id.
func (q *Queue) Get(id string) (Item, error) {
	return q.store.GetQueueItem(id)
}

// List returns items newest-first.
func (q *Queue) List(limit, offset int) ([]Item, error) {
	return q.store.ListQueueItems(limit, offset)
}

// Mutate loads the item fresh, applies fn, and writes it back, all under
// the queue lock. fn returning an error abandons the write.
func (q *Queue) Mutate(id string, fn func(*Item) error) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.store.GetQueueItem(id)
	if err != nil {
		return Item{}, err
	}
	if err := fn(&item); err != nil {
		return Item{}, err
	}
	item.UpdatedAt = time.Now().UTC()
	if err := q.store.UpdateQueueItem(item); err != nil {
		return Item{}, err
	}
	return item, nil
}

// SetStatus moves the item to the given status, enforcing the transition
// table.
func (q *Queue) SetStatus(id string, to Status) (Item, error) {
	return q.Mutate(id, func(it *Item) error {
		if !CanTransition(it.Status, to) {
			return fmt.Errorf("illegal transition %s -> %s for queue item %s", it.Status, to, id)
		}
		it.Status = to
		return nil
	})
}

// Transition performs a conditional status update directly against the
// store: the write succeeds only if the persisted status is one of from.
// This is the guard that survives multiple server instances sharing one
// database.
func (q *Queue) Transition(id string, from []Status, to Status) (bool, error) {
	return q.store.TransitionQueueStatus(id, from, to)
}
