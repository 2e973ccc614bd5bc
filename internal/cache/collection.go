// Package cache keeps list-shaped collections synchronized with the
// remote store without a full refetch on every access.
//
// The in-memory copy is authoritative for consumers; the persisted copy is
// a best-effort warm start. Mutations patch the in-memory list
// optimistically and re-persist it; change-feed events are merged one
// record at a time.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/intervox/internal/realtime"
	"github.com/ashureev/intervox/internal/store"
)

// Keyed is a record with a stable identity used for merging.
type Keyed interface {
	Key() string
}

// expectedTTL is how long a locally mutated record suppresses its own echo
// from the change feed.
const expectedTTL = 10 * time.Second

// Collection is one owner-keyed cached collection of records.
type Collection[T Keyed] struct {
	namespace string
	repo      store.Repository
	fetchOne  func(ctx context.Context, id string) (T, bool, error)
	fetchAll  func(ctx context.Context, ownerID string) ([]T, error)
	now       func() time.Time

	mu       sync.Mutex
	lists    map[string][]T
	hydrated map[string]bool
	expected map[string]time.Time
}

// NewCollection creates a cached collection for one namespace.
func NewCollection[T Keyed](
	namespace string,
	repo store.Repository,
	fetchOne func(ctx context.Context, id string) (T, bool, error),
	fetchAll func(ctx context.Context, ownerID string) ([]T, error),
) *Collection[T] {
	return &Collection[T]{
		namespace: namespace,
		repo:      repo,
		fetchOne:  fetchOne,
		fetchAll:  fetchAll,
		now:       time.Now,
		lists:     map[string][]T{},
		hydrated:  map[string]bool{},
		expected:  map[string]time.Time{},
	}
}

// Hydrate seeds the in-memory list from the persisted copy on first access
// for an owner. The persisted data is provisional; corruption or absence
// degrades to an empty seed, never an error.
func (c *Collection[T]) Hydrate(ctx context.Context, ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hydrated[ownerID] {
		return
	}
	c.hydrated[ownerID] = true

	payload, err := c.repo.ReadList(ctx, c.namespace, ownerID)
	if err != nil {
		slog.Debug("Cached collection unreadable, starting empty",
			"namespace", c.namespace,
			"owner_id", ownerID,
			"error", err)
		return
	}
	if payload == nil {
		return
	}

	var list []T
	if err := json.Unmarshal(payload, &list); err != nil {
		slog.Debug("Cached collection corrupted, starting empty",
			"namespace", c.namespace,
			"owner_id", ownerID,
			"error", err)
		return
	}
	c.lists[ownerID] = list
}

// List returns a copy of the owner's in-memory list.
func (c *Collection[T]) List(ownerID string) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.lists[ownerID]...)
}

// Put applies an optimistic create or update: an existing record is
// replaced in place by key, a new one is inserted at the head. The updated
// list is re-persisted immediately.
func (c *Collection[T]) Put(ctx context.Context, ownerID string, rec T) {
	c.mu.Lock()
	c.sweepExpectedLocked()
	c.expected[rec.Key()] = c.now().Add(expectedTTL)
	c.lists[ownerID] = mergeRecord(c.lists[ownerID], rec)
	c.persistLocked(ctx, ownerID)
	c.mu.Unlock()
}

// Remove applies an optimistic delete and re-persists the list.
func (c *Collection[T]) Remove(ctx context.Context, ownerID, key string) {
	c.mu.Lock()
	c.sweepExpectedLocked()
	c.expected[key] = c.now().Add(expectedTTL)
	c.lists[ownerID] = filterRecord(c.lists[ownerID], key)
	c.persistLocked(ctx, ownerID)
	c.mu.Unlock()
}

// ApplyChange merges one change-feed event. Events echoing the owner's own
// recent optimistic mutation are skipped. For inserts and updates the
// single affected record is fetched from the remote store; a record that
// no longer exists remotely is filtered out.
func (c *Collection[T]) ApplyChange(ctx context.Context, ev realtime.Event) {
	c.mu.Lock()
	suppress := false
	if until, ok := c.expected[ev.RecordID]; ok && c.now().Before(until) {
		suppress = true
	}
	// Entries past their window are dropped here whether or not their echo
	// ever arrives, so the map does not grow for the session lifetime.
	c.sweepExpectedLocked()
	c.mu.Unlock()
	if suppress {
		return
	}

	if ev.Action == realtime.ActionDelete {
		c.mu.Lock()
		c.lists[ev.OwnerID] = filterRecord(c.lists[ev.OwnerID], ev.RecordID)
		c.persistLocked(ctx, ev.OwnerID)
		c.mu.Unlock()
		return
	}

	rec, found, err := c.fetchOne(ctx, ev.RecordID)
	if err != nil {
		slog.Warn("Failed to fetch changed record",
			"namespace", c.namespace,
			"record_id", ev.RecordID,
			"error", err)
		return
	}

	c.mu.Lock()
	if !found {
		c.lists[ev.OwnerID] = filterRecord(c.lists[ev.OwnerID], ev.RecordID)
	} else {
		c.lists[ev.OwnerID] = mergeRecord(c.lists[ev.OwnerID], rec)
	}
	c.persistLocked(ctx, ev.OwnerID)
	c.mu.Unlock()
}

// Refresh discards the cached list and rebuilds it from the remote store.
func (c *Collection[T]) Refresh(ctx context.Context, ownerID string) error {
	list, err := c.fetchAll(ctx, ownerID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.hydrated[ownerID] = true
	c.lists[ownerID] = list
	c.persistLocked(ctx, ownerID)
	c.mu.Unlock()
	return nil
}

// sweepExpectedLocked drops echo-suppression entries whose window has
// passed. Must be called with mu held.
func (c *Collection[T]) sweepExpectedLocked() {
	now := c.now()
	for key, until := range c.expected {
		if !now.Before(until) {
			delete(c.expected, key)
		}
	}
}

// persistLocked writes the in-memory list through to local storage.
// Persistence is best effort; failures are logged, never surfaced.
func (c *Collection[T]) persistLocked(ctx context.Context, ownerID string) {
	payload, err := json.Marshal(c.lists[ownerID])
	if err != nil {
		slog.Warn("Failed to encode cached collection",
			"namespace", c.namespace,
			"error", err)
		return
	}
	if err := c.repo.WriteList(ctx, c.namespace, ownerID, payload); err != nil {
		slog.Warn("Failed to persist cached collection",
			"namespace", c.namespace,
			"owner_id", ownerID,
			"error", err)
	}
}

// mergeRecord replaces an existing record by key, or inserts at the head.
// The result carries exactly one entry per distinct key.
func mergeRecord[T Keyed](list []T, rec T) []T {
	for i, existing := range list {
		if existing.Key() == rec.Key() {
			out := append([]T(nil), list...)
			out[i] = rec
			return out
		}
	}
	out := make([]T, 0, len(list)+1)
	out = append(out, rec)
	return append(out, list...)
}

func filterRecord[T Keyed](list []T, key string) []T {
	out := make([]T, 0, len(list))
	for _, rec := range list {
		if rec.Key() != key {
			out = append(out, rec)
		}
	}
	return out
}
