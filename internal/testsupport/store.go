package testsupport

import (
	"context"
	"testing"

	"newsreel/internal/config"
	"newsreel/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewItem creates a queued work item for tests using the provided store.
func NewItem(t testing.TB, store *queue.Store, tenantID, sourceKey, title string) *queue.Item {
	t.Helper()

	item, created, err := store.Create(context.Background(), tenantID, sourceKey, title, "")
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	if !created {
		t.Fatalf("store.Create: item for %s/%s already existed", tenantID, sourceKey)
	}
	return item
}

// AdvanceTo walks an item through legal transitions until it reaches the
// target status, failing the test when a hop is rejected.
func AdvanceTo(t testing.TB, store *queue.Store, id string, path ...queue.Status) *queue.Item {
	t.Helper()

	ctx := context.Background()
	item, err := store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("store.GetByID: %v", err)
	}
	if item == nil {
		t.Fatalf("item %s not found", id)
	}
	for _, next := range path {
		updated, claimed, err := store.Transition(ctx, id, item.Status, next, nil)
		if err != nil {
			t.Fatalf("transition %s -> %s: %v", item.Status, next, err)
		}
		if !claimed {
			t.Fatalf("transition %s -> %s was not claimed", item.Status, next)
		}
		item = updated
	}
	return item
}
