// Package stagetest provides fakes and fixtures shared by the stage,
// recovery, and workflow tests.
package stagetest

import (
	"context"
	"testing"

	"newsreel/internal/bus"
	"newsreel/internal/queue"
	"newsreel/internal/services"
	"newsreel/internal/testsupport"
)

// Env bundles the store and bus most stage tests need.
type Env struct {
	Store *queue.Store
	Bus   *bus.Bus
}

// NewEnv opens a fresh store and bus backed by a per-test temp dir.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return &Env{
		Store: testsupport.MustOpenStore(t, cfg),
		Bus:   testsupport.MustOpenBus(t, cfg),
	}
}

// Event builds a bus event as a consumer would receive it.
func Event(topic, itemID, tenantID string) bus.Event {
	return bus.Event{Topic: topic, ItemID: itemID, TenantID: tenantID}
}

// ExpectEvent drains the topic under the given group and fails the test unless
// exactly one event for the item is pending. The consumed event is returned.
func ExpectEvent(t testing.TB, b *bus.Bus, group, topic, itemID string) bus.Event {
	t.Helper()
	events, err := b.NextEvents(context.Background(), group, topic, 10)
	if err != nil {
		t.Fatalf("NextEvents(%s): %v", topic, err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event on %s, got %d", topic, len(events))
	}
	if events[0].ItemID != itemID {
		t.Fatalf("event on %s is for %s, want %s", topic, events[0].ItemID, itemID)
	}
	if err := b.Commit(context.Background(), group, topic, events[0].ID); err != nil {
		t.Fatalf("Commit(%s): %v", topic, err)
	}
	return events[0]
}

const scriptFixture = `{"title":"Fixture","description":"d","tags":["science"],"scenes":[{"narration":"n","search_term":"s","seconds":5}]}`

const assetsFixture = `{"clip_paths":["/clips/a.mp4"],"durations":[5],"subtitle_ranges":[]}`

// ItemWithScript creates an item advanced to assets_ready with a stored script.
func ItemWithScript(t testing.TB, store *queue.Store, tenantID, sourceKey string) *queue.Item {
	t.Helper()
	item := testsupport.NewItem(t, store, tenantID, sourceKey, "Fixture")
	testsupport.AdvanceTo(t, store, item.ID, queue.StatusScripting)
	updated, claimed, err := store.Transition(context.Background(), item.ID, queue.StatusScripting, queue.StatusAssetsReady, func(it *queue.Item) {
		it.ScriptJSON = scriptFixture
	})
	if err != nil || !claimed {
		t.Fatalf("advance to assets_ready: claimed=%v err=%v", claimed, err)
	}
	return updated
}

// ItemWithAssets creates an item in assets_ready with script and assets stored.
func ItemWithAssets(t testing.TB, store *queue.Store, tenantID, sourceKey string) *queue.Item {
	t.Helper()
	item := ItemWithScript(t, store, tenantID, sourceKey)
	updated, ok, err := store.UpdateIfStatus(context.Background(), item.ID, queue.StatusAssetsReady, func(it *queue.Item) {
		it.AssetsJSON = assetsFixture
	})
	if err != nil || !ok {
		t.Fatalf("store assets: ok=%v err=%v", ok, err)
	}
	return updated
}

// ItemCompleted creates an item in completed with a rendered file recorded.
func ItemCompleted(t testing.TB, store *queue.Store, tenantID, sourceKey string) *queue.Item {
	t.Helper()
	item := ItemWithAssets(t, store, tenantID, sourceKey)
	testsupport.AdvanceTo(t, store, item.ID, queue.StatusRendering)
	updated, claimed, err := store.Transition(context.Background(), item.ID, queue.StatusRendering, queue.StatusCompleted, func(it *queue.Item) {
		it.RenderedFile = "/media/fixture.mp4"
	})
	if err != nil || !claimed {
		t.Fatalf("advance to completed: claimed=%v err=%v", claimed, err)
	}
	return updated
}

// ScriptFunc adapts a function to services.ScriptService.
type ScriptFunc func(ctx context.Context, title, summary string) (*services.Script, error)

func (f ScriptFunc) Generate(ctx context.Context, title, summary string) (*services.Script, error) {
	return f(ctx, title, summary)
}

// AssetFunc adapts a function to services.AssetService.
type AssetFunc func(ctx context.Context, scenes []services.Scene) (*services.Assets, error)

func (f AssetFunc) Fetch(ctx context.Context, scenes []services.Scene) (*services.Assets, error) {
	return f(ctx, scenes)
}

// RenderFunc adapts a function to services.RenderService.
type RenderFunc func(ctx context.Context, assets *services.Assets, mood string) (string, error)

func (f RenderFunc) Render(ctx context.Context, assets *services.Assets, mood string) (string, error) {
	return f(ctx, assets, mood)
}

// UploadFunc adapts a function to services.UploadService.
type UploadFunc func(ctx context.Context, filePath string, meta services.UploadMeta) (string, error)

func (f UploadFunc) Upload(ctx context.Context, filePath string, meta services.UploadMeta) (string, error) {
	return f(ctx, filePath, meta)
}
