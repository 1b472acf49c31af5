package stage_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"newsreel/internal/bus"
	"newsreel/internal/queue"
	"newsreel/internal/services"
	"newsreel/internal/stage"
	"newsreel/internal/stage/stagetest"
	"newsreel/internal/tenancy"
	"newsreel/internal/testsupport"
)

func TestScriptStageAdvancesAndRequestsAssets(t *testing.T) {
	env := stagetest.NewEnv(t)
	item := testsupport.NewItem(t, env.Store, "channel-a", "feed:s1", "Fusion milestone")
	ctx := context.Background()

	script := &services.Script{
		Title:  "Fusion milestone",
		Scenes: []services.Scene{{Narration: "intro", SearchTerm: "fusion reactor", Seconds: 5}},
	}
	handler := stage.NewScriptStage(env.Store, env.Bus, stagetest.ScriptFunc(func(ctx context.Context, title, summary string) (*services.Script, error) {
		return script, nil
	}), tenancy.NewPolicy("channel-a"), nil, nil)

	err := handler.Handle(ctx, stagetest.Event(bus.TopicScriptRequest, item.ID, "channel-a"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored, err := env.Store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != queue.StatusAssetsReady {
		t.Fatalf("status = %s, want assets_ready", stored.Status)
	}
	var decoded services.Script
	if err := json.Unmarshal([]byte(stored.ScriptJSON), &decoded); err != nil {
		t.Fatalf("stored script invalid: %v", err)
	}
	if len(decoded.Scenes) != 1 {
		t.Fatalf("scenes lost in storage: %+v", decoded)
	}

	stagetest.ExpectEvent(t, env.Bus, "ops-check", bus.TopicAssetsRequest, item.ID)
}

func TestScriptStageIgnoresForeignTenant(t *testing.T) {
	env := stagetest.NewEnv(t)
	item := testsupport.NewItem(t, env.Store, "channel-b", "feed:s2", "Other channel")

	handler := stage.NewScriptStage(env.Store, env.Bus, stagetest.ScriptFunc(func(ctx context.Context, title, summary string) (*services.Script, error) {
		t.Fatal("script service must not be called for a foreign tenant")
		return nil, nil
	}), tenancy.NewPolicy("channel-a"), nil, nil)

	if err := handler.Handle(context.Background(), stagetest.Event(bus.TopicScriptRequest, item.ID, "channel-b")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored, _ := env.Store.GetByID(context.Background(), item.ID)
	if stored.Status != queue.StatusQueued {
		t.Fatalf("foreign item must be untouched, got %s", stored.Status)
	}
}

func TestScriptStageDropsLostClaim(t *testing.T) {
	env := stagetest.NewEnv(t)
	item := testsupport.NewItem(t, env.Store, "channel-a", "feed:s3", "Already claimed")
	testsupport.AdvanceTo(t, env.Store, item.ID, queue.StatusScripting)

	handler := stage.NewScriptStage(env.Store, env.Bus, stagetest.ScriptFunc(func(ctx context.Context, title, summary string) (*services.Script, error) {
		t.Fatal("script service must not run without a claim")
		return nil, nil
	}), tenancy.NewPolicy("channel-a"), nil, nil)

	if err := handler.Handle(context.Background(), stagetest.Event(bus.TopicScriptRequest, item.ID, "channel-a")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

func TestScriptStagePermanentErrorFailsItem(t *testing.T) {
	env := stagetest.NewEnv(t)
	item := testsupport.NewItem(t, env.Store, "channel-a", "feed:s4", "Bad input")
	ctx := context.Background()

	cause := services.Wrap(services.ErrValidation, "script", "generate", "empty scenes", nil)
	handler := stage.NewScriptStage(env.Store, env.Bus, stagetest.ScriptFunc(func(ctx context.Context, title, summary string) (*services.Script, error) {
		return nil, cause
	}), tenancy.NewPolicy("channel-a"), nil, nil)

	if err := handler.Handle(ctx, stagetest.Event(bus.TopicScriptRequest, item.ID, "channel-a")); err != nil {
		t.Fatalf("permanent failure must not propagate for retry: %v", err)
	}

	stored, _ := env.Store.GetByID(ctx, item.ID)
	if stored.Status != queue.StatusFailed || stored.FailureStage != "script" {
		t.Fatalf("item not failed correctly: %+v", stored)
	}
}

func TestScriptStageTransientErrorReleasesClaim(t *testing.T) {
	env := stagetest.NewEnv(t)
	item := testsupport.NewItem(t, env.Store, "channel-a", "feed:s5", "Flaky provider")
	ctx := context.Background()

	cause := services.Wrap(services.ErrTransient, "script", "generate", "provider 503", nil)
	handler := stage.NewScriptStage(env.Store, env.Bus, stagetest.ScriptFunc(func(ctx context.Context, title, summary string) (*services.Script, error) {
		return nil, cause
	}), tenancy.NewPolicy("channel-a"), nil, nil)

	err := handler.Handle(ctx, stagetest.Event(bus.TopicScriptRequest, item.ID, "channel-a"))
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error back for bus retry, got %v", err)
	}

	// The claim must be released: a redelivery that finds the item still in
	// scripting loses the CAS and commits without calling the collaborator.
	stored, _ := env.Store.GetByID(ctx, item.ID)
	if stored.Status != queue.StatusQueued {
		t.Fatalf("item should be back in queued for the retry, got %s", stored.Status)
	}

	// The released item is claimable again on the next delivery.
	if err := handler.Handle(ctx, stagetest.Event(bus.TopicScriptRequest, item.ID, "channel-a")); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("redelivery must re-execute the stage, got %v", err)
	}
}

func TestRenderStageTransientErrorReleasesClaim(t *testing.T) {
	env := stagetest.NewEnv(t)
	item := stagetest.ItemWithAssets(t, env.Store, "channel-a", "feed:s6")
	ctx := context.Background()

	cause := services.Wrap(services.ErrTransient, "render", "render", "pool busy", nil)
	handler := stage.NewRenderStage(env.Store, env.Bus, stagetest.RenderFunc(func(ctx context.Context, assets *services.Assets, mood string) (string, error) {
		return "", cause
	}), tenancy.NewPolicy("channel-a"), "documentary", nil, nil)

	err := handler.Handle(ctx, stagetest.Event(bus.TopicRenderTrigger, item.ID, "channel-a"))
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error back for bus retry, got %v", err)
	}

	stored, _ := env.Store.GetByID(ctx, item.ID)
	if stored.Status != queue.StatusAssetsReady {
		t.Fatalf("item should be back in assets_ready for the retry, got %s", stored.Status)
	}
}

func TestAssetsStageStoresClipsAndTriggersRender(t *testing.T) {
	env := stagetest.NewEnv(t)
	item := stagetest.ItemWithScript(t, env.Store, "channel-a", "feed:a1")
	ctx := context.Background()

	assets := &services.Assets{ClipPaths: []string{"/clips/a.mp4"}, Durations: []float64{5}}
	handler := stage.NewAssetsStage(env.Store, env.Bus, stagetest.AssetFunc(func(ctx context.Context, scenes []services.Scene) (*services.Assets, error) {
		if len(scenes) == 0 {
			t.Fatal("scenes not passed through")
		}
		return assets, nil
	}), tenancy.NewPolicy("channel-a"), nil, nil)

	if err := handler.Handle(ctx, stagetest.Event(bus.TopicAssetsRequest, item.ID, "channel-a")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored, _ := env.Store.GetByID(ctx, item.ID)
	if stored.Status != queue.StatusAssetsReady {
		t.Fatalf("assets stage must not change status, got %s", stored.Status)
	}
	if stored.AssetsJSON == "" {
		t.Fatal("assets not persisted")
	}

	stagetest.ExpectEvent(t, env.Bus, "ops-check", bus.TopicRenderTrigger, item.ID)
}

func TestRenderStageServesAllTenantsFromSharedPool(t *testing.T) {
	env := stagetest.NewEnv(t)
	ctx := context.Background()

	itemA := stagetest.ItemWithAssets(t, env.Store, "channel-a", "feed:r1")
	itemB := stagetest.ItemWithAssets(t, env.Store, "channel-b", "feed:r2")

	handler := stage.NewRenderStage(env.Store, env.Bus, stagetest.RenderFunc(func(ctx context.Context, assets *services.Assets, mood string) (string, error) {
		return "/media/out.mp4", nil
	}), tenancy.NewPolicy(tenancy.SharedPool), "documentary", nil, nil)

	for _, item := range []*queue.Item{itemA, itemB} {
		if err := handler.Handle(ctx, stagetest.Event(bus.TopicRenderTrigger, item.ID, item.TenantID)); err != nil {
			t.Fatalf("Handle %s: %v", item.TenantID, err)
		}
		stored, _ := env.Store.GetByID(ctx, item.ID)
		if stored.Status != queue.StatusCompleted {
			t.Fatalf("%s: status = %s, want completed", item.TenantID, stored.Status)
		}
		if stored.RenderedFile != "/media/out.mp4" {
			t.Fatalf("%s: rendered file not stored", item.TenantID)
		}
	}

	// Render completion must not trigger upload directly.
	events, err := env.Bus.NextEvents(ctx, "ops-check", bus.TopicUploadTrigger, 10)
	if err != nil {
		t.Fatalf("NextEvents: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("render stage must not publish upload triggers: %+v", events)
	}
}

func TestUploadStageSuccess(t *testing.T) {
	env := stagetest.NewEnv(t)
	item := stagetest.ItemCompleted(t, env.Store, "channel-a", "feed:u1")
	ctx := context.Background()

	handler := stage.NewUploadStage(env.Store, env.Bus, stagetest.UploadFunc(func(ctx context.Context, filePath string, meta services.UploadMeta) (string, error) {
		if filePath == "" {
			t.Fatal("rendered file not passed to uploader")
		}
		return "https://example.com/watch/abc", nil
	}), tenancy.NewPolicy("channel-a"), nil, nil)

	if err := handler.Handle(ctx, stagetest.Event(bus.TopicUploadTrigger, item.ID, "channel-a")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored, _ := env.Store.GetByID(ctx, item.ID)
	if stored.Status != queue.StatusUploaded {
		t.Fatalf("status = %s, want uploaded", stored.Status)
	}
	if stored.UploadURL != "https://example.com/watch/abc" {
		t.Fatalf("upload url not stored: %q", stored.UploadURL)
	}
}

func TestUploadStageFailurePublishesEventAndKeepsUploading(t *testing.T) {
	env := stagetest.NewEnv(t)
	item := stagetest.ItemCompleted(t, env.Store, "channel-a", "feed:u2")
	ctx := context.Background()

	cause := services.Wrap(services.ErrQuotaExhausted, "upload", "publish", "daily limit", nil)
	handler := stage.NewUploadStage(env.Store, env.Bus, stagetest.UploadFunc(func(ctx context.Context, filePath string, meta services.UploadMeta) (string, error) {
		return "", cause
	}), tenancy.NewPolicy("channel-a"), nil, nil)

	if err := handler.Handle(ctx, stagetest.Event(bus.TopicUploadTrigger, item.ID, "channel-a")); err != nil {
		t.Fatalf("upload failure must not propagate: %v", err)
	}

	stored, _ := env.Store.GetByID(ctx, item.ID)
	if stored.Status != queue.StatusUploading {
		t.Fatalf("item must stay in uploading for the coordinator, got %s", stored.Status)
	}

	event := stagetest.ExpectEvent(t, env.Bus, "ops-check", bus.TopicUploadFailed, item.ID)
	var payload services.UploadFailure
	if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Kind != services.FailureQuotaExhausted {
		t.Fatalf("kind = %s, want quota_exhausted", payload.Kind)
	}
}
