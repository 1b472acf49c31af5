package workflow_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"newsreel/internal/bus"
	"newsreel/internal/config"
	"newsreel/internal/queue"
	"newsreel/internal/quota"
	"newsreel/internal/services"
	"newsreel/internal/stage/stagetest"
	"newsreel/internal/testsupport"
	"newsreel/internal/workflow"
)

func mustOpenLedger(t testing.TB, cfg *config.Config) *quota.Ledger {
	t.Helper()
	ledger, err := quota.Open(cfg)
	if err != nil {
		t.Fatalf("quota.Open: %v", err)
	}
	t.Cleanup(func() {
		ledger.Close()
	})
	return ledger
}

func happyCollaborators(t testing.TB, cfg *config.Config) workflow.Collaborators {
	t.Helper()
	rendered := filepath.Join(cfg.Paths.MediaDir, "clip.mp4")
	return workflow.Collaborators{
		Script: stagetest.ScriptFunc(func(ctx context.Context, title, summary string) (*services.Script, error) {
			return &services.Script{
				Title:       "Rendered: " + title,
				Description: summary,
				Scenes:      []services.Scene{{Narration: "n", SearchTerm: "s", Seconds: 5}},
			}, nil
		}),
		Assets: stagetest.AssetFunc(func(ctx context.Context, scenes []services.Scene) (*services.Assets, error) {
			return &services.Assets{ClipPaths: []string{"/clips/a.mp4"}, Durations: []float64{5}}, nil
		}),
		Render: stagetest.RenderFunc(func(ctx context.Context, assets *services.Assets, mood string) (string, error) {
			if err := os.WriteFile(rendered, []byte("video"), 0o644); err != nil {
				return "", err
			}
			return rendered, nil
		}),
		Upload: stagetest.UploadFunc(func(ctx context.Context, filePath string, meta services.UploadMeta) (string, error) {
			return "https://videos.example/v/1", nil
		}),
	}
}

func dropHeadline(t testing.TB, cfg *config.Config, name, content string) {
	t.Helper()
	if err := os.MkdirAll(cfg.Paths.IngestDir, 0o755); err != nil {
		t.Fatalf("mkdir ingest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Paths.IngestDir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write headline: %v", err)
	}
}

func TestPipelineRunsHeadlineToUpload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	eventBus := testsupport.MustOpenBus(t, cfg)
	ledger := mustOpenLedger(t, cfg)

	mgr, err := workflow.NewManager(cfg, store, eventBus, ledger, nil,
		workflow.WithCollaborators(happyCollaborators(t, cfg)))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	dropHeadline(t, cfg, "story.json", `{"source_key":"feed:1","title":"Probe lands","summary":"details"}`)

	ctx := context.Background()
	if err := mgr.Admit(ctx); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := mgr.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	items, err := store.List(ctx, queue.StatusCompleted)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 completed item, got %d", len(items))
	}
	item := items[0]
	if item.RenderedFile == "" || item.ScriptJSON == "" || item.AssetsJSON == "" {
		t.Fatalf("pipeline artifacts missing: %+v", item)
	}

	// The second cycle releases the completed item against the quota ledger.
	if err := mgr.Admit(ctx); err != nil {
		t.Fatalf("Admit release: %v", err)
	}
	if err := mgr.Drain(ctx); err != nil {
		t.Fatalf("Drain upload: %v", err)
	}

	uploaded, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if uploaded.Status != queue.StatusUploaded {
		t.Fatalf("status = %s, want uploaded", uploaded.Status)
	}
	if uploaded.UploadURL != "https://videos.example/v/1" {
		t.Fatalf("upload url = %q", uploaded.UploadURL)
	}

	remaining, err := ledger.Remaining(ctx, cfg.Tenant.ID)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if want := cfg.Quota.WindowUnits - cfg.Quota.UploadCost; remaining != want {
		t.Fatalf("quota remaining = %d, want %d", remaining, want)
	}
}

func TestTransientUploadFailureRetriesWithinDrain(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	eventBus := testsupport.MustOpenBus(t, cfg)
	ledger := mustOpenLedger(t, cfg)

	var calls atomic.Int32
	collab := happyCollaborators(t, cfg)
	collab.Upload = stagetest.UploadFunc(func(ctx context.Context, filePath string, meta services.UploadMeta) (string, error) {
		if calls.Add(1) == 1 {
			return "", services.Wrap(services.ErrTransient, "upload", "publish", "503 from provider", nil)
		}
		return "https://videos.example/v/2", nil
	})

	mgr, err := workflow.NewManager(cfg, store, eventBus, ledger, nil,
		workflow.WithCollaborators(collab))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	item := stagetest.ItemCompleted(t, store, cfg.Tenant.ID, "feed:retry")

	ctx := context.Background()
	if err := mgr.Admit(ctx); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := mgr.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	final, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != queue.StatusUploaded {
		t.Fatalf("status = %s, want uploaded", final.Status)
	}
	if final.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", final.RetryCount)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("upload calls = %d, want 2", got)
	}

	// The retry kept the original reservation, so only one cost was charged.
	remaining, err := ledger.Remaining(ctx, cfg.Tenant.ID)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if want := cfg.Quota.WindowUnits - cfg.Quota.UploadCost; remaining != want {
		t.Fatalf("quota remaining = %d, want %d", remaining, want)
	}
}

func TestDeadLetterFailsItem(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRetryLimit(1))
	store := testsupport.MustOpenStore(t, cfg)
	eventBus := testsupport.MustOpenBus(t, cfg)
	ledger := mustOpenLedger(t, cfg)

	collab := happyCollaborators(t, cfg)
	collab.Script = stagetest.ScriptFunc(func(ctx context.Context, title, summary string) (*services.Script, error) {
		return nil, services.Wrap(services.ErrTransient, "script", "generate", "model overloaded", nil)
	})

	mgr, err := workflow.NewManager(cfg, store, eventBus, ledger, nil,
		workflow.WithCollaborators(collab))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	dropHeadline(t, cfg, "story.json", `{"source_key":"feed:dl","title":"Doomed"}`)

	ctx := context.Background()
	if err := mgr.Admit(ctx); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := mgr.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	items, err := store.List(ctx, queue.StatusFailed)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 failed item, got %d", len(items))
	}
	if items[0].FailureStage != "script" {
		t.Fatalf("failure stage = %q, want script", items[0].FailureStage)
	}

	letters, err := eventBus.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(letters) != 1 || letters[0].Topic != bus.TopicScriptRequest {
		t.Fatalf("unexpected dead letters: %+v", letters)
	}
}

func TestTransientScriptFailureUsesEveryDeliveryAttempt(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBusDelivery(3, 1))
	store := testsupport.MustOpenStore(t, cfg)
	eventBus := testsupport.MustOpenBus(t, cfg)
	ledger := mustOpenLedger(t, cfg)

	var calls atomic.Int32
	collab := happyCollaborators(t, cfg)
	collab.Script = stagetest.ScriptFunc(func(ctx context.Context, title, summary string) (*services.Script, error) {
		calls.Add(1)
		return nil, services.Wrap(services.ErrTransient, "script", "generate", "model overloaded", nil)
	})

	mgr, err := workflow.NewManager(cfg, store, eventBus, ledger, nil,
		workflow.WithCollaborators(collab))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	dropHeadline(t, cfg, "story.json", `{"source_key":"feed:flaky","title":"Keeps failing"}`)

	ctx := context.Background()
	if err := mgr.Admit(ctx); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := mgr.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	// Every redelivery must re-claim and call the collaborator again; a held
	// claim would end the attempt sequence after one call.
	if got := calls.Load(); got != int32(cfg.Bus.DeliveryAttempts) {
		t.Fatalf("script calls = %d, want %d", got, cfg.Bus.DeliveryAttempts)
	}

	items, err := store.List(ctx, queue.StatusFailed)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 failed item after exhausted deliveries, got %d", len(items))
	}
	if items[0].FailureStage != "script" {
		t.Fatalf("failure stage = %q, want script", items[0].FailureStage)
	}

	letters, err := eventBus.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(letters) != 1 || letters[0].Topic != bus.TopicScriptRequest {
		t.Fatalf("unexpected dead letters: %+v", letters)
	}
	if letters[0].Attempts != cfg.Bus.DeliveryAttempts {
		t.Fatalf("recorded attempts = %d, want %d", letters[0].Attempts, cfg.Bus.DeliveryAttempts)
	}
}

func TestRetryItemRequeuesFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	eventBus := testsupport.MustOpenBus(t, cfg)
	ledger := mustOpenLedger(t, cfg)

	mgr, err := workflow.NewManager(cfg, store, eventBus, ledger, nil,
		workflow.WithCollaborators(happyCollaborators(t, cfg)))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx := context.Background()
	item := testsupport.NewItem(t, store, cfg.Tenant.ID, "feed:op", "Operator retry")
	if _, _, err := store.MarkFailed(ctx, item.ID, "render", "ffmpeg crashed"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	requeued, err := mgr.RetryItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("RetryItem: %v", err)
	}
	if requeued.Status != queue.StatusQueued || requeued.FailureStage != "" {
		t.Fatalf("requeued item = %+v", requeued)
	}
	stagetest.ExpectEvent(t, eventBus, "ops-check", bus.TopicScriptRequest, item.ID)

	if _, err := mgr.RetryItem(ctx, item.ID); err == nil {
		t.Fatal("expected error retrying a queued item")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	eventBus := testsupport.MustOpenBus(t, cfg)
	ledger := mustOpenLedger(t, cfg)

	mgr, err := workflow.NewManager(cfg, store, eventBus, ledger, nil,
		workflow.WithCollaborators(happyCollaborators(t, cfg)))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := mgr.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}
	if !mgr.Status(ctx).Running {
		t.Fatal("expected running status")
	}

	mgr.Stop()
	if mgr.Status(ctx).Running {
		t.Fatal("expected stopped status")
	}
}

func TestSharedPoolManagerOnlyRenders(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTenant("shared-pool"))
	store := testsupport.MustOpenStore(t, cfg)
	eventBus := testsupport.MustOpenBus(t, cfg)
	ledger := mustOpenLedger(t, cfg)

	mgr, err := workflow.NewManager(cfg, store, eventBus, ledger, nil,
		workflow.WithCollaborators(happyCollaborators(t, cfg)))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx := context.Background()
	if err := mgr.Admit(ctx); err == nil {
		t.Fatal("expected Admit to fail for the shared pool")
	}

	status := mgr.Status(ctx)
	if len(status.StageHealth) != 1 {
		t.Fatalf("expected only the render stage, got %v", status.StageHealth)
	}
	if _, ok := status.StageHealth["render"]; !ok {
		t.Fatalf("render stage missing from %v", status.StageHealth)
	}
}
