package recovery_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"newsreel/internal/bus"
	"newsreel/internal/config"
	"newsreel/internal/queue"
	"newsreel/internal/quota"
	"newsreel/internal/recovery"
	"newsreel/internal/services"
	"newsreel/internal/stage/stagetest"
	"newsreel/internal/tenancy"
	"newsreel/internal/testsupport"
)

func uploadFailedEvent(t *testing.T, itemID, tenantID string, kind services.FailureKind) bus.Event {
	t.Helper()
	payload, err := json.Marshal(services.UploadFailure{Kind: kind, Message: "provider says no"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return bus.Event{Topic: bus.TopicUploadFailed, ItemID: itemID, TenantID: tenantID, Payload: string(payload)}
}

func itemUploading(t *testing.T, env *stagetest.Env, tenantID, sourceKey, renderedFile string, retryCount int) *queue.Item {
	t.Helper()
	item := stagetest.ItemCompleted(t, env.Store, tenantID, sourceKey)
	uploading, claimed, err := env.Store.Transition(context.Background(), item.ID, queue.StatusCompleted, queue.StatusUploading, func(it *queue.Item) {
		it.RenderedFile = renderedFile
		it.RetryCount = retryCount
	})
	if err != nil || !claimed {
		t.Fatalf("advance to uploading: claimed=%v err=%v", claimed, err)
	}
	return uploading
}

func openLedger(t *testing.T) *quota.Ledger {
	t.Helper()
	ledger, err := quota.OpenPath(
		filepath.Join(t.TempDir(), "quota.db"),
		config.Quota{WindowUnits: 3200, UploadCost: 1600, ResetHourUTC: 7},
	)
	if err != nil {
		t.Fatalf("quota.OpenPath: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func TestQuotaExhaustionDefersAndReleasesReservation(t *testing.T) {
	env := stagetest.NewEnv(t)
	ledger := openLedger(t)
	ctx := context.Background()

	// Admission reserved before triggering the upload.
	if ok, err := ledger.Reserve(ctx, "channel-a"); err != nil || !ok {
		t.Fatalf("seed reservation: ok=%v err=%v", ok, err)
	}

	item := itemUploading(t, env, "channel-a", "feed:q1", "/media/fixture.mp4", 0)
	coord := recovery.NewCoordinator(env.Store, env.Bus, ledger, tenancy.NewPolicy("channel-a"), 3, 1, nil, nil)

	if err := coord.Handle(ctx, uploadFailedEvent(t, item.ID, "channel-a", services.FailureQuotaExhausted)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored, _ := env.Store.GetByID(ctx, item.ID)
	if stored.Status != queue.StatusQuotaBlocked {
		t.Fatalf("status = %s, want quota_blocked", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Fatalf("quota deferral must not consume retry budget, got %d", stored.RetryCount)
	}

	remaining, err := ledger.Remaining(ctx, "channel-a")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if remaining != 3200 {
		t.Fatalf("reservation not released: remaining = %d", remaining)
	}
}

func TestTransientFailureUnderCapRetriesDirectly(t *testing.T) {
	env := stagetest.NewEnv(t)
	ctx := context.Background()

	item := itemUploading(t, env, "channel-a", "feed:t1", "/media/fixture.mp4", 0)
	coord := recovery.NewCoordinator(env.Store, env.Bus, nil, tenancy.NewPolicy("channel-a"), 3, 1, nil, nil)

	if err := coord.Handle(ctx, uploadFailedEvent(t, item.ID, "channel-a", services.FailureTransient)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored, _ := env.Store.GetByID(ctx, item.ID)
	if stored.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if stored.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", stored.RetryCount)
	}

	stagetest.ExpectEvent(t, env.Bus, "ops-check", bus.TopicUploadTrigger, item.ID)
}

func TestRetryCapWithUsableArtifactResetsBudget(t *testing.T) {
	env := stagetest.NewEnv(t)
	ctx := context.Background()

	rendered := filepath.Join(t.TempDir(), "out.mp4")
	testsupport.WriteFile(t, rendered, 2048)

	item := itemUploading(t, env, "channel-a", "feed:t2", rendered, 3)
	coord := recovery.NewCoordinator(env.Store, env.Bus, nil, tenancy.NewPolicy("channel-a"), 3, 1, nil, nil)

	if err := coord.Handle(ctx, uploadFailedEvent(t, item.ID, "channel-a", services.FailureTransient)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored, _ := env.Store.GetByID(ctx, item.ID)
	if stored.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Fatalf("retry count = %d, want reset to 0", stored.RetryCount)
	}

	// No direct republish: admission decides when to release it again.
	events, err := env.Bus.NextEvents(ctx, "ops-check", bus.TopicUploadTrigger, 10)
	if err != nil {
		t.Fatalf("NextEvents: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("false-failure resume must not republish the trigger: %+v", events)
	}
}

func TestRetryCapWithoutArtifactRequestsRegeneration(t *testing.T) {
	env := stagetest.NewEnv(t)
	ctx := context.Background()

	item := itemUploading(t, env, "channel-a", "feed:t3", filepath.Join(t.TempDir(), "missing.mp4"), 3)
	coord := recovery.NewCoordinator(env.Store, env.Bus, nil, tenancy.NewPolicy("channel-a"), 3, 1, nil, nil)

	if err := coord.Handle(ctx, uploadFailedEvent(t, item.ID, "channel-a", services.FailureTransient)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored, _ := env.Store.GetByID(ctx, item.ID)
	if stored.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if stored.FailureStage != "upload" {
		t.Fatalf("failure stage = %q", stored.FailureStage)
	}

	stagetest.ExpectEvent(t, env.Bus, "ops-check", bus.TopicRegenRequested, item.ID)
}

func TestRegenBudgetExhaustedFailsPermanently(t *testing.T) {
	env := stagetest.NewEnv(t)
	ctx := context.Background()

	item := stagetest.ItemCompleted(t, env.Store, "channel-a", "feed:t4")
	uploading, claimed, err := env.Store.Transition(ctx, item.ID, queue.StatusCompleted, queue.StatusUploading, func(it *queue.Item) {
		it.RenderedFile = filepath.Join(t.TempDir(), "missing.mp4")
		it.RetryCount = 3
		it.RegenCount = 1
	})
	if err != nil || !claimed {
		t.Fatalf("advance to uploading: claimed=%v err=%v", claimed, err)
	}

	coord := recovery.NewCoordinator(env.Store, env.Bus, nil, tenancy.NewPolicy("channel-a"), 3, 1, nil, nil)
	if err := coord.Handle(ctx, uploadFailedEvent(t, uploading.ID, "channel-a", services.FailureTransient)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored, _ := env.Store.GetByID(ctx, uploading.ID)
	if stored.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}

	events, err := env.Bus.NextEvents(ctx, "ops-check", bus.TopicRegenRequested, 10)
	if err != nil {
		t.Fatalf("NextEvents: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("regeneration must not be requested past the budget: %+v", events)
	}

	// The exhausted failure is preserved for inspection and replay.
	letters, err := env.Bus.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(letters) != 1 || letters[0].Topic != bus.TopicUploadFailed || letters[0].ItemID != uploading.ID {
		t.Fatalf("expected the upload failure parked, got %+v", letters)
	}
}

func TestPermanentUploadFailureFailsAndParks(t *testing.T) {
	env := stagetest.NewEnv(t)
	ctx := context.Background()

	item := itemUploading(t, env, "channel-a", "feed:t6", "/media/fixture.mp4", 0)
	coord := recovery.NewCoordinator(env.Store, env.Bus, nil, tenancy.NewPolicy("channel-a"), 3, 1, nil, nil)

	if err := coord.Handle(ctx, uploadFailedEvent(t, item.ID, "channel-a", services.FailurePermanent)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored, _ := env.Store.GetByID(ctx, item.ID)
	if stored.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Fatalf("permanent failure must not consume retry budget, got %d", stored.RetryCount)
	}

	letters, err := env.Bus.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(letters) != 1 || letters[0].Topic != bus.TopicUploadFailed || letters[0].ItemID != item.ID {
		t.Fatalf("expected the upload failure parked, got %+v", letters)
	}
}

func TestStaleUploadFailedEventIsIgnored(t *testing.T) {
	env := stagetest.NewEnv(t)
	ctx := context.Background()

	// Item already resolved to uploaded by the time the event arrives.
	item := itemUploading(t, env, "channel-a", "feed:t5", "/media/fixture.mp4", 0)
	if _, claimed, err := env.Store.Transition(ctx, item.ID, queue.StatusUploading, queue.StatusUploaded, nil); err != nil || !claimed {
		t.Fatalf("advance to uploaded: claimed=%v err=%v", claimed, err)
	}

	coord := recovery.NewCoordinator(env.Store, env.Bus, nil, tenancy.NewPolicy("channel-a"), 3, 1, nil, nil)
	if err := coord.Handle(ctx, uploadFailedEvent(t, item.ID, "channel-a", services.FailureTransient)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored, _ := env.Store.GetByID(ctx, item.ID)
	if stored.Status != queue.StatusUploaded {
		t.Fatalf("stale event must not touch the item, got %s", stored.Status)
	}
}

func TestRegeneratorRevivesFailedItem(t *testing.T) {
	env := stagetest.NewEnv(t)
	ctx := context.Background()

	item := stagetest.ItemCompleted(t, env.Store, "channel-a", "feed:r1")
	failed, ok, err := env.Store.MarkFailed(ctx, item.ID, "upload", "gone")
	if err != nil || !ok {
		t.Fatalf("MarkFailed: ok=%v err=%v", ok, err)
	}

	regen := recovery.NewRegenerator(env.Store, env.Bus, tenancy.NewPolicy("channel-a"), 1, nil, nil)
	if err := regen.Handle(ctx, bus.Event{Topic: bus.TopicRegenRequested, ItemID: failed.ID, TenantID: "channel-a"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored, _ := env.Store.GetByID(ctx, failed.ID)
	if stored.Status != queue.StatusQueued {
		t.Fatalf("status = %s, want queued", stored.Status)
	}
	if stored.RegenCount != 1 || stored.RetryCount != 0 {
		t.Fatalf("budgets wrong after revival: regen=%d retry=%d", stored.RegenCount, stored.RetryCount)
	}
	if stored.FailureStage != "" || stored.FailureMessage != "" {
		t.Fatalf("failure detail must be cleared: %+v", stored)
	}
	if stored.ScriptJSON == "" || stored.RenderedFile == "" {
		t.Fatal("previous artifacts must be preserved for inspection")
	}

	stagetest.ExpectEvent(t, env.Bus, "ops-check", bus.TopicScriptRequest, failed.ID)

	// A second request for the same item exceeds the budget and is ignored.
	if _, _, err := env.Store.MarkFailed(ctx, failed.ID, "upload", "again"); err != nil {
		t.Fatalf("MarkFailed again: %v", err)
	}
	// MarkFailed from queued requires the queued -> failed edge.
	stored, _ = env.Store.GetByID(ctx, failed.ID)
	if stored.Status != queue.StatusFailed {
		t.Fatalf("expected failed before second regen, got %s", stored.Status)
	}
	if err := regen.Handle(ctx, bus.Event{Topic: bus.TopicRegenRequested, ItemID: failed.ID, TenantID: "channel-a"}); err != nil {
		t.Fatalf("Handle second: %v", err)
	}
	stored, _ = env.Store.GetByID(ctx, failed.ID)
	if stored.Status != queue.StatusFailed {
		t.Fatalf("budget-exceeded regen must be ignored, got %s", stored.Status)
	}
}
