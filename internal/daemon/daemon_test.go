package daemon_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"newsreel/internal/api"
	"newsreel/internal/bus"
	"newsreel/internal/config"
	"newsreel/internal/daemon"
	"newsreel/internal/queue"
	"newsreel/internal/quota"
	"newsreel/internal/services"
	"newsreel/internal/stage/stagetest"
	"newsreel/internal/testsupport"
	"newsreel/internal/workflow"
)

type harness struct {
	cfg    *config.Config
	store  *queue.Store
	bus    *bus.Bus
	daemon *daemon.Daemon
	base   string
}

func startDaemon(t *testing.T) *harness {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	eventBus := testsupport.MustOpenBus(t, cfg)
	ledger, err := quota.Open(cfg)
	if err != nil {
		t.Fatalf("quota.Open: %v", err)
	}
	t.Cleanup(func() {
		ledger.Close()
	})

	collab := workflow.Collaborators{
		Script: stagetest.ScriptFunc(func(ctx context.Context, title, summary string) (*services.Script, error) {
			return &services.Script{Title: title}, nil
		}),
		Assets: stagetest.AssetFunc(func(ctx context.Context, scenes []services.Scene) (*services.Assets, error) {
			return &services.Assets{}, nil
		}),
		Render: stagetest.RenderFunc(func(ctx context.Context, assets *services.Assets, mood string) (string, error) {
			return "/media/out.mp4", nil
		}),
		Upload: stagetest.UploadFunc(func(ctx context.Context, filePath string, meta services.UploadMeta) (string, error) {
			return "https://videos.example/v/1", nil
		}),
	}

	mgr, err := workflow.NewManager(cfg, store, eventBus, ledger, nil, workflow.WithCollaborators(collab))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	d, err := daemon.New(cfg, store, mgr, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() {
		d.Stop()
		cancel()
	})

	addr := d.APIAddr()
	if addr == "" {
		t.Fatal("api address not bound")
	}
	return &harness{cfg: cfg, store: store, bus: eventBus, daemon: d, base: "http://" + addr}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, out any) int {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestStatusAndItemEndpoints(t *testing.T) {
	h := startDaemon(t)

	var status api.StatusResponse
	if code := getJSON(t, h.base+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if !status.Running || status.Tenant != h.cfg.Tenant.ID {
		t.Fatalf("unexpected status: %+v", status)
	}

	item := testsupport.NewItem(t, h.store, h.cfg.Tenant.ID, "feed:api", "Via API")

	var list api.ItemListResponse
	if code := getJSON(t, h.base+"/api/items", &list); code != http.StatusOK {
		t.Fatalf("items code = %d", code)
	}
	if len(list.Items) != 1 || list.Items[0].ID != item.ID {
		t.Fatalf("unexpected items: %+v", list.Items)
	}

	var single api.ItemResponse
	if code := getJSON(t, h.base+"/api/items/"+item.ID, &single); code != http.StatusOK {
		t.Fatalf("item code = %d", code)
	}
	if single.Item.SourceKey != "feed:api" {
		t.Fatalf("unexpected item: %+v", single.Item)
	}

	if code := getJSON(t, h.base+"/api/items?status=bogus", nil); code != http.StatusBadRequest {
		t.Fatalf("bogus status filter code = %d", code)
	}
	if code := getJSON(t, h.base+"/api/items/missing", nil); code != http.StatusNotFound {
		t.Fatalf("missing item code = %d", code)
	}
}

func TestRetryEndpointRequeuesFailedItem(t *testing.T) {
	h := startDaemon(t)
	ctx := context.Background()

	item := testsupport.NewItem(t, h.store, h.cfg.Tenant.ID, "feed:retry", "Retry me")

	// Retrying a queued item is rejected.
	if code := postJSON(t, h.base+"/api/items/"+item.ID+"/retry", nil); code != http.StatusConflict {
		t.Fatalf("retry queued item code = %d", code)
	}

	if _, _, err := h.store.MarkFailed(ctx, item.ID, "render", "ffmpeg crashed"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	var resp api.ItemResponse
	if code := postJSON(t, h.base+"/api/items/"+item.ID+"/retry", &resp); code != http.StatusOK {
		t.Fatalf("retry failed item code = %d", code)
	}
	if resp.Item.Status != string(queue.StatusQueued) {
		t.Fatalf("status after retry = %s", resp.Item.Status)
	}
}

func TestDeadLetterEndpoints(t *testing.T) {
	h := startDaemon(t)
	ctx := context.Background()

	event, err := h.bus.Publish(ctx, bus.TopicRenderTrigger, "item-1", h.cfg.Tenant.ID, nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := h.bus.ParkDeadLetter(ctx, *event, "render-pool", 3, fmt.Errorf("renderer offline")); err != nil {
		t.Fatalf("ParkDeadLetter: %v", err)
	}

	var list api.DeadLetterListResponse
	if code := getJSON(t, h.base+"/api/deadletters", &list); code != http.StatusOK {
		t.Fatalf("deadletters code = %d", code)
	}
	if len(list.DeadLetters) != 1 || list.DeadLetters[0].Topic != bus.TopicRenderTrigger {
		t.Fatalf("unexpected dead letters: %+v", list.DeadLetters)
	}

	id := list.DeadLetters[0].ID
	var requeued api.RequeueResponse
	if code := postJSON(t, h.base+fmt.Sprintf("/api/deadletters/%d/requeue", id), &requeued); code != http.StatusOK {
		t.Fatalf("requeue code = %d", code)
	}
	if requeued.Topic != bus.TopicRenderTrigger || requeued.ItemID != "item-1" {
		t.Fatalf("unexpected requeue response: %+v", requeued)
	}

	// The letter is gone once requeued.
	if code := postJSON(t, h.base+fmt.Sprintf("/api/deadletters/%d/requeue", id), nil); code != http.StatusNotFound {
		t.Fatalf("second requeue code = %d", code)
	}
}

func TestSecondDaemonInstanceIsRejected(t *testing.T) {
	h := startDaemon(t)

	mgr, err := workflow.NewManager(h.cfg, h.store, h.bus, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	second, err := daemon.New(h.cfg, h.store, mgr, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second daemon start to fail on the lock")
	}
}
