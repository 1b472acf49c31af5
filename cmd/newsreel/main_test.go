package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"newsreel/internal/api"
)

func runCommand(t *testing.T, server *httptest.Server, args ...string) (string, error) {
	t.Helper()
	configPath := ""
	apiAddr := server.URL
	ctx := newCommandContext(&configPath, &apiAddr)

	var cmd interface {
		SetOut(w io.Writer)
		SetArgs(args []string)
		Execute() error
	}
	switch args[0] {
	case "status":
		cmd = newStatusCommand(ctx)
	case "items":
		cmd = newItemsCommand(ctx)
	default:
		t.Fatalf("unknown command %q", args[0])
	}

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args[1:])
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCommandRendersSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(api.StatusResponse{
			Running:        true,
			Tenant:         "channel-a",
			QuotaRemaining: 8400,
			Queue:          api.QueueCounts{Queued: 2, Failed: 1},
		})
	}))
	defer server.Close()

	out, err := runCommand(t, server, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "running") || !strings.Contains(out, "channel-a") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "8400") {
		t.Fatalf("quota missing from output:\n%s", out)
	}
}

func TestItemsListRendersTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/items" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("status"); got != "failed" {
			t.Errorf("status filter = %q, want failed", got)
		}
		_ = json.NewEncoder(w).Encode(api.ItemListResponse{
			Items: []api.ItemView{{
				ID:     "0123456789abcdef",
				Title:  "Volcano story",
				Status: "failed",
			}},
		})
	}))
	defer server.Close()

	out, err := runCommand(t, server, "items", "list", "--status", "failed")
	if err != nil {
		t.Fatalf("items list: %v", err)
	}
	if !strings.Contains(out, "01234567") || !strings.Contains(out, "Volcano story") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestItemsRetrySurfacesDaemonError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "item abc is queued, only failed items can be retried"})
	}))
	defer server.Close()

	_, err := runCommand(t, server, "items", "retry", "abc")
	if err == nil || !strings.Contains(err.Error(), "only failed items") {
		t.Fatalf("expected daemon error, got %v", err)
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	cmd := newConfigInitCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[tenant]") {
		t.Fatalf("sample config missing tenant section:\n%s", data)
	}

	// A second run without --overwrite refuses to clobber the file.
	cmd = newConfigInitCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--path", target})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error when config already exists")
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:7509":         "http://127.0.0.1:7509",
		"http://localhost:7509/": "http://localhost:7509",
		"https://ops.example":    "https://ops.example",
	}
	for input, want := range cases {
		if got := normalizeBaseURL(input); got != want {
			t.Errorf("normalizeBaseURL(%q) = %q, want %q", input, got, want)
		}
	}
}
