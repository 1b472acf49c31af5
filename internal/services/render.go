package services

import (
	"context"
	"net/http"
	"strings"

	"newsreel/internal/config"
)

// RenderClient calls the video compositing endpoint.
type RenderClient struct {
	baseURL string
	client  httpDoer
}

// RenderOption customizes the client.
type RenderOption func(*RenderClient)

// WithRenderHTTPClient overrides the default HTTP client (used in tests).
func WithRenderHTTPClient(client *http.Client) RenderOption {
	return func(c *RenderClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewRenderClient constructs a render client from config.
func NewRenderClient(cfg config.Render, opts ...RenderOption) *RenderClient {
	c := &RenderClient{
		baseURL: strings.TrimSpace(cfg.BaseURL),
		client:  newHTTPClient(cfg.TimeoutSeconds),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type renderRequest struct {
	ClipPaths      []string        `json:"clip_paths"`
	Durations      []float64       `json:"durations"`
	SubtitleRanges []SubtitleRange `json:"subtitle_ranges"`
	Mood           string          `json:"mood"`
}

type renderResponse struct {
	FilePath string `json:"file_path"`
}

// Render composes the assets into a final file. An empty file path in the
// response is treated identically to a failed call.
func (c *RenderClient) Render(ctx context.Context, assets *Assets, mood string) (string, error) {
	if c.baseURL == "" {
		return "", Wrap(ErrConfiguration, "render", "render", "render.base_url is not configured", nil)
	}
	if assets == nil || len(assets.ClipPaths) == 0 {
		return "", Wrap(ErrValidation, "render", "render", "no assets to render", nil)
	}

	req := renderRequest{
		ClipPaths:      assets.ClipPaths,
		Durations:      assets.Durations,
		SubtitleRanges: assets.SubtitleRanges,
		Mood:           mood,
	}
	var resp renderResponse
	if err := postJSON(ctx, c.client, c.baseURL, "", req, &resp); err != nil {
		return "", Wrap(nil, "render", "render", "render service call failed", err)
	}

	filePath := strings.TrimSpace(resp.FilePath)
	if filePath == "" {
		return "", Wrap(ErrValidation, "render", "render", "render service returned an empty file path", nil)
	}
	return filePath, nil
}
