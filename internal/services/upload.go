package services

import (
	"context"
	"net/http"
	"strings"

	"newsreel/internal/config"
)

// UploadClient calls the publish endpoint of the upload provider.
type UploadClient struct {
	baseURL string
	apiKey  string
	client  httpDoer
}

// UploadOption customizes the client.
type UploadOption func(*UploadClient)

// WithUploadHTTPClient overrides the default HTTP client (used in tests).
func WithUploadHTTPClient(client *http.Client) UploadOption {
	return func(c *UploadClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewUploadClient constructs an upload client from config.
func NewUploadClient(cfg config.Upload, opts ...UploadOption) *UploadClient {
	c := &UploadClient{
		baseURL: strings.TrimSpace(cfg.BaseURL),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  newHTTPClient(cfg.TimeoutSeconds),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type uploadRequest struct {
	FilePath    string   `json:"file_path"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload publishes a rendered file. Quota exhaustion surfaces as an error
// matching ErrQuotaExhausted so the recovery coordinator can defer instead of
// burning retry budget.
func (c *UploadClient) Upload(ctx context.Context, filePath string, meta UploadMeta) (string, error) {
	if c.baseURL == "" {
		return "", Wrap(ErrConfiguration, "upload", "publish", "upload.base_url is not configured", nil)
	}
	if strings.TrimSpace(filePath) == "" {
		return "", Wrap(ErrMissingArtifact, "upload", "publish", "no rendered file to upload", nil)
	}

	req := uploadRequest{
		FilePath:    filePath,
		Title:       meta.Title,
		Description: meta.Description,
		Tags:        meta.Tags,
		Thumbnail:   meta.Thumbnail,
	}
	var resp uploadResponse
	if err := postJSON(ctx, c.client, c.baseURL, c.apiKey, req, &resp); err != nil {
		return "", Wrap(nil, "upload", "publish", "upload service call failed", err)
	}

	url := strings.TrimSpace(resp.URL)
	if url == "" {
		return "", Wrap(ErrTransient, "upload", "publish", "upload service returned an empty URL", nil)
	}
	return url, nil
}
