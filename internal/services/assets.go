package services

import (
	"context"
	"net/http"
	"strings"

	"newsreel/internal/config"
)

// AssetClient calls the stock-footage search/download endpoint.
type AssetClient struct {
	baseURL string
	apiKey  string
	client  httpDoer
}

// AssetOption customizes the client.
type AssetOption func(*AssetClient)

// WithAssetHTTPClient overrides the default HTTP client (used in tests).
func WithAssetHTTPClient(client *http.Client) AssetOption {
	return func(c *AssetClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewAssetClient constructs an asset client from config.
func NewAssetClient(cfg config.Assets, opts ...AssetOption) *AssetClient {
	c := &AssetClient{
		baseURL: strings.TrimSpace(cfg.BaseURL),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  newHTTPClient(cfg.TimeoutSeconds),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type assetRequest struct {
	Scenes []Scene `json:"scenes"`
}

// Fetch resolves scenes into downloaded clip paths with durations and captions.
func (c *AssetClient) Fetch(ctx context.Context, scenes []Scene) (*Assets, error) {
	if c.baseURL == "" {
		return nil, Wrap(ErrConfiguration, "assets", "fetch", "assets.base_url is not configured", nil)
	}
	if len(scenes) == 0 {
		return nil, Wrap(ErrValidation, "assets", "fetch", "no scenes to fetch assets for", nil)
	}

	var assets Assets
	if err := postJSON(ctx, c.client, c.baseURL, c.apiKey, assetRequest{Scenes: scenes}, &assets); err != nil {
		return nil, Wrap(nil, "assets", "fetch", "asset service call failed", err)
	}

	if len(assets.ClipPaths) == 0 {
		return nil, Wrap(ErrValidation, "assets", "fetch", "asset service returned no clips", nil)
	}
	if len(assets.Durations) != len(assets.ClipPaths) {
		return nil, Wrap(ErrValidation, "assets", "fetch", "asset service returned mismatched clip durations", nil)
	}
	return &assets, nil
}
