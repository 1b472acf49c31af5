package services

import (
	"context"
	"net/http"
	"strings"

	"newsreel/internal/config"
)

// ScriptClient calls the script-generation endpoint.
type ScriptClient struct {
	baseURL string
	apiKey  string
	model   string
	client  httpDoer
}

// ScriptOption customizes the client.
type ScriptOption func(*ScriptClient)

// WithScriptHTTPClient overrides the default HTTP client (used in tests).
func WithScriptHTTPClient(client *http.Client) ScriptOption {
	return func(c *ScriptClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewScriptClient constructs a script client from config.
func NewScriptClient(cfg config.Script, opts ...ScriptOption) *ScriptClient {
	c := &ScriptClient{
		baseURL: strings.TrimSpace(cfg.BaseURL),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   strings.TrimSpace(cfg.Model),
		client:  newHTTPClient(cfg.TimeoutSeconds),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type scriptRequest struct {
	Model   string `json:"model"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Generate produces a narrated script for the given headline. A response with
// no scenes is a validation failure: the item cannot progress without them.
func (c *ScriptClient) Generate(ctx context.Context, title, summary string) (*Script, error) {
	if c.baseURL == "" {
		return nil, Wrap(ErrConfiguration, "script", "generate", "script.base_url is not configured", nil)
	}

	var script Script
	req := scriptRequest{Model: c.model, Title: title, Summary: summary}
	if err := postJSON(ctx, c.client, c.baseURL, c.apiKey, req, &script); err != nil {
		return nil, Wrap(nil, "script", "generate", "script service call failed", err)
	}

	if len(script.Scenes) == 0 {
		return nil, Wrap(ErrValidation, "script", "generate", "script service returned no scenes", nil)
	}
	if strings.TrimSpace(script.Title) == "" {
		script.Title = title
	}
	return &script, nil
}
