package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

func newHTTPClient(timeoutSeconds int) *http.Client {
	timeout := defaultHTTPTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postJSON sends a JSON request and decodes the JSON response body into out.
// Non-2xx responses are returned as errors classified by status code so the
// coordinators can distinguish transient provider trouble from bad input.
func postJSON(ctx context.Context, client httpDoer, url, apiKey string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return statusError(resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(status int, body string) error {
	detail := fmt.Sprintf("status %d", status)
	if body != "" {
		detail = fmt.Sprintf("%s: %s", detail, body)
	}
	switch {
	case status == http.StatusTooManyRequests || isQuotaBody(body):
		return fmt.Errorf("%w: %s", ErrQuotaExhausted, detail)
	case status >= 500:
		return fmt.Errorf("%w: %s", ErrTransient, detail)
	case status == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s", ErrTimeout, detail)
	default:
		return fmt.Errorf("%w: %s", ErrValidation, detail)
	}
}

// isQuotaBody matches the upload provider's quota signatures, which arrive as
// 403s with a reason string rather than a 429.
func isQuotaBody(body string) bool {
	lowered := strings.ToLower(body)
	return strings.Contains(lowered, "quotaexceeded") ||
		strings.Contains(lowered, "dailylimitexceeded") ||
		strings.Contains(lowered, "rate limit")
}
