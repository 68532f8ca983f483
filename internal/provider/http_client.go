package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/clipforge/internal/catalog"
)

// StatusError is a non-2xx response from the generation gateway.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generation gateway: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors and rate limiting. Other client
// errors are permanent.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// HTTPClient submits jobs to a generation gateway that fronts the real
// providers.
type HTTPClient struct {
	baseURL string
	token   string
	// submitClient bounds submissions. statusClient has no timeout: a hung
	// status read only delays that job, and the caller's context cancels it.
	submitClient *http.Client
	statusClient *http.Client
	logger       *slog.Logger
}

func NewHTTPClient(baseURL, token string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		submitClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		statusClient: &http.Client{},
		logger:       logger,
	}
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type statusResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ResultURL    string `json:"result_url"`
	ErrorMessage string `json:"error_message"`
	DurationMs   int64  `json:"duration_ms"`
}

func (c *HTTPClient) Submit(ctx context.Context, spec JobSpec) (string, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("marshal job spec: %w", err)
	}

	var out submitResponse
	if err := c.do(ctx, c.submitClient, http.MethodPost, "/v1/generations", body, &out); err != nil {
		return "", catalog.External("submit generation", err)
	}
	if out.ID == "" {
		return "", catalog.External("submit generation", fmt.Errorf("gateway returned no job id"))
	}

	c.logger.Info("generation submitted",
		"provider", spec.Provider,
		"job_type", spec.JobType,
		"provider_job_id", out.ID,
	)
	return out.ID, nil
}

// FetchStatus applies no timeout; only ctx bounds it.
func (c *HTTPClient) FetchStatus(ctx context.Context, providerJobID string) (*Status, error) {
	var out statusResponse
	path := "/v1/generations/" + url.PathEscape(providerJobID)
	if err := c.do(ctx, c.statusClient, http.MethodGet, path, nil, &out); err != nil {
		return nil, catalog.External("fetch generation status", err)
	}

	st, err := parseStatus(out.Status)
	if err != nil {
		return nil, catalog.External("fetch generation status", err)
	}
	return &Status{
		Status:       st,
		ResultURL:    out.ResultURL,
		ErrorMessage: out.ErrorMessage,
		DurationMs:   out.DurationMs,
	}, nil
}

func (c *HTTPClient) do(ctx context.Context, client *http.Client, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Clipforge-Request-Id", uuid.NewString())

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
