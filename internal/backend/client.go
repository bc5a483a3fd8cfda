// Package backend talks to the remote synthesis server.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/porua/porua/internal/tts"
)

const (
	// DefaultURL is the synthesis server used when none is configured.
	DefaultURL = "http://localhost:3000"

	// DefaultTimeout bounds a whole synthesis request, body included.
	DefaultTimeout = 2 * time.Minute

	streamPath = "/tts/stream"
	voicesPath = "/voices"
	healthPath = "/health"

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 512
)

// Config holds configuration for the backend client.
type Config struct {
	URL     string
	APIKey  string        // sent as X-API-Key when set
	Timeout time.Duration // per request, defaults to DefaultTimeout

	// RequestsPerMinute limits outbound synthesis calls; 0 disables limiting.
	RequestsPerMinute int

	// HTTPClient overrides the transport. Its Timeout is left untouched.
	HTTPClient *http.Client
}

// Client retrieves streamed synthesis responses.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// Response is a successful streamed synthesis response. The caller must
// close Body.
type Response struct {
	ContentType string
	Body        io.ReadCloser
}

// Voice describes one voice offered by the server.
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Gender      string `json:"gender"`
	Language    string `json:"language"`
	Description string `json:"description"`
}

// NewClient creates a backend client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return nil, fmt.Errorf("invalid server url %q: must start with http:// or https://", cfg.URL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		apiKey:      cfg.APIKey,
		httpClient:  httpClient,
		rateLimiter: limiter,
	}, nil
}

// streamRequest is the body of a streaming synthesis call.
type streamRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// Retrieve starts a streaming synthesis call. Errors are tagged: a cancelled
// ctx yields tts.KindCancelled, transport failures tts.KindNetwork and
// non-success statuses tts.KindUpstream with the status code.
func (c *Client) Retrieve(ctx context.Context, req tts.Request) (*Response, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, c.transportError(ctx, "rate limit wait", err)
		}
	}

	body, err := json.Marshal(streamRequest{Text: req.Text, Voice: req.Voice, Speed: req.Speed})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+streamPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "multipart/mixed")
	c.setHeaders(ctx, httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, "send request", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	return &Response{
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
	}, nil
}

// Voices lists the voices offered by the server.
func (c *Client) Voices(ctx context.Context) ([]Voice, error) {
	var out struct {
		Voices []Voice `json:"voices"`
	}
	if err := c.getJSON(ctx, voicesPath, &out); err != nil {
		return nil, err
	}
	return out.Voices, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, healthPath, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return tts.NewError(tts.KindUpstream, fmt.Sprintf("server reports status %q", out.Status), nil)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	c.setHeaders(ctx, httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.transportError(ctx, "send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return tts.NewError(tts.KindValidation, fmt.Sprintf("decode %s response", path), err)
	}
	return nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if id := tts.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
}

// transportError tags err as a cancellation when ctx was cancelled and as a
// network failure otherwise.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return tts.NewError(tts.KindCancelled, op, ctx.Err())
	}
	return tts.NewError(tts.KindNetwork, op, err)
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(msg))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return tts.UpstreamError(resp.StatusCode, fmt.Sprintf("server returned %s: %s", resp.Status, text))
}
