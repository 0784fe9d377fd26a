// Package client talks to the AutoCare Pro backend API. Every response
// uses the envelope {success, data, autoReply?, message?}; this package
// decodes the envelope, normalizes message payloads, and classifies
// failures so the outbox can tell a retryable outage from a rejection.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"autosync/pkg/metrics"
	"autosync/pkg/models"
	"autosync/pkg/normalize"
)

// ErrRejected marks responses where the upstream understood the request
// and refused it. Retrying an identical request will not help.
var ErrRejected = errors.New("upstream rejected request")

const maxResponseBytes = 8 << 20

type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HealthPath string
	RateRPS    float64
	RateBurst  int
}

type Client struct {
	base       string
	token      string
	healthPath string
	hc         *http.Client
	limiter    *rate.Limiter
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	health := cfg.HealthPath
	if health == "" {
		health = "/health"
	}
	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}
	return &Client{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		healthPath: health,
		hc:         &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// FetchMine returns the calling user's conversation, normalized and
// sorted.
func (c *Client) FetchMine(ctx context.Context) ([]models.Message, error) {
	env, err := c.do(ctx, "fetch_mine", http.MethodGet, "/messages", nil)
	if err != nil {
		return nil, err
	}
	return decodeMessages(env.Data), nil
}

// FetchUser returns one user's conversation. Admin only upstream.
func (c *Client) FetchUser(ctx context.Context, userID string) ([]models.Message, error) {
	if userID == "" {
		return nil, errors.New("user id required")
	}
	env, err := c.do(ctx, "fetch_user", http.MethodGet, "/messages/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, err
	}
	return decodeMessages(env.Data), nil
}

// FetchAdminAll returns every message across users. Admin only
// upstream.
func (c *Client) FetchAdminAll(ctx context.Context) ([]models.Message, error) {
	env, err := c.do(ctx, "fetch_admin_all", http.MethodGet, "/messages/admin/all", nil)
	if err != nil {
		return nil, err
	}
	return decodeMessages(env.Data), nil
}

// Send posts a message. recipientID is empty for user sessions (the
// admin pool is the implicit recipient) and set for admin sends.
// Returns the confirmed message and the auto-reply when the envelope
// carries one.
func (c *Client) Send(ctx context.Context, text, recipientID string) (*models.Message, *models.Message, error) {
	body := map[string]any{"text": text}
	if recipientID != "" {
		body["recipientId"] = recipientID
	}
	env, err := c.do(ctx, "send", http.MethodPost, "/messages", body)
	if err != nil {
		return nil, nil, err
	}
	confirmed := decodeMessage(env.Data)
	var auto *models.Message
	if len(env.AutoReply) > 0 {
		auto = decodeMessage(env.AutoReply)
	}
	return confirmed, auto, nil
}

// Ping checks upstream reachability. It bypasses the rate limiter so
// the connectivity sensor stays cheap, and treats any 2xx as healthy.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+c.healthPath, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req, false)
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upstream health status %d", resp.StatusCode)
	}
	return nil
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	AutoReply json.RawMessage `json:"autoReply,omitempty"`
	Message   string          `json:"message,omitempty"`
}

func (c *Client) do(ctx context.Context, op, method, path string, body any) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, body != nil)

	resp, err := c.hc.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(op, "network").Inc()
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(op, "network").Inc()
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.UpstreamRequests.WithLabelValues(op, "error").Inc()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if retryableStatus(resp.StatusCode) {
			metrics.UpstreamRequests.WithLabelValues(op, "error").Inc()
			return nil, fmt.Errorf("upstream unavailable (%d): %s", resp.StatusCode, msg)
		}
		metrics.UpstreamRequests.WithLabelValues(op, "rejected").Inc()
		return nil, fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	metrics.UpstreamRequests.WithLabelValues(op, "ok").Inc()
	return &env, nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "autosync")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// retryableStatus reports whether the HTTP status suggests a transient
// condition. A success status carrying success=false is a business
// rejection, as is the rest of the 4xx range.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

func decodeMessages(raw json.RawMessage) []models.Message {
	if len(raw) == 0 {
		return []models.Message{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return []models.Message{}
	}
	return normalize.FromAnyList(v)
}

// decodeMessage accepts either a bare message object or one wrapped as
// {"message": {...}}, a shape older backend builds emitted.
func decodeMessage(raw json.RawMessage) *models.Message {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["message"].(map[string]any); ok {
			v = inner
		}
	}
	return normalize.FromAny(v)
}
