// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package syncapi is the HTTP transport for the remote sync and share API.
package syncapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedResponse marks a 2xx response the client could not understand
var ErrMalformedResponse = errors.New("malformed server response")

// HTTPError is returned for any non-success status
type HTTPError struct {
	StatusCode int
	Detail     string // ErrorResponse.Detail when the body carried one
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Body)
}

// TokenFunc returns the bearer token for a request
type TokenFunc func(ctx context.Context) (string, error)

// Client talks to the remote sync API
type Client struct {
	BaseURL string
	Token   TokenFunc // optional; no Authorization header when nil
	HTTP    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for baseURL
func NewClient(baseURL string, tok TokenFunc, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// Push sends a batch of mutations. An empty batch is answered locally.
func (c *Client) Push(ctx context.Context, mutations []PushMutation) (*PushResponse, error) {
	if len(mutations) == 0 {
		return &PushResponse{Processed: 0, Results: []PushResult{}}, nil
	}

	var resp PushResponse
	if err := c.doJSON(ctx, http.MethodPost, "/sync/push", &PushRequest{Mutations: mutations}, &resp); err != nil {
		return nil, err
	}
	if resp.ServerTime != "" {
		if _, err := ParseServerTime(resp.ServerTime); err != nil {
			return nil, fmt.Errorf("%w: push server_time: %v", ErrMalformedResponse, err)
		}
	}
	if resp.Results == nil {
		resp.Results = []PushResult{}
	}
	c.logger.Debug("Push completed", "sent", len(mutations), "processed", resp.Processed, "acknowledged", len(resp.Results))
	return &resp, nil
}

// Pull fetches remote events newer than since (epoch ms)
func (c *Client) Pull(ctx context.Context, since int64) (*PullResponse, error) {
	path := "/sync/pull?since=" + url.QueryEscape(strconv.FormatInt(since, 10))

	var resp PullResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	ts, err := ParseServerTime(resp.ServerTime)
	if err != nil {
		return nil, fmt.Errorf("%w: pull server_time: %v", ErrMalformedResponse, err)
	}
	resp.ServerTimeMs = ts
	c.logger.Debug("Pull completed", "since", since, "events", len(resp.Events), "server_time", resp.ServerTime)
	return &resp, nil
}

// ShareWorkout publishes the workout with the given server id
func (c *Client) ShareWorkout(ctx context.Context, workoutServerID int64, userID string) (*ShareResponse, error) {
	path := fmt.Sprintf("/share/workouts/%d", workoutServerID)

	var resp ShareResponse
	if err := c.doJSON(ctx, http.MethodPost, path, &ShareRequest{UserID: userID}, &resp); err != nil {
		return nil, err
	}
	if resp.ShareID == "" {
		return nil, fmt.Errorf("%w: share response without share_id", ErrMalformedResponse)
	}
	return &resp, nil
}

// Ping checks GET /health
func (c *Client) Ping(ctx context.Context) error {
	var resp HealthResponse
	return c.doJSON(ctx, http.MethodGet, "/health", nil, &resp)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get JWT token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
		var er ErrorResponse
		if json.Unmarshal(raw, &er) == nil {
			httpErr.Detail = er.Detail
		}
		return httpErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode %s %s response: %v", ErrMalformedResponse, method, path, err)
	}
	return nil
}

// naive ISO-8601 layouts, interpreted as UTC
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseServerTime converts an ISO-8601 server timestamp to epoch milliseconds.
// Timestamps without a zone are taken as UTC.
func ParseServerTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty server time")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UnixMilli(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unparsable server time %q", s)
}

// FormatServerTime renders epoch milliseconds the way the server does
func FormatServerTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}
