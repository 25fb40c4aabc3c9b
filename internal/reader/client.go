// Package reader is the HTTP client for the Reader REST API: resume-position
// persistence, document metadata, and document plain text.
package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxreader/reader-stream/internal/resilience"
)

// Client talks to the Reader REST API. It implements the stream package's
// ProgressSink and LengthOracle contracts.
type Client struct {
	baseURL       string
	token         string
	deviceID      string
	appCheckToken string
	httpClient    *http.Client
	retry         *resilience.RetryConfig
	logger        zerolog.Logger
}

// ClientConfig configures the Reader API client.
type ClientConfig struct {
	BaseURL       string
	BearerToken   string
	DeviceID      string
	AppCheckToken string
	Timeout       time.Duration
}

// NewClient creates a Reader API client.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		token:         cfg.BearerToken,
		deviceID:      cfg.DeviceID,
		appCheckToken: cfg.AppCheckToken,
		httpClient:    &http.Client{Timeout: timeout},
		retry:         resilience.DefaultRetryConfig(),
		logger:        logger,
	}
}

// readInfo is the subset of the read metadata payload this client consumes.
type readInfo struct {
	CharCount int `json:"char_count"`
	Chapters  []struct {
		CharCount int `json:"char_count"`
	} `json:"chapters"`
}

// Length reports the document's total character count. Any failure or an
// absent count degrades to (0, false); streaming works without it.
func (c *Client) Length(ctx context.Context, documentID string) (int, bool) {
	var info readInfo
	err := resilience.Retry(func() error {
		return c.getJSON(ctx, "/v1/reader/reads/"+documentID, &info)
	}, c.retry, resilience.IsRetryableNetworkError)
	if err != nil {
		c.logger.Debug().Err(err).Str("document_id", documentID).Msg("Length lookup failed")
		return 0, false
	}

	if info.CharCount > 0 {
		return info.CharCount, true
	}
	if len(info.Chapters) > 0 && info.Chapters[0].CharCount > 0 {
		return info.Chapters[0].CharCount, true
	}
	return 0, false
}

// Update persists the confirmed listening position. Callers treat failures as
// non-fatal; the next successful update supersedes anything missed.
func (c *Client) Update(ctx context.Context, documentID string, position int) error {
	body := map[string]any{
		"last_listened_char_offset": position,
		"marked_as_unread":          false,
	}
	return c.patchJSON(ctx, "/v1/reader/reads/"+documentID, body)
}

// PrepareForStreaming records the chosen voice and resets the listening
// position before a fresh run.
func (c *Client) PrepareForStreaming(ctx context.Context, documentID, voiceID string) error {
	body := map[string]any{
		"last_used_voice_id":        voiceID,
		"last_listened_char_offset": 0,
	}
	return c.patchJSON(ctx, "/v1/reader/reads/"+documentID, body)
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe         = regexp.MustCompile(`<[^>]*>`)
	spaceRe       = regexp.MustCompile(`[ \t]+`)
	blankLineRe   = regexp.MustCompile(`\n{3,}`)
)

// SimpleText fetches the document's simplified HTML and reduces it to plain
// text for highlight rendering.
func (c *Client) SimpleText(ctx context.Context, documentID string) (string, error) {
	var raw []byte
	err := resilience.Retry(func() error {
		body, getErr := c.get(ctx, "/v1/reader/reads/"+documentID+"/simple-html?make_pageable=false")
		if getErr != nil {
			return getErr
		}
		raw = body
		return nil
	}, c.retry, resilience.IsRetryableNetworkError)
	if err != nil {
		return "", fmt.Errorf("failed to fetch document text: %w", err)
	}
	return stripHTML(string(raw)), nil
}

// stripHTML reduces simplified HTML to readable plain text. Tag boundaries
// become whitespace so words from adjacent elements do not fuse.
func stripHTML(s string) string {
	s = scriptStyleRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRe.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankLineRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reader API returned status %d for %s", resp.StatusCode, path)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) patchJSON(ctx context.Context, path string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("reader API returned status %d for %s", resp.StatusCode, path)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set("device-id", c.deviceID)
	}
	if c.appCheckToken != "" {
		req.Header.Set("xi-app-check-token", c.appCheckToken)
	}
}
