// Package web provides the web_fetch tool: fetch a URL and return its
// readable text, extracted with go-readability so the model gets article
// content instead of markup.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	aster "github.com/corven/aster"
)

const (
	// MaxBodyBytes caps the downloaded payload.
	MaxBodyBytes = 5 << 20 // 5 MiB
	// MaxTextRunes caps the extracted text returned to the model.
	MaxTextRunes = 20_000

	defaultTimeout = 15 * time.Second
	userAgent      = "aster-agent/1.0"
)

// Tools holds the HTTP client for the web tool handlers.
type Tools struct {
	client *http.Client
}

// Option configures web Tools.
type Option func(*Tools)

// WithHTTPClient injects the HTTP client, for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tools) { t.client = c }
}

// New creates web tools with a default client.
func New(opts ...Option) *Tools {
	t := &Tools{client: &http.Client{Timeout: defaultTimeout}}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Register adds web_fetch to the registry.
func (t *Tools) Register(reg *aster.ToolRegistry) error {
	return reg.Register(aster.Tool{
		Name:        "web_fetch",
		Description: "Fetch a web page and return its readable text content.",
		Parameters:  []byte(`{"type":"object","properties":{"url":{"type":"string","description":"HTTP or HTTPS URL to fetch"}},"required":["url"]}`),
		Handler:     t.fetch,
	})
}

func (t *Tools) fetch(ctx context.Context, args map[string]any) (any, error) {
	rawURL, _ := args["url"].(string)
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid url: %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: http %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "html") {
		return map[string]any{
			"url":     rawURL,
			"title":   "",
			"content": truncate(string(body), MaxTextRunes),
		}, nil
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		// Extraction failed; fall back to the raw body.
		return map[string]any{
			"url":     rawURL,
			"title":   "",
			"content": truncate(string(body), MaxTextRunes),
		}, nil
	}

	return map[string]any{
		"url":     rawURL,
		"title":   article.Title,
		"content": truncate(article.TextContent, MaxTextRunes),
	}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n\n[content truncated]"
}
