// Package anthropic implements aster.Provider against the Anthropic Messages
// API over plain HTTP with a hand-rolled SSE reader. Prompt-cache markers are
// injected into the outgoing request when caching is enabled; the caller's
// data is never touched.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	aster "github.com/corven/aster"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"

	messagesPath    = "/v1/messages"
	countTokensPath = "/v1/messages/count_tokens"
)

// EnvAPIKey is the environment variable consulted when no key is configured.
const EnvAPIKey = "ANTHROPIC_API_KEY"

// Config holds the provider settings.
type Config struct {
	// APIKey is the credential; when empty, EnvAPIKey is read.
	APIKey string
	// Model is the model id sent with every request.
	Model string
	// MaxTokens is the default per-response bound, overridable per request.
	MaxTokens int
	// Timeout is the per-request deadline.
	Timeout time.Duration
	// EnablePromptCaching injects positional cache markers into requests.
	EnablePromptCaching bool
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
}

// Provider is the Anthropic Messages API adapter.
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

var _ aster.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient injects the HTTP client, for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New creates a Provider. Missing config fields get defaults; the API key
// falls back to the environment.
func New(config Config, opts ...Option) *Provider {
	if config.APIKey == "" {
		config.APIKey = os.Getenv(EnvAPIKey)
	}
	if config.Model == "" {
		config.Model = aster.DefaultModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = aster.DefaultMaxTokens
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	p := &Provider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns "anthropic".
func (p *Provider) Name() string { return "anthropic" }

// buildRequest assembles the wire request, applying cache markers to the
// copy it constructs.
func (p *Provider) buildRequest(req aster.Request, stream bool) messagesRequest {
	caching := p.config.EnablePromptCaching
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.config.MaxTokens
	}
	return messagesRequest{
		Model:     p.config.Model,
		Messages:  toWireMessages(req.Messages, caching),
		System:    toWireSystem(req.System, caching),
		Tools:     toWireTools(req.Tools, caching),
		MaxTokens: maxTokens,
		Stream:    stream,
	}
}

// send posts a JSON body and returns the raw response. Transport failures are
// classified into timeout or connection errors.
func (p *Provider) send(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &aster.ProviderError{Kind: aster.KindOther, Message: fmt.Sprintf("encode request: %v", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &aster.ProviderError{Kind: aster.KindOther, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", p.config.APIKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	return resp, nil
}

// classifyTransport maps client-side failures: deadline overruns become
// timeouts, everything else is a connection error.
func classifyTransport(err error) *aster.ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &aster.ProviderError{Kind: aster.KindTimeout, Message: "request timed out"}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &aster.ProviderError{Kind: aster.KindTimeout, Message: "request timed out"}
	}
	return &aster.ProviderError{Kind: aster.KindConnection, Message: err.Error()}
}

// httpError reads the error body of a non-2xx response and classifies it.
func httpError(resp *http.Response) *aster.ProviderError {
	body, _ := io.ReadAll(resp.Body)
	message := string(body)
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error.Message != "" {
		message = er.Error.Message
	}
	return &aster.ProviderError{
		Kind:       aster.ClassifyStatus(resp.StatusCode),
		Status:     resp.StatusCode,
		Message:    message,
		RetryAfter: aster.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// Create sends a non-streaming request and returns the complete message.
func (p *Provider) Create(ctx context.Context, req aster.Request) (aster.FinalMessage, error) {
	resp, err := p.send(ctx, messagesPath, p.buildRequest(req, false))
	if err != nil {
		return aster.FinalMessage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return aster.FinalMessage{}, httpError(resp)
	}

	var mr messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return aster.FinalMessage{}, &aster.ProviderError{Kind: aster.KindOther, Message: fmt.Sprintf("decode response: %v", err)}
	}
	stopReason := mr.StopReason
	if stopReason == "" {
		stopReason = "end_turn"
	}
	return aster.FinalMessage{
		Content:    mr.Content,
		StopReason: stopReason,
		Usage:      fromWireUsage(mr.Usage),
	}, nil
}

// Stream opens a streaming request, forwards text fragments to ch in arrival
// order, and returns the accumulated final message. ch is closed before
// returning on every path.
func (p *Provider) Stream(ctx context.Context, req aster.Request, ch chan<- string) (aster.FinalMessage, error) {
	resp, err := p.send(ctx, messagesPath, p.buildRequest(req, true))
	if err != nil {
		close(ch)
		return aster.FinalMessage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return aster.FinalMessage{}, httpError(resp)
	}

	p.logger.Debug("stream opened", "model", p.config.Model)
	return readStream(ctx, resp.Body, ch)
}

// CountTokens returns the exact input token count for a request.
func (p *Provider) CountTokens(ctx context.Context, req aster.Request) (int, error) {
	caching := p.config.EnablePromptCaching
	body := countTokensRequest{
		Model:    p.config.Model,
		Messages: toWireMessages(req.Messages, caching),
		System:   toWireSystem(req.System, caching),
		Tools:    toWireTools(req.Tools, caching),
	}
	resp, err := p.send(ctx, countTokensPath, body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, httpError(resp)
	}
	var cr countTokensResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return 0, &aster.ProviderError{Kind: aster.KindOther, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return cr.InputTokens, nil
}
