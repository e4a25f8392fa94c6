package aster

import "log/slog"

// Context window sizes (tokens) per model.
var modelContextWindows = map[string]int{
	"claude-sonnet-4-20250514": 200_000,
	"claude-haiku-4-20250514":  200_000,
	"claude-opus-4-20250514":   200_000,
}

const defaultContextWindow = 200_000

// ContextWindowFor returns the context window size for a model, falling back
// to the default for unknown models.
func ContextWindowFor(model string) int {
	if w, ok := modelContextWindows[model]; ok {
		return w
	}
	return defaultContextWindow
}

// TokenCounter estimates current context-window occupancy from the most
// recent usage report: input tokens (including cache traffic) plus output
// tokens approximate the transcript size after the response.
type TokenCounter struct {
	window     int
	lastInput  int
	lastOutput int
	logger     *slog.Logger
}

// TokenCounterOption configures a TokenCounter.
type TokenCounterOption func(*TokenCounter)

// WithTokenLogger sets a structured logger for the counter.
func WithTokenLogger(l *slog.Logger) TokenCounterOption {
	return func(c *TokenCounter) { c.logger = l }
}

// NewTokenCounter creates a counter for the given context window. A window of
// zero or less uses the default.
func NewTokenCounter(window int, opts ...TokenCounterOption) *TokenCounter {
	if window <= 0 {
		window = defaultContextWindow
	}
	c := &TokenCounter{window: window, logger: nopLogger}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Window returns the configured context window size.
func (c *TokenCounter) Window() int { return c.window }

// ContextTokens is the estimated current occupancy.
func (c *TokenCounter) ContextTokens() int { return c.lastInput + c.lastOutput }

// UsagePercent is the occupancy as a percentage of the window, always >= 0.
func (c *TokenCounter) UsagePercent() float64 {
	if c.window == 0 {
		return 0
	}
	return float64(c.ContextTokens()) / float64(c.window) * 100
}

// UpdateFromUsage records the counters from an API response.
func (c *TokenCounter) UpdateFromUsage(u UsageInfo) {
	c.lastInput = u.TotalInput()
	c.lastOutput = u.OutputTokens
	c.logger.Debug("token count updated",
		"context_tokens", c.ContextTokens(),
		"window", c.window,
		"usage_percent", c.UsagePercent())
}

// UpdateFromCount records an exact pre-flight input count. There is no output
// yet at that point.
func (c *TokenCounter) UpdateFromCount(inputTokens int) {
	c.lastInput = inputTokens
	c.lastOutput = 0
	c.logger.Debug("token count updated from exact count",
		"context_tokens", c.ContextTokens(),
		"usage_percent", c.UsagePercent())
}

// SetLast restores the counter from persisted state.
func (c *TokenCounter) SetLast(inputTokens, outputTokens int) {
	c.lastInput = inputTokens
	c.lastOutput = outputTokens
}

// TokenStatus is a snapshot of the counter for the usage endpoint.
type TokenStatus struct {
	CurrentTokens int     `json:"current_tokens"`
	ContextWindow int     `json:"context_window"`
	UsagePercent  float64 `json:"usage_percent"`
}

// Status returns the current snapshot.
func (c *TokenCounter) Status() TokenStatus {
	return TokenStatus{
		CurrentTokens: c.ContextTokens(),
		ContextWindow: c.window,
		UsagePercent:  c.UsagePercent(),
	}
}
