package aster

import "context"

// UsageInfo is the token accounting a provider reports for one call.
type UsageInfo struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens"`
}

// TotalInput is the full input-side token count including cache traffic.
func (u UsageInfo) TotalInput() int {
	return u.InputTokens + u.CacheCreationTokens + u.CacheReadTokens
}

// FinalMessage is the complete result of one provider call.
type FinalMessage struct {
	Content    []ContentBlock
	StopReason string // "end_turn", "tool_use", "max_tokens", ...
	Usage      UsageInfo
}

// StopReasonToolUse is the stop reason that keeps the agent loop running.
const StopReasonToolUse = "tool_use"

// Request is a provider-agnostic completion request. Tools must be passed in
// registry order; providers may not reorder them, because the cached prompt
// prefix depends on a bit-identical tool list across turns.
type Request struct {
	Messages  []Message
	System    string
	Tools     []ToolDescriptor
	MaxTokens int
}

// Provider abstracts the LLM backend.
//
// Stream opens a streaming completion: text fragments are sent to ch in
// provider order as they arrive, then the accumulated final message is
// returned. Implementations close ch before returning on every path. Callers
// must not commit state derived from the stream until Stream returns nil.
//
// Create is the non-streaming variant, used by the compactor's summarizer.
//
// CountTokens returns the exact input token count for a request, for
// pre-flight context accounting.
type Provider interface {
	Stream(ctx context.Context, req Request, ch chan<- string) (FinalMessage, error)
	Create(ctx context.Context, req Request) (FinalMessage, error)
	CountTokens(ctx context.Context, req Request) (int, error)
	Name() string
}
