package aster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Defaults for AgentConfig.
const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 8192
)

// DefaultSystemPrompt is the base prompt used when none is configured.
const DefaultSystemPrompt = `You are a professional software development assistant.

Working principles:
- For complex tasks, understand the requirements first, then proceed step by step.
- Before changing anything, consider reading the relevant files to understand the current state.
- Explain your reasoning and the choices you make.
- When something is ambiguous, ask the user.`

// AgentConfig holds the per-agent settings.
type AgentConfig struct {
	Model        string
	MaxTokens    int
	SystemPrompt string
}

func (c *AgentConfig) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
}

// maxParallelTools caps concurrent tool executions within one tool-use step.
const maxParallelTools = 10

// Agent drives the conversation with the provider: it owns the conversation
// for the duration of a turn, streams text to the caller, executes requested
// tools, and keeps the transcript under the context budget via the compactor.
//
// An Agent is not safe for concurrent turns; the caller enforces one turn per
// session at a time.
type Agent struct {
	Config       AgentConfig
	Provider     Provider
	Conversation []Message

	Tools     ToolExecutor   // optional
	Skills    *SkillRegistry // optional
	Usage     *UsageMonitor  // optional
	Tokens    *TokenCounter  // optional
	Compactor *Compactor     // optional

	logger *slog.Logger
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithAgentLogger sets a structured logger for the agent.
func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// WithTools attaches a tool registry (or an instrumented wrapper around one).
func WithTools(r ToolExecutor) AgentOption {
	return func(a *Agent) { a.Tools = r }
}

// WithSkills attaches a skill registry.
func WithSkills(r *SkillRegistry) AgentOption {
	return func(a *Agent) { a.Skills = r }
}

// WithUsageMonitor attaches a usage monitor.
func WithUsageMonitor(m *UsageMonitor) AgentOption {
	return func(a *Agent) { a.Usage = m }
}

// WithTokenCounter attaches a token counter.
func WithTokenCounter(c *TokenCounter) AgentOption {
	return func(a *Agent) { a.Tokens = c }
}

// WithCompactor attaches a compactor.
func WithCompactor(c *Compactor) AgentOption {
	return func(a *Agent) { a.Compactor = c }
}

// NewAgent creates an agent around a provider.
func NewAgent(config AgentConfig, provider Provider, opts ...AgentOption) *Agent {
	config.applyDefaults()
	a := &Agent{
		Config:   config,
		Provider: provider,
		logger:   nopLogger,
	}
	for _, o := range opts {
		o(a)
	}
	a.logger.Info("agent initialized", "model", config.Model)
	return a
}

// ResetConversation clears the transcript.
func (a *Agent) ResetConversation() {
	a.Conversation = nil
	a.logger.Debug("conversation reset")
}

// emit sends an event to ch unless the context is done.
func emit(ctx context.Context, ch chan<- Event, ev Event) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

// StreamTurn runs one user turn: it appends the user message, drives the
// provider/tool loop, and emits token, preamble_end, and tool_call events to
// ch as they happen. ch is closed exactly once before returning. On error the
// conversation is rolled back or completed with the partial response per the
// recovery rules; the caller decides whether to persist.
func (a *Agent) StreamTurn(ctx context.Context, content string, attachments []Attachment, ch chan<- Event) (err error) {
	var closeOnce sync.Once
	closeCh := func() { closeOnce.Do(func() { close(ch) }) }
	defer closeCh()

	content = strings.TrimSpace(content)
	if content == "" {
		return Validationf("message must not be empty")
	}

	userContent, err := BuildUserContent(content, attachments)
	if err != nil {
		return err
	}

	turnStart := len(a.Conversation)
	a.Conversation = append(a.Conversation, Message{Role: RoleUser, Content: userContent})
	a.logger.Debug("user message received", "content_length", len(content))

	if err := a.toolLoop(ctx, ch); err != nil {
		return err
	}

	a.reemitSideChannel(ctx, ch, turnStart)
	a.maybeCompact(ctx, ch)
	return nil
}

// toolLoop is the provider/tool cycle: stream a response, execute any
// requested tools, feed the results back, and repeat until the model stops
// asking for tools.
func (a *Agent) toolLoop(ctx context.Context, ch chan<- Event) error {
	var responseParts []string

	for {
		req := Request{
			Messages:  a.Conversation,
			System:    a.systemPrompt(),
			Tools:     a.toolDescriptors(),
			MaxTokens: a.Config.MaxTokens,
		}

		fragments := make(chan string, 64)
		var (
			final     FinalMessage
			streamErr error
		)
		done := make(chan struct{})
		go func() {
			defer close(done)
			final, streamErr = a.Provider.Stream(ctx, req, fragments)
		}()
		for fragment := range fragments {
			responseParts = append(responseParts, fragment)
			emit(ctx, ch, Event{Type: EventToken, Data: fragment})
		}
		<-done

		if streamErr != nil {
			return a.recoverStreamError(streamErr, responseParts)
		}

		if a.Usage != nil {
			a.Usage.Record(final.Usage)
		}
		if a.Tokens != nil {
			a.Tokens.UpdateFromUsage(final.Usage)
		}

		a.Conversation = append(a.Conversation, AssistantBlocks(final.Content...))

		if final.StopReason != StopReasonToolUse || a.Tools == nil || a.Tools.Len() == 0 {
			a.logger.Debug("turn complete",
				"response_length", len(strings.Join(responseParts, "")),
				"stop_reason", final.StopReason)
			return nil
		}

		if len(responseParts) > 0 {
			emit(ctx, ch, Event{Type: EventPreambleEnd, Data: map[string]any{}})
		}
		responseParts = nil

		var calls []ContentBlock
		for _, b := range final.Content {
			if b.Type == BlockToolUse {
				calls = append(calls, b)
			}
		}

		for _, call := range calls {
			a.logger.Info("executing tool", "tool", call.Name, "tool_id", call.ID)
			emit(ctx, ch, Event{Type: EventToolCall, Data: ToolCallData{Name: call.Name, Status: ToolCallStarted}})
		}

		results := a.executeParallel(ctx, calls)

		toolResults := make([]ContentBlock, 0, len(calls))
		for i, call := range calls {
			res := results[i]
			if res.err == nil {
				toolResults = append(toolResults, ToolResultFor(call.ID, res.content, false))
				emit(ctx, ch, Event{Type: EventToolCall, Data: ToolCallData{Name: call.Name, Status: ToolCallCompleted}})
			} else {
				a.logger.Warn("tool execution failed", "tool", call.Name, "error", res.err)
				toolResults = append(toolResults, ToolResultFor(call.ID, res.err.Error(), true))
				emit(ctx, ch, Event{Type: EventToolCall, Data: ToolCallData{
					Name: call.Name, Status: ToolCallFailed, Error: res.err.Error(),
				}})
			}
		}

		a.Conversation = append(a.Conversation, UserBlocks(toolResults...))
		a.logger.Debug("tool results returned, continuing", "tool_count", len(toolResults))
	}
}

func (a *Agent) systemPrompt() string {
	if a.Skills != nil {
		return a.Skills.Compose(a.Config.SystemPrompt)
	}
	return a.Config.SystemPrompt
}

func (a *Agent) toolDescriptors() []ToolDescriptor {
	if a.Tools == nil || a.Tools.Len() == 0 {
		return nil
	}
	return a.Tools.Descriptors()
}

// toolOutcome is the captured result of one tool call: an error is a value
// here, folded into the tool_result rather than aborting the turn.
type toolOutcome struct {
	content string
	err     error
}

// executeParallel runs all tool calls concurrently through the registry and
// returns outcomes in input order. A fixed worker pool bounds concurrency;
// single calls run inline.
func (a *Agent) executeParallel(ctx context.Context, calls []ContentBlock) []toolOutcome {
	if len(calls) == 1 {
		return []toolOutcome{a.executeOne(ctx, calls[0])}
	}

	type workItem struct {
		idx  int
		call ContentBlock
	}
	work := make(chan workItem, len(calls))
	for i, c := range calls {
		work <- workItem{i, c}
	}
	close(work)

	results := make([]toolOutcome, len(calls))
	workers := min(len(calls), maxParallelTools)
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for w := range work {
				if ctx.Err() != nil {
					results[w.idx] = toolOutcome{err: ctx.Err()}
					continue
				}
				results[w.idx] = a.executeOne(ctx, w.call)
			}
		}()
	}
	wg.Wait()
	return results
}

// executeOne runs a single tool call and stringifies its result: strings pass
// through, anything else is serialized as JSON.
func (a *Agent) executeOne(ctx context.Context, call ContentBlock) toolOutcome {
	result, err := a.Tools.Execute(ctx, call.Name, call.Input)
	if err != nil {
		return toolOutcome{err: err}
	}
	switch v := result.(type) {
	case string:
		return toolOutcome{content: v}
	default:
		data, merr := json.Marshal(v)
		if merr != nil {
			return toolOutcome{err: fmt.Errorf("tool %q: encode result: %w", call.Name, merr)}
		}
		return toolOutcome{content: string(data)}
	}
}

// recoverStreamError applies the transcript-recovery rules and returns the
// error for the caller to surface:
//
//   - connection/timeout with partial text: a synthetic assistant message
//     carrying the partial response keeps the transcript well-formed;
//   - everything else, auth included: the turn's own user message is removed
//     when it is still the last message. After a tool step the last message
//     is a tool-result message; it stays, together with the turn's earlier
//     assistant and tool-result messages, so the conversation is not returned
//     to its pre-turn state.
func (a *Agent) recoverStreamError(err error, responseParts []string) error {
	var pe *ProviderError
	if errors.As(err, &pe) && (pe.Kind == KindConnection || pe.Kind == KindTimeout) && len(responseParts) > 0 {
		partial := strings.Join(responseParts, "")
		a.Conversation = append(a.Conversation, AssistantText(partial))
		a.logger.Warn("stream interrupted, partial response kept", "partial_length", len(partial))
		return err
	}
	// Roll back only the turn's own user message. A tool-result message stays:
	// removing it would leave the preceding tool_use unanswered, and a
	// transcript ending in a tool-result user message is well-formed.
	if n := len(a.Conversation); n > 0 {
		last := a.Conversation[n-1]
		if last.Role == RoleUser && !last.Content.HasBlock(BlockToolResult) {
			a.Conversation = a.Conversation[:n-1]
		}
	}
	a.logger.Error("stream failed, turn rolled back", "error", err)
	return err
}

// sideChannelPayload is the tool-result envelope tools use to push UI events
// (file_open, file_change) through the transcript.
type sideChannelPayload struct {
	SSEEvents []struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	} `json:"sse_events"`
}

// reemitSideChannel scans the tool results appended since turnStart for
// embedded sse_events and re-emits them to the caller as first-class events.
func (a *Agent) reemitSideChannel(ctx context.Context, ch chan<- Event, turnStart int) {
	for _, msg := range a.Conversation[turnStart:] {
		if msg.Role != RoleUser {
			continue
		}
		for _, b := range msg.Content.Blocks {
			if b.Type != BlockToolResult {
				continue
			}
			var payload sideChannelPayload
			if json.Unmarshal([]byte(b.Content), &payload) != nil {
				continue
			}
			for _, ev := range payload.SSEEvents {
				emit(ctx, ch, Event{Type: ev.Type, Data: ev.Data})
			}
		}
	}
}

// maybeCompact runs the compactor after an over-threshold turn. Compaction
// failures are non-fatal: the turn already succeeded.
func (a *Agent) maybeCompact(ctx context.Context, ch chan<- Event) {
	if a.Compactor == nil || a.Tokens == nil {
		return
	}
	if a.Tokens.UsagePercent() < CompactThresholdPercent {
		return
	}
	compacted, result, err := a.Compactor.Compact(ctx, a.Conversation)
	if err != nil {
		a.logger.Warn("compaction failed", "error", err)
		return
	}
	a.Conversation = compacted
	if result.Truncated > 0 || result.Summarized {
		emit(ctx, ch, Event{Type: EventCompact, Data: result})
	}
}

// TurnDeadline derives a context for a turn with the configured timeout.
// A zero timeout returns the parent unchanged.
func TurnDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
