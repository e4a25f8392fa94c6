package aster

import (
	"context"
	"log/slog"
	"strings"
)

// CompactThresholdPercent is the context-window usage at which a turn
// triggers compaction.
const CompactThresholdPercent = 80.0

// TruncatedMarker replaces the content of tool results dropped in phase 1.
const TruncatedMarker = "[compacted tool result]"

const summarizeSystemPrompt = "You condense conversations. Produce a concise summary of the " +
	"following exchange, preserving all important context, decisions, and conclusions."

const summaryLeadIn = "Here is a summary of the prior conversation:\n"
const summaryAck = "OK, I understand the prior conversation."

// CompactResult reports what a compaction pass did.
type CompactResult struct {
	Truncated  int    `json:"truncated"`
	Summarized bool   `json:"summarized"`
	Summary    string `json:"summary,omitempty"`
}

// Compactor reduces a conversation's token footprint in two phases:
// truncating stale tool results, then summarizing the early transcript
// through the provider. It owns no state beyond its collaborators.
type Compactor struct {
	provider Provider
	counter  *TokenCounter
	logger   *slog.Logger

	// PreserveRounds is the number of most recent tool-result rounds phase 1
	// keeps intact. KeepLast is the number of trailing messages phase 2 never
	// summarizes. SummaryMaxTokens bounds the summarization call.
	PreserveRounds   int
	KeepLast         int
	SummaryMaxTokens int
}

// NewCompactor creates a compactor with the default policy (preserve the last
// tool-result round, keep the last 4 messages out of summaries).
func NewCompactor(provider Provider, counter *TokenCounter, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = nopLogger
	}
	return &Compactor{
		provider:         provider,
		counter:          counter,
		logger:           logger,
		PreserveRounds:   1,
		KeepLast:         4,
		SummaryMaxTokens: 2048,
	}
}

// toolResultRounds returns the indices of user messages that carry any
// tool_result block.
func toolResultRounds(conversation []Message) []int {
	var indices []int
	for i, msg := range conversation {
		if msg.Role != RoleUser {
			continue
		}
		if msg.Content.HasBlock(BlockToolResult) {
			indices = append(indices, i)
		}
	}
	return indices
}

// TruncateToolResults is phase 1: replace the content of tool_result blocks
// older than the last preserveRounds rounds with the truncation marker.
// Already-truncated blocks are skipped, which makes the pass idempotent.
// Returns the number of blocks truncated.
func TruncateToolResults(conversation []Message, preserveRounds int) int {
	rounds := toolResultRounds(conversation)
	if len(rounds) == 0 {
		return 0
	}
	if preserveRounds > 0 {
		if preserveRounds >= len(rounds) {
			return 0
		}
		rounds = rounds[:len(rounds)-preserveRounds]
	}

	truncated := 0
	for _, idx := range rounds {
		blocks := conversation[idx].Content.Blocks
		for i := range blocks {
			if blocks[i].Type != BlockToolResult {
				continue
			}
			if blocks[i].Content == TruncatedMarker {
				continue
			}
			blocks[i].Content = TruncatedMarker
			truncated++
		}
	}
	return truncated
}

// safeSplitPoint finds the index before which the transcript can be
// summarized without splitting a tool_use/tool_result pair. Starting at
// len(conversation)-keepLast, it walks backwards while the message at the
// split is a tool-result user message or a tool-use assistant message.
func safeSplitPoint(conversation []Message, keepLast int) int {
	if len(conversation) <= keepLast {
		return 0
	}
	split := len(conversation) - keepLast
	for split > 0 {
		msg := conversation[split]
		if msg.Role == RoleUser && msg.Content.HasBlock(BlockToolResult) {
			split--
			continue
		}
		if msg.Role == RoleAssistant && msg.Content.HasBlock(BlockToolUse) {
			split--
			continue
		}
		break
	}
	return split
}

// formatBlock renders one content block as summary-input text.
func formatBlock(b ContentBlock, parts *[]string) {
	switch b.Type {
	case BlockText:
		*parts = append(*parts, b.Text)
	case BlockToolUse:
		*parts = append(*parts, "[invoked tool: "+b.Name+"]")
	case BlockToolResult:
		if b.Content == TruncatedMarker {
			*parts = append(*parts, TruncatedMarker)
			return
		}
		preview := b.Content
		if r := []rune(preview); len(r) > 200 {
			preview = string(r[:200])
		}
		*parts = append(*parts, "[tool result: "+preview+"...]")
	}
}

// formatForSummary renders messages as role-tagged plain text for the
// summarization request.
func formatForSummary(messages []Message) string {
	var lines []string
	for _, msg := range messages {
		if !msg.Content.IsBlocks() {
			lines = append(lines, msg.Role+": "+msg.Content.Text)
			continue
		}
		var parts []string
		for _, b := range msg.Content.Blocks {
			formatBlock(b, &parts)
		}
		lines = append(lines, msg.Role+": "+strings.Join(parts, " "))
	}
	return strings.Join(lines, "\n")
}

// Summarize is phase 2: condense the early transcript through the provider
// and replace it with a synthetic (user summary, assistant ack) pair. The
// trailing keepLast messages are untouched. Returns the new conversation, the
// summary text, and ok=false when the prefix is too short to summarize (the
// conversation is returned unchanged). On provider failure the conversation
// is returned unchanged with the error.
func (c *Compactor) Summarize(ctx context.Context, conversation []Message) ([]Message, string, bool, error) {
	split := safeSplitPoint(conversation, c.KeepLast)
	if split < 2 {
		return conversation, "", false, nil
	}

	early := conversation[:split]
	req := Request{
		Messages: []Message{
			UserText("Summarize the following conversation, preserving the important context:\n\n" + formatForSummary(early)),
		},
		System:    summarizeSystemPrompt,
		MaxTokens: c.SummaryMaxTokens,
	}
	final, err := c.provider.Create(ctx, req)
	if err != nil {
		return conversation, "", false, err
	}

	var summary strings.Builder
	for _, b := range final.Content {
		if b.Type == BlockText {
			summary.WriteString(b.Text)
		}
	}

	replaced := make([]Message, 0, len(conversation)-split+2)
	replaced = append(replaced,
		UserText(summaryLeadIn+summary.String()),
		AssistantBlocks(Text(summaryAck)),
	)
	replaced = append(replaced, conversation[split:]...)

	c.logger.Info("summarized early conversation",
		"summarized_messages", split,
		"kept_messages", len(conversation)-split)
	return replaced, summary.String(), true, nil
}

// Compact runs the full flow when the counter is at or past the threshold.
// Phase 1 returns immediately when it truncated anything — if the next call
// is still over threshold, compaction runs again and reaches phase 2. The
// returned conversation is the input slice unless phase 2 replaced the
// prefix. A summarization failure is returned with the conversation
// unchanged; callers treat it as non-fatal.
func (c *Compactor) Compact(ctx context.Context, conversation []Message) ([]Message, CompactResult, error) {
	var result CompactResult
	if c.counter.UsagePercent() < CompactThresholdPercent {
		return conversation, result, nil
	}

	c.logger.Info("compaction started", "usage_percent", c.counter.UsagePercent())

	result.Truncated = TruncateToolResults(conversation, c.PreserveRounds)
	if result.Truncated > 0 {
		c.logger.Info("truncated stale tool results", "count", result.Truncated)
		return conversation, result, nil
	}

	replaced, summary, ok, err := c.Summarize(ctx, conversation)
	if err != nil {
		c.logger.Warn("summarization failed, conversation unchanged", "error", err)
		return conversation, result, err
	}
	if ok {
		result.Summarized = true
		result.Summary = summary
	}
	return replaced, result, nil
}
