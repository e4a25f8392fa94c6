package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	aster "github.com/corven/aster"
)

// SSE event payloads. Only the fields the accumulator needs are decoded.

type streamMessageStart struct {
	Message struct {
		Usage wireUsage `json:"usage"`
	} `json:"message"`
}

type streamBlockStart struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"content_block"`
}

type streamBlockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta"`
}

type streamMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type streamError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// partialBlock accumulates one content block across SSE events.
type partialBlock struct {
	blockType string
	text      strings.Builder
	id        string
	name      string
	inputJSON strings.Builder
}

func (b *partialBlock) finish() aster.ContentBlock {
	switch b.blockType {
	case aster.BlockToolUse:
		input := json.RawMessage(b.inputJSON.String())
		if !json.Valid(input) || len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return aster.ToolUse(b.id, b.name, input)
	default:
		return aster.Text(b.text.String())
	}
}

// readStream consumes the Messages API SSE stream: text deltas are forwarded
// to ch as they arrive, content blocks are accumulated by index, and the
// final message is assembled from message_delta and the collected blocks.
// ch is closed before returning.
func readStream(ctx context.Context, body io.Reader, ch chan<- string) (aster.FinalMessage, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	blocks := make(map[int]*partialBlock)
	var order []int
	var usage wireUsage
	stopReason := "end_turn"
	var eventType string

	for scanner.Scan() {
		line := scanner.Text()
		if after, ok := strings.CutPrefix(line, "event: "); ok {
			eventType = after
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		switch eventType {
		case "message_start":
			var ev streamMessageStart
			if json.Unmarshal([]byte(data), &ev) == nil {
				usage.InputTokens = ev.Message.Usage.InputTokens
				usage.CacheCreationTokens = ev.Message.Usage.CacheCreationTokens
				usage.CacheReadTokens = ev.Message.Usage.CacheReadTokens
			}

		case "content_block_start":
			var ev streamBlockStart
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			pb := &partialBlock{
				blockType: ev.ContentBlock.Type,
				id:        ev.ContentBlock.ID,
				name:      ev.ContentBlock.Name,
			}
			if ev.ContentBlock.Text != "" {
				pb.text.WriteString(ev.ContentBlock.Text)
			}
			blocks[ev.Index] = pb
			order = append(order, ev.Index)

		case "content_block_delta":
			var ev streamBlockDelta
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			pb, ok := blocks[ev.Index]
			if !ok {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" {
					pb.text.WriteString(ev.Delta.Text)
					select {
					case ch <- ev.Delta.Text:
					case <-ctx.Done():
						return aster.FinalMessage{}, classifyTransport(ctx.Err())
					}
				}
			case "input_json_delta":
				pb.inputJSON.WriteString(ev.Delta.PartialJSON)
			}

		case "message_delta":
			var ev streamMessageDelta
			if json.Unmarshal([]byte(data), &ev) == nil {
				if ev.Delta.StopReason != "" {
					stopReason = ev.Delta.StopReason
				}
				if ev.Usage.OutputTokens > 0 {
					usage.OutputTokens = ev.Usage.OutputTokens
				}
			}

		case "message_stop":
			return finishStream(blocks, order, stopReason, usage), nil

		case "error":
			var ev streamError
			message := data
			if json.Unmarshal([]byte(data), &ev) == nil && ev.Error.Message != "" {
				message = ev.Error.Message
			}
			return aster.FinalMessage{}, &aster.ProviderError{
				Kind:    aster.KindServerTransient,
				Message: message,
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return aster.FinalMessage{}, classifyTransport(err)
	}
	// Stream ended without message_stop; return what was accumulated.
	return finishStream(blocks, order, stopReason, usage), nil
}

func finishStream(blocks map[int]*partialBlock, order []int, stopReason string, usage wireUsage) aster.FinalMessage {
	content := make([]aster.ContentBlock, 0, len(order))
	for _, idx := range order {
		content = append(content, blocks[idx].finish())
	}
	return aster.FinalMessage{
		Content:    content,
		StopReason: stopReason,
		Usage:      fromWireUsage(usage),
	}
}
