package anthropic

import (
	"encoding/json"

	aster "github.com/corven/aster"
)

// Messages API wire types. Content blocks mirror aster.ContentBlock field for
// field, plus the cache_control annotation that only exists on the wire.

type cacheControl struct {
	Type string `json:"type"` // "ephemeral"
}

var ephemeral = &cacheControl{Type: "ephemeral"}

type systemBlock struct {
	Type         string        `json:"type"` // "text"
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type wireSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type wireBlock struct {
	Type         string          `json:"type"`
	Text         string          `json:"text,omitempty"`
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	ToolUseID    string          `json:"tool_use_id,omitempty"`
	Content      string          `json:"content,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
	Source       *wireSource     `json:"source,omitempty"`
	CacheControl *cacheControl   `json:"cache_control,omitempty"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []wireBlock
}

type wireTool struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema"`
	CacheControl *cacheControl   `json:"cache_control,omitempty"`
}

type messagesRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	System    interface{}   `json:"system,omitempty"` // string or []systemBlock
	Tools     []wireTool    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream,omitempty"`
}

type countTokensRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	System   interface{}   `json:"system,omitempty"`
	Tools    []wireTool    `json:"tools,omitempty"`
}

type countTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

type wireUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens"`
}

// messagesResponse is the non-streaming response body.
type messagesResponse struct {
	Content    []aster.ContentBlock `json:"content"`
	StopReason string               `json:"stop_reason"`
	Usage      wireUsage            `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// toWireBlock copies an aster block onto the wire shape.
func toWireBlock(b aster.ContentBlock) wireBlock {
	w := wireBlock{
		Type:      b.Type,
		Text:      b.Text,
		ID:        b.ID,
		Name:      b.Name,
		Input:     b.Input,
		ToolUseID: b.ToolUseID,
		Content:   b.Content,
		IsError:   b.IsError,
	}
	if b.Type == aster.BlockToolUse && len(w.Input) == 0 {
		w.Input = json.RawMessage(`{}`)
	}
	if b.Source != nil {
		w.Source = &wireSource{
			Type:      b.Source.Kind,
			MediaType: b.Source.MediaType,
			Data:      b.Source.Data,
			URL:       b.Source.URL,
		}
	}
	return w
}

// toWireMessages converts conversation messages to the wire format. When
// caching is on, the last content block of the last message is marked
// cacheable; plain-text content is lifted to a single marked text block.
// The caller's messages are never mutated — marks live only on the copy.
func toWireMessages(messages []aster.Message, caching bool) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for i, m := range messages {
		markLast := caching && i == len(messages)-1
		if !m.Content.IsBlocks() {
			if markLast {
				out = append(out, wireMessage{
					Role: m.Role,
					Content: []wireBlock{{
						Type:         aster.BlockText,
						Text:         m.Content.Text,
						CacheControl: ephemeral,
					}},
				})
			} else {
				out = append(out, wireMessage{Role: m.Role, Content: m.Content.Text})
			}
			continue
		}
		blocks := make([]wireBlock, 0, len(m.Content.Blocks))
		for _, b := range m.Content.Blocks {
			blocks = append(blocks, toWireBlock(b))
		}
		if markLast && len(blocks) > 0 {
			blocks[len(blocks)-1].CacheControl = ephemeral
		}
		out = append(out, wireMessage{Role: m.Role, Content: blocks})
	}
	return out
}

// toWireSystem hoists the system prompt. When caching is on, it becomes a
// cacheable text block.
func toWireSystem(system string, caching bool) interface{} {
	if system == "" {
		return nil
	}
	if !caching {
		return system
	}
	return []systemBlock{{Type: "text", Text: system, CacheControl: ephemeral}}
}

// toWireTools converts tool descriptors in order. Schemas pass through as raw
// JSON so serialization stays deterministic, which the cache prefix depends
// on. When caching is on the last tool is marked cacheable.
func toWireTools(tools []aster.ToolDescriptor, caching bool) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	emptySchema := json.RawMessage(`{"type":"object","properties":{}}`)
	out := make([]wireTool, len(tools))
	for i, t := range tools {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = emptySchema
		}
		out[i] = wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		}
	}
	if caching {
		out[len(out)-1].CacheControl = ephemeral
	}
	return out
}

func fromWireUsage(u wireUsage) aster.UsageInfo {
	return aster.UsageInfo{
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		CacheCreationTokens: u.CacheCreationTokens,
		CacheReadTokens:     u.CacheReadTokens,
	}
}
