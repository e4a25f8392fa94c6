package aster

import (
	"encoding/json"
	"fmt"
)

// --- Content blocks ---

// Block type tags. The set is closed: decoding any other tag is an error, so a
// desynchronized tool_use/tool_result pairing is caught at the boundary
// instead of silently corrupting the transcript.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockImage      = "image"
	BlockDocument   = "document"
)

// Source locates binary content for image and document blocks, either inline
// base64 or by URL.
type Source struct {
	Kind      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ContentBlock is one element of a message. Type selects which of the other
// fields are meaningful:
//
//	text:        Text
//	tool_use:    ID, Name, Input
//	tool_result: ToolUseID, Content, IsError
//	image:       Source
//	document:    Source
//
// Input is kept as raw JSON so the bytes the provider sent come back to it
// unchanged on the next turn, which matters for prompt-cache stability.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Source    *Source         `json:"source,omitempty"`
}

// blockAlias avoids UnmarshalJSON recursion.
type blockAlias ContentBlock

// UnmarshalJSON decodes a content block and rejects unknown type tags.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var a blockAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	switch a.Type {
	case BlockText, BlockToolUse, BlockToolResult, BlockImage, BlockDocument:
	default:
		return fmt.Errorf("content block: unknown type %q", a.Type)
	}
	*b = ContentBlock(a)
	return nil
}

// Text creates a text block.
func Text(s string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: s}
}

// ToolUse creates a tool_use block.
func ToolUse(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultFor creates a tool_result block answering the given tool_use id.
func ToolResultFor(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// --- Messages ---

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content is a message body: either a plain string or an ordered sequence of
// content blocks. Exactly one representation is active; plain text
// round-trips as a JSON string, blocks as a JSON array.
type Content struct {
	Text   string
	Blocks []ContentBlock
}

// TextContent wraps plain text as message content.
func TextContent(s string) Content { return Content{Text: s} }

// BlockContent wraps content blocks as message content.
func BlockContent(blocks ...ContentBlock) Content { return Content{Blocks: blocks} }

// IsBlocks reports whether the content is the structured form.
func (c Content) IsBlocks() bool { return c.Blocks != nil }

// MarshalJSON encodes block content as an array and plain content as a string.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts either a JSON string or an array of content blocks.
func (c *Content) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var blocks []ContentBlock
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		c.Text = ""
		c.Blocks = blocks
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("message content: %w", err)
	}
	c.Text = s
	c.Blocks = nil
	return nil
}

// HasBlock reports whether structured content contains a block with the given
// type tag. Plain-text content never matches.
func (c Content) HasBlock(blockType string) bool {
	for _, b := range c.Blocks {
		if b.Type == blockType {
			return true
		}
	}
	return false
}

// Message is one turn of a conversation.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// UserText creates a plain-text user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: TextContent(text)}
}

// UserBlocks creates a user message from content blocks.
func UserBlocks(blocks ...ContentBlock) Message {
	return Message{Role: RoleUser, Content: BlockContent(blocks...)}
}

// AssistantText creates a plain-text assistant message.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: TextContent(text)}
}

// AssistantBlocks creates an assistant message from content blocks.
func AssistantBlocks(blocks ...ContentBlock) Message {
	return Message{Role: RoleAssistant, Content: BlockContent(blocks...)}
}

// PlainText flattens the message to the text a chat client would display:
// plain content as-is, block content as the concatenation of its text blocks.
// Returns ok=false when the message holds no text at all (e.g. a pure
// tool_result round).
func (m Message) PlainText() (string, bool) {
	if !m.Content.IsBlocks() {
		return m.Content.Text, true
	}
	var out string
	found := false
	for _, b := range m.Content.Blocks {
		if b.Type == BlockText {
			out += b.Text
			found = true
		}
	}
	return out, found
}

// CloneMessages deep-copies a conversation via its JSON form. Stores persist
// the copy so later in-place mutation (compaction) cannot alias persisted
// state.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		// Conversations are built from the types above and always marshal.
		panic(fmt.Sprintf("aster: clone conversation: %v", err))
	}
	out := make([]Message, 0, len(msgs))
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("aster: clone conversation: %v", err))
	}
	return out
}
