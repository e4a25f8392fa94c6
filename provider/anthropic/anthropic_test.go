package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	aster "github.com/corven/aster"
)

func testRequest() aster.Request {
	return aster.Request{
		Messages: []aster.Message{
			aster.UserText("first"),
			aster.AssistantBlocks(aster.Text("reply")),
			aster.UserText("second"),
		},
		System: "You are terse.",
		Tools: []aster.ToolDescriptor{
			{Name: "alpha", Description: "a", InputSchema: json.RawMessage(`{"type":"object"}`)},
			{Name: "beta", Description: "b", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
		MaxTokens: 512,
	}
}

func TestCacheMarkersPositional(t *testing.T) {
	p := New(Config{APIKey: "sk-test", EnablePromptCaching: true})
	req := testRequest()
	wire := p.buildRequest(req, true)

	system, ok := wire.System.([]systemBlock)
	if !ok || len(system) != 1 || system[0].CacheControl == nil {
		t.Errorf("system prompt must be one cacheable block: %+v", wire.System)
	}

	if wire.Tools[0].CacheControl != nil {
		t.Error("only the last tool is marked")
	}
	if wire.Tools[1].CacheControl == nil {
		t.Error("last tool must carry the cache marker")
	}

	last := wire.Messages[len(wire.Messages)-1]
	blocks, ok := last.Content.([]wireBlock)
	if !ok || len(blocks) != 1 {
		t.Fatalf("last plain-text message must become a block list: %+v", last.Content)
	}
	if blocks[0].CacheControl == nil || blocks[0].Text != "second" {
		t.Errorf("last block must be marked cacheable: %+v", blocks[0])
	}

	// Earlier messages stay unmarked plain strings.
	if _, isString := wire.Messages[0].Content.(string); !isString {
		t.Errorf("earlier plain messages stay strings: %+v", wire.Messages[0].Content)
	}
}

func TestCacheMarkersOffByDefault(t *testing.T) {
	p := New(Config{APIKey: "sk-test"})
	wire := p.buildRequest(testRequest(), false)

	if _, ok := wire.System.(string); !ok {
		t.Errorf("uncached system stays a string: %+v", wire.System)
	}
	for i, tool := range wire.Tools {
		if tool.CacheControl != nil {
			t.Errorf("tool %d must not be marked", i)
		}
	}
	if _, ok := wire.Messages[2].Content.(string); !ok {
		t.Errorf("uncached message stays a string: %+v", wire.Messages[2].Content)
	}
}

func TestBuildRequestDoesNotMutateCaller(t *testing.T) {
	p := New(Config{APIKey: "sk-test", EnablePromptCaching: true})
	req := testRequest()
	before, _ := json.Marshal(req)
	_ = p.buildRequest(req, true)
	after, _ := json.Marshal(req)
	if string(before) != string(after) {
		t.Error("buildRequest mutated the caller's request")
	}
}

func TestToolOrderPreserved(t *testing.T) {
	p := New(Config{APIKey: "sk-test"})
	req := testRequest()
	wire := p.buildRequest(req, false)
	if wire.Tools[0].Name != "alpha" || wire.Tools[1].Name != "beta" {
		t.Errorf("tool order changed: %+v", wire.Tools)
	}
}

// sseBody formats a canned Messages API event stream.
func sseBody(events ...[2]string) string {
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", e[0], e[1])
	}
	return b.String()
}

func streamFixture() string {
	return sseBody(
		[2]string{"message_start", `{"message":{"usage":{"input_tokens":25,"cache_read_input_tokens":10}}}`},
		[2]string{"content_block_start", `{"index":0,"content_block":{"type":"text","text":""}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"text_delta","text":"He"}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"text_delta","text":"llo"}}`},
		[2]string{"content_block_stop", `{"index":0}`},
		[2]string{"content_block_start", `{"index":1,"content_block":{"type":"tool_use","id":"t1","name":"read_file"}}`},
		[2]string{"content_block_delta", `{"index":1,"delta":{"type":"input_json_delta","partial_json":"{\"pa"}}`},
		[2]string{"content_block_delta", `{"index":1,"delta":{"type":"input_json_delta","partial_json":"th\":\"a\"}"}}`},
		[2]string{"content_block_stop", `{"index":1}`},
		[2]string{"message_delta", `{"delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":12}}`},
		[2]string{"message_stop", `{}`},
	)
}

func TestStreamParsesFragmentsAndFinal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != messagesPath {
			t.Errorf("path: %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "sk-test" || r.Header.Get("Anthropic-Version") == "" {
			t.Error("missing auth headers")
		}
		var body messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("request decode: %v", err)
		}
		if !body.Stream {
			t.Error("stream flag must be set")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(streamFixture()))
	}))
	defer server.Close()

	p := New(Config{APIKey: "sk-test", BaseURL: server.URL})
	ch := make(chan string, 16)
	msg, err := p.Stream(context.Background(), aster.Request{Messages: []aster.Message{aster.UserText("hi")}}, ch)
	if err != nil {
		t.Fatal(err)
	}

	var fragments []string
	for s := range ch {
		fragments = append(fragments, s)
	}
	if fmt.Sprint(fragments) != fmt.Sprint([]string{"He", "llo"}) {
		t.Errorf("fragments: %v", fragments)
	}

	if msg.StopReason != "tool_use" {
		t.Errorf("stop reason: %q", msg.StopReason)
	}
	if len(msg.Content) != 2 {
		t.Fatalf("content blocks: %+v", msg.Content)
	}
	if msg.Content[0].Type != aster.BlockText || msg.Content[0].Text != "Hello" {
		t.Errorf("text block: %+v", msg.Content[0])
	}
	use := msg.Content[1]
	if use.Type != aster.BlockToolUse || use.ID != "t1" || use.Name != "read_file" {
		t.Errorf("tool_use block: %+v", use)
	}
	if string(use.Input) != `{"path":"a"}` {
		t.Errorf("accumulated input: %s", use.Input)
	}
	if msg.Usage.InputTokens != 25 || msg.Usage.OutputTokens != 12 || msg.Usage.CacheReadTokens != 10 {
		t.Errorf("usage: %+v", msg.Usage)
	}
}

func TestCreateParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"content": [{"type":"text","text":"summary here"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 8, "output_tokens": 3}
		}`))
	}))
	defer server.Close()

	p := New(Config{APIKey: "sk-test", BaseURL: server.URL})
	msg, err := p.Create(context.Background(), aster.Request{Messages: []aster.Message{aster.UserText("summarize")}})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Content[0].Text != "summary here" || msg.StopReason != "end_turn" {
		t.Errorf("final: %+v", msg)
	}
}

func TestCountTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != countTokensPath {
			t.Errorf("path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"input_tokens": 1234}`))
	}))
	defer server.Close()

	p := New(Config{APIKey: "sk-test", BaseURL: server.URL})
	n, err := p.CountTokens(context.Background(), aster.Request{Messages: []aster.Message{aster.UserText("hi")}})
	if err != nil || n != 1234 {
		t.Fatalf("got %d, %v", n, err)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   aster.ErrorKind
	}{
		{401, aster.KindAuth},
		{403, aster.KindAuth},
		{429, aster.KindRateLimited},
		{500, aster.KindServerTransient},
		{529, aster.KindServerTransient},
		{400, aster.KindOther},
		{404, aster.KindOther},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status == 429 {
					w.Header().Set("Retry-After", "7")
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"nope"}}`))
			}))
			defer server.Close()

			p := New(Config{APIKey: "sk-test", BaseURL: server.URL})
			_, err := p.Create(context.Background(), aster.Request{Messages: []aster.Message{aster.UserText("x")}})
			if err == nil {
				t.Fatal("expected error")
			}
			pe, ok := err.(*aster.ProviderError)
			if !ok {
				t.Fatalf("error type: %T", err)
			}
			if pe.Kind != tt.want {
				t.Errorf("kind: got %v, want %v", pe.Kind, tt.want)
			}
			if pe.Message != "nope" {
				t.Errorf("message: %q", pe.Message)
			}
			if tt.status == 429 && pe.RetryAfter != 7*time.Second {
				t.Errorf("retry-after: %v", pe.RetryAfter)
			}
		})
	}
}

func TestStreamErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sseBody(
			[2]string{"message_start", `{"message":{"usage":{"input_tokens":5}}}`},
			[2]string{"error", `{"error":{"type":"overloaded_error","message":"Overloaded"}}`},
		)))
	}))
	defer server.Close()

	p := New(Config{APIKey: "sk-test", BaseURL: server.URL})
	ch := make(chan string, 4)
	_, err := p.Stream(context.Background(), aster.Request{Messages: []aster.Message{aster.UserText("x")}}, ch)
	if err == nil {
		t.Fatal("expected stream error")
	}
	pe, ok := err.(*aster.ProviderError)
	if !ok || pe.Kind != aster.KindServerTransient || pe.Message != "Overloaded" {
		t.Errorf("error: %+v", err)
	}
}
