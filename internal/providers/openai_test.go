package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sandbotdev/sandbot/internal/config"
)

func testClient(url string) *Client {
	return NewClient(config.AgentConfig{BaseURL: url, APIKey: "test", Model: "glm-4.6", MaxTokens: 100})
}

func TestChatParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("request body: %v", err)
		}
		if body["model"] != "glm-4.6" {
			t.Errorf("model = %v", body["model"])
		}
		w.Write([]byte(`{
			"choices": [{"message": {"content": "",
				"tool_calls": [{"id": "call_1", "function": {"name": "run_command", "arguments": "{\"command\": \"ls\"}"}}]},
				"finish_reason": "tool_calls"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "list files"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "run_command" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["command"] != "ls" {
		t.Errorf("arguments = %v", resp.ToolCalls[0].Arguments)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
}

func TestChatRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices": [{"message": {"content": "done"}, "finish_reason": "stop"}]}`))
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "done" {
		t.Errorf("content = %q", resp.Content)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestChatDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 400)", calls.Load())
	}
}

func TestAssistantMessageStripsExtras(t *testing.T) {
	resp := &ChatResponse{
		Content:   "text",
		ToolCalls: []ToolCall{{ID: "1", Name: "read_file"}},
	}
	msg := resp.AssistantMessage()
	if msg.Role != "assistant" || msg.Content != "text" || len(msg.ToolCalls) != 1 {
		t.Errorf("AssistantMessage = %+v", msg)
	}
}

func TestToolCallWireFormat(t *testing.T) {
	c := testClient("http://example.invalid")
	body := c.buildRequestBody(ChatRequest{
		Messages: []Message{
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "x", Name: "t", Arguments: map[string]any{"a": 1}}}},
			{Role: "tool", Content: "ok", ToolCallID: "x"},
		},
	})
	msgs := body["messages"].([]map[string]any)
	if _, hasContent := msgs[0]["content"]; hasContent {
		t.Error("empty assistant content should be omitted with tool_calls")
	}
	tc := msgs[0]["tool_calls"].([]map[string]any)[0]
	fn := tc["function"].(map[string]any)
	if _, isString := fn["arguments"].(string); !isString {
		t.Error("arguments must be a JSON string on the wire")
	}
	if msgs[1]["tool_call_id"] != "x" {
		t.Error("tool_call_id missing on tool message")
	}
}
