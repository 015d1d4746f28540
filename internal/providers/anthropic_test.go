package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
		}
	}))
}

func TestAnthropicChatStream_TextDeltas(t *testing.T) {
	srv := sseServer(t, []string{
		`event: message_start`,
		`data: {"message":{"usage":{"input_tokens":10}}}`,
		``,
		`event: content_block_delta`,
		`data: {"delta":{"type":"text_delta","text":"Hello"}}`,
		``,
		`event: content_block_delta`,
		`data: {"delta":{"type":"text_delta","text":" world"}}`,
		``,
		`event: message_delta`,
		`data: {"delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
		``,
		`event: message_stop`,
		`data: {}`,
	})
	defer srv.Close()

	p := NewAnthropic("test-key", WithAnthropicBaseURL(srv.URL))

	var chunks []StreamChunk
	resp, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(c StreamChunk) { chunks = append(chunks, c) })
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	if resp.Content != "Hello world" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if len(chunks) == 0 || !chunks[len(chunks)-1].Done {
		t.Errorf("expected terminal done chunk, got %v", chunks)
	}
}

func TestAnthropicChatStream_ToolUse(t *testing.T) {
	srv := sseServer(t, []string{
		`event: content_block_start`,
		`data: {"content_block":{"type":"tool_use","id":"tu_1","name":"web_search"}}`,
		``,
		`event: message_delta`,
		`data: {"delta":{"stop_reason":"tool_use"},"usage":{}}`,
	})
	defer srv.Close()

	p := NewAnthropic("test-key", WithAnthropicBaseURL(srv.URL))

	var toolNames []string
	resp, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "search"}},
	}, func(c StreamChunk) {
		if c.ToolName != "" {
			toolNames = append(toolNames, c.ToolName)
		}
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	if len(toolNames) != 1 || toolNames[0] != "web_search" {
		t.Errorf("tool chunks = %v", toolNames)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
}

func TestAnthropicChatStream_ErrorEvent(t *testing.T) {
	srv := sseServer(t, []string{
		`event: error`,
		`data: {"error":{"type":"overloaded_error","message":"try again"}}`,
	})
	defer srv.Close()

	p := NewAnthropic("test-key", WithAnthropicBaseURL(srv.URL))

	_, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, nil)
	if err == nil {
		t.Fatal("expected stream error")
	}
}

func TestAnthropicChat_NonRetryableStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewAnthropic("bad-key", WithAnthropicBaseURL(srv.URL))
	if _, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}}); err == nil {
		t.Fatal("expected error for 401")
	}
	if calls != 1 {
		t.Errorf("401 should not be retried, got %d calls", calls)
	}
}

func TestNewProviderRegistry(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr bool
	}{
		{"default backend", Credentials{APIKey: "k"}, false},
		{"anthropic", Credentials{Backend: "anthropic", APIKey: "k"}, false},
		{"openai", Credentials{Backend: "openai", APIKey: "k"}, false},
		{"missing key", Credentials{Backend: "anthropic"}, true},
		{"unknown", Credentials{Backend: "bard", APIKey: "k"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.creds)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%+v) error = %v, wantErr %v", tt.creds, err, tt.wantErr)
			}
		})
	}
}
