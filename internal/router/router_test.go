package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shabbark/pocketpaw/internal/providers"
)

// scriptedProvider replays a fixed chunk sequence, or fails.
type scriptedProvider struct {
	chunks []providers.StreamChunk
	err    error
	delay  time.Duration
}

func (s *scriptedProvider) Name() string         { return "scripted" }
func (s *scriptedProvider) DefaultModel() string { return "scripted-1" }

func (s *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: "done"}, s.err
}

func (s *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	for _, c := range s.chunks {
		if s.delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.delay):
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		onChunk(c)
	}
	return &providers.ChatResponse{}, s.err
}

func collect(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var out []Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestRun_StreamsTypedChunks(t *testing.T) {
	p := &scriptedProvider{chunks: []providers.StreamChunk{
		{Content: "analyzing "},
		{ToolName: "web_search"},
		{Content: "the results"},
		{Done: true},
	}}
	r := NewWithProvider(p, Settings{BypassPermissions: true})

	chunks := collect(t, r.Run(context.Background(), "do the thing"))

	want := []Chunk{
		{Type: ChunkMessage, Content: "analyzing "},
		{Type: ChunkToolUse, Content: "web_search"},
		{Type: ChunkMessage, Content: "the results"},
		{Type: ChunkDone},
	}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks %v, want %d", len(chunks), chunks, len(want))
	}
	for i := range want {
		if chunks[i].Type != want[i].Type || chunks[i].Content != want[i].Content {
			t.Errorf("chunk %d = %+v, want %+v", i, chunks[i], want[i])
		}
	}
}

func TestRun_BackendErrorBecomesErrorChunk(t *testing.T) {
	p := &scriptedProvider{
		chunks: []providers.StreamChunk{{Content: "partial"}},
		err:    errors.New("rate limited"),
	}
	r := NewWithProvider(p, Settings{})

	chunks := collect(t, r.Run(context.Background(), "x"))
	last := chunks[len(chunks)-1]
	if last.Type != ChunkError {
		t.Fatalf("last chunk = %+v, want error", last)
	}
	if last.Content == "" {
		t.Error("error chunk should carry a message")
	}
}

func TestStop_CancelsRun(t *testing.T) {
	p := &scriptedProvider{
		chunks: []providers.StreamChunk{
			{Content: "a"}, {Content: "b"}, {Content: "c"}, {Done: true},
		},
		delay: 100 * time.Millisecond,
	}
	r := NewWithProvider(p, Settings{})

	ch := r.Run(context.Background(), "x")

	// Let the first chunk through, then stop.
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no first chunk")
	}
	r.Stop()

	// Stream must terminate without a done chunk.
	chunks := collect(t, ch)
	for _, c := range chunks {
		if c.Type == ChunkDone {
			t.Error("stream finished despite Stop")
		}
	}
}

func TestStop_IsIdempotent(t *testing.T) {
	r := NewWithProvider(&scriptedProvider{}, Settings{})
	r.Stop()
	r.Stop()

	ch := r.Run(context.Background(), "x")
	collect(t, ch)
	r.Stop()
	r.Stop()
}

func TestNew_UnknownBackend(t *testing.T) {
	if _, err := New(Settings{Backend: "mystery", APIKey: "k"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
