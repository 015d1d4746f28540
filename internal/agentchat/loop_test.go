package agentchat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/providers"
	"github.com/shabbark/pocketpaw/internal/sessions"
)

type scriptedProvider struct {
	chunks   []string
	err      error
	lastReq  providers.ChatRequest
	received chan struct{}
}

func (s *scriptedProvider) Name() string         { return "scripted" }
func (s *scriptedProvider) DefaultModel() string { return "scripted-1" }

func (s *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: strings.Join(s.chunks, "")}, s.err
}

func (s *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	s.lastReq = req
	if s.received != nil {
		defer close(s.received)
	}
	if s.err != nil {
		return nil, s.err
	}
	for _, c := range s.chunks {
		onChunk(providers.StreamChunk{Content: c})
	}
	onChunk(providers.StreamChunk{Done: true})
	return &providers.ChatResponse{Content: strings.Join(s.chunks, "")}, nil
}

func newLoopFixture(t *testing.T, p providers.Provider) (*Loop, *bus.MessageBus, *sessions.Store) {
	t.Helper()
	st, err := sessions.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("sessions.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	b := bus.New()
	return New(b, st, p, nil), b, st
}

func collectOutbound(t *testing.T, ch <-chan bus.OutboundMessage) []bus.OutboundMessage {
	t.Helper()
	var out []bus.OutboundMessage
	timeout := time.After(3 * time.Second)
	for {
		select {
		case m := <-ch:
			out = append(out, m)
			if m.IsStreamEnd {
				return out
			}
		case <-timeout:
			t.Fatalf("no stream end; got %d messages", len(out))
		}
	}
}

func TestHandle_StreamsChunksThenEnd(t *testing.T) {
	p := &scriptedProvider{chunks: []string{"Hello ", "world"}}
	l, b, _ := newLoopFixture(t, p)
	outbound := b.SubscribeOutbound("test", "telegram")

	l.handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", ChatID: "42", SenderID: "u1", Content: "hi",
	})

	msgs := collectOutbound(t, outbound)
	var chunks []string
	for _, m := range msgs[:len(msgs)-1] {
		if !m.IsStreamChunk {
			t.Errorf("mid-stream message not marked as chunk: %+v", m)
		}
		chunks = append(chunks, m.Content)
	}
	if strings.Join(chunks, "") != "Hello world" {
		t.Errorf("chunks = %v", chunks)
	}
	final := msgs[len(msgs)-1]
	if !final.IsStreamEnd || final.Content != "Hello world" {
		t.Errorf("final = %+v", final)
	}
}

func TestHandle_PersistsBothSides(t *testing.T) {
	p := &scriptedProvider{chunks: []string{"answer"}}
	l, _, st := newLoopFixture(t, p)

	l.handle(context.Background(), bus.InboundMessage{
		Channel: "discord", ChatID: "c9", Content: "question",
	})

	history, err := st.History(context.Background(), sessions.Key("discord", "c9"), 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %+v, want user + assistant", history)
	}
	if history[0].Role != "user" || history[0].Content != "question" {
		t.Errorf("user turn = %+v", history[0])
	}
	if history[1].Role != "assistant" || history[1].Content != "answer" {
		t.Errorf("assistant turn = %+v", history[1])
	}
}

func TestHandle_HistoryFlowsIntoRequest(t *testing.T) {
	p := &scriptedProvider{chunks: []string{"second answer"}}
	l, _, st := newLoopFixture(t, p)
	ctx := context.Background()

	key, _ := st.Touch(ctx, "telegram", "7")
	if err := st.AddMessage(ctx, key, "user", "earlier question"); err != nil {
		t.Fatal(err)
	}
	if err := st.AddMessage(ctx, key, "assistant", "earlier answer"); err != nil {
		t.Fatal(err)
	}

	l.handle(ctx, bus.InboundMessage{Channel: "telegram", ChatID: "7", Content: "followup"})

	if len(p.lastReq.Messages) < 4 {
		t.Fatalf("request messages = %+v", p.lastReq.Messages)
	}
	if p.lastReq.Messages[0].Role != "system" {
		t.Errorf("first message role = %s, want system", p.lastReq.Messages[0].Role)
	}
	found := false
	for _, m := range p.lastReq.Messages {
		if m.Content == "earlier answer" {
			found = true
		}
	}
	if !found {
		t.Error("prior assistant turn missing from request")
	}
}

func TestHandle_BackendErrorSendsApology(t *testing.T) {
	p := &scriptedProvider{err: errors.New("boom")}
	l, b, st := newLoopFixture(t, p)
	outbound := b.SubscribeOutbound("test", "")

	l.handle(context.Background(), bus.InboundMessage{Channel: "slack", ChatID: "s", Content: "hi"})

	msgs := collectOutbound(t, outbound)
	if len(msgs) != 1 || !msgs[0].IsStreamEnd {
		t.Fatalf("msgs = %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "try again") {
		t.Errorf("apology = %q", msgs[0].Content)
	}

	history, _ := st.History(context.Background(), sessions.Key("slack", "s"), 0)
	for _, m := range history {
		if m.Role == "assistant" {
			t.Errorf("failed turn must not persist an assistant message, got %+v", m)
		}
	}
}

func TestHandle_MediaHintAppended(t *testing.T) {
	p := &scriptedProvider{chunks: []string{"ok"}}
	l, _, st := newLoopFixture(t, p)

	l.handle(context.Background(), bus.InboundMessage{
		Channel: "whatsapp", ChatID: "w", Content: "look at this",
		Media: []string{"/tmp/cat.png"},
	})

	history, _ := st.History(context.Background(), sessions.Key("whatsapp", "w"), 0)
	if len(history) == 0 || !strings.Contains(history[0].Content, "[Attached:") {
		t.Errorf("user turn = %+v, want media hint", history)
	}
}

func TestHandle_EmptyMessageIgnored(t *testing.T) {
	p := &scriptedProvider{chunks: []string{"never"}}
	l, b, _ := newLoopFixture(t, p)
	outbound := b.SubscribeOutbound("test", "")

	l.handle(context.Background(), bus.InboundMessage{Channel: "telegram", ChatID: "e", Content: "   "})

	select {
	case m := <-outbound:
		t.Fatalf("unexpected reply %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStripDeepWorkPrefix(t *testing.T) {
	tests := []struct {
		in       string
		wantRest string
		wantOK   bool
	}{
		{"deep work: build a site", "build a site", true},
		{"Deep Work: build a site", "build a site", true},
		{"DEEP WORK:   spaced   ", "spaced", true},
		{"deep work without colon", "", false},
		{"just a message", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		rest, ok := stripDeepWorkPrefix(tt.in)
		if ok != tt.wantOK || rest != tt.wantRest {
			t.Errorf("stripDeepWorkPrefix(%q) = (%q, %v), want (%q, %v)", tt.in, rest, ok, tt.wantRest, tt.wantOK)
		}
	}
}

func TestRun_ConsumesFromBus(t *testing.T) {
	p := &scriptedProvider{chunks: []string{"via bus"}, received: make(chan struct{})}
	l, b, _ := newLoopFixture(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	// Give the subscriber a moment to register.
	time.Sleep(50 * time.Millisecond)
	b.PublishInbound(bus.InboundMessage{Channel: "telegram", ChatID: "r", Content: "ping"})

	select {
	case <-p.received:
	case <-time.After(3 * time.Second):
		t.Fatal("inbound message never reached the provider")
	}
}
