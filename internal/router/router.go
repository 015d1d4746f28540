// Package router isolates one executing task from its agent backend: each
// task gets its own Router, which turns the backend's streaming response
// into a typed chunk sequence and owns cancellation for that run.
package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shabbark/pocketpaw/internal/providers"
)

// ChunkType classifies one stream event from the agent backend.
type ChunkType string

const (
	ChunkMessage    ChunkType = "message"
	ChunkToolUse    ChunkType = "tool_use"
	ChunkToolResult ChunkType = "tool_result"
	ChunkError      ChunkType = "error"
	ChunkDone       ChunkType = "done"
)

// Chunk is a single typed event in a task's output stream. The stream ends
// at the first done or error chunk.
type Chunk struct {
	Type     ChunkType         `json:"type"`
	Content  string            `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Settings selects a backend and carries provider credentials for one run.
// The executor clones the process settings per task, overriding Backend from
// the assigned agent's profile.
type Settings struct {
	Backend string
	APIKey  string
	Model   string
	BaseURL string

	// BypassPermissions is always true in task-execution contexts: there
	// is no interactive terminal to authorize tools.
	BypassPermissions bool

	SystemPrompt string
}

// Router runs prompts against one agent backend. Exactly one router exists
// per executing task.
type Router struct {
	provider providers.Provider
	settings Settings

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds a router for the backend named in settings.
func New(settings Settings) (*Router, error) {
	p, err := providers.New(providers.Credentials{
		Backend: settings.Backend,
		APIKey:  settings.APIKey,
		Model:   settings.Model,
		BaseURL: settings.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return NewWithProvider(p, settings), nil
}

// NewWithProvider builds a router over an already-constructed provider.
// Tests inject fakes through this path.
func NewWithProvider(p providers.Provider, settings Settings) *Router {
	return &Router{provider: p, settings: settings}
}

// Run starts the prompt against the backend and returns a finite chunk
// stream. The channel is closed after the first done or error chunk, or
// when Stop cancels the run.
func (r *Router) Run(ctx context.Context, prompt string) <-chan Chunk {
	runCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	out := make(chan Chunk, 16)

	go func() {
		defer close(out)
		defer cancel()

		emit := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-runCtx.Done():
				return false
			}
		}

		messages := []providers.Message{}
		if r.settings.SystemPrompt != "" {
			messages = append(messages, providers.Message{Role: "system", Content: r.settings.SystemPrompt})
		}
		messages = append(messages, providers.Message{Role: "user", Content: prompt})

		_, err := r.provider.ChatStream(runCtx, providers.ChatRequest{
			Messages: messages,
			Model:    r.settings.Model,
		}, func(sc providers.StreamChunk) {
			switch {
			case sc.Done:
				emit(Chunk{Type: ChunkDone})
			case sc.ToolName != "":
				emit(Chunk{Type: ChunkToolUse, Content: sc.ToolName})
			case sc.Content != "":
				emit(Chunk{Type: ChunkMessage, Content: sc.Content})
			}
		})
		if err != nil && runCtx.Err() == nil {
			slog.Debug("agent backend stream failed", "backend", r.provider.Name(), "error", err)
			emit(Chunk{Type: ChunkError, Content: err.Error()})
		}
	}()

	return out
}

// Stop cancels the in-flight run. Idempotent; safe to call before Run.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}
