// Package agentchat is the conversational loop: it consumes inbound channel
// messages from the bus, answers them through an agent backend with per-chat
// history, and recognizes the deep-work prefix that turns a chat message
// into a planned project.
package agentchat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/deepwork"
	"github.com/shabbark/pocketpaw/internal/providers"
	"github.com/shabbark/pocketpaw/internal/sessions"
)

// DeepWorkPrefix switches a chat message from conversation to project
// planning. Matching is case insensitive.
const DeepWorkPrefix = "deep work:"

const historyWindow = 40

const defaultSystemPrompt = `You are pocketpaw, a personal AI assistant running on the user's own device.
Be concise and direct. You are talking over a chat channel; prefer short
paragraphs over lists unless the user asks for structure.`

// Loop drives conversations for every connected channel.
type Loop struct {
	bus      *bus.MessageBus
	sessions *sessions.Store
	provider providers.Provider
	deepwork *deepwork.Session

	systemPrompt string
}

// Option configures a Loop.
type Option func(*Loop)

// WithSystemPrompt overrides the default chat persona.
func WithSystemPrompt(prompt string) Option {
	return func(l *Loop) {
		if prompt != "" {
			l.systemPrompt = prompt
		}
	}
}

// New wires the chat loop. dw may be nil, in which case the deep-work prefix
// is answered with an explanation instead of a project.
func New(b *bus.MessageBus, st *sessions.Store, p providers.Provider, dw *deepwork.Session, opts ...Option) *Loop {
	l := &Loop{
		bus:          b,
		sessions:     st,
		provider:     p,
		deepwork:     dw,
		systemPrompt: defaultSystemPrompt,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run consumes inbound messages until ctx is cancelled. Each message is
// handled on its own goroutine so one slow backend call cannot stall other
// chats.
func (l *Loop) Run(ctx context.Context) {
	inbound := l.bus.SubscribeInbound("agentchat")
	defer l.bus.UnsubscribeInbound("agentchat")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			go l.handle(ctx, msg)
		}
	}
}

func (l *Loop) handle(ctx context.Context, msg bus.InboundMessage) {
	content := strings.TrimSpace(msg.Content)
	if content == "" && len(msg.Media) == 0 {
		return
	}

	if rest, ok := stripDeepWorkPrefix(content); ok {
		l.handleDeepWork(ctx, msg, rest)
		return
	}

	key, err := l.sessions.Touch(ctx, msg.Channel, msg.ChatID)
	if err != nil {
		slog.Error("session lookup failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		l.reply(msg, "Something went wrong on my side. Please try again.")
		return
	}

	userContent := content + bus.MediaHint(msg.Media)
	if err := l.sessions.AddMessage(ctx, key, "user", userContent); err != nil {
		slog.Warn("history write failed", "session", key, "error", err)
	}

	history, err := l.sessions.History(ctx, key, historyWindow)
	if err != nil {
		slog.Warn("history read failed", "session", key, "error", err)
	}

	messages := make([]providers.Message, 0, len(history)+1)
	messages = append(messages, providers.Message{Role: "system", Content: l.systemPrompt})
	messages = append(messages, history...)

	var full strings.Builder
	resp, err := l.provider.ChatStream(ctx, providers.ChatRequest{Messages: messages}, func(c providers.StreamChunk) {
		if c.Content == "" {
			return
		}
		full.WriteString(c.Content)
		l.bus.PublishOutbound(bus.OutboundMessage{
			Channel:       msg.Channel,
			ChatID:        msg.ChatID,
			Content:       c.Content,
			IsStreamChunk: true,
		})
	})
	if err != nil {
		slog.Error("chat backend failed", "channel", msg.Channel, "error", err)
		l.reply(msg, "I could not reach my backend. Please try again in a moment.")
		return
	}

	answer := full.String()
	if answer == "" && resp != nil {
		answer = resp.Content
	}
	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel:     msg.Channel,
		ChatID:      msg.ChatID,
		Content:     answer,
		IsStreamEnd: true,
	})

	if err := l.sessions.AddMessage(ctx, key, "assistant", answer); err != nil {
		slog.Warn("history write failed", "session", key, "error", err)
	}
}

func (l *Loop) handleDeepWork(ctx context.Context, msg bus.InboundMessage, request string) {
	if l.deepwork == nil {
		l.reply(msg, "Deep work is not enabled on this host.")
		return
	}
	project, err := l.deepwork.Start(ctx, request, "standard")
	if err != nil {
		l.reply(msg, fmt.Sprintf("I could not plan that: %v", err))
		return
	}
	taskCount := len(l.deepwork.ProjectTasks(project.ID))
	l.reply(msg, fmt.Sprintf(
		"Planned '%s' as %d tasks. Review and approve it on the dashboard to start execution.",
		project.Title, taskCount))
}

func (l *Loop) reply(msg bus.InboundMessage, text string) {
	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel:     msg.Channel,
		ChatID:      msg.ChatID,
		Content:     text,
		IsStreamEnd: true,
	})
}

func stripDeepWorkPrefix(content string) (string, bool) {
	if len(content) < len(DeepWorkPrefix) {
		return "", false
	}
	if !strings.EqualFold(content[:len(DeepWorkPrefix)], DeepWorkPrefix) {
		return "", false
	}
	return strings.TrimSpace(content[len(DeepWorkPrefix):]), true
}
