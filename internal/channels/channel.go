// Package channels hosts the chat channel adapters and the manager that
// fans outbound messages to them.
package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/shabbark/pocketpaw/internal/bus"
)

// Channel is a chat surface the host can receive from and send to.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool

	// IsAllowed reports whether a sender may talk to the agent. An empty
	// allowlist means everyone.
	IsAllowed(senderID, username string) bool
}

// StreamingChannel is implemented by channels that can live-edit a message
// as the reply streams. The manager calls OnChunkEvent with the full
// accumulated text so far, not the delta.
type StreamingChannel interface {
	Channel
	StreamEnabled() bool
	OnStreamStart(ctx context.Context, chatID string)
	OnChunkEvent(ctx context.Context, chatID, fullText string)
	OnStreamEnd(ctx context.Context, chatID, finalText string) error
}

// BaseChannel carries the behavior every adapter shares: the allowlist, the
// running flag, and inbound publishing.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom []string
	running   atomic.Bool
}

// NewBase builds the embedded core for a channel adapter.
func NewBase(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	return BaseChannel{name: name, bus: b, allowFrom: allowFrom}
}

func (c *BaseChannel) Name() string    { return c.name }
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning flips the running flag; adapters call it from Start and Stop.
func (c *BaseChannel) SetRunning(v bool) { c.running.Store(v) }

// IsAllowed matches the sender against the allowlist. Entries match the
// sender id, the username, or the compound "id|username" form some users
// copy from the dashboard.
func (c *BaseChannel) IsAllowed(senderID, username string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	for _, entry := range c.allowFrom {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == senderID || (username != "" && strings.EqualFold(entry, username)) {
			return true
		}
		if id, user, ok := strings.Cut(entry, "|"); ok {
			if id == senderID || (username != "" && strings.EqualFold(user, username)) {
				return true
			}
		}
	}
	return false
}

// HandleMessage publishes a normalized inbound message onto the bus.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) {
	msg.Channel = c.name
	c.bus.PublishInbound(msg)
}

// Bus exposes the message bus to adapters for ad-hoc publishing.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// Truncate cuts s to at most max runes, appending an ellipsis when cut.
// Chat platforms enforce hard caps per message (4096 for Telegram, 2000 for
// Discord); callers chunk first and truncate as the safety net.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// SplitMessage chunks s into pieces of at most max runes, preferring to
// break on paragraph and then line boundaries.
func SplitMessage(s string, max int) []string {
	if max <= 0 || len([]rune(s)) <= max {
		return []string{s}
	}
	var chunks []string
	remaining := s
	for len([]rune(remaining)) > max {
		runes := []rune(remaining)
		window := string(runes[:max])

		cut := strings.LastIndex(window, "\n\n")
		if cut < max/2 {
			if nl := strings.LastIndex(window, "\n"); nl >= max/2 {
				cut = nl
			} else if sp := strings.LastIndex(window, " "); sp >= max/2 {
				cut = sp
			} else {
				cut = len(window)
			}
		}
		chunks = append(chunks, strings.TrimRight(window[:cut], "\n "))
		remaining = strings.TrimLeft(remaining[len(window[:cut]):], "\n ")
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}
