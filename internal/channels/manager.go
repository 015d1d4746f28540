package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/shabbark/pocketpaw/internal/bus"
)

// perChatRate caps outbound sends per chat so a fast-streaming reply cannot
// trip platform flood limits.
const (
	perChatRate  = rate.Limit(1) // sustained msgs/sec per chat
	perChatBurst = 4
	maxRateKeys  = 1024
)

// Manager owns the channel adapters: registration, lifecycle, and the
// outbound dispatch loop that routes bus messages to the right adapter.
type Manager struct {
	bus *bus.MessageBus

	mu       sync.RWMutex
	channels map[string]Channel

	// streams accumulates streamed reply text per "channel:chat" until the
	// stream ends.
	streamMu sync.Mutex
	streams  map[string]*strings.Builder

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates an empty channel manager.
func NewManager(b *bus.MessageBus) *Manager {
	return &Manager{
		bus:      b,
		channels: make(map[string]Channel),
		streams:  make(map[string]*strings.Builder),
		limiters: make(map[string]*rate.Limiter),
	}
}

// RegisterChannel adds an adapter. Registering the same name twice replaces
// the previous adapter.
func (m *Manager) RegisterChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Channel returns a registered adapter by name.
func (m *Manager) Channel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// ChannelNames lists the registered adapters.
func (m *Manager) ChannelNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// StartAll starts every registered adapter and the outbound dispatch loop.
// A channel that fails to start is logged and skipped; one bad token must
// not take down the rest.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	chs := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chs = append(chs, ch)
	}
	m.mu.RUnlock()

	started := 0
	for _, ch := range chs {
		if err := ch.Start(ctx); err != nil {
			slog.Error("channel start failed", "channel", ch.Name(), "error", err)
			continue
		}
		slog.Info("channel started", "channel", ch.Name())
		started++
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.dispatchOutbound(dispatchCtx)

	if started == 0 && len(chs) > 0 {
		return fmt.Errorf("no channel started (%d configured)", len(chs))
	}
	return nil
}

// StopAll stops the dispatch loop and every running adapter.
func (m *Manager) StopAll() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.channels {
		if !ch.IsRunning() {
			continue
		}
		if err := ch.Stop(); err != nil {
			slog.Warn("channel stop failed", "channel", ch.Name(), "error", err)
		}
	}
}

// dispatchOutbound consumes outbound bus messages and delivers them.
// Streamed replies are accumulated per chat; channels that support live
// edits get chunk callbacks with the full text so far, the rest receive one
// message when the stream ends.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	defer close(m.done)
	outbound := m.bus.SubscribeOutbound("channel-manager", "")
	defer m.bus.UnsubscribeOutbound("channel-manager")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-outbound:
			if !ok {
				return
			}
			m.deliver(ctx, msg)
		}
	}
}

func (m *Manager) deliver(ctx context.Context, msg bus.OutboundMessage) {
	ch, ok := m.Channel(msg.Channel)
	if !ok {
		slog.Debug("outbound for unregistered channel dropped", "channel", msg.Channel)
		return
	}
	if !ch.IsRunning() {
		slog.Debug("outbound for stopped channel dropped", "channel", msg.Channel)
		return
	}

	streamer, streaming := ch.(StreamingChannel)
	streaming = streaming && streamer.StreamEnabled()

	switch {
	case msg.IsStreamChunk:
		full, first := m.appendStream(msg.Channel, msg.ChatID, msg.Content)
		if !streaming {
			return
		}
		if first {
			streamer.OnStreamStart(ctx, msg.ChatID)
		}
		streamer.OnChunkEvent(ctx, msg.ChatID, full)

	case msg.IsStreamEnd:
		buffered := m.takeStream(msg.Channel, msg.ChatID)
		final := msg.Content
		if final == "" {
			final = buffered
		}
		if final == "" && len(msg.Media) == 0 {
			return
		}
		m.waitTurn(ctx, msg.Channel, msg.ChatID)
		if streaming {
			if err := streamer.OnStreamEnd(ctx, msg.ChatID, final); err != nil {
				slog.Error("stream finalize failed", "channel", msg.Channel, "error", err)
			}
			return
		}
		msg.Content = final
		if err := ch.Send(ctx, msg); err != nil {
			slog.Error("channel send failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		}

	default:
		m.waitTurn(ctx, msg.Channel, msg.ChatID)
		if err := ch.Send(ctx, msg); err != nil {
			slog.Error("channel send failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		}
	}
}

// appendStream adds a chunk to the chat's buffer and returns the full text
// so far plus whether this chunk opened the stream.
func (m *Manager) appendStream(channel, chatID, content string) (string, bool) {
	m.streamMu.Lock()
	defer m.streamMu.Unlock()

	key := channel + ":" + chatID
	b, ok := m.streams[key]
	if !ok {
		b = &strings.Builder{}
		m.streams[key] = b
	}
	b.WriteString(content)
	return b.String(), !ok
}

func (m *Manager) takeStream(channel, chatID string) string {
	m.streamMu.Lock()
	defer m.streamMu.Unlock()

	key := channel + ":" + chatID
	b, ok := m.streams[key]
	if !ok {
		return ""
	}
	delete(m.streams, key)
	return b.String()
}

// waitTurn blocks until the per-chat rate limiter admits a send.
func (m *Manager) waitTurn(ctx context.Context, channel, chatID string) {
	m.limitMu.Lock()
	key := channel + ":" + chatID
	lim, ok := m.limiters[key]
	if !ok {
		// Bound the map; chat keys are effectively unbounded input.
		if len(m.limiters) >= maxRateKeys {
			m.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(perChatRate, perChatBurst)
		m.limiters[key] = lim
	}
	m.limitMu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return
	}
}
