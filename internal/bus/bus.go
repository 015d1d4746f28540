package bus

import (
	"log/slog"
	"sync"
	"time"
)

// subscriberQueueSize bounds each subscriber's pending events. Publishers
// never block: when a queue is full the oldest entry is dropped.
const subscriberQueueSize = 256

// MessageBus is the in-process pub/sub hub connecting channels, the chat
// agent loop, the task executor, and dashboard subscribers.
//
// Three event families flow through it: inbound channel messages, outbound
// replies, and system events (task telemetry). Ordering is preserved per
// subscriber for events from a single publisher; delivery is best-effort.
type MessageBus struct {
	mu           sync.Mutex
	inboundSubs  map[string]chan InboundMessage
	outboundSubs map[string]*outboundSub
	eventSubs    map[string]chan SystemEvent
}

type outboundSub struct {
	ch chan OutboundMessage
	// channel filter; empty matches all channels
	channel string
}

// New creates an empty bus. One bus is wired per process at startup; tests
// construct their own.
func New() *MessageBus {
	return &MessageBus{
		inboundSubs:  make(map[string]chan InboundMessage),
		outboundSubs: make(map[string]*outboundSub),
		eventSubs:    make(map[string]chan SystemEvent),
	}
}

// PublishInbound fans an inbound channel message out to all inbound
// subscribers. Never blocks.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.inboundSubs {
		select {
		case ch <- msg:
		default:
			dropOldestInbound(ch, msg, id)
		}
	}
}

// SubscribeInbound registers an inbound subscriber under a unique id.
func (b *MessageBus) SubscribeInbound(id string) <-chan InboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan InboundMessage, subscriberQueueSize)
	b.inboundSubs[id] = ch
	return ch
}

// UnsubscribeInbound removes an inbound subscriber and closes its queue.
func (b *MessageBus) UnsubscribeInbound(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.inboundSubs[id]; ok {
		delete(b.inboundSubs, id)
		close(ch)
	}
}

// PublishOutbound fans an outbound message out to subscribers whose channel
// filter matches. Never blocks.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.outboundSubs {
		if sub.channel != "" && sub.channel != msg.Channel {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			dropOldestOutbound(sub.ch, msg, id)
		}
	}
}

// SubscribeOutbound registers an outbound subscriber. A non-empty channel
// restricts delivery to messages addressed to that channel.
func (b *MessageBus) SubscribeOutbound(id, channel string) <-chan OutboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &outboundSub{ch: make(chan OutboundMessage, subscriberQueueSize), channel: channel}
	b.outboundSubs[id] = sub
	return sub.ch
}

// UnsubscribeOutbound removes an outbound subscriber and closes its queue.
func (b *MessageBus) UnsubscribeOutbound(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.outboundSubs[id]; ok {
		delete(b.outboundSubs, id)
		close(sub.ch)
	}
}

// Broadcast publishes a system event to all event subscribers, stamping the
// current time. Never blocks.
func (b *MessageBus) Broadcast(eventType string, data map[string]any) {
	b.PublishEvent(SystemEvent{Type: eventType, Data: data})
}

// PublishEvent fans a system event out to all event subscribers.
func (b *MessageBus) PublishEvent(ev SystemEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.eventSubs {
		select {
		case ch <- ev:
		default:
			dropOldestEvent(ch, ev, id)
		}
	}
}

// SubscribeEvents registers a system-event subscriber under a unique id.
func (b *MessageBus) SubscribeEvents(id string) <-chan SystemEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan SystemEvent, subscriberQueueSize)
	b.eventSubs[id] = ch
	return ch
}

// UnsubscribeEvents removes a system-event subscriber and closes its queue.
func (b *MessageBus) UnsubscribeEvents(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.eventSubs[id]; ok {
		delete(b.eventSubs, id)
		close(ch)
	}
}

func dropOldestInbound(ch chan InboundMessage, msg InboundMessage, id string) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
	slog.Warn("bus subscriber queue full, dropped oldest inbound", "subscriber", id)
}

func dropOldestOutbound(ch chan OutboundMessage, msg OutboundMessage, id string) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
	slog.Warn("bus subscriber queue full, dropped oldest outbound", "subscriber", id)
}

func dropOldestEvent(ch chan SystemEvent, ev SystemEvent, id string) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
	slog.Warn("bus subscriber queue full, dropped oldest event", "subscriber", id, "type", ev.Type)
}
