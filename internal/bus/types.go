package bus

import "time"

// MediaAttachment is an outbound media file reference.
type MediaAttachment struct {
	Path     string `json:"path"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

// InboundMessage is a normalized message arriving from any channel.
type InboundMessage struct {
	Channel  string `json:"channel"`  // "telegram", "discord", "slack", "whatsapp", "web"
	SenderID string `json:"senderId"` // channel-specific user ID
	ChatID   string `json:"chatId"`   // where to send the reply
	Content  string `json:"content"`

	// Media holds local paths of downloaded attachments.
	Media []string `json:"media,omitempty"`

	// PeerKind distinguishes "direct" from "group" conversations.
	PeerKind string `json:"peerKind,omitempty"`

	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// OutboundMessage is a message to deliver through a channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chatId"`
	Content string `json:"content"`

	Media []MediaAttachment `json:"media,omitempty"`

	// IsStreamChunk marks an incremental piece of a streaming reply.
	// Channels without live edits buffer chunks per chat and flush the
	// assembled message when IsStreamEnd arrives.
	IsStreamChunk bool `json:"isStreamChunk,omitempty"`
	IsStreamEnd   bool `json:"isStreamEnd,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// SystemEvent is an internal broadcast (task telemetry, lifecycle signals)
// fanned out to dashboard subscribers.
type SystemEvent struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
