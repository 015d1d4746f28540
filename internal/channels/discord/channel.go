// Package discord connects pocketpaw to Discord over the bot gateway.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/channels"
	"github.com/shabbark/pocketpaw/internal/config"
)

// maxMessageLen is Discord's hard cap per message.
const maxMessageLen = 2000

// Channel is the Discord adapter. It buffers streamed replies in the
// manager and sends one message per reply; Discord edits are too
// rate-limited for live streaming.
type Channel struct {
	channels.BaseChannel

	session    *discordgo.Session
	downloader *bus.Downloader
}

// New creates the Discord channel from config.
func New(cfg config.DiscordConfig, b *bus.MessageBus, dl *bus.Downloader) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBase("discord", b, cfg.AllowFrom),
		session:     session,
		downloader:  dl,
	}, nil
}

// Start opens the gateway connection and registers the message handler.
func (c *Channel) Start(ctx context.Context) error {
	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(ctx, m)
	})
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	c.SetRunning(true)
	slog.Info("discord bot connected", "user", c.session.State.User.Username)
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop() error {
	c.SetRunning(false)
	return c.session.Close()
}

func (c *Channel) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.session.State.User.ID || m.Author.Bot {
		return
	}
	if !c.IsAllowed(m.Author.ID, m.Author.Username) {
		slog.Debug("discord message from unlisted sender dropped", "sender", m.Author.ID)
		return
	}

	media := c.downloadAttachments(ctx, m.Attachments)
	if m.Content == "" && len(media) == 0 {
		return
	}

	peerKind := "group"
	if m.GuildID == "" {
		peerKind = "direct"
	}

	c.HandleMessage(bus.InboundMessage{
		SenderID:  m.Author.ID,
		ChatID:    m.ChannelID,
		Content:   m.Content,
		Media:     media,
		PeerKind:  peerKind,
		Timestamp: time.Now().UTC(),
	})
}

func (c *Channel) downloadAttachments(ctx context.Context, attachments []*discordgo.MessageAttachment) []string {
	if c.downloader == nil {
		return nil
	}
	var paths []string
	for _, att := range attachments {
		path, err := c.downloader.DownloadURL(ctx, att.URL, att.Filename, att.ContentType)
		if err != nil {
			slog.Warn("discord attachment download failed", "filename", att.Filename, "error", err)
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

// Send delivers a message, chunked to Discord's length cap.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	text := channels.NormalizeMarkdown(msg.Content)
	for _, chunk := range channels.SplitMessage(text, maxMessageLen) {
		if _, err := c.session.ChannelMessageSend(msg.ChatID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	for _, m := range msg.Media {
		if err := c.sendFile(msg.ChatID, m); err != nil {
			slog.Warn("discord media send failed", "path", m.Path, "error", err)
		}
	}
	return nil
}

func (c *Channel) sendFile(chatID string, m bus.MediaAttachment) error {
	f, err := os.Open(m.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := m.Name
	if name == "" {
		name = filepath.Base(m.Path)
	}
	_, err = c.session.ChannelFileSend(chatID, name, f)
	return err
}
