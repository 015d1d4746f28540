// Package telegram connects pocketpaw to the Telegram Bot API using long
// polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/channels"
	"github.com/shabbark/pocketpaw/internal/config"
)

const (
	// maxMessageLen is Telegram's hard cap per message.
	maxMessageLen = 4096

	// editInterval throttles streaming edits; Telegram rejects faster edit
	// bursts with 429s.
	editInterval = 1500 * time.Millisecond
)

// Channel is the Telegram adapter.
type Channel struct {
	channels.BaseChannel

	bot        *telego.Bot
	cfg        config.TelegramConfig
	downloader *bus.Downloader

	// drafts tracks the live-edited message per chat while streaming.
	drafts sync.Map // chatID string -> *draft

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

type draft struct {
	mu        sync.Mutex
	messageID int
	lastEdit  time.Time
	lastText  string
}

// New creates the Telegram channel from config. The downloader is shared
// with the other adapters and may be nil to skip media.
func New(cfg config.TelegramConfig, b *bus.MessageBus, dl *bus.Downloader) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		BaseChannel: channels.NewBase("telegram", b, cfg.AllowFrom),
		bot:         bot,
		cfg:         cfg,
		downloader:  dl,
	}, nil
}

// Start begins long polling for updates. Stop cancels the polling context
// and waits for the goroutine to exit so Telegram releases the getUpdates
// lock before a restart.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleUpdate(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop shuts the bot down and waits for polling to finish.
func (c *Channel) Stop() error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func (c *Channel) handleUpdate(ctx context.Context, msg *telego.Message) {
	senderID := ""
	username := ""
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
		username = msg.From.Username
	}
	if !c.IsAllowed(senderID, username) {
		slog.Debug("telegram message from unlisted sender dropped", "sender", senderID, "username", username)
		return
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}

	media := c.downloadAttachments(ctx, msg)
	if content == "" && len(media) == 0 {
		return
	}

	peerKind := "direct"
	if msg.Chat.Type != telego.ChatTypePrivate {
		peerKind = "group"
	}

	c.HandleMessage(bus.InboundMessage{
		SenderID:  senderID,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Content:   content,
		Media:     media,
		PeerKind:  peerKind,
		Timestamp: time.Now().UTC(),
	})
}

// Send delivers a complete message, chunked to Telegram's length cap.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", msg.ChatID, err)
	}
	text := channels.NormalizeMarkdown(msg.Content)
	for _, chunk := range channels.SplitMessage(text, maxMessageLen) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// StreamEnabled reports whether live message editing is on; only
// stream_mode "partial" enables it.
func (c *Channel) StreamEnabled() bool {
	return c.cfg.StreamMode == "partial"
}

// OnStreamStart sends the placeholder message that later chunks edit.
func (c *Channel) OnStreamStart(ctx context.Context, chatIDStr string) {
	chatID, err := parseChatID(chatIDStr)
	if err != nil {
		return
	}
	sent, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), "..."))
	if err != nil {
		slog.Debug("telegram placeholder send failed", "error", err)
		return
	}
	c.drafts.Store(chatIDStr, &draft{messageID: sent.MessageID})
}

// OnChunkEvent edits the placeholder with the accumulated text, throttled.
func (c *Channel) OnChunkEvent(ctx context.Context, chatIDStr, fullText string) {
	v, ok := c.drafts.Load(chatIDStr)
	if !ok {
		return
	}
	d := v.(*draft)

	d.mu.Lock()
	defer d.mu.Unlock()
	if time.Since(d.lastEdit) < editInterval {
		return
	}
	c.editDraft(ctx, chatIDStr, d, fullText)
}

// OnStreamEnd writes the final text into the draft, spilling overflow into
// follow-up messages.
func (c *Channel) OnStreamEnd(ctx context.Context, chatIDStr, finalText string) error {
	v, ok := c.drafts.LoadAndDelete(chatIDStr)
	if !ok {
		if finalText == "" {
			return nil
		}
		return c.Send(ctx, bus.OutboundMessage{ChatID: chatIDStr, Content: finalText})
	}
	d := v.(*draft)

	text := channels.NormalizeMarkdown(finalText)
	if text == "" {
		text = d.lastText
	}
	chunks := channels.SplitMessage(text, maxMessageLen)

	d.mu.Lock()
	d.lastEdit = time.Time{} // final edit is never throttled
	c.editDraft(ctx, chatIDStr, d, chunks[0])
	d.mu.Unlock()

	for _, chunk := range chunks[1:] {
		if err := c.Send(ctx, bus.OutboundMessage{ChatID: chatIDStr, Content: chunk}); err != nil {
			return err
		}
	}
	return nil
}

// editDraft performs the actual EditMessageText call. Caller holds d.mu.
func (c *Channel) editDraft(ctx context.Context, chatIDStr string, d *draft, text string) {
	text = strings.TrimSpace(channels.Truncate(text, maxMessageLen))
	if text == "" || text == d.lastText {
		return
	}
	chatID, err := parseChatID(chatIDStr)
	if err != nil {
		return
	}
	if _, err := c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: d.messageID,
		Text:      text,
	}); err != nil {
		slog.Debug("telegram edit failed", "error", err)
		return
	}
	d.lastEdit = time.Now()
	d.lastText = text
}

func parseChatID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
