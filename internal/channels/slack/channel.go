// Package slack connects pocketpaw to Slack over Socket Mode, so no public
// webhook endpoint is needed.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/channels"
	"github.com/shabbark/pocketpaw/internal/config"
)

const (
	apiBase = "https://slack.com/api"

	// maxMessageLen keeps messages under Slack's 40k char cap with margin
	// for rendering; long replies read better chunked anyway.
	maxMessageLen = 4000

	reconnectDelay = 3 * time.Second
)

// Channel is the Slack adapter. A Socket Mode connection delivers events;
// replies go out through the Web API.
type Channel struct {
	channels.BaseChannel

	cfg        config.SlackConfig
	downloader *bus.Downloader
	client     *http.Client

	mu     sync.Mutex
	conn   *websocket.Conn
	botID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the Slack channel from config.
func New(cfg config.SlackConfig, b *bus.MessageBus, dl *bus.Downloader) (*Channel, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("slack requires both bot_token and app_token")
	}
	return &Channel{
		BaseChannel: channels.NewBase("slack", b, cfg.AllowFrom),
		cfg:         cfg,
		downloader:  dl,
		client:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Start opens the Socket Mode connection and begins consuming envelopes.
// The read loop reconnects until Stop cancels it; Slack refreshes socket
// URLs regularly and sends disconnect envelopes.
func (c *Channel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	if err := c.connect(runCtx); err != nil {
		cancel()
		return err
	}
	c.SetRunning(true)
	slog.Info("slack socket mode connected")

	go func() {
		defer close(c.done)
		for {
			c.readLoop(runCtx)
			if runCtx.Err() != nil {
				return
			}
			slog.Info("slack socket closed, reconnecting")
			select {
			case <-runCtx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			if err := c.connect(runCtx); err != nil {
				slog.Warn("slack reconnect failed", "error", err)
			}
		}
	}()
	return nil
}

// Stop closes the socket and waits for the read loop.
func (c *Channel) Stop() error {
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
	c.mu.Unlock()
	if c.done != nil {
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
		}
	}
	return nil
}

// connect asks the Web API for a fresh socket URL and dials it.
func (c *Channel) connect(ctx context.Context) error {
	var open struct {
		OK    bool   `json:"ok"`
		URL   string `json:"url"`
		Error string `json:"error"`
	}
	if err := c.callAPI(ctx, "apps.connections.open", c.cfg.AppToken, nil, &open); err != nil {
		return fmt.Errorf("open slack connection: %w", err)
	}
	if !open.OK {
		return fmt.Errorf("open slack connection: %s", open.Error)
	}

	conn, _, err := websocket.Dial(ctx, open.URL, nil)
	if err != nil {
		return fmt.Errorf("dial slack socket: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// envelope is the Socket Mode frame around every event.
type envelope struct {
	EnvelopeID string          `json:"envelope_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

func (c *Channel) readLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Debug("slack envelope parse failed", "error", err)
			continue
		}

		// Every envelope with an id must be acked or Slack redelivers it.
		if env.EnvelopeID != "" {
			ack, _ := json.Marshal(map[string]string{"envelope_id": env.EnvelopeID})
			if err := conn.Write(ctx, websocket.MessageText, ack); err != nil {
				return
			}
		}

		switch env.Type {
		case "events_api":
			c.handleEnvelope(ctx, env.Payload)
		case "disconnect":
			return
		}
	}
}

type slackEvent struct {
	Event struct {
		Type    string `json:"type"`
		Subtype string `json:"subtype"`
		User    string `json:"user"`
		BotID   string `json:"bot_id"`
		Channel string `json:"channel"`
		Text    string `json:"text"`
		ChanTyp string `json:"channel_type"`
		Files   []struct {
			Name       string `json:"name"`
			Mimetype   string `json:"mimetype"`
			URLPrivate string `json:"url_private"`
		} `json:"files"`
	} `json:"event"`
}

func (c *Channel) handleEnvelope(ctx context.Context, payload json.RawMessage) {
	var ev slackEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		slog.Debug("slack event parse failed", "error", err)
		return
	}
	e := ev.Event
	if e.Type != "message" || e.BotID != "" || e.Subtype != "" {
		return
	}
	if !c.IsAllowed(e.User, "") {
		slog.Debug("slack message from unlisted sender dropped", "sender", e.User)
		return
	}

	var media []string
	if c.downloader != nil {
		for _, f := range e.Files {
			path, err := c.downloader.DownloadURLWithAuth(ctx, f.URLPrivate,
				"Bearer "+c.cfg.BotToken, f.Name, f.Mimetype)
			if err != nil {
				slog.Warn("slack file download failed", "name", f.Name, "error", err)
				continue
			}
			media = append(media, path)
		}
	}
	if e.Text == "" && len(media) == 0 {
		return
	}

	peerKind := "group"
	if e.ChanTyp == "im" {
		peerKind = "direct"
	}

	c.HandleMessage(bus.InboundMessage{
		SenderID:  e.User,
		ChatID:    e.Channel,
		Content:   e.Text,
		Media:     media,
		PeerKind:  peerKind,
		Timestamp: time.Now().UTC(),
	})
}

// Send posts a message through chat.postMessage, chunked.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	for _, chunk := range channels.SplitMessage(msg.Content, maxMessageLen) {
		var resp struct {
			OK    bool   `json:"ok"`
			Error string `json:"error"`
		}
		body := map[string]string{"channel": msg.ChatID, "text": chunk}
		if err := c.callAPI(ctx, "chat.postMessage", c.cfg.BotToken, body, &resp); err != nil {
			return fmt.Errorf("slack send: %w", err)
		}
		if !resp.OK {
			return fmt.Errorf("slack send: %s", resp.Error)
		}
	}
	return nil
}

func (c *Channel) callAPI(ctx context.Context, method, token string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/"+method, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", method, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
