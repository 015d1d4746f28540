// Package whatsapp connects pocketpaw to the WhatsApp Cloud API: a local
// webhook receives events and replies go out through the Graph API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/channels"
	"github.com/shabbark/pocketpaw/internal/config"
)

const (
	graphBase = "https://graph.facebook.com/v21.0"

	// maxMessageLen is the Cloud API cap for a text body.
	maxMessageLen = 4096
)

// Channel is the WhatsApp adapter. It cannot edit sent messages, so the
// manager buffers streamed replies and this adapter sends the final text.
type Channel struct {
	channels.BaseChannel

	cfg        config.WhatsAppConfig
	downloader *bus.Downloader
	client     *http.Client
	limiter    *channels.WebhookRateLimiter

	server *http.Server
}

// New creates the WhatsApp channel from config.
func New(cfg config.WhatsAppConfig, b *bus.MessageBus, dl *bus.Downloader) (*Channel, error) {
	if cfg.AccessToken == "" || cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp requires access_token and phone_number_id")
	}
	if cfg.VerifyToken == "" {
		return nil, fmt.Errorf("whatsapp requires verify_token for webhook verification")
	}
	return &Channel{
		BaseChannel: channels.NewBase("whatsapp", b, cfg.AllowFrom),
		cfg:         cfg,
		downloader:  dl,
		client:      &http.Client{Timeout: 30 * time.Second},
		limiter:     channels.NewWebhookRateLimiter(5, 30),
	}, nil
}

// Start serves the webhook endpoint.
func (c *Channel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	path := c.cfg.WebhookPath
	if path == "" {
		path = "/whatsapp/webhook"
	}
	mux.HandleFunc("GET "+path, c.handleVerify)
	mux.HandleFunc("POST "+path, c.handleEvent)

	addr := net.JoinHostPort(c.cfg.WebhookHost, strconv.Itoa(c.cfg.WebhookPort))
	c.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("whatsapp webhook listen on %s: %w", addr, err)
	}

	c.SetRunning(true)
	slog.Info("whatsapp webhook listening", "addr", addr, "path", path)

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("whatsapp webhook server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the webhook server down.
func (c *Channel) Stop() error {
	c.SetRunning(false)
	if c.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.server.Shutdown(ctx)
}

// handleVerify answers Meta's webhook subscription handshake: echo the
// challenge when the verify token matches.
func (c *Channel) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == c.cfg.VerifyToken {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, q.Get("hub.challenge"))
		return
	}
	http.Error(w, "verification failed", http.StatusForbidden)
}

// webhookPayload is the slice of the Cloud API event shape this adapter
// consumes.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Image    *mediaRef `json:"image"`
					Document *mediaRef `json:"document"`
					Audio    *mediaRef `json:"audio"`
					Video    *mediaRef `json:"video"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type mediaRef struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
	Caption  string `json:"caption"`
}

func (c *Channel) handleEvent(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !c.limiter.Allow(host) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	// Ack immediately; Meta retries slow webhooks.
	w.WriteHeader(http.StatusOK)

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := map[string]string{}
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				c.handleInbound(r.Context(), msg.From, names[msg.From], msg.Text.Body,
					firstMedia(msg.Image, msg.Document, msg.Audio, msg.Video))
			}
		}
	}
}

func firstMedia(refs ...*mediaRef) *mediaRef {
	for _, ref := range refs {
		if ref != nil && ref.ID != "" {
			return ref
		}
	}
	return nil
}

func (c *Channel) handleInbound(ctx context.Context, sender, name, text string, media *mediaRef) {
	if !c.IsAllowed(sender, name) {
		slog.Debug("whatsapp message from unlisted sender dropped", "sender", sender)
		return
	}

	var paths []string
	if media != nil && c.downloader != nil {
		path, err := c.downloader.DownloadWhatsAppMedia(ctx, graphBase, media.ID,
			c.cfg.AccessToken, media.Filename, media.MimeType)
		if err != nil {
			slog.Warn("whatsapp media download failed", "media_id", media.ID, "error", err)
		} else {
			paths = append(paths, path)
		}
		if text == "" {
			text = media.Caption
		}
	}
	if text == "" && len(paths) == 0 {
		return
	}

	c.HandleMessage(bus.InboundMessage{
		SenderID:  sender,
		ChatID:    sender, // Cloud API chats are keyed by the peer's wa_id
		Content:   text,
		Media:     paths,
		PeerKind:  "direct",
		Timestamp: time.Now().UTC(),
	})
}

// Send delivers a text message through the Graph API, chunked.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	text := channels.NormalizeMarkdown(msg.Content)
	for _, chunk := range channels.SplitMessage(text, maxMessageLen) {
		if err := c.sendText(ctx, msg.ChatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) sendText(ctx context.Context, to, text string) error {
	body, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/messages", graphBase, c.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp send: status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
