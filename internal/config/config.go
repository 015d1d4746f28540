// Package config holds the host configuration: file-backed JSON5 at
// ~/.pocketpaw/config.json with environment overrides on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON, since chat
// platform ids are numbers that users paste either way.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the pocketpaw host.
type Config struct {
	Agent       AgentConfig       `json:"agent"`
	Channels    ChannelsConfig    `json:"channels"`
	Dashboard   DashboardConfig   `json:"dashboard"`
	Media       MediaConfig       `json:"media"`
	Sessions    SessionsConfig    `json:"sessions"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
}

// AgentConfig selects the agent backend and its credentials.
type AgentConfig struct {
	Backend      string `json:"backend"` // "anthropic" (default) or "openai"
	APIKey       string `json:"-"`       // env only, never persisted
	Model        string `json:"model,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Workspace    string `json:"workspace"`
}

// ChannelsConfig groups all chat channel settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

// TelegramConfig configures the Telegram bot channel.
type TelegramConfig struct {
	Enabled    bool                `json:"enabled"`
	Token      string              `json:"token,omitempty"`
	AllowFrom  FlexibleStringSlice `json:"allow_from,omitempty"`
	StreamMode string              `json:"stream_mode,omitempty"` // "partial" enables edit-streaming
}

// DiscordConfig configures the Discord bot channel.
type DiscordConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"token,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

// SlackConfig configures the Slack Socket Mode channel.
type SlackConfig struct {
	Enabled   bool                `json:"enabled"`
	BotToken  string              `json:"bot_token,omitempty"`
	AppToken  string              `json:"app_token,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

// WhatsAppConfig configures the WhatsApp Cloud API channel.
type WhatsAppConfig struct {
	Enabled       bool                `json:"enabled"`
	AccessToken   string              `json:"access_token,omitempty"`
	PhoneNumberID string              `json:"phone_number_id,omitempty"`
	VerifyToken   string              `json:"verify_token,omitempty"`
	WebhookHost   string              `json:"webhook_host,omitempty"`
	WebhookPort   int                 `json:"webhook_port,omitempty"`
	WebhookPath   string              `json:"webhook_path,omitempty"`
	AllowFrom     FlexibleStringSlice `json:"allow_from,omitempty"`
}

// DashboardConfig configures the local web dashboard.
type DashboardConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// MediaConfig configures inbound media storage.
type MediaConfig struct {
	Dir           string `json:"dir"`
	MaxFileSizeMB int    `json:"max_file_size_mb"` // 0 = unlimited
	RetentionDays int    `json:"retention_days"`   // maintenance sweep removes older files
}

// SessionsConfig configures chat history storage.
type SessionsConfig struct {
	DBPath       string `json:"db_path"`
	HistoryLimit int    `json:"history_limit"`
}

// MaintenanceConfig schedules the background sweep (media retention,
// stale-notification cleanup). Spec is a cron expression.
type MaintenanceConfig struct {
	Enabled bool   `json:"enabled"`
	Spec    string `json:"spec,omitempty"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// BaseDir returns the state directory, ~/.pocketpaw.
func BaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pocketpaw"
	}
	return filepath.Join(home, ".pocketpaw")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(BaseDir(), "config.json")
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	base := BaseDir()
	return &Config{
		Agent: AgentConfig{
			Backend:   "anthropic",
			Workspace: filepath.Join(base, "workspace"),
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{StreamMode: "partial"},
			WhatsApp: WhatsAppConfig{
				WebhookHost: "0.0.0.0",
				WebhookPort: 8443,
				WebhookPath: "/whatsapp/webhook",
			},
		},
		Dashboard: DashboardConfig{
			Host: "127.0.0.1",
			Port: 8888,
		},
		Media: MediaConfig{
			Dir:           filepath.Join(base, "media"),
			MaxFileSizeMB: 50,
			RetentionDays: 30,
		},
		Sessions: SessionsConfig{
			DBPath:       filepath.Join(base, "sessions.db"),
			HistoryLimit: 40,
		},
		Maintenance: MaintenanceConfig{
			Enabled: true,
			Spec:    "0 3 * * *",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "pocketpaw",
		},
	}
}

// Save writes the config to path with owner-only permissions. Secrets held
// in env-only fields are never written.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// MaskedCopy returns a copy safe for logging and the doctor command:
// every secret is replaced with "***".
func (c *Config) MaskedCopy() Config {
	cp := *c
	mask := func(s *string) {
		if *s != "" {
			*s = "***"
		}
	}
	mask(&cp.Agent.APIKey)
	mask(&cp.Channels.Telegram.Token)
	mask(&cp.Channels.Discord.Token)
	mask(&cp.Channels.Slack.BotToken)
	mask(&cp.Channels.Slack.AppToken)
	mask(&cp.Channels.WhatsApp.AccessToken)
	mask(&cp.Channels.WhatsApp.VerifyToken)
	return cp
}

// EnabledChannels lists the channel names switched on in this config.
func (c *Config) EnabledChannels() []string {
	var names []string
	if c.Channels.Telegram.Enabled {
		names = append(names, "telegram")
	}
	if c.Channels.Discord.Enabled {
		names = append(names, "discord")
	}
	if c.Channels.Slack.Enabled {
		names = append(names, "slack")
	}
	if c.Channels.WhatsApp.Enabled {
		names = append(names, "whatsapp")
	}
	return names
}
