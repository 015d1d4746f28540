package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Load reads the config file at path, layering it over Default() and then
// applying environment overrides. A missing file is not an error; the
// defaults plus environment are enough to run.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env overrides
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// envStr returns the first non-empty value among the POCKETPAW_ key and its
// legacy POCKETCLAW_ spelling, kept for users migrating old installs.
func envStr(key string) string {
	if v := os.Getenv("POCKETPAW_" + key); v != "" {
		return v
	}
	return os.Getenv("POCKETCLAW_" + key)
}

func envBool(key string) (bool, bool) {
	v := envStr(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func envInt(key string) (int, bool) {
	v := envStr(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envList(key string) []string {
	v := envStr(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyEnvOverrides layers environment variables on top of file values.
// Channel credentials supplied via env also switch the channel on, so a
// token is all it takes to get a channel running.
func (c *Config) applyEnvOverrides() {
	if v := envStr("AGENT_BACKEND"); v != "" {
		c.Agent.Backend = v
	}
	if v := envStr("AGENT_MODEL"); v != "" {
		c.Agent.Model = v
	}
	if v := envStr("AGENT_BASE_URL"); v != "" {
		c.Agent.BaseURL = v
	}
	if v := envStr("WORKSPACE"); v != "" {
		c.Agent.Workspace = v
	}
	// API key: dedicated var first, then the provider's conventional one.
	if v := envStr("API_KEY"); v != "" {
		c.Agent.APIKey = v
	} else if c.Agent.Backend == "openai" {
		c.Agent.APIKey = os.Getenv("OPENAI_API_KEY")
	} else {
		c.Agent.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	if v := envStr("TELEGRAM_TOKEN"); v != "" {
		c.Channels.Telegram.Token = v
		c.Channels.Telegram.Enabled = true
	}
	if b, ok := envBool("TELEGRAM_ENABLED"); ok {
		c.Channels.Telegram.Enabled = b
	}
	if v := envList("TELEGRAM_ALLOW_FROM"); v != nil {
		c.Channels.Telegram.AllowFrom = v
	}
	if v := envStr("TELEGRAM_STREAM_MODE"); v != "" {
		c.Channels.Telegram.StreamMode = v
	}

	if v := envStr("DISCORD_TOKEN"); v != "" {
		c.Channels.Discord.Token = v
		c.Channels.Discord.Enabled = true
	}
	if b, ok := envBool("DISCORD_ENABLED"); ok {
		c.Channels.Discord.Enabled = b
	}
	if v := envList("DISCORD_ALLOW_FROM"); v != nil {
		c.Channels.Discord.AllowFrom = v
	}

	if v := envStr("SLACK_BOT_TOKEN"); v != "" {
		c.Channels.Slack.BotToken = v
	}
	if v := envStr("SLACK_APP_TOKEN"); v != "" {
		c.Channels.Slack.AppToken = v
	}
	if c.Channels.Slack.BotToken != "" && c.Channels.Slack.AppToken != "" &&
		(envStr("SLACK_BOT_TOKEN") != "" || envStr("SLACK_APP_TOKEN") != "") {
		c.Channels.Slack.Enabled = true
	}
	if b, ok := envBool("SLACK_ENABLED"); ok {
		c.Channels.Slack.Enabled = b
	}
	if v := envList("SLACK_ALLOW_FROM"); v != nil {
		c.Channels.Slack.AllowFrom = v
	}

	if v := envStr("WHATSAPP_ACCESS_TOKEN"); v != "" {
		c.Channels.WhatsApp.AccessToken = v
	}
	if v := envStr("WHATSAPP_PHONE_NUMBER_ID"); v != "" {
		c.Channels.WhatsApp.PhoneNumberID = v
	}
	if v := envStr("WHATSAPP_VERIFY_TOKEN"); v != "" {
		c.Channels.WhatsApp.VerifyToken = v
	}
	if c.Channels.WhatsApp.AccessToken != "" && c.Channels.WhatsApp.PhoneNumberID != "" &&
		envStr("WHATSAPP_ACCESS_TOKEN") != "" {
		c.Channels.WhatsApp.Enabled = true
	}
	if b, ok := envBool("WHATSAPP_ENABLED"); ok {
		c.Channels.WhatsApp.Enabled = b
	}
	if v := envList("WHATSAPP_ALLOW_FROM"); v != nil {
		c.Channels.WhatsApp.AllowFrom = v
	}
	if n, ok := envInt("WHATSAPP_WEBHOOK_PORT"); ok {
		c.Channels.WhatsApp.WebhookPort = n
	}

	if v := envStr("DASHBOARD_HOST"); v != "" {
		c.Dashboard.Host = v
	}
	if n, ok := envInt("DASHBOARD_PORT"); ok {
		c.Dashboard.Port = n
	}

	if v := envStr("MEDIA_DIR"); v != "" {
		c.Media.Dir = v
	}
	if v := envStr("SESSIONS_DB"); v != "" {
		c.Sessions.DBPath = v
	}

	if b, ok := envBool("TELEMETRY_ENABLED"); ok {
		c.Telemetry.Enabled = b
	}
	if v := envStr("TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if v := envStr("TELEMETRY_PROTOCOL"); v != "" {
		c.Telemetry.Protocol = v
	}
}
