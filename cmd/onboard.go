package cmd

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/shabbark/pocketpaw/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		// A broken file should not block re-onboarding.
		fmt.Printf("Ignoring unreadable config at %s: %v\n", cfgPath, err)
		cfg = config.Default()
	}

	apiKey := cfg.Agent.APIKey
	port := strconv.Itoa(cfg.Dashboard.Port)
	var channelPicks []string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM backend").
				Options(
					huh.NewOption("Anthropic (Claude)", "anthropic"),
					huh.NewOption("OpenAI", "openai"),
				).
				Value(&cfg.Agent.Backend),
			huh.NewInput().
				Title("API key").
				Description("Kept in your shell environment, never written to disk.").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
			huh.NewInput().
				Title("Model").
				Description("Leave empty for the backend default.").
				Value(&cfg.Agent.Model),
		),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Chat channels").
				Options(
					huh.NewOption("Telegram", "telegram"),
					huh.NewOption("Discord", "discord"),
					huh.NewOption("Slack", "slack"),
					huh.NewOption("WhatsApp", "whatsapp"),
				).
				Value(&channelPicks),
			huh.NewInput().
				Title("Dashboard port").
				Validate(validatePort).
				Value(&port),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return err
	}

	cfg.Dashboard.Port, _ = strconv.Atoi(port)
	if err := onboardChannels(cfg, channelPicks); err != nil {
		return err
	}

	if err := cfg.Save(cfgPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Config saved to %s\n", cfgPath)

	if apiKey != "" && os.Getenv("POCKETPAW_API_KEY") == "" {
		fmt.Println()
		fmt.Println("Add the API key to your shell profile before starting:")
		fmt.Printf("  export POCKETPAW_API_KEY=%s\n", apiKey)
	}
	fmt.Println()
	fmt.Println("Start the host with: pocketpaw")
	return nil
}

// onboardChannels runs a follow-up credential form per selected channel.
func onboardChannels(cfg *config.Config, picks []string) error {
	cfg.Channels.Telegram.Enabled = slices.Contains(picks, "telegram")
	cfg.Channels.Discord.Enabled = slices.Contains(picks, "discord")
	cfg.Channels.Slack.Enabled = slices.Contains(picks, "slack")
	cfg.Channels.WhatsApp.Enabled = slices.Contains(picks, "whatsapp")

	var groups []*huh.Group
	if cfg.Channels.Telegram.Enabled {
		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("From @BotFather.").
				Validate(required).
				Value(&cfg.Channels.Telegram.Token),
		))
	}
	if cfg.Channels.Discord.Enabled {
		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				Validate(required).
				Value(&cfg.Channels.Discord.Token),
		))
	}
	if cfg.Channels.Slack.Enabled {
		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Title("Slack bot token (xoxb-...)").
				Validate(required).
				Value(&cfg.Channels.Slack.BotToken),
			huh.NewInput().
				Title("Slack app token (xapp-...)").
				Description("Socket Mode token from the app settings page.").
				Validate(required).
				Value(&cfg.Channels.Slack.AppToken),
		))
	}
	if cfg.Channels.WhatsApp.Enabled {
		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Title("WhatsApp access token").
				Validate(required).
				Value(&cfg.Channels.WhatsApp.AccessToken),
			huh.NewInput().
				Title("WhatsApp phone number ID").
				Validate(required).
				Value(&cfg.Channels.WhatsApp.PhoneNumberID),
			huh.NewInput().
				Title("Webhook verify token").
				Description("Any secret string; repeat it in the Meta webhook settings.").
				Validate(required).
				Value(&cfg.Channels.WhatsApp.VerifyToken),
		))
	}
	if len(groups) == 0 {
		return nil
	}

	if err := huh.NewForm(groups...).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Channel setup cancelled, saving what we have.")
			return nil
		}
		return err
	}
	return nil
}

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("required")
	}
	return nil
}

func validatePort(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return errors.New("enter a port between 1 and 65535")
	}
	return nil
}
