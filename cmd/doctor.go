package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shabbark/pocketpaw/internal/config"
	"github.com/shabbark/pocketpaw/internal/sessions"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("pocketpaw doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — run: pocketpaw onboard)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Agent:")
	fmt.Printf("    %-12s %s\n", "Backend:", cfg.Agent.Backend)
	fmt.Printf("    %-12s %s\n", "Model:", orDefault(cfg.Agent.Model, "(backend default)"))
	checkAPIKey(cfg.Agent.APIKey)

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
	checkChannel("Slack", cfg.Channels.Slack.Enabled,
		cfg.Channels.Slack.BotToken != "" && cfg.Channels.Slack.AppToken != "")
	checkChannel("WhatsApp", cfg.Channels.WhatsApp.Enabled,
		cfg.Channels.WhatsApp.AccessToken != "" && cfg.Channels.WhatsApp.PhoneNumberID != "")

	fmt.Println()
	fmt.Println("  Storage:")
	checkDir("Workspace", cfg.Agent.Workspace)
	checkDir("Media dir", cfg.Media.Dir)
	checkSessionsDB(cfg.Sessions.DBPath)

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("git")
	checkBinary("curl")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkAPIKey(apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-12s (not configured)\n", "API key:")
		return
	}
	masked := apiKey
	if len(apiKey) > 8 {
		masked = apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
	}
	fmt.Printf("    %-12s %s\n", "API key:", masked)
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkDir(label, path string) {
	fmt.Printf("    %-12s %s", label+":", path)
	if _, err := os.Stat(path); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}
}

func checkSessionsDB(path string) {
	fmt.Printf("    %-12s %s", "Sessions:", path)
	st, err := sessions.Open(path)
	if err != nil {
		fmt.Printf(" (OPEN FAILED: %s)\n", err)
		return
	}
	st.Close()
	fmt.Println(" (OK)")
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}

func orDefault(val, fallback string) string {
	if val != "" {
		return val
	}
	return fallback
}
