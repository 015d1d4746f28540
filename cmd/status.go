package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/shabbark/pocketpaw/internal/config"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a pocketpaw host is running and what it serves",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

type healthReply struct {
	Status       string `json:"status"`
	RunningTasks int    `json:"running_tasks"`
}

func runStatus() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rows := [][2]string{
		{"Backend", cfg.Agent.Backend},
		{"Model", orDefault(cfg.Agent.Model, "(backend default)")},
		{"Workspace", cfg.Agent.Workspace},
	}
	for _, name := range []string{"telegram", "discord", "slack", "whatsapp"} {
		rows = append(rows, [2]string{"Channel " + name, channelState(cfg, name)})
	}

	addr := net.JoinHostPort(cfg.Dashboard.Host, strconv.Itoa(cfg.Dashboard.Port))
	health, healthErr := fetchHealth(addr)
	if healthErr != nil {
		rows = append(rows, [2]string{"Host", "not running (" + addr + ")"})
	} else {
		rows = append(rows,
			[2]string{"Host", health.Status + " (http://" + addr + ")"},
			[2]string{"Running tasks", strconv.Itoa(health.RunningTasks)})
	}

	printTable(rows)
	return nil
}

func channelState(cfg *config.Config, name string) string {
	var enabled bool
	switch name {
	case "telegram":
		enabled = cfg.Channels.Telegram.Enabled
	case "discord":
		enabled = cfg.Channels.Discord.Enabled
	case "slack":
		enabled = cfg.Channels.Slack.Enabled
	case "whatsapp":
		enabled = cfg.Channels.WhatsApp.Enabled
	}
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func fetchHealth(addr string) (*healthReply, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health returned %d", resp.StatusCode)
	}
	var reply healthReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// printTable aligns by display width so wide runes in paths or model names
// do not skew the columns.
func printTable(rows [][2]string) {
	width := 0
	for _, row := range rows {
		if w := runewidth.StringWidth(row[0]); w > width {
			width = w
		}
	}
	for _, row := range rows {
		fmt.Printf("  %s  %s\n", runewidth.FillRight(row[0], width), row[1])
	}
}
