// Package cmd holds the pocketpaw CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shabbark/pocketpaw/internal/config"
)

// Version is set at build time via
// -ldflags "-X github.com/shabbark/pocketpaw/cmd.Version=v1.0.0".
var Version = "dev"

var (
	cfgFile string
	verbose bool

	flagTelegram bool
	flagDiscord  bool
	flagSlack    bool
	flagWhatsApp bool
	flagPort     int
)

var rootCmd = &cobra.Command{
	Use:     "pocketpaw",
	Version: Version,
	Short: "pocketpaw — on-device AI agent host",
	Long: "pocketpaw hosts a personal AI agent on your own machine: chat with it over\n" +
		"Telegram, Discord, Slack, or WhatsApp, and hand it multi-step projects that\n" +
		"it plans, schedules, and executes with a local dashboard to watch.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.pocketpaw/config.json or $POCKETPAW_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.Flags().BoolVar(&flagTelegram, "telegram", false, "force-enable the telegram channel")
	rootCmd.Flags().BoolVar(&flagDiscord, "discord", false, "force-enable the discord channel")
	rootCmd.Flags().BoolVar(&flagSlack, "slack", false, "force-enable the slack channel")
	rootCmd.Flags().BoolVar(&flagWhatsApp, "whatsapp", false, "force-enable the whatsapp channel")
	rootCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "dashboard port (overrides config)")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(migrateCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pocketpaw %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("POCKETPAW_CONFIG"); v != "" {
		return v
	}
	return config.DefaultPath()
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
