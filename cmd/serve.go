package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/shabbark/pocketpaw/internal/agentchat"
	"github.com/shabbark/pocketpaw/internal/bootstrap"
	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/channels"
	"github.com/shabbark/pocketpaw/internal/channels/discord"
	"github.com/shabbark/pocketpaw/internal/channels/slack"
	"github.com/shabbark/pocketpaw/internal/channels/telegram"
	"github.com/shabbark/pocketpaw/internal/channels/whatsapp"
	"github.com/shabbark/pocketpaw/internal/config"
	"github.com/shabbark/pocketpaw/internal/deepwork"
	"github.com/shabbark/pocketpaw/internal/gateway"
	"github.com/shabbark/pocketpaw/internal/maintenance"
	"github.com/shabbark/pocketpaw/internal/missioncontrol"
	"github.com/shabbark/pocketpaw/internal/providers"
	"github.com/shabbark/pocketpaw/internal/router"
	"github.com/shabbark/pocketpaw/internal/sessions"
	"github.com/shabbark/pocketpaw/internal/store"
	"github.com/shabbark/pocketpaw/internal/telemetry"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	applyServeFlags(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry disabled", "error", err)
	} else {
		defer shutdownTelemetry(context.Background())
	}

	seeded, err := bootstrap.EnsureWorkspaceFiles(cfg.Agent.Workspace)
	if err != nil {
		slog.Error("failed to prepare workspace", "path", cfg.Agent.Workspace, "error", err)
		os.Exit(1)
	}
	if len(seeded) > 0 {
		slog.Info("seeded workspace files", "files", seeded)
	}

	msgBus := bus.New()
	downloader := bus.NewDownloader(cfg.Media.Dir, cfg.Media.MaxFileSizeMB)

	st, err := store.New(filepath.Join(config.BaseDir(), "state"))
	if err != nil {
		slog.Error("failed to open state store", "error", err)
		os.Exit(1)
	}

	sessStore, err := sessions.Open(cfg.Sessions.DBPath)
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	defer sessStore.Close()

	manager := missioncontrol.NewManager(st, msgBus)
	executor := missioncontrol.NewExecutor(manager, msgBus, router.Settings{
		Backend:      cfg.Agent.Backend,
		APIKey:       cfg.Agent.APIKey,
		Model:        cfg.Agent.Model,
		BaseURL:      cfg.Agent.BaseURL,
		SystemPrompt: cfg.Agent.SystemPrompt,
	}, cfg.Agent.Workspace)
	scheduler := deepwork.NewScheduler(manager, executor, msgBus)
	executor.SetOnTaskDone(scheduler.OnTaskCompleted)

	// The chat loop and the planner need an LLM backend. Without an API key
	// the host still serves the dashboard so projects can be inspected.
	var session *deepwork.Session
	var provider providers.Provider
	if p, perr := providers.New(providers.Credentials{
		Backend: cfg.Agent.Backend,
		APIKey:  cfg.Agent.APIKey,
		Model:   cfg.Agent.Model,
		BaseURL: cfg.Agent.BaseURL,
	}); perr != nil {
		slog.Warn("agent backend unavailable, chat and planning disabled", "error", perr)
		slog.Warn("set ANTHROPIC_API_KEY (or POCKETPAW_API_KEY) and restart, or run: pocketpaw onboard")
	} else {
		provider = p
		session = deepwork.NewSession(manager, scheduler, deepwork.NewLLMPlanner(p), msgBus)
	}

	channelMgr := channels.NewManager(msgBus)
	registerChannels(channelMgr, cfg, msgBus, downloader)
	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Warn("channel startup incomplete", "error", err)
	}
	defer channelMgr.StopAll()

	if err := config.Watch(ctx, cfgPath, func(fresh *config.Config) {
		// Channel and credential changes need a restart; only log levels and
		// allowlists can safely swap live, so keep it simple and say so.
		slog.Info("config changed on disk; restart to apply channel or credential changes")
	}); err != nil {
		slog.Debug("config watcher unavailable", "error", err)
	}

	server := gateway.NewServer(msgBus, manager, executor, session, cfg.Agent.Workspace)
	addr, err := pickDashboardAddr(cfg.Dashboard.Host, cfg.Dashboard.Port)
	if err != nil {
		slog.Error("no usable dashboard port", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx, addr) })

	if provider != nil {
		loop := agentchat.New(msgBus, sessStore, provider, session,
			agentchat.WithSystemPrompt(cfg.Agent.SystemPrompt))
		g.Go(func() error { loop.Run(gctx); return nil })
	}

	if cfg.Maintenance.Enabled {
		sweeper := maintenance.New(cfg.Maintenance.Spec, cfg.Media.Dir,
			cfg.Media.RetentionDays, sessStore, cfg.Sessions.HistoryLimit)
		g.Go(func() error { sweeper.Run(gctx); return nil })
	}

	slog.Info("pocketpaw running", "dashboard", "http://"+addr, "channels", channelMgr.ChannelNames())

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
	slog.Info("goodbye")
}

// applyServeFlags layers command-line switches over the loaded config.
func applyServeFlags(cfg *config.Config) {
	if flagTelegram {
		cfg.Channels.Telegram.Enabled = true
	}
	if flagDiscord {
		cfg.Channels.Discord.Enabled = true
	}
	if flagSlack {
		cfg.Channels.Slack.Enabled = true
	}
	if flagWhatsApp {
		cfg.Channels.WhatsApp.Enabled = true
	}
	if flagPort > 0 {
		cfg.Dashboard.Port = flagPort
	}
}

// registerChannels constructs every enabled adapter. A misconfigured
// channel is logged and skipped so the rest can start.
func registerChannels(mgr *channels.Manager, cfg *config.Config, b *bus.MessageBus, dl *bus.Downloader) {
	if cfg.Channels.Telegram.Enabled {
		if ch, err := telegram.New(cfg.Channels.Telegram, b, dl); err != nil {
			slog.Error("telegram channel unavailable", "error", err)
		} else {
			mgr.RegisterChannel(ch)
		}
	}
	if cfg.Channels.Discord.Enabled {
		if ch, err := discord.New(cfg.Channels.Discord, b, dl); err != nil {
			slog.Error("discord channel unavailable", "error", err)
		} else {
			mgr.RegisterChannel(ch)
		}
	}
	if cfg.Channels.Slack.Enabled {
		if ch, err := slack.New(cfg.Channels.Slack, b, dl); err != nil {
			slog.Error("slack channel unavailable", "error", err)
		} else {
			mgr.RegisterChannel(ch)
		}
	}
	if cfg.Channels.WhatsApp.Enabled {
		if ch, err := whatsapp.New(cfg.Channels.WhatsApp, b, dl); err != nil {
			slog.Error("whatsapp channel unavailable", "error", err)
		} else {
			mgr.RegisterChannel(ch)
		}
	}
}

// pickDashboardAddr probes for a free port starting at the configured one.
// Another pocketpaw (or anything else) on 8888 should not stop this host
// from coming up.
func pickDashboardAddr(host string, port int) (string, error) {
	for candidate := port; candidate < port+20; candidate++ {
		addr := net.JoinHostPort(host, strconv.Itoa(candidate))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			continue
		}
		ln.Close()
		if candidate != port {
			slog.Info("dashboard port busy, using next free port", "configured", port, "using", candidate)
		}
		return addr, nil
	}
	return "", fmt.Errorf("ports %d-%d all busy on %s", port, port+19, host)
}
