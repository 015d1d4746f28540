// Package maintenance runs the periodic housekeeping sweep: old media files
// are removed and chat histories trimmed.
package maintenance

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"github.com/shabbark/pocketpaw/internal/sessions"
)

// Sweeper schedules housekeeping on a cron expression.
type Sweeper struct {
	spec          string
	mediaDir      string
	retentionDays int
	sessions      *sessions.Store
	historyKeep   int

	cron *gronx.Gronx
}

// New creates a sweeper. sessions may be nil to skip history trimming.
func New(spec, mediaDir string, retentionDays int, st *sessions.Store, historyKeep int) *Sweeper {
	return &Sweeper{
		spec:          spec,
		mediaDir:      mediaDir,
		retentionDays: retentionDays,
		sessions:      st,
		historyKeep:   historyKeep,
		cron:          gronx.New(),
	}
}

// Run ticks once a minute and sweeps when the cron expression is due.
// Blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.cron.IsValid(s.spec) {
		slog.Error("invalid maintenance cron spec, sweeper disabled", "spec", s.spec)
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := s.cron.IsDue(s.spec, now)
			if err != nil {
				slog.Warn("maintenance schedule check failed", "error", err)
				continue
			}
			if due {
				s.Sweep(ctx)
			}
		}
	}
}

// Sweep performs one housekeeping pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	removed := s.sweepMedia()
	trimmed := s.trimSessions(ctx)
	slog.Info("maintenance sweep finished", "media_removed", removed, "sessions_trimmed", trimmed)
}

// sweepMedia removes media files older than the retention window.
func (s *Sweeper) sweepMedia() int {
	if s.retentionDays <= 0 || s.mediaDir == "" {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	entries, err := os.ReadDir(s.mediaDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("media sweep read failed", "dir", s.mediaDir, "error", err)
		}
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.mediaDir, e.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("media sweep remove failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed
}

// trimSessions caps every chat history at the configured window.
func (s *Sweeper) trimSessions(ctx context.Context) int {
	if s.sessions == nil || s.historyKeep <= 0 {
		return 0
	}
	infos, err := s.sessions.List(ctx)
	if err != nil {
		slog.Warn("session trim list failed", "error", err)
		return 0
	}
	trimmed := 0
	for _, info := range infos {
		if info.MessageCount <= s.historyKeep {
			continue
		}
		if err := s.sessions.TrimHistory(ctx, info.Key, s.historyKeep); err != nil {
			slog.Warn("session trim failed", "session", info.Key, "error", err)
			continue
		}
		trimmed++
	}
	return trimmed
}
