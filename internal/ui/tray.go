package ui

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/clipforge/clipforge/internal/schedule"
)

//go:embed icon.png
var iconBytes []byte

const refreshInterval = 2 * time.Second

// JobMonitor is the part of the generation reconciler the tray drives.
type JobMonitor interface {
	PendingCount() int
	IsPaused() bool
	Pause()
	Resume()
}

// SessionCounter reports how many editing sessions are open.
type SessionCounter interface {
	Count() int
}

type Tray struct {
	jobs     JobMonitor
	sessions SessionCounter
	logger   *slog.Logger

	statusItem   *systray.MenuItem
	sessionsItem *systray.MenuItem
	pauseItem    *systray.MenuItem

	mu sync.Mutex

	onQuit func()
}

type TrayConfig struct {
	Jobs     JobMonitor
	Sessions SessionCounter
	Logger   *slog.Logger
	OnQuit   func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		jobs:     cfg.Jobs,
		sessions: cfg.Sessions,
		logger:   cfg.Logger,
		onQuit:   cfg.OnQuit,
	}
}

// Run blocks on the platform event loop until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Clipforge")
	systray.SetTooltip("Clipforge editor")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Generation status")
	t.statusItem.Disable()

	t.sessionsItem = systray.AddMenuItem("Open projects: 0", "Projects with a live editing session")
	t.sessionsItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause generation", "Stop polling generation jobs")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Clipforge")

	ctx, cancel := context.WithCancel(context.Background())
	refresher := schedule.Start(ctx, "tray", refreshInterval, func(context.Context) {
		t.refresh()
	}, t.logger)

	go func() {
		defer refresher.Stop()
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				cancel()
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.refresh()
	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.jobs == nil {
		return
	}

	if t.jobs.IsPaused() {
		t.jobs.Resume()
		t.pauseItem.SetTitle("Pause generation")
	} else {
		t.jobs.Pause()
		t.pauseItem.SetTitle("Resume generation")
	}
	t.statusItem.SetTitle(t.snapshot().status)
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.snapshot()
	t.statusItem.SetTitle(s.status)
	t.sessionsItem.SetTitle(s.sessions)
}

type labels struct {
	status   string
	sessions string
}

func (t *Tray) snapshot() labels {
	var paused bool
	var pending, open int
	if t.jobs != nil {
		paused = t.jobs.IsPaused()
		pending = t.jobs.PendingCount()
	}
	if t.sessions != nil {
		open = t.sessions.Count()
	}
	return labels{
		status:   statusLabel(paused, pending),
		sessions: fmt.Sprintf("Open projects: %d", open),
	}
}

func statusLabel(paused bool, pending int) string {
	switch {
	case paused && pending > 0:
		return fmt.Sprintf("Status: Paused (%d queued)", pending)
	case paused:
		return "Status: Paused"
	case pending == 1:
		return "Status: Generating 1 clip"
	case pending > 1:
		return fmt.Sprintf("Status: Generating %d clips", pending)
	}
	return "Status: Idle"
}

func (t *Tray) Quit() {
	systray.Quit()
}
