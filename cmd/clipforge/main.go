package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/clipforge/clipforge/internal/api"
	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/compositor"
	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/db"
	"github.com/clipforge/clipforge/internal/generation"
	"github.com/clipforge/clipforge/internal/logging"
	"github.com/clipforge/clipforge/internal/pipeline"
	"github.com/clipforge/clipforge/internal/playback"
	"github.com/clipforge/clipforge/internal/provider"
	"github.com/clipforge/clipforge/internal/session"
	"github.com/clipforge/clipforge/internal/ui"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.MediaDir(), 0755); err != nil {
		return fmt.Errorf("failed to create media dir: %w", err)
	}

	rotation := cfg.LogRotation()
	logger, logCloser := logging.NewFileLogger(cfg.LogLevel(), logging.FileOptions{
		Path:       cfg.LogFile(),
		MaxSizeMB:  rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAgeDays: rotation.MaxAgeDays,
		Compress:   rotation.Compress,
	})
	defer logCloser.Close()
	logger.Info("starting clipforge", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                    CLIPFORGE v%-28s║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Media dir:  %-45s ║\n", logging.SanitizePath(cfg.MediaDir()))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	catalogSvc := catalog.NewService(repo, logger)

	pipeCfg := pipeline.DefaultConfig(logger)
	pipeCfg.FFmpegPath = cfg.FFmpegPath()
	pipeCfg.FFprobePath = cfg.FFprobePath()

	doctor := pipeline.NewCachedDoctor(pipeline.NewExecDoctor(pipeCfg), logger)
	probeCtx, probeCancel := context.WithTimeout(context.Background(), pipeCfg.ProbeTimeout)
	if caps, err := doctor.Refresh(probeCtx); err != nil {
		logger.Warn("initial media probe failed", "error", err)
	} else {
		logger.Info("media tools detected",
			"ffmpeg", caps.FFmpeg.Available,
			"ffprobe", caps.FFprobe.Available,
		)
	}
	probeCancel()

	var renderer compositor.Renderer
	if ff, err := pipeline.NewFFmpegRenderer(pipeCfg); err != nil {
		logger.Warn("ffmpeg unavailable, frames are described but not drawn", "error", err)
		renderer = pipeline.NewStubRenderer(logger)
	} else {
		renderer = ff
		catalogSvc.SetProber(ff)
	}
	comp := compositor.New(renderer, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := session.NewManager(ctx, repo, comp, session.Options{
		TickInterval: cfg.TickInterval(),
		Logger:       logger,
	})
	sessions.SetAutoInsert(cfg.AutoInsert())

	source := &provider.Router{Mock: provider.NewMockProvider(cfg.MockDelay(), logger)}
	if cfg.ProviderMode() == config.ProviderHTTP {
		source.Gateway = provider.NewHTTPClient(cfg.ProviderURL(), cfg.ProviderToken(), logger)
		logger.Info("generation gateway enabled", "base_url", cfg.ProviderURL())
	}

	reconciler := generation.NewReconciler(repo, catalogSvc, source, logger)
	reconciler.SetInterval(cfg.ReconcileInterval())
	reconciler.SetSink(sessions)
	if n, err := reconciler.Load(ctx); err != nil {
		logger.Warn("failed to resume generation jobs", "error", err)
	} else if n > 0 {
		logger.Info("resumed generation jobs", "count", n)
	}
	go reconciler.Start(ctx)

	generations := generation.NewService(repo, source, reconciler, logger)

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		CatalogService: catalogSvc,
		Repository:     repo,
		Sessions:       sessions,
		Generations:    generations,
		Reconciler:     reconciler,
		Playback:       playback.NewServer(cfg.MediaDir(), logger),
		Doctor:         doctor,
		ProviderMode:   cfg.ProviderMode(),
		Logger:         logger,
		StartTime:      startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quit := newQuitSignal()

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit.Trigger()
		case <-quit.Done():
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Jobs:     reconciler,
			Sessions: sessions,
			Logger:   logger,
			OnQuit:   quit.Trigger,
		})
		go tray.Run()
	}

	<-quit.Done()

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	sessions.StopAll()
	cancel()
	reconciler.Wait()

	logger.Info("shutdown complete")
	return nil
}

// quitSignal is closed by whichever of the signal handler and the tray asks
// first; later requests are no-ops.
type quitSignal struct {
	ch   chan struct{}
	once sync.Once
}

func newQuitSignal() *quitSignal {
	return &quitSignal{ch: make(chan struct{})}
}

func (q *quitSignal) Trigger() {
	q.once.Do(func() { close(q.ch) })
}

func (q *quitSignal) Done() <-chan struct{} {
	return q.ch
}

func ensureAuthToken(repo catalog.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}
