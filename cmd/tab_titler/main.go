package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/dgnsrekt/tab_titler/internal/api"
	"github.com/dgnsrekt/tab_titler/internal/browser"
	"github.com/dgnsrekt/tab_titler/internal/cdpcontrol"
	"github.com/dgnsrekt/tab_titler/internal/config"
	"github.com/dgnsrekt/tab_titler/internal/controller"
	"github.com/dgnsrekt/tab_titler/internal/hostevents"
	"github.com/dgnsrekt/tab_titler/internal/instance"
	"github.com/dgnsrekt/tab_titler/internal/messaging"
	"github.com/dgnsrekt/tab_titler/internal/netutil"
	"github.com/dgnsrekt/tab_titler/internal/notify"
	"github.com/dgnsrekt/tab_titler/internal/relay"
	"github.com/dgnsrekt/tab_titler/internal/resolver"
	"github.com/dgnsrekt/tab_titler/internal/selectors"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("config loaded",
		"monitored_origin", cfg.MonitoredOrigin,
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"port_candidates", cfg.PortCandidates,
		"selectors_file", cfg.SelectorsFile,
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"focus_poll_ms", cfg.FocusPollMS,
		"launch_browser", cfg.LaunchBrowser,
		"notify_enabled", cfg.NotifyURL != "",
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	lock, err := instance.Acquire(cfg.LockFile)
	if err != nil {
		slog.Error("failed to acquire instance lock", "lock_file", cfg.LockFile, "error", err)
		os.Exit(1)
	}
	defer func() { _ = lock.Release() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.MonitoredOrigin,
			ProfileDir: cfg.ProfileDir,
		})
		if err := launcher.Launch(ctx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	store, err := selectors.NewStore(cfg.SelectorsFile)
	if err != nil {
		slog.Error("failed to load selectors", "path", cfg.SelectorsFile, "error", err)
		os.Exit(1)
	}

	cdpClient := cdpcontrol.NewClient(cfg.CDPURL(), cfg.EvalTimeout())
	if err := cdpClient.Connect(ctx); err != nil {
		slog.Error("failed to connect CDP", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() { _ = cdpClient.Close() }()

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to bind API listener", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	poller := hostevents.NewPoller(cdpClient, cfg.FocusPoll())
	router := messaging.NewRouter()
	broker := relay.NewBroker()
	svc := controller.NewService(
		controller.Options{
			Origin: cfg.MonitoredOrigin,
			Resolver: resolver.Config{
				StartupDelay:  cfg.StartupPassDelay(),
				ObserverDelay: cfg.ObserverDelay(),
				ObserverRetry: cfg.ObserverRetry(),
			},
		},
		controller.Host{URLs: cdpClient, Windows: poller},
		cdpClient,
		store,
		router,
		broker,
	)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := store.Watch(ctx); err != nil {
			slog.Warn("selector file watch stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := poller.Run(ctx); err != nil {
			slog.Error("host event poller failed", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := svc.Run(ctx, poller.Events()); err != nil {
			slog.Error("title service failed", "error", err)
		}
	}()

	if cfg.NotifyURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			notify.Forward(ctx, broker, &http.Client{Timeout: 10 * time.Second}, cfg.NotifyURL)
		}()
	}

	srv := &http.Server{Handler: api.NewServer(svc, broker, store), ReadHeaderTimeout: 10 * time.Second}
	addr := ln.Addr().String()
	go func() {
		slog.Info("tab titler listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("api shutdown failed", "error", err)
	}
	cancel()
	wg.Wait()
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     7,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
