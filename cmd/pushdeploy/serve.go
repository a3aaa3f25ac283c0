package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattjoyce/pushdeploy/internal/config"
	"github.com/mattjoyce/pushdeploy/internal/deploy"
	"github.com/mattjoyce/pushdeploy/internal/events"
	"github.com/mattjoyce/pushdeploy/internal/history"
	"github.com/mattjoyce/pushdeploy/internal/lock"
	"github.com/mattjoyce/pushdeploy/internal/log"
	"github.com/mattjoyce/pushdeploy/internal/notify"
	"github.com/mattjoyce/pushdeploy/internal/scheduler"
	"github.com/mattjoyce/pushdeploy/internal/storage"
	"github.com/mattjoyce/pushdeploy/internal/webhook"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	opts := configFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	sink, err := log.OpenFileSink(cfg.Service.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		return 1
	}
	defer sink.Close()

	log.Setup(cfg.Service.LogLevel, sink)
	logger := log.WithComponent("main")
	logger.Info("pushdeploy starting", "version", version, "config", opts.ConfigPath, "log_file", sink.Path())

	pidLockPath := filepath.Join(filepath.Dir(cfg.State.Path), "pushdeploy.lock")
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()

	store := history.New(db)
	hub := events.NewHub(256)

	maintenance := scheduler.New(cfg, store, hub, log.Get())
	if err := maintenance.Start(ctx); err != nil {
		logger.Error("failed to start history maintenance", "error", err)
		return 1
	}
	defer maintenance.Stop()

	if _, err := os.Stat(cfg.Deploy.Script); err != nil {
		logger.Warn("deployment script is not accessible yet", "script", cfg.Deploy.Script, "error", err)
	}

	notifier, err := notify.New(cfg.Notify, log.WithComponent("notify"))
	if err != nil {
		logger.Error("failed to configure notifications", "error", err)
		return 1
	}
	defer notifier.Close()

	executor := deploy.NewExecutor(cfg.Deploy, log.WithComponent("executor"))
	deployer := deploy.New(executor, cfg.Deploy.OnBusy, log.WithComponent("deploy"),
		deploy.WithRecorder(store),
		deploy.WithEvents(hub),
		deploy.WithNotifier(notifier),
	)

	server := webhook.New(cfg, deployer, log.WithComponent("webhook"),
		webhook.WithHistory(store),
		webhook.WithEventHub(hub),
	)

	logger.Info("pushdeploy running",
		"listen", cfg.Listen,
		"path", cfg.Webhook.Path,
		"branch", cfg.Webhook.Branch,
		"script", executor.Script(),
		"on_busy", cfg.Deploy.OnBusy,
		"api", cfg.API.Token != "",
		"notify", cfg.Notify.Drivers,
	)

	if err := server.Start(ctx); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}

	logger.Info("pushdeploy stopped")
	return 0
}
