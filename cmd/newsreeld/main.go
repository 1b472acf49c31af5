package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"newsreel/internal/bus"
	"newsreel/internal/config"
	"newsreel/internal/daemon"
	"newsreel/internal/logging"
	"newsreel/internal/queue"
	"newsreel/internal/quota"
	"newsreel/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		log.Fatalf("open queue store: %v", err)
	}
	defer store.Close()

	eventBus, err := bus.Open(cfg)
	if err != nil {
		log.Fatalf("open event bus: %v", err)
	}
	defer eventBus.Close()

	ledger, err := quota.Open(cfg)
	if err != nil {
		log.Fatalf("open quota ledger: %v", err)
	}
	defer ledger.Close()

	manager, err := workflow.NewManager(cfg, store, eventBus, ledger, logger)
	if err != nil {
		log.Fatalf("build workflow: %v", err)
	}

	d, err := daemon.New(cfg, store, manager, logger)
	if err != nil {
		log.Fatalf("create daemon: %v", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		log.Fatalf("start daemon: %v", err)
	}

	<-ctx.Done()
	logger.Info("newsreeld shutting down")
	d.Stop()
}
