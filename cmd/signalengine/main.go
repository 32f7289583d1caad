package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tradebot-signals/config"
	"tradebot-signals/internal/logger"
	"tradebot-signals/internal/service"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	config.LoadDotenvOnce()
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[signalengine] config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[signalengine] invalid config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("[signalengine] %v", err)
	}
	logger.Init("signalengine", logger.Options{Level: level, Format: cfg.Log.Format})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	svc, err := service.New(ctx, cfg)
	if err != nil {
		log.Fatalf("[signalengine] init failed: %v", err)
	}

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[signalengine] fatal: %v", err)
	}
}
