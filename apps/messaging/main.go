package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/baithak/sandesh/pkg/bus"
	"github.com/baithak/sandesh/pkg/config"
	"github.com/baithak/sandesh/pkg/store"
)

const consumerGroup = "messaging-service-group"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Error("open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}

	consumer := bus.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, consumerGroup, log)
	defer consumer.Close()

	indexer := NewIndexer(st, log)

	log.Info("messaging consumer starting", "topic", cfg.Kafka.EventsTopic)
	if err := consumer.Run(ctx, indexer.Handle); err != nil && ctx.Err() == nil {
		log.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
