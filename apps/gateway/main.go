package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/baithak/sandesh/pkg/auth"
	"github.com/baithak/sandesh/pkg/bus"
	"github.com/baithak/sandesh/pkg/config"
	"github.com/baithak/sandesh/pkg/fanout"
	"github.com/baithak/sandesh/pkg/registry"
	"github.com/baithak/sandesh/pkg/store"
)

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

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("ping redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	reg := registry.New()
	receipts := &fanout.Receipts{Store: st, Reg: reg, Log: log}
	hub := NewHub(reg, receipts, rdb, log)

	// Every gateway instance sees every event; the registry decides whether
	// the receiver is connected here.
	group := "gateway-" + uuid.NewString()
	consumer := bus.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, group, log)
	defer consumer.Close()
	go func() {
		if err := consumer.Run(ctx, hub.HandleBusEvent); err != nil && ctx.Err() == nil {
			log.Error("bus consumer stopped", "error", err)
		}
	}()

	tokens := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, tokens, cfg.Gateway, w, r)
	})

	srv := &http.Server{Addr: cfg.Gateway.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	log.Info("gateway listening", "addr", cfg.Gateway.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("serve", "error", err)
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
