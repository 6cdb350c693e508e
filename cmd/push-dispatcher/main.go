package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/NordCoder/Campusbell/internal/config/push-dispatcher"
	"github.com/NordCoder/Campusbell/internal/obs"
	kafkax "github.com/NordCoder/Campusbell/internal/repository/kafka"
	pg "github.com/NordCoder/Campusbell/internal/repository/postgres"
	dispatcher "github.com/NordCoder/Campusbell/internal/services/push-dispatcher"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "../config/push-dispatcher.yaml", "path to config file")
	flag.Parse()

	if flag.Arg(0) == "gen-vapid" {
		priv, pub, err := dispatcher.GenerateVAPIDKeys()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("WEBPUSH_VAPID_PUBLIC_KEY=%s\nWEBPUSH_VAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(cfg.LoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()
	l.Info("starting push-dispatcher",
		zap.Strings("brokers", cfg.In.Brokers),
		zap.String("topic", cfg.In.Topic),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
		zap.Bool("smtp", cfg.SMTP.Enable),
	)

	// otel
	otelCloser, err := obs.SetupOTel(rootCtx, &cfg.OTEL)
	if err != nil {
		l.Warn("otel init", zap.Error(err))
	} else {
		defer func() { _ = otelCloser.Shutdown(context.Background()) }()
	}

	// db
	db, err := pg.New(rootCtx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	l.Info("db connected")

	// redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	// metrics
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, obs.AllHealthy(
		db.Ping,
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	), l)

	// kafka
	in := cfg.In.ConsumerConfig
	in.Logger = l
	cons := kafkax.BootstrapConsumer(rootCtx, &in, cfg.In.Partitions, l).WithLogger(l)
	defer func() { _ = cons.Close() }()

	runner := wiring(db, rdb, cfg, cons, l)
	errCh := make(chan error, 1)
	go func() {
		l.Info("runner starting")
		errCh <- runner.Run(rootCtx)
	}()

	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case runErr := <-errCh:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			l.Error("runner error", zap.Error(runErr))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
