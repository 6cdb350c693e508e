package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NordCoder/Campusbell/internal/changefeed"
	config "github.com/NordCoder/Campusbell/internal/config/notify-api"
	"github.com/NordCoder/Campusbell/internal/obs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "../config/notify-api.yaml", "path to config file")
	flag.Parse()

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
	l.Info("starting notify-api",
		zap.String("env", cfg.App.Env),
		zap.String("ver", cfg.App.Version),
		zap.String("db_driver", cfg.DB.Driver),
	)

	otelShutdown, err := initOTel(rootCtx, cfg)
	if err != nil {
		l.Warn("otel init", zap.Error(err))
		otelShutdown = func(context.Context) error { return nil }
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	broker := changefeed.NewBroker(cfg.ChangeFeed.Buffer, l)
	b, err := initBackends(rootCtx, cfg, broker, l)
	if err != nil {
		l.Fatal("storage init", zap.Error(err))
	}
	defer b.Close()

	httpSrv, a := buildHTTPServer(cfg, l, b, broker)
	grpcSrv, hs, grpcLn, err := buildGRPCServer(cfg.Server.GRPCAddr)
	if err != nil {
		l.Fatal("build grpc", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(rootCtx)
	for name, run := range b.background {
		g.Go(func() error {
			l.Info("background loop starting", zap.String("loop", name))
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				l.Error("background loop stopped", zap.String("loop", name), zap.Error(err))
				return err
			}
			return nil
		})
	}
	g.Go(func() error { return watchHealth(ctx, hs, b.health, 5*time.Second) })
	g.Go(func() error {
		if err := serveHTTP(httpSrv, l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return serveGRPC(grpcSrv, grpcLn, l) })

	g.Go(func() error {
		<-ctx.Done()
		l.Info("shutdown signal")

		shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		// Streams end when their stores are disposed and the broker closes.
		a.Close()
		broker.Close(nil)
		_ = httpSrv.Shutdown(shCtx)
		grpcSrv.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		l.Error("notify-api stopped", zap.Error(err))
	}
	l.Info("bye")
}
