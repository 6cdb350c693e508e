package main

import (
	"net/http"
	"time"

	"github.com/NordCoder/Campusbell/internal/changefeed"
	config "github.com/NordCoder/Campusbell/internal/config/notify-api"
	"github.com/NordCoder/Campusbell/internal/domain/notification"
	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/NordCoder/Campusbell/internal/realtime"
	"github.com/NordCoder/Campusbell/internal/services/notify-api/httpapi"
	"github.com/NordCoder/Campusbell/internal/services/notify-api/inbox"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type app struct {
	rt       *realtime.Manager
	registry *inbox.Registry
}

func (a *app) Close() {
	a.registry.Close()
	a.rt.Close()
}

func buildHTTPServer(cfg *config.Config, l *zap.Logger, b *backends, broker *changefeed.Broker) (*http.Server, *app) {
	if cfg.App.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	clock := notification.SystemClock{}
	rt := realtime.NewManager(broker, l)
	registry := inbox.NewRegistry(b.repo, rt, inbox.Options{
		PageSize: cfg.Inbox.PageSize,
		Timeout:  cfg.Inbox.LoadTimeout,
		Clock:    clock,
		Logger:   l,
	})
	uc := inbox.NewUsecase(b.repo, b.prefs, registry, b.tx, b.out, clock, l)

	srv := httpapi.NewServer(uc, registry, rt, b.subs, clock, httpapi.Opts{
		Secret:         []byte(cfg.Auth.JWTSecret),
		VAPIDPublicKey: cfg.Push.VAPIDPublicKey,
		AllowOrigins:   cfg.Server.AllowOrigins,
		Ping:           cfg.ChangeFeed.Ping,
		Health:         b.health,
		Logger:         l,
	})

	// No WriteTimeout: stream sessions stay open.
	return &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           obs.HTTPHandler(srv.Router(), "notify-api"),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}, &app{rt: rt, registry: registry}
}

func serveHTTP(srv *http.Server, l *zap.Logger) error {
	l.Info("http listening", zap.String("addr", srv.Addr))
	return srv.ListenAndServe()
}
