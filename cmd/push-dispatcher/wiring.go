package main

import (
	config "github.com/NordCoder/Campusbell/internal/config/push-dispatcher"
	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/NordCoder/Campusbell/internal/obs/retry"
	kafkax "github.com/NordCoder/Campusbell/internal/repository/kafka"
	pg "github.com/NordCoder/Campusbell/internal/repository/postgres"
	dispatcher "github.com/NordCoder/Campusbell/internal/services/push-dispatcher"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func wiring(db *pg.DB, rdb *redis.Client, cfg *config.Config, cons *kafkax.Consumer, l *zap.Logger) *dispatcher.Runner {
	sender := dispatcher.NewWebPushSender(dispatcher.WebPushConfig{
		VAPIDPublicKey:  cfg.WebPush.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.WebPush.VAPIDPrivateKey,
		Subscriber:      cfg.WebPush.Subscriber,
		TTL:             cfg.WebPush.TTL,
		Urgency:         cfg.WebPush.Urgency,
	}, obs.HTTPClient(cfg.WebPush.Timeout)).WithLogger(l)

	h := &dispatcher.Handler{
		Prefs:   pg.NewPreferencesRepo(db),
		Subs:    pg.NewPushSubscriptionRepo(db),
		Sender:  sender,
		Dedup:   dispatcher.NewRedisDeduper(rdb, cfg.Redis.DedupTTL),
		BaseURL: cfg.SMTP.BaseURL,
		Retry:   retry.PushPolicy(l, dispatcher.PermanentSendError),
		Log:     l,
	}
	if cfg.SMTP.Enable {
		h.Mail = dispatcher.NewMailer(dispatcher.SMTPConfig{
			Host:       cfg.SMTP.Host,
			Port:       cfg.SMTP.Port,
			User:       cfg.SMTP.User,
			Password:   cfg.SMTP.Password,
			From:       cfg.SMTP.From,
			SubjPrefix: cfg.SMTP.SubjPrefix,
		}).WithLogger(l)
		h.Directory = pg.NewDirectoryRepo(db, cfg.Directory.Query)
	}
	return dispatcher.NewRunner(l, cons, h)
}
