package main

import (
	"context"
	"errors"

	changefeedx "github.com/NordCoder/Campusbell/internal/changefeed"
	config "github.com/NordCoder/Campusbell/internal/config/notify-api"
	"github.com/NordCoder/Campusbell/internal/domain/notification"
	"github.com/NordCoder/Campusbell/internal/domain/push"
	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/NordCoder/Campusbell/internal/obs/retry"
	"github.com/NordCoder/Campusbell/internal/outbox"
	kafkax "github.com/NordCoder/Campusbell/internal/repository/kafka"
	pg "github.com/NordCoder/Campusbell/internal/repository/postgres"
	"github.com/NordCoder/Campusbell/internal/repository/sqlite"
	"github.com/NordCoder/Campusbell/internal/services/notify-api/inbox"
	"go.uber.org/zap"
)

// backends is everything the handlers need from storage, plus the
// background loops that keep the change feed and the outbox moving.
type backends struct {
	repo   notification.Repo
	prefs  notification.PreferencesRepo
	subs   push.SubscriptionRepo
	tx     inbox.Transactor
	out    inbox.Enqueuer
	health obs.HealthFunc

	background map[string]func(context.Context) error
	closers    []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func initBackends(ctx context.Context, cfg *config.Config, broker *changefeedx.Broker, l *zap.Logger) (*backends, error) {
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		return initPostgres(ctx, cfg, broker, l)
	case config.DriverSQLite:
		return initSQLite(cfg, broker, l)
	}
	return nil, errors.New("unknown db driver " + cfg.DB.Driver)
}

// initSQLite is the single-process mode: repositories publish committed
// changes straight into the broker.
func initSQLite(cfg *config.Config, broker *changefeedx.Broker, l *zap.Logger) (*backends, error) {
	db, err := sqlite.Open(cfg.DB.SQLite, l)
	if err != nil {
		return nil, err
	}
	l.Info("sqlite opened", zap.String("path", cfg.DB.SQLite))
	return &backends{
		repo:       sqlite.NewNotificationRepo(db, broker),
		prefs:      sqlite.NewPreferencesRepo(db),
		subs:       sqlite.NewPushSubscriptionRepo(db),
		tx:         sqlite.NewTransactor(db),
		health:     db.Ping,
		background: map[string]func(context.Context) error{},
		closers:    []func(){func() { _ = db.Close() }},
	}, nil
}

func initPostgres(ctx context.Context, cfg *config.Config, broker *changefeedx.Broker, l *zap.Logger) (*backends, error) {
	db, err := pg.New(ctx, cfg.DB.Postgres)
	if err != nil {
		return nil, err
	}
	l.Info("db connected")

	outboxRepo := pg.NewOutboxRepo(db)
	b := &backends{
		repo:       pg.NewNotificationRepo(db),
		prefs:      pg.NewPreferencesRepo(db),
		subs:       pg.NewPushSubscriptionRepo(db),
		tx:         pg.NewTransactor(db, l),
		out:        outboxRepo,
		health:     db.Ping,
		background: map[string]func(context.Context) error{},
		closers:    []func(){db.Close},
	}

	prod := kafkax.BootstrapProducer(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions, l)
	b.closers = append(b.closers, func() { _ = prod.Close() })
	dispatch := outbox.MakeGlobalOutboxHandler(kafkax.NewChangeEventsKafka(prod), retry.DefaultKafkaPolicy(l))
	b.background["outbox"] = outbox.NewOutboxRunner(l, outboxRepo, dispatch, cfg.Outbox).Run

	switch cfg.ChangeFeed.Source {
	case config.SourceKafka:
		cons := kafkax.BootstrapConsumer(ctx, &kafkax.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topic:   cfg.Kafka.Topic,
			Logger:  l,
		}, cfg.Kafka.Partitions, l).WithLogger(l)
		b.closers = append(b.closers, func() { _ = cons.Close() })
		b.background["changefeed"] = kafkax.NewChangeFeed(cons, broker).WithLogger(l).Run
		l.Info("change feed from kafka", zap.String("topic", cfg.Kafka.Topic), zap.String("group_id", cfg.Kafka.GroupID))
	default:
		b.background["changefeed"] = pg.NewChangeListener(db, cfg.ChangeFeed.Channel, broker, l).Run
		l.Info("change feed from listen", zap.String("channel", cfg.ChangeFeed.Channel))
	}
	return b, nil
}
