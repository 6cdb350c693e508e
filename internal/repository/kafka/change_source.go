package kafka

import (
	"context"
	"errors"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var changeFeedConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kafka_changefeed_records_total",
	Help: "Change records replayed from kafka, by table.",
}, []string{"table"})

// ChangeFeed replays the kafka change topic into a local publisher, usually
// the in-process broker.
type ChangeFeed struct {
	cons *Consumer
	pub  changefeed.Publisher
	log  *zap.Logger
}

func NewChangeFeed(cons *Consumer, pub changefeed.Publisher) *ChangeFeed {
	return &ChangeFeed{
		cons: cons,
		pub:  pub,
		log:  obs.Component(nil, "kafka.changefeed"),
	}
}

func (f *ChangeFeed) WithLogger(l *zap.Logger) *ChangeFeed {
	if l == nil {
		return f
	}
	cp := *f
	cp.log = obs.Component(l, "kafka.changefeed")
	return &cp
}

func (f *ChangeFeed) Run(ctx context.Context) error {
	h := EnvelopeHandler(f.log, func(ctx context.Context, rec changefeed.Record) error {
		changeFeedConsumed.WithLabelValues(rec.Table).Inc()
		f.pub.Publish(ctx, rec)
		return nil
	})
	if err := f.cons.Consume(ctx, h); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
