package outbox

import (
	"context"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/outbox"
	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	mMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_messages_total",
		Help: "Outbox messages handled by kind and result (ok, error, unknown_kind).",
	}, []string{"kind", "result"})
	mPickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_pick_errors_total", Help: "Failed batch claims and success marks.",
	})
	mTickDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "outbox_tick_duration_seconds", Help: "Tick duration.",
		Buckets: prometheus.DefBuckets,
	})
	mBatchSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_last_batch_size", Help: "Size of last picked batch.",
	})
)

type Config struct {
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	WaitTime      time.Duration `mapstructure:"wait_time"`
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.WaitTime <= 0 {
		c.WaitTime = time.Second
	}
	if c.InProgressTTL <= 0 {
		c.InProgressTTL = 30 * time.Second
	}
	return c
}

// Runner relays outbox rows to their kind handlers. Rows stay claimed
// until MarkSuccess; a crashed worker's claims expire after InProgressTTL.
type Runner struct {
	log      *zap.Logger
	repo     outbox.Repository
	dispatch outbox.GlobalHandler
	cfg      Config
	tracer   trace.Tracer
}

func NewOutboxRunner(log *zap.Logger, repo outbox.Repository, dispatch outbox.GlobalHandler, cfg Config) *Runner {
	return &Runner{
		log:      obs.Component(log, "outbox.runner"),
		repo:     repo,
		dispatch: dispatch,
		cfg:      cfg.withDefaults(),
		tracer:   otel.Tracer("outbox.runner"),
	}
}

// Run blocks until ctx is done and every worker has exited.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		log := r.log.With(zap.Int("worker", i))
		g.Go(func() error {
			r.work(ctx, log)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) work(ctx context.Context, log *zap.Logger) {
	log.Info("outbox worker started", zap.Duration("wait", r.cfg.WaitTime))
	defer log.Info("outbox worker stopped")

	t := time.NewTimer(r.cfg.WaitTime)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		// a full batch means more rows are likely waiting
		for r.tick(ctx) == r.cfg.BatchSize && ctx.Err() == nil {
		}
		t.Reset(r.cfg.WaitTime)
	}
}

// tick claims one batch, dispatches every message under its enqueuing
// trace and marks the delivered ones. It returns the batch size.
func (r *Runner) tick(ctx context.Context) int {
	defer func(t0 time.Time) { mTickDur.Observe(time.Since(t0).Seconds()) }(time.Now())

	ctx, span := r.tracer.Start(ctx, "outbox.tick", trace.WithAttributes(
		attribute.Int("batch.limit", r.cfg.BatchSize),
		attribute.String("in_progress_ttl", r.cfg.InProgressTTL.String()),
	))
	defer span.End()

	messages, err := r.repo.PickBatch(ctx, r.cfg.BatchSize, r.cfg.InProgressTTL)
	if err != nil {
		span.RecordError(err)
		mPickErrors.Inc()
		obs.WithTrace(ctx, r.log).Error("outbox pick", zap.Error(err))
		return 0
	}
	mBatchSize.Set(float64(len(messages)))

	delivered := make([]string, 0, len(messages))
	for _, m := range messages {
		if r.deliver(ctx, m) {
			delivered = append(delivered, m.IdempotencyKey)
		}
	}
	if len(delivered) > 0 {
		if err := r.repo.MarkSuccess(ctx, delivered); err != nil {
			span.RecordError(err)
			mPickErrors.Inc()
			obs.WithTrace(ctx, r.log).Error("outbox mark success", zap.Int("keys", len(delivered)), zap.Error(err))
		}
	}
	return len(messages)
}

func (r *Runner) deliver(ctx context.Context, m outbox.Message) bool {
	parent := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier{
		"traceparent": m.Traceparent,
		"tracestate":  m.Tracestate,
		"baggage":     m.Baggage,
	})
	ctx, span := r.tracer.Start(parent, "outbox.dispatch", trace.WithAttributes(
		attribute.String("outbox.key", m.IdempotencyKey),
		attribute.String("outbox.kind", m.Kind.String()),
	))
	defer span.End()
	log := obs.WithTrace(ctx, r.log).With(zap.String("key", m.IdempotencyKey), zap.Stringer("kind", m.Kind))

	h, err := r.dispatch(m.Kind)
	if err != nil {
		span.RecordError(err)
		mMessages.WithLabelValues(m.Kind.String(), "unknown_kind").Inc()
		log.Error("no handler for kind", zap.Error(err))
		return false
	}
	if err := h(ctx, m.Data); err != nil {
		span.RecordError(err)
		mMessages.WithLabelValues(m.Kind.String(), "error").Inc()
		log.Error("outbox handler", zap.Error(err))
		return false
	}
	mMessages.WithLabelValues(m.Kind.String(), "ok").Inc()
	return true
}
