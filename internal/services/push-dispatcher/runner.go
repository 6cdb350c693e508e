package dispatcher

import (
	"context"
	"errors"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/NordCoder/Campusbell/internal/obs"
	kafkax "github.com/NordCoder/Campusbell/internal/repository/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	mConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_dispatcher_messages_consumed_total",
		Help: "Change envelopes consumed.",
	})
	mErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_dispatcher_errors_total",
		Help: "Envelopes whose handling failed.",
	})
)

type Runner struct {
	log  *zap.Logger
	cons *kafkax.Consumer
	h    *Handler
}

func NewRunner(log *zap.Logger, cons *kafkax.Consumer, h *Handler) *Runner {
	return &Runner{log: obs.Component(log, "push-dispatcher.runner"), cons: cons, h: h}
}

func (r *Runner) Run(ctx context.Context) error {
	handler := kafkax.EnvelopeHandler(r.log, func(ctx context.Context, rec changefeed.Record) error {
		mConsumed.Inc()
		if err := r.h.HandleRecord(ctx, rec); err != nil {
			mErrors.Inc()
			return err
		}
		return nil
	})

	if err := r.cons.Consume(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
		r.log.Warn("kafka consume", zap.Error(err))
		return err
	}
	return nil
}
