package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/NordCoder/Campusbell/internal/obs/retry"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const DefaultChangeChannel = "campusbell_changes"

var (
	mListenReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pg_change_listener_reconnects_total",
		Help: "LISTEN sessions re-established after an error.",
	})
	mListenMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pg_change_listener_malformed_total",
		Help: "Notifications whose payload could not be decoded.",
	})
)

// ChangeListener turns NOTIFY payloads emitted by the change trigger into
// change-feed records. It holds one dedicated connection and reconnects
// with backoff when the session breaks.
type ChangeListener struct {
	db      *DB
	channel string
	pub     changefeed.Publisher
	backoff retry.Backoff
	log     *zap.Logger
}

func NewChangeListener(db *DB, channel string, pub changefeed.Publisher, log *zap.Logger) *ChangeListener {
	if channel == "" {
		channel = DefaultChangeChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ChangeListener{
		db:      db,
		channel: channel,
		pub:     pub,
		backoff: retry.ExpoJitter{Base: 250 * time.Millisecond, Max: 15 * time.Second, Jitter: 0.2},
		log:     log.With(zap.String("component", "pg.change-listener"), zap.String("channel", channel)),
	}
}

func (l *ChangeListener) WithLogger(log *zap.Logger) *ChangeListener {
	if log == nil {
		return l
	}
	cp := *l
	cp.log = log.With(zap.String("component", "pg.change-listener"), zap.String("channel", l.channel))
	return &cp
}

// Run blocks until ctx is done. Notifications sent while no session was
// listening are lost, so every session after the first starts with a
// resync record.
func (l *ChangeListener) Run(ctx context.Context) error {
	attempt := 0
	listened := false
	for {
		started, err := l.listen(ctx, listened)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if started {
			attempt = 0
			listened = true
		}
		wait := l.backoff.Next(attempt)
		attempt++
		mListenReconnects.Inc()
		l.log.Warn("listen session ended, reconnecting", zap.Error(err), zap.Duration("backoff", wait))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (l *ChangeListener) listen(ctx context.Context, resync bool) (bool, error) {
	pc, err := l.db.Pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire: %w", err)
	}
	// the session owns the connection; it never returns to the pool
	conn := pc.Hijack()
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = conn.Close(cctx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen: %w", err)
	}
	l.log.Info("listening for changes", zap.Bool("resync", resync))
	if resync {
		l.pub.Publish(ctx, changefeed.ResyncFor(""))
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true, ctx.Err()
			}
			return true, fmt.Errorf("wait: %w", err)
		}
		rec, err := changefeed.DecodeEnvelope([]byte(n.Payload))
		if err != nil {
			mListenMalformed.Inc()
			l.log.Warn("drop malformed change", zap.Error(err))
			continue
		}
		l.pub.Publish(ctx, rec)
	}
}
