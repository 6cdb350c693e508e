package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	ErrAlreadySubscribed = errors.New("realtime: already subscribed")
	ErrClosed            = errors.New("realtime: manager closed")
	ErrStreamEnded       = errors.New("realtime: stream ended")
)

var (
	mActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_active_subscriptions",
		Help: "Open change-feed subscriptions.",
	})
	mDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_records_delivered_total",
		Help: "Records handed to observers.",
	}, []string{"table"})
	mObserverPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_observer_panics_total",
		Help: "Observer callbacks that panicked.",
	})
)

type Observer interface {
	OnChange(ctx context.Context, rec changefeed.Record)
}

type ObserverFunc func(ctx context.Context, rec changefeed.Record)

func (f ObserverFunc) OnChange(ctx context.Context, rec changefeed.Record) { f(ctx, rec) }

type key struct {
	topic    string
	consumer string
}

// Manager opens one channel per (topic, consumer) pair and delivers the
// records of each channel to its observer in source order.
type Manager struct {
	src changefeed.Source
	log *zap.Logger

	mu     sync.Mutex
	active map[key]*Handle
	closed bool
}

func NewManager(src changefeed.Source, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		src:    src,
		log:    log.With(zap.String("component", "realtime")),
		active: make(map[key]*Handle),
	}
}

// Subscribe opens the channel for (topic, consumer). The returned handle is
// the only way to close it; a second Subscribe for an active pair fails with
// ErrAlreadySubscribed.
func (m *Manager) Subscribe(ctx context.Context, topic changefeed.Topic, consumer string, obs Observer) (*Handle, error) {
	k := key{topic: topic.String(), consumer: consumer}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := m.active[k]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (%s)", ErrAlreadySubscribed, k.topic, consumer)
	}
	h := &Handle{m: m, key: k, topic: topic, obs: obs, done: make(chan struct{})}
	// reserve the slot while the source is opening
	m.active[k] = h
	m.mu.Unlock()

	stream, err := m.src.Open(ctx, topic)
	if err != nil {
		m.release(h)
		return nil, fmt.Errorf("open %s: %w", k.topic, err)
	}

	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		_ = stream.Close()
		m.release(h)
		return nil, ErrClosed
	}
	h.stream = stream
	h.cancel = cancel
	m.mu.Unlock()
	mActive.Inc()
	m.log.Debug("subscribed", zap.String("topic", k.topic), zap.String("consumer", consumer))

	go h.pump(pumpCtx)
	return h, nil
}

// Active is the number of open channels.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close unsubscribes every handle and rejects new subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	handles := make([]*Handle, 0, len(m.active))
	for _, h := range m.active {
		// handles still opening see closed and back out themselves
		if h.stream != nil {
			handles = append(handles, h)
		}
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.Unsubscribe()
	}
}

func (m *Manager) release(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.active[h.key]; ok && cur == h {
		delete(m.active, h.key)
	}
}

// Handle owns one channel.
type Handle struct {
	m     *Manager
	key   key
	topic changefeed.Topic
	obs   Observer

	stream changefeed.Stream
	cancel context.CancelFunc

	once       sync.Once
	closed     atomic.Bool
	inCallback atomic.Bool
	done       chan struct{}

	errMu sync.Mutex
	err   error
}

func (h *Handle) Topic() changefeed.Topic { return h.topic }

// Done is closed once the channel has stopped delivering.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err reports why the channel stopped on its own; nil while it runs and
// after Unsubscribe.
func (h *Handle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

// Unsubscribe closes the channel and frees its (topic, consumer) slot. It
// is idempotent, and it may be called from inside the observer. No callback
// starts after it returns.
func (h *Handle) Unsubscribe() {
	h.once.Do(func() {
		h.closed.Store(true)
		h.cancel()
		if err := h.stream.Close(); err != nil {
			h.m.log.Warn("close stream", zap.String("topic", h.key.topic), zap.Error(err))
		}
		h.m.release(h)
		if !h.inCallback.Load() {
			<-h.done
		}
	})
}

func (h *Handle) pump(ctx context.Context) {
	defer close(h.done)
	defer mActive.Dec()
	defer h.m.release(h)

	records := h.stream.Records()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-records:
			if !ok {
				if h.closed.Load() {
					return
				}
				err := h.stream.Err()
				if err == nil {
					err = ErrStreamEnded
				}
				h.errMu.Lock()
				h.err = err
				h.errMu.Unlock()
				h.m.log.Warn("stream ended", zap.String("topic", h.key.topic), zap.Error(err))
				return
			}
			h.deliver(ctx, rec)
		}
	}
}

func (h *Handle) deliver(ctx context.Context, rec changefeed.Record) {
	h.inCallback.Store(true)
	defer h.inCallback.Store(false)
	if h.closed.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			mObserverPanics.Inc()
			h.m.log.Error("observer panic", zap.String("topic", h.key.topic), zap.Any("panic", r))
		}
	}()
	h.obs.OnChange(ctx, rec)
	mDelivered.WithLabelValues(rec.Table).Inc()
}
