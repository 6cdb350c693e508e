package changefeed

import (
	"context"
	"errors"
	"sync"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var ErrBrokerClosed = errors.New("changefeed: broker closed")

const DefaultBuffer = 256

var (
	mPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "changefeed_records_published_total",
		Help: "Records received from the change source.",
	}, []string{"table"})
	mDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "changefeed_records_dropped_total",
		Help: "Records dropped because a stream buffer was full.",
	}, []string{"table"})
	mResyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "changefeed_resyncs_queued_total",
		Help: "Resync markers queued after lost records.",
	})
	mStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "changefeed_open_streams",
		Help: "Currently open topic streams.",
	})
)

var (
	_ changefeed.Source    = (*Broker)(nil)
	_ changefeed.Publisher = (*Broker)(nil)
)

// Broker fans records out to topic streams. Transports (LISTEN/NOTIFY,
// Kafka, in-process repositories) publish into it; subscribers open streams.
// A stream whose buffer is full loses the record rather than stalling the
// transport; it then receives a resync record so its subscriber reloads.
type Broker struct {
	log    *zap.Logger
	buffer int

	mu      sync.RWMutex
	streams map[*stream]struct{}
	closed  error
}

func NewBroker(buffer int, log *zap.Logger) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{
		log:     log.With(zap.String("component", "changefeed")),
		buffer:  buffer,
		streams: make(map[*stream]struct{}),
	}
}

func (b *Broker) WithLogger(l *zap.Logger) *Broker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = l.With(zap.String("component", "changefeed"))
	return b
}

func (b *Broker) Open(ctx context.Context, topic changefeed.Topic) (changefeed.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed != nil {
		return nil, b.closed
	}
	// one slot beyond buffer is kept for the resync marker
	s := &stream{broker: b, topic: topic, ch: make(chan changefeed.Record, b.buffer+1)}
	b.streams[s] = struct{}{}
	mStreams.Inc()
	return s, nil
}

// Publish hands rec to every matching stream without blocking. Publishing
// a resync record asks the matching subscribers to reload.
func (b *Broker) Publish(_ context.Context, rec changefeed.Record) {
	if !rec.IsResync() {
		mPublished.WithLabelValues(rec.Table).Inc()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.streams {
		if !s.topic.Match(rec) {
			continue
		}
		if rec.IsResync() {
			s.queueResync()
			continue
		}
		if !s.offer(rec, b.buffer) {
			mDropped.WithLabelValues(rec.Table).Inc()
			b.log.Warn("stream buffer full, record dropped",
				zap.String("topic", s.topic.String()),
				zap.String("kind", string(rec.Kind)))
			s.queueResync()
		}
	}
}

// Close ends every open stream with err (ErrBrokerClosed when nil) and
// rejects new ones.
func (b *Broker) Close(err error) {
	if err == nil {
		err = ErrBrokerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed != nil {
		return
	}
	b.closed = err
	for s := range b.streams {
		s.err = err
		close(s.ch)
		delete(b.streams, s)
		mStreams.Dec()
	}
}

// Len is the number of open streams.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.streams)
}

type stream struct {
	broker *Broker
	topic  changefeed.Topic
	ch     chan changefeed.Record
	// err is written under broker.mu before ch is closed.
	err error

	// sendMu makes the length check and the send one step, so rows never
	// take the reserved slot.
	sendMu sync.Mutex
}

// offer must be called with broker.mu read-locked.
func (s *stream) offer(rec changefeed.Record, limit int) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if len(s.ch) >= limit {
		return false
	}
	s.ch <- rec
	return true
}

// queueResync must be called with broker.mu read-locked. When the channel
// is already at capacity the last slot holds a resync marker that has not
// been read yet, which covers this loss too.
func (s *stream) queueResync() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	select {
	case s.ch <- changefeed.ResyncFor(s.topic.Table):
		mResyncs.Inc()
	default:
	}
}

func (s *stream) Records() <-chan changefeed.Record { return s.ch }

func (s *stream) Err() error {
	s.broker.mu.RLock()
	defer s.broker.mu.RUnlock()
	return s.err
}

func (s *stream) Close() error {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[s]; !ok {
		return nil
	}
	delete(b.streams, s)
	close(s.ch)
	mStreams.Dec()
	return nil
}
