package inbox

import (
	"context"
	"sync"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/NordCoder/Campusbell/internal/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const consumerName = "inbox"

var mLiveStores = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "inbox_live_stores",
	Help: "Stores held by at least one session.",
})

type Subscriber interface {
	Subscribe(ctx context.Context, topic changefeed.Topic, consumer string, obs realtime.Observer) (*realtime.Handle, error)
}

// Registry owns the live stores, one per user with an open session. The
// first Acquire creates, subscribes and loads the store; the last release
// unsubscribes and disposes it.
type Registry struct {
	backend Backend
	subs    Subscriber
	opts    Options
	log     *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	store  *Store
	handle *realtime.Handle
	refs   int
	ready  chan struct{}
}

func NewRegistry(backend Backend, subs Subscriber, opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		backend: backend,
		subs:    subs,
		opts:    opts,
		log:     opts.Logger.With(zap.String("component", "inbox.registry")),
		entries: make(map[string]*entry),
	}
}

// Acquire returns the live store of userID. The release func must be
// called exactly once; extra calls are ignored.
func (r *Registry) Acquire(ctx context.Context, userID string) (*Store, func()) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if ok {
		e.refs++
		r.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
		}
		return e.store, r.releaser(userID, e)
	}
	e = &entry{store: NewStore(userID, r.backend, r.opts), refs: 1, ready: make(chan struct{})}
	r.entries[userID] = e
	r.mu.Unlock()
	mLiveStores.Inc()

	// subscribe before loading so inserts racing the load are merged
	if r.subs != nil {
		h, err := r.subs.Subscribe(ctx, changefeed.NotificationsFor(userID), consumerName, e.store)
		if err != nil {
			r.log.Warn("realtime unavailable, serving without live updates",
				zap.String("user_id", userID), zap.Error(err))
		}
		r.mu.Lock()
		cur, ok := r.entries[userID]
		live := ok && cur == e
		e.handle = h
		r.mu.Unlock()
		if !live && h != nil {
			// torn down while subscribing
			h.Unsubscribe()
		}
	}
	e.store.Load(ctx)
	close(e.ready)
	return e.store, r.releaser(userID, e)
}

// Lookup returns the live store without taking a reference.
func (r *Registry) Lookup(userID string) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		return nil, false
	}
	return e.store, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close disposes every live store.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()
	for _, e := range entries {
		r.teardown(e)
	}
}

func (r *Registry) releaser(userID string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			e.refs--
			last := e.refs == 0
			if last {
				if cur, ok := r.entries[userID]; ok && cur == e {
					delete(r.entries, userID)
				} else {
					// already torn down by Close
					last = false
				}
			}
			r.mu.Unlock()
			if last {
				r.teardown(e)
			}
		})
	}
}

func (r *Registry) teardown(e *entry) {
	r.mu.Lock()
	h := e.handle
	r.mu.Unlock()
	if h != nil {
		h.Unsubscribe()
	}
	e.store.Dispose()
	mLiveStores.Dec()
}
