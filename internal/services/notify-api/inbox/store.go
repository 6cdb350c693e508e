package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/NordCoder/Campusbell/internal/domain/notification"
	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/NordCoder/Campusbell/internal/realtime"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	DefaultTimeout  = 3 * time.Second
)

// Backend is the part of the notification repository the store needs.
type Backend interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*notification.Notification, error)
	GetByID(ctx context.Context, id string) (*notification.Notification, error)
	MarkRead(ctx context.Context, userID string, ids []string, at time.Time) ([]notification.Receipt, error)
}

type Options struct {
	PageSize int
	Timeout  time.Duration
	Clock    notification.Clock
	Logger   *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Clock == nil {
		o.Clock = notification.SystemClock{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type EventKind string

const (
	EventLoaded   EventKind = "loaded"
	EventInserted EventKind = "inserted"
	EventRead     EventKind = "read"
	EventReadAll  EventKind = "read_all"
	EventRemoved  EventKind = "removed"
)

// Event describes one change to the store, with the counter after it.
// Loaded events carry the whole list, which replaces what the watcher had.
type Event struct {
	Kind         EventKind                   `json:"kind"`
	Notification *notification.Notification  `json:"notification,omitempty"`
	IDs          []string                    `json:"ids,omitempty"`
	Items        []notification.Notification `json:"items,omitempty"`
	Unread       int                         `json:"unread"`
}

type Snapshot struct {
	Items  []notification.Notification `json:"items"`
	Unread int                         `json:"unread"`
}

var _ realtime.Observer = (*Store)(nil)

// Store is the in-memory inbox of one user: the newest notifications and
// the unread counter. All mutations are compare-and-set against the current
// state under mu; backend calls run outside the lock.
type Store struct {
	userID  string
	backend Backend
	opts    Options
	log     *zap.Logger

	mu       sync.Mutex
	items    []*notification.Notification
	index    map[string]*notification.Notification
	unread   int
	disposed bool

	// bookkeeping for loads in flight
	loading      int
	racedInserts []*notification.Notification
	racedReads   map[string]time.Time

	watchers map[chan Event]struct{}
}

func NewStore(userID string, backend Backend, opts Options) *Store {
	opts = opts.withDefaults()
	return &Store{
		userID:   userID,
		backend:  backend,
		opts:     opts,
		log:      opts.Logger.With(zap.String("component", "inbox.store"), zap.String("user_id", userID)),
		index:    make(map[string]*notification.Notification),
		watchers: make(map[chan Event]struct{}),
	}
}

func (s *Store) UserID() string { return s.userID }

// Load replaces the local list with the newest page from the backend and
// resynchronises the counter. A backend failure leaves an empty list.
// Inserts and reads observed while the request was in flight are merged
// into the result.
func (s *Store) Load(ctx context.Context) []notification.Notification {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return []notification.Notification{}
	}
	s.loading++
	if s.racedReads == nil {
		s.racedReads = make(map[string]time.Time)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	list, err := s.backend.ListByUser(ctx, s.userID, s.opts.PageSize)
	cancel()
	if err != nil {
		obs.WithTrace(ctx, s.log).Warn("load notifications failed", zap.Error(err))
		list = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading--
	if s.disposed {
		return []notification.Notification{}
	}

	items := make([]*notification.Notification, 0, len(list)+len(s.racedInserts))
	index := make(map[string]*notification.Notification, cap(items))
	for _, n := range list {
		if n == nil {
			continue
		}
		if _, dup := index[n.ID]; dup {
			continue
		}
		c := n.Clone()
		items = append(items, c)
		index[c.ID] = c
	}
	// raced inserts are newer than anything the backend returned
	for _, n := range s.racedInserts {
		if _, dup := index[n.ID]; dup {
			continue
		}
		c := n.Clone()
		items = append([]*notification.Notification{c}, items...)
		index[c.ID] = c
	}
	for id, at := range s.racedReads {
		if n, ok := index[id]; ok {
			n.MarkRead(at)
		}
	}
	if s.loading == 0 {
		s.racedInserts = nil
		s.racedReads = nil
	}

	s.items, s.index = items, index
	s.unread = s.countUnread()
	out := s.copyItems()
	s.emit(Event{Kind: EventLoaded, Items: out, Unread: s.unread})
	return s.copyItems()
}

// OnRemoteInsert prepends n. It reports false for a duplicate id or a
// disposed store.
func (s *Store) OnRemoteInsert(n *notification.Notification) bool {
	if n == nil || n.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false
	}
	if s.loading > 0 {
		s.racedInserts = append(s.racedInserts, n.Clone())
	}
	if _, dup := s.index[n.ID]; dup {
		return false
	}
	c := n.Clone()
	s.items = append([]*notification.Notification{c}, s.items...)
	s.index[c.ID] = c
	if c.IsUnread() {
		s.unread++
	}
	s.emit(Event{Kind: EventInserted, Notification: c.Clone(), Unread: s.unread})
	return true
}

// OnRemoteUpdate applies a read transition made elsewhere, for example by
// another device of the same user.
func (s *Store) OnRemoteUpdate(n *notification.Notification) bool {
	if n == nil || n.Status != notification.StatusRead {
		return false
	}
	at := s.opts.Clock.Now()
	if n.ReadAt != nil {
		at = *n.ReadAt
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false
	}
	if !s.applyRead(n.ID, at) {
		return false
	}
	s.emit(Event{Kind: EventRead, IDs: []string{n.ID}, Unread: s.unread})
	return true
}

// OnRemoteDelete drops n from the list.
func (s *Store) OnRemoteDelete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false
	}
	if _, ok := s.index[id]; !ok {
		return false
	}
	delete(s.index, id)
	for i, it := range s.items {
		if it.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	s.unread = s.countUnread()
	s.emit(Event{Kind: EventRemoved, IDs: []string{id}, Unread: s.unread})
	return true
}

// MarkRead marks one notification read once the backend confirms it.
// Unknown or already read ids return false and leave the counter alone.
func (s *Store) MarkRead(ctx context.Context, id string) bool {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return false
	}
	n, ok := s.index[id]
	if !ok || !n.IsUnread() {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	receipts, err := s.backend.MarkRead(ctx, s.userID, []string{id}, s.opts.Clock.Now())
	if err != nil {
		obs.WithTrace(ctx, s.log).Warn("mark read failed", zap.String("id", id), zap.Error(err))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false
	}
	changed := false
	for _, r := range receipts {
		if r.ID == id && s.applyRead(id, r.ReadAt) {
			changed = true
		}
	}
	if changed {
		s.emit(Event{Kind: EventRead, IDs: []string{id}, Unread: s.unread})
	}
	return changed
}

// MarkAllRead marks every unread notification of the user read. It returns
// true only when every item unread at the start is confirmed read. The
// counter is recomputed from the items whatever the outcome.
func (s *Store) MarkAllRead(ctx context.Context) bool {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return false
	}
	pending := make([]string, 0, s.unread)
	for _, n := range s.items {
		if n.IsUnread() {
			pending = append(pending, n.ID)
		}
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	now := s.opts.Clock.Now()

	receipts, err := s.backend.MarkRead(ctx, s.userID, nil, now)
	if err != nil {
		obs.WithTrace(ctx, s.log).Warn("mark all read failed", zap.Error(err))
	}
	leftover := s.applyReceipts(receipts, pending)

	// rows the bulk update did not touch were read elsewhere; fetch their
	// read_at so local state converges
	if err == nil && len(leftover) > 0 {
		var more []notification.Receipt
		more, err = s.backend.MarkRead(ctx, s.userID, leftover, now)
		if err != nil {
			obs.WithTrace(ctx, s.log).Warn("reconcile read state failed", zap.Int("ids", len(leftover)), zap.Error(err))
		}
		leftover = s.applyReceipts(more, leftover)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false
	}
	s.unread = s.countUnread()
	s.emit(Event{Kind: EventReadAll, IDs: pending, Unread: s.unread})
	return err == nil && len(leftover) == 0
}

// applyReceipts marks receipts read and returns the ids of want that are
// still unread.
func (s *Store) applyReceipts(receipts []notification.Receipt, want []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return want
	}
	for _, r := range receipts {
		s.applyRead(r.ID, r.ReadAt)
	}
	var left []string
	for _, id := range want {
		if n, ok := s.index[id]; ok && n.IsUnread() {
			left = append(left, id)
		}
	}
	return left
}

// applyRead must be called with mu held.
func (s *Store) applyRead(id string, at time.Time) bool {
	if s.loading > 0 {
		s.racedReads[id] = at
	}
	n, ok := s.index[id]
	if !ok || !n.MarkRead(at) {
		return false
	}
	if s.unread > 0 {
		s.unread--
	}
	return true
}

// OnChange feeds change-feed records for the notifications table into the
// store. Malformed rows are dropped. A resync record reloads the store, and
// a truncated insert is re-read from the backend.
func (s *Store) OnChange(ctx context.Context, rec changefeed.Record) {
	if rec.IsResync() {
		if rec.Table == "" || rec.Table == changefeed.TableNotifications {
			obs.WithTrace(ctx, s.log).Info("change feed lost records, reloading")
			s.Load(ctx)
		}
		return
	}
	if rec.Table != changefeed.TableNotifications {
		return
	}
	var n notification.Notification
	if err := json.Unmarshal(rec.Row(), &n); err != nil || n.ID == "" {
		if err == nil {
			err = errors.New("missing id")
		}
		obs.WithTrace(ctx, s.log).Warn("drop malformed notification row", zap.String("kind", string(rec.Kind)), zap.Error(err))
		return
	}
	if n.UserID != "" && n.UserID != s.userID {
		return
	}
	switch rec.Kind {
	case changefeed.KindInsert:
		if rec.Truncated {
			s.insertByID(ctx, n.ID)
			return
		}
		s.OnRemoteInsert(&n)
	case changefeed.KindUpdate:
		s.OnRemoteUpdate(&n)
	case changefeed.KindDelete:
		s.OnRemoteDelete(n.ID)
	}
}

// insertByID fetches a row whose change record was stripped. When the
// fetch fails the whole page is reloaded instead.
func (s *Store) insertByID(ctx context.Context, id string) {
	fctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	n, err := s.backend.GetByID(fctx, id)
	cancel()
	switch {
	case err != nil:
		obs.WithTrace(ctx, s.log).Warn("fetch truncated row", zap.String("id", id), zap.Error(err))
		s.Load(ctx)
	case n.UserID == s.userID:
		s.OnRemoteInsert(n)
	}
}

func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Items: s.copyItems(), Unread: s.unread}
}

// Watch streams store events. Events are dropped for a watcher that does
// not keep up; it can resync with Snapshot. The channel is closed by the
// returned cancel func or by Dispose.
func (s *Store) Watch(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.watchers[ch]; ok {
				delete(s.watchers, ch)
				close(ch)
			}
		})
	}
}

// Dispose releases the store. Later mutations are no-ops and in-flight
// loads are discarded.
func (s *Store) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	s.items, s.index = nil, map[string]*notification.Notification{}
	s.unread = 0
	s.racedInserts, s.racedReads = nil, nil
	for ch := range s.watchers {
		close(ch)
		delete(s.watchers, ch)
	}
}

func (s *Store) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *Store) countUnread() int {
	c := 0
	for _, n := range s.items {
		if n.IsUnread() {
			c++
		}
	}
	return c
}

func (s *Store) copyItems() []notification.Notification {
	out := make([]notification.Notification, len(s.items))
	for i, n := range s.items {
		out[i] = *n.Clone()
	}
	return out
}

// emit must be called with mu held.
func (s *Store) emit(ev Event) {
	for ch := range s.watchers {
		select {
		case ch <- ev:
		default:
			s.log.Debug("watcher lagging, event dropped", zap.String("kind", string(ev.Kind)))
		}
	}
}
