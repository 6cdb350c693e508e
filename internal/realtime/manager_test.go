package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NordCoder/Campusbell/internal/changefeed"
	domain "github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(userID, id string) domain.Record {
	row, _ := json.Marshal(map[string]string{"id": id, "user_id": userID})
	return domain.Record{Kind: domain.KindInsert, Table: domain.TableNotifications, After: row}
}

type collector struct {
	mu  sync.Mutex
	ids []string
}

func (c *collector) OnChange(_ context.Context, rec domain.Record) {
	id, _ := rec.Field("id")
	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func TestSubscribe_DeliversInOrder(t *testing.T) {
	ctx := context.Background()
	b := changefeed.NewBroker(16, nil)
	m := NewManager(b, nil)
	defer m.Close()

	c := &collector{}
	h, err := m.Subscribe(ctx, domain.NotificationsFor("u1"), "inbox", c)
	require.NoError(t, err)
	defer h.Unsubscribe()

	for _, id := range []string{"a", "b", "c"} {
		b.Publish(ctx, record("u1", id))
	}
	b.Publish(ctx, record("u2", "x"))

	require.Eventually(t, func() bool { return len(c.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, c.snapshot())
}

func TestSubscribe_OneChannelPerTopicAndConsumer(t *testing.T) {
	ctx := context.Background()
	m := NewManager(changefeed.NewBroker(4, nil), nil)
	defer m.Close()

	topic := domain.NotificationsFor("u1")
	h, err := m.Subscribe(ctx, topic, "inbox", &collector{})
	require.NoError(t, err)

	_, err = m.Subscribe(ctx, topic, "inbox", &collector{})
	assert.ErrorIs(t, err, ErrAlreadySubscribed)

	other, err := m.Subscribe(ctx, topic, "events-stream", &collector{})
	require.NoError(t, err)
	other.Unsubscribe()

	h.Unsubscribe()
	again, err := m.Subscribe(ctx, topic, "inbox", &collector{})
	require.NoError(t, err)
	again.Unsubscribe()
	assert.Equal(t, 0, m.Active())
}

func TestUnsubscribe_TwiceNoCallbackAfter(t *testing.T) {
	ctx := context.Background()
	b := changefeed.NewBroker(16, nil)
	m := NewManager(b, nil)

	var calls atomic.Int32
	h, err := m.Subscribe(ctx, domain.NotificationsFor("u1"), "inbox", ObserverFunc(func(context.Context, domain.Record) {
		calls.Add(1)
	}))
	require.NoError(t, err)

	b.Publish(ctx, record("u1", "a"))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NotPanics(t, func() {
		h.Unsubscribe()
		h.Unsubscribe()
	})
	b.Publish(ctx, record("u1", "b"))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(1), calls.Load())
	assert.NoError(t, h.Err())
	assert.Equal(t, 0, b.Len())
	select {
	case <-h.Done():
	default:
		t.Fatal("handle not done after unsubscribe")
	}
}

func TestUnsubscribe_FromInsideCallback(t *testing.T) {
	ctx := context.Background()
	b := changefeed.NewBroker(16, nil)
	m := NewManager(b, nil)
	defer m.Close()

	var (
		h     *Handle
		calls atomic.Int32
		ready = make(chan struct{})
	)
	h, err := m.Subscribe(ctx, domain.NotificationsFor("u1"), "inbox", ObserverFunc(func(context.Context, domain.Record) {
		<-ready
		calls.Add(1)
		h.Unsubscribe()
	}))
	require.NoError(t, err)
	close(ready)

	b.Publish(ctx, record("u1", "a"))
	b.Publish(ctx, record("u1", "b"))

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("unsubscribe from callback deadlocked")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnsubscribe_FromCallbackFreesSlotAtOnce(t *testing.T) {
	ctx := context.Background()
	b := changefeed.NewBroker(16, nil)
	m := NewManager(b, nil)
	defer m.Close()

	topic := domain.NotificationsFor("u1")
	var (
		h        *Handle
		resubErr = make(chan error, 1)
		ready    = make(chan struct{})
	)
	h, err := m.Subscribe(ctx, topic, "inbox", ObserverFunc(func(context.Context, domain.Record) {
		<-ready
		h.Unsubscribe()
		again, err := m.Subscribe(ctx, topic, "inbox", &collector{})
		if err == nil {
			again.Unsubscribe()
		}
		resubErr <- err
	}))
	require.NoError(t, err)
	close(ready)

	b.Publish(ctx, record("u1", "a"))
	select {
	case err := <-resubErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
	<-h.Done()
	assert.Equal(t, 0, m.Active())
}

func TestStreamEnd_ReportsErrAndFreesSlot(t *testing.T) {
	ctx := context.Background()
	b := changefeed.NewBroker(4, nil)
	m := NewManager(b, nil)

	h, err := m.Subscribe(ctx, domain.EventsTopic(), "events", &collector{})
	require.NoError(t, err)

	b.Close(nil)
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle still running")
	}
	assert.ErrorIs(t, h.Err(), changefeed.ErrBrokerClosed)
	assert.Equal(t, 0, m.Active())
	h.Unsubscribe()
}

func TestObserverPanicDoesNotStopChannel(t *testing.T) {
	ctx := context.Background()
	b := changefeed.NewBroker(4, nil)
	m := NewManager(b, nil)
	defer m.Close()

	c := &collector{}
	_, err := m.Subscribe(ctx, domain.NotificationsFor("u1"), "inbox", ObserverFunc(func(ctx context.Context, rec domain.Record) {
		if id, _ := rec.Field("id"); id == "boom" {
			panic("boom")
		}
		c.OnChange(ctx, rec)
	}))
	require.NoError(t, err)

	b.Publish(ctx, record("u1", "boom"))
	b.Publish(ctx, record("u1", "ok"))
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestClose_RejectsNewSubscriptions(t *testing.T) {
	m := NewManager(changefeed.NewBroker(4, nil), nil)
	h, err := m.Subscribe(context.Background(), domain.EventsTopic(), "a", &collector{})
	require.NoError(t, err)

	m.Close()
	<-h.Done()
	_, err = m.Subscribe(context.Background(), domain.EventsTopic(), "b", &collector{})
	assert.ErrorIs(t, err, ErrClosed)
}
