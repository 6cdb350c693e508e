package dispatcher

import (
	"context"
	"sync"

	"github.com/NordCoder/Campusbell/internal/domain/notification"
	"github.com/NordCoder/Campusbell/internal/domain/push"
)

type memPrefs struct {
	byUser map[string]*notification.Preferences
}

func (m *memPrefs) Get(_ context.Context, userID string) (*notification.Preferences, error) {
	p, ok := m.byUser[userID]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return p, nil
}

func (m *memPrefs) Upsert(_ context.Context, p *notification.Preferences) error {
	m.byUser[p.UserID] = p
	return nil
}

type memSubs struct {
	mu     sync.Mutex
	byUser map[string]*push.Subscription
}

func (m *memSubs) Upsert(_ context.Context, s *push.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byUser[s.UserID] = s
	return nil
}

func (m *memSubs) GetByUser(_ context.Context, userID string) (*push.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byUser[userID]
	if !ok {
		return nil, push.ErrNotFound
	}
	return s, nil
}

func (m *memSubs) DeleteByUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byUser, userID)
	return nil
}

func (m *memSubs) DeleteByEndpoint(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for u, s := range m.byUser {
		if s.Endpoint == endpoint {
			delete(m.byUser, u)
		}
	}
	return nil
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []push.Message
	err   error
	calls int
}

func (f *fakeSender) Send(_ context.Context, _ *push.Subscription, m push.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

type memDedup struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func (d *memDedup) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claimed[key] {
		return false, nil
	}
	d.claimed[key] = true
	return true, nil
}

func (d *memDedup) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claimed, key)
	return nil
}

type mail struct{ to, subject, body string }

type fakeMail struct {
	sent []mail
	err  error
}

func (f *fakeMail) Send(_ context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, mail{to, subject, body})
	return nil
}

type staticDirectory map[string]string

func (d staticDirectory) EmailOf(_ context.Context, userID string) (string, error) {
	e, ok := d[userID]
	if !ok {
		return "", notification.ErrNotFound
	}
	return e, nil
}
