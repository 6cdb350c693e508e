package pushagent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/NordCoder/Campusbell/internal/domain/push"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPermission struct {
	perm  Permission
	asked int
}

func (p *staticPermission) RequestPermission(context.Context) (Permission, error) {
	p.asked++
	return p.perm, nil
}

type fakeRegistration struct {
	key string
	err error
}

func (r *fakeRegistration) Subscribe(_ context.Context, key string) (push.Subscription, error) {
	r.key = key
	if r.err != nil {
		return push.Subscription{}, r.err
	}
	return push.Subscription{Endpoint: "https://push.example/abc", Keys: push.Keys{P256dh: "p", Auth: "a"}}, nil
}

type fakeRegistrar struct {
	reg     *fakeRegistration
	scripts []string
}

func (r *fakeRegistrar) Register(_ context.Context, script string) (Registration, error) {
	r.scripts = append(r.scripts, script)
	return r.reg, nil
}

type memStore struct {
	saved []push.Subscription
	err   error
}

func (s *memStore) Save(_ context.Context, sub push.Subscription) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, sub)
	return nil
}

func TestInitializeSubscribesAndPersists(t *testing.T) {
	reg := &fakeRegistrar{reg: &fakeRegistration{}}
	store := &memStore{}
	b := NewBridge(&staticPermission{perm: PermissionGranted}, reg, store, nil)
	b.VAPIDKey = "BPublicKey"

	require.True(t, b.Initialize(context.Background()))
	assert.Equal(t, []string{WorkerScript}, reg.scripts)
	assert.Equal(t, "BPublicKey", reg.reg.key)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "https://push.example/abc", store.saved[0].Endpoint)
}

func TestInitializeDeniedDoesNothingElse(t *testing.T) {
	reg := &fakeRegistrar{reg: &fakeRegistration{}}
	store := &memStore{}
	b := NewBridge(&staticPermission{perm: PermissionDenied}, reg, store, nil)
	b.VAPIDKey = "k"

	assert.False(t, b.Initialize(context.Background()))
	assert.Empty(t, reg.scripts)
	assert.Empty(t, store.saved)
}

func TestInitializeFailuresDisablePush(t *testing.T) {
	assert.False(t, NewBridge(nil, nil, nil, nil).Initialize(context.Background()))

	b := NewBridge(&staticPermission{perm: PermissionGranted},
		&fakeRegistrar{reg: &fakeRegistration{err: errors.New("push service down")}}, &memStore{}, nil)
	b.VAPIDKey = "k"
	assert.False(t, b.Initialize(context.Background()))

	b = NewBridge(&staticPermission{perm: PermissionGranted},
		&fakeRegistrar{reg: &fakeRegistration{}}, &memStore{err: errors.New("status 500")}, nil)
	b.VAPIDKey = "k"
	assert.False(t, b.Initialize(context.Background()))
}

func TestInitializeWithHTTPStore(t *testing.T) {
	var put struct {
		auth string
		body subscriptionBody
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/push/vapid-public-key":
			_ = json.NewEncoder(w).Encode(map[string]string{"public_key": "BServerKey"})
		case r.Method == http.MethodPut && r.URL.Path == "/v1/push/subscription":
			put.auth = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&put.body)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := NewHTTPSubscriptionStore(srv.URL+"/", "tok", srv.Client())
	reg := &fakeRegistrar{reg: &fakeRegistration{}}
	b := NewBridge(&staticPermission{perm: PermissionGranted}, reg, store, store)

	require.True(t, b.Initialize(context.Background()))
	assert.Equal(t, "BServerKey", reg.reg.key)
	assert.Equal(t, "Bearer tok", put.auth)
	assert.Equal(t, "https://push.example/abc", put.body.Subscription.Endpoint)
	assert.Equal(t, "p", put.body.Subscription.Keys.P256dh)
}

func TestHTTPStoreReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := NewHTTPSubscriptionStore(srv.URL, "", nil)
	_, err := store.VAPIDPublicKey(context.Background())
	require.Error(t, err)
	require.Error(t, store.Save(context.Background(), push.Subscription{Endpoint: "https://x"}))
}
