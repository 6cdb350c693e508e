package pushagent

import (
	"context"
	"errors"

	"github.com/NordCoder/Campusbell/internal/domain/push"
	"github.com/NordCoder/Campusbell/internal/obs"
	"go.uber.org/zap"
)

type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// WorkerScript is the background worker registered by the bridge.
const WorkerScript = "/sw.js"

var ErrUnsupported = errors.New("pushagent: push not supported")

type PermissionRequester interface {
	RequestPermission(ctx context.Context) (Permission, error)
}

// Registration is an installed background worker able to subscribe to the
// push service.
type Registration interface {
	Subscribe(ctx context.Context, applicationServerKey string) (push.Subscription, error)
}

type WorkerRegistrar interface {
	Register(ctx context.Context, script string) (Registration, error)
}

type SubscriptionStore interface {
	Save(ctx context.Context, sub push.Subscription) error
}

type KeySource interface {
	VAPIDPublicKey(ctx context.Context) (string, error)
}

// Bridge enables push delivery for one signed-in user. A nil Permissions
// means the host has no notification support.
type Bridge struct {
	Permissions PermissionRequester
	Registrar   WorkerRegistrar
	Store       SubscriptionStore
	// VAPIDKey is used as is; Keys is asked when it is empty.
	VAPIDKey string
	Keys     KeySource

	log *zap.Logger
}

func NewBridge(perms PermissionRequester, reg WorkerRegistrar, store SubscriptionStore, keys KeySource) *Bridge {
	return &Bridge{
		Permissions: perms,
		Registrar:   reg,
		Store:       store,
		Keys:        keys,
		log:         obs.Component(nil, "pushagent.bridge"),
	}
}

func (b *Bridge) WithLogger(l *zap.Logger) *Bridge {
	if l == nil {
		return b
	}
	cp := *b
	cp.log = obs.Component(l, "pushagent.bridge")
	return &cp
}

// Initialize reports whether push delivery is active. Every failure leaves
// push disabled and is only logged; in-app delivery does not depend on it.
func (b *Bridge) Initialize(ctx context.Context) bool {
	log := b.logger()
	if err := b.initialize(ctx); err != nil {
		log.Info("push disabled", zap.Error(err))
		return false
	}
	log.Info("push enabled")
	return true
}

func (b *Bridge) initialize(ctx context.Context) error {
	if b.Permissions == nil || b.Registrar == nil || b.Store == nil {
		return ErrUnsupported
	}
	perm, err := b.Permissions.RequestPermission(ctx)
	if err != nil {
		return err
	}
	if perm != PermissionGranted {
		return errors.New("notification permission " + string(perm))
	}

	key := b.VAPIDKey
	if key == "" {
		if b.Keys == nil {
			return errors.New("no vapid public key")
		}
		if key, err = b.Keys.VAPIDPublicKey(ctx); err != nil {
			return err
		}
	}

	reg, err := b.Registrar.Register(ctx, WorkerScript)
	if err != nil {
		return err
	}
	sub, err := reg.Subscribe(ctx, key)
	if err != nil {
		return err
	}
	return b.Store.Save(ctx, sub)
}

func (b *Bridge) logger() *zap.Logger {
	if b.log == nil {
		return zap.NewNop()
	}
	return b.log
}
