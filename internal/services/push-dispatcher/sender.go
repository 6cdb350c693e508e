package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/NordCoder/Campusbell/internal/domain/push"
	"github.com/NordCoder/Campusbell/internal/obs"
	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
)

type WebPushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact URI put in the VAPID token.
	Subscriber string
	TTL        int
	Urgency    string
}

// WebPushSender delivers messages through the subscriber's push service
// with VAPID authentication.
type WebPushSender struct {
	cfg    WebPushConfig
	client webpush.HTTPClient
	log    *zap.Logger
}

var _ push.Sender = (*WebPushSender)(nil)

func NewWebPushSender(cfg WebPushConfig, client webpush.HTTPClient) *WebPushSender {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 86400
	}
	return &WebPushSender{cfg: cfg, client: client, log: obs.Component(nil, "push-dispatcher.webpush")}
}

func (s *WebPushSender) WithLogger(l *zap.Logger) *WebPushSender {
	if l == nil {
		return s
	}
	cp := *s
	cp.log = obs.Component(l, "push-dispatcher.webpush")
	return &cp
}

// Send returns push.ErrSubscriptionGone when the push service answers 404
// or 410.
func (s *WebPushSender) Send(ctx context.Context, sub *push.Subscription, m push.Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode push message: %w", err)
	}
	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTL,
		Urgency:         webpush.Urgency(s.cfg.Urgency),
		Topic:           topicOf(m.Tag),
	})
	if err != nil {
		return fmt.Errorf("webpush send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: status %d", push.ErrSubscriptionGone, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("webpush send: unexpected status %d", resp.StatusCode)
	}
	s.log.Debug("push delivered", zap.String("id", m.ID), zap.Int("status", resp.StatusCode))
	return nil
}

// topicOf derives the Topic header that collapses pending duplicates. Push
// services accept at most 32 url-safe characters.
func topicOf(tag string) string {
	t := strings.ReplaceAll(tag, "-", "")
	if len(t) > 32 {
		t = t[:32]
	}
	for _, r := range t {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return ""
		}
	}
	return t
}

// GenerateVAPIDKeys returns a new key pair encoded the way browsers expect.
func GenerateVAPIDKeys() (privateKey, publicKey string, err error) {
	return webpush.GenerateVAPIDKeys()
}
