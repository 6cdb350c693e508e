package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/NordCoder/Campusbell/internal/domain/notification"
	"github.com/NordCoder/Campusbell/internal/domain/push"
	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/NordCoder/Campusbell/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "push_dispatcher_deliveries_total",
	Help: "Delivery attempts by channel and result.",
}, []string{"channel", "result"})

// Handler fans one created notification out to the user's push
// subscription and, when enabled, e-mail.
type Handler struct {
	Prefs  notification.PreferencesRepo
	Subs   push.SubscriptionRepo
	Sender push.Sender
	Dedup  push.Deduper
	// Mail and Directory are optional; e-mail is skipped without them.
	Mail      notification.EmailSender
	Directory notification.Directory
	BaseURL   string
	Retry     retry.Policy
	Log       *zap.Logger
}

// HandleRecord accepts notification inserts and ignores every other change.
// Malformed rows are dropped.
func (h *Handler) HandleRecord(ctx context.Context, rec changefeed.Record) error {
	if rec.Table != changefeed.TableNotifications || rec.Kind != changefeed.KindInsert {
		return nil
	}
	var n notification.Notification
	if err := json.Unmarshal(rec.After, &n); err != nil {
		h.log().Warn("drop malformed notification row", zap.Error(err))
		deliveries.WithLabelValues("any", "malformed").Inc()
		return nil
	}
	if !n.IsUnread() {
		return nil
	}
	return h.Handle(ctx, &n)
}

func (h *Handler) Handle(ctx context.Context, n *notification.Notification) error {
	log := obs.WithTrace(ctx, h.log()).With(zap.String("id", n.ID), zap.String("user_id", n.UserID))

	prefs, err := h.preferences(ctx, n.UserID)
	if err != nil {
		return err
	}
	if !prefs.Allows(n.Type) {
		deliveries.WithLabelValues("any", "muted").Inc()
		log.Debug("muted by preferences", zap.String("type", string(n.Type)))
		return nil
	}

	key := n.UserID + ":" + n.ID
	if h.Dedup != nil {
		claimed, err := h.Dedup.Claim(ctx, key)
		switch {
		case err != nil:
			log.Warn("dedup unavailable, delivering anyway", zap.Error(err))
		case !claimed:
			deliveries.WithLabelValues("any", "duplicate").Inc()
			return nil
		}
	}

	if prefs.PushEnabled {
		if err := h.push(ctx, n, log); err != nil {
			if h.Dedup != nil {
				if rerr := h.Dedup.Release(ctx, key); rerr != nil {
					log.Warn("dedup release failed", zap.Error(rerr))
				}
			}
			return err
		}
	}
	if prefs.EmailEnabled {
		h.email(ctx, n, log)
	}
	return nil
}

func (h *Handler) preferences(ctx context.Context, userID string) (notification.Preferences, error) {
	p, err := h.Prefs.Get(ctx, userID)
	switch {
	case errors.Is(err, notification.ErrNotFound) || (err == nil && p == nil):
		return notification.DefaultPreferences(userID), nil
	case err != nil:
		return notification.Preferences{}, fmt.Errorf("get preferences: %w", err)
	}
	return *p, nil
}

func (h *Handler) push(ctx context.Context, n *notification.Notification, log *zap.Logger) error {
	sub, err := h.Subs.GetByUser(ctx, n.UserID)
	if errors.Is(err, push.ErrNotFound) {
		deliveries.WithLabelValues("push", "no_subscription").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("get push subscription: %w", err)
	}
	msg, err := push.MessageFrom(n)
	if err != nil {
		deliveries.WithLabelValues("push", "malformed").Inc()
		log.Warn("build push message", zap.Error(err))
		return nil
	}

	pol := h.Retry
	if pol.Attempts == 0 {
		pol = retry.PushPolicy(log, PermanentSendError)
	}
	err = retry.Do(ctx, func() error { return h.Sender.Send(ctx, sub, msg) }, pol)
	switch {
	case errors.Is(err, push.ErrSubscriptionGone):
		deliveries.WithLabelValues("push", "gone").Inc()
		log.Info("push subscription expired, removing", zap.String("endpoint", sub.Endpoint))
		if derr := h.Subs.DeleteByEndpoint(ctx, sub.Endpoint); derr != nil {
			log.Warn("delete expired subscription", zap.Error(derr))
		}
		return nil
	case err != nil:
		deliveries.WithLabelValues("push", "error").Inc()
		return fmt.Errorf("send push: %w", err)
	}
	deliveries.WithLabelValues("push", "sent").Inc()
	return nil
}

// PermanentSendError reports send failures that retrying cannot fix.
func PermanentSendError(err error) bool {
	return errors.Is(err, push.ErrSubscriptionGone)
}

// email failures are logged; they never fail the delivery.
func (h *Handler) email(ctx context.Context, n *notification.Notification, log *zap.Logger) {
	if h.Mail == nil || h.Directory == nil {
		return
	}
	to, err := h.Directory.EmailOf(ctx, n.UserID)
	if err != nil {
		deliveries.WithLabelValues("email", "no_address").Inc()
		log.Debug("no e-mail address", zap.Error(err))
		return
	}
	body := n.Message + "\n\n" + strings.TrimRight(h.BaseURL, "/") + n.TargetURL() + "\n"
	if err := h.Mail.Send(ctx, to, n.Title, body); err != nil {
		deliveries.WithLabelValues("email", "error").Inc()
		log.Warn("send email", zap.Error(err))
		return
	}
	deliveries.WithLabelValues("email", "sent").Inc()
}

func (h *Handler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}
