package pushagent

import (
	"context"
	"fmt"
	"net/url"

	"github.com/NordCoder/Campusbell/internal/domain/push"
	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const ActionView = "view"

const (
	defaultIcon  = "/icon-192x192.png"
	defaultBadge = "/badge-72x72.png"
)

var workerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pushagent_worker_events_total",
	Help: "Push and click events handled by the background worker.",
}, []string{"event", "result"})

// WindowClient is an open window controlled by the worker's origin.
type WindowClient interface {
	URL() string
	Focus(ctx context.Context) error
}

type Clients interface {
	MatchAll(ctx context.Context) ([]WindowClient, error)
	OpenWindow(ctx context.Context, rawURL string) error
}

// Click is a user interaction with a shown notification.
type Click struct {
	Tag    string
	Action string
	Data   map[string]any
}

// Worker handles push and notificationclick events.
type Worker struct {
	display Displayer
	clients Clients
	origin  *url.URL
	log     *zap.Logger
}

func NewWorker(origin string, display Displayer, clients Clients) (*Worker, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("pushagent: invalid origin %q", origin)
	}
	return &Worker{
		display: display,
		clients: clients,
		origin:  &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"},
		log:     obs.Component(nil, "pushagent.worker"),
	}, nil
}

func (w *Worker) WithLogger(l *zap.Logger) *Worker {
	if l == nil {
		return w
	}
	cp := *w
	cp.log = obs.Component(l, "pushagent.worker")
	return &cp
}

// OnPush shows the notification carried by body. Malformed payloads are
// dropped.
func (w *Worker) OnPush(ctx context.Context, body []byte) {
	m, err := push.DecodeMessage(body)
	if err != nil {
		workerEvents.WithLabelValues("push", "malformed").Inc()
		w.log.Warn("drop malformed push payload", zap.Error(err))
		return
	}
	n := Shown{
		Title:   m.Title,
		Body:    m.Message,
		Icon:    defaultIcon,
		Badge:   defaultBadge,
		Tag:     m.Tag,
		Data:    m.Data,
		Actions: []Action{{Action: ActionView, Title: "View"}},
		Vibrate: []int{200, 100, 200},
	}
	if err := w.display.Show(ctx, n); err != nil {
		workerEvents.WithLabelValues("push", "error").Inc()
		w.log.Error("show notification", zap.String("tag", n.Tag), zap.Error(err))
		return
	}
	workerEvents.WithLabelValues("push", "shown").Inc()
}

// OnNotificationClick closes the clicked notification. For the view action
// it focuses a window already showing the target, or opens one.
func (w *Worker) OnNotificationClick(ctx context.Context, c Click) error {
	if err := w.display.Close(ctx, c.Tag); err != nil {
		w.log.Warn("close notification", zap.String("tag", c.Tag), zap.Error(err))
	}
	if c.Action != ActionView || c.Data == nil {
		workerEvents.WithLabelValues("click", "ignored").Inc()
		return nil
	}
	raw, _ := c.Data["url"].(string)
	target, err := w.resolve(raw)
	if err != nil {
		workerEvents.WithLabelValues("click", "malformed").Inc()
		return err
	}

	windows, err := w.clients.MatchAll(ctx)
	if err != nil {
		return fmt.Errorf("match clients: %w", err)
	}
	for _, win := range windows {
		if win.URL() == target {
			workerEvents.WithLabelValues("click", "focused").Inc()
			return win.Focus(ctx)
		}
	}
	workerEvents.WithLabelValues("click", "opened").Inc()
	return w.clients.OpenWindow(ctx, target)
}

func (w *Worker) resolve(raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("pushagent: invalid url %q: %w", raw, err)
	}
	return w.origin.ResolveReference(ref).String(), nil
}
