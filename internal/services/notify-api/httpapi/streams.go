package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/NordCoder/Campusbell/internal/auth"
	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/NordCoder/Campusbell/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var streamSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "notify_api_stream_sessions",
	Help: "Open stream sessions by kind.",
}, []string{"kind"})

func sseHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

// notificationStream sends a snapshot of the user's inbox followed by every
// store event. Clients resync from a new snapshot after reconnecting.
func (s *Server) notificationStream(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.UserID(c)

	store, release := s.registry.Acquire(ctx, userID)
	defer release()
	events, stop := store.Watch(32)
	defer stop()

	streamSessions.WithLabelValues("sse").Inc()
	defer streamSessions.WithLabelValues("sse").Dec()

	sseHeaders(c)
	c.SSEvent("snapshot", store.Snapshot())
	c.Writer.Flush()

	ping := time.NewTicker(s.opts.Ping)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(string(ev.Kind), ev)
		case <-ping.C:
			c.SSEvent("ping", gin.H{"unread": store.Unread()})
		}
		c.Writer.Flush()
	}
}

type eventChange struct {
	EventType  string          `json:"eventType"`
	New        json.RawMessage `json:"new"`
	Old        json.RawMessage `json:"old"`
	CommitTime time.Time       `json:"commit_time"`
}

// eventStream relays every change of the events table. Each session owns
// its own realtime channel.
func (s *Server) eventStream(c *gin.Context) {
	ctx := c.Request.Context()
	changes := make(chan changefeed.Record, 32)
	consumer := "events-stream:" + uuid.NewString()

	h, err := s.rt.Subscribe(ctx, changefeed.EventsTopic(), consumer, realtime.ObserverFunc(
		func(_ context.Context, rec changefeed.Record) {
			select {
			case changes <- rec:
			default:
				s.log.Debug("event stream lagging, change dropped", zap.String("consumer", consumer))
			}
		}))
	if err != nil {
		s.log.Warn("events subscribe failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime unavailable"})
		return
	}
	defer h.Unsubscribe()

	streamSessions.WithLabelValues("events").Inc()
	defer streamSessions.WithLabelValues("events").Dec()

	sseHeaders(c)
	c.SSEvent("ready", gin.H{"topic": h.Topic().String()})
	c.Writer.Flush()

	ping := time.NewTicker(s.opts.Ping)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.Done():
			c.SSEvent("end", gin.H{"reason": errString(h.Err())})
			c.Writer.Flush()
			return
		case rec := <-changes:
			if rec.IsResync() {
				c.SSEvent("resync", gin.H{})
				break
			}
			c.SSEvent("change", eventChange{
				EventType:  strings.ToUpper(string(rec.Kind)),
				New:        rec.After,
				Old:        rec.Before,
				CommitTime: rec.CommitTime,
			})
		case <-ping.C:
			c.SSEvent("ping", gin.H{})
		}
		c.Writer.Flush()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
