package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/NordCoder/Campusbell/internal/auth"
	"github.com/NordCoder/Campusbell/internal/domain/notification"
	"github.com/NordCoder/Campusbell/internal/domain/push"
	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/NordCoder/Campusbell/internal/realtime"
	"github.com/NordCoder/Campusbell/internal/services/notify-api/inbox"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Opts struct {
	Secret         []byte
	VAPIDPublicKey string
	AllowOrigins   []string
	// Ping is the keep-alive interval of stream sessions.
	Ping   time.Duration
	Health obs.HealthFunc
	Logger *zap.Logger
}

type Server struct {
	inbox    *inbox.Usecase
	registry *inbox.Registry
	rt       *realtime.Manager
	subs     push.SubscriptionRepo
	clock    notification.Clock

	opts Opts
	log  *zap.Logger
}

func NewServer(
	uc *inbox.Usecase,
	registry *inbox.Registry,
	rt *realtime.Manager,
	subs push.SubscriptionRepo,
	clock notification.Clock,
	opts Opts,
) *Server {
	if opts.Ping <= 0 {
		opts.Ping = 25 * time.Second
	}
	if clock == nil {
		clock = notification.SystemClock{}
	}
	return &Server{
		inbox: uc, registry: registry, rt: rt, subs: subs, clock: clock,
		opts: opts,
		log:  obs.Component(opts.Logger, "notify-api.http"),
	}
}

// Router builds the gin engine with every route of the service.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(s.log), requestMetrics(), cors(s.opts.AllowOrigins))

	r.GET("/healthz", gin.WrapH(obs.HealthHandler(s.opts.Health)))
	r.GET("/metrics", gin.WrapH(obs.MetricsHandler()))

	v1 := r.Group("/v1")
	v1.GET("/push/vapid-public-key", s.vapidPublicKey)

	authed := v1.Group("", auth.Middleware(s.opts.Secret), scopeLog())
	{
		n := authed.Group("/notifications")
		n.GET("", s.list)
		n.GET("/unread-count", s.unreadCount)
		n.POST("/:id/read", s.markRead)
		n.POST("/read-all", s.markAllRead)
		n.GET("/preferences", s.preferences)
		n.PUT("/preferences", s.updatePreferences)
		n.GET("/stream", s.notificationStream)
		n.GET("/ws", s.notificationSocket)

		authed.GET("/events/stream", s.eventStream)

		authed.PUT("/push/subscription", s.putSubscription)
		authed.DELETE("/push/subscription", s.deleteSubscription)

		authed.POST("/internal/notifications", auth.RequireRole(auth.RoleService), s.create)
	}
	return r
}

// writeError maps domain errors to statuses in one place.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, notification.ErrNotFound), errors.Is(err, push.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, inbox.ErrEmptyTitle),
		errors.Is(err, notification.ErrInvalidType),
		errors.Is(err, notification.ErrInvalidPayload),
		errors.Is(err, notification.ErrInvalidStatus),
		errors.Is(err, push.ErrInvalidSubscription):
		status = http.StatusBadRequest
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
