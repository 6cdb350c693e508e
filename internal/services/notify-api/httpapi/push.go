package httpapi

import (
	"errors"
	"net/http"

	"github.com/NordCoder/Campusbell/internal/auth"
	"github.com/NordCoder/Campusbell/internal/domain/push"
	"github.com/gin-gonic/gin"
)

type subscriptionRequest struct {
	Subscription struct {
		Endpoint string    `json:"endpoint"`
		Keys     push.Keys `json:"keys"`
	} `json:"subscription"`
}

// vapidPublicKey serves the application server key browsers subscribe with.
func (s *Server) vapidPublicKey(c *gin.Context) {
	if s.opts.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": s.opts.VAPIDPublicKey})
}

// putSubscription stores the caller's push subscription, replacing any
// earlier one.
func (s *Server) putSubscription(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	now := s.clock.Now()
	sub := &push.Subscription{
		UserID:    auth.UserID(c),
		Endpoint:  req.Subscription.Endpoint,
		Keys:      req.Subscription.Keys,
		UserAgent: c.Request.UserAgent(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := sub.Validate(); err != nil {
		writeError(c, err)
		return
	}
	if err := s.subs.Upsert(c.Request.Context(), sub); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteSubscription(c *gin.Context) {
	err := s.subs.DeleteByUser(c.Request.Context(), auth.UserID(c))
	if err != nil && !errors.Is(err, push.ErrNotFound) {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
