package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/NordCoder/Campusbell/internal/auth"
	"github.com/NordCoder/Campusbell/internal/domain/notification"
	"github.com/NordCoder/Campusbell/internal/services/notify-api/inbox"
	"github.com/gin-gonic/gin"
)

func (s *Server) list(c *gin.Context) {
	limit := inbox.DefaultPageSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, inbox.DefaultPageSize)
	}
	items := s.inbox.List(c.Request.Context(), auth.UserID(c), limit)
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

func (s *Server) unreadCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"unread": s.inbox.UnreadCount(c.Request.Context(), auth.UserID(c))})
}

// markRead answers 409 when the notification was already read.
func (s *Server) markRead(c *gin.Context) {
	ok, err := s.inbox.MarkRead(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"updated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (s *Server) markAllRead(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.UserID(c)
	ok, err := s.inbox.MarkAllRead(ctx, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": ok, "unread": s.inbox.UnreadCount(ctx, userID)})
}

func (s *Server) preferences(c *gin.Context) {
	c.JSON(http.StatusOK, s.inbox.Preferences(c.Request.Context(), auth.UserID(c)))
}

func (s *Server) updatePreferences(c *gin.Context) {
	var patch notification.PreferencesPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	p, err := s.inbox.UpdatePreferences(c.Request.Context(), auth.UserID(c), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type createRequest struct {
	UserID  string            `json:"user_id" binding:"required"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Type    notification.Type `json:"type" binding:"required"`
	Data    json.RawMessage   `json:"data"`
}

func (s *Server) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if !req.Type.Valid() {
		writeError(c, notification.ErrInvalidType)
		return
	}
	data, err := notification.DecodePayload(req.Type, req.Data)
	if err != nil {
		writeError(c, err)
		return
	}
	n, err := s.inbox.Create(c.Request.Context(), inbox.CreateCommand{
		UserID:  req.UserID,
		Title:   req.Title,
		Message: req.Message,
		Type:    req.Type,
		Data:    data,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}
