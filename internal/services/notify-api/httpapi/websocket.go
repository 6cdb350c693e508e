package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/NordCoder/Campusbell/internal/auth"
	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsMaxMessage = 4096
)

// clientAction is a command sent by the socket client.
type clientAction struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

type actionResult struct {
	Kind    string `json:"kind"`
	Action  string `json:"action"`
	ID      string `json:"id,omitempty"`
	Updated bool   `json:"updated"`
	Error   string `json:"error,omitempty"`
}

// notificationSocket is the bidirectional variant of notificationStream:
// the server pushes store events and the client may mark notifications read.
func (s *Server) notificationSocket(c *gin.Context) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return allowedOrigin(s.opts.AllowOrigins, r)
		},
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	userID := auth.UserID(c)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	log := obs.WithTrace(ctx, s.log).With(zap.String("user_id", userID))

	store, release := s.registry.Acquire(ctx, userID)
	defer release()
	events, stop := store.Watch(32)
	defer stop()

	streamSessions.WithLabelValues("ws").Inc()
	defer streamSessions.WithLabelValues("ws").Dec()

	results := make(chan actionResult, 8)
	go s.readActions(ctx, cancel, conn, userID, results, log)

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}
	if err := write(gin.H{"kind": "snapshot", "snapshot": store.Snapshot()}); err != nil {
		return
	}

	ping := time.NewTicker(s.opts.Ping)
	defer ping.Stop()
	for {
		var err error
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			err = write(ev)
		case res := <-results:
			err = write(res)
		case <-ping.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
		}
		if err != nil {
			log.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

// readActions runs until the peer goes away, then cancels the session.
func (s *Server) readActions(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	userID string,
	results chan<- actionResult,
	log *zap.Logger,
) {
	defer cancel()
	conn.SetReadLimit(wsMaxMessage)
	deadline := 2*s.opts.Ping + wsWriteWait
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))

		var res actionResult
		var a clientAction
		if err := json.Unmarshal(raw, &a); err != nil {
			res = actionResult{Kind: "error", Error: "malformed action"}
		} else {
			res = s.runAction(ctx, userID, a)
		}

		select {
		case results <- res:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) runAction(ctx context.Context, userID string, a clientAction) actionResult {
	res := actionResult{Kind: "result", Action: a.Action, ID: a.ID}
	var err error
	switch a.Action {
	case "mark_read":
		res.Updated, err = s.inbox.MarkRead(ctx, userID, a.ID)
	case "mark_all_read":
		res.Updated, err = s.inbox.MarkAllRead(ctx, userID)
	default:
		res.Kind, res.Error = "error", "unknown action"
	}
	if err != nil {
		res.Kind, res.Error = "error", err.Error()
	}
	return res
}
