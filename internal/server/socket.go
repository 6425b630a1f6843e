package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/atelierhq/atelier/backend/internal/collab"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleCollabSocket authenticates the caller, upgrades the connection, and
// hands the session to the hub. Identity resolution happens exactly once, here;
// a failed credential refuses the connection before any session exists.
func (h *httpHandler) handleCollabSocket(c *gin.Context) {
	projectID := strings.TrimSpace(c.Query("project"))
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_required"})
		return
	}

	claims, err := h.tokens.Validate(c.Query("token"))
	if err != nil {
		h.logger.Warn("collab token validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := h.hub.Connect(claims.UserID, claims.DisplayName, projectID)
	go h.writePump(conn, session)
	h.readPump(c, conn, session)
}

// readPump owns inbound traffic for one connection. Any read error, including
// a clean close, tears the session down through the hub so other sessions
// observe the departure promptly.
func (h *httpHandler) readPump(c *gin.Context, conn *websocket.Conn, session *collab.Session) {
	defer func() {
		h.hub.Disconnect(session)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed",
					zap.String("session_id", session.ID), zap.Error(err))
			}
			return
		}
		h.hub.Handle(c.Request.Context(), session, payload)
	}
}

// writePump drains the session's outbound stream onto the wire and keeps the
// connection alive with pings. A write deadline miss cannot be recovered on a
// websocket, so any error ends the pump.
func (h *httpHandler) writePump(conn *websocket.Conn, session *collab.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-session.Outbound():
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
