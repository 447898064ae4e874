package session

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-relay/backend/internal/auth"
	"github.com/zhouzirui/chat-relay/backend/pkg/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// handleWebSocket 通过 WebSocket 推送会话变更。客户端无需发送消息，
// 读循环只用于感知断开。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := auth.FromContext(r.Context())
	if user == nil {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	sessions, err := h.sessions.List(r.Context(), user.Email)
	if err != nil {
		utils.RespondAppError(w, err, "Failed to fetch user sessions")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := h.events.Subscribe(user.Email, subscriberBuffer)
	defer cancel()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.readLoop(conn, stop)

	h.logger.Debug("websocket feed opened", zap.String("user", user.Email))

	if err := h.write(conn, snapshot{Type: eventSnapshot, Sessions: sessions}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("websocket feed closed", zap.String("user", user.Email))
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := h.write(conn, e); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop 丢弃客户端消息，连接断开时取消推送
func (h *Handler) readLoop(conn *websocket.Conn, stop context.CancelFunc) {
	defer stop()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		h.logger.Debug("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}
