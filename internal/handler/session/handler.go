package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-relay/backend/internal/auth"
	"github.com/zhouzirui/chat-relay/backend/internal/bus"
	model "github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	sessionService "github.com/zhouzirui/chat-relay/backend/internal/service/session"
	"github.com/zhouzirui/chat-relay/backend/pkg/utils"
)

const (
	// subscriberBuffer 每个订阅者的事件缓冲
	subscriberBuffer = 32
	eventSnapshot    = "snapshot"
)

// Handler 会话侧边栏的HTTP处理器，包含 REST 接口与实时推送。
type Handler struct {
	sessions  *sessionService.Service
	events    *bus.EventBus
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	heartbeat time.Duration
}

// New 创建会话处理器
func New(sessions *sessionService.Service, events *bus.EventBus, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions:  sessions,
		events:    events,
		logger:    logger.Named("sessions"),
		heartbeat: 15 * time.Second,
		upgrader: websocket.Upgrader{
			// 跨域由 CORS 中间件与会话令牌共同约束
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册会话相关的路由，调用方需保证已挂载 auth.RequireUser。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleList)
	r.Post("/sessions", h.handleCreate)
	r.Get("/sessions/events", h.handleEvents)
	r.Get("/sessions/ws", h.handleWebSocket)
	r.Delete("/sessions/{sessionID}", h.handleDelete)
}

// snapshot 推送给新连接的完整会话列表
type snapshot struct {
	Type     string                 `json:"type"`
	Sessions []model.SessionSummary `json:"sessions"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
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

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sessions": sessions,
	})
}

// handleCreate 新建临时会话
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	user := auth.FromContext(r.Context())
	if user == nil {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	summary, err := h.sessions.NewChat(r.Context(), user.Email)
	if err != nil {
		utils.RespondAppError(w, err, "Failed to create session")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, summary)
}

// handleDelete 删除临时会话，今日会话不可删除
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	user := auth.FromContext(r.Context())
	if user == nil {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	err := h.sessions.Delete(r.Context(), user.Email, sessionID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, sessionService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "Session not found", sessionID)
	default:
		utils.RespondAppError(w, err, "Failed to delete session")
	}
}

// handleEvents 通过 SSE 推送会话变更。可选 since 参数（RFC3339）补发错过的事件。
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	user := auth.FromContext(r.Context())
	if user == nil {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid since parameter", err.Error())
			return
		}
		since = parsed
	}

	ctx := r.Context()
	sessions, err := h.sessions.List(ctx, user.Email)
	if err != nil {
		utils.RespondAppError(w, err, "Failed to fetch user sessions")
		return
	}

	events, cancel := h.events.Subscribe(user.Email, subscriberBuffer)
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := utils.SendSSEEvent(w, flusher, eventSnapshot, snapshot{Type: eventSnapshot, Sessions: sessions}); err != nil {
		return
	}
	if !since.IsZero() {
		for _, e := range h.events.Replay("*", since) {
			if e.UserEmail != user.Email {
				continue
			}
			if err := utils.SendSSEEvent(w, flusher, e.Type, e); err != nil {
				return
			}
		}
	}

	h.logger.Debug("sse feed opened", zap.String("user", user.Email))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("sse feed closed", zap.String("user", user.Email))
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, e.Type, e); err != nil {
				h.logger.Debug("sse write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
