package chat

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chat-relay/backend/internal/auth"
	chatService "github.com/zhouzirui/chat-relay/backend/internal/service/chat"
	"github.com/zhouzirui/chat-relay/backend/pkg/utils"
)

// Handler 聊天代理的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleSend)
	r.Get("/chat-history", h.handleHistory)
	r.Post("/chat-history", h.handleListSessions)
}

// handleSend 转发一条消息到 webhook
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload chatService.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Message is required", "invalid request body")
		return
	}

	result, err := h.chatSvc.Send(r.Context(), auth.FromContext(r.Context()), payload)
	if err != nil {
		utils.RespondAppError(w, err, "Failed to process message")
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

// handleHistory 获取会话历史，按时间正序返回
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")

	messages, err := h.chatSvc.History(r.Context(), auth.FromContext(r.Context()), sessionID)
	if err != nil {
		utils.RespondAppError(w, err, "Failed to fetch chat history")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": sessionID,
		"messages":  messages,
	})
}

// handleListSessions 列出用户的会话
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "User ID is required", "invalid request body")
		return
	}

	// 已登录时只返回当前用户的会话，匿名请求只得到当天的占位会话
	sessions, err := h.chatSvc.ListSessions(r.Context(), auth.FromContext(r.Context()), payload.UserID)
	if err != nil {
		utils.RespondAppError(w, err, "Failed to fetch user sessions")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sessions": sessions,
	})
}
