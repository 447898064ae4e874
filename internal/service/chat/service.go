// Package chat forwards chat traffic to the workflow webhook and shapes its answers
// for the conversation view.
package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-relay/backend/internal/apperror"
	"github.com/zhouzirui/chat-relay/backend/internal/auth"
	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/service/webhook"
	"github.com/zhouzirui/chat-relay/backend/internal/sessionid"
)

// DemoResponse is returned instead of calling out when no webhook is configured.
const DemoResponse = "This is a demo response. Please set up your N8N_WEBHOOK_URL environment variable to connect to your n8n workflow."

// anonymousLastMessage previews the synthetic session listed for anonymous callers.
const anonymousLastMessage = "Hello! How can I help you today?"

var errForeignSession = apperror.Validation("Session does not belong to the current user")

// Webhook is the outbound side of the proxy.
type Webhook interface {
	Configured() bool
	Send(ctx context.Context, payload webhook.Payload) (webhook.Reply, error)
	History(ctx context.Context, sessionID string) ([]webhook.HistoryEntry, error)
}

// Sessions is the per-user session registry.
type Sessions interface {
	List(ctx context.Context, email string) ([]chat.SessionSummary, error)
	Record(ctx context.Context, email, sessionID, message string) (chat.SessionSummary, error)
}

// Options tune the proxy.
type Options struct {
	// RequireAuth rejects Send calls made without a user.
	RequireAuth bool
	Now         func() time.Time
	Logger      *zap.Logger
}

// SendRequest is an inbound chat message.
type SendRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

// SendResult is the normalized reply.
type SendResult struct {
	Response  string            `json:"response"`
	SessionID string            `json:"sessionId,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      webhook.ReplyKind `json:"kind"`
	Demo      bool              `json:"demo,omitempty"`
	Message   chat.Message      `json:"message"`
}

// Service is the request proxy. It holds no per-request state.
type Service struct {
	webhook     Webhook
	sessions    Sessions
	requireAuth bool
	now         func() time.Time
	logger      *zap.Logger
}

// NewService creates the proxy. sessions may be nil, in which case sends are
// not recorded and ListSessions is unavailable.
func NewService(hook Webhook, sessions Sessions, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		webhook:     hook,
		sessions:    sessions,
		requireAuth: opts.RequireAuth,
		now:         now,
		logger:      logger.Named("chat"),
	}
}

// Send forwards one message and returns the normalized reply.
func (s *Service) Send(ctx context.Context, user *auth.User, req SendRequest) (SendResult, error) {
	if s.requireAuth && user == nil {
		return SendResult{}, apperror.Authentication("Unauthorized")
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return SendResult{}, apperror.Validation("Message is required")
	}

	now := s.now().UTC()
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID != "" && user != nil && !sessionid.BelongsTo(user.Email, sessionID) {
		return SendResult{}, errForeignSession
	}
	if sessionID == "" && user != nil {
		derived, err := sessionid.Persistent(user.Email, now)
		if err != nil {
			return SendResult{}, apperror.Validation(err.Error())
		}
		sessionID = derived
	}

	if s.webhook == nil || !s.webhook.Configured() {
		return SendResult{
			Response:  DemoResponse,
			SessionID: sessionID,
			Timestamp: now,
			Kind:      webhook.ReplyText,
			Demo:      true,
			Message:   assistantMessage(DemoResponse, now),
		}, nil
	}

	payload := webhook.Payload{
		ChatInput: message,
		Message:   message,
		SessionID: sessionID,
		Timestamp: now.Format(time.RFC3339Nano),
	}
	if user != nil {
		payload.User = &webhook.User{ID: user.ID, Email: user.Email, Name: user.Name}
	}

	reply, err := s.webhook.Send(ctx, payload)
	if err != nil {
		s.logger.Error("error processing chat message", zap.String("sessionId", sessionID), zap.Error(err))
		return SendResult{}, fmt.Errorf("send chat message: %w", err)
	}

	if user != nil && sessionID != "" && s.sessions != nil {
		if _, err := s.sessions.Record(ctx, user.Email, sessionID, message); err != nil {
			s.logger.Warn("failed to record session activity", zap.String("sessionId", sessionID), zap.Error(err))
		}
	}

	s.logger.Info("chat message proxied",
		zap.String("sessionId", sessionID),
		zap.String("replyKind", string(reply.Kind)),
		zap.Int("replyLength", len(reply.Text)),
	)

	return SendResult{
		Response:  reply.Text,
		SessionID: sessionID,
		Timestamp: now,
		Kind:      reply.Kind,
		Message:   assistantMessage(reply.Text, now),
	}, nil
}

// History returns the stored conversation of sessionID, oldest first. A
// signed-in user may only read sessions derived from their own email.
func (s *Service) History(ctx context.Context, user *auth.User, sessionID string) ([]chat.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperror.Validation("Session ID is required")
	}
	if user != nil && !sessionid.BelongsTo(user.Email, sessionID) {
		return nil, errForeignSession
	}
	if s.webhook == nil || !s.webhook.Configured() {
		return nil, apperror.Configuration("N8N_WEBHOOK_URL environment variable is not configured")
	}

	entries, err := s.webhook.History(ctx, sessionID)
	if err != nil {
		s.logger.Error("error fetching chat history", zap.String("sessionId", sessionID), zap.Error(err))
		return nil, fmt.Errorf("fetch chat history: %w", err)
	}

	now := s.now().UTC()
	messages := make([]chat.Message, len(entries))
	for i, entry := range entries {
		// The source lists newest first; fill from the back to present oldest first.
		messages[len(entries)-1-i] = chat.Message{
			ID:        sessionID + "-" + strconv.Itoa(i),
			Content:   entry.Message,
			Role:      mapRole(entry.Role),
			Timestamp: now,
		}
	}
	return messages, nil
}

// ListSessions returns the sessions of the signed-in user. userID, when
// given, must name that user. Anonymous callers only get the synthetic
// "Today's Chat" entry derived from userID; the registry is not consulted.
func (s *Service) ListSessions(ctx context.Context, user *auth.User, userID string) ([]chat.SessionSummary, error) {
	userID = strings.TrimSpace(userID)

	if user == nil {
		if userID == "" {
			return nil, apperror.Validation("User ID is required")
		}
		now := s.now().UTC()
		id, err := sessionid.Persistent(userID, now)
		if err != nil {
			return nil, apperror.Validation(err.Error())
		}
		return []chat.SessionSummary{{
			ID:          id,
			Title:       chat.TodayTitle,
			LastMessage: anonymousLastMessage,
			Timestamp:   now,
			Persistent:  true,
		}}, nil
	}

	if userID != "" && !strings.EqualFold(userID, user.Email) {
		return nil, apperror.Validation("User ID does not match the signed-in user")
	}
	if s.sessions == nil {
		return nil, apperror.Configuration("session registry is not configured")
	}
	return s.sessions.List(ctx, user.Email)
}

func mapRole(role string) chat.Role {
	if role == "bot" {
		return chat.RoleAssistant
	}
	return chat.Role(role)
}

func assistantMessage(content string, ts time.Time) chat.Message {
	return chat.Message{
		ID:        uuid.NewString(),
		Content:   content,
		Role:      chat.RoleAssistant,
		Timestamp: ts,
	}
}
