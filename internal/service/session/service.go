// Package session keeps the per-user list of conversations shown in the sidebar.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/zhouzirui/chat-relay/backend/internal/apperror"
	"github.com/zhouzirui/chat-relay/backend/internal/bus"
	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/sessionid"
)

const (
	todayTitle         = chat.TodayTitle
	pastDayPrefix      = "Chat "
	todayLastMessage   = "Your persistent chat for today"
	newChatPrefix      = "New Chat "
	newChatPlaceholder = "Temporary chat - will reset on reload"
	previewRunes       = 50
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrTodayUndeletable = apperror.Validation("Today's Chat cannot be deleted. It's your persistent chat session.")
	ErrForeignSession   = apperror.Validation("session does not belong to the current user")
)

// Service manages session summaries and publishes every change on the bus.
type Service struct {
	store   Store
	deriver *sessionid.Deriver
	events  *bus.EventBus
	logger  *zap.Logger
}

// NewService wires the registry. A nil events bus disables publishing.
func NewService(store Store, deriver *sessionid.Deriver, events *bus.EventBus, logger *zap.Logger) *Service {
	if deriver == nil {
		deriver = sessionid.NewDeriver(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		deriver: deriver,
		events:  events,
		logger:  logger.Named("sessions"),
	}
}

// Today returns the user's persistent session, creating its summary on first use.
func (s *Service) Today(ctx context.Context, email string) (chat.SessionSummary, error) {
	id, err := s.deriver.Today(email)
	if err != nil {
		return chat.SessionSummary{}, apperror.Validation(err.Error())
	}

	summary, ok, err := s.store.Get(ctx, email, id)
	if err != nil {
		return chat.SessionSummary{}, err
	}
	if ok {
		return summary, nil
	}

	summary = chat.SessionSummary{
		ID:          id,
		Title:       todayTitle,
		LastMessage: todayLastMessage,
		Timestamp:   s.deriver.Now().UTC(),
		Persistent:  true,
	}
	if err := s.store.Put(ctx, email, summary); err != nil {
		return chat.SessionSummary{}, err
	}
	s.publish(bus.EventSessionCreated, email, summary)
	return summary, nil
}

// List returns the user's sessions newest first, always including today's.
// Persistent sessions of earlier days are demoted to ordinary entries.
func (s *Service) List(ctx context.Context, email string) ([]chat.SessionSummary, error) {
	today, err := s.Today(ctx, email)
	if err != nil {
		return nil, err
	}

	sessions, err := s.store.List(ctx, email)
	if err != nil {
		return nil, err
	}
	for i, item := range sessions {
		if !item.Persistent || item.ID == today.ID {
			continue
		}
		demoted, err := s.demote(ctx, email, item)
		if err != nil {
			return nil, err
		}
		sessions[i] = demoted
	}
	return sessions, nil
}

// demote turns a past day's persistent session into an ordinary one.
func (s *Service) demote(ctx context.Context, email string, summary chat.SessionSummary) (chat.SessionSummary, error) {
	summary.Persistent = false
	summary.Title = pastDayPrefix + summary.Timestamp.UTC().Format(time.DateOnly)
	if err := s.store.Put(ctx, email, summary); err != nil {
		return chat.SessionSummary{}, err
	}
	s.logger.Debug("persistent session rolled over", zap.String("sessionId", summary.ID))
	s.publish(bus.EventSessionUpdated, email, summary)
	return summary, nil
}

// NewChat creates an ephemeral session.
func (s *Service) NewChat(ctx context.Context, email string) (chat.SessionSummary, error) {
	id, err := s.deriver.New(email)
	if err != nil {
		return chat.SessionSummary{}, apperror.Validation(err.Error())
	}

	now := s.deriver.Now().UTC()
	summary := chat.SessionSummary{
		ID:          id,
		Title:       newChatPrefix + now.Format(time.TimeOnly),
		LastMessage: newChatPlaceholder,
		Timestamp:   now,
	}
	if err := s.store.Put(ctx, email, summary); err != nil {
		return chat.SessionSummary{}, err
	}

	s.logger.Info("ephemeral session created", zap.String("sessionId", id))
	s.publish(bus.EventSessionCreated, email, summary)
	return summary, nil
}

// Record notes that message was sent in sessionID. Unknown sessions are
// added to the list; known ones get their preview refreshed.
func (s *Service) Record(ctx context.Context, email, sessionID, message string) (chat.SessionSummary, error) {
	if strings.TrimSpace(email) == "" {
		return chat.SessionSummary{}, apperror.Validation(sessionid.ErrEmailRequired.Error())
	}
	if !sessionid.BelongsTo(email, sessionID) {
		return chat.SessionSummary{}, ErrForeignSession
	}

	now := s.deriver.Now()
	if sessionid.IsPersistent(email, sessionID, now) {
		if _, err := s.Today(ctx, email); err != nil {
			return chat.SessionSummary{}, err
		}
	}

	summary, ok, err := s.store.Get(ctx, email, sessionID)
	if err != nil {
		return chat.SessionSummary{}, err
	}

	eventType := bus.EventSessionUpdated
	if ok && summary.Persistent && !sessionid.IsPersistent(email, sessionID, now) {
		summary.Persistent = false
		summary.Title = pastDayPrefix + summary.Timestamp.UTC().Format(time.DateOnly)
	}
	if !ok {
		eventType = bus.EventSessionCreated
		summary = chat.SessionSummary{
			ID:        sessionID,
			Title:     newChatPrefix + now.UTC().Format(time.TimeOnly),
			Timestamp: now.UTC(),
		}
	}
	summary.LastMessage = Preview(message)

	if err := s.store.Put(ctx, email, summary); err != nil {
		return chat.SessionSummary{}, err
	}
	s.publish(eventType, email, summary)
	return summary, nil
}

// Delete removes a session. Today's session cannot be deleted; those of
// earlier days can.
func (s *Service) Delete(ctx context.Context, email, sessionID string) error {
	if strings.TrimSpace(email) == "" {
		return apperror.Validation(sessionid.ErrEmailRequired.Error())
	}
	if sessionid.IsPersistent(email, sessionID, s.deriver.Now()) {
		return ErrTodayUndeletable
	}

	summary, ok, err := s.store.Get(ctx, email, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if _, err := s.store.Delete(ctx, email, sessionID); err != nil {
		return err
	}
	s.publish(bus.EventSessionDeleted, email, summary)
	return nil
}

func (s *Service) publish(eventType, email string, summary chat.SessionSummary) {
	if s.events == nil {
		return
	}
	s.events.Emit(bus.Event{Type: eventType, UserEmail: email, Session: summary})
}

// Preview shortens message to the sidebar preview length.
func Preview(message string) string {
	message = strings.TrimSpace(message)
	if utf8.RuneCountInString(message) <= previewRunes {
		return message
	}
	runes := []rune(message)
	return string(runes[:previewRunes]) + "..."
}
