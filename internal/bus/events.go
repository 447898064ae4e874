// Package bus carries session lifecycle events from the services to the
// live feeds that keep a sidebar in sync.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

const (
	EventSessionCreated = "session.created"
	EventSessionUpdated = "session.updated"
	EventSessionDeleted = "session.deleted"
)

// Event is one published change to a user's session list.
type Event struct {
	Type      string              `json:"type"`
	UserEmail string              `json:"-"`
	Session   chat.SessionSummary `json:"session"`
	Timestamp time.Time           `json:"timestamp"`
}

// Handler receives events.
type Handler func(Event)

type namedHandler struct {
	id      string
	handler Handler
}

// EventBus is a topic based publish/subscribe hub. Handlers registered
// under "*" receive every event.
type EventBus struct {
	mu         sync.RWMutex
	handlers   map[string][]namedHandler
	history    []Event
	maxHistory int
	logger     *zap.Logger
}

// NewEventBus creates an EventBus keeping the last 256 events for replay.
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		maxHistory: 256,
		logger:     logger.Named("bus"),
	}
}

// On registers handler for eventType and returns an ID for Off.
func (b *EventBus) On(eventType string, handler Handler) string {
	id := uuid.NewString()

	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], namedHandler{id: id, handler: handler})
	b.mu.Unlock()

	return id
}

// Off removes a handler registered with On.
func (b *EventBus) Off(eventType, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	for i, h := range handlers {
		if h.id == id {
			b.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit delivers event synchronously to matching handlers. A panicking
// handler is logged and does not affect the others.
func (b *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	if len(b.history) >= b.maxHistory {
		b.history = b.history[1:]
	}
	b.history = append(b.history, event)

	handlers := make([]namedHandler, 0, len(b.handlers[event.Type])+len(b.handlers["*"]))
	handlers = append(handlers, b.handlers[event.Type]...)
	handlers = append(handlers, b.handlers["*"]...)
	b.mu.Unlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
}

func (b *EventBus) dispatch(h namedHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic",
				zap.String("event", event.Type),
				zap.String("handler", h.id),
				zap.Any("panic", r),
			)
		}
	}()
	h.handler(event)
}

// Replay returns events of eventType ("*" for all) emitted at or after since.
func (b *EventBus) Replay(eventType string, since time.Time) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, e := range b.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// Subscribe streams the events of one user into a buffered channel until
// cancel is called. Events are dropped when the subscriber falls behind.
func (b *EventBus) Subscribe(userEmail string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	var once sync.Once
	var closed bool
	var mu sync.Mutex

	id := b.On("*", func(e Event) {
		if e.UserEmail != userEmail {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
			b.logger.Warn("dropping event for slow subscriber", zap.String("event", e.Type))
		}
	})

	cancel := func() {
		once.Do(func() {
			b.Off("*", id)
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	return ch, cancel
}
