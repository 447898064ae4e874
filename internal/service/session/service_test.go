package session_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/chat-relay/backend/internal/apperror"
	"github.com/zhouzirui/chat-relay/backend/internal/bus"
	"github.com/zhouzirui/chat-relay/backend/internal/sessionid"
	session "github.com/zhouzirui/chat-relay/backend/internal/service/session"
)

const email = "jane.doe@example.com"

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newService(t *testing.T, store session.Store) (*session.Service, *fixedClock, *bus.EventBus) {
	t.Helper()
	clock := &fixedClock{now: time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC)}
	events := bus.NewEventBus(nil)
	svc := session.NewService(store, sessionid.NewDeriver(clock.Now), events, nil)
	return svc, clock, events
}

func TestListAlwaysIncludesToday(t *testing.T) {
	svc, _, _ := newService(t, session.NewMemoryStore())
	ctx := context.Background()

	sessions, err := svc.List(ctx, email)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected only today's session, got %d", len(sessions))
	}
	if sessions[0].ID != "user_jane_doe_example_com_2024-05-14" || !sessions[0].Persistent {
		t.Fatalf("unexpected today session: %+v", sessions[0])
	}
	if sessions[0].Title != "Today's Chat" {
		t.Fatalf("unexpected title: %s", sessions[0].Title)
	}
}

func TestNewChatListedAboveToday(t *testing.T) {
	svc, clock, _ := newService(t, session.NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.List(ctx, email); err != nil {
		t.Fatalf("List err: %v", err)
	}
	clock.now = clock.now.Add(time.Minute)
	created, err := svc.NewChat(ctx, email)
	if err != nil {
		t.Fatalf("NewChat err: %v", err)
	}
	if created.Persistent || !strings.HasPrefix(created.Title, "New Chat ") {
		t.Fatalf("unexpected ephemeral session: %+v", created)
	}

	sessions, _ := svc.List(ctx, email)
	if len(sessions) != 2 || sessions[0].ID != created.ID {
		t.Fatalf("expected new chat first, got %+v", sessions)
	}
}

func TestNewChatPublishesEvent(t *testing.T) {
	svc, _, events := newService(t, session.NewMemoryStore())

	ch, cancel := events.Subscribe(email, 4)
	defer cancel()

	created, err := svc.NewChat(context.Background(), email)
	if err != nil {
		t.Fatalf("NewChat err: %v", err)
	}

	select {
	case e := <-ch:
		if e.Type != bus.EventSessionCreated || e.Session.ID != created.ID {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("expected session.created event")
	}
}

func TestRecordUpdatesTodayPreview(t *testing.T) {
	svc, _, _ := newService(t, session.NewMemoryStore())
	ctx := context.Background()

	today, _ := svc.Today(ctx, email)
	long := strings.Repeat("a", 60)

	updated, err := svc.Record(ctx, email, today.ID, long)
	if err != nil {
		t.Fatalf("Record err: %v", err)
	}
	if updated.Title != "Today's Chat" {
		t.Fatalf("expected title kept, got %s", updated.Title)
	}
	if updated.LastMessage != strings.Repeat("a", 50)+"..." {
		t.Fatalf("unexpected preview: %s", updated.LastMessage)
	}
}

func TestRecordAddsUnknownSession(t *testing.T) {
	svc, _, _ := newService(t, session.NewMemoryStore())
	ctx := context.Background()

	id, _ := sessionid.Ephemeral(email, time.UnixMilli(1715680000000))
	added, err := svc.Record(ctx, email, id, "first question")
	if err != nil {
		t.Fatalf("Record err: %v", err)
	}
	if added.LastMessage != "first question" {
		t.Fatalf("unexpected preview: %s", added.LastMessage)
	}

	sessions, _ := svc.List(ctx, email)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestRecordRejectsForeignSession(t *testing.T) {
	svc, _, _ := newService(t, session.NewMemoryStore())

	_, err := svc.Record(context.Background(), email, "user_someone_else_com_2024-05-14", "hi")
	if apperror.KindOf(err) != apperror.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeleteToday(t *testing.T) {
	svc, _, _ := newService(t, session.NewMemoryStore())
	ctx := context.Background()

	today, _ := svc.Today(ctx, email)
	err := svc.Delete(ctx, email, today.ID)
	if apperror.KindOf(err) != apperror.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeleteEphemeral(t *testing.T) {
	svc, _, _ := newService(t, session.NewMemoryStore())
	ctx := context.Background()

	created, _ := svc.NewChat(ctx, email)
	if err := svc.Delete(ctx, email, created.ID); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if err := svc.Delete(ctx, email, created.ID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestEmptyEmailIsValidationError(t *testing.T) {
	svc, _, _ := newService(t, session.NewMemoryStore())

	if _, err := svc.List(context.Background(), ""); apperror.KindOf(err) != apperror.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSQLStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := session.OpenSQLStore(ctx, filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("OpenSQLStore err: %v", err)
	}
	defer store.Close()

	svc, clock, _ := newService(t, store)

	today, err := svc.Today(ctx, email)
	if err != nil {
		t.Fatalf("Today err: %v", err)
	}
	clock.now = clock.now.Add(time.Minute)
	created, err := svc.NewChat(ctx, email)
	if err != nil {
		t.Fatalf("NewChat err: %v", err)
	}
	if _, err := svc.Record(ctx, email, today.ID, "hello from sqlite"); err != nil {
		t.Fatalf("Record err: %v", err)
	}

	sessions, err := svc.List(ctx, email)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != created.ID {
		t.Fatalf("expected newest first, got %s", sessions[0].ID)
	}
	if sessions[1].LastMessage != "hello from sqlite" || !sessions[1].Persistent {
		t.Fatalf("unexpected today row: %+v", sessions[1])
	}

	if err := svc.Delete(ctx, email, created.ID); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if _, ok, _ := store.Get(ctx, email, created.ID); ok {
		t.Fatal("expected row deleted")
	}
}

func TestListAfterMidnightKeepsOneToday(t *testing.T) {
	svc, clock, _ := newService(t, session.NewMemoryStore())
	ctx := context.Background()
	clock.now = time.Date(2024, 5, 14, 23, 59, 0, 0, time.UTC)

	if _, err := svc.Record(ctx, email, "user_jane_doe_example_com_2024-05-14", "late question"); err != nil {
		t.Fatalf("Record err: %v", err)
	}

	clock.now = clock.now.Add(2 * time.Minute)
	sessions, err := svc.List(ctx, email)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}

	var todays int
	for _, item := range sessions {
		if item.Title == "Today's Chat" || item.Persistent {
			todays++
			if item.ID != "user_jane_doe_example_com_2024-05-15" {
				t.Fatalf("unexpected persistent session: %+v", item)
			}
		}
	}
	if todays != 1 {
		t.Fatalf("expected exactly one Today's Chat, got %d", todays)
	}

	past := sessions[1]
	if past.ID != "user_jane_doe_example_com_2024-05-14" || past.Title != "Chat 2024-05-14" || past.LastMessage != "late question" {
		t.Fatalf("unexpected past-day session: %+v", past)
	}
}

func TestPastDaySessionCanBeDeleted(t *testing.T) {
	svc, clock, _ := newService(t, session.NewMemoryStore())
	ctx := context.Background()

	yesterday, err := svc.Today(ctx, email)
	if err != nil {
		t.Fatalf("Today err: %v", err)
	}

	clock.now = clock.now.Add(24 * time.Hour)
	if err := svc.Delete(ctx, email, yesterday.ID); err != nil {
		t.Fatalf("Delete err: %v", err)
	}

	sessions, err := svc.List(ctx, email)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "user_jane_doe_example_com_2024-05-15" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}

func TestRecordDemotesPastDaySession(t *testing.T) {
	svc, clock, _ := newService(t, session.NewMemoryStore())
	ctx := context.Background()

	yesterday, err := svc.Today(ctx, email)
	if err != nil {
		t.Fatalf("Today err: %v", err)
	}

	clock.now = clock.now.Add(24 * time.Hour)
	summary, err := svc.Record(ctx, email, yesterday.ID, "follow up")
	if err != nil {
		t.Fatalf("Record err: %v", err)
	}
	if summary.Persistent || summary.Title != "Chat 2024-05-14" {
		t.Fatalf("expected past-day session demoted, got %+v", summary)
	}
}
