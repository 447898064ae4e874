package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/zhouzirui/chat-relay/backend/internal/apperror"
)

func TestSendPostsPayload(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"output":"hi there"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	reply, err := client.Send(context.Background(), Payload{
		ChatInput: "hello",
		Message:   "hello",
		SessionID: "user_jane_example_com_2024-05-14",
		Timestamp: "2024-05-14T08:00:00Z",
		User:      &User{Email: "jane@example.com", Name: "Jane"},
	})
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}

	if reply.Text != "hi there" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if got.ChatInput != "hello" || got.SessionID != "user_jane_example_com_2024-05-14" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.User == nil || got.User.Email != "jane@example.com" {
		t.Fatalf("expected user metadata, got %+v", got.User)
	}
}

func TestSendUpstreamErrorNoRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.Send(context.Background(), Payload{Message: "hello"})

	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected apperror, got %v", err)
	}
	if appErr.Kind != apperror.KindUpstream || appErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected error: %+v", appErr)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected exactly one call, got %d", n)
	}
}

func TestSendPlainTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("just text\n"))
	}))
	defer srv.Close()

	reply, err := NewClient(Config{BaseURL: srv.URL}).Send(context.Background(), Payload{Message: "hi"})
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if reply.Kind != ReplyText || reply.Text != "just text" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestSendMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}).Send(context.Background(), Payload{Message: "hi"})
	if apperror.KindOf(err) != apperror.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestSendUnconfigured(t *testing.T) {
	client := NewClient(Config{})
	if client.Configured() {
		t.Fatal("expected unconfigured client")
	}
	if _, err := client.Send(context.Background(), Payload{Message: "hi"}); apperror.KindOf(err) != apperror.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestHistoryRequestsSession(t *testing.T) {
	var gotPath, gotSession string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSession = r.URL.Query().Get("sessionId")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"message":"newest","role":"bot"},{"message":"oldest","role":"user"}]`))
	}))
	defer srv.Close()

	entries, err := NewClient(Config{BaseURL: srv.URL + "/"}).History(context.Background(), "user_a_b_2024-05-14")
	if err != nil {
		t.Fatalf("History err: %v", err)
	}

	if gotPath != "/webhook/chat-history" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotSession != "user_a_b_2024-05-14" {
		t.Fatalf("unexpected session: %s", gotSession)
	}
	if len(entries) != 2 || entries[0].Role != "bot" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestHistoryRejectsNonList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"nope"}`))
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}).History(context.Background(), "s")
	if apperror.KindOf(err) != apperror.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestSendRejectsOversizedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("a", 65)))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, MaxResponseBytes: 64})
	_, err := client.Send(context.Background(), Payload{ChatInput: "hi", Message: "hi"})

	var appErr *apperror.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperror.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestSendAcceptsReplyAtLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("a", 64)))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, MaxResponseBytes: 64})
	reply, err := client.Send(context.Background(), Payload{ChatInput: "hi", Message: "hi"})
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if len(reply.Text) != 64 {
		t.Fatalf("expected full reply, got %d bytes", len(reply.Text))
	}
}
