package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"autoboard/internal/types"
)

func TestFollowCardParsesNamedEvents(t *testing.T) {
	var lastEventID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/cards/c1/stream" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		lastEventID = r.Header.Get("Last-Event-ID")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: status\ndata: {\"cardId\":\"c1\",\"status\":\"running\"}\n\n"))
		_, _ = w.Write([]byte(": keepalive\n\n"))
		_, _ = w.Write([]byte("id: 4\nevent: log\ndata: {\"cardId\":\"c1\",\"type\":\"assistant_text\",\"content\":\"hi\",\"sequence\":4}\n\n"))
		_, _ = w.Write([]byte("event: bogus\ndata: {}\n\n"))
		_, _ = w.Write([]byte("event: status\ndata: {\"cardId\":\"c1\",\"status\":\"completed\"}\n\n"))
	}))
	defer server.Close()

	c := New(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, stop, err := c.FollowCard(ctx, "c1", 3)
	if err != nil {
		t.Fatalf("FollowCard: %v", err)
	}
	defer stop()

	var events []types.RunEvent
	for event := range ch {
		events = append(events, event)
	}
	if lastEventID != "3" {
		t.Fatalf("expected Last-Event-ID 3, got %q", lastEventID)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Kind != types.RunEventStatus || events[0].Status.Status != types.RunStatusRunning {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Kind != types.RunEventLog || events[1].Log.Sequence != 4 || events[1].Log.Content != "hi" {
		t.Fatalf("unexpected log event: %+v", events[1])
	}
	if events[2].Status == nil || events[2].Status.Status != types.RunStatusCompleted {
		t.Fatalf("unexpected last event: %+v", events[2])
	}
}

func TestFollowCardReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Card not found"}`))
	}))
	defer server.Close()

	_, _, err := New(server.URL).FollowCard(context.Background(), "missing", 0)
	if !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404 api error, got %v", err)
	}
}
