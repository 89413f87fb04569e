package eventsink

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
)

func TestPublishEventDoesNotBlockWithNoSubscribers(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go hub.Run(done)
	defer close(done)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.PublishEvent(&mtypes.AgentEvent{ID: "e1", Kind: mtypes.EventWorkItemStarted})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("PublishEvent blocked with no subscribers registered")
	}
}

func TestHealthzReportsOK(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go hub.Run(done)
	defer close(done)

	srv := NewServer(hub, func() int { return 3 })
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHeartbeatSnapshotReportsAgentCount(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go hub.Run(done)
	defer close(done)

	srv := NewServer(hub, func() int { return 4 })
	req := httptest.NewRequest(http.MethodGet, "/metrics/heartbeat", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding heartbeat snapshot: %v", err)
	}
	if body["agents"] != float64(4) {
		t.Fatalf("expected agents 4, got %v", body["agents"])
	}
}
