package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"stakeledger/core/events"
	"stakeledger/core/types"
)

type recordingHandler struct {
	mu      sync.Mutex
	cursor  uint64
	applied []uint64
	done    func()
	want    int
}

func (h *recordingHandler) Cursor(context.Context) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor, nil
}

func (h *recordingHandler) Apply(_ context.Context, record events.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if record.Sequence <= h.cursor {
		return nil
	}
	h.cursor = record.Sequence
	h.applied = append(h.applied, record.Sequence)
	if len(h.applied) == h.want {
		h.done()
	}
	return nil
}

func TestClientResumesFromCursor(t *testing.T) {
	var (
		mu      sync.Mutex
		cursors []string
		auth    []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		cursors = append(cursors, r.URL.Query().Get("cursor"))
		auth = append(auth, r.Header.Get("Authorization"))
		connection := len(cursors)
		mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		start := uint64(1)
		if connection > 1 {
			start = 3
		}
		for seq := start; seq < start+2; seq++ {
			data, _ := json.Marshal(events.Record{Sequence: seq, Timestamp: int64(seq), Event: &types.Event{Type: events.TypeStakeStaked}})
			if err := conn.Write(r.Context(), websocket.MessageText, data); err != nil {
				return
			}
		}
		// First connection drops the subscriber to force a reconnect.
		conn.Close(websocket.StatusTryAgainLater, "lagging")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	handler := &recordingHandler{want: 4, done: cancel}
	client, err := NewClient(Config{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/stream",
		Token:   "abc",
		Backoff: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Run(ctx, handler); err != context.Canceled {
		t.Fatalf("expected cancellation, got %v", err)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.applied) != 4 || handler.applied[3] != 4 {
		t.Fatalf("unexpected applied sequences %v", handler.applied)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(cursors) < 2 || cursors[0] != "0" || cursors[1] != "2" {
		t.Fatalf("unexpected cursors %v", cursors)
	}
	if auth[0] != "Bearer abc" {
		t.Fatalf("missing bearer token: %q", auth[0])
	}
}

func TestNewClientRejectsEmptyURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}
