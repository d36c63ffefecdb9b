package notify_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Institute-for-Folly/RECAP/internal/ledger"
	"github.com/Institute-for-Folly/RECAP/internal/notify"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wc, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { wc.Close() })
	return wc
}

func waitForClients(t *testing.T, h *notify.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_broadcastsToAllClients(t *testing.T) {
	h := notify.NewHub(nil, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	a, b := dial(t, srv.URL), dial(t, srv.URL)
	waitForClients(t, h, 2)

	h.Notify(context.Background(), sampleEvent())

	for _, wc := range []*websocket.Conn{a, b} {
		wc.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := wc.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		var msg notify.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != ledger.EventSubmissionRecorded || msg.Data.SequenceIndex != 3 {
			t.Errorf("message = %+v", msg)
		}
	}
}

func TestHub_unregistersOnDisconnect(t *testing.T) {
	h := notify.NewHub(nil, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	wc := dial(t, srv.URL)
	waitForClients(t, h, 1)
	wc.Close()
	waitForClients(t, h, 0)
}

func TestHub_closeDisconnectsClients(t *testing.T) {
	h := notify.NewHub(nil, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	wc := dial(t, srv.URL)
	waitForClients(t, h, 1)
	h.Close()

	wc.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := wc.ReadMessage(); err == nil {
		t.Error("read succeeded after hub Close")
	}
	if h.Clients() != 0 {
		t.Errorf("Clients() = %d after Close", h.Clients())
	}
}
