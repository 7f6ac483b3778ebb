package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
)

func dialTestHub(t *testing.T, hub *Hub) (*ws.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleWebSocket(hub, w, r)
	}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("Dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	hub := NewHub()
	conn, cleanup := dialTestHub(t, hub)
	defer cleanup()

	// Registration happens inside the handler goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("Expected 1 client, got %d", hub.ClientCount())
	}

	hub.Broadcast(Event{Event: EventStageCompleted, Message: "3 done at Cut", PartID: "P-1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if evt.Event != EventStageCompleted || evt.PartID != "P-1" {
		t.Errorf("Unexpected event: %+v", evt)
	}
}

func TestBroadcastDropsDeadClients(t *testing.T) {
	hub := NewHub()
	conn, cleanup := dialTestHub(t, hub)
	defer cleanup()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()
	// The first write may still land in OS buffers; broadcast until the
	// failed write evicts the client.
	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() > 0 && time.Now().Before(deadline) {
		hub.Broadcast(Event{Event: EventPartUpdated, PartID: "P-1"})
		time.Sleep(20 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("Expected dead client dropped, %d remain", hub.ClientCount())
	}
}

func TestBroadcastWithNoClients(t *testing.T) {
	hub := NewHub()
	// Must not panic or block.
	hub.Broadcast(Event{Event: EventPartDeleted, PartID: "P-1"})
	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", hub.ClientCount())
	}
}
