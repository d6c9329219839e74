package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"watchover/internal/logger"
	"watchover/internal/model"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func startHub(t *testing.T) (*HubService, *httptest.Server) {
	t.Helper()

	hub := NewHubService(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
	}))

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *HubService, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, have %d", n, hub.GetClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastAlert(t *testing.T) {
	hub, server := startHub(t)

	first := dial(t, server)
	second := dial(t, server)
	waitForClients(t, hub, 2)

	event := model.AlertEvent{ID: 3, Class: "person", Confidence: 0.9, FrameSeq: 12}
	if !hub.BroadcastAlert(event, true, []byte{0xFF, 0xD8}) {
		t.Fatal("Broadcast was dropped")
	}

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}

		var msg AlertMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Invalid message: %v", err)
		}
		if msg.Type != "alert" || msg.Event.ID != 3 || !msg.Armed {
			t.Errorf("Unexpected message %+v", msg)
		}
		if len(msg.Image) != 2 || msg.Image[0] != 0xFF {
			t.Errorf("Snapshot not delivered: %v", msg.Image)
		}
		if !strings.Contains(string(data), `"image":"/9g="`) {
			t.Errorf("Expected base64 snapshot in %s", data)
		}
	}
}

func TestHub_RemovesDeadClients(t *testing.T) {
	hub, server := startHub(t)

	conn := dial(t, server)
	waitForClients(t, hub, 1)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Dead client was not removed")
		}
		hub.Broadcast([]byte(`{"type":"ping"}`))
		time.Sleep(20 * time.Millisecond)
	}
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHubService(logger.NewNop())

	for i := 0; i < BroadcastQueueSize; i++ {
		if !hub.Broadcast([]byte("x")) {
			t.Fatalf("Message %d dropped before the queue was full", i)
		}
	}

	done := make(chan bool)
	go func() { done <- hub.Broadcast([]byte("overflow")) }()

	select {
	case queued := <-done:
		if queued {
			t.Error("Expected overflow message to be dropped")
		}
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full queue")
	}
}

func TestHub_StoppedHubDoesNotBlock(t *testing.T) {
	hub := NewHubService(logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	done := make(chan struct{})
	go func() {
		hub.Unregister(nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Unregister blocked on a stopped hub")
	}
}
