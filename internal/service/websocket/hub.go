// Package websocket fans alert notifications out to dashboard viewers.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"watchover/internal/logger"
	"watchover/internal/model"

	"github.com/gorilla/websocket"
)

const (
	// BroadcastQueueSize bounds the messages waiting for delivery.
	BroadcastQueueSize = 16
	writeWait          = 5 * time.Second
)

// AlertMessage is what viewers receive for each alert event.
type AlertMessage struct {
	Type    string           `json:"type"`
	Event   model.AlertEvent `json:"event"`
	Message string           `json:"message"`
	Armed   bool             `json:"armed"`
	// Image is the annotated JPEG snapshot, base64 encoded in JSON.
	Image []byte `json:"image,omitempty"`
}

type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, BroadcastQueueSize),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger.Named("hub"),
	}
}

// Run delivers queued messages until ctx is done, then closes every client.
func (h *HubService) Run(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer disconnected. Total: %d", total)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *HubService) deliver(message []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Error("Error sending message: %v", err)
			delete(h.clients, client)
			client.Close()
		}
	}
}

func (h *HubService) closeAll() {
	close(h.done)

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

// Register adds a viewer. It is a no-op once the hub has stopped.
func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a viewer and closes its connection.
func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues message for every viewer without blocking.
// It reports false when the queue is full and the message was dropped.
func (h *HubService) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		h.logger.Warning("Viewer queue full, dropping message")
		return false
	}
}

// BroadcastAlert notifies viewers of an alert, with an optional JPEG snapshot.
func (h *HubService) BroadcastAlert(event model.AlertEvent, armed bool, snapshot []byte) bool {
	message, err := json.Marshal(AlertMessage{
		Type:    "alert",
		Event:   event,
		Message: event.Message(),
		Armed:   armed,
		Image:   snapshot,
	})
	if err != nil {
		h.logger.Error("Error encoding alert #%d: %v", event.ID, err)
		return false
	}
	return h.Broadcast(message)
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
