package main

import (
	"net/http"

	"fabtrack/internal/websocket"
)

type WSEvent = websocket.Event
type Hub = websocket.Hub

// Global hub instance.
var wsHub = websocket.NewHub()

// handleWebSocket upgrades the HTTP connection to a WebSocket.
func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.HandleWebSocket(wsHub, w, r)
}

// broadcast is the fire-and-forget notification helper used by handlers,
// always called after the transaction has committed.
func broadcast(event, message, partID string) {
	wsHub.Broadcast(WSEvent{Event: event, Message: message, PartID: partID})
}
