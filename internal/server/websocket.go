// Package server exposes a running simulation to a front end: a
// websocket feed of mesh events and REST endpoints for manipulating
// the radio topology and injecting traffic at the gateway.
package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"sensornet/internal/eventbus"
	"sensornet/internal/radio"
)

// Define a WebSocket upgrader.
var upgrader = websocket.Upgrader{
	// Allow any origin; the simulator is a local tool.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SendRequest is the JSON body of /nodeAPI/send: a message injected
// into the mesh at the gateway.
type SendRequest struct {
	Destination byte   `json:"destination"`
	SensorID    byte   `json:"sensor_id"`
	Type        byte   `json:"type"`
	SubType     byte   `json:"sub_type"`
	Ack         bool   `json:"ack"`
	Payload     []byte `json:"payload"`
}

// LinkRequest is the JSON body of /nodeAPI/link and /nodeAPI/unlink.
type LinkRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

// CreateRequest is the JSON body of /nodeAPI/create: a new station
// joining the running mesh. NodeID 0 has the node request an
// identifier over the air.
type CreateRequest struct {
	Name   string   `json:"name"`
	NodeID byte     `json:"node_id"`
	Relay  bool     `json:"relay"`
	Links  []string `json:"links"`
}

// RemoveRequest is the JSON body of /nodeAPI/remove.
type RemoveRequest struct {
	Name string `json:"name"`
}

// wsHandler upgrades the connection and pushes events from the bus.
func wsHandler(bus *eventbus.Bus, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Upgrade error: %v", err)
		return
	}
	defer conn.Close()

	eventCh := bus.Subscribe()
	for event := range eventCh {
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("Write error: %v", err)
			return
		}
	}
}

func linkHandler(net *radio.Network, unlink bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.A == "" || req.B == "" {
			http.Error(w, "both endpoints required", http.StatusBadRequest)
			return
		}
		if unlink {
			net.Unlink(req.A, req.B)
			w.Write([]byte("link cut"))
		} else {
			net.Link(req.A, req.B)
			w.Write([]byte("link made"))
		}
	}
}

func createHandler(enqueue func(CreateRequest) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		if !enqueue(req) {
			http.Error(w, "create queue full", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("node queued"))
	}
}

func removeHandler(net *radio.Network) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RemoveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		net.Remove(req.Name)
		w.Write([]byte("node removed"))
	}
}

func sendHandler(enqueue func(SendRequest) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !enqueue(req) {
			http.Error(w, "send queue full", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("queued"))
	}
}

// StartServer serves the endpoints on addr. The enqueue functions hand
// requests to the loop that owns the gateway node; handlers must not
// touch the node directly.
func StartServer(addr string, bus *eventbus.Bus, net *radio.Network,
	enqueueSend func(SendRequest) bool, enqueueCreate func(CreateRequest) bool) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		wsHandler(bus, w, r)
	})
	mux.HandleFunc("/nodeAPI/link", linkHandler(net, false))
	mux.HandleFunc("/nodeAPI/unlink", linkHandler(net, true))
	mux.HandleFunc("/nodeAPI/create", createHandler(enqueueCreate))
	mux.HandleFunc("/nodeAPI/remove", removeHandler(net))
	mux.HandleFunc("/nodeAPI/send", sendHandler(enqueueSend))

	log.Println("Server started on", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}
