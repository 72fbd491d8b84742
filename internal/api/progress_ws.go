package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket streaming of wave events for dashboards that cannot hold an SSE
// connection. Protocol: client sends connection_init, then subscribe messages
// carrying a waveDate; each matching broker event comes back as a next message.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsSubscribePayload struct {
	WaveDate string   `json:"waveDate"`
	Events   []string `json:"events"`
}

// WaveWSHandler handles /v1/waves/ws
func (s *Server) WaveWSHandler(w http.ResponseWriter, r *http.Request) {
	pr := s.getPrincipal(r)
	if !pr.CanPlan() {
		writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// All writes go through one goroutine; the connection does not support
	// concurrent writers.
	out := make(chan wsMessage, 32)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case msg := <-out:
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	send := func(msg wsMessage) {
		select {
		case out <- msg:
		case <-done:
		}
	}

	// Track subscriptions: id -> topic and channel
	type sub struct {
		topic string
		ch    chan SSEEvent
	}
	subs := map[string]sub{}

	// Read loop
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	initialized := false
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "connection_init":
			send(wsMessage{Type: "connection_ack"})
			if initialized {
				continue
			}
			initialized = true
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						send(wsMessage{Type: "ping"})
					case <-done:
						return
					}
				}
			}()
		case "ping":
			send(wsMessage{Type: "pong"})
		case "subscribe":
			var pl wsSubscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			if pl.WaveDate == "" {
				send(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"waveDate required"}`)})
				send(wsMessage{Type: "complete", ID: msg.ID})
				continue
			}
			want := map[string]bool{}
			for _, e := range pl.Events {
				want[e] = true
			}
			topic := waveTopic(pr.Tenant, pl.WaveDate)
			ch := s.Broker.Subscribe(topic)
			subs[msg.ID] = sub{topic: topic, ch: ch}
			// Fanout goroutine
			go func(id string, c chan SSEEvent, want map[string]bool) {
				for evt := range c {
					if len(want) > 0 && !want[evt.Type] {
						continue
					}
					payload, _ := json.Marshal(map[string]any{"event": evt.Type, "data": evt.Data})
					send(wsMessage{Type: "next", ID: id, Payload: payload})
				}
				send(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch, want)
		case "complete":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(s0.topic, s0.ch)
				delete(subs, msg.ID)
			}
		default:
			// ignore
		}
	}
	// Cleanup
	for id, s0 := range subs {
		s.Broker.Unsubscribe(s0.topic, s0.ch)
		delete(subs, id)
	}
}
