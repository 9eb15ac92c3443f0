// Package notify implements the realtime fanout: a channel-keyed registry of
// live websocket sessions plus an optional Kafka mirror of every event.
// Delivery is best-effort: no acks, no retries, no persistence. Absent
// subscribers recover state through the list endpoints.
package notify

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/delivery-dispatch/internal/observability"
)

// Message is the wire envelope for fanout events.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type wsConn interface {
	WriteJSON(v any) error
	Close() error
}

// Session is one live subscriber connection. Writes are serialized per
// session; gorilla conns do not allow concurrent writers.
type Session struct {
	conn wsConn
	mu   sync.Mutex
}

func (s *Session) send(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(m)
}

// Registry maps channel names ("restaurant_<id>", "driver_<id>") to their
// live sessions. Subscribing is an explicit operation; a connection joins
// exactly the one room the caller names, never implicitly.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Session]struct{}
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{rooms: make(map[string]map[*Session]struct{}), logger: logger}
}

// Subscribe adds the connection to the channel and returns its session
// handle for later Unsubscribe.
func (r *Registry) Subscribe(channel string, conn *websocket.Conn) *Session {
	return r.subscribe(channel, conn)
}

func (r *Registry) subscribe(channel string, conn wsConn) *Session {
	s := &Session{conn: conn}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[channel] == nil {
		r.rooms[channel] = make(map[*Session]struct{})
	}
	r.rooms[channel][s] = struct{}{}
	observability.WSConnections.Inc()
	return s
}

func (r *Registry) Unsubscribe(channel string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[channel]; ok {
		if _, ok := room[s]; ok {
			delete(room, s)
			observability.WSConnections.Dec()
		}
		if len(room) == 0 {
			delete(r.rooms, channel)
		}
	}
}

// Publish sends the event to every session in one channel. Failed writes are
// logged and dropped; the engine never learns about them.
func (r *Registry) Publish(channel, event string, payload any) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.rooms[channel]))
	for s := range r.rooms[channel] {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	m := Message{Event: event, Data: payload}
	for _, s := range sessions {
		if err := s.send(m); err != nil {
			r.logger.Warn("fanout write failed", "channel", channel, "event", event, "error", err)
		}
	}
	observability.EventsPublished.WithLabelValues(event).Inc()
}

// Broadcast sends the event to every session in every channel.
func (r *Registry) Broadcast(event string, payload any) {
	r.mu.RLock()
	var sessions []*Session
	for _, room := range r.rooms {
		for s := range room {
			sessions = append(sessions, s)
		}
	}
	r.mu.RUnlock()

	m := Message{Event: event, Data: payload}
	for _, s := range sessions {
		if err := s.send(m); err != nil {
			r.logger.Warn("broadcast write failed", "event", event, "error", err)
		}
	}
	observability.EventsPublished.WithLabelValues(event).Inc()
}
