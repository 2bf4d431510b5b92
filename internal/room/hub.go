package room

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

const DefaultRoom = "lobby"

type subscriber struct {
	peer string
	conn *websocket.Conn
	mu   sync.Mutex
}

// WriteJSON sends one frame guarded by the subscriber's mutex and write deadline.
func (s *subscriber) WriteJSON(v any) error {
	if s == nil || s.conn == nil {
		return errors.New("subscriber closed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

type roomState struct {
	state       State
	presence    map[string]json.RawMessage
	subscribers map[string]*subscriber
}

// Hub relays room state between peers. It keeps the merged state per room so
// late joiners receive it on connect.
type Hub struct {
	mu       sync.Mutex
	rooms    map[string]*roomState
	upgrader websocket.Upgrader
	logger   *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		rooms: map[string]*roomState{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Hub) roomLocked(name string) *roomState {
	r, ok := h.rooms[name]
	if !ok {
		r = &roomState{
			state:       State{},
			presence:    map[string]json.RawMessage{},
			subscribers: map[string]*subscriber{},
		}
		h.rooms[name] = r
	}
	return r
}

// Snapshot returns a copy of a room's merged state.
func (h *Hub) Snapshot(room string) State {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[room]
	if !ok {
		return State{}
	}
	return r.state.Clone()
}

// Peers lists the connected peer ids of a room.
func (h *Hub) Peers(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[room]
	if !ok {
		return nil
	}
	peers := make([]string, 0, len(r.subscribers))
	for id := range r.subscribers {
		peers = append(peers, id)
	}
	return peers
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomName := r.URL.Query().Get("room")
	if roomName == "" {
		roomName = DefaultRoom
	}
	peer := r.URL.Query().Get("peer")
	if peer == "" {
		peer = ulid.Make().String()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("room: upgrade: %v", err)
		return
	}

	sub := &subscriber{peer: peer, conn: conn}
	initial := h.subscribe(roomName, sub)
	if err := sub.WriteJSON(initial); err != nil {
		h.logger.Printf("room: initial state to %s: %v", peer, err)
		h.disconnect(roomName, sub)
		return
	}

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Printf("room: read from %s: %v", peer, err)
			}
			break
		}
		h.handle(roomName, sub, env)
	}
	h.disconnect(roomName, sub)
}

func (h *Hub) subscribe(roomName string, sub *subscriber) envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.roomLocked(roomName)
	if existing, ok := r.subscribers[sub.peer]; ok {
		existing.conn.Close()
	}
	r.subscribers[sub.peer] = sub
	data, _ := json.Marshal(r.state)
	return envelope{Type: frameState, Data: data}
}

func (h *Hub) disconnect(roomName string, sub *subscriber) {
	h.mu.Lock()
	r, ok := h.rooms[roomName]
	if ok && r.subscribers[sub.peer] == sub {
		delete(r.subscribers, sub.peer)
		delete(r.presence, sub.peer)
		if len(r.subscribers) == 0 && len(r.state) == 0 {
			delete(h.rooms, roomName)
		}
	}
	h.mu.Unlock()
	sub.conn.Close()
}

func (h *Hub) handle(roomName string, sub *subscriber, env envelope) {
	switch env.Type {
	case frameState:
		var partial State
		if err := json.Unmarshal(env.Data, &partial); err != nil {
			h.logger.Printf("room: bad state from %s: %v", sub.peer, err)
			return
		}
		h.mu.Lock()
		r := h.roomLocked(roomName)
		r.state.Merge(partial)
		data, _ := json.Marshal(r.state)
		targets := subscribersOf(r, "")
		h.mu.Unlock()
		h.broadcast(roomName, targets, envelope{Type: frameState, Peer: sub.peer, Data: data})

	case framePresence:
		h.mu.Lock()
		r := h.roomLocked(roomName)
		r.presence[sub.peer] = env.Data
		data, _ := json.Marshal(r.presence)
		targets := subscribersOf(r, sub.peer)
		h.mu.Unlock()
		h.broadcast(roomName, targets, envelope{Type: framePresence, Peer: sub.peer, Data: data})

	case frameMessage:
		h.mu.Lock()
		targets := subscribersOf(h.roomLocked(roomName), sub.peer)
		h.mu.Unlock()
		h.broadcast(roomName, targets, envelope{Type: frameMessage, Peer: sub.peer, Data: env.Data})

	default:
		h.logger.Printf("room: ignoring %q frame from %s", env.Type, sub.peer)
	}
}

func subscribersOf(r *roomState, except string) []*subscriber {
	out := make([]*subscriber, 0, len(r.subscribers))
	for id, sub := range r.subscribers {
		if id != except {
			out = append(out, sub)
		}
	}
	return out
}

func (h *Hub) broadcast(roomName string, targets []*subscriber, env envelope) {
	for _, sub := range targets {
		if err := sub.WriteJSON(env); err != nil {
			h.logger.Printf("room: send to %s: %v", sub.peer, err)
			h.disconnect(roomName, sub)
		}
	}
}
