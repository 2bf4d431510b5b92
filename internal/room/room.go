// Package room is the best-effort multiplayer transport. Room state is a flat
// map of top-level keys; each key is last-writer-wins and a null value
// deletes it.
package room

import (
	"context"
	"encoding/json"
	"maps"
)

type State map[string]json.RawMessage

func (s State) Clone() State {
	return maps.Clone(s)
}

// Merge applies partial on top of s. Null values delete the key.
func (s State) Merge(partial State) {
	for k, v := range partial {
		if len(v) == 0 || string(v) == "null" {
			delete(s, k)
			continue
		}
		s[k] = v
	}
}

// Message is a free-form broadcast to the other peers in the room.
type Message struct {
	Type string          `json:"type"`
	From string          `json:"from,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Transport interface {
	Init(ctx context.Context) error
	PeerID() string
	UpdatePresence(ctx context.Context, presence any) error
	UpdateRoomState(ctx context.Context, partial State) error
	// SubscribeRoomState registers fn for every room state change and
	// returns a function that removes it.
	SubscribeRoomState(fn func(State)) (unsubscribe func())
	Send(ctx context.Context, msg Message) error
	Close() error
}

// envelope is the wire frame shared by Client and Hub.
type envelope struct {
	Type string          `json:"type"`
	Peer string          `json:"peer,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	frameState    = "state"
	framePresence = "presence"
	frameMessage  = "message"
)
