package room

import "context"

// Stub is the offline transport. Every call succeeds and nothing is ever
// delivered.
type Stub struct {
	Peer string
}

var _ Transport = (*Stub)(nil)

func (s *Stub) Init(ctx context.Context) error { return nil }

func (s *Stub) PeerID() string {
	if s.Peer == "" {
		return "local"
	}
	return s.Peer
}

func (s *Stub) UpdatePresence(ctx context.Context, presence any) error { return nil }

func (s *Stub) UpdateRoomState(ctx context.Context, partial State) error { return nil }

func (s *Stub) SubscribeRoomState(fn func(State)) func() { return func() {} }

func (s *Stub) Send(ctx context.Context, msg Message) error { return nil }

func (s *Stub) Close() error { return nil }
