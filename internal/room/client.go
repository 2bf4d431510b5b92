package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

const writeWait = 10 * time.Second

var ErrNotConnected = errors.New("room: not connected")

type ClientOptions struct {
	Room   string
	Peer   string
	Logger *log.Logger
	// OnMessage receives broadcasts from other peers.
	OnMessage func(Message)
}

// Client is the websocket Transport. It talks to a Hub.
type Client struct {
	url       string
	room      string
	peer      string
	logger    *log.Logger
	onMessage func(Message)

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	state   State
	subs    map[int]func(State)
	nextSub int
	done    chan struct{}
}

var _ Transport = (*Client)(nil)

func NewClient(rawURL string, opts ClientOptions) *Client {
	if opts.Room == "" {
		opts.Room = DefaultRoom
	}
	if opts.Peer == "" {
		opts.Peer = ulid.Make().String()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Client{
		url:       rawURL,
		room:      opts.Room,
		peer:      opts.Peer,
		logger:    opts.Logger,
		onMessage: opts.OnMessage,
		state:     State{},
		subs:      map[int]func(State){},
	}
}

func (c *Client) PeerID() string { return c.peer }

func (c *Client) Init(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("parsing room url: %w", err)
	}
	q := u.Query()
	q.Set("room", c.room)
	q.Set("peer", c.peer)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dialing room: %w", err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	done := make(chan struct{})
	c.mu.Lock()
	c.done = done
	c.mu.Unlock()

	go c.readLoop(conn, done)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Printf("room: read: %v", err)
			}
			return
		}
		switch env.Type {
		case frameState:
			var state State
			if err := json.Unmarshal(env.Data, &state); err != nil {
				c.logger.Printf("room: bad state frame: %v", err)
				continue
			}
			c.deliver(state)
		case frameMessage:
			if c.onMessage == nil {
				continue
			}
			var msg Message
			if err := json.Unmarshal(env.Data, &msg); err != nil {
				c.logger.Printf("room: bad message frame: %v", err)
				continue
			}
			msg.From = env.Peer
			c.onMessage(msg)
		}
	}
}

func (c *Client) deliver(state State) {
	if state == nil {
		state = State{}
	}
	c.mu.Lock()
	c.state = state
	subs := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(state.Clone())
	}
}

// State returns the last room state received from the hub.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

func (c *Client) SubscribeRoomState(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Client) UpdatePresence(ctx context.Context, presence any) error {
	return c.write(framePresence, presence)
}

func (c *Client) UpdateRoomState(ctx context.Context, partial State) error {
	return c.write(frameState, partial)
}

func (c *Client) Send(ctx context.Context, msg Message) error {
	return c.write(frameMessage, msg)
}

func (c *Client) write(frame string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", frame, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(envelope{Type: frame, Peer: c.peer, Data: data})
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	conn := c.conn
	c.conn = nil
	if conn != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	c.writeMu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	return err
}
