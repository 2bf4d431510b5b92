package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"sessioncore/internal/catalog"
	"sessioncore/internal/room"
	"sessioncore/internal/store"
)

var (
	ErrUnknownNPC   = errors.New("unknown npc")
	ErrEmptyEdit    = errors.New("edit has no fields")
	ErrEmptyInsight = errors.New("insight text is empty")
)

// Storage is the key-value surface used for the local copy of the overlay.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type LayerOptions struct {
	Logger *log.Logger
	Now    func() time.Time
	// OnChange is called with the ids whose catalog records changed.
	OnChange func(ids []string)
}

// Layer keeps the catalog in step with a room. When the transport cannot
// connect it swaps in room.Stub and carries on locally.
type Layer struct {
	cat     *catalog.Catalog
	storage Storage
	logger  *log.Logger
	now     func() time.Time

	mu          sync.Mutex
	transport   room.Transport
	overlay     Overlay
	onChange    func([]string)
	unsubscribe func()
}

func NewLayer(cat *catalog.Catalog, transport room.Transport, storage Storage, opts LayerOptions) *Layer {
	if transport == nil {
		transport = &room.Stub{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Layer{
		cat:       cat,
		storage:   storage,
		logger:    opts.Logger,
		now:       opts.Now,
		transport: transport,
		overlay:   NewOverlay(),
		onChange:  opts.OnChange,
	}
}

// Start reapplies the locally stored overlay, then joins the room. The layer
// subscribes before joining so the room's initial state is not missed. A
// failed join is logged and the layer continues on the stub.
func (l *Layer) Start(ctx context.Context) error {
	l.loadLocal(ctx)

	l.mu.Lock()
	transport := l.transport
	l.mu.Unlock()

	unsubscribe := transport.SubscribeRoomState(l.handleState)
	if err := transport.Init(ctx); err != nil {
		l.logger.Printf("shared: room unavailable, continuing offline: %v", err)
		unsubscribe()
		transport = &room.Stub{Peer: transport.PeerID()}
		unsubscribe = transport.SubscribeRoomState(l.handleState)
	}

	l.mu.Lock()
	l.transport = transport
	l.unsubscribe = unsubscribe
	l.mu.Unlock()
	return nil
}

// Connected reports whether a real room transport is in use.
func (l *Layer) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, stub := l.transport.(*room.Stub)
	return !stub
}

func (l *Layer) PeerID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transport.PeerID()
}

func (l *Layer) loadLocal(ctx context.Context) {
	if l.storage == nil {
		return
	}
	raw, ok, err := l.storage.Get(ctx, store.KeySharedEdits)
	if err != nil {
		l.logger.Printf("shared: reading local edits: %v", err)
		return
	}
	if !ok {
		return
	}
	var saved Overlay
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		l.logger.Printf("shared: discarding unreadable local edits: %v", err)
		return
	}
	l.merge(ctx, saved, false)
}

func (l *Layer) handleState(state room.State) {
	l.merge(context.Background(), FromState(state), true)
}

func (l *Layer) merge(ctx context.Context, incoming Overlay, persist bool) {
	l.mu.Lock()
	l.overlay = Merge(l.overlay, incoming)
	changed := Apply(l.cat, incoming)
	snapshot := l.overlay.Clone()
	onChange := l.onChange
	l.mu.Unlock()

	if persist {
		l.persist(ctx, snapshot)
	}
	if len(changed) > 0 && onChange != nil {
		onChange(changed)
	}
}

func (l *Layer) persist(ctx context.Context, o Overlay) {
	if l.storage == nil {
		return
	}
	data, err := json.Marshal(o)
	if err != nil {
		l.logger.Printf("shared: encoding local edits: %v", err)
		return
	}
	if err := l.storage.Set(ctx, store.KeySharedEdits, string(data)); err != nil {
		l.logger.Printf("shared: saving local edits: %v", err)
	}
}

// EditNPC applies edit locally and publishes it to the room. The published
// value carries every field this peer has set for the NPC so a later edit of
// another field does not drop it.
func (l *Layer) EditNPC(ctx context.Context, npcID string, edit catalog.FieldEdit) error {
	if edit.IsZero() {
		return ErrEmptyEdit
	}
	rec, ok := l.cat.ByID(npcID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNPC, npcID)
	}

	l.merge(ctx, Overlay{NPCs: map[string]catalog.FieldEdit{rec.ID: edit}}, true)

	l.mu.Lock()
	published := l.overlay.NPCs[rec.ID]
	transport := l.transport
	l.mu.Unlock()

	data, err := json.Marshal(published)
	if err != nil {
		return fmt.Errorf("encoding npc edit: %w", err)
	}
	if err := transport.UpdateRoomState(ctx, room.State{npcStateKey(rec.ID): data}); err != nil {
		l.logger.Printf("shared: publishing edit for %s: %v", rec.ID, err)
	}
	return nil
}

// AddInsight stores a note about an NPC and shares it with the room. It
// returns the insight key.
func (l *Layer) AddInsight(ctx context.Context, npcID, text, author string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInsight
	}
	rec, ok := l.cat.ByID(npcID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownNPC, npcID)
	}

	l.mu.Lock()
	transport := l.transport
	l.mu.Unlock()

	now := l.now()
	if author == "" {
		author = transport.PeerID()
	}
	key := InsightKey(transport.PeerID(), now)
	in := Insight{Text: text, Author: author, Timestamp: now.UnixMilli()}

	l.merge(ctx, Overlay{Insights: map[string]map[string]Insight{rec.ID: {key: in}}}, true)

	data, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encoding insight: %w", err)
	}
	if err := transport.UpdateRoomState(ctx, room.State{insightStateKey(rec.ID, key): data}); err != nil {
		l.logger.Printf("shared: publishing insight for %s: %v", rec.ID, err)
	}
	return key, nil
}

// Insights returns the most recent insights for an NPC, newest first.
func (l *Layer) Insights(npcID string) []Insight {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.cat.ByID(npcID); ok {
		npcID = rec.ID
	}
	return Recent(l.overlay, npcID, RecentInsights)
}

// Announce broadcasts a short event to the other peers.
func (l *Layer) Announce(ctx context.Context, kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		l.logger.Printf("shared: encoding %s announcement: %v", kind, err)
		return
	}
	l.mu.Lock()
	transport := l.transport
	l.mu.Unlock()
	if err := transport.Send(ctx, room.Message{Type: kind, Data: data}); err != nil {
		l.logger.Printf("shared: announcing %s: %v", kind, err)
	}
}

// UpdatePresence shares which NPC this peer is currently seeing.
func (l *Layer) UpdatePresence(ctx context.Context, npcID string) {
	l.mu.Lock()
	transport := l.transport
	l.mu.Unlock()
	if err := transport.UpdatePresence(ctx, map[string]string{"npc": npcID}); err != nil {
		l.logger.Printf("shared: presence: %v", err)
	}
}

func (l *Layer) Overlay() Overlay {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overlay.Clone()
}

func (l *Layer) Close() error {
	l.mu.Lock()
	unsubscribe := l.unsubscribe
	transport := l.transport
	l.unsubscribe = nil
	l.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	return transport.Close()
}
