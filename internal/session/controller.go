// Package session drives a single NPC conversation from selection through
// conclusion. Every state change goes through Controller, which serialises
// mutations behind one lock and never holds it across a backend call.
package session

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"sessioncore/internal/backend"
	"sessioncore/internal/catalog"
	"sessioncore/internal/gameerr"
	"sessioncore/internal/progress"
)

const (
	SideActivityTurn = 2
	MiniGameTurn     = 2
	ConcludeTurn     = 3
	ConcludeBond     = 3
	// AbandonConfirmMessages is the non-system message count from which
	// abandoning needs confirmation.
	AbandonConfirmMessages = 3
)

var thoughtImageTurns = map[int]bool{3: true, 6: true}

// SaveRequester asks for a coalesced autosave.
type SaveRequester interface {
	Request() bool
}

type Options struct {
	Chatter  backend.Chatter
	Speaker  backend.Speaker
	Listener backend.Listener
	Prober   backend.Prober
	Policy   backend.Policy

	Autosave SaveRequester
	Storage  Storage

	// MiniGameNPC is the id of the NPC whose second turn opens the mini-game.
	MiniGameNPC string
	Pairs       int
	MaxMoves    int

	Logger *log.Logger
	Now    func() time.Time
	Rand   *rand.Rand
}

type Controller struct {
	cat      *catalog.Catalog
	progress *progress.Tracker

	chatter  backend.Chatter
	speaker  backend.Speaker
	listener backend.Listener
	prober   backend.Prober
	policy   backend.Policy
	autosave SaveRequester
	storage  Storage

	miniGameNPC string
	pairs       int
	maxMoves    int

	logger *log.Logger
	now    func() time.Time

	mu               sync.Mutex
	st               state
	rng              *rand.Rand
	firstSessionDone bool
	miniGameUsed     bool
	settings         Settings

	subsMu  sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

func New(cat *catalog.Catalog, tracker *progress.Tracker, opts Options) *Controller {
	if opts.Chatter == nil {
		opts.Chatter = backend.Offline{}
	}
	if opts.Speaker == nil {
		opts.Speaker = backend.Offline{}
	}
	if opts.Listener == nil {
		opts.Listener = backend.Offline{}
	}
	if opts.Prober == nil {
		opts.Prober = backend.Offline{}
	}
	if opts.Policy.Timeouts == nil {
		logger := opts.Policy.Logger
		opts.Policy = backend.DefaultPolicy()
		opts.Policy.Logger = logger
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Policy.Logger == nil {
		opts.Policy.Logger = opts.Logger
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		opts.Rand = rand.New(rand.NewPCG(seed, seed>>1))
	}
	if opts.Pairs <= 0 {
		opts.Pairs = DefaultPairs
	}
	if opts.MaxMoves <= 0 {
		opts.MaxMoves = DefaultMaxMoves
	}
	return &Controller{
		cat:         cat,
		progress:    tracker,
		chatter:     opts.Chatter,
		speaker:     opts.Speaker,
		listener:    opts.Listener,
		prober:      opts.Prober,
		policy:      opts.Policy,
		autosave:    opts.Autosave,
		storage:     opts.Storage,
		miniGameNPC: opts.MiniGameNPC,
		pairs:       opts.Pairs,
		maxMoves:    opts.MaxMoves,
		logger:      opts.Logger,
		now:         opts.Now,
		rng:         opts.Rand,
		subs:        map[int]func(Event){},
	}
}

// LoadSettings reads persisted settings, keeping the defaults when none are
// stored.
func (c *Controller) LoadSettings(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadSettings(ctx)
}

func (c *Controller) Progress() *progress.Tracker { return c.progress }

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.phase
}

// InSession reports whether a conversation is open.
func (c *Controller) InSession() bool {
	return c.Phase() != PhaseIdle
}

// move changes phase through the transition table. Callers hold c.mu.
func (c *Controller) move(to Phase) error {
	if !canTransition(c.st.phase, to) {
		err := &PhaseError{Op: "transition to " + to.String(), Phase: c.st.phase}
		c.logger.Printf("session: %v", err)
		return err
	}
	c.st.phase = to
	if to == PhaseIdle {
		c.st.conv = nil
	}
	return nil
}

func (c *Controller) requestSave() {
	if c.autosave != nil {
		c.autosave.Request()
	}
}

// SelectNPC opens a session with the NPC at index. The first session of the
// controller's lifetime stops at the permission gate.
func (c *Controller) SelectNPC(ctx context.Context, index int) (Phase, error) {
	c.mu.Lock()
	if c.st.phase != PhaseIdle {
		p := c.st.phase
		c.mu.Unlock()
		return p, &PhaseError{Op: "select_npc", Phase: p}
	}
	rec, ok := c.cat.ByIndex(index)
	if !ok {
		c.mu.Unlock()
		return PhaseIdle, fmt.Errorf("%w: index %d", ErrUnknownNPC, index)
	}
	if !c.progress.IsUnlocked(index) {
		c.mu.Unlock()
		return PhaseIdle, fmt.Errorf("%w: %s", ErrLocked, rec.ID)
	}

	c.progress.EnsureBond(rec.ID)
	conv := &conversation{
		token:     ulid.Make().String(),
		index:     index,
		npc:       rec,
		startedAt: c.now(),
	}

	if !c.firstSessionDone {
		if err := c.move(PhasePermissionGate); err != nil {
			c.mu.Unlock()
			return PhaseIdle, err
		}
		c.st.conv = conv
		c.mu.Unlock()
		c.emit(Event{Type: EventPermissionRequested, Token: conv.token, NPCID: rec.ID, Index: index})
		return PhasePermissionGate, nil
	}

	events, err := c.beginLocked(conv)
	settings := c.settings
	c.mu.Unlock()
	if err != nil {
		return PhaseIdle, err
	}
	c.emit(events...)
	c.speak(ctx, conv.token, rec, openingOf(events), settings)
	return PhaseActive, nil
}

// beginLocked moves conv into the Active phase and seeds its history.
func (c *Controller) beginLocked(conv *conversation) ([]Event, error) {
	if err := c.move(PhaseActive); err != nil {
		return nil, err
	}
	c.st.conv = conv

	now := c.now()
	if conv.npc.Session != "" {
		conv.history = append(conv.history, progress.Message{Role: progress.RoleSystem, Content: "Session focus: " + conv.npc.Session, Timestamp: now})
	}
	opening := conv.npc.OpeningStatement
	if opening == "" {
		opening = "*sits down and waits for you to begin*"
	}
	msg := progress.Message{Role: progress.RoleAssistant, Content: opening, Timestamp: now}
	conv.history = append(conv.history, msg)

	return []Event{
		{Type: EventSessionStarted, Token: conv.token, NPCID: conv.npc.ID, Index: conv.index, Bond: c.progress.Bond(conv.npc.ID)},
		{Type: EventMessage, Token: conv.token, NPCID: conv.npc.ID, Index: conv.index, Message: &msg},
	}, nil
}

func openingOf(events []Event) string {
	for _, ev := range events {
		if ev.Type == EventMessage && ev.Message != nil {
			return ev.Message.Content
		}
	}
	return ""
}

// ChoosePermission resolves the permission gate. When voice features are
// allowed the device capabilities are probed and settings follow what is
// actually available.
func (c *Controller) ChoosePermission(ctx context.Context, allow bool) error {
	c.mu.Lock()
	if c.st.phase != PhasePermissionGate {
		p := c.st.phase
		c.mu.Unlock()
		return &PhaseError{Op: "choose_permission", Phase: p}
	}
	token := c.st.conv.token
	c.mu.Unlock()

	var caps backend.Capabilities
	var probeErr error
	if allow {
		caps, probeErr = backend.Call(ctx, c.policy, backend.KindProbe, c.prober.Probe, backend.Capabilities{})
	}

	c.mu.Lock()
	if c.st.phase != PhasePermissionGate || c.st.conv.token != token {
		c.mu.Unlock()
		c.logger.Printf("session: permission choice for %s arrived after the gate closed", token)
		return ErrStaleSession
	}
	c.firstSessionDone = true
	c.settings = Settings{Voice: allow && caps.SpeechSynthesis, Listening: allow && caps.Microphone}
	settings := c.settings
	conv := c.st.conv
	events, err := c.beginLocked(conv)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.saveSettings(ctx, settings)
	if allow && (probeErr != nil || !caps.SpeechSynthesis || !caps.Microphone) {
		events = append(events, toast("Some voice features are unavailable; continuing with what works."))
	}
	c.emit(events...)
	c.speak(ctx, token, conv.npc, openingOf(events), settings)
	return nil
}

// speak voices text when voice is on. An empty audio reference in the event
// means local synthesis.
func (c *Controller) speak(ctx context.Context, token string, rec catalog.Record, text string, settings Settings) {
	if !settings.Voice {
		return
	}
	ref, _ := backend.Call(ctx, c.policy, backend.KindSpeech, func(ctx context.Context) (string, error) {
		return c.speaker.Speak(ctx, text, voiceFor(rec))
	}, "")
	if !c.current(token) {
		return
	}
	c.emit(Event{Type: EventSpeech, Token: token, NPCID: rec.ID, AudioRef: ref, Text: text})
}

// current reports whether token still names the open conversation.
func (c *Controller) current(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked(token)
}

// Abandon leaves the session without analysis. When meaningful progress
// exists it returns ErrConfirmationRequired unless confirmed is set.
func (c *Controller) Abandon(confirmed bool) error {
	c.mu.Lock()
	switch c.st.phase {
	case PhasePermissionGate, PhaseActive, PhaseMiniGame:
	default:
		p := c.st.phase
		c.mu.Unlock()
		return &PhaseError{Op: "abandon", Phase: p}
	}
	conv := c.st.conv
	meaningful := conv.nonSystemMessages() >= AbandonConfirmMessages || conv.generating || c.st.phase == PhaseMiniGame
	if meaningful && !confirmed {
		c.mu.Unlock()
		return ErrConfirmationRequired
	}
	if err := c.move(PhaseIdle); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.emit(Event{Type: EventSessionAbandoned, Token: conv.token, NPCID: conv.npc.ID, Index: conv.index, Turn: conv.turns})
	c.requestSave()
	return nil
}

// NewGame resets progression. It is only allowed between sessions.
func (c *Controller) NewGame() error {
	c.mu.Lock()
	if c.st.phase != PhaseIdle {
		p := c.st.phase
		c.mu.Unlock()
		return &PhaseError{Op: "new_game", Phase: p}
	}
	c.progress.ResetForNewGame()
	c.progress.StartClock(c.now())
	c.miniGameUsed = false
	unlocked := c.progress.Snapshot().Unlocked
	c.mu.Unlock()

	c.emit(Event{Type: EventNewGame, Unlocked: unlocked})
	c.requestSave()
	return nil
}

// Restore replaces progression with snap, typically from an imported code.
func (c *Controller) Restore(snap progress.Snapshot) error {
	c.mu.Lock()
	if c.st.phase != PhaseIdle {
		p := c.st.phase
		c.mu.Unlock()
		return &PhaseError{Op: "restore", Phase: p}
	}
	c.progress.Restore(snap, c.now())
	c.mu.Unlock()
	c.requestSave()
	return nil
}

// Tick syncs the play clock and grants the time award once it is due.
func (c *Controller) Tick(now time.Time) []int {
	unlocked := c.progress.CheckTimeAward(now)
	if len(unlocked) == 0 {
		return nil
	}
	c.emit(
		Event{Type: EventNPCsUnlocked, Unlocked: unlocked},
		toast("New patients are waiting for you."),
	)
	c.requestSave()
	return unlocked
}

// StartListening forwards final transcripts as messages when listening is
// enabled.
func (c *Controller) StartListening(ctx context.Context) error {
	if !c.Settings().Listening {
		return nil
	}
	onTranscript := func(tr backend.Transcript) {
		if !tr.Final {
			c.emit(Event{Type: EventTranscript, Text: tr.Text})
			return
		}
		if _, err := c.SendMessage(ctx, tr.Text); err != nil {
			c.logger.Printf("session: dropping spoken message: %v", err)
		}
	}
	_, err := backend.Call(ctx, c.policy, backend.KindProbe, func(context.Context) (struct{}, error) {
		return struct{}{}, c.listener.StartListening(ctx, onTranscript)
	}, struct{}{})
	if err != nil {
		c.emit(toast(gameerr.UserMessage(gameerr.BackendUnavailable)))
	}
	return err
}

func (c *Controller) StopListening() error {
	return c.listener.Stop()
}
