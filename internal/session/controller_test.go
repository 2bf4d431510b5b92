package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sessioncore/internal/backend"
	"sessioncore/internal/catalog"
	"sessioncore/internal/progress"
	"sessioncore/internal/store"
	"sessioncore/internal/store/memory"
)

type fakeChatter struct {
	mu          sync.Mutex
	chatReply   string
	chatErr     error
	bondReply   string
	bondErr     error
	analysis    string
	analysisErr error

	// block, when set, holds Chat until it is closed.
	block   chan struct{}
	started chan struct{}

	chatCalls int
	lastInfo  backend.ChatContext
}

func (f *fakeChatter) Chat(ctx context.Context, npcID, message string, info backend.ChatContext) (string, error) {
	f.mu.Lock()
	f.chatCalls++
	f.lastInfo = info
	block, started := f.block, f.started
	reply, err := f.chatReply, f.chatErr
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return reply, err
}

func (f *fakeChatter) Complete(ctx context.Context, messages []progress.Message, opts backend.CompleteOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if opts.JSON {
		return f.analysis, f.analysisErr
	}
	return f.bondReply, f.bondErr
}

type fakeProber struct {
	caps backend.Capabilities
	err  error
}

func (p fakeProber) Probe(context.Context) (backend.Capabilities, error) { return p.caps, p.err }

type fakeSpeaker struct{ calls atomic.Int32 }

func (s *fakeSpeaker) Speak(ctx context.Context, text, voiceID string) (string, error) {
	s.calls.Add(1)
	return "audio/" + voiceID, nil
}

type countingSaver struct{ n atomic.Int32 }

func (s *countingSaver) Request() bool {
	s.n.Add(1)
	return true
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) has(t EventType) bool {
	for _, got := range r.types() {
		if got == t {
			return true
		}
	}
	return false
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type harness struct {
	ctrl    *Controller
	tracker *progress.Tracker
	chatter *fakeChatter
	saver   *countingSaver
	storage *memory.Client
	events  *recorder
	logs    *bytes.Buffer
	now     time.Time
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	records := []catalog.Record{
		{ID: "marla", Name: "Marla", Gender: "female", OpeningStatement: "I don't know why I'm here.", Session: "First visit"},
		{ID: "bram", Name: "Bram", Gender: "male", OpeningStatement: "The hills are too quiet."},
		{ID: "ines", Name: "Ines"},
		{ID: "oskar", Name: "Oskar"},
		{ID: "the-architect", Name: "The Architect"},
	}
	cat, err := catalog.New(records, []string{"the-architect"})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	h := &harness{
		chatter: &fakeChatter{chatReply: "I hear you.", bondReply: "0"},
		saver:   &countingSaver{},
		storage: memory.New(),
		events:  &recorder{},
		logs:    &bytes.Buffer{},
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	logger := log.New(h.logs, "", 0)
	clock := func() time.Time { return h.now }
	h.tracker = progress.New(cat, progress.Options{AwardAfter: 20 * time.Minute, Logger: logger, Now: clock})

	if opts.Chatter == nil {
		opts.Chatter = h.chatter
	}
	opts.Policy = backend.Policy{
		Timeouts: map[backend.Kind]time.Duration{
			backend.KindChat:       2 * time.Second,
			backend.KindCompletion: 2 * time.Second,
			backend.KindSpeech:     time.Second,
			backend.KindProbe:      time.Second,
			backend.KindBond:       time.Second,
		},
		Logger: logger,
	}
	opts.Autosave = h.saver
	opts.Storage = h.storage
	opts.Logger = logger
	opts.Now = clock
	opts.Rand = rand.New(rand.NewPCG(1, 2))

	h.ctrl = New(cat, h.tracker, opts)
	h.ctrl.Subscribe(h.events.record)
	return h
}

// open starts a session at index, passing the permission gate if needed.
func (h *harness) open(t *testing.T, index int) {
	t.Helper()
	phase, err := h.ctrl.SelectNPC(context.Background(), index)
	if err != nil {
		t.Fatalf("select %d: %v", index, err)
	}
	if phase == PhasePermissionGate {
		if err := h.ctrl.ChoosePermission(context.Background(), false); err != nil {
			t.Fatalf("choose permission: %v", err)
		}
	}
	if got := h.ctrl.Phase(); got != PhaseActive {
		t.Fatalf("phase = %s, want active", got)
	}
}

func (h *harness) send(t *testing.T, text string) Reply {
	t.Helper()
	reply, err := h.ctrl.SendMessage(context.Background(), text)
	if err != nil {
		t.Fatalf("send %q: %v", text, err)
	}
	return reply
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseIdle, PhasePermissionGate, true},
		{PhaseIdle, PhaseActive, true},
		{PhaseIdle, PhaseConcluding, false},
		{PhasePermissionGate, PhaseActive, true},
		{PhaseActive, PhaseMiniGame, true},
		{PhaseActive, PhaseConcluding, true},
		{PhaseActive, PhaseIdle, true},
		{PhaseMiniGame, PhaseActive, true},
		{PhaseMiniGame, PhaseConcluding, false},
		{PhaseConcluding, PhaseIdle, true},
		{PhaseConcluding, PhaseActive, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := canTransition(tt.from, tt.to); got != tt.ok {
				t.Fatalf("canTransition = %v, want %v", got, tt.ok)
			}
		})
	}
}

func TestSelectNPC_FirstSessionStopsAtPermissionGate(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	phase, err := h.ctrl.SelectNPC(ctx, 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if phase != PhasePermissionGate {
		t.Fatalf("phase = %s, want permission_gate", phase)
	}
	if _, err := h.ctrl.SendMessage(ctx, "hello"); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("send at gate: expected ErrInvalidPhase, got %v", err)
	}
	if err := h.ctrl.ChoosePermission(ctx, false); err != nil {
		t.Fatalf("choose: %v", err)
	}
	view := h.ctrl.Snapshot()
	if view.Phase != PhaseActive || view.NPCID != "marla" {
		t.Fatalf("view = %+v", view)
	}
	if view.Settings.Voice || view.Settings.Listening {
		t.Fatalf("text-only choice should disable voice: %+v", view.Settings)
	}
	last := view.History[len(view.History)-1]
	if last.Role != progress.RoleAssistant || last.Content != "I don't know why I'm here." {
		t.Fatalf("opening = %+v", last)
	}
	if view.History[0].Role != progress.RoleSystem {
		t.Fatalf("expected session focus system message first: %+v", view.History[0])
	}

	if err := h.ctrl.Abandon(false); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	phase, err = h.ctrl.SelectNPC(ctx, 1)
	if err != nil {
		t.Fatalf("second select: %v", err)
	}
	if phase != PhaseActive {
		t.Fatalf("second session should skip the gate, got %s", phase)
	}
	want := []EventType{EventPermissionRequested, EventSessionStarted, EventMessage, EventSessionAbandoned, EventSessionStarted, EventMessage}
	if got := h.events.types(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestSelectNPC_Rejections(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	if _, err := h.ctrl.SelectNPC(ctx, 4); !errors.Is(err, ErrLocked) {
		t.Fatalf("finale: expected ErrLocked, got %v", err)
	}
	if _, err := h.ctrl.SelectNPC(ctx, 9); !errors.Is(err, ErrUnknownNPC) {
		t.Fatalf("out of range: expected ErrUnknownNPC, got %v", err)
	}
	h.open(t, 0)
	_, err := h.ctrl.SelectNPC(ctx, 1)
	var pe *PhaseError
	if !errors.As(err, &pe) || pe.Phase != PhaseActive {
		t.Fatalf("expected PhaseError while active, got %v", err)
	}
}

func TestChoosePermission_FollowsCapabilities(t *testing.T) {
	speaker := &fakeSpeaker{}
	h := newHarness(t, Options{
		Prober:  fakeProber{caps: backend.Capabilities{SpeechSynthesis: true}},
		Speaker: speaker,
	})
	ctx := context.Background()

	if _, err := h.ctrl.SelectNPC(ctx, 0); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := h.ctrl.ChoosePermission(ctx, true); err != nil {
		t.Fatalf("choose: %v", err)
	}
	s := h.ctrl.Settings()
	if !s.Voice || s.Listening {
		t.Fatalf("settings = %+v, want voice only", s)
	}
	raw, ok, err := h.storage.Get(ctx, store.KeySettings)
	if err != nil || !ok {
		t.Fatalf("settings not persisted: ok=%v err=%v", ok, err)
	}
	if raw != `{"voice":true,"listening":false}` {
		t.Fatalf("stored settings = %s", raw)
	}
	if !h.events.has(EventToast) {
		t.Fatalf("missing microphone should raise a toast: %v", h.events.types())
	}
	if speaker.calls.Load() != 1 || !h.events.has(EventSpeech) {
		t.Fatalf("opening should be voiced once, calls=%d", speaker.calls.Load())
	}

	fresh := New(h.ctrl.cat, h.tracker, Options{Storage: h.storage, Logger: log.New(&bytes.Buffer{}, "", 0)})
	fresh.LoadSettings(ctx)
	if got := fresh.Settings(); got != s {
		t.Fatalf("reloaded settings = %+v, want %+v", got, s)
	}
}

func TestSendMessage_TurnHooks(t *testing.T) {
	h := newHarness(t, Options{})
	h.open(t, 0)
	h.events.reset()

	r1 := h.send(t, "How are you today?")
	if r1.Turn != 1 || r1.ConcludeAvailable || r1.Text != "I hear you." {
		t.Fatalf("turn 1 reply = %+v", r1)
	}
	if h.events.has(EventSideActivityOffered) {
		t.Fatalf("side activity offered too early")
	}

	h.send(t, "Tell me more.")
	if !h.events.has(EventSideActivityOffered) {
		t.Fatalf("turn 2 should offer the side activity: %v", h.events.types())
	}
	if h.events.has(EventThoughtImage) {
		t.Fatalf("thought image before turn 3")
	}

	r3 := h.send(t, "What happened next?")
	if !r3.ConcludeAvailable {
		t.Fatalf("turn 3 should make conclude available")
	}
	if !h.events.has(EventThoughtImage) || !h.events.has(EventConcludeAvailable) {
		t.Fatalf("turn 3 events = %v", h.events.types())
	}

	h.events.reset()
	h.send(t, "Four.")
	h.send(t, "Five.")
	h.send(t, "Six.")
	thoughts := 0
	for _, ty := range h.events.types() {
		switch ty {
		case EventThoughtImage:
			thoughts++
		case EventConcludeAvailable:
			t.Fatalf("conclude_available should fire once per session")
		}
	}
	if thoughts != 1 {
		t.Fatalf("thought images after turn 3 = %d, want 1 (turn 6)", thoughts)
	}
}

func TestSendMessage_BondUnlocksConclude(t *testing.T) {
	h := newHarness(t, Options{})
	h.chatter.bondReply = "2"
	h.open(t, 0)

	r1 := h.send(t, "That sounds really hard.")
	if r1.Bond != 2 || r1.BondDelta != 2 || r1.ConcludeAvailable {
		t.Fatalf("turn 1 = %+v", r1)
	}
	r2 := h.send(t, "Thank you for trusting me.")
	if r2.Bond != 4 || !r2.ConcludeAvailable {
		t.Fatalf("turn 2 = %+v, want bond 4 and conclude available", r2)
	}
	if got := h.tracker.Bond("marla"); got != 4 {
		t.Fatalf("tracked bond = %d", got)
	}
	if h.chatter.lastInfo.Bond != 4 || !strings.Contains(h.chatter.lastInfo.Persona, "Marla") {
		t.Fatalf("chat context = %+v", h.chatter.lastInfo)
	}
}

func TestSendMessage_FallbacksWhenBackendFails(t *testing.T) {
	h := newHarness(t, Options{})
	h.chatter.chatErr = errors.New("503")
	h.chatter.bondErr = errors.New("503")
	h.open(t, 0)

	reply := h.send(t, "I understand, and I hear how you feel.")
	if !reply.Fallback || reply.Text != fallbackLine(1) {
		t.Fatalf("reply = %+v, want fallback line", reply)
	}
	if reply.BondDelta != 2 {
		t.Fatalf("keyword fallback delta = %d, want 2", reply.BondDelta)
	}
	if h.ctrl.Phase() != PhaseActive || h.ctrl.Snapshot().Generating {
		t.Fatalf("controller should be ready for the next turn")
	}
}

func TestSendMessage_RejectsOverlap(t *testing.T) {
	h := newHarness(t, Options{})
	h.open(t, 0)
	h.chatter.block = make(chan struct{})
	h.chatter.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.SendMessage(context.Background(), "first")
		done <- err
	}()
	<-h.chatter.started

	if _, err := h.ctrl.SendMessage(context.Background(), "second"); !errors.Is(err, ErrGenerationInFlight) {
		t.Fatalf("expected ErrGenerationInFlight, got %v", err)
	}
	if _, err := h.ctrl.Conclude(context.Background()); !errors.Is(err, ErrGenerationInFlight) {
		t.Fatalf("conclude during generation: %v", err)
	}
	if err := h.ctrl.Abandon(false); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("abandon during generation should need confirmation, got %v", err)
	}

	close(h.chatter.block)
	if err := <-done; err != nil {
		t.Fatalf("first send: %v", err)
	}
	if got := h.ctrl.Snapshot().Turn; got != 1 {
		t.Fatalf("turn = %d, want 1", got)
	}
}

func TestSendMessage_DiscardsStaleResponse(t *testing.T) {
	h := newHarness(t, Options{})
	h.open(t, 0)
	h.chatter.block = make(chan struct{})
	h.chatter.started = make(chan struct{}, 1)
	h.chatter.chatReply = "late answer"

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.SendMessage(context.Background(), "are you there?")
		done <- err
	}()
	<-h.chatter.started

	if err := h.ctrl.Abandon(true); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	h.chatter.mu.Lock()
	h.chatter.started = nil
	h.chatter.mu.Unlock()
	if _, err := h.ctrl.SelectNPC(context.Background(), 1); err != nil {
		t.Fatalf("select next: %v", err)
	}
	close(h.chatter.block)

	if err := <-done; !errors.Is(err, ErrStaleSession) {
		t.Fatalf("expected ErrStaleSession, got %v", err)
	}
	for _, m := range h.ctrl.Snapshot().History {
		if m.Content == "late answer" {
			t.Fatalf("stale reply leaked into the new session")
		}
	}
	if !strings.Contains(h.logs.String(), "discarding stale response") {
		t.Fatalf("stale discard not logged: %s", h.logs.String())
	}
}

func TestMiniGameInterrupt(t *testing.T) {
	h := newHarness(t, Options{MiniGameNPC: "Bram"})
	ctx := context.Background()
	h.open(t, 1)

	h.send(t, "Hello Bram.")
	r2 := h.send(t, "What's on your mind?")
	if !r2.MiniGame || r2.Text != "" {
		t.Fatalf("turn 2 = %+v, want mini-game interrupt", r2)
	}
	if h.ctrl.Phase() != PhaseMiniGame {
		t.Fatalf("phase = %s", h.ctrl.Phase())
	}
	if h.events.has(EventSideActivityOffered) {
		t.Fatalf("interrupt replaces the side activity offer")
	}
	if _, err := h.ctrl.SendMessage(ctx, "hello?"); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("send during mini-game: %v", err)
	}
	if err := h.ctrl.Abandon(false); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("abandon during mini-game should need confirmation, got %v", err)
	}

	if err := h.ctrl.CompleteMiniGame(false); err != nil {
		t.Fatalf("complete: %v", err)
	}
	view := h.ctrl.Snapshot()
	if view.Phase != PhaseActive || view.Turn != 2 {
		t.Fatalf("after mini-game: phase=%s turn=%d", view.Phase, view.Turn)
	}
	if last := view.History[len(view.History)-1]; last.Content != miniGameLine("Bram", false) {
		t.Fatalf("outcome line = %q", last.Content)
	}

	if err := h.ctrl.Abandon(true); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	h.open(t, 1)
	h.send(t, "Back again.")
	if r := h.send(t, "Still quiet?"); r.MiniGame {
		t.Fatalf("mini-game interrupt should only happen once per game")
	}
}

func TestStartMiniGame_SideActivity(t *testing.T) {
	h := newHarness(t, Options{Pairs: 3, MaxMoves: 6})
	h.open(t, 0)

	if _, err := h.ctrl.StartMiniGame(); !errors.Is(err, ErrMiniGameUnavailable) {
		t.Fatalf("before offer: %v", err)
	}
	h.send(t, "One.")
	h.send(t, "Two.")

	view, err := h.ctrl.StartMiniGame()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(view.Board) != 6 || view.Board[0] != "?" {
		t.Fatalf("board = %v", view.Board)
	}

	h.ctrl.mu.Lock()
	cards := append([]string(nil), h.ctrl.st.conv.miniGame.cards...)
	h.ctrl.mu.Unlock()

	var last FlipResult
	for i := range cards {
		for j := i + 1; j < len(cards); j++ {
			if cards[i] == cards[j] {
				if last, err = h.ctrl.FlipCards(i, j); err != nil {
					t.Fatalf("flip %d,%d: %v", i, j, err)
				}
			}
		}
	}
	if !last.Done || !last.Success {
		t.Fatalf("last flip = %+v", last)
	}
	if h.ctrl.Phase() != PhaseActive {
		t.Fatalf("finished board should return to active")
	}
	hist := h.ctrl.Snapshot().History
	if hist[len(hist)-1].Content != miniGameLine("Marla", true) {
		t.Fatalf("outcome line = %q", hist[len(hist)-1].Content)
	}
	if _, err := h.ctrl.StartMiniGame(); !errors.Is(err, ErrMiniGameUnavailable) {
		t.Fatalf("side activity should not restart: %v", err)
	}
}

func TestConclude_Breakthrough(t *testing.T) {
	h := newHarness(t, Options{})
	h.chatter.analysis = "```json\n{\"breakthrough\": true, \"summary\": \"Marla named her fear.\", \"itemPrompt\": \"a brass key\"}\n```"
	h.open(t, 0)
	for i := 0; i < 3; i++ {
		h.send(t, "Go on.")
	}
	saves := h.saver.n.Load()

	out, err := h.ctrl.Conclude(context.Background())
	if err != nil {
		t.Fatalf("conclude: %v", err)
	}
	if out.Failed || !out.Healed || out.MentalState != progress.BreakthroughStrain {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Collectible == nil || out.Collectible.Prompt != "a brass key" || out.Collectible.NPC != "Marla" {
		t.Fatalf("collectible = %+v", out.Collectible)
	}
	if !h.tracker.IsHealed(0) {
		t.Fatalf("npc 0 should be healed")
	}
	if note, ok := h.tracker.Note("marla"); !ok || note.Summary != "Marla named her fear." {
		t.Fatalf("note = %+v ok=%v", note, ok)
	}
	arch, ok := h.tracker.Archive("marla")
	if !ok || len(arch.Messages) != 7 {
		t.Fatalf("archive = %+v ok=%v, want opening plus three exchanges", arch, ok)
	}
	if h.ctrl.Phase() != PhaseIdle {
		t.Fatalf("phase = %s", h.ctrl.Phase())
	}
	if h.saver.n.Load() != saves+1 {
		t.Fatalf("conclusion should request an autosave")
	}
	for _, want := range []EventType{EventSessionConcluded, EventNPCHealed, EventCollectibleAwarded} {
		if !h.events.has(want) {
			t.Fatalf("missing %s in %v", want, h.events.types())
		}
	}
}

func TestConclude_AnalysisFailureStillArchives(t *testing.T) {
	h := newHarness(t, Options{})
	h.chatter.analysisErr = errors.New("model overloaded")
	h.open(t, 0)
	for i := 0; i < 3; i++ {
		h.send(t, "Go on.")
	}

	out, err := h.ctrl.Conclude(context.Background())
	if err != nil {
		t.Fatalf("conclude: %v", err)
	}
	if !out.Failed || out.Healed || out.Collectible != nil {
		t.Fatalf("outcome = %+v", out)
	}
	if _, ok := h.tracker.Archive("marla"); !ok {
		t.Fatalf("archive should be written when analysis fails")
	}
	if _, ok := h.tracker.Note("marla"); ok {
		t.Fatalf("no note should be written on failure")
	}
	if h.tracker.MentalState() != 0 || h.tracker.IsHealed(0) {
		t.Fatalf("failure should skip rewards")
	}
	if h.ctrl.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want idle", h.ctrl.Phase())
	}
	if !h.events.has(EventToast) || h.events.has(EventNPCHealed) {
		t.Fatalf("events = %v", h.events.types())
	}
}

func TestConclude_UnparseableAnalysisIsFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.chatter.analysis = "Marla seemed better."
	h.open(t, 0)
	for i := 0; i < 3; i++ {
		h.send(t, "Go on.")
	}
	out, err := h.ctrl.Conclude(context.Background())
	if err != nil || !out.Failed {
		t.Fatalf("out=%+v err=%v", out, err)
	}
}

func TestConclude_NotYetAvailable(t *testing.T) {
	h := newHarness(t, Options{})
	h.open(t, 0)
	h.send(t, "Hi.")
	if _, err := h.ctrl.Conclude(context.Background()); !errors.Is(err, ErrConcludeUnavailable) {
		t.Fatalf("expected ErrConcludeUnavailable, got %v", err)
	}
	if h.ctrl.Phase() != PhaseActive {
		t.Fatalf("phase = %s", h.ctrl.Phase())
	}
}

func TestAbandon(t *testing.T) {
	h := newHarness(t, Options{})
	h.open(t, 0)
	if err := h.ctrl.Abandon(false); err != nil {
		t.Fatalf("fresh session should abandon without confirmation: %v", err)
	}

	h.open(t, 1)
	h.send(t, "Hello.")
	saves := h.saver.n.Load()
	if err := h.ctrl.Abandon(false); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
	if err := h.ctrl.Abandon(true); err != nil {
		t.Fatalf("confirmed abandon: %v", err)
	}
	if h.ctrl.Phase() != PhaseIdle {
		t.Fatalf("phase = %s", h.ctrl.Phase())
	}
	if _, ok := h.tracker.Archive("bram"); ok {
		t.Fatalf("abandon should not archive")
	}
	if h.saver.n.Load() != saves+1 {
		t.Fatalf("abandon should still request an autosave")
	}
	if err := h.ctrl.Abandon(true); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("abandon while idle: %v", err)
	}
}

func TestNewGame(t *testing.T) {
	h := newHarness(t, Options{})
	h.chatter.analysis = `{"breakthrough": true, "summary": "ok", "itemPrompt": ""}`
	h.open(t, 0)
	for i := 0; i < 3; i++ {
		h.send(t, "Go on.")
	}
	if err := h.ctrl.NewGame(); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("new game mid-session: %v", err)
	}
	if _, err := h.ctrl.Conclude(context.Background()); err != nil {
		t.Fatalf("conclude: %v", err)
	}

	if err := h.ctrl.NewGame(); err != nil {
		t.Fatalf("new game: %v", err)
	}
	if h.tracker.IsHealed(0) || h.tracker.IsUnlocked(4) {
		t.Fatalf("new game should reset heals and lock the finale")
	}
	if _, ok := h.tracker.Note("marla"); !ok {
		t.Fatalf("journal notes carry over")
	}
}

func TestTick_TimeAward(t *testing.T) {
	h := newHarness(t, Options{})
	if err := h.ctrl.NewGame(); err != nil {
		t.Fatalf("new game: %v", err)
	}
	if got := h.ctrl.Tick(h.now.Add(5 * time.Minute)); got != nil {
		t.Fatalf("early tick unlocked %v", got)
	}
	got := h.ctrl.Tick(h.now.Add(21 * time.Minute))
	if len(got) != 1 || got[0] != 4 {
		t.Fatalf("award unlocked %v, want [4]", got)
	}
	if !h.events.has(EventNPCsUnlocked) {
		t.Fatalf("missing npcs_unlocked event")
	}
	if again := h.ctrl.Tick(h.now.Add(30 * time.Minute)); again != nil {
		t.Fatalf("award granted twice: %v", again)
	}
}

func TestRestore_OnlyWhenIdle(t *testing.T) {
	h := newHarness(t, Options{})
	snap := progress.Snapshot{Healed: []int{0}, Unlocked: []int{0, 1, 2, 3, 4}, MentalState: 5}
	h.open(t, 0)
	if err := h.ctrl.Restore(snap); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("restore mid-session: %v", err)
	}
	if err := h.ctrl.Abandon(true); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if err := h.ctrl.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !h.tracker.IsHealed(0) || !h.tracker.IsUnlocked(4) {
		t.Fatalf("restored state not applied")
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	h := newHarness(t, Options{})
	var n atomic.Int32
	unsubscribe := h.ctrl.Subscribe(func(Event) { n.Add(1) })
	h.ctrl.Tick(h.now)
	_ = h.ctrl.NewGame()
	unsubscribe()
	_ = h.ctrl.NewGame()
	if n.Load() != 1 {
		t.Fatalf("events after unsubscribe: %d", n.Load())
	}
}

type fakeListener struct {
	mu      sync.Mutex
	err     error
	on      func(backend.Transcript)
	stopped bool
}

func (l *fakeListener) StartListening(ctx context.Context, onTranscript func(backend.Transcript)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.on = onTranscript
	l.stopped = false
	return nil
}

func (l *fakeListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	l.on = nil
	return nil
}

func (l *fakeListener) hear(tr backend.Transcript) {
	l.mu.Lock()
	on := l.on
	l.mu.Unlock()
	if on != nil {
		on(tr)
	}
}

func TestEnableListening_ForwardsFinalTranscripts(t *testing.T) {
	listener := &fakeListener{}
	h := newHarness(t, Options{Listener: listener})
	ctx := context.Background()
	h.open(t, 0)

	if err := h.ctrl.EnableListening(ctx, true); err != nil {
		t.Fatalf("enable listening: %v", err)
	}
	if !h.ctrl.Settings().Listening {
		t.Fatalf("listening should be on")
	}
	raw, _, _ := h.storage.Get(ctx, store.KeySettings)
	if raw != `{"voice":false,"listening":true}` {
		t.Fatalf("stored settings = %s", raw)
	}

	listener.hear(backend.Transcript{Text: "I keep"})
	if !h.events.has(EventTranscript) {
		t.Fatalf("partial transcript should be shown: %v", h.events.types())
	}
	listener.hear(backend.Transcript{Text: "I keep counting the waves.", Final: true})
	if h.chatter.chatCalls != 1 {
		t.Fatalf("final transcript should be sent, chat calls = %d", h.chatter.chatCalls)
	}

	if err := h.ctrl.EnableListening(ctx, false); err != nil {
		t.Fatalf("disable listening: %v", err)
	}
	if h.ctrl.Settings().Listening || !listener.stopped {
		t.Fatalf("listening should be stopped")
	}
}

func TestEnableListening_StaysOffWhenListenerFails(t *testing.T) {
	listener := &fakeListener{err: errors.New("no microphone")}
	h := newHarness(t, Options{Listener: listener})
	ctx := context.Background()

	if err := h.ctrl.EnableListening(ctx, true); err == nil {
		t.Fatalf("expected an error from a failing listener")
	}
	if h.ctrl.Settings().Listening {
		t.Fatalf("listening should fall back to off")
	}
	if !h.events.has(EventToast) {
		t.Fatalf("failure should raise a toast: %v", h.events.types())
	}
}

func TestSetSettings_Persists(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.ctrl.SetSettings(ctx, Settings{Voice: true})
	raw, ok, err := h.storage.Get(ctx, store.KeySettings)
	if err != nil || !ok || raw != `{"voice":true,"listening":false}` {
		t.Fatalf("stored settings = %q ok=%v err=%v", raw, ok, err)
	}
}
