package session

import (
	"context"
	"strings"

	"sessioncore/internal/backend"
	"sessioncore/internal/progress"
)

// Reply is the outcome of one conversation turn.
type Reply struct {
	Text              string
	Turn              int
	Bond              int
	BondDelta         int
	Fallback          bool
	ConcludeAvailable bool
	MiniGame          bool
}

// SendMessage runs one turn: the message is recorded and the scripted turn
// hooks fire before any backend call, then the bond is scored and the NPC
// answers. Only one turn may be in flight per session.
func (c *Controller) SendMessage(ctx context.Context, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.st.phase != PhaseActive {
		p := c.st.phase
		c.mu.Unlock()
		return Reply{}, &PhaseError{Op: "send_message", Phase: p}
	}
	conv := c.st.conv
	if conv.generating {
		c.mu.Unlock()
		return Reply{}, ErrGenerationInFlight
	}

	prior := conv.transcript()
	userMsg := progress.Message{Role: progress.RoleUser, Content: text, Timestamp: c.now()}
	conv.history = append(conv.history, userMsg)
	conv.turns++
	conv.generating = true
	turn, token, rec := conv.turns, conv.token, conv.npc

	events := []Event{{Type: EventMessage, Token: token, NPCID: rec.ID, Index: conv.index, Turn: turn, Message: &userMsg}}
	events = append(events, c.turnHooksLocked(conv)...)
	interrupted := c.st.phase == PhaseMiniGame
	c.mu.Unlock()
	c.emit(events...)

	delta, _ := backend.Call(ctx, c.policy, backend.KindBond, func(ctx context.Context) (int, error) {
		reply, err := c.chatter.Complete(ctx, []progress.Message{userMsg}, backend.CompleteOptions{System: bondSystem, MaxTokens: 8})
		if err != nil {
			return 0, err
		}
		return parseBondDelta(reply)
	}, keywordDelta(text))

	c.mu.Lock()
	if !c.currentLocked(token) {
		c.mu.Unlock()
		c.logger.Printf("session: discarding bond score for %s, session moved on", rec.ID)
		return Reply{}, ErrStaleSession
	}
	bond := c.progress.AdjustBond(rec.ID, delta)
	events = []Event{{Type: EventBondChanged, Token: token, NPCID: rec.ID, Index: conv.index, Turn: turn, Bond: bond, BondDelta: delta}}
	if !conv.concludeAvailable && bond >= ConcludeBond {
		conv.concludeAvailable = true
		events = append(events, Event{Type: EventConcludeAvailable, Token: token, NPCID: rec.ID, Index: conv.index, Turn: turn})
	}
	reply := Reply{Turn: turn, Bond: bond, BondDelta: delta, ConcludeAvailable: conv.concludeAvailable}
	if interrupted {
		conv.generating = false
		reply.MiniGame = true
		c.mu.Unlock()
		c.emit(events...)
		return reply, nil
	}
	info := backend.ChatContext{Persona: persona(rec, bond), History: prior, Bond: bond}
	c.mu.Unlock()
	c.emit(events...)

	answer, err := backend.Call(ctx, c.policy, backend.KindChat, func(ctx context.Context) (string, error) {
		return c.chatter.Chat(ctx, rec.ID, userMsg.Content, info)
	}, fallbackLine(turn))

	c.mu.Lock()
	if !c.currentLocked(token) {
		c.mu.Unlock()
		c.logger.Printf("session: discarding stale response for %s", rec.ID)
		return Reply{}, ErrStaleSession
	}
	msg := progress.Message{Role: progress.RoleAssistant, Content: answer, Timestamp: c.now()}
	conv.history = append(conv.history, msg)
	conv.generating = false
	reply.Text = answer
	reply.Fallback = err != nil
	reply.ConcludeAvailable = conv.concludeAvailable
	settings := c.settings
	c.mu.Unlock()

	c.emit(Event{Type: EventMessage, Token: token, NPCID: rec.ID, Index: conv.index, Turn: turn, Message: &msg})
	c.speak(ctx, token, rec, answer, settings)
	return reply, nil
}

func (c *Controller) currentLocked(token string) bool {
	return c.st.conv != nil && c.st.conv.token == token
}

// turnHooksLocked fires the scripted hooks for the turn just counted.
func (c *Controller) turnHooksLocked(conv *conversation) []Event {
	turn := conv.turns
	base := Event{Token: conv.token, NPCID: conv.npc.ID, Index: conv.index, Turn: turn}
	var events []Event

	switch {
	case turn == MiniGameTurn && c.isMiniGameNPC(conv.index) && !c.miniGameUsed:
		if err := c.startMiniGameLocked(conv); err == nil {
			c.miniGameUsed = true
			ev := base
			ev.Type = EventMiniGameStarted
			events = append(events, ev)
		}
	case turn == SideActivityTurn && !conv.sideOffered:
		conv.sideOffered = true
		ev := base
		ev.Type = EventSideActivityOffered
		events = append(events, ev)
	}

	if thoughtImageTurns[turn] {
		ev := base
		ev.Type = EventThoughtImage
		events = append(events, ev)
	}
	if turn >= ConcludeTurn && !conv.concludeAvailable {
		conv.concludeAvailable = true
		ev := base
		ev.Type = EventConcludeAvailable
		events = append(events, ev)
	}
	return events
}

func (c *Controller) isMiniGameNPC(index int) bool {
	if c.miniGameNPC == "" {
		return false
	}
	i, ok := c.cat.IndexOf(c.miniGameNPC)
	return ok && i == index
}

func (c *Controller) startMiniGameLocked(conv *conversation) error {
	if err := c.move(PhaseMiniGame); err != nil {
		return err
	}
	conv.miniGame = NewMiniGame(c.pairs, c.maxMoves, c.rng)
	return nil
}

// StartMiniGame takes up the side activity offered on turn two.
func (c *Controller) StartMiniGame() (MiniGameView, error) {
	c.mu.Lock()
	if c.st.phase != PhaseActive {
		p := c.st.phase
		c.mu.Unlock()
		return MiniGameView{}, &PhaseError{Op: "start_minigame", Phase: p}
	}
	conv := c.st.conv
	if conv.generating {
		c.mu.Unlock()
		return MiniGameView{}, ErrGenerationInFlight
	}
	if !conv.sideOffered {
		c.mu.Unlock()
		return MiniGameView{}, ErrMiniGameUnavailable
	}
	if err := c.startMiniGameLocked(conv); err != nil {
		c.mu.Unlock()
		return MiniGameView{}, err
	}
	conv.sideOffered = false
	view := conv.miniGame.View()
	ev := Event{Type: EventMiniGameStarted, Token: conv.token, NPCID: conv.npc.ID, Index: conv.index, Turn: conv.turns}
	c.mu.Unlock()

	c.emit(ev)
	return view, nil
}

// FlipCards plays one move. A move that ends the game returns control to the
// conversation.
func (c *Controller) FlipCards(a, b int) (FlipResult, error) {
	c.mu.Lock()
	if c.st.phase != PhaseMiniGame {
		p := c.st.phase
		c.mu.Unlock()
		return FlipResult{}, &PhaseError{Op: "flip_cards", Phase: p}
	}
	conv := c.st.conv
	res, err := conv.miniGame.Flip(a, b)
	if err != nil {
		c.mu.Unlock()
		return FlipResult{}, err
	}
	var events []Event
	if res.Done {
		events = c.finishMiniGameLocked(conv, res.Success)
	}
	c.mu.Unlock()

	c.emit(events...)
	return res, nil
}

// CompleteMiniGame ends the mini-game. A finished board reports its own
// result; otherwise success is taken as given.
func (c *Controller) CompleteMiniGame(success bool) error {
	c.mu.Lock()
	if c.st.phase != PhaseMiniGame {
		p := c.st.phase
		c.mu.Unlock()
		return &PhaseError{Op: "complete_minigame", Phase: p}
	}
	conv := c.st.conv
	if g := conv.miniGame; g != nil && g.Done() {
		success = g.Success()
	}
	events := c.finishMiniGameLocked(conv, success)
	c.mu.Unlock()

	c.emit(events...)
	return nil
}

// finishMiniGameLocked appends the outcome line and returns to Active without
// touching the turn count.
func (c *Controller) finishMiniGameLocked(conv *conversation, success bool) []Event {
	if err := c.move(PhaseActive); err != nil {
		return nil
	}
	conv.miniGame = nil
	msg := progress.Message{Role: progress.RoleAssistant, Content: miniGameLine(conv.npc.Name, success), Timestamp: c.now()}
	conv.history = append(conv.history, msg)
	base := Event{Token: conv.token, NPCID: conv.npc.ID, Index: conv.index, Turn: conv.turns}
	finished, message := base, base
	finished.Type, finished.Success = EventMiniGameFinished, success
	message.Type, message.Message = EventMessage, &msg
	return []Event{finished, message}
}
