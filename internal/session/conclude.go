package session

import (
	"context"

	"sessioncore/internal/backend"
	"sessioncore/internal/gameerr"
	"sessioncore/internal/progress"
)

// Outcome is what a concluded session produced. Failed is set when the
// analysis could not be obtained; the session still ends and is archived.
type Outcome struct {
	NPCID       string
	Index       int
	Analysis    Analysis
	Failed      bool
	Healed      bool
	Unlocked    []int
	MentalState int
	Collectible *progress.Collectible
}

// Conclude analyses the session, records the result and returns to Idle. The
// transcript is archived whatever the analysis does.
func (c *Controller) Conclude(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	if c.st.phase != PhaseActive {
		p := c.st.phase
		c.mu.Unlock()
		return Outcome{}, &PhaseError{Op: "conclude", Phase: p}
	}
	conv := c.st.conv
	if conv.generating {
		c.mu.Unlock()
		return Outcome{}, ErrGenerationInFlight
	}
	if !conv.concludeAvailable {
		c.mu.Unlock()
		return Outcome{}, ErrConcludeUnavailable
	}
	if err := c.move(PhaseConcluding); err != nil {
		c.mu.Unlock()
		return Outcome{}, err
	}
	transcript := conv.transcript()
	c.mu.Unlock()

	out := Outcome{NPCID: conv.npc.ID, Index: conv.index}
	var events []Event
	archived := false
	defer func() {
		if !archived {
			c.progress.ArchiveSession(conv.npc.ID, transcript)
		}
		c.mu.Lock()
		_ = c.move(PhaseIdle)
		c.mu.Unlock()
		c.emit(events...)
		c.requestSave()
	}()

	base := Event{Token: conv.token, NPCID: conv.npc.ID, Index: conv.index, Turn: conv.turns}
	analysis, err := backend.Call(ctx, c.policy, backend.KindCompletion, func(ctx context.Context) (Analysis, error) {
		reply, err := c.chatter.Complete(ctx, transcript, backend.CompleteOptions{System: analysisSystem, Temperature: 0.4, JSON: true})
		if err != nil {
			return Analysis{}, err
		}
		return parseAnalysis(reply)
	}, Analysis{})
	if err != nil {
		out.Failed = true
		out.MentalState = c.progress.MentalState()
		ev := base
		ev.Type = EventSessionConcluded
		events = append(events, ev, toast(gameerr.UserMessage(gameerr.BackendUnavailable)))
		return out, nil
	}

	if analysis.Summary == "" {
		analysis.Summary = "Session with " + conv.npc.Name + "."
	}
	out.Analysis = analysis
	result := c.progress.RecordSessionConclusion(conv.index, analysis.Breakthrough, analysis.Summary, transcript)
	archived = true
	out.Healed = result.Healed
	out.Unlocked = result.Unlocked
	out.MentalState = result.MentalState

	concluded := base
	concluded.Type, concluded.Success, concluded.Text = EventSessionConcluded, true, analysis.Summary
	events = append(events, concluded)
	if result.Healed {
		ev := base
		ev.Type = EventNPCHealed
		events = append(events, ev)
	}
	if len(result.Unlocked) > 0 {
		events = append(events, Event{Type: EventNPCsUnlocked, Unlocked: result.Unlocked})
	}
	if analysis.ItemPrompt != "" {
		col := progress.Collectible{NPC: conv.npc.Name, Prompt: analysis.ItemPrompt}
		c.progress.AddCollectible(col)
		out.Collectible = &col
		ev := base
		ev.Type, ev.Collectible = EventCollectibleAwarded, &col
		events = append(events, ev)
	}
	return out, nil
}
