package session

import (
	"slices"

	"sessioncore/internal/progress"
)

type EventType string

const (
	EventSessionStarted      EventType = "session_started"
	EventPermissionRequested EventType = "permission_requested"
	EventMessage             EventType = "message"
	EventBondChanged         EventType = "bond_changed"
	EventSideActivityOffered EventType = "side_activity_offered"
	EventThoughtImage        EventType = "thought_image"
	EventConcludeAvailable   EventType = "conclude_available"
	EventMiniGameStarted     EventType = "minigame_started"
	EventMiniGameFinished    EventType = "minigame_finished"
	EventSpeech              EventType = "speech"
	EventTranscript          EventType = "transcript"
	EventSessionConcluded    EventType = "session_concluded"
	EventNPCHealed           EventType = "npc_healed"
	EventCollectibleAwarded  EventType = "collectible_awarded"
	EventSessionAbandoned    EventType = "session_abandoned"
	EventNPCsUnlocked        EventType = "npcs_unlocked"
	EventNewGame             EventType = "new_game"
	EventToast               EventType = "toast"
)

// Event is what the controller tells presentation code. Only the fields
// relevant to Type are set.
type Event struct {
	Type  EventType
	Token string
	NPCID string
	Index int
	Turn  int

	Message     *progress.Message
	Bond        int
	BondDelta   int
	Unlocked    []int
	Collectible *progress.Collectible
	AudioRef    string
	Text        string
	Success     bool
}

// Subscribe registers fn for every event and returns a function that removes
// it. Events are delivered after the controller has released its lock, so fn
// may call back into the controller.
func (c *Controller) Subscribe(fn func(Event)) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Controller) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	c.subsMu.Lock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.subs[id])
	}
	c.subsMu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

func toast(text string) Event {
	return Event{Type: EventToast, Text: text}
}
