package session

import (
	"errors"
	"fmt"
	"time"

	"sessioncore/internal/catalog"
	"sessioncore/internal/progress"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhasePermissionGate
	PhaseActive
	PhaseMiniGame
	PhaseConcluding
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePermissionGate:
		return "permission_gate"
	case PhaseActive:
		return "active"
	case PhaseMiniGame:
		return "minigame"
	case PhaseConcluding:
		return "concluding"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var transitions = map[Phase][]Phase{
	PhaseIdle:           {PhasePermissionGate, PhaseActive},
	PhasePermissionGate: {PhaseActive, PhaseIdle},
	PhaseActive:         {PhaseMiniGame, PhaseConcluding, PhaseIdle},
	PhaseMiniGame:       {PhaseActive, PhaseIdle},
	PhaseConcluding:     {PhaseIdle},
}

func canTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

var (
	ErrInvalidPhase         = errors.New("operation not allowed in current phase")
	ErrUnknownNPC           = errors.New("unknown npc")
	ErrLocked               = errors.New("npc is locked")
	ErrEmptyMessage         = errors.New("message is empty")
	ErrGenerationInFlight   = errors.New("a response is still being generated")
	ErrConcludeUnavailable  = errors.New("session cannot be concluded yet")
	ErrConfirmationRequired = errors.New("abandoning this session needs confirmation")
	ErrMiniGameUnavailable  = errors.New("mini-game is not available")
	ErrStaleSession         = errors.New("session moved on before the response arrived")
)

// PhaseError reports an operation attempted in a phase that does not allow it.
type PhaseError struct {
	Op    string
	Phase Phase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: not allowed while %s", e.Op, e.Phase)
}

func (e *PhaseError) Unwrap() error { return ErrInvalidPhase }

// conversation is the data carried by every non-idle phase.
type conversation struct {
	token     string
	index     int
	npc       catalog.Record
	history   []progress.Message
	turns     int
	startedAt time.Time

	generating        bool
	sideOffered       bool
	concludeAvailable bool
	miniGame          *MiniGame
}

// state is the controller's tagged union: conv is nil exactly when phase is
// PhaseIdle.
type state struct {
	phase Phase
	conv  *conversation
}

func (c *conversation) nonSystemMessages() int {
	n := 0
	for _, m := range c.history {
		if m.Role != progress.RoleSystem {
			n++
		}
	}
	return n
}

func (c *conversation) transcript() []progress.Message {
	out := make([]progress.Message, len(c.history))
	copy(out, c.history)
	return out
}
