package session

import (
	"errors"
	"math/rand/v2"
)

const (
	DefaultPairs    = 6
	DefaultMaxMoves = 12
)

var symbols = []string{"moon", "key", "feather", "lantern", "shell", "compass", "rose", "bell"}

var (
	ErrCardOutOfRange = errors.New("card index out of range")
	ErrSameCard       = errors.New("cannot flip the same card twice")
	ErrCardMatched    = errors.New("card already matched")
	ErrGameOver       = errors.New("mini-game is over")
)

// MiniGame is a pairs matching game with a move budget.
type MiniGame struct {
	cards    []string
	matched  []bool
	moves    int
	maxMoves int
	found    int
}

type FlipResult struct {
	A, B      string
	Match     bool
	MovesLeft int
	Done      bool
	Success   bool
}

// NewMiniGame deals pairs of cards shuffled with rng.
func NewMiniGame(pairs, maxMoves int, rng *rand.Rand) *MiniGame {
	pairs = min(max(pairs, 1), len(symbols))
	if maxMoves < pairs {
		maxMoves = pairs
	}
	cards := make([]string, 0, pairs*2)
	for _, s := range symbols[:pairs] {
		cards = append(cards, s, s)
	}
	rng.Shuffle(len(cards), func(i, j int) { cards[i], cards[j] = cards[j], cards[i] })
	return &MiniGame{
		cards:    cards,
		matched:  make([]bool, len(cards)),
		maxMoves: maxMoves,
	}
}

func (g *MiniGame) Pairs() int { return len(g.cards) / 2 }

func (g *MiniGame) Done() bool {
	return g.found == g.Pairs() || g.moves >= g.maxMoves
}

func (g *MiniGame) Success() bool { return g.found == g.Pairs() }

// Flip turns over cards a and b, spending one move.
func (g *MiniGame) Flip(a, b int) (FlipResult, error) {
	if g.Done() {
		return FlipResult{}, ErrGameOver
	}
	if a < 0 || a >= len(g.cards) || b < 0 || b >= len(g.cards) {
		return FlipResult{}, ErrCardOutOfRange
	}
	if a == b {
		return FlipResult{}, ErrSameCard
	}
	if g.matched[a] || g.matched[b] {
		return FlipResult{}, ErrCardMatched
	}

	g.moves++
	res := FlipResult{A: g.cards[a], B: g.cards[b]}
	if res.A == res.B {
		g.matched[a], g.matched[b] = true, true
		g.found++
		res.Match = true
	}
	res.MovesLeft = g.maxMoves - g.moves
	res.Done = g.Done()
	res.Success = g.Success()
	return res, nil
}

// MiniGameView is the board as the player may see it: unmatched cards are
// hidden.
type MiniGameView struct {
	Board     []string `json:"board"`
	Moves     int      `json:"moves"`
	MaxMoves  int      `json:"maxMoves"`
	Found     int      `json:"found"`
	Pairs     int      `json:"pairs"`
	Completed bool     `json:"completed"`
}

func (g *MiniGame) View() MiniGameView {
	board := make([]string, len(g.cards))
	for i, c := range g.cards {
		if g.matched[i] {
			board[i] = c
		} else {
			board[i] = "?"
		}
	}
	return MiniGameView{
		Board:     board,
		Moves:     g.moves,
		MaxMoves:  g.maxMoves,
		Found:     g.found,
		Pairs:     g.Pairs(),
		Completed: g.Done(),
	}
}
