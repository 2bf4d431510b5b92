package progress

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

const (
	MinBond = 0
	MaxBond = 10

	BreakthroughStrain = 5
	SessionStrain      = 2
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Note struct {
	Summary      string    `json:"summary"`
	Breakthrough bool      `json:"breakthrough"`
	Timestamp    time.Time `json:"timestamp"`
}

type Archive struct {
	Date     time.Time `json:"date"`
	Messages []Message `json:"messages"`
}

type Collectible struct {
	NPC    string `json:"npc"`
	Image  string `json:"image"`
	Prompt string `json:"prompt"`
}

type Credit struct {
	Name string `json:"name"`
	Note string `json:"note,omitempty"`
}

// Snapshot is a plain-data copy of the progression state. Index slices are
// sorted ascending.
type Snapshot struct {
	Healed       []int
	Unlocked     []int
	MentalState  int
	Collectibles []Collectible
	Time         int
	Award        bool
	Credits      []Credit
	Notes        map[string]Note
	Archives     map[string]Archive
	Bonds        map[string]int
}

// Conclusion reports what a concluded session changed.
type Conclusion struct {
	NPCID       string
	Healed      bool
	MentalState int
	Unlocked    []int
}
