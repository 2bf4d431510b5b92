package progress

import (
	"log"
	"maps"
	"slices"
	"sync"
	"time"

	"sessioncore/internal/catalog"
	"sessioncore/internal/unlock"
)

type Options struct {
	// AwardAfter is the play time after which every finale NPC unlocks.
	AwardAfter time.Duration
	Logger     *log.Logger
	Now        func() time.Time
}

// Tracker owns the single progression state of a running game.
type Tracker struct {
	mu  sync.Mutex
	cat *catalog.Catalog

	awardAfter time.Duration
	logger     *log.Logger
	now        func() time.Time

	unlocked     map[int]bool
	healed       map[int]bool
	bonds        map[string]int
	notes        map[string]Note
	archives     map[string]Archive
	collectibles []Collectible
	credits      []Credit
	mentalState  int
	gameTime     int
	awardGiven   bool

	healVersion  int
	startTime    time.Time
	clockRunning bool
}

func New(cat *catalog.Catalog, opts Options) *Tracker {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	t := &Tracker{
		cat:        cat,
		awardAfter: opts.AwardAfter,
		logger:     opts.Logger,
		now:        opts.Now,
		notes:      map[string]Note{},
		archives:   map[string]Archive{},
	}
	t.resetLocked()
	return t
}

// healBase is the heal-threshold base. The default roster is unlocked from
// the start, so heals open catalog slots past it, which is where the finale
// NPCs sit.
func (t *Tracker) healBase() int {
	return t.cat.Len() - len(t.cat.FinaleIndices())
}

// RecordSessionConclusion stores the outcome of a finished session and
// returns what changed. Out-of-range or never-unlocked indices are not healed.
func (t *Tracker) RecordSessionConclusion(index int, breakthrough bool, summary string, transcript []Message) Conclusion {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.cat.ByIndex(index)
	if !ok {
		t.logger.Printf("progress: ignoring conclusion for out-of-range npc index %d", index)
		return Conclusion{MentalState: t.mentalState}
	}

	now := t.now()
	out := Conclusion{NPCID: rec.ID}

	if breakthrough {
		t.mentalState += BreakthroughStrain
		if t.unlocked[index] {
			t.healed[index] = true
			t.healVersion++
			out.Healed = true
		} else {
			t.logger.Printf("progress: npc %s (index %d) concluded with breakthrough but was never unlocked", rec.ID, index)
		}
	} else {
		t.mentalState += SessionStrain
	}

	t.notes[rec.ID] = Note{Summary: summary, Breakthrough: breakthrough, Timestamp: now}
	t.archiveLocked(rec.ID, transcript, now)

	if out.Healed {
		out.Unlocked = t.unlockLocked(unlock.ComputeUnlocked(len(t.healed), t.cat.Len(), t.healBase(), t.unlocked))
	}
	out.MentalState = t.mentalState
	return out
}

// ArchiveSession overwrites the stored transcript for npcID. System messages
// are dropped.
func (t *Tracker) ArchiveSession(npcID string, transcript []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.archiveLocked(npcID, transcript, t.now())
}

func (t *Tracker) archiveLocked(npcID string, transcript []Message, now time.Time) {
	msgs := make([]Message, 0, len(transcript))
	for _, m := range transcript {
		if m.Role == RoleSystem {
			continue
		}
		msgs = append(msgs, m)
	}
	t.archives[npcID] = Archive{Date: now, Messages: msgs}
}

func clampBond(v int) int {
	return min(max(v, MinBond), MaxBond)
}

// AdjustBond adds delta to the bond with npcID and returns the clamped score.
func (t *Tracker) AdjustBond(npcID string, delta int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := clampBond(t.bonds[npcID] + delta)
	t.bonds[npcID] = v
	return v
}

// EnsureBond creates a zero bond for npcID if none exists.
func (t *Tracker) EnsureBond(npcID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.bonds[npcID]
	if !ok {
		t.bonds[npcID] = 0
	}
	return v
}

func (t *Tracker) Bond(npcID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bonds[npcID]
}

func (t *Tracker) AddCollectible(c Collectible) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.collectibles = append(t.collectibles, c)
}

func (t *Tracker) SetCredits(credits []Credit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credits = slices.Clone(credits)
}

// ResetForNewGame restores the starting roster. Notes, archives and credits
// carry over between games.
func (t *Tracker) ResetForNewGame() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Tracker) resetLocked() {
	t.healed = map[int]bool{}
	t.unlocked = map[int]bool{}
	for _, i := range t.cat.DefaultUnlocked() {
		t.unlocked[i] = true
	}
	t.bonds = map[string]int{}
	t.collectibles = nil
	t.mentalState = 0
	t.gameTime = 0
	t.awardGiven = false
	t.clockRunning = false
	t.startTime = time.Time{}
	t.healVersion++
}

func (t *Tracker) IsUnlocked(index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unlocked[index]
}

func (t *Tracker) IsHealed(index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.healed[index]
}

// Unlock adds indices to the unlocked set and returns the ones that were new.
func (t *Tracker) Unlock(indices ...int) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unlockLocked(indices)
}

func (t *Tracker) unlockLocked(indices []int) []int {
	var added []int
	for _, i := range indices {
		if i < 0 || i >= t.cat.Len() {
			t.logger.Printf("progress: ignoring unlock of out-of-range index %d", i)
			continue
		}
		if t.unlocked[i] {
			continue
		}
		t.unlocked[i] = true
		added = append(added, i)
	}
	return added
}

func (t *Tracker) HealVersion() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.healVersion
}

func (t *Tracker) MentalState() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mentalState
}

func (t *Tracker) Note(npcID string) (Note, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.notes[npcID]
	return n, ok
}

func (t *Tracker) Archive(npcID string) (Archive, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.archives[npcID]
	if ok {
		a.Messages = slices.Clone(a.Messages)
	}
	return a, ok
}

// StartClock begins measuring play time from now.
func (t *Tracker) StartClock(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTime = now.Add(-time.Duration(t.gameTime) * time.Second)
	t.clockRunning = true
}

// SyncTime refreshes the persisted play time from the running clock.
func (t *Tracker) SyncTime(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.syncLocked(now)
	return t.gameTime
}

func (t *Tracker) syncLocked(now time.Time) {
	if !t.clockRunning {
		return
	}
	if elapsed := int(now.Sub(t.startTime) / time.Second); elapsed > 0 {
		t.gameTime = elapsed
	}
}

// CheckTimeAward unlocks every finale NPC once play time passes the award
// threshold. It returns the indices that were newly unlocked.
func (t *Tracker) CheckTimeAward(now time.Time) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.syncLocked(now)
	elapsed := time.Duration(t.gameTime) * time.Second
	if !unlock.TimeAwardDue(elapsed, t.awardAfter, t.awardGiven) {
		return nil
	}
	t.awardGiven = true
	return t.unlockLocked(unlock.TimeAward(t.cat.FinaleIndices(), t.unlocked))
}

// Snapshot syncs the clock and returns a copy of the state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.syncLocked(t.now())

	archives := make(map[string]Archive, len(t.archives))
	for id, a := range t.archives {
		a.Messages = slices.Clone(a.Messages)
		archives[id] = a
	}
	return Snapshot{
		Healed:       sortedKeys(t.healed),
		Unlocked:     sortedKeys(t.unlocked),
		MentalState:  t.mentalState,
		Collectibles: slices.Clone(t.collectibles),
		Time:         t.gameTime,
		Award:        t.awardGiven,
		Credits:      slices.Clone(t.credits),
		Notes:        maps.Clone(t.notes),
		Archives:     archives,
		Bonds:        maps.Clone(t.bonds),
	}
}

// Restore replaces the state with snap and restarts the clock so that the
// restored play time keeps counting from now.
func (t *Tracker) Restore(snap Snapshot, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := t.cat.Len()
	t.unlocked = map[int]bool{}
	for _, i := range snap.Unlocked {
		if i >= 0 && i < size {
			t.unlocked[i] = true
		}
	}
	if len(t.unlocked) == 0 {
		for _, i := range t.cat.DefaultUnlocked() {
			t.unlocked[i] = true
		}
	}
	t.healed = map[int]bool{}
	for _, i := range snap.Healed {
		if i >= 0 && i < size {
			t.healed[i] = true
		}
	}

	t.bonds = make(map[string]int, len(snap.Bonds))
	for id, v := range snap.Bonds {
		t.bonds[id] = clampBond(v)
	}
	t.notes = maps.Clone(snap.Notes)
	if t.notes == nil {
		t.notes = map[string]Note{}
	}
	t.archives = maps.Clone(snap.Archives)
	if t.archives == nil {
		t.archives = map[string]Archive{}
	}
	t.collectibles = slices.Clone(snap.Collectibles)
	t.credits = slices.Clone(snap.Credits)
	t.mentalState = max(snap.MentalState, 0)
	t.gameTime = max(snap.Time, 0)
	t.awardGiven = snap.Award

	t.startTime = now.Add(-time.Duration(t.gameTime) * time.Second)
	t.clockRunning = true
	t.healVersion++
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
