package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"

	"sessioncore/internal/unlock"
)

// Record is one NPC entry. ID never changes after load; the other overlay
// fields may be rewritten by shared room edits.
type Record struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Origin           string `json:"origin"`
	Crisis           string `json:"crisis"`
	OpeningStatement string `json:"openingStatement"`
	Session          string `json:"session"`
	HabitatImageRef  string `json:"habitatImageRef"`
	OfficeImageRef   string `json:"officeImageRef"`
	Gender           string `json:"gender"`
}

// FieldEdit is a partial record coming from a shared room. Empty fields mean
// "not specified".
type FieldEdit struct {
	Name        string `json:"name,omitempty"`
	Origin      string `json:"origin,omitempty"`
	Crisis      string `json:"crisis,omitempty"`
	Habitat     string `json:"habitat,omitempty"`
	OfficeImage string `json:"officeImage,omitempty"`
}

func (f FieldEdit) IsZero() bool {
	return f == FieldEdit{}
}

var (
	ErrDuplicateID    = errors.New("duplicate npc id")
	ErrUnknownFinale  = errors.New("finale npc id not in catalog")
	ErrEmptyCatalog   = errors.New("catalog has no npcs")
	ErrNotFound       = errors.New("npc not found")
	ErrAmbiguousMatch = errors.New("npc name is ambiguous")
)

type Catalog struct {
	mu      sync.RWMutex
	records []Record
	byID    map[string]int
	finale  []int
}

// New orders records so the finale ids come last and indexes them.
func New(records []Record, finaleIDs []string) (*Catalog, error) {
	if len(records) == 0 {
		return nil, ErrEmptyCatalog
	}

	seen := make(map[string]bool, len(records))
	for _, r := range records {
		key := normalizeID(r.ID)
		if key == "" {
			return nil, fmt.Errorf("npc %q: empty id", r.Name)
		}
		if seen[key] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
		}
		seen[key] = true
	}
	for _, id := range finaleIDs {
		if !seen[normalizeID(id)] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFinale, id)
		}
	}

	ordered := Reorder(records, finaleIDs)
	c := &Catalog{
		records: ordered,
		byID:    make(map[string]int, len(ordered)),
	}
	for i, r := range ordered {
		c.byID[normalizeID(r.ID)] = i
	}
	for _, id := range finaleIDs {
		c.finale = append(c.finale, c.byID[normalizeID(id)])
	}
	return c, nil
}

// Reorder returns a copy of records with the finale ids moved to the end in
// the order they are listed. Other records keep their relative order.
func Reorder(records []Record, finaleIDs []string) []Record {
	finale := make(map[string]int, len(finaleIDs))
	for i, id := range finaleIDs {
		finale[normalizeID(id)] = i
	}

	out := make([]Record, 0, len(records))
	tail := make([]Record, len(finaleIDs))
	present := make([]bool, len(finaleIDs))
	for _, r := range records {
		if pos, ok := finale[normalizeID(r.ID)]; ok {
			tail[pos] = r
			present[pos] = true
			continue
		}
		out = append(out, r)
	}
	for i, r := range tail {
		if present[i] {
			out = append(out, r)
		}
	}
	return out
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func (c *Catalog) ByIndex(i int) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.records) {
		return Record{}, false
	}
	return c.records[i], true
}

func (c *Catalog) ByID(id string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[normalizeID(id)]
	if !ok {
		return Record{}, false
	}
	return c.records[i], true
}

func (c *Catalog) IndexOf(id string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[normalizeID(id)]
	return i, ok
}

func (c *Catalog) Records() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

func (c *Catalog) FinaleIndices() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int, len(c.finale))
	copy(out, c.finale)
	return out
}

func (c *Catalog) IsFinale(index int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, f := range c.finale {
		if f == index {
			return true
		}
	}
	return false
}

// DefaultUnlocked lists every index except the finale ones, ascending.
func (c *Catalog) DefaultUnlocked() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return unlock.DefaultUnlocked(len(c.records), c.finale)
}

// ApplyFields copies the non-empty fields of edit that differ from the
// current record. It reports whether anything changed.
func (c *Catalog) ApplyFields(id string, edit FieldEdit) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.byID[normalizeID(id)]
	if !ok {
		return false
	}
	r := &c.records[i]
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&r.Name, edit.Name)
	set(&r.Origin, edit.Origin)
	set(&r.Crisis, edit.Crisis)
	set(&r.HabitatImageRef, edit.Habitat)
	set(&r.OfficeImageRef, edit.OfficeImage)
	return changed
}

// FindByName resolves a player-typed name or id. Exact matches win, then a
// unique case-insensitive prefix, then the closest name within an edit
// distance that scales with the name length.
func (c *Catalog) FindByName(query string) (int, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return -1, ErrNotFound
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if i, ok := c.byID[q]; ok {
		return i, nil
	}
	for i, r := range c.records {
		if strings.ToLower(r.Name) == q {
			return i, nil
		}
	}

	var prefixed []int
	for i, r := range c.records {
		if strings.HasPrefix(strings.ToLower(r.Name), q) {
			prefixed = append(prefixed, i)
		}
	}
	switch len(prefixed) {
	case 1:
		return prefixed[0], nil
	case 0:
	default:
		return -1, fmt.Errorf("%w: %q matches %d npcs", ErrAmbiguousMatch, query, len(prefixed))
	}

	if len(q) < 3 {
		return -1, fmt.Errorf("%w: %q", ErrNotFound, query)
	}

	type candidate struct {
		index int
		dist  int
	}
	var cands []candidate
	for i, r := range c.records {
		name := strings.ToLower(r.Name)
		dist := levenshtein.ComputeDistance(q, name)
		if dist > levenshteinLimit(len(name)) {
			continue
		}
		cands = append(cands, candidate{index: i, dist: dist})
	}
	if len(cands) == 0 {
		return -1, fmt.Errorf("%w: %q", ErrNotFound, query)
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	if len(cands) > 1 && cands[0].dist == cands[1].dist {
		return -1, fmt.Errorf("%w: %q", ErrAmbiguousMatch, query)
	}
	return cands[0].index, nil
}

func levenshteinLimit(length int) int {
	switch {
	case length <= 4:
		return 1
	case length <= 8:
		return 2
	default:
		return 3
	}
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
