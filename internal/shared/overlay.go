// Package shared merges room-shared NPC edits and insights into the local
// catalog. Merging is best effort: the last update observed wins for every
// field it carries, and nothing here touches progression.
package shared

import (
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"

	"sessioncore/internal/catalog"
	"sessioncore/internal/room"
)

// RecentInsights is how many insights are shown per NPC.
const RecentInsights = 8

const (
	npcPrefix     = "npc:"
	insightPrefix = "insight:"
)

type Insight struct {
	Text   string `json:"text"`
	Author string `json:"author"`
	// Timestamp is Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

type Overlay struct {
	NPCs     map[string]catalog.FieldEdit  `json:"npcs"`
	Insights map[string]map[string]Insight `json:"insights"`
}

func NewOverlay() Overlay {
	return Overlay{
		NPCs:     map[string]catalog.FieldEdit{},
		Insights: map[string]map[string]Insight{},
	}
}

func (o Overlay) Clone() Overlay {
	out := NewOverlay()
	maps.Copy(out.NPCs, o.NPCs)
	for id, set := range o.Insights {
		out.Insights[id] = maps.Clone(set)
	}
	return out
}

// InsightKey builds the synthetic "{peer}_{timestamp}" insight key.
func InsightKey(peer string, ts time.Time) string {
	return fmt.Sprintf("%s_%d", peer, ts.UnixMilli())
}

// Apply copies every present field of the overlay onto the catalog and
// returns the ids whose records changed, sorted. Applying the same overlay
// again changes nothing.
func Apply(cat *catalog.Catalog, o Overlay) []string {
	var changed []string
	for id, edit := range o.NPCs {
		if cat.ApplyFields(id, edit) {
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed
}

// Merge folds incoming into base. Present fields in incoming replace base
// fields; insights are unioned by key.
func Merge(base, incoming Overlay) Overlay {
	out := base.Clone()
	for id, edit := range incoming.NPCs {
		out.NPCs[id] = mergeEdit(out.NPCs[id], edit)
	}
	for id, set := range incoming.Insights {
		if out.Insights[id] == nil {
			out.Insights[id] = map[string]Insight{}
		}
		maps.Copy(out.Insights[id], set)
	}
	return out
}

func mergeEdit(cur, in catalog.FieldEdit) catalog.FieldEdit {
	pick := func(a, b string) string {
		if b != "" {
			return b
		}
		return a
	}
	return catalog.FieldEdit{
		Name:        pick(cur.Name, in.Name),
		Origin:      pick(cur.Origin, in.Origin),
		Crisis:      pick(cur.Crisis, in.Crisis),
		Habitat:     pick(cur.Habitat, in.Habitat),
		OfficeImage: pick(cur.OfficeImage, in.OfficeImage),
	}
}

// Recent returns up to n insights for npcID, newest first. Older insights
// stay stored.
func Recent(o Overlay, npcID string, n int) []Insight {
	set := o.Insights[npcID]
	out := make([]Insight, 0, len(set))
	for _, in := range set {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp == out[j].Timestamp {
			return out[i].Author < out[j].Author
		}
		return out[i].Timestamp > out[j].Timestamp
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// FromState decodes the room keys this package owns. Keys it does not
// recognise and values it cannot decode are skipped.
func FromState(state room.State) Overlay {
	o := NewOverlay()
	for key, raw := range state {
		switch {
		case strings.HasPrefix(key, npcPrefix):
			id := strings.TrimPrefix(key, npcPrefix)
			var edit catalog.FieldEdit
			if id == "" || json.Unmarshal(raw, &edit) != nil || edit.IsZero() {
				continue
			}
			o.NPCs[id] = edit
		case strings.HasPrefix(key, insightPrefix):
			npcID, insightKey, ok := strings.Cut(strings.TrimPrefix(key, insightPrefix), ":")
			if !ok || npcID == "" || insightKey == "" {
				continue
			}
			var in Insight
			if json.Unmarshal(raw, &in) != nil || strings.TrimSpace(in.Text) == "" {
				continue
			}
			if o.Insights[npcID] == nil {
				o.Insights[npcID] = map[string]Insight{}
			}
			o.Insights[npcID][insightKey] = in
		}
	}
	return o
}

func npcStateKey(id string) string { return npcPrefix + id }

func insightStateKey(npcID, key string) string { return insightPrefix + npcID + ":" + key }
