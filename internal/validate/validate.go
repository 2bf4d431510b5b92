package validate

import (
	"fmt"
	"slices"
	"strings"

	"sessioncore/internal/catalog"
	"sessioncore/internal/progress"
)

type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warning"
)

// ExpectedFinale is the number of finale NPCs the progression is tuned for.
const ExpectedFinale = 4

const (
	codeMissingName         = "missing_name"
	codeMissingCrisis       = "missing_crisis"
	codeMissingOpening      = "missing_opening_statement"
	codeFinaleCount         = "finale_count"
	codeNoPlayableNPCs      = "no_playable_npcs"
	codeIndexOutOfRange     = "index_out_of_range"
	codeHealedNotUnlocked   = "healed_not_unlocked"
	codeFinaleUnlockedEarly = "finale_unlocked_early"
	codeBondOutOfRange      = "bond_out_of_range"
	codeNegativeCounter     = "negative_counter"
	codeUnknownNPC          = "unknown_npc"
)

type Issue struct {
	Severity Severity
	Code     string
	Message  string
	NPC      string
	Index    int
}

type Report struct {
	Issues []Issue
}

func (r *Report) Errors() []Issue { return r.filter(SeverityError) }

func (r *Report) Warnings() []Issue { return r.filter(SeverityWarn) }

func (r *Report) filter(s Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == s {
			out = append(out, issue)
		}
	}
	return out
}

// Run checks the catalog and, when snap is non-nil, a progression snapshot
// against it.
func Run(cat *catalog.Catalog, snap *progress.Snapshot) (*Report, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}

	issues := make([]Issue, 0)
	issues = append(issues, validateCatalog(cat)...)
	if snap != nil {
		issues = append(issues, validateSnapshot(cat, snap)...)
	}
	return &Report{Issues: issues}, nil
}

func validateCatalog(cat *catalog.Catalog) []Issue {
	var issues []Issue
	finale := cat.FinaleIndices()
	if len(finale) != ExpectedFinale {
		issues = append(issues, Issue{
			Severity: SeverityWarn,
			Code:     codeFinaleCount,
			Message:  fmt.Sprintf("catalog has %d finale npcs, expected %d", len(finale), ExpectedFinale),
			Index:    -1,
		})
	}
	if cat.Len() <= len(finale) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Code:     codeNoPlayableNPCs,
			Message:  "every npc is a finale npc; nothing is unlocked at the start",
			Index:    -1,
		})
	}

	for i, rec := range cat.Records() {
		if strings.TrimSpace(rec.Name) == "" {
			issues = append(issues, npcIssue(SeverityError, codeMissingName, "npc has no name", rec.ID, i))
		}
		if strings.TrimSpace(rec.Crisis) == "" {
			issues = append(issues, npcIssue(SeverityWarn, codeMissingCrisis, "npc has no crisis", rec.ID, i))
		}
		if strings.TrimSpace(rec.OpeningStatement) == "" {
			issues = append(issues, npcIssue(SeverityWarn, codeMissingOpening, "npc has no opening statement", rec.ID, i))
		}
	}
	return issues
}

func validateSnapshot(cat *catalog.Catalog, snap *progress.Snapshot) []Issue {
	var issues []Issue
	size := cat.Len()

	for _, set := range []struct {
		name    string
		indices []int
	}{{"healed", snap.Healed}, {"unlocked", snap.Unlocked}} {
		for _, i := range set.indices {
			if i < 0 || i >= size {
				issues = append(issues, npcIssue(SeverityError, codeIndexOutOfRange,
					fmt.Sprintf("%s index %d outside catalog of %d", set.name, i, size), "", i))
			}
		}
	}

	for _, i := range snap.Healed {
		if i >= 0 && i < size && !slices.Contains(snap.Unlocked, i) {
			rec, _ := cat.ByIndex(i)
			issues = append(issues, npcIssue(SeverityError, codeHealedNotUnlocked, "healed npc is not unlocked", rec.ID, i))
		}
	}

	if !snap.Award {
		reach := size - len(cat.FinaleIndices()) + len(snap.Healed)/2
		for _, i := range cat.FinaleIndices() {
			if i >= reach && slices.Contains(snap.Unlocked, i) {
				rec, _ := cat.ByIndex(i)
				issues = append(issues, npcIssue(SeverityWarn, codeFinaleUnlockedEarly,
					"finale npc unlocked before enough heals or the time award", rec.ID, i))
			}
		}
	}

	for _, id := range sortedKeys(snap.Bonds) {
		v := snap.Bonds[id]
		if v < progress.MinBond || v > progress.MaxBond {
			issues = append(issues, npcIssue(SeverityError, codeBondOutOfRange,
				fmt.Sprintf("bond %d outside [%d, %d]", v, progress.MinBond, progress.MaxBond), id, -1))
		}
	}

	if snap.MentalState < 0 {
		issues = append(issues, npcIssue(SeverityError, codeNegativeCounter, fmt.Sprintf("mental state is %d", snap.MentalState), "", -1))
	}
	if snap.Time < 0 {
		issues = append(issues, npcIssue(SeverityError, codeNegativeCounter, fmt.Sprintf("play time is %d", snap.Time), "", -1))
	}

	issues = append(issues, unknownIDs(cat, "bond", sortedKeys(snap.Bonds))...)
	issues = append(issues, unknownIDs(cat, "note", sortedKeys(snap.Notes))...)
	issues = append(issues, unknownIDs(cat, "archive", sortedKeys(snap.Archives))...)
	return issues
}

func unknownIDs(cat *catalog.Catalog, kind string, ids []string) []Issue {
	var issues []Issue
	for _, id := range ids {
		if _, ok := cat.ByID(id); !ok {
			issues = append(issues, npcIssue(SeverityWarn, codeUnknownNPC, kind+" for npc not in catalog", id, -1))
		}
	}
	return issues
}

func npcIssue(severity Severity, code, message, npc string, index int) Issue {
	return Issue{Severity: severity, Code: code, Message: message, NPC: npc, Index: index}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
