package validate

import (
	"os"
	"path/filepath"
	"testing"

	"sessioncore/internal/catalog"
	"sessioncore/internal/progress"
)

func TestRun_CleanCatalog(t *testing.T) {
	cat := loadCatalog(t, []string{"ash", "bo", "cy", "dee"},
		npcFile("ash", "Ash", "Ash lost the harbour.", "Hello."),
		npcFile("bo", "Bo", "Bo stopped sleeping.", "Hi."),
		npcFile("cy", "Cy", "Cy hears the bells.", "Yes?"),
		npcFile("dee", "Dee", "Dee forgot a face.", "Well."),
		npcFile("eli", "Eli", "Eli burned the map.", "So."),
	)

	report, err := Run(cat, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Issues) != 0 {
		t.Fatalf("expected no issues, got %+v", report.Issues)
	}
}

func TestRun_CatalogIssues(t *testing.T) {
	cat := loadCatalog(t, []string{"ash"},
		npcFile("ash", "Ash", "Ash lost the harbour.", "Hello."),
		npcFile("bo", "Bo", "", "Hi."),
		npcFile("cy", "Cy", "Cy hears the bells.", ""),
	)

	report, err := Run(cat, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, code := range []string{codeFinaleCount, codeMissingCrisis, codeMissingOpening} {
		if !hasIssueCode(report.Issues, code) {
			t.Fatalf("expected %s issue in %+v", code, report.Issues)
		}
	}
	if len(report.Errors()) != 0 {
		t.Fatalf("catalog gaps should only warn: %+v", report.Errors())
	}
}

func TestRun_OnlyFinale(t *testing.T) {
	cat := loadCatalog(t, []string{"ash"}, npcFile("ash", "Ash", "Ash lost the harbour.", "Hello."))
	report, err := Run(cat, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !hasIssueCode(report.Errors(), codeNoPlayableNPCs) {
		t.Fatalf("expected no playable npcs error")
	}
}

func TestRun_SnapshotIssues(t *testing.T) {
	cat := loadCatalog(t, []string{"dee"},
		npcFile("ash", "Ash", "Ash lost the harbour.", "Hello."),
		npcFile("bo", "Bo", "Bo stopped sleeping.", "Hi."),
		npcFile("cy", "Cy", "Cy hears the bells.", "Yes?"),
		npcFile("dee", "Dee", "Dee forgot a face.", "Well."),
	)

	snap := &progress.Snapshot{
		Healed:      []int{1},
		Unlocked:    []int{0, 2, 3, 9},
		MentalState: -1,
		Bonds:       map[string]int{"ash": 11, "ghost": 2},
		Notes:       map[string]progress.Note{"ghost": {Summary: "?"}},
		Archives:    map[string]progress.Archive{},
	}

	report, err := Run(cat, snap)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, code := range []string{
		codeIndexOutOfRange,
		codeHealedNotUnlocked,
		codeFinaleUnlockedEarly,
		codeBondOutOfRange,
		codeNegativeCounter,
		codeUnknownNPC,
	} {
		if !hasIssueCode(report.Issues, code) {
			t.Fatalf("expected %s issue in %+v", code, report.Issues)
		}
	}
}

func TestRun_AwardAllowsFinale(t *testing.T) {
	cat := loadCatalog(t, []string{"cy"},
		npcFile("ash", "Ash", "Ash lost the harbour.", "Hello."),
		npcFile("bo", "Bo", "Bo stopped sleeping.", "Hi."),
		npcFile("cy", "Cy", "Cy hears the bells.", "Yes?"),
	)
	snap := &progress.Snapshot{Unlocked: []int{0, 1, 2}, Award: true}

	report, err := Run(cat, snap)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if hasIssueCode(report.Issues, codeFinaleUnlockedEarly) {
		t.Fatalf("time award should allow finale npcs")
	}
}

func TestRun_RequiresCatalog(t *testing.T) {
	if _, err := Run(nil, nil); err == nil {
		t.Fatalf("expected error without catalog")
	}
}

func hasIssueCode(issues []Issue, code string) bool {
	for _, issue := range issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

type npcFixture struct {
	id, contents string
}

func npcFile(id, name, crisis, opening string) npcFixture {
	contents := "---\nid: " + id + "\nname: " + name + "\n"
	if opening != "" {
		contents += "opening_statement: " + opening + "\n"
	}
	contents += "---\n" + crisis + "\n"
	return npcFixture{id: id, contents: contents}
}

func loadCatalog(t *testing.T, finale []string, files ...npcFixture) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		path := filepath.Join(dir, f.id+".md")
		if err := os.WriteFile(path, []byte(f.contents), 0o600); err != nil {
			t.Fatalf("write npc: %v", err)
		}
	}
	cat, err := catalog.LoadDir(dir, finale)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return cat
}
