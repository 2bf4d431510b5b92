package main

import (
	"testing"

	"sessioncore/internal/catalog"
	"sessioncore/internal/config"
	"sessioncore/internal/validate"
)

func TestRunInit_ScaffoldLoads(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := runInit("demo"); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, err := config.LoadGameConfig(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cat, err := catalog.LoadDir(cfg.Catalog.Path, cfg.Catalog.Finale)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if cat.Len() != len(starterNPCs) {
		t.Fatalf("expected %d npcs, got %d", len(starterNPCs), cat.Len())
	}
	if rec, _ := cat.ByIndex(cat.Len() - 1); rec.ID != "the-listener" {
		t.Fatalf("expected finale npcs last, got %s", rec.ID)
	}

	report, err := validate.Run(cat, nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(report.Issues) != 0 {
		t.Fatalf("scaffold has issues: %+v", report.Issues)
	}

	if err := runInit("demo"); err == nil {
		t.Fatalf("expected init to refuse an existing project")
	}
}

func TestParsePair(t *testing.T) {
	if a, b, err := parsePair(" 3  7 "); err != nil || a != 3 || b != 7 {
		t.Fatalf("parsePair = %d, %d, %v", a, b, err)
	}
	for _, bad := range []string{"", "1", "1 2 3", "a 2"} {
		if _, _, err := parsePair(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
