package parser

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	t.Run("valid npc with full frontmatter", func(t *testing.T) {
		content := []byte("---\nid: marla\nname: Marla Venn\norigin: Lighthouse at Cape Sorrow\ngender: female\nsession: Session 03\nhabitat_image: habitats/marla.png\noffice_image: offices/marla.png\nopening_statement: I keep counting the waves.\n---\n\nShe stopped sleeping after the lamp went dark.\n")
		doc, err := Parse(content)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if doc.ID != "marla" || doc.Name != "Marla Venn" {
			t.Fatalf("unexpected identity: %+v", doc)
		}
		if doc.Crisis != "She stopped sleeping after the lamp went dark." {
			t.Fatalf("unexpected crisis %q", doc.Crisis)
		}
		if doc.OpeningStatement != "I keep counting the waves." {
			t.Fatalf("unexpected opening statement %q", doc.OpeningStatement)
		}
		if doc.HabitatImage != "habitats/marla.png" || doc.OfficeImage != "offices/marla.png" {
			t.Fatalf("unexpected images: %+v", doc)
		}
	})

	t.Run("minimal frontmatter", func(t *testing.T) {
		doc, err := Parse([]byte("---\nid: x\nname: X\n---\n"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if doc.Crisis != "" {
			t.Fatalf("expected empty crisis, got %q", doc.Crisis)
		}
	})

	t.Run("windows line endings", func(t *testing.T) {
		doc, err := Parse([]byte("---\r\nid: x\r\nname: X\r\n---\r\nbody\r\n"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if doc.Crisis != "body" {
			t.Fatalf("unexpected crisis %q", doc.Crisis)
		}
	})

	t.Run("no frontmatter", func(t *testing.T) {
		_, err := Parse([]byte("Just text"))
		if !errors.Is(err, ErrNoFrontmatter) {
			t.Fatalf("expected ErrNoFrontmatter, got %v", err)
		}
	})

	t.Run("missing closing marker", func(t *testing.T) {
		_, err := Parse([]byte("---\nid: x\nname: X\n"))
		if !errors.Is(err, ErrNoFrontmatter) {
			t.Fatalf("expected ErrNoFrontmatter, got %v", err)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Parse([]byte("---\nid: [\n---\n"))
		if !errors.Is(err, ErrInvalidYAML) {
			t.Fatalf("expected ErrInvalidYAML, got %v", err)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := Parse([]byte("---\nname: X\n---\n"))
		if !errors.Is(err, ErrMissingID) {
			t.Fatalf("expected ErrMissingID, got %v", err)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := Parse([]byte("---\nid: x\n---\n"))
		if !errors.Is(err, ErrMissingName) {
			t.Fatalf("expected ErrMissingName, got %v", err)
		}
	})
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "npc.md")
	if err := os.WriteFile(path, []byte("---\nid: x\nname: X\n---\nBody\n"), 0o600); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	doc, err := ParseFile(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if doc.SourceFile != path {
		t.Fatalf("expected source file %q, got %q", path, doc.SourceFile)
	}
}
