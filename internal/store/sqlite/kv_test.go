package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"sessioncore/internal/store"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()
	c, err := New(ctx, "sqlite://"+filepath.Join(t.TempDir(), "save.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(ctx) })
	if err := c.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return c
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	c := testClient(t)
	if err := c.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second ensure schema: %v", err)
	}
}

func TestKV_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := testClient(t)

	if _, ok, err := c.Get(ctx, "autosave"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, "autosave", "first"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Set(ctx, "autosave", "second"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	v, ok, err := c.Get(ctx, "autosave")
	if err != nil || !ok || v != "second" {
		t.Fatalf("get = %q, %v, %v", v, ok, err)
	}
	if err := c.Delete(ctx, "autosave"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "autosave"); ok {
		t.Fatalf("expected key deleted")
	}
}

func TestKV_ListPrefix(t *testing.T) {
	ctx := context.Background()
	c := testClient(t)
	for _, k := range []string{"slot_a", "slot_b", "slotXc", "settings"} {
		if err := c.Set(ctx, k, "value"); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}

	entries, err := c.List(ctx, "slot_")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected underscore to match literally, got %+v", entries)
	}
	if entries[0].Key != "slot_a" || entries[0].Size != 5 || entries[0].UpdatedAt.IsZero() {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}

	all, err := c.List(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(all))
	}
}

func TestKV_EmptyKey(t *testing.T) {
	c := testClient(t)
	if _, _, err := c.Get(context.Background(), ""); !errors.Is(err, store.ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestNew_InMemory(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close(ctx)
	if err := c.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := c.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := c.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("in-memory database lost the write")
	}
}
