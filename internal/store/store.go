package store

import (
	"context"
	"strings"
)

// Store is the persistent key-value collaborator. It holds the autosave
// slot, player settings and the local copy of shared room edits.
type Store interface {
	Close(ctx context.Context) error
	EnsureSchema(ctx context.Context) error

	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Entry, error)
}

// Scheme returns the DSN scheme ("sqlite", "postgres", "memory").
func Scheme(dsn string) string {
	scheme, _, ok := strings.Cut(dsn, "://")
	if !ok {
		return ""
	}
	if scheme == "postgresql" {
		return "postgres"
	}
	return scheme
}
