package main

import (
	"context"
	"fmt"

	"sessioncore/internal/store"
	"sessioncore/internal/store/memory"
	"sessioncore/internal/store/postgres"
	"sessioncore/internal/store/sqlite"
)

func openStore(ctx context.Context, dsn string) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch scheme := store.Scheme(dsn); scheme {
	case "sqlite":
		st, err = sqlite.New(ctx, dsn)
	case "postgres":
		st, err = postgres.New(ctx, dsn)
	case "memory":
		st = memory.New()
	default:
		return nil, fmt.Errorf("unsupported storage dsn scheme %q", scheme)
	}
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close(ctx)
		return nil, fmt.Errorf("preparing storage: %w", err)
	}
	return st, nil
}
