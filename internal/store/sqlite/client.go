package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sessioncore/internal/store"

	_ "modernc.org/sqlite"
)

const connectTimeout = 10 * time.Second

// pragmas are applied to every new database handle. Autosave writes are small
// and frequent, so WAL with relaxed syncing keeps them off the play loop.
var pragmas = []string{
	"PRAGMA busy_timeout = 5000;",
	"PRAGMA journal_mode = WAL;",
	"PRAGMA synchronous = NORMAL;",
}

var _ store.Store = (*Client)(nil)

type Client struct {
	db *sql.DB
}

func New(ctx context.Context, dsn string) (*Client, error) {
	path, err := parseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing sqlite DSN: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if path == memoryPath {
		// Each pooled connection would see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := prepare(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Client{db: db}, nil
}

func prepare(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging sqlite: %w", err)
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.db.Close()
}
