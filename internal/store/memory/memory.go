// Package memory is an in-process Store used by tests and by "memory://"
// DSNs, where progress only lives for the run.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"sessioncore/internal/store"
)

var _ store.Store = (*Client)(nil)

type item struct {
	value     string
	updatedAt time.Time
}

type Client struct {
	mu    sync.RWMutex
	items map[string]item
	now   func() time.Time
}

func New() *Client {
	return &Client{items: map[string]item{}, now: time.Now}
}

func (c *Client) Close(ctx context.Context) error { return nil }

func (c *Client) EnsureSchema(ctx context.Context) error { return nil }

func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	if err := store.ValidateKey(key); err != nil {
		return "", false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[key]
	return it.value, ok, nil
}

func (c *Client) Set(ctx context.Context, key, value string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item{value: value, updatedAt: c.now()}
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *Client) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := make([]store.Entry, 0, len(c.items))
	for key, it := range c.items {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entries = append(entries, store.Entry{Key: key, Size: len(it.value), UpdatedAt: it.updatedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}
