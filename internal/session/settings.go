package session

import (
	"context"
	"encoding/json"

	"sessioncore/internal/store"
)

// Settings are the player's global feature switches.
type Settings struct {
	Voice     bool `json:"voice"`
	Listening bool `json:"listening"`
}

// Storage is the key-value surface the controller keeps settings in.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

func (c *Controller) loadSettings(ctx context.Context) {
	if c.storage == nil {
		return
	}
	raw, ok, err := c.storage.Get(ctx, store.KeySettings)
	if err != nil {
		c.logger.Printf("session: reading settings: %v", err)
		return
	}
	if !ok {
		return
	}
	var s Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		c.logger.Printf("session: ignoring unreadable settings: %v", err)
		return
	}
	c.settings = s
}

func (c *Controller) saveSettings(ctx context.Context, s Settings) {
	if c.storage == nil {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		c.logger.Printf("session: encoding settings: %v", err)
		return
	}
	if err := c.storage.Set(ctx, store.KeySettings, string(data)); err != nil {
		c.logger.Printf("session: saving settings: %v", err)
	}
}

func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// SetSettings replaces the settings and persists them.
func (c *Controller) SetSettings(ctx context.Context, s Settings) {
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
	c.saveSettings(ctx, s)
}

// EnableListening switches listening and starts or stops the listener to
// match. When the listener cannot start, listening stays off.
func (c *Controller) EnableListening(ctx context.Context, on bool) error {
	s := c.Settings()
	s.Listening = on
	c.SetSettings(ctx, s)
	if !on {
		return c.StopListening()
	}
	if err := c.StartListening(ctx); err != nil {
		s.Listening = false
		c.SetSettings(ctx, s)
		return err
	}
	return nil
}
