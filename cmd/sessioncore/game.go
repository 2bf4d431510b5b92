package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"sessioncore/internal/backend"
	"sessioncore/internal/backend/gemini"
	"sessioncore/internal/catalog"
	"sessioncore/internal/config"
	"sessioncore/internal/progress"
	"sessioncore/internal/room"
	"sessioncore/internal/savecode"
	"sessioncore/internal/session"
	"sessioncore/internal/shared"
	"sessioncore/internal/store"
)

// game is everything a command needs to drive one player's progression.
type game struct {
	cfg      *config.GameConfig
	cat      *catalog.Catalog
	store    store.Store
	tracker  *progress.Tracker
	codec    *savecode.Codec
	autosave *savecode.Autosaver
	ctrl     *session.Controller
	// layer is nil unless the command asked for the shared room.
	layer  *shared.Layer
	logger *log.Logger
}

type gameOptions struct {
	withRoom bool
}

func openGame(ctx context.Context, opts gameOptions) (*game, error) {
	cfg, err := config.LoadGameConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := log.New(os.Stderr, "", log.LstdFlags)

	cat, err := catalog.LoadDir(cfg.Catalog.Path, cfg.Catalog.Finale)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	st, err := openStore(ctx, cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}

	g := &game{cfg: cfg, cat: cat, store: st, logger: logger}
	g.tracker = progress.New(cat, progress.Options{
		AwardAfter: cfg.Progression.FinaleAwardAfter,
		Logger:     logger,
	})
	g.codec = &savecode.Codec{CatalogSize: cat.Len(), DefaultUnlocked: cat.DefaultUnlocked()}
	g.autosave = savecode.NewAutosaver(g.codec, st, g.tracker.Snapshot, savecode.AutosaveOptions{
		Slot:   cfg.Storage.Slot,
		Logger: logger,
	})
	g.restore(ctx)

	chatter, err := openChatter(ctx, cfg.AI)
	if err != nil {
		st.Close(ctx)
		return nil, err
	}
	g.ctrl = session.New(cat, g.tracker, session.Options{
		Chatter:     chatter,
		Policy:      policyFrom(cfg.Timeouts, logger),
		Autosave:    g.autosave,
		Storage:     st,
		MiniGameNPC: cfg.Catalog.MiniGameNPC,
		Logger:      logger,
	})
	g.ctrl.LoadSettings(ctx)

	if opts.withRoom {
		g.layer = g.openLayer(ctx)
	}
	return g, nil
}

// restore loads the autosave slot and the separately stored credits. Failures
// are logged and the game starts fresh.
func (g *game) restore(ctx context.Context) {
	now := time.Now()
	snap, ok, err := g.autosave.Load(ctx)
	switch {
	case err != nil:
		g.logger.Printf("savecode: ignoring unreadable %s slot: %v", g.autosave.Slot(), err)
		g.tracker.StartClock(now)
	case ok:
		g.tracker.Restore(snap, now)
	default:
		g.tracker.StartClock(now)
	}

	raw, found, err := g.store.Get(ctx, store.KeyCredits)
	if err != nil {
		g.logger.Printf("store: reading credits: %v", err)
		return
	}
	if !found {
		return
	}
	credits, err := savecode.DecodeCredits([]byte(raw))
	if err != nil {
		g.logger.Printf("savecode: ignoring credits: %v", err)
		return
	}
	g.tracker.SetCredits(credits)
}

func (g *game) openLayer(ctx context.Context) *shared.Layer {
	var transport room.Transport = &room.Stub{}
	if g.cfg.Room.URL != "" {
		transport = room.NewClient(g.cfg.Room.URL, room.ClientOptions{
			Room:   g.cfg.Room.Name,
			Logger: g.logger,
		})
	}
	layer := shared.NewLayer(g.cat, transport, g.store, shared.LayerOptions{
		Logger: g.logger,
		OnChange: func(ids []string) {
			g.logger.Printf("shared: room updated %d npc(s)", len(ids))
		},
	})
	if err := layer.Start(ctx); err != nil {
		g.logger.Printf("shared: start: %v", err)
	}
	return layer
}

// close flushes progression and releases storage.
func (g *game) close(ctx context.Context) {
	if g.layer != nil {
		if err := g.layer.Close(); err != nil {
			g.logger.Printf("shared: close: %v", err)
		}
	}
	if err := g.autosave.Flush(ctx); err != nil {
		g.logger.Printf("savecode: final save: %v", err)
	}
	if err := g.store.Close(ctx); err != nil {
		g.logger.Printf("store: close: %v", err)
	}
}

// tick drives the play clock and the finale award once a second.
func tick(ctx context.Context, g *game) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.ctrl.Tick(now)
		}
	}
}

func openChatter(ctx context.Context, cfg config.AIConfig) (backend.Chatter, error) {
	switch cfg.Provider {
	case "gemini":
		client, err := gemini.New(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return backend.Offline{}, nil
	}
}

func policyFrom(t config.TimeoutConfig, logger *log.Logger) backend.Policy {
	policy := backend.DefaultPolicy()
	policy.Timeouts = map[backend.Kind]time.Duration{
		backend.KindChat:       t.Chat,
		backend.KindCompletion: t.Completion,
		backend.KindSpeech:     t.Speech,
		backend.KindProbe:      t.Probe,
		backend.KindBond:       t.Bond,
	}
	policy.Logger = logger
	return policy
}
