package savecode

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"sessioncore/internal/gameerr"
	"sessioncore/internal/progress"
)

const (
	DefaultSlot         = "autosave"
	defaultWriteTimeout = 5 * time.Second
)

// Storage is the key-value surface the autosaver needs.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type AutosaveOptions struct {
	Slot string
	// Schedule runs a deferred write. It defaults to a new goroutine.
	Schedule     func(func())
	WriteTimeout time.Duration
	Logger       *log.Logger
}

// Autosaver mirrors progression snapshots into a storage slot. Requests are
// coalesced: while one write is pending further requests are dropped.
type Autosaver struct {
	codec    *Codec
	storage  Storage
	snapshot func() progress.Snapshot

	slot         string
	schedule     func(func())
	writeTimeout time.Duration
	logger       *log.Logger

	pending atomic.Bool
	writeMu sync.Mutex
	writes  atomic.Int64
}

func NewAutosaver(codec *Codec, storage Storage, snapshot func() progress.Snapshot, opts AutosaveOptions) *Autosaver {
	if opts.Slot == "" {
		opts.Slot = DefaultSlot
	}
	if opts.Schedule == nil {
		opts.Schedule = func(fn func()) { go fn() }
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Autosaver{
		codec:        codec,
		storage:      storage,
		snapshot:     snapshot,
		slot:         opts.Slot,
		schedule:     opts.Schedule,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
	}
}

func (a *Autosaver) Slot() string { return a.slot }

// Writes reports how many slot writes succeeded.
func (a *Autosaver) Writes() int64 { return a.writes.Load() }

// Request queues a deferred write. It returns false when a write is already
// pending and the request was dropped.
func (a *Autosaver) Request() bool {
	if !a.pending.CompareAndSwap(false, true) {
		return false
	}
	a.schedule(func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
		defer cancel()
		if err := a.write(ctx, true); err != nil {
			a.logger.Printf("autosave: %v", err)
		}
	})
	return true
}

// Flush writes the current state synchronously. Used on shutdown.
func (a *Autosaver) Flush(ctx context.Context) error {
	return a.write(ctx, false)
}

func (a *Autosaver) write(ctx context.Context, scheduled bool) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if scheduled {
		a.pending.Store(false)
	}

	data, err := a.codec.Marshal(a.snapshot())
	if err != nil {
		return err
	}
	if err := a.storage.Set(ctx, a.slot, string(data)); err != nil {
		return gameerr.Wrap(gameerr.StorageError, "writing "+a.slot, err)
	}
	a.writes.Add(1)
	return nil
}

// Load reads and decodes the slot. ok is false when nothing was saved yet.
func (a *Autosaver) Load(ctx context.Context) (snap progress.Snapshot, ok bool, err error) {
	value, found, err := a.storage.Get(ctx, a.slot)
	if err != nil {
		return progress.Snapshot{}, false, gameerr.Wrap(gameerr.StorageError, "reading "+a.slot, err)
	}
	if !found {
		return progress.Snapshot{}, false, nil
	}
	snap, err = a.codec.Decode([]byte(value))
	if err != nil {
		return progress.Snapshot{}, false, err
	}
	return snap, true, nil
}

// Run requests a save every interval while active reports true, until ctx
// is done.
func (a *Autosaver) Run(ctx context.Context, interval time.Duration, active func() bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if active == nil || active() {
				a.Request()
			}
		}
	}
}
