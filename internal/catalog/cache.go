package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default policy windows. The background window must be shorter than the
// fresh window: data past it is served as-is while a reload runs behind
// the request.
const (
	DefaultFreshWindow   = 6 * time.Hour
	DefaultStaleWindow   = 4 * time.Hour
	DefaultColdStartWait = 10 * time.Second
	defaultReloadTimeout = 2 * time.Minute
)

// Common errors.
var (
	// ErrLoading is returned when no data exists yet and the initial
	// reload did not finish within the cold-start wait. The reload keeps
	// running; a later call will pick up its result.
	ErrLoading = errors.New("catalog: still loading")
)

// Loader produces a fresh copy of the catalog.
type Loader interface {
	Load(ctx context.Context) ([]Album, error)
}

// Cache is the process-wide catalog cache. At most one reload is in
// flight at a time; concurrent callers share it.
type Cache struct {
	loader        Loader
	freshWindow   time.Duration
	staleWindow   time.Duration
	coldStartWait time.Duration
	reloadTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu       sync.Mutex
	snap     *Snapshot
	lastErr  error         // error of the most recent reload, nil on success
	inflight chan struct{} // closed when the current reload finishes, nil when idle
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithWindows overrides the freshness policy windows.
func WithWindows(fresh, stale time.Duration) CacheOption {
	return func(c *Cache) {
		c.freshWindow = fresh
		c.staleWindow = stale
	}
}

// WithColdStartWait bounds how long a cold-start caller blocks.
func WithColdStartWait(d time.Duration) CacheOption {
	return func(c *Cache) {
		c.coldStartWait = d
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a Cache over the given loader. Data is loaded lazily
// on first demand, not at construction.
func NewCache(loader Loader, logger *slog.Logger, opts ...CacheOption) *Cache {
	c := &Cache{
		loader:        loader,
		freshWindow:   DefaultFreshWindow,
		staleWindow:   DefaultStaleWindow,
		coldStartWait: DefaultColdStartWait,
		reloadTimeout: defaultReloadTimeout,
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the current catalog snapshot and its cache metadata.
//
// With data present the call never blocks: past the stale window (or when
// forceRefresh is set) a background reload is started unless one is
// already in flight. With no data at all the call waits for the shared
// reload up to the cold-start bound and returns ErrLoading on timeout.
func (c *Cache) Get(ctx context.Context, forceRefresh bool) (*Snapshot, Meta, error) {
	c.mu.Lock()

	if c.snap != nil {
		snap := c.snap
		age := c.now().Sub(snap.LoadedAt)

		if forceRefresh || age >= c.staleWindow {
			c.startReloadLocked()
		}
		meta := c.metaLocked(snap, age)
		c.mu.Unlock()
		return snap, meta, nil
	}

	// Cold start: join the in-flight reload, or start one.
	c.startReloadLocked()
	done := c.inflight
	c.mu.Unlock()

	select {
	case <-done:
	case <-time.After(c.coldStartWait):
		return nil, Meta{Refreshing: true}, ErrLoading
	case <-ctx.Done():
		return nil, Meta{Refreshing: true}, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap == nil {
		err := c.lastErr
		if err == nil {
			err = ErrLoading
		}
		return nil, Meta{}, fmt.Errorf("loading catalog: %w", err)
	}
	snap := c.snap
	return snap, c.metaLocked(snap, c.now().Sub(snap.LoadedAt)), nil
}

// startReloadLocked begins a background reload unless one is already in
// flight. Callers must hold c.mu.
func (c *Cache) startReloadLocked() {
	if c.inflight != nil {
		return
	}
	done := make(chan struct{})
	c.inflight = done

	go func() {
		defer close(done)

		ctx, cancel := context.WithTimeout(context.Background(), c.reloadTimeout)
		albums, err := c.loader.Load(ctx)
		cancel()

		c.mu.Lock()
		defer c.mu.Unlock()
		c.inflight = nil

		if err != nil {
			// Keep serving the previous snapshot, just remember the failure.
			c.lastErr = err
			c.logger.Error("catalog reload failed", "error", err)
			return
		}

		c.snap = &Snapshot{Albums: albums, LoadedAt: c.now()}
		c.lastErr = nil
		c.logger.Info("catalog reloaded", "albums", len(albums))
	}()
}

func (c *Cache) metaLocked(snap *Snapshot, age time.Duration) Meta {
	return Meta{
		LoadedAt:   snap.LoadedAt,
		Age:        age,
		Fresh:      age < c.freshWindow,
		Stale:      c.lastErr != nil,
		Refreshing: c.inflight != nil,
	}
}
