package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"woodland-client/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Scope string

const (
	ScopeAll    Scope = "all"
	ScopeAction Scope = "action"
	ScopeGame   Scope = "game"
)

// Event describes an invalidation. GameID is zero for ScopeAll.
type Event struct {
	Scope  Scope
	GameID int64
}

// Covers reports whether the event touches the given game's action caches.
func (e Event) Covers(gameID int64) bool {
	return e.Scope == ScopeAll || e.GameID == gameID
}

type Listener func(ctx context.Context, ev Event)

// Ticket records the generation of a key at the moment a fetch started.
type Ticket struct {
	Key Key
	Gen uint64
}

// State is what Get found for a key.
type State struct {
	Found   bool
	Stale   bool
	Version uint64
}

type entry struct {
	key     Key
	gen     uint64
	version uint64
	stale   bool
	present bool
	refetch func(ctx context.Context) error

	// writeMu orders store writes to the key so the store ends up holding
	// the value of the newest applied generation.
	writeMu sync.Mutex
}

// Bus owns every cached server read and is the only place they are marked
// stale. Writers never overwrite an entry whose generation moved after they
// took their ticket.
type Bus struct {
	mu        sync.Mutex
	store     Store
	entries   map[string]*entry
	listeners map[uint64]Listener
	nextSub   uint64
	seq       uint64
	gens      uint64

	refetchLimit int
	log          *zap.Logger
}

func NewBus(store Store) *Bus {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Bus{
		store:        store,
		entries:      make(map[string]*entry),
		listeners:    make(map[uint64]Listener),
		refetchLimit: 4,
		log:          logger.Named("cache"),
	}
}

func (b *Bus) entryLocked(k Key) *entry {
	id := k.String()
	e, ok := b.entries[id]
	if !ok {
		e = &entry{key: k, gen: b.nextGenLocked()}
		b.entries[id] = e
	}
	return e
}

// nextGenLocked hands out generations from one counter, so a key that was
// deleted and created again never reuses a generation an old ticket holds.
func (b *Bus) nextGenLocked() uint64 {
	b.gens++
	return b.gens
}

// Subscribe registers l for every invalidation and returns a func that
// removes it again.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	b.nextSub++
	id := b.nextSub
	b.listeners[id] = l
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *Bus) Ticket(k Key) Ticket {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Ticket{Key: k, Gen: b.entryLocked(k).gen}
}

// Put stores v under the ticket's key unless the key was invalidated or
// deleted since the ticket was taken. It reports whether the value was
// applied. The store write happens outside the bus lock.
func (b *Bus) Put(ctx context.Context, t Ticket, v any) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s: %w", t.Key, err)
	}
	id := t.Key.String()

	b.mu.Lock()
	e, ok := b.entries[id]
	b.mu.Unlock()
	if !ok {
		b.log.Debug("dropping write for deleted key", zap.Stringer("key", t.Key))
		return false, nil
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if !b.holds(e, t) {
		b.log.Debug("dropping stale write", zap.Stringer("key", t.Key), zap.Uint64("ticketGen", t.Gen))
		return false, nil
	}
	if err := b.store.Set(ctx, id, data); err != nil {
		return false, fmt.Errorf("failed to store %s: %w", t.Key, err)
	}

	b.mu.Lock()
	if b.entries[id] != e {
		b.mu.Unlock()
		if err := b.store.Delete(ctx, id); err != nil {
			b.log.Warn("failed to remove value of deleted key", zap.Stringer("key", t.Key), zap.Error(err))
		}
		return false, nil
	}
	if e.gen != t.Gen {
		b.mu.Unlock()
		b.log.Debug("key invalidated during write", zap.Stringer("key", t.Key))
		return false, nil
	}
	b.seq++
	e.version = b.seq
	e.stale = false
	e.present = true
	b.mu.Unlock()
	return true, nil
}

func (b *Bus) holds(e *entry, t Ticket) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries[t.Key.String()] == e && e.gen == t.Gen
}

// Replace stores v under k unconditionally and invalidates every ticket
// taken before it, so no in-flight fetch can overwrite the value later.
func (b *Bus) Replace(ctx context.Context, k Key, v any) error {
	b.mu.Lock()
	e := b.entryLocked(k)
	e.gen = b.nextGenLocked()
	t := Ticket{Key: k, Gen: e.gen}
	b.mu.Unlock()

	ok, err := b.Put(ctx, t, v)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s invalidated during replace", k)
	}
	return nil
}

// Get decodes the cached value into out. A missing store value is reported
// as not found even when the bus remembers the key.
func (b *Bus) Get(ctx context.Context, k Key, out any) (State, error) {
	b.mu.Lock()
	e, ok := b.entries[k.String()]
	if !ok || !e.present {
		b.mu.Unlock()
		return State{}, nil
	}
	st := State{Found: true, Stale: e.stale, Version: e.version}
	b.mu.Unlock()

	data, found, err := b.store.Get(ctx, k.String())
	if err != nil {
		return State{}, err
	}
	if !found {
		return State{}, nil
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return State{}, fmt.Errorf("failed to decode %s: %w", k, err)
		}
	}
	return st, nil
}

func (b *Bus) Version(k Key) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[k.String()]; ok {
		return e.version
	}
	return 0
}

// IsStale reports whether k was invalidated and not refreshed since.
func (b *Bus) IsStale(k Key) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[k.String()]
	return ok && e.stale
}

// Watch registers refetch to run whenever k is invalidated.
func (b *Bus) Watch(k Key, refetch func(ctx context.Context) error) {
	b.mu.Lock()
	b.entryLocked(k).refetch = refetch
	b.mu.Unlock()
}

// InvalidateAll marks every key stale and notifies subscribers. It returns
// once every watched read has been refetched, so callers observe fresh reads
// afterwards; callers that must not wait run it on their own goroutine.
func (b *Bus) InvalidateAll(ctx context.Context) {
	b.invalidate(ctx, Event{Scope: ScopeAll}, func(Key) bool { return true })
}

// InvalidateAction marks only the route and step of one game stale. Like
// InvalidateAll it waits for watched refetches.
func (b *Bus) InvalidateAction(ctx context.Context, gameID int64) {
	b.invalidate(ctx, Event{Scope: ScopeAction, GameID: gameID}, func(k Key) bool {
		return k.GameID == gameID && k.isAction()
	})
}

// InvalidateGame marks every key of one game stale and waits for its watched
// refetches.
func (b *Bus) InvalidateGame(ctx context.Context, gameID int64) {
	b.invalidate(ctx, Event{Scope: ScopeGame, GameID: gameID}, func(k Key) bool {
		return k.GameID == gameID
	})
}

func (b *Bus) invalidate(ctx context.Context, ev Event, match func(Key) bool) {
	b.mu.Lock()
	var refetch []func(context.Context) error
	marked := 0
	for _, e := range b.entries {
		if !match(e.key) {
			continue
		}
		e.gen = b.nextGenLocked()
		e.stale = true
		marked++
		if e.refetch != nil {
			refetch = append(refetch, e.refetch)
		}
	}
	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	b.log.Debug("invalidated",
		zap.String("scope", string(ev.Scope)),
		zap.Int64("gameID", ev.GameID),
		zap.Int("keys", marked),
		zap.Int("watched", len(refetch)),
	)

	for _, l := range listeners {
		l(ctx, ev)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.refetchLimit)
	for _, fn := range refetch {
		g.Go(func() error {
			if err := fn(gctx); err != nil {
				b.log.Warn("refetch failed", zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Delete forgets the given keys and their stored values. Tickets taken for
// them before can no longer be applied.
func (b *Bus) Delete(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	ids := make([]string, 0, len(keys))
	b.mu.Lock()
	for _, k := range keys {
		id := k.String()
		if _, ok := b.entries[id]; ok {
			delete(b.entries, id)
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	return b.store.Delete(ctx, ids...)
}

// Drop forgets every key of a game, including watches. Used when a game view
// is torn down.
func (b *Bus) Drop(ctx context.Context, gameID int64) error {
	b.mu.Lock()
	var ids []string
	for id, e := range b.entries {
		if e.key.GameID == gameID {
			ids = append(ids, id)
			delete(b.entries, id)
		}
	}
	b.mu.Unlock()
	return b.store.Delete(ctx, ids...)
}

// Query returns the cached value for k when it is fresh, and otherwise
// fetches, stores and returns it. A fetch that loses a race with an
// invalidation is returned to the caller but not cached.
func Query[T any](ctx context.Context, b *Bus, k Key, fetch func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	st, err := b.Get(ctx, k, &cached)
	if err != nil {
		b.log.Warn("cache read failed", zap.Stringer("key", k), zap.Error(err))
	} else if st.Found && !st.Stale {
		return cached, nil
	}

	t := b.Ticket(k)
	v, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if _, err := b.Put(ctx, t, v); err != nil {
		b.log.Warn("cache write failed", zap.Stringer("key", k), zap.Error(err))
	}
	return v, nil
}
