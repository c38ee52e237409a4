package patch

import (
	"fmt"
	"slices"
	"sync"
)

// Loader fetches a patch by key.
type Loader interface {
	Load(key Key) (*Patch, error)
}

// EventType indicates what kind of change happened in the index.
type EventType int

const (
	EventPatchLoaded EventType = iota
)

// Event is emitted to subscribers when a patch enters the index.
type Event struct {
	Type    EventType
	Key     Key
	Summits int
}

// Index is a thread-safe, lazily filled map from grid cell to patch.
type Index struct {
	grid   Grid
	loader Loader

	mu      sync.RWMutex
	patches map[Key]*Patch
	loading map[Key]*pending
	subs    map[uint64]func(Event)
	nextSub uint64
}

// pending is a load in flight; done closes once p or err is set.
type pending struct {
	done chan struct{}
	p    *Patch
	err  error
}

// NewIndex returns an index over grid that loads missing patches from
// loader. A nil loader makes the index purely in-memory.
func NewIndex(grid Grid, loader Loader) *Index {
	return &Index{
		grid:    grid,
		loader:  loader,
		patches: make(map[Key]*Patch),
		loading: make(map[Key]*pending),
		subs:    make(map[uint64]func(Event)),
	}
}

// Grid returns the layout the index serves.
func (ix *Index) Grid() Grid { return ix.grid }

func (ix *Index) checkSize(key Key, p *Patch) error {
	if p.Size != ix.grid.Size() {
		return fmt.Errorf("patch %s has size %d, index uses %d", key, p.Size, ix.grid.Size())
	}
	return nil
}

// Add inserts a patch. It returns an error if the key is already present.
func (ix *Index) Add(p *Patch) error {
	if err := ix.checkSize(p.Key, p); err != nil {
		return err
	}
	ix.mu.Lock()
	if _, exists := ix.patches[p.Key]; exists {
		ix.mu.Unlock()
		return fmt.Errorf("patch %s already present", p.Key)
	}
	ix.patches[p.Key] = p
	subs := ix.subscribersLocked()
	ix.mu.Unlock()

	notify(subs, Event{Type: EventPatchLoaded, Key: p.Key, Summits: len(p.Summits)})
	return nil
}

// Get returns the patch for key, loading it on first use. Concurrent
// callers for the same key share one load; cached patches stay readable
// while it runs. Failed loads are not cached.
func (ix *Index) Get(key Key) (*Patch, error) {
	ix.mu.RLock()
	p, ok := ix.patches[key]
	ix.mu.RUnlock()
	if ok {
		return p, nil
	}
	if ix.loader == nil {
		return nil, fmt.Errorf("%w: %s", ErrPatchMissing, key)
	}

	ix.mu.Lock()
	if p, ok := ix.patches[key]; ok {
		ix.mu.Unlock()
		return p, nil
	}
	if l, ok := ix.loading[key]; ok {
		ix.mu.Unlock()
		<-l.done
		return l.p, l.err
	}
	l := &pending{done: make(chan struct{})}
	ix.loading[key] = l
	ix.mu.Unlock()

	p, err := ix.loader.Load(key)
	if err == nil {
		err = ix.checkSize(key, p)
	}
	if err != nil {
		p = nil
	}

	ix.mu.Lock()
	delete(ix.loading, key)
	var subs []func(Event)
	if err == nil {
		ix.patches[key] = p
		subs = ix.subscribersLocked()
	}
	ix.mu.Unlock()

	l.p, l.err = p, err
	close(l.done)
	if err != nil {
		return nil, err
	}
	notify(subs, Event{Type: EventPatchLoaded, Key: key, Summits: len(p.Summits)})
	return p, nil
}

// Lookup returns the patch whose inner bounds contain the point.
func (ix *Index) Lookup(lat, lng float64) (*Patch, error) {
	return ix.Get(ix.grid.KeyFor(lat, lng))
}

// Len returns the number of patches held in memory.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.patches)
}

// Subscribe registers a callback for index events. It returns an
// unsubscribe function; calling it more than once is harmless.
func (ix *Index) Subscribe(fn func(Event)) (unsubscribe func()) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	id := ix.nextSub
	ix.nextSub++
	ix.subs[id] = fn

	return func() {
		ix.mu.Lock()
		defer ix.mu.Unlock()
		delete(ix.subs, id)
	}
}

// subscribersLocked snapshots the callbacks in subscription order.
func (ix *Index) subscribersLocked() []func(Event) {
	ids := make([]uint64, 0, len(ix.subs))
	for id := range ix.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(Event), len(ids))
	for i, id := range ids {
		out[i] = ix.subs[id]
	}
	return out
}

func notify(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
