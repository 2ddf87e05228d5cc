package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/kinetic-io/kio/prefetch"
)

const (
	shrinkPressure  = 0.70
	forcePressure   = 1.0
	minIdleEviction = 5 * time.Second
	unusedPoolCap   = 0.10
)

// Loader fetches a block's current content and version from the
// cluster layer.
type Loader func(ctx context.Context, key string) (Block, error)

// Flusher writes a dirty block back to the cluster layer, returning
// its new version.
type Flusher func(ctx context.Context, key string, block Block) ([]byte, error)

// KeyFunc builds the cluster-layer key for one owner's block index. A
// cache entry's identity is exactly the returned string: nothing else
// is folded in, so entries are not invalidated by a config reload that
// replaces cluster objects while the keys stay textually identical.
type KeyFunc func(owner int, blockIndex int64) string

// Cache is an LRU block cache shared by every open file of one
// cluster. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	lru      *list.List // front = most recently used, elements are *entry
	index    map[string]*list.Element
	unused   []*entry

	errMu  sync.Mutex
	errors map[int][]error

	prefetchMu sync.Mutex
	prefetch   map[int]*prefetch.Oracle

	pool      *Pool
	load      Loader
	store     Flusher
	blockSize int
}

// New constructs a cache of the given item capacity, backed by load
// for misses and store for background/explicit flushes, with
// background I/O bounded by pool.
func New(capacity, blockSize int, load Loader, store Flusher, pool *Pool) *Cache {
	return &Cache{
		capacity:  capacity,
		blockSize: blockSize,
		lru:       list.New(),
		index:     make(map[string]*list.Element),
		errors:    make(map[int][]error),
		prefetch:  make(map[int]*prefetch.Oracle),
		pool:      pool,
		load:      load,
		store:     store,
	}
}

// ChangeConfiguration resizes the cache's item capacity, shrinking
// immediately if the new capacity is below the current size.
func (c *Cache) ChangeConfiguration(capacity int) {
	c.mu.Lock()
	c.capacity = capacity
	c.mu.Unlock()
	c.tryShrink(true)
}

// Utilization reports the cache's current fill level in [0, 1].
func (c *Cache) Utilization() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity == 0 {
		return 0
	}
	return float64(c.lru.Len()) / float64(c.capacity)
}

// Get returns the block at blockIndex for owner, building its key via
// key, fetching it through Loader on a miss. Readahead requests
// (mode == Readahead) do not feed the prefetch oracle or themselves
// trigger further readahead.
func (c *Cache) Get(ctx context.Context, owner int, blockIndex int64, key KeyFunc, mode Mode) (Block, error) {
	if err := c.popOwnerError(owner); err != nil {
		return Block{}, err
	}

	k := key(owner, blockIndex)
	c.mu.Lock()
	if el, ok := c.index[k]; ok {
		c.lru.MoveToFront(el)
		e := el.Value.(*entry)
		e.lastAccess = time.Now()
		e.owners[owner] = struct{}{}
		block := e.block
		c.mu.Unlock()
		if mode == Standard {
			c.recordAccess(owner, blockIndex)
			c.scheduleReadahead(ctx, owner, blockIndex, key)
		}
		return block, nil
	}
	c.mu.Unlock()

	block, err := c.load(ctx, k)
	if err != nil {
		return Block{}, err
	}
	block.Key = k

	c.mu.Lock()
	e := c.takeEntryLocked(k)
	e.block = block
	e.lastAccess = time.Now()
	e.owners[owner] = struct{}{}
	el := c.lru.PushFront(e)
	c.index[k] = el
	c.mu.Unlock()

	c.tryShrink(false)
	if mode == Standard {
		c.recordAccess(owner, blockIndex)
		c.scheduleReadahead(ctx, owner, blockIndex, key)
	}
	return block, nil
}

// Put updates the cached content of key (fetched via Get beforehand),
// marking it dirty for a later Flush.
func (c *Cache) Put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return
	}
	c.lru.MoveToFront(el)
	e := el.Value.(*entry)
	e.block.Data = data
	e.block.Dirty = true
	e.lastAccess = time.Now()
}

// Flush writes every dirty block belonging to owner back to the
// cluster layer, synchronously, in the calling goroutine.
func (c *Cache) Flush(ctx context.Context, owner int) error {
	for _, e := range c.dirtyEntriesForOwner(owner) {
		if err := c.flushEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Drop removes owner from every entry it references. Entries with no
// remaining owners are not evicted unless force is set, tolerating a
// client that closes and reopens the same file.
func (c *Cache) Drop(owner int, force bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.lru.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		delete(e.owners, owner)
		if force && e.unowned() {
			c.evictLocked(el)
		}
		el = next
	}
	c.prefetchMu.Lock()
	delete(c.prefetch, owner)
	c.prefetchMu.Unlock()
}

func (c *Cache) dirtyEntriesForOwner(owner int) []*entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var dirty []*entry
	for el := c.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if _, ok := e.owners[owner]; ok && e.block.Dirty {
			dirty = append(dirty, e)
		}
	}
	return dirty
}

func (c *Cache) flushEntry(ctx context.Context, e *entry) error {
	c.mu.Lock()
	if e.flushing {
		c.mu.Unlock()
		return nil
	}
	e.flushing = true
	block := e.block
	c.mu.Unlock()

	version, err := c.store(ctx, e.key, block)

	c.mu.Lock()
	e.flushing = false
	if err == nil {
		e.block.Version = version
		e.block.Dirty = false
	}
	c.mu.Unlock()
	return err
}

// takeEntryLocked returns an entry for key, reusing one from the
// unused pool without reallocating its backing buffer when possible.
// Must be called with c.mu held.
func (c *Cache) takeEntryLocked(key string) *entry {
	if n := len(c.unused); n > 0 {
		e := c.unused[n-1]
		c.unused = c.unused[:n-1]
		buf := e.block.Data
		if buf == nil {
			buf = make([]byte, 0, c.blockSize)
		}
		e.reassign(key, buf)
		return e
	}
	return newEntry(key)
}

// tryShrink walks the cold tail of the LRU list, evicting entries that
// are clean, unowned, and idle for at least 5s once the cache crosses
// the 70% pressure point; it flushes dirty idle entries in the
// background. It collects entries only until the rest would bring the
// cache down to 90% of capacity, so a cache between 70% and 90% full
// evicts nothing. Past the 100% mark it flushes synchronously before
// evicting so capacity is actually recovered. force bypasses the
// pressure check (used by ChangeConfiguration).
func (c *Cache) tryShrink(force bool) {
	c.mu.Lock()
	if c.capacity == 0 {
		c.mu.Unlock()
		return
	}
	utilization := float64(c.lru.Len()) / float64(c.capacity)
	if !force && utilization < shrinkPressure {
		c.mu.Unlock()
		return
	}
	mustFreeSynchronously := utilization >= forcePressure || c.lru.Len() > c.capacity

	var toEvict, toFlush []*entry
	for el := c.lru.Back(); el != nil && c.lru.Len()-len(toEvict)-len(toFlush) > c.capacity*shrinkTargetNum/shrinkTargetDen; el = el.Prev() {
		e := el.Value.(*entry)
		if !e.unowned() || time.Since(e.lastAccess) < minIdleEviction {
			continue
		}
		if e.block.Dirty {
			toFlush = append(toFlush, e)
			continue
		}
		toEvict = append(toEvict, e)
	}
	for _, e := range toEvict {
		c.evictLocked(c.index[e.key])
	}
	c.mu.Unlock()

	for _, e := range toFlush {
		e := e
		flush := func() {
			ctx := context.Background()
			if err := c.flushEntry(ctx, e); err != nil {
				c.pushOwnerError(e, err)
				return
			}
			c.mu.Lock()
			if el, ok := c.index[e.key]; ok && e.unowned() {
				c.evictLocked(el)
			}
			c.mu.Unlock()
		}
		if mustFreeSynchronously {
			flush()
		} else if !c.pool.TryRun(flush) {
			glog.V(4).Infof("kio/cache: background pool saturated, deferring flush of %s", e.key)
		}
	}
}

const shrinkTargetNum, shrinkTargetDen = 9, 10 // shrink toward 90% capacity

// evictLocked removes el from the LRU list and index, returning its
// entry to the unused pool (reused on the next miss) instead of
// discarding its backing buffer, as long as the pool itself stays
// within 10% of capacity.
func (c *Cache) evictLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.index, e.key)
	if float64(len(c.unused)) < float64(c.capacity)*unusedPoolCap {
		c.unused = append(c.unused, e)
	}
}

func (c *Cache) pushOwnerError(e *entry, err error) {
	c.mu.Lock()
	owners := make([]int, 0, len(e.owners))
	for o := range e.owners {
		owners = append(owners, o)
	}
	c.mu.Unlock()

	c.errMu.Lock()
	defer c.errMu.Unlock()
	for _, o := range owners {
		c.errors[o] = append(c.errors[o], fmt.Errorf("kio/cache: background flush of %s: %w", e.key, err))
	}
}

// popOwnerError returns and clears the oldest deferred background
// error queued for owner, if any.
func (c *Cache) popOwnerError(owner int) error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	q := c.errors[owner]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	c.errors[owner] = q[1:]
	return err
}

func (c *Cache) recordAccess(owner int, blockIndex int64) {
	c.prefetchMu.Lock()
	defer c.prefetchMu.Unlock()
	o, ok := c.prefetch[owner]
	if !ok {
		o = prefetch.New(10)
		c.prefetch[owner] = o
	}
	o.Add(int(blockIndex))
}

// scheduleReadahead predicts the next blocks owner is likely to read
// and non-blockingly prefetches them, shrinking the prediction window
// linearly from full to zero as utilization rises from 0.75 to 0.95.
func (c *Cache) scheduleReadahead(ctx context.Context, owner int, blockIndex int64, key KeyFunc) {
	util := c.Utilization()
	window := readaheadWindow(util)
	if window == 0 {
		return
	}

	c.prefetchMu.Lock()
	o, ok := c.prefetch[owner]
	var predicted []int
	if ok {
		predicted = o.Predict(window, prefetch.Continue)
	}
	c.prefetchMu.Unlock()
	for _, idx := range predicted {
		idx := int64(idx)
		c.pool.TryRun(func() {
			if _, err := c.Get(ctx, owner, idx, key, Readahead); err != nil {
				glog.V(4).Infof("kio/cache: readahead of block %d failed: %v", idx, err)
			}
		})
	}
}

func readaheadWindow(utilization float64) int {
	const maxWindow = 10
	switch {
	case utilization <= 0.75:
		return maxWindow
	case utilization >= 0.95:
		return 0
	default:
		return int(maxWindow * (0.95 - utilization) / 0.20)
	}
}
