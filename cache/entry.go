package cache

import "time"

// Block is one cached block of a file: its cluster-layer key, its
// current content and version, and whether it has been written since
// its last flush.
type Block struct {
	Key     string
	Data    []byte
	Version []byte
	Dirty   bool
}

// Mode selects whether a Get should feed the prefetch oracle and
// schedule readahead (Standard) or skip both, as a readahead request
// itself does (Readahead).
type Mode int

const (
	Standard Mode = iota
	Readahead
)

// entry is the cache's internal bookkeeping for one cached block,
// referenced by the LRU list and the lookup index together.
type entry struct {
	key        string
	block      Block
	lastAccess time.Time
	owners     map[int]struct{}
	flushing   bool
}

func newEntry(key string) *entry {
	return &entry{key: key, owners: make(map[int]struct{})}
}

// reassign resets e to represent a freshly fetched block under a new
// key, reusing its backing buffer rather than allocating one.
func (e *entry) reassign(key string, buf []byte) {
	e.key = key
	e.block = Block{Key: key, Data: buf[:0]}
	e.owners = make(map[int]struct{})
	e.flushing = false
}

func (e *entry) unowned() bool { return len(e.owners) == 0 }
