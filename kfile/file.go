// Package kfile is a thin POSIX-like file façade over cluster.Cluster
// and cache.Cache: open/read/write/truncate/stat/sync/close plus
// extended attributes, with no further POSIX semantics layered on top.
// It exists so admin and cache have a concrete, testable caller that
// exercises the whole stack end to end.
package kfile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kinetic-io/kio/cache"
	"github.com/kinetic-io/kio/cluster"
	"github.com/kinetic-io/kio/cmn"
)

var nextOwner int64

func newOwner() int {
	return int(atomic.AddInt64(&nextOwner, 1))
}

// File is one open handle on a path within a cluster. Concurrent
// access to the same path from different File handles shares the
// underlying cache.Cache blocks, keyed by the same KeyFunc, so a write
// through one handle is visible to a Read on another once flushed.
type File struct {
	clusterID string
	path      string
	cl        *cluster.Cluster
	cache     *cache.Cache
	blockSize int64
	owner     int

	mu        sync.Mutex
	lastBlock int64
	size      int64
	closed    bool
}

// Open opens path within clusterID. create mirrors SFS_O_CREAT: when
// set, a missing metadata key is created; otherwise a missing metadata
// key is an error. blockSize must match the chunk size the cluster was
// configured with.
func Open(ctx context.Context, cl *cluster.Cluster, c *cache.Cache, clusterID, path string, blockSize int64, create bool) (*File, error) {
	metaKey := cmn.MetadataKey(clusterID, path)
	res := cl.Get(ctx, metaKey, cmn.Metadata)
	switch {
	case res.Status.OK():
		// exists, nothing to do
	case res.Status.Code == cmn.NotFound && create:
		put := cl.Put(ctx, metaKey, nil, []byte{}, cmn.Metadata)
		if !put.Status.OK() && put.Status.Code != cmn.VersionMismatch {
			return nil, fmt.Errorf("kio/kfile: create %q: %v", path, put.Status)
		}
	case res.Status.Code == cmn.NotFound:
		return nil, fmt.Errorf("kio/kfile: %q does not exist", path)
	default:
		return nil, fmt.Errorf("kio/kfile: open %q: %v", path, res.Status)
	}

	f := &File{
		clusterID: clusterID,
		path:      path,
		cl:        cl,
		cache:     c,
		blockSize: blockSize,
		owner:     newOwner(),
	}
	if err := f.verifyLastBlock(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) key(owner int, blockIndex int64) string {
	return cmn.DataBlockKey(f.clusterID, f.path, blockIndex)
}

// verifyLastBlock range-scans for the highest-indexed data block still
// present, the way a freshly opened handle discovers a size another
// client already established; a file with no data blocks at all is
// zero length.
func (f *File) verifyLastBlock(ctx context.Context) error {
	start := cmn.DataBlockKey(f.clusterID, f.path, 0)
	end := cmn.DataBlockKey(f.clusterID, f.path, 99999999)
	var last string
	for {
		keys, status := f.cl.Range(ctx, start, end, cmn.Data, 100)
		if !status.OK() {
			return fmt.Errorf("kio/kfile: verify %q: %v", f.path, status)
		}
		if len(keys) == 0 {
			break
		}
		last = keys[len(keys)-1]
		start = last + string(rune(0))
		if len(keys) < 100 {
			break
		}
	}
	if last == "" {
		f.lastBlock = 0
		f.size = 0
		return nil
	}
	idx, err := cmn.ParseDataBlockIndex(last)
	if err != nil {
		return fmt.Errorf("kio/kfile: verify %q: %w", f.path, err)
	}
	f.lastBlock = idx

	res := f.cl.Get(ctx, last, cmn.Data)
	if res.Status.OK() {
		f.size = idx*f.blockSize + int64(len(res.Value))
	}
	return nil
}

// Read copies into buf starting at offset, returning the number of
// bytes actually read, which is short at end of file.
func (f *File) Read(ctx context.Context, offset int64, buf []byte) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, fmt.Errorf("kio/kfile: read on closed file %q", f.path)
	}
	size := f.size
	f.mu.Unlock()

	if offset >= size {
		return 0, nil
	}
	if int64(len(buf)) > size-offset {
		buf = buf[:size-offset]
	}

	var done int64
	for done < int64(len(buf)) {
		blockIdx := (offset + done) / f.blockSize
		blockOff := (offset + done) - blockIdx*f.blockSize
		block, err := f.cache.Get(ctx, f.owner, blockIdx, f.key, cache.Standard)
		if err != nil {
			return int(done), fmt.Errorf("kio/kfile: read block %d of %q: %w", blockIdx, f.path, err)
		}
		n := copy(buf[done:], blockAt(block.Data, blockOff))
		if n == 0 {
			break
		}
		done += int64(n)
	}
	return int(done), nil
}

func blockAt(data []byte, offset int64) []byte {
	if offset >= int64(len(data)) {
		return nil
	}
	return data[offset:]
}

// Write copies data into the file starting at offset, extending the
// file and marking every touched block dirty for a later Sync.
func (f *File) Write(ctx context.Context, offset int64, data []byte) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, fmt.Errorf("kio/kfile: write on closed file %q", f.path)
	}
	f.mu.Unlock()

	var done int64
	for done < int64(len(data)) {
		blockIdx := (offset + done) / f.blockSize
		blockOff := (offset + done) - blockIdx*f.blockSize
		chunkLen := f.blockSize - blockOff
		if remaining := int64(len(data)) - done; chunkLen > remaining {
			chunkLen = remaining
		}

		block, err := f.cache.Get(ctx, f.owner, blockIdx, f.key, cache.Standard)
		if err != nil {
			return int(done), fmt.Errorf("kio/kfile: write block %d of %q: %w", blockIdx, f.path, err)
		}
		buf := block.Data
		needed := int(blockOff + chunkLen)
		if cap(buf) < needed {
			grown := make([]byte, needed)
			copy(grown, buf)
			buf = grown
		} else if len(buf) < needed {
			buf = buf[:needed]
		}
		copy(buf[blockOff:blockOff+chunkLen], data[done:done+chunkLen])
		f.cache.Put(block.Key, buf)

		done += chunkLen

		f.mu.Lock()
		if blockIdx > f.lastBlock {
			f.lastBlock = blockIdx
		}
		if end := blockIdx*f.blockSize + int64(len(buf)); end > f.size {
			f.size = end
		}
		f.mu.Unlock()
	}
	return int(done), nil
}

// Truncate resizes the file to offset, trimming or removing data
// blocks as needed.
func (f *File) Truncate(ctx context.Context, offset int64) error {
	blockIdx := offset / f.blockSize
	blockOff := offset - blockIdx*f.blockSize

	block, err := f.cache.Get(ctx, f.owner, blockIdx, f.key, cache.Standard)
	if err == nil {
		truncated := block.Data
		if int64(len(truncated)) > blockOff {
			truncated = truncated[:blockOff]
		}
		f.cache.Put(block.Key, truncated)
	}

	if err := f.cache.Flush(ctx, f.owner); err != nil {
		return fmt.Errorf("kio/kfile: truncate %q: %w", f.path, err)
	}
	f.cache.Drop(f.owner, true)

	removeFrom := blockIdx + 1
	if offset == 0 {
		removeFrom = 0
	}
	if err := f.removeBlocksFrom(ctx, removeFrom); err != nil {
		return err
	}

	f.mu.Lock()
	f.lastBlock = blockIdx
	f.size = offset
	f.mu.Unlock()
	return nil
}

func (f *File) removeBlocksFrom(ctx context.Context, from int64) error {
	start := cmn.DataBlockKey(f.clusterID, f.path, from)
	end := cmn.DataBlockKey(f.clusterID, f.path, 99999999)
	for {
		keys, status := f.cl.Range(ctx, start, end, cmn.Data, 100)
		if !status.OK() {
			return fmt.Errorf("kio/kfile: range during truncate of %q: %v", f.path, status)
		}
		if len(keys) == 0 {
			return nil
		}
		for _, k := range keys {
			res := f.cl.Remove(ctx, k, nil, cmn.Data)
			if !res.Status.OK() && res.Status.Code != cmn.NotFound {
				return fmt.Errorf("kio/kfile: removing block %q: %v", k, res.Status)
			}
		}
		start = keys[len(keys)-1] + string(rune(0))
		if len(keys) < 100 {
			return nil
		}
	}
}

// Remove truncates the file to zero and deletes its metadata key.
func (f *File) Remove(ctx context.Context) error {
	if err := f.Truncate(ctx, 0); err != nil {
		return err
	}
	res := f.cl.Remove(ctx, cmn.MetadataKey(f.clusterID, f.path), nil, cmn.Metadata)
	if !res.Status.OK() && res.Status.Code != cmn.NotFound {
		return fmt.Errorf("kio/kfile: removing metadata key for %q: %v", f.path, res.Status)
	}
	return nil
}

// Sync flushes every dirty block belonging to this handle.
func (f *File) Sync(ctx context.Context) error {
	return f.cache.Flush(ctx, f.owner)
}

// Stat reports the file's current size.
func (f *File) Stat() (size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// Close flushes outstanding writes and releases this handle's
// ownership of cached blocks, without evicting them (another handle on
// the same path may still be open).
func (f *File) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	err := f.Sync(ctx)
	f.cache.Drop(f.owner, false)
	return err
}
