package kfile

import (
	"context"
	"fmt"

	"github.com/kinetic-io/kio/cache"
	"github.com/kinetic-io/kio/cluster"
	"github.com/kinetic-io/kio/cmn"
)

// NewCache builds a block cache backed by cl, for use by every File
// opened against the same cluster. capacity is the number of blocks
// held in memory; pool bounds background flush/readahead concurrency.
func NewCache(cl *cluster.Cluster, capacity, blockSize int, pool *cache.Pool) *cache.Cache {
	load := func(ctx context.Context, key string) (cache.Block, error) {
		res := cl.Get(ctx, key, cmn.Data)
		if res.Status.OK() {
			return cache.Block{Key: key, Data: res.Value, Version: res.Version}, nil
		}
		if res.Status.Code == cmn.NotFound {
			return cache.Block{Key: key, Data: make([]byte, 0, blockSize)}, nil
		}
		return cache.Block{}, fmt.Errorf("kio/kfile: load %q: %v", key, res.Status)
	}
	store := func(ctx context.Context, key string, block cache.Block) ([]byte, error) {
		res := cl.Put(ctx, key, block.Version, block.Data, cmn.Data)
		if !res.Status.OK() {
			return nil, fmt.Errorf("kio/kfile: store %q: %v", key, res.Status)
		}
		return res.Version, nil
	}
	return cache.New(capacity, blockSize, load, store, pool)
}
