package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func testKeyFunc(owner int, blockIndex int64) string {
	return fmt.Sprintf("owner=%d:block=%d", owner, blockIndex)
}

func TestCacheGetFetchesOnMissAndHitsOnRepeat(t *testing.T) {
	loads := 0
	load := func(ctx context.Context, key string) (Block, error) {
		loads++
		return Block{Data: []byte("loaded:" + key)}, nil
	}
	store := func(ctx context.Context, key string, b Block) ([]byte, error) { return nil, nil }
	c := New(10, 64, load, store, NewPool(1, 1))

	b1, err := c.Get(context.Background(), 1, 0, testKeyFunc, Standard)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := c.Get(context.Background(), 1, 0, testKeyFunc, Standard)
	if err != nil {
		t.Fatal(err)
	}
	if string(b1.Data) != string(b2.Data) {
		t.Fatalf("expected identical cached data, got %q and %q", b1.Data, b2.Data)
	}
	if loads != 1 {
		t.Fatalf("expected exactly one backend load for a repeated get, got %d", loads)
	}
}

func TestCachePutMarksDirtyAndFlushWritesBack(t *testing.T) {
	load := func(ctx context.Context, key string) (Block, error) {
		return Block{Data: []byte("initial")}, nil
	}
	stored := make(chan Block, 1)
	store := func(ctx context.Context, key string, b Block) ([]byte, error) {
		stored <- b
		return []byte("v2"), nil
	}
	c := New(10, 64, load, store, NewPool(1, 1))

	b, err := c.Get(context.Background(), 1, 0, testKeyFunc, Standard)
	if err != nil {
		t.Fatal(err)
	}
	c.Put(b.Key, []byte("modified"))
	if err := c.Flush(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-stored:
		if string(got.Data) != "modified" {
			t.Fatalf("expected flush to store modified data, got %q", got.Data)
		}
	default:
		t.Fatal("expected Flush to call store for a dirty block")
	}
}

func TestCacheDropWithoutForceKeepsEntry(t *testing.T) {
	load := func(ctx context.Context, key string) (Block, error) { return Block{Data: []byte("x")}, nil }
	store := func(ctx context.Context, key string, b Block) ([]byte, error) { return nil, nil }
	c := New(10, 64, load, store, NewPool(1, 1))

	if _, err := c.Get(context.Background(), 1, 0, testKeyFunc, Standard); err != nil {
		t.Fatal(err)
	}
	c.Drop(1, false)

	c.mu.Lock()
	_, present := c.index[testKeyFunc(1, 0)]
	c.mu.Unlock()
	if !present {
		t.Fatal("expected Drop(force=false) to keep the entry cached")
	}
}

func TestCacheDeferredBackgroundErrorSurfacesOnNextGet(t *testing.T) {
	load := func(ctx context.Context, key string) (Block, error) { return Block{Data: []byte("x")}, nil }
	store := func(ctx context.Context, key string, b Block) ([]byte, error) { return nil, nil }
	c := New(10, 64, load, store, NewPool(1, 1))

	b, err := c.Get(context.Background(), 7, 0, testKeyFunc, Standard)
	if err != nil {
		t.Fatal(err)
	}
	c.pushOwnerError(&entry{key: b.Key, owners: map[int]struct{}{7: {}}}, errors.New("flush failed"))

	if _, err := c.Get(context.Background(), 7, 1, testKeyFunc, Standard); err == nil {
		t.Fatal("expected the queued background error to surface on the next Get")
	}
}
