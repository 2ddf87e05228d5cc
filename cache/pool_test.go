package cache

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestPoolQueueModeRunsAllWork(t *testing.T) {
	p := NewPool(2, 4)
	defer p.Shutdown()

	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		p.Run(func() {
			defer wg.Done()
			n.Add(1)
		})
	}
	wg.Wait()
	if n.Load() != 10 {
		t.Fatalf("expected 10 completions, got %d", n.Load())
	}
}

func TestPoolNoQueueModeFallsBackToSynchronous(t *testing.T) {
	p := NewPool(1, 0)
	defer p.Shutdown()

	block := make(chan struct{})
	started := make(chan struct{})
	p.TryRun(func() {
		close(started)
		<-block
	})
	<-started

	if ok := p.TryRun(func() {}); ok {
		t.Fatal("expected TryRun to fail once the worker cap is saturated")
	}

	ran := false
	p.Run(func() { ran = true })
	if !ran {
		t.Fatal("expected Run to fall back to synchronous execution once the cap is reached")
	}
	close(block)
}
