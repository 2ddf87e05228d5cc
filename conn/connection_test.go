/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package conn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSession is an in-process Session with no descriptor to poll,
// exercising the same code path the kinetic.MemClient-backed connections
// use in cluster/cache tests.
type fakeSession struct {
	failNoOp bool
	closed   atomic.Bool
}

func (s *fakeSession) NoOp(ctx context.Context) error {
	if s.failNoOp {
		return errors.New("noop failed")
	}
	return nil
}
func (s *fakeSession) Fd() (int, bool) { return 0, false }
func (s *fakeSession) Pump() error     { return nil }
func (s *fakeSession) Close() error    { s.closed.Store(true); return nil }

type fakeDialer struct {
	attempts atomic.Int32
	fail     atomic.Bool
}

func (d *fakeDialer) Dial(ctx context.Context, ep Endpoint) (Session, error) {
	d.attempts.Add(1)
	return &fakeSession{failNoOp: d.fail.Load()}, nil
}

func newTestPoller(t *testing.T) *Poller {
	t.Helper()
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	t.Cleanup(p.Stop)
	return p
}

func TestFirstGetTriggersForegroundConnect(t *testing.T) {
	poller := newTestPoller(t)
	d := &fakeDialer{}
	c := New("d0", Endpoint{Host: "a"}, Endpoint{Host: "b"}, d, poller, time.Hour)

	sess, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a session")
	}
	if d.attempts.Load() != 1 {
		t.Fatalf("attempts = %d, want 1", d.attempts.Load())
	}
	if !c.Healthy() {
		t.Fatal("expected connection to be healthy")
	}
}

func TestSetErrorDuringGraceWindowIsIgnored(t *testing.T) {
	poller := newTestPoller(t)
	d := &fakeDialer{}
	c := New("d0", Endpoint{Host: "a"}, Endpoint{Host: "b"}, d, poller, time.Hour)
	if _, err := c.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}

	c.SetError()
	if !c.Healthy() {
		t.Fatal("setError within the 500ms grace window must be a no-op")
	}
}

func TestSetErrorAfterGraceWindowMarksUnhealthy(t *testing.T) {
	poller := newTestPoller(t)
	d := &fakeDialer{}
	c := New("d0", Endpoint{Host: "a"}, Endpoint{Host: "b"}, d, poller, time.Hour)
	if _, err := c.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.timestamp = time.Now().Add(-errorGrace - time.Millisecond)

	c.SetError()
	if c.Healthy() {
		t.Fatal("expected connection to be marked unhealthy")
	}
}

func TestGetOnUnhealthyConnectionReturnsNotConnected(t *testing.T) {
	poller := newTestPoller(t)
	d := &fakeDialer{}
	d.fail.Store(true)
	c := New("d0", Endpoint{Host: "a"}, Endpoint{Host: "b"}, d, poller, time.Hour)

	_, err := c.Get(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}
