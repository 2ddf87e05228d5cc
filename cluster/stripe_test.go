/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/kinetic-io/kio/cmn"
	"github.com/kinetic-io/kio/conn"
	"github.com/kinetic-io/kio/kinetic"
	"github.com/kinetic-io/kio/rs"
)

// testCluster builds nDrives simulated drives, each reachable through
// its own conn.Connection, ready for a Stripe to place fragments on.
func testCluster(t *testing.T, nDrives int) ([]*conn.Connection, []*kinetic.Drive) {
	t.Helper()
	dialer := kinetic.NewMemDialer()
	conns := make([]*conn.Connection, nDrives)
	drives := make([]*kinetic.Drive, nDrives)
	for i := 0; i < nDrives; i++ {
		ep := conn.Endpoint{Host: "mem", Port: i}
		drive := kinetic.NewDrive("drive", 1<<20)
		dialer.Register(ep, drive)
		drives[i] = drive
		conns[i] = conn.New("drive", ep, ep, dialer, nil, time.Millisecond)
	}
	return conns, drives
}

func TestStripePutGetRoundTrips(t *testing.T) {
	conns, _ := testCluster(t, 5)
	codec, err := rs.New(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	s := NewStripe(3, 2, codec, conns, time.Second)
	ctx := context.Background()

	value := []byte("the quick brown fox jumps over the lazy dog")
	put := s.Put(ctx, "k1", value, nil)
	if !put.Status.OK() {
		t.Fatalf("put: %v", put.Status)
	}

	got := s.Get(ctx, "k1")
	if !got.Status.OK() {
		t.Fatalf("get: %v", got.Status)
	}
	if string(got.Value) != string(value) {
		t.Fatalf("value mismatch: got %q want %q", got.Value, value)
	}
}

func TestStripeGetToleratesParityLossDrives(t *testing.T) {
	conns, drives := testCluster(t, 5)
	codec, err := rs.New(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	s := NewStripe(3, 2, codec, conns, time.Second)
	ctx := context.Background()

	value := []byte("reconstructed from parity")
	if put := s.Put(ctx, "k2", value, nil); !put.Status.OK() {
		t.Fatalf("put: %v", put.Status)
	}

	placed := stripePlacement(conns, "k2", 5, 0)
	for i := 0; i < 2; i++ {
		drives[indexOf(conns, placed[i])].SetDown(true)
	}

	got := s.Get(ctx, "k2")
	if !got.Status.OK() {
		t.Fatalf("get after losing 2 of 5 drives: %v", got.Status)
	}
	if string(got.Value) != string(value) {
		t.Fatalf("reconstructed value mismatch: got %q want %q", got.Value, value)
	}
}

func indexOf(conns []*conn.Connection, target *conn.Connection) int {
	for i, c := range conns {
		if c == target {
			return i
		}
	}
	return -1
}

func TestStripeReplicationWhenNDataIsOne(t *testing.T) {
	conns, _ := testCluster(t, 3)
	codec, err := rs.New(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	s := NewStripe(1, 2, codec, conns, time.Second)
	ctx := context.Background()

	value := []byte("metadata blob")
	if put := s.Put(ctx, "meta1", value, nil); !put.Status.OK() {
		t.Fatalf("put: %v", put.Status)
	}
	got := s.Get(ctx, "meta1")
	if !got.Status.OK() || string(got.Value) != string(value) {
		t.Fatalf("get: status=%v value=%q", got.Status, got.Value)
	}
}

func TestStripeDeleteIsIdempotent(t *testing.T) {
	conns, _ := testCluster(t, 5)
	codec, err := rs.New(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	s := NewStripe(3, 2, codec, conns, time.Second)
	ctx := context.Background()

	put := s.Put(ctx, "k3", []byte("gone soon"), nil)
	if !put.Status.OK() {
		t.Fatalf("put: %v", put.Status)
	}
	if del := s.Delete(ctx, "k3", put.Version); !del.Status.OK() {
		t.Fatalf("delete: %v", del.Status)
	}
	if del := s.Delete(ctx, "k3", put.Version); !del.Status.OK() {
		t.Fatalf("second delete: %v", del.Status)
	}

	got := s.Get(ctx, "k3")
	if got.Status.Code != cmn.NotFound {
		t.Fatalf("get after delete: got status %v, want NotFound", got.Status)
	}
}

func TestStripePutDetectsVersionMismatch(t *testing.T) {
	conns, _ := testCluster(t, 5)
	codec, err := rs.New(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	s := NewStripe(3, 2, codec, conns, time.Second)
	ctx := context.Background()

	if put := s.Put(ctx, "k4", []byte("v1"), nil); !put.Status.OK() {
		t.Fatalf("put v1: %v", put.Status)
	}
	stale := s.Put(ctx, "k4", []byte("v2 from a stale writer"), []byte(cmn.NewVersion(2)))
	if stale.Status.OK() {
		t.Fatalf("expected stale write to fail, got OK")
	}
}
