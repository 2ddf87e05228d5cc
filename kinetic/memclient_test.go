package kinetic

import (
	"context"
	"errors"
	"testing"
)

func TestPutThenGetRoundTrips(t *testing.T) {
	drive := NewDrive("d0", 1<<20)
	c := NewMemClient(drive)
	ctx := context.Background()

	rec := Record{Value: []byte("hello"), Version: []byte("v1"), Tag: []byte("123")}
	if err := c.Put(ctx, "k1", nil, WriteModeIgnoreVersion, rec, PersistModeWriteThrough); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Value) != "hello" || string(got.Version) != "v1" {
		t.Fatalf("got %+v", got)
	}
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	drive := NewDrive("d0", 1<<20)
	c := NewMemClient(drive)
	if _, err := c.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPutRequireVersionRejectsStaleVersion(t *testing.T) {
	drive := NewDrive("d0", 1<<20)
	c := NewMemClient(drive)
	ctx := context.Background()

	rec := Record{Value: []byte("v1val"), Version: []byte("v1")}
	if err := c.Put(ctx, "k1", nil, WriteModeIgnoreVersion, rec, PersistModeWriteThrough); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rec2 := Record{Value: []byte("v2val"), Version: []byte("v2")}
	err := c.Put(ctx, "k1", []byte("stale"), WriteModeRequireVersion, rec2, PersistModeWriteThrough)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}

	err = c.Put(ctx, "k1", []byte("v1"), WriteModeRequireVersion, rec2, PersistModeWriteThrough)
	if err != nil {
		t.Fatalf("Put with correct old version: %v", err)
	}
}

func TestDeleteRequireVersion(t *testing.T) {
	drive := NewDrive("d0", 1<<20)
	c := NewMemClient(drive)
	ctx := context.Background()

	rec := Record{Value: []byte("x"), Version: []byte("v1")}
	if err := c.Put(ctx, "k1", nil, WriteModeIgnoreVersion, rec, PersistModeWriteThrough); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Delete(ctx, "k1", []byte("wrong"), WriteModeRequireVersion, PersistModeWriteThrough); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}
	if err := c.Delete(ctx, "k1", []byte("v1"), WriteModeRequireVersion, PersistModeWriteThrough); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected key gone, err = %v", err)
	}
}

func TestGetKeyRangeOrdersAndBounds(t *testing.T) {
	drive := NewDrive("d0", 1<<20)
	c := NewMemClient(drive)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		rec := Record{Value: []byte(k)}
		if err := c.Put(ctx, k, nil, WriteModeIgnoreVersion, rec, PersistModeWriteThrough); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}

	keys, err := c.GetKeyRange(ctx, "b", true, "d", true, false, 0)
	if err != nil {
		t.Fatalf("GetKeyRange: %v", err)
	}
	want := []string{"b", "c", "d"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}

	keys, err = c.GetKeyRange(ctx, "a", false, "e", true, false, 0)
	if err != nil {
		t.Fatalf("GetKeyRange: %v", err)
	}
	if len(keys) != 3 || keys[0] != "b" || keys[2] != "d" {
		t.Fatalf("exclusive start: keys = %v", keys)
	}
}

func TestDownDriveFailsEveryOperation(t *testing.T) {
	drive := NewDrive("d0", 1<<20)
	drive.SetDown(true)
	c := NewMemClient(drive)
	ctx := context.Background()

	if err := c.NoOp(ctx); err == nil {
		t.Fatal("expected NoOp to fail on a down drive")
	}
	if err := c.Put(ctx, "k", nil, WriteModeIgnoreVersion, Record{}, PersistModeWriteThrough); err == nil {
		t.Fatal("expected Put to fail on a down drive")
	}
}

func TestGetLogReportsUtilization(t *testing.T) {
	drive := NewDrive("d0", 100)
	c := NewMemClient(drive)
	ctx := context.Background()

	if err := c.Put(ctx, "k1", nil, WriteModeIgnoreVersion, Record{Value: make([]byte, 40)}, PersistModeWriteThrough); err != nil {
		t.Fatalf("Put: %v", err)
	}
	log, err := c.GetLog(ctx, nil)
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if log.EntryCount != 1 || log.UtilizationPercent != 40 {
		t.Fatalf("log = %+v", log)
	}
}
