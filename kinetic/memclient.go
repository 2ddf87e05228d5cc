package kinetic

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Drive is the shared, persistent backing store one simulated physical
// drive keeps across MemClient reconnects. Its entries are stored in a
// sync.Map; a coarse mutex serializes the check-and-set sequences Put and
// Delete need for WriteModeRequireVersion, since sync.Map's own
// CompareAndSwap compares by interface equality and Record holds slices.
type Drive struct {
	name string

	mu      sync.Mutex
	entries sync.Map // string -> Record

	capacityBytes uint64
	used          atomic.Uint64
	down          atomic.Bool
}

// NewDrive constructs an empty simulated drive of the given capacity.
func NewDrive(name string, capacityBytes uint64) *Drive {
	return &Drive{name: name, capacityBytes: capacityBytes}
}

// SetDown flips the drive between reachable and unreachable; a down
// drive fails every client operation and NoOp, simulating a dead or
// disconnected Kinetic device for fault-injection tests.
func (d *Drive) SetDown(down bool) { d.down.Store(down) }

func (d *Drive) isDown() bool { return d.down.Load() }

// MemClient is an in-process Client bound to one Drive. It also
// implements conn.Session (NoOp plus no-op Fd/Pump/Close) so it can be
// handed out directly by a conn.Dialer in tests without a real socket.
type MemClient struct {
	drive *Drive
}

// NewMemClient wraps drive in a Client/conn.Session.
func NewMemClient(drive *Drive) *MemClient { return &MemClient{drive: drive} }

func errIfDown(d *Drive) error {
	if d.isDown() {
		return fmt.Errorf("kio/kinetic: drive %s unreachable", d.name)
	}
	return nil
}

func (c *MemClient) Put(ctx context.Context, key string, oldVersion []byte, mode WriteMode, record Record, persist PersistMode) error {
	if err := errIfDown(c.drive); err != nil {
		return err
	}
	c.drive.mu.Lock()
	defer c.drive.mu.Unlock()

	if mode == WriteModeRequireVersion {
		if err := checkVersionLocked(c.drive, key, oldVersion); err != nil {
			return err
		}
	}
	if v, ok := c.drive.entries.Load(key); !ok {
		c.drive.used.Add(uint64(len(record.Value)))
	} else {
		prev := v.(Record)
		c.drive.used.Add(uint64(len(record.Value)) - uint64(len(prev.Value)))
	}
	c.drive.entries.Store(key, record)
	return nil
}

func (c *MemClient) Get(ctx context.Context, key string) (Record, error) {
	if err := errIfDown(c.drive); err != nil {
		return Record{}, err
	}
	v, ok := c.drive.entries.Load(key)
	if !ok {
		return Record{}, ErrNotFound
	}
	return v.(Record), nil
}

func (c *MemClient) GetVersion(ctx context.Context, key string) ([]byte, error) {
	if err := errIfDown(c.drive); err != nil {
		return nil, err
	}
	v, ok := c.drive.entries.Load(key)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(Record).Version, nil
}

func (c *MemClient) Delete(ctx context.Context, key string, oldVersion []byte, mode WriteMode, persist PersistMode) error {
	if err := errIfDown(c.drive); err != nil {
		return err
	}
	c.drive.mu.Lock()
	defer c.drive.mu.Unlock()

	if mode == WriteModeRequireVersion {
		if err := checkVersionLocked(c.drive, key, oldVersion); err != nil {
			return err
		}
	}
	if v, ok := c.drive.entries.Load(key); ok {
		c.drive.used.Add(-uint64(len(v.(Record).Value)))
	}
	c.drive.entries.Delete(key)
	return nil
}

// checkVersionLocked must be called with drive.mu held.
func checkVersionLocked(drive *Drive, key string, oldVersion []byte) error {
	v, ok := drive.entries.Load(key)
	switch {
	case !ok && len(oldVersion) == 0:
		return nil
	case !ok:
		return ErrNotFound
	case !bytes.Equal(v.(Record).Version, oldVersion):
		return ErrVersionMismatch
	default:
		return nil
	}
}

func (c *MemClient) GetKeyRange(ctx context.Context, start string, startInclusive bool, end string, endInclusive bool, reverse bool, max int) ([]string, error) {
	if err := errIfDown(c.drive); err != nil {
		return nil, err
	}
	var keys []string
	c.drive.entries.Range(func(k, _ any) bool {
		key := k.(string)
		if inRange(key, start, startInclusive, end, endInclusive) {
			keys = append(keys, key)
		}
		return true
	})
	sort.Strings(keys)
	if reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	if max > 0 && len(keys) > max {
		keys = keys[:max]
	}
	return keys, nil
}

func inRange(key, start string, startInclusive bool, end string, endInclusive bool) bool {
	if startInclusive {
		if key < start {
			return false
		}
	} else if key <= start {
		return false
	}
	if endInclusive {
		if key > end {
			return false
		}
	} else if key >= end {
		return false
	}
	return true
}

func (c *MemClient) GetLog(ctx context.Context, types []LogType) (Log, error) {
	if err := errIfDown(c.drive); err != nil {
		return Log{}, err
	}
	used := c.drive.used.Load()
	count := uint64(0)
	c.drive.entries.Range(func(_, _ any) bool { count++; return true })
	util := 0.0
	if c.drive.capacityBytes > 0 {
		util = 100 * float64(used) / float64(c.drive.capacityBytes)
	}
	return Log{
		CapacityBytes:      c.drive.capacityBytes,
		RemainingBytes:     c.drive.capacityBytes - used,
		UtilizationPercent: util,
		EntryCount:         count,
	}, nil
}

func (c *MemClient) NoOp(ctx context.Context) error { return errIfDown(c.drive) }

// Fd reports that this session has no OS descriptor to register with a
// Poller; it completes requests synchronously within the calling call.
func (c *MemClient) Fd() (int, bool) { return 0, false }

// Pump is a no-op: MemClient has nothing asynchronous to drain.
func (c *MemClient) Pump() error { return nil }

func (c *MemClient) Close() error { return nil }
