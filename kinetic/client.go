// Package kinetic defines the per-drive wire protocol the cluster layer
// drives concurrently across a stripe's connections, and provides an
// honestly-labeled in-process simulator of it. Nothing in this repository
// speaks the real Kinetic binary protocol or requires physical hardware;
// MemClient exists to exercise the cluster, cache and admin packages
// through real concurrent calls and tests.
package kinetic

import (
	"context"
	"errors"

	"github.com/kinetic-io/kio/cmn"
)

// WriteMode controls whether Put/Delete enforce optimistic concurrency
// against the value's current version.
type WriteMode int

const (
	// WriteModeRequireVersion fails with ErrVersionMismatch unless the
	// entry's stored version equals the caller-supplied old version. On
	// a missing key it succeeds when the old version is empty and fails
	// with ErrNotFound otherwise.
	WriteModeRequireVersion WriteMode = iota
	// WriteModeIgnoreVersion overwrites unconditionally.
	WriteModeIgnoreVersion
)

// PersistMode controls whether a write is acknowledged before or after
// it reaches stable storage. MemClient treats both identically, since it
// has no write-back cache of its own to flush.
type PersistMode int

const (
	PersistModeWriteThrough PersistMode = iota
	PersistModeWriteBack
)

// Record is one fragment as stored on (or retrieved from) a drive.
type Record struct {
	Value     []byte
	Version   []byte
	Tag       []byte
	Algorithm cmn.Algorithm
}

// LogType selects one category of device status returned by GetLog.
type LogType int

const (
	LogTypeCapacity LogType = iota
	LogTypeUtilization
	LogTypeConfiguration
	LogTypeStatistics
	LogTypeMessages
	LogTypeLimits
)

// Log is the subset of device status a drive reports back.
type Log struct {
	CapacityBytes      uint64
	RemainingBytes     uint64
	UtilizationPercent float64
	EntryCount         uint64
}

var (
	// ErrNotFound is returned by Get/GetVersion when key does not exist
	// on the drive, and by Put/Delete under WriteModeRequireVersion when
	// key does not exist and a non-empty old version was given. Delete
	// under WriteModeIgnoreVersion of a missing key succeeds.
	ErrNotFound = errors.New("kio/kinetic: not found")
	// ErrVersionMismatch is returned by Put/Delete under
	// WriteModeRequireVersion when the caller's old version does not
	// match the value currently stored.
	ErrVersionMismatch = errors.New("kio/kinetic: version mismatch")
)

// Client is the per-drive protocol surface the cluster layer's async
// operation vector drives concurrently, one call per connection, fanned
// out across a stripe.
type Client interface {
	Put(ctx context.Context, key string, oldVersion []byte, mode WriteMode, record Record, persist PersistMode) error
	Get(ctx context.Context, key string) (Record, error)
	GetVersion(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string, oldVersion []byte, mode WriteMode, persist PersistMode) error
	// GetKeyRange lists keys in [start, end], inclusive per the two bool
	// flags, capped at max results. reverse walks the range backward.
	GetKeyRange(ctx context.Context, start string, startInclusive bool, end string, endInclusive bool, reverse bool, max int) ([]string, error)
	GetLog(ctx context.Context, types []LogType) (Log, error)
	// NoOp is the protocol-level round trip a freshly dialed connection
	// performs before being considered healthy.
	NoOp(ctx context.Context) error
}
