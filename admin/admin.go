// Package admin provides cluster-wide self-healing operations: counting,
// scanning, repairing and force-removing keys by target type, paginated
// over the whole key range and parallelized across a background pool.
package admin

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"go.uber.org/atomic"

	"github.com/kinetic-io/kio/cache"
	"github.com/kinetic-io/kio/cluster"
	"github.com/kinetic-io/kio/cmn"
)

// Target names which class of keys an operation should touch.
type Target int

const (
	TargetData Target = iota
	TargetMetadata
	TargetAttribute
	TargetIndicator
)

func (t Target) keyType() cmn.KeyType {
	switch t {
	case TargetMetadata:
		return cmn.Metadata
	case TargetAttribute:
		return cmn.Attribute
	case TargetIndicator:
		return cmn.Indicator
	default:
		return cmn.Data
	}
}

// Counts accumulates the outcome of a scan/repair/reset pass.
type Counts struct {
	Total        int
	Incomplete   int
	NeedAction   int
	Repaired     int
	Removed      int
	Unrepairable int
}

// Callback is invoked periodically during a long-running operation with
// the number of keys processed so far. Returning false requests
// cooperative shutdown: the operation stops picking up new pages but
// lets in-flight work finish.
type Callback func(processed int) bool

// Cluster runs admin operations over a cluster.Cluster's full key
// space, identified by clusterID (used to build the scan's key-range
// bounds, matching the key grammar the façade writes under).
type Cluster struct {
	clusterID string
	cl        *cluster.Cluster
	pageSize  int
}

// New constructs an admin view over cl. pageSize bounds how many keys
// Range returns per page (a Kinetic GetKeyRange call has its own
// practical limits).
func New(clusterID string, cl *cluster.Cluster, pageSize int) *Cluster {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Cluster{clusterID: clusterID, cl: cl, pageSize: pageSize}
}

type operation int

const (
	opCount operation = iota
	opScan
	opRepair
	opReset
)

// Count returns the number of keys of the named target present on the
// cluster, without reading or writing anything else.
func (a *Cluster) Count(ctx context.Context, target Target, numThreads int, cb Callback) (int, error) {
	counts, err := a.doOperation(ctx, opCount, target, numThreads, cb)
	return counts.Total, err
}

// Scan walks every target key's stripe and classifies it as complete,
// needing action (at least nData fragments agree on a version or on
// the key's absence, but not the full stripe width), or incomplete (no
// such agreement, whether drives are unreachable or the reachable ones
// disagree), without writing anything. No key is counted as unfixable.
func (a *Cluster) Scan(ctx context.Context, target Target, numThreads int, cb Callback) (Counts, error) {
	return a.doOperation(ctx, opScan, target, numThreads, cb)
}

// Repair scans and, for every key needing action, re-fetches it
// (cluster.Cluster.Get reconstructs missing fragments if needed; it
// does not emit an indicator key) and re-puts the result, then clears
// any handoff/indicator residue for that key.
func (a *Cluster) Repair(ctx context.Context, target Target, numThreads int, cb Callback) (Counts, error) {
	return a.doOperation(ctx, opRepair, target, numThreads, cb)
}

// Reset force-removes every target key, ignoring version. For
// TargetIndicator it also removes the handoff fragments hinted at by
// each indicator's wrapped key.
func (a *Cluster) Reset(ctx context.Context, target Target, numThreads int, cb Callback) (Counts, error) {
	return a.doOperation(ctx, opReset, target, numThreads, cb)
}

func (a *Cluster) doOperation(ctx context.Context, op operation, target Target, numThreads int, cb Callback) (Counts, error) {
	if numThreads < 1 {
		numThreads = 1
	}
	start, end := cmn.KeyRange(a.clusterID, target.keyType())

	var acc atomicCounts
	pool := cache.NewPool(numThreads, numThreads)

	var rangeErr error
	for {
		keys, status := a.cl.Range(ctx, start, end, target.keyType(), a.pageSize)
		if !status.OK() {
			rangeErr = fmt.Errorf("kio/admin: range [%s, %s) failed: %v", start, end, status)
			break
		}
		if len(keys) == 0 {
			break
		}
		start = keys[len(keys)-1] + string(rune(0))
		acc.total.Add(int64(len(keys)))

		if op != opCount {
			batch := keys
			pool.Run(func() {
				a.applyBatch(ctx, op, target, batch, &acc)
			})
		}

		if cb != nil && !cb(int(acc.total.Load())) {
			glog.Infof("kio/admin: callback requested shutdown, processed %d keys", acc.total.Load())
			break
		}
		if len(keys) < a.pageSize {
			break
		}
	}

	// Block until every already-submitted batch has merged its counts
	// before reporting the final tally.
	pool.Shutdown()
	return acc.snapshot(), rangeErr
}

// atomicCounts accumulates Counts from concurrently running batches
// using lock-free counters, matching the teacher's own use of
// go.uber.org/atomic (via its `3rdparty/atomic` fork) for concurrently
// updated xaction counters in ec.Codec.XactCount.
type atomicCounts struct {
	total, incomplete, needAction, repaired, removed, unrepairable atomic.Int64
}

func (a *atomicCounts) snapshot() Counts {
	return Counts{
		Total:        int(a.total.Load()),
		Incomplete:   int(a.incomplete.Load()),
		NeedAction:   int(a.needAction.Load()),
		Repaired:     int(a.repaired.Load()),
		Removed:      int(a.removed.Load()),
		Unrepairable: int(a.unrepairable.Load()),
	}
}

func (a *Cluster) applyBatch(ctx context.Context, op operation, target Target, keys []string, acc *atomicCounts) {
	var c Counts
	for _, key := range keys {
		a.applyOne(ctx, op, target, key, &c)
	}
	acc.incomplete.Add(int64(c.Incomplete))
	acc.needAction.Add(int64(c.NeedAction))
	acc.repaired.Add(int64(c.Repaired))
	acc.removed.Add(int64(c.Removed))
	acc.unrepairable.Add(int64(c.Unrepairable))
}

func (a *Cluster) applyOne(ctx context.Context, op operation, target Target, key string, c *Counts) {
	effectiveKey, effectiveType := key, target.keyType()
	if target == TargetIndicator {
		wrapped, ok := cmn.IndicatorTarget(key)
		if !ok {
			c.Unrepairable++
			return
		}
		effectiveKey = wrapped
		effectiveType = cmn.Data
	}

	needsAction, err := a.scanKey(ctx, effectiveKey, effectiveType, c)
	if err != nil {
		glog.Warningf("kio/admin: scan of %q failed: %v", effectiveKey, err)
		c.Unrepairable++
		return
	}

	switch op {
	case opScan:
		return
	case opRepair:
		if needsAction || target == TargetIndicator {
			if err := a.repairKey(ctx, effectiveKey, effectiveType, c); err != nil {
				glog.Warningf("kio/admin: repair of %q failed: %v", effectiveKey, err)
				c.Unrepairable++
				return
			}
			a.removeIndicatorResidue(ctx, effectiveKey)
		}
	case opReset:
		if target == TargetIndicator {
			a.removeIndicatorResidue(ctx, effectiveKey)
			if res := a.cl.Remove(ctx, key, nil, cmn.Indicator); !res.Status.OK() && res.Status.Code != cmn.NotFound {
				c.Unrepairable++
				return
			}
		} else if res := a.cl.Remove(ctx, key, nil, effectiveType); !res.Status.OK() && res.Status.Code != cmn.NotFound {
			c.Unrepairable++
			return
		}
		c.Removed++
	}
}

// scanKey fetches only the version of every fragment, across the full
// stripe width, to decide whether key requires action, without reading
// or reconstructing its value.
func (a *Cluster) scanKey(ctx context.Context, key string, t cmn.KeyType, c *Counts) (needsAction bool, err error) {
	res := a.cl.ScanVersion(ctx, key, t)
	switch {
	case res.Status.OK() && res.NeedAction:
		c.NeedAction++
		return true, nil
	case res.Status.OK():
		return false, nil
	case res.Status.Code == cmn.ClientIoError:
		c.Incomplete++
		return false, nil
	default:
		return false, fmt.Errorf("unfixable: %v", res.Status)
	}
}

// repairKey re-reads key (which, via cluster.Cluster.Get, already
// reconstructs any missing fragments and reports the resulting value)
// and re-puts it, driving every lagging fragment up to the winning
// version.
func (a *Cluster) repairKey(ctx context.Context, key string, t cmn.KeyType, c *Counts) error {
	res := a.cl.Get(ctx, key, t)
	if res.Status.Code == cmn.NotFound {
		rm := a.cl.Remove(ctx, key, nil, t)
		if !rm.Status.OK() && rm.Status.Code != cmn.NotFound {
			return fmt.Errorf("remove failed: %v", rm.Status)
		}
		c.Removed++
		return nil
	}
	if !res.Status.OK() {
		return fmt.Errorf("get failed: %v", res.Status)
	}
	put := a.cl.Put(ctx, key, res.Version, res.Value, t)
	if !put.Status.OK() {
		return fmt.Errorf("put failed: %v", put.Status)
	}
	c.Repaired++
	return nil
}

// removeIndicatorResidue deletes any remaining handoff fragments for key
// (across every version) and the indicator key itself, so a repaired or
// reset key doesn't resurrect stale handoff data on a later read.
func (a *Cluster) removeIndicatorResidue(ctx context.Context, key string) {
	a.cl.RemoveHandoffResidue(ctx, key)
}
