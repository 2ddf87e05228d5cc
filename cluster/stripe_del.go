/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"context"

	"github.com/kinetic-io/kio/cmn"
	"github.com/kinetic-io/kio/conn"
	"github.com/kinetic-io/kio/kinetic"
)

// Delete removes every fragment of key, conditioned on oldVersion unless
// it is nil. A fragment already gone counts the same as one this call
// just removed: delete is idempotent, so NotFound merges into the Ok
// tally rather than blocking quorum.
func (s *Stripe) Delete(ctx context.Context, key string, oldVersion []byte) Result {
	conns := stripePlacement(s.conns, key, s.size(), 0)

	v := NewVector()
	for i := 0; i < s.size(); i++ {
		v.Add(conns[i], func(ctx context.Context, c kinetic.Client) cmn.Status {
			mode := kinetic.WriteModeRequireVersion
			if oldVersion == nil {
				mode = kinetic.WriteModeIgnoreVersion
			}
			if err := c.Delete(ctx, key, oldVersion, mode, kinetic.PersistModeWriteThrough); err != nil {
				return statusFromFragmentErr(err)
			}
			return cmn.StatusOK()
		})
	}
	v.Execute(ctx, s.timeout)

	tally := v.Tally()
	resolved := tally[cmn.Ok] + tally[cmn.NotFound]
	if resolved == s.size() {
		return Result{Status: cmn.StatusOK()}
	}

	if tally[cmn.Ok] > 0 && tally[cmn.VersionMismatch] > 0 {
		return s.resolvePartialDelete(ctx, key, oldVersion, conns)
	}

	if resolved >= s.nData {
		s.deleteHandoffKeys(ctx, key, oldVersion, conns, v)
		return Result{Status: cmn.StatusOK(), NeedIndicator: true}
	}
	if tally[cmn.VersionMismatch] >= s.nData {
		return Result{Status: cmn.StatusVersionMismatch()}
	}
	return Result{Status: cmn.StatusUnfixable(errDeleteFailed(key))}
}

// resolvePartialDelete is Delete's analogue of resolvePartialWrite: invoked
// when a Delete left the stripe split between fragments it removed and
// fragments that rejected the removal because they disagree with
// oldVersion. It shares Put's partial-op resolution protocol
// (resolvePartialOp) with an empty target version standing in for
// "deleted".
func (s *Stripe) resolvePartialDelete(ctx context.Context, key string, oldVersion []byte, conns []*conn.Connection) Result {
	return s.resolvePartialOp(ctx, key, nil, conns, func() Result {
		return s.repairDelete(ctx, key, oldVersion, conns)
	})
}

// repairDelete unconditionally removes every fragment of key, used to
// finish a partial delete that another racing caller abandoned.
func (s *Stripe) repairDelete(ctx context.Context, key string, oldVersion []byte, conns []*conn.Connection) Result {
	v := NewVector()
	for i := 0; i < s.size(); i++ {
		v.Add(conns[i], func(ctx context.Context, c kinetic.Client) cmn.Status {
			if err := c.Delete(ctx, key, nil, kinetic.WriteModeIgnoreVersion, kinetic.PersistModeWriteThrough); err != nil {
				return statusFromFragmentErr(err)
			}
			return cmn.StatusOK()
		})
	}
	v.Execute(ctx, s.timeout)

	tally := v.Tally()
	if tally[cmn.Ok] >= s.nData {
		s.deleteHandoffKeys(ctx, key, oldVersion, conns, v)
		return Result{Status: cmn.StatusOK(), NeedIndicator: tally[cmn.Ok] < s.size()}
	}
	return Result{Status: cmn.StatusUnfixable(errDeleteFailed(key))}
}

func errDeleteFailed(key string) error {
	return &deleteError{key: key}
}

type deleteError struct{ key string }

func (e *deleteError) Error() string {
	return "kio/cluster: delete of " + e.key + " did not reach quorum"
}

// deleteHandoffKeys removes any hinted-handoff fragments left over from a
// previous partial write of key, so a repaired delete does not resurrect
// stale fragment copies on a later GET's handoff scan.
func (s *Stripe) deleteHandoffKeys(ctx context.Context, key string, oldVersion []byte, conns []*conn.Connection, v *Vector) {
	if oldVersion == nil {
		return
	}
	start := cmn.HandoffRangeStart(key, string(oldVersion))
	end := cmn.HandoffRangeEnd(key, string(oldVersion))

	scan := NewVector()
	found := make([][]string, s.size())
	for i := 0; i < s.size(); i++ {
		i := i
		scan.Add(conns[i], func(ctx context.Context, c kinetic.Client) cmn.Status {
			keys, err := c.GetKeyRange(ctx, start, true, end, true, false, 100)
			if err != nil {
				return statusFromFragmentErr(err)
			}
			found[i] = keys
			return cmn.StatusOK()
		})
	}
	scan.Execute(ctx, s.timeout)

	del := NewVector()
	for i, keyset := range found {
		for _, hk := range keyset {
			hk := hk
			del.Add(conns[i], func(ctx context.Context, c kinetic.Client) cmn.Status {
				if err := c.Delete(ctx, hk, nil, kinetic.WriteModeIgnoreVersion, kinetic.PersistModeWriteThrough); err != nil {
					return statusFromFragmentErr(err)
				}
				return cmn.StatusOK()
			})
		}
	}
	del.Execute(ctx, s.timeout)
}
