/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"context"
	"time"

	"github.com/kinetic-io/kio/cmn"
	"github.com/kinetic-io/kio/conn"
	"github.com/kinetic-io/kio/kinetic"
)

// Put writes value under key, erasure-coding it (or replicating it, when
// nData == 1) across the stripe. oldVersion is the version the caller
// last observed, or nil for an unconditional write.
func (s *Stripe) Put(ctx context.Context, key string, value, oldVersion []byte) Result {
	conns := stripePlacement(s.conns, key, s.size(), 0)
	newVersion := []byte(cmn.NewVersion(len(value)))

	stripe, err := s.codec.Split(value)
	if err != nil {
		return Result{Status: cmn.StatusInvalidArgument(err)}
	}
	trimEmptyDataFragments(stripe, s.nData, len(value))

	v := NewVector()
	for i := 0; i < s.size(); i++ {
		i := i
		record := makeRecord(stripe[i], newVersion)
		v.Add(conns[i], func(ctx context.Context, c kinetic.Client) cmn.Status {
			mode := kinetic.WriteModeRequireVersion
			if oldVersion == nil {
				mode = kinetic.WriteModeIgnoreVersion
			}
			if err := c.Put(ctx, key, oldVersion, mode, record, kinetic.PersistModeWriteThrough); err != nil {
				return statusFromFragmentErr(err)
			}
			return cmn.StatusOK()
		})
	}
	v.Execute(ctx, s.timeout)

	tally := v.Tally()
	if tally[cmn.Ok] == s.size() {
		return Result{Status: cmn.StatusOK(), Version: newVersion}
	}

	if tally[cmn.Ok] > 0 && (tally[cmn.VersionMismatch] > 0 || tally[cmn.NotFound] > 0) {
		return s.resolvePartialWrite(ctx, key, stripe, newVersion, conns)
	}

	if tally[cmn.Ok] >= s.nData {
		s.putHandoffKeys(ctx, key, newVersion, stripe, conns, v)
		return Result{Status: cmn.StatusOK(), Version: newVersion, NeedIndicator: true}
	}

	for code, count := range tally {
		if count >= s.nData && validCode(code) {
			return Result{Status: cmn.Status{Code: code}}
		}
	}
	return Result{Status: cmn.StatusUnfixable(errPutFailed(key))}
}

// trimEmptyDataFragments replaces data fragments that fall entirely past
// value's occupied range with empty placeholders, once Split's zero
// padding has already been folded into the parity fragments: the
// padding itself must never reach a drive.
func trimEmptyDataFragments(stripe [][]byte, nData, valueLen int) {
	if valueLen == 0 || nData <= 1 {
		return
	}
	shardSize := (valueLen + nData - 1) / nData
	for i := 0; i < nData; i++ {
		if i*shardSize >= valueLen {
			stripe[i] = []byte{}
		}
	}
}

func errPutFailed(key string) error {
	return &putError{key: key}
}

type putError struct{ key string }

func (e *putError) Error() string { return "kio/cluster: put of " + e.key + " did not reach quorum" }

// resolvePartialWrite is invoked when a Put left the stripe split between
// fragments that accepted the new version and fragments that rejected it
// because they disagree with oldVersion. It shares Delete's partial-op
// resolution protocol (resolvePartialOp), racing to land newVersion.
func (s *Stripe) resolvePartialWrite(ctx context.Context, key string, stripe [][]byte, newVersion []byte, conns []*conn.Connection) Result {
	return s.resolvePartialOp(ctx, key, newVersion, conns, func() Result {
		return s.repairStripe(ctx, key, stripe, newVersion, conns)
	})
}

// resolvePartialOp is invoked when a Put or Delete left the stripe split
// between fragments that settled on targetVersion (a Put's new version,
// or an empty version standing in for a Delete's "removed" outcome) and
// fragments that rejected the operation because they disagree with the
// version the caller expected. Exactly one of the racing callers is
// responsible for repairing the stripe: the one whose operation would
// have landed the majority outcome. Everyone else polls, waiting for
// that caller to finish, before taking over the repair themselves.
func (s *Stripe) resolvePartialOp(ctx context.Context, key string, targetVersion []byte, conns []*conn.Connection, repair func() Result) Result {
	frags := make([]fragment, s.size())
	s.fetchAt(ctx, conns, sameKeyMap(key, s.size()), rangeIdx(0, s.size()), frags, true)
	backendVersion, backendCount := mostFrequentOutcome(frags)

	weOwnRepair := backendCount > 0 && string(backendVersion) == string(targetVersion)
	if !weOwnRepair {
		present := false
		for _, f := range frags {
			if fragSettledAs(f, targetVersion) {
				present = true
				break
			}
		}
		if !present {
			return Result{Status: cmn.StatusVersionMismatch()}
		}
	}

	if !weOwnRepair {
		position := 0
		for i, f := range frags {
			if fragSettledAs(f, targetVersion) {
				position = i
				break
			}
		}
		budget := DefaultPollBudgetFactor * (1 + position)
		for i := 0; i < budget; i++ {
			select {
			case <-ctx.Done():
				return Result{Status: cmn.StatusIoError(ctx.Err())}
			case <-time.After(partialWritePollInterval):
			}
			s.fetchAt(ctx, conns, sameKeyMap(key, s.size()), rangeIdx(0, s.size()), frags, true)
			if nv, nfreq := mostFrequentOutcome(frags); nfreq == s.size() {
				return Result{Status: cmn.StatusOK(), Version: nv}
			}
		}
	}

	return repair()
}

// repairStripe overwrites every fragment unconditionally with the given
// stripe split and version, used to finish a partial write that another
// racing writer abandoned.
func (s *Stripe) repairStripe(ctx context.Context, key string, stripe [][]byte, version []byte, conns []*conn.Connection) Result {
	v := NewVector()
	for i := 0; i < s.size(); i++ {
		i := i
		record := makeRecord(stripe[i], version)
		v.Add(conns[i], func(ctx context.Context, c kinetic.Client) cmn.Status {
			if err := c.Put(ctx, key, nil, kinetic.WriteModeIgnoreVersion, record, kinetic.PersistModeWriteThrough); err != nil {
				return statusFromFragmentErr(err)
			}
			return cmn.StatusOK()
		})
	}
	v.Execute(ctx, s.timeout)

	tally := v.Tally()
	if tally[cmn.Ok] >= s.nData {
		s.putHandoffKeys(ctx, key, version, stripe, conns, v)
		return Result{Status: cmn.StatusOK(), Version: version, NeedIndicator: tally[cmn.Ok] < s.size()}
	}
	return Result{Status: cmn.StatusUnfixable(errPutFailed(key))}
}

// putHandoffKeys writes every fragment that failed to land on its
// normally placed connection under a hinted-handoff key on any
// connection that did accept its own fragment.
func (s *Stripe) putHandoffKeys(ctx context.Context, key string, version []byte, stripe [][]byte, conns []*conn.Connection, v *Vector) {
	var home *conn.Connection
	for i := 0; i < v.Len(); i++ {
		if v.Status(i).OK() {
			home = v.Connection(i)
			break
		}
	}
	if home == nil {
		return
	}

	hv := NewVector()
	for i := 0; i < v.Len(); i++ {
		if v.Status(i).OK() {
			continue
		}
		i := i
		record := makeRecord(stripe[i], version)
		handoffKey := cmn.HandoffKey(key, string(version), i)
		hv.Add(home, func(ctx context.Context, c kinetic.Client) cmn.Status {
			if err := c.Put(ctx, handoffKey, nil, kinetic.WriteModeIgnoreVersion, record, kinetic.PersistModeWriteThrough); err != nil {
				return statusFromFragmentErr(err)
			}
			return cmn.StatusOK()
		})
	}
	hv.Execute(ctx, s.timeout)
}
