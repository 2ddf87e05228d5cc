/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"bytes"
	"context"
	"fmt"

	"github.com/kinetic-io/kio/cmn"
	"github.com/kinetic-io/kio/conn"
	"github.com/kinetic-io/kio/kinetic"
)

// fragment is what one stripe position's fetch produced.
type fragment struct {
	attempted bool
	status    cmn.Status
	version   []byte
	record    kinetic.Record
}

func rangeIdx(offset, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = offset + i
	}
	return idx
}

// fetchAt fetches (or re-fetches) the stripe positions named by idxs,
// reading keys[idx] from conns[idx] into frags[idx].
func (s *Stripe) fetchAt(ctx context.Context, conns []*conn.Connection, keys map[int]string, idxs []int, frags []fragment, skipValue bool) {
	v := NewVector()
	for _, idx := range idxs {
		idx := idx
		key := keys[idx]
		if skipValue {
			v.Add(conns[idx], func(ctx context.Context, c kinetic.Client) cmn.Status {
				ver, err := c.GetVersion(ctx, key)
				if err != nil {
					return statusFromFragmentErr(err)
				}
				frags[idx].version = ver
				return cmn.StatusOK()
			})
		} else {
			v.Add(conns[idx], func(ctx context.Context, c kinetic.Client) cmn.Status {
				rec, err := c.Get(ctx, key)
				if err != nil {
					return statusFromFragmentErr(err)
				}
				frags[idx].record = rec
				frags[idx].version = rec.Version
				return cmn.StatusOK()
			})
		}
	}
	v.Execute(ctx, s.timeout)
	for n, idx := range idxs {
		frags[idx].attempted = true
		frags[idx].status = v.Status(n)
	}
}

// mostFrequentVersion returns the version shared by the largest group of
// successfully fetched fragments, and that group's size.
func mostFrequentVersion(frags []fragment) ([]byte, int) {
	var best []byte
	bestCount := 0
	for i := range frags {
		if !frags[i].attempted || !frags[i].status.OK() {
			continue
		}
		count := 0
		for j := range frags {
			if frags[j].attempted && frags[j].status.OK() && bytes.Equal(frags[i].version, frags[j].version) {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			best = frags[i].version
		}
		if count > len(frags)/2 {
			break
		}
	}
	return best, bestCount
}

// fragSettledAs reports whether a re-fetched fragment settled on target:
// for a non-empty target, a successful fetch whose version matches it;
// for an empty target — Delete's stand-in for "removed" — a fragment
// confirmed absent.
func fragSettledAs(f fragment, target []byte) bool {
	if len(target) == 0 {
		return f.attempted && f.status.Code == cmn.NotFound
	}
	return f.attempted && f.status.OK() && string(f.version) == string(target)
}

// mostFrequentOutcome generalizes mostFrequentVersion for partial-write
// resolution: a fragment confirmed absent after a racing Delete is itself
// a settled outcome — the "deleted" version, reported as nil — not a
// failed fetch to discard, so a partial Delete's majority can be found
// the same way a partial Put's can.
func mostFrequentOutcome(frags []fragment) ([]byte, int) {
	deleted := 0
	for _, f := range frags {
		if f.attempted && f.status.Code == cmn.NotFound {
			deleted++
		}
	}
	version, count := mostFrequentVersion(frags)
	if deleted > count {
		return nil, deleted
	}
	return version, count
}

// evaluateGet checks whether any result code has reached a quorum of
// nData fragments, reconstructing the value on an Ok quorum.
func (s *Stripe) evaluateGet(key string, frags []fragment) (value []byte, status cmn.Status, needIndicator bool, done bool) {
	version, freq := mostFrequentVersion(frags)

	tally := map[cmn.Code]int{}
	rawOk := 0
	for _, f := range frags {
		if !f.attempted {
			continue
		}
		tally[f.status.Code]++
		if f.status.OK() {
			rawOk++
		}
	}
	if rawOk > freq {
		needIndicator = true
		tally[cmn.Ok] = freq
	}

	for code, count := range tally {
		if count < s.nData || !validCode(code) {
			continue
		}
		if code != cmn.Ok {
			return nil, cmn.Status{Code: code}, needIndicator, true
		}
		v, ok, recoveryIndicator := s.reconstruct(version, frags)
		if !ok {
			continue
		}
		return v, cmn.StatusOK(), needIndicator || recoveryIndicator, true
	}
	return nil, cmn.Status{}, needIndicator, false
}

// reconstruct rebuilds the original value from the fragments matching
// version, filling in any fragment that is missing, on the wrong
// version, or fails CRC verification via the erasure codec.
func (s *Stripe) reconstruct(version []byte, frags []fragment) (value []byte, ok bool, needIndicator bool) {
	size, err := cmn.DecodeVersionLength(string(version))
	if err != nil {
		return nil, false, false
	}
	if size == 0 {
		return []byte{}, true, false
	}

	stripe := make([][]byte, s.size())
	needRecovery := false
	for i := 0; i < s.size(); i++ {
		f := frags[i]
		if f.attempted && f.status.OK() && bytes.Equal(f.version, version) {
			if cmn.VerifyTag(f.record.Value, string(f.record.Tag)) {
				stripe[i] = f.record.Value
				continue
			}
			needIndicator = true
		}
		needRecovery = true
	}
	if needRecovery {
		if err := s.codec.Compute(stripe); err != nil {
			return nil, false, needIndicator
		}
		needIndicator = true
	}

	value = make([]byte, 0, size)
	for _, frag := range stripe {
		if len(value)+len(frag) <= size {
			value = append(value, frag...)
		} else {
			value = append(value, frag[:size-len(value)]...)
			break
		}
	}
	return value, true, needIndicator
}

// scanHandoff range-scans every connection for hinted-handoff fragments
// of key at version, routing each chunk it finds back onto its stripe
// position and re-fetching it from whichever connection actually holds
// it, which may not be that position's normally placed drive.
func (s *Stripe) scanHandoff(ctx context.Context, key string, version []byte, conns []*conn.Connection, frags []fragment) bool {
	start := cmn.HandoffRangeStart(key, string(version))
	end := cmn.HandoffRangeEnd(key, string(version))

	v := NewVector()
	found := make([][]string, len(s.conns))
	for i, c := range s.conns {
		i := i
		v.Add(c, func(ctx context.Context, cl kinetic.Client) cmn.Status {
			keys, err := cl.GetKeyRange(ctx, start, true, end, true, false, 100)
			if err != nil {
				return statusFromFragmentErr(err)
			}
			found[i] = keys
			return cmn.StatusOK()
		})
	}
	v.Execute(ctx, s.timeout)

	idxs := make([]int, 0)
	keys := make(map[int]string)
	targets := make(map[int]*conn.Connection)
	for i, keyset := range found {
		for _, hk := range keyset {
			chunk, ok := cmn.ParseHandoffChunk(hk)
			if !ok || chunk < 0 || chunk >= len(conns) {
				continue
			}
			idxs = append(idxs, chunk)
			keys[chunk] = hk
			targets[chunk] = s.conns[i]
		}
	}
	if len(idxs) == 0 {
		return false
	}
	for _, idx := range idxs {
		conns[idx] = targets[idx]
	}
	s.fetchAt(ctx, conns, keys, idxs, frags, false)
	return true
}

// ScanResult is a scan-only classification of a key's current state: no
// value is fetched, so there is nothing to return on failure beyond
// whether the stripe needs a repair pass.
type ScanResult struct {
	Status     cmn.Status
	NeedAction bool
}

// ScanVersion classifies key by fetching only every fragment's version
// across the full stripe width, with no nData-first phasing, no value
// read, no reconstruction and no hinted-handoff fallback: a classifying
// scan has to see every fragment exactly as it sits, not whatever a
// phased, reconstructing Get can paper over or skip. A majority outcome
// (either a shared version or, via mostFrequentOutcome, a shared absence)
// that falls short of the full stripe width means some fragment is out
// of step with the rest and needs a repair pass.
func (s *Stripe) ScanVersion(ctx context.Context, key string) ScanResult {
	conns := stripePlacement(s.conns, key, s.size(), 0)
	frags := make([]fragment, s.size())
	s.fetchAt(ctx, conns, sameKeyMap(key, s.size()), rangeIdx(0, s.size()), frags, true)

	_, count := mostFrequentOutcome(frags)
	if count < s.nData {
		return ScanResult{Status: cmn.StatusIoError(fmt.Errorf("kio/cluster: key %q not accessible", key))}
	}
	return ScanResult{Status: cmn.StatusOK(), NeedAction: count < s.size()}
}

// Get reads the value stored under key. It first tries the nData
// minimal read, extends to the full stripe (including parity) on
// failure, and finally falls back to any hinted-handoff fragments
// before giving up.
func (s *Stripe) Get(ctx context.Context, key string) Result {
	conns := stripePlacement(s.conns, key, s.size(), 0)
	frags := make([]fragment, s.size())
	keys := sameKeyMap(key, s.size())

	if s.nData > 1 {
		s.fetchAt(ctx, conns, keys, rangeIdx(0, s.nData), frags, false)
		if v, status, needInd, done := s.evaluateGet(key, frags); done {
			return s.getResult(v, status, needInd, frags)
		}
		s.fetchAt(ctx, conns, keys, rangeIdx(s.nData, s.nParity), frags, false)
	} else {
		s.fetchAt(ctx, conns, keys, rangeIdx(0, s.size()), frags, false)
	}
	if v, status, needInd, done := s.evaluateGet(key, frags); done {
		return s.getResult(v, status, needInd, frags)
	}

	if version, _ := mostFrequentVersion(frags); version != nil {
		if s.scanHandoff(ctx, key, version, conns, frags) {
			if v, status, needInd, done := s.evaluateGet(key, frags); done {
				return s.getResult(v, status, needInd, frags)
			}
		}
	}

	return Result{Status: cmn.StatusIoError(fmt.Errorf("kio/cluster: key %q not accessible", key))}
}

func (s *Stripe) getResult(value []byte, status cmn.Status, needIndicator bool, frags []fragment) Result {
	version, _ := mostFrequentVersion(frags)
	return Result{Status: status, Value: value, Version: version, NeedIndicator: needIndicator}
}

func sameKeyMap(key string, n int) map[int]string {
	m := make(map[int]string, n)
	for i := 0; i < n; i++ {
		m[i] = key
	}
	return m
}
