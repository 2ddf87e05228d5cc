/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"context"
	"sort"
	"time"

	"github.com/kinetic-io/kio/cmn"
	"github.com/kinetic-io/kio/conn"
	"github.com/kinetic-io/kio/kinetic"
	"github.com/kinetic-io/kio/rs"
)

// Cluster presents a flat key-value API over a fleet of drive
// connections, hiding stripe placement, erasure coding, and the
// per-key-type redundancy policy: Data keys are erasure-coded across
// the full (nData, nParity) stripe, Metadata and Attribute keys are
// replicated across a narrower (1, replicas-1) stripe.
type Cluster struct {
	conns []*conn.Connection
	data  *Stripe
	meta  *Stripe
}

// Config describes one cluster's stripe shapes and per-operation
// deadline.
type Config struct {
	NData, NParity int
	Replicas       int
	Timeout        time.Duration
}

// New constructs a cluster façade over conns, which must list every
// connection this cluster may place a fragment on.
func New(conns []*conn.Connection, cfg Config) (*Cluster, error) {
	dataCodec, err := rs.New(cfg.NData, cfg.NParity)
	if err != nil {
		return nil, err
	}
	metaCodec, err := rs.New(1, cfg.Replicas-1)
	if err != nil {
		return nil, err
	}
	return &Cluster{
		conns: conns,
		data:  NewStripe(cfg.NData, cfg.NParity, dataCodec, conns, cfg.Timeout),
		meta:  NewStripe(1, cfg.Replicas-1, metaCodec, conns, cfg.Timeout),
	}, nil
}

// Conns returns every drive connection this cluster places fragments
// on, for callers outside the package that need to fan a request out
// themselves (cstats' periodic GetLog refresh).
func (c *Cluster) Conns() []*conn.Connection {
	return c.conns
}

// Timeout reports the per-operation deadline the data stripe uses,
// reused by cstats for its own fan-out.
func (c *Cluster) Timeout() time.Duration {
	return c.data.timeout
}

func (c *Cluster) stripeFor(t cmn.KeyType) *Stripe {
	if t == cmn.Data {
		return c.data
	}
	return c.meta
}

// Get reads key's current value and version under the redundancy
// policy named by t.
func (c *Cluster) Get(ctx context.Context, key string, t cmn.KeyType) Result {
	return c.stripeFor(t).Get(ctx, key)
}

// ScanVersion classifies key's current state across the full stripe
// width without fetching its value, for admin's scan pass: see
// Stripe.ScanVersion.
func (c *Cluster) ScanVersion(ctx context.Context, key string, t cmn.KeyType) ScanResult {
	return c.stripeFor(t).ScanVersion(ctx, key)
}

// Put writes value under key, conditioned on oldVersion (nil for an
// unconditional write). On a VersionMismatch it passes the result's
// version to mayForce (§4.7's initial-write tie-breaker); Stripe.Put's
// VersionMismatch results carry no version, so mayForce returns false
// at once and the mismatch is returned as is, without polling.
func (c *Cluster) Put(ctx context.Context, key string, oldVersion, value []byte, t cmn.KeyType) Result {
	s := c.stripeFor(t)
	res := s.Put(ctx, key, value, oldVersion)
	if res.Status.OK() || res.Status.Code != cmn.VersionMismatch {
		c.maybeEmitIndicator(ctx, key, res)
		return res
	}
	if c.mayForce(ctx, s, key, res.Version) {
		forced := s.Put(ctx, key, value, nil)
		c.maybeEmitIndicator(ctx, key, forced)
		return forced
	}
	return res
}

// Remove deletes key, conditioned on version (nil for unconditional).
func (c *Cluster) Remove(ctx context.Context, key string, version []byte, t cmn.KeyType) Result {
	res := c.stripeFor(t).Delete(ctx, key, version)
	c.maybeEmitIndicator(ctx, key, res)
	return res
}

// maybeEmitIndicator writes "indicator:<key>" whenever a Put or Remove
// completed below full redundancy; Get does not call it. It goes through the meta
// stripe's own Put, which already accepts a single successful fragment
// as sufficient (its nData is 1): the result is a key placed by the
// same deterministic hash a later admin Reset/Repair pass will use to
// find and remove it, "retried across drives" in the sense that Put
// fans the attempt out to every meta replica concurrently and keeps the
// first one that lands.
func (c *Cluster) maybeEmitIndicator(ctx context.Context, key string, res Result) {
	if !res.NeedIndicator {
		return
	}
	c.meta.Put(ctx, cmn.IndicatorKey(key), []byte("1"), nil)
}

// mayForce polls the stripe, mirroring resolvePartialWrite's step 5, to
// decide whether an initial write that raced another client's write of
// the same key should force itself through with WriteModeIgnoreVersion.
func (c *Cluster) mayForce(ctx context.Context, s *Stripe, key string, targetVersion []byte) bool {
	if targetVersion == nil {
		return false
	}
	conns := stripePlacement(s.conns, key, s.size(), 0)
	frags := make([]fragment, s.size())
	for i := 0; i < DefaultPollBudgetFactor; i++ {
		s.fetchAt(ctx, conns, sameKeyMap(key, s.size()), rangeIdx(0, s.size()), frags, true)
		if version, _ := mostFrequentVersion(frags); version != nil && string(version) == string(targetVersion) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(partialWritePollInterval):
		}
	}
	return false
}

// Range lists keys in [start, end) under the redundancy policy named by
// t, fanning a GetKeyRange out to every connection and merging results.
// Quorum tolerates up to nParity silent failures.
func (c *Cluster) Range(ctx context.Context, start, end string, t cmn.KeyType, max int) ([]string, cmn.Status) {
	s := c.stripeFor(t)
	v := NewVector()
	found := make([][]string, len(c.conns))
	for i, cn := range c.conns {
		i := i
		v.Add(cn, func(ctx context.Context, cl kinetic.Client) cmn.Status {
			keys, err := cl.GetKeyRange(ctx, start, true, end, false, false, max)
			if err != nil {
				return statusFromFragmentErr(err)
			}
			found[i] = keys
			return cmn.StatusOK()
		})
	}
	v.Execute(ctx, s.timeout)

	tally := v.Tally()
	needed := len(c.conns) - s.nParity
	if needed < 1 {
		needed = 1
	}
	if tally[cmn.Ok] < needed {
		return nil, cmn.StatusIoError(errRangeQuorum(start, end))
	}

	set := make(map[string]struct{})
	for _, keys := range found {
		for _, k := range keys {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, cmn.StatusOK()
}

func errRangeQuorum(start, end string) error {
	return &rangeError{start: start, end: end}
}

type rangeError struct{ start, end string }

func (e *rangeError) Error() string {
	return "kio/cluster: range [" + e.start + ", " + e.end + ") did not reach quorum"
}
