/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"context"

	"github.com/kinetic-io/kio/cmn"
	"github.com/kinetic-io/kio/kinetic"
)

// RemoveHandoffResidue scans every connection of the data stripe for
// hinted-handoff fragments belonging to key, across every version, and
// deletes them, then removes key's indicator key. Used by admin repair
// and reset passes once a key's stripe has been brought back to full
// redundancy, so a later GET's handoff scan doesn't resurrect stale
// fragment copies.
func (c *Cluster) RemoveHandoffResidue(ctx context.Context, key string) {
	s := c.data
	start := cmn.HandoffPrefixStart(key)
	end := cmn.HandoffPrefixEnd(key)

	scan := NewVector()
	found := make([][]string, len(s.conns))
	for i, cn := range s.conns {
		i := i
		scan.Add(cn, func(ctx context.Context, cl kinetic.Client) cmn.Status {
			keys, err := cl.GetKeyRange(ctx, start, true, end, true, false, 1000)
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
			del.Add(s.conns[i], func(ctx context.Context, cl kinetic.Client) cmn.Status {
				if err := cl.Delete(ctx, hk, nil, kinetic.WriteModeIgnoreVersion, kinetic.PersistModeWriteThrough); err != nil {
					return statusFromFragmentErr(err)
				}
				return cmn.StatusOK()
			})
		}
	}
	del.Execute(ctx, s.timeout)

	c.Remove(ctx, cmn.IndicatorKey(key), nil, cmn.Indicator)
}
