/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"github.com/spaolacci/murmur3"

	"github.com/kinetic-io/kio/conn"
)

// stripePlacement returns the size connections a stripe operation for
// key should use, starting one past the MurmurHash3_x86_32 hash of key
// (plus offset) and walking forward, wrapping around the connection
// list. The same key always produces the same ordered placement, so
// repeated stripe operations land on the same drives.
func stripePlacement(conns []*conn.Connection, key string, size, offset int) []*conn.Connection {
	idx := int(murmur3.Sum32([]byte(key))) + offset
	out := make([]*conn.Connection, 0, size)
	for i := 0; i < size; i++ {
		idx = (idx + 1) % len(conns)
		out = append(out, conns[idx])
	}
	return out
}

// roundRobinPlacement returns size connections starting at offset,
// wrapping around the connection list. Nothing in the package calls it:
// cluster-wide operations (log collection, full range scans) address
// every connection directly.
func roundRobinPlacement(conns []*conn.Connection, size, offset int) []*conn.Connection {
	out := make([]*conn.Connection, 0, size)
	for i := 0; i < size; i++ {
		out = append(out, conns[(i+offset)%len(conns)])
	}
	return out
}
