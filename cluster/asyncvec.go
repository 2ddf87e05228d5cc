/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */

// Package cluster implements the stripe-level GET/PUT/DELETE protocol
// over a set of supervised drive connections: placement, the fan-out
// async operation vector, partial-write race resolution, hinted
// handoff, and the cluster façade consumed by the file and admin
// layers.
package cluster

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kinetic-io/kio/cmn"
	"github.com/kinetic-io/kio/conn"
	"github.com/kinetic-io/kio/kinetic"
)

// OpFunc performs one drive-level call against client and returns its
// outcome. Implementations close over whatever result storage they
// need (a *kinetic.Record, a *[]byte version, nothing at all).
type OpFunc func(ctx context.Context, client kinetic.Client) cmn.Status

type slot struct {
	conn   *conn.Connection
	fn     OpFunc
	status cmn.Status
}

// Vector fans an operation out across a set of connections concurrently,
// retrying operations that failed with a connection-level error exactly
// once, within an overall deadline per round.
type Vector struct {
	slots []*slot
}

// NewVector constructs an empty operation vector.
func NewVector() *Vector { return &Vector{} }

// Add schedules fn against c, returning the slot index to read its
// result back from after Execute.
func (v *Vector) Add(c *conn.Connection, fn OpFunc) int {
	v.slots = append(v.slots, &slot{conn: c, fn: fn})
	return len(v.slots) - 1
}

// Len reports the number of scheduled operations.
func (v *Vector) Len() int { return len(v.slots) }

// Status returns the outcome of the operation at index i.
func (v *Vector) Status(i int) cmn.Status { return v.slots[i].status }

// Connection returns the connection the operation at index i ran against.
func (v *Vector) Connection(i int) *conn.Connection { return v.slots[i].conn }

// Tally counts how many operations ended in each result code.
func (v *Vector) Tally() map[cmn.Code]int {
	t := make(map[cmn.Code]int, len(v.slots))
	for _, s := range v.slots {
		t[s.status.Code]++
	}
	return t
}

// Execute runs every scheduled operation concurrently, retrying once any
// operation that failed with ClientIoError. Each round is bounded by
// timeout; the whole call additionally respects ctx's own deadline.
func (v *Vector) Execute(ctx context.Context, timeout time.Duration) {
	pending := make([]int, len(v.slots))
	for i := range pending {
		pending[i] = i
	}

	for round := 0; round < 2 && len(pending) > 0; round++ {
		roundCtx, cancel := context.WithTimeout(ctx, timeout)
		g, gctx := errgroup.WithContext(roundCtx)
		for _, idx := range pending {
			idx := idx
			g.Go(func() error {
				v.runOne(gctx, v.slots[idx])
				return nil
			})
		}
		g.Wait()
		cancel()

		var retry []int
		for _, idx := range pending {
			if v.slots[idx].status.Code == cmn.ClientIoError {
				retry = append(retry, idx)
			}
		}
		pending = retry
	}
}

func (v *Vector) runOne(ctx context.Context, s *slot) {
	sess, err := s.conn.Get(ctx)
	if err != nil {
		s.status = cmn.StatusIoError(err)
		return
	}
	client, ok := sess.(kinetic.Client)
	if !ok {
		s.status = cmn.StatusIoError(fmt.Errorf("kio/cluster: connection %s does not speak the drive protocol", s.conn.Name()))
		return
	}
	s.status = s.fn(ctx, client)
	if s.status.Code == cmn.ClientIoError {
		s.conn.SetError()
	}
}
