/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"errors"
	"time"

	"github.com/kinetic-io/kio/cmn"
	"github.com/kinetic-io/kio/conn"
	"github.com/kinetic-io/kio/kinetic"
	"github.com/kinetic-io/kio/rs"
)

// DefaultPollBudgetFactor scales resolvePartialWrite's poll budget: a
// competing client waits up to DefaultPollBudgetFactor * (1 + position)
// polls, at 100ms apiece, for the client that should win a partial-write
// race to finish repairing the stripe before declaring it abandoned and
// taking over the repair itself. Exposed rather than hardcoded so a
// cluster of unusually slow drives can widen the window.
var DefaultPollBudgetFactor = 10

const partialWritePollInterval = 100 * time.Millisecond

// Stripe drives erasure-coded (nParity > 0, nData > 1) or replicated
// (nData == 1) GET/PUT/DELETE over a fixed-size subset of a cluster's
// connections, placed deterministically per key.
type Stripe struct {
	nData, nParity int
	codec          *rs.Codec
	conns          []*conn.Connection
	timeout        time.Duration
}

// NewStripe constructs a stripe driver. conns must list every connection
// in the cluster; nData+nParity must not exceed len(conns).
func NewStripe(nData, nParity int, codec *rs.Codec, conns []*conn.Connection, timeout time.Duration) *Stripe {
	return &Stripe{nData: nData, nParity: nParity, codec: codec, conns: conns, timeout: timeout}
}

func (s *Stripe) size() int { return s.nData + s.nParity }

// Result is the outcome of a stripe operation plus the side information
// the cluster façade needs to decide whether to emit an indicator key.
type Result struct {
	Status       cmn.Status
	Value        []byte
	Version      []byte
	NeedIndicator bool
}

func validCode(c cmn.Code) bool {
	return c == cmn.Ok || c == cmn.NotFound || c == cmn.VersionMismatch
}

func statusFromFragmentErr(err error) cmn.Status {
	switch {
	case errors.Is(err, kinetic.ErrNotFound):
		return cmn.StatusNotFound()
	case errors.Is(err, kinetic.ErrVersionMismatch):
		return cmn.StatusVersionMismatch()
	default:
		return cmn.StatusIoError(err)
	}
}
