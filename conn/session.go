// Package conn supervises one auto-reconnecting, dual-endpoint connection
// per drive, all multiplexed through a single OS-level readiness poller.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package conn

import "context"

// Endpoint is one of a connection's two alternative drive addresses.
type Endpoint struct {
	Host string
	Port int
}

// Session is a live drive session. Implementations come in two flavors:
// a real network session (TCP, registered with the poller via Fd) and the
// in-process kinetic.MemClient session used by tests, which pumps
// synchronously and is never registered with the poller (Fd's second
// return is false).
type Session interface {
	// NoOp performs the application-level round trip a freshly dialed
	// connection must complete before it is considered healthy: a
	// protocol no-op request/response.
	NoOp(ctx context.Context) error
	// Fd returns the OS descriptor to register with the central Poller,
	// or (0, false) if this session has no descriptor to poll (e.g. an
	// in-process session that completes requests synchronously).
	Fd() (fd int, ok bool)
	// Pump processes one round of ready I/O, invoking completion
	// callbacks registered by in-flight requests.
	Pump() error
	Close() error
}

// Dialer opens a Session to one endpoint.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Session, error)
}
