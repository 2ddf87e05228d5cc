/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package conn

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/time/rate"
)

// errorGrace is the window after a successful (re)connect during which
// SetError is a no-op, protecting freshly repaired connections from stale
// error reports from in-flight operations on the previous socket.
const errorGrace = 500 * time.Millisecond

// noOpDeadline bounds how long the post-dial application-level round trip
// may take before the candidate connection is discarded.
const noOpDeadline = 5 * time.Second

// Connection supervises a single drive's session, alternating between a
// primary and secondary endpoint, reconnecting in the background at a
// rate-limited pace. Exclusively owned by one cluster; never shared.
type Connection struct {
	name           string
	endpoints      [2]Endpoint
	dialer         Dialer
	poller         *Poller
	minReconnect   time.Duration

	once sync.Once

	mu        sync.Mutex
	session   Session
	healthy   bool
	fd        int
	hasFd     bool
	timestamp time.Time

	limiter *rate.Sometimes
	rng     *rand.Rand
}

// New constructs a supervised connection over two candidate endpoints. The
// connection starts uninitialized; the first Get() triggers a foreground
// connect.
func New(name string, primary, secondary Endpoint, dialer Dialer, poller *Poller, minReconnect time.Duration) *Connection {
	return &Connection{
		name:         name,
		endpoints:    [2]Endpoint{primary, secondary},
		dialer:       dialer,
		poller:       poller,
		minReconnect: minReconnect,
		limiter:      &rate.Sometimes{Interval: minReconnect},
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Connection) Name() string { return c.name }

// Get returns the current session if healthy. The very first call
// triggers a synchronous foreground connect; subsequent calls on an
// unhealthy connection schedule a rate-limited background reconnect and
// return ErrNotConnected immediately for this caller.
func (c *Connection) Get(ctx context.Context) (Session, error) {
	c.once.Do(func() { c.connect(ctx) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthy {
		return c.session, nil
	}

	c.limiter.Do(func() {
		go c.connect(context.Background())
	})
	return nil, ErrNotConnected
}

// ErrNotConnected is returned by Get while a reconnect is outstanding.
var ErrNotConnected = fmt.Errorf("kio/conn: not connected")

// SetError marks the connection unhealthy and unsubscribes its descriptor
// from the poller, unless we are still within the post-(re)connect grace
// window.
func (c *Connection) SetError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.healthy {
		return
	}
	if time.Since(c.timestamp) < errorGrace {
		glog.V(4).Infof("conn %s: disregarding setError, recent reconnect", c.name)
		return
	}
	c.unsubscribeLocked()
	glog.Warningf("conn %s: entering error state", c.name)
	c.healthy = false
}

func (c *Connection) unsubscribeLocked() {
	if c.hasFd {
		c.poller.Unsubscribe(c.fd)
		c.hasFd = false
		c.fd = 0
	}
}

// connect dials, prioritizing a randomly chosen endpoint, validates the
// candidate with an application-level no-op round trip, and on success
// registers its descriptor with the poller. Failed candidates are
// discarded silently.
func (c *Connection) connect(ctx context.Context) {
	primary, secondary := c.endpoints[0], c.endpoints[1]
	if c.rng.Intn(2) == 1 {
		primary, secondary = secondary, primary
	}

	session := c.tryDial(ctx, primary)
	if session == nil {
		session = c.tryDial(ctx, secondary)
	}
	if session == nil {
		glog.V(3).Infof("conn %s: connection attempt failed", c.name)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if fd, ok := session.Fd(); ok {
		if err := c.poller.Subscribe(fd, c); err != nil {
			glog.Warningf("conn %s: failed subscribing fd %d: %v", c.name, fd, err)
			session.Close()
			return
		}
		c.fd, c.hasFd = fd, true
	}
	c.session = session
	c.healthy = true
	c.timestamp = time.Now()
	glog.V(3).Infof("conn %s: connection attempt succeeded", c.name)
}

func (c *Connection) tryDial(ctx context.Context, ep Endpoint) Session {
	dialCtx, cancel := context.WithTimeout(ctx, noOpDeadline)
	defer cancel()

	session, err := c.dialer.Dial(dialCtx, ep)
	if err != nil {
		return nil
	}
	if err := session.NoOp(dialCtx); err != nil {
		session.Close()
		return nil
	}
	return session
}

// Pump is invoked by the Poller when this connection's descriptor signals
// ready; it delegates to the session's own protocol pump.
func (c *Connection) Pump() error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("kio/conn: %s: pump invoked with no session", c.name)
	}
	return session.Pump()
}

// Healthy reports the connection's current health flag.
func (c *Connection) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}
