package kinetic

import (
	"context"
	"fmt"
	"sync"

	"github.com/kinetic-io/kio/conn"
)

// MemDialer is a conn.Dialer over a fixed set of simulated drives, keyed
// by endpoint. It lets tests construct a cluster of conn.Connection
// instances backed entirely by in-process Drive state, including both
// endpoints of a dual-endpoint connection resolving to the same drive.
type MemDialer struct {
	mu     sync.RWMutex
	drives map[conn.Endpoint]*Drive
}

// NewMemDialer constructs an empty dialer; register drives with Register.
func NewMemDialer() *MemDialer {
	return &MemDialer{drives: make(map[conn.Endpoint]*Drive)}
}

// Register associates ep with drive, so that dialing ep yields a
// MemClient bound to drive.
func (d *MemDialer) Register(ep conn.Endpoint, drive *Drive) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drives[ep] = drive
}

func (d *MemDialer) Dial(ctx context.Context, ep conn.Endpoint) (conn.Session, error) {
	d.mu.RLock()
	drive, ok := d.drives[ep]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kio/kinetic: no drive registered for endpoint %+v", ep)
	}
	if drive.isDown() {
		return nil, fmt.Errorf("kio/kinetic: drive %s unreachable", drive.name)
	}
	return NewMemClient(drive), nil
}
