//go:build !linux

/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package conn

import (
	"sync"

	"github.com/golang/glog"
)

// pumper mirrors the linux poller's minimal connection surface.
type pumper interface {
	Pump() error
	SetError()
	Name() string
}

// Poller on non-Linux platforms falls back to a channel-driven dispatcher
// instead of epoll: sessions with a real descriptor still register, but
// readiness is approximated by pumping every subscribed connection once
// per wake rather than waiting on the OS. Production deployments of this
// library target Linux Kinetic drive fleets, where the epoll-backed
// poller is used instead.
type Poller struct {
	mu      sync.Mutex
	subs    map[int]pumper
	wake    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewPoller() (*Poller, error) {
	p := &Poller{
		subs:    make(map[int]pumper),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go p.run()
	return p, nil
}

func (p *Poller) Subscribe(fd int, c pumper) error {
	p.mu.Lock()
	p.subs[fd] = c
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *Poller) Unsubscribe(fd int) {
	p.mu.Lock()
	delete(p.subs, fd)
	p.mu.Unlock()
}

func (p *Poller) run() {
	for {
		select {
		case <-p.stopped:
			return
		case <-p.wake:
			p.mu.Lock()
			subs := make([]pumper, 0, len(p.subs))
			for _, c := range p.subs {
				subs = append(subs, c)
			}
			p.mu.Unlock()
			for _, c := range subs {
				if err := c.Pump(); err != nil {
					glog.Warningf("kio/conn: %s: protocol pump error: %v", c.Name(), err)
					c.SetError()
				}
			}
		}
	}
}

func (p *Poller) Stop() {
	p.once.Do(func() { close(p.stopped) })
}
