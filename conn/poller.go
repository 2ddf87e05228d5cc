//go:build linux

/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package conn

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"
)

// pumper is the minimal surface the poller needs from a subscribed
// connection: invoke its protocol pump exactly once per readiness event.
type pumper interface {
	Pump() error
	SetError()
	Name() string
}

// Poller is the single background task that owns one OS-level readiness
// object (epoll) and every subscribed connection's descriptor. Shared
// across every cluster in the process.
type Poller struct {
	epfd int

	mu   sync.Mutex
	subs map[int]pumper

	wakeR, wakeW int // self-pipe, for cooperative shutdown
	stopOnce     sync.Once
	stopped      chan struct{}
}

// NewPoller creates the epoll instance and starts its run loop.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("kio/conn: epoll_create1: %w", err)
	}
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("kio/conn: pipe: %w", err)
	}
	p := &Poller{
		epfd:    epfd,
		subs:    make(map[int]pumper),
		wakeR:   fds[0],
		wakeW:   fds[1],
		stopped: make(chan struct{}),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, p.wakeR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(p.wakeR),
	}); err != nil {
		unix.Close(epfd)
		unix.Close(p.wakeR)
		unix.Close(p.wakeW)
		return nil, fmt.Errorf("kio/conn: subscribing self-pipe: %w", err)
	}
	go p.run()
	return p, nil
}

// Subscribe registers fd for edge-triggered read/write readiness,
// associated with conn.
func (p *Poller) Subscribe(fd int, c pumper) error {
	p.mu.Lock()
	p.subs[fd] = c
	p.mu.Unlock()

	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLET,
		Fd:     int32(fd),
	})
	if err != nil {
		p.mu.Lock()
		delete(p.subs, fd)
		p.mu.Unlock()
		return fmt.Errorf("kio/conn: epoll_ctl add %d: %w", fd, err)
	}
	return nil
}

// Unsubscribe removes fd from the poller.
func (p *Poller) Unsubscribe(fd int) {
	unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	p.mu.Lock()
	delete(p.subs, fd)
	p.mu.Unlock()
}

// run is the poller's single background goroutine: wait for readiness,
// invoke each ready connection's pump exactly once, log and notify the
// connection's supervisor on protocol error.
func (p *Poller) run() {
	events := make([]unix.EpollEvent, 16)
	for {
		n, err := unix.EpollWait(p.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			glog.Errorf("kio/conn: epoll_wait: %v", err)
			return
		}
		select {
		case <-p.stopped:
			return
		default:
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == p.wakeR {
				return // cooperative shutdown via self-pipe wakeup
			}
			p.mu.Lock()
			c := p.subs[fd]
			p.mu.Unlock()
			if c == nil {
				glog.V(4).Infof("kio/conn: poller event for unknown fd %d", fd)
				continue
			}
			if err := c.Pump(); err != nil {
				glog.Warningf("kio/conn: %s: protocol pump error: %v", c.Name(), err)
				c.SetError()
			}
		}
	}
}

// Stop terminates the poller via the self-pipe wakeup.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)
		unix.Write(p.wakeW, []byte{0})
		unix.Close(p.wakeR)
		unix.Close(p.wakeW)
		unix.Close(p.epfd)
	})
}
