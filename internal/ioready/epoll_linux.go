//go:build linux

package ioready

import (
	"sync"

	"golang.org/x/sys/unix"
)

type registration struct {
	fd       int
	interest Interest
	data     any
}

type epollPoller struct {
	epfd int
	mu   sync.Mutex
	regs map[int]*registration
}

func newPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: epfd, regs: make(map[int]*registration)}, nil
}

func toEpollEvents(i Interest) uint32 {
	var ev uint32
	if i.has(Readable) {
		ev |= unix.EPOLLIN
	}
	if i.has(Writable) {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpollEvents(ev uint32) Interest {
	var i Interest
	if ev&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		i |= Readable
	}
	if ev&unix.EPOLLOUT != 0 {
		i |= Writable
	}
	return i
}

func (p *epollPoller) Add(fd int, interest Interest, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg := &registration{fd: fd, interest: interest, data: data}
	p.regs[fd] = reg
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) Modify(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.regs[fd]
	if !ok {
		return errNotRegistered
	}
	reg.interest = interest
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.regs[fd]; !ok {
		return errNotRegistered
	}
	delete(p.regs, fd)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(timeoutMS int) ([]Event, error) {
	raw := make([]unix.EpollEvent, 128)
	n, err := unix.EpollWait(p.epfd, raw, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, 0, n)
	for idx := 0; idx < n; idx++ {
		fd := int(raw[idx].Fd)
		reg, ok := p.regs[fd]
		if !ok {
			continue
		}
		out = append(out, Event{Fd: fd, Events: fromEpollEvents(raw[idx].Events), Data: reg.data})
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
