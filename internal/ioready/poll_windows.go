//go:build windows

package ioready

import (
	"sync"

	"golang.org/x/sys/windows"
)

// registration tracks interest for one socket. WSAPoll takes a flat
// pollfd array per call rather than an owned kernel-side set, so unlike
// epoll/kqueue this backend rebuilds its fd list on every Wait.
type registration struct {
	fd       int
	interest Interest
	data     any
}

type wsaPollPoller struct {
	mu   sync.Mutex
	regs map[int]*registration
}

func newPoller() (Poller, error) {
	return &wsaPollPoller{regs: make(map[int]*registration)}, nil
}

func (p *wsaPollPoller) Add(fd int, interest Interest, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs[fd] = &registration{fd: fd, interest: interest, data: data}
	return nil
}

func (p *wsaPollPoller) Modify(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.regs[fd]
	if !ok {
		return errNotRegistered
	}
	reg.interest = interest
	return nil
}

func (p *wsaPollPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.regs[fd]; !ok {
		return errNotRegistered
	}
	delete(p.regs, fd)
	return nil
}

func toPollEvents(i Interest) int16 {
	var ev int16
	if i.has(Readable) {
		ev |= windows.POLLIN
	}
	if i.has(Writable) {
		ev |= windows.POLLOUT
	}
	return ev
}

func (p *wsaPollPoller) Wait(timeoutMS int) ([]Event, error) {
	p.mu.Lock()
	fds := make([]windows.WSAPollFd, 0, len(p.regs))
	order := make([]*registration, 0, len(p.regs))
	for _, reg := range p.regs {
		fds = append(fds, windows.WSAPollFd{Fd: windows.Handle(reg.fd), Events: toPollEvents(reg.interest)})
		order = append(order, reg)
	}
	p.mu.Unlock()

	if len(fds) == 0 {
		return nil, nil
	}

	n, err := windows.WSAPoll(fds, timeoutMS)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]Event, 0, n)
	for idx, pfd := range fds {
		if pfd.REvents == 0 {
			continue
		}
		var i Interest
		if pfd.REvents&(windows.POLLIN|windows.POLLHUP|windows.POLLERR) != 0 {
			i |= Readable
		}
		if pfd.REvents&windows.POLLOUT != 0 {
			i |= Writable
		}
		out = append(out, Event{Fd: order[idx].fd, Events: i, Data: order[idx].data})
	}
	return out, nil
}

func (p *wsaPollPoller) Close() error {
	return nil
}
