//go:build darwin || freebsd || netbsd || openbsd || dragonfly

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

type kqueuePoller struct {
	kq   int
	mu   sync.Mutex
	regs map[int]*registration
}

func newPoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{kq: kq, regs: make(map[int]*registration)}, nil
}

func kevents(fd int, interest Interest, flag uint16) []unix.Kevent_t {
	var out []unix.Kevent_t
	if interest.has(Readable) {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flag})
	}
	if interest.has(Writable) {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flag})
	}
	return out
}

func (p *kqueuePoller) Add(fd int, interest Interest, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs[fd] = &registration{fd: fd, interest: interest, data: data}
	changes := kevents(fd, interest, unix.EV_ADD|unix.EV_ENABLE)
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Modify(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old, ok := p.regs[fd]
	if !ok {
		return errNotRegistered
	}
	var changes []unix.Kevent_t
	changes = append(changes, kevents(fd, old.interest, unix.EV_DELETE)...)
	changes = append(changes, kevents(fd, interest, unix.EV_ADD|unix.EV_ENABLE)...)
	old.interest = interest
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.regs[fd]
	if !ok {
		return errNotRegistered
	}
	delete(p.regs, fd)
	changes := kevents(fd, reg.interest, unix.EV_DELETE)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Wait(timeoutMS int) ([]Event, error) {
	raw := make([]unix.Kevent_t, 128)
	var ts *unix.Timespec
	if timeoutMS >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMS) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	byFd := make(map[int]Interest, n)
	for idx := 0; idx < n; idx++ {
		fd := int(raw[idx].Ident)
		switch raw[idx].Filter {
		case unix.EVFILT_READ:
			byFd[fd] |= Readable
		case unix.EVFILT_WRITE:
			byFd[fd] |= Writable
		}
	}
	out := make([]Event, 0, len(byFd))
	for fd, ev := range byFd {
		reg, ok := p.regs[fd]
		if !ok {
			continue
		}
		out = append(out, Event{Fd: fd, Events: ev, Data: reg.data})
	}
	return out, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
