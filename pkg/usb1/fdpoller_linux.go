package usb1

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// EpollPoller is an FDPoller backed by epoll(7). The poll(2)-style event bits
// used throughout this package have the same values as their epoll
// equivalents, so no translation is needed in either direction.
type EpollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// NewEpollPoller creates an epoll instance.
func NewEpollPoller() (*EpollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("creating epoll instance: %w", err)
	}
	return &EpollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, 64),
	}, nil
}

// Close releases the epoll instance.
func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}

// Register adds fd to the watched set, or updates its interest mask if it is
// already watched.
func (p *EpollPoller) Register(fd int, events PollEvents) error {
	ev := &unix.EpollEvent{Events: uint32(events), Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	if err == unix.EEXIST {
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
	}
	if err != nil {
		return fmt.Errorf("watching fd %d: %w", fd, err)
	}
	return nil
}

// Unregister removes fd from the watched set.
func (p *EpollPoller) Unregister(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("unwatching fd %d: %w", fd, err)
	}
	return nil
}

// Poll waits for readiness. A negative timeout blocks indefinitely; positive
// sub-millisecond timeouts are rounded up so they never spin.
func (p *EpollPoller) Poll(timeout time.Duration) ([]PollFDEvent, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 && timeout > 0 {
			ms = 1
		}
	}
	var n int
	for {
		var err error
		n, err = unix.EpollWait(p.epfd, p.events, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("epoll wait: %w", err)
		}
		break
	}
	out := make([]PollFDEvent, n)
	for i := 0; i < n; i++ {
		out[i] = PollFDEvent{
			FD:     int(p.events[i].Fd),
			Events: PollEvents(p.events[i].Events),
		}
	}
	return out, nil
}
