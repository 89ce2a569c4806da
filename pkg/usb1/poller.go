package usb1

import (
	"fmt"
	"sync"
	"time"
)

// PollFDEvent is one readiness report from an FDPoller.
type PollFDEvent struct {
	FD     int
	Events PollEvents
}

// FDPoller is a poll(2)-style readiness multiplexer. EpollPoller is the
// standard implementation on Linux; any event loop that can watch file
// descriptors can implement it instead.
//
// A negative Poll timeout blocks until an event arrives.
type FDPoller interface {
	Register(fd int, events PollEvents) error
	Unregister(fd int) error
	Poll(timeout time.Duration) ([]PollFDEvent, error)
}

// Poller folds a Context's event processing into a caller-owned FDPoller, so
// one loop can wait on USB traffic and application file descriptors together.
// It mirrors the driver's poll set into the backend as the driver changes it,
// and caps every wait at the driver's nearest internal deadline.
//
// Poll must not run concurrently with itself. While a Poller is attached,
// nothing else may drive the context's event processing.
type Poller struct {
	ctx     *Context
	backend FDPoller

	mu     sync.Mutex
	usbFDs map[int]struct{}
}

// NewPoller attaches a Poller to ctx, seeding backend with the driver's
// current poll set.
func NewPoller(ctx *Context, backend FDPoller) (*Poller, error) {
	p := &Poller{
		ctx:     ctx,
		backend: backend,
		usbFDs:  make(map[int]struct{}),
	}
	if err := ctx.SetPollFDNotifiers(p.fdAdded, p.fdRemoved); err != nil {
		return nil, err
	}
	fds, err := ctx.PollFDs()
	if err != nil {
		ctx.SetPollFDNotifiers(nil, nil)
		return nil, err
	}
	for _, fd := range fds {
		p.fdAdded(fd.FD, fd.Events)
	}
	return p, nil
}

// Close detaches the Poller from its context and removes the driver's file
// descriptors from the backend. The backend itself is not closed.
func (p *Poller) Close() error {
	p.ctx.SetPollFDNotifiers(nil, nil)
	p.mu.Lock()
	defer p.mu.Unlock()
	for fd := range p.usbFDs {
		p.backend.Unregister(fd)
		delete(p.usbFDs, fd)
	}
	return nil
}

// fdAdded and fdRemoved run on whichever thread is executing event
// processing, which under a Poller is the thread calling Poll.
func (p *Poller) fdAdded(fd int, events PollEvents) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.usbFDs[fd] = struct{}{}
	p.backend.Register(fd, events)
}

func (p *Poller) fdRemoved(fd int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.usbFDs, fd)
	p.backend.Unregister(fd)
}

func (p *Poller) isUSBFD(fd int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.usbFDs[fd]
	return ok
}

// Register watches an application file descriptor through the backend. File
// descriptors owned by the driver cannot be registered.
func (p *Poller) Register(fd int, events PollEvents) error {
	if p.isUSBFD(fd) {
		return fmt.Errorf("fd %d belongs to the USB event set: %w", fd, ErrBusy)
	}
	return p.backend.Register(fd, events)
}

// Unregister stops watching an application file descriptor.
func (p *Poller) Unregister(fd int) error {
	if p.isUSBFD(fd) {
		return fmt.Errorf("fd %d belongs to the USB event set: %w", fd, ErrBusy)
	}
	return p.backend.Unregister(fd)
}

// Poll waits for readiness on the application file descriptors, handling USB
// events as a side effect, and returns only the application events. A
// negative timeout blocks until something happens.
//
// The effective wait is the shorter of timeout and the driver's next internal
// deadline, so driver timers fire on time even when no descriptor becomes
// ready.
func (p *Poller) Poll(timeout time.Duration) ([]PollFDEvent, error) {
	usbTimeout, pending, err := p.ctx.NextTimeout()
	if err != nil {
		return nil, err
	}
	if pending && (timeout < 0 || usbTimeout < timeout) {
		timeout = usbTimeout
	}

	events, err := p.backend.Poll(timeout)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		// Nothing ready: either the driver's deadline expired or the caller's
		// timeout did. Handling already-pending events is correct (and cheap)
		// in both cases.
		if err := p.ctx.HandleEventsTimeout(0); err != nil {
			return nil, err
		}
		return nil, nil
	}

	out := events[:0]
	usbReady := false
	for _, ev := range events {
		if p.isUSBFD(ev.FD) {
			usbReady = true
			continue
		}
		out = append(out, ev)
	}
	if usbReady {
		if err := p.ctx.HandleEventsTimeout(0); err != nil {
			return nil, err
		}
	}
	return out, nil
}
