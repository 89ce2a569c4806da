package usb1

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
)

// HotplugCallback is invoked from the event-processing thread when a matching
// device arrives or leaves. Returning true deregisters the callback; no
// further events are delivered to it.
//
// The device is valid for the duration of the call. For departure events its
// cached descriptors remain readable, but it can no longer be opened.
type HotplugCallback func(ctx *Context, dev *Device, event HotplugEvent) bool

// HotplugRegistration is one active hotplug callback. Deregister it to stop
// event delivery; registrations are also torn down by Context.Close.
type HotplugRegistration struct {
	ctx    *Context
	handle int32

	mu     sync.Mutex
	active bool
}

type hotplugOptions struct {
	events      HotplugEvent
	enumerate   bool
	vendorID    int32
	productID   int32
	deviceClass int32
}

// HotplugOption narrows which events a hotplug callback receives.
type HotplugOption func(*hotplugOptions)

// WithHotplugEvents selects which of arrival and departure to deliver. The
// default is both.
func WithHotplugEvents(events HotplugEvent) HotplugOption {
	return func(o *hotplugOptions) { o.events = events }
}

// WithHotplugEnumerate delivers synthetic arrival events for all matching
// devices already connected at registration time.
func WithHotplugEnumerate() HotplugOption {
	return func(o *hotplugOptions) { o.enumerate = true }
}

// WithHotplugVendorID restricts delivery to devices with the given vendor id.
func WithHotplugVendorID(vendorID uint16) HotplugOption {
	return func(o *hotplugOptions) { o.vendorID = int32(vendorID) }
}

// WithHotplugProductID restricts delivery to devices with the given product
// id.
func WithHotplugProductID(productID uint16) HotplugOption {
	return func(o *hotplugOptions) { o.productID = int32(productID) }
}

// WithHotplugDeviceClass restricts delivery to devices of the given class.
func WithHotplugDeviceClass(class uint8) HotplugOption {
	return func(o *hotplugOptions) { o.deviceClass = int32(class) }
}

// RegisterHotplugCallback registers cb for device arrival and departure
// events. Events are delivered during event processing (HandleEvents and
// friends), so something must be driving the event loop for the callback to
// ever run.
func (c *Context) RegisterHotplugCallback(cb HotplugCallback, opts ...HotplugOption) (*HotplugRegistration, error) {
	if !c.drv.hasCapability(CapHasHotplug) {
		return nil, fmt.Errorf("hotplug events: %w", ErrNotSupported)
	}
	native, release, err := c.hold()
	if err != nil {
		return nil, err
	}
	defer release()

	o := hotplugOptions{
		events:      HotplugEventDeviceArrived | HotplugEventDeviceLeft,
		vendorID:    hotplugMatchAny,
		productID:   hotplugMatchAny,
		deviceClass: hotplugMatchAny,
	}
	for _, opt := range opts {
		opt(&o)
	}

	reg := &HotplugRegistration{ctx: c, active: true}
	trampoline := func(dev uintptr, event HotplugEvent) bool {
		deregister := c.dispatchHotplug(cb, dev, event)
		if deregister {
			// The native layer deregisters on a true return; only the
			// bookkeeping entry must go.
			reg.mu.Lock()
			reg.active = false
			reg.mu.Unlock()
			c.hotplugMu.Lock()
			delete(c.hotplug, reg.handle)
			c.hotplugMu.Unlock()
		}
		return deregister
	}

	handle, err := c.drv.hotplugRegister(native, o.events, o.enumerate, o.vendorID, o.productID, o.deviceClass, trampoline)
	if err != nil {
		return nil, fmt.Errorf("registering hotplug callback: %w", err)
	}
	reg.handle = handle
	// The registration map holds the only strong reference to the
	// trampoline's closure chain while the native layer knows the callback
	// by handle alone.
	c.hotplugMu.Lock()
	c.hotplug[handle] = reg
	c.hotplugMu.Unlock()
	return reg, nil
}

// dispatchHotplug wraps the native device for one callback invocation.
func (c *Context) dispatchHotplug(cb HotplugCallback, dev uintptr, event HotplugEvent) bool {
	c.drv.refDevice(dev)
	d, err := newDevice(c, dev)
	if err != nil {
		c.drv.unrefDevice(dev)
		glog.Warningf("Dropping hotplug %s event: %v", event, err)
		return false
	}
	defer d.Close()
	return cb(c, d, event)
}

// Deregister stops event delivery to this registration's callback. It is
// idempotent, and safe to call on a registration that already deregistered
// itself by returning true.
func (r *HotplugRegistration) Deregister() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	r.mu.Unlock()

	r.ctx.hotplugMu.Lock()
	delete(r.ctx.hotplug, r.handle)
	r.ctx.hotplugMu.Unlock()

	native, release, err := r.ctx.hold()
	if err != nil {
		return
	}
	defer release()
	r.ctx.drv.hotplugDeregister(native, r.handle)
}

func (c *Context) deregisterAllHotplug() {
	c.hotplugMu.Lock()
	regs := maps.Values(c.hotplug)
	c.hotplugMu.Unlock()
	for _, reg := range regs {
		reg.Deregister()
	}
}
