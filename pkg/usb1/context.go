// Package usb1 wraps libusb-1.0, with full support for its asynchronous
// transfer API: transfer objects are configured, submitted and completed
// through a process-wide registry that keeps them (and their buffers) alive
// while the native library works on them, device handles drain their
// in-flight transfers before closing, and an adapter folds USB event
// processing into caller-owned poll loops.
package usb1

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"
)

// Context is one libusb session. All devices, handles and transfers hang off
// a Context, and none of them survive its Close.
//
// Operations hold the context open for their duration: Close waits for
// in-progress calls (including blocking event handling) rather than pulling
// the native session out from under them.
type Context struct {
	drv  driver
	opts initOptions

	mu     sync.RWMutex
	native uintptr

	handlesMu sync.Mutex
	handles   map[*DeviceHandle]struct{}

	hotplugMu sync.Mutex
	hotplug   map[int32]*HotplugRegistration
}

// ContextOption configures a Context before the native session is created.
type ContextOption func(*initOptions)

// WithLogLevel sets the context's log verbosity.
func WithLogLevel(level LogLevel) ContextOption {
	return func(o *initOptions) { o.logLevel = &level }
}

// WithUsbDk selects the UsbDk backend on Windows.
func WithUsbDk() ContextOption {
	return func(o *initOptions) { o.useUsbDk = true }
}

// WithoutDeviceDiscovery skips bus enumeration at session creation, for
// processes that receive already-open device nodes from elsewhere.
func WithoutDeviceDiscovery() ContextOption {
	return func(o *initOptions) { o.noDeviceDiscovery = true }
}

// WithLogCallback routes the context's log output to cb instead of stderr.
func WithLogCallback(cb LogCallbackFunc) ContextOption {
	return func(o *initOptions) { o.logCallback = cb }
}

// NewContext creates and opens a libusb session.
func NewContext(opts ...ContextOption) (*Context, error) {
	drv, err := loadDriver()
	if err != nil {
		return nil, fmt.Errorf("loading USB driver: %w", err)
	}
	return newContextWithDriver(drv, opts...)
}

func newContextWithDriver(drv driver, opts ...ContextOption) (*Context, error) {
	c := &Context{
		drv:     drv,
		handles: make(map[*DeviceHandle]struct{}),
		hotplug: make(map[int32]*HotplugRegistration),
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	if c.opts.logCallback == nil {
		c.opts.logCallback = glogLogCallback
	}
	native, err := drv.initContext(c.opts)
	if err != nil {
		return nil, fmt.Errorf("initializing USB context: %w", err)
	}
	c.native = native
	return c, nil
}

// glogLogCallback is the default sink for libusb's own log output.
func glogLogCallback(level LogLevel, message string) {
	switch level {
	case LogLevelError:
		glog.Errorf("libusb: %s", message)
	case LogLevelWarning:
		glog.Warningf("libusb: %s", message)
	default:
		glog.V(2).Infof("libusb: %s", message)
	}
}

// hold pins the native session for the duration of one operation. The
// returned release function must be called exactly once.
func (c *Context) hold() (uintptr, func(), error) {
	c.mu.RLock()
	if c.native == 0 {
		c.mu.RUnlock()
		return 0, nil, ErrContextClosed
	}
	return c.native, c.mu.RUnlock, nil
}

func (c *Context) rememberHandle(h *DeviceHandle) {
	c.handlesMu.Lock()
	defer c.handlesMu.Unlock()
	c.handles[h] = struct{}{}
}

func (c *Context) forgetHandle(h *DeviceHandle) {
	c.handlesMu.Lock()
	defer c.handlesMu.Unlock()
	delete(c.handles, h)
}

func (c *Context) handleSnapshot() []*DeviceHandle {
	c.handlesMu.Lock()
	defer c.handlesMu.Unlock()
	out := make([]*DeviceHandle, 0, len(c.handles))
	for h := range c.handles {
		out = append(out, h)
	}
	return out
}

// Close tears down the session: hotplug registrations are deregistered, every
// open device handle is closed (cancelling and draining its transfers), and
// the native session is destroyed once no other operation holds it. Close is
// idempotent.
func (c *Context) Close() error {
	c.mu.RLock()
	native := c.native
	c.mu.RUnlock()
	if native == 0 {
		return nil
	}

	c.deregisterAllHotplug()

	var errs *multierror.Error
	for _, h := range c.handleSnapshot() {
		if err := h.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing device handle: %w", err))
		}
	}

	c.mu.Lock()
	if c.native != 0 {
		c.drv.exitContext(c.native)
		c.native = 0
	}
	c.mu.Unlock()
	return errs.ErrorOrNil()
}

// GetDeviceList enumerates all devices visible to the session. With
// skipOnError set, devices whose descriptors cannot be read are dropped from
// the result instead of failing the whole enumeration.
func (c *Context) GetDeviceList(skipOnError bool) ([]*Device, error) {
	native, release, err := c.hold()
	if err != nil {
		return nil, err
	}
	defer release()

	natives, err := c.drv.getDeviceList(native)
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	var out []*Device
	for _, dev := range natives {
		d, err := newDevice(c, dev)
		if err != nil {
			c.drv.unrefDevice(dev)
			if skipOnError {
				glog.V(1).Infof("Skipping device: %v", err)
				continue
			}
			for _, prev := range out {
				prev.Close()
			}
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// GetByVendorIDAndProductID returns the first device matching the given
// vendor and product id, or nil if none is connected. Devices with unreadable
// descriptors are skipped.
func (c *Context) GetByVendorIDAndProductID(vendorID, productID uint16) (*Device, error) {
	devices, err := c.GetDeviceList(true)
	if err != nil {
		return nil, err
	}
	var found *Device
	for _, d := range devices {
		if found == nil && d.VendorID() == vendorID && d.ProductID() == productID {
			found = d
			continue
		}
		d.Close()
	}
	return found, nil
}

// OpenByVendorIDAndProductID opens the first device matching the given vendor
// and product id, or returns nil if none is connected. The returned handle
// owns the device; closing the handle releases it.
func (c *Context) OpenByVendorIDAndProductID(vendorID, productID uint16) (*DeviceHandle, error) {
	d, err := c.GetByVendorIDAndProductID(vendorID, productID)
	if err != nil || d == nil {
		return nil, err
	}
	h, err := d.Open()
	if err != nil {
		d.Close()
		return nil, err
	}
	h.ownsDevice = true
	return h, nil
}

// HandleEvents processes pending events, blocking until there are some.
func (c *Context) HandleEvents() error {
	native, release, err := c.hold()
	if err != nil {
		return err
	}
	defer release()
	return c.drv.handleEvents(native)
}

// HandleEventsTimeout processes pending events, blocking for at most timeout.
// A zero timeout handles only already-pending events.
func (c *Context) HandleEventsTimeout(timeout time.Duration) error {
	native, release, err := c.hold()
	if err != nil {
		return err
	}
	defer release()
	return c.drv.handleEventsTimeout(native, timeout)
}

// InterruptEventHandler wakes up a thread blocked in HandleEvents.
func (c *Context) InterruptEventHandler() error {
	native, release, err := c.hold()
	if err != nil {
		return err
	}
	defer release()
	c.drv.interruptEventHandler(native)
	return nil
}

// NextTimeout returns the deadline of the driver's nearest internal timer.
// ok is false when no timer is pending and event handling may block
// indefinitely; a zero duration with ok set means events must be handled
// immediately.
func (c *Context) NextTimeout() (timeout time.Duration, ok bool, err error) {
	native, release, err := c.hold()
	if err != nil {
		return 0, false, err
	}
	defer release()
	return c.drv.nextTimeout(native)
}

// PollFDs returns the file descriptors the driver currently needs watched,
// with their readiness interests.
func (c *Context) PollFDs() ([]PollFDEntry, error) {
	native, release, err := c.hold()
	if err != nil {
		return nil, err
	}
	defer release()
	fds, err := c.drv.pollFDs(native)
	if err != nil {
		return nil, fmt.Errorf("listing event file descriptors: %w", err)
	}
	out := make([]PollFDEntry, len(fds))
	for i, fd := range fds {
		out[i] = PollFDEntry{FD: fd.fd, Events: fd.events}
	}
	return out, nil
}

// PollFDEntry is one file descriptor of the driver's poll set.
type PollFDEntry struct {
	FD     int
	Events PollEvents
}

// SetPollFDNotifiers installs callbacks invoked when the driver's poll set
// changes. Both run on the thread executing event handling; pass nil
// functions to remove them.
func (c *Context) SetPollFDNotifiers(added func(fd int, events PollEvents), removed func(fd int)) error {
	native, release, err := c.hold()
	if err != nil {
		return err
	}
	defer release()
	c.drv.setPollFDNotifiers(native, pollFDNotifiers{added: added, removed: removed})
	return nil
}

// SetLogCallback routes this context's log output to cb.
func (c *Context) SetLogCallback(cb LogCallbackFunc) error {
	native, release, err := c.hold()
	if err != nil {
		return err
	}
	defer release()
	c.drv.setLogCallback(native, cb)
	return nil
}
