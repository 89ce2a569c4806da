package usb1

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"
)

// DeviceHandle is an open device. It tracks every asynchronous transfer in
// flight against it, and Close will not release the native handle until all
// of them have been cancelled and their completions dispatched.
type DeviceHandle struct {
	ctx        *Context
	native     uintptr
	device     *Device
	ownsDevice bool

	mu       sync.Mutex
	inflight map[*Transfer]struct{}
	closed   bool
}

func newDeviceHandle(ctx *Context, native uintptr, device *Device, ownsDevice bool) *DeviceHandle {
	return &DeviceHandle{
		ctx:        ctx,
		native:     native,
		device:     device,
		ownsDevice: ownsDevice,
		inflight:   make(map[*Transfer]struct{}),
	}
}

func (h *DeviceHandle) inflightAdd(t *Transfer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inflight[t] = struct{}{}
}

func (h *DeviceHandle) inflightRemove(t *Transfer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inflight, t)
}

func (h *DeviceHandle) inflightSnapshot() []*Transfer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Transfer, 0, len(h.inflight))
	for t := range h.inflight {
		out = append(out, t)
	}
	return out
}

func (h *DeviceHandle) inflightCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight)
}

// Device returns the device this handle was opened from.
func (h *DeviceHandle) Device() *Device {
	return h.device
}

// GetTransfer allocates a new asynchronous transfer bound to this handle.
// isoPackets is the number of isochronous packet slots; pass 0 for control,
// bulk and interrupt transfers.
func (h *DeviceHandle) GetTransfer(isoPackets int, opts ...TransferOption) (*Transfer, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("allocating transfer: %w", ErrNoDevice)
	}
	var cfg transferOptions
	for _, opt := range opts {
		opt(&cfg)
	}
	return newTransfer(h, isoPackets, cfg.shortIsError, cfg.addZeroPacket)
}

// TransferOption configures a Transfer at allocation time.
type TransferOption func(*transferOptions)

type transferOptions struct {
	shortIsError  bool
	addZeroPacket bool
}

// WithShortIsError makes short frames complete the transfer with
// TransferError.
func WithShortIsError() TransferOption {
	return func(o *transferOptions) { o.shortIsError = true }
}

// WithAddZeroPacket terminates exact-multiple transfers with a zero-length
// packet.
func WithAddZeroPacket() TransferOption {
	return func(o *transferOptions) { o.addZeroPacket = true }
}

// Close cancels every in-flight transfer, drives event processing until all
// their completions have been dispatched, and only then releases the native
// handle. Completion callbacks for the cancelled transfers run from inside
// this call.
//
// If event processing fails with anything other than an interrupted system
// call, Close returns without releasing the native handle; transfers may
// still be in flight against it.
func (h *DeviceHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	var errs *multierror.Error
	inflight := h.inflightSnapshot()
	if len(inflight) > 0 {
		glog.V(1).Infof("Closing device handle with %d transfers in flight", len(inflight))
	}
	for _, t := range inflight {
		switch err := t.Cancel(); {
		case err == nil:
		case errors.Is(err, ErrNotFound):
			// Completed between the snapshot and the cancel.
		case errors.Is(err, ErrNoDevice):
			// The device is gone; its completions still arrive.
		default:
			errs = multierror.Append(errs, fmt.Errorf("cancelling in-flight transfer: %w", err))
		}
	}
	for h.inflightCount() > 0 {
		if err := h.ctx.drv.handleEvents(h.ctx.native); err != nil {
			if errors.Is(err, ErrInterrupted) {
				continue
			}
			h.mu.Lock()
			h.closed = false
			h.mu.Unlock()
			errs = multierror.Append(errs, fmt.Errorf("draining transfer completions: %w", err))
			return errs.ErrorOrNil()
		}
	}

	h.ctx.drv.closeDevice(h.native)
	h.ctx.forgetHandle(h)
	if h.ownsDevice {
		h.device.Close()
	}
	return errs.ErrorOrNil()
}

// GetConfiguration returns the bConfigurationValue of the active
// configuration, or 0 if the device is unconfigured.
func (h *DeviceHandle) GetConfiguration() (int, error) {
	return h.ctx.drv.getConfiguration(h.native)
}

// SetConfiguration activates the configuration with the given
// bConfigurationValue. Pass -1 to put the device in the unconfigured state.
func (h *DeviceHandle) SetConfiguration(config int) error {
	return h.ctx.drv.setConfiguration(h.native, config)
}

// ClaimInterface claims the given interface and returns a function releasing
// it. Claiming fails with ErrBusy while a kernel driver holds the interface;
// see SetAutoDetachKernelDriver.
func (h *DeviceHandle) ClaimInterface(number int) (func() error, error) {
	if err := h.ctx.drv.claimInterface(h.native, number); err != nil {
		return nil, fmt.Errorf("claiming interface %d: %w", number, err)
	}
	return func() error {
		return h.ctx.drv.releaseInterface(h.native, number)
	}, nil
}

// SetInterfaceAltSetting activates an alternate setting of a claimed
// interface.
func (h *DeviceHandle) SetInterfaceAltSetting(number, altSetting int) error {
	return h.ctx.drv.setInterfaceAltSetting(h.native, number, altSetting)
}

// ClearHalt clears a halt/stall condition on the given endpoint.
func (h *DeviceHandle) ClearHalt(endpoint uint8) error {
	return h.ctx.drv.clearHalt(h.native, endpoint)
}

// ResetDevice performs a USB port reset. If the device looks different
// afterwards (descriptors changed), the handle becomes invalid and the
// device must be re-opened.
func (h *DeviceHandle) ResetDevice() error {
	return h.ctx.drv.resetDevice(h.native)
}

// KernelDriverActive reports whether a kernel driver is bound to the given
// interface.
func (h *DeviceHandle) KernelDriverActive(number int) (bool, error) {
	return h.ctx.drv.kernelDriverActive(h.native, number)
}

// DetachKernelDriver unbinds the kernel driver from the given interface.
func (h *DeviceHandle) DetachKernelDriver(number int) error {
	return h.ctx.drv.detachKernelDriver(h.native, number)
}

// AttachKernelDriver re-binds the kernel driver to the given interface.
func (h *DeviceHandle) AttachKernelDriver(number int) error {
	return h.ctx.drv.attachKernelDriver(h.native, number)
}

// SetAutoDetachKernelDriver makes ClaimInterface detach any bound kernel
// driver first, and ReleaseInterface re-attach it.
func (h *DeviceHandle) SetAutoDetachKernelDriver(enable bool) error {
	return h.ctx.drv.setAutoDetachKernelDriver(h.native, enable)
}

// GetStringDescriptor reads the string descriptor with the given index in the
// given language and decodes its UTF-16-LE payload.
func (h *DeviceHandle) GetStringDescriptor(index uint8, langID uint16) (string, error) {
	buf := make([]byte, stringDescriptorLength)
	n, err := h.ctx.drv.getStringDescriptor(h.native, index, langID, buf)
	if err != nil {
		return "", fmt.Errorf("reading string descriptor %d: %w", index, err)
	}
	// Descriptor header: bLength, bDescriptorType, then UTF-16-LE code units.
	if n < 2 || buf[1] != descriptorTypeString {
		return "", fmt.Errorf("reading string descriptor %d: %w", index, ErrIO)
	}
	if int(buf[0]) < n {
		n = int(buf[0])
	}
	units := make([]uint16, 0, (n-2)/2)
	for i := 2; i+1 < n; i += 2 {
		units = append(units, uint16(buf[i])|uint16(buf[i+1])<<8)
	}
	return string(utf16.Decode(units)), nil
}

// GetStringDescriptorASCII reads the string descriptor with the given index
// in the first language of the device, transliterated to ASCII by libusb.
func (h *DeviceHandle) GetStringDescriptorASCII(index uint8) (string, error) {
	buf := make([]byte, stringDescriptorLength)
	n, err := h.ctx.drv.getStringDescriptorASCII(h.native, index, buf)
	if err != nil {
		return "", fmt.Errorf("reading string descriptor %d: %w", index, err)
	}
	return string(buf[:n]), nil
}

// Manufacturer returns the device's manufacturer string, or "" if the device
// does not have one.
func (h *DeviceHandle) Manufacturer() (string, error) {
	return h.descriptorString(h.device.descriptor.manufacturerIndex)
}

// Product returns the device's product string, or "" if the device does not
// have one.
func (h *DeviceHandle) Product() (string, error) {
	return h.descriptorString(h.device.descriptor.productIndex)
}

// SerialNumber returns the device's serial number string, or "" if the device
// does not have one.
func (h *DeviceHandle) SerialNumber() (string, error) {
	return h.descriptorString(h.device.descriptor.serialNumberIndex)
}

func (h *DeviceHandle) descriptorString(index uint8) (string, error) {
	if index == 0 {
		return "", nil
	}
	return h.GetStringDescriptorASCII(index)
}

// ControlWrite performs a synchronous host-to-device control transfer and
// returns the number of bytes sent. On timeout the count of bytes that made
// it through is returned alongside ErrTimeout.
func (h *DeviceHandle) ControlWrite(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	return h.ctx.drv.controlTransfer(h.native, requestType&^EndpointDirMask, request, value, index, data, timeout)
}

// ControlRead performs a synchronous device-to-host control transfer and
// returns the data received. On timeout the partial data is returned
// alongside ErrTimeout.
func (h *DeviceHandle) ControlRead(requestType, request uint8, value, index uint16, length int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, length)
	n, err := h.ctx.drv.controlTransfer(h.native, requestType|EndpointIn, request, value, index, buf, timeout)
	if err != nil && !errors.Is(err, ErrTimeout) {
		return nil, err
	}
	return buf[:n], err
}

// BulkWrite performs a synchronous bulk write and returns the number of bytes
// sent. On timeout the count of bytes that made it through is returned
// alongside ErrTimeout.
func (h *DeviceHandle) BulkWrite(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	return h.ctx.drv.bulkTransfer(h.native, endpoint&^EndpointDirMask, data, timeout)
}

// BulkRead performs a synchronous bulk read of up to length bytes. On timeout
// the partial data is returned alongside ErrTimeout.
func (h *DeviceHandle) BulkRead(endpoint uint8, length int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, length)
	n, err := h.ctx.drv.bulkTransfer(h.native, endpoint|EndpointIn, buf, timeout)
	if err != nil && !errors.Is(err, ErrTimeout) {
		return nil, err
	}
	return buf[:n], err
}

// InterruptWrite performs a synchronous interrupt write and returns the
// number of bytes sent. On timeout the count of bytes that made it through is
// returned alongside ErrTimeout.
func (h *DeviceHandle) InterruptWrite(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	return h.ctx.drv.interruptTransfer(h.native, endpoint&^EndpointDirMask, data, timeout)
}

// InterruptRead performs a synchronous interrupt read of up to length bytes.
// On timeout the partial data is returned alongside ErrTimeout.
func (h *DeviceHandle) InterruptRead(endpoint uint8, length int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, length)
	n, err := h.ctx.drv.interruptTransfer(h.native, endpoint|EndpointIn, buf, timeout)
	if err != nil && !errors.Is(err, ErrTimeout) {
		return nil, err
	}
	return buf[:n], err
}
