package usb1

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// Device is one enumerated USB device. It holds a reference on the native
// device and Go-owned copies of its device and configuration descriptors, so
// descriptor access never touches the native library again.
type Device struct {
	ctx        *Context
	descriptor deviceDescriptor
	configs    []*configDescriptor
	busNumber  uint8
	portNumber uint8
	address    uint8
	speed      Speed

	mu     sync.Mutex
	native uintptr
}

// newDevice takes over the caller's reference on the native device. Config
// descriptors that cannot be read (common for devices mid-disconnect) are
// skipped.
func newDevice(ctx *Context, native uintptr) (*Device, error) {
	desc, err := ctx.drv.getDeviceDescriptor(native)
	if err != nil {
		return nil, fmt.Errorf("reading device descriptor: %w", err)
	}
	d := &Device{
		ctx:        ctx,
		native:     native,
		descriptor: desc,
		busNumber:  ctx.drv.getBusNumber(native),
		portNumber: ctx.drv.getPortNumber(native),
		address:    ctx.drv.getDeviceAddress(native),
		speed:      ctx.drv.getDeviceSpeed(native),
	}
	for i := uint8(0); i < desc.numConfigurations; i++ {
		config, err := ctx.drv.getConfigDescriptor(native, i)
		if err != nil {
			glog.V(1).Infof("Skipping unreadable configuration %d of %s: %v", i, d, err)
			continue
		}
		d.configs = append(d.configs, config)
	}
	return d, nil
}

// Close drops this Device's reference on the native device. Descriptor
// accessors keep working; Open does not.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.native == 0 {
		return
	}
	d.ctx.drv.unrefDevice(d.native)
	d.native = 0
}

// Open opens the device for I/O. The returned handle keeps the device alive
// and must be closed.
func (d *Device) Open() (*DeviceHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.native == 0 {
		return nil, fmt.Errorf("opening %s: %w", d, ErrNoDevice)
	}
	native, err := d.ctx.drv.openDevice(d.native)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", d, err)
	}
	h := newDeviceHandle(d.ctx, native, d, false)
	d.ctx.rememberHandle(h)
	return h, nil
}

// String formats the device the way lsusb does.
func (d *Device) String() string {
	return fmt.Sprintf("Bus %03d Device %03d: ID %04x:%04x",
		d.busNumber, d.address, d.descriptor.vendorID, d.descriptor.productID)
}

// Equal reports whether other designates the same physical device: same
// context, bus, address, vendor and product.
func (d *Device) Equal(other *Device) bool {
	if other == nil {
		return false
	}
	return d.ctx == other.ctx &&
		d.busNumber == other.busNumber &&
		d.address == other.address &&
		d.descriptor.vendorID == other.descriptor.vendorID &&
		d.descriptor.productID == other.descriptor.productID
}

// BusNumber returns the number of the bus the device is attached to.
func (d *Device) BusNumber() int {
	return int(d.busNumber)
}

// PortNumber returns the number of the port the device is plugged into.
func (d *Device) PortNumber() int {
	return int(d.portNumber)
}

// PortNumbers returns the chain of port numbers from the root hub to the
// device.
func (d *Device) PortNumbers() ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.native == 0 {
		return nil, ErrNoDevice
	}
	ports, err := d.ctx.drv.getPortNumbers(d.native)
	if err != nil {
		return nil, fmt.Errorf("reading port chain of %s: %w", d, err)
	}
	out := make([]int, len(ports))
	for i, p := range ports {
		out[i] = int(p)
	}
	return out, nil
}

// DeviceAddress returns the address the device was assigned on its bus.
func (d *Device) DeviceAddress() int {
	return int(d.address)
}

// Speed returns the speed the device negotiated.
func (d *Device) Speed() Speed {
	return d.speed
}

// VendorID returns the idVendor field of the device descriptor.
func (d *Device) VendorID() uint16 {
	return d.descriptor.vendorID
}

// ProductID returns the idProduct field of the device descriptor.
func (d *Device) ProductID() uint16 {
	return d.descriptor.productID
}

// USBVersion returns the BCD-encoded bcdUSB field.
func (d *Device) USBVersion() uint16 {
	return d.descriptor.bcdUSB
}

// DeviceVersion returns the BCD-encoded bcdDevice field.
func (d *Device) DeviceVersion() uint16 {
	return d.descriptor.bcdDevice
}

// Class returns the device class id.
func (d *Device) Class() uint8 {
	return d.descriptor.deviceClass
}

// SubClass returns the device subclass id.
func (d *Device) SubClass() uint8 {
	return d.descriptor.deviceSubClass
}

// Protocol returns the device protocol id.
func (d *Device) Protocol() uint8 {
	return d.descriptor.deviceProtocol
}

// MaxPacketSize0 returns the maximum packet size of endpoint zero.
func (d *Device) MaxPacketSize0() int {
	return int(d.descriptor.maxPacketSize0)
}

// ManufacturerIndex returns the string descriptor index of the manufacturer
// string, or 0 if there is none.
func (d *Device) ManufacturerIndex() uint8 {
	return d.descriptor.manufacturerIndex
}

// ProductIndex returns the string descriptor index of the product string, or
// 0 if there is none.
func (d *Device) ProductIndex() uint8 {
	return d.descriptor.productIndex
}

// SerialNumberIndex returns the string descriptor index of the serial number
// string, or 0 if there is none.
func (d *Device) SerialNumberIndex() uint8 {
	return d.descriptor.serialNumberIndex
}

// NumConfigurations returns the number of configurations the device reports.
// This can exceed len(Configurations()) when some descriptors were unreadable
// during enumeration.
func (d *Device) NumConfigurations() int {
	return int(d.descriptor.numConfigurations)
}

// Configurations returns read-only views over the configuration descriptors
// cached at enumeration time.
func (d *Device) Configurations() []Configuration {
	out := make([]Configuration, len(d.configs))
	for i, config := range d.configs {
		out[i] = Configuration{config: config, speed: d.speed}
	}
	return out
}

// MaxPacketSize returns the wMaxPacketSize of the given endpoint in the
// active configuration.
func (d *Device) MaxPacketSize(endpoint uint8) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.native == 0 {
		return 0, ErrNoDevice
	}
	return d.ctx.drv.getMaxPacketSize(d.native, endpoint)
}

// MaxISOPacketSize returns the per-interval isochronous bandwidth of the
// given endpoint in the active configuration.
func (d *Device) MaxISOPacketSize(endpoint uint8) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.native == 0 {
		return 0, ErrNoDevice
	}
	return d.ctx.drv.getMaxISOPacketSize(d.native, endpoint)
}
