package usb1

import (
	"sync"
	"time"
)

// driver is the seam between the transfer engine and the native libusb-1.0
// library. All handles (contexts, devices, device handles, transfers) are
// opaque native pointers, carried as uintptr. The production implementation
// is the cgo binding in libusb.go; tests substitute an in-memory fake.
//
// The engine never frees a native transfer that is still submitted, and never
// submits a transfer whose buffer it does not keep alive; those invariants
// are enforced above this interface, not below it.
type driver interface {
	// Context lifecycle.
	initContext(opts initOptions) (uintptr, error)
	exitContext(ctx uintptr)

	// Device enumeration and descriptors.
	getDeviceList(ctx uintptr) ([]uintptr, error)
	refDevice(dev uintptr)
	unrefDevice(dev uintptr)
	getDeviceDescriptor(dev uintptr) (deviceDescriptor, error)
	getConfigDescriptor(dev uintptr, index uint8) (*configDescriptor, error)
	getBusNumber(dev uintptr) uint8
	getPortNumber(dev uintptr) uint8
	getPortNumbers(dev uintptr) ([]uint8, error)
	getDeviceAddress(dev uintptr) uint8
	getDeviceSpeed(dev uintptr) Speed
	getMaxPacketSize(dev uintptr, endpoint uint8) (int, error)
	getMaxISOPacketSize(dev uintptr, endpoint uint8) (int, error)

	// Device handle operations.
	openDevice(dev uintptr) (uintptr, error)
	closeDevice(h uintptr)
	getDevice(h uintptr) uintptr
	getConfiguration(h uintptr) (int, error)
	setConfiguration(h uintptr, config int) error
	claimInterface(h uintptr, number int) error
	releaseInterface(h uintptr, number int) error
	setInterfaceAltSetting(h uintptr, number, altSetting int) error
	clearHalt(h uintptr, endpoint uint8) error
	resetDevice(h uintptr) error
	kernelDriverActive(h uintptr, number int) (bool, error)
	detachKernelDriver(h uintptr, number int) error
	attachKernelDriver(h uintptr, number int) error
	setAutoDetachKernelDriver(h uintptr, enable bool) error
	getStringDescriptor(h uintptr, index uint8, langID uint16, data []byte) (int, error)
	getStringDescriptorASCII(h uintptr, index uint8, data []byte) (int, error)

	// Synchronous I/O.
	controlTransfer(h uintptr, requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error)
	bulkTransfer(h uintptr, endpoint uint8, data []byte, timeout time.Duration) (int, error)
	interruptTransfer(h uintptr, endpoint uint8, data []byte, timeout time.Duration) (int, error)

	// Asynchronous transfer objects. fillTransfer copies the staged buffer
	// to native memory; transferReadBack copies it out after completion.
	allocTransfer(isoPackets int) (uintptr, error)
	freeTransfer(t uintptr)
	fillTransfer(t uintptr, cfg transferConfig) error
	submitTransfer(t uintptr) error
	cancelTransfer(t uintptr) error
	transferStatus(t uintptr) TransferStatus
	transferActualLength(t uintptr) int
	transferReadBack(t uintptr, buf []byte)
	isoPacketResults(t uintptr) []IsoPacketDesc

	// Event handling.
	handleEvents(ctx uintptr) error
	handleEventsTimeout(ctx uintptr, timeout time.Duration) error
	interruptEventHandler(ctx uintptr)
	nextTimeout(ctx uintptr) (time.Duration, bool, error)
	pollFDs(ctx uintptr) ([]pollFD, error)
	setPollFDNotifiers(ctx uintptr, notifiers pollFDNotifiers)

	// Hotplug. A trampoline returning true is deregistered by the native
	// layer before delivery of further events; hotplugDeregister must not
	// be called for it again.
	hotplugRegister(ctx uintptr, events HotplugEvent, enumerate bool, vendorID, productID, deviceClass int32, cb hotplugTrampoline) (int32, error)
	hotplugDeregister(ctx uintptr, handle int32)

	// Library-wide queries.
	hasCapability(cap Capability) bool
	version() Version
	setLocale(locale string) error
	setLogCallback(ctx uintptr, cb LogCallbackFunc)
	setGlobalLogCallback(cb LogCallbackFunc)
}

// transferConfig is the native state staged into a transfer descriptor by
// fillTransfer. buffer includes the control setup header for control
// transfers.
type transferConfig struct {
	handle     uintptr
	kind       TransferType
	endpoint   uint8
	flags      uint8
	timeout    time.Duration
	buffer     []byte
	isoLengths []int
}

// pollFD is one (file descriptor, readiness interest) entry of the driver's
// internal poll set.
type pollFD struct {
	fd     int
	events PollEvents
}

// pollFDNotifiers receive poll set mutations. Both are invoked from whichever
// thread is executing the driver's event processing call.
type pollFDNotifiers struct {
	added   func(fd int, events PollEvents)
	removed func(fd int)
}

// hotplugTrampoline is invoked by the driver during event processing. The
// return value requests native deregistration.
type hotplugTrampoline func(dev uintptr, event HotplugEvent) bool

// initOptions mirrors the libusb init option array.
type initOptions struct {
	logLevel          *LogLevel
	useUsbDk          bool
	noDeviceDiscovery bool
	logCallback       LogCallbackFunc
}

// IsoPacketDesc reports the configured length and, after completion, the
// actual length and status of one isochronous packet.
type IsoPacketDesc struct {
	Length       int
	ActualLength int
	Status       TransferStatus
}

// The native library is process-wide state: it is initialised at most once,
// explicitly, behind a single lock. Contexts share the loaded driver.
var (
	driverMu     sync.Mutex
	activeDriver driver
)

// loadDriver returns the process-wide driver, initialising the native
// library binding on first use.
func loadDriver() (driver, error) {
	driverMu.Lock()
	defer driverMu.Unlock()
	if activeDriver == nil {
		drv, err := newLibusbDriver()
		if err != nil {
			return nil, err
		}
		activeDriver = drv
	}
	return activeDriver, nil
}
