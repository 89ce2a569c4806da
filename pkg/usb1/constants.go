package usb1

// TransferType identifies the kind of USB transfer carried by a Transfer.
type TransferType uint8

const (
	TransferTypeControl     TransferType = 0
	TransferTypeIsochronous TransferType = 1
	TransferTypeBulk        TransferType = 2
	TransferTypeInterrupt   TransferType = 3
)

func (t TransferType) String() string {
	switch t {
	case TransferTypeControl:
		return "control"
	case TransferTypeIsochronous:
		return "isochronous"
	case TransferTypeBulk:
		return "bulk"
	case TransferTypeInterrupt:
		return "interrupt"
	}
	return "unknown"
}

// TransferStatus is the terminal status of a completed asynchronous transfer,
// as reported by libusb. Driver-side failures of asynchronous transfers are
// delivered exclusively through this value, never as a Go error.
type TransferStatus int

const (
	TransferCompleted TransferStatus = 0
	TransferError     TransferStatus = 1
	TransferTimedOut  TransferStatus = 2
	TransferCancelled TransferStatus = 3
	TransferStall     TransferStatus = 4
	TransferNoDevice  TransferStatus = 5
	TransferOverflow  TransferStatus = 6
)

func (s TransferStatus) String() string {
	switch s {
	case TransferCompleted:
		return "completed"
	case TransferError:
		return "error"
	case TransferTimedOut:
		return "timed out"
	case TransferCancelled:
		return "cancelled"
	case TransferStall:
		return "stall"
	case TransferNoDevice:
		return "no device"
	case TransferOverflow:
		return "overflow"
	}
	return "unknown"
}

// Endpoint address direction bits.
const (
	EndpointOut     uint8 = 0x00
	EndpointIn      uint8 = 0x80
	EndpointDirMask uint8 = 0x80
)

// bmRequestType type and recipient bits for control transfers.
const (
	RequestTypeStandard uint8 = 0x00 << 5
	RequestTypeClass    uint8 = 0x01 << 5
	RequestTypeVendor   uint8 = 0x02 << 5
	RequestTypeReserved uint8 = 0x03 << 5

	RecipientDevice    uint8 = 0x00
	RecipientInterface uint8 = 0x01
	RecipientEndpoint  uint8 = 0x02
	RecipientOther     uint8 = 0x03
)

// ControlSetupSize is the size of the setup header prefixed to every control
// transfer buffer.
const ControlSetupSize = 8

// Native transfer flags.
const (
	transferFlagShortNotOK    uint8 = 1 << 0
	transferFlagAddZeroPacket uint8 = 1 << 3
)

// Speed describes the speed a device negotiated with the host controller.
type Speed int

const (
	SpeedUnknown   Speed = 0
	SpeedLow       Speed = 1
	SpeedFull      Speed = 2
	SpeedHigh      Speed = 3
	SpeedSuper     Speed = 4
	SpeedSuperPlus Speed = 5
)

func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "1.5 Mbit/s"
	case SpeedFull:
		return "12 Mbit/s"
	case SpeedHigh:
		return "480 Mbit/s"
	case SpeedSuper:
		return "5 Gbit/s"
	case SpeedSuperPlus:
		return "10 Gbit/s"
	}
	return "unknown"
}

// Capability is a libusb runtime capability, queried with HasCapability.
type Capability uint32

const (
	CapHasCapability             Capability = 0x0000
	CapHasHotplug                Capability = 0x0001
	CapHasHIDAccess              Capability = 0x0100
	CapSupportsDetachKernelDriver Capability = 0x0101
)

// LogLevel selects how much libusb logs, either globally or per context.
type LogLevel int

const (
	LogLevelNone    LogLevel = 0
	LogLevelError   LogLevel = 1
	LogLevelWarning LogLevel = 2
	LogLevelInfo    LogLevel = 3
	LogLevelDebug   LogLevel = 4
)

// LogCallbackFunc receives log messages emitted by libusb.
type LogCallbackFunc func(level LogLevel, message string)

// PollEvents is a poll(2)-style readiness mask for a driver file descriptor.
type PollEvents uint16

const (
	PollIn  PollEvents = 0x01
	PollOut PollEvents = 0x04
	PollErr PollEvents = 0x08
	PollHup PollEvents = 0x10
)

// HotplugEvent identifies a device arrival or departure.
type HotplugEvent uint8

const (
	HotplugEventDeviceArrived HotplugEvent = 1 << 0
	HotplugEventDeviceLeft    HotplugEvent = 1 << 1
)

func (e HotplugEvent) String() string {
	switch e {
	case HotplugEventDeviceArrived:
		return "arrived"
	case HotplugEventDeviceLeft:
		return "left"
	}
	return "unknown"
}

// hotplugMatchAny makes a hotplug filter match any vendor/product/class.
const hotplugMatchAny int32 = -1

const (
	// descriptorTypeString is the bDescriptorType of a string descriptor.
	descriptorTypeString = 3

	// stringDescriptorLength is the buffer size used for string descriptor
	// reads. Some devices choke on larger requests.
	stringDescriptorLength = 255

	// pathMaxDepth is the deepest hub chain allowed by the USB 3 spec.
	pathMaxDepth = 7
)
