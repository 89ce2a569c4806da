package usb1

// deviceDescriptor is a Go-owned copy of a native device descriptor.
type deviceDescriptor struct {
	bcdUSB            uint16
	deviceClass       uint8
	deviceSubClass    uint8
	deviceProtocol    uint8
	maxPacketSize0    uint8
	vendorID          uint16
	productID         uint16
	bcdDevice         uint16
	manufacturerIndex uint8
	productIndex      uint8
	serialNumberIndex uint8
	numConfigurations uint8
}

// configDescriptor is a Go-owned copy of a native configuration descriptor
// tree. The native descriptor is freed as soon as the copy is made, so no
// lifetime coupling to the driver remains.
type configDescriptor struct {
	configurationValue uint8
	descriptorIndex    uint8
	attributes         uint8
	maxPower           uint8
	extra              []byte
	interfaces         []interfaceDescriptor
}

type interfaceDescriptor struct {
	altSettings []altSettingDescriptor
}

type altSettingDescriptor struct {
	number          uint8
	alternateSetting uint8
	class           uint8
	subClass        uint8
	protocol        uint8
	descriptorIndex uint8
	extra           []byte
	endpoints       []endpointDescriptor
}

type endpointDescriptor struct {
	address       uint8
	attributes    uint8
	maxPacketSize uint16
	interval      uint8
	refresh       uint8
	synchAddress  uint8
	extra         []byte
}

// Configuration is a read-only view over one cached configuration descriptor
// of a Device.
type Configuration struct {
	config *configDescriptor
	speed  Speed
}

// NumInterfaces returns the number of interfaces in this configuration.
func (c Configuration) NumInterfaces() int {
	return len(c.config.interfaces)
}

// ConfigurationValue returns the value used with SetConfiguration to select
// this configuration.
func (c Configuration) ConfigurationValue() int {
	return int(c.config.configurationValue)
}

// DescriptorIndex returns the string descriptor index describing this
// configuration, or 0 if there is none.
func (c Configuration) DescriptorIndex() uint8 {
	return c.config.descriptorIndex
}

// Attributes returns the bmAttributes field.
func (c Configuration) Attributes() uint8 {
	return c.config.attributes
}

// MaxPower returns the configuration's maximum power draw in mA. The
// descriptor encodes units of 2 mA, or 8 mA for super-speed devices.
func (c Configuration) MaxPower() int {
	unit := 2
	if c.speed == SpeedSuper || c.speed == SpeedSuperPlus {
		unit = 8
	}
	return int(c.config.maxPower) * unit
}

// Extra returns class-specific descriptors (DFU, HID, ...) attached to this
// configuration.
func (c Configuration) Extra() []byte {
	return c.config.extra
}

// Interfaces returns the interfaces of this configuration.
func (c Configuration) Interfaces() []Interface {
	out := make([]Interface, len(c.config.interfaces))
	for i := range c.config.interfaces {
		out[i] = Interface{iface: &c.config.interfaces[i]}
	}
	return out
}

// Interface is a read-only view over one interface of a Configuration.
type Interface struct {
	iface *interfaceDescriptor
}

// NumSettings returns the number of alternate settings of this interface.
func (i Interface) NumSettings() int {
	return len(i.iface.altSettings)
}

// Settings returns the alternate settings of this interface.
func (i Interface) Settings() []InterfaceSetting {
	out := make([]InterfaceSetting, len(i.iface.altSettings))
	for j := range i.iface.altSettings {
		out[j] = InterfaceSetting{setting: &i.iface.altSettings[j]}
	}
	return out
}

// InterfaceSetting is a read-only view over one alternate setting.
type InterfaceSetting struct {
	setting *altSettingDescriptor
}

// Number returns the interface number.
func (s InterfaceSetting) Number() int {
	return int(s.setting.number)
}

// AlternateSetting returns the alternate setting value.
func (s InterfaceSetting) AlternateSetting() int {
	return int(s.setting.alternateSetting)
}

// Class returns the interface class id.
func (s InterfaceSetting) Class() uint8 {
	return s.setting.class
}

// SubClass returns the interface subclass id.
func (s InterfaceSetting) SubClass() uint8 {
	return s.setting.subClass
}

// Protocol returns the interface protocol id.
func (s InterfaceSetting) Protocol() uint8 {
	return s.setting.protocol
}

// DescriptorIndex returns the string descriptor index describing this
// interface, or 0 if there is none.
func (s InterfaceSetting) DescriptorIndex() uint8 {
	return s.setting.descriptorIndex
}

// Extra returns class-specific descriptors attached to this setting.
func (s InterfaceSetting) Extra() []byte {
	return s.setting.extra
}

// Endpoints returns the endpoints of this setting.
func (s InterfaceSetting) Endpoints() []Endpoint {
	out := make([]Endpoint, len(s.setting.endpoints))
	for i := range s.setting.endpoints {
		out[i] = Endpoint{endpoint: &s.setting.endpoints[i]}
	}
	return out
}

// Endpoint is a read-only view over one endpoint descriptor.
type Endpoint struct {
	endpoint *endpointDescriptor
}

// Address returns the endpoint address, including the direction bit.
func (e Endpoint) Address() uint8 {
	return e.endpoint.address
}

// TransferType returns the transfer type encoded in the endpoint attributes.
func (e Endpoint) TransferType() TransferType {
	return TransferType(e.endpoint.attributes & 0x3)
}

// Attributes returns the bmAttributes field.
func (e Endpoint) Attributes() uint8 {
	return e.endpoint.attributes
}

// MaxPacketSize returns the endpoint's maximum packet size.
func (e Endpoint) MaxPacketSize() int {
	return int(e.endpoint.maxPacketSize)
}

// Interval returns the polling interval field.
func (e Endpoint) Interval() uint8 {
	return e.endpoint.interval
}

// Refresh returns the bRefresh field (audio endpoints).
func (e Endpoint) Refresh() uint8 {
	return e.endpoint.refresh
}

// SyncAddress returns the bSynchAddress field (audio endpoints).
func (e Endpoint) SyncAddress() uint8 {
	return e.endpoint.synchAddress
}

// Extra returns class-specific descriptors attached to this endpoint.
func (e Endpoint) Extra() []byte {
	return e.endpoint.extra
}
