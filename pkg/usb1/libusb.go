package usb1

// #cgo pkg-config: libusb-1.0
// #include <stdlib.h>
// #include <libusb.h>
//
// extern void goTransferCallback(struct libusb_transfer *xfer);
// extern int goHotplugCallback(libusb_context *ctx, libusb_device *dev, libusb_hotplug_event event, void *user_data);
// extern void goPollFDAdded(int fd, short events, void *user_data);
// extern void goPollFDRemoved(int fd, void *user_data);
// extern void goLogCallback(libusb_context *ctx, enum libusb_log_level level, const char *str);
//
// // libusb_set_option is variadic, which cgo cannot call directly.
// static int usb1_set_option_int(libusb_context *ctx, enum libusb_option option, int value) {
//     return libusb_set_option(ctx, option, value);
// }
// static int usb1_set_option(libusb_context *ctx, enum libusb_option option) {
//     return libusb_set_option(ctx, option);
// }
//
// static void usb1_set_transfer_callback(struct libusb_transfer *xfer) {
//     xfer->callback = goTransferCallback;
// }
//
// // iso_packet_desc is a flexible array member, invisible to cgo.
// static void usb1_set_iso_packet_length(struct libusb_transfer *xfer, int i, unsigned int length) {
//     xfer->iso_packet_desc[i].length = length;
// }
// static struct libusb_iso_packet_descriptor usb1_get_iso_packet_desc(struct libusb_transfer *xfer, int i) {
//     return xfer->iso_packet_desc[i];
// }
//
// static int usb1_hotplug_register(libusb_context *ctx, int events, int flags,
//         int vendor_id, int product_id, int dev_class, void *token,
//         libusb_hotplug_callback_handle *handle) {
//     return libusb_hotplug_register_callback(ctx, events, flags, vendor_id,
//         product_id, dev_class, goHotplugCallback, token, handle);
// }
//
// static void usb1_set_pollfd_notifiers(libusb_context *ctx, int enable) {
//     if (enable) {
//         libusb_set_pollfd_notifiers(ctx, goPollFDAdded, goPollFDRemoved, ctx);
//     } else {
//         libusb_set_pollfd_notifiers(ctx, NULL, NULL, NULL);
//     }
// }
//
// static void usb1_set_log_cb(libusb_context *ctx, int mode, int enable) {
//     libusb_set_log_cb(ctx, enable ? goLogCallback : NULL, mode);
// }
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"
)

// libusbDriver is the production driver, a thin cgo binding over libusb-1.0.
// Every method body is one native call plus the marshalling around it; all
// sequencing and lifetime rules live in the engine above.
type libusbDriver struct{}

func newLibusbDriver() (driver, error) {
	return libusbDriver{}, nil
}

// Package-level state shared with the exported callbacks in
// libusb_export.go, which cannot carry Go pointers through C.
var (
	libusbMu sync.Mutex

	// Native transfer to its C-heap buffer.
	libusbXfers = map[uintptr]*libusbXfer{}

	// Hotplug registration token to Go trampoline, and native handle back
	// to token for deregistration.
	libusbHotplugCBs    = map[uintptr]hotplugTrampoline{}
	libusbHotplugTokens = map[int32]uintptr{}
	libusbNextToken     uintptr = 1

	// Context to its poll set notifiers and log callback.
	libusbNotifiers = map[uintptr]pollFDNotifiers{}
	libusbLogCBs    = map[uintptr]LogCallbackFunc{}
	libusbGlobalLog LogCallbackFunc
)

// libusbXfer holds the C-heap shadow of a transfer's Go buffer. libusb reads
// and writes the C copy; fillTransfer and transferReadBack copy across.
type libusbXfer struct {
	buf    unsafe.Pointer
	buflen int
}

func ctxPtr(p uintptr) *C.libusb_context          { return (*C.libusb_context)(unsafe.Pointer(p)) }
func devPtr(p uintptr) *C.libusb_device           { return (*C.libusb_device)(unsafe.Pointer(p)) }
func handlePtr(p uintptr) *C.libusb_device_handle { return (*C.libusb_device_handle)(unsafe.Pointer(p)) }
func xferPtr(p uintptr) *C.struct_libusb_transfer { return (*C.struct_libusb_transfer)(unsafe.Pointer(p)) }

func timeoutMS(d time.Duration) C.uint {
	return C.uint(d / time.Millisecond)
}

func timeval(d time.Duration) C.struct_timeval {
	return C.struct_timeval{
		tv_sec:  C.long(d / time.Second),
		tv_usec: C.long((d % time.Second) / time.Microsecond),
	}
}

func (libusbDriver) initContext(opts initOptions) (uintptr, error) {
	if opts.noDeviceDiscovery {
		// Must be set before the session exists.
		C.usb1_set_option(nil, C.LIBUSB_OPTION_NO_DEVICE_DISCOVERY)
	}
	var ctx *C.libusb_context
	if err := fromCode(int(C.libusb_init(&ctx))); err != nil {
		return 0, err
	}
	if opts.logLevel != nil {
		if err := fromCode(int(C.usb1_set_option_int(ctx, C.LIBUSB_OPTION_LOG_LEVEL, C.int(*opts.logLevel)))); err != nil {
			C.libusb_exit(ctx)
			return 0, fmt.Errorf("setting log level: %w", err)
		}
	}
	if opts.useUsbDk {
		if err := fromCode(int(C.usb1_set_option(ctx, C.LIBUSB_OPTION_USE_USBDK))); err != nil {
			C.libusb_exit(ctx)
			return 0, fmt.Errorf("selecting UsbDk backend: %w", err)
		}
	}
	p := uintptr(unsafe.Pointer(ctx))
	if opts.logCallback != nil {
		libusbMu.Lock()
		libusbLogCBs[p] = opts.logCallback
		libusbMu.Unlock()
		C.usb1_set_log_cb(ctx, C.LIBUSB_LOG_CB_CONTEXT, 1)
	}
	return p, nil
}

func (libusbDriver) exitContext(ctx uintptr) {
	C.libusb_exit(ctxPtr(ctx))
	libusbMu.Lock()
	delete(libusbLogCBs, ctx)
	delete(libusbNotifiers, ctx)
	libusbMu.Unlock()
}

func (libusbDriver) getDeviceList(ctx uintptr) ([]uintptr, error) {
	var list **C.libusb_device
	n := C.libusb_get_device_list(ctxPtr(ctx), &list)
	if n < 0 {
		return nil, fromCode(int(n))
	}
	devs := unsafe.Slice(list, int(n))
	out := make([]uintptr, int(n))
	for i, dev := range devs {
		out[i] = uintptr(unsafe.Pointer(dev))
	}
	// Keep the references; the caller owns one per device now.
	C.libusb_free_device_list(list, 0)
	return out, nil
}

func (libusbDriver) refDevice(dev uintptr)   { C.libusb_ref_device(devPtr(dev)) }
func (libusbDriver) unrefDevice(dev uintptr) { C.libusb_unref_device(devPtr(dev)) }

func (libusbDriver) getDeviceDescriptor(dev uintptr) (deviceDescriptor, error) {
	var desc C.struct_libusb_device_descriptor
	if err := fromCode(int(C.libusb_get_device_descriptor(devPtr(dev), &desc))); err != nil {
		return deviceDescriptor{}, err
	}
	return deviceDescriptor{
		bcdUSB:            uint16(desc.bcdUSB),
		deviceClass:       uint8(desc.bDeviceClass),
		deviceSubClass:    uint8(desc.bDeviceSubClass),
		deviceProtocol:    uint8(desc.bDeviceProtocol),
		maxPacketSize0:    uint8(desc.bMaxPacketSize0),
		vendorID:          uint16(desc.idVendor),
		productID:         uint16(desc.idProduct),
		bcdDevice:         uint16(desc.bcdDevice),
		manufacturerIndex: uint8(desc.iManufacturer),
		productIndex:      uint8(desc.iProduct),
		serialNumberIndex: uint8(desc.iSerialNumber),
		numConfigurations: uint8(desc.bNumConfigurations),
	}, nil
}

func extraBytes(extra *C.uchar, length C.int) []byte {
	if extra == nil || length <= 0 {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(extra), length)
}

func (libusbDriver) getConfigDescriptor(dev uintptr, index uint8) (*configDescriptor, error) {
	var raw *C.struct_libusb_config_descriptor
	if err := fromCode(int(C.libusb_get_config_descriptor(devPtr(dev), C.uint8_t(index), &raw))); err != nil {
		return nil, err
	}
	defer C.libusb_free_config_descriptor(raw)

	config := &configDescriptor{
		configurationValue: uint8(raw.bConfigurationValue),
		descriptorIndex:    uint8(raw.iConfiguration),
		attributes:         uint8(raw.bmAttributes),
		maxPower:           uint8(raw.MaxPower),
		extra:              extraBytes(raw.extra, raw.extra_length),
	}
	for _, iface := range unsafe.Slice(raw._interface, int(raw.bNumInterfaces)) {
		var out interfaceDescriptor
		for _, alt := range unsafe.Slice(iface.altsetting, int(iface.num_altsetting)) {
			setting := altSettingDescriptor{
				number:           uint8(alt.bInterfaceNumber),
				alternateSetting: uint8(alt.bAlternateSetting),
				class:            uint8(alt.bInterfaceClass),
				subClass:         uint8(alt.bInterfaceSubClass),
				protocol:         uint8(alt.bInterfaceProtocol),
				descriptorIndex:  uint8(alt.iInterface),
				extra:            extraBytes(alt.extra, alt.extra_length),
			}
			for _, ep := range unsafe.Slice(alt.endpoint, int(alt.bNumEndpoints)) {
				setting.endpoints = append(setting.endpoints, endpointDescriptor{
					address:       uint8(ep.bEndpointAddress),
					attributes:    uint8(ep.bmAttributes),
					maxPacketSize: uint16(ep.wMaxPacketSize),
					interval:      uint8(ep.bInterval),
					refresh:       uint8(ep.bRefresh),
					synchAddress:  uint8(ep.bSynchAddress),
					extra:         extraBytes(ep.extra, ep.extra_length),
				})
			}
			out.altSettings = append(out.altSettings, setting)
		}
		config.interfaces = append(config.interfaces, out)
	}
	return config, nil
}

func (libusbDriver) getBusNumber(dev uintptr) uint8 {
	return uint8(C.libusb_get_bus_number(devPtr(dev)))
}

func (libusbDriver) getPortNumber(dev uintptr) uint8 {
	return uint8(C.libusb_get_port_number(devPtr(dev)))
}

func (libusbDriver) getPortNumbers(dev uintptr) ([]uint8, error) {
	var ports [pathMaxDepth]C.uint8_t
	n := C.libusb_get_port_numbers(devPtr(dev), &ports[0], pathMaxDepth)
	if n < 0 {
		return nil, fromCode(int(n))
	}
	out := make([]uint8, int(n))
	for i := range out {
		out[i] = uint8(ports[i])
	}
	return out, nil
}

func (libusbDriver) getDeviceAddress(dev uintptr) uint8 {
	return uint8(C.libusb_get_device_address(devPtr(dev)))
}

func (libusbDriver) getDeviceSpeed(dev uintptr) Speed {
	return Speed(C.libusb_get_device_speed(devPtr(dev)))
}

func (libusbDriver) getMaxPacketSize(dev uintptr, endpoint uint8) (int, error) {
	rc := int(C.libusb_get_max_packet_size(devPtr(dev), C.uchar(endpoint)))
	if err := fromCode(rc); err != nil {
		return 0, err
	}
	return rc, nil
}

func (libusbDriver) getMaxISOPacketSize(dev uintptr, endpoint uint8) (int, error) {
	rc := int(C.libusb_get_max_iso_packet_size(devPtr(dev), C.uchar(endpoint)))
	if err := fromCode(rc); err != nil {
		return 0, err
	}
	return rc, nil
}

func (libusbDriver) openDevice(dev uintptr) (uintptr, error) {
	var h *C.libusb_device_handle
	if err := fromCode(int(C.libusb_open(devPtr(dev), &h))); err != nil {
		return 0, err
	}
	return uintptr(unsafe.Pointer(h)), nil
}

func (libusbDriver) closeDevice(h uintptr) {
	C.libusb_close(handlePtr(h))
}

func (libusbDriver) getDevice(h uintptr) uintptr {
	return uintptr(unsafe.Pointer(C.libusb_get_device(handlePtr(h))))
}

func (libusbDriver) getConfiguration(h uintptr) (int, error) {
	var config C.int
	if err := fromCode(int(C.libusb_get_configuration(handlePtr(h), &config))); err != nil {
		return 0, err
	}
	return int(config), nil
}

func (libusbDriver) setConfiguration(h uintptr, config int) error {
	return fromCode(int(C.libusb_set_configuration(handlePtr(h), C.int(config))))
}

func (libusbDriver) claimInterface(h uintptr, number int) error {
	return fromCode(int(C.libusb_claim_interface(handlePtr(h), C.int(number))))
}

func (libusbDriver) releaseInterface(h uintptr, number int) error {
	return fromCode(int(C.libusb_release_interface(handlePtr(h), C.int(number))))
}

func (libusbDriver) setInterfaceAltSetting(h uintptr, number, altSetting int) error {
	return fromCode(int(C.libusb_set_interface_alt_setting(handlePtr(h), C.int(number), C.int(altSetting))))
}

func (libusbDriver) clearHalt(h uintptr, endpoint uint8) error {
	return fromCode(int(C.libusb_clear_halt(handlePtr(h), C.uchar(endpoint))))
}

func (libusbDriver) resetDevice(h uintptr) error {
	return fromCode(int(C.libusb_reset_device(handlePtr(h))))
}

func (libusbDriver) kernelDriverActive(h uintptr, number int) (bool, error) {
	rc := int(C.libusb_kernel_driver_active(handlePtr(h), C.int(number)))
	if err := fromCode(rc); err != nil {
		return false, err
	}
	return rc != 0, nil
}

func (libusbDriver) detachKernelDriver(h uintptr, number int) error {
	return fromCode(int(C.libusb_detach_kernel_driver(handlePtr(h), C.int(number))))
}

func (libusbDriver) attachKernelDriver(h uintptr, number int) error {
	return fromCode(int(C.libusb_attach_kernel_driver(handlePtr(h), C.int(number))))
}

func (libusbDriver) setAutoDetachKernelDriver(h uintptr, enable bool) error {
	v := C.int(0)
	if enable {
		v = 1
	}
	return fromCode(int(C.libusb_set_auto_detach_kernel_driver(handlePtr(h), v)))
}

func (libusbDriver) getStringDescriptor(h uintptr, index uint8, langID uint16, data []byte) (int, error) {
	rc := int(C.libusb_get_string_descriptor(handlePtr(h), C.uint8_t(index), C.uint16_t(langID),
		(*C.uchar)(unsafe.Pointer(&data[0])), C.int(len(data))))
	if err := fromCode(rc); err != nil {
		return 0, err
	}
	return rc, nil
}

func (libusbDriver) getStringDescriptorASCII(h uintptr, index uint8, data []byte) (int, error) {
	rc := int(C.libusb_get_string_descriptor_ascii(handlePtr(h), C.uint8_t(index),
		(*C.uchar)(unsafe.Pointer(&data[0])), C.int(len(data))))
	if err := fromCode(rc); err != nil {
		return 0, err
	}
	return rc, nil
}

func (libusbDriver) controlTransfer(h uintptr, requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	var buf *C.uchar
	if len(data) > 0 {
		buf = (*C.uchar)(unsafe.Pointer(&data[0]))
	}
	rc := int(C.libusb_control_transfer(handlePtr(h), C.uint8_t(requestType), C.uint8_t(request),
		C.uint16_t(value), C.uint16_t(index), buf, C.uint16_t(len(data)), timeoutMS(timeout)))
	if err := fromCode(rc); err != nil {
		return 0, err
	}
	return rc, nil
}

func (libusbDriver) bulkTransfer(h uintptr, endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	return syncTransfer(data, func(buf *C.uchar, transferred *C.int) C.int {
		return C.libusb_bulk_transfer(handlePtr(h), C.uchar(endpoint), buf, C.int(len(data)), transferred, timeoutMS(timeout))
	})
}

func (libusbDriver) interruptTransfer(h uintptr, endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	return syncTransfer(data, func(buf *C.uchar, transferred *C.int) C.int {
		return C.libusb_interrupt_transfer(handlePtr(h), C.uchar(endpoint), buf, C.int(len(data)), transferred, timeoutMS(timeout))
	})
}

// syncTransfer reports the partial transfer count alongside the error, which
// matters for timeouts.
func syncTransfer(data []byte, call func(buf *C.uchar, transferred *C.int) C.int) (int, error) {
	var buf *C.uchar
	if len(data) > 0 {
		buf = (*C.uchar)(unsafe.Pointer(&data[0]))
	}
	var transferred C.int
	err := fromCode(int(call(buf, &transferred)))
	return int(transferred), err
}

func (libusbDriver) allocTransfer(isoPackets int) (uintptr, error) {
	xfer := C.libusb_alloc_transfer(C.int(isoPackets))
	if xfer == nil {
		return 0, ErrNoMem
	}
	p := uintptr(unsafe.Pointer(xfer))
	libusbMu.Lock()
	libusbXfers[p] = &libusbXfer{}
	libusbMu.Unlock()
	return p, nil
}

func (libusbDriver) freeTransfer(t uintptr) {
	libusbMu.Lock()
	shadow := libusbXfers[t]
	delete(libusbXfers, t)
	libusbMu.Unlock()
	if shadow != nil && shadow.buf != nil {
		C.free(shadow.buf)
	}
	C.libusb_free_transfer(xferPtr(t))
}

func (libusbDriver) fillTransfer(t uintptr, cfg transferConfig) error {
	libusbMu.Lock()
	shadow := libusbXfers[t]
	libusbMu.Unlock()
	if shadow == nil {
		return ErrNotFound
	}
	if shadow.buflen != len(cfg.buffer) {
		if shadow.buf != nil {
			C.free(shadow.buf)
			shadow.buf = nil
		}
		shadow.buflen = len(cfg.buffer)
		if shadow.buflen > 0 {
			shadow.buf = C.malloc(C.size_t(shadow.buflen))
			if shadow.buf == nil {
				shadow.buflen = 0
				return ErrNoMem
			}
		}
	}
	if shadow.buflen > 0 {
		copy(unsafe.Slice((*byte)(shadow.buf), shadow.buflen), cfg.buffer)
	}

	xfer := xferPtr(t)
	xfer.dev_handle = handlePtr(cfg.handle)
	xfer.flags = C.uint8_t(cfg.flags)
	xfer.endpoint = C.uchar(cfg.endpoint)
	xfer._type = C.uchar(cfg.kind)
	xfer.timeout = timeoutMS(cfg.timeout)
	xfer.buffer = (*C.uchar)(shadow.buf)
	xfer.length = C.int(shadow.buflen)
	xfer.num_iso_packets = C.int(len(cfg.isoLengths))
	for i, l := range cfg.isoLengths {
		C.usb1_set_iso_packet_length(xfer, C.int(i), C.uint(l))
	}
	C.usb1_set_transfer_callback(xfer)
	return nil
}

func (libusbDriver) submitTransfer(t uintptr) error {
	return fromCode(int(C.libusb_submit_transfer(xferPtr(t))))
}

func (libusbDriver) cancelTransfer(t uintptr) error {
	return fromCode(int(C.libusb_cancel_transfer(xferPtr(t))))
}

func (libusbDriver) transferStatus(t uintptr) TransferStatus {
	return TransferStatus(xferPtr(t).status)
}

func (libusbDriver) transferActualLength(t uintptr) int {
	return int(xferPtr(t).actual_length)
}

func (libusbDriver) transferReadBack(t uintptr, buf []byte) {
	libusbMu.Lock()
	shadow := libusbXfers[t]
	libusbMu.Unlock()
	if shadow == nil || shadow.buf == nil {
		return
	}
	n := shadow.buflen
	if len(buf) < n {
		n = len(buf)
	}
	copy(buf, unsafe.Slice((*byte)(shadow.buf), n))
}

func (libusbDriver) isoPacketResults(t uintptr) []IsoPacketDesc {
	xfer := xferPtr(t)
	out := make([]IsoPacketDesc, int(xfer.num_iso_packets))
	for i := range out {
		desc := C.usb1_get_iso_packet_desc(xfer, C.int(i))
		out[i] = IsoPacketDesc{
			Length:       int(desc.length),
			ActualLength: int(desc.actual_length),
			Status:       TransferStatus(desc.status),
		}
	}
	return out
}

func (libusbDriver) handleEvents(ctx uintptr) error {
	return fromCode(int(C.libusb_handle_events(ctxPtr(ctx))))
}

func (libusbDriver) handleEventsTimeout(ctx uintptr, timeout time.Duration) error {
	tv := timeval(timeout)
	return fromCode(int(C.libusb_handle_events_timeout_completed(ctxPtr(ctx), &tv, nil)))
}

func (libusbDriver) interruptEventHandler(ctx uintptr) {
	C.libusb_interrupt_event_handler(ctxPtr(ctx))
}

func (libusbDriver) nextTimeout(ctx uintptr) (time.Duration, bool, error) {
	var tv C.struct_timeval
	rc := int(C.libusb_get_next_timeout(ctxPtr(ctx), &tv))
	if err := fromCode(rc); err != nil {
		return 0, false, err
	}
	if rc == 0 {
		return 0, false, nil
	}
	return time.Duration(tv.tv_sec)*time.Second + time.Duration(tv.tv_usec)*time.Microsecond, true, nil
}

func (libusbDriver) pollFDs(ctx uintptr) ([]pollFD, error) {
	list := C.libusb_get_pollfds(ctxPtr(ctx))
	if list == nil {
		return nil, ErrOther
	}
	defer C.libusb_free_pollfds(list)
	var out []pollFD
	for i := 0; ; i++ {
		entry := *(**C.struct_libusb_pollfd)(unsafe.Pointer(uintptr(unsafe.Pointer(list)) + uintptr(i)*unsafe.Sizeof(list)))
		if entry == nil {
			break
		}
		out = append(out, pollFD{fd: int(entry.fd), events: PollEvents(entry.events)})
	}
	return out, nil
}

func (libusbDriver) setPollFDNotifiers(ctx uintptr, notifiers pollFDNotifiers) {
	enable := notifiers.added != nil || notifiers.removed != nil
	libusbMu.Lock()
	if enable {
		libusbNotifiers[ctx] = notifiers
	} else {
		delete(libusbNotifiers, ctx)
	}
	libusbMu.Unlock()
	v := C.int(0)
	if enable {
		v = 1
	}
	C.usb1_set_pollfd_notifiers(ctxPtr(ctx), v)
}

func (libusbDriver) hotplugRegister(ctx uintptr, events HotplugEvent, enumerate bool, vendorID, productID, deviceClass int32, cb hotplugTrampoline) (int32, error) {
	libusbMu.Lock()
	token := libusbNextToken
	libusbNextToken++
	libusbHotplugCBs[token] = cb
	libusbMu.Unlock()

	var flags C.int
	if enumerate {
		flags = C.LIBUSB_HOTPLUG_ENUMERATE
	}
	var handle C.libusb_hotplug_callback_handle
	rc := C.usb1_hotplug_register(ctxPtr(ctx), C.int(events), flags,
		C.int(vendorID), C.int(productID), C.int(deviceClass),
		unsafe.Pointer(token), &handle)
	if err := fromCode(int(rc)); err != nil {
		libusbMu.Lock()
		delete(libusbHotplugCBs, token)
		libusbMu.Unlock()
		return 0, err
	}
	libusbMu.Lock()
	libusbHotplugTokens[int32(handle)] = token
	libusbMu.Unlock()
	return int32(handle), nil
}

func (libusbDriver) hotplugDeregister(ctx uintptr, handle int32) {
	C.libusb_hotplug_deregister_callback(ctxPtr(ctx), C.libusb_hotplug_callback_handle(handle))
	libusbMu.Lock()
	if token, ok := libusbHotplugTokens[handle]; ok {
		delete(libusbHotplugTokens, handle)
		delete(libusbHotplugCBs, token)
	}
	libusbMu.Unlock()
}

func (libusbDriver) hasCapability(cap Capability) bool {
	return C.libusb_has_capability(C.uint32_t(cap)) != 0
}

func (libusbDriver) version() Version {
	v := C.libusb_get_version()
	return Version{
		Major:    uint16(v.major),
		Minor:    uint16(v.minor),
		Micro:    uint16(v.micro),
		Nano:     uint16(v.nano),
		RC:       C.GoString(v.rc),
		Describe: C.GoString(v.describe),
	}
}

func (libusbDriver) setLocale(locale string) error {
	clocale := C.CString(locale)
	defer C.free(unsafe.Pointer(clocale))
	return fromCode(int(C.libusb_setlocale(clocale)))
}

func (libusbDriver) setLogCallback(ctx uintptr, cb LogCallbackFunc) {
	libusbMu.Lock()
	if cb != nil {
		libusbLogCBs[ctx] = cb
	} else {
		delete(libusbLogCBs, ctx)
	}
	libusbMu.Unlock()
	v := C.int(0)
	if cb != nil {
		v = 1
	}
	C.usb1_set_log_cb(ctxPtr(ctx), C.LIBUSB_LOG_CB_CONTEXT, v)
}

func (libusbDriver) setGlobalLogCallback(cb LogCallbackFunc) {
	libusbMu.Lock()
	libusbGlobalLog = cb
	libusbMu.Unlock()
	v := C.int(0)
	if cb != nil {
		v = 1
	}
	C.usb1_set_log_cb(nil, C.LIBUSB_LOG_CB_GLOBAL, v)
}
