package usb1

// Exported callbacks invoked by libusb. They live apart from the driver
// because a file using //export may not define anything in its preamble.

// #include <libusb.h>
import "C"

import "unsafe"

//export goTransferCallback
func goTransferCallback(xfer *C.struct_libusb_transfer) {
	transferComplete(uintptr(unsafe.Pointer(xfer)))
}

//export goHotplugCallback
func goHotplugCallback(ctx *C.libusb_context, dev *C.libusb_device, event C.libusb_hotplug_event, userData unsafe.Pointer) C.int {
	token := uintptr(userData)
	libusbMu.Lock()
	cb := libusbHotplugCBs[token]
	libusbMu.Unlock()
	if cb == nil {
		// Deregistered concurrently; tell libusb to drop it too.
		return 1
	}
	if !cb(uintptr(unsafe.Pointer(dev)), HotplugEvent(event)) {
		return 0
	}
	// A true return deregisters natively; only the map entries remain.
	libusbMu.Lock()
	delete(libusbHotplugCBs, token)
	for handle, t := range libusbHotplugTokens {
		if t == token {
			delete(libusbHotplugTokens, handle)
			break
		}
	}
	libusbMu.Unlock()
	return 1
}

//export goPollFDAdded
func goPollFDAdded(fd C.int, events C.short, userData unsafe.Pointer) {
	libusbMu.Lock()
	notifiers := libusbNotifiers[uintptr(userData)]
	libusbMu.Unlock()
	if notifiers.added != nil {
		notifiers.added(int(fd), PollEvents(events))
	}
}

//export goPollFDRemoved
func goPollFDRemoved(fd C.int, userData unsafe.Pointer) {
	libusbMu.Lock()
	notifiers := libusbNotifiers[uintptr(userData)]
	libusbMu.Unlock()
	if notifiers.removed != nil {
		notifiers.removed(int(fd))
	}
}

//export goLogCallback
func goLogCallback(ctx *C.libusb_context, level C.enum_libusb_log_level, str *C.char) {
	message := C.GoString(str)
	libusbMu.Lock()
	cb := libusbLogCBs[uintptr(unsafe.Pointer(ctx))]
	if cb == nil {
		cb = libusbGlobalLog
	}
	libusbMu.Unlock()
	if cb != nil {
		cb(LogLevel(level), message)
	}
}
