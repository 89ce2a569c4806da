package usb1

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf16"
)

// fakeDriver is an in-memory driver implementation. It models just enough of
// the native library's behavior to exercise the engine: transfers complete
// only when event processing runs, cancellation queues a cancelled
// completion, and hotplug callbacks deregister natively on a true return.
type fakeDriver struct {
	mu  sync.Mutex
	seq uintptr

	devices []*fakeDevice
	handles map[uintptr]*fakeHandle
	xfers   map[uintptr]*fakeXfer

	// pending holds transfers whose completion is waiting for event
	// processing.
	pending []uintptr

	// onSubmit prepares the completion of a submitted transfer. The default
	// completes it successfully with the full buffer.
	onSubmit func(x *fakeXfer)

	// holdCompletions keeps submitted transfers in flight until they are
	// cancelled or completed explicitly with complete.
	holdCompletions bool

	// submitErr fails the next submission.
	submitErr error

	// interruptsLeft makes that many event processing calls fail with
	// ErrInterrupted before any of them drains completions.
	interruptsLeft int

	// eventErr fails event processing outright.
	eventErr error

	handleEventsCalls int
	zeroTimeoutDrains int

	nextTimeoutD  time.Duration
	nextTimeoutOK bool

	pollfds   []pollFD
	notifiers pollFDNotifiers

	hotplugCBs   map[int32]hotplugTrampoline
	nextHotplug  int32
	deregistered []int32

	controlHandler func(requestType, request uint8, value, index uint16, data []byte) (int, error)
	streamHandler  func(endpoint uint8, data []byte) (int, error)

	locale    string
	globalLog LogCallbackFunc
	ctxLogs   map[uintptr]LogCallbackFunc
	lastInit  initOptions
}

type fakeDevice struct {
	ptr     uintptr
	desc    deviceDescriptor
	configs []*configDescriptor
	bus     uint8
	port    uint8
	addr    uint8
	speed   Speed
	strings map[uint8]string
	refs    int
	descErr error
	openErr error
}

type fakeHandle struct {
	ptr     uintptr
	dev     *fakeDevice
	closed  bool
	claimed map[int]bool
}

type fakeXfer struct {
	ptr      uintptr
	isoSlots int
	cfg      transferConfig
	buf      []byte
	filled   bool

	status     TransferStatus
	actual     int
	isoResults []IsoPacketDesc
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		handles:     map[uintptr]*fakeHandle{},
		xfers:       map[uintptr]*fakeXfer{},
		hotplugCBs:  map[int32]hotplugTrampoline{},
		ctxLogs:     map[uintptr]LogCallbackFunc{},
		nextHotplug: 1,
	}
}

func (f *fakeDriver) nextPtr() uintptr {
	f.seq++
	return f.seq << 4
}

func (f *fakeDriver) addDevice(vendorID, productID uint16, bus, addr uint8) *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &fakeDevice{
		ptr: f.nextPtr(),
		desc: deviceDescriptor{
			bcdUSB:            0x0200,
			maxPacketSize0:    64,
			vendorID:          vendorID,
			productID:         productID,
			numConfigurations: 1,
		},
		configs: []*configDescriptor{{
			configurationValue: 1,
			attributes:         0x80,
			maxPower:           50,
		}},
		bus:     bus,
		addr:    addr,
		speed:   SpeedHigh,
		strings: map[uint8]string{},
	}
	f.devices = append(f.devices, d)
	return d
}

func (f *fakeDriver) deviceByPtr(p uintptr) *fakeDevice {
	for _, d := range f.devices {
		if d.ptr == p {
			return d
		}
	}
	panic(fmt.Sprintf("unknown fake device %#x", p))
}

// openContext is a test convenience wiring a context to this fake.
func (f *fakeDriver) openContext() (*Context, error) {
	return newContextWithDriver(f)
}

func (f *fakeDriver) initContext(opts initOptions) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastInit = opts
	p := f.nextPtr()
	if opts.logCallback != nil {
		f.ctxLogs[p] = opts.logCallback
	}
	return p, nil
}

func (f *fakeDriver) exitContext(ctx uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ctxLogs, ctx)
}

func (f *fakeDriver) getDeviceList(ctx uintptr) ([]uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uintptr, len(f.devices))
	for i, d := range f.devices {
		d.refs++
		out[i] = d.ptr
	}
	return out, nil
}

func (f *fakeDriver) refDevice(dev uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceByPtr(dev).refs++
}

func (f *fakeDriver) unrefDevice(dev uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceByPtr(dev).refs--
}

func (f *fakeDriver) getDeviceDescriptor(dev uintptr) (deviceDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.deviceByPtr(dev)
	if d.descErr != nil {
		return deviceDescriptor{}, d.descErr
	}
	return d.desc, nil
}

func (f *fakeDriver) getConfigDescriptor(dev uintptr, index uint8) (*configDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.deviceByPtr(dev)
	if int(index) >= len(d.configs) {
		return nil, ErrNotFound
	}
	return d.configs[index], nil
}

func (f *fakeDriver) getBusNumber(dev uintptr) uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deviceByPtr(dev).bus
}

func (f *fakeDriver) getPortNumber(dev uintptr) uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deviceByPtr(dev).port
}

func (f *fakeDriver) getPortNumbers(dev uintptr) ([]uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []uint8{f.deviceByPtr(dev).port}, nil
}

func (f *fakeDriver) getDeviceAddress(dev uintptr) uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deviceByPtr(dev).addr
}

func (f *fakeDriver) getDeviceSpeed(dev uintptr) Speed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deviceByPtr(dev).speed
}

func (f *fakeDriver) getMaxPacketSize(dev uintptr, endpoint uint8) (int, error) {
	return 64, nil
}

func (f *fakeDriver) getMaxISOPacketSize(dev uintptr, endpoint uint8) (int, error) {
	return 1024, nil
}

func (f *fakeDriver) openDevice(dev uintptr) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.deviceByPtr(dev)
	if d.openErr != nil {
		return 0, d.openErr
	}
	h := &fakeHandle{ptr: f.nextPtr(), dev: d, claimed: map[int]bool{}}
	f.handles[h.ptr] = h
	return h.ptr, nil
}

func (f *fakeDriver) closeDevice(h uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handles[h].closed = true
}

func (f *fakeDriver) getDevice(h uintptr) uintptr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[h].dev.ptr
}

func (f *fakeDriver) getConfiguration(h uintptr) (int, error) { return 1, nil }

func (f *fakeDriver) setConfiguration(h uintptr, config int) error { return nil }

func (f *fakeDriver) claimInterface(h uintptr, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	hnd := f.handles[h]
	if hnd.claimed[number] {
		return ErrBusy
	}
	hnd.claimed[number] = true
	return nil
}

func (f *fakeDriver) releaseInterface(h uintptr, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	hnd := f.handles[h]
	if !hnd.claimed[number] {
		return ErrNotFound
	}
	delete(hnd.claimed, number)
	return nil
}

func (f *fakeDriver) setInterfaceAltSetting(h uintptr, number, altSetting int) error { return nil }
func (f *fakeDriver) clearHalt(h uintptr, endpoint uint8) error                      { return nil }
func (f *fakeDriver) resetDevice(h uintptr) error                                    { return nil }
func (f *fakeDriver) kernelDriverActive(h uintptr, number int) (bool, error)         { return false, nil }
func (f *fakeDriver) detachKernelDriver(h uintptr, number int) error                 { return nil }
func (f *fakeDriver) attachKernelDriver(h uintptr, number int) error                 { return nil }
func (f *fakeDriver) setAutoDetachKernelDriver(h uintptr, enable bool) error         { return nil }

func (f *fakeDriver) getStringDescriptor(h uintptr, index uint8, langID uint16, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.handles[h].dev.strings[index]
	if !ok {
		return 0, ErrNotFound
	}
	units := utf16.Encode([]rune(s))
	n := 2 + 2*len(units)
	data[0] = byte(n)
	data[1] = descriptorTypeString
	for i, u := range units {
		data[2+2*i] = byte(u)
		data[3+2*i] = byte(u >> 8)
	}
	return n, nil
}

func (f *fakeDriver) getStringDescriptorASCII(h uintptr, index uint8, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.handles[h].dev.strings[index]
	if !ok {
		return 0, ErrNotFound
	}
	return copy(data, s), nil
}

func (f *fakeDriver) controlTransfer(h uintptr, requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	if f.controlHandler != nil {
		return f.controlHandler(requestType, request, value, index, data)
	}
	return len(data), nil
}

func (f *fakeDriver) bulkTransfer(h uintptr, endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	if f.streamHandler != nil {
		return f.streamHandler(endpoint, data)
	}
	return len(data), nil
}

func (f *fakeDriver) interruptTransfer(h uintptr, endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	if f.streamHandler != nil {
		return f.streamHandler(endpoint, data)
	}
	return len(data), nil
}

func (f *fakeDriver) allocTransfer(isoPackets int) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	x := &fakeXfer{ptr: f.nextPtr(), isoSlots: isoPackets}
	f.xfers[x.ptr] = x
	return x.ptr, nil
}

func (f *fakeDriver) freeTransfer(t uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.xfers, t)
}

func (f *fakeDriver) fillTransfer(t uintptr, cfg transferConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	x := f.xfers[t]
	x.cfg = cfg
	x.buf = append([]byte(nil), cfg.buffer...)
	x.filled = true
	return nil
}

// completeOK is the default submission outcome.
func completeOK(x *fakeXfer) {
	x.status = TransferCompleted
	x.actual = len(x.buf)
	if x.cfg.kind == TransferTypeControl {
		x.actual = len(x.buf) - ControlSetupSize
	}
	if x.cfg.kind == TransferTypeIsochronous {
		x.isoResults = nil
		for _, l := range x.cfg.isoLengths {
			x.isoResults = append(x.isoResults, IsoPacketDesc{Length: l, ActualLength: l, Status: TransferCompleted})
		}
	}
}

func (f *fakeDriver) submitTransfer(t uintptr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		err := f.submitErr
		f.submitErr = nil
		return err
	}
	if f.holdCompletions {
		return nil
	}
	x := f.xfers[t]
	onSubmit := f.onSubmit
	if onSubmit == nil {
		onSubmit = completeOK
	}
	onSubmit(x)
	f.pending = append(f.pending, t)
	return nil
}

// complete finishes a held transfer with the given outcome. data, if any,
// replaces the transfer buffer contents (control responses land after the
// setup header).
func (f *fakeDriver) complete(t uintptr, status TransferStatus, actual int, data []byte) {
	f.mu.Lock()
	x := f.xfers[t]
	x.status = status
	x.actual = actual
	offset := 0
	if x.cfg.kind == TransferTypeControl {
		offset = ControlSetupSize
	}
	copy(x.buf[offset:], data)
	f.pending = append(f.pending, t)
	f.mu.Unlock()
}

func (f *fakeDriver) cancelTransfer(t uintptr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pending {
		if p == t {
			// Already going to complete; cancellation loses the race.
			return nil
		}
	}
	x := f.xfers[t]
	x.status = TransferCancelled
	x.actual = 0
	f.pending = append(f.pending, t)
	return nil
}

func (f *fakeDriver) transferStatus(t uintptr) TransferStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.xfers[t].status
}

func (f *fakeDriver) transferActualLength(t uintptr) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.xfers[t].actual
}

func (f *fakeDriver) transferReadBack(t uintptr, buf []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(buf, f.xfers[t].buf)
}

func (f *fakeDriver) isoPacketResults(t uintptr) []IsoPacketDesc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]IsoPacketDesc(nil), f.xfers[t].isoResults...)
}

func (f *fakeDriver) drainCompletions() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, t := range pending {
		transferComplete(t)
	}
}

func (f *fakeDriver) handleEvents(ctx uintptr) error {
	f.mu.Lock()
	f.handleEventsCalls++
	if f.interruptsLeft > 0 {
		f.interruptsLeft--
		f.mu.Unlock()
		return ErrInterrupted
	}
	if f.eventErr != nil {
		err := f.eventErr
		f.mu.Unlock()
		return err
	}
	empty := len(f.pending) == 0
	f.mu.Unlock()
	if empty {
		// A real event loop would block here; a test that gets this far is
		// waiting for a completion that will never come.
		return fmt.Errorf("event processing would block forever: %w", ErrOther)
	}
	f.drainCompletions()
	return nil
}

func (f *fakeDriver) handleEventsTimeout(ctx uintptr, timeout time.Duration) error {
	f.mu.Lock()
	if timeout == 0 {
		f.zeroTimeoutDrains++
	}
	f.mu.Unlock()
	f.drainCompletions()
	return nil
}

func (f *fakeDriver) interruptEventHandler(ctx uintptr) {}

func (f *fakeDriver) nextTimeout(ctx uintptr) (time.Duration, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextTimeoutD, f.nextTimeoutOK, nil
}

func (f *fakeDriver) pollFDs(ctx uintptr) ([]pollFD, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pollFD(nil), f.pollfds...), nil
}

func (f *fakeDriver) setPollFDNotifiers(ctx uintptr, notifiers pollFDNotifiers) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifiers = notifiers
}

// addPollFD simulates the driver growing its poll set mid-run.
func (f *fakeDriver) addPollFD(fd int, events PollEvents) {
	f.mu.Lock()
	f.pollfds = append(f.pollfds, pollFD{fd: fd, events: events})
	notify := f.notifiers.added
	f.mu.Unlock()
	if notify != nil {
		notify(fd, events)
	}
}

func (f *fakeDriver) removePollFD(fd int) {
	f.mu.Lock()
	kept := f.pollfds[:0]
	for _, p := range f.pollfds {
		if p.fd != fd {
			kept = append(kept, p)
		}
	}
	f.pollfds = kept
	notify := f.notifiers.removed
	f.mu.Unlock()
	if notify != nil {
		notify(fd)
	}
}

func (f *fakeDriver) hotplugRegister(ctx uintptr, events HotplugEvent, enumerate bool, vendorID, productID, deviceClass int32, cb hotplugTrampoline) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handle := f.nextHotplug
	f.nextHotplug++
	f.hotplugCBs[handle] = cb
	return handle, nil
}

func (f *fakeDriver) hotplugDeregister(ctx uintptr, handle int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hotplugCBs, handle)
	f.deregistered = append(f.deregistered, handle)
}

// fireHotplug delivers an event to every registered callback, deregistering
// the ones that return true the way the native layer does.
func (f *fakeDriver) fireHotplug(dev uintptr, event HotplugEvent) {
	f.mu.Lock()
	cbs := map[int32]hotplugTrampoline{}
	for handle, cb := range f.hotplugCBs {
		cbs[handle] = cb
	}
	f.mu.Unlock()
	for handle, cb := range cbs {
		if cb(dev, event) {
			f.mu.Lock()
			delete(f.hotplugCBs, handle)
			f.mu.Unlock()
		}
	}
}

func (f *fakeDriver) hasCapability(cap Capability) bool { return true }

func (f *fakeDriver) version() Version {
	return Version{Major: 1, Minor: 0, Micro: 27}
}

func (f *fakeDriver) setLocale(locale string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locale = locale
	return nil
}

func (f *fakeDriver) setLogCallback(ctx uintptr, cb LogCallbackFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb == nil {
		delete(f.ctxLogs, ctx)
		return
	}
	f.ctxLogs[ctx] = cb
}

func (f *fakeDriver) setGlobalLogCallback(cb LogCallbackFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.globalLog = cb
}
