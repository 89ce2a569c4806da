package usb1

import (
	"encoding/binary"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/golang/glog"
)

// TransferCallback is invoked from the event-processing thread when an
// asynchronous transfer reaches a terminal status. The callback may
// reconfigure and resubmit the transfer, but must not drive event processing
// itself.
type TransferCallback func(*Transfer)

// submittedTransfers maps native transfer identity to the owning Transfer for
// every transfer currently submitted. It is the process-wide strong-reference
// table that keeps a Transfer (and its buffers) reachable while the native
// layer still holds a pointer to it: entries exist exactly while a transfer
// is in flight.
var submittedTransfers = struct {
	sync.Mutex
	m map[uintptr]*Transfer
}{m: make(map[uintptr]*Transfer)}

func submittedAdd(native uintptr, t *Transfer) {
	submittedTransfers.Lock()
	defer submittedTransfers.Unlock()
	submittedTransfers.m[native] = t
}

func submittedRemove(native uintptr) {
	submittedTransfers.Lock()
	defer submittedTransfers.Unlock()
	delete(submittedTransfers.m, native)
}

func submittedPop(native uintptr) *Transfer {
	submittedTransfers.Lock()
	defer submittedTransfers.Unlock()
	t := submittedTransfers.m[native]
	delete(submittedTransfers.m, native)
	return t
}

func isSubmitted(native uintptr) bool {
	submittedTransfers.Lock()
	defer submittedTransfers.Unlock()
	_, ok := submittedTransfers.m[native]
	return ok
}

// Transfer owns one native transfer descriptor and its data buffer, and
// drives it through a configure/submit/complete cycle. Get instances from
// DeviceHandle.GetTransfer.
//
// Configuration methods and Submit fail on a submitted transfer. Read
// accessors may be called while submitted, but their values are unspecified
// until the completion callback has run.
type Transfer struct {
	handle     *DeviceHandle
	drv        driver
	native     uintptr
	isoPackets int

	mu            sync.Mutex
	kind          TransferType
	endpoint      uint8
	timeout       time.Duration
	buf           []byte // full native buffer, including control setup
	view          []byte // caller-visible slice of buf
	isoLengths    []int
	callback      TransferCallback
	userData      any
	shortIsError  bool
	addZeroPacket bool
	initialized   bool
	doomed        bool
	closed        bool

	status       TransferStatus
	actualLength int
}

func newTransfer(h *DeviceHandle, isoPackets int, shortIsError, addZeroPacket bool) (*Transfer, error) {
	if isoPackets < 0 {
		return nil, fmt.Errorf("negative isochronous packet count: %w", ErrInvalidParam)
	}
	native, err := h.ctx.drv.allocTransfer(isoPackets)
	if err != nil {
		return nil, fmt.Errorf("allocating transfer: %w", err)
	}
	return &Transfer{
		handle:        h,
		drv:           h.ctx.drv,
		native:        native,
		isoPackets:    isoPackets,
		shortIsError:  shortIsError,
		addZeroPacket: addZeroPacket,
	}, nil
}

// fillControlSetup encodes the 8-byte control setup header at the start of
// buf. All multi-byte fields are little-endian.
func fillControlSetup(buf []byte, requestType, request uint8, value, index uint16, length int) {
	buf[0] = requestType
	buf[1] = request
	binary.LittleEndian.PutUint16(buf[2:4], value)
	binary.LittleEndian.PutUint16(buf[4:6], index)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(length))
}

// checkAlterable must be called with t.mu held.
func (t *Transfer) checkAlterable() error {
	if t.closed {
		return ErrTransferClosed
	}
	if isSubmitted(t.native) {
		return fmt.Errorf("cannot alter transfer: %w", ErrTransferSubmitted)
	}
	if t.doomed {
		return fmt.Errorf("cannot reuse transfer: %w", ErrDoomedTransfer)
	}
	return nil
}

func (t *Transfer) flags() uint8 {
	var flags uint8
	if t.shortIsError {
		flags |= transferFlagShortNotOK
	}
	if t.addZeroPacket {
		flags |= transferFlagAddZeroPacket
	}
	return flags
}

// fill pushes the staged configuration into the native descriptor. Must be
// called with t.mu held.
func (t *Transfer) fill() error {
	return t.drv.fillTransfer(t.native, transferConfig{
		handle:     t.handle.native,
		kind:       t.kind,
		endpoint:   t.endpoint,
		flags:      t.flags(),
		timeout:    t.timeout,
		buffer:     t.buf,
		isoLengths: t.isoLengths,
	})
}

// SetControl configures the transfer for control use. The direction is taken
// from the request type's direction bit. For IN requests pass a zeroed data
// slice of the expected length; its contents after completion are the
// response. A timeout of 0 disables the timeout.
func (t *Transfer) SetControl(requestType, request uint8, value, index uint16, data []byte, callback TransferCallback, userData any, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAlterable(); err != nil {
		return err
	}
	buf := make([]byte, ControlSetupSize+len(data))
	fillControlSetup(buf, requestType, request, value, index, len(data))
	copy(buf[ControlSetupSize:], data)

	t.initialized = false
	t.kind = TransferTypeControl
	t.endpoint = 0
	t.timeout = timeout
	t.buf = buf
	t.view = buf[ControlSetupSize:]
	t.isoLengths = nil
	t.userData = userData
	if err := t.fill(); err != nil {
		return err
	}
	t.callback = callback
	t.initialized = true
	return nil
}

// SetBulk configures the transfer for bulk use. The endpoint's direction bit
// selects read or write; for reads, data provides the buffer to fill.
func (t *Transfer) SetBulk(endpoint uint8, data []byte, callback TransferCallback, userData any, timeout time.Duration) error {
	return t.setStream(TransferTypeBulk, endpoint, data, callback, userData, timeout)
}

// SetInterrupt configures the transfer for interrupt use.
func (t *Transfer) SetInterrupt(endpoint uint8, data []byte, callback TransferCallback, userData any, timeout time.Duration) error {
	return t.setStream(TransferTypeInterrupt, endpoint, data, callback, userData, timeout)
}

func (t *Transfer) setStream(kind TransferType, endpoint uint8, data []byte, callback TransferCallback, userData any, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAlterable(); err != nil {
		return err
	}
	t.initialized = false
	t.kind = kind
	t.endpoint = endpoint
	t.timeout = timeout
	t.buf = data
	t.view = data
	t.isoLengths = nil
	t.userData = userData
	if err := t.fill(); err != nil {
		return err
	}
	t.callback = callback
	t.initialized = true
	return nil
}

// SetIsochronous configures the transfer for isochronous use. The transfer
// must have been allocated with a non-zero isochronous packet count.
//
// packetLengths configures the per-packet slice of data; when nil, data is
// divided evenly across the allocated packet slots, which fails if the length
// is not an exact multiple.
func (t *Transfer) SetIsochronous(endpoint uint8, data []byte, callback TransferCallback, userData any, timeout time.Duration, packetLengths []int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransferClosed
	}
	if isSubmitted(t.native) {
		return fmt.Errorf("cannot alter transfer: %w", ErrTransferSubmitted)
	}
	if t.isoPackets == 0 {
		return ErrNotIsochronous
	}
	if t.doomed {
		return fmt.Errorf("cannot reuse transfer: %w", ErrDoomedTransfer)
	}
	if packetLengths == nil {
		if len(data)%t.isoPackets != 0 {
			return fmt.Errorf("buffer size %d cannot be evenly distributed among %d packets: %w", len(data), t.isoPackets, ErrInvalidParam)
		}
		each := len(data) / t.isoPackets
		packetLengths = make([]int, t.isoPackets)
		for i := range packetLengths {
			packetLengths[i] = each
		}
	}
	if len(packetLengths) > t.isoPackets {
		return fmt.Errorf("%d packet lengths for %d allocated packet slots: %w", len(packetLengths), t.isoPackets, ErrInvalidParam)
	}
	total := 0
	for _, l := range packetLengths {
		if l <= 0 {
			return fmt.Errorf("non-positive isochronous packet length %d: %w", l, ErrInvalidParam)
		}
		total += l
	}
	if total > len(data) {
		return fmt.Errorf("packet lengths total %d exceeds buffer size %d: %w", total, len(data), ErrInvalidParam)
	}

	t.initialized = false
	t.kind = TransferTypeIsochronous
	t.endpoint = endpoint
	t.timeout = timeout
	t.buf = data
	t.view = data
	t.isoLengths = append([]int(nil), packetLengths...)
	t.userData = userData
	if err := t.fill(); err != nil {
		return err
	}
	t.callback = callback
	t.initialized = true
	return nil
}

// SetBuffer replaces the data buffer of a configured bulk or interrupt
// transfer. Control transfers must be reconfigured with SetControl, and
// isochronous buffers cannot be resized outside SetIsochronous.
func (t *Transfer) SetBuffer(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAlterable(); err != nil {
		return err
	}
	if t.kind == TransferTypeControl {
		return fmt.Errorf("control transfer buffers are set with SetControl: %w", ErrInvalidParam)
	}
	if t.kind == TransferTypeIsochronous && len(data) != len(t.buf) {
		return fmt.Errorf("isochronous transfer buffers are resized with SetIsochronous: %w", ErrInvalidParam)
	}
	t.buf = data
	t.view = data
	return t.fill()
}

// Kind returns the configured transfer type.
func (t *Transfer) Kind() TransferType {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.kind
}

// Endpoint returns the configured endpoint address.
func (t *Transfer) Endpoint() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endpoint
}

// Status returns the transfer's terminal status. Unspecified while the
// transfer is submitted.
func (t *Transfer) Status() TransferStatus {
	return t.status
}

// ActualLength returns how many bytes the completed transfer moved.
// Unspecified while the transfer is submitted.
func (t *Transfer) ActualLength() int {
	return t.actualLength
}

// Buffer returns the transfer's data buffer. For control transfers this
// excludes the setup header. Contents are unspecified while the transfer is
// submitted.
func (t *Transfer) Buffer() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view
}

// Callback returns the currently configured completion callback.
func (t *Transfer) Callback() TransferCallback {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.callback
}

// SetCallback replaces the completion callback.
func (t *Transfer) SetCallback(callback TransferCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback = callback
}

// UserData returns the user data provided at configuration time.
func (t *Transfer) UserData() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userData
}

// SetUserData replaces the user data.
func (t *Transfer) SetUserData(userData any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userData = userData
}

// ShortIsError reports whether a short frame completes this transfer with
// TransferError instead of TransferCompleted.
func (t *Transfer) ShortIsError() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shortIsError
}

// SetShortIsError changes the short-frame-is-error flag.
func (t *Transfer) SetShortIsError(state bool) error {
	return t.setFlag(&t.shortIsError, state)
}

// ZeroPacketAdded reports whether a zero-length packet terminates transfers
// that are an exact multiple of the endpoint packet size.
func (t *Transfer) ZeroPacketAdded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addZeroPacket
}

// SetAddZeroPacket changes the add-zero-packet flag.
func (t *Transfer) SetAddZeroPacket(state bool) error {
	return t.setFlag(&t.addZeroPacket, state)
}

func (t *Transfer) setFlag(field *bool, state bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransferClosed
	}
	if isSubmitted(t.native) {
		return fmt.Errorf("cannot alter transfer: %w", ErrTransferSubmitted)
	}
	*field = state
	if t.initialized {
		return t.fill()
	}
	return nil
}

// IsSubmitted reports whether the transfer is currently in flight.
func (t *Transfer) IsSubmitted() bool {
	return !t.isClosed() && isSubmitted(t.native)
}

func (t *Transfer) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Doom prevents the transfer from ever being configured or submitted again.
// If the transfer is in flight, it is closed automatically once its
// completion has been dispatched.
func (t *Transfer) Doom() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doomed = true
}

// Submit hands the transfer to the driver for asynchronous processing. The
// transfer is registered before the native submit call; a native failure
// reverses the registration and is returned.
func (t *Transfer) Submit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransferClosed
	}
	if isSubmitted(t.native) {
		return fmt.Errorf("cannot submit transfer: %w", ErrTransferSubmitted)
	}
	if !t.initialized {
		return ErrTransferNotInitialized
	}
	if t.doomed {
		return fmt.Errorf("cannot submit transfer: %w", ErrDoomedTransfer)
	}
	t.handle.inflightAdd(t)
	submittedAdd(t.native, t)
	if err := t.drv.submitTransfer(t.native); err != nil {
		submittedRemove(t.native)
		t.handle.inflightRemove(t)
		return fmt.Errorf("submitting transfer: %w", err)
	}
	return nil
}

// Cancel requests cancellation of a submitted transfer. Cancellation is
// asynchronous: the completion callback still runs, normally with status
// TransferCancelled. Cancelling a transfer that is not submitted fails with
// ErrNotFound rather than being forwarded to the driver, which is known to
// crash on double cancellation.
func (t *Transfer) Cancel() error {
	if !t.IsSubmitted() {
		return ErrNotFound
	}
	if err := t.drv.cancelTransfer(t.native); err != nil {
		return fmt.Errorf("cancelling transfer: %w", err)
	}
	return nil
}

// Close releases the native descriptor. The transfer must not be submitted;
// cancel it and let the completion arrive first. Close is idempotent.
func (t *Transfer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	if isSubmitted(t.native) {
		return fmt.Errorf("cannot close transfer: %w", ErrTransferSubmitted)
	}
	t.doomed = true
	t.closed = true
	t.initialized = false
	t.callback = nil
	t.userData = nil
	t.drv.freeTransfer(t.native)
	t.buf = nil
	t.view = nil
	return nil
}

// ISOBufferList returns one sub-slice of the transfer buffer per configured
// isochronous packet, at the configured (not actual) lengths.
func (t *Transfer) ISOBufferList() ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.kind != TransferTypeIsochronous {
		return nil, fmt.Errorf("not an isochronous transfer: %w", ErrInvalidParam)
	}
	out := make([][]byte, len(t.isoLengths))
	offset := 0
	for i, l := range t.isoLengths {
		out[i] = t.buf[offset : offset+l]
		offset += l
	}
	return out, nil
}

// ISOSetupList returns the configured length and completion results of every
// isochronous packet, in slot order. Results are unspecified while the
// transfer is submitted.
func (t *Transfer) ISOSetupList() ([]IsoPacketDesc, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.kind != TransferTypeIsochronous {
		return nil, fmt.Errorf("not an isochronous transfer: %w", ErrInvalidParam)
	}
	return t.drv.isoPacketResults(t.native), nil
}

// IterISO returns an iterator over (status, buffer) pairs for each
// isochronous packet, with each buffer truncated to the packet's actual
// length. Must not be used while the transfer is submitted.
func (t *Transfer) IterISO() (iter.Seq2[TransferStatus, []byte], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.kind != TransferTypeIsochronous {
		return nil, fmt.Errorf("not an isochronous transfer: %w", ErrInvalidParam)
	}
	descs := t.drv.isoPacketResults(t.native)
	buf := t.buf
	return func(yield func(TransferStatus, []byte) bool) {
		offset := 0
		for _, desc := range descs {
			if !yield(desc.Status, buf[offset:offset+desc.ActualLength]) {
				return
			}
			offset += desc.Length
		}
	}, nil
}

// transferComplete is the single completion dispatch path. It runs on the
// thread executing the driver's event-processing call, removes the transfer
// from the registry and from its handle's in-flight set, invokes the user
// callback, and closes the transfer if it was doomed.
func transferComplete(native uintptr) {
	t := submittedPop(native)
	if t == nil {
		// Completion for a transfer this process no longer tracks.
		glog.Warningf("Stray completion for unknown transfer %#x", native)
		return
	}
	t.handle.inflightRemove(t)

	t.mu.Lock()
	t.status = t.drv.transferStatus(native)
	t.actualLength = t.drv.transferActualLength(native)
	t.drv.transferReadBack(native, t.buf)
	callback := t.callback
	t.mu.Unlock()

	if callback != nil {
		callback(t)
	}

	t.mu.Lock()
	doomed := t.doomed
	t.mu.Unlock()
	if doomed {
		t.Close()
	}
}
