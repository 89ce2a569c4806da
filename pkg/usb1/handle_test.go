package usb1

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestCloseDrainsInflightTransfers(t *testing.T) {
	f, ctx, h := newTestHandle(t)
	defer ctx.Close()

	f.holdCompletions = true
	const n = 3
	statuses := make([]TransferStatus, 0, n)
	transfers := make([]*Transfer, n)
	for i := range transfers {
		tr, err := h.GetTransfer(0)
		if err != nil {
			t.Fatalf("could not allocate transfer: %v", err)
		}
		err = tr.SetBulk(EndpointIn|0x81, make([]byte, 64), func(tr *Transfer) {
			statuses = append(statuses, tr.Status())
		}, nil, 0)
		if err != nil {
			t.Fatalf("could not configure transfer: %v", err)
		}
		if err := tr.Submit(); err != nil {
			t.Fatalf("could not submit: %v", err)
		}
		transfers[i] = tr
	}
	if got := h.inflightCount(); got != n {
		t.Fatalf("%d transfers in flight, want %d", got, n)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("could not close handle: %v", err)
	}
	if len(statuses) != n {
		t.Fatalf("%d completions dispatched during close, want %d", len(statuses), n)
	}
	for i, s := range statuses {
		if s != TransferCancelled {
			t.Errorf("completion %d status = %v, want cancelled", i, s)
		}
	}
	if got := h.inflightCount(); got != 0 {
		t.Errorf("%d transfers still in flight after close", got)
	}
	for _, fh := range f.handles {
		if !fh.closed {
			t.Errorf("native handle not closed")
		}
	}
	for _, tr := range transfers {
		if err := tr.Close(); err != nil {
			t.Errorf("could not close transfer after handle close: %v", err)
		}
	}
	// Close is idempotent.
	if err := h.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestCloseRetriesInterruptedDrain(t *testing.T) {
	f, ctx, h := newTestHandle(t)
	defer ctx.Close()

	f.holdCompletions = true
	tr, err := h.GetTransfer(0)
	if err != nil {
		t.Fatalf("could not allocate transfer: %v", err)
	}
	if err := tr.SetBulk(EndpointIn|0x81, make([]byte, 8), nil, nil, 0); err != nil {
		t.Fatalf("could not configure transfer: %v", err)
	}
	if err := tr.Submit(); err != nil {
		t.Fatalf("could not submit: %v", err)
	}

	f.interruptsLeft = 2
	if err := h.Close(); err != nil {
		t.Fatalf("close did not survive interrupted event handling: %v", err)
	}
	if f.handleEventsCalls < 3 {
		t.Errorf("event handling called %d times, want at least 3", f.handleEventsCalls)
	}
}

func TestCloseKeepsHandleOnDrainFailure(t *testing.T) {
	f, ctx, h := newTestHandle(t)
	defer ctx.Close()

	f.holdCompletions = true
	tr, err := h.GetTransfer(0)
	if err != nil {
		t.Fatalf("could not allocate transfer: %v", err)
	}
	if err := tr.SetBulk(EndpointIn|0x81, make([]byte, 8), nil, nil, 0); err != nil {
		t.Fatalf("could not configure transfer: %v", err)
	}
	if err := tr.Submit(); err != nil {
		t.Fatalf("could not submit: %v", err)
	}

	f.eventErr = ErrIO
	if err := h.Close(); !errors.Is(err, ErrIO) {
		t.Fatalf("close: %v, want ErrIO", err)
	}
	for _, fh := range f.handles {
		if fh.closed {
			t.Errorf("native handle released with transfers possibly in flight")
		}
	}

	// A later close must be able to finish the job.
	f.eventErr = nil
	if err := h.Close(); err != nil {
		t.Fatalf("retried close: %v", err)
	}
}

func TestGetTransferAfterClose(t *testing.T) {
	_, ctx, h := newTestHandle(t)
	defer ctx.Close()

	if err := h.Close(); err != nil {
		t.Fatalf("could not close handle: %v", err)
	}
	if _, err := h.GetTransfer(0); !errors.Is(err, ErrNoDevice) {
		t.Errorf("GetTransfer after close: %v, want ErrNoDevice", err)
	}
}

func TestSyncReadPartialOnTimeout(t *testing.T) {
	f, ctx, h := newTestHandle(t)
	defer ctx.Close()

	f.streamHandler = func(endpoint uint8, data []byte) (int, error) {
		copy(data, "ab")
		return 2, ErrTimeout
	}
	data, err := h.BulkRead(0x01, 64, time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("bulk read: %v, want ErrTimeout", err)
	}
	if !bytes.Equal(data, []byte("ab")) {
		t.Errorf("partial read = %q, want \"ab\"", data)
	}

	f.streamHandler = func(endpoint uint8, data []byte) (int, error) {
		return 0, ErrPipe
	}
	if _, err := h.InterruptRead(0x03, 8, time.Millisecond); !errors.Is(err, ErrPipe) {
		t.Errorf("interrupt read: %v, want ErrPipe", err)
	}
}

func TestSyncDirectionNormalization(t *testing.T) {
	f, ctx, h := newTestHandle(t)
	defer ctx.Close()

	var gotEndpoint uint8
	f.streamHandler = func(endpoint uint8, data []byte) (int, error) {
		gotEndpoint = endpoint
		return len(data), nil
	}
	if _, err := h.BulkWrite(EndpointIn|0x02, []byte("data"), 0); err != nil {
		t.Fatalf("bulk write: %v", err)
	}
	if gotEndpoint&EndpointDirMask != EndpointOut {
		t.Errorf("write endpoint = %#02x, direction bit not cleared", gotEndpoint)
	}
	if _, err := h.BulkRead(0x02, 4, 0); err != nil {
		t.Fatalf("bulk read: %v", err)
	}
	if gotEndpoint&EndpointDirMask != EndpointIn {
		t.Errorf("read endpoint = %#02x, direction bit not set", gotEndpoint)
	}
}

func TestStringDescriptors(t *testing.T) {
	f, ctx, h := newTestHandle(t)
	defer ctx.Close()

	dev := f.devices[0]
	dev.desc.manufacturerIndex = 1
	dev.desc.productIndex = 2
	dev.strings[1] = "Apple Inc."
	dev.strings[2] = "iPod nano"

	// The cached descriptor was read at enumeration time; re-enumerate.
	d, err := ctx.GetByVendorIDAndProductID(0x05ac, 0x1263)
	if err != nil || d == nil {
		t.Fatalf("could not find device: %v", err)
	}
	defer d.Close()
	h2, err := d.Open()
	if err != nil {
		t.Fatalf("could not open device: %v", err)
	}
	defer h2.Close()

	if got, err := h2.Manufacturer(); err != nil || got != "Apple Inc." {
		t.Errorf("manufacturer = %q, %v", got, err)
	}
	if got, err := h2.Product(); err != nil || got != "iPod nano" {
		t.Errorf("product = %q, %v", got, err)
	}
	if got, err := h2.SerialNumber(); err != nil || got != "" {
		t.Errorf("serial number = %q, %v (device has none)", got, err)
	}
	if got, err := h2.GetStringDescriptor(2, 0x0409); err != nil || got != "iPod nano" {
		t.Errorf("UTF-16 string descriptor = %q, %v", got, err)
	}
	_ = h
}

func TestClaimInterface(t *testing.T) {
	_, ctx, h := newTestHandle(t)
	defer ctx.Close()

	release, err := h.ClaimInterface(0)
	if err != nil {
		t.Fatalf("could not claim interface: %v", err)
	}
	if _, err := h.ClaimInterface(0); !errors.Is(err, ErrBusy) {
		t.Errorf("double claim: %v, want ErrBusy", err)
	}
	if err := release(); err != nil {
		t.Fatalf("could not release interface: %v", err)
	}
	release, err = h.ClaimInterface(0)
	if err != nil {
		t.Fatalf("could not reclaim interface: %v", err)
	}
	release()
}
