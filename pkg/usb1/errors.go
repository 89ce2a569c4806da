package usb1

import (
	"errors"
	"fmt"
)

// ErrorCode is a libusb status code. Every negative return value of a native
// call is mapped to one of the constants below; ErrorCode implements error so
// the mapped value can be returned (and wrapped) directly.
type ErrorCode int

const (
	ErrIO           ErrorCode = -1
	ErrInvalidParam ErrorCode = -2
	ErrAccess       ErrorCode = -3
	ErrNoDevice     ErrorCode = -4
	ErrNotFound     ErrorCode = -5
	ErrBusy         ErrorCode = -6
	ErrTimeout      ErrorCode = -7
	ErrOverflow     ErrorCode = -8
	ErrPipe         ErrorCode = -9
	ErrInterrupted  ErrorCode = -10
	ErrNoMem        ErrorCode = -11
	ErrNotSupported ErrorCode = -12
	ErrOther        ErrorCode = -99
)

var errorCodeNames = map[ErrorCode]string{
	ErrIO:           "input/output error",
	ErrInvalidParam: "invalid parameter",
	ErrAccess:       "access denied",
	ErrNoDevice:     "no such device",
	ErrNotFound:     "entity not found",
	ErrBusy:         "resource busy",
	ErrTimeout:      "operation timed out",
	ErrOverflow:     "overflow",
	ErrPipe:         "pipe error",
	ErrInterrupted:  "system call interrupted",
	ErrNoMem:        "insufficient memory",
	ErrNotSupported: "operation not supported",
	ErrOther:        "other error",
}

func (e ErrorCode) Error() string {
	if name, ok := errorCodeNames[e]; ok {
		return "libusb: " + name
	}
	return fmt.Sprintf("libusb: error %d", int(e))
}

// fromCode maps a native return value to an error. Non-negative values are
// not errors. Unknown negative values keep their numeric identity but still
// match ErrorCode in errors.As.
func fromCode(rc int) error {
	if rc >= 0 {
		return nil
	}
	return ErrorCode(rc)
}

// Local usage errors, raised before any native call is made. These guard the
// transfer state machine against operations that would otherwise be forwarded
// to libusb in a state known to crash it.
var (
	// ErrTransferSubmitted is returned when altering, resubmitting or
	// closing a transfer that is currently in flight.
	ErrTransferSubmitted = errors.New("transfer is submitted")

	// ErrTransferNotInitialized is returned when submitting a transfer
	// that was never configured.
	ErrTransferNotInitialized = errors.New("transfer is not initialized")

	// ErrTransferClosed is returned when using a transfer after Close.
	ErrTransferClosed = errors.New("transfer is closed")

	// ErrDoomedTransfer is returned when configuring or submitting a
	// transfer marked with Doom.
	ErrDoomedTransfer = errors.New("transfer is doomed")

	// ErrNotIsochronous is returned by SetIsochronous on a transfer that
	// was allocated without isochronous packet slots.
	ErrNotIsochronous = errors.New("transfer has no isochronous packet slots")

	// ErrContextClosed is returned by context operations after Close, or
	// before Open.
	ErrContextClosed = errors.New("USB context is not open")
)
