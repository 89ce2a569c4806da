package usb1

import (
	"errors"
	"sync"

	"github.com/golang/glog"
)

// TransferHandlerFunc handles one terminal status of a transfer. Returning
// true resubmits the transfer.
type TransferHandlerFunc func(*Transfer) bool

// TransferHelper routes transfer completions to per-status handlers and
// resubmits the transfer when a handler asks for it, which is the usual shape
// of a streaming endpoint loop. Install it with Transfer.SetCallback:
//
//	helper := usb1.NewTransferHelper()
//	helper.OnStatus(usb1.TransferCompleted, consume)
//	transfer.SetCallback(helper.Callback())
type TransferHelper struct {
	mu             sync.Mutex
	handlers       map[TransferStatus]TransferHandlerFunc
	defaultHandler TransferHandlerFunc
}

// NewTransferHelper returns a helper with no handlers: every completion is
// logged and the transfer is not resubmitted.
func NewTransferHelper() *TransferHelper {
	return &TransferHelper{
		handlers: make(map[TransferStatus]TransferHandlerFunc),
	}
}

// OnStatus installs the handler for one terminal status.
func (h *TransferHelper) OnStatus(status TransferStatus, fn TransferHandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[status] = fn
}

// OnDefault installs the handler for statuses without one of their own.
func (h *TransferHelper) OnDefault(fn TransferHandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defaultHandler = fn
}

func (h *TransferHelper) handler(status TransferStatus) TransferHandlerFunc {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn, ok := h.handlers[status]; ok {
		return fn
	}
	return h.defaultHandler
}

// Callback returns the completion callback dispatching into this helper.
func (h *TransferHelper) Callback() TransferCallback {
	return func(t *Transfer) {
		fn := h.handler(t.Status())
		if fn == nil {
			glog.V(1).Infof("Unhandled %s completion on %s endpoint %#02x", t.Status(), t.Kind(), t.Endpoint())
			return
		}
		if !fn(t) {
			return
		}
		// A doomed transfer cannot go around again; that is how the loop is
		// shut down from outside.
		if err := t.Submit(); err != nil && !errors.Is(err, ErrDoomedTransfer) {
			glog.Errorf("Resubmitting %s transfer on endpoint %#02x: %v", t.Kind(), t.Endpoint(), err)
		}
	}
}
