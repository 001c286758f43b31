package nvmf

import (
	"context"
	"sync/atomic"

	"github.com/marmos91/dittofab/pkg/engine"
	"github.com/marmos91/dittofab/pkg/status"
	"github.com/marmos91/dittofab/pkg/task"
)

// Transport is a fabric binding a target can accept connections over.
//
// Ownership discipline:
// A freshly created Transport is exclusively owned by the caller. Adding it
// to a Target with Target.AddTransport transfers ownership on success - the
// caller's value is neutralized and must not be destroyed again. On
// failure, ownership stays with the caller; AddTransport itself destroys
// the transport before returning, so the caller never has to. If the wait
// is abandoned through context cancellation the outcome is unresolved and
// the caller must not use the value again.
type Transport struct {
	eng engine.Engine
	h   engine.TransportHandle

	// released flips when ownership transfers to a target. A released
	// transport must never be destroyed through this value again.
	released atomic.Bool
}

// NewTransport creates a detached transport of the given fabric type.
//
// opts may be nil, in which case engine defaults apply. Returns ENOMEM if
// the engine cannot allocate the transport.
func NewTransport(eng engine.Engine, trtype string, opts *engine.TransportOpts) (*Transport, error) {
	h := eng.CreateTransport(trtype, opts)
	if h == nil {
		return nil, status.ENOMEM
	}

	return &Transport{eng: eng, h: h}, nil
}

// TransportFromHandle wraps a raw engine transport handle.
//
// Panics if h is nil: the engine contract guarantees non-nil handles for
// live resources, so a nil here is a programming error, not a runtime
// failure.
func TransportFromHandle(eng engine.Engine, h engine.TransportHandle) *Transport {
	if h == nil {
		panic("nvmf: transport handle must not be nil")
	}
	return &Transport{eng: eng, h: h}
}

// Type returns the transport's fabric type (e.g. "tcp").
func (tr *Transport) Type() string {
	return tr.eng.TransportType(tr.h)
}

// Handle returns the underlying engine handle.
func (tr *Transport) Handle() engine.TransportHandle {
	return tr.h
}

// Destroy releases the transport.
//
// The destruction is bridged through a Promise rather than performed as an
// implicit teardown so it never blocks the execution context synchronously.
// Panics if ownership of the transport has already transferred to a target.
func (tr *Transport) Destroy(ctx context.Context) error {
	if tr.released.Load() {
		panic("nvmf: transport is owned by a target and must not be destroyed by the caller")
	}

	return task.New(func(cx *task.Completion) error {
		return status.FromRaw(tr.eng.DestroyTransport(tr.h, task.CompleteWithStatus, cx))
	}).Await(ctx)
}

// release marks ownership as transferred to a target.
func (tr *Transport) release() {
	tr.released.Store(true)
}
