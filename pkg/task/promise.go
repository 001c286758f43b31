// Package task bridges the engine's callback-driven completion model into
// ordinary blocking Go calls.
//
// The engine reports the outcome of an asynchronous operation by invoking a
// registered completion function exactly once. Promise turns that single
// invocation into something a goroutine can wait on: the caller registers
// the operation, suspends in Await, and is resumed with the completion's
// status.
//
// Some engine primitives complete inline, inside the submission call
// itself. The registration closure is then responsible for invoking the
// same completion path the engine would have invoked later, so resolution
// is identical whether the operation completed synchronously or
// asynchronously. See Target.RemoveSubsystem in pkg/nvmf for the canonical
// example.
package task

import (
	"context"
	"sync/atomic"

	"github.com/marmos91/dittofab/pkg/status"
)

// Promise is a single-shot future over one registered engine operation.
//
// A Promise resolves exactly once, either from the registration closure's
// error return (submission failed, no completion will fire) or from the
// one completion invocation. A second resolution indicates a violated
// engine contract and panics.
type Promise struct {
	// done guards against double resolution. The completion contract allows
	// at most one invocation per token; a second one is a programming error
	// in the engine integration, so it panics rather than being masked.
	done atomic.Bool

	// ch carries the single resolution. Capacity 1 so a completion arriving
	// after Await has abandoned the promise (context cancellation) never
	// blocks the engine's poll loop.
	ch chan error
}

// Completion is the opaque token handed to a registration closure. The
// closure passes it, together with one of the Complete* functions, to the
// engine primitive it submits.
type Completion struct {
	p *Promise
}

// RegisterFunc submits an asynchronous engine operation. It receives the
// completion token to hand to the engine and returns nil when the
// submission was accepted (the real outcome arrives through the completion
// function) or an error when the submission itself failed, in which case no
// completion will ever fire.
type RegisterFunc func(cx *Completion) error

// New registers an asynchronous operation and returns the Promise that
// resolves with its outcome.
//
// register runs synchronously inside New. If it completes the operation
// inline (by invoking the completion function itself) and returns nil, the
// promise is already resolved when New returns. If it returns an error, the
// promise resolves immediately with that error.
func New(register RegisterFunc) *Promise {
	p := &Promise{ch: make(chan error, 1)}

	if err := register(&Completion{p: p}); err != nil {
		p.resolve(err)
	}

	return p
}

// Await suspends the calling goroutine until the promise resolves and
// returns the operation's outcome.
//
// There is no cooperative cancellation of the underlying operation: once
// registered, the engine will still deliver its one completion even if ctx
// is cancelled first. Await then returns ctx.Err() and the late completion
// lands in the promise's buffer, where it is dropped with the promise. The
// registration slot is not reclaimed early; callers that cancel must accept
// that the operation runs to completion unobserved.
func (p *Promise) Await(ctx context.Context) error {
	select {
	case err := <-p.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve records the single outcome. Panics on a second resolution.
func (p *Promise) resolve(err error) {
	if !p.done.CompareAndSwap(false, true) {
		panic("task: promise resolved more than once; completion contract violated")
	}
	p.ch <- err
}

// CompleteWithStatus resolves the promise behind token with the given raw
// engine status. It matches the engine.CompletionFunc ABI and is the
// completion function registered for operations that report a status.
//
// Panics if token is not a Completion issued by New, or on a positive
// status (contract violation, see package status).
func CompleteWithStatus(token any, stat int32) {
	completionOf(token).p.resolve(status.FromRaw(stat))
}

// CompleteWithOK resolves the promise behind token successfully, ignoring
// the status argument. It matches the engine.CompletionFunc ABI and is the
// completion function for operations whose completion carries no status.
func CompleteWithOK(token any, _ int32) {
	completionOf(token).p.resolve(nil)
}

func completionOf(token any) *Completion {
	cx, ok := token.(*Completion)
	if !ok || cx == nil || cx.p == nil {
		panic("task: completion token does not belong to a promise")
	}
	return cx
}
