// Package memory provides an in-process implementation of engine.Engine.
//
// It is the reference engine used by tests and by deployments that run the
// control plane without fabric hardware: collections are intrusive linked
// lists traversed through the same get-first/get-next primitives a native
// engine exposes, and completions can be delivered either inline (inside
// the submission call) or deferred through an explicit Poll, which models a
// reactor delivering callbacks from its poll loop. Both modes drive the
// exact same completion path, so the control plane's sync/async handling is
// exercised faithfully.
package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/dittofab/pkg/engine"
	"github.com/marmos91/dittofab/pkg/status"
)

// Engine is an in-memory engine.Engine. Safe for concurrent use; all state
// is guarded by a single mutex, matching the coarse-grained locking of the
// other in-memory backends in this repository.
type Engine struct {
	mu      sync.Mutex
	targets *target

	// deferCompletions switches completion delivery from inline to queued.
	// Queued completions (and their state mutations) apply on Poll.
	deferCompletions bool
	queue            []func()

	// One-shot fault injection, consumed by the next matching submission.
	failAddTransport    int32
	failCreateSubsystem bool
}

type target struct {
	name       string
	transports *transport
	subsystems *subsystem
	listeners  []engine.TransportID
	next       *target
}

func (*target) NVMFTarget() {}

type transport struct {
	trtype    string
	opts      engine.TransportOpts
	attached  *target
	destroyed bool
	next      *transport
}

func (*transport) NVMFTransport() {}

type subsystem struct {
	nqn          string
	serial       string
	styp         engine.SubsystemType
	state        engine.SubsystemState
	allowAnyHost bool
	numNS        uint32
	owner        *target
	next         *subsystem
}

func (*subsystem) NVMFSubsystem() {}

// New creates an engine delivering completions inline.
func New() *Engine {
	return &Engine{}
}

// DeferCompletions switches between inline delivery (false) and queued
// delivery drained by Poll (true).
func (e *Engine) DeferCompletions(deferred bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deferCompletions = deferred
}

// Poll applies every queued completion in submission order and returns how
// many were delivered. A no-op in inline mode.
func (e *Engine) Poll() int {
	e.mu.Lock()
	pending := e.queue
	e.queue = nil
	e.mu.Unlock()

	// Each queued completion mutates engine state, so it runs under the
	// same lock a submission would hold.
	for _, fn := range pending {
		e.mu.Lock()
		fn()
		e.mu.Unlock()
	}
	return len(pending)
}

// FailNextAddTransport makes the next AddTransport submission complete with
// the given error instead of attaching the transport.
func (e *Engine) FailNextAddTransport(errno status.Errno) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failAddTransport = -int32(errno)
}

// FailNextCreateSubsystem makes the next CreateSubsystem return a nil
// handle, simulating allocation failure.
func (e *Engine) FailNextCreateSubsystem() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failCreateSubsystem = true
}

// dispatch delivers a completion either inline or on the next Poll. The
// mutation closure runs immediately before the callback so that engine
// state changes land together with the status the caller observes.
func (e *Engine) dispatch(mutate func(), done engine.CompletionFunc, token any, stat int32) {
	run := func() {
		if mutate != nil {
			mutate()
		}
		if done != nil {
			done(token, stat)
		}
	}

	if e.deferCompletions {
		e.queue = append(e.queue, run)
		return
	}
	run()
}

// CreateTarget allocates a target and links it at the end of the target
// collection.
func (e *Engine) CreateTarget(name string) engine.TargetHandle {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := &target{name: name}
	p := &e.targets
	for *p != nil {
		p = &(*p).next
	}
	*p = t
	return t
}

// TargetName returns the target's identifier.
func (e *Engine) TargetName(t engine.TargetHandle) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return t.(*target).name
}

// FirstTarget returns the head of the target collection, or nil.
func (e *Engine) FirstTarget() engine.TargetHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.targets == nil {
		return nil
	}
	return e.targets
}

// NextTarget returns the target linked after t, or nil.
func (e *Engine) NextTarget(t engine.TargetHandle) engine.TargetHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := t.(*target).next
	if next == nil {
		return nil
	}
	return next
}

// CreateTransport allocates a detached transport, or returns nil when
// trtype is empty.
func (e *Engine) CreateTransport(trtype string, opts *engine.TransportOpts) engine.TransportHandle {
	if trtype == "" {
		return nil
	}

	tr := &transport{trtype: trtype}
	if opts != nil {
		tr.opts = *opts
	} else {
		engine.InitTransportOpts(&tr.opts)
	}
	return tr
}

// TransportType returns the transport's fabric type.
func (e *Engine) TransportType(tr engine.TransportHandle) string {
	return tr.(*transport).trtype
}

// AddTransport links tr into t's transport collection. The outcome always
// arrives through done; the submission itself cannot fail here.
func (e *Engine) AddTransport(t engine.TargetHandle, tr engine.TransportHandle, done engine.CompletionFunc, token any) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	tgt := t.(*target)
	tp := tr.(*transport)

	if rc := e.failAddTransport; rc != 0 {
		e.failAddTransport = 0
		e.dispatch(nil, done, token, rc)
		return 0
	}

	if tp.attached != nil {
		e.dispatch(nil, done, token, -int32(status.EEXIST))
		return 0
	}

	e.dispatch(func() {
		tp.attached = tgt
		p := &tgt.transports
		for *p != nil {
			p = &(*p).next
		}
		*p = tp
	}, done, token, 0)
	return 0
}

// DestroyTransport releases tr, unlinking it from its target if attached.
func (e *Engine) DestroyTransport(tr engine.TransportHandle, done engine.CompletionFunc, token any) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	tp := tr.(*transport)
	if tp.destroyed {
		panic("memory: transport destroyed twice")
	}

	e.dispatch(func() {
		if tgt := tp.attached; tgt != nil {
			for p := &tgt.transports; *p != nil; p = &(*p).next {
				if *p == tp {
					*p = tp.next
					break
				}
			}
			tp.attached = nil
		}
		tp.destroyed = true
	}, done, token, 0)
	return 0
}

// FirstTransport returns the head of t's transport collection, or nil.
func (e *Engine) FirstTransport(t engine.TargetHandle) engine.TransportHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	head := t.(*target).transports
	if head == nil {
		return nil
	}
	return head
}

// NextTransport returns the transport linked after tr, or nil.
func (e *Engine) NextTransport(tr engine.TransportHandle) engine.TransportHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := tr.(*transport).next
	if next == nil {
		return nil
	}
	return next
}

// CreateSubsystem allocates a subsystem in the Inactive state and links it
// into t's subsystem collection. Returns nil on allocation failure or when
// a subsystem with the same NQN already exists on the target.
func (e *Engine) CreateSubsystem(t engine.TargetHandle, nqn string, st engine.SubsystemType, numNamespaces uint32) engine.SubsystemHandle {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failCreateSubsystem {
		e.failCreateSubsystem = false
		return nil
	}
	if nqn == "" {
		return nil
	}

	tgt := t.(*target)
	p := &tgt.subsystems
	for *p != nil {
		if (*p).nqn == nqn {
			return nil
		}
		p = &(*p).next
	}

	s := &subsystem{
		nqn:    nqn,
		serial: uuid.NewString(),
		styp:   st,
		state:  engine.SubsystemInactive,
		numNS:  numNamespaces,
		owner:  tgt,
	}
	*p = s
	return s
}

// DestroySubsystem removes s from its target. A subsystem must be Inactive
// to be destroyed. Returns 0 when destruction completed synchronously (done
// is NOT invoked), -EINPROGRESS when destruction was queued for the next
// Poll, or -EAGAIN when the subsystem is not in a destroyable state.
func (e *Engine) DestroySubsystem(s engine.SubsystemHandle, done engine.CompletionFunc, token any) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := s.(*subsystem)
	if sub.state != engine.SubsystemInactive {
		return -int32(status.EAGAIN)
	}

	unlink := func() {
		for p := &sub.owner.subsystems; *p != nil; p = &(*p).next {
			if *p == sub {
				*p = sub.next
				break
			}
		}
	}

	if e.deferCompletions {
		e.queue = append(e.queue, func() {
			unlink()
			if done != nil {
				done(token, 0)
			}
		})
		return -int32(status.EINPROGRESS)
	}

	unlink()
	return 0
}

// SubsystemNQN returns the subsystem's qualified name.
func (e *Engine) SubsystemNQN(s engine.SubsystemHandle) string {
	return s.(*subsystem).nqn
}

// SubsystemSerial returns the serial number assigned at creation.
func (e *Engine) SubsystemSerial(s engine.SubsystemHandle) string {
	return s.(*subsystem).serial
}

// SubsystemType returns the subsystem's type.
func (e *Engine) SubsystemType(s engine.SubsystemHandle) engine.SubsystemType {
	return s.(*subsystem).styp
}

// SubsystemState returns the subsystem's current lifecycle state.
func (e *Engine) SubsystemState(s engine.SubsystemHandle) engine.SubsystemState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.(*subsystem).state
}

// AllowAnyHost configures whether any host may connect to s.
func (e *Engine) AllowAnyHost(s engine.SubsystemHandle, allow bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s.(*subsystem).allowAnyHost = allow
}

// AllowsAnyHost reports the allow-any-host setting. Not part of
// engine.Engine; exposed for tests.
func (e *Engine) AllowsAnyHost(s engine.SubsystemHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.(*subsystem).allowAnyHost
}

// FirstSubsystem returns the head of t's subsystem collection, or nil.
func (e *Engine) FirstSubsystem(t engine.TargetHandle) engine.SubsystemHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	head := t.(*target).subsystems
	if head == nil {
		return nil
	}
	return head
}

// NextSubsystem returns the subsystem linked after s, or nil.
func (e *Engine) NextSubsystem(s engine.SubsystemHandle) engine.SubsystemHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := s.(*subsystem).next
	if next == nil {
		return nil
	}
	return next
}

// transition submits a state transition. The submission is rejected with
// -EAGAIN when the subsystem is not in the required state; otherwise the
// transition applies together with its completion delivery.
func (e *Engine) transition(s engine.SubsystemHandle, from, to engine.SubsystemState, done engine.CompletionFunc, token any) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := s.(*subsystem)
	if sub.state != from {
		return -int32(status.EAGAIN)
	}

	e.dispatch(func() {
		sub.state = to
	}, done, token, 0)
	return 0
}

// StartSubsystem transitions s from Inactive to Active.
func (e *Engine) StartSubsystem(s engine.SubsystemHandle, done engine.CompletionFunc, token any) int32 {
	return e.transition(s, engine.SubsystemInactive, engine.SubsystemActive, done, token)
}

// StopSubsystem transitions s from Active to Inactive.
func (e *Engine) StopSubsystem(s engine.SubsystemHandle, done engine.CompletionFunc, token any) int32 {
	return e.transition(s, engine.SubsystemActive, engine.SubsystemInactive, done, token)
}

// PauseSubsystem transitions s from Active to Paused for the given
// namespace tag.
func (e *Engine) PauseSubsystem(s engine.SubsystemHandle, nsid uint32, done engine.CompletionFunc, token any) int32 {
	_ = nsid // the in-memory engine has no per-namespace queues to quiesce
	return e.transition(s, engine.SubsystemActive, engine.SubsystemPaused, done, token)
}

// ResumeSubsystem transitions s from Paused back to Active.
func (e *Engine) ResumeSubsystem(s engine.SubsystemHandle, done engine.CompletionFunc, token any) int32 {
	return e.transition(s, engine.SubsystemPaused, engine.SubsystemActive, done, token)
}

// Listen registers t to accept connections on the address described by id.
// Requires a transport of the matching type to be attached first.
func (e *Engine) Listen(t engine.TargetHandle, id *engine.TransportID, opts *engine.ListenOpts) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id == nil || opts == nil {
		return -int32(status.EINVAL)
	}

	tgt := t.(*target)

	found := false
	for tr := tgt.transports; tr != nil; tr = tr.next {
		if tr.trtype == id.Trtype {
			found = true
			break
		}
	}
	if !found {
		return -int32(status.ENODEV)
	}

	for _, existing := range tgt.listeners {
		if existing == *id {
			return -int32(status.EEXIST)
		}
	}

	tgt.listeners = append(tgt.listeners, *id)
	return 0
}

// Listeners returns a copy of t's registered listen addresses. Not part of
// engine.Engine; exposed for tests.
func (e *Engine) Listeners(t engine.TargetHandle) []engine.TransportID {
	e.mu.Lock()
	defer e.mu.Unlock()

	tgt := t.(*target)
	out := make([]engine.TransportID, len(tgt.listeners))
	copy(out, tgt.listeners)
	return out
}
