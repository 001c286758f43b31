// Package engine defines the boundary contract between the DittoFab control
// plane and the underlying poll-mode storage engine.
//
// The engine owns every target, transport, and subsystem outright; the
// control plane in pkg/nvmf only holds opaque handles into it. Asynchronous
// operations follow a callback ABI: the caller registers a completion
// function plus an opaque token, and the engine invokes that function at
// most once with a signed status (0 = success, negative = negated errno).
// A positive status or a second invocation is a contract violation on the
// engine's side, not a condition the control plane recovers from.
//
// Some destructive primitives may complete synchronously inside the
// submission call. Those report the distinction through their return value:
// 0 means "already complete, no callback will fire", -EINPROGRESS means
// "accepted, the callback fires later", anything else is a submission
// failure.
package engine

// CompletionFunc is the completion callback ABI shared by all asynchronous
// engine primitives. The engine invokes it at most once per registered
// operation, passing back the caller's opaque token and the operation's
// signed status.
type CompletionFunc func(token any, stat int32)

// TargetHandle is an opaque non-nil reference to an engine-owned target.
type TargetHandle interface {
	NVMFTarget()
}

// TransportHandle is an opaque non-nil reference to an engine-owned
// fabric transport.
type TransportHandle interface {
	NVMFTransport()
}

// SubsystemHandle is an opaque non-nil reference to an engine-owned
// subsystem.
type SubsystemHandle interface {
	NVMFSubsystem()
}

// SubsystemType distinguishes ordinary NVMe subsystems from the well-known
// discovery subsystem clients use to enumerate the others.
type SubsystemType int

const (
	SubsystemTypeNVMe SubsystemType = iota
	SubsystemTypeDiscovery
)

// String returns a human-readable subsystem type name.
func (st SubsystemType) String() string {
	switch st {
	case SubsystemTypeNVMe:
		return "nvme"
	case SubsystemTypeDiscovery:
		return "discovery"
	default:
		return "unknown"
	}
}

// SubsystemState is the engine-authoritative lifecycle state of a
// subsystem. The control plane never caches or pre-validates it.
type SubsystemState int

const (
	// SubsystemInactive is the initial state. Namespace and configuration
	// changes are allowed; no I/O is served.
	SubsystemInactive SubsystemState = iota
	// SubsystemActive serves I/O.
	SubsystemActive
	// SubsystemPaused has I/O suspended for a namespace tag; configuration
	// changes are still allowed.
	SubsystemPaused
)

// String returns a human-readable subsystem state name.
func (ss SubsystemState) String() string {
	switch ss {
	case SubsystemInactive:
		return "inactive"
	case SubsystemActive:
		return "active"
	case SubsystemPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// DiscoveryNQN is the well-known qualified name of the discovery
// subsystem.
const DiscoveryNQN = "nqn.2014-08.org.nvmexpress.discovery"

// GlobalNSTag addresses every namespace of a subsystem in a pause request.
const GlobalNSTag uint32 = 0xffffffff

// TransportID is a pre-validated fabric address descriptor: transport type
// plus the address the target should accept connections on. It is built by
// the caller and passed by reference into Listen.
type TransportID struct {
	// Trtype is the fabric transport type (e.g. "tcp", "rdma").
	Trtype string
	// Adrfam is the address family (e.g. "ipv4", "ipv6").
	Adrfam string
	// Traddr is the transport address (host).
	Traddr string
	// Trsvcid is the transport service identifier (port).
	Trsvcid string
}

// ListenOpts carries tunables for a listen registration.
type ListenOpts struct {
	// AcceptBacklog bounds pending connection requests.
	AcceptBacklog int
	// SecureChannel requires in-band authentication on the listener.
	SecureChannel bool
}

// InitListenOpts fills opts with engine defaults. Callers must initialize
// options through here before passing them to Listen so that new fields
// pick up sane values.
func InitListenOpts(opts *ListenOpts) {
	opts.AcceptBacklog = 64
	opts.SecureChannel = false
}

// Engine is the poll-mode storage runtime the control plane drives.
//
// Handle-returning creation primitives return a nil handle on allocation
// failure. Traversal primitives return nil at the end of a collection.
// Submission primitives return a raw signed status; see the package
// documentation for how synchronous completion is signalled.
type Engine interface {
	// Targets.
	CreateTarget(name string) TargetHandle
	TargetName(t TargetHandle) string
	FirstTarget() TargetHandle
	NextTarget(t TargetHandle) TargetHandle

	// Transports. AddTransport and DestroyTransport always report their
	// outcome through the completion callback; the returned status only
	// reflects whether the submission itself was accepted.
	CreateTransport(trtype string, opts *TransportOpts) TransportHandle
	TransportType(tr TransportHandle) string
	AddTransport(t TargetHandle, tr TransportHandle, done CompletionFunc, token any) int32
	DestroyTransport(tr TransportHandle, done CompletionFunc, token any) int32
	FirstTransport(t TargetHandle) TransportHandle
	NextTransport(tr TransportHandle) TransportHandle

	// Subsystems. CreateSubsystem is synchronous and returns nil when the
	// engine cannot allocate the subsystem (including NQN collisions).
	// DestroySubsystem returns 0 when destruction completed synchronously
	// (no callback follows), -EINPROGRESS when destruction was accepted and
	// completes through the callback, and any other status on rejection.
	CreateSubsystem(t TargetHandle, nqn string, st SubsystemType, numNamespaces uint32) SubsystemHandle
	DestroySubsystem(s SubsystemHandle, done CompletionFunc, token any) int32
	SubsystemNQN(s SubsystemHandle) string
	SubsystemSerial(s SubsystemHandle) string
	SubsystemType(s SubsystemHandle) SubsystemType
	SubsystemState(s SubsystemHandle) SubsystemState
	AllowAnyHost(s SubsystemHandle, allow bool)
	FirstSubsystem(t TargetHandle) SubsystemHandle
	NextSubsystem(s SubsystemHandle) SubsystemHandle

	// Subsystem state transitions. The engine is the authority on which
	// transitions are legal; an illegal one is rejected through the
	// completion status, not pre-validated by the caller.
	StartSubsystem(s SubsystemHandle, done CompletionFunc, token any) int32
	StopSubsystem(s SubsystemHandle, done CompletionFunc, token any) int32
	PauseSubsystem(s SubsystemHandle, nsid uint32, done CompletionFunc, token any) int32
	ResumeSubsystem(s SubsystemHandle, done CompletionFunc, token any) int32

	// Listen registers t to accept connections on the address described by
	// id. Synchronous.
	Listen(t TargetHandle, id *TransportID, opts *ListenOpts) int32
}

// TransportOpts carries creation-time tunables for a transport.
type TransportOpts struct {
	// MaxQueueDepth bounds outstanding commands per queue pair.
	MaxQueueDepth uint16
	// MaxIOSize bounds a single I/O request, in bytes.
	MaxIOSize uint32
	// IOUnitSize is the I/O unit the transport splits requests into.
	IOUnitSize uint32
}

// InitTransportOpts fills opts with engine defaults.
func InitTransportOpts(opts *TransportOpts) {
	opts.MaxQueueDepth = 128
	opts.MaxIOSize = 131072
	opts.IOUnitSize = 8192
}
