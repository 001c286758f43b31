// Package state defines the persistent store for a target's declarative
// configuration.
//
// The engine's resources are volatile: a restart loses every transport and
// subsystem. A state store keeps the targets' definitions - not their
// runtime state - so the control plane can replay them on startup.
// Backends live in subpackages (badger for embedded persistence, memory
// for tests, s3 for off-site snapshots).
package state

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for the requested target.
var ErrNotFound = errors.New("target record not found")

// TransportRecord describes a transport definition.
type TransportRecord struct {
	// Type is the fabric transport type (e.g. "tcp", "rdma").
	Type string `json:"type"`

	// MaxQueueDepth bounds outstanding commands per queue pair.
	MaxQueueDepth uint16 `json:"max_queue_depth,omitempty"`

	// MaxIOSize bounds a single I/O request, in bytes.
	MaxIOSize uint32 `json:"max_io_size,omitempty"`

	// IOUnitSize is the I/O unit the transport splits requests into.
	IOUnitSize uint32 `json:"io_unit_size,omitempty"`
}

// ListenerRecord describes a fabric address the target accepts
// connections on.
type ListenerRecord struct {
	Trtype  string `json:"trtype"`
	Adrfam  string `json:"adrfam,omitempty"`
	Traddr  string `json:"traddr"`
	Trsvcid string `json:"trsvcid"`
}

// SubsystemRecord describes a subsystem definition.
type SubsystemRecord struct {
	// NQN is the subsystem's qualified name, unique per target.
	NQN string `json:"nqn"`

	// Type is "nvme" or "discovery".
	Type string `json:"type"`

	// NumNamespaces is the namespace capacity requested at creation.
	NumNamespaces uint32 `json:"num_namespaces"`

	// AllowAnyHost opens the subsystem to any host.
	AllowAnyHost bool `json:"allow_any_host"`
}

// TargetRecord is the full declarative configuration of one target.
type TargetRecord struct {
	// Name identifies the target.
	Name string `json:"name"`

	// Transports lists the transport definitions in attach order.
	Transports []TransportRecord `json:"transports"`

	// Subsystems lists the subsystem definitions in creation order.
	Subsystems []SubsystemRecord `json:"subsystems"`

	// Listeners lists the fabric addresses the target listens on.
	Listeners []ListenerRecord `json:"listeners"`

	// SavedAt is when this record was written.
	SavedAt time.Time `json:"saved_at"`
}

// Store persists target records by name.
//
// Implementations must be safe for concurrent use. Records are written
// whole; there is no partial update.
type Store interface {
	// SaveTarget writes rec, replacing any previous record with the same
	// name.
	SaveTarget(ctx context.Context, rec *TargetRecord) error

	// LoadTarget reads the record for the named target. Returns
	// ErrNotFound if no record exists.
	LoadTarget(ctx context.Context, name string) (*TargetRecord, error)

	// DeleteTarget removes the named record. Returns ErrNotFound if no
	// record exists.
	DeleteTarget(ctx context.Context, name string) error

	// ListTargets returns the names of all stored records.
	ListTargets(ctx context.Context) ([]string, error)

	// Close releases backend resources. The store must not be used after
	// Close.
	Close() error
}
