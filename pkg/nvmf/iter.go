package nvmf

import (
	"iter"

	"github.com/marmos91/dittofab/pkg/engine"
	"github.com/marmos91/dittofab/pkg/metrics"
)

// The engine exposes its collections only through get-first/get-next
// primitives over natively linked lists. The iterators here hold a single
// cursor handle and re-derive the next cursor from the engine on every
// step: the sequence is lazy, finite, and non-restartable, and it reflects
// membership at traversal time rather than a snapshot. Once a cursor
// reaches nil the sequence is exhausted for good; request a fresh iterator
// to traverse again.

// Targets iterates over every target known to the engine.
type Targets struct {
	eng engine.Engine
	cur engine.TargetHandle
}

// AllTargets returns an iterator over the engine's targets.
func AllTargets(eng engine.Engine) *Targets {
	return &Targets{eng: eng, cur: eng.FirstTarget()}
}

// Next returns the next target, or nil when the sequence is exhausted.
func (it *Targets) Next() *Target {
	if it.cur == nil {
		return nil
	}

	cur := it.cur
	it.cur = it.eng.NextTarget(cur)
	return TargetFromHandle(it.eng, cur)
}

// All adapts the iterator for use with range.
func (it *Targets) All() iter.Seq[*Target] {
	return func(yield func(*Target) bool) {
		for t := it.Next(); t != nil; t = it.Next() {
			if !yield(t) {
				return
			}
		}
	}
}

// Transports iterates over the transports owned by one target.
type Transports struct {
	eng engine.Engine
	cur engine.TransportHandle
}

// Next returns the next transport, or nil when the sequence is exhausted.
func (it *Transports) Next() *Transport {
	if it.cur == nil {
		return nil
	}

	cur := it.cur
	it.cur = it.eng.NextTransport(cur)
	return TransportFromHandle(it.eng, cur)
}

// All adapts the iterator for use with range.
func (it *Transports) All() iter.Seq[*Transport] {
	return func(yield func(*Transport) bool) {
		for tr := it.Next(); tr != nil; tr = it.Next() {
			if !yield(tr) {
				return
			}
		}
	}
}

// Subsystems iterates over the subsystems owned by one target.
type Subsystems struct {
	eng engine.Engine
	m   metrics.TargetMetrics
	cur engine.SubsystemHandle
}

// Next returns the next subsystem, or nil when the sequence is exhausted.
func (it *Subsystems) Next() *Subsystem {
	if it.cur == nil {
		return nil
	}

	cur := it.cur
	it.cur = it.eng.NextSubsystem(cur)

	s := SubsystemFromHandle(it.eng, cur)
	if it.m != nil {
		s.m = it.m
	}
	return s
}

// All adapts the iterator for use with range.
func (it *Subsystems) All() iter.Seq[*Subsystem] {
	return func(yield func(*Subsystem) bool) {
		for s := it.Next(); s != nil; s = it.Next() {
			if !yield(s) {
				return
			}
		}
	}
}
