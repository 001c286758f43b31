package config

import (
	"github.com/marmos91/dittofab/pkg/engine"
	"github.com/marmos91/dittofab/pkg/store/state"
)

// ToRecord converts the declarative target configuration into the state
// store's record form, ready to be applied by the server.
//
// EnableDiscovery becomes a leading discovery-typed subsystem record so
// that a restored target gets its discovery subsystem back without the
// flag being persisted separately.
func (tc *TargetConfig) ToRecord() *state.TargetRecord {
	rec := &state.TargetRecord{
		Name:       tc.Name,
		Transports: make([]state.TransportRecord, 0, len(tc.Transports)),
		Subsystems: make([]state.SubsystemRecord, 0, len(tc.Subsystems)+1),
		Listeners:  make([]state.ListenerRecord, 0, len(tc.Listeners)),
	}

	for _, tr := range tc.Transports {
		rec.Transports = append(rec.Transports, state.TransportRecord{
			Type:          tr.Type,
			MaxQueueDepth: tr.MaxQueueDepth,
			MaxIOSize:     tr.MaxIOSize,
			IOUnitSize:    tr.IOUnitSize,
		})
	}

	if tc.EnableDiscovery {
		rec.Subsystems = append(rec.Subsystems, state.SubsystemRecord{
			NQN:          engine.DiscoveryNQN,
			Type:         engine.SubsystemTypeDiscovery.String(),
			AllowAnyHost: true,
		})
	}

	for _, ss := range tc.Subsystems {
		rec.Subsystems = append(rec.Subsystems, state.SubsystemRecord{
			NQN:           ss.NQN,
			Type:          engine.SubsystemTypeNVMe.String(),
			NumNamespaces: ss.NumNamespaces,
			AllowAnyHost:  ss.AllowAnyHost,
		})
	}

	for _, ln := range tc.Listeners {
		rec.Listeners = append(rec.Listeners, state.ListenerRecord{
			Trtype:  ln.Trtype,
			Adrfam:  ln.Adrfam,
			Traddr:  ln.Traddr,
			Trsvcid: ln.Trsvcid,
		})
	}

	return rec
}
