// Package server orchestrates the lifecycle of the DittoFab control plane:
// it brings targets up from their saved definitions, drives the engine's
// completion poll loop, and tears everything down on shutdown.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittofab/internal/logger"
	"github.com/marmos91/dittofab/pkg/engine"
	"github.com/marmos91/dittofab/pkg/metrics"
	"github.com/marmos91/dittofab/pkg/nvmf"
	"github.com/marmos91/dittofab/pkg/store/state"
)

// Poller is implemented by engines that deliver deferred completions from
// a poll loop. Engines that complete everything inline need not implement
// it.
type Poller interface {
	Poll() int
}

// Options tunes the server's runtime behavior.
type Options struct {
	// PollInterval is the cadence of the engine completion poll loop.
	// Default: 10ms
	PollInterval time.Duration

	// ShutdownTimeout bounds graceful teardown of all targets.
	// Default: 30s
	ShutdownTimeout time.Duration
}

// applyDefaults fills in zero values with sensible defaults.
func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Millisecond
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Second
	}
}

// FabServer manages a set of NVMe-oF targets on a single storage engine.
//
// Lifecycle:
//  1. Creation: New() with an engine and a state store
//  2. Bring-up: ApplyRecord() for each target definition, or Restore()
//     to replay every definition the state store holds
//  3. Operation: Serve() drives the engine poll loop until the context
//     is cancelled
//  4. Shutdown: context cancellation stops every target's subsystems in
//     reverse bring-up order
//
// Thread safety:
// FabServer is safe for concurrent use. ApplyRecord() may be called
// concurrently with other methods. Serve() must only be called once per
// server instance.
type FabServer struct {
	// eng is the storage engine all targets live on
	eng engine.Engine

	// store persists target definitions across restarts
	store state.Store

	// m is the metrics sink handed to every target
	m metrics.TargetMetrics

	// opts holds runtime tunables
	opts Options

	// mu protects targets and the serving flag
	mu sync.Mutex

	// targets lists the targets in bring-up order
	targets []*nvmf.Target

	// serveOnce ensures Serve() is only called once
	serveOnce sync.Once

	// served indicates whether Serve() has been called
	served bool
}

// New creates a FabServer over the given engine and state store.
//
// Panics if either is nil (programmer error).
func New(eng engine.Engine, store state.Store, opts Options) *FabServer {
	if eng == nil {
		panic("engine cannot be nil")
	}
	if store == nil {
		panic("state store cannot be nil")
	}

	opts.applyDefaults()

	return &FabServer{
		eng:   eng,
		store: store,
		m:     metrics.NewNoopTargetMetrics(),
		opts:  opts,
	}
}

// UseMetrics attaches a metrics sink to targets brought up after this
// call. Pass nil to disable collection.
func (s *FabServer) UseMetrics(m metrics.TargetMetrics) {
	if m == nil {
		m = metrics.NewNoopTargetMetrics()
	}
	s.m = m
}

// ApplyRecord brings up a target from its declarative definition and
// persists the definition to the state store.
//
// Bring-up order mirrors a manual configuration session: create the
// target, attach transports, create subsystems, register listeners,
// then start every subsystem. The first failure aborts bring-up and is
// returned; resources created before the failure stay on the engine.
func (s *FabServer) ApplyRecord(ctx context.Context, rec *state.TargetRecord) (*nvmf.Target, error) {
	tgt, err := s.bringUp(ctx, rec)
	if err != nil {
		return nil, err
	}

	saved := *rec
	saved.SavedAt = time.Now().UTC()
	if err := s.store.SaveTarget(ctx, &saved); err != nil {
		return nil, fmt.Errorf("target %q is up but saving its definition failed: %w", rec.Name, err)
	}

	return tgt, nil
}

// Restore replays every target definition held by the state store.
//
// Intended for startup after a restart: the engine comes up empty, and
// Restore rebuilds each saved target. The first failure aborts the
// remaining definitions and is returned.
func (s *FabServer) Restore(ctx context.Context) error {
	names, err := s.store.ListTargets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list saved targets: %w", err)
	}

	for _, name := range names {
		rec, err := s.store.LoadTarget(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to load target %q: %w", name, err)
		}

		if _, err := s.bringUp(ctx, rec); err != nil {
			return fmt.Errorf("failed to restore target %q: %w", name, err)
		}

		logger.Info("Restored target %q (saved %s)", name, rec.SavedAt.Format(time.RFC3339))
	}

	return nil
}

// bringUp performs the actual target construction from a definition.
func (s *FabServer) bringUp(ctx context.Context, rec *state.TargetRecord) (*nvmf.Target, error) {
	if rec.Name == "" {
		return nil, fmt.Errorf("target definition has no name")
	}

	logger.Info("Bringing up target %q (%d transports, %d subsystems, %d listeners)",
		rec.Name, len(rec.Transports), len(rec.Subsystems), len(rec.Listeners))

	tgt, err := nvmf.CreateTarget(s.eng, rec.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create target %q: %w", rec.Name, err)
	}
	tgt.UseMetrics(s.m)

	for i, rt := range rec.Transports {
		tr, err := nvmf.NewTransport(s.eng, rt.Type, transportOpts(&rt))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s transport: %w", rt.Type, err)
		}
		if err := tgt.AddTransport(ctx, tr); err != nil {
			return nil, fmt.Errorf("failed to attach transport[%d] (%s): %w", i, rt.Type, err)
		}
		logger.Debug("Attached %s transport to target %q", rt.Type, rec.Name)
	}

	for i, rs := range rec.Subsystems {
		if rs.Type == engine.SubsystemTypeDiscovery.String() {
			if _, err := tgt.EnableDiscovery(); err != nil {
				return nil, fmt.Errorf("failed to enable discovery on target %q: %w", rec.Name, err)
			}
			logger.Debug("Enabled discovery subsystem on target %q", rec.Name)
			continue
		}

		subsys, err := tgt.AddSubsystem(rs.NQN, engine.SubsystemTypeNVMe, rs.NumNamespaces)
		if err != nil {
			return nil, fmt.Errorf("failed to create subsystem[%d] %q: %w", i, rs.NQN, err)
		}
		if rs.AllowAnyHost {
			subsys.AllowAnyHost(true)
		}
		logger.Debug("Created subsystem %q on target %q", rs.NQN, rec.Name)
	}

	for _, rl := range rec.Listeners {
		id := engine.TransportID{
			Trtype:  rl.Trtype,
			Adrfam:  rl.Adrfam,
			Traddr:  rl.Traddr,
			Trsvcid: rl.Trsvcid,
		}
		if err := tgt.Listen(&id); err != nil {
			return nil, fmt.Errorf("failed to listen on %s://%s:%s: %w", rl.Trtype, rl.Traddr, rl.Trsvcid, err)
		}
		logger.Info("Target %q listening on %s://%s:%s", rec.Name, rl.Trtype, rl.Traddr, rl.Trsvcid)
	}

	if err := tgt.StartSubsystems(ctx); err != nil {
		return nil, fmt.Errorf("failed to start subsystems on target %q: %w", rec.Name, err)
	}

	s.mu.Lock()
	s.targets = append(s.targets, tgt)
	s.mu.Unlock()

	logger.Info("Target %q is up", rec.Name)
	return tgt, nil
}

// transportOpts builds creation options from a transport record,
// returning nil when the record carries only defaults.
func transportOpts(rt *state.TransportRecord) *engine.TransportOpts {
	if rt.MaxQueueDepth == 0 && rt.MaxIOSize == 0 && rt.IOUnitSize == 0 {
		return nil
	}

	var opts engine.TransportOpts
	engine.InitTransportOpts(&opts)
	if rt.MaxQueueDepth != 0 {
		opts.MaxQueueDepth = rt.MaxQueueDepth
	}
	if rt.MaxIOSize != 0 {
		opts.MaxIOSize = rt.MaxIOSize
	}
	if rt.IOUnitSize != 0 {
		opts.IOUnitSize = rt.IOUnitSize
	}
	return &opts
}

// Serve drives the engine's completion poll loop and blocks until the
// context is cancelled.
//
// If the engine implements Poller, queued completions are delivered at
// the configured PollInterval; otherwise Serve just waits for shutdown.
// When the context is cancelled, every target's subsystems are stopped
// in reverse bring-up order under ShutdownTimeout, and Serve returns
// the context's error.
//
// Panics if called more than once on the same instance.
func (s *FabServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		panic("Serve() has already been called on this server instance")
	}
	s.served = true
	s.mu.Unlock()

	var err error
	s.serveOnce.Do(func() {
		err = s.serve(ctx)
	})
	return err
}

// serve is the internal implementation of Serve().
func (s *FabServer) serve(ctx context.Context) error {
	poller, _ := s.eng.(Poller)
	if poller != nil {
		logger.Info("Serving: polling engine completions every %v", s.opts.PollInterval)
	} else {
		logger.Info("Serving: engine completes inline, no poll loop")
	}

	if poller != nil {
		ticker := time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.shutdown()
				return ctx.Err()
			case <-ticker.C:
				poller.Poll()
			}
		}
	}

	<-ctx.Done()
	s.shutdown()
	return ctx.Err()
}

// shutdown stops every target's subsystems in reverse bring-up order.
//
// Uses a fresh timeout context: the serve context is already cancelled
// by the time shutdown runs, and the stop operations must still be able
// to suspend on their completions.
func (s *FabServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	targets := make([]*nvmf.Target, len(s.targets))
	copy(targets, s.targets)
	s.mu.Unlock()

	logger.Info("Shutdown signal received, stopping %d target(s)", len(targets))

	for i := len(targets) - 1; i >= 0; i-- {
		tgt := targets[i]
		if err := tgt.StopSubsystems(ctx); err != nil {
			logger.Error("Error stopping subsystems on target %q: %v", tgt.Name(), err)
		} else {
			logger.Debug("Target %q stopped", tgt.Name())
		}
	}

	logger.Info("FabServer stopped")
}

// Targets returns a snapshot of the targets brought up so far, in
// bring-up order. The returned slice is a copy.
func (s *FabServer) Targets() []*nvmf.Target {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := make([]*nvmf.Target, len(s.targets))
	copy(targets, s.targets)
	return targets
}

// Forget removes a target from the server's bring-up list and deletes
// its saved definition. The target's engine resources are not touched;
// callers remove subsystems themselves before forgetting the target.
func (s *FabServer) Forget(ctx context.Context, tgt *nvmf.Target) error {
	s.mu.Lock()
	for i, cur := range s.targets {
		if cur == tgt {
			s.targets = append(s.targets[:i], s.targets[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if err := s.store.DeleteTarget(ctx, tgt.Name()); err != nil && err != state.ErrNotFound {
		return fmt.Errorf("failed to delete saved definition for target %q: %w", tgt.Name(), err)
	}
	return nil
}
