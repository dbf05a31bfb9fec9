// Package process supervises node processes: launching them, waiting for
// their control interface to come up, and shutting them down gracefully or by
// force.
package process

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	units "github.com/docker/go-units"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	psprocess "github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/errgroup"

	"github.com/onflow/quorumnet/client"
	"github.com/onflow/quorumnet/module"
	"github.com/onflow/quorumnet/utils/retry"
)

// DefaultMaxParallel is the default number of nodes started concurrently.
const DefaultMaxParallel = 20

// Config holds the supervisor's timeouts.
type Config struct {
	// StartTimeout bounds the wait for a launched node to answer its liveness probe.
	StartTimeout time.Duration
	// StopGrace is the time a node gets to exit after a graceful stop request.
	StopGrace time.Duration
	// PollInterval is the interval between liveness probes.
	PollInterval time.Duration
	// MaxParallel is the default width of StartMany.
	MaxParallel int
}

func DefaultConfig() Config {
	return Config{
		StartTimeout: 60 * time.Second,
		StopGrace:    60 * time.Second,
		PollInterval: 250 * time.Millisecond,
		MaxParallel:  DefaultMaxParallel,
	}
}

// Metrics is the subset of harness metrics reported by the supervisor.
type Metrics interface {
	module.ProcessMetrics
	module.PollMetrics
}

// Supervisor starts and stops node processes and tracks their handles.
type Supervisor struct {
	log      zerolog.Logger
	cfg      Config
	launcher module.Launcher
	clients  module.ClientFactory
	metrics  Metrics

	mu      sync.Mutex
	handles map[int]*NodeHandle
}

func NewSupervisor(log zerolog.Logger, cfg Config, launcher module.Launcher, clients module.ClientFactory, metrics Metrics) *Supervisor {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	return &Supervisor{
		log:      log.With().Str("component", "process_supervisor").Logger(),
		cfg:      cfg,
		launcher: launcher,
		clients:  clients,
		metrics:  metrics,
		handles:  make(map[int]*NodeHandle),
	}
}

// Start launches the node described by spec and blocks until its control
// interface answers the liveness probe.
//
// Expected errors during normal operations:
//   - ProcessStartTimeoutError if the node did not become ready in time; the
//     process is killed before returning
//   - NodeExitedError if the process terminated during startup
func (s *Supervisor) Start(ctx context.Context, spec NodeSpec) (*NodeHandle, error) {
	name := spec.name()
	log := s.log.With().Str("node", name).Logger()

	s.mu.Lock()
	if existing, ok := s.handles[spec.Index]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("node %d is already running as %s", spec.Index, existing.Name())
	}
	s.mu.Unlock()

	start := time.Now()
	proc, err := s.launcher.Launch(ctx, module.LaunchSpec{
		Name:    name,
		Binary:  spec.Binary,
		Args:    spec.Args,
		Dir:     spec.Dir,
		RPC:     spec.RPC,
		P2PPort: spec.P2PPort,
	})
	if err != nil {
		s.metrics.NodeStartFailed()
		return nil, fmt.Errorf("could not launch %s: %w", name, err)
	}
	h := newHandle(spec, proc)

	nodeClient, err := s.clients(ctx, spec.RPC)
	if err != nil {
		s.abort(h)
		s.metrics.NodeStartFailed()
		return nil, fmt.Errorf("could not create client for %s: %w", name, err)
	}
	h.Client = nodeClient

	err = retry.Until(ctx, log, "node_start", s.cfg.StartTimeout, s.cfg.PollInterval, func(ctx context.Context) error {
		select {
		case <-h.Exited():
			return NewNodeExitedError(name, h.ExitErr())
		default:
		}

		_, err := nodeClient.GetBlockCount(ctx)
		if err == nil {
			return nil
		}
		// any reply other than "warming up" means the node is broken rather than slow
		if rpcErr, ok := client.AsRPCError(err); ok && !client.IsWarmupError(rpcErr) {
			return err
		}
		return retry.Pending(err)
	}, retry.WithMetrics(s.metrics))
	if err != nil {
		s.abort(h)
		s.metrics.NodeStartFailed()
		var timeoutErr retry.TimeoutError
		if errors.As(err, &timeoutErr) {
			return nil, NewProcessStartTimeoutError(name, s.cfg.StartTimeout, timeoutErr.Last)
		}
		return nil, fmt.Errorf("could not start %s: %w", name, err)
	}

	h.startedAt = time.Now()
	s.mu.Lock()
	s.handles[spec.Index] = h
	s.mu.Unlock()

	s.metrics.NodeStarted(time.Since(start))
	log.Info().
		Int("pid", h.Pid()).
		Str("rpc", spec.RPC.URL()).
		Dur("startup", time.Since(start)).
		Msg("node started")
	return h, nil
}

// abort kills a node that failed to start and waits for it to exit.
func (s *Supervisor) abort(h *NodeHandle) {
	if h.Running() {
		if err := h.proc.Kill(); err != nil {
			s.log.Warn().Err(err).Str("node", h.Name()).Msg("could not kill node")
		}
	}
	<-h.Exited()
}

// StartMany starts all specs with at most maxParallel concurrent starts. All
// starts are awaited. If any start fails, every node of the batch that did
// start is stopped before the error is returned.
func (s *Supervisor) StartMany(ctx context.Context, specs []NodeSpec, maxParallel int) ([]*NodeHandle, error) {
	if maxParallel <= 0 {
		maxParallel = s.cfg.MaxParallel
	}

	handles := make([]*NodeHandle, len(specs))
	var errs *multierror.Error
	var errsMu sync.Mutex

	// the group context is not used: a failing start must not cancel its siblings
	// half way, they run to completion and are rolled back below
	g := new(errgroup.Group)
	g.SetLimit(maxParallel)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			h, err := s.Start(ctx, spec)
			if err != nil {
				errsMu.Lock()
				errs = multierror.Append(errs, err)
				errsMu.Unlock()
				return err
			}
			handles[i] = h
			return nil
		})
	}
	_ = g.Wait()

	if err := errs.ErrorOrNil(); err != nil {
		var started []*NodeHandle
		for _, h := range handles {
			if h != nil {
				started = append(started, h)
			}
		}
		s.log.Warn().Err(err).Int("started", len(started)).Msg("batch start failed, stopping started nodes")
		if stopErr := s.stopAll(context.Background(), started, s.cfg.StopGrace); stopErr != nil {
			err = multierror.Append(err, stopErr)
		}
		return nil, err
	}
	return handles, nil
}

// Stop asks the node to shut down, waits up to grace for it to exit and kills
// it otherwise. It returns once the process terminated. Nodes flagged
// keep-running are left alone.
func (s *Supervisor) Stop(ctx context.Context, h *NodeHandle, grace time.Duration) error {
	return s.stopAll(ctx, []*NodeHandle{h}, grace)
}

// StopAll stops every tracked node. Stop requests are issued to all nodes
// before waiting for any of them.
func (s *Supervisor) StopAll(ctx context.Context, grace time.Duration) error {
	return s.stopAll(ctx, s.Handles(), grace)
}

func (s *Supervisor) stopAll(ctx context.Context, handles []*NodeHandle, grace time.Duration) error {
	var stopping []*NodeHandle
	for _, h := range handles {
		if h.KeepRunning() {
			s.log.Info().Str("node", h.Name()).Int("pid", h.Pid()).Msg("leaving node running")
			continue
		}
		s.requestStop(ctx, h)
		stopping = append(stopping, h)
	}

	var errs *multierror.Error
	for _, h := range stopping {
		if err := s.awaitStop(ctx, h, grace); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (s *Supervisor) requestStop(ctx context.Context, h *NodeHandle) {
	if !h.Running() {
		return
	}
	s.logResources(ctx, h)
	if err := h.Client.Stop(ctx); err != nil {
		// the node may already be going down, the grace period decides
		s.log.Warn().Err(err).Str("node", h.Name()).Msg("graceful stop request failed")
	}
}

func (s *Supervisor) awaitStop(ctx context.Context, h *NodeHandle, grace time.Duration) error {
	forced := false
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.Exited():
	case <-timer.C:
		s.log.Warn().Str("node", h.Name()).Dur("grace", grace).Msg("node did not stop in time, killing it")
		if err := h.proc.Kill(); err != nil {
			return fmt.Errorf("could not kill %s: %w", h.Name(), err)
		}
		forced = true
	case <-ctx.Done():
		_ = h.proc.Kill()
		forced = true
	}

	if err := s.WaitExited(context.Background(), h); err != nil {
		return err
	}
	s.untrack(h)
	s.metrics.NodeStopped(forced)
	s.log.Info().Str("node", h.Name()).Bool("forced", forced).Msg("node stopped")
	return nil
}

// WaitExited blocks until the node's process terminated.
func (s *Supervisor) WaitExited(ctx context.Context, h *NodeHandle) error {
	select {
	case <-h.Exited():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("interrupted waiting for %s to exit: %w", h.Name(), ctx.Err())
	}
}

// WaitForExit waits for a node to terminate on its own, e.g. after a fatal
// error it is expected to hit, and returns its exit error.
func (s *Supervisor) WaitForExit(ctx context.Context, h *NodeHandle, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.WaitExited(waitCtx, h); err != nil {
		return err
	}
	s.untrack(h)
	return h.ExitErr()
}

// Restart stops the node and starts it again from the same spec, with
// extraArgs appended to its arguments.
func (s *Supervisor) Restart(ctx context.Context, h *NodeHandle, extraArgs ...string) (*NodeHandle, error) {
	if err := s.Stop(ctx, h, s.cfg.StopGrace); err != nil {
		return nil, fmt.Errorf("could not stop %s for restart: %w", h.Name(), err)
	}
	if h.Running() {
		return nil, fmt.Errorf("cannot restart %s: flagged keep-running", h.Name())
	}
	spec := h.Spec()
	spec.Args = append(spec.Args, extraArgs...)
	return s.Start(ctx, spec)
}

// Handle returns the tracked handle with the given index.
func (s *Supervisor) Handle(index int) (*NodeHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[index]
	return h, ok
}

// Handles returns all tracked handles ordered by index.
func (s *Supervisor) Handles() []*NodeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	handles := make([]*NodeHandle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Index() < handles[j].Index() })
	return handles
}

func (s *Supervisor) untrack(h *NodeHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.handles[h.Index()]; ok && cur == h {
		delete(s.handles, h.Index())
	}
}

// logResources logs the memory and cpu usage of a node process.
func (s *Supervisor) logResources(ctx context.Context, h *NodeHandle) {
	pid := h.Pid()
	if pid <= 0 {
		return
	}
	p, err := psprocess.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		s.log.Debug().Err(err).Str("node", h.Name()).Msg("could not inspect node process")
		return
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		s.log.Debug().Err(err).Str("node", h.Name()).Msg("could not read node memory usage")
		return
	}
	cpu, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		cpu = -1
	}
	s.log.Info().
		Str("node", h.Name()).
		Int("pid", pid).
		Str("rss", units.BytesSize(float64(mem.RSS))).
		Float64("cpu_percent", cpu).
		Dur("uptime", h.Uptime()).
		Msg("node resource usage")
}
