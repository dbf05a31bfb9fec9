// Package mocktime keeps the mock clocks of all nodes of a test network in
// step. Nodes never read the wall clock during a test, they only see the time
// the coordinator pushes to them.
package mocktime

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/onflow/quorumnet/module"
	"github.com/onflow/quorumnet/module/process"
)

// DefaultWorkers is the default number of concurrent setmocktime calls.
const DefaultWorkers = 20

// Arg is the node argument prefix setting the initial mock time.
const Arg = "-mocktime="

// NodeSet provides the nodes a clock change applies to by default.
type NodeSet interface {
	Nodes() []*process.NodeHandle
}

type Option func(*Coordinator)

// WithClock replaces the wall clock the coordinator derives new times from.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithWorkers sets the width of the setmocktime fan-out.
func WithWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// Coordinator pushes mock time to nodes.
type Coordinator struct {
	log     zerolog.Logger
	nodes   NodeSet
	metrics module.QuorumMetrics
	now     func() time.Time
	workers int
	current *atomic.Int64
}

func NewCoordinator(log zerolog.Logger, nodes NodeSet, metrics module.QuorumMetrics, opts ...Option) *Coordinator {
	c := &Coordinator{
		log:     log.With().Str("component", "mocktime").Logger(),
		nodes:   nodes,
		metrics: metrics,
		now:     time.Now,
		workers: DefaultWorkers,
		current: atomic.NewInt64(0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bump sets the mock time of nodes to the current wall clock time plus
// delta seconds and returns the time that was set. The new time is computed
// once, so every node receives the same value. Without explicit nodes, all
// nodes of the node set are updated.
func (c *Coordinator) Bump(ctx context.Context, delta int64, nodes ...*process.NodeHandle) (int64, error) {
	t := c.now().Unix() + delta
	return t, c.Set(ctx, t, nodes...)
}

// Set sets the mock time of nodes to t. Without explicit nodes, all nodes of
// the node set are updated. Every node is attempted, failures are aggregated.
func (c *Coordinator) Set(ctx context.Context, t int64, nodes ...*process.NodeHandle) error {
	if len(nodes) == 0 {
		nodes = c.nodes.Nodes()
	}

	var errs *multierror.Error
	var mu sync.Mutex

	pool := workerpool.New(c.workers)
	for _, h := range nodes {
		if h == nil {
			continue
		}
		h := h
		pool.Submit(func() {
			err := h.Client.SetMockTime(ctx, t)
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("could not set mock time on %s: %w", h.Name(), err))
				mu.Unlock()
			}
		})
	}
	pool.StopWait()

	c.current.Store(t)
	c.metrics.MockTimeAdvanced(t)
	c.log.Debug().Int64("mocktime", t).Int("nodes", len(nodes)).Msg("mock time set")

	return errs.ErrorOrNil()
}

// Current returns the mock time most recently pushed to nodes, 0 if none was.
func (c *Coordinator) Current() int64 {
	return c.current.Load()
}

// Args returns the node arguments starting a node at the current mock time.
func (c *Coordinator) Args() []string {
	t := c.Current()
	if t == 0 {
		return nil
	}
	return []string{Arg + strconv.FormatInt(t, 10)}
}
