// ============================================================================
// Horde Bridge Worker Pool - concurrent lifecycle loops
// ============================================================================
//
// Package: internal/worker
// File: pool.go
// Purpose: run N lifecycle loops and stop them all when things go wrong
//
// Architecture:
//   ┌──────────────────────────────┐
//   │ Pool                         │
//   │  running (atomic.Bool)       │
//   │  failures (atomic.Int64)     │
//   │  ┌────────┐                  │
//   │  │Loop 0  │── RunIteration ──┼──> queue / inference server
//   │  │Loop 1  │── RunIteration ──┤
//   │  │...     │                  │
//   │  └────────┘                  │
//   └──────────────────────────────┘
//
// Circuit breaker:
//   Every loop shares one consecutive-failure counter. A successful iteration
//   resets it; a failed (or panicking) iteration increments it. When it reaches
//   the threshold the running flag is cleared and no loop starts another
//   iteration. Run then returns ErrCircuitOpen.
//
// Shutdown:
//   Cancelling the Run context clears the running flag. Loops finish the
//   iteration in progress and exit; Run returns nil once all have exited.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/horde-bridge/internal/metrics"
)

// DefaultFailureThreshold is the number of consecutive failed iterations that
// stops the pool.
const DefaultFailureThreshold = 6

var (
	// ErrCircuitOpen is returned by Run when the failure threshold tripped.
	ErrCircuitOpen = errors.New("too many consecutive failures, worker stopped")
	// ErrPoolStarted is returned when Run is called twice.
	ErrPoolStarted = errors.New("worker pool already started")
)

// Iterator is one unit of loop work. *Lifecycle implements it.
type Iterator interface {
	RunIteration(ctx context.Context) bool
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Loops            int // concurrent loops, at least 1
	FailureThreshold int // defaults to DefaultFailureThreshold
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Loops               int   `json:"loops"`
	ActiveLoops         int64 `json:"active_loops"`
	Running             bool  `json:"running"`
	Tripped             bool  `json:"tripped"`
	ConsecutiveFailures int64 `json:"consecutive_failures"`
	FailureThreshold    int   `json:"failure_threshold"`
	Iterations          int64 `json:"iterations"`
	Successes           int64 `json:"successes"`
	Failures            int64 `json:"failures"`
	Panics              int64 `json:"panics"`
}

// Pool runs lifecycle loops concurrently.
type Pool struct {
	iter     Iterator
	cfg      PoolConfig
	logger   *slog.Logger
	recorder Recorder

	running  atomic.Bool
	tripped  atomic.Bool
	failures atomic.Int64 // consecutive

	active     atomic.Int64
	iterations atomic.Int64
	successes  atomic.Int64
	failed     atomic.Int64
	panics     atomic.Int64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// NewPool creates a pool; recorder may be nil.
func NewPool(iter Iterator, cfg PoolConfig, logger *slog.Logger, recorder Recorder) *Pool {
	if cfg.Loops < 1 {
		cfg.Loops = 1
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Pool{
		iter:     iter,
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
	}
}

// Run starts the loops and blocks until every loop has exited.
func (p *Pool) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrPoolStarted
	}
	p.started = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running.Store(true)
	p.mu.Unlock()
	defer cancel()

	stop := context.AfterFunc(runCtx, func() { p.running.Store(false) })
	defer stop()

	p.logger.Info("Starting worker loops", "loops", p.cfg.Loops, "failure_threshold", p.cfg.FailureThreshold)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Loops; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(runCtx, id)
		}(i)
	}
	wg.Wait()

	if p.tripped.Load() {
		return ErrCircuitOpen
	}
	p.logger.Info("Worker loops stopped")
	return nil
}

// Stop clears the running flag. Loops exit after their current iteration.
func (p *Pool) Stop() {
	p.running.Store(false)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Running reports whether loops may start new iterations.
func (p *Pool) Running() bool {
	return p.running.Load()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Loops:               p.cfg.Loops,
		ActiveLoops:         p.active.Load(),
		Running:             p.running.Load(),
		Tripped:             p.tripped.Load(),
		ConsecutiveFailures: p.failures.Load(),
		FailureThreshold:    p.cfg.FailureThreshold,
		Iterations:          p.iterations.Load(),
		Successes:           p.successes.Load(),
		Failures:            p.failed.Load(),
		Panics:              p.panics.Load(),
	}
}

func (p *Pool) loop(ctx context.Context, id int) {
	log := p.logger.With("loop", id)
	p.active.Add(1)
	p.recorder.LoopStarted()
	defer func() {
		p.active.Add(-1)
		p.recorder.LoopStopped()
		log.Debug("Loop exited")
	}()

	for p.running.Load() {
		start := time.Now()
		ok, panicked := p.runIteration(ctx, log)
		elapsed := time.Since(start)
		p.iterations.Add(1)

		result := metrics.ResultSuccess
		switch {
		case panicked:
			result = metrics.ResultPanic
		case !ok:
			result = metrics.ResultFailure
		}
		p.recorder.RecordIteration(result, elapsed)
		log.Info("Iteration finished", "result", result, "duration", elapsed.Round(time.Millisecond))

		if ok {
			p.successes.Add(1)
			p.failures.Store(0)
			p.recorder.SetConsecutiveFailures(0)
			continue
		}

		p.failed.Add(1)
		n := p.failures.Add(1)
		p.recorder.SetConsecutiveFailures(int(n))
		if n >= int64(p.cfg.FailureThreshold) && p.running.CompareAndSwap(true, false) {
			p.tripped.Store(true)
			log.Error("Too many consecutive failures, stopping worker",
				"consecutive_failures", n, "threshold", p.cfg.FailureThreshold)
			p.Stop()
		}
	}
}

// runIteration turns a panic inside an iteration into a failed iteration.
func (p *Pool) runIteration(ctx context.Context, log *slog.Logger) (ok, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			log.Error("Iteration panicked", "error", fmt.Sprint(r), "stack", string(debug.Stack()))
			ok, panicked = false, true
		}
	}()
	return p.iter.RunIteration(ctx), false
}
