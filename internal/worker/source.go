// ============================================================================
// Horde Bridge Job Source Interface
// ============================================================================
//
// Package: internal/worker
// File: source.go
// Purpose: the seams between the lifecycle and the outside world.
//
//   - JobSource: the queue service (claim and submit)
//   - HealthChecker: the cached inference server probe
//   - Recorder: metrics sink, no-op when metrics are disabled
//
// ============================================================================

package worker

import (
	"context"
	"time"

	"github.com/ChuLiYu/horde-bridge/pkg/types"
)

// JobSource fetches jobs and reports their results.
type JobSource interface {
	// Poll asks the queue for one job. An empty claim means the queue had
	// nothing for this worker.
	Poll(ctx context.Context) (*types.Claim, error)

	// Acknowledge submits a generation (or a faulted release) and returns
	// the reward credited for it.
	Acknowledge(ctx context.Context, sub types.Submission) (float64, error)
}

// HealthChecker reports whether the inference server can take work.
type HealthChecker interface {
	Check(ctx context.Context) bool
}

// Recorder receives lifecycle and pool events.
type Recorder interface {
	RecordIteration(result string, d time.Duration)
	RecordClaim()
	RecordRejected()
	RecordGeneration(ok bool)
	RecordSubmit(ok bool, reward float64)
	RecordFaulted()
	SetConsecutiveFailures(n int)
	SetServerHealthy(healthy bool)
	LoopStarted()
	LoopStopped()
}

type nopRecorder struct{}

func (nopRecorder) RecordIteration(string, time.Duration) {}
func (nopRecorder) RecordClaim()                          {}
func (nopRecorder) RecordRejected()                       {}
func (nopRecorder) RecordGeneration(bool)                 {}
func (nopRecorder) RecordSubmit(bool, float64)            {}
func (nopRecorder) RecordFaulted()                        {}
func (nopRecorder) SetConsecutiveFailures(int)            {}
func (nopRecorder) SetServerHealthy(bool)                 {}
func (nopRecorder) LoopStarted()                          {}
func (nopRecorder) LoopStopped()                          {}
