// ============================================================================
// Horde Bridge Job Lifecycle - one claim/generate/submit cycle
// ============================================================================
//
// Package: internal/worker
// File: lifecycle.go
// Purpose: drive a single job from the queue to the inference server and back
//
// Iteration:
//
//   health ──unhealthy──> wait, false
//     │
//   claim  ──budget spent──> false
//     │   (empty queue and image payloads wait and claim again)
//     │
//   sanitize (max_length, max_context_length defaults)
//     │
//   dispatch ──budget spent──> faulted submit, false
//     │
//   submit ──budget spent──> logged, still true
//     │
//   true
//
// Cancellation:
//   Waits before a job is claimed (unhealthy server, claim retries, empty
//   queue) observe ctx. Once a job is claimed, dispatch and submit run on a
//   context detached from ctx, including the waits between their attempts,
//   so a claimed job is carried to a submit or a faulted release during
//   shutdown. A failing job can therefore hold shutdown for up to
//   (GenerateRetries-1) + (SubmitRetries-1) retry intervals.
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ChuLiYu/horde-bridge/internal/backend"
	"github.com/ChuLiYu/horde-bridge/internal/transport"
	"github.com/ChuLiYu/horde-bridge/pkg/types"
)

// Default retry budgets.
const (
	DefaultRetryInterval   = 10 * time.Second
	DefaultClaimRetries    = 3
	DefaultGenerateRetries = 3
	DefaultSubmitRetries   = 5
)

// Config configures a Lifecycle.
type Config struct {
	ServerURL       string        // inference server base URL
	RetryInterval   time.Duration // wait between attempts and after an unhealthy probe
	ClaimRetries    int
	GenerateRetries int
	SubmitRetries   int
}

func (c *Config) setDefaults() {
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.ClaimRetries <= 0 {
		c.ClaimRetries = DefaultClaimRetries
	}
	if c.GenerateRetries <= 0 {
		c.GenerateRetries = DefaultGenerateRetries
	}
	if c.SubmitRetries <= 0 {
		c.SubmitRetries = DefaultSubmitRetries
	}
}

// Lifecycle runs claim/generate/submit iterations. It holds no per-job state
// and is safe to share between loops.
type Lifecycle struct {
	source   JobSource
	health   HealthChecker
	adapter  backend.Adapter
	engine   backend.Poster
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
}

// NewLifecycle wires a lifecycle. engine carries generation requests to the
// inference server; recorder may be nil.
func NewLifecycle(source JobSource, health HealthChecker, adapter backend.Adapter, engine backend.Poster, cfg Config, logger *slog.Logger, recorder Recorder) *Lifecycle {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Lifecycle{
		source:   source,
		health:   health,
		adapter:  adapter,
		engine:   engine,
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
	}
}

// RunIteration performs one full cycle and reports whether it ended in a
// generation handed to submit.
func (l *Lifecycle) RunIteration(ctx context.Context) bool {
	log := l.logger.With("iteration", ulid.Make().String())
	callCtx := context.WithoutCancel(ctx)

	healthy := l.health.Check(callCtx)
	l.recorder.SetServerHealthy(healthy)
	if !healthy {
		log.Warn("Inference server unhealthy, waiting before next claim",
			"step", "health", "wait", l.cfg.RetryInterval)
		wait(ctx, l.cfg.RetryInterval)
		return false
	}

	job, ok := l.claim(ctx, log)
	if !ok {
		return false
	}
	log = log.With("jobID", job.ID)
	log.Info("New job received",
		"max_length", job.Payload.MaxLength,
		"max_context_length", job.Payload.MaxContextLength)

	generation, err := l.generate(callCtx, log, job.Payload)
	if err != nil {
		log.Error("Generation failed, releasing job", "step", "dispatch", "error", err)
		l.fault(callCtx, log, job.ID)
		return false
	}

	l.submit(callCtx, log, job.ID, generation)
	return true
}

// claim polls until it gets a usable text job, the claim budget is spent, or
// ctx is cancelled while waiting.
func (l *Lifecycle) claim(ctx context.Context, log *slog.Logger) (*types.Job, bool) {
	callCtx := context.WithoutCancel(ctx)

	for attempt := 0; attempt < l.cfg.ClaimRetries; {
		if ctx.Err() != nil {
			return nil, false
		}

		claim, err := l.source.Poll(callCtx)
		if err != nil && !claim.Empty() {
			log.Error("Claimed job has an unreadable payload, releasing job",
				"step", "claim", "jobID", claim.ID, "error", err)
			l.fault(callCtx, log.With("jobID", claim.ID), claim.ID)
			return nil, false
		}
		if err != nil {
			attempt++
			log.Error("Claim failed", "step", "claim", "attempt", attempt, "error", err)
			if !wait(ctx, l.cfg.RetryInterval) {
				return nil, false
			}
			continue
		}

		if claim.Empty() {
			log.Debug("Queue empty", "skipped", claim.Skipped)
			if !wait(ctx, l.cfg.RetryInterval) {
				return nil, false
			}
			continue
		}

		if types.IsImagePayload(claim.Payload) {
			l.recorder.RecordRejected()
			log.Warn("Rejected image payload", "step", "claim", "jobID", claim.ID)
			if !wait(ctx, l.cfg.RetryInterval) {
				return nil, false
			}
			continue
		}

		l.recorder.RecordClaim()
		req, err := types.ParseGenerationRequest(claim.Payload)
		if err != nil {
			log.Error("Claimed payload is not a text request, releasing job",
				"step", "sanitize", "jobID", claim.ID, "error", err)
			l.fault(callCtx, log.With("jobID", claim.ID), claim.ID)
			return nil, false
		}
		req.Sanitize()
		return &types.Job{ID: claim.ID, Payload: req}, true
	}

	log.Error("Claim retries exhausted", "step", "claim", "retries", l.cfg.ClaimRetries)
	return nil, false
}

// generate dispatches the job up to GenerateRetries times. Every attempt
// reuses the same job; the queue only learns about the final outcome.
func (l *Lifecycle) generate(ctx context.Context, log *slog.Logger, req types.GenerationRequest) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.GenerateRetries; attempt++ {
		text, err := l.generateOnce(ctx, req)
		l.recorder.RecordGeneration(err == nil)
		if err == nil {
			return text, nil
		}
		lastErr = err
		log.Error("Generation attempt failed", "step", "dispatch", "attempt", attempt, "error", err)
		if attempt < l.cfg.GenerateRetries {
			wait(ctx, l.cfg.RetryInterval)
		}
	}
	return "", lastErr
}

func (l *Lifecycle) generateOnce(ctx context.Context, req types.GenerationRequest) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = transport.NewParseError(l.adapter.Name()+" adapter", fmt.Errorf("panic: %v", r))
		}
	}()

	body, err := l.adapter.BuildRequest(ctx, req, l.cfg.ServerURL)
	if err != nil {
		return "", err
	}
	data, err := l.engine.PostJSON(ctx, l.cfg.ServerURL+l.adapter.GeneratePath(), body)
	if err != nil {
		return "", err
	}
	return l.adapter.ExtractGeneration(data, req.Prompt)
}

// submit hands the generation to the queue. Giving up here is logged only;
// the generation itself succeeded.
func (l *Lifecycle) submit(ctx context.Context, log *slog.Logger, id types.JobID, generation string) {
	sub := types.Submission{ID: id, Generation: generation}
	for attempt := 1; attempt <= l.cfg.SubmitRetries; attempt++ {
		reward, err := l.source.Acknowledge(ctx, sub)
		if err == nil {
			l.recorder.RecordSubmit(true, reward)
			log.Info("Submitted generation", "reward", fmt.Sprintf("%.2f", reward))
			return
		}
		l.recorder.RecordSubmit(false, 0)
		log.Error("Submit failed", "step", "submit", "attempt", attempt, "error", err)
		if attempt < l.cfg.SubmitRetries {
			wait(ctx, l.cfg.RetryInterval)
		}
	}
	log.Error("Submit retries exhausted, generation dropped", "step", "submit", "retries", l.cfg.SubmitRetries)
}

// fault releases a job the worker could not generate. Sent once; failure is
// logged and otherwise ignored.
func (l *Lifecycle) fault(ctx context.Context, log *slog.Logger, id types.JobID) {
	l.recorder.RecordFaulted()
	_, err := l.source.Acknowledge(ctx, types.FaultedSubmission(id))
	if err != nil && !transport.IsParseError(err) {
		log.Error("Faulted submit failed", "step", "fault", "error", err)
		return
	}
	log.Warn("Job released as faulted", "step", "fault")
}

// wait sleeps for d and reports false if ctx ended first.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
