// ============================================================================
// Horde Bridge Metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: count what the worker loops do and expose it for scraping
//
// Metric families:
//
//   1. Counters:
//      - bridge_iterations_total{result}: lifecycle iterations by outcome
//        (success, failure, panic)
//      - bridge_jobs_claimed_total: jobs popped from the queue
//      - bridge_jobs_rejected_total: claims dropped by the payload guard
//      - bridge_generation_attempts_total{outcome}: inference calls (ok, error)
//      - bridge_submits_total{outcome}: submit calls (ok, error)
//      - bridge_jobs_faulted_total: jobs released back as faulted
//      - bridge_reward_total: reward credited by the queue service
//
//   2. Histogram:
//      - bridge_iteration_duration_seconds: wall-clock time per iteration
//
//   3. Gauges:
//      - bridge_consecutive_failures: circuit breaker counter
//      - bridge_server_healthy: last health probe result (1/0)
//      - bridge_active_loops: worker loops currently running
//
// HTTP:
//   Exposed on /metrics by internal/server when --metrics-addr is set.
//
// ============================================================================

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Iteration outcomes used as label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultPanic   = "panic"
)

// Collector is the Prometheus collector for the bridge.
type Collector struct {
	iterations        *prometheus.CounterVec
	iterationDuration prometheus.Histogram

	jobsClaimed  prometheus.Counter
	jobsRejected prometheus.Counter
	generations  *prometheus.CounterVec
	submits      *prometheus.CounterVec
	jobsFaulted  prometheus.Counter
	reward       prometheus.Counter

	consecutiveFailures prometheus.Gauge
	serverHealthy       prometheus.Gauge
	activeLoops         prometheus.Gauge
}

// NewCollector creates the collector and registers it with
// prometheus.DefaultRegisterer.
func NewCollector() *Collector {
	c := &Collector{
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_iterations_total",
			Help: "Total number of lifecycle iterations by result",
		}, []string{"result"}),
		iterationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_iteration_duration_seconds",
			Help:    "Wall-clock duration of a lifecycle iteration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}),
		jobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_jobs_claimed_total",
			Help: "Total number of jobs claimed from the queue",
		}),
		jobsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_jobs_rejected_total",
			Help: "Total number of claimed payloads rejected as not text generation",
		}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_generation_attempts_total",
			Help: "Total number of inference server generation attempts by outcome",
		}, []string{"outcome"}),
		submits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_submits_total",
			Help: "Total number of submit calls by outcome",
		}, []string{"outcome"}),
		jobsFaulted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_jobs_faulted_total",
			Help: "Total number of jobs reported back as faulted",
		}),
		reward: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_reward_total",
			Help: "Total reward credited by the queue service",
		}),
		consecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_consecutive_failures",
			Help: "Current consecutive failed iterations across all loops",
		}),
		serverHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_server_healthy",
			Help: "1 if the last inference server health probe succeeded",
		}),
		activeLoops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_active_loops",
			Help: "Number of worker loops currently running",
		}),
	}

	prometheus.MustRegister(c.iterations)
	prometheus.MustRegister(c.iterationDuration)
	prometheus.MustRegister(c.jobsClaimed)
	prometheus.MustRegister(c.jobsRejected)
	prometheus.MustRegister(c.generations)
	prometheus.MustRegister(c.submits)
	prometheus.MustRegister(c.jobsFaulted)
	prometheus.MustRegister(c.reward)
	prometheus.MustRegister(c.consecutiveFailures)
	prometheus.MustRegister(c.serverHealthy)
	prometheus.MustRegister(c.activeLoops)

	return c
}

// RecordIteration records one finished iteration.
func (c *Collector) RecordIteration(result string, d time.Duration) {
	c.iterations.WithLabelValues(result).Inc()
	c.iterationDuration.Observe(d.Seconds())
}

// RecordClaim records a job popped from the queue.
func (c *Collector) RecordClaim() {
	c.jobsClaimed.Inc()
}

// RecordRejected records a claim dropped by the payload guard.
func (c *Collector) RecordRejected() {
	c.jobsRejected.Inc()
}

// RecordGeneration records one inference attempt.
func (c *Collector) RecordGeneration(ok bool) {
	c.generations.WithLabelValues(outcome(ok)).Inc()
}

// RecordSubmit records one submit call and the reward it earned.
func (c *Collector) RecordSubmit(ok bool, reward float64) {
	c.submits.WithLabelValues(outcome(ok)).Inc()
	if ok && reward > 0 {
		c.reward.Add(reward)
	}
}

// RecordFaulted records a job released back to the queue.
func (c *Collector) RecordFaulted() {
	c.jobsFaulted.Inc()
}

// SetConsecutiveFailures publishes the circuit breaker counter.
func (c *Collector) SetConsecutiveFailures(n int) {
	c.consecutiveFailures.Set(float64(n))
}

// SetServerHealthy publishes the last health probe result.
func (c *Collector) SetServerHealthy(healthy bool) {
	if healthy {
		c.serverHealthy.Set(1)
		return
	}
	c.serverHealthy.Set(0)
}

// LoopStarted and LoopStopped track running worker loops.
func (c *Collector) LoopStarted() { c.activeLoops.Inc() }
func (c *Collector) LoopStopped() { c.activeLoops.Dec() }

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
