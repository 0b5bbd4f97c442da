package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	// Reset Prometheus registry to avoid duplicate registration
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	return NewCollector()
}

func TestNewCollector(t *testing.T) {
	collector := newTestCollector(t)

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.iterations, "iterations counter should be initialized")
	assert.NotNil(t, collector.iterationDuration, "iterationDuration histogram should be initialized")
	assert.NotNil(t, collector.consecutiveFailures, "consecutiveFailures gauge should be initialized")
}

func TestRecordIteration(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordIteration(ResultSuccess, 2*time.Second)
	collector.RecordIteration(ResultFailure, time.Second)
	collector.RecordIteration(ResultFailure, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.iterations.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.iterations.WithLabelValues(ResultFailure)))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.iterations.WithLabelValues(ResultPanic)))
}

func TestRecordClaimAndRejected(t *testing.T) {
	collector := newTestCollector(t)

	for i := 0; i < 3; i++ {
		collector.RecordClaim()
	}
	collector.RecordRejected()

	assert.Equal(t, 3.0, testutil.ToFloat64(collector.jobsClaimed))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.jobsRejected))
}

func TestRecordGenerationAndSubmit(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordGeneration(true)
	collector.RecordGeneration(false)
	collector.RecordSubmit(true, 10.5)
	collector.RecordSubmit(true, 2)
	collector.RecordSubmit(false, 99)
	collector.RecordFaulted()

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.generations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.generations.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.submits.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.submits.WithLabelValues("error")))
	assert.Equal(t, 12.5, testutil.ToFloat64(collector.reward), "failed submits earn nothing")
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.jobsFaulted))
}

func TestGauges(t *testing.T) {
	collector := newTestCollector(t)

	collector.SetConsecutiveFailures(4)
	collector.SetServerHealthy(true)
	collector.LoopStarted()
	collector.LoopStarted()
	collector.LoopStopped()

	assert.Equal(t, 4.0, testutil.ToFloat64(collector.consecutiveFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.serverHealthy))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.activeLoops))

	collector.SetServerHealthy(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.serverHealthy))
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	newTestCollector(t)
	assert.Panics(t, func() {
		NewCollector()
	}, "registering twice on the same registry should panic")
}
