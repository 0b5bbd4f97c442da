// Package health answers "is the inference server reachable" with a short-lived
// cache so that every poll cycle does not hit the health endpoint.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/horde-bridge/internal/transport"
)

// DefaultTTL is how long a probe result is served from cache.
const DefaultTTL = 30 * time.Second

// Getter is the subset of the transport client the monitor uses.
type Getter interface {
	Get(ctx context.Context, url string) (int, []byte, error)
}

// State is a snapshot of the cached probe result.
type State struct {
	CheckedAt time.Time
	Known     bool // false until the first probe completes
	Healthy   bool
}

// Config configures a Monitor.
type Config struct {
	ServerURL  string        // inference server base URL
	HealthPath string        // engine-specific path appended to ServerURL
	Engine     string        // used in diagnostics only
	TTL        time.Duration // defaults to DefaultTTL
}

// Monitor caches the inference server's health for TTL.
type Monitor struct {
	getter Getter
	url    string
	engine string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state State
}

// NewMonitor creates a health monitor.
func NewMonitor(getter Getter, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		getter: getter,
		url:    strings.TrimRight(cfg.ServerURL, "/") + cfg.HealthPath,
		engine: cfg.Engine,
		ttl:    cfg.TTL,
		logger: logger,
		now:    time.Now,
	}
}

// Check returns the cached result when it is fresher than the TTL, otherwise
// probes the server. It never fails: every error is reduced to false.
func (m *Monitor) Check(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.state.Known && now.Sub(m.state.CheckedAt) <= m.ttl {
		return m.state.Healthy
	}

	m.logger.Debug("Probing inference server health", "url", m.url)
	healthy := m.probe(ctx)
	m.state = State{CheckedAt: now, Known: true, Healthy: healthy}
	return healthy
}

// State returns the last probe result without probing.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) probe(ctx context.Context) bool {
	status, _, err := m.getter.Get(ctx, m.url)
	if err != nil {
		var te *transport.TransportError
		if errors.As(err, &te) && te.Unreachable() {
			m.logger.Error("Inference server is not reachable, is it running?", "url", m.url, "error", err)
		} else {
			m.logger.Error("Health check failed", "url", m.url, "error", err)
		}
		return false
	}

	switch {
	case status == http.StatusOK:
		return true
	case status == http.StatusNotFound:
		m.logger.Error("Server is up but does not appear to be the configured engine",
			"url", m.url, "engine", m.engine, "status", status)
	default:
		m.logger.Error("Health check failed", "url", m.url, "status", status)
	}
	return false
}
