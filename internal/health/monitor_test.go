package health

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/horde-bridge/internal/transport"
)

// scriptedGetter returns the configured status/error and counts calls.
type scriptedGetter struct {
	status int
	err    error
	calls  atomic.Int32
	url    string
}

func (g *scriptedGetter) Get(_ context.Context, url string) (int, []byte, error) {
	g.calls.Add(1)
	g.url = url
	return g.status, nil, g.err
}

func newTestMonitor(g Getter, buf *bytes.Buffer) (*Monitor, *time.Time) {
	logger := slog.New(slog.NewTextHandler(buf, nil))
	m := NewMonitor(g, Config{ServerURL: "http://engine:8000/", HealthPath: "/health", Engine: "vllm"}, logger)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	return m, &clock
}

func TestCheckHealthy(t *testing.T) {
	g := &scriptedGetter{status: http.StatusOK}
	m, _ := newTestMonitor(g, &bytes.Buffer{})

	assert.True(t, m.Check(context.Background()))
	assert.Equal(t, "http://engine:8000/health", g.url)

	state := m.State()
	assert.True(t, state.Known)
	assert.True(t, state.Healthy)
}

func TestCheckCachesWithinTTL(t *testing.T) {
	g := &scriptedGetter{status: http.StatusOK}
	m, clock := newTestMonitor(g, &bytes.Buffer{})

	assert.True(t, m.Check(context.Background()))
	*clock = clock.Add(29 * time.Second)
	assert.True(t, m.Check(context.Background()))
	assert.Equal(t, int32(1), g.calls.Load())

	// expired: probe again and pick up the new answer
	g.status = http.StatusServiceUnavailable
	*clock = clock.Add(2 * time.Second)
	assert.False(t, m.Check(context.Background()))
	assert.Equal(t, int32(2), g.calls.Load())
}

func TestCheckCachesFailures(t *testing.T) {
	g := &scriptedGetter{err: &transport.TransportError{URL: "u", Err: syscall.ECONNREFUSED}}
	m, _ := newTestMonitor(g, &bytes.Buffer{})

	assert.False(t, m.Check(context.Background()))
	assert.False(t, m.Check(context.Background()))
	assert.Equal(t, int32(1), g.calls.Load())
}

func TestCheckDiagnostics(t *testing.T) {
	testCases := []struct {
		name   string
		getter *scriptedGetter
		want   string
	}{
		{"unreachable", &scriptedGetter{err: &transport.TransportError{URL: "u", Err: syscall.ECONNREFUSED}}, "not reachable"},
		{"wrong service", &scriptedGetter{status: http.StatusNotFound}, "does not appear to be"},
		{"generic status", &scriptedGetter{status: http.StatusInternalServerError}, "Health check failed"},
		{"generic error", &scriptedGetter{err: errors.New("boom")}, "Health check failed"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			m, _ := newTestMonitor(tc.getter, &buf)
			assert.False(t, m.Check(context.Background()))
			assert.Contains(t, buf.String(), tc.want)
		})
	}
}

func TestCheckAgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/props" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := transport.NewClient(transport.Options{Timeout: time.Second})
	m := NewMonitor(client, Config{ServerURL: srv.URL, HealthPath: "/props"}, nil)
	require.True(t, m.Check(context.Background()))
}
