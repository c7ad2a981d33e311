package loadgen

import (
	"context"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/infrastructure/mllp"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type appSet struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (s *appSet) add(app string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	s.seen[app] = true
}

func (s *appSet) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.seen))
	for k := range s.seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func startListener(t *testing.T, handler mllp.Handler) string {
	t.Helper()
	srv, err := mllp.NewServer(mllp.ServerConfig{Address: "127.0.0.1:0"}, handler, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv.Addr().String()
}

func TestRunner_CountLimit(t *testing.T) {
	var received atomic.Int64
	var routed appSet
	addr := startListener(t, func(_ context.Context, _ string, header *delivery.Header) error {
		received.Add(1)
		if header != nil {
			routed.add(header.ReceivingApplication)
		}
		return nil
	})

	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	runner, err := NewRunner(Config{
		Address:               addr,
		Count:                 20,
		Connections:           3,
		Seed:                  7,
		MalformedEvery:        5,
		ReceivingApplications: []string{"LAB", "RAD"},
	}, metrics, zap.NewNop())
	require.NoError(t, err)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 20, summary.Sent)
	assert.Equal(t, 16, summary.Accepted)
	assert.Equal(t, 4, summary.Rejected)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, int64(20), received.Load())
	assert.Positive(t, summary.LatencyMax)
	assert.LessOrEqual(t, summary.LatencyP50, summary.LatencyP95)
	assert.Positive(t, summary.Throughput())

	assert.ElementsMatch(t, []string{"LAB", "RAD"}, routed.keys())
	assert.Equal(t, float64(16), promtest.ToFloat64(metrics.sent.WithLabelValues(OutcomeAccepted)))
	assert.Equal(t, float64(4), promtest.ToFloat64(metrics.sent.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, float64(0), promtest.ToFloat64(metrics.inflight))
}

func TestRunner_HandlerErrorsAreApplicationErrors(t *testing.T) {
	addr := startListener(t, func(context.Context, string, *delivery.Header) error {
		return assert.AnError
	})

	runner, err := NewRunner(Config{Address: addr, Count: 3}, nil, nil)
	require.NoError(t, err)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Errors)
	assert.Zero(t, summary.Accepted)
}

func TestRunner_DurationLimit(t *testing.T) {
	addr := startListener(t, func(context.Context, string, *delivery.Header) error { return nil })

	runner, err := NewRunner(Config{Address: addr, Rate: 50, Duration: 200 * time.Millisecond}, nil, nil)
	require.NoError(t, err)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Positive(t, summary.Sent)
	assert.LessOrEqual(t, summary.Sent, 15)
	assert.Equal(t, summary.Sent, summary.Accepted)
}

func TestRunner_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	runner, err := NewRunner(Config{Address: addr, Count: 5, DialTimeout: time.Second}, nil, nil)
	require.NoError(t, err)

	summary, err := runner.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, summary.Failed)
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(Config{Count: 1}, nil, nil)
	assert.Error(t, err)

	_, err = NewRunner(Config{Address: "127.0.0.1:2575"}, nil, nil)
	assert.Error(t, err)

	_, err = NewRunner(Config{Address: "127.0.0.1:2575", Count: 1, Charset: "klingon"}, nil, nil)
	assert.Error(t, err)
}

func TestPercentiles(t *testing.T) {
	p50, p95, max := percentiles(nil)
	assert.Zero(t, p50+p95+max)

	samples := make([]time.Duration, 0, 100)
	for i := 100; i >= 1; i-- {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	p50, p95, max = percentiles(samples)
	assert.Equal(t, 51*time.Millisecond, p50)
	assert.Equal(t, 95*time.Millisecond, p95)
	assert.Equal(t, 100*time.Millisecond, max)
}
