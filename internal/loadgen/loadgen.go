// Package loadgen drives synthetic HL7 traffic into an MLLP listener and
// records how the gateway answers.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/infrastructure/mllp"
	"github.com/itechsmart/sentinel/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Outcomes recorded per message
const (
	OutcomeAccepted = "accepted"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Config controls a run. A run stops when Count messages were sent or
// Duration elapsed, whichever comes first; zero disables either limit.
type Config struct {
	Address     string
	Rate        float64 // messages per second across all connections
	Count       int
	Duration    time.Duration
	Connections int
	Seed        uint64

	// ReceivingApplications are cycled through MSH-5 so routing can be exercised
	ReceivingApplications []string
	// MalformedEvery sends a message without an MSH segment every n messages
	MalformedEvery int

	Charset     string
	DialTimeout time.Duration
	AckTimeout  time.Duration
}

// Summary is the outcome of a run
type Summary struct {
	Sent       int           `json:"sent"`
	Accepted   int           `json:"accepted"`
	Errors     int           `json:"application_errors"`
	Rejected   int           `json:"rejected"`
	Failed     int           `json:"failed"`
	Elapsed    time.Duration `json:"elapsed"`
	LatencyP50 time.Duration `json:"latency_p50"`
	LatencyP95 time.Duration `json:"latency_p95"`
	LatencyMax time.Duration `json:"latency_max"`
}

// Throughput returns messages per second over the run
func (s Summary) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Sent) / s.Elapsed.Seconds()
}

// Metrics are the Prometheus collectors updated during a run
type Metrics struct {
	sent     *prometheus.CounterVec
	duration prometheus.Histogram
	inflight prometheus.Gauge
}

// NewMetrics registers the load generator collectors on reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loadgen_messages_total",
			Help: "Messages sent, by acknowledgment outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loadgen_roundtrip_seconds",
			Help:    "Time from writing a frame to reading its acknowledgment.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loadgen_connections_active",
			Help: "Open MLLP connections.",
		}),
	}
	for _, c := range []prometheus.Collector{m.sent, m.duration, m.inflight} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register loadgen metrics: %w", err)
		}
	}
	return m, nil
}

// Runner sends generated messages over persistent MLLP connections
type Runner struct {
	cfg     Config
	codec   *mllp.Codec
	metrics *Metrics
	logger  *zap.Logger

	mu        sync.Mutex
	fixture   *testutil.HL7Fixture
	seq       int
	summary   Summary
	latencies []time.Duration
}

// NewRunner validates cfg and prepares a run. metrics may be nil.
func NewRunner(cfg Config, metrics *Metrics, logger *zap.Logger) (*Runner, error) {
	if cfg.Address == "" {
		return nil, errors.New("loadgen: address is required")
	}
	if cfg.Count <= 0 && cfg.Duration <= 0 {
		return nil, errors.New("loadgen: set a message count or a duration")
	}
	if cfg.Connections <= 0 {
		cfg.Connections = 1
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 30 * time.Second
	}
	if len(cfg.ReceivingApplications) == 0 {
		cfg.ReceivingApplications = []string{"LAB"}
	}
	codec, err := mllp.LookupCodec(cfg.Charset)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		codec:   codec,
		metrics: metrics,
		logger:  logger.Named("loadgen"),
		fixture: testutil.NewHL7Fixture(cfg.Seed),
	}, nil
}

// Run sends traffic until the configured limit is reached or ctx ends.
// Failed exchanges are counted, not returned; an error means a worker
// could not connect. The summary is valid either way.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if r.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Duration)
		defer cancel()
	}

	limit := rate.Inf
	if r.cfg.Rate > 0 {
		limit = rate.Limit(r.cfg.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Connections; i++ {
		worker := i
		g.Go(func() error { return r.work(gctx, worker, limiter) })
	}
	err := g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Elapsed = time.Since(start)
	r.summary.LatencyP50, r.summary.LatencyP95, r.summary.LatencyMax = percentiles(r.latencies)

	return r.summary, err
}

// next returns the next message to send, or false when the count is exhausted
func (r *Runner) next() (string, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.Count > 0 && r.seq >= r.cfg.Count {
		return "", "", false
	}
	r.seq++

	if r.cfg.MalformedEvery > 0 && r.seq%r.cfg.MalformedEvery == 0 {
		return "PID|1||00000000^^^MAIN_HOSPITAL^MR||BROKEN^MESSAGE\r", "", true
	}
	controlID := fmt.Sprintf("LG%08d", r.seq)
	app := r.cfg.ReceivingApplications[(r.seq-1)%len(r.cfg.ReceivingApplications)]
	return r.fixture.ADT(testutil.ADTOptions{ReceivingApplication: app, ControlID: controlID}), controlID, true
}

func (r *Runner) work(ctx context.Context, worker int, limiter *rate.Limiter) error {
	l := r.logger.With(zap.Int("worker", worker))
	var conn net.Conn
	var reader *mllp.Reader
	defer func() {
		if conn != nil {
			_ = conn.Close()
			r.gauge(-1)
		}
	}()

	dialer := net.Dialer{Timeout: r.cfg.DialTimeout}
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		content, controlID, ok := r.next()
		if !ok {
			return nil
		}

		if conn == nil {
			c, err := dialer.DialContext(ctx, "tcp", r.cfg.Address)
			if err != nil {
				r.record(OutcomeFailed, 0)
				l.Warn("dial failed", zap.Error(err))
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("dial %s: %w", r.cfg.Address, err)
			}
			conn = c
			reader = mllp.NewReader(conn, 0)
			r.gauge(1)
		}

		outcome, elapsed, err := r.exchange(conn, reader, content, controlID)
		if err != nil {
			l.Debug("exchange failed", zap.Error(err))
			_ = conn.Close()
			conn = nil
			r.gauge(-1)
		}
		r.record(outcome, elapsed)
	}
}

func (r *Runner) exchange(conn net.Conn, reader *mllp.Reader, content, controlID string) (string, time.Duration, error) {
	payload, err := r.codec.Encode(content)
	if err != nil {
		return OutcomeFailed, 0, err
	}
	_ = conn.SetDeadline(time.Now().Add(r.cfg.AckTimeout))

	start := time.Now()
	if err := mllp.WriteFrame(conn, payload); err != nil {
		return OutcomeFailed, 0, err
	}
	raw, err := reader.ReadFrame()
	if err != nil {
		return OutcomeFailed, 0, err
	}
	elapsed := time.Since(start)

	text, err := r.codec.Decode(raw)
	if err != nil {
		return OutcomeFailed, elapsed, err
	}
	ack, err := delivery.ParseAck(text)
	if err != nil {
		return OutcomeFailed, elapsed, err
	}
	if controlID != "" && ack.ControlID != controlID {
		return OutcomeFailed, elapsed, fmt.Errorf("acknowledgment for %q, expected %q", ack.ControlID, controlID)
	}

	switch {
	case ack.Accepted():
		return OutcomeAccepted, elapsed, nil
	case ack.Rejected():
		return OutcomeRejected, elapsed, nil
	default:
		return OutcomeError, elapsed, nil
	}
}

func (r *Runner) record(outcome string, elapsed time.Duration) {
	r.mu.Lock()
	r.summary.Sent++
	switch outcome {
	case OutcomeAccepted:
		r.summary.Accepted++
	case OutcomeError:
		r.summary.Errors++
	case OutcomeRejected:
		r.summary.Rejected++
	default:
		r.summary.Failed++
	}
	if elapsed > 0 {
		r.latencies = append(r.latencies, elapsed)
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.sent.WithLabelValues(outcome).Inc()
		if elapsed > 0 {
			r.metrics.duration.Observe(elapsed.Seconds())
		}
	}
}

func (r *Runner) gauge(delta float64) {
	if r.metrics != nil {
		r.metrics.inflight.Add(delta)
	}
}

func percentiles(samples []time.Duration) (p50, p95, max time.Duration) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	at := func(q float64) time.Duration {
		idx := int(q*float64(len(sorted)-1) + 0.5)
		return sorted[idx]
	}
	return at(0.50), at(0.95), sorted[len(sorted)-1]
}
