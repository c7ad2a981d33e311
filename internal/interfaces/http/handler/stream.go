package handler

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/infrastructure/logger"
	"go.uber.org/zap"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// StatisticsSource provides the figures pushed to stream clients
type StatisticsSource interface {
	Statistics(ctx context.Context) (*delivery.Statistics, error)
}

// StatisticsFrame is one message on the statistics stream
type StatisticsFrame struct {
	Timestamp  time.Time            `json:"timestamp"`
	Statistics *delivery.Statistics `json:"statistics,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// StatsStreamHandler pushes pipeline statistics over a websocket
type StatsStreamHandler struct {
	BaseHandler
	source     StatisticsSource
	interval   time.Duration
	maxClients int64
	clients    atomic.Int64
	upgrader   websocket.Upgrader
}

// StatsStreamOption configures a StatsStreamHandler
type StatsStreamOption func(*StatsStreamHandler)

// WithStreamMaxClients caps concurrent stream connections
func WithStreamMaxClients(n int) StatsStreamOption {
	return func(h *StatsStreamHandler) {
		h.maxClients = int64(n)
	}
}

// WithStreamOrigins restricts the origins allowed to open a stream.
// An empty list or "*" allows any origin.
func WithStreamOrigins(origins []string) StatsStreamOption {
	return func(h *StatsStreamHandler) {
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			if o == "*" {
				return
			}
			allowed[o] = true
		}
		if len(allowed) == 0 {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		}
	}
}

// NewStatsStreamHandler creates a stream handler pushing every interval
func NewStatsStreamHandler(source StatisticsSource, interval time.Duration, opts ...StatsStreamOption) *StatsStreamHandler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	h := &StatsStreamHandler{
		source:     source,
		interval:   interval,
		maxClients: 100,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Clients returns the number of open streams
func (h *StatsStreamHandler) Clients() int64 {
	return h.clients.Load()
}

// Stream handles GET /statistics/stream. The first frame is sent right
// after the upgrade, then one per interval until the client goes away.
func (h *StatsStreamHandler) Stream(c *gin.Context) {
	if h.clients.Add(1) > h.maxClients {
		h.clients.Add(-1)
		h.Unavailable(c, "Too many statistics streams")
		return
	}
	defer h.clients.Add(-1)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already answered the request
		return
	}
	defer conn.Close()

	l := logger.GetGinLogger(c)
	l.Debug("statistics stream opened")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go h.readPump(conn, cancel)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	pinger := time.NewTicker(streamPingPeriod)
	defer pinger.Stop()

	if err := h.push(ctx, conn); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			l.Debug("statistics stream closed")
			return
		case <-ticker.C:
			if err := h.push(ctx, conn); err != nil {
				l.Debug("statistics stream write failed", zap.Error(err))
				return
			}
		case <-pinger.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *StatsStreamHandler) push(ctx context.Context, conn *websocket.Conn) error {
	frame := StatisticsFrame{Timestamp: time.Now().UTC()}
	stats, err := h.source.Statistics(ctx)
	if err != nil {
		frame.Error = "statistics unavailable"
	} else {
		frame.Statistics = stats
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(frame)
}

// readPump discards client frames and cancels the stream once the peer
// closes or stops answering pings.
func (h *StatsStreamHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
