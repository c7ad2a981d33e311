package mllp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/infrastructure/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SendError is a failed delivery attempt. Its text starts with the error
// keyword the retry policy classifies on.
type SendError struct {
	Kind string
	Err  error
}

func (e *SendError) Error() string {
	return e.Kind + ": " + e.Err.Error()
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Classify maps a transport error onto a retry policy keyword
func Classify(err error) string {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return delivery.ErrorConnectionTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return delivery.ErrorConnectionRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return delivery.ErrorConnectionTimeout
	}
	return delivery.ErrorNetwork
}

func classified(err error) *SendError {
	return &SendError{Kind: Classify(err), Err: err}
}

// destination holds the persistent connection to one receiving system.
// MLLP allows one outstanding message per connection, so sends are serialized.
type destination struct {
	cfg     config.DestinationConfig
	codec   *Codec
	limiter *rate.Limiter

	mu     sync.Mutex
	conn   net.Conn
	reader *Reader
}

// ClientConfig configures a Client
type ClientConfig struct {
	Destinations   []config.DestinationConfig
	DialTimeout    time.Duration
	AckTimeout     time.Duration
	MaxMessageSize int
}

// Client delivers messages to destination systems and waits for their ACK
type Client struct {
	destinations map[string]*destination
	dialer       net.Dialer
	ackTimeout   time.Duration
	maxSize      int
	logger       *zap.Logger
}

// NewClient builds a client for the configured destinations
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 30 * time.Second
	}

	c := &Client{
		destinations: make(map[string]*destination, len(cfg.Destinations)),
		dialer:       net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second},
		ackTimeout:   cfg.AckTimeout,
		maxSize:      cfg.MaxMessageSize,
		logger:       logger.Named("mllp_client"),
	}

	for _, d := range cfg.Destinations {
		codec, err := LookupCodec(d.Charset)
		if err != nil {
			return nil, fmt.Errorf("destination %s: %w", d.Name, err)
		}
		limit := rate.Inf
		burst := d.Burst
		if d.RateLimit > 0 {
			limit = rate.Limit(d.RateLimit)
			if burst <= 0 {
				burst = 1
			}
		}
		c.destinations[d.Name] = &destination{
			cfg:     d,
			codec:   codec,
			limiter: rate.NewLimiter(limit, burst),
		}
	}

	return c, nil
}

// Destinations returns the configured destination names
func (c *Client) Destinations() []string {
	names := make([]string, 0, len(c.destinations))
	for name := range c.destinations {
		names = append(names, name)
	}
	return names
}

// Send delivers msg to its destination system and returns the parsed ACK.
// A returned error is always a *SendError; a negative ACK is not an error.
func (c *Client) Send(ctx context.Context, msg *delivery.Message) (*delivery.Ack, error) {
	dest, ok := c.destinations[msg.DestinationSystem]
	if !ok {
		return nil, &SendError{
			Kind: delivery.ErrorInvalidMessage,
			Err:  fmt.Errorf("no route to destination %q", msg.DestinationSystem),
		}
	}

	if err := dest.limiter.Wait(ctx); err != nil {
		return nil, classified(err)
	}

	payload, err := dest.codec.Encode(msg.Content)
	if err != nil {
		return nil, &SendError{Kind: delivery.ErrorInvalidMessage, Err: err}
	}

	dest.mu.Lock()
	defer dest.mu.Unlock()

	reused := dest.conn != nil
	raw, err := c.exchange(ctx, dest, payload)
	if err != nil && reused && isStaleConn(err) {
		// the peer closed an idle connection; try once on a fresh one
		c.logger.Debug("reconnecting to destination", zap.String("destination", dest.cfg.Name), zap.Error(err))
		raw, err = c.exchange(ctx, dest, payload)
	}
	if err != nil {
		return nil, classified(err)
	}

	text, err := dest.codec.Decode(raw)
	if err != nil {
		dest.close()
		return nil, &SendError{Kind: delivery.ErrorNetwork, Err: err}
	}
	ack, err := delivery.ParseAck(text)
	if err != nil {
		dest.close()
		return nil, &SendError{Kind: delivery.ErrorNetwork, Err: fmt.Errorf("unreadable acknowledgment: %w", err)}
	}
	if msg.ControlID != "" && ack.ControlID != msg.ControlID {
		dest.close()
		return nil, &SendError{
			Kind: delivery.ErrorNetwork,
			Err:  fmt.Errorf("acknowledgment for control ID %q, expected %q", ack.ControlID, msg.ControlID),
		}
	}
	return ack, nil
}

// exchange writes one frame and reads the reply, dialing when needed.
// Any failure closes the connection.
func (c *Client) exchange(ctx context.Context, dest *destination, payload []byte) ([]byte, error) {
	if dest.conn == nil {
		conn, err := c.dialer.DialContext(ctx, "tcp", dest.cfg.Address)
		if err != nil {
			return nil, err
		}
		dest.conn = conn
		dest.reader = NewReader(conn, c.maxSize)
		c.logger.Debug("connected to destination",
			zap.String("destination", dest.cfg.Name),
			zap.String("address", dest.cfg.Address),
		)
	}

	deadline := time.Now().Add(c.ackTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := dest.conn.SetDeadline(deadline); err != nil {
		dest.close()
		return nil, err
	}

	if err := WriteFrame(dest.conn, payload); err != nil {
		dest.close()
		return nil, err
	}
	raw, err := dest.reader.ReadFrame()
	if err != nil {
		dest.close()
		return nil, err
	}
	return raw, nil
}

func isStaleConn(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

func (d *destination) close() {
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
		d.reader = nil
	}
}

// Close drops every open connection
func (c *Client) Close() error {
	for _, d := range c.destinations {
		d.mu.Lock()
		d.close()
		d.mu.Unlock()
	}
	return nil
}
