package mllp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// Handler accepts one inbound message. header is nil when the MSH segment
// could not be parsed. A non-nil error is answered with AE.
type Handler func(ctx context.Context, content string, header *delivery.Header) error

// ServerConfig configures a Server
type ServerConfig struct {
	Address        string
	Charset        string
	ReadTimeout    time.Duration // idle time allowed between frames
	MaxMessageSize int
}

// Server is the inbound MLLP listener
type Server struct {
	cfg     ServerConfig
	codec   *Codec
	handler Handler
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  atomic.Bool
	wg       sync.WaitGroup
	received atomic.Int64
}

// NewServer creates a listener; call Start to accept connections
func NewServer(cfg ServerConfig, handler Handler, l *zap.Logger) (*Server, error) {
	if handler == nil {
		return nil, errors.New("mllp: handler is required")
	}
	if l == nil {
		l = zap.NewNop()
	}
	codec, err := LookupCodec(cfg.Charset)
	if err != nil {
		return nil, err
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	return &Server{
		cfg:     cfg,
		codec:   codec,
		handler: handler,
		logger:  l.Named("mllp_server"),
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// Start binds the listen address and accepts connections in the background
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("mllp listen %s: %w", s.cfg.Address, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("MLLP listener started",
		zap.String("addr", ln.Addr().String()),
		zap.String("charset", s.codec.Name()),
	)

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.closing.Store(true)

	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("MLLP listener stopped", zap.Int64("messages_received", s.received.Load()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	l := s.logger.With(zap.String("remote_addr", conn.RemoteAddr().String()))
	ctx := logger.WithContext(context.Background(), l)
	l.Debug("connection opened")

	reader := NewReader(conn, s.cfg.MaxMessageSize)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		raw, err := reader.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closing.Load() {
				l.Debug("connection closed", zap.Error(err))
			}
			return
		}
		s.received.Add(1)

		reply := s.handle(ctx, raw)
		encoded, err := s.codec.Encode(reply)
		if err != nil {
			l.Error("failed to encode acknowledgment", zap.Error(err))
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.ReadTimeout))
		if err := WriteFrame(conn, encoded); err != nil {
			l.Warn("failed to write acknowledgment", zap.Error(err))
			return
		}
	}
}

// handle processes one frame and returns the acknowledgment to send back
func (s *Server) handle(ctx context.Context, raw []byte) string {
	now := time.Now()
	l := logger.FromContext(ctx)

	content, err := s.codec.Decode(raw)
	if err != nil {
		l.Warn("undecodable inbound message", zap.Error(err))
		return delivery.BuildAck(&delivery.Header{}, delivery.AckReject, "undecodable message", now)
	}

	header, parseErr := delivery.ParseHeader(content)
	if parseErr != nil {
		header = nil
	}

	if err := s.handler(ctx, content, header); err != nil {
		l.Error("failed to accept inbound message", zap.Error(err))
		return delivery.BuildAck(ackHeader(header), delivery.AckError, "internal error", now)
	}

	if parseErr != nil {
		l.Warn("malformed inbound message quarantined", zap.Error(parseErr))
		return delivery.BuildAck(&delivery.Header{}, delivery.AckReject, parseErr.Error(), now)
	}

	l.Debug("inbound message accepted",
		zap.String("message_type", header.MessageType),
		zap.String("control_id", header.ControlID),
	)
	return delivery.BuildAck(header, delivery.AckAccept, "", now)
}

func ackHeader(h *delivery.Header) *delivery.Header {
	if h == nil {
		return &delivery.Header{}
	}
	return h
}

// Router picks the destination for an inbound message
type Router struct {
	routes             map[string]string
	defaultDestination string
}

// NewRouter creates a router from a receiving application to destination map
func NewRouter(routes map[string]string, defaultDestination string) *Router {
	return &Router{routes: routes, defaultDestination: defaultDestination}
}

// Route returns the destination for header; malformed messages go to the default
func (r *Router) Route(header *delivery.Header) string {
	if header != nil {
		if dest, ok := r.routes[header.ReceivingApplication]; ok {
			return dest
		}
	}
	return r.defaultDestination
}

// Submitter accepts inbound messages into the retry queue
type Submitter interface {
	SubmitInbound(ctx context.Context, content, destination string) (string, error)
}

// NewRoutingHandler routes each inbound message and submits it
func NewRoutingHandler(router *Router, submitter Submitter) Handler {
	return func(ctx context.Context, content string, header *delivery.Header) error {
		id, err := submitter.SubmitInbound(ctx, content, router.Route(header))
		if err != nil {
			return err
		}
		logger.FromContext(ctx).Debug("inbound message submitted", zap.String("message_id", id))
		return nil
	}
}
