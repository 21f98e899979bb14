package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler serves one accepted connection. The server closes conn after
// ServeConn returns.
type Handler interface {
	ServeConn(ctx context.Context, conn net.Conn) error
}

// Option configures a Server.
type Option func(*Server)

// WithReadTimeout sets an idle deadline that is refreshed before every read.
// Zero, the default, leaves reads blocking indefinitely.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

// WithAcceptHook installs a callback run for every accepted connection.
func WithAcceptHook(fn func()) Option {
	return func(s *Server) { s.onAccept = fn }
}

// Server is a TCP listener that runs a Handler per connection
type Server struct {
	name        string
	handler     Handler
	listener    net.Listener
	address     string
	readTimeout time.Duration
	onAccept    func()

	mu      sync.Mutex
	running bool
	conns   map[net.Conn]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// New creates a new server instance
func New(name, address string, handler Handler, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		name:    name,
		handler: handler,
		address: address,
		logger:  logger.Named(name),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("%s server already running", s.name)
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.logger.Error("failed to start server", zap.String("addr", s.address), zap.Error(err))
		return fmt.Errorf("failed to start %s server: %w", s.name, err)
	}

	s.listener = listener
	s.running = true
	s.conns = make(map[net.Conn]struct{})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.logger.Info("server listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Start listens and accepts connections until Stop is called
func (s *Server) Start() error {
	if err := s.listen(); err != nil {
		return err
	}
	return s.acceptConnections()
}

// StartAsync listens and accepts connections in a goroutine
func (s *Server) StartAsync() error {
	if err := s.listen(); err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.acceptConnections(); err != nil {
			s.logger.Error("accept loop stopped", zap.Error(err))
		}
	}()
	return nil
}

// Run serves until ctx is cancelled, returning nil, or until the accept loop
// fails, returning the error.
func (s *Server) Run(ctx context.Context) error {
	if err := s.listen(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-done:
		}
	}()

	err := s.acceptConnections()
	if err != nil {
		_ = s.Stop()
	}
	// a concurrent Stop may still be draining handlers
	s.wg.Wait()
	return err
}

// acceptConnections returns nil once the server is stopped and an error when
// the listener fails for any other reason
func (s *Server) acceptConnections() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.IsRunning() {
				s.logger.Debug("server shutting down, stopping accept loop")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("temporary accept error", zap.Error(err))
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("%s accept: %w", s.name, err)
		}

		if !s.track(conn) {
			conn.Close()
			continue
		}
		if s.onAccept != nil {
			s.onAccept()
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// handleConnection runs the handler for a single client connection
func (s *Server) handleConnection(conn net.Conn) {
	peer := conn.RemoteAddr().String()
	logger := s.logger.With(zap.String("peer", peer))

	defer s.wg.Done()
	defer func() {
		s.untrack(conn)
		conn.Close()
		logger.Debug("client disconnected")
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("connection handler panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	logger.Debug("client connected")

	var c net.Conn = conn
	if s.readTimeout > 0 {
		c = &deadlineConn{Conn: conn, timeout: s.readTimeout}
	}
	if err := s.handler.ServeConn(s.ctx, c); err != nil {
		logger.Debug("connection ended", zap.Error(err))
	}
}

// Stop closes the listener and every live connection, then waits for the
// handlers to return
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}

	s.logger.Info("stopping server")
	s.running = false
	s.cancel()
	listener := s.listener
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	err := listener.Close()
	s.wg.Wait()
	s.logger.Info("server stopped")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Address returns the bound address while running, otherwise the configured
// one
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

// deadlineConn refreshes the read deadline before each read
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}
