package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	CommitCatalog "github.com/nickyhof/CommitCatalog"
	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/db"
	"github.com/nickyhof/CommitCatalog/internal/protocol"
	"github.com/nickyhof/CommitCatalog/metrics"
	"github.com/nickyhof/CommitCatalog/sql"
	"go.uber.org/zap"
)

var errAuthRequired = errors.New("authentication required")

// Server is a TCP server that exposes the catalog. Each connection gets its
// own session, so USE and AUTH only affect the connection that sent them.
type Server struct {
	listener    net.Listener
	tlsConfig   *tls.Config
	instance    *CommitCatalog.Instance
	identity    core.Identity
	authConfig  *AuthConfig
	sessionOpts []db.SessionOption
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
}

type Option func(*Server)

// WithAuth requires clients to send AUTH JWT <token> before any statement
// when cfg.Enabled is set.
func WithAuth(cfg *AuthConfig) Option {
	return func(s *Server) {
		s.authConfig = cfg
	}
}

func WithWarehouse(w db.Warehouse) Option {
	return func(s *Server) {
		s.sessionOpts = append(s.sessionOpts, db.WithWarehouse(w))
	}
}

func WithRemoteConfig(cfg *db.RemoteConfig) Option {
	return func(s *Server) {
		s.sessionOpts = append(s.sessionOpts, db.WithRemoteConfig(cfg))
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server that authors commits as identity until a
// client authenticates as someone else.
func NewServer(instance *CommitCatalog.Instance, identity core.Identity, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		instance: instance,
		identity: identity,
		logger:   zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) authEnabled() bool {
	return s.authConfig != nil && s.authConfig.Enabled
}

// Start begins listening for plain TCP connections on addr.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.serve(listener)
	return nil
}

// StartTLS begins listening for TLS connections on addr.
func (s *Server) StartTLS(addr, certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	listener, err := tls.Listen("tcp", addr, config)
	if err != nil {
		return fmt.Errorf("failed to start TLS server: %w", err)
	}
	s.mu.Lock()
	s.tlsConfig = config
	s.mu.Unlock()
	s.serve(listener)
	return nil
}

func (s *Server) serve(listener net.Listener) {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info("server listening",
		zap.String("addr", listener.Addr().String()),
		zap.Bool("tls", s.TLSEnabled()),
		zap.Bool("auth", s.authEnabled()))

	s.wg.Add(1)
	go s.acceptLoop(listener)
}

// TLSEnabled reports whether the server was started with StartTLS.
func (s *Server) TLSEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tlsConfig != nil
}

// Stop closes the listener and every open connection, then waits for the
// connection handlers to return.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("accept error", zap.Error(err))
			continue
		}

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	logger := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	logger.Debug("client connected")
	metrics.Sessions.Inc()
	defer metrics.Sessions.Dec()

	session := s.instance.Session(s.identity, s.sessionOpts...)
	state := &ConnectionState{}
	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && s.ctx.Err() == nil {
				logger.Warn("read error", zap.Error(err))
			}
			return
		}

		req, err := protocol.DecodeRequest(line)
		var response protocol.Response
		switch {
		case err != nil:
			response = protocol.Failure(fmt.Errorf("%w: malformed request: %v", sql.ErrSyntax, err))
		default:
			query := strings.TrimSpace(req.Query)
			if query == "" {
				continue
			}
			switch strings.ToLower(query) {
			case "quit", "exit":
				logger.Debug("client disconnected")
				return
			}
			response = s.handle(session, state, query)
		}

		data, err := protocol.EncodeResponse(response)
		if err != nil {
			logger.Error("failed to encode response", zap.Error(err))
			continue
		}
		if _, err := conn.Write(data); err != nil {
			logger.Warn("write error", zap.Error(err))
			return
		}
	}
}

func (s *Server) handle(session *db.Session, state *ConnectionState, query string) protocol.Response {
	if isAuthCommand(query) {
		response := s.handleAuth(query, state)
		if state.authenticated {
			session.SetIdentity(*state.identity)
		}
		return response
	}

	if s.authEnabled() {
		if !state.authenticated {
			return protocol.Response{Success: false, Kind: protocol.KindUnauthenticated, Error: errAuthRequired.Error()}
		}
		if !state.tokenExpiry.IsZero() && time.Now().After(state.tokenExpiry) {
			state.authenticated = false
			return protocol.Response{Success: false, Kind: protocol.KindUnauthenticated, Error: "token expired, re-authenticate"}
		}
	}

	return s.executeQuery(session, query)
}

func (s *Server) executeQuery(session *db.Session, query string) protocol.Response {
	result, err := session.Execute(s.ctx, query)
	if err != nil {
		s.logger.Debug("statement failed", zap.String("query", query), zap.Error(err))
	}
	return protocol.FromResult(result, err)
}
