package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/andy6609/chat-server/internal/account"
)

// Config holds the chat server settings.
type Config struct {
	Addr                string
	ServerName          string
	MaxConnections      int
	ReadBufferSize      int
	OutboundBufferSize  int
	WriteTimeout        time.Duration
	IdleTimeout         time.Duration
	HistoryDefaultLimit int
	HistoryMaxLimit     int
}

type Server struct {
	cfg      Config
	logger   *slog.Logger
	reg      *Registry
	protocol *Protocol
	listener net.Listener

	ctx        context.Context
	cancel     context.CancelFunc
	acceptDone chan struct{}
	wg         sync.WaitGroup
}

func NewServer(cfg Config, accounts account.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	reg := NewRegistry(128, cfg.ServerName, cfg.MaxConnections, logger)
	return &Server{
		cfg:      cfg,
		logger:   logger,
		reg:      reg,
		protocol: NewProtocol(reg, accounts, cfg, time.Now, logger),
	}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.acceptDone = make(chan struct{})

	go s.reg.Run()
	go s.acceptLoop(ln)

	s.logger.Info("server started", "addr", ln.Addr().String(), "max_connections", s.cfg.MaxConnections)
	return nil
}

// Addr is the address the server is listening on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Registry exposes the live session registry.
func (s *Server) Registry() *Registry {
	return s.reg
}

func (s *Server) Stop() {
	s.logger.Info("shutting down")

	if s.listener != nil {
		s.listener.Close()
		<-s.acceptDone
	}
	if s.cancel != nil {
		s.cancel()
	}

	s.reg.CloseAll()
	s.wg.Wait()

	s.reg.Stop()
	s.reg.Wait()

	s.logger.Info("shutdown complete")
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer close(s.acceptDone)
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			s.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		remote := conn.RemoteAddr().String()
		if s.cfg.MaxConnections > 0 && s.reg.CountAuthenticated() >= s.cfg.MaxConnections {
			s.logger.Warn("connection rejected, server is busy", "addr", remote)
			s.reject(conn)
			continue
		}

		s.logger.Info("client connected", "addr", remote)
		session := NewSession(conn, s.cfg.OutboundBufferSize)
		if err := s.reg.Add(session); err != nil {
			_ = conn.Close()
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleSession(session)
		}()
	}
}

func (s *Server) reject(conn net.Conn) {
	AdmissionRejected.Inc()
	defer conn.Close()

	msg, err := Encode("/error server is busy", s.cfg.ServerName, []string{conn.RemoteAddr().String()}, s.protocol.now())
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	_, _ = conn.Write(msg)
}

// handleSession reads from the peer until the connection fails, the peer
// hangs up or the protocol ends the session.
func (s *Server) handleSession(session *Session) {
	logger := s.logger.With("session", session.ID, "remote", session.RemoteAddr)
	writerDone := StartOutboundWriter(session.Conn, session.Outbound(), s.cfg.WriteTimeout)

	defer func() {
		s.protocol.Terminate(session)
		session.Close()
		select {
		case <-writerDone:
		case <-time.After(s.cfg.WriteTimeout):
		}
		_ = session.Conn.Close()
		logger.Info("client disconnected", "username", session.Username())
	}()

	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		if s.cfg.IdleTimeout > 0 {
			_ = session.Conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		n, err := session.Conn.Read(buf)
		if n > 0 {
			for frame, decodeErr := range DecodeBatch(buf[:n]) {
				if decodeErr != nil {
					MalformedEnvelopes.Inc()
					logger.Warn("dropping malformed envelope", "error", decodeErr)
					continue
				}
				if handleErr := s.protocol.Handle(s.ctx, session, frame); handleErr != nil {
					logger.Info("session terminated", "reason", handleErr)
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logger.Info("connection closed")
			} else {
				logger.Warn("read failed", "error", err)
			}
			return
		}
	}
}
