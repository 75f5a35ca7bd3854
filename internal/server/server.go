// Package server accepts client connections and drives the line-oriented
// chat protocol.
package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/doodlelabs/doodlechat/internal/ai"
	"github.com/doodlelabs/doodlechat/internal/config"
	"github.com/doodlelabs/doodlechat/internal/logger"
	"github.com/doodlelabs/doodlechat/internal/room"
	"github.com/doodlelabs/doodlechat/internal/session"
	"github.com/doodlelabs/doodlechat/internal/userstore"
)

// Server owns the listener and the shared subsystems every connection uses.
type Server struct {
	cfg       *config.Config
	log       *logger.Logger
	users     *userstore.Store
	sessions  *session.Registry
	rooms     *room.Registry
	completer *ai.Completer

	mu       sync.Mutex
	listener net.Listener
	handlers sync.WaitGroup
}

// New wires a server and creates the initial rooms.
func New(cfg *config.Config, log *logger.Logger, users *userstore.Store,
	sessions *session.Registry, rooms *room.Registry, completer *ai.Completer) *Server {

	s := &Server{
		cfg:       cfg,
		log:       log.WithComponent("server"),
		users:     users,
		sessions:  sessions,
		rooms:     rooms,
		completer: completer,
	}
	s.bootstrapRooms()
	return s
}

func (s *Server) bootstrapRooms() {
	for _, name := range []string{"General", "Library"} {
		if _, err := s.rooms.CreateRoom(name); err != nil && !errors.Is(err, room.ErrRoomExists) {
			s.log.Error("Failed to create initial room", "room", name, "error", err)
		}
	}
	if _, err := s.rooms.CreateAIRoom(s.cfg.AIRoomName, s.cfg.AIRoomPrompt); err != nil &&
		!errors.Is(err, room.ErrRoomExists) {
		s.log.Error("Failed to create AI room", "room", s.cfg.AIRoomName, "error", err)
	}
}

// ListenAndServe opens the listener and accepts connections until Shutdown.
// TLS is mandatory unless the operator explicitly allows plaintext.
func (s *Server) ListenAndServe() error {
	ln, err := s.listen()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("Chat server listening",
		"addr", ln.Addr().String(),
		"tls", s.cfg.TLSEnabled(),
		"rooms", s.rooms.Names(),
		"ai_endpoint", s.cfg.AIEndpointURL)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("Accept failed", "error", err)
			continue
		}

		setKeepAlive(conn)
		s.log.Debug("New connection", "remote", conn.RemoteAddr().String())

		h := newHandler(conn, s)
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			h.Run()
		}()
	}
}

func (s *Server) listen() (net.Listener, error) {
	if s.cfg.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err == nil {
			tlsCfg := &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
			return tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
		}
		s.log.Error("TLS setup failed", "cert", s.cfg.TLSCertFile, "error", err)
		if !s.cfg.AllowPlaintext {
			return nil, fmt.Errorf("load TLS identity: %w", err)
		}
		s.log.Warn("Falling back to plaintext listener, diagnostics only")
	} else if !s.cfg.AllowPlaintext {
		return nil, errors.New("no TLS identity configured and plaintext is not allowed")
	} else {
		s.log.Warn("Starting plaintext listener, diagnostics only")
	}

	return net.Listen("tcp", s.cfg.ListenAddr)
}

// Shutdown closes the listener and waits for the running handlers to finish.
func (s *Server) Shutdown() {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.handlers.Wait()
}

func setKeepAlive(conn net.Conn) {
	raw := conn
	if tc, ok := conn.(*tls.Conn); ok {
		raw = tc.NetConn()
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		tcp.SetKeepAlive(true)
	}
}
