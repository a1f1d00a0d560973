// Package dummy is a minimal in-process messaging server that speaks the
// server side of the wire protocol. It is meant for local runs and tests.
package dummy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dsbench/internal/wire"
)

const Path = "/deepstream"

type ServerConfig struct {
	Port int
	// PingInterval sends a keep-alive to every connection when positive.
	PingInterval time.Duration
}

type Server struct {
	cfg      ServerConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu          sync.Mutex
	subscribers map[string]map[*peer]struct{}
	peers       map[*peer]struct{}
}

type peer struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (p *peer) send(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ws.WriteMessage(websocket.TextMessage, frame)
}

func NewServer(cfg ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		cfg:         cfg,
		logger:      logger,
		subscribers: make(map[string]map[*peer]struct{}),
		peers:       make(map[*peer]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	p := &peer{ws: ws}
	challenge, _ := wire.Encode(wire.KindChallenge)
	if err := p.send(challenge); err != nil {
		ws.Close()
		return
	}

	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	defer s.drop(p)

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if err := s.handle(p, frame); err != nil {
			s.logger.Warn("closing connection", zap.Error(err))
			return
		}
	}
}

func (s *Server) handle(p *peer, frame []byte) error {
	msg, err := wire.DecodeOutbound(frame)
	if err != nil {
		return err
	}

	var reply []byte
	switch msg.Kind {
	case wire.KindChallengeResponse:
		reply, err = wire.Encode(wire.KindConnectionAck)
	case wire.KindAuthRequest:
		reply, err = wire.Encode(wire.KindAuthAck)
	case wire.KindEventSubscribe:
		name := msg.Params[0]
		reply, err = wire.Encode(wire.KindLoginConfirmation, name)
		s.subscribe(p, name)
	case wire.KindEventPublish:
		s.forward(p, msg.Params[0], frame)
	case wire.KindPong:
	}
	if err != nil {
		return err
	}
	if reply != nil {
		return p.send(reply)
	}
	return nil
}

func (s *Server) subscribe(p *peer, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, ok := s.subscribers[name]
	if !ok {
		subs = make(map[*peer]struct{})
		s.subscribers[name] = subs
	}
	subs[p] = struct{}{}
}

// forward sends the publish frame to every subscriber of name except the
// publisher.
func (s *Server) forward(from *peer, name string, frame []byte) {
	s.mu.Lock()
	targets := make([]*peer, 0, len(s.subscribers[name]))
	for p := range s.subscribers[name] {
		if p != from {
			targets = append(targets, p)
		}
	}
	s.mu.Unlock()

	for _, p := range targets {
		if err := p.send(frame); err != nil {
			s.logger.Debug("forward failed", zap.Error(err))
		}
	}
}

func (s *Server) drop(p *peer) {
	s.mu.Lock()
	delete(s.peers, p)
	for _, subs := range s.subscribers {
		delete(subs, p)
	}
	s.mu.Unlock()
	p.ws.Close()
}

// Peers returns the number of open connections.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Server) pingLoop(ctx context.Context) {
	ping, _ := wire.Encode(wire.KindPing)
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			peers := make([]*peer, 0, len(s.peers))
			for p := range s.peers {
				peers = append(peers, p)
			}
			s.mu.Unlock()
			for _, p := range peers {
				p.send(ping)
			}
		}
	}
}

// Handler returns the mux serving the protocol on Path.
func (s *Server) Handler(ctx context.Context) http.Handler {
	if s.cfg.PingInterval > 0 {
		go s.pingLoop(ctx)
	}
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	return mux
}

// Start listens on every interface so that the whole 127.0.0.0/8 range
// reaches it.
func Start(ctx context.Context, cfg ServerConfig, logger *zap.Logger) *http.Server {
	s := NewServer(cfg, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	fmt.Printf("👻 Dummy Server running on ws://localhost%s%s\n", addr, Path)

	server := &http.Server{
		Addr:    addr,
		Handler: s.Handler(ctx),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
		}
	}()
	return server
}
