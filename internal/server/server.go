// Package server exposes the agent over WebSocket and serves /metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"finch-controller/internal/config"
	"finch-controller/internal/core"
	"finch-controller/internal/metrics"
	"finch-controller/internal/program"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Source provides the state a client receives when it connects.
type Source interface {
	DeviceState() core.Snapshot
	Program() program.Program
	Routines() ([]string, error)
}

// Server manages the HTTP and WebSocket services.
type Server struct {
	Hub        *Hub
	bus        *core.EventBus
	sub        core.Subscriber
	requests   core.RequestChannel
	source     Source
	httpServer *http.Server

	staticFilesDir string
	allowedOrigins []string
	upgrader       websocket.Upgrader

	quit     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a server and starts its hub and event forwarding.
func NewServer(cfg config.ServerConfig, bus *core.EventBus, requests core.RequestChannel, source Source) *Server {
	hub := NewHub()
	go hub.Run()

	s := &Server{
		Hub:            hub,
		bus:            bus,
		sub:            bus.Subscribe(core.AllEvents...),
		requests:       requests,
		source:         source,
		staticFilesDir: cfg.WebFilesDir,
		allowedOrigins: cfg.AllowedOrigins,
		quit:           make(chan struct{}),
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				log.Warn("[Server] WebSocket CheckOrigin is disabled.")
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients
				return true
			}
			for _, allowed := range s.allowedOrigins {
				if allowed == "*" || strings.EqualFold(origin, allowed) {
					return true
				}
			}
			log.Warnf("[Server] WebSocket connection blocked: Origin '%s' not in allowed list.", origin)
			return false
		},
	}

	s.httpServer = &http.Server{Addr: ":" + cfg.Port, Handler: s.Handler()}
	go s.forwardEvents()
	return s
}

// Handler returns the HTTP routes: static files, /ws and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(s.staticFilesDir)))
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server, the hub and event forwarding.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.bus.Unsubscribe(s.sub, core.AllEvents...)
		s.Hub.Stop()
	})
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) forwardEvents() {
	for {
		select {
		case <-s.quit:
			return
		case ev := <-s.sub:
			if msg, ok := messageFor(ev); ok {
				s.Hub.Broadcast(msg)
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("[Server] WebSocket upgrade error: %v", err)
		return
	}

	// Initial state, written before the hub owns the connection.
	_ = conn.WriteJSON(NewMessage(MsgDeviceState, s.source.DeviceState()))
	_ = conn.WriteJSON(NewMessage(MsgProgram, s.source.Program()))
	if routines, err := s.source.Routines(); err == nil {
		_ = conn.WriteJSON(NewMessage(MsgRoutineList, routines))
	} else {
		log.Warnf("[Server] Could not list routines: %v", err)
	}

	if !s.Hub.add(conn) {
		conn.Close()
		return
	}
	defer s.Hub.remove(conn)

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var req core.Request
		if err := json.Unmarshal(msgBytes, &req); err != nil || req.Type == "" {
			log.Warnf("[Server] Ignoring malformed request: %s", msgBytes)
			continue
		}
		select {
		case s.requests <- req:
		default:
			log.Warnf("[Server] Request queue full, dropping '%s'", req.Type)
		}
	}
}
