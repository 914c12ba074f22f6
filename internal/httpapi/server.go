// Package httpapi is the thin HTTP binding of the control surface:
// power-on, power-off, health, ad-hoc test sends, group listing, and a
// server-sent event stream of dispatcher progress.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"alertbot/internal/eventbus"
	"alertbot/internal/orchestrator"
	"alertbot/pkg/logx"
)

type Config struct {
	Addr         string
	Token        string // optional bearer token
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	// WriteTimeout 0 stays 0: the event stream is long-lived.
	return c
}

// Server manages the control-surface listener lifecycle.
type Server struct {
	mu   sync.Mutex
	cfg  Config
	log  logx.Logger
	orch *orchestrator.Manager
	bus  eventbus.Bus

	srv  *http.Server
	ln   net.Listener
	addr string
}

func New(cfg Config, orch *orchestrator.Manager, bus eventbus.Bus, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg.withDefaults(), orch: orch, bus: bus, log: log}
}

// Addr returns the bound address (useful when Addr was ":0" in tests).
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /power-on", s.auth(s.handlePowerOn))
	mux.HandleFunc("POST /power-off", s.auth(s.handlePowerOff))
	mux.HandleFunc("GET /health", s.auth(s.handleHealth))
	mux.HandleFunc("POST /send-test", s.auth(s.handleSendTest))
	mux.HandleFunc("GET /groups", s.auth(s.handleGroups))
	mux.HandleFunc("GET /events", s.auth(s.handleEvents))

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("control server error", logx.String("addr", s.addr), logx.Err(err))
		}
	}()
	s.log.Info("control server listening", logx.String("addr", s.addr))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	token := strings.TrimSpace(s.cfg.Token)
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
