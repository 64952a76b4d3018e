package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ServerConfig holds configuration for the monitor server.
type ServerConfig struct {
	// Addr is the host:port to listen on (default: "localhost:8082")
	Addr string

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration

	// ShutdownTimeout bounds the graceful shutdown when the run ends
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns sensible defaults for the monitor server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            "localhost:8082",
		ReadTimeout:     15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server serves /ws, /status and /healthz.
type Server struct {
	config ServerConfig
	mux    *http.ServeMux
	log    logrus.FieldLogger

	// mu protects addr
	mu   sync.RWMutex
	addr string
}

// NewServer creates a monitor server. Zero config values take defaults.
func NewServer(config ServerConfig, hub *Hub, mon *Monitor, log logrus.FieldLogger) *Server {
	def := DefaultServerConfig()
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", NewWebSocketHandler(hub))
	mux.Handle("/status", mon)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	return &Server{config: config, mux: mux, log: log}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return recoverMiddleware(s.log, s.mux)
}

// Addr returns the bound address once Run is listening, or the configured
// address before that.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr != "" {
		return s.addr
	}
	return s.config.Addr
}

// Run listens and serves until ctx is done, then shuts down gracefully.
// A bind failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("monitor failed to listen on %s: %w", s.config.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: s.config.ReadTimeout,
		IdleTimeout: s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.Addr()).Info("Monitor listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("Monitor shutdown incomplete")
		srv.Close()
	}
	return nil
}

func recoverMiddleware(log logrus.FieldLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.WithFields(logrus.Fields{"path": r.URL.Path, "panic": rec}).Error("Monitor handler panic")
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
