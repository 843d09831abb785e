// Package embedded provides an embeddable tally server for in-process use,
// e.g. a chat bot that hosts its own ledger.
package embedded

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hollyglen/tally/internal/auth"
	httpapi "github.com/hollyglen/tally/internal/http"
	"github.com/hollyglen/tally/internal/storage/sqlite"
	"github.com/hollyglen/tally/internal/ws"
)

// Config configures the embedded server
type Config struct {
	// DBPath is the path to the SQLite database file.
	// If empty, defaults to ~/.tally/data.db
	DBPath string

	// Port is the HTTP port to listen on.
	// If 0, defaults to 7461.
	Port int

	// Host is the host to bind to.
	// If empty, defaults to localhost (127.0.0.1).
	Host string
}

// Server is an embedded tally server
type Server struct {
	cfg     Config
	store   *sqlite.Store
	hub     *ws.Hub
	http    *http.Server
	started bool
	mu      sync.Mutex
}

// New creates a new embedded tally server
func New(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		cfg.DBPath = filepath.Join(home, ".tally", "data.db")
	}
	if cfg.Port == 0 {
		cfg.Port = 7461
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	hub := ws.NewHub()
	svc := httpapi.NewService(sqlite.NewResilient(store)).WithBroadcaster(hub)

	// No keys for embedded use; the host process calls over loopback and
	// gets admin through the localhost bypass.
	router := httpapi.NewRouter(svc, hub.Handler(), auth.Middleware(auth.NewKeyring(true, nil)))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		cfg:   cfg,
		store: store,
		hub:   hub,
		http:  httpServer,
	}, nil
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("already started")
	}
	s.started = true
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "embedded tally server: %v\n", err)
		}
	}()
	return nil
}

// Addr returns the address the server is configured to listen on.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Hub returns the websocket hub, letting the host broadcast its own events.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Shutdown stops the server and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return s.store.Close()
	}
	s.started = false
	if err := s.http.Shutdown(ctx); err != nil {
		s.store.Close()
		return err
	}
	return s.store.Close()
}
