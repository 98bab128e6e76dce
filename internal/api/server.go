package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-leshan/internal/bridges/lwm2m"
	"github.com/nerrad567/gray-logic-leshan/internal/history"
	"github.com/nerrad567/gray-logic-leshan/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-leshan/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-leshan/internal/leshan"
	"github.com/nerrad567/gray-logic-leshan/internal/poller"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceDirectory lists known devices. *leshan.Directory implements it.
type DeviceDirectory interface {
	Devices() []leshan.Device
	Lookup(endpoint string) (leshan.Device, bool)
}

// SubscriptionLister exposes the observation registry. *leshan.Registry
// implements it.
type SubscriptionLister interface {
	Subscriptions() []leshan.Subscription
	ListenerState(endpoint string) (leshan.StreamState, bool)
}

// SnapshotSource returns the latest poll snapshot. *poller.Coordinator
// implements it.
type SnapshotSource interface {
	Latest() *poller.Snapshot
}

// HistoryReader reads the reading log. *history.Store implements it.
type HistoryReader interface {
	ListRecent(ctx context.Context, endpoint string, limit int) ([]history.Reading, error)
}

// HealthSource reports bridge health. *lwm2m.Bridge implements it.
type HealthSource interface {
	Health() lwm2m.HealthMessage
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config        config.APIConfig
	WS            config.WebSocketConfig
	Security      config.SecurityConfig
	Logger        *logging.Logger
	Devices       DeviceDirectory
	Subscriptions SubscriptionLister
	Snapshots     SnapshotSource
	History       HistoryReader // Optional
	Health        HealthSource  // Optional
	Hub           *Hub          // If set, the server uses this hub instead of creating its own
	Version       string
}

// Server is the HTTP status API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	secCfg        config.SecurityConfig
	logger        *logging.Logger
	devices       DeviceDirectory
	subscriptions SubscriptionLister
	snapshots     SnapshotSource
	history       HistoryReader
	health        HealthSource
	version       string
	hub           *Hub
	externalHub   bool // true if hub was injected externally

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device directory is required")
	}
	if deps.Subscriptions == nil {
		return nil, fmt.Errorf("subscription registry is required")
	}
	if deps.Snapshots == nil {
		return nil, fmt.Errorf("snapshot source is required")
	}

	s := &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		secCfg:        deps.Security,
		logger:        deps.Logger,
		devices:       deps.Devices,
		subscriptions: deps.Subscriptions,
		snapshots:     deps.Snapshots,
		history:       deps.History,
		health:        deps.Health,
		version:       deps.Version,
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine.
// The server can be stopped with Close().
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	read, write, idle := s.cfg.Timeouts.Durations()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      write,
		IdleTimeout:       idle,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
