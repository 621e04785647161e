package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/domo4/IoT23-s/internal/bridge"
	"github.com/domo4/IoT23-s/internal/infrastructure/config"
	"github.com/domo4/IoT23-s/internal/infrastructure/logging"
	"github.com/domo4/IoT23-s/internal/journal"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// componentCheckTimeout bounds each component check run by the health
// endpoint.
const componentCheckTimeout = 2 * time.Second

// StatusProvider exposes the live state of a bridge.
// *bridge.Bridge satisfies it.
type StatusProvider interface {
	Device() string
	Health() bridge.HealthReport
	GetMetrics() bridge.BridgeMetrics
}

// JournalReader is the read side of the bridge journal.
type JournalReader interface {
	ListCommands(ctx context.Context, filter journal.CommandFilter) (*journal.CommandList, error)
	History(ctx context.Context, device string, limit int) ([]journal.ReportedEntry, error)
}

// CheckFunc reports whether a supporting component is reachable.
type CheckFunc func(ctx context.Context) error

// DBStatser exposes connection pool statistics. *database.DB satisfies it.
type DBStatser interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Bridge  StatusProvider
	Journal JournalReader // optional
	Version string

	// Checks are run by the health endpoint, keyed by component name.
	Checks map[string]CheckFunc

	// Database adds pool statistics to the metrics endpoint. Optional.
	Database DBStatser
}

// Server is the HTTP status API server.
//
// It is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	bridge    StatusProvider
	journal   JournalReader
	checks    map[string]CheckFunc
	db        DBStatser
	version   string
	startTime time.Time
	server    *http.Server
	addr      net.Addr
}

// New creates the status API server from deps.
//
// Required dependencies are Logger and Bridge; Journal, Checks and
// Database are optional and the matching routes or response sections are
// omitted (or answer 503) without them.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server with routes mounted
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		journal:   deps.Journal,
		checks:    deps.Checks,
		db:        deps.Database,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start binds the listener and serves requests in a background goroutine.
// The server can be stopped with Close().
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.addr = ln.Addr()
	s.logger.Info("API server listening", "address", s.addr.String())

	go func() {
		if serveErr := s.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", serveErr)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
