package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-senseme/internal/bridges/senseme"
	"github.com/nerrad567/gray-logic-senseme/internal/device"
	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/logging"
)

const gracefulShutdownTimeout = 10 * time.Second

// FanController is the part of the senseme bridge the API drives.
type FanController interface {
	StartDevice(id string, cfg senseme.DeviceConfig) error
	StopDevice(id string) error
	Devices() []senseme.DeviceStatus
	State(id string) (senseme.FanState, bool)
	Execute(ctx context.Context, id string, cmd senseme.CommandRequest) (senseme.AckStatus, error)
	Query(ctx context.Context, id, q string) (string, error)
	HealthSnapshot() (managed, connected int, stats senseme.BridgeStatistics)
}

// Deps holds what the server needs. Registry, Bridge, Hub and Logger are
// required; History is optional.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Bridge   FanController
	History  device.HistoryRepository
	Hub      *Hub
	Version  string
}

// Server is the HTTP API server.
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	registry *device.Registry
	bridge   FanController
	history  device.HistoryRepository
	hub      *Hub
	version  string
	started  time.Time

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New validates deps and builds a server. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("fan registry is required")
	case deps.Bridge == nil:
		return nil, fmt.Errorf("bridge is required")
	case deps.Hub == nil:
		return nil, fmt.Errorf("websocket hub is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		registry: deps.Registry,
		bridge:   deps.Bridge,
		history:  deps.History,
		hub:      deps.Hub,
		version:  deps.Version,
		started:  time.Now(),
	}, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener, runs the hub and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", addr, err)
	}
	s.listener = ln

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close waits up to gracefulShutdownTimeout for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
