package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-myq/internal/audit"
	"github.com/nerrad567/gray-logic-myq/internal/bridges/myqbridge"
	"github.com/nerrad567/gray-logic-myq/internal/device"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-myq/internal/myq"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge is the part of *myqbridge.Bridge the API drives.
type Bridge interface {
	Status(ctx context.Context) (myqbridge.Status, error)
	ApplyRefreshToken(ctx context.Context, raw string) error
	ListPairable(ctx context.Context, kind myq.Kind) ([]myq.PairCandidate, error)
	PairDevice(ctx context.Context, serial string, kind myq.Kind, name string) (*device.Device, error)
	RemoveDevice(ctx context.Context, serial string) error
	SendCommand(ctx context.Context, serial string, cmd myq.Command) error
	DeviceState(serial string) (myqbridge.StateMessage, error)
	GetMetrics() myqbridge.BridgeMetrics
	SetStateObserver(fn func(myqbridge.StateMessage))
}

// DeviceLister reads paired devices. *device.Registry satisfies it.
type DeviceLister interface {
	ListDevices() []device.Device
	GetDevice(serial string) (device.Device, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Bridge   Bridge
	Devices  DeviceLister
	Audit    audit.Repository // optional
	Version  string
}

// Server is the local HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	bridge  Bridge
	devices DeviceLister
	audit   audit.Repository
	version string
	tickets *ticketStore
	hub     *Hub
	server  *http.Server
	cancel  context.CancelFunc // cancels the hub on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device lister is required")
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		bridge:  deps.Bridge,
		devices: deps.Devices,
		audit:   deps.Audit,
		version: deps.Version,
		tickets: newTicketStore(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, routes bridge state changes to it, and
// launches the HTTP listener in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.bridge.SetStateObserver(func(msg myqbridge.StateMessage) {
		s.hub.Broadcast(ChannelDeviceState, msg)
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	s.bridge.SetStateObserver(nil)
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
