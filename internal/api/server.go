package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hillheadsc/racelights/internal/audit"
	"github.com/hillheadsc/racelights/internal/history"
	"github.com/hillheadsc/racelights/internal/infrastructure/config"
	"github.com/hillheadsc/racelights/internal/infrastructure/logging"
	"github.com/hillheadsc/racelights/internal/lights"
	"github.com/hillheadsc/racelights/internal/racecontrol"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the part of *racecontrol.Controller the API drives.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SetLights(ctx context.Context, state lights.State) error
	SetPreset(ctx context.Context, name string) error
	LightsOff(ctx context.Context) error
	StartCountdown(ctx context.Context, req racecontrol.StartRequest) (racecontrol.Countdown, error)
	Reset(ctx context.Context) error
	Snapshot(ctx context.Context) (racecontrol.Status, error)
	Subscribe(fn func(racecontrol.Event)) (cancel func())
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Controller Controller

	// History and Audit are optional; without them their routes return 404.
	History history.Repository
	Audit   audit.Repository

	// Optional sources for GET /metrics. Nil sources are left out.
	MQTT     ConnectionChecker
	Bridge   BridgeStatsProvider
	Recorder RecorderStatsProvider
	DB       DBStatsProvider

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	controller Controller
	history    history.Repository
	audit      audit.Repository
	mqtt       ConnectionChecker
	bridge     BridgeStatsProvider
	recorder   RecorderStatsProvider
	db         DBStatsProvider
	version    string
	startTime  time.Time

	hub         *Hub
	server      *http.Server
	listener    net.Listener
	cancel      context.CancelFunc
	unsubscribe func()
	closeOnce   sync.Once
}

// New creates a server. It does not listen until Start is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If the logger or controller is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		controller: deps.Controller,
		history:    deps.History,
		audit:      deps.Audit,
		mqtt:       deps.MQTT,
		bridge:     deps.Bridge,
		recorder:   deps.Recorder,
		db:         deps.DB,
		startTime:  time.Now(),
		version:    deps.Version,
	}
	s.hub = NewHub(deps.WS, deps.Logger)
	return s, nil
}

// Start binds the listener, starts the WebSocket hub and forwards
// controller events to it, then serves in the background.
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)
	s.unsubscribe = s.controller.Subscribe(s.hub.BroadcastEvent)

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

// Close stops forwarding events, closes WebSocket clients and waits up to
// gracefulShutdownTimeout for in-flight requests.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		if s.cancel != nil {
			s.cancel()
		}
		if s.server == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.logger.Info("API server shutting down")
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutting down API server: %w", shutdownErr)
		}
	})
	return err
}

// HealthCheck returns an error until the server has started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
