package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/knxnetip/internal/bridge"
	"github.com/nerrad567/knxnetip/internal/infrastructure/config"
	"github.com/nerrad567/knxnetip/internal/infrastructure/logging"
	"github.com/nerrad567/knxnetip/internal/knxnet/client"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bus is the part of *client.Connection the API reads.
type Bus interface {
	On(name string, fn client.Handler) (cancel func())
	IsConnected() bool
	Stats() client.Stats
}

// Executor runs commands and converts inbound events. *bridge.Executor
// implements it.
type Executor interface {
	Execute(ctx context.Context, cmd bridge.CommandMessage, topicAddr string) bridge.AckMessage
	Telegram(ev client.Event) bridge.Telegram
}

// Recorder lists what the bus recorder has seen. *bridge.Recorder
// implements it.
type Recorder interface {
	GroupAddresses(ctx context.Context) ([]bridge.GroupRecord, error)
	GroupAddress(ctx context.Context, addr string) (bridge.GroupRecord, error)
	Devices(ctx context.Context) ([]bridge.DeviceRecord, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Bus      Bus
	Executor Executor
	Recorder Recorder // optional: listings answer 503 without it

	// Counters reports the MQTT bridge counters in /status. Optional.
	Counters func() bridge.Counters

	// Checks are the dependencies /status reports (database, influxdb,
	// mqtt). Optional.
	Checks map[string]bridge.HealthChecker

	Gateway string
	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	bus       Bus
	exec      Executor
	recorder  Recorder
	counters  func() bridge.Counters
	checks    map[string]bridge.HealthChecker
	gateway   string
	version   string
	startTime time.Time

	server         *http.Server
	hub            *Hub
	unsubscribeBus func()
	cancel         context.CancelFunc // cancels the hub on Close()
	mu             sync.Mutex
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, bus, executor)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	counters := deps.Counters
	if counters == nil {
		counters = func() bridge.Counters { return bridge.Counters{} }
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		bus:       deps.Bus,
		exec:      deps.Executor,
		recorder:  deps.Recorder,
		counters:  counters,
		checks:    deps.Checks,
		gateway:   deps.Gateway,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Config.WebSocket, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes it to the connection's events and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation of the hub
//
// Returns:
//   - error: If the server is already started
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.unsubscribeBus = s.bus.On(client.EventAll, s.relayTelegram)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr, "auth", s.cfg.JWTSecret != "")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	if s.unsubscribeBus != nil {
		s.unsubscribeBus()
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

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// relayTelegram broadcasts an inbound indication to WebSocket clients on
// "telegram" and "telegram:{destination}".
func (s *Server) relayTelegram(ev client.Event) {
	if s.hub.ClientCount() == 0 {
		return
	}
	msg := bridge.NewTelegramMessage(s.exec.Telegram(ev))
	s.hub.Broadcast(ChannelTelegrams, msg)
	s.hub.Broadcast(ChannelTelegrams+":"+msg.Destination, msg)
}
