package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/reolink-core/internal/action"
	"github.com/nerrad567/reolink-core/internal/audit"
	reolink "github.com/nerrad567/reolink-core/internal/bridges/reolink"
	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/hub"
	"github.com/nerrad567/reolink-core/internal/infrastructure/config"
	"github.com/nerrad567/reolink-core/internal/infrastructure/logging"
	"github.com/nerrad567/reolink-core/internal/refresh"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Workflows runs provisioning and read cycles. *reolink.Bridge satisfies it.
type Workflows interface {
	Provision(ctx context.Context, deviceID string) (*reolink.ProvisionReport, error)
	Refresh(ctx context.Context, deviceID string) (*refresh.Report, error)
	Stats() reolink.BridgeStatistics
}

// Executor runs action commands. *action.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, deviceID, logicalID string, opts action.Options) error
}

// Discoverer creates child devices for a hub. *hub.Discoverer satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, hubID string) (*hub.Report, error)
}

// ConnectionTester checks device credentials. *transport.Router satisfies it.
type ConnectionTester interface {
	TestConnection(ctx context.Context, dev *device.Device) error
}

// AuditLog records and lists audit entries. *audit.SQLiteRepository
// satisfies it.
type AuditLog interface {
	Record(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, f audit.Filter) (*audit.ListResult, error)
}

// CommandLister reads a device's synthesized commands.
// *device.SQLiteRepository satisfies it.
type CommandLister interface {
	ListCommands(ctx context.Context, deviceID string) (device.CommandSet, error)
}

// Scheduler keeps autorefresh entries in step with API changes.
// *refresh.Cron satisfies it.
type Scheduler interface {
	Schedule(dev *device.Device) error
	Unschedule(deviceID string)
}

// ConnectionStatus reports broker connectivity. *mqtt.Client satisfies it.
type ConnectionStatus interface {
	IsConnected() bool
}

// DBChecker pings the database. *database.DB satisfies it.
type DBChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Registry   *device.Registry
	Commands   CommandLister
	Workflows  Workflows
	Executor   Executor
	Discoverer Discoverer
	Tester     ConnectionTester
	Scheduler  Scheduler        // optional
	MQTT       ConnectionStatus // optional
	DB         DBChecker        // optional
	Audit      AuditLog         // optional
	Hub        *Hub             // If set, the server uses this hub instead of creating its own
	Version    string
}

// Server is the HTTP API server for reolinkd.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	registry   *device.Registry
	commands   CommandLister
	workflows  Workflows
	executor   Executor
	discoverer Discoverer
	tester     ConnectionTester
	scheduler  Scheduler
	mqtt       ConnectionStatus
	db         DBChecker
	audit      AuditLog
	version    string
	startTime  time.Time
	tickets    *ticketStore
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command lister is required")
	}
	if deps.Workflows == nil {
		return nil, fmt.Errorf("workflows are required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if deps.Discoverer == nil {
		return nil, fmt.Errorf("discoverer is required")
	}
	if deps.Tester == nil {
		return nil, fmt.Errorf("connection tester is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		registry:   deps.Registry,
		commands:   deps.Commands,
		workflows:  deps.Workflows,
		executor:   deps.Executor,
		discoverer: deps.Discoverer,
		tester:     deps.Tester,
		scheduler:  deps.Scheduler,
		mqtt:       deps.MQTT,
		db:         deps.DB,
		audit:      deps.Audit,
		version:    deps.Version,
		startTime:  time.Now(),
		tickets:    newTicketStore(),
		hub:        deps.Hub,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub when none was injected,
// and launches the HTTP listener in a background goroutine. The server can
// be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	// Start periodic ticket cleanup to prevent memory leaks
	go s.cleanTicketsLoop(srvCtx)

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

// HealthCheck verifies the API server is running and responsive.
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
