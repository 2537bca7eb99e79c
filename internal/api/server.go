package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-dobiss/internal/audit"
	"github.com/nerrad567/gray-logic-dobiss/internal/bridges/dobiss"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/mqtt"
)

// shutdownGrace bounds how long Close waits for in-flight requests.
const shutdownGrace = 10 * time.Second

// MetricsProvider exposes bridge counters. *dobiss.Bridge implements it.
type MetricsProvider interface {
	GetMetrics() dobiss.BridgeMetrics
}

// FrameLister lists recorded unhandled frames. *dobiss.FrameRecorder
// implements it.
type FrameLister interface {
	List(ctx context.Context, limit int) ([]dobiss.UnhandledFrame, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	// Driver is required; all output endpoints go through it.
	Driver dobiss.Controller

	// MQTT feeds the WebSocket hub from retained state topics. Optional.
	MQTT *mqtt.Client

	// Bridge adds bridge counters to /metrics. Optional.
	Bridge MetricsProvider

	// Frames backs /diagnostics/frames. Optional.
	Frames FrameLister

	// Audit records output commands and backs /audit. Optional.
	Audit AuditLog

	Version string
}

// Server serves the REST API and the WebSocket state feed. Create it with
// New, then Start and Close it once each.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	driver    dobiss.Controller
	mqtt      *mqtt.Client
	bridge    MetricsProvider
	frames    FrameLister
	audit     AuditLog
	version   string
	startTime time.Time

	hub     *Hub
	tickets *ticketStore
	auditCh chan *audit.Entry

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // stops the hub, ticket sweep and audit drain
}

func (d Deps) validate() error {
	var missing []string
	if d.Logger == nil {
		missing = append(missing, "logger")
	}
	if d.Driver == nil {
		missing = append(missing, "driver")
	}
	if d.Security.JWT.Secret == "" {
		missing = append(missing, "jwt secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("api: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// New checks deps and builds a server. Nothing runs until Start.
func New(deps Deps) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		driver:    deps.Driver,
		mqtt:      deps.MQTT,
		bridge:    deps.Bridge,
		frames:    deps.Frames,
		audit:     deps.Audit,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Logger),
		tickets:   newTicketStore(),
	}
	if deps.Audit != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}
	return s, nil
}

// Start binds the listen address, so a port clash is reported here, then
// serves in the background. State topics from MQTT feed the WebSocket hub.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	bg, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.hub.Run(bg)
	go s.tickets.run(bg)
	if s.auditCh != nil {
		go s.drainAuditLog(bg)
	}

	if err := s.subscribeStateUpdates(); err != nil {
		s.logger.Warn("failed to subscribe to state updates for WebSocket", "error", err)
	}

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}
	s.server, s.listener = srv, ln

	s.logger.Info("API server listening", "address", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr is the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close drains in-flight requests for up to shutdownGrace. Closing a
// server that is not running is a no-op.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	if s.mqtt != nil {
		if err := s.mqtt.Unsubscribe(dobiss.StateSubscribeTopic()); err != nil {
			s.logger.Debug("unsubscribe state updates failed", "error", err)
		}
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	s.server, s.listener = nil, nil
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.Addr() == "" {
		return fmt.Errorf("api server not started")
	}
	return nil
}
