package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"watchover/internal/config"
	"watchover/internal/logger"
	"watchover/internal/route"
	"watchover/internal/service/ai"
	"watchover/internal/service/ai/dnn"
	"watchover/internal/service/alert"
	"watchover/internal/service/camera"
	"watchover/internal/service/debounce"
	"watchover/internal/service/pipeline"
	"watchover/internal/service/storage"
	"watchover/internal/service/websocket"
)

// ShutdownTimeout bounds the graceful shutdown of the loop and the HTTP server.
const ShutdownTimeout = 5 * time.Second

type App struct {
	config     *config.Config
	logger     *logger.Logger
	ownsLogger bool

	detector   ai.Detector
	dispatcher *alert.Dispatcher
	alertLog   *storage.AlertLog
	hub        *websocket.HubService
	controller *pipeline.Controller
	handler    http.Handler
	listener   net.Listener
}

type options struct {
	logger    *logger.Logger
	detector  ai.Detector
	source    pipeline.FrameSource
	connector alert.Connector
	listener  net.Listener
}

// Option replaces a default collaborator.
type Option func(*options)

func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithDetector(d ai.Detector) Option {
	return func(o *options) { o.detector = d }
}

func WithSource(s pipeline.FrameSource) Option {
	return func(o *options) { o.source = s }
}

func WithConnector(c alert.Connector) Option {
	return func(o *options) { o.connector = c }
}

// WithListener serves on l instead of listening on the configured port.
func WithListener(l net.Listener) Option {
	return func(o *options) { o.listener = l }
}

// NewDetector builds the detection backend named in cfg.
func NewDetector(cfg *config.Config, logger *logger.Logger) (ai.Detector, error) {
	switch cfg.DetectorBackend {
	case "dnn":
		return dnn.NewDetector(cfg, logger.Named("dnn")), nil
	case "remote":
		return ai.NewRemoteDetector(cfg, logger.Named("remote")), nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.DetectorBackend)
	}
}

// NewApp wires every component from cfg.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{config: cfg, logger: o.logger, listener: o.listener}
	if a.logger == nil {
		l, err := logger.NewLogger(cfg)
		if err != nil {
			return nil, err
		}
		a.logger = l
		a.ownsLogger = true
	}

	a.detector = o.detector
	if a.detector == nil {
		d, err := NewDetector(cfg, a.logger)
		if err != nil {
			return nil, err
		}
		a.detector = d
	}

	source := o.source
	if source == nil {
		source = camera.NewSource(cfg, a.logger.Named("camera"))
	}

	connector := o.connector
	if connector == nil {
		connector = alert.NewMQTTConnector(cfg, a.logger)
	}

	a.dispatcher = alert.NewDispatcher(cfg, connector, a.logger)
	a.alertLog = storage.NewAlertLog(cfg.AlertLogCapacity)
	a.hub = websocket.NewHubService(a.logger)

	a.controller = pipeline.NewController(pipeline.Dependencies{
		Source:     source,
		Detector:   a.detector,
		Debouncer:  debounce.New(debounce.SettingsFrom(cfg)),
		Dispatcher: a.dispatcher,
		AlertLog:   a.alertLog,
		Notifier:   a.hub,
	}, pipeline.OptionsFrom(cfg), a.logger)

	a.handler = route.SetupRoutes(route.Dependencies{
		Config:   cfg,
		Logger:   a.logger,
		Pipeline: a.controller,
		Hub:      a.hub,
	})

	return a, nil
}

func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) Controller() *pipeline.Controller {
	return a.controller
}

// Run serves until ctx is done, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	if a.config.AutoStart {
		if err := a.controller.Start(ctx); err != nil {
			return err
		}
	}

	if a.config.ConfigWatch && a.config.ConfigFile != "" {
		err := config.Watch(ctx, a.config.ConfigFile, a.applyConfig, func(err error) {
			a.logger.Error("Config reload rejected, keeping previous settings: %v", err)
		})
		if err != nil {
			a.logger.Warning("Config watch disabled: %v", err)
		}
	}

	listener := a.listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", a.config.Addr())
		if err != nil {
			a.shutdown()
			return fmt.Errorf("failed to listen on %s: %w", a.config.Addr(), err)
		}
	}

	server := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("🚀 Watchover alerting server")
	a.logger.Info("📍 URL: http://%s", listener.Addr())
	a.logger.Info("📷 Camera: %s", a.config.CameraURL)
	a.logger.Info("🤖 Detector: %s", a.detector.Name())
	a.logger.Info("📡 Broker: %s topic %s", a.config.BrokerURL(), a.dispatcher.Topic())

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down...")
	case err := <-serveErr:
		runErr = err
		a.logger.Error("HTTP server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := a.controller.Stop(shutdownCtx); err != nil {
		a.logger.Warning("Pipeline did not stop in time: %v", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warning("HTTP shutdown: %v", err)
	}
	stopHub()
	a.shutdown()

	return runErr
}

// applyConfig takes the hot-reloadable part of a reloaded configuration.
func (a *App) applyConfig(cfg *config.Config) {
	a.controller.UpdateSettings(debounce.SettingsFrom(cfg))
	if cfg.StartArmed != a.config.StartArmed {
		a.logger.Info("start_armed changed; applies on next restart")
	}
}

func (a *App) shutdown() {
	if err := a.detector.Close(); err != nil {
		a.logger.Warning("Error closing detector: %v", err)
	}
	a.logger.Info("👋 Stopped")
	if a.ownsLogger {
		a.logger.Close()
	}
}
