package app

import (
	"sync/atomic"
	"time"

	"transcript-pipeline-service/internal/config"
	"transcript-pipeline-service/internal/observability/logging"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "transcript-pipeline-service"

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	ready atomic.Bool
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("Transcript pipeline application created")
	return a
}

// setupLogger configures the global zerolog logger and derives the
// application logger from it.
func (a *Application) setupLogger() {
	lc := logging.DefaultConfig()
	lc.Level = a.Cfg.Observability.LogLevel
	if a.Cfg.Observability.LogFormat != "" {
		lc.Format = a.Cfg.Observability.LogFormat
	}
	if a.Cfg.Service.Environment == "dev" {
		lc.Format = "console"
	}
	logging.Init(lc)

	a.Logger = log.With().
		Str("service", serviceName).
		Str("component", "application").
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", lc.Format).
		Str("environment", a.Cfg.Service.Environment).
		Msg("Logger setup completed")
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("sttProvider", a.Cfg.STT.Provider).
		Str("storageDriver", a.Cfg.Storage.Driver).
		Msg("Transcript pipeline starting")

	return nil
}

// Ready reports whether the application has started and is not shutting down.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	shutdownLogger.Info().
		Dur("uptime", time.Since(a.StartupTime)).
		Msg("Transcript pipeline shutting down")
}
