package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/reconcilectl/pkg/config"
	"github.com/openfroyo/reconcilectl/pkg/engine"
	"github.com/openfroyo/reconcilectl/pkg/stores"
	"github.com/openfroyo/reconcilectl/pkg/telemetry"
)

// session holds what one command needs to load and run modules: telemetry,
// the optional run history store, and a module loader.
type session struct {
	settings settings
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	loader   *config.Loader
}

// newSession sets up telemetry and, when a state database is configured,
// the store that records runs and persists events. The returned context
// carries the telemetry instance.
func (a *app) newSession(ctx context.Context) (*session, context.Context, error) {
	s := a.settings

	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = a.version
	cfg.Logging.Level = telemetryLevel(s.LogLevel)
	if s.TracingExporter != "" && s.TracingExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = s.TracingExporter
		cfg.Tracing.Endpoint = s.TracingEndpoint
	}

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	sess := &session{
		settings: s,
		tel:      tel,
		loader: config.NewLoader(
			config.WithLoaderLogger(log.Logger),
			config.WithEvaluationTimeout(s.EvaluationTimeout),
			config.WithVars(a.moduleVars()),
		),
	}

	if s.StateDB != "" {
		store, err := a.openStore(ctx)
		if err != nil {
			_ = tel.Shutdown(ctx)
			return nil, nil, err
		}
		sess.store = store
		tel.Events.Subscribe(store.EventSubscriber(log.Logger), nil)
	}

	return sess, tel.WithContext(ctx), nil
}

// openStore opens and migrates the configured state database.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:  a.settings.StateDB,
		Actor: a.settings.Actor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open state database %s: %w", a.settings.StateDB, err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate state database: %w", err)
	}
	return store, nil
}

// close stops event delivery before the store goes away.
func (s *session) close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.tel.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close state database")
		}
	}
}

// load evaluates the module at path.
func (s *session) load(ctx context.Context, path string) (*config.Module, error) {
	return s.loader.Load(ctx, path)
}

// drive runs mode over the module's reconcilers. The run banner and message
// results are written to out.
func (s *session) drive(ctx context.Context, mod *config.Module, mode engine.Mode, out io.Writer) (*engine.RunReport, error) {
	opts := []engine.DriverOption{
		engine.WithOutput(out),
		engine.WithLogger(log.Logger),
		engine.WithSource(mod.Path),
	}
	if s.store != nil {
		opts = append(opts, engine.WithRecorder(s.store))
	}

	driver := engine.NewDriver(opts...)
	if mode == engine.ModeApply {
		return driver.Apply(ctx, mod.Reconcilers)
	}
	return driver.Check(ctx, mod.Reconcilers)
}

// telemetryLevel maps the configured level, or the global zerolog level when
// none is set, onto the levels telemetry accepts.
func telemetryLevel(configured string) string {
	level := configured
	if level == "" {
		level = zerolog.GlobalLevel().String()
	}
	switch level {
	case "trace", "debug", "info", "warn", "error", "fatal":
		return level
	case "panic", "disabled":
		return "fatal"
	default:
		return "info"
	}
}
