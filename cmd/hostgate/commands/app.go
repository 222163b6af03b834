package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/hostgate/pkg/apphealth"
	"github.com/openfroyo/hostgate/pkg/config"
	"github.com/openfroyo/hostgate/pkg/engine"
	"github.com/openfroyo/hostgate/pkg/remote"
	"github.com/openfroyo/hostgate/pkg/stores"
	"github.com/openfroyo/hostgate/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

// buildVersion is reported as the service version in traces.
var buildVersion = "dev"

// app holds the components a command needs. Store-only commands leave the
// remote side unset.
type app struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	logger zerolog.Logger
	store  stores.Store
	health *apphealth.Checker
	coord  *engine.Coordinator
}

// openStore loads configuration, sets up telemetry and opens the migrated
// lease database.
func openStore(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	cfg.Telemetry.ServiceVersion = buildVersion

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	store, err := stores.NewSQLiteStore(stores.Config{
		Path:        cfg.Store.Path,
		BusyTimeout: cfg.Store.BusyTimeout,
		LeaseTTL:    cfg.Store.LeaseTTL,
	})
	if err != nil {
		return nil, errors.Join(err, shutdownTelemetry(tel))
	}
	if err := store.Init(ctx); err != nil {
		return nil, errors.Join(err, shutdownTelemetry(tel))
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, errors.Join(err, store.Close(), shutdownTelemetry(tel))
	}

	logger.Debug().Str("path", cfg.Store.Path).Msg("Lease store ready")

	return &app{
		cfg:    cfg,
		tel:    tel,
		logger: logger,
		store:  store,
	}, nil
}

// openApp is openStore plus the remote client, the readiness probe and the
// coordinator.
func openApp(ctx context.Context) (*app, error) {
	a, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.connect(ctx); err != nil {
		return nil, errors.Join(err, a.close())
	}
	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	api, err := remote.NewEC2API(ctx, a.cfg.Resource.Region)
	if err != nil {
		return err
	}

	client, err := remote.NewClient(api, remote.Config{
		TargetID:    a.cfg.Resource.ID,
		SettleDelay: a.cfg.Resource.SettleDelay,
		Provider:    a.cfg.Resource.Provider,
	}, a.logger, a.tel.Metrics)
	if err != nil {
		return err
	}

	opts := engine.Options{
		Logger:      a.logger,
		Metrics:     a.tel.Metrics,
		Tracer:      a.tel.Tracer.OTel(),
		RetryPolicy: a.cfg.Retry.Policy(),
		Audit:       a.store,
	}

	if a.cfg.Health.Enabled() {
		checker, err := apphealth.NewChecker(apphealth.Config{
			BaseURL: a.cfg.Health.URL,
			Timeout: a.cfg.Health.Timeout,
		}, a.logger)
		if err != nil {
			return err
		}
		a.health = checker
		opts.Health = checker
	}

	a.coord = engine.NewCoordinator(a.store, client, opts)
	return nil
}

func (a *app) close() error {
	return errors.Join(a.store.Close(), shutdownTelemetry(a.tel))
}

func shutdownTelemetry(tel *telemetry.Telemetry) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return tel.Shutdown(ctx)
}
