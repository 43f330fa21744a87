package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/autotouch-core/internal/adb"
	"github.com/nerrad567/autotouch-core/internal/automation"
	"github.com/nerrad567/autotouch-core/internal/catalog"
	"github.com/nerrad567/autotouch-core/internal/infrastructure/config"
	"github.com/nerrad567/autotouch-core/internal/infrastructure/logging"
	"github.com/nerrad567/autotouch-core/internal/vision"
)

// adbDevices hands the supervisor one adb client per serial.
type adbDevices struct {
	client *adb.Client
}

// Device implements automation.DeviceProvider.
func (d adbDevices) Device(serial string) automation.Device {
	return d.client.WithDevice(serial)
}

// engine is the part of the service every command that runs sequences needs.
type engine struct {
	catalog   *catalog.Catalog
	matcher   *vision.Matcher
	templates *vision.TemplateStore
}

// loadEngine loads the template catalog and prepares the matcher.
//
// Parameters:
//   - ctx: Bounds the initial catalog scan
//   - cfg: Application configuration
//   - log: Logger instance
//
// Returns:
//   - *engine: Loaded catalog with matcher and template cache
//   - error: If the catalog fails to load
func loadEngine(ctx context.Context, cfg *config.Config, log *logging.Logger) (*engine, error) {
	cat := catalog.New(cfg.Templates.Root, log.Component("catalog"))
	if _, err := cat.LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("loading template catalog: %w", err)
	}
	return &engine{
		catalog:   cat,
		matcher:   vision.NewMatcher(vision.Options{Scale: cfg.Engine.MatchScale}),
		templates: vision.NewTemplateStore(),
	}, nil
}

// supervisorDeps fills the fields every supervisor shares. Callers add the
// archive, hub, MQTT and metrics sinks they have.
func (e *engine) supervisorDeps(cfg *config.Config, devices automation.DeviceProvider, log *logging.Logger) automation.SupervisorDeps {
	return automation.SupervisorDeps{
		Sequences: e.catalog,
		Devices:   devices,
		Matcher:   e.matcher,
		Templates: e.templates,
		Executor:  executorConfig(cfg),
		Logger:    log.Component("supervisor"),
	}
}

func executorConfig(cfg *config.Config) automation.ExecutorConfig {
	return automation.ExecutorConfig{
		CaptureTimeout:     cfg.Engine.CaptureTimeoutDuration(),
		InteractionTimeout: cfg.Engine.InteractionTimeoutDuration(),
		ScreenWidth:        cfg.ADB.Scroll.ScreenWidth,
		ScreenHeight:       cfg.ADB.Scroll.ScreenHeight,
	}
}

func newADBClient(cfg *config.Config, log *logging.Logger) *adb.Client {
	return adb.New(cfg.ADB, adb.WithLogger(log.Component("adb")))
}

// adbServerConfig supervises "adb nodaemon server", probing it by listing devices.
func adbServerConfig(cfg *config.Config, client *adb.Client) adb.ServerConfig {
	return adb.ServerConfig{
		Binary:          cfg.ADB.Binary,
		RestartDelay:    time.Second,
		MaxRestartDelay: 30 * time.Second,
		HealthCheck: func(ctx context.Context) error {
			_, err := client.Devices(ctx)
			return err
		},
	}
}
