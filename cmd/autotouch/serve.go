package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/autotouch-core/internal/adb"
	"github.com/nerrad567/autotouch-core/internal/api"
	"github.com/nerrad567/autotouch-core/internal/automation"
	"github.com/nerrad567/autotouch-core/internal/infrastructure/config"
	"github.com/nerrad567/autotouch-core/internal/infrastructure/database"
	"github.com/nerrad567/autotouch-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/autotouch-core/internal/infrastructure/logging"
	"github.com/nerrad567/autotouch-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/autotouch-core/internal/overlay"
	"github.com/nerrad567/autotouch-core/migrations"
)

// supervisorShutdownTimeout bounds how long Close waits for the active run.
const supervisorShutdownTimeout = 10 * time.Second

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the automation service",
		Long: "Load the template catalog and serve the HTTP API, WebSocket events and overlay.\n" +
			"MQTT remote control and InfluxDB metrics start when enabled in the configuration.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// serve is the service lifetime, separated from the command for testability.
//
// Parameters:
//   - ctx: Cancelled by SIGINT/SIGTERM; cancellation starts the shutdown
//   - cfg: Validated configuration
//
// Returns:
//   - error: nil on clean shutdown, or error describing the startup failure
func serve(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg, nil)
	log.Info("starting AutoTouch Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Open the run archive
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Load templates
	eng, err := loadEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	log.Info("template catalog ready",
		"root", cfg.Templates.Root,
		"sequences", len(eng.catalog.IDs()),
	)
	if cfg.Templates.ReloadInterval > 0 {
		go eng.catalog.Watch(ctx, time.Duration(cfg.Templates.ReloadInterval)*time.Second)
	}

	// Device access
	adbClient := newADBClient(cfg, log)
	if cfg.ADB.ManageServer {
		adbServer := adb.NewServer(adbServerConfig(cfg, adbClient), log.Component("adb-server"))
		if startErr := adbServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting adb server: %w", startErr)
		}
		defer func() {
			log.Info("stopping adb server")
			if stopErr := adbServer.Stop(); stopErr != nil {
				log.Error("error stopping adb server", "error", stopErr)
			}
		}()
		log.Info("adb server started", "binary", cfg.ADB.Binary)
	}

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	deps := eng.supervisorDeps(cfg, adbDevices{client: adbClient}, log)
	deps.RecentRuns = cfg.Engine.HistoryLimit
	deps.ArchiveLimit = cfg.Engine.HistoryLimit * 10
	deps.Repo = automation.NewSQLiteRepository(db.DB)
	deps.Hub = hub

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		deps.MQTT = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		deps.Metrics = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	sup := automation.NewSupervisor(deps)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), supervisorShutdownTimeout)
		defer cancel()
		log.Info("stopping supervisor")
		if closeErr := sup.Close(closeCtx); closeErr != nil {
			log.Error("error stopping supervisor", "error", closeErr)
		}
	}()
	if mqttClient != nil {
		if subErr := sup.SubscribeCommands(mqttClient); subErr != nil {
			return fmt.Errorf("subscribing to MQTT commands: %w", subErr)
		}
	}

	ctl := overlay.New(overlay.Deps{
		Runs:        sup,
		Permissions: permissionProvider(cfg.Overlay),
		Hub:         hub,
		Logger:      log.Component("overlay"),
	})

	server, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log.Component("api"),
		Runs:         sup,
		Catalog:      eng.catalog,
		Devices:      api.ADBDevices{Client: adbClient},
		Matcher:      eng.matcher,
		Templates:    eng.templates,
		Overlay:      ctl,
		Hub:          hub,
		HistoryLimit: cfg.Engine.HistoryLimit,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, supervisor (cancels
	// the active run), InfluxDB, MQTT, adb server, database.

	log.Info("AutoTouch Core stopped")
	return nil
}

func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// permissionProvider grants the overlay permission up front when configured.
// Otherwise the client reports the result of its own permission dialog.
func permissionProvider(cfg config.OverlayConfig) overlay.PermissionProvider {
	if cfg.AutoGrant {
		return overlay.StaticPermission(true)
	}
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
