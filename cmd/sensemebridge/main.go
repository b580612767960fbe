// SenseME Bridge
//
// Keeps a live mirror of every registered Haiku/SenseME fan on the LAN and
// exposes it over MQTT, a REST API and a WebSocket event stream. Fans are
// registered in SQLite, seeded from the config file, and reached on TCP and
// UDP port 31415.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-senseme/internal/api"
	"github.com/nerrad567/gray-logic-senseme/internal/bridges/senseme"
	"github.com/nerrad567/gray-logic-senseme/internal/device"
	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-senseme/migrations"
)

// Set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// historyRetention is how long state history rows are kept.
	historyRetention  = 30 * 24 * time.Hour
	historyPruneEvery = time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled. Deferred
// cleanup runs in reverse order of startup.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting SenseME bridge", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx, migrations.Source()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("registry"))
	if err := registry.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading fan registry: %w", err)
	}
	seeded, err := registry.Seed(ctx, cfg.SenseME.Fans)
	if err != nil {
		log.Warn("some configured fans could not be seeded", "error", err)
	}
	log.Info("fan registry initialised", "fans", registry.Count(), "seeded", seeded)

	historyRepo := device.NewSQLiteHistoryRepository(db.DB)
	recorder := device.NewHistoryRecorder(historyRepo, log.Component("history"))
	recorder.Start()
	defer recorder.Stop()

	observers := []senseme.StateObserver{recorder}

	influxClient, err := connectInfluxDB(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		observers = append(observers, influxObserver{client: influxClient})
	}

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
		observers = append(observers, hub)
	}

	var mqttClient *mqtt.Client
	var mqttPort senseme.MQTTClient
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("closing MQTT session", "stats", mqttClient.Stats())
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttPort = &mqttAdapter{client: mqttClient}
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	opts, err := bridgeOptions(cfg, mqttPort, registry, observers, log)
	if err != nil {
		return err
	}
	bridge := senseme.NewBridge(opts)
	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer bridge.Stop()

	if mqttClient != nil {
		// Retained state may be lost with a broker restart.
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected, republishing fan state")
			bridge.RepublishState()
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	}

	var server *api.Server
	if cfg.API.Enabled {
		server, err = api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log.Component("api"),
			Registry: registry,
			Bridge:   bridge,
			History:  historyRepo,
			Hub:      hub,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pruneHistory(gctx, historyRepo, log)
		return nil
	})

	log.Info("initialisation complete", "fans", bridge.DeviceCount(), "api", server != nil)
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns SENSEME_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("SENSEME_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func bridgeOptions(cfg *config.Config, mqttPort senseme.MQTTClient, registry *device.Registry,
	observers []senseme.StateObserver, log *logging.Logger) (senseme.Options, error) {
	unit, err := senseme.ParseTemperatureUnit(cfg.SenseME.TemperatureUnit)
	if err != nil {
		return senseme.Options{}, err
	}

	opts := senseme.Options{
		BridgeID:        cfg.Bridge.ID,
		Version:         version,
		MQTT:            mqttPort,
		Registry:        registry,
		Identities:      registry,
		Observers:       observers,
		QueueSize:       cfg.SenseME.QueueSize,
		ConfirmTimeout:  cfg.SenseME.GetConfirmTimeout(),
		HealthInterval:  cfg.GetHealthInterval(),
		ReconnectDelay:  cfg.SenseME.GetReconnectDelay(),
		RetryDelay:      cfg.SenseME.GetRetryDelay(),
		PollInterval:    cfg.SenseME.GetPollInterval(),
		TemperatureUnit: unit,
		Logger:          log.Component("senseme"),
	}
	if cfg.SenseME.ListenUDP {
		opts.UDPAddress = cfg.SenseME.UDPAddress
	}
	return opts, nil
}

func connectInfluxDB(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client, nil
}

// healthCheck verifies every enabled infrastructure connection.
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

func pruneHistory(ctx context.Context, repo device.HistoryRepository, log *logging.Logger) {
	ticker := time.NewTicker(historyPruneEvery)
	defer ticker.Stop()

	for {
		n, err := repo.Prune(ctx, historyRetention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("state history prune failed", "error", err)
		case n > 0:
			log.Info("state history pruned", "rows", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// influxObserver writes every reconciled change to InfluxDB.
type influxObserver struct {
	client *influxdb.Client
}

func (o influxObserver) ObserveState(c senseme.StateChange) {
	o.client.WriteFanState(c.DeviceID, string(c.Attribute), c.Value, c.Timestamp)
}

// mqttAdapter adapts the infrastructure MQTT client to senseme.MQTTClient.
// Bridge handlers return nothing, so the wrapper always reports success.
type mqttAdapter struct {
	client *mqtt.Client
}

func (a *mqttAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

func (a *mqttAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

func (a *mqttAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
