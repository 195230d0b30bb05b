package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/knxnetip/migrations"

	"github.com/nerrad567/knxnetip/internal/api"
	"github.com/nerrad567/knxnetip/internal/bridge"
	"github.com/nerrad567/knxnetip/internal/infrastructure/config"
	"github.com/nerrad567/knxnetip/internal/infrastructure/database"
	"github.com/nerrad567/knxnetip/internal/infrastructure/influxdb"
	"github.com/nerrad567/knxnetip/internal/infrastructure/logging"
	"github.com/nerrad567/knxnetip/internal/infrastructure/mqtt"
	"github.com/nerrad567/knxnetip/internal/knxnet/client"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the gateway daemon",
		Long: `Run connects to the KNXnet/IP gateway and keeps the session alive,
reconnecting when it drops. Depending on the config it also:

  - records seen group addresses and devices in SQLite (database.enabled)
  - writes telegrams and session statistics to InfluxDB (influxdb.enabled)
  - bridges telegrams and commands to MQTT (mqtt.enabled)
  - serves the HTTP and WebSocket API (api.enabled)

The daemon stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

// run is the daemon. Every component it starts is stopped by a deferred
// call, so shutdown happens in reverse start order.
//
// Parameters:
//   - ctx: Cancelled on SIGINT or SIGTERM
//   - cfg: Validated configuration
//
// Returns:
//   - error: nil on clean shutdown, or error describing the startup failure
func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting knxnetip",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	var sinks []bridge.Sink

	// Sink health, reported in the MQTT health message and GET /api/v1/status.
	checks := make(map[string]bridge.HealthChecker)

	// Bus recorder (optional)
	var recorder *bridge.Recorder
	if cfg.Database.Enabled {
		db, err := database.Open(database.FromConfig(cfg.Database))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")
		checks["database"] = db

		recorder = bridge.NewRecorder(db.DB)
		recorder.SetLogger(log)
		if startErr := recorder.Start(); startErr != nil {
			return fmt.Errorf("starting recorder: %w", startErr)
		}
		defer recorder.Stop()
		sinks = append(sinks, recorder)
	} else {
		log.Info("bus recorder disabled")
	}

	// KNXnet/IP session
	opts, err := connectionOptions(cfg.KNX)
	if err != nil {
		return err
	}
	conn, err := client.New(opts, log)
	if err != nil {
		return fmt.Errorf("creating KNXnet/IP connection: %w", err)
	}
	defer func() {
		log.Info("disconnecting from gateway")
		discCtx, cancel := context.WithTimeout(context.Background(), opts.DisconnectTimeout+client.DefaultDisconnectTimeout)
		defer cancel()
		if discErr := conn.Disconnect(discCtx); discErr != nil {
			log.Warn("disconnect failed", "error", discErr)
		}
		if closeErr := conn.Close(); closeErr != nil {
			log.Error("error closing KNXnet/IP connection", "error", closeErr)
		}
	}()

	// InfluxDB telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		telemetry := bridge.NewTelemetry(bridge.TelemetryConfig{
			Writer:        influxClient,
			Bus:           conn,
			Gateway:       cfg.KNX.Gateway,
			StatsInterval: cfg.Bridge.GetStatsInterval(),
		})
		telemetry.Start(ctx)
		defer telemetry.Stop()
		sinks = append(sinks, telemetry)
	} else {
		log.Info("InfluxDB disabled")
	}

	exec := bridge.NewExecutor(bridge.ExecutorOptions{
		Sender: conn,
		DPTs:   cfg.Bridge.DPTs,
		Logger: log,
	})

	// MQTT bridge (optional). Without it the sinks are fed straight from
	// the connection.
	var counters func() bridge.Counters
	if cfg.MQTT.Enabled {
		topics := mqtt.Topics{Prefix: cfg.Bridge.TopicPrefix}
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT, topics)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		b, bridgeErr := bridge.New(bridge.Options{
			Bus:            conn,
			MQTT:           mqttClient,
			Topics:         topics,
			QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2
			Executor:       exec,
			Sinks:          sinks,
			Version:        version,
			Gateway:        cfg.KNX.Gateway,
			HealthInterval: cfg.Bridge.GetHealthInterval(),
			Checks:         checks,
			Logger:         log,
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating bridge: %w", bridgeErr)
		}
		if startErr := b.Start(ctx); startErr != nil {
			return fmt.Errorf("starting bridge: %w", startErr)
		}
		defer b.Stop()
		counters = b.Counters
	} else {
		log.Info("MQTT disabled")
		if len(sinks) > 0 {
			unsubscribe := conn.On(client.EventAll, exec.Feed(sinks...))
			defer unsubscribe()
		}
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Bus:      conn,
			Executor: exec,
			Counters: counters,
			Checks:   checks,
			Gateway:  cfg.KNX.Gateway,
			Version:  version,
		}
		if recorder != nil {
			deps.Recorder = recorder
		}
		srv, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)
	} else {
		log.Info("API disabled")
	}

	// Connect last so the first telegrams reach every subscriber. With
	// auto-reconnect Connect keeps retrying until the gateway answers or
	// the daemon is stopped.
	log.Info("connecting to gateway", "gateway", opts.Remote().String())
	if err := conn.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown requested before gateway connected")
			return nil
		}
		return fmt.Errorf("connecting to gateway: %w", err)
	}
	log.Info("gateway connected",
		"tunneling", conn.Tunneling(),
		"individual_address", conn.LocalAddress().String(),
	)

	log.Info("knxnetip started successfully")

	<-ctx.Done()

	log.Info("shutting down knxnetip")
	return nil
}
