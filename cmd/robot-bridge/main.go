// robot-bridge connects a robot's CAN bus to an MQTT broker: feedback frames
// become JSON status on ROBOT/<id>/Status, and JSON commands on
// ROBOT/<id>/Control are retransmitted as control frames.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/farouk15160/robot-edge-bridge/internal/bridge"
	"github.com/farouk15160/robot-edge-bridge/internal/canbus"
	"github.com/farouk15160/robot-edge-bridge/internal/config"
	"github.com/farouk15160/robot-edge-bridge/internal/logging"
	"github.com/farouk15160/robot-edge-bridge/internal/mqtt"
	"github.com/farouk15160/robot-edge-bridge/internal/recorder"
	"github.com/farouk15160/robot-edge-bridge/internal/robot"
)

const statsInterval = time.Minute

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := config.NewFlags("robot-bridge")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.Help() {
		fmt.Fprintf(os.Stderr, "Usage: robot-bridge [flags]\n\n%s", flags.Usage())
		return nil
	}

	cfg := config.Default()
	if flags.ConfigFile != "" {
		loaded, err := config.Load(flags.ConfigFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	flags.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	canBus, err := canbus.New(canbus.Config{
		BusType: cfg.CAN.BusType,
		Channel: cfg.CAN.Channel,
		Bitrate: cfg.CAN.Bitrate,
		BringUp: cfg.CAN.BringUp,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	mqttClient, err := mqtt.New(mqtt.Config{
		Broker:         cfg.MQTT.Host,
		Port:           cfg.MQTT.Port,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		KeepAlive:      cfg.MQTT.KeepAlive,
		Will: &mqtt.Will{
			Topic:    robot.OnlineTopic(cfg.Robot.ID),
			Payload:  bridge.PresencePayload(cfg.Robot.ID, false, "", time.Time{}),
			QoS:      1,
			Retained: true,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	opts := []bridge.Option{bridge.WithLogger(logger)}
	if cfg.InfluxDB.Enabled {
		influx, err := recorder.NewInflux(recorder.InfluxConfig{
			URL:         cfg.InfluxDB.URL,
			Token:       cfg.InfluxDB.Token,
			Database:    cfg.InfluxDB.Database,
			Measurement: cfg.InfluxDB.Measurement,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		defer closeRecorder(logger, "influxdb", influx.Close)
		opts = append(opts, bridge.WithStatusRecorder(influx))
	}
	if cfg.ClickHouse.Enabled {
		ch, err := recorder.NewClickHouse(ctx, recorder.ClickHouseConfig{
			Host:      cfg.ClickHouse.Host,
			Port:      cfg.ClickHouse.Port,
			Database:  cfg.ClickHouse.Database,
			Username:  cfg.ClickHouse.Username,
			Password:  cfg.ClickHouse.Password,
			Table:     cfg.ClickHouse.Table,
			BatchSize: cfg.ClickHouse.BatchSize,
			RobotID:   cfg.Robot.ID,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		defer closeRecorder(logger, "clickhouse", ch.Close)
		opts = append(opts, bridge.WithFrameRecorder(ch))
	}

	b, err := bridge.New(bridge.Config{
		RobotID:            cfg.Robot.ID,
		PublishInterval:    cfg.Timing.PublishInterval,
		RetransmitInterval: cfg.Timing.RetransmitInterval,
		SendTimeout:        cfg.Timing.SendTimeout,
		PublishTimeout:     cfg.Timing.PublishTimeout,
		CommandTimeout:     cfg.Timing.CommandTimeout,
		StatusQoS:          cfg.MQTT.QoS,
		ControlQoS:         cfg.MQTT.QoS,
	}, canBus, mqttClient, opts...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error {
		reportStats(gctx, logger, b)
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("robot bridge exited")
	return nil
}

// reportStats logs the bridge counters periodically until ctx is done.
func reportStats(ctx context.Context, logger *slog.Logger, b *bridge.Bridge) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := b.Stats()
			logger.Info("bridge stats",
				"dispatcher", b.DispatcherState().String(),
				"frames_received", s.FramesReceived,
				"frames_sent", s.FramesSent,
				"send_failures", s.SendFailures,
				"status_published", s.StatusPublished,
				"publish_failures", s.PublishFailures,
				"checksum_errors", s.ChecksumErrors,
				"counter_gaps", s.CounterGaps)
		}
	}
}

func closeRecorder(logger *slog.Logger, name string, close func() error) {
	if err := close(); err != nil {
		logger.Warn("failed to close recorder", "sink", name, "err", err)
	}
}
