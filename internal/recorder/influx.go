package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"

	"github.com/farouk15160/robot-edge-bridge/internal/bridge"
	"github.com/farouk15160/robot-edge-bridge/internal/robot"
)

// InfluxConfig selects the InfluxDB 3 database for status history.
type InfluxConfig struct {
	URL         string
	Token       string
	Database    string
	Measurement string
	BatchSize   int
	Logger      *slog.Logger
}

type pointWriter interface {
	WritePoints(ctx context.Context, points []*influxdb3.Point, options ...influxdb3.WriteOption) error
	Close() error
}

type statusSample struct {
	status robot.RobotStatus
	at     time.Time
}

// Influx writes every published status snapshot as one point.
type Influx struct {
	client      pointWriter
	measurement string
	batch       *batcher[statusSample]
}

var _ bridge.StatusRecorder = (*Influx)(nil)

func NewInflux(cfg InfluxConfig) (*Influx, error) {
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     cfg.URL,
		Token:    cfg.Token,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}
	return newInflux(client, cfg), nil
}

func newInflux(client pointWriter, cfg InfluxConfig) *Influx {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = "robot_status"
	}
	r := &Influx{client: client, measurement: measurement}
	r.batch = newBatcher(cfg.BatchSize, DefaultFlushInterval,
		logger.With("component", "recorder", "sink", "influxdb"), r.flush)
	return r
}

// RecordStatus queues a snapshot. It never blocks.
func (r *Influx) RecordStatus(status robot.RobotStatus, at time.Time) {
	r.batch.add(statusSample{status: status, at: at})
}

func (r *Influx) flush(ctx context.Context, samples []statusSample) error {
	points := make([]*influxdb3.Point, 0, len(samples))
	for _, s := range samples {
		points = append(points, statusPoint(r.measurement, s.status, s.at))
	}
	if err := r.client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("failed to write points: %w", err)
	}
	return nil
}

// Close flushes queued points and closes the client.
func (r *Influx) Close() error {
	r.batch.close()
	return r.client.Close()
}

func statusPoint(measurement string, s robot.RobotStatus, at time.Time) *influxdb3.Point {
	return influxdb3.NewPoint(
		measurement,
		map[string]string{
			"robot_id": s.RobotID,
			"gear":     s.GearName,
		},
		map[string]any{
			"gear":                       int64(s.Gear),
			"speed":                      s.Speed,
			"steering_deg":               s.SteeringDeg,
			"side_slip":                  s.SideSlip,
			"linear_velocity":            s.LinearVelocity,
			"angular_velocity":           s.AngularVelocity,
			"battery_voltage":            s.BatteryVoltage,
			"battery_current":            s.BatteryCurrent,
			"battery_remaining_capacity": s.BatteryRemainingCapacity,
			"battery_max_temperature":    s.BatteryMaxTemperature,
			"battery_min_temperature":    s.BatteryMinTemperature,
			"battery_soc_percent":        s.BatterySOCPercent,
			"battery_is_charging":        s.BatteryIsCharging,
		},
		at,
	)
}
