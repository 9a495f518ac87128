package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/farouk15160/robot-edge-bridge/internal/bridge"
	"github.com/farouk15160/robot-edge-bridge/internal/canframe"
)

// ClickHouseConfig selects the frame journal table.
type ClickHouseConfig struct {
	Host      string
	Port      int
	Database  string
	Username  string
	Password  string
	Table     string
	BatchSize int
	RobotID   string
	Logger    *slog.Logger
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type frameRecord struct {
	direction canframe.Direction
	frame     canframe.Frame
	at        time.Time
}

// ClickHouse journals every frame the bridge receives or sends.
type ClickHouse struct {
	conn    driver.Conn
	table   string
	robotID string
	batch   *batcher[frameRecord]
}

var _ bridge.FrameRecorder = (*ClickHouse)(nil)

// NewClickHouse connects, creates the journal table if needed and starts the
// batch writer.
func NewClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouse, error) {
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", cfg.Table)
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, createTableQuery(cfg.Table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &ClickHouse{conn: conn, table: cfg.Table, robotID: cfg.RobotID}
	r.batch = newBatcher(cfg.BatchSize, DefaultFlushInterval,
		logger.With("component", "recorder", "sink", "clickhouse"), r.flush)
	return r, nil
}

func createTableQuery(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			robot_id String,
			direction String,
			can_id UInt32,
			data Array(UInt8)
		) ENGINE = MergeTree()
		ORDER BY (robot_id, timestamp, can_id)
		PARTITION BY toYYYYMMDD(timestamp)
		TTL toDateTime(timestamp) + INTERVAL 1 MONTH
	`, table)
}

// RecordFrame queues a frame. It never blocks.
func (r *ClickHouse) RecordFrame(dir canframe.Direction, frame canframe.Frame, at time.Time) {
	r.batch.add(frameRecord{direction: dir, frame: frame, at: at})
}

func (r *ClickHouse) flush(ctx context.Context, records []frameRecord) error {
	batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO "+r.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, rec := range records {
		if err := batch.Append(frameRow(r.robotID, rec)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// frameRow returns the column values of one journal row.
func frameRow(robotID string, rec frameRecord) []any {
	data := make([]uint8, len(rec.frame.Payload()))
	copy(data, rec.frame.Payload())
	return []any{rec.at, robotID, rec.direction.String(), rec.frame.ID, data}
}

// Close flushes queued frames and closes the connection.
func (r *ClickHouse) Close() error {
	r.batch.close()
	return r.conn.Close()
}
