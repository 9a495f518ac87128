package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/farouk15160/robot-edge-bridge/internal/robot"
)

// Defaults used when a Config leaves a value at zero.
const (
	DefaultPublishInterval    = 500 * time.Millisecond
	DefaultRetransmitInterval = 20 * time.Millisecond
	DefaultSendTimeout        = 10 * time.Millisecond
	DefaultPublishTimeout     = 400 * time.Millisecond
	DefaultShutdownTimeout    = 2 * time.Second
)

// Config holds the plain parameters the bridge core needs.
type Config struct {
	RobotID            string
	PublishInterval    time.Duration
	RetransmitInterval time.Duration
	SendTimeout        time.Duration
	PublishTimeout     time.Duration
	CommandTimeout     time.Duration
	StatusQoS          byte
	ControlQoS         byte
}

func (c Config) withDefaults() Config {
	if c.PublishInterval <= 0 {
		c.PublishInterval = DefaultPublishInterval
	}
	if c.RetransmitInterval <= 0 {
		c.RetransmitInterval = DefaultRetransmitInterval
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = publishTimeoutFor(c.PublishInterval)
	}
	return c
}

// publishTimeoutFor leaves a fifth of the publish interval as headroom so a
// slow publish never overlaps the next tick.
func publishTimeoutFor(interval time.Duration) time.Duration {
	return min(DefaultPublishTimeout, interval*4/5)
}

// Option customises a Bridge.
type Option func(*Bridge)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

func WithStatusRecorder(r StatusRecorder) Option {
	return func(b *Bridge) { b.statusRec = r }
}

func WithFrameRecorder(r FrameRecorder) Option {
	return func(b *Bridge) { b.frameRec = r }
}

// WithClock replaces time.Now for status timestamps and reports.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// Bridge wires the CAN bus and the MQTT broker for one robot.
type Bridge struct {
	cfg  Config
	can  CANTransport
	mqtt MQTTTransport

	status     *robot.StatusAggregator
	commands   *robot.CommandCache
	publisher  *Publisher
	dispatcher *Dispatcher
	stats      *Stats

	statusRec StatusRecorder
	frameRec  FrameRecorder
	logger    *slog.Logger
	now       func() time.Time
	started   time.Time

	accepting    atomic.Bool
	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a bridge. Nothing is connected until Start.
func New(cfg Config, can CANTransport, mqtt MQTTTransport, opts ...Option) (*Bridge, error) {
	if cfg.RobotID == "" {
		return nil, errors.New("bridge: robot id is required")
	}
	if can == nil || mqtt == nil {
		return nil, errors.New("bridge: both transports are required")
	}
	b := &Bridge{
		cfg:      cfg.withDefaults(),
		can:      can,
		mqtt:     mqtt,
		status:   robot.NewStatusAggregator(cfg.RobotID),
		commands: robot.NewCommandCache(),
		stats:    &Stats{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("robot_id", b.cfg.RobotID)

	b.publisher = NewPublisher(PublisherConfig{
		MQTT:     mqtt,
		Status:   b.status,
		Topic:    robot.StatusTopic(b.cfg.RobotID),
		QoS:      b.cfg.StatusQoS,
		Interval: b.cfg.PublishInterval,
		Timeout:  b.cfg.PublishTimeout,
		Recorder: b.statusRec,
		Stats:    b.stats,
		Logger:   b.logger,
		Now:      b.now,
	})
	b.dispatcher = NewDispatcher(DispatcherConfig{
		RobotID:        b.cfg.RobotID,
		CAN:            can,
		Cache:          b.commands,
		Interval:       b.cfg.RetransmitInterval,
		SendTimeout:    b.cfg.SendTimeout,
		CommandTimeout: b.cfg.CommandTimeout,
		Frames:         b.frameRec,
		Stats:          b.stats,
		Logger:         b.logger,
	})
	return b, nil
}

// Start connects both transports, subscribes to the control topic and starts
// status publishing. Retransmission starts with the first valid command.
func (b *Bridge) Start(ctx context.Context) error {
	if b.closed.Load() {
		return ErrBridgeClosed
	}
	b.started = b.now()
	b.logger.Info("bridge starting",
		"publish_interval", b.cfg.PublishInterval,
		"retransmit_interval", b.cfg.RetransmitInterval,
		"command_timeout", b.cfg.CommandTimeout)

	b.can.OnReceive(b.HandleFrame)
	if err := b.can.Connect(ctx); err != nil {
		return fmt.Errorf("connect CAN: %w", err)
	}
	if err := b.mqtt.Connect(ctx); err != nil {
		_ = b.can.Disconnect()
		return fmt.Errorf("connect MQTT: %w", err)
	}
	b.accepting.Store(true)

	controlTopic := robot.ControlTopic(b.cfg.RobotID)
	if err := b.mqtt.Subscribe(controlTopic, b.cfg.ControlQoS, b.HandleControl); err != nil {
		b.abortStart()
		return fmt.Errorf("subscribe %s: %w", controlTopic, err)
	}
	diagTopic := robot.DiagRequestTopic(b.cfg.RobotID)
	if err := b.mqtt.Subscribe(diagTopic, 0, b.handleDiagRequest); err != nil {
		b.logger.Warn("diagnostics unavailable", "topic", diagTopic, "err", err)
	}

	b.publishPresence(ctx, true)

	if err := b.publisher.Start(ctx); err != nil {
		b.abortStart()
		return fmt.Errorf("start status publisher: %w", err)
	}
	b.logger.Info("bridge started", "control_topic", controlTopic, "status_topic", robot.StatusTopic(b.cfg.RobotID))
	return nil
}

// abortStart undoes a partially completed Start.
func (b *Bridge) abortStart() {
	b.accepting.Store(false)
	_ = b.mqtt.Disconnect()
	_ = b.can.Disconnect()
}

// Shutdown stops the bridge in dependency order: inbound processing first,
// then both periodic loops (waiting for each to exit), then the transports.
// Later calls return the result of the first one.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.shutdownOnce.Do(func() {
		b.logger.Info("bridge stopping")
		b.closed.Store(true)
		b.accepting.Store(false)

		var g errgroup.Group
		g.Go(func() error {
			b.publisher.Stop()
			return nil
		})
		g.Go(func() error {
			b.dispatcher.Close()
			return nil
		})
		_ = g.Wait()

		b.publishPresence(ctx, false)

		var errs []error
		if err := b.mqtt.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect MQTT: %w", err))
		}
		if err := b.can.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect CAN: %w", err))
		}
		b.shutdownErr = errors.Join(errs...)

		s := b.stats.Snapshot()
		b.logger.Info("bridge stopped",
			"frames_received", s.FramesReceived,
			"frames_sent", s.FramesSent,
			"status_published", s.StatusPublished)
	})
	return b.shutdownErr
}

// Run starts the bridge and blocks until ctx is cancelled, then shuts down.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()
	return b.Shutdown(shutdownCtx)
}

// Status returns the current merged robot status.
func (b *Bridge) Status() robot.RobotStatus { return b.status.Snapshot() }

// Stats exposes the bridge counters.
func (b *Bridge) Stats() StatsSnapshot { return b.stats.Snapshot() }

// DispatcherState reports whether control frames are being retransmitted.
func (b *Bridge) DispatcherState() DispatcherState { return b.dispatcher.State() }

// PublisherState reports the uplink publisher state.
func (b *Bridge) PublisherState() PublisherState { return b.publisher.State() }
