package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/farouk15160/robot-edge-bridge/internal/canframe"
	"github.com/farouk15160/robot-edge-bridge/internal/robot"
)

// DispatcherState is either Stopped or Running.
type DispatcherState int

const (
	DispatcherStopped DispatcherState = iota
	DispatcherRunning
)

func (s DispatcherState) String() string {
	if s == DispatcherRunning {
		return "running"
	}
	return "stopped"
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	RobotID  string
	CAN      CANTransport
	Cache    *robot.CommandCache
	Interval time.Duration
	// SendTimeout bounds a single frame transmission so a stuck bus cannot
	// stall the heartbeat.
	SendTimeout time.Duration
	// CommandTimeout, when positive, stops retransmission once the cached
	// command is older than this. Zero leaves fail-safe entirely to the
	// actuator watchdog.
	CommandTimeout time.Duration
	Frames         FrameRecorder
	Stats          *Stats
	Logger         *slog.Logger
}

// Dispatcher retransmits the latest control command on the CAN bus at a
// fixed cadence. The actuator firmware expects a live stream of control
// frames; when the stream ends, its own watchdog stops the robot.
type Dispatcher struct {
	cfg    DispatcherConfig
	logger *slog.Logger
	stats  *Stats

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	// counter is the alive rolling counter. Only the running loop touches
	// it; a new loop starts after the previous one has exited.
	counter uint8
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRetransmitInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Cache == nil {
		cfg.Cache = robot.NewCommandCache()
	}
	if cfg.Stats == nil {
		cfg.Stats = &Stats{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:    cfg,
		logger: logger.With("component", "dispatcher"),
		stats:  cfg.Stats,
	}
}

// HandleCommand applies the safety interlocks to an inbound command and then
// updates the running retransmission, or starts it.
func (d *Dispatcher) HandleCommand(cmd robot.ControlCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	if err := d.interlockLocked(cmd); err != nil || cmd.IsStop() {
		return err
	}
	d.stats.CommandsAccepted.Add(1)
	if d.runningLocked() {
		d.cfg.Cache.Set(cmd)
		return nil
	}
	d.startLocked(cmd)
	return nil
}

// Start stores cmd and (re)starts retransmission. A run already in progress
// is fully stopped first. Start applies the same interlocks as HandleCommand.
func (d *Dispatcher) Start(cmd robot.ControlCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	if err := d.interlockLocked(cmd); err != nil || cmd.IsStop() {
		return err
	}
	d.startLocked(cmd)
	return nil
}

// Stop ends retransmission and returns once the loop has exited. It is safe
// to call at any time and any number of times.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked("stop requested")
}

// Close stops retransmission for good. Commands handled after Close are
// refused with ErrDispatcherClosed, so nothing can reach a CAN transport that
// is being torn down.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked("shutdown")
	d.closed = true
}

// State reports whether the retransmission loop is running.
func (d *Dispatcher) State() DispatcherState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runningLocked() {
		return DispatcherRunning
	}
	return DispatcherStopped
}

// interlockLocked stops the dispatcher for commands that must not reach the
// actuators: another robot's command, or the gear 0 stop sentinel.
func (d *Dispatcher) interlockLocked(cmd robot.ControlCommand) error {
	if cmd.RobotID != d.cfg.RobotID {
		d.stats.CommandsRejected.Add(1)
		d.logger.Warn("control command addressed to another robot, stopping",
			"bridge_robot", d.cfg.RobotID, "command_robot", cmd.RobotID)
		d.stopLocked("identity mismatch")
		return fmt.Errorf("%w: command for %q, bridge serves %q", ErrIdentityMismatch, cmd.RobotID, d.cfg.RobotID)
	}
	if cmd.IsStop() {
		d.logger.Info("gear 0 received, stopping retransmission")
		d.stopLocked("gear 0")
	}
	return nil
}

func (d *Dispatcher) runningLocked() bool {
	if d.done == nil {
		return false
	}
	select {
	case <-d.done:
		// The loop ended on its own (command timeout).
		return false
	default:
		return true
	}
}

func (d *Dispatcher) startLocked(cmd robot.ControlCommand) {
	d.stopLocked("restart")
	d.cfg.Cache.Set(cmd)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done
	go d.run(ctx, done)

	d.logger.Info("retransmission started",
		"interval", d.cfg.Interval, "gear", cmd.Gear, "speed", cmd.Speed, "steer", cmd.Steer, "side_slip", cmd.SideSlip)
}

func (d *Dispatcher) stopLocked(reason string) {
	if d.cancel == nil {
		return
	}
	wasRunning := d.runningLocked()
	d.cancel()
	<-d.done
	d.cancel = nil
	d.done = nil
	if wasRunning {
		d.stats.Stops.Add(1)
		d.logger.Info("retransmission stopped", "reason", reason)
	}
}

func (d *Dispatcher) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if d.commandExpired() {
			d.stats.Stops.Add(1)
			d.logger.Warn("no fresh control command, stopping retransmission", "timeout", d.cfg.CommandTimeout)
			return
		}
		d.transmit(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) commandExpired() bool {
	if d.cfg.CommandTimeout <= 0 {
		return false
	}
	return time.Since(d.cfg.Cache.Updated()) > d.cfg.CommandTimeout
}

// transmit sends one frame. A send already on the wire is not cancelled by
// Stop; it is bounded by SendTimeout instead.
func (d *Dispatcher) transmit(ctx context.Context) {
	cmd := d.cfg.Cache.Get()
	frame := canframe.Encode(cmd.Frame(), d.counter)
	d.counter = (d.counter + 1) & 0x0F

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.SendTimeout)
	err := d.cfg.CAN.Send(sendCtx, frame)
	cancel()
	if err != nil {
		// Failures are per cycle; the next tick tries again.
		if d.stats.SendFailures.Add(1)%50 == 1 {
			d.logger.Warn("failed to send control frame", "id", fmt.Sprintf("%08X", frame.ID), "err", err)
		}
		return
	}
	d.stats.FramesSent.Add(1)
	if d.cfg.Frames != nil {
		d.cfg.Frames.RecordFrame(canframe.Outbound, frame, time.Now())
	}
}
