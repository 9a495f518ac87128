// Package canbus connects the bridge to a SocketCAN interface through
// github.com/brutella/can.
package canbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/brutella/can"

	"github.com/farouk15160/robot-edge-bridge/internal/bridge"
	"github.com/farouk15160/robot-edge-bridge/internal/canframe"
)

// Supported bus types. A candlelight adapter (gs_usb) shows up as a regular
// SocketCAN interface, so both end up on the same driver.
const (
	BusSocketCAN = "socketcan"
	BusCandle    = "candle"
)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
)

// Config selects the CAN interface.
type Config struct {
	BusType string
	// Channel is either an interface name ("can0") or a bare channel number
	// ("0"), which maps to "can<n>".
	Channel string
	Bitrate int
	// BringUp configures the bitrate and sets the link up before connecting.
	BringUp bool
	Logger  *slog.Logger
}

// InterfaceName resolves the configured channel to a network interface name.
func (c Config) InterfaceName() string {
	ch := strings.TrimSpace(c.Channel)
	if ch == "" {
		return "can0"
	}
	if strings.IndexFunc(ch, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		return "can" + ch
	}
	return ch
}

// busConn is the part of *can.Bus the adapter uses.
type busConn interface {
	ConnectAndPublish() error
	Disconnect() error
	Publish(can.Frame) error
	Subscribe(can.Handler)
}

// Bus implements bridge.CANTransport.
type Bus struct {
	cfg    Config
	iface  string
	logger *slog.Logger

	// Replaced in tests.
	open       func(iface string) (busConn, error)
	checkLink  func(iface string) error
	bringUp    func(ctx context.Context, iface string, bitrate int) error
	retryDelay time.Duration

	mu        sync.RWMutex
	conn      busConn
	onReceive func(id uint32, payload []byte)
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ bridge.CANTransport = (*Bus)(nil)

// New validates cfg and returns an unconnected bus.
func New(cfg Config) (*Bus, error) {
	switch cfg.BusType {
	case "", BusSocketCAN, BusCandle:
	default:
		return nil, fmt.Errorf("unsupported CAN bus type %q", cfg.BusType)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	iface := cfg.InterfaceName()
	return &Bus{
		cfg:    cfg,
		iface:  iface,
		logger: logger.With("component", "canbus", "interface", iface),
		open: func(name string) (busConn, error) {
			return can.NewBusForInterfaceWithName(name)
		},
		checkLink:  checkInterface,
		bringUp:    bringUpLink,
		retryDelay: minReconnectDelay,
	}, nil
}

// OnReceive registers the receive callback. It must be set before Connect.
func (b *Bus) OnReceive(fn func(id uint32, payload []byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReceive = fn
}

// Connect opens the interface and starts the read loop. If the read loop
// ends unexpectedly the bus is reopened with backoff until Disconnect.
func (b *Bus) Connect(ctx context.Context) error {
	if b.cfg.BringUp {
		if err := b.bringUp(ctx, b.iface, b.cfg.Bitrate); err != nil {
			return fmt.Errorf("bring up %s: %w", b.iface, err)
		}
	}
	if err := b.checkLink(b.iface); err != nil {
		return err
	}
	conn, err := b.open(b.iface)
	if err != nil {
		return fmt.Errorf("open CAN interface %s: %w", b.iface, err)
	}
	conn.Subscribe(b)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	b.mu.Lock()
	b.conn = conn
	b.cancel = cancel
	b.done = done
	b.mu.Unlock()

	go b.supervise(runCtx, conn, done)
	b.logger.Info("CAN interface connected", "bus_type", b.cfg.BusType, "bitrate", b.cfg.Bitrate)
	return nil
}

// supervise runs the blocking read loop and reopens the interface when it
// fails.
func (b *Bus) supervise(ctx context.Context, conn busConn, done chan<- struct{}) {
	defer close(done)
	delay := b.retryDelay
	for {
		err := conn.ConnectAndPublish()
		if ctx.Err() != nil {
			return
		}
		b.setConn(nil)
		b.logger.Warn("CAN read loop ended, reconnecting", "err", err, "retry_in", delay)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxReconnectDelay)

			next, err := b.open(b.iface)
			if err != nil {
				b.logger.Warn("failed to reopen CAN interface", "err", err, "retry_in", delay)
				continue
			}
			next.Subscribe(b)
			conn = next
			break
		}
		if !b.installConn(ctx, conn) {
			_ = conn.Disconnect()
			return
		}
		delay = b.retryDelay
		b.logger.Info("CAN interface reconnected")
	}
}

func (b *Bus) setConn(conn busConn) {
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
}

// installConn publishes a reopened conn unless Disconnect already ran.
// Disconnect cancels ctx under the same lock, so a conn is either installed
// before Disconnect takes it or rejected here.
func (b *Bus) installConn(ctx context.Context, conn busConn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	b.conn = conn
	return true
}

// Disconnect stops the read loop and closes the interface. Calling it more
// than once is harmless.
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	conn, cancel, done := b.conn, b.cancel, b.done
	b.conn, b.cancel, b.done = nil, nil, nil
	if cancel != nil {
		cancel()
	}
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	var err error
	if conn != nil {
		err = conn.Disconnect()
	}
	<-done
	b.logger.Info("CAN interface disconnected")
	return err
}

// Send writes one frame. ctx is checked before the write; the socket write
// itself does not block on a healthy interface.
func (b *Bus) Send(ctx context.Context, frame canframe.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("%w: CAN interface %s not connected", bridge.ErrTransportUnavailable, b.iface)
	}
	if err := conn.Publish(toCAN(frame)); err != nil {
		return fmt.Errorf("publish frame %08X: %w", frame.ID, err)
	}
	return nil
}

// Handle implements can.Handler.
func (b *Bus) Handle(frame can.Frame) {
	id, payload, ok := fromCAN(frame)
	if !ok {
		return
	}
	b.mu.RLock()
	fn := b.onReceive
	b.mu.RUnlock()
	if fn != nil {
		fn(id, payload)
	}
}

func toCAN(f canframe.Frame) can.Frame {
	out := can.Frame{
		ID:     f.ID,
		Length: f.Length,
		Data:   f.Data,
	}
	if f.Extended() {
		out.ID = (f.ID & canframe.EFFMask) | canframe.EFFFlag
	}
	return out
}

// fromCAN strips the flag bits. Remote and error frames carry no data for
// the bridge and are dropped.
func fromCAN(f can.Frame) (uint32, []byte, bool) {
	if f.ID&(canframe.RTRFlag|canframe.ERRFlag) != 0 {
		return 0, nil, false
	}
	id := f.ID & canframe.SFFMask
	if f.ID&canframe.EFFFlag != 0 {
		id = f.ID & canframe.EFFMask
	}
	n := min(int(f.Length), len(f.Data))
	payload := make([]byte, n)
	copy(payload, f.Data[:n])
	return id, payload, true
}

// ErrInterfaceMissing is returned when the configured interface does not exist.
var ErrInterfaceMissing = errors.New("CAN interface not found")
