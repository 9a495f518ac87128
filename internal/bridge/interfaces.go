package bridge

import (
	"context"
	"time"

	"github.com/farouk15160/robot-edge-bridge/internal/canframe"
	"github.com/farouk15160/robot-edge-bridge/internal/robot"
)

// CANTransport is the CAN side of the bridge. Implementations return an error
// wrapping ErrTransportUnavailable while the bus is not connected.
type CANTransport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	// Send transmits one frame. It must return once ctx expires.
	Send(ctx context.Context, f canframe.Frame) error
	// OnReceive registers the callback invoked once per received frame, in
	// bus arrival order. Register before Connect.
	OnReceive(fn func(id uint32, payload []byte))
}

// MQTTTransport is the broker side of the bridge.
type MQTTTransport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	// Publish must return once ctx expires, even if the broker never acks.
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, fn func(payload []byte)) error
}

// StatusRecorder receives every status snapshot the uplink publisher
// samples. Implementations must not block.
type StatusRecorder interface {
	RecordStatus(s robot.RobotStatus, at time.Time)
}

// FrameRecorder receives every frame the bridge decodes or transmits.
// Implementations must not block.
type FrameRecorder interface {
	RecordFrame(dir canframe.Direction, f canframe.Frame, at time.Time)
}
