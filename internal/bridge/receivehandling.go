package bridge

import (
	"errors"
	"fmt"

	"github.com/farouk15160/robot-edge-bridge/internal/canframe"
	"github.com/farouk15160/robot-edge-bridge/internal/robot"
)

// HandleFrame is the CAN receive callback. It only decodes and merges; it
// runs on the transport's delivery goroutine.
func (b *Bridge) HandleFrame(id uint32, payload []byte) {
	if !b.accepting.Load() {
		return
	}
	b.stats.FramesReceived.Add(1)

	fields, err := canframe.Decode(id, payload)
	switch {
	case errors.Is(err, canframe.ErrUnknownFrame):
		// The bus carries traffic that is none of our business.
		b.stats.FramesUnknown.Add(1)
		b.logger.Debug("ignoring unknown frame", "id", fmt.Sprintf("%08X", id), "len", len(payload))
		return
	case errors.Is(err, canframe.ErrMalformedFrame):
		b.stats.FramesMalformed.Add(1)
		b.logger.Warn("discarding malformed frame", "err", err)
		return
	case err != nil:
		b.logger.Error("failed to decode frame", "id", fmt.Sprintf("%08X", id), "err", err)
		return
	}

	if spec, _ := canframe.Lookup(id); spec.Direction == canframe.Outbound {
		// Control frames from another sender on the same bus.
		b.logger.Debug("ignoring outbound frame seen on bus", "id", fmt.Sprintf("%08X", id))
		return
	}

	if !fields.ChecksumOK {
		b.stats.ChecksumErrors.Add(1)
		b.logger.Debug("frame checksum mismatch", "id", fmt.Sprintf("%08X", id))
	}
	if b.stats.observeCounter(id, fields.Counter) {
		b.stats.CounterGaps.Add(1)
	}

	b.status.Apply(fields)

	if b.frameRec != nil {
		b.frameRec.RecordFrame(canframe.Inbound, canframe.NewFrame(id, payload), b.now())
	}
}

// HandleControl is the control topic callback.
func (b *Bridge) HandleControl(payload []byte) {
	if !b.accepting.Load() {
		return
	}
	cmd, err := robot.ParseControlCommand(payload)
	if err != nil {
		b.stats.CommandsInvalid.Add(1)
		b.logger.Warn("dropping control message", "err", err)
		return
	}
	b.logger.Debug("control command received",
		"command_robot", cmd.RobotID, "gear", cmd.Gear, "speed", cmd.Speed, "steer", cmd.Steer, "side_slip", cmd.SideSlip)

	// Identity mismatches are logged by the dispatcher.
	switch err := b.dispatcher.HandleCommand(cmd); {
	case err == nil, errors.Is(err, ErrIdentityMismatch):
	case errors.Is(err, ErrDispatcherClosed):
		b.logger.Debug("control command arrived during shutdown, dropped")
	default:
		b.logger.Error("failed to apply control command", "err", err)
	}
}
