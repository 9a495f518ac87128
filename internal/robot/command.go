package robot

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/farouk15160/robot-edge-bridge/internal/canframe"
)

// ControlCommand is one operator instruction as received on the control
// topic. Values are immutable once parsed; a newer command replaces an older
// one wholesale.
//
// encoding/json matches keys case-insensitively, so the "Robot_Id" spelling
// used by older operator tools lands in RobotID as well.
type ControlCommand struct {
	RobotID  string  `json:"robot_id"`
	Gear     int     `json:"Gear"`
	Speed    float64 `json:"Speed"`    // m/s
	Steer    float64 `json:"Steer"`    // deg/s, sent as angular velocity
	SideSlip float64 `json:"SideSlip"` // deg
}

// ParseControlCommand decodes a control topic payload. Missing keys keep
// their zero value, so a payload without a gear is a stop.
func ParseControlCommand(payload []byte) (ControlCommand, error) {
	var cmd ControlCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return ControlCommand{}, fmt.Errorf("failed to decode control command: %w", err)
	}
	return cmd, nil
}

// IsStop reports whether the command carries the gear 0 stop sentinel.
func (c ControlCommand) IsStop() bool {
	return c.Gear == GearDisable
}

// Frame maps the command onto the control-command frame values.
func (c ControlCommand) Frame() canframe.Command {
	return canframe.Command{
		Gear:            c.Gear,
		Speed:           c.Speed,
		AngularVelocity: c.Steer,
		SideSlip:        c.SideSlip,
	}
}

// CommandCache holds the latest accepted ControlCommand. There is no queue:
// only the most recent intent matters for a continuously actuated robot.
type CommandCache struct {
	mu      sync.Mutex
	cmd     ControlCommand
	updated time.Time
	now     func() time.Time
}

func NewCommandCache() *CommandCache {
	return &CommandCache{now: time.Now}
}

// Set replaces the cached command.
func (c *CommandCache) Set(cmd ControlCommand) {
	c.mu.Lock()
	c.cmd = cmd
	c.updated = c.now()
	c.mu.Unlock()
}

// Get returns a copy of the cached command.
func (c *CommandCache) Get() ControlCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd
}

// Updated returns when the cached command was last replaced. The zero time
// means no command was ever set.
func (c *CommandCache) Updated() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updated
}
