package robot

import (
	"sync"

	"github.com/farouk15160/robot-edge-bridge/internal/canframe"
)

// RobotStatus is the merged view of everything the robot reported over CAN.
// JSON keys follow the status topic wire format operators already consume.
type RobotStatus struct {
	RobotID                  string  `json:"robot_id"`
	Gear                     int     `json:"Gear"`
	GearName                 string  `json:"GearName"`
	Speed                    float64 `json:"Speed"`
	SteeringDeg              float64 `json:"Steering_deg"`
	SideSlip                 float64 `json:"SideSlip"`
	LinearVelocity           float64 `json:"linear_velocity"`
	AngularVelocity          float64 `json:"angular_velocity"`
	BatteryVoltage           float64 `json:"battery_voltage"`
	BatteryCurrent           float64 `json:"battery_current"`
	BatteryRemainingCapacity float64 `json:"battery_remaining_capacity"`
	BatteryMaxTemperature    float64 `json:"battery_max_temperature"`
	BatteryMinTemperature    float64 `json:"battery_min_temperature"`
	BatterySOCPercent        float64 `json:"battery_soc_percent"`
	BatteryIsCharging        bool    `json:"battery_is_charging"`
	// UnixTime is stamped by the publisher, "<seconds>.<microseconds>".
	UnixTime string `json:"unixtime,omitempty"`
}

// NewStatus returns the initial status for robotID: every value at its zero
// default.
func NewStatus(robotID string) RobotStatus {
	return RobotStatus{
		RobotID:  robotID,
		GearName: GearName(0),
	}
}

// StatusAggregator owns the RobotStatus of one robot. The receive path merges
// decoded frames into it while the uplink publisher takes snapshots.
type StatusAggregator struct {
	mu     sync.Mutex
	status RobotStatus
}

func NewStatusAggregator(robotID string) *StatusAggregator {
	return &StatusAggregator{status: NewStatus(robotID)}
}

// Apply overwrites the values present in f. Readers see either the state
// before or after the whole update.
func (a *StatusAggregator) Apply(f canframe.Fields) {
	if f.Set == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &a.status
	if f.Has(canframe.HasGear) {
		s.Gear = int(f.Gear)
		s.GearName = GearName(s.Gear)
	}
	if f.Has(canframe.HasSpeed) {
		s.Speed = f.Speed
	}
	if f.Has(canframe.HasSteeringAngle) {
		s.SteeringDeg = f.SteeringAngle
	}
	if f.Has(canframe.HasSideSlip) {
		s.SideSlip = f.SideSlip
	}
	if f.Has(canframe.HasLinearVelocity) {
		s.LinearVelocity = f.LinearVelocity
		// Drive feedback is also the only speed source when steering
		// feedback is absent.
		s.Speed = f.LinearVelocity
	}
	if f.Has(canframe.HasAngularVelocity) {
		s.AngularVelocity = f.AngularVelocity
	}
	if f.Has(canframe.HasVoltage) {
		s.BatteryVoltage = f.Voltage
	}
	if f.Has(canframe.HasCurrent) {
		s.BatteryCurrent = f.Current
	}
	if f.Has(canframe.HasRemainingCapacity) {
		s.BatteryRemainingCapacity = f.RemainingCapacity
	}
	if f.Has(canframe.HasSOC) {
		s.BatterySOCPercent = f.SOC
	}
	if f.Has(canframe.HasMaxTemperature) {
		s.BatteryMaxTemperature = f.MaxTemperature
	}
	if f.Has(canframe.HasMinTemperature) {
		s.BatteryMinTemperature = f.MinTemperature
	}
	if f.Has(canframe.HasCharging) {
		s.BatteryIsCharging = f.Charging
	}
}

// Snapshot returns a copy of the current status. RobotStatus holds only
// values, so the copy shares nothing with the aggregator.
func (a *StatusAggregator) Snapshot() RobotStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}
