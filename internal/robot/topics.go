package robot

import "fmt"

// Topic layout, namespaced per robot.
const (
	topicPrefix = "ROBOT"

	statusSuffix      = "Status"
	controlSuffix     = "Control"
	onlineSuffix      = "Online"
	diagSuffix        = "Diag"
	diagRequestSuffix = "Diag/Request"
)

func topic(robotID, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", topicPrefix, robotID, suffix)
}

// StatusTopic carries the periodic RobotStatus JSON.
func StatusTopic(robotID string) string { return topic(robotID, statusSuffix) }

// ControlTopic carries ControlCommand JSON from operators.
func ControlTopic(robotID string) string { return topic(robotID, controlSuffix) }

// OnlineTopic carries the retained presence record and the last will.
func OnlineTopic(robotID string) string { return topic(robotID, onlineSuffix) }

// DiagTopic receives bridge diagnostics reports.
func DiagTopic(robotID string) string { return topic(robotID, diagSuffix) }

// DiagRequestTopic triggers a diagnostics report.
func DiagRequestTopic(robotID string) string { return topic(robotID, diagRequestSuffix) }

// Gear values understood by the drive controller.
const (
	GearDisable = 0
	GearPark    = 1
	GearNeutral = 2
	GearFR      = 4
	Gear4T4D    = 6
	GearCrab    = 7
)

var gearNames = map[int]string{
	GearDisable: "DISABLE",
	GearPark:    "PARK",
	GearNeutral: "NEUTRAL",
	GearFR:      "FR",
	Gear4T4D:    "4T4D",
	GearCrab:    "CRAB",
}

// GearName returns the display name of gear, or "UNKNOWN(<n>)".
func GearName(gear int) string {
	if n, ok := gearNames[gear]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN(%d)", gear)
}
