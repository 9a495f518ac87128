package canframe

// Direction tells whether the bridge receives or produces a frame.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Known identifiers. All of them are 29-bit extended identifiers.
const (
	SteeringFeedbackID uint32 = 0x18C4D2EF
	DriveFeedbackID    uint32 = 0x18C4D1EF
	BatteryFeedbackID  uint32 = 0x18C4E1EF
	BatteryFlagsID     uint32 = 0x18C4E2EF
	ControlCommandID   uint32 = 0x18C4D1D0
)

// FrameLength is the payload width of every catalog frame.
const FrameLength = 8

// Spec describes one catalog entry.
type Spec struct {
	ID        uint32
	Name      string
	Direction Direction
	Length    int
}

var catalog = map[uint32]Spec{
	SteeringFeedbackID: {SteeringFeedbackID, "steering-control-feedback", Inbound, FrameLength},
	DriveFeedbackID:    {DriveFeedbackID, "drive-control-feedback", Inbound, FrameLength},
	BatteryFeedbackID:  {BatteryFeedbackID, "battery-feedback", Inbound, FrameLength},
	BatteryFlagsID:     {BatteryFlagsID, "battery-flags-feedback", Inbound, FrameLength},
	ControlCommandID:   {ControlCommandID, "control-command", Outbound, FrameLength},
}

// Lookup returns the catalog entry for id.
func Lookup(id uint32) (Spec, bool) {
	s, ok := catalog[id]
	return s, ok
}
