package canframe

// Mask names the values a decoded frame carries.
type Mask uint32

const (
	HasGear Mask = 1 << iota
	HasSpeed
	HasSteeringAngle
	HasSideSlip
	HasLinearVelocity
	HasAngularVelocity
	HasVoltage
	HasCurrent
	HasRemainingCapacity
	HasSOC
	HasMaxTemperature
	HasMinTemperature
	HasCharging
)

// Fields is the partial result of decoding one frame. Only the values named
// in Set are meaningful.
type Fields struct {
	Set Mask

	Gear              uint8
	Speed             float64 // m/s
	SteeringAngle     float64 // deg
	SideSlip          float64 // deg
	LinearVelocity    float64 // m/s
	AngularVelocity   float64 // deg/s
	Voltage           float64 // V
	Current           float64 // A
	RemainingCapacity float64 // Ah
	SOC               float64 // %
	MaxTemperature    float64 // degC
	MinTemperature    float64 // degC
	Charging          bool

	// Frame diagnostics, present on every catalog frame.
	Counter    uint8
	ChecksumOK bool
}

// Has reports whether every value in m is present.
func (f Fields) Has(m Mask) bool {
	return f.Set&m == m
}
