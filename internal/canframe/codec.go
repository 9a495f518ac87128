package canframe

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnknownFrame is returned for identifiers outside the catalog.
	ErrUnknownFrame = errors.New("unknown frame identifier")
	// ErrMalformedFrame is returned when the payload length does not match
	// the catalog width for the identifier.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Signal positions shared by the catalog frames.
const (
	counterStart = 52
	counterBits  = 4
	bccStart     = 56
)

// Raw units per physical unit.
const (
	speedPerMps   = 1000 // 0.001 m/s
	anglePerDeg   = 100  // 0.01 deg, 0.01 deg/s
	electricPerSI = 100  // 0.01 V, 0.01 A, 0.01 Ah
	tempPerDegC   = 10   // 0.1 degC
)

// Representable ranges of the outbound control-command signals. Encode clamps
// to these; the actuator firmware applies the scale literally.
const (
	MaxGear            = 15
	MinSpeed           = float64(math.MinInt16) / speedPerMps // -32.768 m/s
	MaxSpeed           = float64(math.MaxInt16) / speedPerMps // 32.767 m/s
	MinAngularVelocity = float64(math.MinInt16) / anglePerDeg // -327.68 deg/s
	MaxAngularVelocity = float64(math.MaxInt16) / anglePerDeg // 327.67 deg/s
	MinSideSlip        = float64(math.MinInt16) / anglePerDeg // -327.68 deg
	MaxSideSlip        = float64(math.MaxInt16) / anglePerDeg // 327.67 deg
)

// Command is the set of values carried by a control-command frame.
type Command struct {
	Gear            int
	Speed           float64 // m/s
	AngularVelocity float64 // deg/s
	SideSlip        float64 // deg
}

// Decode extracts the fields carried by a catalog frame. The checksum is
// verified but a mismatch only shows up in Fields.ChecksumOK.
func Decode(id uint32, payload []byte) (Fields, error) {
	spec, ok := Lookup(id)
	if !ok {
		return Fields{}, fmt.Errorf("%w: %08X", ErrUnknownFrame, id)
	}
	if len(payload) != spec.Length {
		return Fields{}, fmt.Errorf("%w: %s (%08X) expects %d bytes, got %d",
			ErrMalformedFrame, spec.Name, id, spec.Length, len(payload))
	}

	f := Fields{
		Counter:    uint8(getBits(payload, counterStart, counterBits)),
		ChecksumOK: payload[7] == bcc(payload),
	}

	switch id {
	case SteeringFeedbackID:
		f.Set = HasGear | HasSpeed | HasSteeringAngle | HasSideSlip
		f.Gear = uint8(getBits(payload, 0, 4))
		f.Speed = float64(getSigned(payload, 4, 16)) / speedPerMps
		f.SteeringAngle = float64(getSigned(payload, 20, 16)) / anglePerDeg
		f.SideSlip = float64(getSigned(payload, 36, 16)) / anglePerDeg
	case DriveFeedbackID:
		f.Set = HasGear | HasLinearVelocity | HasAngularVelocity | HasSideSlip
		f.Gear = uint8(getBits(payload, 0, 4))
		f.LinearVelocity = float64(getSigned(payload, 4, 16)) / speedPerMps
		f.AngularVelocity = float64(getSigned(payload, 20, 16)) / anglePerDeg
		f.SideSlip = float64(getSigned(payload, 36, 16)) / anglePerDeg
	case BatteryFeedbackID:
		f.Set = HasVoltage | HasCurrent | HasRemainingCapacity
		f.Voltage = float64(getBits(payload, 0, 16)) / electricPerSI
		f.Current = float64(getSigned(payload, 16, 16)) / electricPerSI
		f.RemainingCapacity = float64(getBits(payload, 32, 16)) / electricPerSI
	case BatteryFlagsID:
		f.Set = HasSOC | HasCharging | HasMaxTemperature | HasMinTemperature
		f.SOC = float64(getBits(payload, 0, 8))
		f.Charging = getBits(payload, 21, 1) == 1
		f.MaxTemperature = float64(getSigned(payload, 28, 12)) / tempPerDegC
		f.MinTemperature = float64(getSigned(payload, 40, 12)) / tempPerDegC
	case ControlCommandID:
		f.Set = HasGear | HasSpeed | HasAngularVelocity | HasSideSlip
		f.Gear = uint8(getBits(payload, 0, 4))
		f.Speed = float64(getSigned(payload, 4, 16)) / speedPerMps
		f.AngularVelocity = float64(getSigned(payload, 20, 16)) / anglePerDeg
		f.SideSlip = float64(getSigned(payload, 36, 16)) / anglePerDeg
	}
	return f, nil
}

// Encode packs cmd into a control-command frame. counter is the alive
// rolling counter (only the low four bits are used); the caller advances it
// per transmitted frame.
func Encode(cmd Command, counter uint8) Frame {
	f := Frame{ID: ControlCommandID, Length: FrameLength}
	data := f.Data[:]

	gear := cmd.Gear
	if gear < 0 {
		gear = 0
	} else if gear > MaxGear {
		gear = MaxGear
	}
	putBits(data, 0, 4, uint64(gear))
	putBits(data, 4, 16, uint64(uint16(quantize(cmd.Speed, speedPerMps))))
	putBits(data, 20, 16, uint64(uint16(quantize(cmd.AngularVelocity, anglePerDeg))))
	putBits(data, 36, 16, uint64(uint16(quantize(cmd.SideSlip, anglePerDeg))))
	putBits(data, counterStart, counterBits, uint64(counter&0x0F))
	data[bccStart/8] = bcc(data)
	return f
}

// quantize rounds v to the nearest raw step and clamps it to int16.
func quantize(v float64, perUnit float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	raw := math.Round(v * perUnit)
	switch {
	case raw > math.MaxInt16:
		return math.MaxInt16
	case raw < math.MinInt16:
		return math.MinInt16
	}
	return int16(raw)
}
