package sensor

const (
	cpFlagPedalBalance  = 1 << 0
	cpFlagTorque        = 1 << 2
	cpFlagTorqueSource  = 1 << 3
	cpFlagWheelRevs     = 1 << 4
	cpFlagCrankRevs     = 1 << 5
	cpPowerOffset       = 2
	cpFirstOptionalByte = 4
)

type TorqueSource int

const (
	TorqueSourceWheel TorqueSource = iota
	TorqueSourceCrank
)

func (s TorqueSource) String() string {
	if s == TorqueSourceCrank {
		return "crank"
	}
	return "wheel"
}

// AccumulatedTorque is a rolling register in N·m with period TorqueRegisterPeriod.
type AccumulatedTorque struct {
	Source    TorqueSource
	Magnitude float64
}

// CyclingPowerMeasurement is a decoded Cycling Power Measurement (0x2A63).
type CyclingPowerMeasurement struct {
	InstantaneousPower int16
	// PedalPowerBalance is a percentage.
	PedalPowerBalance *float64
	AccumulatedTorque *AccumulatedTorque
	// WheelRevolutions has a 1/2048 s event time, unlike the CSC wheel.
	WheelRevolutions *RevolutionData
	CrankRevolutions *RevolutionData
}

// DecodeCyclingPower decodes a Cycling Power Measurement payload. Optional
// fields follow the power value in the order balance, torque, wheel, crank.
// See: https://www.bluetooth.com/specifications/specs/cycling-power-service-1-1/
func DecodeCyclingPower(buf []byte) CyclingPowerMeasurement {
	flags := buf[0]
	m := CyclingPowerMeasurement{
		InstantaneousPower: int16(le16(buf, cpPowerOffset)),
	}

	offset := cpFirstOptionalByte
	if flags&cpFlagPedalBalance != 0 {
		balance := float64(buf[offset]) / 2.0
		m.PedalPowerBalance = &balance
		offset++
	}
	if flags&cpFlagTorque != 0 {
		source := TorqueSourceWheel
		if flags&cpFlagTorqueSource != 0 {
			source = TorqueSourceCrank
		}
		m.AccumulatedTorque = &AccumulatedTorque{
			Source:    source,
			Magnitude: float64(le16(buf, offset)) / 32.0,
		}
		offset += 2
	}
	if flags&cpFlagWheelRevs != 0 {
		m.WheelRevolutions = &RevolutionData{
			RevolutionCount: le32(buf, offset),
			LastEventTime:   float64(le16(buf, offset+4)) / 2048.0,
			Register:        PowerWheelRegister,
		}
		offset += 6
	}
	if flags&cpFlagCrankRevs != 0 {
		m.CrankRevolutions = decodeCrankRevolutions(buf, offset)
	}
	return m
}
