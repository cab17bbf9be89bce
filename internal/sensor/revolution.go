package sensor

// Register describes the hardware register a RevolutionData was read from.
// It fixes the counter width and the period of the event time register.
type Register int

const (
	// CrankRegister is a 16-bit crank count with a 1/1024 s event time.
	CrankRegister Register = iota
	// CSCWheelRegister is a 32-bit wheel count with a 1/1024 s event time.
	CSCWheelRegister
	// PowerWheelRegister is a 32-bit wheel count with a 1/2048 s event time.
	PowerWheelRegister
)

const (
	eventTimePeriod1024 = 65536.0 / 1024.0
	eventTimePeriod2048 = 65536.0 / 2048.0
)

func (r Register) countMask() uint32 {
	if r == CrankRegister {
		return 0xFFFF
	}
	return 0xFFFFFFFF
}

// EventTimePeriod is the period in seconds after which the event time wraps.
func (r Register) EventTimePeriod() float64 {
	if r == PowerWheelRegister {
		return eventTimePeriod2048
	}
	return eventTimePeriod1024
}

func (r Register) String() string {
	switch r {
	case CrankRegister:
		return "crank"
	case CSCWheelRegister:
		return "csc_wheel"
	case PowerWheelRegister:
		return "power_wheel"
	default:
		return "unknown"
	}
}

// RevolutionData is a cumulative revolution count and the time of the last
// revolution event, both rolling registers.
type RevolutionData struct {
	RevolutionCount uint32
	// LastEventTime in seconds.
	LastEventTime float64
	Register      Register
}

// RevolutionRate is the instantaneous rate between two consecutive samples.
type RevolutionRate struct {
	RPM        float64
	DeltaCount uint32
}

// Rate differences two consecutive samples of the same register. It returns
// false when no revolution happened or when the wrapped time delta is not
// positive. Counter width and time period come from current.Register.
func Rate(previous, current RevolutionData) (RevolutionRate, bool) {
	deltaCount := (current.RevolutionCount - previous.RevolutionCount) & current.Register.countMask()
	if deltaCount == 0 {
		return RevolutionRate{}, false
	}

	deltaTime := current.LastEventTime - previous.LastEventTime
	if deltaTime < 0 {
		deltaTime += current.Register.EventTimePeriod()
	}
	if deltaTime <= 0 {
		return RevolutionRate{}, false
	}

	return RevolutionRate{
		RPM:        float64(deltaCount) / deltaTime * 60,
		DeltaCount: deltaCount,
	}, true
}
