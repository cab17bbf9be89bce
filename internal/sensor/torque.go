package sensor

import "math"

// TorqueRegisterPeriod is where the accumulated torque register wraps (N·m).
const TorqueRegisterPeriod = 2048.0

// TorqueAccumulator turns consecutive accumulated-torque readings into a
// monotonically non-decreasing total. It is not safe for concurrent use; each
// stream owns one.
type TorqueAccumulator struct {
	accumulated float64
	previous    float64
	seeded      bool
}

// Add folds in the next reading and returns the contribution. The first
// reading only seeds the previous value and contributes 0.
func (a *TorqueAccumulator) Add(reading float64) float64 {
	if !a.seeded {
		a.previous = reading
		a.seeded = true
		return 0
	}
	delta := reading - a.previous
	if a.previous > reading {
		delta += TorqueRegisterPeriod
	}
	a.previous = reading
	a.accumulated += delta
	return delta
}

// Accumulated returns the running total in N·m.
func (a *TorqueAccumulator) Accumulated() float64 {
	return a.accumulated
}

// ExternalEnergy returns the mechanical work in joules.
func (a *TorqueAccumulator) ExternalEnergy() float64 {
	return 2 * math.Pi * a.accumulated
}
