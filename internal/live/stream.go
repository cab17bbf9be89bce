package live

import (
	"fmt"
	"sync"

	"github.com/lowaak/cycle-computer/internal/sensor"
)

// SensorClass groups the characteristics whose notifications share state.
type SensorClass string

const (
	ClassHeartRate SensorClass = "heart_rate"
	ClassPower     SensorClass = "power"
	ClassCadence   SensorClass = "cadence"
)

// AllSensorClasses in the order they are connected and displayed.
var AllSensorClasses = []SensorClass{ClassHeartRate, ClassPower, ClassCadence}

// ClassOf maps a characteristic to its sensor class.
func ClassOf(id sensor.CharacteristicID) (SensorClass, bool) {
	switch id {
	case sensor.HeartRateMeasurementID:
		return ClassHeartRate, true
	case sensor.CyclingPowerMeasurementID:
		return ClassPower, true
	case sensor.CSCMeasurementID:
		return ClassCadence, true
	default:
		return "", false
	}
}

// Stream keeps the derived state of one sensor and turns each decoded
// measurement into updates. Implementations are not safe for concurrent use.
type Stream interface {
	OnSample(m sensor.Measurement) []Update
	stream()
}

// NewStream returns the stream for class. wheelCircumference is in metres.
func NewStream(class SensorClass, wheelCircumference float64) (Stream, error) {
	switch class {
	case ClassHeartRate:
		return &HeartRateStream{}, nil
	case ClassPower:
		return &PowerStream{wheel: revolutionTracker{circumference: wheelCircumference}}, nil
	case ClassCadence:
		return &CadenceStream{wheel: revolutionTracker{circumference: wheelCircumference}}, nil
	default:
		return nil, fmt.Errorf("no stream for sensor class %q", class)
	}
}

// revolutionTracker differences consecutive samples of one register and
// keeps the running revolution total.
type revolutionTracker struct {
	previous      *sensor.RevolutionData
	total         uint64
	circumference float64
}

func (t *revolutionTracker) next(current sensor.RevolutionData) (sensor.RevolutionRate, bool) {
	previous := t.previous
	t.previous = &current
	if previous == nil {
		return sensor.RevolutionRate{}, false
	}
	rate, ok := sensor.Rate(*previous, current)
	if ok {
		t.total += uint64(rate.DeltaCount)
	}
	return rate, ok
}

// crankUpdates appends Cadence, and CrankCount once the total moves.
func (t *revolutionTracker) crankUpdates(current sensor.RevolutionData, updates []Update) []Update {
	seeded := t.previous != nil
	rate, ok := t.next(current)
	if !seeded {
		return updates
	}
	if !ok {
		return append(updates, absent(KindCadence))
	}
	return append(updates, present(KindCadence, rate.RPM), present(KindCrankCount, float64(t.total)))
}

// wheelUpdates appends Speed in m/s, and Distance once the total moves.
func (t *revolutionTracker) wheelUpdates(current sensor.RevolutionData, updates []Update) []Update {
	seeded := t.previous != nil
	rate, ok := t.next(current)
	if !seeded {
		return updates
	}
	if !ok {
		return append(updates, absent(KindSpeed))
	}
	return append(updates,
		present(KindSpeed, rate.RPM/60*t.circumference),
		present(KindDistance, float64(t.total)*t.circumference))
}

type HeartRateStream struct{}

func (*HeartRateStream) stream() {}

func (*HeartRateStream) OnSample(m sensor.Measurement) []Update {
	hr, ok := m.(sensor.HeartRateMeasurement)
	if !ok {
		return nil
	}
	return []Update{present(KindHeartRate, float64(hr.BPM))}
}

// PowerStream derives power, external energy, cadence and wheel speed from
// cycling power measurements.
type PowerStream struct {
	torque sensor.TorqueAccumulator
	crank  revolutionTracker
	wheel  revolutionTracker
}

func (*PowerStream) stream() {}

func (s *PowerStream) OnSample(m sensor.Measurement) []Update {
	cp, ok := m.(sensor.CyclingPowerMeasurement)
	if !ok {
		return nil
	}
	updates := []Update{present(KindPower, float64(cp.InstantaneousPower))}
	if cp.AccumulatedTorque != nil {
		s.torque.Add(cp.AccumulatedTorque.Magnitude)
		updates = append(updates, present(KindExternalEnergy, s.torque.ExternalEnergy()))
	}
	if cp.CrankRevolutions != nil {
		updates = s.crank.crankUpdates(*cp.CrankRevolutions, updates)
	}
	if cp.WheelRevolutions != nil {
		updates = s.wheel.wheelUpdates(*cp.WheelRevolutions, updates)
	}
	return updates
}

// CadenceStream derives cadence and wheel speed from CSC measurements.
type CadenceStream struct {
	crank revolutionTracker
	wheel revolutionTracker
}

func (*CadenceStream) stream() {}

func (s *CadenceStream) OnSample(m sensor.Measurement) []Update {
	csc, ok := m.(sensor.CSCMeasurement)
	if !ok {
		return nil
	}
	var updates []Update
	if csc.Crank != nil {
		updates = s.crank.crankUpdates(*csc.Crank, updates)
	}
	if csc.Wheel != nil {
		updates = s.wheel.wheelUpdates(*csc.Wheel, updates)
	}
	return updates
}

// crankSelector merges the crank updates of the power and cadence classes
// into one cadence and one crank total. The first class to report crank data
// owns them until CSC crank data arrives, which then takes over for the rest
// of the session. The published total carries on from where it was.
type crankSelector struct {
	mu    sync.Mutex
	owner SensorClass
	last  map[SensorClass]float64
	total float64
}

func isCrankKind(k Kind) bool {
	return k == KindCadence || k == KindCrankCount
}

// filter rewrites updates from class in place, dropping crank updates the
// class does not own.
func (c *crankSelector) filter(class SensorClass, updates []Update) []Update {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := updates[:0]
	for _, u := range updates {
		if !isCrankKind(u.Kind) {
			out = append(out, u)
			continue
		}
		if class == ClassCadence || c.owner == "" {
			c.owner = class
		}
		if u.Kind == KindCrankCount {
			if c.last == nil {
				c.last = make(map[SensorClass]float64, 2)
			}
			delta := u.Value - c.last[class]
			c.last[class] = u.Value
			if class != c.owner {
				continue
			}
			c.total += delta
			u.Value = c.total
		} else if class != c.owner {
			continue
		}
		out = append(out, u)
	}
	return out
}
