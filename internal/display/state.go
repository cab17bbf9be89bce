// Package display renders live updates on the terminal.
package display

import (
	"fmt"
	"math"
	"time"

	"github.com/lowaak/cycle-computer/internal/live"
	"github.com/lowaak/cycle-computer/internal/sensor"
)

type reading struct {
	value float64
	at    time.Time
	ok    bool
}

// State holds what the dashboard shows. It has a single owner and is not
// safe for concurrent use.
type State struct {
	start             time.Time
	staleAfter        time.Duration
	assumedCadenceRPM float64

	power     reading
	cadence   reading
	heartRate reading
	speed     reading

	externalEnergy float64
	crankCount     uint64
	hasCrankCount  bool
	distance       float64
}

func NewState(start time.Time, staleAfter time.Duration, assumedCadenceRPM float64) *State {
	return &State{
		start:             start,
		staleAfter:        staleAfter,
		assumedCadenceRPM: assumedCadenceRPM,
	}
}

// Apply folds u, received at time at, into the state.
func (s *State) Apply(u live.Update, at time.Time) {
	r := reading{value: u.Value, at: at, ok: u.Present}
	switch u.Kind {
	case live.KindPower:
		s.power = r
	case live.KindCadence:
		s.cadence = r
	case live.KindHeartRate:
		s.heartRate = r
	case live.KindSpeed:
		s.speed = r
	case live.KindExternalEnergy:
		s.externalEnergy = u.Value
	case live.KindCrankCount:
		s.crankCount = uint64(u.Value)
		s.hasCrankCount = true
	case live.KindDistance:
		s.distance = u.Value
	}
}

// Snapshot is the state as of one instant. Nil values are absent or stale.
type Snapshot struct {
	Power     *float64
	Cadence   *float64
	HeartRate *float64
	// Speed in km/h.
	Speed *float64

	Elapsed    time.Duration
	Kcal       float64
	DistanceKm float64
}

func (s *State) fresh(r reading, now time.Time) *float64 {
	if !r.ok || now.Sub(r.at) > s.staleAfter {
		return nil
	}
	v := r.value
	return &v
}

// Snapshot evaluates staleness and the energy estimate at now.
func (s *State) Snapshot(now time.Time) Snapshot {
	elapsed := now.Sub(s.start)
	if elapsed < 0 {
		elapsed = 0
	}

	crankCount := s.crankCount
	if !s.hasCrankCount {
		crankCount = uint64(math.Floor(math.Floor(elapsed.Seconds()) * s.assumedCadenceRPM / 60))
	}

	snap := Snapshot{
		Power:      s.fresh(s.power, now),
		Cadence:    s.fresh(s.cadence, now),
		HeartRate:  s.fresh(s.heartRate, now),
		Elapsed:    elapsed,
		Kcal:       sensor.MetabolicCostKcal(s.externalEnergy, crankCount),
		DistanceKm: s.distance / 1000,
	}
	if speed := s.fresh(s.speed, now); speed != nil {
		kmh := *speed * 3.6
		snap.Speed = &kmh
	}
	return snap
}

// FormatElapsed renders d as H:MM:SS.
func FormatElapsed(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}

func formatWhole(v *float64) string {
	if v == nil {
		return "---"
	}
	return fmt.Sprintf("%03.0f", *v)
}

func formatTwoDecimals(v *float64) string {
	if v == nil {
		return "---"
	}
	return fmt.Sprintf("%.2f", *v)
}

// Field is one labelled dashboard value.
type Field struct {
	Label string
	Value string
}

// Fields lists the dashboard values in display order.
func (s Snapshot) Fields() []Field {
	distance := s.DistanceKm
	return []Field{
		{"POW (W)", formatWhole(s.Power)},
		{"CAD (RPM)", formatWhole(s.Cadence)},
		{"HR (BPM)", formatWhole(s.HeartRate)},
		{"ME (KCAL)", fmt.Sprintf("%04d", int64(s.Kcal))},
		{"V (km/h)", formatTwoDecimals(s.Speed)},
		{"D (km)", formatTwoDecimals(&distance)},
		{"ELAPSED", FormatElapsed(s.Elapsed)},
	}
}
