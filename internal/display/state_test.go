package display

import (
	"testing"
	"time"

	"github.com/lowaak/cycle-computer/internal/live"
	"github.com/lowaak/cycle-computer/internal/sensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2020, 3, 10, 0, 52, 56, 0, time.UTC)

func newTestState() *State {
	return NewState(start, 5*time.Second, 80)
}

func TestState_FreshValues(t *testing.T) {
	s := newTestState()
	s.Apply(live.Update{Kind: live.KindPower, Value: 250, Present: true}, start.Add(time.Second))
	s.Apply(live.Update{Kind: live.KindHeartRate, Value: 140, Present: true}, start.Add(time.Second))

	snap := s.Snapshot(start.Add(2 * time.Second))
	require.NotNil(t, snap.Power)
	assert.Equal(t, 250.0, *snap.Power)
	require.NotNil(t, snap.HeartRate)
	assert.Equal(t, 140.0, *snap.HeartRate)
	assert.Nil(t, snap.Cadence)
	assert.Nil(t, snap.Speed)
}

func TestState_StaleValuesAreAbsent(t *testing.T) {
	s := newTestState()
	s.Apply(live.Update{Kind: live.KindCadence, Value: 90, Present: true}, start)

	assert.NotNil(t, s.Snapshot(start.Add(5*time.Second)).Cadence)
	assert.Nil(t, s.Snapshot(start.Add(5*time.Second+time.Millisecond)).Cadence)
}

func TestState_AbsentUpdateClears(t *testing.T) {
	s := newTestState()
	s.Apply(live.Update{Kind: live.KindCadence, Value: 90, Present: true}, start)
	s.Apply(live.Update{Kind: live.KindCadence}, start.Add(time.Second))

	assert.Nil(t, s.Snapshot(start.Add(time.Second)).Cadence)
}

func TestState_SpeedInKmh(t *testing.T) {
	s := newTestState()
	s.Apply(live.Update{Kind: live.KindSpeed, Value: 10, Present: true}, start)
	s.Apply(live.Update{Kind: live.KindDistance, Value: 12345, Present: true}, start)

	snap := s.Snapshot(start)
	require.NotNil(t, snap.Speed)
	assert.InDelta(t, 36.0, *snap.Speed, 1e-9)
	assert.InDelta(t, 12.345, snap.DistanceKm, 1e-9)
}

func TestState_KcalAssumesCadenceWithoutCrankCount(t *testing.T) {
	s := newTestState()
	s.Apply(live.Update{Kind: live.KindExternalEnergy, Value: 1000, Present: true}, start)

	// 90 s at 80 rpm = 120 crank revolutions
	snap := s.Snapshot(start.Add(90*time.Second + 500*time.Millisecond))
	assert.InDelta(t, sensor.MetabolicCostKcal(1000, 120), snap.Kcal, 1e-9)
}

func TestState_KcalUsesObservedCrankCount(t *testing.T) {
	s := newTestState()
	s.Apply(live.Update{Kind: live.KindExternalEnergy, Value: 1000, Present: true}, start)
	s.Apply(live.Update{Kind: live.KindCrankCount, Value: 7, Present: true}, start)

	snap := s.Snapshot(start.Add(time.Hour))
	assert.InDelta(t, sensor.MetabolicCostKcal(1000, 7), snap.Kcal, 1e-9)
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00:00"},
		{59*time.Second + 900*time.Millisecond, "0:00:59"},
		{61 * time.Second, "0:01:01"},
		{3*time.Hour + 25*time.Minute + 7*time.Second, "3:25:07"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatElapsed(tt.in))
	}
}

func TestSnapshot_Fields(t *testing.T) {
	power := 95.0
	speed := 31.456
	snap := Snapshot{
		Power:      &power,
		Speed:      &speed,
		Elapsed:    75 * time.Second,
		Kcal:       12.9,
		DistanceKm: 1.005,
	}

	got := map[string]string{}
	for _, f := range snap.Fields() {
		got[f.Label] = f.Value
	}
	assert.Equal(t, "095", got["POW (W)"])
	assert.Equal(t, "---", got["CAD (RPM)"])
	assert.Equal(t, "---", got["HR (BPM)"])
	assert.Equal(t, "0012", got["ME (KCAL)"])
	assert.Equal(t, "31.46", got["V (km/h)"])
	assert.Equal(t, "1.00", got["D (km)"])
	assert.Equal(t, "0:01:15", got["ELAPSED"])
}

func TestRender(t *testing.T) {
	out := Render(newTestState().Snapshot(start), start)
	assert.Contains(t, out, "00:52:56")
	assert.Contains(t, out, "POW (W)")
	assert.Contains(t, out, "0:00:00")
}
