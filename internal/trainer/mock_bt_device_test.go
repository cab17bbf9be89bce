package trainer

import (
	"context"
	"testing"
	"time"

	"github.com/lowaak/cycle-computer/internal/bt"
	"github.com/lowaak/cycle-computer/internal/sensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newConnectedMock(t *testing.T, service, characteristic string, values MockValues) (*MockBTDevice, *[][]byte) {
	t.Helper()
	dev := NewMockBTDevice(zap.NewNop(), MockBTDeviceConfig{
		Address:      "00:11:22:33:44:99",
		LocalName:    "Mock",
		ServiceUUIDs: []string{service},
		Values:       values,
	})
	dev.SetConnected(true)
	var payloads [][]byte
	require.NoError(t, dev.EnableNotifications(service, characteristic, func(buf []byte) {
		payloads = append(payloads, buf)
	}))
	return dev, &payloads
}

func TestMockBTDevice_HeartRate(t *testing.T) {
	dev, payloads := newConnectedMock(t, ServiceUUIDHeartRate, CharUUIDHeartRateMeasurement, DefaultMockValues)
	dev.TriggerAllNotifications()
	require.Len(t, *payloads, 1)
	assert.Equal(t, uint16(128), sensor.DecodeHeartRate((*payloads)[0]).BPM)
}

func TestMockBTDevice_CSCRates(t *testing.T) {
	values := MockValues{CadenceRPM: 90, SpeedMS: 8.5}
	dev, payloads := newConnectedMock(t, ServiceUUIDCyclingSpeedCadence, CharUUIDCSCMeasurement, values)
	for i := 0; i < 2; i++ {
		dev.Advance(time.Second)
		dev.TriggerAllNotifications()
	}
	require.Len(t, *payloads, 2)

	first := sensor.DecodeCSC((*payloads)[0])
	second := sensor.DecodeCSC((*payloads)[1])
	require.NotNil(t, second.Crank)
	require.NotNil(t, second.Wheel)

	crank, ok := sensor.Rate(*first.Crank, *second.Crank)
	require.True(t, ok)
	assert.Equal(t, uint32(2), crank.DeltaCount)
	assert.InDelta(t, 90, crank.RPM, 0.5)

	wheel, ok := sensor.Rate(*first.Wheel, *second.Wheel)
	require.True(t, ok)
	assert.InDelta(t, 8.5, wheel.RPM/60*2.105, 0.05)
}

func TestMockBTDevice_CyclingPowerTorque(t *testing.T) {
	dev, payloads := newConnectedMock(t, ServiceUUIDCyclingPower, CharUUIDCyclingPowerMeasurement, DefaultMockValues)
	for i := 0; i < 2; i++ {
		dev.Advance(time.Second)
		dev.TriggerAllNotifications()
	}
	require.Len(t, *payloads, 2)

	first := sensor.DecodeCyclingPower((*payloads)[0])
	second := sensor.DecodeCyclingPower((*payloads)[1])
	assert.Equal(t, int16(185), second.InstantaneousPower)
	require.NotNil(t, second.AccumulatedTorque)
	assert.Equal(t, sensor.TorqueSourceCrank, second.AccumulatedTorque.Source)
	require.NotNil(t, second.CrankRevolutions)
	assert.Nil(t, second.WheelRevolutions)

	var acc sensor.TorqueAccumulator
	acc.Add(first.AccumulatedTorque.Magnitude)
	acc.Add(second.AccumulatedTorque.Magnitude)
	assert.InDelta(t, 185, acc.ExternalEnergy(), 1)
}

func TestMockBTDevice_CountersWrap(t *testing.T) {
	dev, payloads := newConnectedMock(t, ServiceUUIDCyclingPower, CharUUIDCyclingPowerMeasurement, DefaultMockValues)
	// more than one 64 s crank event period
	for i := 0; i < 100; i++ {
		dev.Advance(time.Second)
		dev.TriggerAllNotifications()
	}
	var acc sensor.TorqueAccumulator
	for _, p := range *payloads {
		acc.Add(sensor.DecodeCyclingPower(p).AccumulatedTorque.Magnitude)
	}
	assert.InDelta(t, 99*185, acc.ExternalEnergy(), 5)

	// last whole revolution at 99.545 s, wrapped at 64 s
	last := sensor.DecodeCyclingPower((*payloads)[99]).CrankRevolutions
	assert.Equal(t, uint32(146), last.RevolutionCount)
	assert.InDelta(t, 35.545, last.LastEventTime, 0.002)
}

func TestMockBTDevice_EnableNotifications(t *testing.T) {
	dev := NewMockBTDevice(zap.NewNop(), MockBTDeviceConfig{
		Address:      "00:11:22:33:44:99",
		ServiceUUIDs: []string{ServiceUUIDHeartRate},
	})
	noop := func([]byte) {}

	err := dev.EnableNotifications(ServiceUUIDHeartRate, CharUUIDHeartRateMeasurement, noop)
	assert.Error(t, err, "not connected")

	dev.SetConnected(true)
	assert.Error(t, dev.EnableNotifications(ServiceUUIDCyclingPower, CharUUIDCyclingPowerMeasurement, noop))
	assert.Error(t, dev.EnableNotifications(ServiceUUIDHeartRate, "00002a38-0000-1000-8000-00805f9b34fb", noop))
	assert.NoError(t, dev.EnableNotifications(ServiceUUIDHeartRate, CharUUIDHeartRateMeasurement, noop))
}

func TestMockBTDevice_WaitForConnection(t *testing.T) {
	dev := NewMockBTDevice(zap.NewNop(), MockBTDeviceConfig{Address: "00:11:22:33:44:99"})
	assert.Equal(t, bt.Disconnected, dev.GetState())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, dev.WaitForConnection(ctx), context.DeadlineExceeded)

	go dev.SetConnected(true)
	require.NoError(t, dev.WaitForConnection(context.Background()))
	assert.Equal(t, bt.Connected, dev.GetState())

	dev.SetConnected(false)
	assert.False(t, dev.IsConnected())
}

func TestMockBTManager_TickerSendsNotifications(t *testing.T) {
	mgr := NewMockBTManager(zap.NewNop(), 5*time.Millisecond, 2.105)
	defer mgr.Shutdown()
	sink := &recordingSink{}
	h := NewDeviceHandler(mgr, sink, zap.NewNop())

	_, err := h.ConnectAll(context.Background(), nil, time.Second)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(sink.ids()) >= 6 }, time.Second, 5*time.Millisecond)
}
