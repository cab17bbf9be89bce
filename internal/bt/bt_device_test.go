package bt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

func TestBTDeviceState_String(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Unknown", BTDeviceState(42).String())
}

func TestBTDevice_ConnectionLifecycle(t *testing.T) {
	d := newBtDeviceImpl(zap.NewNop(), bluetooth.Address{})
	assert.Equal(t, "Unknown", d.GetLocalName())
	assert.False(t, d.IsConnected())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.WaitForConnection(ctx), context.DeadlineExceeded)

	d.setConnecting()
	assert.Equal(t, Connecting, d.GetState())

	go d.setConnectedDevice(&bluetooth.Device{})
	require.NoError(t, d.WaitForConnection(context.Background()))
	assert.True(t, d.IsConnected())
	assert.Equal(t, Connected, d.GetState())

	// a reported reconnect does not close the channel twice
	d.setConnectedDevice(&bluetooth.Device{})

	d.setConnectedDevice(nil)
	assert.Equal(t, Disconnected, d.GetState())
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, d.WaitForConnection(ctx2), context.DeadlineExceeded)
}

func TestBTDevice_EnableNotificationsRequiresConnection(t *testing.T) {
	d := newBtDeviceImpl(zap.NewNop(), bluetooth.Address{})

	err := d.EnableNotifications("0000180d-0000-1000-8000-00805f9b34fb", "00002a37-0000-1000-8000-00805f9b34fb", func([]byte) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	err = d.EnableNotifications("not-a-uuid", "00002a37-0000-1000-8000-00805f9b34fb", func([]byte) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid service UUID")
}

func TestNewBtDeviceImpl_NilLoggerPanics(t *testing.T) {
	assert.Panics(t, func() { newBtDeviceImpl(nil, bluetooth.Address{}) })
}
