// Package trainer connects the configured BLE sensors and forwards their
// notifications to the recorder.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lowaak/cycle-computer/internal/bt"
	"github.com/lowaak/cycle-computer/internal/sensor"

	"go.uber.org/zap"
)

var ErrNoDevices = errors.New("no sensor connected")

// NotificationSink receives every notification of a subscribed stream.
type NotificationSink interface {
	HandleNotification(id sensor.CharacteristicID, payload []byte)
}

// DeviceHandler manages BT device connections and subscriptions
type DeviceHandler struct {
	btManager bt.BTManagerInterface
	sink      NotificationSink
	logger    *zap.Logger

	// device address -> set of subscribed device type IDs
	subscriptionsMu       sync.RWMutex
	subscriptionsByDevice map[string]map[DeviceTypeID]bool
}

func NewDeviceHandler(btManager bt.BTManagerInterface, sink NotificationSink, logger *zap.Logger) *DeviceHandler {
	if btManager == nil {
		panic("DeviceHandler: btManager cannot be nil")
	}
	if sink == nil {
		panic("DeviceHandler: sink cannot be nil")
	}
	if logger == nil {
		panic("DeviceHandler: logger cannot be nil")
	}
	return &DeviceHandler{
		btManager:             btManager,
		sink:                  sink,
		logger:                logger,
		subscriptionsByDevice: make(map[string]map[DeviceTypeID]bool),
	}
}

func matches(device bt.BTDevice, deviceType DeviceType, address string) bool {
	if address != "" {
		return strings.EqualFold(device.GetAddressString(), address)
	}
	for _, uuid := range device.GetServiceUUIDs() {
		if deviceType.MatchesServiceUUID(uuid) {
			return true
		}
	}
	return false
}

func pick(devices []bt.BTDevice, deviceType DeviceType, address string) bt.BTDevice {
	for _, d := range devices {
		if matches(d, deviceType, address) {
			return d
		}
	}
	return nil
}

// FindDevice waits for a scanned device with the given address, or, when
// address is empty, the first one advertising a service of deviceType. A
// scan must be running.
func (h *DeviceHandler) FindDevice(ctx context.Context, deviceType DeviceType, address string) (bt.BTDevice, error) {
	ch := make(chan []bt.BTDevice, 1)
	unregister := h.btManager.ListenToDeviceList(ch)
	defer unregister()

	if d := pick(h.btManager.GetScanDevices(), deviceType, address); d != nil {
		return d, nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no %s found: %w", deviceType.DisplayName, ctx.Err())
		case devices := <-ch:
			if d := pick(devices, deviceType, address); d != nil {
				return d, nil
			}
		}
	}
}

// Subscribe connects device if needed and enables notifications on every
// stream of deviceType the device provides.
func (h *DeviceHandler) Subscribe(ctx context.Context, deviceType DeviceType, device bt.BTDevice) error {
	address := device.GetAddressString()
	log := h.logger.With(
		zap.String("device", fmt.Sprintf("%s (%s)", device.GetLocalName(), address)),
		zap.String("device_type", string(deviceType.ID)))

	if device.IsConnected() {
		log.Info("DeviceHandler: already connected, subscribing")
	} else {
		log.Info("DeviceHandler: connecting")
		if err := h.btManager.Connect(device); err != nil {
			return fmt.Errorf("failed to initiate connection: %w", err)
		}
		if err := device.WaitForConnection(ctx); err != nil {
			return fmt.Errorf("connection timeout: %w", err)
		}
	}

	subscribed := 0
	for _, stream := range deviceType.DataStreams {
		stream := stream
		err := device.EnableNotifications(stream.ServiceUUID, stream.CharacteristicUUID, func(buf []byte) {
			h.sink.HandleNotification(stream.Characteristic, buf)
		})
		if err != nil {
			log.Warn("DeviceHandler: failed to enable notifications",
				zap.String("stream", stream.DisplayName), zap.Error(err))
			continue
		}
		log.Info("DeviceHandler: subscribed", zap.String("stream", stream.DisplayName))
		subscribed++
	}
	if subscribed == 0 {
		return fmt.Errorf("no supported notification streams on device for %s", deviceType.DisplayName)
	}

	h.subscriptionsMu.Lock()
	if h.subscriptionsByDevice[address] == nil {
		h.subscriptionsByDevice[address] = make(map[DeviceTypeID]bool)
	}
	h.subscriptionsByDevice[address][deviceType.ID] = true
	h.subscriptionsMu.Unlock()
	return nil
}

// ConnectAll scans for up to scanTimeout for one device per device type and
// subscribes every device found. addresses selects devices by type; a
// missing type picks the first device advertising its service. It returns
// the subscribed types, or ErrNoDevices when none could be subscribed.
func (h *DeviceHandler) ConnectAll(ctx context.Context, addresses map[DeviceTypeID]string, scanTimeout time.Duration) ([]DeviceTypeID, error) {
	h.logger.Info("DeviceHandler: starting BLE scan", zap.Duration("timeout", scanTimeout))
	h.btManager.StartScan(GetUniqueServiceUUIDs())

	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	found := make(map[DeviceTypeID]bt.BTDevice)
	for _, deviceType := range AllDeviceTypes {
		d, err := h.FindDevice(scanCtx, deviceType, addresses[deviceType.ID])
		if err != nil {
			if ctx.Err() != nil {
				cancel()
				_ = h.btManager.StopScan()
				return nil, ctx.Err()
			}
			h.logger.Warn("DeviceHandler: skipping device type", zap.String("device_type", string(deviceType.ID)), zap.Error(err))
			continue
		}
		found[deviceType.ID] = d
	}
	cancel()

	if err := h.btManager.StopScan(); err != nil {
		h.logger.Warn("DeviceHandler: error stopping scan", zap.Error(err))
	}

	var subscribed []DeviceTypeID
	for _, deviceType := range AllDeviceTypes {
		d, ok := found[deviceType.ID]
		if !ok {
			continue
		}
		if err := h.Subscribe(ctx, deviceType, d); err != nil {
			h.logger.Warn("DeviceHandler: subscription failed", zap.String("device_type", string(deviceType.ID)), zap.Error(err))
			continue
		}
		subscribed = append(subscribed, deviceType.ID)
	}
	if len(subscribed) == 0 {
		return nil, ErrNoDevices
	}
	return subscribed, nil
}

// GetSubscribedDeviceTypesForDevice returns the device type IDs subscribed on a device
func (h *DeviceHandler) GetSubscribedDeviceTypesForDevice(address string) []DeviceTypeID {
	h.subscriptionsMu.RLock()
	defer h.subscriptionsMu.RUnlock()

	deviceSubs := h.subscriptionsByDevice[address]
	deviceTypes := make([]DeviceTypeID, 0, len(deviceSubs))
	for _, deviceType := range AllDeviceTypes {
		if deviceSubs[deviceType.ID] {
			deviceTypes = append(deviceTypes, deviceType.ID)
		}
	}
	return deviceTypes
}
