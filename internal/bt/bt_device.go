package bt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

type BTDeviceState int

const (
	Disconnected BTDeviceState = iota
	Connecting
	Connected
)

func (s BTDeviceState) String() string {
	switch s {
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	default:
		return "Unknown"
	}
}

// BTDevice is a peripheral seen during a scan.
type BTDevice interface {
	GetAddressString() string
	GetLocalName() string
	GetScanLastSeen() time.Time
	IsConnected() bool
	GetState() BTDeviceState
	WaitForConnection(ctx context.Context) error
	EnableNotifications(serviceUuid string, characteristicUuid string, callbackFunc func(buf []byte)) error
	GetServiceUUIDs() []string
	HasServiceUUID(uuid string) bool
}

type btDeviceImpl struct {
	logger  *zap.Logger
	address bluetooth.Address

	mu              sync.RWMutex
	localName       string
	scanLastSeen    time.Time
	state           BTDeviceState
	connectedDevice *bluetooth.Device // nil if not connected
	serviceUuidStrs []string
	connectedCh     chan struct{}

	// bleMu serializes discovery and notification setup on the device.
	bleMu                  sync.Mutex
	serviceByUuid          map[string]*bluetooth.DeviceService
	characteristicByUuid   map[string]*bluetooth.DeviceCharacteristic
	serviceCharsDiscovered map[string]bool
	allServicesDiscovered  bool
}

func newBtDeviceImpl(logger *zap.Logger, address bluetooth.Address) *btDeviceImpl {
	if logger == nil {
		panic("BTDevice: logger cannot be nil")
	}
	return &btDeviceImpl{
		logger:                 logger.With(zap.String("address", address.String())),
		address:                address,
		localName:              "Unknown",
		scanLastSeen:           time.Unix(0, 0),
		state:                  Disconnected,
		connectedCh:            make(chan struct{}),
		serviceByUuid:          make(map[string]*bluetooth.DeviceService),
		characteristicByUuid:   make(map[string]*bluetooth.DeviceCharacteristic),
		serviceCharsDiscovered: make(map[string]bool),
	}
}

func (b *btDeviceImpl) GetAddressString() string {
	return b.address.String()
}

func (b *btDeviceImpl) GetLocalName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.localName
}

func (b *btDeviceImpl) GetScanLastSeen() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.scanLastSeen
}

func (b *btDeviceImpl) GetServiceUUIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.serviceUuidStrs...)
}

func (b *btDeviceImpl) HasServiceUUID(uuid string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, u := range b.serviceUuidStrs {
		if u == uuid {
			return true
		}
	}
	return false
}

func (b *btDeviceImpl) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connectedDevice != nil
}

func (b *btDeviceImpl) GetState() BTDeviceState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// WaitForConnection blocks until the connect handler reported the device as
// connected or ctx is done.
func (b *btDeviceImpl) WaitForConnection(ctx context.Context) error {
	b.mu.RLock()
	ch := b.connectedCh
	b.mu.RUnlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for connection to %s: %w", b.address.String(), ctx.Err())
	}
}

func (b *btDeviceImpl) updateFromScan(result bluetooth.ScanResult, seen time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scanLastSeen = seen
	if name := result.LocalName(); name != "" {
		b.localName = name
	}
	if uuids := result.ServiceUUIDs(); len(uuids) > 0 {
		b.serviceUuidStrs = b.serviceUuidStrs[:0]
		for _, u := range uuids {
			b.serviceUuidStrs = append(b.serviceUuidStrs, u.String())
		}
	}
}

func (b *btDeviceImpl) setConnecting() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectedDevice == nil {
		b.state = Connecting
	}
}

func (b *btDeviceImpl) setConnectedDevice(device *bluetooth.Device) {
	b.mu.Lock()
	if device != nil {
		if b.connectedDevice == nil {
			close(b.connectedCh)
		}
		b.connectedDevice = device
		b.state = Connected
		b.mu.Unlock()
		return
	}
	if b.connectedDevice != nil {
		b.connectedCh = make(chan struct{})
	}
	b.connectedDevice = nil
	b.state = Disconnected
	b.mu.Unlock()

	// a reconnect must rediscover; bleMu is taken after mu is released
	b.bleMu.Lock()
	b.serviceByUuid = make(map[string]*bluetooth.DeviceService)
	b.characteristicByUuid = make(map[string]*bluetooth.DeviceCharacteristic)
	b.serviceCharsDiscovered = make(map[string]bool)
	b.allServicesDiscovered = false
	b.bleMu.Unlock()
}

func (b *btDeviceImpl) getConnectedDevice() *bluetooth.Device {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connectedDevice
}

func (b *btDeviceImpl) EnableNotifications(
	serviceUuidStr string,
	characteristicUuidStr string,
	callbackFunc func(buf []byte)) error {

	b.bleMu.Lock()
	defer b.bleMu.Unlock()

	serviceUuid, err := bluetooth.ParseUUID(serviceUuidStr)
	if err != nil {
		return fmt.Errorf("invalid service UUID %q: %w", serviceUuidStr, err)
	}
	characteristicUuid, err := bluetooth.ParseUUID(characteristicUuidStr)
	if err != nil {
		return fmt.Errorf("invalid characteristic UUID %q: %w", characteristicUuidStr, err)
	}

	characteristic, err := b.getDeviceCharacteristic(serviceUuid, characteristicUuid)
	if err != nil {
		return err
	}
	if err := characteristic.EnableNotifications(callbackFunc); err != nil {
		return fmt.Errorf("failed to enable notifications on %s: %w", characteristicUuidStr, err)
	}
	b.logger.Info("BTDevice: notifications enabled", zap.String("characteristic", characteristicUuidStr))
	return nil
}

// getDeviceService discovers every service once, since discovering services
// one at a time interrupts services already in use. Caller holds bleMu.
func (b *btDeviceImpl) getDeviceService(serviceUuid bluetooth.UUID) (*bluetooth.DeviceService, error) {
	connectedDevice := b.getConnectedDevice()
	if connectedDevice == nil {
		return nil, fmt.Errorf("device %s is not connected", b.address.String())
	}

	serviceUuidStr := serviceUuid.String()
	if service, ok := b.serviceByUuid[serviceUuidStr]; ok {
		return service, nil
	}

	if !b.allServicesDiscovered {
		b.logger.Debug("BTDevice: discovering all services")
		deviceServices, err := connectedDevice.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("error discovering services: %w", err)
		}
		for i := range deviceServices {
			svc := &deviceServices[i]
			b.serviceByUuid[svc.UUID().String()] = svc
		}
		b.allServicesDiscovered = true
	}

	service, ok := b.serviceByUuid[serviceUuidStr]
	if !ok {
		return nil, fmt.Errorf("service %v not found on device", serviceUuidStr)
	}
	return service, nil
}

// getDeviceCharacteristic caches all characteristics of a service on first
// use. Caller holds bleMu.
func (b *btDeviceImpl) getDeviceCharacteristic(serviceUuid bluetooth.UUID, charUuid bluetooth.UUID) (*bluetooth.DeviceCharacteristic, error) {
	serviceUuidStr := serviceUuid.String()
	comboUuidStr := serviceUuidStr + "_" + charUuid.String()

	if characteristic, ok := b.characteristicByUuid[comboUuidStr]; ok {
		return characteristic, nil
	}

	if !b.serviceCharsDiscovered[serviceUuidStr] {
		service, err := b.getDeviceService(serviceUuid)
		if err != nil {
			return nil, err
		}
		b.logger.Debug("BTDevice: discovering characteristics", zap.String("service", serviceUuidStr))
		discovered, err := service.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("could not discover characteristics for service %v: %w", serviceUuidStr, err)
		}
		for i := range discovered {
			char := &discovered[i]
			b.characteristicByUuid[serviceUuidStr+"_"+char.UUID().String()] = char
		}
		b.serviceCharsDiscovered[serviceUuidStr] = true
	}

	characteristic, ok := b.characteristicByUuid[comboUuidStr]
	if !ok {
		return nil, fmt.Errorf("characteristic %v not found in service %v", charUuid.String(), serviceUuidStr)
	}
	return characteristic, nil
}
