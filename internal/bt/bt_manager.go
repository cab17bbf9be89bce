// Package bt is a BLE central over tinygo bluetooth: it scans for
// peripherals, connects and subscribes to characteristic notifications.
package bt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lowaak/cycle-computer/internal/events"
	"github.com/lowaak/cycle-computer/internal/go_func_utils"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// BTManagerInterface is the part of the central the device handler uses.
type BTManagerInterface interface {
	Enable() error
	StartScan(serviceUuidFilter []string)
	StopScan() error
	IsScanning() bool
	GetScanDevices() []BTDevice
	ListenToDeviceList(ch chan<- []BTDevice) func()
	Connect(device BTDevice) error
	Disconnect(device BTDevice) error
	Shutdown()
}

var _ BTManagerInterface = (*BTManager)(nil)

type BTManager struct {
	adapter          *bluetooth.Adapter
	logger           *zap.Logger
	scanTimeout      time.Duration
	devicesByAddress map[string]*btDeviceImpl
	mu               sync.RWMutex

	scanning            bool
	scanContext         context.Context
	scanContextCancel   context.CancelFunc
	scanDeviceListEvent *events.ChannelEvent[[]BTDevice]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBTManager wraps adapter. Devices not seen for scanTimeout are dropped
// from the scan list.
func NewBTManager(adapter *bluetooth.Adapter, logger *zap.Logger, scanTimeout time.Duration) *BTManager {
	if adapter == nil {
		panic("BTManager: adapter cannot be nil")
	}
	if logger == nil {
		panic("BTManager: logger cannot be nil")
	}
	if scanTimeout <= 0 {
		scanTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BTManager{
		adapter:          adapter,
		logger:           logger,
		scanTimeout:      scanTimeout,
		devicesByAddress: make(map[string]*btDeviceImpl),
		// the device list is replayed to late listeners
		scanDeviceListEvent: events.NewChannelEvent[[]BTDevice](func([]BTDevice) string { return "" }),
		ctx:                 ctx,
		cancel:              cancel,
	}
}

func (m *BTManager) getBTDeviceImpl(address bluetooth.Address) (*btDeviceImpl, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := address.String()
	d, ok := m.devicesByAddress[key]
	if !ok {
		d = newBtDeviceImpl(m.logger, address)
		m.devicesByAddress[key] = d
	}
	return d, !ok
}

func (m *BTManager) lookup(device BTDevice) (*btDeviceImpl, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devicesByAddress[device.GetAddressString()]
	if !ok {
		return nil, fmt.Errorf("unknown device %s", device.GetAddressString())
	}
	return d, nil
}

func (m *BTManager) Enable() error {
	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		d, _ := m.getBTDeviceImpl(device.Address)
		if connected {
			m.logger.Info("BTManager: device connected", zap.String("address", device.Address.String()))
			d.setConnectedDevice(&device)
		} else {
			m.logger.Info("BTManager: device disconnected", zap.String("address", device.Address.String()))
			d.setConnectedDevice(nil)
		}
	})
	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("enable BLE adapter: %w", err)
	}
	return nil
}

// StartScan scans until StopScan. A nil filter accepts every peripheral;
// otherwise a peripheral must advertise one of the service UUIDs.
func (m *BTManager) StartScan(serviceUuidFilter []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filterSet := make(map[string]struct{}, len(serviceUuidFilter))
	for _, filter := range serviceUuidFilter {
		filterSet[filter] = struct{}{}
	}

	if m.scanning && m.scanContextCancel != nil {
		m.logger.Info("BTManager: restarting scan")
		m.scanContextCancel()
	}
	m.scanning = true
	m.scanContext, m.scanContextCancel = context.WithCancel(m.ctx)
	scanContext := m.scanContext
	m.logger.Info("BTManager: starting scan", zap.Strings("services", serviceUuidFilter))

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		err := m.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			select {
			case <-scanContext.Done():
				return
			default:
			}
			if len(filterSet) > 0 && !advertisesAny(result, filterSet) {
				return
			}
			d, isNew := m.getBTDeviceImpl(result.Address)
			d.updateFromScan(result, time.Now())
			if isNew {
				m.logger.Info("BTManager: found device",
					zap.String("name", d.GetLocalName()),
					zap.String("address", result.Address.String()),
					zap.Int16("rssi", result.RSSI))
			}
		})
		if err != nil {
			m.logger.Warn("BTManager: scan error", zap.Error(err))
		}
	})

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-scanContext.Done():
				return
			case <-ticker.C:
				m.scanDeviceListEvent.Notify(m.GetScanDevices())
			}
		}
	})
}

func advertisesAny(result bluetooth.ScanResult, filterSet map[string]struct{}) bool {
	for _, u := range result.ServiceUUIDs() {
		if _, ok := filterSet[u.String()]; ok {
			return true
		}
	}
	return false
}

func (m *BTManager) StopScan() error {
	m.mu.Lock()
	if !m.scanning {
		m.mu.Unlock()
		return nil
	}
	m.scanning = false
	if m.scanContextCancel != nil {
		m.scanContextCancel()
		m.scanContextCancel = nil
	}
	m.mu.Unlock()

	// the scan callback takes mu, so the adapter is stopped without it
	return m.adapter.StopScan()
}

func (m *BTManager) IsScanning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanning
}

// GetScanDevices returns the devices seen within the scan timeout.
func (m *BTManager) GetScanDevices() []BTDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	result := make([]BTDevice, 0, len(m.devicesByAddress))
	for _, d := range m.devicesByAddress {
		if d.IsConnected() || now.Sub(d.GetScanLastSeen()) <= m.scanTimeout {
			result = append(result, d)
		}
	}
	return result
}

// ListenToDeviceList registers ch for the scan list, published once per
// second while scanning.
func (m *BTManager) ListenToDeviceList(ch chan<- []BTDevice) func() {
	return m.scanDeviceListEvent.Listen(ch)
}

// Connect initiates a connection. Use WaitForConnection on the device to
// wait for the connect handler.
func (m *BTManager) Connect(device BTDevice) error {
	d, err := m.lookup(device)
	if err != nil {
		return err
	}
	m.logger.Info("BTManager: connecting", zap.String("address", d.GetAddressString()))
	d.setConnecting()
	connected, err := m.adapter.Connect(d.address, bluetooth.ConnectionParams{})
	if err != nil {
		d.setConnectedDevice(nil)
		return fmt.Errorf("connect %s: %w", d.GetAddressString(), err)
	}
	d.setConnectedDevice(&connected)
	return nil
}

func (m *BTManager) Disconnect(device BTDevice) error {
	d, err := m.lookup(device)
	if err != nil {
		return err
	}
	inner := d.getConnectedDevice()
	if inner == nil {
		return nil
	}
	m.logger.Info("BTManager: disconnecting", zap.String("address", d.GetAddressString()))
	if err := inner.Disconnect(); err != nil {
		return fmt.Errorf("disconnect %s: %w", d.GetAddressString(), err)
	}
	d.setConnectedDevice(nil)
	return nil
}

// Shutdown disconnects every device, stops scanning and waits for the scan
// goroutines.
func (m *BTManager) Shutdown() {
	m.logger.Info("BTManager: shutting down")
	m.mu.RLock()
	devices := make([]*btDeviceImpl, 0, len(m.devicesByAddress))
	for _, d := range m.devicesByAddress {
		devices = append(devices, d)
	}
	m.mu.RUnlock()

	for _, d := range devices {
		if err := m.Disconnect(d); err != nil {
			m.logger.Warn("BTManager: disconnect failed", zap.String("address", d.GetAddressString()), zap.Error(err))
		}
	}
	if err := m.StopScan(); err != nil {
		m.logger.Warn("BTManager: stop scan failed", zap.Error(err))
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Info("BTManager: shutdown complete")
}
