package trainer

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/lowaak/cycle-computer/internal/bt"
	"github.com/lowaak/cycle-computer/internal/events"
	"github.com/lowaak/cycle-computer/internal/go_func_utils"

	"go.uber.org/zap"
)

// simRevolutions is a revolution counter driven at a constant rate. It keeps
// the fractional revolution and the time of the last whole one, so the
// emitted count and event time are consistent with each other.
type simRevolutions struct {
	revs      float64
	lastEvent float64 // seconds
}

func (r *simRevolutions) advance(end, dt, perSecond float64) {
	if perSecond <= 0 || dt <= 0 {
		return
	}
	before := math.Floor(r.revs)
	r.revs += perSecond * dt
	if math.Floor(r.revs) > before {
		r.lastEvent = end - (r.revs-math.Floor(r.revs))/perSecond
	}
}

func (r *simRevolutions) count() uint64 {
	return uint64(r.revs)
}

// eventTicks is the last event time in 1/resolution s, wrapped to 16 bits.
func (r *simRevolutions) eventTicks(resolution float64) uint16 {
	return uint16(uint64(math.Round(r.lastEvent*resolution)) & 0xFFFF)
}

// MockValues are the constant readings a simulated sensor reports.
type MockValues struct {
	HeartRate  uint8
	Power      int16
	CadenceRPM float64
	// SpeedMS in m/s.
	SpeedMS float64
}

var DefaultMockValues = MockValues{
	HeartRate:  128,
	Power:      185,
	CadenceRPM: 88,
	SpeedMS:    8.5,
}

// MockBTDevice implements bt.BTDevice with simulated HR, CP and CSC
// notifications built from MockValues.
type MockBTDevice struct {
	logger             *zap.Logger
	address            string
	localName          string
	serviceUUIDs       []string
	wheelCircumference float64

	mu          sync.RWMutex
	state       bt.BTDeviceState
	connectedCh chan struct{}
	callbacks   map[string]func([]byte) // by characteristic UUID
	values      MockValues

	// simulation state, seconds since connect
	elapsed     float64
	crank       simRevolutions
	wheel       simRevolutions
	torqueTicks float64 // 1/32 N·m
}

// MockBTDeviceConfig holds configuration for creating a mock device
type MockBTDeviceConfig struct {
	Address            string
	LocalName          string
	ServiceUUIDs       []string
	WheelCircumference float64
	Values             MockValues
}

func NewMockBTDevice(logger *zap.Logger, config MockBTDeviceConfig) *MockBTDevice {
	if logger == nil {
		panic("MockBTDevice: logger cannot be nil")
	}
	if config.WheelCircumference <= 0 {
		config.WheelCircumference = 2.105
	}
	return &MockBTDevice{
		logger:             logger.With(zap.String("address", config.Address)),
		address:            config.Address,
		localName:          config.LocalName,
		serviceUUIDs:       config.ServiceUUIDs,
		wheelCircumference: config.WheelCircumference,
		state:              bt.Disconnected,
		connectedCh:        make(chan struct{}),
		callbacks:          make(map[string]func([]byte)),
		values:             config.Values,
	}
}

// SetValues changes the readings reported from the next Advance on.
func (m *MockBTDevice) SetValues(values MockValues) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = values
}

// SetConnected changes the connection state of the mock device
func (m *MockBTDevice) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if connected {
		if m.state != bt.Connected {
			close(m.connectedCh)
		}
		m.state = bt.Connected
		m.logger.Debug("MockBTDevice: state changed to Connected")
		return
	}
	if m.state == bt.Connected {
		m.connectedCh = make(chan struct{})
	}
	m.state = bt.Disconnected
	m.callbacks = make(map[string]func([]byte))
	m.logger.Debug("MockBTDevice: state changed to Disconnected")
}

// --- bt.BTDevice Interface Implementation ---

func (m *MockBTDevice) GetAddressString() string {
	return m.address
}

func (m *MockBTDevice) GetScanLastSeen() time.Time {
	return time.Now()
}

func (m *MockBTDevice) GetLocalName() string {
	return m.localName
}

func (m *MockBTDevice) IsConnected() bool {
	return m.GetState() == bt.Connected
}

func (m *MockBTDevice) GetState() bt.BTDeviceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *MockBTDevice) WaitForConnection(ctx context.Context) error {
	m.mu.RLock()
	ch := m.connectedCh
	m.mu.RUnlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for connection to %s: %w", m.address, ctx.Err())
	}
}

func (m *MockBTDevice) EnableNotifications(serviceUuid string, characteristicUuid string, callbackFunc func(buf []byte)) error {
	if !m.HasServiceUUID(serviceUuid) {
		return fmt.Errorf("service not supported by this device: %s", serviceUuid)
	}
	switch characteristicUuid {
	case CharUUIDHeartRateMeasurement, CharUUIDCSCMeasurement, CharUUIDCyclingPowerMeasurement:
	default:
		return fmt.Errorf("unknown service/characteristic: %s/%s", serviceUuid, characteristicUuid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != bt.Connected {
		return fmt.Errorf("device %s is not connected", m.address)
	}
	m.callbacks[characteristicUuid] = callbackFunc
	m.logger.Info("MockBTDevice: notifications enabled", zap.String("characteristic", characteristicUuid))
	return nil
}

func (m *MockBTDevice) GetServiceUUIDs() []string {
	return m.serviceUUIDs
}

func (m *MockBTDevice) HasServiceUUID(uuid string) bool {
	for _, u := range m.serviceUUIDs {
		if u == uuid {
			return true
		}
	}
	return false
}

// --- Simulation ---

// Advance moves the simulated ride forward by dt.
func (m *MockBTDevice) Advance(dt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	secs := dt.Seconds()
	end := m.elapsed + secs
	m.crank.advance(end, secs, m.values.CadenceRPM/60)
	m.wheel.advance(end, secs, m.values.SpeedMS/m.wheelCircumference)
	if m.values.Power > 0 {
		// energy = 2π × accumulated torque
		energy := float64(m.values.Power) * secs
		m.torqueTicks += energy / (2 * math.Pi) * 32
	}
	m.elapsed = end
}

func (m *MockBTDevice) heartRatePayload() []byte {
	// [flags, bpm]
	return []byte{0x00, m.values.HeartRate}
}

func (m *MockBTDevice) cyclingPowerPayload() []byte {
	// torque present, crank torque source, crank revolutions present
	const flags = 0x04 | 0x08 | 0x20
	buf := binary.LittleEndian.AppendUint16(nil, flags)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(m.values.Power))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(uint64(m.torqueTicks)&0xFFFF))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(m.crank.count()&0xFFFF))
	return binary.LittleEndian.AppendUint16(buf, m.crank.eventTicks(1024))
}

func (m *MockBTDevice) cscPayload() []byte {
	// wheel and crank revolutions present
	buf := []byte{0x03}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.wheel.count()))
	buf = binary.LittleEndian.AppendUint16(buf, m.wheel.eventTicks(1024))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(m.crank.count()&0xFFFF))
	return binary.LittleEndian.AppendUint16(buf, m.crank.eventTicks(1024))
}

// TriggerAllNotifications sends the current payload on every enabled
// characteristic.
func (m *MockBTDevice) TriggerAllNotifications() {
	type pending struct {
		callback func([]byte)
		payload  []byte
	}
	m.mu.RLock()
	var out []pending
	if cb := m.callbacks[CharUUIDHeartRateMeasurement]; cb != nil {
		out = append(out, pending{cb, m.heartRatePayload()})
	}
	if cb := m.callbacks[CharUUIDCyclingPowerMeasurement]; cb != nil {
		out = append(out, pending{cb, m.cyclingPowerPayload()})
	}
	if cb := m.callbacks[CharUUIDCSCMeasurement]; cb != nil {
		out = append(out, pending{cb, m.cscPayload()})
	}
	m.mu.RUnlock()

	// callbacks run without mu, like real notifications
	for _, p := range out {
		p.callback(p.payload)
	}
}

// --- MockBTManager ---

// MockBTManager is a mock implementation of bt.BTManagerInterface that
// simulates one sensor per device type.
type MockBTManager struct {
	logger               *zap.Logger
	interval             time.Duration
	mockDevices          []*MockBTDevice
	scanning             bool
	notificationsRunning bool
	scanDeviceListEvent  *events.ChannelEvent[[]bt.BTDevice]
	ctx                  context.Context
	cancel               context.CancelFunc
	notifyCancel         context.CancelFunc
	scanCancel           context.CancelFunc
	wg                   sync.WaitGroup
	mu                   sync.RWMutex
}

var _ bt.BTManagerInterface = (*MockBTManager)(nil)

// NewMockBTManager simulates a heart rate strap, a power meter and a speed
// and cadence sensor notifying every interval.
func NewMockBTManager(logger *zap.Logger, interval time.Duration, wheelCircumference float64) *MockBTManager {
	if logger == nil {
		panic("MockBTManager: logger cannot be nil")
	}
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	newDevice := func(address, name, service string) *MockBTDevice {
		return NewMockBTDevice(logger, MockBTDeviceConfig{
			Address:            address,
			LocalName:          name,
			ServiceUUIDs:       []string{service},
			WheelCircumference: wheelCircumference,
			Values:             DefaultMockValues,
		})
	}

	return &MockBTManager{
		logger:   logger,
		interval: interval,
		mockDevices: []*MockBTDevice{
			newDevice("00:11:22:33:44:01", "Mock HR Strap", ServiceUUIDHeartRate),
			newDevice("00:11:22:33:44:02", "Mock Power Meter", ServiceUUIDCyclingPower),
			newDevice("00:11:22:33:44:03", "Mock Speed Cadence", ServiceUUIDCyclingSpeedCadence),
		},
		scanDeviceListEvent: events.NewChannelEvent[[]bt.BTDevice](func([]bt.BTDevice) string { return "" }),
		ctx:                 ctx,
		cancel:              cancel,
	}
}

func (m *MockBTManager) Enable() error {
	m.logger.Info("MockBTManager: enabled", zap.Int("devices", len(m.mockDevices)))
	return nil
}

func (m *MockBTManager) devices() []bt.BTDevice {
	devices := make([]bt.BTDevice, len(m.mockDevices))
	for i, dev := range m.mockDevices {
		devices[i] = dev
	}
	return devices
}

// StartScan publishes the mock devices advertising one of the filtered
// services until StopScan.
func (m *MockBTManager) StartScan(serviceUuidFilter []string) {
	m.mu.Lock()
	if m.scanCancel != nil {
		m.scanCancel()
	}
	m.scanning = true
	scanCtx, scanCancel := context.WithCancel(m.ctx)
	m.scanCancel = scanCancel
	m.mu.Unlock()
	m.logger.Info("MockBTManager: starting scan", zap.Strings("services", serviceUuidFilter))

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		m.scanDeviceListEvent.Notify(m.devices())
		for {
			select {
			case <-scanCtx.Done():
				return
			case <-ticker.C:
				m.scanDeviceListEvent.Notify(m.devices())
			}
		}
	})
}

func (m *MockBTManager) StopScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanning = false
	if m.scanCancel != nil {
		m.scanCancel()
		m.scanCancel = nil
	}
	return nil
}

func (m *MockBTManager) IsScanning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanning
}

func (m *MockBTManager) find(device bt.BTDevice) (*MockBTDevice, error) {
	for _, dev := range m.mockDevices {
		if dev.address == device.GetAddressString() {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("unknown device: %s", device.GetAddressString())
}

// Connect connects a mock device and starts the notification ticker.
func (m *MockBTManager) Connect(device bt.BTDevice) error {
	dev, err := m.find(device)
	if err != nil {
		return err
	}
	dev.SetConnected(true)
	m.startNotifications()
	m.logger.Info("MockBTManager: connected", zap.String("address", dev.address), zap.String("name", dev.localName))
	return nil
}

func (m *MockBTManager) Disconnect(device bt.BTDevice) error {
	dev, err := m.find(device)
	if err != nil {
		return err
	}
	dev.SetConnected(false)
	if len(m.GetConnectedDevices()) == 0 {
		m.stopNotifications()
	}
	return nil
}

func (m *MockBTManager) startNotifications() {
	m.mu.Lock()
	if m.notificationsRunning {
		m.mu.Unlock()
		return
	}
	m.notificationsRunning = true
	notifyCtx, notifyCancel := context.WithCancel(m.ctx)
	m.notifyCancel = notifyCancel
	m.mu.Unlock()

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			m.notificationsRunning = false
			m.mu.Unlock()
		}()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.logger.Debug("MockBTManager: started sending notifications")
		for {
			select {
			case <-notifyCtx.Done():
				m.logger.Debug("MockBTManager: stopped sending notifications")
				return
			case <-ticker.C:
				for _, dev := range m.mockDevices {
					if dev.IsConnected() {
						dev.Advance(m.interval)
						dev.TriggerAllNotifications()
					}
				}
			}
		}
	})
}

func (m *MockBTManager) stopNotifications() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notifyCancel != nil {
		m.notifyCancel()
		m.notifyCancel = nil
	}
}

func (m *MockBTManager) GetConnectedDevices() []bt.BTDevice {
	var connected []bt.BTDevice
	for _, dev := range m.mockDevices {
		if dev.IsConnected() {
			connected = append(connected, dev)
		}
	}
	return connected
}

// GetScanDevices returns every mock device while scanning and the connected
// ones otherwise.
func (m *MockBTManager) GetScanDevices() []bt.BTDevice {
	if m.IsScanning() {
		return m.devices()
	}
	return m.GetConnectedDevices()
}

func (m *MockBTManager) ListenToDeviceList(ch chan<- []bt.BTDevice) func() {
	return m.scanDeviceListEvent.Listen(ch)
}

func (m *MockBTManager) Shutdown() {
	m.logger.Info("MockBTManager: shutting down")
	_ = m.StopScan()
	m.stopNotifications()
	m.cancel()
	m.wg.Wait()
	for _, dev := range m.mockDevices {
		dev.SetConnected(false)
	}
	m.logger.Info("MockBTManager: shutdown complete")
}

// GetMockDevices returns all mock devices for direct access
func (m *MockBTManager) GetMockDevices() []*MockBTDevice {
	return m.mockDevices
}
