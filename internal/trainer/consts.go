package trainer

import (
	"github.com/lowaak/cycle-computer/internal/live"
	"github.com/lowaak/cycle-computer/internal/sensor"
)

// Bluetooth Service and Characteristic UUIDs of the supported sensors
const (
	ServiceUUIDHeartRate         = "0000180d-0000-1000-8000-00805f9b34fb"
	CharUUIDHeartRateMeasurement = "00002a37-0000-1000-8000-00805f9b34fb"

	ServiceUUIDCyclingSpeedCadence = "00001816-0000-1000-8000-00805f9b34fb"
	CharUUIDCSCMeasurement         = "00002a5b-0000-1000-8000-00805f9b34fb"

	ServiceUUIDCyclingPower         = "00001818-0000-1000-8000-00805f9b34fb"
	CharUUIDCyclingPowerMeasurement = "00002a63-0000-1000-8000-00805f9b34fb"
)

// DataStreamID uniquely identifies a data stream
type DataStreamID string

const (
	StreamHeartRate    DataStreamID = "heart_rate"
	StreamCadence      DataStreamID = "cadence"
	StreamCyclingPower DataStreamID = "cycling_power"
)

// DataStream is a notifying characteristic and the id its samples are
// stored under.
type DataStream struct {
	ID                 DataStreamID
	DisplayName        string
	ServiceUUID        string
	CharacteristicUUID string
	Characteristic     sensor.CharacteristicID
}

var (
	DataStreamHeartRate = DataStream{
		ID:                 StreamHeartRate,
		DisplayName:        "Heart Rate",
		ServiceUUID:        ServiceUUIDHeartRate,
		CharacteristicUUID: CharUUIDHeartRateMeasurement,
		Characteristic:     sensor.HeartRateMeasurementID,
	}
	DataStreamCadence = DataStream{
		ID:                 StreamCadence,
		DisplayName:        "Cadence",
		ServiceUUID:        ServiceUUIDCyclingSpeedCadence,
		CharacteristicUUID: CharUUIDCSCMeasurement,
		Characteristic:     sensor.CSCMeasurementID,
	}
	DataStreamCyclingPower = DataStream{
		ID:                 StreamCyclingPower,
		DisplayName:        "Cycling Power",
		ServiceUUID:        ServiceUUIDCyclingPower,
		CharacteristicUUID: CharUUIDCyclingPowerMeasurement,
		Characteristic:     sensor.CyclingPowerMeasurementID,
	}
)

// AllDataStreams is the registry of all supported data streams
var AllDataStreams = []DataStream{
	DataStreamHeartRate,
	DataStreamCadence,
	DataStreamCyclingPower,
}

// GetStreamByCharacteristic returns the stream a characteristic id belongs to.
func GetStreamByCharacteristic(id sensor.CharacteristicID) (DataStream, bool) {
	for _, s := range AllDataStreams {
		if s.Characteristic == id {
			return s, true
		}
	}
	return DataStream{}, false
}

// DeviceTypeID matches the sensor class name, which is also the config key
// under devices.*.
type DeviceTypeID = live.SensorClass

// DeviceType is a category of peripheral connected for one sensor class.
type DeviceType struct {
	ID               DeviceTypeID
	DisplayName      string
	ScanServiceUUIDs []string
	DataStreams      []DataStream
}

// AllDeviceTypes in connection order
var AllDeviceTypes = []DeviceType{
	{
		ID:               live.ClassHeartRate,
		DisplayName:      "Heart Rate Monitor",
		ScanServiceUUIDs: []string{ServiceUUIDHeartRate},
		DataStreams:      []DataStream{DataStreamHeartRate},
	},
	{
		ID:               live.ClassPower,
		DisplayName:      "Power Meter",
		ScanServiceUUIDs: []string{ServiceUUIDCyclingPower},
		DataStreams:      []DataStream{DataStreamCyclingPower},
	},
	{
		ID:               live.ClassCadence,
		DisplayName:      "Cadence Sensor",
		ScanServiceUUIDs: []string{ServiceUUIDCyclingSpeedCadence},
		DataStreams:      []DataStream{DataStreamCadence},
	},
}

// GetDeviceTypeByID returns a device type by its ID
func GetDeviceTypeByID(id DeviceTypeID) (DeviceType, bool) {
	for _, dt := range AllDeviceTypes {
		if dt.ID == id {
			return dt, true
		}
	}
	return DeviceType{}, false
}

// MatchesServiceUUID returns true if the given service UUID qualifies a device for this type
func (dt DeviceType) MatchesServiceUUID(serviceUUID string) bool {
	for _, uuid := range dt.ScanServiceUUIDs {
		if uuid == serviceUUID {
			return true
		}
	}
	return false
}

// GetUniqueServiceUUIDs returns a deduplicated list of service UUIDs
func GetUniqueServiceUUIDs() []string {
	seen := make(map[string]bool)
	var result []string
	for _, s := range AllDataStreams {
		if !seen[s.ServiceUUID] {
			seen[s.ServiceUUID] = true
			result = append(result, s.ServiceUUID)
		}
	}
	return result
}
