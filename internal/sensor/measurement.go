// Package sensor decodes BLE heart rate, cycling speed and cadence and cycling
// power measurements, and provides the wraparound-aware arithmetic used to
// turn their rolling registers into rates and totals.
//
// Decoders expect payloads delivered for the matching characteristic. A
// truncated or mis-flagged payload is a programming error and panics.
package sensor

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnknownCharacteristic = errors.New("unknown characteristic")

// RawSample is one notification as persisted: the characteristic it arrived
// on, the time since session start and the untouched payload.
type RawSample struct {
	Characteristic CharacteristicID
	Elapsed        time.Duration
	Payload        []byte
}

// Measurement is the closed set of decoded notification types.
type Measurement interface {
	measurement()
}

func (HeartRateMeasurement) measurement()    {}
func (CSCMeasurement) measurement()          {}
func (CyclingPowerMeasurement) measurement() {}

// Decode dispatches on the characteristic id. Unknown ids return an error
// wrapping ErrUnknownCharacteristic.
func Decode(id CharacteristicID, payload []byte) (Measurement, error) {
	switch id {
	case HeartRateMeasurementID:
		return DecodeHeartRate(payload), nil
	case CSCMeasurementID:
		return DecodeCSC(payload), nil
	case CyclingPowerMeasurementID:
		return DecodeCyclingPower(payload), nil
	default:
		return nil, fmt.Errorf("decode %s: %w", id, ErrUnknownCharacteristic)
	}
}

func le16(buf []byte, i int) uint16 {
	return uint16(buf[i]) | uint16(buf[i+1])<<8
}

func le32(buf []byte, i int) uint32 {
	return uint32(buf[i]) | uint32(buf[i+1])<<8 | uint32(buf[i+2])<<16 | uint32(buf[i+3])<<24
}
