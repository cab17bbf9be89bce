package sensor

const (
	hrFlagBPM16          = 1 << 0
	hrFlagContact        = 1 << 1
	hrFlagContactFeature = 1 << 2
	hrFlagEnergy         = 1 << 3
)

// HeartRateMeasurement is a decoded Heart Rate Measurement (0x2A37).
type HeartRateMeasurement struct {
	BPM uint16
	// SensorContact is nil when the sensor does not support contact detection.
	SensorContact *bool
	// EnergyExpended is cumulative joules, wrapping at 2^16.
	EnergyExpended *uint16
	// RRIntervals in seconds, oldest first.
	RRIntervals []float64
}

// DecodeHeartRate decodes a Heart Rate Measurement payload.
// See: https://www.bluetooth.com/specifications/specs/heart-rate-service-1-0/
func DecodeHeartRate(buf []byte) HeartRateMeasurement {
	flags := buf[0]
	var m HeartRateMeasurement

	offset := 2
	if flags&hrFlagBPM16 != 0 {
		m.BPM = le16(buf, 1)
		offset = 3
	} else {
		m.BPM = uint16(buf[1])
	}

	if flags&hrFlagContactFeature != 0 {
		contact := flags&hrFlagContact != 0
		m.SensorContact = &contact
	}

	if flags&hrFlagEnergy != 0 {
		energy := le16(buf, offset)
		m.EnergyExpended = &energy
		offset += 2
	}

	// whatever remains is RR intervals; an odd trailing byte is dropped
	for ; offset+1 < len(buf); offset += 2 {
		m.RRIntervals = append(m.RRIntervals, float64(le16(buf, offset))/1024.0)
	}
	return m
}
