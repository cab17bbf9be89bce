package sensor

const (
	cscFlagWheel = 1 << 0
	cscFlagCrank = 1 << 1
)

// CSCMeasurement is a decoded CSC Measurement (0x2A5B).
type CSCMeasurement struct {
	Wheel *RevolutionData
	Crank *RevolutionData
}

// DecodeCSC decodes a CSC Measurement payload.
// See: https://www.bluetooth.com/specifications/specs/cycling-speed-and-cadence-service-1-0/
func DecodeCSC(buf []byte) CSCMeasurement {
	flags := buf[0]
	var m CSCMeasurement

	offset := 1
	if flags&cscFlagWheel != 0 {
		m.Wheel = &RevolutionData{
			RevolutionCount: le32(buf, offset),
			LastEventTime:   float64(le16(buf, offset+4)) / 1024.0,
			Register:        CSCWheelRegister,
		}
		offset += 6
	}
	if flags&cscFlagCrank != 0 {
		m.Crank = decodeCrankRevolutions(buf, offset)
	}
	return m
}

// decodeCrankRevolutions reads the 2-byte count + 2-byte 1/1024 s time pair
// shared by CSC and Cycling Power.
func decodeCrankRevolutions(buf []byte, offset int) *RevolutionData {
	return &RevolutionData{
		RevolutionCount: uint32(le16(buf, offset)),
		LastEventTime:   float64(le16(buf, offset+2)) / 1024.0,
		Register:        CrankRegister,
	}
}
