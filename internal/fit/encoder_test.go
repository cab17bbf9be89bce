package fit

import (
	"bytes"
	"encoding/hex"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tfit "github.com/tormoder/fit"
	"github.com/tormoder/fit/dyncrc16"
)

const testTimestamp = 1583801576

func u8(v uint8) *uint8 { return &v }

func u16(v uint16) *uint16 { return &v }

func f64(v float64) *float64 { return &v }

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func ridingRecord(offset uint64, power uint16, hr, cadence uint8) Record {
	return Record{
		SecondsSinceUnixEpoch: testTimestamp + offset,
		Power:                 u16(power),
		HeartRate:             u8(hr),
		Cadence:               u8(cadence),
	}
}

func geoRecord(offset uint64) Record {
	return Record{
		SecondsSinceUnixEpoch: testTimestamp + offset,
		Latitude:              f64(45.48707197420299),
		Longitude:             f64(-122.4767913389951),
		Altitude:              f64(81.79999999999995),
	}
}

func TestEncode_GoldenVectors(t *testing.T) {
	allFields := geoRecord(0)
	allFields.Power = u16(181)
	allFields.HeartRate = u8(121)
	allFields.Cadence = u8(91)

	tests := []struct {
		name     string
		records  []Record
		expected string
	}{
		{
			name:     "empty",
			records:  nil,
			expected: "0c20eb07000000002e46495436c1",
		},
		{
			name:    "single record",
			records: []Record{ridingRecord(0, 180, 120, 90)},
			expected: "0c20eb071b0000002e464954" +
				"400000140004fd048607028403010204010200" +
				"e898c938b400785a" +
				"e4c1",
		},
		{
			name:    "two records with reused definition",
			records: []Record{ridingRecord(0, 180, 120, 90), ridingRecord(1, 181, 121, 91)},
			expected: "0c20eb07240000002e464954" +
				"400000140004fd048607028403010204010200" +
				"e898c938b400785a" +
				"00e998c938b500795b" +
				"7b97",
		},
		{
			name:    "two records with separate definitions",
			records: []Record{ridingRecord(0, 180, 120, 90), geoRecord(1)},
			expected: "0c20eb073c0000002e464954" +
				"400000140004fd048607028403010204010200" +
				"e898c938b400785a" +
				"400000140004fd0486000485010485020284" +
				"00e998c93833ab5820d3c7e7a85d0b" +
				"b00b",
		},
		{
			name: "without power",
			records: []Record{{
				SecondsSinceUnixEpoch: testTimestamp,
				HeartRate:             u8(120),
				Cadence:               u8(90),
			}},
			expected: "0c20eb07160000002e464954400000140003fd048603010204010200e898c938785a9b59",
		},
		{
			name: "without heart rate",
			records: []Record{{
				SecondsSinceUnixEpoch: testTimestamp,
				Power:                 u16(180),
				Cadence:               u8(90),
			}},
			expected: "0c20eb07170000002e464954400000140003fd048607028404010200e898c938b4005af9be",
		},
		{
			name: "without cadence",
			records: []Record{{
				SecondsSinceUnixEpoch: testTimestamp,
				Power:                 u16(180),
				HeartRate:             u8(120),
			}},
			expected: "0c20eb07170000002e464954400000140003fd048607028403010200e898c938b4007863d3",
		},
		{
			name:     "latitude longitude altitude",
			records:  []Record{geoRecord(0)},
			expected: "0c20eb07210000002e464954400000140004fd048600048501048502028400e898c93833ab5820d3c7e7a85d0b4db6",
		},
		{
			name:    "latitude longitude altitude power heart rate cadence",
			records: []Record{allFields},
			expected: "0c20eb072e0000002e464954" +
				"400000140007fd0486000485010485020284070284030102040102" +
				"00e898c93833ab5820d3c7e7a85d0bb500795b" +
				"e91b",
		},
		{
			name: "speed and distance only",
			records: []Record{{
				SecondsSinceUnixEpoch: testTimestamp,
				Distance:              f64(1000),
				Speed:                 f64(6.0),
			}},
			expected: "0c20eb071a0000002e464954400000140003fd048605048606028400e898c938a08601007017f374",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, mustHex(t, tt.expected), Encode(tt.records))
		})
	}
}

func TestEncode_Deterministic(t *testing.T) {
	records := []Record{ridingRecord(0, 180, 120, 90)}
	assert.Equal(t, Encode(records), Encode(records))
}

func TestEncode_DefinitionCount(t *testing.T) {
	countDefs := func(b []byte) int {
		// every message in these fixtures is a definition (0x40) or a
		// 9 byte riding data message
		n := 0
		pos := headerSize
		for pos < len(b)-2 {
			if b[pos] == definitionHeader {
				n++
				pos += 6 + 3*int(b[pos+5])
				continue
			}
			pos += 9
		}
		return n
	}

	same := Encode([]Record{
		ridingRecord(0, 180, 120, 90),
		ridingRecord(1, 181, 121, 91),
		ridingRecord(2, 182, 122, 92),
	})
	assert.Equal(t, 1, countDefs(same))

	// values differ but the field set does not
	sameShape := Encode([]Record{
		ridingRecord(0, 180, 120, 90),
		{SecondsSinceUnixEpoch: testTimestamp + 1, Power: u16(5), HeartRate: u8(1), Cadence: u8(2)},
	})
	assert.Equal(t, 1, countDefs(sameShape))
}

func TestEncode_DataSizeExcludesHeaderAndCRC(t *testing.T) {
	b := Encode([]Record{ridingRecord(0, 180, 120, 90), geoRecord(1)})
	h, err := tfit.DecodeHeader(bytes.NewReader(b))
	require.NoError(t, err)

	assert.Equal(t, byte(headerSize), h.Size)
	assert.Equal(t, byte(protocolVersion), h.ProtocolVersion)
	assert.Equal(t, uint16(profileVersion), h.ProfileVersion)
	assert.Equal(t, uint32(len(b)-headerSize-2), h.DataSize)
	assert.Equal(t, ".FIT", string(h.DataType[:]))
}

func TestEncode_CRCCoversWholeFile(t *testing.T) {
	b := Encode([]Record{ridingRecord(0, 180, 120, 90), geoRecord(1)})
	// a file with its CRC appended checks to zero
	assert.Equal(t, uint16(0), dyncrc16.Checksum(b))
	assert.Equal(t, referenceCRC(b[:len(b)-2]), uint16(b[len(b)-2])|uint16(b[len(b)-1])<<8)
}

func TestEncode_NegativeCoordinates(t *testing.T) {
	b := Encode([]Record{{
		SecondsSinceUnixEpoch: testTimestamp,
		Latitude:              f64(-33.8688),
		Longitude:             f64(151.2093),
	}})
	data := b[headerSize+6+3*3:]
	lat := int32(uint32(data[5]) | uint32(data[6])<<8 | uint32(data[7])<<16 | uint32(data[8])<<24)
	assert.Equal(t, int32(-404070523), lat)
}

func TestEncode_OutOfRangeValuesSaturate(t *testing.T) {
	field := func(r Record) uint16 {
		b := Encode([]Record{r})
		// definition of timestamp plus one field, then the data message
		data := b[headerSize+6+3*2:]
		return uint16(data[5]) | uint16(data[6])<<8
	}

	assert.Equal(t, uint16(0), field(Record{SecondsSinceUnixEpoch: testTimestamp, Altitude: f64(-600)}))
	assert.Equal(t, uint16(0xFFFF), field(Record{SecondsSinceUnixEpoch: testTimestamp, Altitude: f64(20000)}))
	assert.Equal(t, uint16(0xFFFF), field(Record{SecondsSinceUnixEpoch: testTimestamp, Speed: f64(70)}))
	assert.Equal(t, uint16(8500), field(Record{SecondsSinceUnixEpoch: testTimestamp, Speed: f64(8.5)}))
}

func TestScaledUint(t *testing.T) {
	tests := []struct {
		in   float64
		want uint16
	}{
		{-1, 0},
		{0.4, 0},
		{0.5, 1},
		{65534.6, 65535},
		{1e9, 65535},
		{math.Inf(-1), 0},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, scaledUint16(tt.in), "scaledUint16(%v)", tt.in)
	}
	assert.Equal(t, uint32(math.MaxUint32), scaledUint32(1e12))
	assert.Equal(t, uint32(0), scaledUint32(-5))
}

func TestWrite(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Write(&out, nil))
	assert.Equal(t, mustHex(t, "0c20eb07000000002e46495436c1"), out.Bytes())
}

// referenceCRC is the nibble-wise FIT CRC-16 written out against the
// published table, low nibble first.
func referenceCRC(data []byte) uint16 {
	table := [16]uint16{
		0x0000, 0xCC01, 0xD801, 0x1400, 0xF001, 0x3C00, 0x2800, 0xE401,
		0xA001, 0x6C00, 0x7800, 0xB401, 0x5000, 0x9C01, 0x8801, 0x4400,
	}
	var crc uint16
	for _, b := range data {
		tmp := table[crc&0xF]
		crc = (crc >> 4) & 0x0FFF
		crc = crc ^ tmp ^ table[b&0xF]

		tmp = table[crc&0xF]
		crc = (crc >> 4) & 0x0FFF
		crc = crc ^ tmp ^ table[(b>>4)&0xF]
	}
	return crc
}

func TestReferenceCRC_EmptyHeader(t *testing.T) {
	header := mustHex(t, "0c20eb07000000002e464954")
	assert.Equal(t, uint16(0xC136), referenceCRC(header))
	assert.Equal(t, referenceCRC(header), dyncrc16.Checksum(header))
}
