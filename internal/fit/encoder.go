// Package fit encodes per-second activity records as a FIT file: a 12 byte
// header, record definition and data messages for global message 20, and a
// trailing CRC-16.
package fit

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/tormoder/fit/dyncrc16"
)

const (
	headerSize      = 12
	protocolVersion = 0x20
	profileVersion  = 0x07EB

	// FITEpochOffset is 1989-12-31T00:00:00Z in Unix seconds.
	FITEpochOffset = 631065600

	definitionHeader = 0x40
	dataHeader       = 0x00
	architectureLE   = 0x00
	globalMsgRecord  = 20
)

const (
	baseTypeUint8  = 0x02
	baseTypeUint16 = 0x84
	baseTypeSint32 = 0x85
	baseTypeUint32 = 0x86
)

// Record is one second of activity. Nil fields are left out of the message.
type Record struct {
	SecondsSinceUnixEpoch uint64
	Power                 *uint16
	HeartRate             *uint8
	Cadence               *uint8
	// Latitude and Longitude in degrees.
	Latitude  *float64
	Longitude *float64
	// Altitude in meters.
	Altitude *float64
	// Distance in meters.
	Distance *float64
	// Speed in meters per second.
	Speed *float64
}

type fieldDef struct {
	number   byte
	size     byte
	baseType byte
}

var timestampField = fieldDef{number: 253, size: 4, baseType: baseTypeUint32}

// optionalField is one entry of the fixed field order after the timestamp.
type optionalField struct {
	def     fieldDef
	present func(r *Record) bool
	// appendValue is only called when present is true.
	appendValue func(buf []byte, r *Record) []byte
}

var optionalFields = []optionalField{
	{
		def:     fieldDef{number: 0, size: 4, baseType: baseTypeSint32},
		present: func(r *Record) bool { return r.Latitude != nil },
		appendValue: func(buf []byte, r *Record) []byte {
			return binary.LittleEndian.AppendUint32(buf, uint32(semicircles(*r.Latitude)))
		},
	},
	{
		def:     fieldDef{number: 1, size: 4, baseType: baseTypeSint32},
		present: func(r *Record) bool { return r.Longitude != nil },
		appendValue: func(buf []byte, r *Record) []byte {
			return binary.LittleEndian.AppendUint32(buf, uint32(semicircles(*r.Longitude)))
		},
	},
	{
		def:     fieldDef{number: 2, size: 2, baseType: baseTypeUint16},
		present: func(r *Record) bool { return r.Altitude != nil },
		appendValue: func(buf []byte, r *Record) []byte {
			return binary.LittleEndian.AppendUint16(buf, scaledUint16(5*(*r.Altitude+500)))
		},
	},
	{
		def:     fieldDef{number: 7, size: 2, baseType: baseTypeUint16},
		present: func(r *Record) bool { return r.Power != nil },
		appendValue: func(buf []byte, r *Record) []byte {
			return binary.LittleEndian.AppendUint16(buf, *r.Power)
		},
	},
	{
		def:     fieldDef{number: 3, size: 1, baseType: baseTypeUint8},
		present: func(r *Record) bool { return r.HeartRate != nil },
		appendValue: func(buf []byte, r *Record) []byte {
			return append(buf, *r.HeartRate)
		},
	},
	{
		def:     fieldDef{number: 4, size: 1, baseType: baseTypeUint8},
		present: func(r *Record) bool { return r.Cadence != nil },
		appendValue: func(buf []byte, r *Record) []byte {
			return append(buf, *r.Cadence)
		},
	},
	{
		def:     fieldDef{number: 5, size: 4, baseType: baseTypeUint32},
		present: func(r *Record) bool { return r.Distance != nil },
		appendValue: func(buf []byte, r *Record) []byte {
			return binary.LittleEndian.AppendUint32(buf, scaledUint32(*r.Distance*100))
		},
	},
	{
		def:     fieldDef{number: 6, size: 2, baseType: baseTypeUint16},
		present: func(r *Record) bool { return r.Speed != nil },
		appendValue: func(buf []byte, r *Record) []byte {
			return binary.LittleEndian.AppendUint16(buf, scaledUint16(*r.Speed*1000))
		},
	},
}

// scaledUint16 rounds v and saturates it to the field range; NaN is 0.
func scaledUint16(v float64) uint16 {
	v = math.Round(v)
	switch {
	case !(v > 0):
		return 0
	case v > math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(v)
}

func scaledUint32(v float64) uint32 {
	v = math.Round(v)
	switch {
	case !(v > 0):
		return 0
	case v > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(v)
}

func semicircles(degrees float64) int32 {
	return int32(math.Round(degrees * (1 << 29) / 45))
}

// shape is a bitmask of the optional fields present on a record, indexed by
// position in optionalFields.
type shape uint16

func shapeOf(r *Record) shape {
	var s shape
	for i, f := range optionalFields {
		if f.present(r) {
			s |= 1 << i
		}
	}
	return s
}

// Encode returns the complete file. A definition message is written only
// when a record's field set differs from the record before it.
func Encode(records []Record) []byte {
	buf := make([]byte, headerSize, headerSize+len(records)*16+2)
	buf[0] = headerSize
	buf[1] = protocolVersion
	binary.LittleEndian.PutUint16(buf[2:4], profileVersion)
	copy(buf[8:12], ".FIT")

	var previous shape
	for i := range records {
		r := &records[i]
		s := shapeOf(r)
		if i == 0 || s != previous {
			buf = appendDefinition(buf, s)
			previous = s
		}
		buf = appendData(buf, r)
	}

	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf)-headerSize))
	return binary.LittleEndian.AppendUint16(buf, dyncrc16.Checksum(buf))
}

// Write encodes records and writes the file to w in a single call.
func Write(w io.Writer, records []Record) error {
	_, err := w.Write(Encode(records))
	return err
}

func appendDefinition(buf []byte, s shape) []byte {
	count := byte(1)
	for i := range optionalFields {
		if s&(1<<i) != 0 {
			count++
		}
	}
	buf = append(buf, definitionHeader, 0x00, architectureLE)
	buf = binary.LittleEndian.AppendUint16(buf, globalMsgRecord)
	buf = append(buf, count)
	buf = append(buf, timestampField.number, timestampField.size, timestampField.baseType)
	for i, f := range optionalFields {
		if s&(1<<i) != 0 {
			buf = append(buf, f.def.number, f.def.size, f.def.baseType)
		}
	}
	return buf
}

func appendData(buf []byte, r *Record) []byte {
	buf = append(buf, dataHeader)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(r.SecondsSinceUnixEpoch-FITEpochOffset))
	for _, f := range optionalFields {
		if f.present(r) {
			buf = f.appendValue(buf, r)
		}
	}
	return buf
}
