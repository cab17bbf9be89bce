package storage

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/lowaak/cycle-computer/internal/sensor"

	"github.com/google/uuid"
)

// Key layout, all big-endian so byte order equals (session, elapsed, id) order:
//
//	session key   8 bytes
//	elapsed secs  8 bytes
//	elapsed nanos 4 bytes
//	id variant    4 bytes (0 short, 1 long)
//	id            2 or 16 bytes
const (
	sessionKeyLen = 8
	elapsedLen    = 8 + 4
	variantLen    = 4
	shortIDLen    = 2
	longIDLen     = 16

	variantShort uint32 = 0
	variantLong  uint32 = 1
)

func sessionPrefix(sessionKey uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, sessionKeyLen), sessionKey)
}

// EncodeKey builds the storage key for one sample.
func EncodeKey(sessionKey uint64, elapsed time.Duration, id sensor.CharacteristicID) []byte {
	buf := make([]byte, 0, sessionKeyLen+elapsedLen+variantLen+longIDLen)
	buf = binary.BigEndian.AppendUint64(buf, sessionKey)
	buf = binary.BigEndian.AppendUint64(buf, uint64(elapsed/time.Second))
	buf = binary.BigEndian.AppendUint32(buf, uint32(elapsed%time.Second))
	if short, ok := id.Short(); ok {
		buf = binary.BigEndian.AppendUint32(buf, variantShort)
		return binary.BigEndian.AppendUint16(buf, short)
	}
	u := id.UUID()
	buf = binary.BigEndian.AppendUint32(buf, variantLong)
	return append(buf, u[:]...)
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(key []byte) (sessionKey uint64, elapsed time.Duration, id sensor.CharacteristicID, err error) {
	const fixed = sessionKeyLen + elapsedLen + variantLen
	if len(key) < fixed {
		return 0, 0, id, fmt.Errorf("storage key too short: %d bytes", len(key))
	}
	sessionKey = binary.BigEndian.Uint64(key[0:8])
	secs := binary.BigEndian.Uint64(key[8:16])
	nanos := binary.BigEndian.Uint32(key[16:20])
	elapsed = time.Duration(secs)*time.Second + time.Duration(nanos)

	rest := key[fixed:]
	switch variant := binary.BigEndian.Uint32(key[20:24]); variant {
	case variantShort:
		if len(rest) != shortIDLen {
			return 0, 0, id, fmt.Errorf("storage key: short id has %d bytes", len(rest))
		}
		id = sensor.ShortID(binary.BigEndian.Uint16(rest))
	case variantLong:
		u, uerr := uuid.FromBytes(rest)
		if uerr != nil {
			return 0, 0, id, fmt.Errorf("storage key: long id: %w", uerr)
		}
		id = sensor.LongID(u)
	default:
		return 0, 0, id, fmt.Errorf("storage key: unknown id variant %d", variant)
	}
	return sessionKey, elapsed, id, nil
}
