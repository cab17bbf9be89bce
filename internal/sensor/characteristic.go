package sensor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// bluetoothBaseUUID is 0000xxxx-0000-1000-8000-00805f9b34fb with the 16-bit slot zeroed.
var bluetoothBaseUUID = uuid.UUID{
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00,
	0x10, 0x00,
	0x80, 0x00,
	0x00, 0x80, 0x5f, 0x9b, 0x34, 0xfb,
}

// CharacteristicID identifies a GATT characteristic either by its assigned
// 16-bit number or by a full 128-bit UUID. The zero value is the short id 0.
// CharacteristicID is comparable and can be used as a map key.
type CharacteristicID struct {
	short  uint16
	long   uuid.UUID
	isLong bool
}

// Measurement characteristics decoded by this package.
var (
	HeartRateMeasurementID    = ShortID(0x2A37)
	CSCMeasurementID          = ShortID(0x2A5B)
	CyclingPowerMeasurementID = ShortID(0x2A63)
)

func ShortID(v uint16) CharacteristicID {
	return CharacteristicID{short: v}
}

// LongID wraps a 128-bit UUID. UUIDs derived from the Bluetooth base UUID
// collapse to their short form so both spellings compare equal.
func LongID(u uuid.UUID) CharacteristicID {
	if isBluetoothBase(u) {
		return ShortID(uint16(u[2])<<8 | uint16(u[3]))
	}
	return CharacteristicID{long: u, isLong: true}
}

// ParseCharacteristicID accepts "2a37", "0x2A37" or a full UUID string.
func ParseCharacteristicID(s string) (CharacteristicID, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if len(trimmed) <= 4 {
		v, err := strconv.ParseUint(trimmed, 16, 16)
		if err != nil {
			return CharacteristicID{}, fmt.Errorf("invalid short characteristic id %q: %w", s, err)
		}
		return ShortID(uint16(v)), nil
	}
	u, err := uuid.Parse(trimmed)
	if err != nil {
		return CharacteristicID{}, fmt.Errorf("invalid characteristic uuid %q: %w", s, err)
	}
	return LongID(u), nil
}

func isBluetoothBase(u uuid.UUID) bool {
	if u[0] != 0 || u[1] != 0 {
		return false
	}
	for i := 4; i < len(u); i++ {
		if u[i] != bluetoothBaseUUID[i] {
			return false
		}
	}
	return true
}

// IsLong reports whether the id carries a full 128-bit UUID.
func (c CharacteristicID) IsLong() bool {
	return c.isLong
}

// Short returns the 16-bit id. ok is false for long ids.
func (c CharacteristicID) Short() (v uint16, ok bool) {
	return c.short, !c.isLong
}

// UUID returns the 128-bit form, expanding short ids onto the Bluetooth base UUID.
func (c CharacteristicID) UUID() uuid.UUID {
	if c.isLong {
		return c.long
	}
	u := bluetoothBaseUUID
	u[2] = byte(c.short >> 8)
	u[3] = byte(c.short)
	return u
}

func (c CharacteristicID) String() string {
	if c.isLong {
		return c.long.String()
	}
	return fmt.Sprintf("0x%04X", c.short)
}
