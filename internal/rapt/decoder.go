package rapt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedPayload indicates an advertisement that is not a valid RAPT
// Pill metrics frame. A single malformed frame is expected noise on a busy
// radio and must never terminate a session.
var ErrMalformedPayload = errors.New("malformed advertisement payload")

// Decode parses a RAPT Pill manufacturer-data payload (without the leading
// company-id bytes) into Metrics.
//
// Payload layout, all multi-byte fields big-endian:
//
//	bytes [0:2]  magic "PT"
//	byte  [2]    format version
//
// Version 1, continuing at offset 2:
//
//	u8 version, 6-byte device MAC (ignored), u16 temperature,
//	f32 gravity, i16 x, i16 y, i16 z, i16 battery
//
// Any other version is decoded with the version-2 layout, continuing at
// offset 4:
//
//	u8 velocity-valid flag, f32 gravity velocity, u16 temperature,
//	f32 gravity, i16 x, i16 y, i16 z, u16 battery
func Decode(data []byte) (*Metrics, error) {
	if len(data) != payloadLen {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrMalformedPayload, len(data), payloadLen)
	}
	if data[0] != 'P' || data[1] != 'T' {
		return nil, fmt.Errorf("%w: unexpected prefix 0x%02X%02X", ErrMalformedPayload, data[0], data[1])
	}

	m := &Metrics{Version: data[2]}

	if m.Version == 1 {
		// bytes [3:9] carry the pill's own MAC, already known from the
		// advertisement source address
		m.TemperatureRaw = binary.BigEndian.Uint16(data[9:11])
		m.GravityRaw = float64(math.Float32frombits(binary.BigEndian.Uint32(data[11:15])))
		m.X = int16(binary.BigEndian.Uint16(data[15:17]))
		m.Y = int16(binary.BigEndian.Uint16(data[17:19]))
		m.Z = int16(binary.BigEndian.Uint16(data[19:21]))
		m.BatteryRaw = int32(int16(binary.BigEndian.Uint16(data[21:23])))
		return m, nil
	}

	m.HasVelocity = data[4] != 0
	m.GravityVelocity = float64(math.Float32frombits(binary.BigEndian.Uint32(data[5:9])))
	m.TemperatureRaw = binary.BigEndian.Uint16(data[9:11])
	m.GravityRaw = float64(math.Float32frombits(binary.BigEndian.Uint32(data[11:15])))
	m.X = int16(binary.BigEndian.Uint16(data[15:17]))
	m.Y = int16(binary.BigEndian.Uint16(data[17:19]))
	m.Z = int16(binary.BigEndian.Uint16(data[19:21]))
	m.BatteryRaw = int32(binary.BigEndian.Uint16(data[21:23]))
	return m, nil
}
