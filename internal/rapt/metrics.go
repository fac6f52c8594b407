package rapt

import "bytes"

const (
	// VendorID is the Bluetooth SIG company identifier RAPT Pill devices
	// advertise under (0x4152, "RA" - the payload itself continues "PT").
	VendorID uint16 = 16722

	// payloadLen is the fixed length of a RAPT Pill data advertisement.
	payloadLen = 23
)

// nonDataBroadcast is a known beacon the Pill emits between data frames.
// It carries no metrics and is skipped before decoding.
var nonDataBroadcast = []byte("PTdPillG1")

// IsNonDataBroadcast reports whether the payload is the Pill's 9-byte
// identity beacon rather than a metrics frame.
func IsNonDataBroadcast(data []byte) bool {
	return bytes.Equal(data, nonDataBroadcast)
}

// Metrics is one decoded RAPT Pill advertisement.
//
// Raw fields are stored exactly as they arrive on the wire; scaling to
// engineering units happens in the derive functions so that calibration
// state stays out of the decoder.
type Metrics struct {
	// Version is the payload format version (1 or 2).
	Version uint8

	// HasVelocity is the version-2 flag byte; version 1 never carries it.
	HasVelocity bool

	// GravityVelocity is points of gravity per day (version 2 only, 0 otherwise).
	GravityVelocity float64

	// TemperatureRaw is fixed-point Kelvin (value/128 = K).
	TemperatureRaw uint16

	// GravityRaw is specific gravity x1000, transmitted as float32.
	GravityRaw float64

	// X, Y, Z are fixed-point accelerometer axes (value/16 = g).
	X, Y, Z int16

	// BatteryRaw is fixed-point charge (value/256 = percent). Version 1
	// transmits it signed, version 2 unsigned.
	BatteryRaw int32
}
