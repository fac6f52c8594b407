package rapt

import "math"

// TemperatureCelsius converts fixed-point Kelvin to Celsius, rounded to two
// decimals.
func TemperatureCelsius(raw uint16) float64 {
	return round2(float64(raw)/128 - 273.15)
}

// TemperatureFahrenheit converts fixed-point Kelvin to Fahrenheit.
//
// Unlike Celsius the result is not rounded. The Pill's own companion tools
// behave the same way and downstream consumers have come to rely on the full
// precision, so the asymmetry is kept.
func TemperatureFahrenheit(raw uint16) float64 {
	return (float64(raw)/128-273.15)*9/5 + 32
}

// Gravity converts raw gravity (specific gravity x1000) to specific gravity,
// rounded to four decimals.
func Gravity(raw float64) float64 {
	return round4(raw / 1000)
}

// ABV estimates alcohol by volume from the drop between starting and current
// specific gravity using the standard simplified brewing formula.
func ABV(starting, current float64) float64 {
	return round4((starting - current) * 131.25)
}

// Accel converts a fixed-point accelerometer axis to g-units.
func Accel(raw int16) float64 {
	return float64(raw) / 16
}

// BatteryPercent converts fixed-point charge to a whole percent (0-100).
func BatteryPercent(raw int32) int {
	return int(math.Round(float64(raw) / 256))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
