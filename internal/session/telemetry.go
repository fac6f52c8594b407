package session

// Calibration anchors ABV estimation to the first gravity reading of a
// session. It is write-once: after the first successful Calibrate every later
// call is ignored, so the anchor survives any amount of subsequent telemetry.
type Calibration struct {
	gravity float64
	set     bool
}

// Calibrate records the starting gravity on the first call and reports
// whether this call was the one that set it.
func (c *Calibration) Calibrate(gravity float64) bool {
	if c.set {
		return false
	}
	c.gravity = gravity
	c.set = true
	return true
}

// Value returns the starting gravity and whether it has been set.
func (c *Calibration) Value() (float64, bool) {
	return c.gravity, c.set
}

// Telemetry is the latest observed state of one Pill. It is overwritten on
// every decoded advertisement and read by status reporting and publication.
type Telemetry struct {
	APIVersion      int     `json:"apiVersion"`
	GravityVelocity float64 `json:"gravityVelocity"`
	StartingGravity float64 `json:"startingGravity"`
	CurrentGravity  float64 `json:"currentGravity"`
	ABV             float64 `json:"abv"`
	Temperature     float64 `json:"temperature"`
	TempUnit        string  `json:"tempUnit"`
	Battery         int     `json:"battery"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Z               float64 `json:"z"`
	LastEvent       string  `json:"lastEvent"`
}
