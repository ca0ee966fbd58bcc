package ranger

import "context"

// Sensor is the high-level interface used by the autopilot. It reports the
// distance to the nearest obstacle in front of the robot, regardless of how
// the measurement is taken.
type Sensor interface {
	// DistanceMM takes a single reading in millimeters.
	DistanceMM(ctx context.Context) (int, error)
}
