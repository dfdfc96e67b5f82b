package msg

import "math"

// WrapDeg normalizes an angle to [0, 360).
func WrapDeg(x float64) float64 {
	m := math.Mod(x, 360)
	if m < 0 {
		m += 360
	}
	return m
}

// AngularDistanceDeg returns the shortest arc between two azimuths, in [0, 180].
func AngularDistanceDeg(a, b float64) float64 {
	d := math.Abs(WrapDeg(a) - WrapDeg(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}
