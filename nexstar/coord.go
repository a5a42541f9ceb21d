package nexstar

import (
	"fmt"
	"math"
	"strconv"
)

// DefaultFullCircle is the number of degrees in one full turn of an axis.
const DefaultFullCircle = 360.0

const (
	hex16Scale   = 1 << 16
	fixed24Scale = 1 << 24
)

// fraction returns trunc(deg/fullCircle*scale) reduced into [0, scale).
func fraction(deg, fullCircle, scale float64) uint32 {
	v := math.Mod(math.Trunc(deg/fullCircle*scale), scale)
	if v < 0 {
		v += scale
	}
	return uint32(v)
}

// AngleToHex16 encodes deg as a 16-bit fraction of fullCircle in four
// uppercase hex digits. Angles outside one turn wrap.
func AngleToHex16(deg, fullCircle float64) string {
	return fmt.Sprintf("%04X", fraction(deg, fullCircle, hex16Scale))
}

// Hex16ToAngle decodes a 16-bit hex fraction of fullCircle back to degrees.
// The result is within fullCircle/65536 of the encoded angle.
func Hex16ToAngle(s string, fullCircle float64) (float64, error) {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: hex angle %q: %v", ErrMalformedResponse, s, err)
	}
	return float64(v) / hex16Scale * fullCircle, nil
}

// AngleToFixed24 encodes deg as a 24-bit fraction of fullCircle, most
// significant byte first.
func AngleToFixed24(deg, fullCircle float64) (hi, mid, lo byte) {
	v := fraction(deg, fullCircle, fixed24Scale)
	return byte(v >> 16), byte(v >> 8), byte(v)
}

// FormatDMS renders deg as degrees, minutes and seconds, e.g. -1d30m0s.
// Each component is truncated toward zero.
func FormatDMS(deg float64) string {
	sign := ""
	if deg < 0 {
		sign = "-"
		deg = -deg
	}
	d, m, s := sexagesimal(deg)
	return fmt.Sprintf("%s%dd%dm%ds", sign, d, m, s)
}

// FormatHMS renders a right ascension given in degrees as hours, minutes and
// seconds in [0h, 24h).
func FormatHMS(deg float64) string {
	hours := math.Mod(deg/15, 24)
	if hours < 0 {
		hours += 24
	}
	h, m, s := sexagesimal(hours)
	return fmt.Sprintf("%dh%dm%ds", h, m, s)
}

func sexagesimal(v float64) (whole, minutes, seconds int) {
	w := math.Trunc(v)
	rem := (v - w) * 60
	m := math.Trunc(rem)
	s := math.Trunc((rem - m) * 60)
	return int(w), int(m), int(s)
}
