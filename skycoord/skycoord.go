// Package skycoord holds small spherical-astronomy helpers for checking where
// the mount actually pointed.
package skycoord

import (
	"math"
	"time"
)

// Coord is an equatorial position in degrees.
type Coord struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

func deg2rad(x float64) float64 {
	return x * math.Pi / 180
}

func rad2deg(x float64) float64 {
	return x * 180 / math.Pi
}

// Add returns angle+offset wrapped into [0, 360).
func Add(angle, offset float64) float64 {
	angle = math.Mod(angle+offset, 360)
	if angle < 0 {
		angle += 360
	}
	return angle
}

// Normalize wraps RA into [0, 360) and Dec into (-180, 180]. The mount
// reports negative declinations as angles just under a full turn.
func Normalize(c Coord) Coord {
	dec := Add(c.Dec, 0)
	if dec > 180 {
		dec -= 360
	}
	return Coord{RA: Add(c.RA, 0), Dec: dec}
}

// Offset returns c moved by dRA and dDec degrees. RA wraps; Dec is not
// folded over the poles because the mount itself does not do that.
func (c Coord) Offset(dRA, dDec float64) Coord {
	return Coord{RA: Add(c.RA, dRA), Dec: c.Dec + dDec}
}

// Separation returns the great-circle angle between a and b in degrees.
// Vincenty's formula stays accurate for both tiny and antipodal separations.
func Separation(a, b Coord) float64 {
	ra1, dec1 := deg2rad(a.RA), deg2rad(a.Dec)
	ra2, dec2 := deg2rad(b.RA), deg2rad(b.Dec)
	sdra, cdra := math.Sincos(ra2 - ra1)
	s1, c1 := math.Sincos(dec1)
	s2, c2 := math.Sincos(dec2)

	num1 := c2 * sdra
	num2 := c1*s2 - s1*c2*cdra
	denom := s1*s2 + c1*c2*cdra
	return rad2deg(math.Atan2(math.Hypot(num1, num2), denom))
}

// HorizontalFromEquatorial converts hour angle and declination to azimuth
// and altitude for an observer at latitude. All arguments and results are
// in degrees; azimuth is measured from north through east.
// Algorithm from https://metacpan.org/dist/Astro-Montenbruck/source/lib/Astro/Montenbruck/CoCo.pm
func HorizontalFromEquatorial(ha, dec, latitude float64) (az, alt float64) {
	sx, sy, sphi := math.Sin(deg2rad(ha)), math.Sin(deg2rad(dec)), math.Sin(deg2rad(latitude))
	cx, cy, cphi := math.Cos(deg2rad(ha)), math.Cos(deg2rad(dec)), math.Cos(deg2rad(latitude))

	sq := (sy * sphi) + (cy * cphi * cx)
	q := math.Asin(clamp(sq))

	cp := (sy - (sphi * sq)) / (cphi * math.Cos(q))
	p := math.Acos(clamp(cp))
	if sx > 0 {
		p = 2*math.Pi - p
	}
	return rad2deg(p), rad2deg(q)
}

var j2000 = time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)

// LocalSiderealTime returns the local mean sidereal time at t for an
// observer at longitude (east positive), in degrees.
func LocalSiderealTime(t time.Time, longitude float64) float64 {
	days := t.Sub(j2000).Hours() / 24
	return Add(280.46061837+360.98564736629*days, longitude)
}

// Horizontal returns the azimuth and altitude of c seen at t from latitude
// and longitude.
func Horizontal(c Coord, t time.Time, latitude, longitude float64) (az, alt float64) {
	ha := Add(LocalSiderealTime(t, longitude), -c.RA)
	return HorizontalFromEquatorial(ha, c.Dec, latitude)
}

// clamp keeps rounding error near the meridian and zenith inside asin/acos's domain.
func clamp(x float64) float64 {
	return math.Max(-1, math.Min(1, x))
}
