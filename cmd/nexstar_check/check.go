package main

import (
	"fmt"

	"github.com/w1xm/nexstar_interface/logger"
	"github.com/w1xm/nexstar_interface/nexstar"
	"github.com/w1xm/nexstar_interface/skycoord"
)

const (
	boundsStep      = 10.0
	boundsDeviation = 5.0
)

// checkTargets are RA/Dec positions spread over the reachable sky, starting
// and ending at the origin.
var checkTargets = []skycoord.Coord{
	{RA: 0, Dec: 0},
	{RA: 0, Dec: 89},
	{RA: 0, Dec: -89},
	{RA: 179, Dec: 0},
	{RA: -179, Dec: 0},
	{RA: 0, Dec: 0},
}

type checker struct {
	m   *nexstar.Mount
	log logger.Logger
}

func (c *checker) position() (skycoord.Coord, error) {
	p, err := c.m.Position(nexstar.RaDec)
	if err != nil {
		return skycoord.Coord{}, err
	}
	return skycoord.Normalize(skycoord.Coord{RA: p.Primary, Dec: p.Secondary}), nil
}

func (c *checker) gotoSync(target skycoord.Coord) (skycoord.Coord, error) {
	res, err := c.m.GotoSync(nexstar.RaDec, nexstar.AxisPair{Primary: target.RA, Secondary: target.Dec})
	if err != nil {
		return skycoord.Coord{}, err
	}
	if res.TimedOut {
		c.log.Warn("GOTO did not finish", "target", format(target), "elapsed", res.Elapsed)
	}
	return c.position()
}

// testGoto slews to the origin, then to target, and returns how far the
// mount ended up from target in degrees.
func (c *checker) testGoto(target skycoord.Coord, allowedError float64) (float64, error) {
	c.log.Info("testing GOTO", "target", format(target))
	initial, err := c.gotoSync(skycoord.Coord{})
	if err != nil {
		return 0, err
	}
	c.log.Info("initial position", "position", format(initial))
	actual, err := c.gotoSync(target)
	if err != nil {
		return 0, err
	}
	sep := skycoord.Separation(skycoord.Normalize(target), actual)
	if sep > allowedError {
		c.log.Error("separation is greater than allowed error", "position", format(actual), "separation", sep, "allowed", allowedError)
	} else {
		c.log.Info("separation is within allowed error", "position", format(actual), "separation", sep, "allowed", allowedError)
	}
	return sep, nil
}

// search steps from initial by (dRA, dDec) until the mount stops following
// or maxSteps is reached, and returns the last requested position.
func (c *checker) search(initial skycoord.Coord, dRA, dDec float64, maxSteps int) (skycoord.Coord, error) {
	c.log.Info("searching bounds", "from", format(initial), "ra_step", dRA, "dec_step", dDec)
	expected, actual := initial, initial
	for i := 0; i < maxSteps && skycoord.Separation(skycoord.Normalize(expected), actual) < boundsDeviation; i++ {
		expected = expected.Offset(dRA, dDec)
		var err error
		if actual, err = c.gotoSync(expected); err != nil {
			return expected, err
		}
		c.log.Debug("bounds step", "expected", format(expected), "actual", format(actual))
	}
	c.log.Info("bound reached", "position", format(actual))
	return expected, nil
}

type bounds struct {
	Top, Bottom, Left, Right skycoord.Coord
}

func (c *checker) findBounds(maxSteps int) (bounds, error) {
	var b bounds
	initial, err := c.position()
	if err != nil {
		return b, err
	}
	for _, dir := range []struct {
		dst       *skycoord.Coord
		dRA, dDec float64
	}{
		{&b.Top, 0, boundsStep},
		{&b.Bottom, 0, -boundsStep},
		{&b.Left, boundsStep, 0},
		{&b.Right, -boundsStep, 0},
	} {
		if *dir.dst, err = c.search(initial, dir.dRA, dir.dDec, maxSteps); err != nil {
			return b, err
		}
	}
	return b, nil
}

func format(c skycoord.Coord) string {
	return fmt.Sprintf("%s %s", nexstar.FormatHMS(c.RA), nexstar.FormatDMS(c.Dec))
}
