// Package calculator converts a water level into content figures for the
// configured cistern shape.
package calculator

import "math"

type CisternType uint8

const (
	HorizontalCylinder CisternType = 1
	VerticalCylinder   CisternType = 2
)

func (t CisternType) Valid() bool {
	return t == HorizontalCylinder || t == VerticalCylinder
}

// Geometry describes the cistern. Lengths are in mm.
type Geometry struct {
	Type       CisternType
	Radius     float64
	Length     float64 // horizontal cylinder only
	LitersFull float64
}

type Result struct {
	Centimeters float64
	Liters      float64
	Percent     float64
}

// Calculator caches the result for the last level.
type Calculator struct {
	geo   Geometry
	level float64
	last  Result
	valid bool
}

func New(g Geometry) *Calculator {
	return &Calculator{geo: g}
}

// Calculate returns the content for a level in mm.
func (c *Calculator) Calculate(level float64) Result {
	if c.valid && level == c.level {
		return c.last
	}
	res := Result{
		Centimeters: level / 10,
		Liters:      c.liters(level),
	}
	if c.geo.LitersFull > 0 {
		res.Percent = res.Liters / c.geo.LitersFull * 100
	}
	c.level, c.last, c.valid = level, res, true
	return res
}

func (c *Calculator) liters(h float64) float64 {
	r := c.geo.Radius
	switch c.geo.Type {
	case HorizontalCylinder:
		if r <= 0 {
			return 0
		}
		// outside the tank the segment formula has no solution
		h = math.Max(0, math.Min(h, 2*r))
		rMinusH := r - h
		return r * r * c.geo.Length *
			(math.Acos(rMinusH/r) - rMinusH*math.Sqrt(2*r*h-h*h)/(r*r)) / 1e6
	case VerticalCylinder:
		return math.Pi * r * r * h / 1e6
	}
	return 0
}
