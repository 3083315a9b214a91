// seehuhn.de/go/maprender - headless rendering of styled map layers
// Copyright (C) 2026  Jochen Voss <voss@seehuhn.de>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package crs

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Transformer converts coordinates between two CRSs.
// The zero value is not usable; use NewTransformer.
type Transformer struct {
	from, to *CRS
	identity bool
}

// NewTransformer returns a transformer from one CRS to another.  It fails
// if either side uses an unsupported projection, unless both are equal.
func NewTransformer(from, to *CRS) (*Transformer, error) {
	if from.Equal(to) {
		return &Transformer{from: from, to: to, identity: true}, nil
	}
	for _, c := range []*CRS{from, to} {
		if !c.Supported() {
			return nil, fmt.Errorf("no transformation from %s to %s: %w",
				from, to, &Error{Input: c.String(), Reason: "unsupported projection"})
		}
	}
	return &Transformer{from: from, to: to}, nil
}

// IsIdentity reports whether the transformation leaves points unchanged.
func (t *Transformer) IsIdentity() bool {
	return t.identity
}

// Point transforms a single point.
func (t *Transformer) Point(p orb.Point) orb.Point {
	if t.identity {
		return p
	}
	return fromLonLat(t.to, toLonLat(t.from, p))
}

// Geometry returns a transformed copy of g.  The input is not modified.
func (t *Transformer) Geometry(g orb.Geometry) orb.Geometry {
	if t.identity || g == nil {
		return g
	}
	return project.Geometry(orb.Clone(g), t.Point)
}

// Bound transforms a bounding box.  The box edges are sampled so that
// curved images of straight edges are covered.
func (t *Transformer) Bound(b orb.Bound) orb.Bound {
	if t.identity {
		return b
	}
	const n = 8
	out := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for i := 0; i <= n; i++ {
		f := float64(i) / n
		x := b.Min[0] + f*(b.Max[0]-b.Min[0])
		y := b.Min[1] + f*(b.Max[1]-b.Min[1])
		for _, p := range []orb.Point{{x, b.Min[1]}, {x, b.Max[1]}, {b.Min[0], y}, {b.Max[0], y}} {
			q := t.Point(p)
			if isFinite(q) {
				out = out.Extend(q)
			}
		}
	}
	return out
}

func isFinite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}

// maxMercatorLat keeps latitudes away from the poles, where Mercator
// northings diverge.
const maxMercatorLat = 89.5

func toLonLat(c *CRS, p orb.Point) orb.Point {
	switch c.method {
	case methodWebMercator:
		return project.Mercator.ToWGS84(p)
	case methodMercator:
		e := eccentricity(c.rf)
		lon := p[0] / c.a * 180 / math.Pi
		ts := math.Exp(-p[1] / c.a)
		phi := math.Pi/2 - 2*math.Atan(ts)
		for range 15 {
			es := e * math.Sin(phi)
			next := math.Pi/2 - 2*math.Atan(ts*math.Pow((1-es)/(1+es), e/2))
			if math.Abs(next-phi) < 1e-12 {
				phi = next
				break
			}
			phi = next
		}
		return orb.Point{lon, phi * 180 / math.Pi}
	}
	return p
}

func fromLonLat(c *CRS, p orb.Point) orb.Point {
	switch c.method {
	case methodWebMercator:
		p[1] = max(-maxMercatorLat, min(maxMercatorLat, p[1]))
		return project.WGS84.ToMercator(p)
	case methodMercator:
		e := eccentricity(c.rf)
		lat := max(-maxMercatorLat, min(maxMercatorLat, p[1])) * math.Pi / 180
		es := e * math.Sin(lat)
		x := c.a * p[0] * math.Pi / 180
		y := c.a * math.Log(math.Tan(math.Pi/4+lat/2)*math.Pow((1-es)/(1+es), e/2))
		return orb.Point{x, y}
	}
	return p
}

func eccentricity(rf float64) float64 {
	f := 1 / rf
	return math.Sqrt(2*f - f*f)
}
