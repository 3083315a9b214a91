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

package maprender

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"

	"seehuhn.de/go/geom/path"
	"seehuhn.de/go/geom/vec"
)

// toPixels returns a copy of g with every point mapped by fn.
func toPixels(g orb.Geometry, fn func(orb.Point) orb.Point) orb.Geometry {
	return project.Geometry(orb.Clone(g), fn)
}

func vec2(p orb.Point) vec.Vec2 {
	return vec.Vec2{X: p[0], Y: p[1]}
}

// linePath returns the open polyline through pts.
func linePath(pts []orb.Point) *path.Data {
	p := &path.Data{}
	for i, pt := range pts {
		if i == 0 {
			p.MoveTo(vec2(pt))
		} else {
			p.LineTo(vec2(pt))
		}
	}
	return p
}

// polygonPath returns the closed rings of the polygons.  Holes are
// cut out by filling with the even-odd rule.
func polygonPath(polys ...orb.Polygon) *path.Data {
	p := &path.Data{}
	for _, poly := range polys {
		for _, ring := range poly {
			if len(ring) < 3 {
				continue
			}
			for i, pt := range ring {
				if i == 0 {
					p.MoveTo(vec2(pt))
				} else {
					p.LineTo(vec2(pt))
				}
			}
			p.Close()
		}
	}
	return p
}

// markerPoints returns where marker symbols are placed on g.  Lines and
// polygons get a single marker at their centroid.
func markerPoints(g orb.Geometry) []orb.Point {
	switch g := g.(type) {
	case orb.Point:
		return []orb.Point{g}
	case orb.MultiPoint:
		return g
	case orb.Collection:
		var res []orb.Point
		for _, c := range g {
			res = append(res, markerPoints(c)...)
		}
		return res
	case nil:
		return nil
	}
	c, _ := planar.CentroidArea(g)
	return []orb.Point{c}
}

// linesOf returns the lines of g.  Polygons contribute their rings.
func linesOf(g orb.Geometry) []orb.LineString {
	switch g := g.(type) {
	case orb.LineString:
		return []orb.LineString{g}
	case orb.MultiLineString:
		return g
	case orb.Ring:
		return []orb.LineString{orb.LineString(g)}
	case orb.Polygon:
		res := make([]orb.LineString, len(g))
		for i, r := range g {
			res[i] = orb.LineString(r)
		}
		return res
	case orb.MultiPolygon:
		var res []orb.LineString
		for _, poly := range g {
			res = append(res, linesOf(poly)...)
		}
		return res
	case orb.Collection:
		var res []orb.LineString
		for _, c := range g {
			res = append(res, linesOf(c)...)
		}
		return res
	}
	return nil
}

// polygonsOf returns the polygons of g.
func polygonsOf(g orb.Geometry) []orb.Polygon {
	switch g := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{g}
	case orb.MultiPolygon:
		return g
	case orb.Ring:
		return []orb.Polygon{{g}}
	case orb.Collection:
		var res []orb.Polygon
		for _, c := range g {
			res = append(res, polygonsOf(c)...)
		}
		return res
	}
	return nil
}

// labelAnchor returns the point a label is centred on.
func labelAnchor(g orb.Geometry) (orb.Point, bool) {
	switch g := g.(type) {
	case nil:
		return orb.Point{}, false
	case orb.Point:
		return g, true
	case orb.LineString:
		return along(g, planar.Length(g)/2)
	case orb.MultiLineString:
		var longest orb.LineString
		for _, ls := range g {
			if planar.Length(ls) > planar.Length(longest) {
				longest = ls
			}
		}
		return along(longest, planar.Length(longest)/2)
	}
	c, _ := planar.CentroidArea(g)
	return c, !math.IsNaN(c[0]) && !math.IsNaN(c[1])
}

// along returns the point at distance d from the start of ls.
func along(ls orb.LineString, d float64) (orb.Point, bool) {
	pt, _, ok := alongWithAngle(ls, d)
	return pt, ok
}

// alongWithAngle also returns the direction of the segment at that
// point, in degrees clockwise from the x axis.
func alongWithAngle(ls orb.LineString, d float64) (orb.Point, float64, bool) {
	if len(ls) == 0 {
		return orb.Point{}, 0, false
	}
	for i := 1; i < len(ls); i++ {
		a, b := ls[i-1], ls[i]
		l := planar.Distance(a, b)
		if d <= l || i == len(ls)-1 {
			t := 0.0
			if l > 0 {
				t = min(max(d/l, 0), 1)
			}
			pt := orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
			return pt, segmentAngle(a, b), true
		}
		d -= l
	}
	return ls[0], 0, true
}

func segmentAngle(a, b orb.Point) float64 {
	return math.Atan2(b[1]-a[1], b[0]-a[0]) * 180 / math.Pi
}

// offsetLine shifts ls sideways by d, to the left of the direction of
// travel for positive d.  Joins are mitred.
func offsetLine(ls orb.LineString, d float64) orb.LineString {
	if len(ls) < 2 || d == 0 {
		return ls
	}
	normal := func(a, b orb.Point) (float64, float64) {
		dx, dy := b[0]-a[0], b[1]-a[1]
		l := math.Hypot(dx, dy)
		if l == 0 {
			return 0, 0
		}
		// y points down, so the left normal is (dy, -dx)
		return dy / l, -dx / l
	}
	res := make(orb.LineString, len(ls))
	for i := range ls {
		var nx, ny float64
		switch i {
		case 0:
			nx, ny = normal(ls[0], ls[1])
		case len(ls) - 1:
			nx, ny = normal(ls[i-1], ls[i])
		default:
			ax, ay := normal(ls[i-1], ls[i])
			bx, by := normal(ls[i], ls[i+1])
			nx, ny = ax+bx, ay+by
			dot := nx*ax + ny*ay
			if dot > 0.1 {
				nx, ny = nx/dot, ny/dot
			} else {
				nx, ny = ax, ay
			}
		}
		res[i] = orb.Point{ls[i][0] + d*nx, ls[i][1] + d*ny}
	}
	return res
}
