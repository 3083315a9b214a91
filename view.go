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

	"seehuhn.de/go/maprender/crs"
	"seehuhn.de/go/maprender/style"
)

// metersPerInch converts the output resolution to ground units.
const metersPerInch = 0.0254

// view maps CRS coordinates to output pixels.  The y axis points down.
type view struct {
	crs    *crs.CRS
	extent orb.Bound
	width  int
	height int
	dpi    float64

	// mupp is the ground size of one pixel, in map units.
	mupp float64
}

// newView fits extent into the output size.  The shorter side of the
// extent is widened so that pixels are square.
func newView(c *crs.CRS, extent orb.Bound, size Size, dpi float64) *view {
	w, h := float64(size.Width), float64(size.Height)
	ew := extent.Max[0] - extent.Min[0]
	eh := extent.Max[1] - extent.Min[1]
	mupp := max(ew/w, eh/h)
	if mupp <= 0 || math.IsNaN(mupp) {
		mupp = 1
	}
	cx := (extent.Min[0] + extent.Max[0]) / 2
	cy := (extent.Min[1] + extent.Max[1]) / 2
	return &view{
		crs: c,
		extent: orb.Bound{
			Min: orb.Point{cx - w*mupp/2, cy - h*mupp/2},
			Max: orb.Point{cx + w*mupp/2, cy + h*mupp/2},
		},
		width:  size.Width,
		height: size.Height,
		dpi:    dpi,
		mupp:   mupp,
	}
}

// scale returns the scale denominator.
func (v *view) scale() float64 {
	return v.mupp * v.crs.MetersPerUnit() * v.dpi / metersPerInch
}

// pixel maps a point in the view CRS to pixel coordinates.
func (v *view) pixel(p orb.Point) orb.Point {
	return orb.Point{
		(p[0] - v.extent.Min[0]) / v.mupp,
		(v.extent.Max[1] - p[1]) / v.mupp,
	}
}

// ground maps pixel coordinates to the view CRS.
func (v *view) ground(x, y float64) orb.Point {
	return orb.Point{
		v.extent.Min[0] + x*v.mupp,
		v.extent.Max[1] - y*v.mupp,
	}
}

// toPixels converts a length in the given unit.
func (v *view) toPixels(length float64, u style.Unit) float64 {
	return u.ToPixels(length, v.dpi, v.mupp, v.crs.MetersPerUnit())
}

// buffered returns the extent grown by n pixels on every side.
func (v *view) buffered(n float64) orb.Bound {
	d := n * v.mupp
	return orb.Bound{
		Min: orb.Point{v.extent.Min[0] - d, v.extent.Min[1] - d},
		Max: orb.Point{v.extent.Max[0] + d, v.extent.Max[1] + d},
	}
}

// vars returns the expression variables describing the map.
func (v *view) vars() map[string]any {
	units := "meters"
	if v.crs.IsGeographic() {
		units = "degrees"
	}
	return map[string]any{
		"map_crs":           v.crs.AuthID(),
		"map_units":         units,
		"map_scale":         v.scale(),
		"map_extent_width":  v.extent.Max[0] - v.extent.Min[0],
		"map_extent_height": v.extent.Max[1] - v.extent.Min[1],
		"map_rotation":      0.0,
		"output_dpi":        v.dpi,
	}
}
