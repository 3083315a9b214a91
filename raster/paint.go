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

package raster

import (
	"image/color"
	"math"

	"seehuhn.de/go/geom/vec"
)

// Paint gives the source color for every device pixel.
type Paint interface {
	At(x, y int) color.Color
}

// Solid is a single color paint.
type Solid color.NRGBA

// At implements the Paint interface.
func (s Solid) At(x, y int) color.Color {
	return color.NRGBA(s)
}

// Stop is one color stop of a gradient, with Offset in [0, 1].
type Stop struct {
	Offset float64
	Color  color.NRGBA
}

// LinearGradient varies along the device-space line from P0 to P1.
// Pixels before P0 take the first stop color, pixels after P1 the last.
type LinearGradient struct {
	P0, P1 vec.Vec2
	Stops  []Stop

	// Lerp interpolates between two colors; nil means per-channel
	// linear interpolation in sRGB.
	Lerp func(a, b color.NRGBA, t float64) color.NRGBA
}

// At implements the Paint interface.
func (g *LinearGradient) At(x, y int) color.Color {
	d := g.P1.Sub(g.P0)
	l2 := d.X*d.X + d.Y*d.Y
	t := 0.0
	if l2 > 0 {
		p := vec.Vec2{X: float64(x) + 0.5, Y: float64(y) + 0.5}.Sub(g.P0)
		t = (p.X*d.X + p.Y*d.Y) / l2
	}
	return g.ColorAt(t)
}

// ColorAt evaluates the gradient at offset t.
func (g *LinearGradient) ColorAt(t float64) color.NRGBA {
	if len(g.Stops) == 0 {
		return color.NRGBA{}
	}
	if t <= g.Stops[0].Offset {
		return g.Stops[0].Color
	}
	for i := 1; i < len(g.Stops); i++ {
		a, b := g.Stops[i-1], g.Stops[i]
		if t <= b.Offset {
			span := b.Offset - a.Offset
			if span <= 0 {
				return b.Color
			}
			f := (t - a.Offset) / span
			if g.Lerp != nil {
				return g.Lerp(a.Color, b.Color, f)
			}
			return LerpNRGBA(a.Color, b.Color, f)
		}
	}
	return g.Stops[len(g.Stops)-1].Color
}

// LerpNRGBA interpolates each channel linearly.
func LerpNRGBA(a, b color.NRGBA, t float64) color.NRGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return color.NRGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: mix(a.A, b.A)}
}

// Representative returns a single color standing in for p, for output
// devices which cannot reproduce the paint exactly.
func Representative(p Paint) color.NRGBA {
	switch p := p.(type) {
	case Solid:
		return color.NRGBA(p)
	case *LinearGradient:
		return p.ColorAt(0.5)
	}
	return color.NRGBAModel.Convert(p.At(0, 0)).(color.NRGBA)
}
