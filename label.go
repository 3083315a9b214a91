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
	"image/color"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"seehuhn.de/go/geom/path"
	"seehuhn.de/go/geom/vec"
	"seehuhn.de/go/pdf/graphics"

	"seehuhn.de/go/maprender/expr"
	"seehuhn.de/go/maprender/raster"
	"seehuhn.de/go/maprender/style"
)

// labelFont is used for all text.  Font families named in styles are
// not looked up.
var labelFont = sync.OnceValues(func() (*sfnt.Font, error) {
	return sfnt.Parse(goregular.TTF)
})

// textLayout is a line of text converted to outlines.  The origin is
// the left end of the baseline.
type textLayout struct {
	outline *path.Data
	width   float64
	ascent  float64
	descent float64
}

// layoutText converts text to glyph outlines at the given size in
// pixels.  Glyphs missing from the font are drawn as the .notdef glyph.
func layoutText(text string, size float64) (*textLayout, error) {
	f, err := labelFont()
	if err != nil {
		return nil, err
	}
	var buf sfnt.Buffer
	ppem := fixed.Int26_6(math.Round(size * 64))
	m, err := f.Metrics(&buf, ppem, font.HintingNone)
	if err != nil {
		return nil, err
	}
	res := &textLayout{
		outline: &path.Data{},
		ascent:  fromFixed(m.Ascent),
		descent: fromFixed(m.Descent),
	}

	x := 0.0
	var prev sfnt.GlyphIndex
	for i, r := range []rune(text) {
		gid, err := f.GlyphIndex(&buf, r)
		if err != nil {
			gid = 0
		}
		if i > 0 {
			if k, err := f.Kern(&buf, prev, gid, ppem, font.HintingNone); err == nil {
				x += fromFixed(k)
			}
		}
		segs, err := f.LoadGlyph(&buf, gid, ppem, nil)
		if err == nil {
			appendGlyph(res.outline, segs, x)
		}
		adv, err := f.GlyphAdvance(&buf, gid, ppem, font.HintingNone)
		if err == nil {
			x += fromFixed(adv)
		}
		prev = gid
	}
	res.width = x
	return res, nil
}

func appendGlyph(p *path.Data, segs sfnt.Segments, dx float64) {
	pt := func(q fixed.Point26_6) vec.Vec2 {
		return vec.Vec2{X: dx + fromFixed(q.X), Y: fromFixed(q.Y)}
	}
	open := false
	for _, s := range segs {
		switch s.Op {
		case sfnt.SegmentOpMoveTo:
			if open {
				p.Close()
			}
			p.MoveTo(pt(s.Args[0]))
			open = true
		case sfnt.SegmentOpLineTo:
			p.LineTo(pt(s.Args[0]))
		case sfnt.SegmentOpQuadTo:
			p.QuadTo(pt(s.Args[0]), pt(s.Args[1]))
		case sfnt.SegmentOpCubeTo:
			p.CubeTo(pt(s.Args[0]), pt(s.Args[1]), pt(s.Args[2]))
		}
	}
	if open {
		p.Close()
	}
}

func fromFixed(v fixed.Int26_6) float64 {
	return float64(v) / 64
}

// translated returns the outline moved by (dx, dy).
func (t *textLayout) translated(dx, dy float64) *path.Data {
	res := &path.Data{
		Cmds:   t.outline.Cmds,
		Coords: make([]vec.Vec2, len(t.outline.Coords)),
	}
	for i, c := range t.outline.Coords {
		res.Coords[i] = vec.Vec2{X: c.X + dx, Y: c.Y + dy}
	}
	return res
}

// drawText draws a line of text with its baseline starting at (x, y).
// A positive halo draws a stroke of that width around the glyphs first.
func drawText(surf surface, t *textLayout, x, y float64, col color.NRGBA, halo float64, haloColor color.NRGBA) {
	outline := t.translated(x, y)
	if halo > 0 && haloColor.A > 0 {
		surf.Stroke(outline, raster.Solid(haloColor), raster.StrokeStyle{
			Width: 2 * halo,
			Cap:   graphics.LineCapRound,
			Join:  graphics.LineJoinRound,
		})
	}
	surf.Fill(outline, raster.Solid(col), raster.NonZero)
}

// pendingLabel is a label waiting to be placed after all layers are
// drawn.
type pendingLabel struct {
	text      *textLayout
	at        orb.Point
	color     color.NRGBA
	halo      float64
	haloColor color.NRGBA
}

// collectLabels evaluates the label settings which apply to a feature.
func (p *renderPass) collectLabels(layerIndex int, lab *style.Labeling, fid int64, g orb.Geometry, env *expr.Env, scale float64) {
	settings, err := lab.SettingsFor(env, scale)
	if err != nil {
		p.skip(layerIndex, fid, "label: "+err.Error())
		return
	}
	at, ok := labelAnchor(g)
	if !ok {
		return
	}
	for _, s := range settings {
		e, err := s.TextExpr()
		if err != nil {
			p.skip(layerIndex, fid, err.Error())
			continue
		}
		if e == nil {
			continue
		}
		v, err := e.Eval(env)
		if err != nil {
			p.skip(layerIndex, fid, "label: "+err.Error())
			continue
		}
		if v == nil {
			continue
		}
		text := expr.ToString(v)
		if text == "" {
			continue
		}

		size := s.FontSize
		if dd := s.DataDefined["Size"]; dd != nil {
			if v, err := dd.Eval(env); err == nil {
				if x, ok := expr.ToFloat(v); ok && x > 0 {
					size = x
				}
			}
		}
		col := s.Color
		if dd := s.DataDefined["Color"]; dd != nil {
			if v, err := dd.Eval(env); err == nil && v != nil {
				if c, err := style.ParseColor(expr.ToString(v)); err == nil {
					col = c
				}
			}
		}

		t, err := layoutText(text, p.view.toPixels(size, s.FontUnit))
		if err != nil {
			p.skip(layerIndex, fid, "label: "+err.Error())
			continue
		}
		l := pendingLabel{text: t, at: at, color: col}
		if s.BufferDraw {
			l.halo = p.view.toPixels(s.BufferSize, s.BufferUnit)
			l.haloColor = s.BufferColor
		}
		p.labels = append(p.labels, l)
	}
}

// drawLabels places the collected labels centred on their anchors.
// A label which would overlap an earlier one is left out.
func (p *renderPass) drawLabels(surf surface) {
	var placed []orb.Bound
	for _, l := range p.labels {
		x := l.at[0] - l.text.width/2
		y := l.at[1] + (l.text.ascent-l.text.descent)/2
		box := orb.Bound{
			Min: orb.Point{x - l.halo, y - l.text.ascent - l.halo},
			Max: orb.Point{x + l.text.width + l.halo, y + l.text.descent + l.halo},
		}
		collides := false
		for _, b := range placed {
			if b.Intersects(box) {
				collides = true
				break
			}
		}
		if collides {
			continue
		}
		placed = append(placed, box)
		drawText(surf, l.text, x, y, l.color, l.halo, l.haloColor)
	}
}
