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
	"image"
	"math"

	"github.com/paulmach/orb"

	"seehuhn.de/go/maprender/layer"
	"seehuhn.de/go/maprender/raster"
	"seehuhn.de/go/maprender/style"
)

// iconFraction is the part of a legend icon covered by the symbol.
const iconFraction = 0.8

// SymbolRender says whether a legend entry can be switched on and off
// in a layer tree.
type SymbolRender int

// These are the render states of legend entries.
const (
	Uncheckable SymbolRender = iota
	Checked
	Unchecked
)

func (s SymbolRender) String() string {
	switch s {
	case Checked:
		return "checked"
	case Unchecked:
		return "unchecked"
	}
	return "uncheckable"
}

// LegendSymbol is one legend entry of a layer, with its icon.
type LegendSymbol struct {
	Icon     *image.NRGBA
	Title    string
	HasTitle bool
	Render   SymbolRender

	// Index is the value to pass to WithSymbols to draw only the
	// features shown by this entry.
	Index int

	// RasterBand is the band an entry of a raster layer describes,
	// starting at 1.  It is 0 for vector layers.
	RasterBand int

	// HasCategory is false if the entry stands for the whole layer.
	HasCategory bool
}

// LegendSymbols returns the legend entries of a layer, each with an icon
// of the given size.  Vector symbols are drawn in the central 80% of the
// icon; colour swatches of raster layers fill the whole icon.
func (r *MapRequest) LegendSymbols(layerIndex int, size Size) ([]LegendSymbol, error) {
	const op = "legend symbols"
	b, err := r.layer(op, layerIndex)
	if err != nil {
		return nil, err
	}
	if size.Width <= 0 || size.Height <= 0 {
		return nil, engineErrorf(op, "invalid icon size %dx%d", size.Width, size.Height)
	}

	_, isRaster := b.src.(*layer.Raster)
	items := b.style.Legend(rasterSource(b.src))
	v := r.legendView(size)
	full := orb.Bound{Max: orb.Point{float64(size.Width), float64(size.Height)}}
	res := make([]LegendSymbol, 0, len(items))
	for _, it := range items {
		c := raster.NewCanvas(size.Width, size.Height)
		box := shrink(full, iconFraction)
		if isRaster && it.Kind == style.LegendSwatch {
			box = full
		}
		r.drawLegendIcon(c, v, b.style, it, box)

		sym := LegendSymbol{
			Icon:        c.NRGBA(),
			Title:       it.Title,
			HasTitle:    it.HasTitle,
			Index:       it.Index,
			RasterBand:  it.Band,
			HasCategory: !isRaster || it.HasTitle,
		}
		if it.Checkable {
			sym.Render = Unchecked
			if it.Checked {
				sym.Render = Checked
			}
		}
		res = append(res, sym)
	}
	if !isRaster && len(res) == 1 {
		res[0].HasCategory = false
	}
	return res, nil
}

// legendView converts symbol sizes for legend icons.  Sizes in map
// units are taken as pixels.
func (r *MapRequest) legendView(size Size) *view {
	return &view{
		crs:    r.crs,
		extent: orb.Bound{Max: orb.Point{float64(size.Width), float64(size.Height)}},
		width:  size.Width,
		height: size.Height,
		dpi:    r.dpi,
		mupp:   1,
	}
}

func shrink(b orb.Bound, frac float64) orb.Bound {
	w, h := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	dx, dy := w*(1-frac)/2, h*(1-frac)/2
	return orb.Bound{
		Min: orb.Point{b.Min[0] + dx, b.Min[1] + dy},
		Max: orb.Point{b.Max[0] - dx, b.Max[1] - dy},
	}
}

// drawLegendIcon draws the sample of a legend entry into box.
func (r *MapRequest) drawLegendIcon(surf surface, v *view, st *style.Style, it style.LegendItem, box orb.Bound) {
	pt := &painter{surf: surf, view: v, svg: r.svg, logger: r.logger}
	centre := box.Center()
	switch it.Kind {
	case style.LegendSwatch:
		solidRect(surf, box, it.Color)
	case style.LegendDiagram:
		d := st.Diagram
		if d == nil || len(d.Attributes) == 0 {
			return
		}
		values := make([]float64, len(d.Attributes))
		for i := range values {
			values[i] = 1
		}
		side := min(box.Max[0]-box.Min[0], box.Max[1]-box.Min[1])
		at := centre
		if d.Kind == style.Histogram {
			at[1] = centre[1] + side/2
		}
		sample := *d
		sample.Scaling = nil
		pt.drawDiagram(pendingDiagram{d: &sample, at: at, size: side, values: values})
	case style.LegendSymbol:
		sym := it.Symbol
		if sym == nil {
			return
		}
		var g orb.Geometry
		switch sym.Type {
		case style.MarkerSymbol:
			g = centre
		case style.LineSymbol:
			g = orb.LineString{{box.Min[0], centre[1]}, {box.Max[0], centre[1]}}
		case style.FillSymbol:
			g = box.ToPolygon()
		}
		pt.drawSymbol(sym, g, nil)
	}
}

// LegendOptions control the layout of RenderLegend.  Lengths are in
// millimetres, font sizes in points.
type LegendOptions struct {
	SymbolWidth  float64
	SymbolHeight float64
	TitleSize    float64
	ItemSize     float64

	// Margin surrounds the legend, Spacing separates rows and blocks,
	// and SymbolGap separates symbols from their text.
	Margin    float64
	Spacing   float64
	SymbolGap float64

	// SkipUnlabeled leaves out layers added without a label.  Otherwise
	// they are titled with the name of their source.
	SkipUnlabeled bool
}

// DefaultLegendOptions returns the layout used by a new MapRequest.
func DefaultLegendOptions() LegendOptions {
	return LegendOptions{
		SymbolWidth:  7,
		SymbolHeight: 4,
		TitleSize:    12,
		ItemSize:     10,
		Margin:       2,
		Spacing:      1.5,
		SymbolGap:    2,
	}
}

// SetLegendOptions sets the layout for RenderLegend.
func (r *MapRequest) SetLegendOptions(o LegendOptions) {
	r.legend = o
}

type legendRow struct {
	item style.LegendItem
	text *textLayout
}

type legendBlock struct {
	b     *binding
	title *textLayout
	rows  []legendRow
}

// RenderLegend draws the legends of all layers, one block per layer
// stacked top to bottom.  The background is transparent.  If size is
// nil, the image is just large enough to hold the legend.  Higher DPI
// settings give larger images.
func (r *MapRequest) RenderLegend(size *Size) (*image.NRGBA, error) {
	const op = "render legend"
	o := r.legend
	mm := func(v float64) float64 { return v * r.dpi / 25.4 }
	pt := func(v float64) float64 { return v * r.dpi / 72 }

	var blocks []legendBlock
	for _, b := range r.layers {
		name := b.label
		if !b.hasLabel {
			if o.SkipUnlabeled {
				continue
			}
			name = b.src.Name()
		}
		title, err := layoutText(name, pt(o.TitleSize))
		if err != nil {
			return nil, engineErrorf(op, "%v", err)
		}
		blk := legendBlock{b: b, title: title}
		for _, it := range b.style.Legend(rasterSource(b.src)) {
			text, err := layoutText(it.Title, pt(o.ItemSize))
			if err != nil {
				return nil, engineErrorf(op, "%v", err)
			}
			blk.rows = append(blk.rows, legendRow{item: it, text: text})
		}
		blocks = append(blocks, blk)
	}

	symW, symH := mm(o.SymbolWidth), mm(o.SymbolHeight)
	gap, spacing, margin := mm(o.SymbolGap), mm(o.Spacing), mm(o.Margin)
	rowHeight := func(row legendRow) float64 {
		return max(symH, row.text.ascent+row.text.descent)
	}

	width, height := 0.0, margin
	for _, blk := range blocks {
		width = max(width, blk.title.width)
		height += blk.title.ascent + blk.title.descent + spacing
		for _, row := range blk.rows {
			width = max(width, symW+gap+row.text.width)
			height += rowHeight(row) + spacing
		}
	}
	width += 2 * margin
	height += margin

	var w, h int
	if size == nil || size.Width <= 0 || size.Height <= 0 {
		w, h = int(math.Ceil(width)), int(math.Ceil(height))
	} else {
		w, h = size.Width, size.Height
	}
	c := raster.NewCanvas(max(w, 1), max(h, 1))
	v := r.legendView(Size{Width: w, Height: h})

	y := margin
	for _, blk := range blocks {
		y += blk.title.ascent
		drawText(c, blk.title, margin, y, black, 0, black)
		y += blk.title.descent + spacing
		for _, row := range blk.rows {
			rh := rowHeight(row)
			box := orb.Bound{
				Min: orb.Point{margin, y + (rh-symH)/2},
				Max: orb.Point{margin + symW, y + (rh+symH)/2},
			}
			r.drawLegendIcon(c, v, blk.b.style, row.item, box)
			baseline := y + (rh+row.text.ascent-row.text.descent)/2
			drawText(c, row.text, margin+symW+gap, baseline, black, 0, black)
			y += rh + spacing
		}
	}
	return c.NRGBA(), nil
}
