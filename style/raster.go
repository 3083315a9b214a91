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

package style

import (
	"image/color"
	"math"
	"strconv"
)

// RasterSource is the view of a raster needed to colour its pixels.
// layer.Raster implements this interface.
type RasterSource interface {
	BandCount() int
	Value(band, col, row int) (float64, bool)
	Stats(band int) (lo, hi float64, ok bool)
	Palette() color.Palette
}

// RasterRenderer turns band values into colours.
type RasterRenderer interface {
	// Type returns the renderer name used in QML documents.
	Type() string

	// Bands lists the bands read by the renderer, starting at 1.
	Bands() []int

	// Painter prepares the renderer for a source.  The returned function
	// gives the colour of a pixel; transparent pixels have alpha 0.
	Painter(src RasterSource) func(col, row int) color.NRGBA

	// Legend returns the legend entries, using src for value ranges which
	// the renderer does not fix.  src may be nil.
	Legend(src RasterSource) []LegendItem
}

// MinMax is an optional value range.  If Set is false, the range of the
// data is used.
type MinMax struct {
	Min, Max float64
	Set      bool
}

func (m MinMax) resolve(src RasterSource, band int) (lo, hi float64) {
	if m.Set {
		return m.Min, m.Max
	}
	if src != nil {
		if lo, hi, ok := src.Stats(band); ok {
			return lo, hi
		}
	}
	return 0, 255
}

// stretch maps v linearly from [lo, hi] to [0, 1].
func stretch(v, lo, hi float64) float64 {
	if hi <= lo {
		if v >= hi {
			return 1
		}
		return 0
	}
	return min(max((v-lo)/(hi-lo), 0), 1)
}

// SingleBandGray draws one band as shades of grey.
type SingleBandGray struct {
	Band         int
	WhiteToBlack bool
	Range        MinMax
	Opacity      float64
}

// Type implements RasterRenderer.
func (r *SingleBandGray) Type() string { return "singlebandgray" }

// Bands implements RasterRenderer.
func (r *SingleBandGray) Bands() []int { return []int{r.Band} }

// Painter implements RasterRenderer.
func (r *SingleBandGray) Painter(src RasterSource) func(col, row int) color.NRGBA {
	lo, hi := r.Range.resolve(src, r.Band)
	alpha := opacityAlpha(r.Opacity)
	return func(col, row int) color.NRGBA {
		v, ok := src.Value(r.Band, col, row)
		if !ok {
			return color.NRGBA{}
		}
		t := stretch(v, lo, hi)
		if r.WhiteToBlack {
			t = 1 - t
		}
		g := uint8(t * 255)
		return color.NRGBA{g, g, g, alpha}
	}
}

// Legend implements RasterRenderer.
func (r *SingleBandGray) Legend(src RasterSource) []LegendItem {
	lo, hi := r.Range.resolve(src, r.Band)
	ramp := &Ramp{Color1: color.NRGBA{0, 0, 0, 255}, Color2: color.NRGBA{255, 255, 255, 255}}
	if r.WhiteToBlack {
		ramp.Color1, ramp.Color2 = ramp.Color2, ramp.Color1
	}
	return withBand(rampLegend(ramp, lo, hi), r.Band)
}

// ShaderType is the interpolation mode of a colour ramp shader.
type ShaderType int

// These are the shader types.
const (
	Interpolated ShaderType = iota
	Discrete
	Exact
)

func (t ShaderType) String() string {
	switch t {
	case Discrete:
		return "DISCRETE"
	case Exact:
		return "EXACT"
	}
	return "INTERPOLATED"
}

func parseShaderType(s string) ShaderType {
	switch s {
	case "DISCRETE":
		return Discrete
	case "EXACT":
		return Exact
	}
	return Interpolated
}

// ShaderItem is a breakpoint of a colour ramp shader.
type ShaderItem struct {
	Value float64
	Color color.NRGBA
	Label string
}

// Shader maps values to colours through a list of breakpoints sorted by
// value.
//
// Interpolated shaders blend between the neighbouring breakpoints.
// Discrete shaders use the colour of the lowest breakpoint not below the
// value.  Exact shaders only colour values equal to a breakpoint.  With
// Clip set, values outside the breakpoint range are transparent;
// otherwise they take the colour of the nearest end.
type Shader struct {
	Type  ShaderType
	Items []ShaderItem
	Clip  bool
}

// Color returns the colour for a value.
func (s *Shader) Color(v float64) (color.NRGBA, bool) {
	n := len(s.Items)
	if n == 0 || math.IsNaN(v) {
		return color.NRGBA{}, false
	}
	switch s.Type {
	case Exact:
		for _, it := range s.Items {
			if it.Value == v {
				return it.Color, true
			}
		}
		return color.NRGBA{}, false
	case Discrete:
		for _, it := range s.Items {
			if v <= it.Value {
				return it.Color, true
			}
		}
		if s.Clip {
			return color.NRGBA{}, false
		}
		return s.Items[n-1].Color, true
	}

	first, last := s.Items[0], s.Items[n-1]
	if v < first.Value {
		if s.Clip {
			return color.NRGBA{}, false
		}
		return first.Color, true
	}
	if v > last.Value {
		if s.Clip {
			return color.NRGBA{}, false
		}
		return last.Color, true
	}
	for i := 1; i < n; i++ {
		a, b := s.Items[i-1], s.Items[i]
		if v <= b.Value {
			if b.Value == a.Value {
				return b.Color, true
			}
			return Lerp(a.Color, b.Color, (v-a.Value)/(b.Value-a.Value)), true
		}
	}
	return last.Color, true
}

// itemLabel returns the label of breakpoint i, generating one if the
// item has none.
func (s *Shader) itemLabel(i int) string {
	it := s.Items[i]
	if it.Label != "" {
		return it.Label
	}
	if s.Type != Discrete {
		return formatNumber(it.Value)
	}
	switch {
	case i == 0:
		return "<= " + formatNumber(it.Value)
	case math.IsInf(it.Value, 1):
		return "> " + formatNumber(s.Items[i-1].Value)
	}
	return formatNumber(s.Items[i-1].Value) + " - " + formatNumber(it.Value)
}

// SingleBandPseudoColor draws one band through a colour ramp shader.
type SingleBandPseudoColor struct {
	Band    int
	Range   MinMax
	Shader  Shader
	Opacity float64
}

// Type implements RasterRenderer.
func (r *SingleBandPseudoColor) Type() string { return "singlebandpseudocolor" }

// Bands implements RasterRenderer.
func (r *SingleBandPseudoColor) Bands() []int { return []int{r.Band} }

// Painter implements RasterRenderer.
func (r *SingleBandPseudoColor) Painter(src RasterSource) func(col, row int) color.NRGBA {
	alpha := r.Opacity
	if alpha == 0 {
		alpha = 1
	}
	return func(col, row int) color.NRGBA {
		v, ok := src.Value(r.Band, col, row)
		if !ok {
			return color.NRGBA{}
		}
		c, ok := r.Shader.Color(v)
		if !ok {
			return color.NRGBA{}
		}
		c.A = uint8(float64(c.A) * alpha)
		return c
	}
}

// Legend implements RasterRenderer.  Interpolated shaders give five ramp
// entries over the classification range, the other shaders one entry per
// breakpoint.
func (r *SingleBandPseudoColor) Legend(src RasterSource) []LegendItem {
	if r.Shader.Type == Interpolated {
		lo, hi := r.Range.resolve(src, r.Band)
		if !r.Range.Set && len(r.Shader.Items) > 0 {
			lo, hi = r.Shader.Items[0].Value, r.Shader.Items[len(r.Shader.Items)-1].Value
		}
		res := make([]LegendItem, rampSteps)
		for i := range res {
			v := lo + (hi-lo)*float64(i)/(rampSteps-1)
			c, _ := r.Shader.Color(v)
			res[i] = LegendItem{
				Kind:     LegendSwatch,
				Title:    formatNumber(v),
				HasTitle: true,
				Color:    c,
				Index:    i,
				Band:     r.Band,
			}
		}
		return res
	}
	res := make([]LegendItem, len(r.Shader.Items))
	for i, it := range r.Shader.Items {
		res[i] = LegendItem{
			Kind:     LegendSwatch,
			Title:    r.Shader.itemLabel(i),
			HasTitle: true,
			Color:    it.Color,
			Index:    i,
			Band:     r.Band,
		}
	}
	return res
}

// PaletteClass is a value of a paletted raster.
type PaletteClass struct {
	Value float64
	Color color.NRGBA
	Label string
}

// Paletted draws one band by looking up each value in a class table.
// Values without a class are transparent.
type Paletted struct {
	Band    int
	Classes []PaletteClass
	Opacity float64
}

// Type implements RasterRenderer.
func (r *Paletted) Type() string { return "paletted" }

// Bands implements RasterRenderer.
func (r *Paletted) Bands() []int { return []int{r.Band} }

// Painter implements RasterRenderer.
func (r *Paletted) Painter(src RasterSource) func(col, row int) color.NRGBA {
	lut := make(map[float64]color.NRGBA, len(r.Classes))
	for _, c := range r.Classes {
		lut[c.Value] = c.Color
	}
	alpha := r.Opacity
	if alpha == 0 {
		alpha = 1
	}
	return func(col, row int) color.NRGBA {
		v, ok := src.Value(r.Band, col, row)
		if !ok {
			return color.NRGBA{}
		}
		c, ok := lut[v]
		if !ok {
			return color.NRGBA{}
		}
		c.A = uint8(float64(c.A) * alpha)
		return c
	}
}

// Legend implements RasterRenderer.
func (r *Paletted) Legend(RasterSource) []LegendItem {
	res := make([]LegendItem, len(r.Classes))
	for i, c := range r.Classes {
		label := c.Label
		if label == "" {
			label = formatNumber(c.Value)
		}
		res[i] = LegendItem{
			Kind:     LegendSwatch,
			Title:    label,
			HasTitle: true,
			Color:    c.Color,
			Index:    i,
			Band:     r.Band,
		}
	}
	return res
}

// MultiBandColor draws three bands as red, green and blue.  A band number
// of 0 leaves the channel at zero.
type MultiBandColor struct {
	Red, Green, Blue                int
	RedRange, GreenRange, BlueRange MinMax
	Opacity                         float64
}

// Type implements RasterRenderer.
func (r *MultiBandColor) Type() string { return "multibandcolor" }

// Bands implements RasterRenderer.
func (r *MultiBandColor) Bands() []int {
	var res []int
	for _, b := range []int{r.Red, r.Green, r.Blue} {
		if b > 0 {
			res = append(res, b)
		}
	}
	return res
}

// Painter implements RasterRenderer.
func (r *MultiBandColor) Painter(src RasterSource) func(col, row int) color.NRGBA {
	type channel struct {
		band   int
		lo, hi float64
	}
	var ch [3]channel
	for i, b := range []int{r.Red, r.Green, r.Blue} {
		rg := []MinMax{r.RedRange, r.GreenRange, r.BlueRange}[i]
		ch[i].band = b
		ch[i].lo, ch[i].hi = 0, 255
		switch {
		case b <= 0:
		case rg.Set:
			ch[i].lo, ch[i].hi = rg.Min, rg.Max
		default:
			// data beyond 8 bits is stretched over its range
			if lo, hi, ok := src.Stats(b); ok && hi > 255 {
				ch[i].lo, ch[i].hi = lo, hi
			}
		}
	}
	alpha := opacityAlpha(r.Opacity)
	return func(col, row int) color.NRGBA {
		var out [3]uint8
		for i, c := range ch {
			if c.band <= 0 {
				continue
			}
			v, ok := src.Value(c.band, col, row)
			if !ok {
				return color.NRGBA{}
			}
			out[i] = uint8(stretch(v, c.lo, c.hi) * 255)
		}
		return color.NRGBA{out[0], out[1], out[2], alpha}
	}
}

// Legend implements RasterRenderer, with one untitled entry per band in
// the colour of its channel.
func (r *MultiBandColor) Legend(RasterSource) []LegendItem {
	var res []LegendItem
	colors := []color.NRGBA{{255, 0, 0, 255}, {0, 255, 0, 255}, {0, 0, 255, 255}}
	for i, b := range []int{r.Red, r.Green, r.Blue} {
		if b <= 0 {
			continue
		}
		res = append(res, LegendItem{
			Kind:  LegendSwatch,
			Color: colors[i],
			Index: len(res),
			Band:  b,
		})
	}
	return res
}

func opacityAlpha(op float64) uint8 {
	if op <= 0 || op > 1 {
		return 255
	}
	return uint8(op * 255)
}

// rampSteps is the number of legend entries for a continuous ramp.
const rampSteps = 5

// rampLegend returns evenly spaced swatches of a ramp between lo and hi.
func rampLegend(ramp *Ramp, lo, hi float64) []LegendItem {
	res := make([]LegendItem, rampSteps)
	for i := range res {
		t := float64(i) / (rampSteps - 1)
		res[i] = LegendItem{
			Kind:     LegendSwatch,
			Title:    formatNumber(lo + (hi-lo)*t),
			HasTitle: true,
			Color:    ramp.At(t),
			Index:    i,
		}
	}
	return res
}

func withBand(items []LegendItem, band int) []LegendItem {
	for i := range items {
		items[i].Band = band
	}
	return items
}

// formatNumber prints a value with up to six significant digits.
func formatNumber(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// DefaultRasterRenderer picks a renderer for a raster without a style:
// paletted sources get a class per palette entry in random colours, three
// or more bands are drawn as RGB, and single bands in grey.
func DefaultRasterRenderer(src RasterSource) RasterRenderer {
	if pal := src.Palette(); len(pal) > 0 {
		colors := RandomColors(len(pal), uint64(len(pal)))
		classes := make([]PaletteClass, len(pal))
		for i := range pal {
			classes[i] = PaletteClass{Value: float64(i), Color: colors[i], Label: strconv.Itoa(i)}
		}
		return &Paletted{Band: 1, Classes: classes, Opacity: 1}
	}
	if src.BandCount() >= 3 {
		return &MultiBandColor{Red: 1, Green: 2, Blue: 3, Opacity: 1}
	}
	return &SingleBandGray{Band: 1, Opacity: 1}
}
