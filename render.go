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
	"errors"
	"image"
	"image/color"
	"maps"
	"math"
	"slices"

	"github.com/paulmach/orb"

	"seehuhn.de/go/geom/matrix"

	"seehuhn.de/go/maprender/crs"
	"seehuhn.de/go/maprender/expr"
	"seehuhn.de/go/maprender/layer"
	"seehuhn.de/go/maprender/raster"
	"seehuhn.de/go/maprender/style"
)

// queryBuffer is the margin, in pixels, by which the feature query
// exceeds the view.  Symbols of features just outside the view may
// reach into it.
const queryBuffer = 32

// Image is a rendered map.
type Image struct {
	*image.NRGBA

	// Diagnostics lists the features which could not be drawn.
	Diagnostics []Diagnostic
}

// RenderOption modifies a single call of RenderImage or ExportPDF.
type RenderOption func(*renderOptions)

type renderOptions struct {
	// symbols restricts layers to some of their legend entries.
	// Layers without an entry are drawn completely.
	symbols map[int][]int
}

// WithSymbols draws only the features of the given layer which are
// drawn by one of the listed legend entries.  Raster and heatmap layers
// are drawn completely unless the list is empty.
func WithSymbols(layerIndex int, indices ...int) RenderOption {
	return func(o *renderOptions) {
		if o.symbols == nil {
			o.symbols = map[int][]int{}
		}
		o.symbols[layerIndex] = append([]int{}, indices...)
	}
}

// WithNoSymbols omits the given layer.
func WithNoSymbols(layerIndex int) RenderOption {
	return WithSymbols(layerIndex)
}

// RenderImage draws all layers for the given extent, in the CRS of the
// request, into an image of the given size.  The extent is widened
// along one axis if needed, so that pixels are square.
func (r *MapRequest) RenderImage(extent orb.Bound, size Size, opts ...RenderOption) (*Image, error) {
	pass, err := r.newPass("render image", extent, size, opts)
	if err != nil {
		return nil, err
	}
	c := raster.NewCanvas(size.Width, size.Height)
	if r.background.A > 0 {
		c.Clear(r.background)
	}
	pass.canvas = c
	pass.run(c)
	return &Image{NRGBA: c.NRGBA(), Diagnostics: pass.diags}, nil
}

// renderPass holds the state of one call of RenderImage or ExportPDF.
type renderPass struct {
	req  *MapRequest
	view *view
	opts renderOptions

	// canvas is set when drawing to an image.  Translucent layers are
	// then composited through an offscreen canvas.
	canvas *raster.Canvas

	diags    []Diagnostic
	diagrams []pendingDiagram
	labels   []pendingLabel
}

func (r *MapRequest) newPass(op string, extent orb.Bound, size Size, opts []RenderOption) (*renderPass, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, engineErrorf(op, "invalid image size %dx%d", size.Width, size.Height)
	}
	if !validExtent(extent) {
		return nil, engineErrorf(op, "invalid extent %v", extent)
	}
	p := &renderPass{
		req:  r,
		view: newView(r.crs, extent, size, r.dpi),
	}
	for _, opt := range opts {
		opt(&p.opts)
	}
	for _, i := range slices.Sorted(maps.Keys(p.opts.symbols)) {
		b, err := r.layer(op, i)
		if err != nil {
			return nil, err
		}
		n := len(b.style.Legend(rasterSource(b.src)))
		for _, k := range p.opts.symbols[i] {
			if k < 0 || k >= n {
				return nil, engineErrorf(op, "layer %d: symbol index %d out of range [0, %d)", i, k, n)
			}
		}
	}
	return p, nil
}

func validExtent(b orb.Bound) bool {
	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if b.Max[0] < b.Min[0] || b.Max[1] < b.Min[1] {
		return false
	}
	return b.Max[0] > b.Min[0] || b.Max[1] > b.Min[1]
}

// rasterSource returns src as a style.RasterSource, or nil for vector
// sources.
func rasterSource(src layer.Source) style.RasterSource {
	if r, ok := src.(*layer.Raster); ok {
		return r
	}
	return nil
}

// run draws all layers to surf, followed by the diagrams and labels
// collected on the way.
func (p *renderPass) run(surf surface) {
	scale := p.view.scale()
	for i, b := range p.req.layers {
		if !b.style.VisibleAt(scale) {
			continue
		}
		filter, filtered := p.opts.symbols[i]
		if filtered && len(filter) == 0 {
			continue
		}

		target := surf
		var off *raster.Canvas
		if p.canvas != nil && b.style.Opacity < 1 {
			off = raster.NewCanvas(p.view.width, p.view.height)
			target = off
		}
		switch src := b.src.(type) {
		case *layer.Vector:
			p.drawVector(i, b, src, target)
		case *layer.Raster:
			p.drawRaster(i, b, src, target)
		}
		if off != nil {
			p.canvas.DrawImage(off.Img, matrix.Identity, max(b.style.Opacity, 0))
		}
	}

	pt := p.painter(surf)
	for _, d := range p.diagrams {
		pt.drawDiagram(d)
	}
	p.drawLabels(surf)
}

func (p *renderPass) painter(surf surface) *painter {
	return &painter{surf: surf, view: p.view, svg: p.req.svg, logger: p.req.logger}
}

// skip records a feature which is not drawn.  fid -1 stands for the
// whole layer.
func (p *renderPass) skip(layerIndex int, fid int64, reason string) {
	p.diags = append(p.diags, Diagnostic{Layer: layerIndex, FID: fid, Reason: reason})
	if fid < 0 {
		p.req.logger.Warn("layer skipped", "layer", layerIndex, "reason", reason)
	} else {
		p.req.logger.Debug("feature skipped", "layer", layerIndex, "fid", fid, "reason", reason)
	}
}

// drawOp is one symbol to be drawn on one feature.
type drawOp struct {
	sym   *style.Symbol
	index int
	geom  orb.Geometry
	env   *expr.Env
}

func (p *renderPass) drawVector(i int, b *binding, src *layer.Vector, surf surface) {
	st := b.style
	fwd, err := crs.NewTransformer(src.CRS(), p.view.crs)
	if err != nil {
		p.skip(i, -1, err.Error())
		return
	}
	inv, err := crs.NewTransformer(p.view.crs, src.CRS())
	if err != nil {
		p.skip(i, -1, err.Error())
		return
	}
	features := src.Query(inv.Bound(p.view.buffered(queryBuffer)))
	if len(features) == 0 {
		return
	}

	vars := p.view.vars()
	vars["layer_name"] = src.Name()
	if st.OrderByEnabled && len(st.OrderBy) > 0 {
		features = orderFeatures(features, st.OrderBy, vars)
	}

	toPixel := func(pt orb.Point) orb.Point {
		return p.view.pixel(fwd.Point(pt))
	}
	if hm, ok := st.Renderer.(*style.Heatmap); ok {
		p.drawHeatmap(i, hm, features, vars, toPixel, surf)
		return
	}

	filter, filtered := p.opts.symbols[i]
	scale := p.view.scale()
	showDiagram := func() bool { return false }
	if d := st.Diagram; d != nil && d.Enabled {
		first := 0
		if st.Renderer != nil {
			first = len(st.Renderer.Legend())
		}
		showDiagram = func() bool {
			if !filtered || !d.Legend {
				return true
			}
			return slices.ContainsFunc(filter, func(k int) bool {
				return k >= first && k <= first+len(d.Attributes)
			})
		}
	}

	var ops []drawOp
	for _, f := range features {
		g, err := f.Geometry()
		if err != nil {
			p.skip(i, f.FID, err.Error())
			continue
		}
		if g == nil {
			continue
		}
		env := &expr.Env{Feature: f, FID: f.FID, Geometry: g, Vars: vars}
		matches, err := st.Match(env, scale)
		unclassified := errors.Is(err, style.ErrNoClass)
		if unclassified {
			p.skip(i, f.FID, err.Error())
		} else if err != nil {
			p.skip(i, f.FID, err.Error())
			continue
		}
		px := toPixels(g, toPixel)
		if !finiteBound(px.Bound()) {
			p.skip(i, f.FID, "geometry cannot be transformed to "+p.view.crs.AuthID())
			continue
		}

		drawn := !filtered && !unclassified
		for _, m := range matches {
			if filtered && !slices.Contains(filter, m.Index) {
				continue
			}
			ops = append(ops, drawOp{sym: m.Symbol, index: m.Index, geom: px, env: env})
			drawn = true
		}
		if showDiagram() {
			if d, ok := p.prepareDiagram(i, st.Diagram, f.FID, px, env); ok {
				p.diagrams = append(p.diagrams, d)
			}
		}
		if drawn && st.Labeling != nil {
			p.collectLabels(i, st.Labeling, f.FID, px, env, scale)
		}
	}

	if _, ok := st.Renderer.(*style.RuleBased); ok {
		slices.SortStableFunc(ops, func(a, b drawOp) int { return a.index - b.index })
	}
	pt := p.painter(surf)
	for _, op := range ops {
		pt.drawSymbol(op.sym, op.geom, op.env)
	}
}

func finiteBound(b orb.Bound) bool {
	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// orderFeatures sorts features by the order-by clauses.  Features which
// compare equal keep their source order.
func orderFeatures(features []*layer.Feature, clauses []style.OrderClause, vars map[string]any) []*layer.Feature {
	type keyed struct {
		f    *layer.Feature
		keys []any
	}
	items := make([]keyed, len(features))
	for i, f := range features {
		g, _ := f.Geometry()
		env := &expr.Env{Feature: f, FID: f.FID, Geometry: g, Vars: vars}
		keys := make([]any, len(clauses))
		for j, c := range clauses {
			if c.Expr == nil {
				continue
			}
			if v, err := c.Expr.Eval(env); err == nil {
				keys[j] = v
			}
		}
		items[i] = keyed{f: f, keys: keys}
	}
	slices.SortStableFunc(items, func(a, b keyed) int {
		for j, c := range clauses {
			ka, kb := a.keys[j], b.keys[j]
			var res int
			switch {
			case ka == nil && kb == nil:
				continue
			case ka == nil:
				res = 1
				if c.NullsFirst {
					res = -1
				}
				return res
			case kb == nil:
				res = -1
				if c.NullsFirst {
					res = 1
				}
				return res
			}
			res = expr.Compare(ka, kb)
			if !c.Ascending {
				res = -res
			}
			if res != 0 {
				return res
			}
		}
		return 0
	})
	res := make([]*layer.Feature, len(items))
	for i, it := range items {
		res[i] = it.f
	}
	return res
}

// drawRaster resamples the raster into the view, one source pixel
// lookup per output pixel.
func (p *renderPass) drawRaster(i int, b *binding, src *layer.Raster, surf surface) {
	rr := b.style.Raster
	if rr == nil {
		rr = style.DefaultRasterRenderer(src)
	}
	fwd, err := crs.NewTransformer(src.CRS(), p.view.crs)
	if err != nil {
		p.skip(i, -1, err.Error())
		return
	}
	if !fwd.Bound(src.Extent()).Intersects(p.view.extent) {
		return
	}
	inv, err := crs.NewTransformer(p.view.crs, src.CRS())
	if err != nil {
		p.skip(i, -1, err.Error())
		return
	}
	gt, ok := src.Transform().Invert()
	if !ok {
		p.skip(i, -1, "raster has a singular geotransform")
		return
	}

	paint := rr.Painter(src)
	w, h := p.view.width, p.view.height
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	painted := false
	for y := range h {
		for x := range w {
			q := inv.Point(p.view.ground(float64(x)+0.5, float64(y)+0.5))
			cr := gt.Apply(q[0], q[1])
			col, row := math.Floor(cr[0]), math.Floor(cr[1])
			if !(col >= 0 && row >= 0 && col < float64(src.Width()) && row < float64(src.Height())) {
				continue
			}
			c := paint(int(col), int(row))
			if c.A == 0 {
				continue
			}
			img.SetNRGBA(x, y, c)
			painted = true
		}
	}
	if painted {
		surf.DrawImage(img, matrix.Identity, 1)
	}
}

// drawHeatmap accumulates a quartic kernel around every point and
// colours the result with the ramp of the renderer.
func (p *renderPass) drawHeatmap(i int, hm *style.Heatmap, features []*layer.Feature, vars map[string]any, toPixel func(orb.Point) orb.Point, surf surface) {
	radius := p.view.toPixels(hm.Radius, hm.RadiusUnit)
	if radius <= 0 {
		p.skip(i, -1, "heatmap radius must be positive")
		return
	}
	weight, err := hm.WeightExpr()
	if err != nil {
		p.skip(i, -1, err.Error())
		return
	}

	w, h := p.view.width, p.view.height
	density := make([]float64, w*h)
	for _, f := range features {
		g, err := f.Geometry()
		if err != nil {
			p.skip(i, f.FID, err.Error())
			continue
		}
		if g == nil {
			continue
		}
		wt := 1.0
		if weight != nil {
			env := &expr.Env{Feature: f, FID: f.FID, Geometry: g, Vars: vars}
			v, err := weight.Eval(env)
			if err != nil {
				p.skip(i, f.FID, err.Error())
				continue
			}
			x, ok := expr.ToFloat(v)
			if !ok {
				continue
			}
			wt = x
		}
		for _, pt := range markerPoints(toPixels(g, toPixel)) {
			addKernel(density, w, h, pt, radius, wt)
		}
	}

	hi := hm.MaxValue
	if hi <= 0 {
		for _, v := range density {
			hi = max(hi, v)
		}
	}
	if hi <= 0 {
		return
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for k, v := range density {
		if v <= 0 {
			continue
		}
		img.SetNRGBA(k%w, k/w, hm.ColorAt(min(v/hi, 1)))
	}
	surf.DrawImage(img, matrix.Identity, 1)
}

func addKernel(density []float64, w, h int, pt orb.Point, radius, weight float64) {
	x0 := max(int(math.Floor(pt[0]-radius)), 0)
	x1 := min(int(math.Ceil(pt[0]+radius)), w-1)
	y0 := max(int(math.Floor(pt[1]-radius)), 0)
	y1 := min(int(math.Ceil(pt[1]+radius)), h-1)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			dx, dy := float64(x)+0.5-pt[0], float64(y)+0.5-pt[1]
			d2 := (dx*dx + dy*dy) / (radius * radius)
			if d2 >= 1 {
				continue
			}
			k := 1 - d2
			density[y*w+x] += weight * k * k
		}
	}
}

// solidRect fills a pixel rectangle.
func solidRect(surf surface, b orb.Bound, c color.NRGBA) {
	ring := orb.Ring{
		{b.Min[0], b.Min[1]}, {b.Max[0], b.Min[1]},
		{b.Max[0], b.Max[1]}, {b.Min[0], b.Max[1]}, {b.Min[0], b.Min[1]},
	}
	surf.Fill(polygonPath(orb.Polygon{ring}), raster.Solid(c), raster.NonZero)
}
