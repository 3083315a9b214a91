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
	"fmt"
	"image/color"
	"log/slog"

	"github.com/paulmach/orb"

	"seehuhn.de/go/maprender/crs"
	"seehuhn.de/go/maprender/layer"
	"seehuhn.de/go/maprender/project"
	"seehuhn.de/go/maprender/style"
	"seehuhn.de/go/maprender/svgcache"
)

// DefaultDPI is the resolution of a new MapRequest.
const DefaultDPI = 96

// MapRequest is an ordered list of styled layers together with the
// parameters for drawing them.
//
// A MapRequest must not be modified while it is rendering.  Sources and
// styles are not copied and must stay unchanged while they are in use.
type MapRequest struct {
	crs        *crs.CRS
	dpi        float64
	background color.NRGBA
	logger     *slog.Logger
	svg        *svgcache.Context
	legend     LegendOptions

	layers []*binding
}

// binding is a source together with the style used to draw it.
type binding struct {
	src      layer.Source
	style    *style.Style
	label    string
	hasLabel bool
}

// New returns a request for EPSG:3857 at 96 DPI with a transparent
// background.
func New() *MapRequest {
	return &MapRequest{
		crs:    crs.MustEPSG(3857),
		dpi:    DefaultDPI,
		logger: slog.Default(),
		svg:    svgcache.Default,
		legend: DefaultLegendOptions(),
	}
}

// LayerOption modifies a layer added with AddLayer.
type LayerOption func(*binding)

// WithLabel sets the legend title of a layer.
func WithLabel(label string) LayerOption {
	return func(b *binding) {
		b.label = label
		b.hasLabel = true
	}
}

// AddLayer appends a layer on top of the existing ones.  It fails with
// ErrStyleTypeMismatch if the style cannot draw the source.  Default
// styles are specialised to the source.
func (r *MapRequest) AddLayer(src layer.Source, st *style.Style, opts ...LayerOption) error {
	if src == nil {
		return fmt.Errorf("add layer: %w", &layer.SourceError{Reason: "no source"})
	}
	if st == nil {
		st = style.FromDefaults(style.LayerUnknown, layer.KindUnknown, nil)
	}
	st = st.ForSource(src)
	if err := st.CheckSource(src); err != nil {
		return err
	}
	b := &binding{src: src, style: st}
	for _, opt := range opts {
		opt(b)
	}
	r.layers = append(r.layers, b)
	return nil
}

// AddProject appends all layers of a project, keeping their order.  The
// layers are labelled with their project names.
func (r *MapRequest) AddProject(p *project.Project) error {
	var bs []*binding
	for _, l := range p.Layers {
		st := l.Style.ForSource(l.Source)
		if err := st.CheckSource(l.Source); err != nil {
			return fmt.Errorf("project %q: %w", p.Path, err)
		}
		bs = append(bs, &binding{src: l.Source, style: st, label: l.Label, hasLabel: l.Label != ""})
	}
	r.layers = append(r.layers, bs...)
	return nil
}

// NumLayers returns the number of layers.
func (r *MapRequest) NumLayers() int {
	return len(r.layers)
}

// SetCRS sets the CRS of the output.  A nil CRS is ignored.
func (r *MapRequest) SetCRS(c *crs.CRS) {
	if c != nil {
		r.crs = c
	}
}

// CRS returns the CRS of the output.
func (r *MapRequest) CRS() *crs.CRS {
	return r.crs
}

// SetDPI sets the output resolution, which converts symbol sizes given
// in physical units to pixels.
func (r *MapRequest) SetDPI(dpi float64) {
	if dpi > 0 {
		r.dpi = dpi
	}
}

// DPI returns the output resolution.
func (r *MapRequest) DPI() float64 {
	return r.dpi
}

// SetBackground sets the colour the image is cleared to.
func (r *MapRequest) SetBackground(c color.NRGBA) {
	r.background = c
}

// SetLogger sets the logger for skipped features and unresolved
// resources.  A nil logger restores slog.Default().
func (r *MapRequest) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	r.logger = l
}

// SetSVGContext replaces the process-wide SVG marker cache for this
// request.
func (r *MapRequest) SetSVGContext(c *svgcache.Context) {
	if c == nil {
		c = svgcache.Default
	}
	r.svg = c
}

func (r *MapRequest) layer(op string, i int) (*binding, error) {
	if i < 0 || i >= len(r.layers) {
		return nil, engineErrorf(op, "layer index %d out of range [0, %d)", i, len(r.layers))
	}
	return r.layers[i], nil
}

// FullExtent returns the union of all layer extents in the output CRS.
// Layers which cannot be transformed are left out.
func (r *MapRequest) FullExtent() (orb.Bound, bool) {
	var res orb.Bound
	found := false
	for _, b := range r.layers {
		t, err := crs.NewTransformer(b.src.CRS(), r.crs)
		if err != nil {
			continue
		}
		e := t.Bound(b.src.Extent())
		if !finiteBound(e) {
			continue
		}
		if found {
			res = res.Union(e)
		} else {
			res = e
			found = true
		}
	}
	return res, found
}
