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

// Package style reads, writes and evaluates layer styles.
//
// A style is read from a QML or SLD document, or created with defaults.
// It decides which symbols each feature of a vector layer is drawn with,
// how raster values are coloured, which labels and diagrams are drawn,
// and what the layer legend shows.
package style

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"strings"

	"seehuhn.de/go/maprender/expr"
	"seehuhn.de/go/maprender/layer"
)

var (
	// ErrValidation is matched by errors for documents which cannot be
	// read as a style.
	ErrValidation = errors.New("invalid style")

	// ErrTypeMismatch is matched by errors for styles used with the wrong
	// kind of layer or geometry.
	ErrTypeMismatch = errors.New("style type mismatch")

	// ErrNoClass is returned by Match for a feature which falls into none
	// of the classes of a categorized or graduated renderer.  Classes
	// which are switched off do not cause this error.
	ErrNoClass = errors.New("no matching class")
)

// ValidationError reports a document which cannot be read.
type ValidationError struct {
	Format Format
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "invalid " + e.Format.String() + " style: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrValidation) succeed.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TypeMismatchError reports a style which does not fit a layer.
type TypeMismatchError struct {
	Reason string
}

func (e *TypeMismatchError) Error() string {
	return "style type mismatch: " + e.Reason
}

// Is makes errors.Is succeed for both ErrTypeMismatch and ErrValidation.
func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch || target == ErrValidation
}

// Format is a style document dialect.
type Format int

// These are the supported formats.  FormatAuto detects the format from
// the document.
const (
	FormatAuto Format = iota
	FormatQML
	FormatSLD
)

func (f Format) String() string {
	switch f {
	case FormatQML:
		return "QML"
	case FormatSLD:
		return "SLD"
	}
	return "auto"
}

// ParseFormat reads a format name ("qml", "sld" or "auto").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return FormatAuto, nil
	case "qml":
		return FormatQML, nil
	case "sld":
		return FormatSLD, nil
	}
	return 0, fmt.Errorf("unknown style format %q", s)
}

// LayerType says which kind of layer a style is for.
type LayerType int

// These are the layer types.  LayerUnknown styles adapt to the layer
// they are used with.
const (
	LayerUnknown LayerType = iota
	LayerVector
	LayerRaster
)

func (t LayerType) String() string {
	switch t {
	case LayerVector:
		return "vector"
	case LayerRaster:
		return "raster"
	}
	return "unknown"
}

// LayerTypeOf returns the style layer type for a layer kind.
func LayerTypeOf(k layer.Kind) LayerType {
	if k == layer.KindRaster {
		return LayerRaster
	}
	return LayerVector
}

// OrderClause is one key of the feature drawing order.
type OrderClause struct {
	Expr       *expr.Expr
	Ascending  bool
	NullsFirst bool
}

// Style is a parsed style document.
type Style struct {
	Type         LayerType
	GeometryType layer.GeometryKind

	Renderer Renderer
	Labeling *Labeling
	Diagram  *Diagram
	Raster   RasterRenderer

	OrderBy        []OrderClause
	OrderByEnabled bool

	ScaleBased bool
	MinScale   float64 // most zoomed-out scale denominator, 0 for none
	MaxScale   float64 // most zoomed-in scale denominator, 0 for none
	Opacity    float64

	// geometryInferred is set when GeometryType was guessed from the
	// symbolizers of an SLD document.
	geometryInferred bool

	isDefault    bool
	defaultColor *color.NRGBA
}

// ParseOptions control reading a style document.  The zero value detects
// the format and accepts any layer type.
type ParseOptions struct {
	Format       Format
	LayerType    LayerType
	GeometryType layer.GeometryKind

	// Resolver, if set, rewrites every local SVG reference in the
	// document.
	Resolver func(path string) string
}

// FromString reads a style document.
func FromString(content string, opts *ParseOptions) (*Style, error) {
	if opts == nil {
		opts = &ParseOptions{}
	}
	data := []byte(content)
	format := opts.Format
	if format == FormatAuto {
		switch rootName(data) {
		case "qgis":
			format = FormatQML
		case "StyledLayerDescriptor":
			format = FormatSLD
		default:
			if strings.TrimSpace(content) == "" {
				return nil, &ValidationError{Format: FormatAuto, Reason: "empty document"}
			}
			return nil, &ValidationError{Format: FormatAuto, Reason: "not a QML or SLD document"}
		}
	}

	var s *Style
	var err error
	switch format {
	case FormatQML:
		s, err = readQML(data, opts)
	case FormatSLD:
		if opts.LayerType == LayerRaster {
			return nil, &TypeMismatchError{Reason: "raster layers do not support SLD styles"}
		}
		s, err = readSLD(data)
	default:
		return nil, &ValidationError{Format: format, Reason: "unsupported format"}
	}
	if err != nil {
		return nil, err
	}

	if err := s.checkHint(opts); err != nil {
		return nil, err
	}
	if opts.Resolver != nil {
		s.resolveSVG(opts.Resolver)
	}
	return s, nil
}

// FromFile reads a style document from a file.  The format is taken from
// the options, or else from the file extension, or else from the content.
func FromFile(path string, opts *ParseOptions) (*Style, error) {
	o := ParseOptions{}
	if opts != nil {
		o = *opts
	}
	if o.Format == FormatAuto {
		switch strings.ToLower(path[strings.LastIndex(path, ".")+1:]) {
		case "qml":
			o.Format = FormatQML
		case "sld":
			o.Format = FormatSLD
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ValidationError{Format: o.Format, Reason: "cannot read file", Err: err}
	}
	return FromString(string(data), &o)
}

// checkHint compares the style with the layer and geometry type the
// caller expects.
func (s *Style) checkHint(opts *ParseOptions) error {
	if opts.LayerType != LayerUnknown && s.Type != LayerUnknown && opts.LayerType != s.Type {
		return &TypeMismatchError{
			Reason: fmt.Sprintf("%s style for a %s layer", s.Type, opts.LayerType),
		}
	}
	if opts.GeometryType != layer.KindUnknown && s.GeometryType != layer.KindUnknown &&
		opts.GeometryType != s.GeometryType {
		return &TypeMismatchError{
			Reason: fmt.Sprintf("%s style for a %s layer", s.GeometryType, opts.GeometryType),
		}
	}
	return nil
}

// CheckSource verifies that the style can draw a layer.
func (s *Style) CheckSource(src layer.Source) error {
	lt := LayerTypeOf(src.Kind())
	if s.Type != LayerUnknown && s.Type != lt {
		return &TypeMismatchError{
			Reason: fmt.Sprintf("%s style for %s layer %q", s.Type, lt, src.Name()),
		}
	}
	v, ok := src.(*layer.Vector)
	if !ok || s.geometryInferred || s.GeometryType == layer.KindUnknown {
		return nil
	}
	k := v.GeometryType().Kind()
	if k == layer.KindUnknown || k == layer.KindNull {
		return nil
	}
	if k != s.GeometryType {
		return &TypeMismatchError{
			Reason: fmt.Sprintf("%s style for %s layer %q", s.GeometryType, k, src.Name()),
		}
	}
	return nil
}

// resolveSVG rewrites local SVG references.  Remote and inline references
// are kept.
func (s *Style) resolveSVG(resolve func(string) string) {
	for _, sym := range s.symbols() {
		sym.svgRefs(func(l *SymbolLayer, key string) {
			ref := l.Props[key]
			if ref == "" || isRemoteRef(ref) {
				return
			}
			l.Props[key] = resolve(ref)
		})
	}
}

func isRemoteRef(ref string) bool {
	lower := strings.ToLower(ref)
	for _, p := range []string{"http://", "https://", "data:", "base64:"} {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func (s *Style) symbols() []*Symbol {
	if s.Renderer == nil {
		return nil
	}
	return s.Renderer.Symbols()
}

// FromDefaults creates the style a layer gets when no style is given.
// Vector layers are drawn with a single symbol of the given colour, or
// of a fixed colour if c is nil.  Raster renderers are chosen when the
// style is bound to a layer, see DefaultRasterRenderer.
func FromDefaults(lt LayerType, gk layer.GeometryKind, c *color.NRGBA) *Style {
	s := &Style{
		Type:         lt,
		GeometryType: gk,
		Opacity:      1,
		isDefault:    true,
		defaultColor: c,
	}
	if lt == LayerVector && gk != layer.KindUnknown && gk != layer.KindNull {
		col := color.NRGBA{R: 190, G: 178, B: 151, A: 255}
		if c != nil {
			col = *c
		}
		s.Renderer = &SingleSymbol{Symbol: NewSymbol(symbolTypeFor(gk), col)}
	}
	return s
}

// IsDefault reports whether the style was made by FromDefaults.
func (s *Style) IsDefault() bool {
	return s.isDefault
}

// DefaultColor returns the colour passed to FromDefaults.
func (s *Style) DefaultColor() *color.NRGBA {
	return s.defaultColor
}

// ForSource returns the style to use for drawing src.  Default styles are
// specialised to the layer and geometry type of the source; other styles
// are returned unchanged.
func (s *Style) ForSource(src layer.Source) *Style {
	if !s.isDefault {
		return s
	}
	switch src := src.(type) {
	case *layer.Vector:
		return FromDefaults(LayerVector, src.GeometryType().Kind(), s.defaultColor)
	case *layer.Raster:
		r := FromDefaults(LayerRaster, layer.KindUnknown, s.defaultColor)
		r.Raster = DefaultRasterRenderer(src)
		return r
	}
	return s
}

// ScaleRange returns the scale denominators between which the layer is
// visible.  A nil bound is open.
func (s *Style) ScaleRange() (minScale, maxScale *float64) {
	if !s.ScaleBased {
		return nil, nil
	}
	if s.MinScale > 0 {
		v := s.MinScale
		minScale = &v
	}
	if s.MaxScale > 0 {
		v := s.MaxScale
		maxScale = &v
	}
	return minScale, maxScale
}

// VisibleAt reports whether the layer is drawn at a scale denominator.
func (s *Style) VisibleAt(scale float64) bool {
	if !s.ScaleBased || scale <= 0 {
		return true
	}
	if s.MinScale > 0 && scale > s.MinScale {
		return false
	}
	if s.MaxScale > 0 && scale < s.MaxScale {
		return false
	}
	return true
}

// AttributeState says what is known about the attributes a style reads.
type AttributeState int

// These are the possible states.
const (
	// AttributesUnknown means the style may read any attribute.
	AttributesUnknown AttributeState = iota

	// AttributesKnown means the style reads exactly the listed
	// attributes.  The list may be empty.
	AttributesKnown

	// AttributesNotApplicable is used for raster styles, which draw
	// cell values instead of feature attributes.
	AttributesNotApplicable
)

func (s AttributeState) String() string {
	switch s {
	case AttributesKnown:
		return "known"
	case AttributesNotApplicable:
		return "not applicable"
	}
	return "unknown"
}

// Attributes is the set of feature attributes a style reads.  Names is
// only set in the AttributesKnown state.
type Attributes struct {
	State AttributeState
	Names []string
}

// Known reports whether Names lists all attributes the style reads.
func (a Attributes) Known() bool {
	return a.State == AttributesKnown
}

// UsedAttributes returns the attributes read by the renderer, labels,
// diagrams and drawing order.
func (s *Style) UsedAttributes() Attributes {
	if s.Type == LayerRaster {
		return Attributes{State: AttributesNotApplicable}
	}
	var cols expr.Columns
	if s.Renderer != nil {
		cols = cols.Merge(s.Renderer.columns())
	}
	cols = cols.Merge(s.Labeling.columns())
	cols = cols.Merge(s.Diagram.columns())
	if s.OrderByEnabled {
		for _, o := range s.OrderBy {
			cols = cols.Merge(o.Expr.Columns())
		}
	}
	if cols.Unknown {
		return Attributes{}
	}
	names := cols.Names
	if names == nil {
		names = []string{}
	}
	return Attributes{State: AttributesKnown, Names: names}
}

// Match returns the symbols for a feature.  Features outside all classes
// of the renderer give ErrNoClass.
func (s *Style) Match(env *expr.Env, scale float64) ([]Match, error) {
	if s.Renderer == nil {
		return nil, nil
	}
	return s.Renderer.Match(env, scale)
}

// Legend returns the legend entries of the style.  src is used by raster
// renderers whose value range comes from the data and may be nil.
func (s *Style) Legend(src RasterSource) []LegendItem {
	if s.Type == LayerRaster || s.Raster != nil {
		if s.Raster == nil {
			return nil
		}
		return s.Raster.Legend(src)
	}
	var res []LegendItem
	if s.Renderer != nil {
		res = s.Renderer.Legend()
	}
	return append(res, s.Diagram.LegendItems(len(res))...)
}

// ToString writes the style in the given format.  FormatAuto writes QML.
func (s *Style) ToString(f Format) (string, error) {
	switch f {
	case FormatAuto, FormatQML:
		return writeQML(s)
	case FormatSLD:
		if s.Type == LayerRaster {
			return "", &TypeMismatchError{Reason: "raster layers do not support SLD styles"}
		}
		return writeSLD(s)
	}
	return "", fmt.Errorf("unknown style format %d", f)
}
