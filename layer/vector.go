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

package layer

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"seehuhn.de/go/maprender/crs"
)

// Feature is one row of a vector source.
//
// The geometry is stored as WKB and decoded on first use.  A malformed
// blob is accepted when the feature is created, and reported by
// Geometry.
type Feature struct {
	FID int64
	WKB []byte

	attrs  []any
	schema Schema

	once sync.Once
	geom orb.Geometry
	err  error
}

// Attribute returns the value of the named attribute.  The second
// result is false if the schema has no such field.
func (f *Feature) Attribute(name string) (any, bool) {
	i := f.schema.Index(name)
	if i < 0 {
		return nil, false
	}
	return f.attrs[i], true
}

// AttributeNames returns the field names in schema order.
func (f *Feature) AttributeNames() []string {
	return f.schema.Names()
}

// Attributes returns the attribute values in schema order.
func (f *Feature) Attributes() []any {
	return slices.Clone(f.attrs)
}

// Geometry decodes the WKB blob.  A feature without geometry gives
// (nil, nil).
func (f *Feature) Geometry() (orb.Geometry, error) {
	f.once.Do(func() {
		f.geom, f.err = decodeWKB(f.WKB)
		if f.err != nil {
			f.err = fmt.Errorf("feature %d: malformed geometry: %w", f.FID, f.err)
		}
	})
	return f.geom, f.err
}

// Row is the input form of a feature for FromData.
type Row struct {
	FID   int64
	WKB   []byte
	Attrs []any
}

// Vector is a collection of features sharing a geometry type and a
// schema.
type Vector struct {
	name     string
	path     string
	geomType GeometryType
	crs      *crs.CRS
	schema   Schema
	features []*Feature

	indexOnce sync.Once
	index     *rtreego.Rtree
	broken    []int // features whose geometry does not decode
	extent    orb.Bound
}

// FromData builds an in-memory vector source.  Every attribute is checked
// against its field type; geometry blobs are not checked until they are
// used.
func FromData(name string, geomType GeometryType, c *crs.CRS, fields []Field, rows []Row) (*Vector, error) {
	if c == nil {
		return nil, &SourceError{Path: name, Reason: "missing CRS"}
	}
	schema := slices.Clone(Schema(fields))
	v := &Vector{
		name:     name,
		geomType: geomType,
		crs:      c,
		schema:   schema,
		features: make([]*Feature, 0, len(rows)),
	}
	for i, row := range rows {
		if len(row.Attrs) != len(schema) {
			return nil, fmt.Errorf("row %d: %d attributes for %d fields: %w",
				i, len(row.Attrs), len(schema), ErrFieldType)
		}
		attrs := make([]any, len(schema))
		for j, val := range row.Attrs {
			cv, ok := coerce(schema[j].Type, val)
			if !ok {
				return nil, &FieldError{Row: i, Field: schema[j].Name, Want: schema[j].Type, Value: val}
			}
			attrs[j] = cv
		}
		v.features = append(v.features, &Feature{
			FID:    row.FID,
			WKB:    slices.Clone(row.WKB),
			attrs:  attrs,
			schema: schema,
		})
	}
	return v, nil
}

// Kind returns KindVector.
func (v *Vector) Kind() Kind { return KindVector }

// Name returns the layer name.
func (v *Vector) Name() string { return v.name }

// Path returns the file the source was read from, or "" for in-memory
// sources.
func (v *Vector) Path() string { return v.path }

// CRS returns the coordinate reference system of the geometries.
func (v *Vector) CRS() *crs.CRS { return v.crs }

// GeometryType returns the declared geometry type.
func (v *Vector) GeometryType() GeometryType { return v.geomType }

// Schema returns the field list.
func (v *Vector) Schema() Schema { return v.schema }

// Len returns the number of features.
func (v *Vector) Len() int { return len(v.features) }

// Feature returns the i-th feature in source order.
func (v *Vector) Feature(i int) *Feature { return v.features[i] }

// All iterates over the features in source order.
func (v *Vector) All() iter.Seq[*Feature] {
	return func(yield func(*Feature) bool) {
		for _, f := range v.features {
			if !yield(f) {
				return
			}
		}
	}
}

// Extent returns the bounding box of all decodable geometries.
func (v *Vector) Extent() orb.Bound {
	v.buildIndex()
	return v.extent
}

// Query returns the features whose bounding box intersects b, in source
// order.  Features with malformed geometry are always included, so that
// the caller sees the decoding error.
func (v *Vector) Query(b orb.Bound) []*Feature {
	v.buildIndex()
	var idx []int
	if v.index != nil && v.index.Size() > 0 {
		for _, s := range v.index.SearchIntersect(toRect(b)) {
			idx = append(idx, s.(*indexedFeature).i)
		}
	}
	idx = append(idx, v.broken...)
	slices.Sort(idx)
	res := make([]*Feature, len(idx))
	for k, i := range idx {
		res[k] = v.features[i]
	}
	return res
}

// CloneToMemory returns an in-memory copy which no longer refers to the
// file the source was read from.
func (v *Vector) CloneToMemory() *Vector {
	c := &Vector{
		name:     v.name,
		geomType: v.geomType,
		crs:      v.crs,
		schema:   slices.Clone(v.schema),
		features: make([]*Feature, len(v.features)),
	}
	for i, f := range v.features {
		c.features[i] = &Feature{
			FID:    f.FID,
			WKB:    slices.Clone(f.WKB),
			attrs:  slices.Clone(f.attrs),
			schema: c.schema,
		}
	}
	return c
}

// indexedFeature is the rtree entry for a feature.
type indexedFeature struct {
	i    int
	rect rtreego.Rect
}

func (e *indexedFeature) Bounds() rtreego.Rect {
	return e.rect
}

// minRectSize keeps rtree rectangles of point features non-degenerate.
const minRectSize = 1e-9

func toRect(b orb.Bound) rtreego.Rect {
	lengths := []float64{
		max(b.Max[0]-b.Min[0], minRectSize),
		max(b.Max[1]-b.Min[1], minRectSize),
	}
	r, _ := rtreego.NewRect(rtreego.Point{b.Min[0], b.Min[1]}, lengths)
	return r
}

func (v *Vector) buildIndex() {
	v.indexOnce.Do(func() {
		v.index = rtreego.NewTree(2, 25, 50)
		first := true
		for i, f := range v.features {
			g, err := f.Geometry()
			if err != nil {
				v.broken = append(v.broken, i)
				continue
			}
			if g == nil {
				continue
			}
			b := g.Bound()
			v.index.Insert(&indexedFeature{i: i, rect: toRect(b)})
			if first {
				v.extent = b
				first = false
			} else {
				v.extent = v.extent.Union(b)
			}
		}
	})
}
