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
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"

	"seehuhn.de/go/maprender/crs"
)

// OpenVector reads a GeoJSON FeatureCollection.  Coordinates are in
// EPSG:4326.
//
// The schema is inferred from the feature properties, with the fields
// sorted by name: properties holding only integers become Integer (or
// Integer64 when out of 32-bit range), other numbers Real, booleans
// Integer (0 or 1), and everything else String.
func OpenVector(path string) (*Vector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SourceError{Path: path, Reason: "cannot read file", Err: err}
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &SourceError{Path: path, Reason: "not a GeoJSON vector dataset"}
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, &SourceError{Path: path, Reason: "invalid GeoJSON", Err: err}
	}

	fields := inferSchema(fc.Features)
	rows := make([]Row, 0, len(fc.Features))
	var types []orb.Geometry
	for i, feat := range fc.Features {
		row := Row{FID: int64(i), Attrs: make([]any, len(fields))}
		if id, ok := feat.ID.(float64); ok && id == math.Trunc(id) {
			row.FID = int64(id)
		}
		if feat.Geometry != nil {
			blob, err := wkb.Marshal(feat.Geometry)
			if err != nil {
				return nil, &SourceError{Path: path, Reason: "cannot encode geometry", Err: err}
			}
			row.WKB = blob
			types = append(types, feat.Geometry)
		}
		for j, fld := range fields {
			row.Attrs[j] = jsonValue(fld.Type, feat.Properties[fld.Name])
		}
		rows = append(rows, row)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	v, err := FromData(name, geometryTypeOf(types), crs.MustEPSG(4326), fields, rows)
	if err != nil {
		return nil, &SourceError{Path: path, Reason: "inconsistent attributes", Err: err}
	}
	v.path = path
	return v, nil
}

func inferSchema(features []*geojson.Feature) []Field {
	types := map[string]FieldType{}
	seen := map[string]bool{}
	for _, feat := range features {
		for name, val := range feat.Properties {
			if val == nil {
				if !seen[name] {
					seen[name] = true
					types[name] = Integer
				}
				continue
			}
			t := jsonType(val)
			if !seen[name] {
				seen[name] = true
				types[name] = t
				continue
			}
			types[name] = widen(types[name], t)
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	fields := make([]Field, len(names))
	for i, name := range names {
		fields[i] = Field{Name: name, Type: types[name]}
	}
	return fields
}

func jsonType(v any) FieldType {
	switch v := v.(type) {
	case bool:
		return Integer
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return Real
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return Integer64
		}
		return Integer
	}
	return String
}

// widen returns the narrowest type which can hold values of both a and b.
func widen(a, b FieldType) FieldType {
	if a == b {
		return a
	}
	if a == String || b == String {
		return String
	}
	if a == Real || b == Real {
		return Real
	}
	return Integer64
}

func jsonValue(t FieldType, v any) any {
	if v == nil {
		return nil
	}
	switch t {
	case Integer, Integer64, Real:
		var f float64
		switch v := v.(type) {
		case bool:
			if v {
				f = 1
			}
		case float64:
			f = v
		}
		switch t {
		case Integer:
			return int32(f)
		case Integer64:
			return int64(f)
		}
		return f
	}
	if s, ok := v.(string); ok {
		return s
	}
	return jsonText(v)
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// geometryTypeOf returns the common geometry type of a set of
// geometries.  Single and multi variants of the same kind combine to
// the multi variant.
func geometryTypeOf(geoms []orb.Geometry) GeometryType {
	if len(geoms) == 0 {
		return NoGeometry
	}
	res := Unknown
	for i, g := range geoms {
		t := orbType(g)
		if i == 0 {
			res = t
			continue
		}
		if t == res {
			continue
		}
		if t.Kind() != res.Kind() {
			return Unknown
		}
		res = multi(t)
	}
	return res
}

func orbType(g orb.Geometry) GeometryType {
	switch g.(type) {
	case orb.Point:
		return Point
	case orb.MultiPoint:
		return MultiPoint
	case orb.LineString:
		return LineString
	case orb.MultiLineString:
		return MultiLineString
	case orb.Polygon, orb.Ring, orb.Bound:
		return Polygon
	case orb.MultiPolygon:
		return MultiPolygon
	}
	return Unknown
}

func multi(t GeometryType) GeometryType {
	switch t.Kind() {
	case KindPoint:
		return MultiPoint
	case KindLine:
		return MultiLineString
	case KindPolygon:
		return MultiPolygon
	}
	return Unknown
}
