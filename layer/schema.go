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
	"math"
	"strings"
	"time"
)

// GeometryType is the declared geometry type of a vector layer.
type GeometryType int

const (
	Unknown GeometryType = iota
	NoGeometry
	Point
	LineString
	Polygon
	MultiPoint
	MultiLineString
	MultiPolygon
	PointZ
	LineStringZ
	PolygonZ
	MultiPointZ
	MultiLineStringZ
	MultiPolygonZ
)

var geometryTypeNames = []string{
	"Unknown", "NoGeometry", "Point", "LineString", "Polygon",
	"MultiPoint", "MultiLineString", "MultiPolygon",
	"PointZ", "LineStringZ", "PolygonZ",
	"MultiPointZ", "MultiLineStringZ", "MultiPolygonZ",
}

func (t GeometryType) String() string {
	if t >= 0 && int(t) < len(geometryTypeNames) {
		return geometryTypeNames[t]
	}
	return fmt.Sprintf("GeometryType(%d)", int(t))
}

// ParseGeometryType reads a geometry type name, case insensitively.
// "Line" is accepted for LineString.
func ParseGeometryType(s string) (GeometryType, bool) {
	if strings.EqualFold(s, "line") {
		return LineString, true
	}
	for i, name := range geometryTypeNames {
		if strings.EqualFold(s, name) {
			return GeometryType(i), true
		}
	}
	return Unknown, false
}

// GeometryKind groups geometry types by how they are drawn.
type GeometryKind int

const (
	KindUnknown GeometryKind = iota
	KindPoint
	KindLine
	KindPolygon
	KindNull
)

func (k GeometryKind) String() string {
	switch k {
	case KindPoint:
		return "Point"
	case KindLine:
		return "Line"
	case KindPolygon:
		return "Polygon"
	case KindNull:
		return "Null"
	}
	return "Unknown"
}

// Kind returns the drawing kind of the geometry type.
func (t GeometryType) Kind() GeometryKind {
	switch t {
	case Point, MultiPoint, PointZ, MultiPointZ:
		return KindPoint
	case LineString, MultiLineString, LineStringZ, MultiLineStringZ:
		return KindLine
	case Polygon, MultiPolygon, PolygonZ, MultiPolygonZ:
		return KindPolygon
	case NoGeometry:
		return KindNull
	}
	return KindUnknown
}

// FieldType is the declared type of an attribute.
type FieldType int

const (
	Integer FieldType = iota
	Integer64
	Real
	String
	Date
	Time
	DateTime
)

func (t FieldType) String() string {
	switch t {
	case Integer:
		return "Integer"
	case Integer64:
		return "Integer64"
	case Real:
		return "Real"
	case String:
		return "String"
	case Date:
		return "Date"
	case Time:
		return "Time"
	case DateTime:
		return "DateTime"
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// IsNumeric reports whether values of this type can be classified into
// numeric ranges.
func (t FieldType) IsNumeric() bool {
	return t == Integer || t == Integer64 || t == Real
}

// Field is one column of a schema.
type Field struct {
	Name string
	Type FieldType
}

// Schema is the ordered list of fields of a vector source.
type Schema []Field

// Index returns the position of the named field, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the field names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// coerce checks v against the field type and converts it to the
// canonical Go representation: int32, int64, float64, string,
// time.Time or time.Duration.
func coerce(t FieldType, v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch t {
	case Integer:
		i, ok := asInt(v)
		if !ok || i < math.MinInt32 || i > math.MaxInt32 {
			return nil, false
		}
		return int32(i), true
	case Integer64:
		i, ok := asInt(v)
		return i, ok
	case Real:
		switch v := v.(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		}
		if i, ok := asInt(v); ok {
			return float64(i), true
		}
	case String:
		s, ok := v.(string)
		return s, ok
	case Date, DateTime:
		tm, ok := v.(time.Time)
		return tm, ok
	case Time:
		d, ok := v.(time.Duration)
		return d, ok
	}
	return nil, false
}

func asInt(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	}
	return 0, false
}
