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

// Package crs implements coordinate reference system handles.
//
// A CRS is created from an EPSG code, a WKT definition or a PROJ string.
// Two CRS values are equal when they describe the same projection, no
// matter how they were spelled.
package crs

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalid is returned (wrapped in an *Error) for unknown EPSG codes and
// unparsable definitions.
var ErrInvalid = errors.New("invalid CRS")

// Error describes why a CRS definition was rejected.
type Error struct {
	Input  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid CRS %q: %s", e.Input, e.Reason)
}

// Is makes errors.Is(err, ErrInvalid) work.
func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

// method identifies the map projection of a CRS.
type method int

const (
	methodUnknown method = iota
	methodGeographic
	methodWebMercator
	methodMercator // ellipsoidal Mercator, variant A
)

// CRS is an immutable coordinate reference system.
type CRS struct {
	code   int // EPSG code, 0 if unknown
	name   string
	method method
	a, rf  float64 // ellipsoid: semi-major axis, inverse flattening
	key    string  // normalized definition, used for equality
	wkt    string
}

type registryEntry struct {
	name   string
	method method
	a, rf  float64
	wkt    string
}

const (
	wgs84A  = 6378137.0
	wgs84RF = 298.257223563
)

var registry = map[int]registryEntry{
	4326: {
		name:   "WGS 84",
		method: methodGeographic,
		a:      wgs84A, rf: wgs84RF,
		wkt: `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AXIS["Latitude",NORTH],AXIS["Longitude",EAST],AUTHORITY["EPSG","4326"]]`,
	},
	3857: {
		name:   "WGS 84 / Pseudo-Mercator",
		method: methodWebMercator,
		a:      wgs84A, rf: wgs84RF,
		wkt: `PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Easting",EAST],AXIS["Northing",NORTH],EXTENSION["PROJ4","+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +wktext +no_defs"],AUTHORITY["EPSG","3857"]]`,
	},
	3395: {
		name:   "WGS 84 / World Mercator",
		method: methodMercator,
		a:      wgs84A, rf: wgs84RF,
		wkt: `PROJCS["WGS 84 / World Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Easting",EAST],AXIS["Northing",NORTH],AUTHORITY["EPSG","3395"]]`,
	},
}

// aliases maps deprecated or vendor codes to registry codes.
var aliases = map[int]int{
	900913: 3857,
	102100: 3857,
	102113: 3857,
	3785:   3857,
}

// FromEPSG returns the CRS with the given EPSG code.
func FromEPSG(code int) (*CRS, error) {
	input := "EPSG:" + strconv.Itoa(code)
	if alias, ok := aliases[code]; ok {
		code = alias
	}
	e, ok := registry[code]
	if !ok {
		return nil, &Error{Input: input, Reason: "unknown EPSG code"}
	}
	return fromEntry(code, e), nil
}

// MustEPSG is like FromEPSG but panics on error.
// It is intended for package-level variables and tests.
func MustEPSG(code int) *CRS {
	c, err := FromEPSG(code)
	if err != nil {
		panic(err)
	}
	return c
}

func fromEntry(code int, e registryEntry) *CRS {
	c := &CRS{
		code:   code,
		name:   e.name,
		method: e.method,
		a:      e.a,
		rf:     e.rf,
		wkt:    e.wkt,
	}
	c.key = knownKey(e.method, e.a, e.rf)
	return c
}

func knownKey(m method, a, rf float64) string {
	var name string
	switch m {
	case methodGeographic:
		name = "longlat"
	case methodWebMercator:
		name = "webmerc"
	case methodMercator:
		name = "merc"
	default:
		return ""
	}
	return fmt.Sprintf("%s/a=%.3f/rf=%.6f", name, a, rf)
}

// FromWKT parses a WKT1 or WKT2 definition.
func FromWKT(text string) (*CRS, error) {
	root, err := parseWKT(strings.TrimSpace(text))
	if err != nil {
		return nil, &Error{Input: abbreviate(text), Reason: err.Error()}
	}

	switch root.keyword {
	case "GEOGCS", "GEOGCRS", "GEODCRS", "GEODETICCRS", "GEOGRAPHICCRS",
		"PROJCS", "PROJCRS", "PROJECTEDCRS":
	default:
		return nil, &Error{Input: abbreviate(text), Reason: "unsupported CRS type " + root.keyword}
	}

	if code, ok := rootAuthority(root); ok {
		if alias, ok := aliases[code]; ok {
			code = alias
		}
		if e, ok := registry[code]; ok {
			return fromEntry(code, e), nil
		}
	}

	c := &CRS{name: root.text(0), wkt: strings.TrimSpace(text)}
	c.a, c.rf = ellipsoid(root)
	c.method = detectMethod(root, c.a, c.rf)
	if key := knownKey(c.method, c.a, c.rf); key != "" {
		c.key = key
		c.code = codeForKey(key)
	} else {
		var b strings.Builder
		root.canonical(&b)
		c.key = "wkt/" + b.String()
	}
	return c, nil
}

// rootAuthority reads AUTHORITY["EPSG","n"] or ID["EPSG",n] at the top
// level of the definition.
func rootAuthority(root *node) (int, bool) {
	id := root.child("AUTHORITY", "ID")
	if id == nil || !strings.EqualFold(id.text(0), "EPSG") {
		return 0, false
	}
	if v, ok := id.number(1); ok {
		return int(v), true
	}
	if v, err := strconv.Atoi(id.text(1)); err == nil {
		return v, true
	}
	return 0, false
}

func ellipsoid(root *node) (a, rf float64) {
	e := root.find("SPHEROID", "ELLIPSOID")
	if e == nil {
		return 0, 0
	}
	a, _ = e.number(1)
	rf, _ = e.number(2)
	return a, rf
}

func detectMethod(root *node, a, rf float64) method {
	wgs84 := math.Abs(a-wgs84A) < 1e-3 && math.Abs(rf-wgs84RF) < 1e-6
	switch root.keyword {
	case "GEOGCS", "GEOGCRS", "GEODCRS", "GEODETICCRS", "GEOGRAPHICCRS":
		if wgs84 {
			return methodGeographic
		}
		return methodUnknown
	}

	if ext := root.child("EXTENSION"); ext != nil && strings.Contains(ext.text(1), "+a=6378137 +b=6378137") {
		return methodWebMercator
	}

	var name string
	if p := root.find("PROJECTION"); p != nil {
		name = p.text(0)
	} else if m := root.find("METHOD"); m != nil {
		name = m.text(0)
	}
	name = strings.ToLower(strings.NewReplacer("_", " ", "(", "", ")", "").Replace(name))
	if !wgs84 || !defaultParameters(root) {
		return methodUnknown
	}
	switch {
	case strings.Contains(name, "pseudo mercator"):
		return methodWebMercator
	case name == "mercator 1sp" || name == "mercator variant a" || name == "mercator":
		return methodMercator
	}
	return methodUnknown
}

// defaultParameters reports whether all projection parameters have
// their neutral value (0 offsets, scale 1).
func defaultParameters(root *node) bool {
	ok := true
	var walk func(n *node)
	walk = func(n *node) {
		for _, a := range n.args {
			if a.sub == nil {
				continue
			}
			if a.sub.keyword == "PARAMETER" {
				name := strings.ToLower(a.sub.text(0))
				v, _ := a.sub.number(1)
				want := 0.0
				if strings.Contains(name, "scale") {
					want = 1
				}
				if math.Abs(v-want) > 1e-12 {
					ok = false
				}
				continue
			}
			walk(a.sub)
		}
	}
	walk(root)
	return ok
}

func codeForKey(key string) int {
	for code, e := range registry {
		if knownKey(e.method, e.a, e.rf) == key {
			return code
		}
	}
	return 0
}

// FromProj parses the small subset of PROJ strings that map onto the
// supported projections.
func FromProj(s string) (*CRS, error) {
	params := map[string]string{}
	for _, f := range strings.Fields(s) {
		f = strings.TrimPrefix(f, "+")
		k, v, _ := strings.Cut(f, "=")
		params[k] = v
	}
	switch params["proj"] {
	case "longlat", "latlong", "lonlat", "latlon":
		if d := params["datum"]; d == "" || strings.EqualFold(d, "WGS84") || strings.EqualFold(params["ellps"], "WGS84") {
			return FromEPSG(4326)
		}
	case "merc":
		if params["a"] == "6378137" && params["b"] == "6378137" {
			return FromEPSG(3857)
		}
		if d := params["datum"]; strings.EqualFold(d, "WGS84") || strings.EqualFold(params["ellps"], "WGS84") {
			return FromEPSG(3395)
		}
	}
	return nil, &Error{Input: s, Reason: "unsupported PROJ definition"}
}

// FromString accepts "EPSG:n", "urn:ogc:def:crs:EPSG::n", PROJ strings
// and WKT.
func FromString(s string) (*CRS, error) {
	t := strings.TrimSpace(s)
	upper := strings.ToUpper(t)
	switch {
	case strings.HasPrefix(upper, "EPSG:"):
		code, err := strconv.Atoi(t[5:])
		if err != nil {
			return nil, &Error{Input: s, Reason: "bad EPSG code"}
		}
		return FromEPSG(code)
	case strings.HasPrefix(upper, "URN:OGC:DEF:CRS:EPSG:"):
		i := strings.LastIndexByte(t, ':')
		code, err := strconv.Atoi(t[i+1:])
		if err != nil {
			return nil, &Error{Input: s, Reason: "bad EPSG code"}
		}
		return FromEPSG(code)
	case strings.HasPrefix(t, "+"):
		return FromProj(t)
	case t == "":
		return nil, &Error{Input: s, Reason: "empty definition"}
	}
	return FromWKT(t)
}

// Code returns the EPSG code, or 0 if the CRS has none.
func (c *CRS) Code() int {
	return c.code
}

// Name returns the human readable name.
func (c *CRS) Name() string {
	return c.name
}

// WKT returns the definition text.
func (c *CRS) WKT() string {
	return c.wkt
}

// AuthID returns "EPSG:n", or the empty string.
func (c *CRS) AuthID() string {
	if c.code == 0 {
		return ""
	}
	return "EPSG:" + strconv.Itoa(c.code)
}

func (c *CRS) String() string {
	if id := c.AuthID(); id != "" {
		return id
	}
	return c.name
}

// IsGeographic reports whether coordinates are longitude/latitude.
func (c *CRS) IsGeographic() bool {
	return c.method == methodGeographic
}

// Supported reports whether points can be transformed to and from this
// CRS.
func (c *CRS) Supported() bool {
	return c.method != methodUnknown
}

// MetersPerUnit gives the approximate size of one coordinate unit.
func (c *CRS) MetersPerUnit() float64 {
	if c.method == methodGeographic {
		return math.Pi * c.a / 180
	}
	return 1
}

// Equal reports whether c and other describe the same CRS.
func (c *CRS) Equal(other *CRS) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.key == other.key
}

func abbreviate(s string) string {
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}
