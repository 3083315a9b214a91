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

package crs

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
)

const wkt3395 = `PROJCRS["WGS 84 / World Mercator",
    BASEGEOGCRS["WGS 84",
        DATUM["World Geodetic System 1984",
            ELLIPSOID["WGS 84",6378137,298.257223563,
                LENGTHUNIT["metre",1]]],
        PRIMEM["Greenwich",0,
            ANGLEUNIT["degree",0.0174532925199433]],
        ID["EPSG",4326]],
    CONVERSION["World Mercator",
        METHOD["Mercator (variant A)",
            ID["EPSG",9804]],
        PARAMETER["Latitude of natural origin",0,
            ANGLEUNIT["degree",0.0174532925199433],
            ID["EPSG",8801]],
        PARAMETER["Longitude of natural origin",0,
            ANGLEUNIT["degree",0.0174532925199433],
            ID["EPSG",8802]],
        PARAMETER["Scale factor at natural origin",1,
            SCALEUNIT["unity",1],
            ID["EPSG",8805]],
        PARAMETER["False easting",0,
            LENGTHUNIT["metre",1],
            ID["EPSG",8806]],
        PARAMETER["False northing",0,
            LENGTHUNIT["metre",1],
            ID["EPSG",8807]]],
    CS[Cartesian,2],
        AXIS["(E)",east,
            ORDER[1],
            LENGTHUNIT["metre",1]],
        AXIS["(N)",north,
            ORDER[2],
            LENGTHUNIT["metre",1]]]`

const wkt4326 = `GEOGCRS["WGS 84",
    DATUM["World Geodetic System 1984",
        ELLIPSOID["WGS 84",6378137,298.257223563,
            LENGTHUNIT["metre",1]]],
    PRIMEM["Greenwich",0,
        ANGLEUNIT["degree",0.0174532925199433]],
    CS[ellipsoidal,2],
        AXIS["geodetic latitude (Lat)",north,
            ORDER[1],
            ANGLEUNIT["degree",0.0174532925199433]],
        AXIS["geodetic longitude (Lon)",east,
            ORDER[2],
            ANGLEUNIT["degree",0.0174532925199433]],
    ID["EPSG",4326]]`

func TestFromEPSG(t *testing.T) {
	for _, code := range []int{3857, 4326, 3395, 900913} {
		c, err := FromEPSG(code)
		if err != nil {
			t.Errorf("EPSG:%d: %v", code, err)
			continue
		}
		if !c.Supported() {
			t.Errorf("EPSG:%d not supported", code)
		}
	}
	if c := MustEPSG(900913); c.Code() != 3857 {
		t.Errorf("alias resolved to %d", c.Code())
	}

	for _, code := range []int{-1, 0, 1, 999999} {
		_, err := FromEPSG(code)
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("EPSG:%d: got %v, want ErrInvalid", code, err)
		}
	}
}

func TestFromWKT(t *testing.T) {
	cases := []struct {
		name string
		wkt  string
		code int
	}{
		{"wkt2_4326", wkt4326, 4326},
		{"wkt2_3395", wkt3395, 3395},
		{"wkt1_3857", registry[3857].wkt, 3857},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := FromWKT(tc.wkt)
			if err != nil {
				t.Fatal(err)
			}
			if !c.Equal(MustEPSG(tc.code)) {
				t.Errorf("%s differs from EPSG:%d", c, tc.code)
			}
		})
	}
}

func TestFromWKTWithoutAuthority(t *testing.T) {
	text := `GEOGCS["unnamed",DATUM["D",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]]`
	c, err := FromWKT(text)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Equal(MustEPSG(4326)) {
		t.Error("geographic WGS84 not recognized")
	}
	if c.Code() != 4326 {
		t.Errorf("code %d", c.Code())
	}
}

func TestInvalidWKT(t *testing.T) {
	for _, text := range []string{
		`GEOGCRS["WGS 84",`,
		``,
		`not a crs`,
		`GEOGCS["x"]]`,
		`LOCAL_CS["foo"]`,
	} {
		if _, err := FromWKT(text); !errors.Is(err, ErrInvalid) {
			t.Errorf("%q: got %v, want ErrInvalid", text, err)
		}
	}
}

func TestUnknownProjectionIsValid(t *testing.T) {
	text := `PROJCS["x",GEOGCS["g",DATUM["d",SPHEROID["Bessel",6377397.155,299.1528128]]],PROJECTION["Transverse_Mercator"],PARAMETER["central_meridian",9]]`
	c, err := FromWKT(text)
	if err != nil {
		t.Fatal(err)
	}
	if c.Supported() {
		t.Error("transverse mercator reported as supported")
	}
	other, _ := FromWKT("  " + text + "\n")
	if !c.Equal(other) {
		t.Error("whitespace changed identity")
	}
	if _, err := NewTransformer(c, MustEPSG(4326)); !errors.Is(err, ErrInvalid) {
		t.Errorf("transformer: %v", err)
	}
}

func TestFromString(t *testing.T) {
	cases := map[string]int{
		"EPSG:4326":                   4326,
		"epsg:3857":                   3857,
		"urn:ogc:def:crs:EPSG::3395":  3395,
		"+proj=longlat +datum=WGS84":  4326,
		"+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0": 3857,
		"+proj=merc +datum=WGS84":     3395,
	}
	for s, code := range cases {
		c, err := FromString(s)
		if err != nil {
			t.Errorf("%q: %v", s, err)
			continue
		}
		if c.Code() != code {
			t.Errorf("%q: got %d, want %d", s, c.Code(), code)
		}
	}
	if _, err := FromString("EPSG:abc"); !errors.Is(err, ErrInvalid) {
		t.Errorf("bad code: %v", err)
	}
}

// TestEquivalentEncodingsTransformAlike checks that the EPSG and WKT
// forms of a CRS put the same point at the same place.
func TestEquivalentEncodingsTransformAlike(t *testing.T) {
	src := MustEPSG(4326)
	for _, tc := range []struct {
		code int
		wkt  string
	}{{3395, wkt3395}, {4326, wkt4326}} {
		fromCode, err := NewTransformer(src, MustEPSG(tc.code))
		if err != nil {
			t.Fatal(err)
		}
		byWKT, _ := FromWKT(tc.wkt)
		fromWKT, err := NewTransformer(src, byWKT)
		if err != nil {
			t.Fatal(err)
		}
		p := orb.Point{37.61739, 55.75062}
		a, b := fromCode.Point(p), fromWKT.Point(p)
		if math.Abs(a[0]-b[0]) > 1e-9 || math.Abs(a[1]-b[1]) > 1e-9 {
			t.Errorf("EPSG:%d: %v != %v", tc.code, a, b)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	wgs := MustEPSG(4326)
	for _, code := range []int{3857, 3395} {
		there, _ := NewTransformer(wgs, MustEPSG(code))
		back, _ := NewTransformer(MustEPSG(code), wgs)
		for _, p := range []orb.Point{{0, 0}, {37.61739, 55.75062}, {-120.5, -33.25}} {
			q := back.Point(there.Point(p))
			if math.Abs(q[0]-p[0]) > 1e-7 || math.Abs(q[1]-p[1]) > 1e-7 {
				t.Errorf("EPSG:%d: %v came back as %v", code, p, q)
			}
		}
	}

	// Web Mercator and World Mercator differ away from the equator.
	a, _ := NewTransformer(wgs, MustEPSG(3857))
	b, _ := NewTransformer(wgs, MustEPSG(3395))
	p := orb.Point{10, 60}
	if math.Abs(a.Point(p)[1]-b.Point(p)[1]) < 1000 {
		t.Error("ellipsoidal and spherical mercator agree unexpectedly")
	}
}

func TestGeometryNotModified(t *testing.T) {
	tr, _ := NewTransformer(MustEPSG(4326), MustEPSG(3857))
	ls := orb.LineString{{0, 0}, {1, 1}}
	out := tr.Geometry(ls).(orb.LineString)
	if ls[1] != (orb.Point{1, 1}) {
		t.Error("input modified")
	}
	if out[1][0] < 100000 {
		t.Errorf("not projected: %v", out)
	}
}
