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

package main

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/spf13/viper"
)

const squares = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [10, 0], [10, 10], [0, 10], [0, 0]]]}, "properties": {"kind": "a"}},
  {"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[20, 0], [30, 0], [30, 10], [20, 10], [20, 0]]]}, "properties": {"kind": "b"}}
]}`

const squaresSLD = `<StyledLayerDescriptor xmlns="http://www.opengis.net/sld" xmlns:se="http://www.opengis.net/se" version="1.1.0">
  <NamedLayer><se:Name>squares</se:Name><UserStyle><se:FeatureTypeStyle><se:Rule>
    <se:PolygonSymbolizer><se:Fill><se:SvgParameter name="fill">#ff0000</se:SvgParameter></se:Fill></se:PolygonSymbolizer>
  </se:Rule></se:FeatureTypeStyle></UserStyle></NamedLayer>
</StyledLayerDescriptor>`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(viper.New())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		w, h int
		ok   bool
	}{
		{"800x600", 800, 600, true},
		{"16X16", 16, 16, true},
		{"0x10", 0, 0, false},
		{"10", 0, 0, false},
		{"ax3", 0, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			s, err := parseSize(tc.in)
			if (err == nil) != tc.ok {
				t.Fatalf("got error %v", err)
			}
			if tc.ok && (s.Width != tc.w || s.Height != tc.h) {
				t.Errorf("got %v", s)
			}
		})
	}
}

func TestParseExtent(t *testing.T) {
	b, err := parseExtent("0, -1, 2.5,3")
	if err != nil {
		t.Fatal(err)
	}
	want := orb.Bound{Min: orb.Point{0, -1}, Max: orb.Point{2.5, 3}}
	if b != want {
		t.Errorf("got %v, want %v", b, want)
	}
	for _, in := range []string{"", "1,2,3", "1,2,3,x"} {
		if _, err := parseExtent(in); err == nil {
			t.Errorf("%q: no error", in)
		}
	}
}

func TestParseSymbols(t *testing.T) {
	opts, err := parseSymbols([]string{"0:1,2", "1:"})
	if err != nil {
		t.Fatal(err)
	}
	if len(opts) != 2 {
		t.Errorf("got %d options, want 2", len(opts))
	}
	for _, in := range []string{"1", "a:1", "0:x"} {
		if _, err := parseSymbols([]string{in}); err == nil {
			t.Errorf("%q: no error", in)
		}
	}
}

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "squares.geojson", squares)
	sld := writeFile(t, dir, "squares.sld", squaresSLD)
	out := filepath.Join(dir, "map.png")

	_, err := run(t, "render", "-l", data, "-s", sld, "--crs", "EPSG:4326",
		"--size", "30x10", "-o", out)
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 30 || b.Dy() != 10 {
		t.Errorf("got size %v", b)
	}
	if r, _, _, a := img.At(5, 5).RGBA(); r < 0xf000 || a < 0xf000 {
		t.Errorf("first square not red: %v", img.At(5, 5))
	}
	if _, _, _, a := img.At(15, 5).RGBA(); a != 0 {
		t.Errorf("gap painted: %v", img.At(15, 5))
	}
}

func TestSymbolsCommand(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "squares.geojson", squares)
	icons := filepath.Join(dir, "icons")

	out, err := run(t, "symbols", "0", "-l", data, "-o", icons)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "INDEX") {
		t.Errorf("no table header in %q", out)
	}
	if _, err := os.Stat(filepath.Join(icons, "0.png")); err != nil {
		t.Error(err)
	}

	if _, err := run(t, "symbols", "3", "-l", data); err == nil {
		t.Error("no error for a missing layer")
	}
}

func TestConvertCommand(t *testing.T) {
	dir := t.TempDir()
	sld := writeFile(t, dir, "squares.sld", squaresSLD)
	out, err := run(t, "convert-style", "--format", "qml", sld)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "<qgis") {
		t.Errorf("not a QML document: %q", out)
	}
}
