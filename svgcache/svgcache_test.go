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

package svgcache

import (
	"encoding/base64"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

const square = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10">
<rect x="0" y="0" width="10" height="10" fill="param(fill) #00ff00" fill-opacity="param(fill-opacity)"/>
</svg>`

const wide = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 20 10">
<rect x="0" y="0" width="20" height="10" fill="#0000ff"/>
</svg>`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSearchPaths(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	writeFile(t, dir2, "a.svg", square)

	c := NewContext()
	if m := c.Lookup("a.svg"); !m.IsFallback() {
		t.Fatal("found marker without search paths")
	}

	c.Configure([]string{dir1, dir2})
	m := c.Lookup("a.svg")
	if m.IsFallback() {
		t.Fatal("marker not found on search path")
	}
	want, _ := filepath.Abs(filepath.Join(dir2, "a.svg"))
	if m.Key() != want {
		t.Errorf("key %q, want %q", m.Key(), want)
	}

	// an earlier directory takes precedence
	writeFile(t, dir1, "a.svg", wide)
	if c.Lookup("a.svg") != m {
		t.Error("cache entry replaced without reconfiguration")
	}
	c.Configure([]string{dir1, dir2})
	if k := c.Lookup("a.svg").Key(); filepath.Dir(k) != mustAbs(t, dir1) {
		t.Errorf("after reconfiguration got %q", k)
	}
}

func mustAbs(t *testing.T, p string) string {
	t.Helper()
	a, err := filepath.Abs(p)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestSharedKey(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "m.svg", square)

	c := NewContext()
	c.Configure([]string{dir})
	a := c.Lookup("m.svg")
	b := c.Lookup(p)
	if a != b {
		t.Error("references to the same file do not share a cache entry")
	}
	if c.Len() != 1 {
		t.Errorf("cache has %d entries, want 1", c.Len())
	}
}

func TestCacheOutlivesFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "m.svg", square)

	c := NewContext()
	m := c.Lookup(p)
	if m.IsFallback() {
		t.Fatal("marker not loaded")
	}
	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	if c.Lookup(p) != m {
		t.Error("cached marker lost after the file was removed")
	}
	if key, ok := c.Resolve(p); !ok || key != m.Key() {
		t.Errorf("Resolve after removal: %q, %t", key, ok)
	}

	c.Invalidate()
	if c.Len() != 0 {
		t.Error("cache not cleared")
	}
	if !c.Lookup(p).IsFallback() {
		t.Error("removed file found after invalidation")
	}
	if c.Len() != 0 {
		t.Error("fallback marker was cached")
	}
}

func TestCacheOutlivesSearchPathFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "m.svg", square)

	c := NewContext()
	c.Configure([]string{dir})
	m := c.Lookup("m.svg")
	if m.IsFallback() {
		t.Fatal("marker not loaded")
	}
	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	if c.Lookup("m.svg") != m {
		t.Error("cached marker lost after the file was removed")
	}

	c.Configure([]string{dir})
	if !c.Lookup("m.svg").IsFallback() {
		t.Error("removed file found after reconfiguration")
	}
}

func TestInline(t *testing.T) {
	c := NewContext()
	refs := []string{
		"base64:" + base64.StdEncoding.EncodeToString([]byte(wide)),
		"data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(wide)),
		"data:image/svg+xml;utf8," + wide,
	}
	for _, ref := range refs {
		m := c.Lookup(ref)
		if m.IsFallback() {
			t.Errorf("inline marker %.30q not decoded", ref)
			continue
		}
		if m.Aspect() != 0.5 {
			t.Errorf("aspect %g, want 0.5", m.Aspect())
		}
	}
}

func TestUnresolved(t *testing.T) {
	c := NewContext()
	for _, ref := range []string{"", "missing.svg", "https://example.com/a.svg", "data:nonsense"} {
		if !c.Lookup(ref).IsFallback() {
			t.Errorf("%q: expected fallback", ref)
		}
	}
	img := Fallback.Image(20, color.NRGBA{}, color.NRGBA{}, 0)
	var ink int
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] > 0 {
			ink++
		}
	}
	if ink == 0 {
		t.Error("fallback glyph is empty")
	}
}

func TestImageParams(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "m.svg", square)
	m := NewContext().Lookup(p)

	red := color.NRGBA{R: 255, A: 255}
	img := m.Image(10, red, color.NRGBA{}, 1)
	if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 10 {
		t.Fatalf("size %v", b)
	}
	if got := img.NRGBAAt(5, 5); got != red {
		t.Errorf("centre pixel %v, want %v", got, red)
	}
	if m.Image(10, red, color.NRGBA{}, 1) != img {
		t.Error("image not memoized")
	}

	blue := color.NRGBA{B: 255, A: 255}
	if got := m.Image(10, blue, color.NRGBA{}, 1).NRGBAAt(5, 5); got != blue {
		t.Errorf("centre pixel %v, want %v", got, blue)
	}
}

func TestSubstitute(t *testing.T) {
	k := imageKey{
		fill:        color.NRGBA{R: 1, G: 2, B: 3, A: 255},
		stroke:      color.NRGBA{R: 255, A: 0},
		strokeWidth: 1.5,
	}
	cases := []struct{ in, out string }{
		{`fill="param(fill)"`, `fill="#010203"`},
		{`fill="param(fill) #fff"`, `fill="#010203"`},
		{`stroke="param(outline)"`, `stroke="#ff0000"`},
		{`stroke-opacity="param(outline-opacity)"`, `stroke-opacity="0"`},
		{`stroke-width="param(outline-width) 2"`, `stroke-width="1.5"`},
		{`x="param(other) 7"`, `x="7"`},
	}
	for _, c := range cases {
		if got := string(substitute([]byte(c.in), k)); got != c.out {
			t.Errorf("%s: got %s, want %s", c.in, got, c.out)
		}
	}
}
