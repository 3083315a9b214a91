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
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"regexp"
	"strconv"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"
)

// Marker is a decoded SVG document.
type Marker struct {
	key      string
	src      []byte
	aspect   float64
	fallback bool

	mu     sync.Mutex
	images map[imageKey]*image.NRGBA
}

type imageKey struct {
	size        float64
	fill        color.NRGBA
	stroke      color.NRGBA
	strokeWidth float64
}

// fallbackSVG is a question mark, drawn for markers which cannot be
// resolved.
const fallbackSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 20 20">
<path d="M6.5 7 C6.5 3 13.5 3 13.5 7 C13.5 10 10 10 10 13" fill="none" stroke="#000000" stroke-width="2.2" stroke-linecap="round"/>
<circle cx="10" cy="16.8" r="1.4" fill="#000000"/>
</svg>`

// Fallback is the marker used for unresolved references.
var Fallback = mustFallback()

func mustFallback() *Marker {
	m, err := newMarker("", []byte(fallbackSVG))
	if err != nil {
		panic(err)
	}
	m.fallback = true
	return m
}

func newMarker(key string, src []byte) (*Marker, error) {
	icon, err := decode(src, imageKey{size: 1})
	if err != nil {
		return nil, err
	}
	aspect := 1.0
	if icon.ViewBox.W > 0 && icon.ViewBox.H > 0 {
		aspect = icon.ViewBox.H / icon.ViewBox.W
	}
	return &Marker{
		key:    key,
		src:    src,
		aspect: aspect,
		images: map[imageKey]*image.NRGBA{},
	}, nil
}

// Key returns the resolved location the marker was loaded from.
func (m *Marker) Key() string { return m.key }

// IsFallback reports whether m is the fallback marker.
func (m *Marker) IsFallback() bool { return m.fallback }

// Aspect returns height divided by width.
func (m *Marker) Aspect() float64 { return m.aspect }

// Image renders the marker size pixels wide.  The parameters replace
// param(fill), param(outline) and param(outline-width) placeholders in
// the document.  Images are memoized and must not be modified.
func (m *Marker) Image(size float64, fill, stroke color.NRGBA, strokeWidth float64) *image.NRGBA {
	k := imageKey{size: size, fill: fill, stroke: stroke, strokeWidth: strokeWidth}
	m.mu.Lock()
	img, ok := m.images[k]
	m.mu.Unlock()
	if ok {
		return img
	}

	img = m.render(k)

	m.mu.Lock()
	m.images[k] = img
	m.mu.Unlock()
	return img
}

func (m *Marker) render(k imageKey) *image.NRGBA {
	w := max(int(math.Ceil(k.size)), 1)
	h := max(int(math.Ceil(k.size*m.aspect)), 1)
	res := image.NewNRGBA(image.Rect(0, 0, w, h))

	icon, err := decode(m.src, k)
	if err != nil {
		return res
	}
	rgba := image.NewRGBA(res.Rect)
	icon.SetTarget(0, 0, float64(w), float64(h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)
	draw.Copy(res, image.Point{}, rgba, rgba.Bounds(), draw.Src, nil)
	return res
}

var paramPattern = regexp.MustCompile(`param\(([A-Za-z-]+)\)(\s+[^"';]*)?`)

// substitute fills in the param(...) placeholders of a document.
// Unknown parameters keep their default value, if one follows the
// placeholder.
func substitute(src []byte, k imageKey) []byte {
	return paramPattern.ReplaceAllFunc(src, func(match []byte) []byte {
		sub := paramPattern.FindSubmatch(match)
		switch string(sub[1]) {
		case "fill":
			return []byte(hexColor(k.fill))
		case "fill-opacity":
			return []byte(opacity(k.fill))
		case "outline":
			return []byte(hexColor(k.stroke))
		case "outline-opacity":
			return []byte(opacity(k.stroke))
		case "outline-width":
			return []byte(strconv.FormatFloat(k.strokeWidth, 'g', -1, 64))
		}
		return bytes.TrimSpace(sub[2])
	})
}

func hexColor(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func opacity(c color.NRGBA) string {
	return strconv.FormatFloat(float64(c.A)/255, 'g', 4, 64)
}

func decode(src []byte, k imageKey) (*oksvg.SvgIcon, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(substitute(src, k)), oksvg.WarnErrorMode)
	if err != nil {
		return nil, fmt.Errorf("svg: %w", err)
	}
	return icon, nil
}
