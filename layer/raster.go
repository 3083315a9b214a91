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
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"golang.org/x/image/tiff"

	"seehuhn.de/go/maprender/crs"
)

// GeoTransform maps pixel (column, row) positions to map coordinates, in
// the order x0, dx, rx, y0, ry, dy:
//
//	x = x0 + col*dx + row*rx
//	y = y0 + col*ry + row*dy
//
// Pixel (0, 0) covers the square from (0, 0) to (1, 1).
type GeoTransform [6]float64

// Apply maps a pixel position to map coordinates.
func (g GeoTransform) Apply(col, row float64) orb.Point {
	return orb.Point{
		g[0] + col*g[1] + row*g[2],
		g[3] + col*g[4] + row*g[5],
	}
}

// Invert returns the transform from map coordinates to pixel positions.
func (g GeoTransform) Invert() (GeoTransform, bool) {
	det := g[1]*g[5] - g[2]*g[4]
	if det == 0 || math.IsNaN(det) {
		return GeoTransform{}, false
	}
	a, b := g[5]/det, -g[2]/det
	c, d := -g[4]/det, g[1]/det
	return GeoTransform{
		-(a*g[0] + b*g[3]), a, b,
		-(c*g[0] + d*g[3]), c, d,
	}, true
}

// Raster is a grid of one or more numeric bands.
type Raster struct {
	name      string
	path      string
	width     int
	height    int
	bands     [][]float64
	palette   color.Palette
	nodata    *float64
	transform GeoTransform
	crs       *crs.CRS
}

// NewRaster creates an in-memory raster.  Each band holds width*height
// values in row-major order.  A nil CRS means that the raster is in the
// coordinates of the map it is drawn on.
func NewRaster(name string, c *crs.CRS, gt GeoTransform, width, height int, bands [][]float64, nodata *float64) (*Raster, error) {
	if width <= 0 || height <= 0 || len(bands) == 0 {
		return nil, &SourceError{Path: name, Reason: "empty raster"}
	}
	for i, b := range bands {
		if len(b) != width*height {
			return nil, &SourceError{Path: name, Reason: fmt.Sprintf("band %d has %d values, want %d", i+1, len(b), width*height)}
		}
	}
	if _, ok := gt.Invert(); !ok {
		return nil, &SourceError{Path: name, Reason: "degenerate geotransform"}
	}
	return &Raster{
		name:      name,
		width:     width,
		height:    height,
		bands:     bands,
		nodata:    nodata,
		transform: gt,
		crs:       c,
	}, nil
}

// OpenRaster reads a TIFF or PNG image.  The georeference is taken from
// a world file next to the image (.tfw, .pgw or .wld) and the CRS from a
// .prj file.  Without a world file, pixel (col, row) covers the unit
// square at (col, -row-1).
func OpenRaster(path string) (*Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SourceError{Path: path, Reason: "cannot read file", Err: err}
	}
	if t := bytes.TrimSpace(data); len(t) > 0 && (t[0] == '{' || t[0] == '<') {
		return nil, &SourceError{Path: path, Reason: "not a raster dataset"}
	}

	var img image.Image
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		img, err = png.Decode(bytes.NewReader(data))
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		img, err = tiff.Decode(bytes.NewReader(data))
	default:
		return nil, &SourceError{Path: path, Reason: "not a raster dataset"}
	}
	if err != nil {
		return nil, &SourceError{Path: path, Reason: "cannot decode image", Err: err}
	}

	r := &Raster{
		name:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		path:      path,
		transform: GeoTransform{0, 1, 0, 0, 0, -1},
	}
	r.readBands(img)

	if gt, ok, err := readWorldFile(path); err != nil {
		return nil, &SourceError{Path: path, Reason: "invalid world file", Err: err}
	} else if ok {
		r.transform = gt
	}
	if prj, err := os.ReadFile(sidecar(path, ".prj")); err == nil {
		c, err := crs.FromString(strings.TrimSpace(string(prj)))
		if err != nil {
			return nil, &SourceError{Path: path, Reason: "invalid .prj file", Err: err}
		}
		r.crs = c
	}
	return r, nil
}

// readBands converts the decoded image into bands.  Gray images give one
// band, paletted images one band of palette indices, colour images three
// bands, or four if the image has transparent pixels.
func (r *Raster) readBands(img image.Image) {
	b := img.Bounds()
	r.width, r.height = b.Dx(), b.Dy()
	n := r.width * r.height

	switch img := img.(type) {
	case *image.Gray:
		band := make([]float64, 0, n)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				band = append(band, float64(img.GrayAt(x, y).Y))
			}
		}
		r.bands = [][]float64{band}
		return
	case *image.Gray16:
		band := make([]float64, 0, n)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				band = append(band, float64(img.Gray16At(x, y).Y))
			}
		}
		r.bands = [][]float64{band}
		return
	case *image.Paletted:
		band := make([]float64, 0, n)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				band = append(band, float64(img.ColorIndexAt(x, y)))
			}
		}
		r.bands = [][]float64{band}
		r.palette = img.Palette
		return
	}

	wide := false
	switch img.(type) {
	case *image.RGBA64, *image.NRGBA64:
		wide = true
	}
	opaque := true
	if o, ok := img.(interface{ Opaque() bool }); ok {
		opaque = o.Opaque()
	}
	nb := 4
	if opaque {
		nb = 3
	}
	r.bands = make([][]float64, nb)
	for i := range r.bands {
		r.bands[i] = make([]float64, 0, n)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
			vals := [4]uint16{c.R, c.G, c.B, c.A}
			for i := range nb {
				v := float64(vals[i])
				if !wide {
					v = float64(vals[i] >> 8)
				}
				r.bands[i] = append(r.bands[i], v)
			}
		}
	}
}

// sidecar replaces the extension of path.
func sidecar(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// worldFileNames lists the candidate world files for an image.
func worldFileNames(path string) []string {
	ext := strings.ToLower(filepath.Ext(path))
	var cands []string
	if len(ext) >= 3 {
		// .tif -> .tfw, .png -> .pgw
		cands = append(cands, sidecar(path, ext[:2]+ext[len(ext)-1:]+"w"))
	}
	cands = append(cands, path+"w", sidecar(path, ".wld"))
	return cands
}

func readWorldFile(path string) (GeoTransform, bool, error) {
	for _, name := range worldFileNames(path) {
		fd, err := os.Open(name)
		if err != nil {
			continue
		}
		defer fd.Close()

		var vals []float64
		sc := bufio.NewScanner(fd)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			v, err := strconv.ParseFloat(line, 64)
			if err != nil {
				return GeoTransform{}, false, err
			}
			vals = append(vals, v)
		}
		if err := sc.Err(); err != nil {
			return GeoTransform{}, false, err
		}
		if len(vals) != 6 {
			return GeoTransform{}, false, fmt.Errorf("%s: %d values, want 6", name, len(vals))
		}
		// A D B E C F, with C F the centre of the upper left pixel
		a, d, b, e, c, f := vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]
		return GeoTransform{c - a/2 - b/2, a, b, f - d/2 - e/2, d, e}, true, nil
	}
	return GeoTransform{}, false, nil
}

// Kind returns KindRaster.
func (r *Raster) Kind() Kind { return KindRaster }

// Name returns the layer name.
func (r *Raster) Name() string { return r.name }

// Path returns the file the raster was read from.
func (r *Raster) Path() string { return r.path }

// CRS returns the coordinate reference system, or nil if unknown.
func (r *Raster) CRS() *crs.CRS { return r.crs }

// Width returns the number of columns.
func (r *Raster) Width() int { return r.width }

// Height returns the number of rows.
func (r *Raster) Height() int { return r.height }

// BandCount returns the number of bands.
func (r *Raster) BandCount() int { return len(r.bands) }

// Palette returns the colour table of a paletted image, or nil.
func (r *Raster) Palette() color.Palette { return r.palette }

// Transform returns the pixel to map transform.
func (r *Raster) Transform() GeoTransform { return r.transform }

// NoData returns the value marking missing data, if any.
func (r *Raster) NoData() (float64, bool) {
	if r.nodata == nil {
		return 0, false
	}
	return *r.nodata, true
}

// Value returns the value of the given band (starting at 1) at a pixel.
// The second result is false outside the grid and for nodata.
func (r *Raster) Value(band, col, row int) (float64, bool) {
	if band < 1 || band > len(r.bands) || col < 0 || row < 0 || col >= r.width || row >= r.height {
		return 0, false
	}
	v := r.bands[band-1][row*r.width+col]
	if r.nodata != nil && v == *r.nodata || math.IsNaN(v) {
		return v, false
	}
	return v, true
}

// Stats returns the minimum and maximum valid value of a band.
func (r *Raster) Stats(band int) (lo, hi float64, ok bool) {
	if band < 1 || band > len(r.bands) {
		return 0, 0, false
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range r.bands[band-1] {
		if r.nodata != nil && v == *r.nodata || math.IsNaN(v) {
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi, lo <= hi
}

// Extent returns the bounding box of the grid in map coordinates.
func (r *Raster) Extent() orb.Bound {
	w, h := float64(r.width), float64(r.height)
	b := orb.Bound{Min: r.transform.Apply(0, 0), Max: r.transform.Apply(0, 0)}
	for _, p := range []orb.Point{r.transform.Apply(w, 0), r.transform.Apply(0, h), r.transform.Apply(w, h)} {
		b = b.Extend(p)
	}
	return b
}
