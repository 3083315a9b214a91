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

// Package layer implements the data sources which can be drawn on a map:
// vector feature collections and raster grids.
//
// Sources are immutable once created and can be shared between
// concurrent renders.
package layer

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"

	"seehuhn.de/go/maprender/crs"
)

var (
	// ErrInvalidSource indicates a dataset which cannot be read, or which
	// is of the wrong kind for the requested operation.
	ErrInvalidSource = errors.New("invalid layer source")

	// ErrTypeMismatch indicates that a vector operation was applied to a
	// raster, or the other way round.
	ErrTypeMismatch = errors.New("layer type mismatch")

	// ErrFieldType indicates an attribute value which does not match the
	// declared field type.
	ErrFieldType = errors.New("attribute does not match field type")
)

// SourceError describes a dataset which could not be opened.
type SourceError struct {
	Path   string
	Reason string
	Err    error
}

func (e *SourceError) Error() string {
	msg := fmt.Sprintf("cannot open %q: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrInvalidSource) work.
func (e *SourceError) Is(target error) bool {
	return target == ErrInvalidSource
}

// FieldError reports an attribute value rejected at insertion time.
type FieldError struct {
	Row   int
	Field string
	Want  FieldType
	Value any
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("row %d, field %q: %T is not a valid %s value",
		e.Row, e.Field, e.Value, e.Want)
}

// Is reports true for both ErrFieldType and ErrInvalidSource.
func (e *FieldError) Is(target error) bool {
	return target == ErrFieldType || target == ErrInvalidSource
}

// Kind distinguishes vector from raster data.
type Kind int

const (
	KindVector Kind = iota
	KindRaster
)

func (k Kind) String() string {
	switch k {
	case KindVector:
		return "vector"
	case KindRaster:
		return "raster"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Source is implemented by *Vector and *Raster.
type Source interface {
	Kind() Kind
	Name() string
	CRS() *crs.CRS
	Extent() orb.Bound
}

var (
	vectorExt = map[string]bool{".geojson": true, ".json": true}
	rasterExt = map[string]bool{".tif": true, ".tiff": true, ".png": true}
)

// Open opens a vector or raster dataset, deciding by the file name.
func Open(path string) (Source, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case vectorExt[ext]:
		return OpenVector(path)
	case rasterExt[ext]:
		return OpenRaster(path)
	}
	if v, err := OpenVector(path); err == nil {
		return v, nil
	}
	if r, err := OpenRaster(path); err == nil {
		return r, nil
	}
	return nil, &SourceError{Path: path, Reason: "unsupported dataset format"}
}

// CloneToMemory returns an in-memory copy of a vector source.  Rasters
// cannot be cloned and give ErrTypeMismatch.
func CloneToMemory(src Source) (*Vector, error) {
	v, ok := src.(*Vector)
	if !ok {
		return nil, fmt.Errorf("clone %q to memory: %w", src.Name(), ErrTypeMismatch)
	}
	return v.CloneToMemory(), nil
}
