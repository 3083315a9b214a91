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

// Package maprender draws styled vector and raster layers into images,
// legends and PDF pages.
//
// A MapRequest collects layers, each a data source bound to a style, and
// renders them for a given extent, CRS and resolution.  Layers are drawn
// in the order they were added; within a layer, features are drawn in
// source order unless the style requests a different order.  Features
// which cannot be drawn are skipped and reported as diagnostics of the
// rendered image.
package maprender

import (
	"errors"
	"fmt"

	"seehuhn.de/go/maprender/crs"
	"seehuhn.de/go/maprender/layer"
	"seehuhn.de/go/maprender/style"
)

// These errors classify failures.  Use errors.Is to test for them.
var (
	ErrInvalidCRS         = crs.ErrInvalid
	ErrStyleValidation    = style.ErrValidation
	ErrStyleTypeMismatch  = style.ErrTypeMismatch
	ErrInvalidLayerSource = layer.ErrInvalidSource
	ErrLayerTypeMismatch  = layer.ErrTypeMismatch

	// ErrEngine is matched by all other rendering failures, for example
	// an invalid layer or symbol index.
	ErrEngine = errors.New("render failed")
)

// EngineError describes a request which cannot be rendered.
type EngineError struct {
	Op     string
	Reason string
	Err    error
}

func (e *EngineError) Error() string {
	msg := e.Op + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrEngine) succeed.
func (e *EngineError) Is(target error) bool { return target == ErrEngine }

func engineErrorf(op, format string, args ...any) error {
	return &EngineError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// Size is the pixel size of an image.
type Size struct {
	Width, Height int
}

// Diagnostic reports a feature which was not drawn.  FID is -1 for
// problems which affect a whole layer.
type Diagnostic struct {
	Layer  int
	FID    int64
	Reason string
}

func (d Diagnostic) String() string {
	if d.FID < 0 {
		return fmt.Sprintf("layer %d: %s", d.Layer, d.Reason)
	}
	return fmt.Sprintf("layer %d, feature %d: %s", d.Layer, d.FID, d.Reason)
}
