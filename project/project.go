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

// Package project reads project documents: collections of styled layers
// with a fixed drawing order and a project CRS.
//
// Three formats are supported: QGIS project files (.qgs), zipped QGIS
// projects (.qgz) and YAML manifests (.yaml, .yml) of the form
//
//	crs: EPSG:3857
//	layers:
//	  - path: roads.geojson
//	    style: roads.qml
//	    label: Roads
//
// Relative paths are resolved against the directory of the project file.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"seehuhn.de/go/maprender/crs"
	"seehuhn.de/go/maprender/layer"
	"seehuhn.de/go/maprender/style"
)

// ErrInvalid is returned for project files which cannot be read.
var ErrInvalid = errors.New("invalid project")

// Error describes a project which could not be opened.
type Error struct {
	Path   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("project %q: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInvalid) succeed.
func (e *Error) Is(target error) bool { return target == ErrInvalid }

// Layer is a styled layer of a project.
type Layer struct {
	ID     string
	Label  string
	Source layer.Source
	Style  *style.Style
}

// Project is an ordered collection of styled layers.  Layers are listed
// in drawing order: the first layer is drawn first, at the bottom.
type Project struct {
	Path   string
	CRS    *crs.CRS
	Layers []Layer
}

// Open reads a project file.  The format is taken from the file name
// extension.
func Open(path string) (*Project, error) {
	var p *Project
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".qgs":
		var data []byte
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, &Error{Path: path, Reason: "cannot read file", Err: err}
		}
		p, err = readQGS(data, path)
	case ".qgz":
		p, err = readQGZ(path)
	case ".yaml", ".yml":
		var data []byte
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, &Error{Path: path, Reason: "cannot read file", Err: err}
		}
		p, err = readManifest(data, path)
	default:
		return nil, &Error{Path: path, Reason: "unknown project format"}
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// resolvePath makes a relative path relative to dir.
func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// svgResolver finds SVG references relative to dir.  References which
// do not name an existing file are kept for the search paths.
func svgResolver(dir string) func(string) string {
	return func(ref string) string {
		if filepath.IsAbs(ref) {
			return ref
		}
		cand := filepath.Join(dir, ref)
		if fi, err := os.Stat(cand); err == nil && fi.Mode().IsRegular() {
			return cand
		}
		return ref
	}
}

// defaultStyle is used for layers without a style.
func defaultStyle(src layer.Source) *style.Style {
	return style.FromDefaults(style.LayerUnknown, layer.KindUnknown, nil).ForSource(src)
}
