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

package project

import (
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"seehuhn.de/go/maprender/crs"
	"seehuhn.de/go/maprender/layer"
	"seehuhn.de/go/maprender/style"
)

type manifest struct {
	CRS    string          `yaml:"crs"`
	Layers []manifestLayer `yaml:"layers"`
}

// manifestLayer entries are listed bottom layer first.
type manifestLayer struct {
	Path   string `yaml:"path"`
	Style  string `yaml:"style"`
	Label  string `yaml:"label"`
	Hidden bool   `yaml:"hidden"`
}

func readManifest(data []byte, path string) (*Project, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &Error{Path: path, Reason: "malformed manifest", Err: err}
	}
	dir := filepath.Dir(path)

	p := &Project{Path: path}
	if m.CRS == "" {
		p.CRS = crs.MustEPSG(3857)
	} else {
		c, err := crs.FromString(m.CRS)
		if err != nil {
			return nil, &Error{Path: path, Reason: "invalid project CRS", Err: err}
		}
		p.CRS = c
	}

	for i, ml := range m.Layers {
		if ml.Hidden {
			continue
		}
		if ml.Path == "" {
			return nil, &Error{Path: path, Reason: fmt.Sprintf("layer %d has no path", i)}
		}
		l, err := ml.open(dir)
		if err != nil {
			return nil, &Error{Path: path, Reason: "layer " + ml.Path, Err: err}
		}
		p.Layers = append(p.Layers, *l)
	}
	return p, nil
}

func (ml *manifestLayer) open(dir string) (*Layer, error) {
	src, err := layer.Open(resolvePath(dir, ml.Path))
	if err != nil {
		return nil, err
	}
	var st *style.Style
	if ml.Style == "" {
		st = defaultStyle(src)
	} else {
		st, err = style.FromFile(resolvePath(dir, ml.Style), &style.ParseOptions{
			LayerType: style.LayerTypeOf(src.Kind()),
			Resolver:  svgResolver(dir),
		})
		if err != nil {
			return nil, err
		}
	}
	if err := st.CheckSource(src); err != nil {
		return nil, err
	}
	label := ml.Label
	if label == "" {
		label = src.Name()
	}
	return &Layer{ID: ml.Path, Label: label, Source: src, Style: st}, nil
}
