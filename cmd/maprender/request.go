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
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"seehuhn.de/go/maprender"
	"seehuhn.de/go/maprender/crs"
	"seehuhn.de/go/maprender/layer"
	"seehuhn.de/go/maprender/project"
	"seehuhn.de/go/maprender/style"
)

// buildRequest assembles the layers named on the command line.
func buildRequest(cmd *cobra.Command, v *viper.Viper) (*maprender.MapRequest, error) {
	req := maprender.New()
	req.SetLogger(slog.Default())
	req.SetDPI(v.GetFloat64("dpi"))

	flags := cmd.Flags()
	projPath, _ := flags.GetString("project")
	layers, _ := flags.GetStringArray("layer")
	styles, _ := flags.GetStringArray("style")
	if len(styles) > len(layers) {
		return nil, fmt.Errorf("%d styles for %d layers", len(styles), len(layers))
	}

	if projPath != "" {
		p, err := project.Open(projPath)
		if err != nil {
			return nil, err
		}
		req.SetCRS(p.CRS)
		if err := req.AddProject(p); err != nil {
			return nil, err
		}
	}
	if s := v.GetString("crs"); s != "" {
		c, err := crs.FromString(s)
		if err != nil {
			return nil, err
		}
		req.SetCRS(c)
	}

	for i, path := range layers {
		src, err := layer.Open(path)
		if err != nil {
			return nil, err
		}
		var st *style.Style
		if i < len(styles) && styles[i] != "-" && styles[i] != "" {
			st, err = style.FromFile(styles[i], &style.ParseOptions{LayerType: style.LayerTypeOf(src.Kind())})
			if err != nil {
				return nil, err
			}
		}
		if err := req.AddLayer(src, st); err != nil {
			return nil, fmt.Errorf("layer %s: %w", path, err)
		}
	}
	if req.NumLayers() == 0 {
		return nil, fmt.Errorf("no layers given")
	}
	return req, nil
}

// mapExtent returns the --extent setting, or the extent of all layers.
func mapExtent(v *viper.Viper, req *maprender.MapRequest) (orb.Bound, error) {
	if s := v.GetString("extent"); s != "" {
		return parseExtent(s)
	}
	b, ok := req.FullExtent()
	if !ok {
		return orb.Bound{}, fmt.Errorf("layers have no extent, use --extent")
	}
	return b, nil
}

func parseExtent(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("invalid extent %q: want minx,miny,maxx,maxy", s)
	}
	var x [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid extent %q: %w", s, err)
		}
		x[i] = f
	}
	return orb.Bound{Min: orb.Point{x[0], x[1]}, Max: orb.Point{x[2], x[3]}}, nil
}

func parseSize(s string) (maprender.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return maprender.Size{}, fmt.Errorf("invalid size %q: want WIDTHxHEIGHT", s)
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(w))
	height, err2 := strconv.Atoi(strings.TrimSpace(h))
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return maprender.Size{}, fmt.Errorf("invalid size %q", s)
	}
	return maprender.Size{Width: width, Height: height}, nil
}

// parseSymbols reads --symbols values of the form LAYER:I,J,...  An
// empty index list hides all features of the layer.
func parseSymbols(specs []string) ([]maprender.RenderOption, error) {
	var opts []maprender.RenderOption
	for _, s := range specs {
		l, list, ok := strings.Cut(s, ":")
		if !ok {
			return nil, fmt.Errorf("invalid symbol filter %q: want LAYER:I,J,...", s)
		}
		li, err := strconv.Atoi(l)
		if err != nil {
			return nil, fmt.Errorf("invalid symbol filter %q: %w", s, err)
		}
		var idx []int
		for _, f := range strings.Split(list, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			k, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("invalid symbol filter %q: %w", s, err)
			}
			idx = append(idx, k)
		}
		opts = append(opts, maprender.WithSymbols(li, idx...))
	}
	return opts, nil
}
