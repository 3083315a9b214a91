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

// Command maprender draws styled map layers into images, legends and
// PDF pages.
//
// Layers are given with --layer, each optionally paired with a style
// document given with --style in the same position.  Settings may also
// come from MAPRENDER_* environment variables or a YAML config file.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"seehuhn.de/go/maprender/svgcache"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "maprender",
		Short:         "Render styled map layers",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(v)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default ./maprender.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.Float64("dpi", 96, "output resolution")
	pf.String("crs", "", "output CRS, e.g. EPSG:3857 (default: project CRS or EPSG:3857)")
	pf.StringSlice("svg-paths", nil, "directories searched for SVG markers")
	pf.StringArrayP("layer", "l", nil, "data source, bottom layer first (repeatable)")
	pf.StringArrayP("style", "s", nil, "QML or SLD style for the layer in the same position, - for the default (repeatable)")
	pf.String("project", "", "QGIS project or YAML manifest to add below the --layer layers")
	pf.String("extent", "", "map extent minx,miny,maxx,maxy in the output CRS (default: all layers)")
	pf.String("size", "800x600", "output size in pixels, WIDTHxHEIGHT")
	pf.StringP("output", "o", "", "output file")

	for _, key := range []string{"log-level", "dpi", "crs", "svg-paths", "extent", "size"} {
		_ = v.BindPFlag(key, pf.Lookup(key))
	}
	_ = v.BindPFlag("config", pf.Lookup("config"))

	v.SetEnvPrefix("MAPRENDER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(
		newRenderCmd(v),
		newLegendCmd(v),
		newSymbolsCmd(v),
		newPDFCmd(v),
		newConvertCmd(),
	)
	return root
}

// setup reads the config file and configures logging and the SVG
// search path.
func setup(v *viper.Viper) error {
	if cfg := v.GetString("config"); cfg != "" {
		v.SetConfigFile(cfg)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("maprender")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return fmt.Errorf("invalid log level %q", v.GetString("log-level"))
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))

	if paths := v.GetStringSlice("svg-paths"); len(paths) > 0 {
		svgcache.Default.Configure(paths)
	}
	return nil
}
