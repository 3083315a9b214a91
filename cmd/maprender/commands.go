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
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"seehuhn.de/go/maprender"
	"seehuhn.de/go/maprender/style"
)

func newRenderCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the layers to a PNG image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(cmd, v)
			if err != nil {
				return err
			}
			extent, err := mapExtent(v, req)
			if err != nil {
				return err
			}
			size, err := parseSize(v.GetString("size"))
			if err != nil {
				return err
			}
			specs, _ := cmd.Flags().GetStringArray("symbols")
			opts, err := parseSymbols(specs)
			if err != nil {
				return err
			}
			img, err := req.RenderImage(extent, size, opts...)
			if err != nil {
				return err
			}
			report(img.Diagnostics)
			return writePNG(cmd, img.NRGBA)
		},
	}
	cmd.Flags().StringArray("symbols", nil, "draw only these legend entries of a layer, LAYER:I,J,... (repeatable)")
	return cmd
}

func newLegendCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "legend",
		Short: "Render the legend of the layers to a PNG image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(cmd, v)
			if err != nil {
				return err
			}
			var size *maprender.Size
			if cmd.Flags().Changed("size") || v.InConfig("size") {
				s, err := parseSize(v.GetString("size"))
				if err != nil {
					return err
				}
				size = &s
			}
			img, err := req.RenderLegend(size)
			if err != nil {
				return err
			}
			return writePNG(cmd, img)
		},
	}
	return cmd
}

func newSymbolsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symbols LAYER",
		Short: "List the legend entries of a layer",
		Long: "List the legend entries of a layer.  With --output, the icons\n" +
			"are written to that directory as <index>.png.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid layer index %q", args[0])
			}
			req, err := buildRequest(cmd, v)
			if err != nil {
				return err
			}
			iconSize, _ := cmd.Flags().GetString("icon-size")
			size, err := parseSize(iconSize)
			if err != nil {
				return err
			}
			syms, err := req.LegendSymbols(idx, size)
			if err != nil {
				return err
			}

			out, _ := cmd.Flags().GetString("output")
			if out != "" {
				if err := os.MkdirAll(out, 0o755); err != nil {
					return err
				}
				for _, s := range syms {
					name := filepath.Join(out, strconv.Itoa(s.Index)+".png")
					if err := savePNG(name, s.Icon); err != nil {
						return err
					}
				}
			}
			return listSymbols(cmd.OutOrStdout(), syms)
		},
	}
	cmd.Flags().String("icon-size", "16x16", "icon size in pixels, WIDTHxHEIGHT")
	return cmd
}

func listSymbols(w io.Writer, syms []maprender.LegendSymbol) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tTITLE\tRENDER\tBAND")
	for _, s := range syms {
		title := s.Title
		if !s.HasTitle {
			title = "-"
		}
		band := "-"
		if s.RasterBand > 0 {
			band = strconv.Itoa(s.RasterBand)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Index, title, s.Render, band)
	}
	return tw.Flush()
}

func newPDFCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdf",
		Short: "Export the layers as a single page PDF file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("output")
			if out == "" {
				return fmt.Errorf("pdf needs --output")
			}
			req, err := buildRequest(cmd, v)
			if err != nil {
				return err
			}
			extent, err := mapExtent(v, req)
			if err != nil {
				return err
			}
			size, err := parseSize(v.GetString("size"))
			if err != nil {
				return err
			}
			diags, err := req.ExportPDF(out, extent, size)
			if err != nil {
				return err
			}
			report(diags)
			return nil
		},
	}
	return cmd
}

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert-style FILE",
		Short: "Convert a style document between QML and SLD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("format")
			f, err := style.ParseFormat(name)
			if err != nil {
				return err
			}
			st, err := style.FromFile(args[0], nil)
			if err != nil {
				return err
			}
			text, err := st.ToString(f)
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("output")
			if out == "" {
				_, err = io.WriteString(cmd.OutOrStdout(), text)
				return err
			}
			return os.WriteFile(out, []byte(text), 0o644)
		},
	}
	cmd.Flags().String("format", "sld", "output format, qml or sld")
	return cmd
}

func report(diags []maprender.Diagnostic) {
	for _, d := range diags {
		slog.Warn("feature not drawn", "layer", d.Layer, "fid", d.FID, "reason", d.Reason)
	}
}

// writePNG writes img to --output, or to standard output.
func writePNG(cmd *cobra.Command, img image.Image) error {
	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		return png.Encode(cmd.OutOrStdout(), img)
	}
	return savePNG(out, img)
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
