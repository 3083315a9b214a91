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
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"seehuhn.de/go/maprender/crs"
	"seehuhn.de/go/maprender/layer"
	"seehuhn.de/go/maprender/style"
)

type qgsDocument struct {
	XMLName    xml.Name   `xml:"qgis"`
	ProjectCRS qgsSRS     `xml:"projectCrs>spatialrefsys"`
	Tree       treeNode   `xml:"layer-tree-group"`
	LayerOrder []qgsRef   `xml:"layerorder>layer"`
	MapLayers  []mapLayer `xml:"projectlayers>maplayer"`
}

type qgsSRS struct {
	WKT    string `xml:"wkt"`
	Proj4  string `xml:"proj4"`
	AuthID string `xml:"authid"`
}

type qgsRef struct {
	ID string `xml:"id,attr"`
}

// treeNode is an element of the layer tree, kept generic so that the
// order of groups and layers is preserved.
type treeNode struct {
	XMLName  xml.Name
	ID       string     `xml:"id,attr"`
	Checked  string     `xml:"checked,attr"`
	Enabled  string     `xml:"enabled,attr"`
	Text     string     `xml:",chardata"`
	Children []treeNode `xml:",any"`
}

type mapLayer struct {
	Attrs      []xml.Attr `xml:",any,attr"`
	Type       string     `xml:"type,attr"`
	ID         string     `xml:"id"`
	DataSource string     `xml:"datasource"`
	LayerName  string     `xml:"layername"`
	Provider   string     `xml:"provider"`
	Inner      string     `xml:",innerxml"`
}

func readQGZ(path string) (*Project, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &Error{Path: path, Reason: "cannot open archive", Err: err}
	}
	defer zr.Close()
	for _, f := range zr.File {
		if !strings.EqualFold(filepath.Ext(f.Name), ".qgs") {
			continue
		}
		r, err := f.Open()
		if err != nil {
			return nil, &Error{Path: path, Reason: "cannot read " + f.Name, Err: err}
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return nil, &Error{Path: path, Reason: "cannot read " + f.Name, Err: err}
		}
		return readQGS(data, path)
	}
	return nil, &Error{Path: path, Reason: "archive contains no .qgs file"}
}

func readQGS(data []byte, path string) (*Project, error) {
	var doc qgsDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &Error{Path: path, Reason: "malformed project file", Err: err}
	}
	dir := filepath.Dir(path)

	p := &Project{Path: path}
	c, err := doc.ProjectCRS.crs()
	if err != nil {
		return nil, &Error{Path: path, Reason: "invalid project CRS", Err: err}
	}
	p.CRS = c

	byID := map[string]*mapLayer{}
	for i := range doc.MapLayers {
		byID[doc.MapLayers[i].ID] = &doc.MapLayers[i]
	}
	for _, id := range doc.drawOrder() {
		ml, ok := byID[id]
		if !ok {
			continue
		}
		l, err := ml.open(dir)
		if err != nil {
			return nil, &Error{Path: path, Reason: "layer " + ml.LayerName, Err: err}
		}
		p.Layers = append(p.Layers, *l)
	}
	return p, nil
}

func (s qgsSRS) crs() (*crs.CRS, error) {
	switch {
	case s.AuthID != "":
		return crs.FromString(s.AuthID)
	case strings.TrimSpace(s.WKT) != "":
		return crs.FromWKT(s.WKT)
	case s.Proj4 != "":
		return crs.FromProj(s.Proj4)
	}
	return crs.FromEPSG(4326)
}

// drawOrder returns the ids of the visible layers, bottom layer first.
// The layer tree, the custom order and <layerorder> all list the top
// layer first.
func (doc *qgsDocument) drawOrder() []string {
	hidden := map[string]bool{}
	var tree, custom []string
	customEnabled := false
	var walk func(n *treeNode, visible bool)
	walk = func(n *treeNode, visible bool) {
		for i := range n.Children {
			c := &n.Children[i]
			switch c.XMLName.Local {
			case "layer-tree-layer":
				tree = append(tree, c.ID)
				if !visible || c.Checked == "Qt:Unchecked" {
					hidden[c.ID] = true
				}
			case "layer-tree-group":
				walk(c, visible && c.Checked != "Qt:Unchecked")
			case "custom-order":
				customEnabled = c.Enabled == "1"
				for _, item := range c.Children {
					custom = append(custom, strings.TrimSpace(item.Text))
				}
			}
		}
	}
	walk(&doc.Tree, true)

	var order []string
	switch {
	case customEnabled && len(custom) > 0:
		order = custom
	case len(doc.LayerOrder) > 0:
		for _, r := range doc.LayerOrder {
			order = append(order, r.ID)
		}
	case len(tree) > 0:
		order = tree
	default:
		for _, ml := range doc.MapLayers {
			order = append(order, ml.ID)
		}
	}

	res := make([]string, 0, len(order))
	for _, id := range slices.Backward(order) {
		if !hidden[id] {
			res = append(res, id)
		}
	}
	return res
}

func (ml *mapLayer) open(dir string) (*Layer, error) {
	switch ml.Provider {
	case "", "ogr", "gdal":
	default:
		return nil, &layer.SourceError{Path: ml.DataSource, Reason: "unsupported provider " + ml.Provider}
	}
	ds, _, _ := strings.Cut(ml.DataSource, "|")
	src, err := layer.Open(resolvePath(dir, ds))
	if err != nil {
		return nil, err
	}

	st, err := ml.style(src, dir)
	if err != nil {
		return nil, err
	}
	if err := st.CheckSource(src); err != nil {
		return nil, err
	}
	return &Layer{ID: ml.ID, Label: ml.LayerName, Source: src, Style: st}, nil
}

// style reads the style embedded in the layer element.  The element is
// re-rooted as a QML document.
func (ml *mapLayer) style(src layer.Source, dir string) (*style.Style, error) {
	if !strings.Contains(ml.Inner, "<renderer-v2") && !strings.Contains(ml.Inner, "<pipe") {
		return defaultStyle(src), nil
	}
	var buf bytes.Buffer
	buf.WriteString("<qgis")
	for _, a := range ml.Attrs {
		buf.WriteString(" " + a.Name.Local + `="`)
		xml.EscapeText(&buf, []byte(a.Value))
		buf.WriteString(`"`)
	}
	buf.WriteString(">")
	buf.WriteString(ml.Inner)
	buf.WriteString("</qgis>")

	return style.FromString(buf.String(), &style.ParseOptions{
		Format:    style.FormatQML,
		LayerType: style.LayerTypeOf(src.Kind()),
		Resolver:  svgResolver(dir),
	})
}
