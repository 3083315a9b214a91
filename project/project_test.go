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
	"encoding/xml"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seehuhn.de/go/maprender/layer"
	"seehuhn.de/go/maprender/style"
)

const points = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "geometry": {"type": "Point", "coordinates": [1, 2]}, "properties": {"kind": "a"}}
]}`

const lines = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]}, "properties": {}}
]}`

const markerSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10"><circle cx="5" cy="5" r="5" fill="#0000ff"/></svg>`

const projectQGS = `<!DOCTYPE qgis PUBLIC 'http://mrcc.com/qgis.dtd' 'SYSTEM'>
<qgis projectname="test" version="3.34.0">
  <projectCrs>
    <spatialrefsys>
      <authid>EPSG:3857</authid>
    </spatialrefsys>
  </projectCrs>
  <layer-tree-group>
    <layer-tree-layer id="pts" name="Points" checked="Qt:Checked"/>
    <layer-tree-group name="group" checked="Qt:Checked">
      <layer-tree-layer id="lns" name="Lines" checked="Qt:Checked"/>
      <layer-tree-layer id="off" name="Off" checked="Qt:Unchecked"/>
    </layer-tree-group>
  </layer-tree-group>
  <projectlayers>
    <maplayer type="vector" geometry="Line">
      <id>lns</id>
      <datasource>./data/lines.geojson|layername=lines</datasource>
      <layername>Lines</layername>
      <provider encoding="UTF-8">ogr</provider>
    </maplayer>
    <maplayer type="vector" geometry="Point">
      <id>pts</id>
      <datasource>./data/points.geojson</datasource>
      <layername>Points</layername>
      <provider encoding="UTF-8">ogr</provider>
      <renderer-v2 type="singleSymbol">
        <symbols>
          <symbol name="0" type="marker">
            <layer class="SvgMarker" enabled="1">
              <prop k="name" v="marker.svg"/>
              <prop k="size" v="4"/>
            </layer>
          </symbol>
        </symbols>
      </renderer-v2>
      <layerGeometryType>0</layerGeometryType>
    </maplayer>
    <maplayer type="vector" geometry="Line">
      <id>off</id>
      <datasource>./data/lines.geojson</datasource>
      <layername>Off</layername>
      <provider encoding="UTF-8">ogr</provider>
    </maplayer>
  </projectlayers>
</qgis>`

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func projectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"data/points.geojson": points,
		"data/lines.geojson":  lines,
		"marker.svg":          markerSVG,
	})
	return dir
}

func checkProject(t *testing.T, p *Project, dir string) {
	t.Helper()
	assert.Equal(t, "EPSG:3857", p.CRS.AuthID())
	require.Len(t, p.Layers, 2)

	// the tree lists the top layer first
	assert.Equal(t, "lns", p.Layers[0].ID)
	assert.Equal(t, "pts", p.Layers[1].ID)
	assert.Equal(t, "Points", p.Layers[1].Label)

	lines := p.Layers[0]
	assert.True(t, lines.Style.IsDefault())
	assert.Equal(t, style.LayerVector, lines.Style.Type)
	assert.Equal(t, layer.KindLine, lines.Style.GeometryType)

	pts := p.Layers[1]
	ss, ok := pts.Style.Renderer.(*style.SingleSymbol)
	require.True(t, ok)
	require.Len(t, ss.Symbol.Layers, 1)
	assert.Equal(t, filepath.Join(dir, "marker.svg"), ss.Symbol.Layers[0].Props["name"])
}

func TestOpenQGS(t *testing.T) {
	dir := projectDir(t)
	writeFiles(t, dir, map[string]string{"test.qgs": projectQGS})

	p, err := Open(filepath.Join(dir, "test.qgs"))
	require.NoError(t, err)
	checkProject(t, p, dir)
}

func TestOpenQGZ(t *testing.T) {
	dir := projectDir(t)
	path := filepath.Join(dir, "test.qgz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("test.qgs")
	require.NoError(t, err)
	_, err = w.Write([]byte(projectQGS))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	p, err := Open(path)
	require.NoError(t, err)
	checkProject(t, p, dir)
}

func xmlName(local string) xml.Name {
	return xml.Name{Local: local}
}

func TestLayerOrder(t *testing.T) {
	tests := []struct {
		name string
		doc  qgsDocument
		want []string
	}{
		{
			name: "tree",
			doc: qgsDocument{Tree: treeNode{Children: []treeNode{
				{XMLName: xmlName("layer-tree-layer"), ID: "a"},
				{XMLName: xmlName("layer-tree-layer"), ID: "b"},
			}}},
			want: []string{"b", "a"},
		},
		{
			name: "layerorder",
			doc: qgsDocument{
				Tree: treeNode{Children: []treeNode{
					{XMLName: xmlName("layer-tree-layer"), ID: "a"},
					{XMLName: xmlName("layer-tree-layer"), ID: "b"},
				}},
				LayerOrder: []qgsRef{{ID: "b"}, {ID: "a"}},
			},
			want: []string{"a", "b"},
		},
		{
			name: "custom order",
			doc: qgsDocument{Tree: treeNode{Children: []treeNode{
				{XMLName: xmlName("layer-tree-layer"), ID: "a"},
				{XMLName: xmlName("layer-tree-layer"), ID: "b"},
				{XMLName: xmlName("layer-tree-layer"), ID: "c", Checked: "Qt:Unchecked"},
				{XMLName: xmlName("custom-order"), Enabled: "1", Children: []treeNode{
					{XMLName: xmlName("item"), Text: "c"},
					{XMLName: xmlName("item"), Text: "b"},
					{XMLName: xmlName("item"), Text: "a"},
				}},
			}}},
			want: []string{"a", "b"},
		},
		{
			name: "hidden group",
			doc: qgsDocument{Tree: treeNode{Children: []treeNode{
				{XMLName: xmlName("layer-tree-layer"), ID: "a"},
				{XMLName: xmlName("layer-tree-group"), Checked: "Qt:Unchecked", Children: []treeNode{
					{XMLName: xmlName("layer-tree-layer"), ID: "b", Checked: "Qt:Checked"},
				}},
			}}},
			want: []string{"a"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.doc.drawOrder())
		})
	}
}

func TestManifest(t *testing.T) {
	dir := projectDir(t)
	writeFiles(t, dir, map[string]string{
		"lines.sld": `<StyledLayerDescriptor xmlns="http://www.opengis.net/sld" xmlns:se="http://www.opengis.net/se" version="1.1.0">
  <NamedLayer><se:Name>lines</se:Name><UserStyle><se:FeatureTypeStyle><se:Rule>
    <se:LineSymbolizer><se:Stroke><se:SvgParameter name="stroke">#ff0000</se:SvgParameter></se:Stroke></se:LineSymbolizer>
  </se:Rule></se:FeatureTypeStyle></UserStyle></NamedLayer>
</StyledLayerDescriptor>`,
		"map.yaml": `crs: EPSG:4326
layers:
  - path: data/lines.geojson
    style: lines.sld
    label: Roads
  - path: data/points.geojson
  - path: data/points.geojson
    hidden: true
`,
	})

	p, err := Open(filepath.Join(dir, "map.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "EPSG:4326", p.CRS.AuthID())
	require.Len(t, p.Layers, 2)
	assert.Equal(t, "Roads", p.Layers[0].Label)
	assert.False(t, p.Layers[0].Style.IsDefault())
	assert.Equal(t, "points", p.Layers[1].Label)
	assert.Equal(t, layer.KindPoint, p.Layers[1].Style.GeometryType)
}

func TestOpenErrors(t *testing.T) {
	dir := projectDir(t)
	writeFiles(t, dir, map[string]string{
		"broken.qgs":  "<qgis><projectlayers>",
		"memory.qgs":  `<qgis><projectlayers><maplayer><id>m</id><datasource>Point?crs=EPSG:4326</datasource><provider>memory</provider></maplayer></projectlayers></qgis>`,
		"missing.qgs": `<qgis><projectlayers><maplayer><id>m</id><datasource>nothere.geojson</datasource><provider>ogr</provider></maplayer></projectlayers></qgis>`,
		"badcrs.yaml": "crs: EPSG:0\n",
		"nopath.yaml": "layers:\n  - label: x\n",
		"empty.qgz":   "not a zip file",
		"map.txt":     "",
	})

	for _, name := range []string{"broken.qgs", "memory.qgs", "missing.qgs", "badcrs.yaml", "nopath.yaml", "empty.qgz", "map.txt", "absent.qgs"} {
		t.Run(name, func(t *testing.T) {
			_, err := Open(filepath.Join(dir, name))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "%v", err)
		})
	}

	_, err := Open(filepath.Join(dir, "missing.qgs"))
	assert.True(t, errors.Is(err, layer.ErrInvalidSource))
}
