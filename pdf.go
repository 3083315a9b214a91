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

package maprender

import (
	"github.com/paulmach/orb"

	"seehuhn.de/go/pdf"
	"seehuhn.de/go/pdf/document"
)

// ExportPDF draws the map into a single-page PDF file.  The page has the
// physical size the image would have at the DPI of the request; shapes
// and text are written as vector paths.  The returned diagnostics list
// the features which could not be drawn.
func (r *MapRequest) ExportPDF(path string, extent orb.Bound, size Size, opts ...RenderOption) ([]Diagnostic, error) {
	const op = "export PDF"
	pass, err := r.newPass(op, extent, size, opts)
	if err != nil {
		return nil, err
	}

	s := 72 / r.dpi
	paper := &pdf.Rectangle{
		URx: float64(size.Width) * s,
		URy: float64(size.Height) * s,
	}
	page, err := document.CreateSinglePage(path, paper, pdf.V1_7, nil)
	if err != nil {
		return nil, &EngineError{Op: op, Reason: "cannot create " + path, Err: err}
	}

	surf := newPDFSurface(page, size.Height, r.dpi)
	if r.background.A > 0 {
		solidRect(surf, orb.Bound{Max: orb.Point{float64(size.Width), float64(size.Height)}}, r.background)
	}
	pass.run(surf)

	if err := page.Close(); err != nil {
		return nil, &EngineError{Op: op, Reason: "cannot write " + path, Err: err}
	}
	return pass.diags, nil
}
