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

package layer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

var errShortWKB = errors.New("truncated WKB")

// maxWKBDepth limits the nesting of geometry collections.
const maxWKBDepth = 32

// decodeWKB decodes a geometry blob.  Z and M ordinates, in both the ISO
// (type + 1000/2000/3000) and the EWKB (high flag bits) encodings, are
// dropped, and an EWKB SRID is ignored.
func decodeWKB(data []byte) (orb.Geometry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	flat := &wkbFlattener{in: data}
	if err := flat.geometry(0); err != nil {
		return nil, err
	}
	if flat.pos != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after WKB geometry", len(data)-flat.pos)
	}
	return wkb.Unmarshal(flat.out)
}

// wkbFlattener rewrites a WKB blob as little-endian 2D WKB.
type wkbFlattener struct {
	in  []byte
	pos int
	out []byte
}

func (f *wkbFlattener) read(n int) ([]byte, error) {
	if n < 0 || f.pos+n > len(f.in) {
		return nil, errShortWKB
	}
	b := f.in[f.pos : f.pos+n]
	f.pos += n
	return b, nil
}

func (f *wkbFlattener) uint32(order binary.ByteOrder) (uint32, error) {
	b, err := f.read(4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(b), nil
}

func (f *wkbFlattener) geometry(depth int) error {
	if depth > maxWKBDepth {
		return errors.New("WKB nesting too deep")
	}
	b, err := f.read(1)
	if err != nil {
		return err
	}
	var order binary.ByteOrder
	switch b[0] {
	case 0:
		order = binary.BigEndian
	case 1:
		order = binary.LittleEndian
	default:
		return fmt.Errorf("invalid WKB byte order %d", b[0])
	}
	raw, err := f.uint32(order)
	if err != nil {
		return err
	}

	dims := 2
	if raw&0x80000000 != 0 {
		dims++
	}
	if raw&0x40000000 != 0 {
		dims++
	}
	if raw&0x20000000 != 0 {
		if _, err := f.read(4); err != nil { // SRID
			return err
		}
	}
	typ := raw & 0x0fffffff
	switch typ / 1000 {
	case 1, 2:
		dims = 3
	case 3:
		dims = 4
	}
	typ %= 1000

	f.out = append(f.out, 1)
	f.out = binary.LittleEndian.AppendUint32(f.out, typ)

	switch typ {
	case 1: // point
		return f.points(order, 1, dims)
	case 2: // line string
		n, err := f.count(order)
		if err != nil {
			return err
		}
		return f.points(order, n, dims)
	case 3: // polygon
		rings, err := f.count(order)
		if err != nil {
			return err
		}
		for range rings {
			n, err := f.count(order)
			if err != nil {
				return err
			}
			if err := f.points(order, n, dims); err != nil {
				return err
			}
		}
		return nil
	case 4, 5, 6, 7: // multi-geometries and collections
		n, err := f.count(order)
		if err != nil {
			return err
		}
		for range n {
			if err := f.geometry(depth + 1); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported WKB geometry type %d", typ)
}

func (f *wkbFlattener) count(order binary.ByteOrder) (int, error) {
	n, err := f.uint32(order)
	if err != nil {
		return 0, err
	}
	if int(n) > len(f.in)-f.pos {
		return 0, errShortWKB
	}
	f.out = binary.LittleEndian.AppendUint32(f.out, n)
	return int(n), nil
}

func (f *wkbFlattener) points(order binary.ByteOrder, n, dims int) error {
	for range n {
		b, err := f.read(8 * dims)
		if err != nil {
			return err
		}
		f.out = binary.LittleEndian.AppendUint64(f.out, order.Uint64(b[0:8]))
		f.out = binary.LittleEndian.AppendUint64(f.out, order.Uint64(b[8:16]))
	}
	return nil
}
