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

package style

import (
	"fmt"
	"image/color"
	"math"
	"math/rand/v2"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// ParseColor reads a colour in one of the forms used by style documents:
// "r,g,b,a" with decimal components (optionally followed by further
// comma-separated fields), "#rrggbb", "#rrggbbaa", or one of a few
// colour names.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return color.NRGBA{}, fmt.Errorf("empty colour")
	}
	if strings.HasPrefix(s, "#") {
		return parseHexColor(s)
	}
	if c, ok := namedColors[strings.ToLower(s)]; ok {
		return c, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) < 3 {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	var v [4]uint8
	v[3] = 255
	for i := 0; i < 4 && i < len(parts); i++ {
		x, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			if i == 3 {
				break
			}
			return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
		}
		v[i] = uint8(min(max(x, 0), 255))
	}
	return color.NRGBA{R: v[0], G: v[1], B: v[2], A: v[3]}, nil
}

func parseHexColor(s string) (color.NRGBA, error) {
	var alpha uint8 = 255
	hex := s
	if len(s) == 9 {
		a, err := strconv.ParseUint(s[7:9], 16, 8)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
		}
		alpha = uint8(a)
		hex = s[:7]
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: alpha}, nil
}

// FormatColor writes a colour as "r,g,b,a".
func FormatColor(c color.NRGBA) string {
	return fmt.Sprintf("%d,%d,%d,%d", c.R, c.G, c.B, c.A)
}

// FormatHex writes the colour part as "#rrggbb".
func FormatHex(c color.NRGBA) string {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}.Hex()
}

var namedColors = map[string]color.NRGBA{
	"black":       {0, 0, 0, 255},
	"white":       {255, 255, 255, 255},
	"red":         {255, 0, 0, 255},
	"green":       {0, 128, 0, 255},
	"lime":        {0, 255, 0, 255},
	"blue":        {0, 0, 255, 255},
	"yellow":      {255, 255, 0, 255},
	"gray":        {128, 128, 128, 255},
	"grey":        {128, 128, 128, 255},
	"orange":      {255, 165, 0, 255},
	"transparent": {0, 0, 0, 0},
}

// Lerp blends two colours in RGB space; t=0 gives a and t=1 gives b.
func Lerp(a, b color.NRGBA, t float64) color.NRGBA {
	t = min(max(t, 0), 1)
	ca := colorful.Color{R: float64(a.R) / 255, G: float64(a.G) / 255, B: float64(a.B) / 255}
	cb := colorful.Color{R: float64(b.R) / 255, G: float64(b.G) / 255, B: float64(b.B) / 255}
	m := ca.BlendRgb(cb, t)
	alpha := float64(a.A) + (float64(b.A)-float64(a.A))*t
	return color.NRGBA{
		R: uint8(m.R * 255),
		G: uint8(m.G * 255),
		B: uint8(m.B * 255),
		A: uint8(alpha),
	}
}

// RampStop is an intermediate colour of a gradient ramp.
type RampStop struct {
	Offset float64
	Color  color.NRGBA
}

// Ramp is a gradient from Color1 to Color2 through optional stops.  A
// discrete ramp jumps between colours instead of blending.
type Ramp struct {
	Color1, Color2 color.NRGBA
	Stops          []RampStop
	Discrete       bool
}

// DefaultRamp is the blue-green-red ramp used when a renderer needs one
// and none is given.
var DefaultRamp = &Ramp{
	Color1: color.NRGBA{43, 131, 186, 255},
	Color2: color.NRGBA{215, 25, 28, 255},
	Stops: []RampStop{
		{0.25, color.NRGBA{171, 221, 164, 255}},
		{0.5, color.NRGBA{255, 255, 191, 255}},
		{0.75, color.NRGBA{253, 174, 97, 255}},
	},
}

// At returns the ramp colour at position t in [0, 1].
func (r *Ramp) At(t float64) color.NRGBA {
	if math.IsNaN(t) {
		return color.NRGBA{}
	}
	t = min(max(t, 0), 1)
	lo, hi := RampStop{0, r.Color1}, RampStop{1, r.Color2}
	for _, s := range r.Stops {
		if s.Offset <= t {
			lo = s
		} else {
			hi = s
			break
		}
	}
	if r.Discrete {
		return lo.Color
	}
	if hi.Offset <= lo.Offset {
		return hi.Color
	}
	return Lerp(lo.Color, hi.Color, (t-lo.Offset)/(hi.Offset-lo.Offset))
}

var stopPattern = regexp.MustCompile(`([0-9.eE+-]+);(\d+,\d+,\d+(?:,\d+)?)`)

// parseRampProps reads a gradient ramp from its option map.
func parseRampProps(props map[string]string) (*Ramp, error) {
	c1, err := ParseColor(props["color1"])
	if err != nil {
		return nil, err
	}
	c2, err := ParseColor(props["color2"])
	if err != nil {
		return nil, err
	}
	r := &Ramp{Color1: c1, Color2: c2, Discrete: props["discrete"] == "1"}
	for _, m := range stopPattern.FindAllStringSubmatch(props["stops"], -1) {
		off, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ramp stop %q", m[0])
		}
		c, err := ParseColor(m[2])
		if err != nil {
			return nil, err
		}
		r.Stops = append(r.Stops, RampStop{off, c})
	}
	slices.SortStableFunc(r.Stops, func(a, b RampStop) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})
	return r, nil
}

func (r *Ramp) props() map[string]string {
	p := map[string]string{
		"color1":   FormatColor(r.Color1),
		"color2":   FormatColor(r.Color2),
		"discrete": "0",
		"rampType": "gradient",
	}
	if r.Discrete {
		p["discrete"] = "1"
	}
	var stops []string
	for _, s := range r.Stops {
		stops = append(stops, formatFloat(s.Offset)+";"+FormatColor(s.Color))
	}
	if len(stops) > 0 {
		p["stops"] = strings.Join(stops, ":")
	}
	return p
}

// RandomColors returns n distinct-looking opaque colours from a fixed
// seed, so that the same request gives the same colours every time.
func RandomColors(n int, seed uint64) []color.NRGBA {
	rng := rand.New(rand.NewPCG(seed, 0x6d61707265))
	res := make([]color.NRGBA, n)
	for i := range res {
		h := rng.Float64() * 360
		s := 0.5 + 0.4*rng.Float64()
		v := 0.6 + 0.35*rng.Float64()
		r, g, b := colorful.Hsv(h, s, v).Clamped().RGB255()
		res[i] = color.NRGBA{R: r, G: g, B: b, A: 255}
	}
	return res
}
