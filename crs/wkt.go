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

package crs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// node is one keyword of a WKT bracket tree, like SPHEROID["WGS 84",...].
type node struct {
	keyword string
	args    []arg
}

// arg is a quoted string, a number, a bare enumeration word or a nested
// node.
type arg struct {
	str   string
	num   float64
	isNum bool
	sub   *node
}

// child returns the first nested node with one of the given keywords.
func (n *node) child(keywords ...string) *node {
	for _, a := range n.args {
		if a.sub == nil {
			continue
		}
		for _, k := range keywords {
			if a.sub.keyword == k {
				return a.sub
			}
		}
	}
	return nil
}

// find searches the whole tree, depth first.
func (n *node) find(keywords ...string) *node {
	if c := n.child(keywords...); c != nil {
		return c
	}
	for _, a := range n.args {
		if a.sub != nil {
			if c := a.sub.find(keywords...); c != nil {
				return c
			}
		}
	}
	return nil
}

func (n *node) text(i int) string {
	if i < len(n.args) && n.args[i].sub == nil && !n.args[i].isNum {
		return n.args[i].str
	}
	return ""
}

func (n *node) number(i int) (float64, bool) {
	if i < len(n.args) && n.args[i].isNum {
		return n.args[i].num, true
	}
	return 0, false
}

// canonical writes the tree without whitespace and with upper-case
// keywords, so that equivalent spellings compare equal.
func (n *node) canonical(b *strings.Builder) {
	b.WriteString(strings.ToUpper(n.keyword))
	b.WriteByte('[')
	for i, a := range n.args {
		if i > 0 {
			b.WriteByte(',')
		}
		switch {
		case a.sub != nil:
			a.sub.canonical(b)
		case a.isNum:
			b.WriteString(strconv.FormatFloat(a.num, 'g', -1, 64))
		default:
			b.WriteString(strconv.Quote(a.str))
		}
	}
	b.WriteByte(']')
}

var errWKT = errors.New("malformed WKT")

type wktParser struct {
	s   string
	pos int
}

// parseWKT parses a complete WKT text.  Trailing garbage and unbalanced
// brackets are errors.
func parseWKT(s string) (*node, error) {
	p := &wktParser{s: s}
	n, err := p.node()
	if err != nil {
		return nil, err
	}
	p.space()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", errWKT, p.s[p.pos:], p.pos)
	}
	return n, nil
}

func (p *wktParser) space() {
	for p.pos < len(p.s) && unicode.IsSpace(rune(p.s[p.pos])) {
		p.pos++
	}
}

func (p *wktParser) word() string {
	p.space()
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '_' || c == '.' || c == '-' || c == '+' ||
			('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	return p.s[start:p.pos]
}

func (p *wktParser) node() (*node, error) {
	kw := p.word()
	if kw == "" {
		return nil, fmt.Errorf("%w: keyword expected at offset %d", errWKT, p.pos)
	}
	p.space()
	if p.pos >= len(p.s) || (p.s[p.pos] != '[' && p.s[p.pos] != '(') {
		return nil, fmt.Errorf("%w: %q is not followed by a bracket", errWKT, kw)
	}
	closing := byte(']')
	if p.s[p.pos] == '(' {
		closing = ')'
	}
	p.pos++

	n := &node{keyword: strings.ToUpper(kw)}
	for {
		p.space()
		if p.pos >= len(p.s) {
			return nil, fmt.Errorf("%w: unterminated %s", errWKT, n.keyword)
		}
		a, err := p.arg()
		if err != nil {
			return nil, err
		}
		n.args = append(n.args, a)

		p.space()
		if p.pos >= len(p.s) {
			return nil, fmt.Errorf("%w: unterminated %s", errWKT, n.keyword)
		}
		switch p.s[p.pos] {
		case ',':
			p.pos++
		case closing:
			p.pos++
			return n, nil
		default:
			return nil, fmt.Errorf("%w: unexpected %q in %s", errWKT, p.s[p.pos], n.keyword)
		}
	}
}

func (p *wktParser) arg() (arg, error) {
	c := p.s[p.pos]
	if c == '"' {
		s, err := p.quoted()
		return arg{str: s}, err
	}
	save := p.pos
	w := p.word()
	if w == "" {
		return arg{}, fmt.Errorf("%w: value expected at offset %d", errWKT, p.pos)
	}
	if f, err := strconv.ParseFloat(w, 64); err == nil {
		return arg{num: f, isNum: true}, nil
	}
	p.space()
	if p.pos < len(p.s) && (p.s[p.pos] == '[' || p.s[p.pos] == '(') {
		p.pos = save
		n, err := p.node()
		return arg{sub: n}, err
	}
	return arg{str: w}, nil
}

// quoted reads a double-quoted string; "" is an escaped quote.
func (p *wktParser) quoted() (string, error) {
	p.pos++
	var b strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		p.pos++
		if c != '"' {
			b.WriteByte(c)
			continue
		}
		if p.pos < len(p.s) && p.s[p.pos] == '"' {
			b.WriteByte('"')
			p.pos++
			continue
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("%w: unterminated string", errWKT)
}
