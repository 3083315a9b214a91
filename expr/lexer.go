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

package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent  // bare identifier or keyword
	tokQuoted // "quoted identifier"
	tokVar    // @name
	tokSpecial
	tokOp
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// keywords are matched case-insensitively against bare identifiers.
var keywords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "IS": true, "IN": true,
	"LIKE": true, "ILIKE": true, "NULL": true, "TRUE": true, "FALSE": true,
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"BETWEEN": true,
}

func isKeyword(t token, kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

// lex splits an expression into tokens.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, w := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += w

		case r == '-' && strings.HasPrefix(src[i:], "--"):
			// comment to end of line
			for i < len(src) && src[i] != '\n' {
				i++
			}

		case r >= '0' && r <= '9' || (r == '.' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9'):
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && src[j] >= '0' && src[j] <= '9' {
					i = j
					for i < len(src) && src[i] >= '0' && src[i] <= '9' {
						i++
					}
				}
			}
			toks = append(toks, token{tokNumber, src[start:i], start})

		case r == '\'':
			s, n, err := readQuoted(src[i:], '\'')
			if err != nil {
				return nil, fmt.Errorf("offset %d: %w", i, err)
			}
			toks = append(toks, token{tokString, s, i})
			i += n

		case r == '"':
			s, n, err := readQuoted(src[i:], '"')
			if err != nil {
				return nil, fmt.Errorf("offset %d: %w", i, err)
			}
			toks = append(toks, token{tokQuoted, s, i})
			i += n

		case r == '@' || r == '$':
			start := i
			i += w
			for i < len(src) {
				r2, w2 := utf8.DecodeRuneInString(src[i:])
				if !isIdentRune(r2) {
					break
				}
				i += w2
			}
			if i == start+1 {
				return nil, fmt.Errorf("offset %d: name expected after %q", start, r)
			}
			kind := tokVar
			if r == '$' {
				kind = tokSpecial
			}
			toks = append(toks, token{kind, src[start+1 : i], start})

		case isIdentRune(r):
			start := i
			for i < len(src) {
				r2, w2 := utf8.DecodeRuneInString(src[i:])
				if !isIdentRune(r2) {
					break
				}
				i += w2
			}
			toks = append(toks, token{tokIdent, src[start:i], start})

		default:
			op := ""
			for _, cand := range []string{"<>", "!=", "<=", ">=", "||", "//", "=", "<", ">", "+", "-", "*", "/", "%", "^", "(", ")", ",", "~"} {
				if strings.HasPrefix(src[i:], cand) {
					op = cand
					break
				}
			}
			if op == "" {
				return nil, fmt.Errorf("offset %d: unexpected character %q", i, r)
			}
			toks = append(toks, token{tokOp, op, i})
			i += len(op)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// readQuoted reads a string delimited by q, where a doubled q stands for
// itself and a backslash escapes the next character.  It returns the
// unquoted text and the number of bytes consumed.
func readQuoted(s string, q byte) (string, int, error) {
	var b strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[i+1])
			}
			i += 2
		case c == q && i+1 < len(s) && s[i+1] == q:
			b.WriteByte(q)
			i += 2
		case c == q:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated %c string", q)
}
