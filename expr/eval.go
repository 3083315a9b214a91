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
	"cmp"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ErrEval is wrapped by all evaluation errors.
var ErrEval = errors.New("expression evaluation failed")

func evalErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEval, fmt.Sprintf(format, args...))
}

func eval(n Node, env *Env) (any, error) {
	switch n := n.(type) {
	case *Literal:
		return n.Value, nil

	case *Column:
		if env.Feature == nil {
			return nil, nil
		}
		v, ok := env.Feature.Attribute(n.Name)
		if !ok {
			return nil, evalErrorf("no attribute %q", n.Name)
		}
		return Normalize(v), nil

	case *Variable:
		return Normalize(env.Vars[n.Name]), nil

	case *Special:
		return evalSpecial(n.Name, env)

	case *Unary:
		x, err := eval(n.Operand, env)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case "NOT":
			if x == nil {
				return nil, nil
			}
			return !Truthy(x), nil
		case "-":
			if x == nil {
				return nil, nil
			}
			switch x := x.(type) {
			case int64:
				return -x, nil
			case float64:
				return -x, nil
			}
			f, ok := ToFloat(x)
			if !ok {
				return nil, evalErrorf("cannot negate %v", x)
			}
			return -f, nil
		}
		return x, nil

	case *Binary:
		return evalBinary(n, env)

	case *In:
		x, err := eval(n.Operand, env)
		if err != nil || x == nil {
			return nil, err
		}
		for _, item := range n.List {
			y, err := eval(item, env)
			if err != nil {
				return nil, err
			}
			if y != nil && Compare(x, y) == 0 {
				return !n.Not, nil
			}
		}
		return n.Not, nil

	case *Between:
		x, err := eval(n.Operand, env)
		if err != nil {
			return nil, err
		}
		lo, err := eval(n.Lo, env)
		if err != nil {
			return nil, err
		}
		hi, err := eval(n.Hi, env)
		if err != nil {
			return nil, err
		}
		if x == nil || lo == nil || hi == nil {
			return nil, nil
		}
		in := Compare(x, lo) >= 0 && Compare(x, hi) <= 0
		return in != n.Not, nil

	case *Call:
		return callFunction(n, env)

	case *Case:
		for _, w := range n.Whens {
			c, err := eval(w.Cond, env)
			if err != nil {
				return nil, err
			}
			if Truthy(c) {
				return eval(w.Result, env)
			}
		}
		if n.Else != nil {
			return eval(n.Else, env)
		}
		return nil, nil
	}
	return nil, evalErrorf("unsupported node %T", n)
}

func evalSpecial(name string, env *Env) (any, error) {
	switch name {
	case "id":
		return env.FID, nil
	case "geometry", "currentfeature":
		return env.Geometry, nil
	case "area":
		if env.Geometry == nil {
			return nil, nil
		}
		return planar.Area(env.Geometry), nil
	case "length":
		if env.Geometry == nil {
			return nil, nil
		}
		return planar.Length(env.Geometry), nil
	case "x", "y":
		p, ok := env.Geometry.(orb.Point)
		if !ok {
			return nil, nil
		}
		if name == "x" {
			return p[0], nil
		}
		return p[1], nil
	case "scale":
		return Normalize(env.Vars["map_scale"]), nil
	}
	return nil, evalErrorf("unknown $%s", name)
}

func evalBinary(n *Binary, env *Env) (any, error) {
	l, err := eval(n.Left, env)
	if err != nil {
		return nil, err
	}

	// short circuit with three-valued logic
	switch n.Op {
	case "AND":
		if l != nil && !Truthy(l) {
			return false, nil
		}
		r, err := eval(n.Right, env)
		if err != nil {
			return nil, err
		}
		if r != nil && !Truthy(r) {
			return false, nil
		}
		if l == nil || r == nil {
			return nil, nil
		}
		return true, nil
	case "OR":
		if l != nil && Truthy(l) {
			return true, nil
		}
		r, err := eval(n.Right, env)
		if err != nil {
			return nil, err
		}
		if r != nil && Truthy(r) {
			return true, nil
		}
		if l == nil || r == nil {
			return nil, nil
		}
		return false, nil
	}

	r, err := eval(n.Right, env)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "IS":
		if l == nil || r == nil {
			return l == nil && r == nil, nil
		}
		return Compare(l, r) == 0, nil
	case "IS NOT":
		if l == nil || r == nil {
			return !(l == nil && r == nil), nil
		}
		return Compare(l, r) != 0, nil
	}

	if l == nil || r == nil {
		return nil, nil
	}

	switch n.Op {
	case "=":
		return Compare(l, r) == 0, nil
	case "<>":
		return Compare(l, r) != 0, nil
	case "<":
		return Compare(l, r) < 0, nil
	case "<=":
		return Compare(l, r) <= 0, nil
	case ">":
		return Compare(l, r) > 0, nil
	case ">=":
		return Compare(l, r) >= 0, nil
	case "~":
		re, err := regexp.Compile(ToString(r))
		if err != nil {
			return nil, evalErrorf("bad regular expression: %v", err)
		}
		return re.MatchString(ToString(l)), nil
	case "LIKE", "ILIKE", "NOT LIKE", "NOT ILIKE":
		m, err := like(ToString(l), ToString(r), strings.HasSuffix(n.Op, "ILIKE"))
		if err != nil {
			return nil, err
		}
		return m != strings.HasPrefix(n.Op, "NOT"), nil
	case "||":
		return ToString(l) + ToString(r), nil
	}
	return arithmetic(n.Op, l, r)
}

func arithmetic(op string, l, r any) (any, error) {
	if op == "+" {
		ls, lok := l.(string)
		rs, rok := r.(string)
		if lok && rok {
			return ls + rs, nil
		}
	}

	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		switch op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "//":
			if ri == 0 {
				return nil, nil
			}
			return int64(math.Floor(float64(li) / float64(ri))), nil
		case "%":
			if ri == 0 {
				return nil, nil
			}
			return li % ri, nil
		}
	}

	lf, ok1 := ToFloat(l)
	rf, ok2 := ToFloat(r)
	if !ok1 || !ok2 {
		return nil, evalErrorf("cannot apply %s to %v and %v", op, l, r)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, nil
		}
		return lf / rf, nil
	case "//":
		if rf == 0 {
			return nil, nil
		}
		return int64(math.Floor(lf / rf)), nil
	case "%":
		if rf == 0 {
			return nil, nil
		}
		return math.Mod(lf, rf), nil
	case "^":
		return math.Pow(lf, rf), nil
	}
	return nil, evalErrorf("unknown operator %s", op)
}

// like matches s against an SQL LIKE pattern.
func like(s, pattern string, fold bool) (bool, error) {
	var b strings.Builder
	if fold {
		b.WriteString("(?is)^")
	} else {
		b.WriteString("(?s)^")
	}
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		case '\\':
			if i+1 < len(pattern) {
				i++
				b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false, evalErrorf("bad LIKE pattern %q", pattern)
	}
	return re.MatchString(s), nil
}

// Normalize converts Go numeric types to int64 or float64.
func Normalize(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return float64(v)
	}
	return v
}

// Truthy converts a value to a boolean.
func Truthy(v any) bool {
	switch v := Normalize(v).(type) {
	case nil:
		return false
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0 && !math.IsNaN(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f != 0
		}
		return v != "" && !strings.EqualFold(v, "false")
	case time.Duration:
		return v != 0
	case time.Time:
		return !v.IsZero()
	}
	return true
}

// ToFloat converts a value to a number.  Numeric strings are accepted.
func ToFloat(v any) (float64, bool) {
	switch v := Normalize(v).(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	case time.Duration:
		return v.Seconds(), true
	}
	return 0, false
}

// ToString converts a value to text.  NULL becomes the empty string.
func ToString(v any) string {
	switch v := Normalize(v).(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format("2006-01-02")
		}
		return v.Format("2006-01-02T15:04:05")
	case time.Duration:
		return formatTimeOfDay(v)
	}
	return fmt.Sprint(v)
}

func formatTimeOfDay(d time.Duration) string {
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Compare orders two non-NULL values.  Numbers compare numerically,
// also against numeric strings; times compare chronologically;
// everything else compares as text.
func Compare(a, b any) int {
	a, b = Normalize(a), Normalize(b)
	switch a := a.(type) {
	case time.Time:
		if b, ok := b.(time.Time); ok {
			return a.Compare(b)
		}
	case time.Duration:
		if b, ok := b.(time.Duration); ok {
			return cmp.Compare(a, b)
		}
	case bool:
		if b, ok := b.(bool); ok {
			return cmp.Compare(boolInt(a), boolInt(b))
		}
	}
	_, aStr := a.(string)
	_, bStr := b.(string)
	if !aStr || !bStr {
		af, ok1 := ToFloat(a)
		bf, ok2 := ToFloat(b)
		if ok1 && ok2 {
			return cmp.Compare(af, bf)
		}
	}
	return strings.Compare(ToString(a), ToString(b))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
