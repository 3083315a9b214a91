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
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// function describes a built-in function.  Arguments are evaluated before
// the call unless lazy is set, in which case callFunction handles the
// node itself.
type function struct {
	minArgs, maxArgs int // maxArgs < 0 means unbounded
	lazy             bool
	call             func(env *Env, args []any) (any, error)
}

var functions map[string]*function

func init() {
	functions = map[string]*function{
		"abs":   {1, 1, false, mathFn(math.Abs)},
		"ceil":  {1, 1, false, mathFn(math.Ceil)},
		"floor": {1, 1, false, mathFn(math.Floor)},
		"sqrt":  {1, 1, false, mathFn(math.Sqrt)},
		"exp":   {1, 1, false, mathFn(math.Exp)},
		"ln":    {1, 1, false, mathFn(math.Log)},
		"log10": {1, 1, false, mathFn(math.Log10)},
		"round": {1, 2, false, fnRound},
		"min":   {1, -1, false, extremum(-1)},
		"max":   {1, -1, false, extremum(1)},
		"pi":    {0, 0, false, func(*Env, []any) (any, error) { return math.Pi, nil }},

		"coalesce": {1, -1, true, nil},
		"if":       {3, 3, true, nil},

		"length":  {1, 1, false, fnLength},
		"upper":   {1, 1, false, strFn(strings.ToUpper)},
		"lower":   {1, 1, false, strFn(strings.ToLower)},
		"trim":    {1, 1, false, strFn(strings.TrimSpace)},
		"substr":  {2, 3, false, fnSubstr},
		"left":    {2, 2, false, fnLeft},
		"right":   {2, 2, false, fnRight},
		"replace": {3, 3, false, fnReplace},
		"concat":  {0, -1, false, fnConcat},
		"strpos":  {2, 2, false, fnStrpos},

		"regexp_match":   {2, 2, false, fnRegexpMatch},
		"regexp_replace": {3, 3, false, fnRegexpReplace},
		"format_number":  {1, 2, false, fnFormatNumber},

		"to_int":      {1, 1, false, fnToInt},
		"to_real":     {1, 1, false, fnToReal},
		"to_string":   {1, 1, false, fnToString},
		"to_date":     {1, 1, false, fnToDate},
		"to_datetime": {1, 1, false, fnToDate},
		"to_time":     {1, 1, false, fnToTime},

		"attribute":       {1, 2, false, fnAttribute},
		"attributes":      {0, 0, false, fnAttributes},
		"get_feature":     {3, 3, false, unsupported("get_feature")},
		"represent_value": {1, 2, false, fnRepresentValue},
	}
}

func callFunction(n *Call, env *Env) (any, error) {
	f := functions[n.Name]
	if f == nil {
		return nil, evalErrorf("unknown function %s", n.Name)
	}
	if len(n.Args) < f.minArgs || f.maxArgs >= 0 && len(n.Args) > f.maxArgs {
		return nil, evalErrorf("%s: wrong number of arguments", n.Name)
	}

	if f.lazy {
		switch n.Name {
		case "coalesce":
			for _, a := range n.Args {
				v, err := eval(a, env)
				if err != nil {
					return nil, err
				}
				if v != nil {
					return v, nil
				}
			}
			return nil, nil
		case "if":
			c, err := eval(n.Args[0], env)
			if err != nil {
				return nil, err
			}
			if Truthy(c) {
				return eval(n.Args[1], env)
			}
			return eval(n.Args[2], env)
		}
	}

	args := make([]any, len(n.Args))
	for i, a := range n.Args {
		v, err := eval(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return f.call(env, args)
}

func mathFn(fn func(float64) float64) func(*Env, []any) (any, error) {
	return func(_ *Env, args []any) (any, error) {
		if args[0] == nil {
			return nil, nil
		}
		x, ok := ToFloat(args[0])
		if !ok {
			return nil, evalErrorf("number expected, got %v", args[0])
		}
		return fn(x), nil
	}
}

func strFn(fn func(string) string) func(*Env, []any) (any, error) {
	return func(_ *Env, args []any) (any, error) {
		if args[0] == nil {
			return nil, nil
		}
		return fn(ToString(args[0])), nil
	}
}

func fnRound(_ *Env, args []any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	x, ok := ToFloat(args[0])
	if !ok {
		return nil, evalErrorf("round: number expected")
	}
	if len(args) == 1 {
		return int64(math.Round(x)), nil
	}
	places, _ := ToFloat(args[1])
	scale := math.Pow(10, math.Trunc(places))
	return math.Round(x*scale) / scale, nil
}

func extremum(sign int) func(*Env, []any) (any, error) {
	return func(_ *Env, args []any) (any, error) {
		var best any
		for _, a := range args {
			if a == nil {
				continue
			}
			if best == nil || Compare(a, best)*sign > 0 {
				best = a
			}
		}
		return best, nil
	}
}

func fnLength(_ *Env, args []any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	return int64(utf8.RuneCountInString(ToString(args[0]))), nil
}

// fnSubstr implements substr(s, start[, length]) with 1-based start.
// A negative start counts from the end.
func fnSubstr(_ *Env, args []any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	r := []rune(ToString(args[0]))
	start64, _ := ToFloat(args[1])
	start := int(start64)
	switch {
	case start < 0:
		start = max(len(r)+start, 0)
	case start > 0:
		start--
	}
	start = min(start, len(r))
	end := len(r)
	if len(args) == 3 && args[2] != nil {
		n, _ := ToFloat(args[2])
		if n < 0 {
			end = max(len(r)+int(n), start)
		} else {
			end = min(start+int(n), len(r))
		}
	}
	return string(r[start:end]), nil
}

func fnLeft(_ *Env, args []any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	r := []rune(ToString(args[0]))
	n, _ := ToFloat(args[1])
	k := min(max(int(n), 0), len(r))
	return string(r[:k]), nil
}

func fnRight(_ *Env, args []any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	r := []rune(ToString(args[0]))
	n, _ := ToFloat(args[1])
	k := min(max(int(n), 0), len(r))
	return string(r[len(r)-k:]), nil
}

func fnReplace(_ *Env, args []any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	return strings.ReplaceAll(ToString(args[0]), ToString(args[1]), ToString(args[2])), nil
}

func fnConcat(_ *Env, args []any) (any, error) {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(ToString(a))
	}
	return b.String(), nil
}

func fnStrpos(_ *Env, args []any) (any, error) {
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	s, sub := ToString(args[0]), ToString(args[1])
	i := strings.Index(s, sub)
	if i < 0 {
		return int64(0), nil
	}
	return int64(utf8.RuneCountInString(s[:i]) + 1), nil
}

func fnRegexpMatch(_ *Env, args []any) (any, error) {
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	re, err := regexp.Compile(ToString(args[1]))
	if err != nil {
		return nil, evalErrorf("regexp_match: %v", err)
	}
	loc := re.FindStringIndex(ToString(args[0]))
	if loc == nil {
		return int64(0), nil
	}
	return int64(utf8.RuneCountInString(ToString(args[0])[:loc[0]]) + 1), nil
}

func fnRegexpReplace(_ *Env, args []any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	re, err := regexp.Compile(ToString(args[1]))
	if err != nil {
		return nil, evalErrorf("regexp_replace: %v", err)
	}
	return re.ReplaceAllString(ToString(args[0]), ToString(args[2])), nil
}

var numberPrinter = message.NewPrinter(language.English)

// fnFormatNumber formats a number with thousands separators.
func fnFormatNumber(_ *Env, args []any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	x, ok := ToFloat(args[0])
	if !ok {
		return nil, evalErrorf("format_number: number expected")
	}
	places := 0
	if len(args) == 2 {
		p, _ := ToFloat(args[1])
		places = max(int(p), 0)
	}
	return numberPrinter.Sprint(number.Decimal(x, number.Scale(places))), nil
}

func fnToInt(_ *Env, args []any) (any, error) {
	switch v := Normalize(args[0]).(type) {
	case nil:
		return nil, nil
	case int64:
		return v, nil
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i, nil
		}
	}
	f, ok := ToFloat(args[0])
	if !ok {
		return nil, evalErrorf("cannot convert %q to integer", ToString(args[0]))
	}
	return int64(math.Trunc(f)), nil
}

func fnToReal(_ *Env, args []any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	f, ok := ToFloat(args[0])
	if !ok {
		return nil, evalErrorf("cannot convert %q to real", ToString(args[0]))
	}
	return f, nil
}

func fnToString(_ *Env, args []any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	return ToString(args[0]), nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate reads a date or date-time in ISO format.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseTimeOfDay reads hh:mm[:ss] as the offset from midnight.
func ParseTimeOfDay(s string) (time.Duration, bool) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, true
		}
	}
	return 0, false
}

func fnToDate(_ *Env, args []any) (any, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v, nil
	}
	t, ok := ParseDate(ToString(args[0]))
	if !ok {
		return nil, evalErrorf("cannot convert %q to date", ToString(args[0]))
	}
	return t, nil
}

func fnToTime(_ *Env, args []any) (any, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case time.Duration:
		return v, nil
	case time.Time:
		return time.Duration(v.Hour())*time.Hour +
			time.Duration(v.Minute())*time.Minute +
			time.Duration(v.Second())*time.Second, nil
	}
	d, ok := ParseTimeOfDay(ToString(args[0]))
	if !ok {
		return nil, evalErrorf("cannot convert %q to time", ToString(args[0]))
	}
	return d, nil
}

func fnAttribute(env *Env, args []any) (any, error) {
	name := ToString(args[len(args)-1])
	if env.Feature == nil {
		return nil, nil
	}
	v, _ := env.Feature.Attribute(name)
	return Normalize(v), nil
}

// AttributeLister is implemented by features which can enumerate their
// attributes.
type AttributeLister interface {
	AttributeNames() []string
}

func fnAttributes(env *Env, _ []any) (any, error) {
	l, ok := env.Feature.(AttributeLister)
	if !ok {
		return nil, evalErrorf("attributes() is not available")
	}
	res := make(map[string]any)
	for _, name := range l.AttributeNames() {
		v, _ := env.Feature.Attribute(name)
		res[name] = Normalize(v)
	}
	return res, nil
}

// fnRepresentValue has no widget configuration to consult and returns
// the raw value.
func fnRepresentValue(_ *Env, args []any) (any, error) {
	return args[0], nil
}

func unsupported(name string) func(*Env, []any) (any, error) {
	return func(*Env, []any) (any, error) {
		return nil, evalErrorf("%s() needs access to other layers", name)
	}
}
