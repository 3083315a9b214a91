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
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

type attrs map[string]any

func (a attrs) Attribute(name string) (any, bool) {
	v, ok := a[name]
	return v, ok
}

func (a attrs) AttributeNames() []string {
	var names []string
	for k := range a {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

func TestEval(t *testing.T) {
	env := &Env{
		Feature: attrs{
			"name":    "Main Street",
			"lanes":   int32(2),
			"speed":   50.0,
			"HIGHWAY": "primary",
			"empty":   nil,
			"opened":  time.Date(2020, 5, 17, 0, 0, 0, 0, time.UTC),
		},
		FID:  7,
		Vars: map[string]any{"map_scale": 25000.0},
	}

	cases := []struct {
		src  string
		want any
	}{
		{"1 + 2", int64(3)},
		{"7 / 2", 3.5},
		{"7 // 2", int64(3)},
		{"7 % 3", int64(1)},
		{"2 ^ 3 ^ 2", 512.0},
		{"-lanes", int64(-2)},
		{"lanes * speed", 100.0},
		{"'a' || 'b' || 3", "ab3"},
		{"'a' + 'b'", "ab"},
		{"\"HIGHWAY\" = 'primary'", true},
		{"lanes >= 2 AND speed < 60", true},
		{"lanes > 2 OR speed < 60", true},
		{"NOT lanes = 2", false},
		{"lanes IN (1, 2, 3)", true},
		{"lanes NOT IN (1, 3)", true},
		{"speed BETWEEN 40 AND 50", true},
		{"speed NOT BETWEEN 40 AND 50", false},
		{"name LIKE 'Main%'", true},
		{"name LIKE 'main%'", false},
		{"name ILIKE 'main%'", true},
		{"name NOT LIKE '%Road'", true},
		{"name ~ 'S.*t$'", true},
		{"empty IS NULL", true},
		{"empty IS NOT NULL", false},
		{"empty = 1", nil},
		{"empty + 1", nil},
		{"empty AND FALSE", false},
		{"empty OR TRUE", true},
		{"empty AND TRUE", nil},
		{"1 / 0", nil},
		{"'10' = 10", true},
		{"'9' < '10'", false},
		{"CASE WHEN lanes = 1 THEN 'one' WHEN lanes = 2 THEN 'two' ELSE 'many' END", "two"},
		{"CASE WHEN lanes > 5 THEN 'many' END", nil},
		{"$id", int64(7)},
		{"@map_scale", 25000.0},
		{"$scale", 25000.0},
		{"upper(name)", "MAIN STREET"},
		{"length(name)", int64(11)},
		{"substr(name, 6)", "Street"},
		{"substr(name, 1, 4)", "Main"},
		{"substr(name, -6, 3)", "Str"},
		{"left(name, 4)", "Main"},
		{"right(name, 6)", "Street"},
		{"replace(name, 'Street', 'St')", "Main St"},
		{"concat(name, ' ', lanes)", "Main Street 2"},
		{"coalesce(empty, 'x')", "x"},
		{"if(lanes = 2, 'yes', 'no')", "yes"},
		{"round(2.567, 2)", 2.57},
		{"round(2.5)", int64(3)},
		{"max(1, 5, 3)", int64(5)},
		{"min(4, empty, 2)", int64(2)},
		{"to_int('42')", int64(42)},
		{"to_real('1.5')", 1.5},
		{"to_string(12)", "12"},
		{"format_number(1234567.891, 2)", "1,234,567.89"},
		{"attribute('HIGHWAY')", "primary"},
		{"regexp_match(name, 'Str')", int64(6)},
		{"opened > to_date('2020-01-01')", true},
		{"to_time('12:30') > to_time('08:00')", true},
		{"strpos(name, 'Street')", int64(6)},
	}
	for _, c := range cases {
		t.Run(c.src, func(t *testing.T) {
			e, err := Parse(c.src)
			if err != nil {
				t.Fatal(err)
			}
			got, err := e.Eval(env)
			if err != nil {
				t.Fatal(err)
			}
			if got != c.want {
				t.Errorf("got %#v, want %#v", got, c.want)
			}
		})
	}
}

func TestSyntaxErrors(t *testing.T) {
	bad := []string{
		"",
		"1 +",
		"(1 + 2",
		"'unterminated",
		"a = = b",
		"nosuchfunction(1)",
		"CASE WHEN a THEN b",
		"a BETWEEN 1",
		"a IN 1, 2",
		"AND",
		"x # y",
	}
	for _, src := range bad {
		_, err := Parse(src)
		var se *SyntaxError
		if !errors.As(err, &se) {
			t.Errorf("%q: expected syntax error, got %v", src, err)
		}
	}
}

func TestMissingAttribute(t *testing.T) {
	e := MustParse("nosuch = 1")
	_, err := e.Eval(&Env{Feature: attrs{}})
	if !errors.Is(err, ErrEval) {
		t.Errorf("got %v, want ErrEval", err)
	}
}

func TestColumns(t *testing.T) {
	cases := []struct {
		src     string
		names   []string
		unknown bool
	}{
		{"a = 1 AND b > c", []string{"a", "b", "c"}, false},
		{"\"HIGHWAY\" = 'primary'", []string{"HIGHWAY"}, false},
		{"attribute('z') + y", []string{"y", "z"}, false},
		{"attribute(@name)", nil, true},
		{"represent_value(\"kind\")", []string{"kind"}, true},
		{"$area > 10", nil, false},
		{"1", nil, false},
	}
	for _, c := range cases {
		t.Run(c.src, func(t *testing.T) {
			cols := MustParse(c.src).Columns()
			if !slices.Equal(cols.Names, c.names) {
				t.Errorf("names: got %v, want %v", cols.Names, c.names)
			}
			if cols.Unknown != c.unknown {
				t.Errorf("unknown: got %t, want %t", cols.Unknown, c.unknown)
			}
		})
	}
}

func TestColumnsMerge(t *testing.T) {
	a := Columns{Names: []string{"a", "c"}}
	b := Columns{Names: []string{"b", "c"}, Unknown: true}
	m := a.Merge(b)
	if !slices.Equal(m.Names, []string{"a", "b", "c"}) || !m.Unknown {
		t.Errorf("got %+v", m)
	}
}

// TestFormatRoundTrip checks that formatted syntax trees parse back to
// expressions with the same value.
func TestFormatRoundTrip(t *testing.T) {
	env := &Env{Feature: attrs{"a": int64(3), "b": "x'y"}}
	srcs := []string{
		"a + 1 * 2",
		"(a + 1) * 2",
		"b = 'x''y'",
		"a NOT IN (1, 2)",
		"NOT (a > 1 AND b IS NULL)",
		"CASE WHEN a = 3 THEN 'three' ELSE 'other' END",
		"-a",
	}
	for _, src := range srcs {
		e1 := MustParse(src)
		e2 := FromNode(e1.Root())
		e3, err := Parse(e2.String())
		if err != nil {
			t.Errorf("%q -> %q: %v", src, e2.String(), err)
			continue
		}
		v1, err1 := e1.Eval(env)
		v3, err3 := e3.Eval(env)
		if err1 != nil || err3 != nil || v1 != v3 {
			t.Errorf("%q -> %q: %v != %v", src, e2.String(), v1, v3)
		}
	}
}

func TestGeometrySpecials(t *testing.T) {
	poly := orb.Polygon{{{0, 0}, {2, 0}, {2, 3}, {0, 3}, {0, 0}}}
	v, err := MustParse("$area").Eval(&Env{Geometry: poly})
	if err != nil {
		t.Fatal(err)
	}
	if v != 6.0 {
		t.Errorf("$area = %v, want 6", v)
	}
	v, err = MustParse("$x").Eval(&Env{Geometry: orb.Point{37.61739, 55.75062}})
	if err != nil {
		t.Fatal(err)
	}
	if v != 37.61739 {
		t.Errorf("$x = %v", v)
	}
}

func TestField(t *testing.T) {
	if name, ok := MustParse(`"pop"`).Field(); !ok || name != "pop" {
		t.Errorf("got %q %t", name, ok)
	}
	if _, ok := MustParse(`pop * 2`).Field(); ok {
		t.Error("expression reported as plain field")
	}
}

func TestTruthy(t *testing.T) {
	cases := []struct {
		v    any
		want bool
	}{
		{nil, false},
		{true, true},
		{int64(0), false},
		{int32(3), true},
		{0.0, false},
		{"", false},
		{"0", false},
		{"abc", true},
		{"false", false},
	}
	for _, c := range cases {
		if got := Truthy(c.v); got != c.want {
			t.Errorf("Truthy(%#v) = %t", c.v, got)
		}
	}
}

func BenchmarkEval(b *testing.B) {
	e := MustParse("lanes >= 2 AND name LIKE 'Main%' OR speed * 2 > 100")
	env := &Env{Feature: attrs{"lanes": int64(2), "name": "Main Street", "speed": 50.0}}
	for b.Loop() {
		_, _ = e.Eval(env)
	}
}
