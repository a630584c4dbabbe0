// Package selector picks named variables at named levels out of GRIB2
// inventories and turns the selected messages into RawMessages.
package selector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/NOAA-EMC/MLGEFS/catalog"
)

// Query selects records by wgrib2 match patterns.
type Query struct {
	// Variable matches ":VAR:", e.g. ":TMP:" or ":(UGRD|VGRD):".
	Variable string
	// Level matches ":LEVEL:", e.g. ":2 m above ground:" or ":(50|100) mb:".
	Level string
	// Levels are the numeric levels named by Level in caller order. A query
	// with at most one level selects a single level per variable.
	Levels []int

	variable, level *regexp.Regexp
}

var digitsRegex = regexp.MustCompile(`\d+`)

// NewQuery compiles the patterns and collects the numeric levels of the level
// pattern.
func NewQuery(variable, level string) (Query, error) {
	q := Query{Variable: variable, Level: level}
	var err error
	if q.variable, err = regexp.Compile(variable); err != nil {
		return Query{}, fmt.Errorf("bad variable pattern %q: %w", variable, err)
	}
	if q.level, err = regexp.Compile(level); err != nil {
		return Query{}, fmt.Errorf("bad level pattern %q: %w", level, err)
	}
	for _, d := range digitsRegex.FindAllString(level, -1) {
		n, _ := strconv.Atoi(d)
		q.Levels = append(q.Levels, n)
	}
	return q, nil
}

// MustQuery is NewQuery for patterns known to be valid.
func MustQuery(variable, level string) Query {
	q, err := NewQuery(variable, level)
	if err != nil {
		panic(err)
	}
	return q
}

// Variables returns the alternated short names of the variable pattern in
// pattern order.
func (q Query) Variables() []string {
	p := strings.Trim(q.Variable, ":")
	p = strings.TrimSuffix(strings.TrimPrefix(p, "("), ")")
	return strings.Split(p, "|")
}

func (q Query) multiLevel() bool { return len(q.Levels) > 1 }

func (q Query) matches(r Record) bool {
	return q.variable.MatchString(":"+r.Var+":") && q.level.MatchString(":"+r.Level+":")
}

// SelectionError reports a query that did not match the expected number of
// distinct levels for a variable, or a level matched by several records of the
// same step type.
type SelectionError struct {
	Variable string
	Level    string
	File     string
	Want     int
	Got      int
	// StepType is set when Got records of one level share it. Duplicates
	// are their inventory indices when known.
	StepType   string
	Duplicates []int
}

func (e *SelectionError) Error() string {
	if e.StepType != "" {
		return fmt.Sprintf("selecting %s at %s from %s: %d records %v share step type %s",
			e.Variable, e.Level, e.File, e.Got, e.Duplicates, e.StepType)
	}
	return fmt.Sprintf("selecting %s at %s from %s: want %d distinct levels, got %d",
		e.Variable, e.Level, e.File, e.Want, e.Got)
}

// checkDuplicates fails when two records of one level have the same step type.
func checkDuplicates(file string, recs []Record) error {
	byStep := map[string][]int{}
	for _, r := range recs {
		byStep[r.StepType()] = append(byStep[r.StepType()], r.Index)
	}
	for _, r := range recs {
		if idx := byStep[r.StepType()]; len(idx) > 1 {
			return &SelectionError{Variable: r.Var, Level: r.Level, File: file, Want: 1, Got: len(idx),
				StepType: r.StepType(), Duplicates: idx}
		}
	}
	return nil
}

// Select filters inv with q. For a single-level query every alternated
// variable must match exactly one level; for N levels exactly N. Records are
// returned ordered by variable alternation order, then caller level order.
// Records sharing a (variable, level) with different step types are all kept;
// sharing a step type too is a SelectionError.
func Select(inv *Inventory, q Query) ([]Record, error) {
	if q.variable == nil || q.level == nil {
		var err error
		if q, err = NewQuery(q.Variable, q.Level); err != nil {
			return nil, err
		}
	}
	want := 1
	if q.multiLevel() {
		want = len(q.Levels)
	}

	byVar := map[string]map[string][]Record{}
	for _, r := range inv.Records {
		if !q.matches(r) {
			continue
		}
		if byVar[r.Var] == nil {
			byVar[r.Var] = map[string][]Record{}
		}
		byVar[r.Var][r.Level] = append(byVar[r.Var][r.Level], r)
	}

	var out []Record
	for _, v := range q.Variables() {
		levels := byVar[v]
		if len(levels) != want {
			return nil, &SelectionError{Variable: v, Level: q.Level, File: inv.File, Want: want, Got: len(levels)}
		}
		for _, recs := range levels {
			if err := checkDuplicates(inv.File, recs); err != nil {
				return nil, err
			}
		}
		if !q.multiLevel() {
			for _, recs := range levels {
				out = append(out, recs...)
			}
			continue
		}
		byNumber := map[int][]Record{}
		for desc, recs := range levels {
			_, value, err := ParseLevel(desc)
			if err != nil {
				return nil, err
			}
			byNumber[int(value)] = recs
		}
		for _, l := range q.Levels {
			recs, ok := byNumber[l]
			if !ok {
				return nil, &SelectionError{Variable: v, Level: fmt.Sprintf("%d mb", l), File: inv.File, Want: 1, Got: 0}
			}
			out = append(out, recs...)
		}
	}
	return out, nil
}

// RawMessage is one decoded GRIB2 record on a regular grid.
type RawMessage struct {
	Var       string
	LevelType catalog.LevelType
	// Level is in hPa for isobaric levels and metres for heights.
	Level     float64
	LevelDesc string
	StepType  string
	Ref       time.Time
	Valid     time.Time
	// Window is the length of the accumulation or averaging interval
	// ending at Valid; zero for instantaneous records.
	Window time.Duration
	// Values holds len(Lat) rows of len(Lon) points.
	Values []float32
	Lat    []float64
	Lon    []float64
	// File is the source archive.
	File string
}

// Shape returns (ny, nx).
func (m *RawMessage) Shape() (int, int) { return len(m.Lat), len(m.Lon) }

// GridExtractor extracts the messages a query selects from a GRIB2 file.
type GridExtractor interface {
	Extract(ctx context.Context, path string, q Query) ([]RawMessage, error)
}
