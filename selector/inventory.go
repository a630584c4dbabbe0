package selector

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/NOAA-EMC/MLGEFS/gribio"
)

// Record is one line of a wgrib2 short inventory:
//
//	n:offset:d=YYYYMMDDHH:VAR:LEVEL:FCST:[extra:...]
type Record struct {
	Index    int
	Offset   int64
	Ref      time.Time
	Var      string
	Level    string
	Forecast string
	Extra    []string
}

// String formats the record as wgrib2 -s does.
func (r Record) String() string {
	parts := []string{
		strconv.Itoa(r.Index),
		strconv.FormatInt(r.Offset, 10),
		"d=" + r.Ref.UTC().Format("2006010215"),
		r.Var, r.Level, r.Forecast,
	}
	parts = append(parts, r.Extra...)
	return strings.Join(parts, ":") + ":"
}

// StepType derives the step type from the forecast description.
func (r Record) StepType() string {
	switch {
	case strings.Contains(r.Forecast, " acc "):
		return "accum"
	case strings.Contains(r.Forecast, " ave "):
		return "avg"
	}
	return "instant"
}

var (
	fcstRegex   = regexp.MustCompile(`^(\d+) hour fcst$`)
	windowRegex = regexp.MustCompile(`^(\d+)-(\d+) hour (acc|ave) fcst$`)
)

// Hours returns the forecast hours at the start and end of the record's
// validity. Instantaneous records have start == end.
func (r Record) Hours() (start, end int, err error) {
	if r.Forecast == "anl" {
		return 0, 0, nil
	}
	if m := fcstRegex.FindStringSubmatch(r.Forecast); m != nil {
		h, _ := strconv.Atoi(m[1])
		return h, h, nil
	}
	if m := windowRegex.FindStringSubmatch(r.Forecast); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		return a, b, nil
	}
	return 0, 0, fmt.Errorf("unrecognized forecast time %q", r.Forecast)
}

// Valid returns the validity time of the record.
func (r Record) Valid() (time.Time, error) {
	_, end, err := r.Hours()
	if err != nil {
		return time.Time{}, err
	}
	return r.Ref.Add(time.Duration(end) * time.Hour), nil
}

var levelRegex = regexp.MustCompile(`^(-?[0-9.]+) (mb|m above ground)$`)

// ParseLevel splits a level descriptor into its type and numeric value: hPa
// for isobaric levels, metres for heights.
func ParseLevel(desc string) (catalog.LevelType, float64, error) {
	switch desc {
	case "surface":
		return catalog.Surface, 0, nil
	case "mean sea level":
		return catalog.MeanSea, 0, nil
	}
	m := levelRegex.FindStringSubmatch(desc)
	if m == nil {
		return catalog.Surface, 0, fmt.Errorf("unsupported level %q", desc)
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return catalog.Surface, 0, fmt.Errorf("error parsing level %q: %w", desc, err)
	}
	if m[2] == "mb" {
		return catalog.Isobaric, v, nil
	}
	return catalog.HeightAboveGround, v, nil
}

// Inventory lists the records of one GRIB2 file.
type Inventory struct {
	File    string
	Records []Record
}

// WriteTo writes the inventory in wgrib2 -s format.
func (inv *Inventory) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, r := range inv.Records {
		c, err := fmt.Fprintln(w, r.String())
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// ParseInventory reads wgrib2 -s output.
func ParseInventory(file string, r io.Reader) (*Inventory, error) {
	inv := &Inventory{File: file}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("error parsing inventory line %q of %s: %w", line, file, err)
		}
		inv.Records = append(inv.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return inv, nil
}

func parseRecord(line string) (Record, error) {
	fields := strings.Split(strings.TrimSuffix(line, ":"), ":")
	if len(fields) < 6 {
		return Record{}, fmt.Errorf("too few fields: %d", len(fields))
	}
	var rec Record
	var err error
	// Sub-messages are numbered "n.m"; only the message number is kept.
	if rec.Index, err = strconv.Atoi(strings.SplitN(fields[0], ".", 2)[0]); err != nil {
		return Record{}, fmt.Errorf("bad record number: %w", err)
	}
	if rec.Offset, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
		return Record{}, fmt.Errorf("bad offset: %w", err)
	}
	d, ok := strings.CutPrefix(fields[2], "d=")
	if !ok {
		return Record{}, fmt.Errorf("reference time %q lacks d= prefix", fields[2])
	}
	if rec.Ref, err = time.Parse("2006010215", d); err != nil {
		return Record{}, fmt.Errorf("bad reference time: %w", err)
	}
	rec.Var, rec.Level, rec.Forecast = fields[3], fields[4], fields[5]
	if len(fields) > 6 {
		rec.Extra = fields[6:]
	}
	return rec, nil
}

// NativeInventory builds the inventory of a decoded file without wgrib2.
func NativeInventory(file string, recs []*gribio.Record) (*Inventory, error) {
	inv := &Inventory{File: file}
	for i, rec := range recs {
		m, err := rec.Message()
		if err != nil {
			return nil, err
		}
		h := m.Header()
		inv.Records = append(inv.Records, Record{
			Index:    i + 1,
			Offset:   rec.Offset,
			Ref:      h.RefTime,
			Var:      h.ShortName(),
			Level:    h.LevelDescription(),
			Forecast: h.ForecastDescription(),
		})
	}
	return inv, nil
}
