package grib2

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Message is a parsed GRIB2 message holding a single product.
type Message struct {
	indicator      indicatorSection
	identification identificationSection
	grid           gridSection
	product        productSection
	representation representationSection
	bitmap         bitmapSection
	data           dataSection
}

// Parse parses the sections of one GRIB2 message. The values are unpacked by
// Field.
func Parse(data []byte) (*Message, error) {
	m := &Message{}
	start, err := m.indicator.parseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("error parsing indicator section: %w", err)
	}
	if m.indicator.messageLength > uint64(len(data)) {
		return nil, fmt.Errorf("message declares %d bytes but only %d are available", m.indicator.messageLength, len(data))
	}
	data = data[:m.indicator.messageLength]

	seen := map[byte]bool{}
	for {
		if start+4 > len(data) {
			return nil, fmt.Errorf("message ended at byte %d without end section", start)
		}
		if string(data[start:start+4]) == "7777" {
			break
		}
		if start+5 > len(data) {
			return nil, fmt.Errorf("truncated section header at byte %d", start)
		}
		size := int(binary.BigEndian.Uint32(data[start:]))
		num := data[start+4]
		if size < 5 || start+size > len(data) {
			return nil, fmt.Errorf("internal error: tried to read [%d:%d] from data array of length %d", start, start+size, len(data))
		}
		if seen[num] && num >= 3 {
			return nil, fmt.Errorf("section %d repeats; messages with more than one field are not supported", num)
		}
		seen[num] = true
		section := data[start : start+size]
		var parse func([]byte) (int, error)
		switch num {
		case 1:
			parse = m.identification.parseBytes
		case 2:
			glog.V(2).Infof("skipping local use section of %d bytes", size)
		case 3:
			parse = m.grid.parseBytes
		case 4:
			parse = m.product.parseBytes
		case 5:
			parse = m.representation.parseBytes
		case 6:
			parse = m.bitmap.parseBytes
		case 7:
			parse = m.data.parseBytes
		default:
			return nil, fmt.Errorf("unexpected section number %d at byte %d", num, start)
		}
		if parse != nil {
			if _, err := parse(section); err != nil {
				return nil, fmt.Errorf("error parsing section %d: %w", num, err)
			}
		}
		start += size
	}
	for _, num := range []byte{1, 3, 4, 5, 7} {
		if !seen[num] {
			return nil, fmt.Errorf("message has no section %d", num)
		}
	}
	if !seen[6] {
		m.bitmap.indicator = 255
	}
	return m, nil
}

// Header returns the field metadata without unpacking the values.
func (m *Message) Header() *Field {
	p := m.product
	return &Field{
		Discipline:   m.indicator.discipline,
		Centre:       m.identification.centre,
		RefTime:      m.identification.refTime,
		Category:     p.category,
		Number:       p.number,
		SurfaceType:  p.surfaceType,
		SurfaceValue: p.surfaceValue,
		Forecast:     p.forecast,
		Interval:     p.interval,
		Grid:         m.grid.grid,
	}
}

// Field unpacks the message into a Field.
func (m *Message) Field() (*Field, error) {
	f := m.Header()
	values, missing, err := m.representation.unpack(m.data.data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to unpack %s %s", f.ShortName(), f.LevelDescription())
	}
	points := f.Grid.Points()
	f.Values = make([]float32, points)
	if !m.bitmap.present() {
		if len(values) != points {
			return nil, fmt.Errorf("%d values for a grid of %d points", len(values), points)
		}
		for i, v := range values {
			f.Values[i] = float32(v)
			if missing != nil && missing[i] {
				f.Values[i] = float32(math.NaN())
			}
		}
		return f, nil
	}
	if len(m.bitmap.bits)*8 < points {
		return nil, fmt.Errorf("bit-map covers %d of %d points", len(m.bitmap.bits)*8, points)
	}
	k := 0
	for i := range f.Values {
		if !m.bitmap.isSet(i) {
			f.Values[i] = float32(math.NaN())
			continue
		}
		if k >= len(values) {
			return nil, fmt.Errorf("bit-map selects more than the %d packed values", len(values))
		}
		f.Values[i] = float32(values[k])
		k++
	}
	return f, nil
}

// Decode parses and unpacks one GRIB2 message.
func Decode(data []byte) (*Field, error) {
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return m.Field()
}

// Writer encodes fields as GRIB2 messages with simple packing.
type Writer struct {
	// Bits is the packing width per value. Zero means 16.
	Bits int
	// DecimalScale multiplies values by 10^DecimalScale before packing.
	DecimalScale int
}

// Encode writes f to w as one GRIB2 message.
func (wr Writer) Encode(w io.Writer, f *Field) error {
	b, err := wr.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return errors.Wrapf(err, "failed to write %s %s", f.ShortName(), f.LevelDescription())
	}
	return nil
}

// Marshal returns f encoded as one GRIB2 message.
func (wr Writer) Marshal(f *Field) ([]byte, error) {
	if f.Grid.Ni <= 0 || f.Grid.Nj <= 0 {
		return nil, fmt.Errorf("invalid grid %d x %d", f.Grid.Ni, f.Grid.Nj)
	}
	if got, want := len(f.Values), f.Grid.Points(); got != want {
		return nil, fmt.Errorf("field has %d values for a grid of %d points", got, want)
	}
	if f.Forecast < 0 {
		return nil, fmt.Errorf("negative forecast time %d", f.Forecast)
	}
	if f.Interval != nil && f.Interval.Hours <= 0 {
		return nil, fmt.Errorf("statistical processing window of %d hours", f.Interval.Hours)
	}
	bits := wr.Bits
	if bits == 0 {
		bits = 16
	}
	if bits < 0 || bits > 32 {
		return nil, fmt.Errorf("invalid packing width %d", bits)
	}

	present := make([]float32, 0, len(f.Values))
	bm := bitmapSection{indicator: 255}
	var bw bitWriter
	for _, v := range f.Values {
		if math.IsNaN(float64(v)) {
			bm.indicator = 0
			break
		}
	}
	for _, v := range f.Values {
		isNaN := math.IsNaN(float64(v))
		if bm.indicator == 0 {
			if isNaN {
				bw.write(0, 1)
			} else {
				bw.write(1, 1)
			}
		}
		if !isNaN {
			present = append(present, v)
		}
	}
	bm.bits = bw.bytes()

	repr, packed := packSimple(present, bits, wr.DecimalScale)
	centre := f.Centre
	if centre == 0 {
		centre = CentreNCEP
	}
	product := productSection{
		category:     f.Category,
		number:       f.Number,
		process:      2,
		forecast:     f.Forecast,
		surfaceType:  f.SurfaceType,
		surfaceValue: f.SurfaceValue,
		interval:     f.Interval,
	}
	if f.Interval != nil {
		product.templateNumber = 8
	}
	ident := identificationSection{
		centre:          centre,
		masterVersion:   2,
		localVersion:    1,
		refSignificance: 1,
		refTime:         f.RefTime,
		dataType:        1,
	}

	ind := indicatorSection{discipline: f.Discipline, edition: 2}
	out := ind.appendBytes(nil)
	out = ident.appendBytes(out)
	out = (&gridSection{grid: f.Grid}).appendBytes(out)
	out = product.appendBytes(out, f.RefTime)
	out = repr.appendBytes(out)
	out = bm.appendBytes(out)
	out = (&dataSection{data: packed}).appendBytes(out)
	out = append(out, '7', '7', '7', '7')
	binary.BigEndian.PutUint64(out[8:16], uint64(len(out)))
	glog.V(1).Infof("encoded %s %s %s: %d bytes", f.ShortName(), f.LevelDescription(), f.ForecastDescription(), len(out))
	return out, nil
}
