package grib2

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrid() Grid {
	return Grid{Ni: 4, Nj: 3, La1: 90, Lo1: 0, La2: 89.5, Lo2: 0.75, Di: 0.25, Dj: 0.25}
}

func TestSignMagnitude(t *testing.T) {
	tests := []struct {
		name string
		v    int64
	}{
		{"zero", 0},
		{"positive", 12345},
		{"negative", -90000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b [4]byte
			put4ByteInt(b[:], tt.v)
			assert.Equal(t, tt.v, parse4ByteInt(b[:]))
			assert.Equal(t, tt.v, parseNByteInt(b[:]))
		})
	}
	var b [2]byte
	put2ByteInt(b[:], -7)
	assert.Equal(t, []byte{0x80, 0x07}, b[:])
	assert.Equal(t, int32(-7), parse2ByteInt(b[:]))
}

func TestBitWriterReader(t *testing.T) {
	w := &bitWriter{}
	w.write(5, 3)
	w.write(0, 2)
	w.write(1023, 10)
	w.write(1, 1)
	require.Len(t, w.bytes(), 2)

	r := &bitReader{data: w.bytes()}
	for _, want := range []struct {
		v uint64
		n int
	}{{5, 3}, {0, 2}, {1023, 10}, {1, 1}} {
		got, ok := r.read(want.n)
		require.True(t, ok)
		assert.Equal(t, want.v, got)
	}
	_, ok := r.read(1)
	assert.False(t, ok)
}

func TestRoundTrip(t *testing.T) {
	ref := time.Date(2024, 2, 27, 6, 0, 0, 0, time.UTC)
	nan := float32(math.NaN())
	tests := []struct {
		name  string
		field Field
		desc  string
		level string
		step  string
	}{
		{
			name: "isobaric temperature",
			field: Field{
				Category: 0, Number: 0, SurfaceType: SurfaceIsobaric, SurfaceValue: 50000,
				Forecast: 6, Values: []float32{250, 251.5, 252, 253, 254, 255, 256, 257, 258, 259, 260.25, 261},
			},
			desc: "6 hour fcst", level: "500 mb", step: "instant",
		},
		{
			name: "accumulated precipitation with missing points",
			field: Field{
				Category: 1, Number: 8, SurfaceType: SurfaceGround, Forecast: 6,
				Interval: &Interval{Process: ProcessAccumulation, Hours: 6},
				Values:   []float32{0, 0.5, nan, 1, 2, 3, 4, nan, 5, 6, 7, 8},
			},
			desc: "6-12 hour acc fcst", level: "surface", step: "accum",
		},
		{
			name: "constant 2m field",
			field: Field{
				Category: 0, Number: 0, SurfaceType: SurfaceHeightAbove, SurfaceValue: 2,
				Values: []float32{280, 280, 280, 280, 280, 280, 280, 280, 280, 280, 280, 280},
			},
			desc: "anl", level: "2 m above ground", step: "instant",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.field
			in.RefTime = ref
			in.Grid = testGrid()

			var buf bytes.Buffer
			require.NoError(t, Writer{}.Encode(&buf, &in))

			m, err := Parse(buf.Bytes())
			require.NoError(t, err)
			h := m.Header()
			assert.Equal(t, tt.desc, h.ForecastDescription())
			assert.Equal(t, tt.level, h.LevelDescription())
			assert.Equal(t, tt.step, h.StepType())
			assert.Equal(t, uint16(CentreNCEP), h.Centre)
			assert.True(t, ref.Equal(h.RefTime))

			out, err := m.Field()
			require.NoError(t, err)
			assert.Equal(t, in.Grid, out.Grid)
			require.Len(t, out.Values, len(in.Values))
			for i, want := range in.Values {
				if math.IsNaN(float64(want)) {
					assert.True(t, math.IsNaN(float64(out.Values[i])), "value %d", i)
					continue
				}
				assert.InDelta(t, want, out.Values[i], 0.01, "value %d", i)
			}
		})
	}
}

func TestValidTime(t *testing.T) {
	ref := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &Field{RefTime: ref, Forecast: 6, Interval: &Interval{Process: ProcessAccumulation, Hours: 6}}
	assert.Equal(t, ref.Add(12*time.Hour), f.ValidTime())
	f.Interval = nil
	assert.Equal(t, ref.Add(6*time.Hour), f.ValidTime())
}

func TestGridCoordinates(t *testing.T) {
	g := testGrid()
	assert.Equal(t, []float64{90, 89.75, 89.5}, g.Lats())
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75}, g.Lons())
}

func TestMarshalErrors(t *testing.T) {
	tests := []struct {
		name  string
		field Field
	}{
		{"wrong value count", Field{Grid: testGrid(), Values: make([]float32, 3)}},
		{"empty grid", Field{}},
		{"negative forecast", Field{Grid: testGrid(), Values: make([]float32, 12), Forecast: -6}},
		{"empty window", Field{Grid: testGrid(), Values: make([]float32, 12), Interval: &Interval{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Writer{}.Marshal(&tt.field)
			assert.Error(t, err)
		})
	}
}

func TestParseErrors(t *testing.T) {
	good, err := Writer{}.Marshal(&Field{Grid: testGrid(), Values: make([]float32, 12)})
	require.NoError(t, err)

	edition1 := append([]byte(nil), good...)
	edition1[7] = 1
	truncated := good[:len(good)-10]
	noEnd := append([]byte(nil), good...)
	copy(noEnd[len(noEnd)-4:], "0000")

	for name, data := range map[string][]byte{
		"edition 1": edition1,
		"truncated": truncated,
		"no end":    noEnd,
		"not grib":  []byte("BUFR0000000000000000"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(data)
			assert.Error(t, err)
		})
	}
}

func packGroups(fields ...[2]uint64) []byte {
	w := &bitWriter{}
	for _, f := range fields {
		w.write(f[0], int(f[1]))
	}
	return w.bytes()
}

func TestUnpackComplex(t *testing.T) {
	t.Run("first order spatial differencing", func(t *testing.T) {
		s := &representationSection{
			numValues: 6, templateNumber: 3, bits: 4,
			complex: &complexPacking{
				groups: 2, widthBits: 2, lengthRef: 3, lengthIncrement: 1, lengthBits: 1,
				lastLength: 3, order: 1, extraOctets: 2,
			},
		}
		var data []byte
		data = append(data, 0x00, 0x0a, 0x00, 0x00) // first value 10, minimum 0
		data = append(data, packGroups([2]uint64{0, 4}, [2]uint64{0, 4})...)
		data = append(data, packGroups([2]uint64{2, 2}, [2]uint64{3, 2})...)
		data = append(data, packGroups([2]uint64{0, 1}, [2]uint64{0, 1})...)
		data = append(data, packGroups(
			[2]uint64{0, 2}, [2]uint64{2, 2}, [2]uint64{3, 2},
			[2]uint64{0, 3}, [2]uint64{5, 3}, [2]uint64{1, 3},
		)...)
		got, _, err := s.unpack(data)
		require.NoError(t, err)
		assert.Equal(t, []float64{10, 12, 15, 15, 20, 21}, got)
	})

	t.Run("primary missing values", func(t *testing.T) {
		s := &representationSection{
			numValues: 4, templateNumber: 2, bits: 4,
			complex: &complexPacking{
				missingManagement: 1, groups: 1, widthBits: 2, lastLength: 4,
			},
		}
		var data []byte
		data = append(data, packGroups([2]uint64{5, 4})...)
		data = append(data, packGroups([2]uint64{2, 2})...)
		data = append(data, packGroups([2]uint64{0, 2}, [2]uint64{1, 2}, [2]uint64{3, 2}, [2]uint64{2, 2})...)
		got, missing, err := s.unpack(data)
		require.NoError(t, err)
		assert.Equal(t, []bool{false, false, true, false}, missing)
		assert.Equal(t, 5.0, got[0])
		assert.Equal(t, 6.0, got[1])
		assert.True(t, math.IsNaN(got[2]))
		assert.Equal(t, 7.0, got[3])
	})
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "APCP", ShortName(0, 1, 8))
	assert.Equal(t, "LAND", ShortName(2, 0, 0))
	assert.Equal(t, "var0_19_1", ShortName(0, 19, 1))
}
