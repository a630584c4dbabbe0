package grib2

import (
	"fmt"
	"math"
)

// unpack decodes the n values of a data section.
func (s *representationSection) unpack(data []byte) ([]float64, []bool, error) {
	n := int(s.numValues)
	if s.complex != nil {
		return s.unpackComplex(data, n)
	}
	return s.unpackSimple(data, n)
}

func (s *representationSection) scale(x float64) float64 {
	return (float64(s.ref) + x*math.Ldexp(1, s.binaryScale)) * math.Pow10(-s.decimalScale)
}

func (s *representationSection) unpackSimple(data []byte, n int) ([]float64, []bool, error) {
	out := make([]float64, n)
	if s.bits == 0 {
		v := s.scale(0)
		for i := range out {
			out[i] = v
		}
		return out, nil, nil
	}
	br := &bitReader{data: data}
	for i := range out {
		x, ok := br.read(int(s.bits))
		if !ok {
			return nil, nil, fmt.Errorf("data section holds %d of %d values", i, n)
		}
		out[i] = s.scale(float64(x))
	}
	return out, nil, nil
}

// unpackComplex decodes templates 7.2 and 7.3. The returned mask marks
// missing values.
func (s *representationSection) unpackComplex(data []byte, n int) ([]float64, []bool, error) {
	c := s.complex
	var first []int64
	var minimum int64
	if c.order > 0 {
		k := int(c.extraOctets)
		if k == 0 || len(data) < (int(c.order)+1)*k {
			return nil, nil, fmt.Errorf("spatial differencing descriptors truncated")
		}
		for i := 0; i < int(c.order); i++ {
			first = append(first, parseNByteInt(data[i*k:(i+1)*k]))
		}
		minimum = parseNByteInt(data[int(c.order)*k : (int(c.order)+1)*k])
		data = data[(int(c.order)+1)*k:]
	}

	ng := int(c.groups)
	br := &bitReader{data: data}
	readGroup := func(bits int) ([]uint64, error) {
		out := make([]uint64, ng)
		for i := range out {
			v, ok := br.read(bits)
			if !ok {
				return nil, fmt.Errorf("group descriptors truncated at group %d of %d", i, ng)
			}
			out[i] = v
		}
		br.align()
		return out, nil
	}
	refs, err := readGroup(int(s.bits))
	if err != nil {
		return nil, nil, err
	}
	widths, err := readGroup(int(c.widthBits))
	if err != nil {
		return nil, nil, err
	}
	lengths, err := readGroup(int(c.lengthBits))
	if err != nil {
		return nil, nil, err
	}

	values := make([]int64, 0, n)
	missing := make([]bool, 0, n)
	refMissing1 := uint64(1)<<s.bits - 1
	for g := 0; g < ng; g++ {
		length := int(c.lengthRef) + int(lengths[g])*int(c.lengthIncrement)
		if g == ng-1 {
			length = int(c.lastLength)
		}
		width := int(widths[g]) + int(c.widthRef)
		if len(values)+length > n {
			return nil, nil, fmt.Errorf("groups hold more than %d values", n)
		}
		for i := 0; i < length; i++ {
			x, ok := br.read(width)
			if !ok {
				return nil, nil, fmt.Errorf("packed values truncated in group %d", g)
			}
			m := false
			switch c.missingManagement {
			case 1:
				if width == 0 {
					m = refs[g] == refMissing1
				} else {
					m = x == 1<<uint(width)-1
				}
			case 2:
				if width == 0 {
					m = refs[g] == refMissing1 || refs[g] == refMissing1-1
				} else {
					m = x == 1<<uint(width)-1 || x == 1<<uint(width)-2
				}
			}
			values = append(values, int64(refs[g]+x))
			missing = append(missing, m)
		}
	}
	if len(values) != n {
		return nil, nil, fmt.Errorf("groups hold %d values, want %d", len(values), n)
	}

	if c.order > 0 {
		undoDifferencing(values, missing, first, minimum, int(c.order))
	}
	out := make([]float64, n)
	for i, v := range values {
		if missing[i] {
			out[i] = math.NaN()
			continue
		}
		out[i] = s.scale(float64(v))
	}
	return out, missing, nil
}

// undoDifferencing reverses first or second order spatial differencing over
// the non-missing values.
func undoDifferencing(values []int64, missing []bool, first []int64, minimum int64, order int) {
	var prev, prev2 int64
	k := 0
	for i := range values {
		if missing[i] {
			continue
		}
		switch {
		case k < order:
			values[i] = first[k]
		case order == 1:
			values[i] += minimum + prev
		default:
			values[i] += minimum + 2*prev - prev2
		}
		prev2, prev = prev, values[i]
		k++
	}
}

// packSimple packs values with template 5.0 using at most bits bits per value.
func packSimple(values []float32, bits, decimalScale int) (representationSection, []byte) {
	s := representationSection{numValues: uint32(len(values)), decimalScale: decimalScale}
	if len(values) == 0 {
		return s, nil
	}
	d := math.Pow10(decimalScale)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		x := float64(v) * d
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	ref := float32(lo)
	if float64(ref) > lo {
		ref = math.Nextafter32(ref, float32(math.Inf(-1)))
	}
	s.ref = ref
	span := hi - float64(ref)
	if span == 0 || bits == 0 {
		return s, nil
	}
	top := float64(uint64(1)<<uint(bits) - 1)
	s.binaryScale = int(math.Ceil(math.Log2(span / top)))
	s.bits = byte(bits)
	step := math.Ldexp(1, s.binaryScale)
	w := &bitWriter{}
	for _, v := range values {
		x := math.Round((float64(v)*d - float64(ref)) / step)
		x = math.Max(0, math.Min(top, x))
		w.write(uint64(x), bits)
	}
	return s, w.bytes()
}
