package grib2

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/golang/glog"
)

type indicatorSection struct {
	discipline    byte
	edition       byte
	messageLength uint64
}

func (is *indicatorSection) parseBytes(data []byte) (int, error) {
	/* https://library.wmo.int/doc_num.php?explnum_id=11283

	92.2 Section 0 – Indicator section

	Octet No. Contents
	1–4 GRIB (coded according to the International Alphabet No. 5)
	5–6 Reserved
	7 Discipline – GRIB Master table number (see Code table 0.0)
	8 GRIB edition number (currently 2)
	9–16 Total length of GRIB message in octets (including Section 0)
	*/
	if len(data) < 16 {
		return 0, fmt.Errorf("invalid GRIB message < 16 bytes long")
	}
	if got, want := string(data[0:4]), "GRIB"; got != want {
		return 0, fmt.Errorf("first four bytes = %q, want %q", got, want)
	}
	is.discipline = data[6]
	is.edition = data[7]
	if is.edition != 2 {
		return 0, fmt.Errorf("GRIB edition = %d, want 2", is.edition)
	}
	is.messageLength = binary.BigEndian.Uint64(data[8:16])
	glog.V(2).Infof("read indicator section %+v", is)
	return 16, nil
}

func (is *indicatorSection) appendBytes(dst []byte) []byte {
	dst = append(dst, 'G', 'R', 'I', 'B', 0, 0, is.discipline, 2)
	return binary.BigEndian.AppendUint64(dst, is.messageLength)
}

type identificationSection struct {
	centre, subCentre           uint16
	masterVersion, localVersion byte
	refSignificance             byte
	refTime                     time.Time
	productionStatus, dataType  byte
}

func (s *identificationSection) parseBytes(data []byte) (int, error) {
	/*
		92.3 Section 1 – Identification section

		Octet No. Contents
		1–4 Length of section in octets (21 or N)
		5 Number of section (1)
		6–7 Identification of originating/generating centre (see Common Code table C–11)
		8–9 Identification of originating/generating subcentre
		10 GRIB master tables version number (see Code table 1.0)
		11 Version number of GRIB local tables used to augment Master tables
		12 Significance of reference time (see Code table 1.2)
		13–14 Year (4 digits)
		15 Month
		16 Day
		17 Hour
		18 Minute
		19 Second
		20 Production status of processed data in this GRIB message
		21 Type of processed data in this GRIB message
	*/
	if len(data) < 21 {
		return 0, fmt.Errorf("identification section is %d bytes long, want at least 21", len(data))
	}
	s.centre = parse2ByteUint(data[5:7])
	s.subCentre = parse2ByteUint(data[7:9])
	s.masterVersion = data[9]
	s.localVersion = data[10]
	s.refSignificance = data[11]
	s.refTime = time.Date(int(parse2ByteUint(data[12:14])), time.Month(data[14]), int(data[15]),
		int(data[16]), int(data[17]), int(data[18]), 0, time.UTC)
	s.productionStatus = data[19]
	s.dataType = data[20]
	return len(data), nil
}

func (s *identificationSection) appendBytes(dst []byte) []byte {
	t := s.refTime.UTC()
	dst = binary.BigEndian.AppendUint32(dst, 21)
	dst = append(dst, 1)
	dst = binary.BigEndian.AppendUint16(dst, s.centre)
	dst = binary.BigEndian.AppendUint16(dst, s.subCentre)
	dst = append(dst, s.masterVersion, s.localVersion, s.refSignificance)
	dst = binary.BigEndian.AppendUint16(dst, uint16(t.Year()))
	return append(dst, byte(t.Month()), byte(t.Day()), byte(t.Hour()), byte(t.Minute()), byte(t.Second()),
		s.productionStatus, s.dataType)
}

type gridSection struct {
	numPoints      uint32
	templateNumber uint16
	grid           Grid
}

func (s *gridSection) parseBytes(data []byte) (int, error) {
	/*
		92.5 Section 3 – Grid definition section

		Octet No. Contents
		1–4 Length of section in octets (nn)
		5 Number of section (3)
		6 Source of grid definition (see Code table 3.0)
		7–10 Number of data points
		11 Number of octets for optional list of numbers defining number of points
		12 Interpretation of list of numbers defining number of points (see Code table 3.11)
		13–14 Grid definition template number (= N) (see Code table 3.1)
		15–xx Grid definition template

		Grid definition template 3.0 – latitude/longitude (or equidistant cylindrical, or Plate Carrée)

		15 Shape of the Earth (see Code table 3.2)
		16 Scale factor of radius of spherical Earth
		17–20 Scaled value of radius of spherical Earth
		21 Scale factor of major axis of oblate spheroid Earth
		22–25 Scaled value of major axis of oblate spheroid Earth
		26 Scale factor of minor axis of oblate spheroid Earth
		27–30 Scaled value of minor axis of oblate spheroid Earth
		31–34 Ni – number of points along a parallel
		35–38 Nj – number of points along a meridian
		39–42 Basic angle of the initial production domain
		43–46 Subdivisions of basic angle used to define extreme longitudes and latitudes, and direction increments
		47–50 La1 – latitude of first grid point
		51–54 Lo1 – longitude of first grid point
		55 Resolution and component flags (see Flag table 3.3)
		56–59 La2 – latitude of last grid point
		60–63 Lo2 – longitude of last grid point
		64–67 Di – i direction increment
		68–71 Dj – j direction increment
		72 Scanning mode (flags – see Flag table 3.4)
	*/
	if len(data) < 14 {
		return 0, fmt.Errorf("grid definition section is %d bytes long, want at least 14", len(data))
	}
	s.numPoints = parse4ByteUint(data[6:10])
	s.templateNumber = parse2ByteUint(data[12:14])
	if s.templateNumber != 0 {
		return 0, fmt.Errorf("grid definition template 3.%d is not supported", s.templateNumber)
	}
	if data[10] != 0 {
		return 0, fmt.Errorf("quasi-regular grids are not supported")
	}
	if len(data) < 72 {
		return 0, fmt.Errorf("grid definition template 3.0 is %d bytes long, want 72", len(data))
	}
	// Angles are in micro-degrees unless a basic angle and subdivisions are given.
	basic, sub := 1.0, 1e6
	if b, d := parse4ByteUint(data[38:42]), parse4ByteUint(data[42:46]); b != 0 && b != math.MaxUint32 && d != 0 && d != math.MaxUint32 {
		basic, sub = float64(b), float64(d)
	}
	deg := func(v int64) float64 { return float64(v) * basic / sub }
	g := Grid{
		Ni:       int(parse4ByteUint(data[30:34])),
		Nj:       int(parse4ByteUint(data[34:38])),
		La1:      deg(parse4ByteInt(data[46:50])),
		Lo1:      deg(parse4ByteInt(data[50:54])),
		La2:      deg(parse4ByteInt(data[55:59])),
		Lo2:      deg(parse4ByteInt(data[59:63])),
		Di:       deg(int64(parse4ByteUint(data[63:67]))),
		Dj:       deg(int64(parse4ByteUint(data[67:71]))),
		ScanMode: data[71],
	}
	if g.ScanMode&0x40 != 0 {
		return 0, fmt.Errorf("scanning mode %#x (south to north) is not supported", g.ScanMode)
	}
	if g.ScanMode&0x20 != 0 {
		return 0, fmt.Errorf("scanning mode %#x (column major) is not supported", g.ScanMode)
	}
	if g.Ni*g.Nj != int(s.numPoints) {
		return 0, fmt.Errorf("grid is %d x %d but section declares %d points", g.Ni, g.Nj, s.numPoints)
	}
	s.grid = g
	return len(data), nil
}

func (s *gridSection) appendBytes(dst []byte) []byte {
	g := s.grid
	micro := func(v float64) int64 { return int64(math.Round(v * 1e6)) }
	var b [72]byte
	binary.BigEndian.PutUint32(b[0:4], 72)
	b[4] = 3
	binary.BigEndian.PutUint32(b[6:10], uint32(g.Points()))
	// Shape of the earth 6: spherical with radius 6,371,229.0 m.
	b[14] = 6
	binary.BigEndian.PutUint32(b[30:34], uint32(g.Ni))
	binary.BigEndian.PutUint32(b[34:38], uint32(g.Nj))
	put4ByteInt(b[46:50], micro(g.La1))
	put4ByteInt(b[50:54], micro(g.Lo1))
	b[54] = 0x30
	put4ByteInt(b[55:59], micro(g.La2))
	put4ByteInt(b[59:63], micro(g.Lo2))
	binary.BigEndian.PutUint32(b[63:67], uint32(micro(g.Di)))
	binary.BigEndian.PutUint32(b[67:71], uint32(micro(g.Dj)))
	b[71] = g.ScanMode
	return append(dst, b[:]...)
}

type productSection struct {
	templateNumber uint16
	category       byte
	number         byte
	process        byte
	// forecast is the forecast time converted to hours.
	forecast     int
	surfaceType  byte
	surfaceValue float64
	interval     *Interval
}

func (s *productSection) parseBytes(data []byte) (int, error) {
	/*
		92.6 Section 4 – Product definition section

		Octet No. Contents
		1–4 Length of section in octets (nn)
		5 Number of section (4)
		6–7 Number of coordinate values after template
		8–9 Product definition template number (see Code table 4.0)
		10–xx Product definition template

		Product definition template 4.0 – analysis or forecast at a horizontal level or in a horizontal layer at a point in time

		10 Parameter category (see Code table 4.1)
		11 Parameter number (see Code table 4.2)
		12 Type of generating process (see Code table 4.3)
		13 Background generating process identifier (defined by originating centre)
		14 Analysis or forecast generating process identifier (see Code ON388 Table A)
		15–16 Hours after reference time data cut-off
		17 Minutes after reference time data cut-off
		18 Indicator of unit of time range (see Code table 4.4)
		19–22 Forecast time in units defined by octet 18
		23 Type of first fixed surface (see Code table 4.5)
		24 Scale factor of first fixed surface
		25–28 Scaled value of first fixed surface
		29 Type of second fixed surface (see Code table 4.5)
		30 Scale factor of second fixed surface
		31–34 Scaled value of second fixed surface

		Template 4.1 appends the ensemble description in octets 35–37. Templates
		4.8 and 4.11 then append:

		35–36 Year of end of overall time interval
		37 Month
		38 Day
		39 Hour
		40 Minute
		41 Second
		42 n – number of time range specifications
		43–46 Total number of data values missing in statistical process
		47 Statistical process used to calculate the processed field (see Code table 4.10)
		48 Type of time increment between successive fields (see Code table 4.11)
		49 Indicator of unit of time for time range (see Code table 4.4)
		50–53 Length of the time range
		54 Indicator of unit of time for the increment between successive fields
		55–58 Time increment between successive fields
	*/
	if len(data) < 34 {
		return 0, fmt.Errorf("product definition section is %d bytes long, want at least 34", len(data))
	}
	s.templateNumber = parse2ByteUint(data[7:9])
	var intervalAt int
	switch s.templateNumber {
	case 0, 1:
	case 8:
		intervalAt = 34
	case 11:
		intervalAt = 37
	default:
		return 0, fmt.Errorf("product definition template 4.%d is not supported", s.templateNumber)
	}
	s.category = data[9]
	s.number = data[10]
	s.process = data[11]
	hours, err := timeUnitHours(data[17])
	if err != nil {
		return 0, err
	}
	s.forecast = int(math.Round(float64(parse4ByteInt(data[18:22])) * hours))
	s.surfaceType = data[22]
	s.surfaceValue = scaledValue(data[23], data[24:28])

	if intervalAt > 0 {
		if len(data) < intervalAt+24 {
			return 0, fmt.Errorf("product definition template 4.%d is %d bytes long, want at least %d",
				s.templateNumber, len(data), intervalAt+24)
		}
		if n := data[intervalAt+7]; n != 1 {
			return 0, fmt.Errorf("%d time range specifications, only 1 is supported", n)
		}
		r := data[intervalAt+12:]
		unit, err := timeUnitHours(r[2])
		if err != nil {
			return 0, err
		}
		s.interval = &Interval{
			Process: r[0],
			Hours:   int(math.Round(float64(parse4ByteUint(r[3:7])) * unit)),
		}
	}
	return len(data), nil
}

func (s *productSection) appendBytes(dst []byte, refTime time.Time) []byte {
	n := 34
	if s.interval != nil {
		n = 58
	}
	b := make([]byte, n)
	binary.BigEndian.PutUint32(b[0:4], uint32(n))
	b[4] = 4
	binary.BigEndian.PutUint16(b[7:9], s.templateNumber)
	b[9] = s.category
	b[10] = s.number
	b[11] = s.process
	b[12] = 0
	b[13] = 255
	b[17] = 1 // hours
	put4ByteInt(b[18:22], int64(s.forecast))
	b[22] = s.surfaceType
	if s.surfaceType == SurfaceGround || s.surfaceType == SurfaceMeanSea {
		b[23] = 0
	} else {
		factor, value := encodeScaled(s.surfaceValue)
		b[23] = byte(factor)
		put4ByteInt(b[24:28], value)
	}
	b[28] = SurfaceMissing
	b[29] = 0xff
	binary.BigEndian.PutUint32(b[30:34], math.MaxUint32)
	if s.interval != nil {
		end := refTime.UTC().Add(time.Duration(s.forecast+s.interval.Hours) * time.Hour)
		binary.BigEndian.PutUint16(b[34:36], uint16(end.Year()))
		b[36], b[37], b[38], b[39], b[40] = byte(end.Month()), byte(end.Day()), byte(end.Hour()), byte(end.Minute()), byte(end.Second())
		b[41] = 1
		b[46] = s.interval.Process
		b[47] = 2 // successive forecasts, forecast time incremented
		b[48] = 1
		binary.BigEndian.PutUint32(b[49:53], uint32(s.interval.Hours))
		b[53] = 255
	}
	return append(dst, b...)
}

// timeUnitHours converts code table 4.4 to a number of hours.
func timeUnitHours(code byte) (float64, error) {
	switch code {
	case 0:
		return 1.0 / 60, nil
	case 1:
		return 1, nil
	case 2:
		return 24, nil
	case 10:
		return 3, nil
	case 11:
		return 6, nil
	case 12:
		return 12, nil
	case 13:
		return 1.0 / 3600, nil
	}
	return 0, fmt.Errorf("unsupported unit of time range %d", code)
}

func scaledValue(factor byte, value []byte) float64 {
	if factor == 0xff && parse4ByteUint(value) == math.MaxUint32 {
		return 0
	}
	f := int(factor & 0x7f)
	if factor&0x80 != 0 {
		f = -f
	}
	return float64(parse4ByteInt(value)) / math.Pow10(f)
}

// encodeScaled finds the smallest decimal scale factor that represents v as an
// integer.
func encodeScaled(v float64) (int, int64) {
	for f := 0; f < 9; f++ {
		s := v * math.Pow10(f)
		if math.Abs(s-math.Round(s)) < 1e-9*math.Max(1, math.Abs(s)) {
			return f, int64(math.Round(s))
		}
	}
	return 9, int64(math.Round(v * 1e9))
}

// complexPacking holds the extra fields of templates 5.2 and 5.3.
type complexPacking struct {
	missingManagement byte
	groups            uint32
	widthRef          byte
	widthBits         byte
	lengthRef         uint32
	lengthIncrement   byte
	lastLength        uint32
	lengthBits        byte
	// Template 5.3 only.
	order       byte
	extraOctets byte
}

type representationSection struct {
	numValues      uint32
	templateNumber uint16
	ref            float32
	binaryScale    int
	decimalScale   int
	bits           byte
	complex        *complexPacking
}

func (s *representationSection) parseBytes(data []byte) (int, error) {
	/*
		92.7 Section 5 – Data representation section

		Octet No. Contents
		1–4 Length of section in octets (nn)
		5 Number of section (5)
		6–9 Number of data points where one or more values are specified in Section 7 when a bit map is present, total number of data points when a bit map is absent
		10–11 Data representation template number (see Code table 5.0)
		12–nn Data representation template

		Data representation template 5.0 – grid point data – simple packing

		12–15 Reference value (R) (IEEE 32-bit floating-point value)
		16–17 Binary scale factor (E)
		18–19 Decimal scale factor (D)
		20 Number of bits used for each packed value for simple packing, or for each group reference value for complex packing or spatial differencing
		21 Type of original field values (see Code table 5.1)

		Template 5.2 – grid point data – complex packing

		22 Group splitting method used (see Code table 5.4)
		23 Missing value management used (see Code table 5.5)
		24–27 Primary missing value substitute
		28–31 Secondary missing value substitute
		32–35 NG – number of groups of data values into which field is split
		36 Reference for group widths
		37 Number of bits used for the group widths (after the reference value in octet 36 has been removed)
		38–41 Reference for group lengths
		42 Length increment for the group lengths
		43–46 True length of last group
		47 Number of bits used for the scaled group lengths (after subtraction of the reference value given in octets 38–41 and division by the length increment given in octet 42)

		Template 5.3 – grid point data – complex packing and spatial differencing

		48 Order of spatial differencing (see Code table 5.6)
		49 Number of octets required in the data section to specify extra descriptors needed for spatial differencing (octets 6–ww in data template 7.3)
	*/
	if len(data) < 21 {
		return 0, fmt.Errorf("data representation section is %d bytes long, want at least 21", len(data))
	}
	s.numValues = parse4ByteUint(data[5:9])
	s.templateNumber = parse2ByteUint(data[9:11])
	s.ref = parseFloat32(data[11:15])
	s.binaryScale = int(parse2ByteInt(data[15:17]))
	s.decimalScale = int(parse2ByteInt(data[17:19]))
	s.bits = data[19]
	switch s.templateNumber {
	case 0:
		return len(data), nil
	case 2, 3:
	case 40:
		return 0, fmt.Errorf("data representation template 5.40 (JPEG 2000) is not supported, extract with wgrib2 instead")
	default:
		return 0, fmt.Errorf("data representation template 5.%d is not supported", s.templateNumber)
	}
	want := 47
	if s.templateNumber == 3 {
		want = 49
	}
	if len(data) < want {
		return 0, fmt.Errorf("data representation template 5.%d is %d bytes long, want %d", s.templateNumber, len(data), want)
	}
	c := &complexPacking{
		missingManagement: data[22],
		groups:            parse4ByteUint(data[31:35]),
		widthRef:          data[35],
		widthBits:         data[36],
		lengthRef:         parse4ByteUint(data[37:41]),
		lengthIncrement:   data[41],
		lastLength:        parse4ByteUint(data[42:46]),
		lengthBits:        data[46],
	}
	if s.templateNumber == 3 {
		c.order = data[47]
		c.extraOctets = data[48]
		if c.order > 2 {
			return 0, fmt.Errorf("spatial differencing of order %d is not supported", c.order)
		}
	}
	s.complex = c
	return len(data), nil
}

func (s *representationSection) appendBytes(dst []byte) []byte {
	var b [21]byte
	binary.BigEndian.PutUint32(b[0:4], 21)
	b[4] = 5
	binary.BigEndian.PutUint32(b[5:9], s.numValues)
	binary.BigEndian.PutUint32(b[11:15], math.Float32bits(s.ref))
	put2ByteInt(b[15:17], int32(s.binaryScale))
	put2ByteInt(b[17:19], int32(s.decimalScale))
	b[19] = s.bits
	return append(dst, b[:]...)
}

type bitmapSection struct {
	indicator byte
	bits      []byte
}

func (s *bitmapSection) parseBytes(data []byte) (int, error) {
	/*
		92.8 Section 6 – Bit-map section

		Octet No. Contents
		1–4 Length of section in octets (nn)
		5 Number of section (6)
		6 Bit-map indicator (see Code table 6.0)
		7–nn Bit-map
	*/
	if len(data) < 6 {
		return 0, fmt.Errorf("bit-map section is %d bytes long, want at least 6", len(data))
	}
	s.indicator = data[5]
	switch s.indicator {
	case 0:
		s.bits = data[6:]
	case 255:
		s.bits = nil
	default:
		return 0, fmt.Errorf("bit-map indicator %d is not supported", s.indicator)
	}
	return len(data), nil
}

func (s *bitmapSection) present() bool { return s.indicator == 0 }

func (s *bitmapSection) isSet(i int) bool {
	return s.bits[i>>3]>>(7-uint(i&7))&1 == 1
}

func (s *bitmapSection) appendBytes(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(6+len(s.bits)))
	dst = append(dst, 6, s.indicator)
	return append(dst, s.bits...)
}

type dataSection struct {
	data []byte
}

func (s *dataSection) parseBytes(data []byte) (int, error) {
	/*
		92.9 Section 7 – Data section

		Octet No. Contents
		1–4 Length of section in octets (nn)
		5 Number of section (7)
		6–nn Data in a format described by data template 7.X, where X is the data representation template number given in octets 10–11 of Section 5
	*/
	if len(data) < 5 {
		return 0, fmt.Errorf("data section is %d bytes long, want at least 5", len(data))
	}
	s.data = data[5:]
	return len(data), nil
}

func (s *dataSection) appendBytes(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(5+len(s.data)))
	dst = append(dst, 7)
	return append(dst, s.data...)
}
