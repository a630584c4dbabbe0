// Package gribio frames the messages of a GRIB file. Edition 2 messages are
// returned with their byte offsets; edition 1 messages are skipped.
package gribio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/NOAA-EMC/MLGEFS/grib2"
	"github.com/golang/glog"
)

// Record is one framed GRIB2 message.
type Record struct {
	// Offset is the byte offset of the message in the file.
	Offset int64
	Data   []byte
}

// Message parses the record's sections.
func (r *Record) Message() (*grib2.Message, error) {
	m, err := grib2.Parse(r.Data)
	if err != nil {
		return nil, fmt.Errorf("error parsing message @ byte offset %d: %w", r.Offset, err)
	}
	return m, nil
}

// Reader reads GRIB2 records from a stream.
type Reader struct {
	rr     *bufio.Reader
	offset int64
}

func NewReader(r io.Reader) *Reader {
	return &Reader{rr: bufio.NewReader(r)}
}

// Next returns the next GRIB2 record or io.EOF.
func (r *Reader) Next() (*Record, error) {
	for {
		skipCount, err := skipZeros(r.rr)
		r.offset += int64(skipCount)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("error parsing file: %w", err)
		}

		pt, messageLen, err := peekParseType(r.rr)
		if err != nil {
			return nil, fmt.Errorf("error encountered when expecting a GRIB message @ byte offset %d: %w", r.offset, err)
		}
		glog.V(2).Infof("record @ offset %d is of type %s", r.offset, pt)

		if pt == parseAsGRIB1 {
			glog.Warningf("skipping GRIB edition 1 message @ byte offset %d", r.offset)
			if _, err := io.CopyN(io.Discard, r.rr, int64(messageLen)); err != nil {
				return nil, fmt.Errorf("error skipping message of expected length %d: %w", messageLen, err)
			}
			r.offset += int64(messageLen)
			continue
		}

		data := make([]byte, int(messageLen))
		if readCount, err := io.ReadFull(r.rr, data); err != nil {
			return nil, fmt.Errorf("error while reading message of expected length %d; only read %d bytes: %w", messageLen, readCount, err)
		}
		rec := &Record{Offset: r.offset, Data: data}
		r.offset += int64(messageLen)
		return rec, nil
	}
}

// ReadAll returns every GRIB2 record of r.
func ReadAll(r io.Reader) ([]*Record, error) {
	var out []*Record
	rd := NewReader(r)
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// ReadFile returns every GRIB2 record of the named file.
func ReadFile(path string) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	glog.Infof("read %d GRIB2 messages from %s", len(recs), path)
	return recs, nil
}

func skipZeros(rr *bufio.Reader) (int, error) {
	skipCount := 0
	for {
		b, err := rr.ReadByte()
		if err != nil {
			return skipCount, err
		}
		if b == 0 {
			skipCount++
			continue
		}
		if err := rr.UnreadByte(); err != nil {
			return skipCount, err
		}
		return skipCount, nil
	}
}

type parseType int

const (
	parseAsInvalidMessage parseType = iota
	parseAsGRIB1
	parseAsGRIB2
)

func (p parseType) String() string {
	switch p {
	case parseAsGRIB1:
		return "GRIB1"
	case parseAsGRIB2:
		return "GRIB2"
	}
	return "invalid"
}

func peekParseType(rr *bufio.Reader) (parseType, uint64, error) {
	// Edition 1 needs 8 bytes, edition 2 needs 16.
	data, err := rr.Peek(8)
	if err != nil {
		return parseAsInvalidMessage, 0, fmt.Errorf("error while expecting GRIB record: %w", err)
	}
	if got, want := string(data[0:4]), "GRIB"; got != want {
		return parseAsInvalidMessage, 0, fmt.Errorf("first four bytes = %q, want %q", got, want)
	}
	edition := data[7]

	switch edition {
	case 1:
		// https://apps.ecmwf.int/codes/grib/format/grib1/sections/0/
		messageLength := uint64(binary.BigEndian.Uint32([]byte{0, data[4], data[5], data[6]}))
		return parseAsGRIB1, messageLength, nil
	case 2:
		// https://apps.ecmwf.int/codes/grib/format/grib2/sections/0/
		data, err = rr.Peek(16)
		if err != nil {
			return parseAsInvalidMessage, 0, fmt.Errorf("error while reading GRIB2 indicator section: %w", err)
		}
		messageLength := binary.BigEndian.Uint64(data[8 : 8+8])
		if messageLength < 16 {
			return parseAsInvalidMessage, 0, fmt.Errorf("GRIB2 message length %d is shorter than its indicator section", messageLength)
		}
		return parseAsGRIB2, messageLength, nil
	default:
		return parseAsInvalidMessage, 0, fmt.Errorf("invalid edition %d, wanted 1 or 2", edition)
	}
}
