// Package codec implements the typed cell wire format (spec §3/§4.11) and
// collation (spec §4.11).
//
// The tag+payload row layout is grounded on the teacher's
// internal/storage/pager/row_codec.go (MarshalRow/UnmarshalRow), extended
// from its six JSON-value tags (nil/bool/int64/float64/string/bytes) to the
// spec's full typed-cell set: integer, float, decimal, text, boolean,
// datetime, blob, ULID, GUID, and vector. The round-trip law
// decode(encode(row)) == row (spec §8 P1) is preserved by keeping one tag
// byte per value followed by a fixed or length-prefixed payload, exactly as
// the teacher does.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Tag identifies the wire type of one cell (spec §3).
type Tag byte

const (
	TagNull Tag = iota
	TagBool
	TagInteger  // int64
	TagFloat    // float64
	TagDecimal  // scaled int64 mantissa + int8 exponent, per storage/decimal.go's shape
	TagText     // uint32 length prefix + UTF-8
	TagDateTime // int64 unix microseconds
	TagBlob     // uint32 length prefix + raw bytes
	TagULID     // 16 raw bytes
	TagGUID     // 16 raw bytes (github.com/google/uuid)
	TagVector   // uint32 dimension + dimension*float32
)

// Decimal is a fixed-point value: value == Mantissa * 10^Exponent.
// Grounded on the teacher's internal/storage/decimal.go Decimal type,
// which uses the same scaled-integer representation for exact arithmetic.
type Decimal struct {
	Mantissa int64
	Exponent int8
}

// Cell is one typed value in a row.
type Cell struct {
	Tag   Tag
	Bool  bool
	I64   int64
	F64   float64
	Dec   Decimal
	Text  string
	Blob  []byte
	ULID  [16]byte
	GUID  uuid.UUID
	Vec   []float32
}

func NullCell() Cell                 { return Cell{Tag: TagNull} }
func BoolCell(b bool) Cell           { return Cell{Tag: TagBool, Bool: b} }
func IntegerCell(v int64) Cell       { return Cell{Tag: TagInteger, I64: v} }
func FloatCell(v float64) Cell       { return Cell{Tag: TagFloat, F64: v} }
func DecimalCell(d Decimal) Cell     { return Cell{Tag: TagDecimal, Dec: d} }
func TextCell(s string) Cell         { return Cell{Tag: TagText, Text: s} }
func DateTimeCell(unixUS int64) Cell { return Cell{Tag: TagDateTime, I64: unixUS} }
func BlobCell(b []byte) Cell         { return Cell{Tag: TagBlob, Blob: b} }
func ULIDCell(u [16]byte) Cell       { return Cell{Tag: TagULID, ULID: u} }
func GUIDCell(u uuid.UUID) Cell      { return Cell{Tag: TagGUID, GUID: u} }
func VectorCell(v []float32) Cell    { return Cell{Tag: TagVector, Vec: v} }

// EncodeRow serializes a row of cells, matching the teacher's header shape
// ([0:2] column count LE) followed by tag+payload per cell.
func EncodeRow(row []Cell, buf []byte) []byte {
	est := 2 + len(row)*9
	if cap(buf) >= est {
		buf = buf[:0]
	} else {
		buf = make([]byte, 0, est)
	}
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(row)))
	buf = append(buf, hdr[:]...)

	for _, c := range row {
		buf = append(buf, byte(c.Tag))
		switch c.Tag {
		case TagNull:
		case TagBool:
			if c.Bool {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case TagInteger, TagDateTime:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(c.I64))
			buf = append(buf, b[:]...)
		case TagFloat:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(c.F64))
			buf = append(buf, b[:]...)
		case TagDecimal:
			var b [9]byte
			binary.LittleEndian.PutUint64(b[0:8], uint64(c.Dec.Mantissa))
			b[8] = byte(c.Dec.Exponent)
			buf = append(buf, b[:]...)
		case TagText:
			buf = appendLenPrefixed(buf, []byte(c.Text))
		case TagBlob:
			buf = appendLenPrefixed(buf, c.Blob)
		case TagULID:
			buf = append(buf, c.ULID[:]...)
		case TagGUID:
			buf = append(buf, c.GUID[:]...)
		case TagVector:
			var lb [4]byte
			binary.LittleEndian.PutUint32(lb[:], uint32(len(c.Vec)))
			buf = append(buf, lb[:]...)
			for _, f := range c.Vec {
				var fb [4]byte
				binary.LittleEndian.PutUint32(fb[:], math.Float32bits(f))
				buf = append(buf, fb[:]...)
			}
		default:
			panic(fmt.Sprintf("codec: unknown tag %d", c.Tag))
		}
	}
	return buf
}

func appendLenPrefixed(buf, payload []byte) []byte {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(payload)))
	buf = append(buf, lb[:]...)
	return append(buf, payload...)
}

// DecodeRow parses a row previously produced by EncodeRow (spec §8 P1:
// decode(encode(row)) == row).
func DecodeRow(data []byte) ([]Cell, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("codec: row data too short")
	}
	n := int(binary.LittleEndian.Uint16(data[:2]))
	off := 2
	row := make([]Cell, n)
	for i := 0; i < n; i++ {
		if off >= len(data) {
			return nil, fmt.Errorf("codec: truncated row at column %d", i)
		}
		tag := Tag(data[off])
		off++
		c := Cell{Tag: tag}
		switch tag {
		case TagNull:
		case TagBool:
			if off >= len(data) {
				return nil, fmt.Errorf("codec: truncated bool")
			}
			c.Bool = data[off] != 0
			off++
		case TagInteger, TagDateTime:
			if off+8 > len(data) {
				return nil, fmt.Errorf("codec: truncated int64")
			}
			c.I64 = int64(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
		case TagFloat:
			if off+8 > len(data) {
				return nil, fmt.Errorf("codec: truncated float64")
			}
			c.F64 = math.Float64frombits(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
		case TagDecimal:
			if off+9 > len(data) {
				return nil, fmt.Errorf("codec: truncated decimal")
			}
			c.Dec.Mantissa = int64(binary.LittleEndian.Uint64(data[off : off+8]))
			c.Dec.Exponent = int8(data[off+8])
			off += 9
		case TagText:
			s, next, err := readLenPrefixed(data, off)
			if err != nil {
				return nil, err
			}
			c.Text = string(s)
			off = next
		case TagBlob:
			b, next, err := readLenPrefixed(data, off)
			if err != nil {
				return nil, err
			}
			c.Blob = append([]byte(nil), b...)
			off = next
		case TagULID:
			if off+16 > len(data) {
				return nil, fmt.Errorf("codec: truncated ulid")
			}
			copy(c.ULID[:], data[off:off+16])
			off += 16
		case TagGUID:
			if off+16 > len(data) {
				return nil, fmt.Errorf("codec: truncated guid")
			}
			copy(c.GUID[:], data[off:off+16])
			off += 16
		case TagVector:
			if off+4 > len(data) {
				return nil, fmt.Errorf("codec: truncated vector length")
			}
			dim := int(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
			if off+dim*4 > len(data) {
				return nil, fmt.Errorf("codec: truncated vector payload")
			}
			v := make([]float32, dim)
			for j := 0; j < dim; j++ {
				v[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
				off += 4
			}
			c.Vec = v
		default:
			return nil, fmt.Errorf("codec: unknown tag %d at column %d", tag, i)
		}
		row[i] = c
	}
	return row, nil
}

func readLenPrefixed(data []byte, off int) ([]byte, int, error) {
	if off+4 > len(data) {
		return nil, 0, fmt.Errorf("codec: truncated length prefix")
	}
	n := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if off+n > len(data) {
		return nil, 0, fmt.Errorf("codec: truncated payload")
	}
	return data[off : off+n], off + n, nil
}
