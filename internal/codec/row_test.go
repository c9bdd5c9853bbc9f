package codec

import (
	"testing"

	"github.com/google/uuid"
)

func TestRowRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		row  []Cell
	}{
		{"null-only", []Cell{NullCell(), NullCell()}},
		{"bool", []Cell{BoolCell(true), BoolCell(false)}},
		{"integer", []Cell{IntegerCell(42), IntegerCell(-1)}},
		{"float", []Cell{FloatCell(3.14), FloatCell(-0.5)}},
		{"decimal", []Cell{DecimalCell(Decimal{Mantissa: 12345, Exponent: -2})}},
		{"text", []Cell{TextCell("hello"), TextCell("")}},
		{"datetime", []Cell{DateTimeCell(1700000000000000)}},
		{"blob", []Cell{BlobCell([]byte{0xDE, 0xAD, 0xBE, 0xEF})}},
		{"ulid", []Cell{ULIDCell([16]byte{1, 2, 3})}},
		{"guid", []Cell{GUIDCell(uuid.New())}},
		{"vector", []Cell{VectorCell([]float32{1, 2, 3.5})}},
		{"mixed", []Cell{IntegerCell(1), TextCell("two"), FloatCell(3), NullCell(), BoolCell(true)}},
		{"empty-row", []Cell{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeRow(tt.row, nil)
			decoded, err := DecodeRow(encoded)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(decoded) != len(tt.row) {
				t.Fatalf("length mismatch: got %d, want %d", len(decoded), len(tt.row))
			}
			for i := range tt.row {
				if decoded[i].Tag != tt.row[i].Tag {
					t.Errorf("[%d] tag mismatch: got %v, want %v", i, decoded[i].Tag, tt.row[i].Tag)
				}
			}
		})
	}
}

func TestDecodeRowTruncated(t *testing.T) {
	row := []Cell{TextCell("hello world")}
	encoded := EncodeRow(row, nil)
	if _, err := DecodeRow(encoded[:len(encoded)-3]); err == nil {
		t.Fatal("expected error decoding truncated row")
	}
}

func TestDecodeRowTooShort(t *testing.T) {
	if _, err := DecodeRow([]byte{0x01}); err == nil {
		t.Fatal("expected error for data shorter than header")
	}
}
