package format

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := NewHeader(DefaultPageSize, EncryptionAES256GCM)
	h.LastTxID = 42
	h.LastCheckpoint = 7

	buf := Marshal(h)
	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.PageSize != h.PageSize || got.Encryption != h.Encryption {
		t.Fatalf("header fields lost in round trip: got %+v", got)
	}
	if got.LastTxID != 42 || got.LastCheckpoint != 7 {
		t.Fatalf("counters lost in round trip: got %+v", got)
	}
}

func TestHeaderTamperedChecksumRejected(t *testing.T) {
	h := NewHeader(DefaultPageSize, EncryptionNone)
	buf := Marshal(h)
	buf[100] ^= 0xFF

	if _, err := Unmarshal(buf); err == nil {
		t.Fatal("expected checksum verification to reject a tampered header")
	}
}

func TestHeaderRejectsBadPageSize(t *testing.T) {
	h := NewHeader(3000, EncryptionNone) // not a power of two
	buf := Marshal(h)
	if _, err := Unmarshal(buf); err == nil {
		t.Fatal("expected non-power-of-two page size to be rejected")
	}
}
