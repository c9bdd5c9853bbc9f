// Package format implements the on-disk file layout described in spec §3
// and §6: the 512-byte file header, the block registry, and the free-space
// map/extent allocator. It is grounded on the teacher's
// internal/storage/pager/superblock.go and freelist.go, generalized from a
// single fixed superblock layout to the named-block registry the spec
// requires, and from a flat free-page set to a two-level bitmap + extent
// list.
package format

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Page size bounds (spec §6: page_size is 2048 | 4096 | 8192, fixed at
// file creation).
const (
	DefaultPageSize = 4096
	MinPageSize     = 2048
	MaxPageSize     = 8192
)

// PageID addresses a single fixed-size page within the file.
type PageID uint64

// InvalidPageID marks a null page pointer.
const InvalidPageID PageID = 0

// LSN is a monotonically increasing WAL Log Sequence Number.
type LSN uint64

// TxID identifies a transaction.
type TxID uint64

// HeaderSize is the fixed size of the file header (spec §3).
const HeaderSize = 512

// Magic identifies a SharpCoreDB file: the four ASCII bytes "SCDB". Marshal
// follows them with FormatVersion as a little-endian uint32, so a version-1
// file begins "SCDB" 0x01 0x00 0x00 0x00.
var Magic = [4]byte{'S', 'C', 'D', 'B'}

// CurrentFormatVersion is the on-disk format version understood by this
// build (spec §6: "Current format version 1").
const CurrentFormatVersion uint32 = 1

// EncryptionMode selects whether block payloads are sealed (spec §4.1).
type EncryptionMode uint8

const (
	EncryptionNone EncryptionMode = iota
	EncryptionAES256GCM
)

// Header field byte offsets within the 512-byte header.
const (
	offMagic            = 0  // 4 bytes
	offVersion          = 4  // 4 bytes
	offPageSize         = 8  // 4 bytes
	offHeaderSize       = 12 // 4 bytes
	offEncryptionMode   = 16 // 1 byte
	offKeyID            = 17 // 1 byte (index into key-derivation salt table; 0 = none)
	offSalt             = 24 // 16 bytes — PBKDF2 salt for key derivation
	offNonceBase        = 40 // 12 bytes — base material folded into per-block nonce derivation
	offRegistryOffset   = 56 // 8 bytes
	offRegistryLength   = 64 // 8 bytes
	offFSMOffset        = 72 // 8 bytes
	offFSMLength        = 80 // 8 bytes
	offWALOffset        = 88 // 8 bytes
	offWALLength        = 96 // 8 bytes
	offTableDirOffset   = 104 // 8 bytes
	offTableDirLength   = 112 // 8 bytes
	offLastTxID         = 120 // 8 bytes
	offLastCheckpoint   = 128 // 8 bytes
	offFileSize         = 136 // 8 bytes
	offAllocatedPages   = 144 // 8 bytes
	offTotalRecords     = 152 // 8 bytes
	offTotalDeletes     = 160 // 8 bytes
	offLastVacuumUnixUS = 168 // 8 bytes
	offFragmentationPM  = 176 // 4 bytes — fragmentation in parts-per-million
	offFileChecksum     = 480 // 32 bytes — SHA-256 over bytes [0:480), zero-filled checksum region excluded
	// [180:480) reserved/zero-filled.
)

// Stats mirrors the "statistics" sub-record of the file header.
type Stats struct {
	TotalRecords    uint64
	TotalDeletes    uint64
	LastVacuumUnixUS int64
	FragmentationPM  uint32 // fragmentation, parts per million of allocated space
}

// Header is the parsed contents of the first 512 bytes of a SharpCoreDB
// file.
type Header struct {
	FormatVersion uint32
	PageSize      uint32
	HeaderSize    uint32
	Encryption    EncryptionMode
	KeyID         uint8
	Salt          [16]byte
	NonceBase     [12]byte

	RegistryOffset uint64
	RegistryLength uint64
	FSMOffset      uint64
	FSMLength      uint64
	WALOffset      uint64
	WALLength      uint64
	TableDirOffset uint64
	TableDirLength uint64

	LastTxID      TxID
	LastCheckpoint LSN
	FileSize       uint64
	AllocatedPages uint64
	Stats          Stats
}

// NewHeader builds a default header for a brand-new file.
func NewHeader(pageSize uint32, enc EncryptionMode) *Header {
	return &Header{
		FormatVersion: CurrentFormatVersion,
		PageSize:      pageSize,
		HeaderSize:    HeaderSize,
		Encryption:    enc,
		FileSize:      HeaderSize,
	}
}

// Marshal serializes h into a HeaderSize-byte buffer, computing the
// file-level SHA-256 over everything but the checksum field itself.
func Marshal(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[offMagic:], Magic[:])
	binary.LittleEndian.PutUint32(buf[offVersion:], h.FormatVersion)
	binary.LittleEndian.PutUint32(buf[offPageSize:], h.PageSize)
	binary.LittleEndian.PutUint32(buf[offHeaderSize:], h.HeaderSize)
	buf[offEncryptionMode] = byte(h.Encryption)
	buf[offKeyID] = h.KeyID
	copy(buf[offSalt:], h.Salt[:])
	copy(buf[offNonceBase:], h.NonceBase[:])
	binary.LittleEndian.PutUint64(buf[offRegistryOffset:], h.RegistryOffset)
	binary.LittleEndian.PutUint64(buf[offRegistryLength:], h.RegistryLength)
	binary.LittleEndian.PutUint64(buf[offFSMOffset:], h.FSMOffset)
	binary.LittleEndian.PutUint64(buf[offFSMLength:], h.FSMLength)
	binary.LittleEndian.PutUint64(buf[offWALOffset:], h.WALOffset)
	binary.LittleEndian.PutUint64(buf[offWALLength:], h.WALLength)
	binary.LittleEndian.PutUint64(buf[offTableDirOffset:], h.TableDirOffset)
	binary.LittleEndian.PutUint64(buf[offTableDirLength:], h.TableDirLength)
	binary.LittleEndian.PutUint64(buf[offLastTxID:], uint64(h.LastTxID))
	binary.LittleEndian.PutUint64(buf[offLastCheckpoint:], uint64(h.LastCheckpoint))
	binary.LittleEndian.PutUint64(buf[offFileSize:], h.FileSize)
	binary.LittleEndian.PutUint64(buf[offAllocatedPages:], h.AllocatedPages)
	binary.LittleEndian.PutUint64(buf[offTotalRecords:], h.Stats.TotalRecords)
	binary.LittleEndian.PutUint64(buf[offTotalDeletes:], h.Stats.TotalDeletes)
	binary.LittleEndian.PutUint64(buf[offLastVacuumUnixUS:], uint64(h.Stats.LastVacuumUnixUS))
	binary.LittleEndian.PutUint32(buf[offFragmentationPM:], h.Stats.FragmentationPM)

	sum := sha256.Sum256(buf[:offFileChecksum])
	copy(buf[offFileChecksum:], sum[:])
	return buf
}

// Unmarshal parses and validates a header buffer, verifying the magic,
// format version, and file-level checksum.
func Unmarshal(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("header too short: %d bytes", len(buf))
	}
	if string(buf[offMagic:offMagic+4]) != string(Magic[:]) {
		return nil, fmt.Errorf("bad magic %q", buf[offMagic:offMagic+4])
	}
	want := sha256.Sum256(buf[:offFileChecksum])
	got := buf[offFileChecksum : offFileChecksum+32]
	if string(want[:]) != string(got) {
		return nil, fmt.Errorf("file header checksum mismatch")
	}

	h := &Header{
		FormatVersion: binary.LittleEndian.Uint32(buf[offVersion:]),
		PageSize:      binary.LittleEndian.Uint32(buf[offPageSize:]),
		HeaderSize:    binary.LittleEndian.Uint32(buf[offHeaderSize:]),
		Encryption:    EncryptionMode(buf[offEncryptionMode]),
		KeyID:         buf[offKeyID],
	}
	copy(h.Salt[:], buf[offSalt:offSalt+16])
	copy(h.NonceBase[:], buf[offNonceBase:offNonceBase+12])
	h.RegistryOffset = binary.LittleEndian.Uint64(buf[offRegistryOffset:])
	h.RegistryLength = binary.LittleEndian.Uint64(buf[offRegistryLength:])
	h.FSMOffset = binary.LittleEndian.Uint64(buf[offFSMOffset:])
	h.FSMLength = binary.LittleEndian.Uint64(buf[offFSMLength:])
	h.WALOffset = binary.LittleEndian.Uint64(buf[offWALOffset:])
	h.WALLength = binary.LittleEndian.Uint64(buf[offWALLength:])
	h.TableDirOffset = binary.LittleEndian.Uint64(buf[offTableDirOffset:])
	h.TableDirLength = binary.LittleEndian.Uint64(buf[offTableDirLength:])
	h.LastTxID = TxID(binary.LittleEndian.Uint64(buf[offLastTxID:]))
	h.LastCheckpoint = LSN(binary.LittleEndian.Uint64(buf[offLastCheckpoint:]))
	h.FileSize = binary.LittleEndian.Uint64(buf[offFileSize:])
	h.AllocatedPages = binary.LittleEndian.Uint64(buf[offAllocatedPages:])
	h.Stats = Stats{
		TotalRecords:     binary.LittleEndian.Uint64(buf[offTotalRecords:]),
		TotalDeletes:     binary.LittleEndian.Uint64(buf[offTotalDeletes:]),
		LastVacuumUnixUS: int64(binary.LittleEndian.Uint64(buf[offLastVacuumUnixUS:])),
		FragmentationPM:  binary.LittleEndian.Uint32(buf[offFragmentationPM:]),
	}

	if h.FormatVersion != CurrentFormatVersion {
		return nil, fmt.Errorf("unsupported format version %d (supports %d)", h.FormatVersion, CurrentFormatVersion)
	}
	if h.PageSize < MinPageSize || h.PageSize > MaxPageSize || h.PageSize&(h.PageSize-1) != 0 {
		return nil, fmt.Errorf("invalid page size %d", h.PageSize)
	}
	return h, nil
}
