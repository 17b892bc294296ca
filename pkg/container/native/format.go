// Package native implements the single-file chunked container format.
//
// On-Disk Layout
// ==============
//
// A container file has three regions:
//
//	+--------------------+  offset 0
//	| superblock (40 B)  |
//	+--------------------+  offset 40
//	| chunk data area    |  field payload chunks, append-allocated
//	| ...                |
//	+--------------------+  index offset (recorded in superblock)
//	| metadata index     |  XDR-encoded hierarchy snapshot
//	+--------------------+
//
// Superblock (all integers little-endian):
//
//	bytes  0..7   magic "\x89NXT\r\n\x1a\n"
//	bytes  8..11  format version (currently 1)
//	bytes 12..15  flags (reserved, zero)
//	bytes 16..23  index offset
//	bytes 24..31  index length
//	bytes 32..35  CRC-32C of the index bytes
//	bytes 36..39  CRC-32C of superblock bytes 0..35
//
// The magic follows the HDF5/PNG convention: a high-bit byte to catch
// 7-bit transmission damage, the format name, CRLF and LF to catch line
// ending conversion, and ^Z to stop accidental console dumps on Windows.
//
// Chunk Data Area:
// Each fixed-dtype field is stored as its row-major linear byte payload
// divided into fixed-size chunks (chunkBytes, default 64 KiB). Chunks are
// allocated at end-of-file on first write and rewritten in place afterwards.
// Chunks never written stay unallocated and read as zeros, so sparse fields
// cost nothing. Growing a field along its leading axis appends chunks
// without moving existing data.
//
// Metadata Index:
// The index is one XDR-encoded snapshot of the whole hierarchy: entries
// (depth-first, insertion order), their attributes, scalar string payloads,
// and per-field chunk tables. Flush appends a fresh index after the data
// area and then rewrites the superblock to point at it; until that final
// superblock write the previous index stays valid, so a crash mid-flush
// loses the new snapshot but never the old one. Space held by superseded
// indexes and abandoned chunks is not reclaimed in place; rewriting the
// file through a tree save compacts it.
package native

import (
	"bytes"
	"fmt"
	"hash/crc32"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/nexusformat/nxtree/pkg/container"
)

// Magic identifies a native container file.
var Magic = [8]byte{0x89, 'N', 'X', 'T', '\r', '\n', 0x1a, '\n'}

const (
	// FormatVersion is the current on-disk format version.
	FormatVersion = 1

	// superblockSize is the fixed byte length of the superblock.
	superblockSize = 40

	// DefaultChunkBytes is the payload chunk size (64 KiB).
	DefaultChunkBytes = 64 * 1024
)

// castagnoli is the CRC-32C table used for all format checksums.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// superblock is the decoded fixed header.
type superblock struct {
	Version       uint32
	Flags         uint32
	IndexOffset   uint64
	IndexLength   uint64
	IndexChecksum uint32
}

// encode serializes the superblock with its trailing self-checksum.
func (sb *superblock) encode() []byte {
	buf := make([]byte, superblockSize)
	copy(buf[0:8], Magic[:])
	container.ByteOrder.PutUint32(buf[8:12], sb.Version)
	container.ByteOrder.PutUint32(buf[12:16], sb.Flags)
	container.ByteOrder.PutUint64(buf[16:24], sb.IndexOffset)
	container.ByteOrder.PutUint64(buf[24:32], sb.IndexLength)
	container.ByteOrder.PutUint32(buf[32:36], sb.IndexChecksum)
	container.ByteOrder.PutUint32(buf[36:40], crc32.Checksum(buf[0:36], castagnoli))
	return buf
}

// decodeSuperblock parses and verifies a superblock.
func decodeSuperblock(buf []byte) (*superblock, error) {
	if len(buf) < superblockSize {
		return nil, fmt.Errorf("file too short for superblock")
	}
	if !bytes.Equal(buf[0:8], Magic[:]) {
		return nil, fmt.Errorf("bad magic, not a native container file")
	}
	if got, want := crc32.Checksum(buf[0:36], castagnoli), container.ByteOrder.Uint32(buf[36:40]); got != want {
		return nil, fmt.Errorf("superblock checksum mismatch: %08x != %08x", got, want)
	}
	sb := &superblock{
		Version:       container.ByteOrder.Uint32(buf[8:12]),
		Flags:         container.ByteOrder.Uint32(buf[12:16]),
		IndexOffset:   container.ByteOrder.Uint64(buf[16:24]),
		IndexLength:   container.ByteOrder.Uint64(buf[24:32]),
		IndexChecksum: container.ByteOrder.Uint32(buf[32:36]),
	}
	if sb.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported format version %d", sb.Version)
	}
	return sb, nil
}

// ============================================================================
// Index Encoding
// ============================================================================

// The index types below are the XDR wire schema; they mirror the in-memory
// node model but stay independent of it so the wire layout can't drift by
// accident when the model changes.

// xdrAttr is one attribute on the wire.
type xdrAttr struct {
	Name  string
	Dtype uint32
	Data  []byte
}

// xdrChunk is one allocated payload chunk on the wire.
type xdrChunk struct {
	Index  uint64 // chunk ordinal within the field's linear payload
	Offset uint64 // absolute file offset of the chunk bytes
}

// xdrEntry is one hierarchy node on the wire.
type xdrEntry struct {
	Path     string
	Kind     uint32
	Dtype    uint32
	Shape    []uint64
	MaxShape []uint64
	Target   string
	Children []string // insertion order, groups only
	Attrs    []xdrAttr
	Chunks   []xdrChunk
	StrData  []byte // scalar string payload, kept inline in the index
}

// xdrIndex is the full metadata snapshot on the wire. Entries appear
// depth-first with parents before children; the root group is included so
// its attributes and child order persist.
type xdrIndex struct {
	ChunkBytes uint64
	Entries    []xdrEntry
}

// encodeIndex serializes the index snapshot.
func encodeIndex(idx *xdrIndex) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, idx); err != nil {
		return nil, fmt.Errorf("encoding index: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeIndex parses an index snapshot.
func decodeIndex(data []byte) (*xdrIndex, error) {
	var idx xdrIndex
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &idx); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	return &idx, nil
}

// indexChecksum computes the CRC-32C recorded in the superblock.
func indexChecksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}
