package badgerstore

import "fmt"

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so the container hierarchy is mapped onto
// prefixed keys. Paths are used directly in keys: container paths are
// stable identifiers chosen by the caller, and embedding them keeps the
// database human-readable and point lookups O(1). Rename pays for this by
// re-keying the moved subtree, which is acceptable for interactive-scale
// hierarchies.
//
// Key Namespace Prefixes:
//
// Data Type          Prefix  Key Format                 Value Type
// =====================================================================
// Entry Metadata     "e:"    e:<path>                   Entry (JSON)
// Attributes         "a:"    a:<path>                   []Attr (JSON)
// Child Order        "k:"    k:<path>                   []string (JSON)
// Payload Chunks     "c:"    c:<path>:<ord, 16-hex>     raw chunk bytes
// String Payload     "s:"    s:<path>                   raw UTF-8 bytes
// Store Config       "cfg:"  cfg:store                  storeConfig (JSON)
//
// Notes:
//
//  1. Entry Metadata (e:) holds the container.Entry struct per node,
//     including shape, max shape and link target. The root group has an
//     entry like any other node so its attributes and child order persist.
//
//  2. Attributes (a:) and Child Order (k:) are single JSON blobs per node
//     rather than one key per item: both are small, order matters for
//     both, and a blob read-modify-write inside one transaction is simpler
//     than maintaining order out of lexicographic key scans.
//
//  3. Payload Chunks (c:) split a field's linear row-major payload into
//     fixed-size pages (chunkBytes, recorded in cfg:store). The ordinal is
//     zero-padded hex so chunk keys scan in payload order. Chunks never
//     written have no key and read as zeros.
//
//  4. JSON for metadata matches the rest of the module's stores: the
//     values are small, debuggable with badger tooling, and schema
//     evolution stays cheap. Chunk payloads are raw bytes; there is
//     nothing to gain from encoding them.

const (
	// prefixEntry is the key prefix for node metadata
	prefixEntry = "e:"

	// prefixAttrs is the key prefix for per-node attribute lists
	prefixAttrs = "a:"

	// prefixChildren is the key prefix for per-group child name order
	prefixChildren = "k:"

	// prefixChunk is the key prefix for payload chunks
	prefixChunk = "c:"

	// prefixString is the key prefix for scalar string payloads
	prefixString = "s:"

	// keyConfig is the singleton store configuration key
	keyConfig = "cfg:store"
)

func entryKey(path string) []byte {
	return []byte(prefixEntry + path)
}

func attrsKey(path string) []byte {
	return []byte(prefixAttrs + path)
}

func childrenKey(path string) []byte {
	return []byte(prefixChildren + path)
}

func chunkKey(path string, ord uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%016x", prefixChunk, path, ord))
}

func chunkPrefix(path string) []byte {
	return []byte(prefixChunk + path + ":")
}

func stringKey(path string) []byte {
	return []byte(prefixString + path)
}
