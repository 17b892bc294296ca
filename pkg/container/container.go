// Package container defines the chunked hierarchical container abstraction:
// a file of named groups, typed shaped fields and links, with scalar/string
// attributes attached to any node and partial ("slab") reads and writes into
// field payloads.
//
// The package contains the storage-agnostic pieces (node kinds, dtypes,
// shapes, slab selection math, attribute encoding and the Store interface)
// while the sibling packages provide backends:
//
//   - memory:      page-based in-memory store (reference implementation)
//   - native:      single-file chunked binary format
//   - badgerstore: BadgerDB-backed persistent store
//   - s3:          S3/MinIO-backed store for archival copies
//
// The lazy tree model in pkg/tree is the primary consumer; it layers node
// objects, dirty tracking and the write-lock protocol on top of a Store.
package container

import (
	"encoding/binary"
	"math"
	"strings"
)

// ============================================================================
// Node Kinds
// ============================================================================

// Kind identifies what a container entry is.
type Kind uint8

const (
	// KindGroup is a container node holding named child nodes in
	// insertion order
	KindGroup Kind = iota

	// KindField is a node holding a typed, shaped array payload plus
	// attributes
	KindField

	// KindLink is a node holding a non-owning path reference to another
	// node, within the same container or in an external one
	KindLink
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindField:
		return "field"
	case KindLink:
		return "link"
	default:
		return "unknown"
	}
}

// ============================================================================
// Dtypes
// ============================================================================

// Dtype identifies the element type of a field payload or attribute value.
//
// Numeric values are stored little-endian in row-major element order.
// DtypeString is variable-length and only valid for scalar fields and
// attributes; slab selection over string payloads is rejected.
type Dtype uint8

const (
	DtypeInt8 Dtype = iota
	DtypeInt16
	DtypeInt32
	DtypeInt64
	DtypeUint8
	DtypeUint16
	DtypeUint32
	DtypeUint64
	DtypeFloat32
	DtypeFloat64
	DtypeString
)

// Size returns the element size in bytes, or 0 for variable-length types.
func (d Dtype) Size() int {
	switch d {
	case DtypeInt8, DtypeUint8:
		return 1
	case DtypeInt16, DtypeUint16:
		return 2
	case DtypeInt32, DtypeUint32, DtypeFloat32:
		return 4
	case DtypeInt64, DtypeUint64, DtypeFloat64:
		return 8
	default:
		return 0
	}
}

// String returns the canonical dtype name (matches what the CLI prints).
func (d Dtype) String() string {
	switch d {
	case DtypeInt8:
		return "int8"
	case DtypeInt16:
		return "int16"
	case DtypeInt32:
		return "int32"
	case DtypeInt64:
		return "int64"
	case DtypeUint8:
		return "uint8"
	case DtypeUint16:
		return "uint16"
	case DtypeUint32:
		return "uint32"
	case DtypeUint64:
		return "uint64"
	case DtypeFloat32:
		return "float32"
	case DtypeFloat64:
		return "float64"
	case DtypeString:
		return "string"
	default:
		return "unknown"
	}
}

// ParseDtype converts a canonical dtype name back to a Dtype.
func ParseDtype(s string) (Dtype, bool) {
	for d := DtypeInt8; d <= DtypeString; d++ {
		if d.String() == s {
			return d, true
		}
	}
	return 0, false
}

// ByteOrder is the element byte order for all numeric payloads.
var ByteOrder = binary.LittleEndian

// ============================================================================
// Shapes
// ============================================================================

// Unlimited marks an axis of a maximum shape as extensible: writes past the
// current extent along that axis grow the field instead of failing.
const Unlimited = math.MaxUint64

// Shape is the extent of a field along each axis. A nil or empty shape
// denotes a scalar.
type Shape []uint64

// NumElements returns the total element count (1 for scalars).
func (s Shape) NumElements() uint64 {
	n := uint64(1)
	for _, dim := range s {
		n *= dim
	}
	return n
}

// IsScalar reports whether the shape has no axes.
func (s Shape) IsScalar() bool {
	return len(s) == 0
}

// Clone returns an independent copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Equal reports whether two shapes have identical rank and extents.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// ============================================================================
// Entries
// ============================================================================

// Entry describes one node of the container hierarchy without its payload.
// Structural discovery (Store.Walk) yields entries; payload bytes are read
// separately and lazily via Store.ReadValue.
type Entry struct {
	// Path is the slash-delimited absolute path, e.g. "/entry/data"
	Path string `json:"path"`

	// Kind distinguishes group, field and link entries
	Kind Kind `json:"kind"`

	// Dtype is the element type (fields only)
	Dtype Dtype `json:"dtype,omitempty"`

	// Shape is the current extent along each axis (fields only)
	Shape Shape `json:"shape,omitempty"`

	// MaxShape is the maximum extent along each axis; Unlimited marks an
	// extensible axis. Empty means MaxShape == Shape (not growable).
	MaxShape Shape `json:"max_shape,omitempty"`

	// Target is the referenced path (links only). External targets use
	// the form "file.nxt#/path/inside".
	Target string `json:"target,omitempty"`
}

// Growable reports whether the entry may be extended along the given axis.
func (e *Entry) Growable(axis int) bool {
	if axis < 0 || axis >= len(e.MaxShape) {
		return false
	}
	return e.MaxShape[axis] == Unlimited || e.MaxShape[axis] > e.Shape[axis]
}

// ByteSize returns the payload size in bytes for fixed-size dtypes, or 0
// for string fields.
func (e *Entry) ByteSize() uint64 {
	return e.Shape.NumElements() * uint64(e.Dtype.Size())
}

// ============================================================================
// Open Modes
// ============================================================================

// Mode controls how a container is opened.
type Mode uint8

const (
	// ReadOnly opens an existing container for reading; mutations fail
	// with ErrReadOnly
	ReadOnly Mode = iota

	// ReadWrite opens an existing container for reading and writing
	ReadWrite

	// Create creates a new container, failing if one already exists
	Create
)

// String returns the mode name used in configuration files.
func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	case Create:
		return "create"
	default:
		return "unknown"
	}
}

// ============================================================================
// Paths
// ============================================================================

// RootPath is the path of the distinguished root group.
const RootPath = "/"

// ValidName reports whether name is usable as a child name: non-empty, no
// slash, and not one of the reserved dot names.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}

// JoinPath appends a child name to a parent path.
func JoinPath(parent, name string) string {
	if parent == RootPath {
		return RootPath + name
	}
	return parent + "/" + name
}

// SplitPath splits an absolute path into its parent path and base name.
// SplitPath("/") returns ("/", "").
func SplitPath(path string) (parent, name string) {
	if path == RootPath {
		return RootPath, ""
	}
	idx := strings.LastIndex(path, "/")
	if idx == 0 {
		return RootPath, path[1:]
	}
	return path[:idx], path[idx+1:]
}

// PathComponents returns the name components of an absolute path, outermost
// first. The root path has no components.
func PathComponents(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// ValidPath reports whether path is a well-formed absolute container path.
func ValidPath(path string) bool {
	if path == RootPath {
		return true
	}
	if !strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return false
	}
	for _, comp := range PathComponents(path) {
		if !ValidName(comp) {
			return false
		}
	}
	return true
}

// IsAncestor reports whether ancestor strictly contains path.
func IsAncestor(ancestor, path string) bool {
	if ancestor == path {
		return false
	}
	if ancestor == RootPath {
		return path != RootPath
	}
	return strings.HasPrefix(path, ancestor+"/")
}
