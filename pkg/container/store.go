package container

import (
	"context"
)

// ============================================================================
// Store Interface
// ============================================================================

// WalkFunc is called for each entry during structural discovery, in
// depth-first order with parents before children and siblings in insertion
// order. Returning an error stops the walk and propagates to the caller.
type WalkFunc func(entry Entry) error

// Store provides access to one chunked hierarchical container.
//
// A Store is created by a backend constructor (memory.New, native.Open,
// badgerstore.Open, s3.Open) with an open Mode; the interface then covers
// structural discovery, metadata queries, attribute access, slab I/O and
// structural mutation.
//
// Separation of Concerns:
//
// The store manages persistence only. It does NOT manage:
//   - The in-memory node graph, laziness and dirty tracking → pkg/tree
//   - The cross-process write lock protocol → pkg/lock (enforced by
//     tree.Root before mutations reach the store)
//   - Schema conventions (NX_class, signal/axes) → pkg/tree and
//     pkg/tree/nxschema; the store sees them as ordinary attributes
//
// Error Contract:
// All business-logic failures are *StoreError values with a code from the
// taxonomy in errors.go; infrastructure failures (disk, network) surface as
// ErrIO or wrapped underlying errors. No operation retries automatically.
//
// Ordering:
// Children enumerate in insertion order, and the byte runs of a single
// WriteValue call are applied in issue order.
//
// Thread Safety:
// Implementations must be safe for concurrent readers; concurrent writers
// are serialized by the caller through the write-lock protocol.
type Store interface {
	// Mode returns the mode the container was opened with.
	Mode() Mode

	// Walk performs structural discovery: it yields one Entry per node
	// (excluding the root group itself) without materializing payload
	// data. The walk is restartable: calling Walk again re-walks the
	// current structure from the beginning.
	Walk(ctx context.Context, fn WalkFunc) error

	// GetEntry returns the metadata entry for a single path.
	// Returns ErrNotFound if the path doesn't exist.
	GetEntry(ctx context.Context, path string) (*Entry, error)

	// Children returns the child names of a group in insertion order.
	// Returns ErrNotFound for missing paths and ErrNotGroup when the
	// path names a field or link.
	Children(ctx context.Context, path string) ([]string, error)

	// CreateGroup creates an empty group at path. The parent must exist
	// and be a group; the name must be unique within it.
	CreateGroup(ctx context.Context, path string) error

	// CreateField creates a field at path with the given dtype, initial
	// shape and optional maximum shape (see ValidateFieldDecl for the
	// declaration rules). The payload reads as zeros until written.
	CreateField(ctx context.Context, path string, dtype Dtype, shape, maxShape Shape) error

	// CreateLink creates a link at path pointing at target. Internal
	// targets are absolute container paths; external targets use the
	// "file#/path" form. Targets are not resolved or checked here;
	// resolution is lazy, on access through the tree layer.
	CreateLink(ctx context.Context, path, target string) error

	// ReadAttrs returns all attributes of a node in insertion order.
	ReadAttrs(ctx context.Context, path string) ([]Attr, error)

	// WriteAttr creates or replaces one attribute of a node. Replacing
	// keeps the attribute's position in insertion order.
	WriteAttr(ctx context.Context, path string, attr Attr) error

	// RemoveAttr deletes one attribute of a node. Removing a missing
	// attribute returns ErrNotFound.
	RemoveAttr(ctx context.Context, path, name string) error

	// ReadValue reads exactly the selected sub-array of a field as
	// little-endian row-major bytes. Selections outside the current
	// extent fail with ErrOutOfBounds. String fields are read with an
	// empty slab and return the raw bytes.
	ReadValue(ctx context.Context, path string, slab Slab) ([]byte, error)

	// WriteValue writes the selected sub-array of a field. The data
	// length must equal slab.NumElements() times the element size,
	// otherwise ErrShape. Writing past the current extent grows the
	// field along its leading axis when the declaration allows it
	// (CheckWriteExtent), otherwise fails with ErrShape.
	WriteValue(ctx context.Context, path string, slab Slab, data []byte) error

	// WriteString replaces the payload of a scalar string field.
	WriteString(ctx context.Context, path string, value string) error

	// Rename moves the node at oldPath (and its subtree) to newPath.
	// The destination parent must exist; the destination name must be
	// free. Renaming a node into its own subtree fails with
	// ErrInvalidArgument.
	Rename(ctx context.Context, oldPath, newPath string) error

	// Remove deletes the node at path, recursively for groups.
	// The root group cannot be removed.
	Remove(ctx context.Context, path string) error

	// Flush persists all pending state to the backing storage.
	Flush(ctx context.Context) error

	// Close flushes (for writable stores) and releases the container.
	// Operations after Close fail with ErrClosed. Close is idempotent.
	Close(ctx context.Context) error
}
