package tree

import (
	"context"
	"fmt"

	"github.com/nexusformat/nxtree/pkg/container"
)

// Field is a node owning a typed, shaped, lazily loaded array payload.
//
// A field that exists in the backing store keeps its payload there:
// ReadSlab and WriteSlab translate directly to store I/O (writes require
// the root's write lock) and Value caches the whole array in memory when
// it fits under the memory ceiling. A field created since the last save
// has no store presence yet; its payload is staged in an in-memory
// buffer, which itself is bounded by the memory ceiling.
type Field struct {
	node
	dtype    container.Dtype
	shape    container.Shape
	maxShape container.Shape

	// data is the whole-array cache (stored fields) or staging buffer
	// (new fields); nil while a stored field remains unloaded.
	data   []byte
	loaded bool

	strData string
	strSet  bool
}

func (f *Field) Kind() container.Kind { return container.KindField }

// Dtype returns the element type.
func (f *Field) Dtype() container.Dtype { return f.dtype }

// Shape returns the current extent along each axis.
func (f *Field) Shape() container.Shape { return f.shape.Clone() }

// MaxShape returns the declared maximum extents.
func (f *Field) MaxShape() container.Shape { return f.maxShape.Clone() }

// IsScalar reports whether the field holds a single element.
func (f *Field) IsScalar() bool { return f.shape.IsScalar() }

// ByteSize returns the payload size in bytes at the current shape.
func (f *Field) ByteSize() uint64 {
	return f.shape.NumElements() * uint64(f.dtype.Size())
}

// entry assembles the field's current declaration for slab validation.
func (f *Field) entry() container.Entry {
	return container.Entry{
		Path:     f.Path(),
		Kind:     container.KindField,
		Dtype:    f.dtype,
		Shape:    f.shape,
		MaxShape: f.maxShape,
	}
}

// Loaded reports whether the whole payload is materialized in memory.
func (f *Field) Loaded() bool { return f.loaded }

// Unload drops the whole-array cache of a stored field. Staged payloads
// of unsaved fields are pinned; unloading them would lose data.
func (f *Field) Unload() {
	if f.stored && !f.dirty {
		f.data = nil
		f.loaded = false
	}
}

// Value returns the whole payload as row-major little-endian bytes,
// loading it on first access. Payloads larger than the memory ceiling
// fail with ErrMemoryLimit; read those with ReadSlab or SlabIterator.
func (f *Field) Value(ctx context.Context) ([]byte, error) {
	if f.dtype == container.DtypeString {
		return nil, container.NewError(container.ErrInvalidArgument,
			"string field, use StringValue", f.Path())
	}
	if !f.loaded {
		size := f.ByteSize()
		if size > f.root.opts.MemoryCeilingBytes {
			return nil, container.NewError(container.ErrMemoryLimit,
				fmt.Sprintf("payload is %d bytes, memory ceiling is %d; use slab access",
					size, f.root.opts.MemoryCeilingBytes), f.Path())
		}
		data, err := f.ReadSlab(ctx, container.WholeSlab(f.shape))
		if err != nil {
			return nil, err
		}
		f.data = data
		f.loaded = true
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, nil
}

// SetValue replaces the whole payload.
func (f *Field) SetValue(ctx context.Context, data []byte) error {
	return f.WriteSlab(ctx, container.WholeSlab(f.shape), data)
}

// StringValue returns the payload of a scalar string field.
func (f *Field) StringValue(ctx context.Context) (string, error) {
	if f.dtype != container.DtypeString {
		return "", container.NewError(container.ErrInvalidArgument,
			fmt.Sprintf("field is %s, not string", f.dtype), f.Path())
	}
	if f.strSet || !f.stored {
		return f.strData, nil
	}
	raw, err := f.root.store.ReadValue(ctx, f.storedPath, container.Slab{})
	if err != nil {
		return "", err
	}
	f.strData = string(raw)
	f.strSet = true
	return f.strData, nil
}

// SetString replaces the payload of a scalar string field. Unlike numeric
// writes the bytes live inline in the metadata, so the change is staged
// and lands at the next save.
func (f *Field) SetString(value string) error {
	if err := f.root.checkMutable(); err != nil {
		return err
	}
	if f.dtype != container.DtypeString {
		return container.NewError(container.ErrInvalidArgument,
			fmt.Sprintf("field is %s, not string", f.dtype), f.Path())
	}
	f.strData = value
	f.strSet = true
	f.markDirty()
	return nil
}

// ReadSlab reads exactly the selected sub-array. Always permitted
// regardless of payload size.
func (f *Field) ReadSlab(ctx context.Context, slab container.Slab) ([]byte, error) {
	if f.dtype == container.DtypeString {
		return nil, container.NewError(container.ErrInvalidArgument,
			"slab selection on a string field", f.Path())
	}
	if err := slab.Validate(f.shape); err != nil {
		if se, ok := err.(*container.StoreError); ok {
			se.Path = f.Path()
		}
		return nil, err
	}

	if f.stored && !f.loaded {
		return f.root.store.ReadValue(ctx, f.storedPath, slab)
	}

	esize := f.dtype.Size()
	if !f.loaded {
		// New field never written to: all zeros, no buffer needed.
		return make([]byte, slab.NumElements()*uint64(esize)), nil
	}
	out := make([]byte, slab.NumElements()*uint64(esize))
	pos := uint64(0)
	for _, run := range slab.Runs(f.shape, esize) {
		copy(out[pos:pos+run.Length], f.data[run.Offset:run.Offset+run.Length])
		pos += run.Length
	}
	return out, nil
}

// WriteSlab writes the selected sub-array, growing the leading axis when
// the declaration allows it. Stored fields write through to the store,
// which requires the root's write lock to be held; unsaved fields stage
// the write in memory.
func (f *Field) WriteSlab(ctx context.Context, slab container.Slab, data []byte) error {
	if err := f.root.checkMutable(); err != nil {
		return err
	}
	if f.dtype == container.DtypeString {
		return container.NewError(container.ErrInvalidArgument,
			"slab write on a string field, use SetString", f.Path())
	}

	fieldEntry := f.entry()
	newShape, err := container.CheckWriteExtent(&fieldEntry, slab)
	if err != nil {
		return err
	}
	esize := f.dtype.Size()
	want := slab.NumElements() * uint64(esize)
	if uint64(len(data)) != want {
		return container.NewError(container.ErrShape,
			fmt.Sprintf("data length %d does not match selection size %d", len(data), want), f.Path())
	}

	if f.stored {
		if err := f.root.requireWriteLock(); err != nil {
			return err
		}
		if err := f.root.store.WriteValue(ctx, f.storedPath, slab, data); err != nil {
			return err
		}
		grew := !newShape.Equal(f.shape)
		f.shape = newShape
		if f.loaded {
			if grew {
				// The cache's linear layout is stale after growth.
				f.data = nil
				f.loaded = false
			} else {
				f.applyRuns(slab, data)
			}
		}
		f.markDirty()
		return nil
	}

	// New field: stage into the in-memory buffer.
	newSize := newShape.NumElements() * uint64(esize)
	if newSize > f.root.opts.MemoryCeilingBytes {
		return container.NewError(container.ErrMemoryLimit,
			fmt.Sprintf("staged payload would be %d bytes, memory ceiling is %d; save the structure first, then write slabs",
				newSize, f.root.opts.MemoryCeilingBytes), f.Path())
	}
	f.shape = newShape
	f.ensureBuffer()
	f.applyRuns(slab, data)
	f.loaded = true
	f.markDirty()
	return nil
}

// ensureBuffer sizes the in-memory buffer to the current shape. Growth is
// only along axis 0, so existing data stays a valid prefix.
func (f *Field) ensureBuffer() {
	size := f.ByteSize()
	if uint64(len(f.data)) < size {
		grown := make([]byte, size)
		copy(grown, f.data)
		f.data = grown
	}
}

// applyRuns copies slab data into the in-memory buffer.
func (f *Field) applyRuns(slab container.Slab, data []byte) {
	f.ensureBuffer()
	pos := uint64(0)
	for _, run := range slab.Runs(f.shape, f.dtype.Size()) {
		copy(f.data[run.Offset:run.Offset+run.Length], data[pos:pos+run.Length])
		pos += run.Length
	}
}

// Grow extends the field to newExtent along the given axis. Only the
// leading axis of a field declared with an extensible maximum shape can
// grow; anything else fails with ErrShape. New elements read as zeros.
// For stored fields the extension is materialized immediately, which
// requires the write lock.
func (f *Field) Grow(ctx context.Context, axis int, newExtent uint64) error {
	if err := f.root.checkMutable(); err != nil {
		return err
	}
	if axis != 0 || len(f.shape) == 0 {
		return container.NewError(container.ErrShape,
			fmt.Sprintf("axis %d is not growable", axis), f.Path())
	}
	fieldEntry := f.entry()
	if !fieldEntry.Growable(0) {
		return container.NewError(container.ErrShape,
			"field was not declared extensible", f.Path())
	}
	if newExtent < f.shape[0] {
		return container.NewError(container.ErrShape,
			fmt.Sprintf("cannot shrink from %d to %d", f.shape[0], newExtent), f.Path())
	}
	if f.maxShape[0] != container.Unlimited && newExtent > f.maxShape[0] {
		return container.NewError(container.ErrShape,
			fmt.Sprintf("extent %d exceeds maximum %d", newExtent, f.maxShape[0]), f.Path())
	}
	if newExtent == f.shape[0] {
		return nil
	}

	if f.stored {
		if err := f.root.requireWriteLock(); err != nil {
			return err
		}
		// Materialize the new region as zeros, row batches bounded by
		// the slab budget so growth never needs the whole region in
		// memory at once.
		if err := f.zeroRows(ctx, f.shape[0], newExtent); err != nil {
			return err
		}
		if f.loaded {
			f.data = nil
			f.loaded = false
		}
	}
	f.shape = append(container.Shape{newExtent}, f.shape[1:]...)
	if !f.stored {
		f.ensureBuffer()
	}
	f.markDirty()
	return nil
}

// zeroRows writes zero rows [from, to) along axis 0 via the store.
func (f *Field) zeroRows(ctx context.Context, from, to uint64) error {
	rowElems := container.Shape(f.shape[1:]).NumElements()
	rowBytes := rowElems * uint64(f.dtype.Size())
	batch := uint64(1)
	if rowBytes > 0 && f.root.opts.SlabBytes > rowBytes {
		batch = f.root.opts.SlabBytes / rowBytes
	}

	for row := from; row < to; row += batch {
		count := batch
		if row+count > to {
			count = to - row
		}
		slab := container.Slab{
			Start: append(container.Shape{row}, make(container.Shape, len(f.shape)-1)...),
			Count: append(container.Shape{count}, f.shape[1:]...),
		}
		zeros := make([]byte, count*rowBytes)
		if err := f.root.store.WriteValue(ctx, f.storedPath, slab, zeros); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Slab Iteration
// ============================================================================

// SlabIterator yields consecutive slabs covering a field's payload, each
// under the configured byte budget, so arrays beyond the memory ceiling
// can be processed incrementally. The concatenation of all yielded
// selections covers the array exactly once in row-major order.
type SlabIterator struct {
	shape   container.Shape
	rows    uint64 // rows per batch along axis 0
	nextRow uint64
}

// Slabs returns an iterator over the field's current shape. Scalars yield
// a single empty selection.
func (f *Field) Slabs() *SlabIterator {
	it := &SlabIterator{shape: f.shape.Clone()}
	if len(f.shape) == 0 {
		return it
	}
	rowBytes := container.Shape(f.shape[1:]).NumElements() * uint64(f.dtype.Size())
	it.rows = 1
	if rowBytes > 0 && f.root.opts.SlabBytes > rowBytes {
		it.rows = f.root.opts.SlabBytes / rowBytes
	}
	return it
}

// Next returns the next slab selection. ok is false when the array is
// exhausted.
func (it *SlabIterator) Next() (slab container.Slab, ok bool) {
	if len(it.shape) == 0 {
		// Scalar: exactly one empty selection.
		if it.nextRow > 0 {
			return container.Slab{}, false
		}
		it.nextRow = 1
		return container.Slab{}, true
	}
	if it.nextRow >= it.shape[0] {
		return container.Slab{}, false
	}
	count := it.rows
	if it.nextRow+count > it.shape[0] {
		count = it.shape[0] - it.nextRow
	}
	slab = container.Slab{
		Start: append(container.Shape{it.nextRow}, make(container.Shape, len(it.shape)-1)...),
		Count: append(container.Shape{count}, it.shape[1:]...),
	}
	it.nextRow += count
	return slab, true
}
