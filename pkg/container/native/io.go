package native

import (
	"context"
	"fmt"

	"github.com/nexusformat/nxtree/pkg/container"
)

// This file contains the slab I/O half of the native store: translating
// byte runs of the linear row-major payload into chunk reads and writes
// against the backing file.

// ReadValue reads exactly the selected sub-array of a field.
func (s *NativeStore) ReadValue(ctx context.Context, path string, slab container.Slab) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, container.NewError(container.ErrClosed, "store is closed", path)
	}
	node, ok := s.nodes[path]
	if !ok {
		return nil, container.NewError(container.ErrNotFound, "no such node", path)
	}
	if node.entry.Kind != container.KindField {
		return nil, container.NewError(container.ErrNotField, "node is not a field", path)
	}

	if node.entry.Dtype == container.DtypeString {
		if len(slab.Count) != 0 {
			return nil, container.NewError(container.ErrInvalidArgument,
				"slab selection on a string field", path)
		}
		out := make([]byte, len(node.strData))
		copy(out, node.strData)
		return out, nil
	}

	if err := slab.Validate(node.entry.Shape); err != nil {
		if se, ok := err.(*container.StoreError); ok {
			se.Path = path
		}
		return nil, err
	}

	esize := node.entry.Dtype.Size()
	out := make([]byte, slab.NumElements()*uint64(esize))
	pos := uint64(0)
	for _, run := range slab.Runs(node.entry.Shape, esize) {
		if err := s.readLinear(node, run.Offset, out[pos:pos+run.Length]); err != nil {
			return nil, err
		}
		pos += run.Length
	}
	return out, nil
}

// WriteValue writes the selected sub-array of a field, growing the leading
// axis when the declaration allows it.
func (s *NativeStore) WriteValue(ctx context.Context, path string, slab container.Slab, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return container.NewError(container.ErrClosed, "store is closed", path)
	}
	if !s.writable() {
		return container.NewError(container.ErrReadOnly, "container is read-only", path)
	}
	node, ok := s.nodes[path]
	if !ok {
		return container.NewError(container.ErrNotFound, "no such node", path)
	}
	if node.entry.Kind != container.KindField {
		return container.NewError(container.ErrNotField, "node is not a field", path)
	}
	if node.entry.Dtype == container.DtypeString {
		return container.NewError(container.ErrInvalidArgument,
			"slab write on a string field, use WriteString", path)
	}

	newShape, err := container.CheckWriteExtent(&node.entry, slab)
	if err != nil {
		return err
	}

	esize := node.entry.Dtype.Size()
	want := slab.NumElements() * uint64(esize)
	if uint64(len(data)) != want {
		return container.NewError(container.ErrShape,
			fmt.Sprintf("data length %d does not match selection size %d", len(data), want), path)
	}

	if !newShape.Equal(node.entry.Shape) {
		node.entry.Shape = newShape
		s.dirty = true
	}

	// Runs land in issue order; each run may straddle chunk boundaries.
	pos := uint64(0)
	for _, run := range slab.Runs(newShape, esize) {
		if err := s.writeLinear(node, run.Offset, data[pos:pos+run.Length]); err != nil {
			return err
		}
		pos += run.Length
	}
	s.dirty = true
	return nil
}

// WriteString replaces the payload of a scalar string field. The bytes are
// kept inline in the metadata index, not in the chunk area.
func (s *NativeStore) WriteString(ctx context.Context, path, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return container.NewError(container.ErrClosed, "store is closed", path)
	}
	if !s.writable() {
		return container.NewError(container.ErrReadOnly, "container is read-only", path)
	}
	node, ok := s.nodes[path]
	if !ok {
		return container.NewError(container.ErrNotFound, "no such node", path)
	}
	if node.entry.Kind != container.KindField || node.entry.Dtype != container.DtypeString {
		return container.NewError(container.ErrNotField, "node is not a string field", path)
	}
	node.strData = []byte(value)
	s.dirty = true
	return nil
}

// readLinear copies len(dst) bytes starting at linear payload offset off.
// Chunks never written read as zeros.
func (s *NativeStore) readLinear(node *natNode, off uint64, dst []byte) error {
	for len(dst) > 0 {
		ord := off / s.chunkBytes
		inChunk := off % s.chunkBytes
		n := s.chunkBytes - inChunk
		if n > uint64(len(dst)) {
			n = uint64(len(dst))
		}

		fileOff, allocated := node.chunks[ord]
		if allocated {
			if _, err := s.file.ReadAt(dst[:n], int64(fileOff+inChunk)); err != nil {
				return container.NewError(container.ErrIO,
					fmt.Sprintf("reading chunk %d: %v", ord, err), node.entry.Path)
			}
		} else {
			for i := uint64(0); i < n; i++ {
				dst[i] = 0
			}
		}
		dst = dst[n:]
		off += n
	}
	return nil
}

// writeLinear copies src to linear payload offset off, allocating chunks
// at end-of-file on first touch.
func (s *NativeStore) writeLinear(node *natNode, off uint64, src []byte) error {
	for len(src) > 0 {
		ord := off / s.chunkBytes
		inChunk := off % s.chunkBytes
		n := s.chunkBytes - inChunk
		if n > uint64(len(src)) {
			n = uint64(len(src))
		}

		fileOff, allocated := node.chunks[ord]
		if !allocated {
			var err error
			fileOff, err = s.allocChunk()
			if err != nil {
				return container.NewError(container.ErrIO,
					fmt.Sprintf("allocating chunk %d: %v", ord, err), node.entry.Path)
			}
			if node.chunks == nil {
				node.chunks = make(map[uint64]uint64)
			}
			node.chunks[ord] = fileOff
			s.dirty = true
		}
		if _, err := s.file.WriteAt(src[:n], int64(fileOff+inChunk)); err != nil {
			return container.NewError(container.ErrIO,
				fmt.Sprintf("writing chunk %d: %v", ord, err), node.entry.Path)
		}
		src = src[n:]
		off += n
	}
	return nil
}

// allocChunk reserves one zero-filled chunk at end-of-file and returns its
// absolute offset. Append-only: freed chunks are never reused in place.
func (s *NativeStore) allocChunk() (uint64, error) {
	off := s.eof
	zero := make([]byte, s.chunkBytes)
	if _, err := s.file.WriteAt(zero, int64(off)); err != nil {
		return 0, err
	}
	s.eof += s.chunkBytes
	return off, nil
}
