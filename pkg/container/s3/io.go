package s3

import (
	"context"
	"fmt"

	"github.com/nexusformat/nxtree/pkg/container"
)

// This file contains the slab I/O half of the S3 store: translating byte
// runs of the linear row-major payload into chunk object reads and
// read-modify-write updates.

// ReadValue reads exactly the selected sub-array of a field.
func (s *S3Store) ReadValue(ctx context.Context, path string, slab container.Slab) ([]byte, error) {
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
		if err := s.readLinear(ctx, node, run.Offset, out[pos:pos+run.Length]); err != nil {
			return nil, err
		}
		pos += run.Length
	}
	return out, nil
}

// WriteValue writes the selected sub-array of a field, growing the leading
// axis when the declaration allows it.
//
// Every chunk touched costs one download and one upload (two round trips)
// unless the write covers the chunk entirely. Callers writing large
// selections should align them to the chunk size.
func (s *S3Store) WriteValue(ctx context.Context, path string, slab container.Slab, data []byte) error {
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
		if err := s.writeLinear(ctx, node, run.Offset, data[pos:pos+run.Length]); err != nil {
			return err
		}
		pos += run.Length
	}
	s.dirty = true
	return nil
}

// WriteString replaces the payload of a scalar string field. The bytes are
// kept inline in the metadata index, not as a chunk object.
func (s *S3Store) WriteString(ctx context.Context, path, value string) error {
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
func (s *S3Store) readLinear(ctx context.Context, node *s3Node, off uint64, dst []byte) error {
	for len(dst) > 0 {
		ord := off / s.chunkBytes
		inChunk := off % s.chunkBytes
		n := s.chunkBytes - inChunk
		if n > uint64(len(dst)) {
			n = uint64(len(dst))
		}

		seq, allocated := node.chunks[ord]
		if allocated {
			chunk, err := s.getObject(ctx, chunkObjectKey(seq))
			if err != nil {
				return container.NewError(container.ErrIO,
					fmt.Sprintf("reading chunk %d: %v", ord, err), node.entry.Path)
			}
			if uint64(len(chunk)) < inChunk+n {
				return container.NewError(container.ErrIO,
					fmt.Sprintf("chunk %d is short: %d bytes", ord, len(chunk)), node.entry.Path)
			}
			copy(dst[:n], chunk[inChunk:inChunk+n])
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

// writeLinear copies src to linear payload offset off. A partial update of
// an existing chunk downloads, patches and re-uploads it; a chunk covered
// entirely skips the download.
func (s *S3Store) writeLinear(ctx context.Context, node *s3Node, off uint64, src []byte) error {
	for len(src) > 0 {
		ord := off / s.chunkBytes
		inChunk := off % s.chunkBytes
		n := s.chunkBytes - inChunk
		if n > uint64(len(src)) {
			n = uint64(len(src))
		}

		seq, allocated := node.chunks[ord]
		if !allocated {
			seq = s.nextChunk
			s.nextChunk++
			if node.chunks == nil {
				node.chunks = make(map[uint64]uint64)
			}
			node.chunks[ord] = seq
			s.dirty = true
		}

		var chunk []byte
		if allocated && n < s.chunkBytes {
			existing, err := s.getObject(ctx, chunkObjectKey(seq))
			if err != nil {
				return container.NewError(container.ErrIO,
					fmt.Sprintf("reading chunk %d for update: %v", ord, err), node.entry.Path)
			}
			chunk = existing
			if uint64(len(chunk)) < s.chunkBytes {
				padded := make([]byte, s.chunkBytes)
				copy(padded, chunk)
				chunk = padded
			}
		} else {
			chunk = make([]byte, s.chunkBytes)
		}
		copy(chunk[inChunk:inChunk+n], src[:n])

		if err := s.putObject(ctx, chunkObjectKey(seq), chunk); err != nil {
			return container.NewError(container.ErrIO,
				fmt.Sprintf("writing chunk %d: %v", ord, err), node.entry.Path)
		}
		src = src[n:]
		off += n
	}
	return nil
}
