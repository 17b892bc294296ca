package memory

import (
	"context"
	"fmt"

	"github.com/nexusformat/nxtree/pkg/container"
)

// This file contains the slab I/O half of the memory store: reading and
// writing byte runs against the page-based linear payload of a field.

// ReadValue reads exactly the selected sub-array of a field.
func (s *MemoryStore) ReadValue(ctx context.Context, path string, slab container.Slab) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
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
		s.readLinear(node, run.Offset, out[pos:pos+run.Length])
		pos += run.Length
	}
	return out, nil
}

// WriteValue writes the selected sub-array of a field, growing the leading
// axis when the declaration allows it.
func (s *MemoryStore) WriteValue(ctx context.Context, path string, slab container.Slab, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return container.NewError(container.ErrClosed, "store is closed", path)
	}
	if s.mode == container.ReadOnly {
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

	// The grown shape determines the linear strides; growth is restricted
	// to the leading axis so existing offsets stay valid.
	node.entry.Shape = newShape

	pos := uint64(0)
	for _, run := range slab.Runs(newShape, esize) {
		s.writeLinear(node, run.Offset, data[pos:pos+run.Length])
		pos += run.Length
	}
	return nil
}

// WriteString replaces the payload of a scalar string field.
func (s *MemoryStore) WriteString(ctx context.Context, path, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == container.ReadOnly {
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
	return nil
}

// readLinear copies len(dst) bytes starting at byte offset off from the
// field's page array. Unallocated pages read as zeros.
func (s *MemoryStore) readLinear(node *memNode, off uint64, dst []byte) {
	pageSize := uint64(s.pageSize)
	for len(dst) > 0 {
		pageIdx := off / pageSize
		inPage := off % pageSize
		n := pageSize - inPage
		if n > uint64(len(dst)) {
			n = uint64(len(dst))
		}
		if pageIdx < uint64(len(node.pages)) && node.pages[pageIdx] != nil {
			copy(dst[:n], node.pages[pageIdx][inPage:inPage+n])
		} else {
			for i := uint64(0); i < n; i++ {
				dst[i] = 0
			}
		}
		dst = dst[n:]
		off += n
	}
}

// writeLinear copies src into the field's page array starting at byte
// offset off, allocating only the pages actually touched.
func (s *MemoryStore) writeLinear(node *memNode, off uint64, src []byte) {
	pageSize := uint64(s.pageSize)
	end := off + uint64(len(src))
	requiredPages := (end + pageSize - 1) / pageSize
	if uint64(len(node.pages)) < requiredPages {
		newPages := make([][]byte, requiredPages)
		copy(newPages, node.pages)
		node.pages = newPages
	}

	for len(src) > 0 {
		pageIdx := off / pageSize
		inPage := off % pageSize
		n := pageSize - inPage
		if n > uint64(len(src)) {
			n = uint64(len(src))
		}
		if node.pages[pageIdx] == nil {
			node.pages[pageIdx] = make([]byte, pageSize)
		}
		copy(node.pages[pageIdx][inPage:inPage+n], src[:n])
		src = src[n:]
		off += n
	}
}
