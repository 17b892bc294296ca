package badgerstore

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/nexusformat/nxtree/pkg/container"
)

// This file contains the slab I/O half of the badger store: translating
// byte runs of the linear row-major payload into chunk key reads and
// writes.

// ReadValue reads exactly the selected sub-array of a field.
func (s *BadgerStore) ReadValue(ctx context.Context, path string, slab container.Slab) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, container.NewError(container.ErrClosed, "store is closed", path)
	}

	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		entry, err := getEntry(txn, path)
		if err != nil {
			return err
		}
		if entry.Kind != container.KindField {
			return container.NewError(container.ErrNotField, "node is not a field", path)
		}

		if entry.Dtype == container.DtypeString {
			if len(slab.Count) != 0 {
				return container.NewError(container.ErrInvalidArgument,
					"slab selection on a string field", path)
			}
			item, err := txn.Get(stringKey(path))
			if err == badger.ErrKeyNotFound {
				out = []byte{}
				return nil
			}
			if err != nil {
				return container.NewError(container.ErrIO, err.Error(), path)
			}
			out, err = item.ValueCopy(nil)
			if err != nil {
				return container.NewError(container.ErrIO, err.Error(), path)
			}
			return nil
		}

		if err := slab.Validate(entry.Shape); err != nil {
			if se, ok := err.(*container.StoreError); ok {
				se.Path = path
			}
			return err
		}

		esize := entry.Dtype.Size()
		out = make([]byte, slab.NumElements()*uint64(esize))
		pos := uint64(0)
		for _, run := range slab.Runs(entry.Shape, esize) {
			if err := s.readLinear(txn, path, run.Offset, out[pos:pos+run.Length]); err != nil {
				return err
			}
			pos += run.Length
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteValue writes the selected sub-array of a field, growing the leading
// axis when the declaration allows it.
//
// Each chunk touched is rewritten in its own transaction so a large
// selection never exceeds Badger's transaction size limit. The store
// mutex makes the whole write atomic with respect to other store calls.
func (s *BadgerStore) WriteValue(ctx context.Context, path string, slab container.Slab, data []byte) error {
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

	var entry *container.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		entry, err = getEntry(txn, path)
		return err
	})
	if err != nil {
		return err
	}
	if entry.Kind != container.KindField {
		return container.NewError(container.ErrNotField, "node is not a field", path)
	}
	if entry.Dtype == container.DtypeString {
		return container.NewError(container.ErrInvalidArgument,
			"slab write on a string field, use WriteString", path)
	}

	newShape, err := container.CheckWriteExtent(entry, slab)
	if err != nil {
		return err
	}

	esize := entry.Dtype.Size()
	want := slab.NumElements() * uint64(esize)
	if uint64(len(data)) != want {
		return container.NewError(container.ErrShape,
			fmt.Sprintf("data length %d does not match selection size %d", len(data), want), path)
	}

	if !newShape.Equal(entry.Shape) {
		entry.Shape = newShape
		err := s.db.Update(func(txn *badger.Txn) error {
			return putJSON(txn, entryKey(path), entry)
		})
		if err != nil {
			return container.NewError(container.ErrIO, err.Error(), path)
		}
	}

	// Runs land in issue order; each run may straddle chunk boundaries.
	pos := uint64(0)
	for _, run := range slab.Runs(newShape, esize) {
		if err := s.writeLinear(path, run.Offset, data[pos:pos+run.Length]); err != nil {
			return err
		}
		pos += run.Length
	}
	return nil
}

// WriteString replaces the payload of a scalar string field.
func (s *BadgerStore) WriteString(ctx context.Context, path, value string) error {
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

	return s.db.Update(func(txn *badger.Txn) error {
		entry, err := getEntry(txn, path)
		if err != nil {
			return err
		}
		if entry.Kind != container.KindField || entry.Dtype != container.DtypeString {
			return container.NewError(container.ErrNotField, "node is not a string field", path)
		}
		if err := txn.Set(stringKey(path), []byte(value)); err != nil {
			return container.NewError(container.ErrIO, err.Error(), path)
		}
		return nil
	})
}

// readLinear copies len(dst) bytes starting at linear payload offset off.
// Chunks never written read as zeros.
func (s *BadgerStore) readLinear(txn *badger.Txn, path string, off uint64, dst []byte) error {
	for len(dst) > 0 {
		ord := off / s.chunkBytes
		inChunk := off % s.chunkBytes
		n := s.chunkBytes - inChunk
		if n > uint64(len(dst)) {
			n = uint64(len(dst))
		}

		item, err := txn.Get(chunkKey(path, ord))
		switch {
		case err == badger.ErrKeyNotFound:
			for i := uint64(0); i < n; i++ {
				dst[i] = 0
			}
		case err != nil:
			return container.NewError(container.ErrIO,
				fmt.Sprintf("reading chunk %d: %v", ord, err), path)
		default:
			chunk, err := item.ValueCopy(nil)
			if err != nil {
				return container.NewError(container.ErrIO,
					fmt.Sprintf("reading chunk %d: %v", ord, err), path)
			}
			copy(dst[:n], chunk[inChunk:inChunk+n])
		}
		dst = dst[n:]
		off += n
	}
	return nil
}

// writeLinear copies src to linear payload offset off, one chunk per
// transaction. A chunk touched for the first time is materialized at full
// chunk size so later partial reads stay in bounds.
func (s *BadgerStore) writeLinear(path string, off uint64, src []byte) error {
	for len(src) > 0 {
		ord := off / s.chunkBytes
		inChunk := off % s.chunkBytes
		n := s.chunkBytes - inChunk
		if n > uint64(len(src)) {
			n = uint64(len(src))
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			var chunk []byte
			item, err := txn.Get(chunkKey(path, ord))
			switch {
			case err == badger.ErrKeyNotFound:
				chunk = make([]byte, s.chunkBytes)
			case err != nil:
				return err
			default:
				chunk, err = item.ValueCopy(nil)
				if err != nil {
					return err
				}
			}
			copy(chunk[inChunk:inChunk+n], src[:n])
			return txn.Set(chunkKey(path, ord), chunk)
		})
		if err != nil {
			return container.NewError(container.ErrIO,
				fmt.Sprintf("writing chunk %d: %v", ord, err), path)
		}
		src = src[n:]
		off += n
	}
	return nil
}
