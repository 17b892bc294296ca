// Package badgerstore implements a container store backed by BadgerDB.
//
// This backend trades the single-file portability of the native format for
// the operational properties of an embedded LSM store: crash recovery via
// Badger's WAL, cheap incremental mutation without index rewrites, and
// multi-GB hierarchies that never need a whole-metadata flush. It suits
// acquisition-side use where a tree is appended to continuously and the
// portable single-file form is produced later by a tree save.
//
// See keys.go for the key schema.
package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/nexusformat/nxtree/pkg/container"
)

// BadgerStore implements container.Store using BadgerDB for persistence.
//
// Thread Safety:
// Badger transactions are internally consistent, but child-order updates
// are read-modify-write across keys, so a single store-level mutex
// serializes mutations. Reads take the mutex too; this store is not a
// throughput-critical path.
type BadgerStore struct {
	mu         sync.Mutex
	db         *badger.DB
	mode       container.Mode
	chunkBytes uint64
	closed     bool
}

// storeConfig is the singleton configuration persisted under cfg:store.
type storeConfig struct {
	ChunkBytes uint64 `json:"chunk_bytes"`
}

// Options tunes store creation.
type Options struct {
	// ChunkBytes is the payload chunk size; zero selects 64 KiB.
	// Only consulted when the database is initialized.
	ChunkBytes uint64

	// InMemory runs Badger without a directory (tests).
	InMemory bool
}

// DefaultChunkBytes is the payload chunk size when none is configured.
const DefaultChunkBytes = 64 * 1024

// Open opens (or, with mode Create, initializes) a Badger-backed container
// at dir.
//
// Create fails with ErrExists if the database already contains a
// container; ReadOnly and ReadWrite fail with ErrAccess if it does not.
func Open(dir string, mode container.Mode, opts Options) (*BadgerStore, error) {
	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(dir)
	}
	badgerOpts = badgerOpts.WithLogger(nil)
	if mode == container.ReadOnly {
		badgerOpts = badgerOpts.WithReadOnly(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, container.NewError(container.ErrAccess,
			fmt.Sprintf("opening badger database: %v", err), dir)
	}

	s := &BadgerStore{db: db, mode: mode}
	if err := s.initialize(mode, opts); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize checks or creates the root entry and store config.
func (s *BadgerStore) initialize(mode container.Mode, opts Options) error {
	err := s.db.View(func(txn *badger.Txn) error {
		cfg, err := getJSON[storeConfig](txn, []byte(keyConfig))
		if err != nil {
			return err
		}
		s.chunkBytes = cfg.ChunkBytes
		return nil
	})

	switch {
	case err == nil:
		if mode == container.Create {
			return container.NewError(container.ErrExists,
				"database already holds a container", container.RootPath)
		}
		return nil

	case err == badger.ErrKeyNotFound:
		if mode != container.Create {
			return container.NewError(container.ErrAccess,
				"database holds no container", container.RootPath)
		}
		s.chunkBytes = opts.ChunkBytes
		if s.chunkBytes == 0 {
			s.chunkBytes = DefaultChunkBytes
		}
		return s.db.Update(func(txn *badger.Txn) error {
			if err := putJSON(txn, []byte(keyConfig), storeConfig{ChunkBytes: s.chunkBytes}); err != nil {
				return err
			}
			root := container.Entry{Path: container.RootPath, Kind: container.KindGroup}
			if err := putJSON(txn, entryKey(container.RootPath), root); err != nil {
				return err
			}
			return putJSON(txn, childrenKey(container.RootPath), []string{})
		})

	default:
		return container.NewError(container.ErrIO, err.Error(), container.RootPath)
	}
}

// Mode returns the mode the store was opened with.
func (s *BadgerStore) Mode() container.Mode {
	return s.mode
}

// writable reports whether mutations are allowed.
func (s *BadgerStore) writable() bool {
	return s.mode != container.ReadOnly
}

// Flush asks Badger to sync its value log.
func (s *BadgerStore) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return container.NewError(container.ErrClosed, "store is closed", "")
	}
	if !s.writable() {
		return nil
	}
	if s.db.Opts().InMemory {
		return nil
	}
	if err := s.db.Sync(); err != nil {
		return container.NewError(container.ErrIO, err.Error(), "")
	}
	return nil
}

// Close closes the database. Idempotent.
func (s *BadgerStore) Close(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return container.NewError(container.ErrIO, err.Error(), "")
	}
	return nil
}

// ============================================================================
// JSON Helpers
// ============================================================================

// getJSON reads and decodes a JSON value. Returns badger.ErrKeyNotFound
// unwrapped so callers can branch on it.
func getJSON[T any](txn *badger.Txn, key []byte) (T, error) {
	var out T
	item, err := txn.Get(key)
	if err != nil {
		return out, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decoding %q: %w", key, err)
	}
	return out, nil
}

// putJSON encodes and writes a JSON value.
func putJSON(txn *badger.Txn, key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	return txn.Set(key, raw)
}

// getEntry loads a node's metadata, translating a missing key to ErrNotFound.
func getEntry(txn *badger.Txn, path string) (*container.Entry, error) {
	entry, err := getJSON[container.Entry](txn, entryKey(path))
	if err == badger.ErrKeyNotFound {
		return nil, container.NewError(container.ErrNotFound, "no such node", path)
	}
	if err != nil {
		return nil, container.NewError(container.ErrIO, err.Error(), path)
	}
	return &entry, nil
}

// getChildren loads a group's child order list.
func getChildren(txn *badger.Txn, path string) ([]string, error) {
	names, err := getJSON[[]string](txn, childrenKey(path))
	if err == badger.ErrKeyNotFound {
		return nil, container.NewError(container.ErrNotFound, "no such group", path)
	}
	if err != nil {
		return nil, container.NewError(container.ErrIO, err.Error(), path)
	}
	return names, nil
}

// ============================================================================
// Structural Discovery
// ============================================================================

// Walk yields every entry except the root, parents before children,
// siblings in insertion order. The walk runs in one read transaction, so
// it observes a consistent snapshot and is restartable.
func (s *BadgerStore) Walk(ctx context.Context, fn container.WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return container.NewError(container.ErrClosed, "store is closed", "")
	}
	var entries []container.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		return collectSubtree(txn, container.RootPath, &entries)
	})
	s.mu.Unlock()
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// collectSubtree gathers the entries below path depth-first.
func collectSubtree(txn *badger.Txn, path string, acc *[]container.Entry) error {
	names, err := getChildren(txn, path)
	if err != nil {
		return err
	}
	for _, name := range names {
		childPath := container.JoinPath(path, name)
		entry, err := getEntry(txn, childPath)
		if err != nil {
			return err
		}
		*acc = append(*acc, *entry)
		if entry.Kind == container.KindGroup {
			if err := collectSubtree(txn, childPath, acc); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetEntry returns the metadata entry for a single path.
func (s *BadgerStore) GetEntry(ctx context.Context, path string) (*container.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, container.NewError(container.ErrClosed, "store is closed", path)
	}
	var entry *container.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		entry, err = getEntry(txn, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Children returns the child names of a group in insertion order.
func (s *BadgerStore) Children(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		entry, err := getEntry(txn, path)
		if err != nil {
			return err
		}
		if entry.Kind != container.KindGroup {
			return container.NewError(container.ErrNotGroup, "node is not a group", path)
		}
		names, err = getChildren(txn, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// ============================================================================
// Structural Mutation
// ============================================================================

// createNode inserts a node entry and links it into its parent's order.
func (s *BadgerStore) createNode(ctx context.Context, entry container.Entry, isGroup bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := entry.Path

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return container.NewError(container.ErrClosed, "store is closed", path)
	}
	if !s.writable() {
		return container.NewError(container.ErrReadOnly, "container is read-only", path)
	}
	if !container.ValidPath(path) || path == container.RootPath {
		return container.NewError(container.ErrInvalidArgument, "invalid path", path)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(entryKey(path)); err == nil {
			return container.NewError(container.ErrExists, "node already exists", path)
		} else if err != badger.ErrKeyNotFound {
			return container.NewError(container.ErrIO, err.Error(), path)
		}

		parentPath, name := container.SplitPath(path)
		parent, err := getEntry(txn, parentPath)
		if err != nil {
			return err
		}
		if parent.Kind != container.KindGroup {
			return container.NewError(container.ErrNotGroup, "parent is not a group", parentPath)
		}

		if err := putJSON(txn, entryKey(path), entry); err != nil {
			return container.NewError(container.ErrIO, err.Error(), path)
		}
		if isGroup {
			if err := putJSON(txn, childrenKey(path), []string{}); err != nil {
				return container.NewError(container.ErrIO, err.Error(), path)
			}
		}

		names, err := getChildren(txn, parentPath)
		if err != nil {
			return err
		}
		names = append(names, name)
		if err := putJSON(txn, childrenKey(parentPath), names); err != nil {
			return container.NewError(container.ErrIO, err.Error(), parentPath)
		}
		return nil
	})
}

// CreateGroup creates an empty group at path.
func (s *BadgerStore) CreateGroup(ctx context.Context, path string) error {
	return s.createNode(ctx,
		container.Entry{Path: path, Kind: container.KindGroup}, true)
}

// CreateField creates a field at path.
func (s *BadgerStore) CreateField(ctx context.Context, path string, dtype container.Dtype, shape, maxShape container.Shape) error {
	if err := container.ValidateFieldDecl(path, dtype, shape, maxShape); err != nil {
		return err
	}
	return s.createNode(ctx, container.Entry{
		Path:     path,
		Kind:     container.KindField,
		Dtype:    dtype,
		Shape:    shape.Clone(),
		MaxShape: maxShape.Clone(),
	}, false)
}

// CreateLink creates a link at path pointing at target.
func (s *BadgerStore) CreateLink(ctx context.Context, path, target string) error {
	if target == "" {
		return container.NewError(container.ErrInvalidArgument, "empty link target", path)
	}
	return s.createNode(ctx,
		container.Entry{Path: path, Kind: container.KindLink, Target: target}, false)
}

// Rename moves the node at oldPath (and its subtree) to newPath.
//
// Paths are embedded in keys, so the whole subtree is re-keyed. Metadata
// moves in one transaction; chunk payloads move afterwards in bounded
// batches under the store mutex, which keeps individual transactions
// small for fields with many chunks.
func (s *BadgerStore) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return container.NewError(container.ErrClosed, "store is closed", oldPath)
	}
	if !s.writable() {
		return container.NewError(container.ErrReadOnly, "container is read-only", oldPath)
	}
	if oldPath == container.RootPath {
		return container.NewError(container.ErrInvalidArgument, "cannot rename the root group", oldPath)
	}
	if !container.ValidPath(newPath) || newPath == container.RootPath {
		return container.NewError(container.ErrInvalidArgument, "invalid destination path", newPath)
	}
	if container.IsAncestor(oldPath, newPath) {
		return container.NewError(container.ErrInvalidArgument,
			"cannot move a node into its own subtree", newPath)
	}

	// Collect the subtree paths first; the move itself is then a pure
	// key rewrite per node.
	var subtree []string
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := getEntry(txn, oldPath); err != nil {
			return err
		}
		if _, err := txn.Get(entryKey(newPath)); err == nil {
			return container.NewError(container.ErrExists, "destination already exists", newPath)
		} else if err != badger.ErrKeyNotFound {
			return container.NewError(container.ErrIO, err.Error(), newPath)
		}
		newParentPath, newName := container.SplitPath(newPath)
		newParent, err := getEntry(txn, newParentPath)
		if err != nil {
			return err
		}
		if newParent.Kind != container.KindGroup {
			return container.NewError(container.ErrNotGroup, "destination parent is not a group", newParentPath)
		}

		if err := listSubtree(txn, oldPath, &subtree); err != nil {
			return err
		}

		// Unlink from the old parent, link into the new one. A rename
		// within one group swaps the name in place so the child keeps
		// its position in insertion order.
		oldParentPath, oldName := container.SplitPath(oldPath)
		names, err := getChildren(txn, oldParentPath)
		if err != nil {
			return err
		}
		if oldParentPath == newParentPath {
			for i, n := range names {
				if n == oldName {
					names[i] = newName
					break
				}
			}
			return putJSON(txn, childrenKey(oldParentPath), names)
		}
		for i, n := range names {
			if n == oldName {
				names = append(names[:i], names[i+1:]...)
				break
			}
		}
		if err := putJSON(txn, childrenKey(oldParentPath), names); err != nil {
			return container.NewError(container.ErrIO, err.Error(), oldParentPath)
		}
		newNames, err := getChildren(txn, newParentPath)
		if err != nil {
			return err
		}
		newNames = append(newNames, newName)
		return putJSON(txn, childrenKey(newParentPath), newNames)
	})
	if err != nil {
		return err
	}

	for _, src := range subtree {
		dst := newPath + src[len(oldPath):]
		if err := s.moveNodeKeys(src, dst); err != nil {
			return err
		}
	}
	return nil
}

// listSubtree appends path and all of its descendants, parents first.
func listSubtree(txn *badger.Txn, path string, acc *[]string) error {
	*acc = append(*acc, path)
	entry, err := getEntry(txn, path)
	if err != nil {
		return err
	}
	if entry.Kind != container.KindGroup {
		return nil
	}
	names, err := getChildren(txn, path)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := listSubtree(txn, container.JoinPath(path, name), acc); err != nil {
			return err
		}
	}
	return nil
}

// moveNodeKeys rewrites one node's keys from src to dst.
func (s *BadgerStore) moveNodeKeys(src, dst string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		entry, err := getEntry(txn, src)
		if err != nil {
			return err
		}
		entry.Path = dst
		if err := putJSON(txn, entryKey(dst), entry); err != nil {
			return container.NewError(container.ErrIO, err.Error(), dst)
		}
		if err := txn.Delete(entryKey(src)); err != nil {
			return container.NewError(container.ErrIO, err.Error(), src)
		}
		for _, pair := range [][2][]byte{
			{attrsKey(src), attrsKey(dst)},
			{childrenKey(src), childrenKey(dst)},
			{stringKey(src), stringKey(dst)},
		} {
			item, err := txn.Get(pair[0])
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return container.NewError(container.ErrIO, err.Error(), src)
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return container.NewError(container.ErrIO, err.Error(), src)
			}
			if err := txn.Set(pair[1], raw); err != nil {
				return container.NewError(container.ErrIO, err.Error(), dst)
			}
			if err := txn.Delete(pair[0]); err != nil {
				return container.NewError(container.ErrIO, err.Error(), src)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Chunks move one transaction each to bound transaction size.
	ords, err := s.listChunkOrds(src)
	if err != nil {
		return err
	}
	for _, ord := range ords {
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(chunkKey(src, ord))
			if err != nil {
				return container.NewError(container.ErrIO, err.Error(), src)
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return container.NewError(container.ErrIO, err.Error(), src)
			}
			if err := txn.Set(chunkKey(dst, ord), raw); err != nil {
				return container.NewError(container.ErrIO, err.Error(), dst)
			}
			return txn.Delete(chunkKey(src, ord))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// listChunkOrds scans the chunk ordinals allocated for a field.
func (s *BadgerStore) listChunkOrds(path string) ([]uint64, error) {
	var ords []uint64
	prefix := chunkPrefix(path)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			var ord uint64
			if _, err := fmt.Sscanf(string(key[len(prefix):]), "%016x", &ord); err != nil {
				return container.NewError(container.ErrIO,
					fmt.Sprintf("malformed chunk key %q", key), path)
			}
			ords = append(ords, ord)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ords, nil
}

// Remove deletes the node at path, recursively for groups.
func (s *BadgerStore) Remove(ctx context.Context, path string) error {
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
	if path == container.RootPath {
		return container.NewError(container.ErrInvalidArgument, "cannot remove the root group", path)
	}

	var subtree []string
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := listSubtree(txn, path, &subtree); err != nil {
			return err
		}
		parentPath, name := container.SplitPath(path)
		names, err := getChildren(txn, parentPath)
		if err != nil {
			return err
		}
		for i, n := range names {
			if n == name {
				names = append(names[:i], names[i+1:]...)
				break
			}
		}
		return putJSON(txn, childrenKey(parentPath), names)
	})
	if err != nil {
		return err
	}

	for _, p := range subtree {
		ords, err := s.listChunkOrds(p)
		if err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			for _, key := range [][]byte{entryKey(p), attrsKey(p), childrenKey(p), stringKey(p)} {
				if err := txn.Delete(key); err != nil {
					return container.NewError(container.ErrIO, err.Error(), p)
				}
			}
			for _, ord := range ords {
				if err := txn.Delete(chunkKey(p, ord)); err != nil {
					return container.NewError(container.ErrIO, err.Error(), p)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Attributes
// ============================================================================

// ReadAttrs returns all attributes of a node in insertion order.
func (s *BadgerStore) ReadAttrs(ctx context.Context, path string) ([]container.Attr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var attrs []container.Attr
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := getEntry(txn, path); err != nil {
			return err
		}
		got, err := getJSON[[]container.Attr](txn, attrsKey(path))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return container.NewError(container.ErrIO, err.Error(), path)
		}
		attrs = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

// WriteAttr creates or replaces one attribute of a node.
func (s *BadgerStore) WriteAttr(ctx context.Context, path string, attr container.Attr) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !container.ValidName(attr.Name) {
		return container.NewError(container.ErrInvalidArgument, "invalid attribute name", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writable() {
		return container.NewError(container.ErrReadOnly, "container is read-only", path)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := getEntry(txn, path); err != nil {
			return err
		}
		attrs, err := getJSON[[]container.Attr](txn, attrsKey(path))
		if err != nil && err != badger.ErrKeyNotFound {
			return container.NewError(container.ErrIO, err.Error(), path)
		}
		replaced := false
		for i := range attrs {
			if attrs[i].Name == attr.Name {
				attrs[i] = attr
				replaced = true
				break
			}
		}
		if !replaced {
			attrs = append(attrs, attr)
		}
		return putJSON(txn, attrsKey(path), attrs)
	})
}

// RemoveAttr deletes one attribute of a node.
func (s *BadgerStore) RemoveAttr(ctx context.Context, path, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writable() {
		return container.NewError(container.ErrReadOnly, "container is read-only", path)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := getEntry(txn, path); err != nil {
			return err
		}
		attrs, err := getJSON[[]container.Attr](txn, attrsKey(path))
		if err != nil && err != badger.ErrKeyNotFound {
			return container.NewError(container.ErrIO, err.Error(), path)
		}
		for i := range attrs {
			if attrs[i].Name == name {
				attrs = append(attrs[:i], attrs[i+1:]...)
				return putJSON(txn, attrsKey(path), attrs)
			}
		}
		return container.NewError(container.ErrNotFound,
			fmt.Sprintf("no attribute %q", name), path)
	})
}
