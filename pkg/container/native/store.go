package native

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/nexusformat/nxtree/pkg/container"
)

// NativeStore implements container.Store over a single container file in
// the native format (see format.go).
//
// The whole metadata hierarchy lives in memory while the file is open;
// only field payload chunks are read and written on demand. Mutations set
// a dirty flag and Flush/Close persist a fresh index snapshot.
//
// Thread Safety:
// A single mutex serializes all operations. Cross-process coordination is
// the write lock protocol in pkg/lock, enforced by the tree layer.
type NativeStore struct {
	mu         sync.Mutex
	path       string
	mode       container.Mode
	file       *os.File
	nodes      map[string]*natNode
	chunkBytes uint64
	eof        uint64 // next append-allocation offset
	dirty      bool
	closed     bool
}

// natNode is the in-memory state of one entry plus its storage bookkeeping.
type natNode struct {
	entry    container.Entry
	children []string
	attrs    []container.Attr
	chunks   map[uint64]uint64 // chunk ordinal -> absolute file offset
	strData  []byte
}

// Options tunes store creation.
type Options struct {
	// ChunkBytes is the payload chunk size; zero selects
	// DefaultChunkBytes. Only consulted by Create; opening an existing
	// file uses the size recorded in its index.
	ChunkBytes uint64
}

// Open opens an existing container file.
//
// ReadOnly and ReadWrite both require the file to exist and carry a valid
// superblock and index; a missing file or unrecognized format fails with
// ErrAccess. Use Create for new files.
func Open(path string, mode container.Mode) (*NativeStore, error) {
	if mode == container.Create {
		return Create(path, Options{})
	}

	flags := os.O_RDONLY
	if mode == container.ReadWrite {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, container.NewError(container.ErrAccess,
			fmt.Sprintf("opening container: %v", err), path)
	}

	s := &NativeStore{
		path:  path,
		mode:  mode,
		file:  f,
		nodes: make(map[string]*natNode),
	}
	if err := s.load(); err != nil {
		f.Close()
		return nil, container.NewError(container.ErrAccess,
			fmt.Sprintf("reading container: %v", err), path)
	}
	return s, nil
}

// Create creates a new container file, failing if one already exists.
func Create(path string, opts Options) (*NativeStore, error) {
	chunkBytes := opts.ChunkBytes
	if chunkBytes == 0 {
		chunkBytes = DefaultChunkBytes
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, container.NewError(container.ErrAccess,
			fmt.Sprintf("creating container: %v", err), path)
	}

	s := &NativeStore{
		path:       path,
		mode:       container.Create,
		file:       f,
		nodes:      make(map[string]*natNode),
		chunkBytes: chunkBytes,
		eof:        superblockSize,
		dirty:      true,
	}
	s.nodes[container.RootPath] = &natNode{
		entry: container.Entry{Path: container.RootPath, Kind: container.KindGroup},
	}

	// Persist an empty snapshot immediately so a crash right after
	// creation still leaves a well-formed file.
	if err := s.flushLocked(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *NativeStore) Path() string {
	return s.path
}

// Mode returns the mode the store was opened with.
func (s *NativeStore) Mode() container.Mode {
	return s.mode
}

// writable reports whether mutations are allowed.
func (s *NativeStore) writable() bool {
	return s.mode != container.ReadOnly
}

// ============================================================================
// Load / Flush
// ============================================================================

// load parses the superblock and index and rebuilds the node map.
func (s *NativeStore) load() error {
	header := make([]byte, superblockSize)
	if _, err := s.file.ReadAt(header, 0); err != nil {
		return fmt.Errorf("reading superblock: %w", err)
	}
	sb, err := decodeSuperblock(header)
	if err != nil {
		return err
	}

	raw := make([]byte, sb.IndexLength)
	if _, err := s.file.ReadAt(raw, int64(sb.IndexOffset)); err != nil {
		return fmt.Errorf("reading index: %w", err)
	}
	if got := indexChecksum(raw); got != sb.IndexChecksum {
		return fmt.Errorf("index checksum mismatch: %08x != %08x", got, sb.IndexChecksum)
	}
	idx, err := decodeIndex(raw)
	if err != nil {
		return err
	}

	s.chunkBytes = idx.ChunkBytes
	if s.chunkBytes == 0 {
		s.chunkBytes = DefaultChunkBytes
	}
	for _, we := range idx.Entries {
		node := &natNode{
			entry: container.Entry{
				Path:     we.Path,
				Kind:     container.Kind(we.Kind),
				Dtype:    container.Dtype(we.Dtype),
				Shape:    container.Shape(we.Shape),
				MaxShape: container.Shape(we.MaxShape),
				Target:   we.Target,
			},
			children: we.Children,
			strData:  we.StrData,
		}
		for _, a := range we.Attrs {
			node.attrs = append(node.attrs, container.Attr{
				Name:  a.Name,
				Dtype: container.Dtype(a.Dtype),
				Data:  a.Data,
			})
		}
		if len(we.Chunks) > 0 {
			node.chunks = make(map[uint64]uint64, len(we.Chunks))
			for _, c := range we.Chunks {
				node.chunks[c.Index] = c.Offset
			}
		}
		s.nodes[we.Path] = node
	}
	if _, ok := s.nodes[container.RootPath]; !ok {
		return fmt.Errorf("index has no root group")
	}

	end, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("sizing container: %w", err)
	}
	s.eof = uint64(end)
	return nil
}

// flushLocked appends a fresh index snapshot and rewrites the superblock.
// Caller holds s.mu (or has exclusive access during construction).
func (s *NativeStore) flushLocked() error {
	if !s.dirty {
		return nil
	}

	idx := &xdrIndex{ChunkBytes: s.chunkBytes}
	s.appendEntries(idx, container.RootPath)

	raw, err := encodeIndex(idx)
	if err != nil {
		return container.NewError(container.ErrIO, err.Error(), s.path)
	}

	indexOffset := s.eof
	if _, err := s.file.WriteAt(raw, int64(indexOffset)); err != nil {
		return container.NewError(container.ErrIO,
			fmt.Sprintf("writing index: %v", err), s.path)
	}
	// Point the superblock at the new index only after the index bytes
	// are durably positioned; the previous snapshot stays valid until
	// this final write lands.
	sb := &superblock{
		Version:       FormatVersion,
		IndexOffset:   indexOffset,
		IndexLength:   uint64(len(raw)),
		IndexChecksum: indexChecksum(raw),
	}
	if _, err := s.file.WriteAt(sb.encode(), 0); err != nil {
		return container.NewError(container.ErrIO,
			fmt.Sprintf("writing superblock: %v", err), s.path)
	}
	if err := s.file.Sync(); err != nil {
		return container.NewError(container.ErrIO,
			fmt.Sprintf("syncing container: %v", err), s.path)
	}

	s.eof = indexOffset + uint64(len(raw))
	s.dirty = false
	return nil
}

// appendEntries adds path's node and its subtree to the snapshot,
// depth-first, parents before children.
func (s *NativeStore) appendEntries(idx *xdrIndex, path string) {
	node, ok := s.nodes[path]
	if !ok {
		return
	}
	we := xdrEntry{
		Path:     node.entry.Path,
		Kind:     uint32(node.entry.Kind),
		Dtype:    uint32(node.entry.Dtype),
		Shape:    node.entry.Shape,
		MaxShape: node.entry.MaxShape,
		Target:   node.entry.Target,
		Children: node.children,
		StrData:  node.strData,
	}
	for _, a := range node.attrs {
		we.Attrs = append(we.Attrs, xdrAttr{Name: a.Name, Dtype: uint32(a.Dtype), Data: a.Data})
	}
	for ord, off := range node.chunks {
		we.Chunks = append(we.Chunks, xdrChunk{Index: ord, Offset: off})
	}
	// Map iteration order is random; keep snapshots byte-stable.
	sort.Slice(we.Chunks, func(i, j int) bool { return we.Chunks[i].Index < we.Chunks[j].Index })
	idx.Entries = append(idx.Entries, we)

	for _, name := range node.children {
		s.appendEntries(idx, container.JoinPath(path, name))
	}
}

// Flush persists the metadata snapshot. Payload chunk writes always go
// straight to the file; only the index is deferred.
func (s *NativeStore) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return container.NewError(container.ErrClosed, "store is closed", s.path)
	}
	if !s.writable() {
		return nil
	}
	return s.flushLocked()
}

// Close flushes (for writable stores) and closes the file. Idempotent.
func (s *NativeStore) Close(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.writable() {
		if err := s.flushLocked(); err != nil {
			s.file.Close()
			s.closed = true
			return err
		}
	}
	s.closed = true
	return s.file.Close()
}

// ============================================================================
// Structural Discovery
// ============================================================================

// Walk yields every entry except the root, parents before children,
// siblings in insertion order.
func (s *NativeStore) Walk(ctx context.Context, fn container.WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return container.NewError(container.ErrClosed, "store is closed", s.path)
	}
	var entries []container.Entry
	s.collectLocked(container.RootPath, &entries)
	s.mu.Unlock()

	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *NativeStore) collectLocked(path string, acc *[]container.Entry) {
	node, ok := s.nodes[path]
	if !ok {
		return
	}
	for _, name := range node.children {
		childPath := container.JoinPath(path, name)
		child, ok := s.nodes[childPath]
		if !ok {
			continue
		}
		*acc = append(*acc, child.entry)
		if child.entry.Kind == container.KindGroup {
			s.collectLocked(childPath, acc)
		}
	}
}

// GetEntry returns the metadata entry for a single path.
func (s *NativeStore) GetEntry(ctx context.Context, path string) (*container.Entry, error) {
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
	entry := node.entry
	entry.Shape = entry.Shape.Clone()
	entry.MaxShape = entry.MaxShape.Clone()
	return &entry, nil
}

// Children returns the child names of a group in insertion order.
func (s *NativeStore) Children(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[path]
	if !ok {
		return nil, container.NewError(container.ErrNotFound, "no such node", path)
	}
	if node.entry.Kind != container.KindGroup {
		return nil, container.NewError(container.ErrNotGroup, "node is not a group", path)
	}
	out := make([]string, len(node.children))
	copy(out, node.children)
	return out, nil
}

// ============================================================================
// Structural Mutation
// ============================================================================

// prepareCreateLocked validates a creation target and returns its parent.
func (s *NativeStore) prepareCreateLocked(path string) (*natNode, string, error) {
	if s.closed {
		return nil, "", container.NewError(container.ErrClosed, "store is closed", path)
	}
	if !s.writable() {
		return nil, "", container.NewError(container.ErrReadOnly, "container is read-only", path)
	}
	if !container.ValidPath(path) || path == container.RootPath {
		return nil, "", container.NewError(container.ErrInvalidArgument, "invalid path", path)
	}
	if _, exists := s.nodes[path]; exists {
		return nil, "", container.NewError(container.ErrExists, "node already exists", path)
	}
	parentPath, name := container.SplitPath(path)
	parent, ok := s.nodes[parentPath]
	if !ok {
		return nil, "", container.NewError(container.ErrNotFound, "parent does not exist", parentPath)
	}
	if parent.entry.Kind != container.KindGroup {
		return nil, "", container.NewError(container.ErrNotGroup, "parent is not a group", parentPath)
	}
	return parent, name, nil
}

// CreateGroup creates an empty group at path.
func (s *NativeStore) CreateGroup(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	parent, name, err := s.prepareCreateLocked(path)
	if err != nil {
		return err
	}
	s.nodes[path] = &natNode{
		entry: container.Entry{Path: path, Kind: container.KindGroup},
	}
	parent.children = append(parent.children, name)
	s.dirty = true
	return nil
}

// CreateField creates a field at path.
func (s *NativeStore) CreateField(ctx context.Context, path string, dtype container.Dtype, shape, maxShape container.Shape) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := container.ValidateFieldDecl(path, dtype, shape, maxShape); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	parent, name, err := s.prepareCreateLocked(path)
	if err != nil {
		return err
	}
	s.nodes[path] = &natNode{
		entry: container.Entry{
			Path:     path,
			Kind:     container.KindField,
			Dtype:    dtype,
			Shape:    shape.Clone(),
			MaxShape: maxShape.Clone(),
		},
	}
	parent.children = append(parent.children, name)
	s.dirty = true
	return nil
}

// CreateLink creates a link at path pointing at target.
func (s *NativeStore) CreateLink(ctx context.Context, path, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	parent, name, err := s.prepareCreateLocked(path)
	if err != nil {
		return err
	}
	if target == "" {
		return container.NewError(container.ErrInvalidArgument, "empty link target", path)
	}
	s.nodes[path] = &natNode{
		entry: container.Entry{Path: path, Kind: container.KindLink, Target: target},
	}
	parent.children = append(parent.children, name)
	s.dirty = true
	return nil
}

// Rename moves the node at oldPath (and its subtree) to newPath.
func (s *NativeStore) Rename(ctx context.Context, oldPath, newPath string) error {
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

	node, ok := s.nodes[oldPath]
	if !ok {
		return container.NewError(container.ErrNotFound, "no such node", oldPath)
	}
	if _, exists := s.nodes[newPath]; exists {
		return container.NewError(container.ErrExists, "destination already exists", newPath)
	}
	newParentPath, newName := container.SplitPath(newPath)
	newParent, ok := s.nodes[newParentPath]
	if !ok {
		return container.NewError(container.ErrNotFound, "destination parent does not exist", newParentPath)
	}
	if newParent.entry.Kind != container.KindGroup {
		return container.NewError(container.ErrNotGroup, "destination parent is not a group", newParentPath)
	}

	oldParentPath, oldName := container.SplitPath(oldPath)
	oldParent := s.nodes[oldParentPath]
	if oldParentPath == newParentPath {
		// A rename within one group swaps the name in place so the
		// child keeps its position in insertion order.
		for i, n := range oldParent.children {
			if n == oldName {
				oldParent.children[i] = newName
				break
			}
		}
		s.rekeyLocked(oldPath, newPath, node)
		s.dirty = true
		return nil
	}

	for i, n := range oldParent.children {
		if n == oldName {
			oldParent.children = append(oldParent.children[:i], oldParent.children[i+1:]...)
			break
		}
	}
	s.rekeyLocked(oldPath, newPath, node)
	newParent.children = append(newParent.children, newName)
	s.dirty = true
	return nil
}

func (s *NativeStore) rekeyLocked(oldPath, newPath string, node *natNode) {
	delete(s.nodes, oldPath)
	node.entry.Path = newPath
	s.nodes[newPath] = node
	for _, name := range node.children {
		oldChild := container.JoinPath(oldPath, name)
		if child, ok := s.nodes[oldChild]; ok {
			s.rekeyLocked(oldChild, container.JoinPath(newPath, name), child)
		}
	}
}

// Remove deletes the node at path, recursively for groups. Chunk space of
// removed fields becomes dead file space until the next full rewrite.
func (s *NativeStore) Remove(ctx context.Context, path string) error {
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
	node, ok := s.nodes[path]
	if !ok {
		return container.NewError(container.ErrNotFound, "no such node", path)
	}

	parentPath, name := container.SplitPath(path)
	parent := s.nodes[parentPath]
	for i, n := range parent.children {
		if n == name {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	s.deleteSubtreeLocked(path, node)
	s.dirty = true
	return nil
}

func (s *NativeStore) deleteSubtreeLocked(path string, node *natNode) {
	for _, name := range node.children {
		childPath := container.JoinPath(path, name)
		if child, ok := s.nodes[childPath]; ok {
			s.deleteSubtreeLocked(childPath, child)
		}
	}
	delete(s.nodes, path)
}

// ============================================================================
// Attributes
// ============================================================================

// ReadAttrs returns all attributes of a node in insertion order.
func (s *NativeStore) ReadAttrs(ctx context.Context, path string) ([]container.Attr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[path]
	if !ok {
		return nil, container.NewError(container.ErrNotFound, "no such node", path)
	}
	out := make([]container.Attr, len(node.attrs))
	copy(out, node.attrs)
	return out, nil
}

// WriteAttr creates or replaces one attribute of a node.
func (s *NativeStore) WriteAttr(ctx context.Context, path string, attr container.Attr) error {
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
	node, ok := s.nodes[path]
	if !ok {
		return container.NewError(container.ErrNotFound, "no such node", path)
	}
	s.dirty = true
	for i := range node.attrs {
		if node.attrs[i].Name == attr.Name {
			node.attrs[i] = attr
			return nil
		}
	}
	node.attrs = append(node.attrs, attr)
	return nil
}

// RemoveAttr deletes one attribute of a node.
func (s *NativeStore) RemoveAttr(ctx context.Context, path, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writable() {
		return container.NewError(container.ErrReadOnly, "container is read-only", path)
	}
	node, ok := s.nodes[path]
	if !ok {
		return container.NewError(container.ErrNotFound, "no such node", path)
	}
	for i := range node.attrs {
		if node.attrs[i].Name == name {
			node.attrs = append(node.attrs[:i], node.attrs[i+1:]...)
			s.dirty = true
			return nil
		}
	}
	return container.NewError(container.ErrNotFound,
		fmt.Sprintf("no attribute %q", name), path)
}
