// Package memory implements an in-memory container store.
//
// It is the reference implementation of container.Store: fully functional,
// no persistence. It backs unit tests and serves as the staging store for
// trees constructed in memory before their first save.
//
// Field payloads use page-based storage: instead of one contiguous buffer
// per field, the linear row-major payload is divided into fixed-size pages
// and only the pages actually touched by a write are allocated. Unallocated
// pages read as zeros, giving sparse fields for free.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexusformat/nxtree/pkg/container"
)

// DefaultPageSize is the payload page granularity (64 KiB).
const DefaultPageSize = 64 * 1024

// MemoryStore implements container.Store backed by process memory.
//
// Thread Safety:
// A single read-write mutex protects the node map and all node state. This
// coarse-grained locking is simple and correct; the store is not a
// performance-critical path.
type MemoryStore struct {
	mu       sync.RWMutex
	mode     container.Mode
	nodes    map[string]*memNode
	pageSize int
	closed   bool
}

// memNode is the in-memory representation of one container entry.
type memNode struct {
	entry    container.Entry
	children []string // child names in insertion order (groups only)
	attrs    []container.Attr
	pages    [][]byte // payload pages, nil page = sparse (fields only)
	strData  []byte   // payload of scalar string fields
}

// New creates an empty in-memory container with a root group.
// Mode Create and ReadWrite behave identically for a fresh store; ReadOnly
// is only meaningful for stores handed to read-side consumers in tests.
func New(mode container.Mode) *MemoryStore {
	s := &MemoryStore{
		mode:     mode,
		nodes:    make(map[string]*memNode),
		pageSize: DefaultPageSize,
	}
	s.nodes[container.RootPath] = &memNode{
		entry: container.Entry{Path: container.RootPath, Kind: container.KindGroup},
	}
	return s
}

// Mode returns the mode the store was created with.
func (s *MemoryStore) Mode() container.Mode {
	return s.mode
}

// ============================================================================
// Structural Discovery
// ============================================================================

// Walk yields every entry except the root, parents before children,
// siblings in insertion order.
func (s *MemoryStore) Walk(ctx context.Context, fn container.WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	entries, err := s.collectLocked(container.RootPath, nil)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	// Callbacks run outside the lock so they may call back into the store.
	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// collectLocked gathers the subtree entries below path depth-first.
func (s *MemoryStore) collectLocked(path string, acc []container.Entry) ([]container.Entry, error) {
	node, ok := s.nodes[path]
	if !ok {
		return nil, container.NewError(container.ErrNotFound, "no such node", path)
	}
	for _, name := range node.children {
		childPath := container.JoinPath(path, name)
		child, ok := s.nodes[childPath]
		if !ok {
			return nil, container.NewError(container.ErrIO, "dangling child entry", childPath)
		}
		acc = append(acc, child.entry)
		if child.entry.Kind == container.KindGroup {
			var err error
			acc, err = s.collectLocked(childPath, acc)
			if err != nil {
				return nil, err
			}
		}
	}
	return acc, nil
}

// GetEntry returns the metadata entry for a single path.
func (s *MemoryStore) GetEntry(ctx context.Context, path string) (*container.Entry, error) {
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
	entry := node.entry
	entry.Shape = entry.Shape.Clone()
	entry.MaxShape = entry.MaxShape.Clone()
	return &entry, nil
}

// Children returns the child names of a group in insertion order.
func (s *MemoryStore) Children(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
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
func (s *MemoryStore) prepareCreateLocked(path string) (*memNode, string, error) {
	if s.closed {
		return nil, "", container.NewError(container.ErrClosed, "store is closed", path)
	}
	if s.mode == container.ReadOnly {
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
func (s *MemoryStore) CreateGroup(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	parent, name, err := s.prepareCreateLocked(path)
	if err != nil {
		return err
	}
	s.nodes[path] = &memNode{
		entry: container.Entry{Path: path, Kind: container.KindGroup},
	}
	parent.children = append(parent.children, name)
	return nil
}

// CreateField creates a field at path.
func (s *MemoryStore) CreateField(ctx context.Context, path string, dtype container.Dtype, shape, maxShape container.Shape) error {
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
	s.nodes[path] = &memNode{
		entry: container.Entry{
			Path:     path,
			Kind:     container.KindField,
			Dtype:    dtype,
			Shape:    shape.Clone(),
			MaxShape: maxShape.Clone(),
		},
	}
	parent.children = append(parent.children, name)
	return nil
}

// CreateLink creates a link at path pointing at target.
func (s *MemoryStore) CreateLink(ctx context.Context, path, target string) error {
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
	s.nodes[path] = &memNode{
		entry: container.Entry{Path: path, Kind: container.KindLink, Target: target},
	}
	parent.children = append(parent.children, name)
	return nil
}

// Rename moves the node at oldPath (and its subtree) to newPath.
func (s *MemoryStore) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return container.NewError(container.ErrClosed, "store is closed", oldPath)
	}
	if s.mode == container.ReadOnly {
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
		return nil
	}

	// Detach from the old parent, preserving sibling order, and arrive
	// last in the new one.
	for i, n := range oldParent.children {
		if n == oldName {
			oldParent.children = append(oldParent.children[:i], oldParent.children[i+1:]...)
			break
		}
	}

	// Re-key the node and its whole subtree.
	s.rekeyLocked(oldPath, newPath, node)
	newParent.children = append(newParent.children, newName)
	return nil
}

// rekeyLocked moves node from oldPath to newPath and recurses into children.
func (s *MemoryStore) rekeyLocked(oldPath, newPath string, node *memNode) {
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

// Remove deletes the node at path, recursively for groups.
func (s *MemoryStore) Remove(ctx context.Context, path string) error {
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
	return nil
}

// deleteSubtreeLocked removes node and all of its descendants from the map.
func (s *MemoryStore) deleteSubtreeLocked(path string, node *memNode) {
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
func (s *MemoryStore) ReadAttrs(ctx context.Context, path string) ([]container.Attr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[path]
	if !ok {
		return nil, container.NewError(container.ErrNotFound, "no such node", path)
	}
	out := make([]container.Attr, len(node.attrs))
	copy(out, node.attrs)
	return out, nil
}

// WriteAttr creates or replaces one attribute of a node.
func (s *MemoryStore) WriteAttr(ctx context.Context, path string, attr container.Attr) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !container.ValidName(attr.Name) {
		return container.NewError(container.ErrInvalidArgument, "invalid attribute name", path)
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
func (s *MemoryStore) RemoveAttr(ctx context.Context, path, name string) error {
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
	for i := range node.attrs {
		if node.attrs[i].Name == name {
			node.attrs = append(node.attrs[:i], node.attrs[i+1:]...)
			return nil
		}
	}
	return container.NewError(container.ErrNotFound,
		fmt.Sprintf("no attribute %q", name), path)
}

// ============================================================================
// Lifecycle
// ============================================================================

// Flush is a no-op for the memory store.
func (s *MemoryStore) Flush(ctx context.Context) error {
	return ctx.Err()
}

// Close marks the store closed. Idempotent.
func (s *MemoryStore) Close(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
