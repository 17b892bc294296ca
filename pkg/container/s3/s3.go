// Package s3 implements a container store on Amazon S3 or S3-compatible
// object storage.
//
// The layout mirrors the native single-file format translated to object
// keys: payload chunks are individual objects named by an allocation
// sequence number, and the whole metadata hierarchy is one JSON index
// object rewritten on Flush. Chunk objects are decoupled from container
// paths, so Rename and Remove are pure metadata operations; orphaned
// chunk objects of removed fields are batch-deleted eagerly.
//
// Object Key Layout (under the optional key prefix):
//
//	index.json          metadata snapshot (jsonIndex)
//	c/<seq, 16-hex>     one payload chunk, chunkBytes long
//
// Consistency:
// S3 has no multi-object atomicity. Chunk objects are written first and
// the index last, so a crash mid-save leaves the previous index intact
// and at worst some unreferenced chunk objects. This matches the
// append-then-repoint discipline of the native format.
//
// Thread Safety:
// A single mutex serializes all operations within one process.
// Cross-process write exclusion is the lock protocol in pkg/lock; this
// store does not arbitrate concurrent writers on its own.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nexusformat/nxtree/pkg/container"
)

// DefaultChunkBytes is the payload chunk object size when none is
// configured. Larger than the native format's default because every
// chunk touch is a network round trip.
const DefaultChunkBytes = 256 * 1024

// indexObjectKey is the metadata snapshot object name.
const indexObjectKey = "index.json"

// S3Store implements container.Store over an S3 bucket (or a prefix
// within one).
type S3Store struct {
	mu         sync.Mutex
	client     *awss3.Client
	bucket     string
	keyPrefix  string
	mode       container.Mode
	nodes      map[string]*s3Node
	chunkBytes uint64
	nextChunk  uint64 // next chunk object sequence number
	dirty      bool
	closed     bool
}

// s3Node is the in-memory state of one entry plus its storage bookkeeping.
type s3Node struct {
	entry    container.Entry
	children []string
	attrs    []container.Attr
	chunks   map[uint64]uint64 // chunk ordinal -> chunk object sequence
	strData  []byte
}

// Config contains configuration for the S3 container store.
type Config struct {
	// Client is the configured S3 client (see NewClient).
	Client *awss3.Client

	// Bucket is the S3 bucket name. It must already exist.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys, ending in "/"
	// by convention. It lets several containers share one bucket.
	KeyPrefix string

	// ChunkBytes is the payload chunk object size; zero selects
	// DefaultChunkBytes. Only consulted when creating a container.
	ChunkBytes uint64
}

// jsonIndex is the wire form of the metadata snapshot.
type jsonIndex struct {
	ChunkBytes uint64      `json:"chunk_bytes"`
	NextChunk  uint64      `json:"next_chunk"`
	Entries    []jsonEntry `json:"entries"`
}

// jsonEntry is one node in the snapshot, children listed in insertion
// order. Chunk references pair the payload ordinal with the object
// sequence number.
type jsonEntry struct {
	Path     string           `json:"path"`
	Kind     container.Kind   `json:"kind"`
	Dtype    container.Dtype  `json:"dtype,omitempty"`
	Shape    container.Shape  `json:"shape,omitempty"`
	MaxShape container.Shape  `json:"max_shape,omitempty"`
	Target   string           `json:"target,omitempty"`
	Children []string         `json:"children,omitempty"`
	Attrs    []container.Attr `json:"attrs,omitempty"`
	Chunks   [][2]uint64      `json:"chunks,omitempty"`
	StrData  []byte           `json:"str_data,omitempty"`
}

// Open opens (or, with mode Create, initializes) a container under the
// configured bucket and prefix.
//
// The bucket must exist; this function does not create it. Create fails
// with ErrExists if an index object is already present; ReadOnly and
// ReadWrite fail with ErrAccess if it is not.
func Open(ctx context.Context, mode container.Mode, cfg Config) (*S3Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, container.NewError(container.ErrInvalidArgument,
			"S3 client is required", container.RootPath)
	}
	if cfg.Bucket == "" {
		return nil, container.NewError(container.ErrInvalidArgument,
			"bucket name is required", container.RootPath)
	}

	if _, err := cfg.Client.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, container.NewError(container.ErrAccess,
			fmt.Sprintf("failed to access bucket %q: %v", cfg.Bucket, err), container.RootPath)
	}

	s := &S3Store{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		mode:      mode,
		nodes:     make(map[string]*s3Node),
	}

	raw, err := s.getObject(ctx, indexObjectKey)
	switch {
	case err == nil:
		if mode == container.Create {
			return nil, container.NewError(container.ErrExists,
				"bucket prefix already holds a container", container.RootPath)
		}
		if err := s.loadIndex(raw); err != nil {
			return nil, container.NewError(container.ErrAccess,
				fmt.Sprintf("reading container index: %v", err), container.RootPath)
		}
		return s, nil

	case isNoSuchKey(err):
		if mode != container.Create {
			return nil, container.NewError(container.ErrAccess,
				"bucket prefix holds no container", container.RootPath)
		}
		s.chunkBytes = cfg.ChunkBytes
		if s.chunkBytes == 0 {
			s.chunkBytes = DefaultChunkBytes
		}
		s.nodes[container.RootPath] = &s3Node{
			entry: container.Entry{Path: container.RootPath, Kind: container.KindGroup},
		}
		s.dirty = true
		// Persist an empty snapshot immediately so the container is
		// discoverable even if nothing is written before the first Flush.
		if err := s.flushLocked(ctx); err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, container.NewError(container.ErrAccess,
			fmt.Sprintf("reading container index: %v", err), container.RootPath)
	}
}

// Mode returns the mode the store was opened with.
func (s *S3Store) Mode() container.Mode {
	return s.mode
}

// writable reports whether mutations are allowed.
func (s *S3Store) writable() bool {
	return s.mode != container.ReadOnly
}

// ============================================================================
// Object Access
// ============================================================================

// objectKey returns the full object key under the configured prefix.
func (s *S3Store) objectKey(name string) string {
	return s.keyPrefix + name
}

// chunkObjectKey returns the object key for a chunk sequence number.
// Zero-padded hex keeps chunk objects listable in allocation order.
func chunkObjectKey(seq uint64) string {
	return fmt.Sprintf("c/%016x", seq)
}

// isNoSuchKey reports whether err means the object does not exist.
func isNoSuchKey(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// getObject downloads one object in full.
func (s *S3Store) getObject(ctx context.Context, name string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(name)),
	})
	if err != nil {
		return nil, err
	}
	defer result.Body.Close()
	return io.ReadAll(result.Body)
}

// putObject uploads one object in full.
func (s *S3Store) putObject(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(name)),
		Body:   bytes.NewReader(data),
	})
	return err
}

// deleteObjects batch-deletes chunk objects, chunked to S3's limit of
// 1000 objects per request. Individual failures are ignored; orphaned
// chunks are unreferenced and harmless.
func (s *S3Store) deleteObjects(ctx context.Context, names []string) error {
	const maxBatchSize = 1000

	for i := 0; i < len(names); i += maxBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := i + maxBatchSize
		if end > len(names) {
			end = len(names)
		}

		objects := make([]types.ObjectIdentifier, 0, end-i)
		for _, name := range names[i:end] {
			objects = append(objects, types.ObjectIdentifier{
				Key: aws.String(s.objectKey(name)),
			})
		}
		_, err := s.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return container.NewError(container.ErrIO,
				fmt.Sprintf("failed to delete chunk objects: %v", err), "")
		}
	}
	return nil
}

// ============================================================================
// Load / Flush
// ============================================================================

// loadIndex rebuilds the node map from a snapshot.
func (s *S3Store) loadIndex(raw []byte) error {
	var idx jsonIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return fmt.Errorf("decoding index: %w", err)
	}

	s.chunkBytes = idx.ChunkBytes
	if s.chunkBytes == 0 {
		s.chunkBytes = DefaultChunkBytes
	}
	s.nextChunk = idx.NextChunk
	for _, je := range idx.Entries {
		node := &s3Node{
			entry: container.Entry{
				Path:     je.Path,
				Kind:     je.Kind,
				Dtype:    je.Dtype,
				Shape:    je.Shape,
				MaxShape: je.MaxShape,
				Target:   je.Target,
			},
			children: je.Children,
			attrs:    je.Attrs,
			strData:  je.StrData,
		}
		if len(je.Chunks) > 0 {
			node.chunks = make(map[uint64]uint64, len(je.Chunks))
			for _, c := range je.Chunks {
				node.chunks[c[0]] = c[1]
			}
		}
		s.nodes[je.Path] = node
	}
	if _, ok := s.nodes[container.RootPath]; !ok {
		return fmt.Errorf("index has no root group")
	}
	return nil
}

// flushLocked uploads a fresh index snapshot. Caller holds s.mu.
func (s *S3Store) flushLocked(ctx context.Context) error {
	if !s.dirty {
		return nil
	}

	idx := &jsonIndex{ChunkBytes: s.chunkBytes, NextChunk: s.nextChunk}
	s.appendEntries(idx, container.RootPath)

	raw, err := json.Marshal(idx)
	if err != nil {
		return container.NewError(container.ErrIO, err.Error(), container.RootPath)
	}
	if err := s.putObject(ctx, indexObjectKey, raw); err != nil {
		return container.NewError(container.ErrIO,
			fmt.Sprintf("writing index object: %v", err), container.RootPath)
	}
	s.dirty = false
	return nil
}

// appendEntries adds path's node and its subtree to the snapshot,
// depth-first, parents before children.
func (s *S3Store) appendEntries(idx *jsonIndex, path string) {
	node, ok := s.nodes[path]
	if !ok {
		return
	}
	je := jsonEntry{
		Path:     node.entry.Path,
		Kind:     node.entry.Kind,
		Dtype:    node.entry.Dtype,
		Shape:    node.entry.Shape,
		MaxShape: node.entry.MaxShape,
		Target:   node.entry.Target,
		Children: node.children,
		Attrs:    node.attrs,
		StrData:  node.strData,
	}
	je.Chunks = sortedChunkRefs(node.chunks)
	idx.Entries = append(idx.Entries, je)

	for _, name := range node.children {
		s.appendEntries(idx, container.JoinPath(path, name))
	}
}

// sortedChunkRefs flattens a chunk map into ordinal order. Map iteration
// order is random; keep snapshots byte-stable.
func sortedChunkRefs(chunks map[uint64]uint64) [][2]uint64 {
	if len(chunks) == 0 {
		return nil
	}
	refs := make([][2]uint64, 0, len(chunks))
	for ord, seq := range chunks {
		refs = append(refs, [2]uint64{ord, seq})
	}
	for i := 1; i < len(refs); i++ {
		for j := i; j > 0 && refs[j-1][0] > refs[j][0]; j-- {
			refs[j-1], refs[j] = refs[j], refs[j-1]
		}
	}
	return refs
}

// Flush uploads the metadata snapshot. Payload chunk writes always go
// straight to S3; only the index is deferred.
func (s *S3Store) Flush(ctx context.Context) error {
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
	return s.flushLocked(ctx)
}

// Close flushes (for writable stores) and releases the store. Idempotent.
// The S3 client itself has no close semantics.
func (s *S3Store) Close(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.writable() {
		return s.flushLocked(ctx)
	}
	return nil
}

// ============================================================================
// Structural Discovery
// ============================================================================

// Walk yields every entry except the root, parents before children,
// siblings in insertion order.
func (s *S3Store) Walk(ctx context.Context, fn container.WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return container.NewError(container.ErrClosed, "store is closed", "")
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

func (s *S3Store) collectLocked(path string, acc *[]container.Entry) {
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
func (s *S3Store) GetEntry(ctx context.Context, path string) (*container.Entry, error) {
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
func (s *S3Store) Children(ctx context.Context, path string) ([]string, error) {
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
func (s *S3Store) prepareCreateLocked(path string) (*s3Node, string, error) {
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
func (s *S3Store) CreateGroup(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	parent, name, err := s.prepareCreateLocked(path)
	if err != nil {
		return err
	}
	s.nodes[path] = &s3Node{
		entry: container.Entry{Path: path, Kind: container.KindGroup},
	}
	parent.children = append(parent.children, name)
	s.dirty = true
	return nil
}

// CreateField creates a field at path.
func (s *S3Store) CreateField(ctx context.Context, path string, dtype container.Dtype, shape, maxShape container.Shape) error {
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
	s.nodes[path] = &s3Node{
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
func (s *S3Store) CreateLink(ctx context.Context, path, target string) error {
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
	s.nodes[path] = &s3Node{
		entry: container.Entry{Path: path, Kind: container.KindLink, Target: target},
	}
	parent.children = append(parent.children, name)
	s.dirty = true
	return nil
}

// Rename moves the node at oldPath (and its subtree) to newPath. Chunk
// objects are keyed by sequence number, so no payload bytes move.
func (s *S3Store) Rename(ctx context.Context, oldPath, newPath string) error {
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

func (s *S3Store) rekeyLocked(oldPath, newPath string, node *s3Node) {
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

// Remove deletes the node at path, recursively for groups, and
// batch-deletes the chunk objects of removed fields.
func (s *S3Store) Remove(ctx context.Context, path string) error {
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

	var orphaned []string
	s.deleteSubtreeLocked(path, node, &orphaned)
	s.dirty = true

	if len(orphaned) > 0 {
		return s.deleteObjects(ctx, orphaned)
	}
	return nil
}

func (s *S3Store) deleteSubtreeLocked(path string, node *s3Node, orphaned *[]string) {
	for _, name := range node.children {
		childPath := container.JoinPath(path, name)
		if child, ok := s.nodes[childPath]; ok {
			s.deleteSubtreeLocked(childPath, child, orphaned)
		}
	}
	for _, seq := range node.chunks {
		*orphaned = append(*orphaned, chunkObjectKey(seq))
	}
	delete(s.nodes, path)
}

// ============================================================================
// Attributes
// ============================================================================

// ReadAttrs returns all attributes of a node in insertion order.
func (s *S3Store) ReadAttrs(ctx context.Context, path string) ([]container.Attr, error) {
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
func (s *S3Store) WriteAttr(ctx context.Context, path string, attr container.Attr) error {
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
func (s *S3Store) RemoveAttr(ctx context.Context, path, name string) error {
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
