// Package tree implements the lazy hierarchical data model over a
// container store: an in-memory object graph of groups, fields and links
// mirroring the container's structure, populated incrementally.
//
// Structural discovery builds node skeletons carrying shape, dtype and
// attributes only; field payloads stay in the store until first access.
// Whole-array access loads the payload when its byte size fits under the
// configured memory ceiling and fails with ErrMemoryLimit otherwise, in
// which case callers fall back to slab reads or SlabIterator.
//
// Mutation model:
// Structural edits (add, rename, move, delete) and attribute edits update
// the in-memory graph immediately, mark the affected subtree dirty and
// append to the root's journal; the backing store is untouched until
// Save replays the journal. Payload writes to fields that already exist
// in the store go through immediately and require the write lock; writes
// to fields created since the last save are staged in memory.
//
// Errors carry the container.StoreError taxonomy; there is no separate
// tree error type.
package tree

import (
	"fmt"

	"github.com/nexusformat/nxtree/pkg/container"
	"github.com/nexusformat/nxtree/pkg/lock"
)

// Defaults for Options fields left zero.
const (
	// DefaultMemoryCeilingBytes bounds whole-array loads (64 MiB).
	DefaultMemoryCeilingBytes = 64 * 1024 * 1024

	// DefaultSlabBytes is the SlabIterator batch budget (1 MiB).
	DefaultSlabBytes = 1024 * 1024

	// DefaultMaxLinkDepth bounds link-chain resolution.
	DefaultMaxLinkDepth = 16
)

// AttrClass is the attribute naming a group's schema class (NeXus
// convention, e.g. "NXentry").
const AttrClass = "NX_class"

// Options tunes a root's resource limits and locking.
type Options struct {
	// MemoryCeilingBytes bounds whole-array payload loads; zero selects
	// DefaultMemoryCeilingBytes.
	MemoryCeilingBytes uint64

	// SlabBytes is the byte budget per slab yielded by SlabIterator;
	// zero selects DefaultSlabBytes.
	SlabBytes uint64

	// MaxLinkDepth bounds how many links a resolution may traverse;
	// zero selects DefaultMaxLinkDepth.
	MaxLinkDepth int

	// LockPath is the filesystem path the write-lock marker is keyed
	// by, normally the container file path. Empty disables the lock
	// protocol (in-memory and non-file stores).
	LockPath string

	// Lock tunes the acquire protocol when LockPath is set.
	Lock lock.Options
}

// withDefaults fills zero fields.
func (o Options) withDefaults() Options {
	if o.MemoryCeilingBytes == 0 {
		o.MemoryCeilingBytes = DefaultMemoryCeilingBytes
	}
	if o.SlabBytes == 0 {
		o.SlabBytes = DefaultSlabBytes
	}
	if o.MaxLinkDepth == 0 {
		o.MaxLinkDepth = DefaultMaxLinkDepth
	}
	return o
}

// ============================================================================
// Node
// ============================================================================

// Node is one entity of the tree: a *Group, *Field or *Link.
//
// Children are reached by explicit lookup (Group.Child and friends), never
// by dynamic member access, so structural names can never shadow API.
type Node interface {
	// Name returns the node's name within its parent.
	Name() string

	// Path returns the slash-delimited absolute path, derived by walking
	// parent references.
	Path() string

	// Parent returns the owning group, or nil for the root group.
	Parent() *Group

	// Root returns the tree this node belongs to.
	Root() *Root

	// Kind reports whether the node is a group, field or link.
	Kind() container.Kind

	// Attrs returns the node's attributes in insertion order.
	Attrs() []container.Attr

	// Attr returns one attribute by name.
	Attr(name string) (container.Attr, bool)

	// SetAttr creates or replaces an attribute.
	SetAttr(attr container.Attr) error

	// RemoveAttr deletes an attribute by name.
	RemoveAttr(name string) error

	// Dirty reports whether this node or anything below it has unsaved
	// changes.
	Dirty() bool
}

// node is the embedded base of all node types.
type node struct {
	name   string
	parent *Group
	root   *Root
	attrs  []container.Attr
	dirty  bool

	// stored is true when the node exists in the backing store;
	// storedPath is its path there, frozen between saves so pending
	// renames do not desynchronize direct payload I/O.
	stored     bool
	storedPath string
	attrsDirty bool
}

func (n *node) Name() string   { return n.name }
func (n *node) Parent() *Group { return n.parent }
func (n *node) Root() *Root    { return n.root }

// Path walks parent references up to the root.
func (n *node) Path() string {
	if n.parent == nil {
		return container.RootPath
	}
	return container.JoinPath(n.parent.Path(), n.name)
}

func (n *node) Attrs() []container.Attr {
	out := make([]container.Attr, len(n.attrs))
	copy(out, n.attrs)
	return out
}

func (n *node) Attr(name string) (container.Attr, bool) {
	return container.FindAttr(n.attrs, name)
}

func (n *node) SetAttr(attr container.Attr) error {
	if err := n.root.checkMutable(); err != nil {
		return err
	}
	if !container.ValidName(attr.Name) {
		return container.NewError(container.ErrInvalidArgument,
			fmt.Sprintf("invalid attribute name %q", attr.Name), n.Path())
	}
	for i := range n.attrs {
		if n.attrs[i].Name == attr.Name {
			n.attrs[i] = attr
			n.markAttrsDirty()
			return nil
		}
	}
	n.attrs = append(n.attrs, attr)
	n.markAttrsDirty()
	return nil
}

func (n *node) RemoveAttr(name string) error {
	if err := n.root.checkMutable(); err != nil {
		return err
	}
	for i := range n.attrs {
		if n.attrs[i].Name == name {
			n.attrs = append(n.attrs[:i], n.attrs[i+1:]...)
			n.markAttrsDirty()
			return nil
		}
	}
	return container.NewError(container.ErrNotFound,
		fmt.Sprintf("no attribute %q", name), n.Path())
}

func (n *node) Dirty() bool { return n.dirty }

// markDirty flags this node and every ancestor up to the root.
func (n *node) markDirty() {
	n.dirty = true
	for p := n.parent; p != nil; p = p.parent {
		p.dirty = true
	}
}

func (n *node) markAttrsDirty() {
	n.attrsDirty = true
	n.markDirty()
}

// ============================================================================
// Group
// ============================================================================

// Group is a node owning an ordered set of uniquely named children.
type Group struct {
	node
	children []Node
	byName   map[string]Node
}

func (g *Group) Kind() container.Kind { return container.KindGroup }

// Class returns the group's schema class tag (the NX_class attribute),
// or "" when untagged.
func (g *Group) Class() string {
	if a, ok := g.Attr(AttrClass); ok {
		return a.AsString()
	}
	return ""
}

// SetClass tags the group with a schema class name.
func (g *Group) SetClass(class string) error {
	return g.SetAttr(container.StringAttr(AttrClass, class))
}

// Len returns the number of children.
func (g *Group) Len() int { return len(g.children) }

// Children returns the children in insertion order.
func (g *Group) Children() []Node {
	out := make([]Node, len(g.children))
	copy(out, g.children)
	return out
}

// ChildNames returns the child names in insertion order.
func (g *Group) ChildNames() []string {
	out := make([]string, len(g.children))
	for i, c := range g.children {
		out[i] = c.Name()
	}
	return out
}

// Child looks up a direct child by name.
func (g *Group) Child(name string) (Node, bool) {
	c, ok := g.byName[name]
	return c, ok
}

// ChildGroup looks up a direct child and requires it to be a group.
func (g *Group) ChildGroup(name string) (*Group, error) {
	c, ok := g.byName[name]
	if !ok {
		return nil, container.NewError(container.ErrNotFound,
			fmt.Sprintf("no child %q", name), g.Path())
	}
	sub, ok := c.(*Group)
	if !ok {
		return nil, container.NewError(container.ErrNotGroup,
			fmt.Sprintf("child %q is a %s, not a group", name, c.Kind()), g.Path())
	}
	return sub, nil
}

// ChildField looks up a direct child and requires it to be a field.
func (g *Group) ChildField(name string) (*Field, error) {
	c, ok := g.byName[name]
	if !ok {
		return nil, container.NewError(container.ErrNotFound,
			fmt.Sprintf("no child %q", name), g.Path())
	}
	f, ok := c.(*Field)
	if !ok {
		return nil, container.NewError(container.ErrNotField,
			fmt.Sprintf("child %q is a %s, not a field", name, c.Kind()), g.Path())
	}
	return f, nil
}

// Lookup resolves a slash-delimited path relative to this group
// ("sub/grp/field"; a leading slash is tolerated and means the same).
// Intermediate links are not followed; see Link.Resolve.
func (g *Group) Lookup(path string) (Node, error) {
	comps := container.PathComponents("/" + path)
	var current Node = g
	for _, name := range comps {
		sub, ok := current.(*Group)
		if !ok {
			return nil, container.NewError(container.ErrNotGroup,
				fmt.Sprintf("%q is not a group", current.Path()), g.Path())
		}
		next, ok := sub.Child(name)
		if !ok {
			return nil, container.NewError(container.ErrNotFound,
				fmt.Sprintf("no child %q", name), sub.Path())
		}
		current = next
	}
	return current, nil
}

// prepareAdd validates a child name for insertion.
func (g *Group) prepareAdd(name string) error {
	if err := g.root.checkMutable(); err != nil {
		return err
	}
	if !container.ValidName(name) {
		return container.NewError(container.ErrInvalidArgument,
			fmt.Sprintf("invalid child name %q", name), g.Path())
	}
	if _, exists := g.byName[name]; exists {
		return container.NewError(container.ErrExists,
			fmt.Sprintf("child %q already exists", name), g.Path())
	}
	return nil
}

// attach links a constructed node into the group.
func (g *Group) attach(name string, child Node, base *node) {
	base.name = name
	base.parent = g
	base.root = g.root
	if g.byName == nil {
		g.byName = make(map[string]Node)
	}
	g.children = append(g.children, child)
	g.byName[name] = child
	base.markDirty()
}

// AddGroup creates an empty child group.
func (g *Group) AddGroup(name string) (*Group, error) {
	if err := g.prepareAdd(name); err != nil {
		return nil, err
	}
	sub := &Group{}
	g.attach(name, sub, &sub.node)
	g.root.journalCreate(sub)
	return sub, nil
}

// AddField creates a child field with the given declaration. The payload
// starts as zeros and is staged in memory until the next save.
func (g *Group) AddField(name string, dtype container.Dtype, shape, maxShape container.Shape) (*Field, error) {
	if err := g.prepareAdd(name); err != nil {
		return nil, err
	}
	path := container.JoinPath(g.Path(), name)
	if err := container.ValidateFieldDecl(path, dtype, shape, maxShape); err != nil {
		return nil, err
	}
	f := &Field{
		dtype:    dtype,
		shape:    shape.Clone(),
		maxShape: maxShape.Clone(),
	}
	g.attach(name, f, &f.node)
	g.root.journalCreate(f)
	return f, nil
}

// AddLink creates a child link pointing at target, an absolute path in
// this tree or "file.nxt#/path" for an external container.
func (g *Group) AddLink(name, target string) (*Link, error) {
	if err := g.prepareAdd(name); err != nil {
		return nil, err
	}
	if target == "" {
		return nil, container.NewError(container.ErrInvalidArgument,
			"empty link target", g.Path())
	}
	l := &Link{target: target}
	g.attach(name, l, &l.node)
	g.root.journalCreate(l)
	return l, nil
}

// Rename changes a child's name in place, keeping its position in the
// insertion order.
func (g *Group) Rename(oldName, newName string) error {
	if err := g.root.checkMutable(); err != nil {
		return err
	}
	child, ok := g.byName[oldName]
	if !ok {
		return container.NewError(container.ErrNotFound,
			fmt.Sprintf("no child %q", oldName), g.Path())
	}
	if !container.ValidName(newName) {
		return container.NewError(container.ErrInvalidArgument,
			fmt.Sprintf("invalid child name %q", newName), g.Path())
	}
	if _, exists := g.byName[newName]; exists {
		return container.NewError(container.ErrExists,
			fmt.Sprintf("child %q already exists", newName), g.Path())
	}

	oldPath := child.Path()
	delete(g.byName, oldName)
	g.byName[newName] = child
	baseOf(child).name = newName
	baseOf(child).markDirty()
	g.root.journalRename(oldPath, child.Path())
	return nil
}

// Move reparents a named child into dest, which must belong to the same
// tree. Moving a group into its own subtree fails.
func (g *Group) Move(name string, dest *Group) error {
	if err := g.root.checkMutable(); err != nil {
		return err
	}
	child, ok := g.byName[name]
	if !ok {
		return container.NewError(container.ErrNotFound,
			fmt.Sprintf("no child %q", name), g.Path())
	}
	if dest.root != g.root {
		return container.NewError(container.ErrInvalidArgument,
			"destination group belongs to a different tree", dest.Path())
	}
	if _, exists := dest.byName[name]; exists {
		return container.NewError(container.ErrExists,
			fmt.Sprintf("child %q already exists", name), dest.Path())
	}
	for p := dest; p != nil; p = p.parent {
		if Node(p) == child {
			return container.NewError(container.ErrInvalidArgument,
				"cannot move a group into its own subtree", dest.Path())
		}
	}

	oldPath := child.Path()
	g.detach(name)
	if dest.byName == nil {
		dest.byName = make(map[string]Node)
	}
	dest.children = append(dest.children, child)
	dest.byName[name] = child
	baseOf(child).parent = dest
	baseOf(child).markDirty()
	g.markDirty()
	g.root.journalRename(oldPath, child.Path())
	return nil
}

// Delete removes a named child and its whole subtree from the tree.
func (g *Group) Delete(name string) error {
	if err := g.root.checkMutable(); err != nil {
		return err
	}
	child, ok := g.byName[name]
	if !ok {
		return container.NewError(container.ErrNotFound,
			fmt.Sprintf("no child %q", name), g.Path())
	}
	path := child.Path()
	g.detach(name)
	g.markDirty()
	g.root.journalRemove(path)
	return nil
}

// detach unlinks a child from the order and index without journaling.
func (g *Group) detach(name string) {
	delete(g.byName, name)
	for i, c := range g.children {
		if c.Name() == name {
			g.children = append(g.children[:i], g.children[i+1:]...)
			break
		}
	}
}

// baseOf returns the embedded node of any concrete node type.
func baseOf(n Node) *node {
	switch v := n.(type) {
	case *Group:
		return &v.node
	case *Field:
		return &v.node
	case *Link:
		return &v.node
	case *Root:
		return &v.node
	default:
		panic(fmt.Sprintf("unknown node type %T", n))
	}
}

// walk visits the subtree depth-first, parents before children.
func (g *Group) walk(fn func(Node)) {
	for _, c := range g.children {
		fn(c)
		if sub, ok := c.(*Group); ok {
			sub.walk(fn)
		}
	}
}
