package tree

import (
	"context"
	"fmt"

	"github.com/nexusformat/nxtree/pkg/container"
	"github.com/nexusformat/nxtree/pkg/lock"
)

// Root is the distinguished group at the top of a tree, associated 1:1
// with a backing store and owning the write-lock state for its container
// file. The store handle belongs exclusively to the Root that opened it
// and is closed with it.
//
// A Root either wraps an open store (Open) or starts unbound in memory
// (New) and is associated with a store on first save (SaveTo).
type Root struct {
	Group
	store    container.Store
	opts     Options
	lk       *lock.Lock
	journal  []journalOp
	resolver ExternalResolver
	closed   bool
}

// journalOp is one deferred structural mutation. Ops replay against the
// store in the order they were issued, so each op's paths are the paths
// that were current when it happened.
type journalOp struct {
	kind    journalKind
	path    string
	newPath string
	node    Node // creates only: declaration read at replay
}

type journalKind uint8

const (
	opCreate journalKind = iota
	opRename
	opRemove
)

// New constructs an empty in-memory tree not yet associated with any
// store. Structural edits and staged payload writes are unrestricted;
// call SaveTo to bind and persist it.
func New(opts Options) *Root {
	r := &Root{opts: opts.withDefaults()}
	r.node.root = r
	if opts.LockPath != "" {
		r.lk = lock.New(opts.LockPath, r.opts.Lock)
	}
	return r
}

// Open builds a tree over an already-open store. Structural discovery
// walks the store once, materializing group/field/link skeletons with
// their attributes; no payload is read.
//
// The store handle passes into the Root's ownership: Close closes it.
func Open(ctx context.Context, store container.Store, opts Options) (*Root, error) {
	r := New(opts)
	r.store = store
	if err := r.discover(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// discover rebuilds the node graph from the store.
func (r *Root) discover(ctx context.Context) error {
	r.children = nil
	r.byName = nil
	r.journal = nil
	r.stored = true
	r.storedPath = container.RootPath
	r.dirty = false
	r.attrsDirty = false

	attrs, err := r.store.ReadAttrs(ctx, container.RootPath)
	if err != nil {
		return err
	}
	r.attrs = attrs

	err = r.store.Walk(ctx, func(e container.Entry) error {
		parentPath, name := container.SplitPath(e.Path)
		parentNode, err := r.nodeAt(parentPath)
		if err != nil {
			return err
		}
		// The root resolves to *Root, not *Group, so unwrap the embedded
		// group before attaching.
		var parent *Group
		switch p := parentNode.(type) {
		case *Root:
			parent = &p.Group
		case *Group:
			parent = p
		default:
			return container.NewError(container.ErrNotGroup,
				"walk yielded a child of a non-group", e.Path)
		}

		var child Node
		var base *node
		switch e.Kind {
		case container.KindGroup:
			g := &Group{}
			child, base = g, &g.node
		case container.KindField:
			f := &Field{
				dtype:    e.Dtype,
				shape:    e.Shape.Clone(),
				maxShape: e.MaxShape.Clone(),
			}
			child, base = f, &f.node
		case container.KindLink:
			l := &Link{target: e.Target}
			child, base = l, &l.node
		default:
			return container.NewError(container.ErrIO,
				fmt.Sprintf("unknown entry kind %d", e.Kind), e.Path)
		}

		parent.attach(name, child, base)
		base.dirty = false
		base.stored = true
		base.storedPath = e.Path

		attrs, err := r.store.ReadAttrs(ctx, e.Path)
		if err != nil {
			return err
		}
		base.attrs = attrs
		return nil
	})
	if err != nil {
		return err
	}

	// attach marked everything dirty on the way in.
	r.clearDirty()
	return nil
}

// nodeAt resolves an absolute path inside this tree without following
// links.
func (r *Root) nodeAt(path string) (Node, error) {
	if path == container.RootPath {
		return r, nil
	}
	return r.Lookup(path[1:])
}

// Store returns the backing store, or nil for an unbound tree.
func (r *Root) Store() container.Store { return r.store }

// Kind reports the root as a group.
func (r *Root) Kind() container.Kind { return container.KindGroup }

// checkMutable rejects mutation on closed or read-only trees.
func (r *Root) checkMutable() error {
	if r.closed {
		return container.NewError(container.ErrClosed, "tree is closed", "")
	}
	if r.store != nil && r.store.Mode() == container.ReadOnly {
		return container.NewError(container.ErrReadOnly, "tree is read-only", "")
	}
	return nil
}

// ============================================================================
// Journal
// ============================================================================

func (r *Root) journalCreate(n Node) {
	r.journal = append(r.journal, journalOp{kind: opCreate, path: n.Path(), node: n})
}

func (r *Root) journalRename(oldPath, newPath string) {
	r.journal = append(r.journal, journalOp{kind: opRename, path: oldPath, newPath: newPath})
}

func (r *Root) journalRemove(path string) {
	r.journal = append(r.journal, journalOp{kind: opRemove, path: path})
}

// replayJournal applies the deferred structural ops to the store.
func (r *Root) replayJournal(ctx context.Context) error {
	for _, op := range r.journal {
		var err error
		switch op.kind {
		case opCreate:
			switch n := op.node.(type) {
			case *Group:
				err = r.store.CreateGroup(ctx, op.path)
			case *Field:
				err = r.store.CreateField(ctx, op.path, n.dtype, n.shape, n.maxShape)
			case *Link:
				err = r.store.CreateLink(ctx, op.path, n.target)
			}
		case opRename:
			err = r.store.Rename(ctx, op.path, op.newPath)
		case opRemove:
			err = r.store.Remove(ctx, op.path)
		}
		if err != nil {
			return err
		}
	}
	r.journal = nil
	return nil
}

// ============================================================================
// Save / Reload / Close
// ============================================================================

// Save persists all pending changes: the structural journal, dirty
// attributes and staged payloads, then flushes the store. For file-backed
// trees the write lock is acquired automatically if not already held and
// stays held until Close or ReleaseLock.
func (r *Root) Save(ctx context.Context) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	if r.store == nil {
		return container.NewError(container.ErrInvalidArgument,
			"tree is not associated with a store, use SaveTo", "")
	}
	if r.lk != nil && r.lk.State() != lock.Held {
		if err := r.lk.Acquire(ctx); err != nil {
			return err
		}
	}

	if err := r.replayJournal(ctx); err != nil {
		return err
	}
	if err := r.syncNode(ctx, r, &r.node); err != nil {
		return err
	}
	var werr error
	r.walk(func(n Node) {
		if werr != nil {
			return
		}
		werr = r.syncNode(ctx, n, baseOf(n))
	})
	if werr != nil {
		return werr
	}

	if err := r.store.Flush(ctx); err != nil {
		return err
	}
	r.finishSave()
	return nil
}

// SaveTo associates an unbound tree with a store and saves into it. The
// store must be writable and becomes owned by the Root.
func (r *Root) SaveTo(ctx context.Context, store container.Store) error {
	if r.store != nil {
		return container.NewError(container.ErrExists,
			"tree is already associated with a store", "")
	}
	if store.Mode() == container.ReadOnly {
		return container.NewError(container.ErrReadOnly,
			"cannot save into a read-only store", "")
	}
	r.store = store

	// The whole tree is new to this store: journal every node top-down
	// ahead of whatever the existing journal holds.
	journal := make([]journalOp, 0, len(r.journal))
	r.walk(func(n Node) {
		journal = append(journal, journalOp{kind: opCreate, path: n.Path(), node: n})
	})
	r.journal = journal
	r.markAttrsSubtreeDirty()

	if err := r.Save(ctx); err != nil {
		r.store = nil
		return err
	}
	return nil
}

// markAttrsSubtreeDirty forces attribute sync of every node.
func (r *Root) markAttrsSubtreeDirty() {
	r.attrsDirty = true
	r.walk(func(n Node) { baseOf(n).attrsDirty = true })
}

// syncNode writes one node's dirty attributes and staged payload.
func (r *Root) syncNode(ctx context.Context, n Node, base *node) error {
	path := n.Path()

	if base.attrsDirty || !base.stored {
		existing, err := r.store.ReadAttrs(ctx, path)
		if err != nil {
			return err
		}
		// Rewrite from scratch so removals and ordering both take.
		for _, a := range existing {
			if err := r.store.RemoveAttr(ctx, path, a.Name); err != nil {
				return err
			}
		}
		for _, a := range base.attrs {
			if err := r.store.WriteAttr(ctx, path, a); err != nil {
				return err
			}
		}
	}

	f, ok := n.(*Field)
	if !ok {
		return nil
	}
	switch {
	case f.dtype == container.DtypeString:
		if f.strSet && (f.dirty || !f.stored) {
			if err := r.store.WriteString(ctx, path, f.strData); err != nil {
				return err
			}
		}
	case !f.stored && f.loaded:
		// Staged payload of a new field lands in one whole-array write.
		if err := r.store.WriteValue(ctx, path, container.WholeSlab(f.shape), f.data); err != nil {
			return err
		}
	}
	return nil
}

// finishSave resets dirty state and refreezes stored paths.
func (r *Root) finishSave() {
	mark := func(base *node, path string) {
		base.stored = true
		base.storedPath = path
		base.dirty = false
		base.attrsDirty = false
	}
	mark(&r.node, container.RootPath)
	r.walk(func(n Node) { mark(baseOf(n), n.Path()) })
}

// clearDirty resets dirty flags without touching stored bookkeeping.
func (r *Root) clearDirty() {
	r.dirty = false
	r.attrsDirty = false
	r.walk(func(n Node) {
		baseOf(n).dirty = false
		baseOf(n).attrsDirty = false
	})
}

// Reload discards every unsaved change and rebuilds the tree from the
// store. Node objects from before the reload are orphaned; re-navigate
// from the root.
func (r *Root) Reload(ctx context.Context) error {
	if r.closed {
		return container.NewError(container.ErrClosed, "tree is closed", "")
	}
	if r.store == nil {
		return container.NewError(container.ErrInvalidArgument,
			"tree is not associated with a store", "")
	}
	return r.discover(ctx)
}

// Close releases the write lock (if held) and closes the store.
// Unsaved changes are discarded. Idempotent.
func (r *Root) Close(ctx context.Context) error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.lk != nil {
		if err := r.lk.Release(); err != nil {
			return err
		}
	}
	if r.store != nil {
		return r.store.Close(ctx)
	}
	return nil
}

// ============================================================================
// Locking
// ============================================================================

// requireWriteLock gates direct store writes on the lock protocol.
func (r *Root) requireWriteLock() error {
	if r.lk == nil {
		return nil
	}
	if r.lk.State() != lock.Held {
		return container.NewError(container.ErrLocked,
			"write requires the container's write lock, call AcquireLock or Save", r.opts.LockPath)
	}
	return nil
}

// AcquireLock takes the container's write lock explicitly, ahead of
// direct slab writes. No-op for trees without a lock path.
func (r *Root) AcquireLock(ctx context.Context) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	if r.lk == nil {
		return nil
	}
	return r.lk.Acquire(ctx)
}

// ReleaseLock gives up the write lock. Idempotent.
func (r *Root) ReleaseLock() error {
	if r.lk == nil {
		return nil
	}
	return r.lk.Release()
}

// LockState reports the lock lifecycle state; trees without a lock path
// report Unlocked.
func (r *Root) LockState() lock.State {
	if r.lk == nil {
		return lock.Unlocked
	}
	return r.lk.State()
}

// LockInfo reads the current marker, owned by whoever. Returns nil when
// no lock protocol is configured or no marker exists.
func (r *Root) LockInfo() (*lock.Info, error) {
	if r.opts.LockPath == "" {
		return nil, nil
	}
	return lock.Inspect(r.opts.LockPath)
}

// ClearLock force-removes the lock marker regardless of owner. Operator
// escape hatch for abandoned locks; see lock.Clear for the hazards.
func (r *Root) ClearLock() error {
	if r.opts.LockPath == "" {
		return nil
	}
	return lock.Clear(r.opts.LockPath)
}

// SetResolver installs the resolver used for external link targets,
// normally the registry.
func (r *Root) SetResolver(resolver ExternalResolver) {
	r.resolver = resolver
}
