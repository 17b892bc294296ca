// Package registry tracks the open trees of a process by name and
// resolves external links between them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nexusformat/nxtree/pkg/container"
	"github.com/nexusformat/nxtree/pkg/tree"
)

// Opener opens the tree stored under name on demand. It is invoked by
// ResolveRoot when an external link names a file that is not registered
// yet.
type Opener func(ctx context.Context, name string) (*tree.Root, error)

// Registry is a thread-safe map from file name to open tree. A tree
// registered here gains cross-file link resolution: the registry
// installs itself as the tree's external resolver.
//
// Example usage:
//
//	reg := registry.New(nil)
//	reg.Register("scan1.nxt", root1)
//	reg.Register("scan2.nxt", root2)
//
//	// A link in root1 targeting "scan2.nxt#/entry/data" now resolves.
//	node, _ := link.Resolve()
type Registry struct {
	mu     sync.RWMutex
	roots  map[string]*tree.Root
	opener Opener
}

// New creates an empty registry. opener may be nil, in which case only
// explicitly registered trees resolve.
func New(opener Opener) *Registry {
	return &Registry{
		roots:  make(map[string]*tree.Root),
		opener: opener,
	}
}

// Register adds a named tree and installs the registry as its external
// resolver. Returns an error if the name is already taken.
func (r *Registry) Register(name string, root *tree.Root) error {
	if root == nil {
		return fmt.Errorf("cannot register nil tree")
	}
	if name == "" {
		return fmt.Errorf("cannot register tree with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.roots[name]; exists {
		return container.NewError(container.ErrExists,
			fmt.Sprintf("tree %q already registered", name), name)
	}

	r.roots[name] = root
	root.SetResolver(r)
	return nil
}

// Get retrieves a registered tree by name.
func (r *Registry) Get(name string) (*tree.Root, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	root, exists := r.roots[name]
	if !exists {
		return nil, container.NewError(container.ErrNotFound,
			fmt.Sprintf("tree %q not registered", name), name)
	}
	return root, nil
}

// Contains checks whether a tree with the given name is registered.
func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.roots[name]
	return exists
}

// Remove drops a tree from the registry without closing it. The caller
// keeps ownership of the returned tree.
func (r *Registry) Remove(name string) (*tree.Root, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	root, exists := r.roots[name]
	if !exists {
		return nil, container.NewError(container.ErrNotFound,
			fmt.Sprintf("tree %q not registered", name), name)
	}
	delete(r.roots, name)
	return root, nil
}

// Close removes a tree and closes it, releasing its lock and store.
func (r *Registry) Close(ctx context.Context, name string) error {
	root, err := r.Remove(name)
	if err != nil {
		return err
	}
	return root.Close(ctx)
}

// CloseAll closes every registered tree and empties the registry. All
// close errors are collected; every tree is attempted regardless.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	roots := r.roots
	r.roots = make(map[string]*tree.Root)
	r.mu.Unlock()

	var errs []error
	for name, root := range roots {
		if err := root.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// List returns all registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.roots))
	for name := range r.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered trees.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roots)
}

// ============================================================================
// External link resolution
// ============================================================================

// ResolveRoot implements tree.ExternalResolver. Registered trees are
// returned directly; unregistered names go through the opener, if any,
// and the opened tree is registered for subsequent lookups.
func (r *Registry) ResolveRoot(name string) (*tree.Root, error) {
	r.mu.RLock()
	root, exists := r.roots[name]
	opener := r.opener
	r.mu.RUnlock()
	if exists {
		return root, nil
	}
	if opener == nil {
		return nil, container.NewError(container.ErrNotFound,
			fmt.Sprintf("tree %q not registered and no opener configured", name), name)
	}

	opened, err := opener(context.Background(), name)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another goroutine may have raced us here; keep the first one.
	if existing, ok := r.roots[name]; ok {
		_ = opened.Close(context.Background())
		return existing, nil
	}
	r.roots[name] = opened
	opened.SetResolver(r)
	return opened, nil
}
